package routing_test

import (
	"path/filepath"
	"testing"

	"github.com/btcsuite/btcutil"

	"github.com/hashplex/lightningd/lnpeer"
	"github.com/hashplex/lightningd/routedb"
	"github.com/hashplex/lightningd/routing"
)

// fakeChannels stands in for channel.Machine in these tests: it just
// records payments instead of running the real signing protocol, since
// these tests exercise routing arithmetic and convergence, not signatures.
type fakeChannels struct {
	sent map[lnpeer.Identity]btcutil.Amount
}

func newFakeChannels() *fakeChannels {
	return &fakeChannels{sent: make(map[lnpeer.Identity]btcutil.Amount)}
}

func (f *fakeChannels) Send(peer lnpeer.Identity, amount btcutil.Amount) error {
	f.sent[peer] += amount
	return nil
}

// network wires a set of named Routers together so each can reach every
// other directly, standing in for peerrpc's HTTP transport.
type network struct {
	routers map[lnpeer.Identity]*routing.Router
}

type directClient struct {
	self, peer lnpeer.Identity
	net        *network
}

func (c *directClient) Update(selfAddr, destination lnpeer.Identity, cost int64) error {
	return c.net.routers[c.peer].HandleUpdate(selfAddr, destination, cost)
}

func (c *directClient) Send(selfAddr, destination lnpeer.Identity, amount btcutil.Amount) error {
	return c.net.routers[c.peer].HandleSend(selfAddr, destination, amount)
}

type directDialer struct {
	self lnpeer.Identity
	net  *network
}

func (d directDialer) Dial(peer lnpeer.Identity) routing.PeerClient {
	return &directClient{self: d.self, peer: peer, net: d.net}
}

func newRouter(t *testing.T, net *network, self lnpeer.Identity, fee int64, channels *fakeChannels) *routing.Router {
	t.Helper()
	dir := t.TempDir()
	store, err := routedb.Open(filepath.Join(dir, "route.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { store.Close() })

	return &routing.Router{
		SelfAddr: self,
		LocalFee: fee,
		Store:    store,
		Peers:    directDialer{self: self, net: net},
		Channels: channels,
	}
}

// directConnect establishes a direct channel between a and b: each
// immediately learns of the other via OnChannelOpened, as channel.Machine
// would trigger on reaching `normal`.
func directConnect(a, b *routing.Router) {
	a.OnChannelOpened(b.SelfAddr)
	b.OnChannelOpened(a.SelfAddr)
}

// TestMultiHopForward is scenario 4 of §8: Alice—Carol—Bob, each leg
// 50000000/50000000; Alice sends 5000000 to Bob via Carol.
func TestMultiHopForward(t *testing.T) {
	net := &network{routers: make(map[lnpeer.Identity]*routing.Router)}
	aliceChans := newFakeChannels()
	carolChans := newFakeChannels()

	alice := newRouter(t, net, "alice", 0, aliceChans)
	carol := newRouter(t, net, "carol", 100, carolChans) // Carol charges a forwarding fee.
	bob := newRouter(t, net, "bob", 0, newFakeChannels())
	net.routers["alice"] = alice
	net.routers["carol"] = carol
	net.routers["bob"] = bob

	directConnect(alice, carol)
	directConnect(carol, bob)

	if err := alice.Send("bob", 5000000); err != nil {
		t.Fatalf("alice send failed: %v", err)
	}

	// Alice should have paid carol amount+cost where cost is carol's
	// advertised route cost to bob (carol's own fee, since bob charges 0).
	wantAliceToCarol := btcutil.Amount(5000000 + 100)
	if got := aliceChans.sent["carol"]; got != wantAliceToCarol {
		t.Fatalf("alice paid carol %d, want %d", got, wantAliceToCarol)
	}
	// Carol forwards to bob at face value (bob's own fee is 0).
	if got := carolChans.sent["bob"]; got != 5000000 {
		t.Fatalf("carol paid bob %d, want 5000000", got)
	}
}

// TestRouteConvergence is scenario 5 of §8: starting from A—B and B—C,
// opening A—C directly with a lower total cost eventually wins the route.
func TestRouteConvergence(t *testing.T) {
	net := &network{routers: make(map[lnpeer.Identity]*routing.Router)}
	a := newRouter(t, net, "a", 10, newFakeChannels())
	b := newRouter(t, net, "b", 10, newFakeChannels())
	c := newRouter(t, net, "c", 10, newFakeChannels())
	net.routers["a"] = a
	net.routers["b"] = b
	net.routers["c"] = c

	directConnect(a, b)
	directConnect(b, c)

	route, err := a.Store.Route("c")
	if err != nil {
		t.Fatal(err)
	}
	if route == nil {
		t.Fatal("expected a to have learned a route to c via b")
	}
	if route.NextHop != "b" {
		t.Fatalf("expected next hop b, got %s", route.NextHop)
	}
	oldCost := route.Cost

	// Now open a direct, cheaper channel a-c.
	directConnect(a, c)

	route, err = a.Store.Route("c")
	if err != nil {
		t.Fatal(err)
	}
	if route.NextHop != "c" {
		t.Fatalf("expected a's route to c to switch to the direct hop, got next_hop=%s", route.NextHop)
	}
	if route.Cost >= oldCost {
		t.Fatalf("expected strictly lower cost after direct connect: old=%d new=%d", oldCost, route.Cost)
	}
}

// TestTieIsNotAnImprovement exercises §4.3's tie-break rule directly: a
// same-cost update must not replace the existing next hop.
func TestTieIsNotAnImprovement(t *testing.T) {
	net := &network{routers: make(map[lnpeer.Identity]*routing.Router)}
	a := newRouter(t, net, "a", 0, newFakeChannels())
	net.routers["a"] = a

	if err := a.Update("b", "z", 50); err != nil {
		t.Fatal(err)
	}
	if err := a.Update("c", "z", 50); err != nil {
		t.Fatal(err)
	}

	route, err := a.Store.Route("z")
	if err != nil {
		t.Fatal(err)
	}
	if route.NextHop != "b" {
		t.Fatalf("a tie should not have replaced the existing route, got next_hop=%s", route.NextHop)
	}
}

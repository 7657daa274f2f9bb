package peerrpc_test

import (
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/btcsuite/btcd/btcec"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcutil"

	"github.com/hashplex/lightningd/chainadapter"
	"github.com/hashplex/lightningd/channel"
	"github.com/hashplex/lightningd/channeldb"
	"github.com/hashplex/lightningd/lnpeer"
	"github.com/hashplex/lightningd/peerrpc"
)

type noopRouter struct{}

func (noopRouter) OnChannelOpened(lnpeer.Identity) {}
func (noopRouter) OnChannelClosed(lnpeer.Identity) {}

type node struct {
	machine *channel.Machine
	adapter *chainadapter.Regtest
	store   *channeldb.Store
	httpSrv *httptest.Server
}

// newNode brings up a Machine behind a real HTTP server speaking the
// peerrpc wire protocol, so these tests exercise the full JSON-RPC
// encode/decode round-trip instead of channel_test's in-process
// directClient loopback.
func newNode(t *testing.T) *node {
	t.Helper()
	dir := t.TempDir()
	store, err := channeldb.Open(filepath.Join(dir, "channel.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { store.Close() })

	seckey, err := btcec.NewPrivateKey(btcec.S256())
	if err != nil {
		t.Fatal(err)
	}
	adapter := chainadapter.NewRegtest(&chaincfg.RegressionNetParams)

	m := &channel.Machine{
		Seckey:    seckey,
		NetParams: &chaincfg.RegressionNetParams,
		Adapter:   adapter,
		Store:     store,
		Router:    noopRouter{},
		Peers:     peerrpc.ChannelDialer{NetParams: &chaincfg.RegressionNetParams},
		Pool:      channel.NewWorkerPool(),
	}

	n := &node{machine: m, adapter: adapter, store: store}
	server := peerrpc.NewServer(m, nil, &chaincfg.RegressionNetParams, nil)
	n.httpSrv = httptest.NewServer(server.Mux())
	t.Cleanup(n.httpSrv.Close)
	m.SelfAddr = lnpeer.Identity(n.httpSrv.URL)
	return n
}

// TestOpenSendCloseOverHTTP is scenario 1 of §8 run over the real peerrpc
// transport: every signature, transaction, and pubkey crossing the wire is
// base64-tagged and reconstructed per §6, not handed over in process.
func TestOpenSendCloseOverHTTP(t *testing.T) {
	alice := newNode(t)
	bob := newNode(t)

	if _, err := alice.adapter.Fund(100000000 + 10000); err != nil {
		t.Fatal(err)
	}
	if _, err := bob.adapter.Fund(100000000 + 10000); err != nil {
		t.Fatal(err)
	}

	if err := alice.machine.OpenChannel(bob.machine.SelfAddr, 50000000, 25000000, 5000); err != nil {
		t.Fatalf("open channel over HTTP failed: %v", err)
	}

	requireBalances(t, alice.machine, bob.machine.SelfAddr, 50000000, 25000000)
	requireBalances(t, bob.machine, alice.machine.SelfAddr, 25000000, 50000000)

	if err := bob.machine.Send(alice.machine.SelfAddr, 5000000); err != nil {
		t.Fatalf("bob send over HTTP failed: %v", err)
	}
	requireBalances(t, alice.machine, bob.machine.SelfAddr, 55000000, 20000000)
	requireBalances(t, bob.machine, alice.machine.SelfAddr, 20000000, 55000000)

	if err := bob.machine.Close(alice.machine.SelfAddr); err != nil {
		t.Fatalf("bob close over HTTP failed: %v", err)
	}
	// Alice opened the channel (anchor) and answered Bob's close
	// (settlement); the close initiator broadcasts nothing.
	if len(alice.adapter.Sent) != 2 {
		t.Fatalf("alice should broadcast the anchor and the settlement, got %d transactions", len(alice.adapter.Sent))
	}
	if len(bob.adapter.Sent) != 0 {
		t.Fatalf("bob initiated the close and should broadcast nothing, got %d transactions", len(bob.adapter.Sent))
	}
}

func requireBalances(t *testing.T, m *channel.Machine, peer lnpeer.Identity, wantOur, wantTheir btcutil.Amount) {
	t.Helper()
	our, their, err := m.GetBalance(peer)
	if err != nil {
		t.Fatal(err)
	}
	if our != wantOur || their != wantTheir {
		t.Fatalf("balances for %s: got (%d, %d), want (%d, %d)", peer, our, their, wantOur, wantTheir)
	}
}

package channel_test

import (
	"path/filepath"
	"testing"

	"github.com/btcsuite/btcd/btcec"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/btcutil"

	"github.com/hashplex/lightningd/chainadapter"
	"github.com/hashplex/lightningd/channel"
	"github.com/hashplex/lightningd/channeldb"
	"github.com/hashplex/lightningd/lnpeer"
)

// noopRouter satisfies both RouterNotifier and RouteCleaner without doing
// anything; these tests exercise the state machine, not the router.
type noopRouter struct{}

func (noopRouter) OnChannelOpened(lnpeer.Identity) {}
func (noopRouter) OnChannelClosed(lnpeer.Identity) {}

// directClient routes every PeerClient call straight into another
// Machine's inbound handlers, standing in for peerrpc's HTTP transport in
// these in-process tests.
type directClient struct {
	remote *channel.Machine

	// tamperProposeUpdate, when set, lets a test corrupt the signature
	// returned from ProposeUpdate to exercise the bad-signature scenario.
	tamperProposeUpdate func([]byte) []byte
}

func (c *directClient) OpenChannel(selfAddr lnpeer.Identity, responderBalance, initiatorBalance, fees btcutil.Amount,
	initiatorCoins []*wire.TxIn, initiatorChange *wire.TxOut,
	initiatorPubkey *btcec.PublicKey, initiatorAddr btcutil.Address) (
	*wire.MsgTx, []byte, btcutil.Address, *btcec.PublicKey, error) {

	return c.remote.HandleOpenChannel(selfAddr, responderBalance, initiatorBalance, fees,
		initiatorCoins, initiatorChange, initiatorPubkey, initiatorAddr)
}

func (c *directClient) UpdateAnchor(selfAddr lnpeer.Identity, anchorTxid chainhash.Hash,
	theirSig []byte, theirPubkey *btcec.PublicKey) ([]byte, error) {
	return c.remote.HandleUpdateAnchor(selfAddr, anchorTxid, theirSig, theirPubkey)
}

func (c *directClient) ProposeUpdate(selfAddr lnpeer.Identity, amount btcutil.Amount) ([]byte, error) {
	sig, err := c.remote.HandleProposeUpdate(selfAddr, amount)
	if err != nil {
		return nil, err
	}
	if c.tamperProposeUpdate != nil {
		sig = c.tamperProposeUpdate(sig)
	}
	return sig, nil
}

func (c *directClient) Receive(selfAddr lnpeer.Identity, amount btcutil.Amount, sig []byte) error {
	return c.remote.HandleReceive(selfAddr, amount, sig)
}

func (c *directClient) CloseChannel(selfAddr lnpeer.Identity, theirSig []byte) ([]byte, error) {
	return c.remote.HandleCloseChannel(selfAddr, theirSig)
}

func (c *directClient) SendError(selfAddr lnpeer.Identity, message string) {
	c.remote.HandleError(selfAddr, message)
}

// directDialer always hands back the same client regardless of the peer
// argument, which is fine for these two-party tests.
type directDialer struct {
	client channel.PeerClient
}

func (d directDialer) Dial(lnpeer.Identity) channel.PeerClient { return d.client }

type node struct {
	machine *channel.Machine
	adapter *chainadapter.Regtest
	store   *channeldb.Store
}

func newNode(t *testing.T, self lnpeer.Identity) *node {
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
		SelfAddr:  self,
		Seckey:    seckey,
		NetParams: &chaincfg.RegressionNetParams,
		Adapter:   adapter,
		Store:     store,
		Router:    noopRouter{},
		Pool:      channel.NewWorkerPool(),
	}
	return &node{machine: m, adapter: adapter, store: store}
}

// wireUp gives alice and bob PeerDialers pointing directly at each other,
// with an optional hook to tamper alice's view of bob's ProposeUpdate
// response.
func wireUp(alice, bob *node, tamper func([]byte) []byte) {
	aliceToBob := &directClient{remote: bob.machine, tamperProposeUpdate: tamper}
	bobToAlice := &directClient{remote: alice.machine}
	alice.machine.Peers = directDialer{client: aliceToBob}
	bob.machine.Peers = directDialer{client: bobToAlice}
}

func openChannel(t *testing.T, alice, bob *node, ourAmount, theirAmount, fees btcutil.Amount) {
	t.Helper()
	if err := alice.machine.OpenChannel("bob", ourAmount, theirAmount, fees); err != nil {
		t.Fatalf("open channel failed: %v", err)
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

// TestBasicBidirectionalSend is scenario 1 of §8: Alice opens
// (50000000, 25000000) to Bob, Bob sends 5000000 to Alice, Alice sends
// 10000000 to Bob, and both ledgers stay consistent throughout.
func TestBasicBidirectionalSend(t *testing.T) {
	alice := newNode(t, "alice")
	bob := newNode(t, "bob")
	wireUp(alice, bob, nil)

	if _, err := alice.adapter.Fund(100000000 + 10000); err != nil {
		t.Fatal(err)
	}
	if _, err := bob.adapter.Fund(100000000 + 10000); err != nil {
		t.Fatal(err)
	}

	openChannel(t, alice, bob, 50000000, 25000000, 5000)

	requireBalances(t, alice.machine, "bob", 50000000, 25000000)
	requireBalances(t, bob.machine, "alice", 25000000, 50000000)

	if err := bob.machine.Send("alice", 5000000); err != nil {
		t.Fatalf("bob send failed: %v", err)
	}
	requireBalances(t, alice.machine, "bob", 55000000, 20000000)
	requireBalances(t, bob.machine, "alice", 20000000, 55000000)

	if err := alice.machine.Send("bob", 10000000); err != nil {
		t.Fatalf("alice send failed: %v", err)
	}
	requireBalances(t, alice.machine, "bob", 45000000, 30000000)
	requireBalances(t, bob.machine, "alice", 30000000, 45000000)

	if err := bob.machine.Close("alice"); err != nil {
		t.Fatalf("bob close failed: %v", err)
	}
	if _, err := alice.store.Get("bob"); err == nil {
		t.Fatal("expected alice's channel record to be deleted after close")
	}
	if _, err := bob.store.Get("alice"); err == nil {
		t.Fatal("expected bob's channel record to be deleted after close")
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

// TestCmdSendBoundaries covers the boundary behaviors of §8: zero amount is
// rejected, exactly our_balance succeeds down to zero, and one more than
// our_balance fails without contacting the peer.
func TestCmdSendBoundaries(t *testing.T) {
	alice := newNode(t, "alice")
	bob := newNode(t, "bob")
	wireUp(alice, bob, nil)

	if _, err := alice.adapter.Fund(100000000 + 10000); err != nil {
		t.Fatal(err)
	}
	if _, err := bob.adapter.Fund(100000000 + 10000); err != nil {
		t.Fatal(err)
	}
	openChannel(t, alice, bob, 25000000, 50000000, 5000)

	if err := alice.machine.Send("bob", 0); err == nil {
		t.Fatal("expected cmd_send(0) to be rejected")
	}
	if err := alice.machine.Send("bob", 25000001); err == nil {
		t.Fatal("expected cmd_send(our_balance+1) to fail locally")
	}
	if len(bob.adapter.Sent) != 0 {
		t.Fatal("a locally-rejected send must not touch the network")
	}

	if err := alice.machine.Send("bob", 25000000); err != nil {
		t.Fatalf("cmd_send(our_balance) should succeed: %v", err)
	}
	requireBalances(t, alice.machine, "bob", 0, 75000000)
	requireBalances(t, bob.machine, "alice", 75000000, 0)

	if err := bob.machine.Close("alice"); err != nil {
		t.Fatalf("close on a zero-side balance should succeed: %v", err)
	}
}

// TestBadSignatureRejected is scenario 6 of §8: a tampered
// pkt_update_accept signature must not move any balance and must kill the
// channel's worker.
func TestBadSignatureRejected(t *testing.T) {
	alice := newNode(t, "alice")
	bob := newNode(t, "bob")
	tamper := func(sig []byte) []byte {
		tampered := append([]byte(nil), sig...)
		tampered[0] ^= 0xff
		return tampered
	}
	wireUp(alice, bob, tamper)

	if _, err := alice.adapter.Fund(100000000 + 10000); err != nil {
		t.Fatal(err)
	}
	if _, err := bob.adapter.Fund(100000000 + 10000); err != nil {
		t.Fatal(err)
	}
	openChannel(t, alice, bob, 50000000, 25000000, 5000)

	err := alice.machine.Send("bob", 5000000)
	if err == nil {
		t.Fatal("expected tampered signature to be rejected")
	}

	// Read the persisted record directly: the channel's worker is now
	// dead, so GetBalance (which would route through it) can no longer
	// be used here.
	rec, err := alice.store.Get("bob")
	if err != nil {
		t.Fatal(err)
	}
	if rec.OurBalance != 50000000 || rec.TheirBalance != 25000000 {
		t.Fatalf("balances changed after a rejected signature: our=%d their=%d", rec.OurBalance, rec.TheirBalance)
	}

	// The worker is now dead; further commands surface the same failure
	// without retrying the protocol.
	if err := alice.machine.Send("bob", 1000); err == nil {
		t.Fatal("expected worker to stay dead after a fatal error")
	}

	// §4.2/§9: the fatal error must best-effort reach Bob as pkt_error, and
	// Bob's own worker for this channel must die too rather than being left
	// believing the channel is still healthy.
	if dead, _ := bob.machine.Pool.IsDead("alice"); !dead {
		t.Fatal("expected bob's worker to die after receiving pkt_error from alice")
	}
	if err := bob.machine.Send("alice", 1000); err == nil {
		t.Fatal("expected bob's worker to reject further commands after pkt_error")
	}
}

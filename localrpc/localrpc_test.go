package localrpc_test

import (
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/btcsuite/btcd/btcec"
	"github.com/btcsuite/btcd/chaincfg"

	"github.com/hashplex/lightningd/chainadapter"
	"github.com/hashplex/lightningd/channel"
	"github.com/hashplex/lightningd/channeldb"
	"github.com/hashplex/lightningd/lnpeer"
	"github.com/hashplex/lightningd/localrpc"
	"github.com/hashplex/lightningd/peerrpc"
	"github.com/hashplex/lightningd/routedb"
	"github.com/hashplex/lightningd/routing"
)

const (
	testUser     = "rpcuser"
	testPassword = "rpcpassword"
)

type node struct {
	machine  *channel.Machine
	router   *routing.Router
	adapter  *chainadapter.Regtest
	peerSrv  *httptest.Server
	localSrv *httptest.Server
	client   *localrpc.Client
}

func newNode(t *testing.T) *node {
	t.Helper()
	dir := t.TempDir()

	store, err := channeldb.Open(filepath.Join(dir, "channel.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { store.Close() })

	rdb, err := routedb.Open(filepath.Join(dir, "route.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { rdb.Close() })

	seckey, err := btcec.NewPrivateKey(btcec.S256())
	if err != nil {
		t.Fatal(err)
	}
	adapter := chainadapter.NewRegtest(&chaincfg.RegressionNetParams)

	router := &routing.Router{
		LocalFee: 0,
		Store:    rdb,
		Peers:    peerrpc.RoutingDialer{NetParams: &chaincfg.RegressionNetParams},
	}

	m := &channel.Machine{
		Seckey:    seckey,
		NetParams: &chaincfg.RegressionNetParams,
		Adapter:   adapter,
		Store:     store,
		Router:    router,
		Peers:     peerrpc.ChannelDialer{NetParams: &chaincfg.RegressionNetParams},
		Pool:      channel.NewWorkerPool(),
	}
	router.Channels = m

	peerServer := peerrpc.NewServer(m, router, &chaincfg.RegressionNetParams, nil)
	peerSrv := httptest.NewServer(peerServer.Mux())
	t.Cleanup(peerSrv.Close)
	m.SelfAddr = lnpeer.Identity(peerSrv.URL)
	router.SelfAddr = m.SelfAddr

	localServer := localrpc.NewServer(m, router, testUser, testPassword, nil)
	localSrv := httptest.NewServer(localServer.Handler())
	t.Cleanup(localSrv.Close)

	client := localrpc.NewClient(localSrv.URL, testUser, testPassword)

	return &node{
		machine:  m,
		router:   router,
		adapter:  adapter,
		peerSrv:  peerSrv,
		localSrv: localSrv,
		client:   client,
	}
}

// TestLocalRPCOpenSendClose drives a full scenario-1-style run entirely
// through the local control RPC, the way cmd/lightning-cli would: create,
// get_balance, send, get_balance, close.
func TestLocalRPCOpenSendClose(t *testing.T) {
	alice := newNode(t)
	bob := newNode(t)

	if _, err := alice.adapter.Fund(100000000 + 10000); err != nil {
		t.Fatal(err)
	}
	if _, err := bob.adapter.Fund(100000000 + 10000); err != nil {
		t.Fatal(err)
	}

	bobAddr := string(bob.machine.SelfAddr)
	aliceAddr := string(alice.machine.SelfAddr)

	if err := alice.client.Create(bobAddr, 50000000, 25000000, 5000); err != nil {
		t.Fatalf("create failed: %v", err)
	}

	our, their, err := alice.client.GetBalance(bobAddr)
	if err != nil {
		t.Fatal(err)
	}
	if our != 50000000 || their != 25000000 {
		t.Fatalf("alice balances: got (%d, %d), want (50000000, 25000000)", our, their)
	}

	if err := bob.client.Send(aliceAddr, 5000000); err != nil {
		t.Fatalf("send failed: %v", err)
	}

	our, their, err = alice.client.GetBalance(bobAddr)
	if err != nil {
		t.Fatal(err)
	}
	if our != 55000000 || their != 20000000 {
		t.Fatalf("alice balances after send: got (%d, %d), want (55000000, 20000000)", our, their)
	}

	txs, err := alice.client.GetCommitmentTransactions(bobAddr)
	if err != nil {
		t.Fatal(err)
	}
	if len(txs) == 0 {
		t.Fatal("expected at least one commitment transaction")
	}

	if err := bob.client.Close(aliceAddr); err != nil {
		t.Fatalf("close failed: %v", err)
	}
	// Alice opened the channel (anchor) and answered Bob's close (settlement).
	if len(alice.adapter.Sent) != 2 {
		t.Fatalf("alice should broadcast the anchor and the settlement, got %d transactions", len(alice.adapter.Sent))
	}
}

func TestLocalRPCAlive(t *testing.T) {
	alice := newNode(t)
	if err := alice.client.Alive(); err != nil {
		t.Fatalf("alive failed: %v", err)
	}
}

// TestLocalRPCRejectsBadAuth exercises the basic-auth guard through a
// localrpc.Client built with the wrong password.
func TestLocalRPCRejectsBadAuth(t *testing.T) {
	alice := newNode(t)
	badClient := localrpc.NewClient(alice.localSrv.URL, testUser, "wrong-password")
	if err := badClient.Alive(); err == nil {
		t.Fatal("expected an error for bad credentials, got nil")
	}
}

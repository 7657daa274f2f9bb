// Package daemon wires config, logging, the persistent stores, the channel
// state machine, the router, and the two RPC servers into one running
// process, the same role daemon/lnd.go's LndMain plays in the teacher,
// scaled down to this design's much smaller collaborator set.
package daemon

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/btcsuite/btcd/btcec"

	"golang.org/x/sync/errgroup"

	"github.com/hashplex/lightningd/chainadapter"
	"github.com/hashplex/lightningd/channel"
	"github.com/hashplex/lightningd/channeldb"
	"github.com/hashplex/lightningd/lncfg"
	"github.com/hashplex/lightningd/lnpeer"
	"github.com/hashplex/lightningd/localrpc"
	"github.com/hashplex/lightningd/peerrpc"
	"github.com/hashplex/lightningd/routedb"
	"github.com/hashplex/lightningd/routing"
)

// Main is the true entry point of the daemon: cmd/lightningd/main.go calls
// this in a nested scope so that deferred cleanup still runs before
// os.Exit, mirroring the teacher's LndMain/main split.
func Main(args []string) error {
	cfg, err := loadConfig(args)
	if err != nil {
		return err
	}
	defer func() {
		if logRotator != nil {
			ltndLog.Info("Shutdown complete")
			logRotator.Close()
		}
	}()

	ltndLog.Infof("Starting lightningd, network=%v", cfg.netParams.Name)

	seckey, err := loadOrCreateSeckey(filepath.Join(cfg.dataDir, "seckey"))
	if err != nil {
		return fmt.Errorf("unable to load anchor key: %v", err)
	}

	chanStore, err := channeldb.Open(cfg.chanDBPath())
	if err != nil {
		return fmt.Errorf("unable to open channeldb: %v", err)
	}
	defer chanStore.Close()

	routeStore, err := routedb.Open(cfg.routeDBPath())
	if err != nil {
		return fmt.Errorf("unable to open routedb: %v", err)
	}
	defer routeStore.Close()

	// No production chain-node adapter is wired (an Open Question
	// resolution, see DESIGN.md): this build always runs against the
	// in-memory Regtest stand-in, matching the only ChainAdapter
	// implementation the pack exercises.
	adapter := chainadapter.NewRegtest(cfg.netParams)

	router := &routing.Router{
		LocalFee: cfg.LocalFee,
		Store:    routeStore,
		Peers:    peerrpc.RoutingDialer{NetParams: cfg.netParams},
		Log:      rterLog.Infof,
	}

	machine := &channel.Machine{
		Seckey:    seckey,
		NetParams: cfg.netParams,
		Adapter:   adapter,
		Store:     chanStore,
		Router:    router,
		Peers:     peerrpc.ChannelDialer{NetParams: cfg.netParams},
		Pool:      channel.NewWorkerPool(),
		Log:       chanLog.Infof,
	}
	router.Channels = machine

	peerListeners, err := lncfg.NormalizeAddresses(cfg.PeerListeners, defaultPeerPort)
	if err != nil {
		return fmt.Errorf("invalid peerlisten address: %v", err)
	}
	localListeners, err := lncfg.NormalizeAddresses(cfg.LocalListeners, defaultLocalPort)
	if err != nil {
		return fmt.Errorf("invalid locallisten address: %v", err)
	}
	if err := lncfg.EnforceLocalOnly(localListeners); err != nil {
		return err
	}

	// The node's own identity is the base URL of its first peer listener;
	// per lnpeer.Identity's contract this is what we hand out to peers
	// and to ourselves as SelfAddr.
	machine.SelfAddr = lnpeer.Identity(selfAddrFromListener(peerListeners[0]))
	router.SelfAddr = machine.SelfAddr

	peerServer := peerrpc.NewServer(machine, router, cfg.netParams, peerLog.Infof)
	localServer := localrpc.NewServer(machine, router, cfg.RPCUser, cfg.RPCPassword, rpcsLog.Infof)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var g errgroup.Group
	httpServers := make([]*http.Server, 0, len(peerListeners)+len(localListeners))

	for _, addr := range peerListeners {
		lis, err := lncfg.ListenOnAddress(addr)
		if err != nil {
			return fmt.Errorf("unable to listen on %v: %v", addr, err)
		}
		srv := &http.Server{Handler: peerServer.Mux()}
		httpServers = append(httpServers, srv)
		srvrLog.Infof("peer RPC listening on %v", addr)
		g.Go(func() error { return serveUntilShutdown(ctx, srv, lis) })
	}
	for _, addr := range localListeners {
		lis, err := lncfg.ListenOnAddress(addr)
		if err != nil {
			return fmt.Errorf("unable to listen on %v: %v", addr, err)
		}
		srv := &http.Server{Handler: localServer.Handler()}
		httpServers = append(httpServers, srv)
		srvrLog.Infof("local RPC listening on %v", addr)
		g.Go(func() error { return serveUntilShutdown(ctx, srv, lis) })
	}

	waitForShutdownSignal()
	ltndLog.Info("Received shutdown signal, stopping")
	cancel()
	for _, srv := range httpServers {
		srv.Close()
	}
	return g.Wait()
}

// serveUntilShutdown runs srv on lis until ctx is canceled, treating
// http.ErrServerClosed as the expected, non-error shutdown path.
func serveUntilShutdown(ctx context.Context, srv *http.Server, lis net.Listener) error {
	err := srv.Serve(lis)
	if err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// waitForShutdownSignal blocks until SIGINT or SIGTERM, mirroring the
// graceful-shutdown hook the teacher's signal package provides (not
// retrieved into this pack, so done directly with os/signal here).
func waitForShutdownSignal() {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh
}

func selfAddrFromListener(addr net.Addr) string {
	host, port, err := net.SplitHostPort(addr.String())
	if err != nil {
		return "http://" + addr.String()
	}
	if host == "0.0.0.0" || host == "" {
		host = "127.0.0.1"
	}
	return "http://" + net.JoinHostPort(host, port)
}

// loadOrCreateSeckey loads the node's long-lived anchor key from path,
// generating and persisting a fresh one on first run. Per §3 the node has
// exactly one such key for the lifetime of its channels, so losing this
// file means losing the ability to sign for any open channel.
func loadOrCreateSeckey(path string) (*btcec.PrivateKey, error) {
	raw, err := os.ReadFile(path)
	if err == nil {
		priv, _ := btcec.PrivKeyFromBytes(btcec.S256(), raw)
		return priv, nil
	}
	if !os.IsNotExist(err) {
		return nil, err
	}

	priv, err := btcec.NewPrivateKey(btcec.S256())
	if err != nil {
		return nil, err
	}
	if err := os.WriteFile(path, priv.Serialize(), 0600); err != nil {
		return nil, err
	}
	return priv, nil
}

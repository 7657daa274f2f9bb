package routing

import (
	"fmt"
	"sync"

	"github.com/btcsuite/btcutil"
	"golang.org/x/sync/errgroup"

	"github.com/hashplex/lightningd/lnpeer"
	"github.com/hashplex/lightningd/routedb"
)

// Router maintains the distance-vector route table described in §4.3. It
// implements channel.RouterNotifier and channel.RouteCleaner so a
// channel.Machine can be wired to it directly via those interfaces (§9's
// design note: the router subscribes through an explicit interface rather
// than a global signal bus).
type Router struct {
	SelfAddr lnpeer.Identity
	LocalFee int64

	Store    *routedb.Store
	Peers    PeerDialer
	Channels ChannelSender

	Log func(format string, args ...interface{})

	// mu serializes the read-compare-write step of Update against
	// concurrent gossip for the same or different destinations; the
	// underlying bbolt store is already safe per call but the
	// tie-break decision needs to be atomic across the read and the
	// write.
	mu sync.Mutex
}

func (rt *Router) logf(format string, args ...interface{}) {
	if rt.Log != nil {
		rt.Log(format, args...)
	}
}

// OnChannelOpened implements channel.RouterNotifier. Per §4.3: insert
// PeerRow(peer, local_fee), register the trivial direct route, then replay
// every route we already know to the new peer so it converges immediately
// instead of waiting for the next organic gossip round.
func (rt *Router) OnChannelOpened(peer lnpeer.Identity) {
	if err := rt.Store.PutPeer(routedb.PeerRow{Peer: peer, Fee: rt.LocalFee}); err != nil {
		rt.logf("router: failed to record peer %s: %v", peer, err)
		return
	}

	if err := rt.Update(peer, peer, 0); err != nil {
		rt.logf("router: failed to register direct route to %s: %v", peer, err)
	}

	routes, err := rt.Store.Routes()
	if err != nil {
		rt.logf("router: failed to list routes while onboarding %s: %v", peer, err)
		return
	}

	client := rt.Peers.Dial(peer)
	for _, route := range routes {
		if route.Destination == peer {
			continue // just sent above
		}
		if err := client.Update(rt.SelfAddr, route.Destination, route.Cost+rt.LocalFee); err != nil {
			rt.logf("router: full-table replay of %s to new peer %s failed: %v", route.Destination, peer, err)
		}
	}
}

// OnChannelClosed implements channel.RouteCleaner: a closed channel is no
// longer a usable next hop, per §3's lifecycle rule.
func (rt *Router) OnChannelClosed(peer lnpeer.Identity) {
	if err := rt.Store.DeletePeer(peer); err != nil {
		rt.logf("router: failed to remove peer %s: %v", peer, err)
	}
}

// Update applies one distance-vector gossip entry: nextHop claims to reach
// destination at total cost cost. Per §4.3, a destination equal to
// ourselves is ignored, and a cost that does not strictly improve on the
// route we already hold is silently dropped (ties are not improvements).
// Otherwise the route is recorded and re-broadcast to every direct peer
// with that peer's forwarding fee added.
func (rt *Router) Update(nextHop, destination lnpeer.Identity, cost int64) error {
	if destination == rt.SelfAddr {
		return nil
	}

	rt.mu.Lock()
	existing, err := rt.Store.Route(destination)
	if err != nil {
		rt.mu.Unlock()
		return err
	}
	if existing != nil && existing.Cost <= cost {
		rt.mu.Unlock()
		return nil
	}
	err = rt.Store.PutRoute(routedb.RouteRow{Destination: destination, Cost: cost, NextHop: nextHop})
	rt.mu.Unlock()
	if err != nil {
		return err
	}

	peers, err := rt.Store.Peers()
	if err != nil {
		return err
	}

	// Broadcast to every direct peer concurrently: one slow or unreachable
	// peer must not delay convergence to the rest, and a propagation
	// failure is isolated to that peer rather than poisoning the table
	// (§7).
	var g errgroup.Group
	for _, p := range peers {
		p := p
		g.Go(func() error {
			client := rt.Peers.Dial(p.Peer)
			if err := client.Update(rt.SelfAddr, destination, cost+p.Fee); err != nil {
				rt.logf("router: propagating route to %s failed: %v", p.Peer, err)
			}
			return nil
		})
	}
	g.Wait()
	return nil
}

// HandleUpdate is the inbound lightning.update RPC: caller is the peer who
// invoked us, which is exactly the next hop toward destination from our
// point of view.
func (rt *Router) HandleUpdate(caller, destination lnpeer.Identity, cost int64) error {
	return rt.Update(caller, destination, cost)
}

// Send implements send(destination, amount) for the local `send` RPC.
func (rt *Router) Send(destination lnpeer.Identity, amount btcutil.Amount) error {
	return rt.forward(destination, amount)
}

// HandleSend is the inbound lightning.send RPC: forwarding one more hop is
// identical whether the request originated locally or from an upstream
// peer, so it shares forward with Send.
func (rt *Router) HandleSend(caller, destination lnpeer.Identity, amount btcutil.Amount) error {
	return rt.forward(destination, amount)
}

// forward implements §4.3's send algorithm, including the documented
// "optimistic forwarding" hazard: the local channel payment to next_hop is
// committed before the downstream hop is even contacted, so a failure at
// step 2 leaves the upstream payment sunk. Per the design note in §9 this
// is a known limitation carried forward deliberately, not a bug to fix
// here.
func (rt *Router) forward(destination lnpeer.Identity, amount btcutil.Amount) error {
	if destination == rt.SelfAddr {
		return nil
	}

	route, err := rt.Store.Route(destination)
	if err != nil {
		return err
	}
	if route == nil {
		// No known route: fall back to a direct channel, which
		// fails on its own if none exists.
		return rt.Channels.Send(destination, amount)
	}

	// Step 1: pay next_hop amount+cost on the local channel.
	if err := rt.Channels.Send(route.NextHop, amount+btcutil.Amount(route.Cost)); err != nil {
		return fmt.Errorf("local payment to next hop %s failed: %w", route.NextHop, err)
	}

	// Step 2: ask next_hop to continue forwarding. If this fails the
	// upstream payment has already landed (optimistic forwarding).
	client := rt.Peers.Dial(route.NextHop)
	if err := client.Send(rt.SelfAddr, destination, amount); err != nil {
		return fmt.Errorf("forwarding to %s via %s failed after local payment settled: %w", destination, route.NextHop, err)
	}
	return nil
}

// Package routing implements the distance-vector router of §4.3: a table
// of best-known routes keyed by destination, updated by gossip and
// consulted by multi-hop sends. Grounded on the same worker/store
// separation as the channel package, scaled down since the router itself
// is not protocol-serialized per peer the way a channel is (§4.3 has no
// state machine, just a monotone table update).
package routing

import (
	"github.com/btcsuite/btcutil"

	"github.com/hashplex/lightningd/lnpeer"
)

// PeerClient is the router's two outbound peer-wire calls, the
// `lightning.*` methods of §6.
type PeerClient interface {
	// Update is lightning.update.
	Update(selfAddr, destination lnpeer.Identity, cost int64) error

	// Send is lightning.send.
	Send(selfAddr, destination lnpeer.Identity, amount btcutil.Amount) error
}

// PeerDialer resolves a peer identity to the PeerClient that talks to it.
type PeerDialer interface {
	Dial(peer lnpeer.Identity) PeerClient
}

// ChannelSender is the subset of channel.Machine the router needs to move
// money across a direct channel; channel.Machine satisfies this directly.
type ChannelSender interface {
	Send(peer lnpeer.Identity, amount btcutil.Amount) error
}

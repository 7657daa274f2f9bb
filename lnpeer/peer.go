// Package lnpeer defines the identity type shared by every component that
// needs to name a channel counterparty.
package lnpeer

import "fmt"

// Identity is an opaque token naming a channel counterparty. In this
// implementation it is the counterparty's base RPC URL, exactly as in the
// reference implementation, but callers elsewhere in the system must treat
// it as an opaque value: compare it with ==, use it as a map key, and
// display it, but never parse it.
type Identity string

// String implements fmt.Stringer.
func (id Identity) String() string {
	return string(id)
}

// Empty reports whether the identity carries no value.
func (id Identity) Empty() bool {
	return id == ""
}

// ErrUnknownPeer reports an operation on a peer with no channel or route
// record. No package in this module returns it; channeldb reports a missing
// channel record with ErrNoSuchChannel.
type ErrUnknownPeer struct {
	Peer Identity
}

func (e *ErrUnknownPeer) Error() string {
	return fmt.Sprintf("unknown peer: %s", e.Peer)
}

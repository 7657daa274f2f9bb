package channel

import (
	"github.com/btcsuite/btcd/btcec"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/btcutil"

	"github.com/hashplex/lightningd/lnpeer"
)

// PeerClient is every outbound peer-wire call the state machine issues,
// mirroring the `channel.*` JSON-RPC methods of §6. A concrete
// implementation (package peerrpc) dials the peer's base URL and encodes
// the class-discriminated payloads described there; this package never
// touches HTTP directly, the same separation lnwallet.WalletController
// draws between channel logic and backend transport in the teacher.
type PeerClient interface {
	// OpenChannel is channel.open_channel. responderBalance is the
	// balance the callee (receiver of this RPC) is to hold; initiatorBalance
	// is the caller's requested balance. initiatorCoins/initiatorChange are
	// the caller's contribution to the anchor's inputs.
	OpenChannel(selfAddr lnpeer.Identity, responderBalance, initiatorBalance, fees btcutil.Amount,
		initiatorCoins []*wire.TxIn, initiatorChange *wire.TxOut,
		initiatorPubkey *btcec.PublicKey, initiatorAddr btcutil.Address) (
		anchorTx *wire.MsgTx, redeem []byte, responderAddr btcutil.Address, responderPubkey *btcec.PublicKey, err error)

	// UpdateAnchor is channel.update_anchor.
	UpdateAnchor(selfAddr lnpeer.Identity, anchorTxid chainhash.Hash,
		theirSigForOurCommitment []byte, theirPubkey *btcec.PublicKey) (ourSigForTheirCommitment []byte, err error)

	// ProposeUpdate is channel.propose_update.
	ProposeUpdate(selfAddr lnpeer.Identity, amount btcutil.Amount) (ourSigForTheirCommitment []byte, err error)

	// Receive is channel.receive.
	Receive(selfAddr lnpeer.Identity, amount btcutil.Amount, ourSigForTheirCommitment []byte) error

	// CloseChannel is channel.close_channel.
	CloseChannel(selfAddr lnpeer.Identity, theirSigForSettlement []byte) (ourSigForSettlement []byte, err error)

	// SendError best-effort notifies the peer of a fatal local condition,
	// standing in for pkt_error when it cannot simply be the response to
	// an inbound call the peer is currently waiting on.
	SendError(selfAddr lnpeer.Identity, message string)
}

// PeerDialer resolves a peer identity to the PeerClient that talks to it.
// Kept distinct from PeerClient so the Machine does not need to know how
// identities map to transports (basic URL dialing in production, direct
// in-process wiring in tests).
type PeerDialer interface {
	Dial(peer lnpeer.Identity) PeerClient
}

// RouterNotifier is the explicit interface the router subscribes through,
// per the design note in §9 replacing a global signal bus: the state
// machine invokes it directly at the moment a channel reaches `normal`.
type RouterNotifier interface {
	OnChannelOpened(peer lnpeer.Identity)
}

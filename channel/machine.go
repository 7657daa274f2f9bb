// Package channel implements the per-channel protocol state machine of
// §4.2: it drives a channel from begin through normal to end, processing
// local commands and inbound peer messages serialized through a
// partitioned worker pool (§5). It is grounded on the message-passing,
// request-struct style lnwallet.LightningWallet uses for its reservation
// workflow in the teacher (initFundingReserveMsg, addContributionMsg, and
// friends), adapted from an async message bus to direct method calls
// backed by WorkerPool, since every peer-wire exchange in this design is a
// synchronous JSON-RPC round trip rather than a fire-and-forget message.
package channel

import (
	"fmt"

	"github.com/btcsuite/btcd/btcec"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/btcutil"

	"github.com/davecgh/go-spew/spew"

	"github.com/hashplex/lightningd/chainadapter"
	"github.com/hashplex/lightningd/channeldb"
	"github.com/hashplex/lightningd/lnpeer"
	"github.com/hashplex/lightningd/signing"
)

// Machine ties together the collaborators a running channel needs: the
// chain adapter, the persistent record store, an outbound peer dialer, the
// router's notification sink, and this node's single long-lived anchor
// keypair (§3: "the node has one long-lived secret used for all channel
// anchors it participates in").
type Machine struct {
	SelfAddr  lnpeer.Identity
	Seckey    *btcec.PrivateKey
	NetParams *chaincfg.Params

	Adapter chainadapter.ChainAdapter
	Store   *channeldb.Store
	Peers   PeerDialer
	Router  RouterNotifier
	Pool    *WorkerPool

	// Log receives a one-line trace of every applied transition, in the
	// spirit of btclog's subsystem loggers; the daemon wires this to the
	// "CHAN" subsystem.
	Log func(format string, args ...interface{})
}

func (m *Machine) logf(format string, args ...interface{}) {
	if m.Log != nil {
		m.Log(format, args...)
	}
}

// Pubkey is this node's public anchor key, derived from Seckey.
func (m *Machine) Pubkey() *btcec.PublicKey {
	return m.Seckey.PubKey()
}

func decodeAddr(m *Machine, s string) (btcutil.Address, error) {
	return btcutil.DecodeAddress(s, m.NetParams)
}

func anchorOutPoint(r *channeldb.Record) wire.OutPoint {
	return wire.OutPoint{Hash: r.AnchorPoint.Txid, Index: r.AnchorPoint.Vout}
}

// ourCommitmentTx builds the commitment transaction we would hold: our
// payout first, their payout second, per §4.1's output-ordering rule.
func (m *Machine) ourCommitmentTx(r *channeldb.Record) (*wire.MsgTx, error) {
	ourAddr, err := decodeAddr(m, r.OurAddr)
	if err != nil {
		return nil, err
	}
	theirAddr, err := decodeAddr(m, r.TheirAddr)
	if err != nil {
		return nil, err
	}
	return signing.BuildCommitmentTx(anchorOutPoint(r), ourAddr, r.OurBalance, theirAddr, r.TheirBalance)
}

// mirrorTx builds the commitment transaction the peer holds: their payout
// first, ours second.
func (m *Machine) mirrorTx(r *channeldb.Record) (*wire.MsgTx, error) {
	ourAddr, err := decodeAddr(m, r.OurAddr)
	if err != nil {
		return nil, err
	}
	theirAddr, err := decodeAddr(m, r.TheirAddr)
	if err != nil {
		return nil, err
	}
	return signing.BuildCommitmentTx(anchorOutPoint(r), theirAddr, r.TheirBalance, ourAddr, r.OurBalance)
}

// signOurCommitment produces our signature over our own commitment. It is
// used only to finish that commitment for a unilateral close and is never
// sent to the peer.
func (m *Machine) signOurCommitment(r *channeldb.Record) ([]byte, error) {
	tx, err := m.ourCommitmentTx(r)
	if err != nil {
		return nil, err
	}
	return signing.SignAnchorSpend(m.Adapter, r.AnchorRedeem, tx, m.Seckey)
}

// signMirror produces our signature over the peer's commitment, i.e. the
// mirror signature of §4.1.
func (m *Machine) signMirror(r *channeldb.Record) ([]byte, error) {
	tx, err := m.mirrorTx(r)
	if err != nil {
		return nil, err
	}
	return signing.SignAnchorSpend(m.Adapter, r.AnchorRedeem, tx, m.Seckey)
}

// verifyTheirSigOnOurCommitment checks sig against r's current *our*
// commitment under their_pubkey, per invariant 2 of §8.
func (m *Machine) verifyTheirSigOnOurCommitment(r *channeldb.Record, sig []byte) error {
	tx, err := m.ourCommitmentTx(r)
	if err != nil {
		return err
	}
	theirPubkey, err := btcec.ParsePubKey(r.TheirPubkey, btcec.S256())
	if err != nil {
		return fmt.Errorf("invalid signature: bad counterparty pubkey: %v", err)
	}
	return signing.VerifyAnchorSpendSig(m.Adapter, r.AnchorRedeem, tx, theirPubkey, sig)
}

// submit wires the worker pool's fatal-error notification on its way to
// WorkerPool.Submit, so every call site gets pkt_error delivery for free
// without each caller of Machine having to remember to wire it up.
func (m *Machine) submit(peer lnpeer.Identity, fn func() (interface{}, error)) (interface{}, error) {
	m.Pool.setOnFatal(m.notifyFatal)
	return m.Pool.Submit(peer, fn)
}

// notifyFatal best-effort notifies peer of a fatal local failure via
// PeerClient.SendError, standing in for pkt_error per §4.2/§9. A fatal error
// the peer itself already reported (CategoryPeerError, raised from
// HandleError) is not echoed back, since the peer's own worker is already
// dying and doesn't need to be told about a condition it caused.
func (m *Machine) notifyFatal(peer lnpeer.Identity, cause *FatalError) {
	if m.Peers == nil || cause.Category == CategoryPeerError {
		return
	}
	m.Peers.Dial(peer).SendError(m.SelfAddr, cause.Error())
}

func (m *Machine) dump(label string, v interface{}) {
	m.logf("%s: %s", label, spew.Sdump(v))
}

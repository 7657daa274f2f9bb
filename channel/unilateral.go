package channel

import (
	"fmt"

	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/btcutil"

	"github.com/hashplex/lightningd/channeldb"
	"github.com/hashplex/lightningd/lnpeer"
	"github.com/hashplex/lightningd/signing"
)

// GetCommitmentTransactions implements get_commitment_transactions: a
// unilateral close with no protocol step (§4.2). It finishes our current
// commitment transaction (already bearing a valid their_sig) with our own
// signature and returns it fully signed and script-verified, ready for the
// caller to broadcast via the chain adapter. The returned slice always holds
// exactly that one transaction; the peer's mirror commitment is not included.
func (m *Machine) GetCommitmentTransactions(peer lnpeer.Identity) ([]*wire.MsgTx, error) {
	val, err := m.submit(peer, func() (interface{}, error) {
		return m.doGetCommitmentTransactions(peer)
	})
	if err != nil {
		return nil, err
	}
	return val.([]*wire.MsgTx), nil
}

func (m *Machine) doGetCommitmentTransactions(peer lnpeer.Identity) ([]*wire.MsgTx, error) {
	r, err := m.Store.Get(peer)
	if err != nil {
		return nil, err
	}
	if r.State != channeldb.StateNormal && r.State != channeldb.StateSendWait1 {
		return nil, fmt.Errorf("channel to %s has no usable commitment in state %s", peer, r.State)
	}
	if len(r.TheirSig) == 0 {
		return nil, fmt.Errorf("channel to %s has no counterparty signature yet", peer)
	}

	ourTx, err := m.ourCommitmentTx(r)
	if err != nil {
		return nil, err
	}
	ourSig, err := m.signOurCommitment(r)
	if err != nil {
		return nil, err
	}
	anchorValue := r.OurBalance + r.TheirBalance
	if err := signing.FinishAndVerify(m.Adapter, ourTx, int(r.MyIndex), ourSig, r.TheirSig, r.AnchorRedeem, anchorValue); err != nil {
		return nil, fmt.Errorf("our commitment failed local verification: %v", err)
	}

	return []*wire.MsgTx{ourTx}, nil
}

// GetBalance implements get_balance(peer): a read-only snapshot, taken
// through the worker so it reflects a consistent, non-torn view of an
// in-flight update.
func (m *Machine) GetBalance(peer lnpeer.Identity) (our, their btcutil.Amount, err error) {
	val, err := m.submit(peer, func() (interface{}, error) {
		r, err := m.Store.Get(peer)
		if err != nil {
			return nil, err
		}
		return [2]btcutil.Amount{r.OurBalance, r.TheirBalance}, nil
	})
	if err != nil {
		return 0, 0, err
	}
	pair := val.([2]btcutil.Amount)
	return pair[0], pair[1], nil
}

// HandleError is the inbound pkt_error: the peer reported a fatal
// condition on its side. We mark our own worker dead too, since the
// protocol cannot continue in a state the counterparty has abandoned.
func (m *Machine) HandleError(peer lnpeer.Identity, message string) {
	m.submit(peer, func() (interface{}, error) {
		return nil, NewFatalError(peer, CategoryPeerError, fmt.Errorf("%s", message))
	})
}

package channel

import (
	"fmt"

	"github.com/btcsuite/btcd/btcec"
	"github.com/btcsuite/btcutil"

	"github.com/hashplex/lightningd/channeldb"
	"github.com/hashplex/lightningd/lnpeer"
	"github.com/hashplex/lightningd/signing"
)

// Send is cmd_send: A's half of the update protocol, steps S1 and S3.
func (m *Machine) Send(peer lnpeer.Identity, amount btcutil.Amount) error {
	if amount <= 0 {
		return &ErrInvalidAmount{Reason: "amount must be strictly positive"}
	}
	_, err := m.submit(peer, func() (interface{}, error) {
		return nil, m.doSend(peer, amount)
	})
	return err
}

func (m *Machine) doSend(peer lnpeer.Identity, amount btcutil.Amount) error {
	r, err := m.Store.Get(peer)
	if err != nil {
		return err
	}
	if r.State != channeldb.StateNormal {
		return fmt.Errorf("channel to %s is not in normal state (state=%s)", peer, r.State)
	}
	if amount > r.OurBalance {
		return &ErrInvalidAmount{Reason: "not enough money"}
	}

	if err := m.Store.Update(peer, func(rec *channeldb.Record) error {
		rec.State = channeldb.StateSendWait1
		return nil
	}); err != nil {
		return NewFatalError(peer, CategoryChainAdapterFailure, err)
	}

	// S1 -> S2: pkt_update(x).
	client := m.Peers.Dial(peer)
	sig, err := client.ProposeUpdate(m.SelfAddr, amount)
	if err != nil {
		return NewFatalError(peer, CategoryTransportFailure, err)
	}

	// S3: verify sig against our commitment after paying x (our-x), then
	// persist and push the final signature to B.
	clone := r.Clone()
	clone.OurBalance -= amount
	clone.TheirBalance += amount
	theirPubkey, err := btcec.ParsePubKey(r.TheirPubkey, btcec.S256())
	if err != nil {
		return NewFatalError(peer, CategoryInvalidSignature, err)
	}
	ourNewTx, err := m.ourCommitmentTx(clone)
	if err != nil {
		return NewFatalError(peer, CategoryChainAdapterFailure, err)
	}
	if err := signing.VerifyAnchorSpendSig(m.Adapter, r.AnchorRedeem, ourNewTx, theirPubkey, sig); err != nil {
		return NewFatalError(peer, CategoryInvalidSignature, err)
	}

	err = m.Store.Update(peer, func(rec *channeldb.Record) error {
		rec.OurBalance -= amount
		rec.TheirBalance += amount
		rec.TheirSig = sig
		rec.State = channeldb.StateNormal
		return nil
	})
	if err != nil {
		return NewFatalError(peer, CategoryChainAdapterFailure, err)
	}

	mirrorSig, err := m.signMirror(clone)
	if err != nil {
		return NewFatalError(peer, CategoryChainAdapterFailure, err)
	}
	if err := client.Receive(m.SelfAddr, amount, mirrorSig); err != nil {
		return NewFatalError(peer, CategoryTransportFailure, err)
	}

	m.logf("sent %d to %s: our=%d their=%d", amount, peer, clone.OurBalance, clone.TheirBalance)
	return nil
}

// HandleProposeUpdate is the inbound propose_update RPC: step S2. It
// computes and signs the post-update mirror commitment WITHOUT persisting
// anything, per §4.2's explicit "DO NOT persist" instruction - the balance
// change only lands when HandleReceive (S4) runs.
func (m *Machine) HandleProposeUpdate(peer lnpeer.Identity, amount btcutil.Amount) ([]byte, error) {
	val, err := m.submit(peer, func() (interface{}, error) {
		return m.doHandleProposeUpdate(peer, amount)
	})
	if err != nil {
		return nil, err
	}
	return val.([]byte), nil
}

func (m *Machine) doHandleProposeUpdate(peer lnpeer.Identity, amount btcutil.Amount) ([]byte, error) {
	if amount <= 0 {
		return nil, &ErrInvalidAmount{Reason: "amount must be strictly positive"}
	}

	r, err := m.Store.Get(peer)
	if err != nil {
		return nil, err
	}
	if r.State != channeldb.StateNormal {
		return nil, NewFatalError(peer, CategoryProtocolStateViolation,
			fmt.Errorf("propose_update received in state %s", r.State))
	}

	clone := r.Clone()
	clone.OurBalance += amount
	clone.TheirBalance -= amount
	if clone.OurBalance < 0 || clone.TheirBalance < 0 {
		return nil, &ErrInvalidAmount{Reason: "not enough money"}
	}

	sig, err := m.signMirror(clone)
	if err != nil {
		return nil, NewFatalError(peer, CategoryChainAdapterFailure, err)
	}

	return sig, nil
}

// HandleReceive is the inbound receive RPC: step S4.
func (m *Machine) HandleReceive(peer lnpeer.Identity, amount btcutil.Amount, sig []byte) error {
	_, err := m.submit(peer, func() (interface{}, error) {
		return nil, m.doHandleReceive(peer, amount, sig)
	})
	return err
}

func (m *Machine) doHandleReceive(peer lnpeer.Identity, amount btcutil.Amount, sig []byte) error {
	r, err := m.Store.Get(peer)
	if err != nil {
		return err
	}
	if r.State != channeldb.StateNormal {
		return NewFatalError(peer, CategoryProtocolStateViolation,
			fmt.Errorf("update_signature received in state %s", r.State))
	}

	clone := r.Clone()
	clone.OurBalance += amount
	clone.TheirBalance -= amount
	if clone.OurBalance < 0 || clone.TheirBalance < 0 {
		return NewFatalError(peer, CategoryProtocolStateViolation, fmt.Errorf("balance would go negative"))
	}

	theirPubkey, err := btcec.ParsePubKey(r.TheirPubkey, btcec.S256())
	if err != nil {
		return NewFatalError(peer, CategoryInvalidSignature, err)
	}
	ourNewTx, err := m.ourCommitmentTx(clone)
	if err != nil {
		return NewFatalError(peer, CategoryChainAdapterFailure, err)
	}
	if err := signing.VerifyAnchorSpendSig(m.Adapter, r.AnchorRedeem, ourNewTx, theirPubkey, sig); err != nil {
		return NewFatalError(peer, CategoryInvalidSignature, err)
	}

	return m.Store.Update(peer, func(rec *channeldb.Record) error {
		rec.OurBalance += amount
		rec.TheirBalance -= amount
		rec.TheirSig = sig
		return nil
	})
}

package channel

import (
	"fmt"

	"github.com/btcsuite/btcd/btcec"
	"github.com/btcsuite/btcd/wire"

	"github.com/hashplex/lightningd/channeldb"
	"github.com/hashplex/lightningd/lnpeer"
	"github.com/hashplex/lightningd/signing"
)

// RouteCleaner is the interface the router exposes for deleting its
// PeerRow/RouteRow entries when a channel goes away, matching §3's
// lifecycle rule "PeerRow is ... destroyed on channel delete". Kept
// separate from RouterNotifier so tests can wire the two independently;
// Machine.Router is asserted against it opportunistically.
type RouteCleaner interface {
	OnChannelClosed(peer lnpeer.Identity)
}

func (m *Machine) notifyClosed(peer lnpeer.Identity) {
	if cleaner, ok := m.Router.(RouteCleaner); ok && cleaner != nil {
		cleaner.OnChannelClosed(peer)
	}
}

// Close is cmd_close: steps C1 and C3.
func (m *Machine) Close(peer lnpeer.Identity) error {
	_, err := m.submit(peer, func() (interface{}, error) {
		return nil, m.doClose(peer)
	})
	return err
}

func (m *Machine) doClose(peer lnpeer.Identity) error {
	r, err := m.Store.Get(peer)
	if err != nil {
		return err
	}
	if r.State != channeldb.StateNormal {
		return fmt.Errorf("channel to %s is not in normal state (state=%s)", peer, r.State)
	}

	_, index0Sig, index1Sig, err := m.buildSettlement(r)
	if err != nil {
		return NewFatalError(peer, CategoryChainAdapterFailure, err)
	}
	ourSig := index0Sig
	if r.MyIndex == 1 {
		ourSig = index1Sig
	}

	if err := m.Store.Update(peer, func(rec *channeldb.Record) error {
		rec.State = channeldb.StateCloseWait1
		return nil
	}); err != nil {
		return NewFatalError(peer, CategoryChainAdapterFailure, err)
	}

	// C1 -> C2: pkt_close(sign(settlement)).
	client := m.Peers.Dial(peer)
	theirSig, err := client.CloseChannel(m.SelfAddr, ourSig)
	if err != nil {
		return NewFatalError(peer, CategoryTransportFailure, err)
	}

	// C3: verify locally as a bug-catching check (§4.1); we do not
	// broadcast ourselves, since B already does so in C2.
	settlement, _, _, err := m.buildSettlement(r)
	if err != nil {
		return NewFatalError(peer, CategoryChainAdapterFailure, err)
	}
	theirPubkey, err := btcec.ParsePubKey(r.TheirPubkey, btcec.S256())
	if err != nil {
		return NewFatalError(peer, CategoryInvalidSignature, err)
	}
	anchorValue := r.OurBalance + r.TheirBalance
	if err := signing.FinishAndVerify(m.Adapter, settlement, int(r.MyIndex), ourSig, theirSig, r.AnchorRedeem, anchorValue); err != nil {
		return NewFatalError(peer, CategoryInvalidSignature, err)
	}

	if err := m.Store.Delete(peer); err != nil {
		return NewFatalError(peer, CategoryChainAdapterFailure, err)
	}
	m.notifyClosed(peer)
	m.logf("channel to %s closed cooperatively (initiator)", peer)
	return nil
}

// buildSettlement builds the settlement transaction for r and returns it
// along with our signature at whichever redeem-script slot is ours.
// index0Sig/index1Sig hold our signature at the slot we occupy and nil at
// the other, so callers can pick the one relevant to their role without
// re-deriving MyIndex.
func (m *Machine) buildSettlement(r *channeldb.Record) (tx *wire.MsgTx, index0Sig, index1Sig []byte, err error) {
	index0Addr, index1Addr := r.OurAddr, r.TheirAddr
	index0Amount, index1Amount := r.OurBalance, r.TheirBalance
	if r.MyIndex == 1 {
		index0Addr, index1Addr = r.TheirAddr, r.OurAddr
		index0Amount, index1Amount = r.TheirBalance, r.OurBalance
	}

	addr0, err := decodeAddr(m, index0Addr)
	if err != nil {
		return nil, nil, nil, err
	}
	addr1, err := decodeAddr(m, index1Addr)
	if err != nil {
		return nil, nil, nil, err
	}

	built, err := signing.BuildSettlementTx(anchorOutPoint(r), addr0, index0Amount, addr1, index1Amount)
	if err != nil {
		return nil, nil, nil, err
	}

	ourSig, err := signing.SignAnchorSpend(m.Adapter, r.AnchorRedeem, built, m.Seckey)
	if err != nil {
		return nil, nil, nil, err
	}
	if r.MyIndex == 0 {
		return built, ourSig, nil, nil
	}
	return built, nil, ourSig, nil
}

// HandleCloseChannel is the inbound close_channel RPC: step C2. theirSig is
// the initiator's signature over the settlement at their redeem-script
// slot.
func (m *Machine) HandleCloseChannel(peer lnpeer.Identity, theirSig []byte) ([]byte, error) {
	val, err := m.submit(peer, func() (interface{}, error) {
		return m.doHandleCloseChannel(peer, theirSig)
	})
	if err != nil {
		return nil, err
	}
	return val.([]byte), nil
}

func (m *Machine) doHandleCloseChannel(peer lnpeer.Identity, theirSig []byte) ([]byte, error) {
	r, err := m.Store.Get(peer)
	if err != nil {
		return nil, err
	}
	if r.State != channeldb.StateNormal {
		return nil, NewFatalError(peer, CategoryProtocolStateViolation,
			fmt.Errorf("close_channel received in state %s", r.State))
	}

	tx, index0Sig, index1Sig, err := m.buildSettlement(r)
	if err != nil {
		return nil, NewFatalError(peer, CategoryChainAdapterFailure, err)
	}
	ourSig := index0Sig
	if r.MyIndex == 1 {
		ourSig = index1Sig
	}

	anchorValue := r.OurBalance + r.TheirBalance
	if err := signing.FinishAndVerify(m.Adapter, tx, int(r.MyIndex), ourSig, theirSig, r.AnchorRedeem, anchorValue); err != nil {
		return nil, NewFatalError(peer, CategoryInvalidSignature, err)
	}

	if _, err := m.Adapter.SendRawTransaction(tx); err != nil {
		return nil, NewFatalError(peer, CategoryChainAdapterFailure, err)
	}

	if err := m.Store.Delete(peer); err != nil {
		return nil, NewFatalError(peer, CategoryChainAdapterFailure, err)
	}
	m.notifyClosed(peer)
	m.logf("channel to %s closed cooperatively (responder)", peer)

	return ourSig, nil
}

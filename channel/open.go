package channel

import (
	"fmt"

	"github.com/btcsuite/btcd/btcec"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/btcutil"

	"github.com/hashplex/lightningd/chainadapter"
	"github.com/hashplex/lightningd/channeldb"
	"github.com/hashplex/lightningd/lnpeer"
	"github.com/hashplex/lightningd/signing"
)

// OpenChannel is cmd_open: local command A1-A3 of the opening protocol.
// ourAmount/theirAmount are the balances the caller wants each side to
// start with; fees pads the coin selection for the anchor's eventual
// broadcast.
func (m *Machine) OpenChannel(peer lnpeer.Identity, ourAmount, theirAmount, fees btcutil.Amount) error {
	_, err := m.submit(peer, func() (interface{}, error) {
		return nil, m.doOpenChannel(peer, ourAmount, theirAmount, fees)
	})
	return err
}

func (m *Machine) doOpenChannel(peer lnpeer.Identity, ourAmount, theirAmount, fees btcutil.Amount) error {
	// A1
	if exists, err := m.Store.Exists(peer); err != nil {
		return err
	} else if exists {
		return fmt.Errorf("channel to %s already exists", peer)
	}

	coins, change, err := chainadapter.SelectCoins(m.Adapter, ourAmount+2*fees)
	if err != nil {
		return err // ErrInsufficientFunds, non-fatal
	}
	ourAddr, err := m.Adapter.GetNewAddress()
	if err != nil {
		return NewFatalError(peer, CategoryChainAdapterFailure, err)
	}

	client := m.Peers.Dial(peer)

	// A1 -> B1: open_channel(self, their_money_as_seen_by_receiver,
	// my_money_as_seen_by_receiver, fees, our_coins, our_change,
	// our_pubkey, our_addr). Here "responder" is B and "initiator" is us.
	anchorTx, redeem, theirAddr, theirPubkey, err := client.OpenChannel(
		m.SelfAddr, theirAmount, ourAmount, fees, coins, change, m.Pubkey(), ourAddr)
	if err != nil {
		return NewFatalError(peer, CategoryTransportFailure, err)
	}

	// A2: fully sign and broadcast the anchor transaction, my_index=1
	// (B built the anchor and claimed index 0 for itself in B1).
	signed, complete, err := m.Adapter.SignRawTransaction(anchorTx)
	if err != nil || !complete {
		return NewFatalError(peer, CategoryChainAdapterFailure, fmt.Errorf("anchor tx not fully signed: %v", err))
	}
	txid, err := m.Adapter.SendRawTransaction(signed)
	if err != nil {
		return NewFatalError(peer, CategoryChainAdapterFailure, err)
	}

	r := &channeldb.Record{
		Peer:         peer,
		AnchorPoint:  channeldb.AnchorPoint{Txid: *txid, Vout: 0},
		AnchorRedeem: redeem,
		MyIndex:      1,
		MyPubkey:     m.Pubkey().SerializeCompressed(),
		TheirPubkey:  theirPubkey.SerializeCompressed(),
		OurBalance:   ourAmount,
		TheirBalance: theirAmount,
		OurAddr:      ourAddr.EncodeAddress(),
		TheirAddr:    theirAddr.EncodeAddress(),
		State:        channeldb.StateOpenWait2,
	}
	if err := m.Store.Create(r); err != nil {
		return NewFatalError(peer, CategoryChainAdapterFailure, err)
	}

	mirrorSig, err := m.signMirror(r)
	if err != nil {
		return NewFatalError(peer, CategoryChainAdapterFailure, err)
	}

	// A2 -> B2: update_anchor(self, anchor_txid, mirror_sig, my_pubkey).
	theirSig, err := client.UpdateAnchor(m.SelfAddr, *txid, mirrorSig, m.Pubkey())
	if err != nil {
		return NewFatalError(peer, CategoryTransportFailure, err)
	}

	// A3: verify and store; emit channel_opened; complete cmd_open.
	if err := m.verifyTheirSigOnOurCommitment(r, theirSig); err != nil {
		return NewFatalError(peer, CategoryInvalidSignature, err)
	}
	err = m.Store.Update(peer, func(rec *channeldb.Record) error {
		rec.TheirSig = theirSig
		rec.State = channeldb.StateNormal
		return nil
	})
	if err != nil {
		return NewFatalError(peer, CategoryChainAdapterFailure, err)
	}

	if m.Router != nil {
		m.Router.OnChannelOpened(peer)
	}
	m.logf("channel to %s opened: our=%d their=%d", peer, ourAmount, theirAmount)
	return nil
}

// HandleOpenChannel is the inbound open_channel RPC: step B1. ourBalance
// is our (the callee's) requested own balance; theirBalance is the caller's
// requested balance as this node sees it. initiatorCoins/initiatorChange
// fund the caller's side of the anchor.
func (m *Machine) HandleOpenChannel(peer lnpeer.Identity, ourBalance, theirBalance, fees btcutil.Amount,
	initiatorCoins []*wire.TxIn, initiatorChange *wire.TxOut,
	initiatorPubkey *btcec.PublicKey, initiatorAddr btcutil.Address) (
	anchorTx *wire.MsgTx, redeem []byte, ourAddr btcutil.Address, ourPubkey *btcec.PublicKey, err error) {

	val, err := m.submit(peer, func() (interface{}, error) {
		return m.doHandleOpenChannel(peer, ourBalance, theirBalance, fees, initiatorCoins, initiatorChange, initiatorPubkey, initiatorAddr)
	})
	if err != nil {
		return nil, nil, nil, nil, err
	}
	res := val.(openResult)
	return res.anchorTx, res.redeem, res.ourAddr, res.ourPubkey, nil
}

type openResult struct {
	anchorTx *wire.MsgTx
	redeem   []byte
	ourAddr  btcutil.Address
	ourPubkey *btcec.PublicKey
}

func (m *Machine) doHandleOpenChannel(peer lnpeer.Identity, ourBalance, theirBalance, fees btcutil.Amount,
	initiatorCoins []*wire.TxIn, initiatorChange *wire.TxOut,
	initiatorPubkey *btcec.PublicKey, initiatorAddr btcutil.Address) (openResult, error) {

	if exists, err := m.Store.Exists(peer); err != nil {
		return openResult{}, err
	} else if exists {
		return openResult{}, fmt.Errorf("channel to %s already exists", peer)
	}

	ourCoins, ourChange, err := chainadapter.SelectCoins(m.Adapter, ourBalance+2*fees)
	if err != nil {
		return openResult{}, err // ErrInsufficientFunds, non-fatal
	}
	ourAddr, err := m.Adapter.GetNewAddress()
	if err != nil {
		return openResult{}, NewFatalError(peer, CategoryChainAdapterFailure, err)
	}

	redeem, err := signing.BuildRedeemScript(m.Pubkey(), initiatorPubkey)
	if err != nil {
		return openResult{}, NewFatalError(peer, CategoryChainAdapterFailure, err)
	}
	pkScript, err := signing.P2SHScriptPubKey(redeem)
	if err != nil {
		return openResult{}, NewFatalError(peer, CategoryChainAdapterFailure, err)
	}

	anchorTx := wire.NewMsgTx(wire.TxVersion)
	for _, in := range ourCoins {
		anchorTx.AddTxIn(in)
	}
	for _, in := range initiatorCoins {
		anchorTx.AddTxIn(in)
	}
	anchorValue := ourBalance + theirBalance + 2*fees
	anchorTx.AddTxOut(wire.NewTxOut(int64(anchorValue), pkScript))
	anchorTx.AddTxOut(ourChange)
	if initiatorChange != nil {
		anchorTx.AddTxOut(initiatorChange)
	}

	// Half-sign: only our own inputs (the first len(ourCoins) of them)
	// are ours to sign here; the initiator completes the rest in A2.
	halfSigned, _, err := m.Adapter.SignRawTransaction(anchorTx)
	if err != nil {
		return openResult{}, NewFatalError(peer, CategoryChainAdapterFailure, err)
	}

	r := &channeldb.Record{
		Peer:         peer,
		AnchorPoint:  channeldb.AnchorPoint{Vout: 0}, // txid filled in at B2
		AnchorRedeem: redeem,
		MyIndex:      0,
		MyPubkey:     m.Pubkey().SerializeCompressed(),
		TheirPubkey:  initiatorPubkey.SerializeCompressed(),
		OurBalance:   ourBalance,
		TheirBalance: theirBalance,
		OurAddr:      ourAddr.EncodeAddress(),
		TheirAddr:    initiatorAddr.EncodeAddress(),
		State:        channeldb.StateOpenWait1_5,
	}
	if err := m.Store.Create(r); err != nil {
		return openResult{}, NewFatalError(peer, CategoryChainAdapterFailure, err)
	}

	return openResult{anchorTx: halfSigned, redeem: redeem, ourAddr: ourAddr, ourPubkey: m.Pubkey()}, nil
}

// HandleUpdateAnchor is the inbound update_anchor RPC: step B2.
func (m *Machine) HandleUpdateAnchor(peer lnpeer.Identity, anchorTxid chainhash.Hash,
	theirSig []byte, theirPubkey *btcec.PublicKey) ([]byte, error) {

	val, err := m.submit(peer, func() (interface{}, error) {
		return m.doHandleUpdateAnchor(peer, anchorTxid, theirSig, theirPubkey)
	})
	if err != nil {
		return nil, err
	}
	return val.([]byte), nil
}

func (m *Machine) doHandleUpdateAnchor(peer lnpeer.Identity, anchorTxid chainhash.Hash,
	theirSig []byte, theirPubkey *btcec.PublicKey) ([]byte, error) {

	r, err := m.Store.Get(peer)
	if err != nil {
		return nil, err
	}
	if r.State != channeldb.StateOpenWait1_5 {
		return nil, NewFatalError(peer, CategoryProtocolStateViolation,
			fmt.Errorf("update_anchor received in state %s", r.State))
	}
	if string(theirPubkey.SerializeCompressed()) != string(r.TheirPubkey) {
		return nil, NewFatalError(peer, CategoryProtocolStateViolation,
			fmt.Errorf("update_anchor pubkey does not match open_channel pubkey"))
	}

	r.AnchorPoint.Txid = anchorTxid
	ourTx, err := m.ourCommitmentTx(r)
	if err != nil {
		return nil, NewFatalError(peer, CategoryChainAdapterFailure, err)
	}
	if err := signing.VerifyAnchorSpendSig(m.Adapter, r.AnchorRedeem, ourTx, theirPubkey, theirSig); err != nil {
		return nil, NewFatalError(peer, CategoryInvalidSignature, err)
	}

	mirrorSig, err := m.signMirror(r)
	if err != nil {
		return nil, NewFatalError(peer, CategoryChainAdapterFailure, err)
	}

	err = m.Store.Update(peer, func(rec *channeldb.Record) error {
		rec.AnchorPoint.Txid = anchorTxid
		rec.TheirSig = theirSig
		rec.State = channeldb.StateNormal
		return nil
	})
	if err != nil {
		return nil, NewFatalError(peer, CategoryChainAdapterFailure, err)
	}

	if m.Router != nil {
		m.Router.OnChannelOpened(peer)
	}
	m.logf("channel to %s opened (responder): our=%d their=%d", peer, r.OurBalance, r.TheirBalance)
	return mirrorSig, nil
}


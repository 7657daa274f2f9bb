// Package chainadapter declares the external chain-node collaborator this
// node depends on (§6 of the design): UTXO selection, change/new address
// issuance, signing of inputs the node owns, broadcast, and the two raw
// cryptographic primitives (sighash, script verification) the signing core
// needs. The core never talks to a chain node directly; every chain
// operation goes through this interface, mirroring how lnwallet.WalletController
// and lnwallet.BlockChainIO decouple the wallet/channel logic in the teacher
// from the concrete backend.
package chainadapter

import (
	"github.com/btcsuite/btcd/btcec"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/btcutil"
)

// UTXO describes a single spendable output as reported by list_unspent.
type UTXO struct {
	OutPoint wire.OutPoint
	Value    btcutil.Amount
	PkScript []byte
}

// ChainAdapter is the set of operations the channel state machine and
// signing core need from the underlying chain node. It is implemented by an
// out-of-tree adapter talking to the real node in production; Regtest below
// is an in-memory stand-in used by tests.
type ChainAdapter interface {
	// ListUnspent returns the node's spendable outputs.
	ListUnspent() ([]*UTXO, error)

	// GetRawChangeAddress issues a fresh internal change address.
	GetRawChangeAddress() (btcutil.Address, error)

	// GetNewAddress issues a fresh external payout address.
	GetNewAddress() (btcutil.Address, error)

	// SignRawTransaction signs every input the node owns in tx, returning
	// the (partially or fully) signed transaction and whether every input
	// now carries a valid signature.
	SignRawTransaction(tx *wire.MsgTx) (signed *wire.MsgTx, complete bool, err error)

	// SendRawTransaction broadcasts tx to the network.
	SendRawTransaction(tx *wire.MsgTx) (*chainhash.Hash, error)

	// SignatureHash computes the signature hash for input index idx of tx
	// spent under redeemScript, using the all-inputs all-outputs
	// (SigHashAll) convention.
	SignatureHash(redeemScript []byte, tx *wire.MsgTx, idx int) ([]byte, error)

	// VerifyScript runs the chain's standard script-verification rules
	// against the assembled input script. A non-nil error names the
	// verification failure.
	VerifyScript(sigScript, pkScript []byte, tx *wire.MsgTx, idx int, amount btcutil.Amount) error

	// Sign produces a raw (not DER-tagged with a sighash byte) ECDSA
	// signature of hash under seckey.
	Sign(seckey *btcec.PrivateKey, hash []byte) (*btcec.Signature, error)
}

// ErrInsufficientFunds is returned by ListUnspent-based coin selection when
// the adapter cannot cover the requested amount.
type ErrInsufficientFunds struct {
	Needed    btcutil.Amount
	Available btcutil.Amount
}

func (e *ErrInsufficientFunds) Error() string {
	return "not enough money"
}

// SelectCoins walks the adapter's spendable outputs (in the order returned
// by ListUnspent) accumulating inputs until amount is covered, mirroring
// select_coins in the original's channel.py. It returns the selected inputs
// and a change output big enough to return any excess to a freshly issued
// change address.
func SelectCoins(adapter ChainAdapter, amount btcutil.Amount) ([]*wire.TxIn, *wire.TxOut, error) {
	utxos, err := adapter.ListUnspent()
	if err != nil {
		return nil, nil, err
	}

	var (
		ins       []*wire.TxIn
		collected btcutil.Amount
	)
	for _, u := range utxos {
		ins = append(ins, wire.NewTxIn(&u.OutPoint, nil, nil))
		collected += u.Value
		if collected >= amount {
			break
		}
	}
	if collected < amount {
		return nil, nil, &ErrInsufficientFunds{Needed: amount, Available: collected}
	}

	changeAddr, err := adapter.GetRawChangeAddress()
	if err != nil {
		return nil, nil, err
	}
	changeScript, err := txscript.PayToAddrScript(changeAddr)
	if err != nil {
		return nil, nil, err
	}

	change := wire.NewTxOut(int64(collected-amount), changeScript)
	return ins, change, nil
}

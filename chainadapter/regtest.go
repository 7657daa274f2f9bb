package chainadapter

import (
	"fmt"
	"sync"

	"github.com/btcsuite/btcd/btcec"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/btcutil"
)

// Regtest is an in-memory ChainAdapter used by tests and the local demo
// network. It plays the part of a P2PKH wallet that mints a fresh key for
// every UTXO created by Fund and on every GetNewAddress/GetRawChangeAddress
// call. It does not actually relay transactions
// anywhere; SendRawTransaction records the transaction so a test can inspect
// it later.
type Regtest struct {
	mu sync.Mutex

	netParams *chaincfg.Params
	utxos     []*UTXO
	keys      map[string]*btcec.PrivateKey // hash160(pubkey) -> key
	Sent      []*wire.MsgTx
}

// NewRegtest creates an empty Regtest adapter.
func NewRegtest(netParams *chaincfg.Params) *Regtest {
	return &Regtest{
		netParams: netParams,
		keys:      make(map[string]*btcec.PrivateKey),
	}
}

// Fund adds a spendable output of the given value, controlled by a freshly
// generated key, and returns the outpoint it was credited to.
func (r *Regtest) Fund(value btcutil.Amount) (wire.OutPoint, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	priv, err := btcec.NewPrivateKey(btcec.S256())
	if err != nil {
		return wire.OutPoint{}, err
	}
	hash160 := btcutil.Hash160(priv.PubKey().SerializeCompressed())
	r.keys[string(hash160)] = priv

	addr, err := btcutil.NewAddressPubKeyHash(hash160, r.netParams)
	if err != nil {
		return wire.OutPoint{}, err
	}
	pkScript, err := txscript.PayToAddrScript(addr)
	if err != nil {
		return wire.OutPoint{}, err
	}

	var txid chainhash.Hash
	for i := range txid {
		txid[i] = byte(len(r.utxos) + i)
	}
	op := wire.OutPoint{Hash: txid, Index: uint32(len(r.utxos))}
	r.utxos = append(r.utxos, &UTXO{OutPoint: op, Value: value, PkScript: pkScript})
	return op, nil
}

// Balance sums the value of every UTXO this adapter still owns.
func (r *Regtest) Balance() btcutil.Amount {
	r.mu.Lock()
	defer r.mu.Unlock()

	var total btcutil.Amount
	for _, u := range r.utxos {
		total += u.Value
	}
	return total
}

func (r *Regtest) ListUnspent() ([]*UTXO, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]*UTXO, len(r.utxos))
	copy(out, r.utxos)
	return out, nil
}

func (r *Regtest) newKeyedAddress() (*btcec.PrivateKey, btcutil.Address, error) {
	priv, err := btcec.NewPrivateKey(btcec.S256())
	if err != nil {
		return nil, nil, err
	}
	hash160 := btcutil.Hash160(priv.PubKey().SerializeCompressed())
	addr, err := btcutil.NewAddressPubKeyHash(hash160, r.netParams)
	if err != nil {
		return nil, nil, err
	}

	r.mu.Lock()
	r.keys[string(hash160)] = priv
	r.mu.Unlock()

	return priv, addr, nil
}

func (r *Regtest) GetRawChangeAddress() (btcutil.Address, error) {
	_, addr, err := r.newKeyedAddress()
	return addr, err
}

func (r *Regtest) GetNewAddress() (btcutil.Address, error) {
	_, addr, err := r.newKeyedAddress()
	return addr, err
}

// findInput looks up which of our owned UTXOs a given outpoint refers to.
func (r *Regtest) findInput(op wire.OutPoint) *UTXO {
	for _, u := range r.utxos {
		if u.OutPoint == op {
			return u
		}
	}
	return nil
}

func (r *Regtest) SignRawTransaction(tx *wire.MsgTx) (*wire.MsgTx, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	signed := tx.Copy()
	complete := true
	for i, in := range signed.TxIn {
		utxo := r.findInput(in.PreviousOutPoint)
		if utxo == nil {
			// Not ours to sign; if it's still empty, the
			// transaction remains incomplete.
			if len(in.SignatureScript) == 0 {
				complete = false
			}
			continue
		}

		_, addrs, _, err := txscript.ExtractPkScriptAddrs(utxo.PkScript, r.netParams)
		if err != nil || len(addrs) != 1 {
			return nil, false, fmt.Errorf("cannot determine owner of input %d", i)
		}
		priv, ok := r.keys[string(addrs[0].ScriptAddress())]
		if !ok {
			return nil, false, fmt.Errorf("missing key for input %d", i)
		}

		sigScript, err := txscript.SignatureScript(
			signed, i, utxo.PkScript, txscript.SigHashAll, priv, true,
		)
		if err != nil {
			return nil, false, err
		}
		signed.TxIn[i].SignatureScript = sigScript
	}

	return signed, complete, nil
}

func (r *Regtest) SendRawTransaction(tx *wire.MsgTx) (*chainhash.Hash, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	// Remove every input this adapter owned (it's now spent) and credit
	// any outputs paid back to addresses we control.
	for _, in := range tx.TxIn {
		for i, u := range r.utxos {
			if u.OutPoint == in.PreviousOutPoint {
				r.utxos = append(r.utxos[:i], r.utxos[i+1:]...)
				break
			}
		}
	}
	txid := tx.TxHash()
	for i, out := range tx.TxOut {
		_, addrs, _, err := txscript.ExtractPkScriptAddrs(out.PkScript, r.netParams)
		if err != nil || len(addrs) != 1 {
			continue
		}
		if _, ok := r.keys[string(addrs[0].ScriptAddress())]; ok {
			r.utxos = append(r.utxos, &UTXO{
				OutPoint: wire.OutPoint{Hash: txid, Index: uint32(i)},
				Value:    btcutil.Amount(out.Value),
				PkScript: out.PkScript,
			})
		}
	}

	r.Sent = append(r.Sent, tx)
	h := txid
	return &h, nil
}

func (r *Regtest) SignatureHash(redeemScript []byte, tx *wire.MsgTx, idx int) ([]byte, error) {
	return txscript.CalcSignatureHash(redeemScript, txscript.SigHashAll, tx, idx)
}

func (r *Regtest) VerifyScript(sigScript, pkScript []byte, tx *wire.MsgTx, idx int, amount btcutil.Amount) error {
	engine, err := txscript.NewEngine(
		pkScript, tx, idx, txscript.StandardVerifyFlags, nil, nil, int64(amount),
	)
	if err != nil {
		return err
	}
	// The script engine reads the scriptSig from tx.TxIn[idx]; the caller
	// is expected to have already set it to sigScript before invoking
	// VerifyScript, matching the contract used by the signing core's
	// local post-assembly check.
	_ = sigScript
	return engine.Execute()
}

func (r *Regtest) Sign(seckey *btcec.PrivateKey, hash []byte) (*btcec.Signature, error) {
	return seckey.Sign(hash)
}

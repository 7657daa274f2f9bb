// Package signing implements the signing core (§4.1): redeem-script
// construction, commitment/mirror/settlement transaction assembly, the
// sighash/sign/verify primitives delegated to the chain adapter, and the
// two-of-two anchor input script assembly convention. It is grounded on
// lnwallet/wallet.go's funding-signature handling in the teacher, simplified
// to the spec's non-segwit, non-HTLC, single-signature-per-commitment model.
package signing

import (
	"fmt"

	"github.com/btcsuite/btcd/btcec"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/btcutil"

	"github.com/hashplex/lightningd/chainadapter"
)

// BuildRedeemScript returns the raw two-of-two multisig redeem script
// `2 <pubkeyAtIndex0> <pubkeyAtIndex1> 2 CHECKMULTISIG`. The caller is
// responsible for ordering the two keys consistently with my_index on both
// sides of the channel.
func BuildRedeemScript(pubkeyIndex0, pubkeyIndex1 *btcec.PublicKey) ([]byte, error) {
	builder := txscript.NewScriptBuilder()
	builder.AddOp(txscript.OP_2)
	builder.AddData(pubkeyIndex0.SerializeCompressed())
	builder.AddData(pubkeyIndex1.SerializeCompressed())
	builder.AddOp(txscript.OP_2)
	builder.AddOp(txscript.OP_CHECKMULTISIG)
	return builder.Script()
}

// P2SHScriptPubKey returns the pay-to-script-hash scriptPubKey for a given
// redeem script, i.e. the anchor output's locking script.
func P2SHScriptPubKey(redeem []byte) ([]byte, error) {
	scriptHash := btcutil.Hash160(redeem)
	builder := txscript.NewScriptBuilder()
	builder.AddOp(txscript.OP_HASH160)
	builder.AddData(scriptHash)
	builder.AddOp(txscript.OP_EQUAL)
	return builder.Script()
}

// P2SHAddress returns the anchor output's address-form, for display and for
// feeding into AddressScriptHash-based helpers.
func P2SHAddress(redeem []byte, netParams *chaincfg.Params) (*btcutil.AddressScriptHash, error) {
	return btcutil.NewAddressScriptHash(redeem, netParams)
}

// anchorTxIn returns the single input spending the anchor point; the
// signature script is left empty until AssembleAnchorScriptSig runs.
func anchorTxIn(anchorPoint wire.OutPoint) *wire.TxIn {
	return wire.NewTxIn(&anchorPoint, nil, nil)
}

// payoutTxOut builds a single payout output.
func payoutTxOut(addr btcutil.Address, amount btcutil.Amount) (*wire.TxOut, error) {
	pkScript, err := txscript.PayToAddrScript(addr)
	if err != nil {
		return nil, err
	}
	return wire.NewTxOut(int64(amount), pkScript), nil
}

// BuildCommitmentTx constructs a commitment (or mirror) transaction spending
// the anchor point, paying firstAddr/firstAmount in output 0 and
// secondAddr/secondAmount in output 1. Callers pass (our, their) for our own
// commitment and (their, our) for the mirror, per §4.1's output-ordering
// rule: "our payout first, their payout second; the mirror swaps them." Both
// outputs are always constructed, even at zero value: per §4.2's close-flow,
// cmd_close on an empty balance is permitted and the empty-value output is
// still paid to the owning address rather than omitted, so the fixed
// index0/index1 ordering both peers rely on never shifts with balance.
func BuildCommitmentTx(anchorPoint wire.OutPoint,
	firstAddr btcutil.Address, firstAmount btcutil.Amount,
	secondAddr btcutil.Address, secondAmount btcutil.Amount) (*wire.MsgTx, error) {

	tx := wire.NewMsgTx(wire.TxVersion)
	tx.AddTxIn(anchorTxIn(anchorPoint))

	firstOut, err := payoutTxOut(firstAddr, firstAmount)
	if err != nil {
		return nil, err
	}
	tx.AddTxOut(firstOut)

	secondOut, err := payoutTxOut(secondAddr, secondAmount)
	if err != nil {
		return nil, err
	}
	tx.AddTxOut(secondOut)

	return tx, nil
}

// BuildSettlementTx constructs the cooperative-close transaction. Per §4.1,
// both parties place the output paying the party at redeem-script index 0
// first and the output paying the party at index 1 second, so both sides
// independently build identical bytes.
func BuildSettlementTx(anchorPoint wire.OutPoint,
	index0Addr btcutil.Address, index0Amount btcutil.Amount,
	index1Addr btcutil.Address, index1Amount btcutil.Amount) (*wire.MsgTx, error) {

	return BuildCommitmentTx(anchorPoint, index0Addr, index0Amount, index1Addr, index1Amount)
}

// SighashForAnchorSpend computes the signature hash a commitment (or
// settlement) transaction must be signed over, delegating to the chain
// adapter's primitive per §4.1.
func SighashForAnchorSpend(adapter chainadapter.ChainAdapter, redeem []byte, tx *wire.MsgTx) ([]byte, error) {
	return adapter.SignatureHash(redeem, tx, 0)
}

// SignAnchorSpend signs tx's sighash with seckey and appends the SigHashAll
// tag byte, per §4.1's "Sign-our-commitment"/"Sign-their-commitment"
// contract: sign(seckey, sighash(R, T)) || 0x01.
func SignAnchorSpend(adapter chainadapter.ChainAdapter, redeem []byte, tx *wire.MsgTx, seckey *btcec.PrivateKey) ([]byte, error) {
	hash, err := SighashForAnchorSpend(adapter, redeem, tx)
	if err != nil {
		return nil, err
	}
	sig, err := adapter.Sign(seckey, hash)
	if err != nil {
		return nil, err
	}
	return append(sig.Serialize(), byte(txscript.SigHashAll)), nil
}

// VerifyAnchorSpendSig checks that sig is a valid signature by pubkey over
// tx's sighash under redeem, per invariant 2 of §8.
func VerifyAnchorSpendSig(adapter chainadapter.ChainAdapter, redeem []byte, tx *wire.MsgTx, pubkey *btcec.PublicKey, sig []byte) error {
	if len(sig) == 0 {
		return fmt.Errorf("invalid signature: empty")
	}
	hash, err := SighashForAnchorSpend(adapter, redeem, tx)
	if err != nil {
		return err
	}

	parsed, err := btcec.ParseSignature(stripHashType(sig), btcec.S256())
	if err != nil {
		return fmt.Errorf("invalid signature: %v", err)
	}
	if !parsed.Verify(hash, pubkey) {
		return fmt.Errorf("invalid signature: does not verify")
	}
	return nil
}

func stripHashType(sig []byte) []byte {
	if len(sig) > 0 && sig[len(sig)-1] < 0x80 {
		// Heuristic: a final byte below 0x80 is taken to be the tag
		// byte (SigHashAll=0x01) that SignAnchorSpend appends. A bare
		// DER signature whose last S byte is below 0x80 would also be
		// cut short here.
		return sig[:len(sig)-1]
	}
	return sig
}

// AssembleAnchorScriptSig builds the final input script spending the
// anchor, per §4.1: `[0, sig_at_index0, sig_at_index1, redeem]`. sigIndex0
// and sigIndex1 are the signatures belonging to the party at that redeem
// script slot, already including their SigHashAll tag byte.
func AssembleAnchorScriptSig(sigIndex0, sigIndex1, redeem []byte) ([]byte, error) {
	builder := txscript.NewScriptBuilder()
	builder.AddOp(txscript.OP_0)
	builder.AddData(sigIndex0)
	builder.AddData(sigIndex1)
	builder.AddData(redeem)
	return builder.Script()
}

// FinishAndVerify assembles the anchor input script from the two
// signatures (placed according to myIndex), sets it on tx's sole input, and
// runs the chain adapter's local script-verification as a bug-catching
// invariant before the transaction is considered usable, per §4.1.
func FinishAndVerify(adapter chainadapter.ChainAdapter, tx *wire.MsgTx, myIndex int,
	mySig, theirSig, redeem []byte, anchorValue btcutil.Amount) error {

	var sigIndex0, sigIndex1 []byte
	if myIndex == 0 {
		sigIndex0, sigIndex1 = mySig, theirSig
	} else {
		sigIndex0, sigIndex1 = theirSig, mySig
	}

	scriptSig, err := AssembleAnchorScriptSig(sigIndex0, sigIndex1, redeem)
	if err != nil {
		return err
	}
	tx.TxIn[0].SignatureScript = scriptSig

	pkScript, err := P2SHScriptPubKey(redeem)
	if err != nil {
		return err
	}
	if err := adapter.VerifyScript(scriptSig, pkScript, tx, 0, anchorValue); err != nil {
		return fmt.Errorf("assembled anchor script failed to verify: %v", err)
	}
	return nil
}

// Package peerrpc implements the peer wire protocol of §6: JSON-RPC 2.0
// over HTTP POST to <peer_base>/channel/ and <peer_base>/lightning/. It
// wires channel.PeerClient/PeerDialer and routing.PeerClient/PeerDialer to
// real HTTP, and dispatches inbound calls into a channel.Machine and a
// routing.Router the same way channel/machine_test.go's directClient
// stands in for this package in-process.
package peerrpc

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/btcsuite/btcd/btcec"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/btcutil"

	"github.com/hashplex/lightningd/jsonrpc"
)

// txInDTO is the wire form of a wire.TxIn contributed to an anchor
// transaction before it has been signed: only the outpoint and sequence
// matter, since script/witness are empty at this point in the protocol.
type txInDTO struct {
	Txid     string `json:"txid"`
	Vout     uint32 `json:"vout"`
	Sequence uint32 `json:"sequence"`
}

func encodeTxIn(in *wire.TxIn) txInDTO {
	return txInDTO{
		Txid:     in.PreviousOutPoint.Hash.String(),
		Vout:     in.PreviousOutPoint.Index,
		Sequence: in.Sequence,
	}
}

func decodeTxIn(dto txInDTO) (*wire.TxIn, error) {
	hash, err := chainhash.NewHashFromStr(dto.Txid)
	if err != nil {
		return nil, err
	}
	in := wire.NewTxIn(wire.NewOutPoint(hash, dto.Vout), nil)
	in.Sequence = dto.Sequence
	return in, nil
}

// txOutDTO is the wire form of a wire.TxOut: the script travels tagged
// since it is binary.
type txOutDTO struct {
	Value    int64          `json:"value"`
	PkScript jsonrpc.Tagged `json:"pk_script"`
}

func encodeTxOut(out *wire.TxOut) txOutDTO {
	return txOutDTO{Value: out.Value, PkScript: jsonrpc.Tag(jsonrpc.ClassScript, out.PkScript)}
}

func decodeTxOut(dto txOutDTO) (*wire.TxOut, error) {
	pkScript, err := jsonrpc.Untag(jsonrpc.ClassScript, dto.PkScript)
	if err != nil {
		return nil, err
	}
	return wire.NewTxOut(dto.Value, pkScript), nil
}

// EncodeTx serializes tx via the chain library's own canonical wire format
// and tags the result, per §6's "base64 payload produced by the chain
// library's canonical serialization."
func EncodeTx(tx *wire.MsgTx) (jsonrpc.Tagged, error) {
	var buf bytes.Buffer
	if err := tx.Serialize(&buf); err != nil {
		return jsonrpc.Tagged{}, err
	}
	return jsonrpc.Tag(jsonrpc.ClassTransaction, buf.Bytes()), nil
}

func DecodeTx(t jsonrpc.Tagged) (*wire.MsgTx, error) {
	raw, err := jsonrpc.Untag(jsonrpc.ClassTransaction, t)
	if err != nil {
		return nil, err
	}
	tx := wire.NewMsgTx(wire.TxVersion)
	if err := tx.Deserialize(bytes.NewReader(raw)); err != nil {
		return nil, err
	}
	return tx, nil
}

func encodeSig(sig []byte) jsonrpc.Tagged {
	return jsonrpc.Tag(jsonrpc.ClassSignature, sig)
}

func decodeSig(t jsonrpc.Tagged) ([]byte, error) {
	return jsonrpc.Untag(jsonrpc.ClassSignature, t)
}

func encodeScript(script []byte) jsonrpc.Tagged {
	return jsonrpc.Tag(jsonrpc.ClassScript, script)
}

func decodeScript(t jsonrpc.Tagged) ([]byte, error) {
	return jsonrpc.Untag(jsonrpc.ClassScript, t)
}

func encodePubkey(pub *btcec.PublicKey) jsonrpc.Tagged {
	return jsonrpc.Tag(jsonrpc.ClassPubkey, pub.SerializeCompressed())
}

func decodePubkey(t jsonrpc.Tagged) (*btcec.PublicKey, error) {
	raw, err := jsonrpc.Untag(jsonrpc.ClassPubkey, t)
	if err != nil {
		return nil, err
	}
	return btcec.ParsePubKey(raw, btcec.S256())
}

func encodeAddr(addr btcutil.Address) string {
	return addr.EncodeAddress()
}

func decodeAddr(netParams *chaincfg.Params, s string) (btcutil.Address, error) {
	return btcutil.DecodeAddress(s, netParams)
}

func unmarshalParams(raw json.RawMessage, out interface{}) error {
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("peerrpc: bad params: %w", err)
	}
	return nil
}

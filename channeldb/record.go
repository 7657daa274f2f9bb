// Package channeldb persists the per-peer ChannelRecord (§3) in a bbolt
// database, following the bucket layout convention of
// channeldb/channel.go in the teacher (one top-level bucket for live
// channels, keyed by counterparty identity).
package channeldb

import (
	"fmt"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcutil"

	"github.com/hashplex/lightningd/lnpeer"
)

// State names one of the nine points in the channel state machine's state
// space (§4.2).
type State string

const (
	StateBegin       State = "begin"
	StateOpenWait1   State = "open_wait_1"
	StateOpenWait1_5 State = "open_wait_1_5"
	StateOpenWait2   State = "open_wait_2"
	StateNormal      State = "normal"
	StateSendWait1   State = "send_wait_1"
	StateSendWait1_5 State = "send_wait_1_5"
	StateCloseWait1  State = "close_wait_1"
	StateEnd         State = "end"
)

// AnchorPoint identifies the on-chain output funding a channel's anchor.
type AnchorPoint struct {
	Txid chainhash.Hash
	Vout uint32
}

func (p AnchorPoint) String() string {
	return fmt.Sprintf("%s:%d", p.Txid, p.Vout)
}

// Record is the persistent per-peer state described in §3. Every field is
// exported so the bbolt-backed Store can serialize it directly; callers
// should only mutate a Record they hold via Store.Update.
type Record struct {
	Peer lnpeer.Identity

	AnchorPoint  AnchorPoint
	AnchorRedeem []byte

	// MyIndex is 0 or 1: which slot in AnchorRedeem's pubkey ordering (and
	// therefore the assembled anchor script) belongs to us.
	MyIndex uint8

	MyPubkey    []byte // compressed secp256k1 pubkey
	TheirPubkey []byte

	OurBalance   btcutil.Amount
	TheirBalance btcutil.Amount

	// TheirSig is their most recent signature over OUR current
	// commitment transaction's sighash; empty until the first exchange
	// completes.
	TheirSig []byte

	OurAddr   string
	TheirAddr string

	State State

	// PendingCmd identifies a local caller awaiting completion of the
	// in-flight operation, if any.
	PendingCmd string
}

// TheirIndex returns the redeem-script slot that is NOT ours.
func (r *Record) TheirIndex() uint8 {
	if r.MyIndex == 0 {
		return 1
	}
	return 0
}

// Clone returns a deep-enough copy for safe mutation during a transient
// (not-yet-persisted) computation, e.g. the S2 step of the update protocol
// which must compute and then roll back a balance change.
func (r *Record) Clone() *Record {
	cp := *r
	cp.AnchorRedeem = append([]byte(nil), r.AnchorRedeem...)
	cp.MyPubkey = append([]byte(nil), r.MyPubkey...)
	cp.TheirPubkey = append([]byte(nil), r.TheirPubkey...)
	cp.TheirSig = append([]byte(nil), r.TheirSig...)
	return &cp
}

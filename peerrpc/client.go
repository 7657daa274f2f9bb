package peerrpc

import (
	"time"

	"github.com/btcsuite/btcd/btcec"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/btcutil"

	"github.com/hashplex/lightningd/channel"
	"github.com/hashplex/lightningd/jsonrpc"
	"github.com/hashplex/lightningd/lnpeer"
	"github.com/hashplex/lightningd/routing"
)

// CallTimeout bounds a single peer-wire round-trip; per §7 a timeout here
// is a transport failure, fatal for the calling channel.
const CallTimeout = 30 * time.Second

// Client is the HTTP implementation of both channel.PeerClient and
// routing.PeerClient against one peer's base URL.
type Client struct {
	NetParams *chaincfg.Params
	channel   *jsonrpc.Client
	lightning *jsonrpc.Client
}

// NewClient dials peer's base URL, which per lnpeer.Identity's contract is
// itself the peer's base RPC URL.
func NewClient(peer lnpeer.Identity, netParams *chaincfg.Params) *Client {
	base := peer.String()
	return &Client{
		NetParams: netParams,
		channel:   jsonrpc.NewClient(base+"/channel/", CallTimeout),
		lightning: jsonrpc.NewClient(base+"/lightning/", CallTimeout),
	}
}

type openChannelParams struct {
	SelfAddr         string         `json:"self_addr"`
	ResponderBalance int64          `json:"responder_balance"`
	InitiatorBalance int64          `json:"initiator_balance"`
	Fees             int64          `json:"fees"`
	InitiatorCoins   []txInDTO      `json:"initiator_coins"`
	InitiatorChange  *txOutDTO      `json:"initiator_change"`
	InitiatorPubkey  jsonrpc.Tagged `json:"initiator_pubkey"`
	InitiatorAddr    string         `json:"initiator_addr"`
}

type openChannelResult struct {
	AnchorTx        jsonrpc.Tagged `json:"anchor_tx"`
	RedeemScript    jsonrpc.Tagged `json:"redeem_script"`
	ResponderAddr   string         `json:"responder_addr"`
	ResponderPubkey jsonrpc.Tagged `json:"responder_pubkey"`
}

// OpenChannel implements channel.PeerClient.
func (c *Client) OpenChannel(selfAddr lnpeer.Identity, responderBalance, initiatorBalance, fees btcutil.Amount,
	initiatorCoins []*wire.TxIn, initiatorChange *wire.TxOut,
	initiatorPubkey *btcec.PublicKey, initiatorAddr btcutil.Address) (
	anchorTx *wire.MsgTx, redeem []byte, responderAddr btcutil.Address, responderPubkey *btcec.PublicKey, err error) {

	coins := make([]txInDTO, len(initiatorCoins))
	for i, in := range initiatorCoins {
		coins[i] = encodeTxIn(in)
	}
	var change *txOutDTO
	if initiatorChange != nil {
		encoded := encodeTxOut(initiatorChange)
		change = &encoded
	}

	params := openChannelParams{
		SelfAddr:         selfAddr.String(),
		ResponderBalance: int64(responderBalance),
		InitiatorBalance: int64(initiatorBalance),
		Fees:             int64(fees),
		InitiatorCoins:   coins,
		InitiatorChange:  change,
		InitiatorPubkey:  encodePubkey(initiatorPubkey),
		InitiatorAddr:    initiatorAddr.EncodeAddress(),
	}

	var result openChannelResult
	if err := c.channel.Call("channel.open_channel", params, &result); err != nil {
		return nil, nil, nil, nil, err
	}

	anchorTx, err = DecodeTx(result.AnchorTx)
	if err != nil {
		return nil, nil, nil, nil, err
	}
	redeem, err = decodeScript(result.RedeemScript)
	if err != nil {
		return nil, nil, nil, nil, err
	}
	responderAddr, err = decodeAddr(c.NetParams, result.ResponderAddr)
	if err != nil {
		return nil, nil, nil, nil, err
	}
	responderPubkey, err = decodePubkey(result.ResponderPubkey)
	if err != nil {
		return nil, nil, nil, nil, err
	}
	return anchorTx, redeem, responderAddr, responderPubkey, nil
}

type updateAnchorParams struct {
	SelfAddr    string         `json:"self_addr"`
	AnchorTxid  string         `json:"anchor_txid"`
	TheirSig    jsonrpc.Tagged `json:"their_sig"`
	TheirPubkey jsonrpc.Tagged `json:"their_pubkey"`
}

type updateAnchorResult struct {
	OurSig jsonrpc.Tagged `json:"our_sig"`
}

// UpdateAnchor implements channel.PeerClient.
func (c *Client) UpdateAnchor(selfAddr lnpeer.Identity, anchorTxid chainhash.Hash,
	theirSigForOurCommitment []byte, theirPubkey *btcec.PublicKey) ([]byte, error) {

	params := updateAnchorParams{
		SelfAddr:    selfAddr.String(),
		AnchorTxid:  anchorTxid.String(),
		TheirSig:    encodeSig(theirSigForOurCommitment),
		TheirPubkey: encodePubkey(theirPubkey),
	}
	var result updateAnchorResult
	if err := c.channel.Call("channel.update_anchor", params, &result); err != nil {
		return nil, err
	}
	return decodeSig(result.OurSig)
}

type proposeUpdateParams struct {
	SelfAddr string `json:"self_addr"`
	Amount   int64  `json:"amount"`
}

type proposeUpdateResult struct {
	OurSig jsonrpc.Tagged `json:"our_sig"`
}

// ProposeUpdate implements channel.PeerClient.
func (c *Client) ProposeUpdate(selfAddr lnpeer.Identity, amount btcutil.Amount) ([]byte, error) {
	params := proposeUpdateParams{SelfAddr: selfAddr.String(), Amount: int64(amount)}
	var result proposeUpdateResult
	if err := c.channel.Call("channel.propose_update", params, &result); err != nil {
		return nil, err
	}
	return decodeSig(result.OurSig)
}

type receiveParams struct {
	SelfAddr string         `json:"self_addr"`
	Amount   int64          `json:"amount"`
	OurSig   jsonrpc.Tagged `json:"our_sig"`
}

// Receive implements channel.PeerClient.
func (c *Client) Receive(selfAddr lnpeer.Identity, amount btcutil.Amount, ourSigForTheirCommitment []byte) error {
	params := receiveParams{
		SelfAddr: selfAddr.String(),
		Amount:   int64(amount),
		OurSig:   encodeSig(ourSigForTheirCommitment),
	}
	return c.channel.Call("channel.receive", params, nil)
}

type closeChannelParams struct {
	SelfAddr string         `json:"self_addr"`
	TheirSig jsonrpc.Tagged `json:"their_sig"`
}

type closeChannelResult struct {
	OurSig jsonrpc.Tagged `json:"our_sig"`
}

// CloseChannel implements channel.PeerClient.
func (c *Client) CloseChannel(selfAddr lnpeer.Identity, theirSigForSettlement []byte) ([]byte, error) {
	params := closeChannelParams{SelfAddr: selfAddr.String(), TheirSig: encodeSig(theirSigForSettlement)}
	var result closeChannelResult
	if err := c.channel.Call("channel.close_channel", params, &result); err != nil {
		return nil, err
	}
	return decodeSig(result.OurSig)
}

type errorParams struct {
	SelfAddr string `json:"self_addr"`
	Message  string `json:"message"`
}

// SendError implements channel.PeerClient. Best-effort: the spec's §5
// cancellation model treats pkt_error delivery as fire-and-forget, so any
// transport failure is discarded here and never reaches the caller.
func (c *Client) SendError(selfAddr lnpeer.Identity, message string) {
	params := errorParams{SelfAddr: selfAddr.String(), Message: message}
	_ = c.channel.Call("channel.error", params, nil)
}

type lightningUpdateParams struct {
	SelfAddr    string `json:"self_addr"`
	Destination string `json:"destination"`
	Cost        int64  `json:"cost"`
}

// Update implements routing.PeerClient (lightning.update).
func (c *Client) Update(selfAddr, destination lnpeer.Identity, cost int64) error {
	params := lightningUpdateParams{
		SelfAddr:    selfAddr.String(),
		Destination: destination.String(),
		Cost:        cost,
	}
	return c.lightning.Call("lightning.update", params, nil)
}

type lightningSendParams struct {
	SelfAddr    string `json:"self_addr"`
	Destination string `json:"destination"`
	Amount      int64  `json:"amount"`
}

// Send implements routing.PeerClient (lightning.send).
func (c *Client) Send(selfAddr, destination lnpeer.Identity, amount btcutil.Amount) error {
	params := lightningSendParams{
		SelfAddr:    selfAddr.String(),
		Destination: destination.String(),
		Amount:      int64(amount),
	}
	return c.lightning.Call("lightning.send", params, nil)
}

// ChannelDialer implements channel.PeerDialer against real HTTP peers.
// Go's interface satisfaction is nominal on the exact return type, so this
// and RoutingDialer are two thin adapters, each returning a new *Client
// from every Dial, rather than a single dialer with two incompatible Dial
// signatures.
type ChannelDialer struct {
	NetParams *chaincfg.Params
}

// Dial implements channel.PeerDialer.
func (d ChannelDialer) Dial(peer lnpeer.Identity) channel.PeerClient {
	return NewClient(peer, d.NetParams)
}

// RoutingDialer implements routing.PeerDialer against real HTTP peers.
type RoutingDialer struct {
	NetParams *chaincfg.Params
}

// Dial implements routing.PeerDialer.
func (d RoutingDialer) Dial(peer lnpeer.Identity) routing.PeerClient {
	return NewClient(peer, d.NetParams)
}

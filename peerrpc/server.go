package peerrpc

import (
	"encoding/json"
	"net/http"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/btcutil"

	"github.com/hashplex/lightningd/chainadapter"
	"github.com/hashplex/lightningd/channel"
	"github.com/hashplex/lightningd/jsonrpc"
	"github.com/hashplex/lightningd/lnpeer"
	"github.com/hashplex/lightningd/routing"
)

// Server dispatches inbound peer-wire calls to one channel.Machine and one
// routing.Router, mirroring the split between `/channel/` and `/lightning/`
// in §6.
type Server struct {
	Machine   *channel.Machine
	Router    *routing.Router
	NetParams *chaincfg.Params

	channelServer   *jsonrpc.Server
	lightningServer *jsonrpc.Server
}

// NewServer builds the two JSON-RPC sub-servers and registers every method
// of §6 against the given machine and router.
func NewServer(machine *channel.Machine, router *routing.Router, netParams *chaincfg.Params, logf func(string, ...interface{})) *Server {
	s := &Server{
		Machine:         machine,
		Router:          router,
		NetParams:       netParams,
		channelServer:   jsonrpc.NewServer(),
		lightningServer: jsonrpc.NewServer(),
	}
	s.channelServer.Log = logf
	s.lightningServer.Log = logf
	s.registerChannelMethods()
	s.registerLightningMethods()
	return s
}

// Mux returns an http.Handler routing /channel/ and /lightning/ to their
// respective sub-servers, ready to be handed to an *http.Server.
func (s *Server) Mux() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/channel/", s.channelServer)
	mux.Handle("/lightning/", s.lightningServer)
	return mux
}

func (s *Server) registerChannelMethods() {
	s.channelServer.Register("channel.open_channel", s.handleOpenChannel)
	s.channelServer.Register("channel.update_anchor", s.handleUpdateAnchor)
	s.channelServer.Register("channel.propose_update", s.handleProposeUpdate)
	s.channelServer.Register("channel.receive", s.handleReceive)
	s.channelServer.Register("channel.close_channel", s.handleCloseChannel)
	s.channelServer.Register("channel.error", s.handleError)
}

func (s *Server) registerLightningMethods() {
	s.lightningServer.Register("lightning.update", s.handleLightningUpdate)
	s.lightningServer.Register("lightning.send", s.handleLightningSend)
}

func (s *Server) handleOpenChannel(raw json.RawMessage) (interface{}, error) {
	var p openChannelParams
	if err := unmarshalParams(raw, &p); err != nil {
		return nil, jsonrpc.NewError("unexpected packet", err)
	}

	initiatorCoins := make([]*wire.TxIn, len(p.InitiatorCoins))
	for i, dto := range p.InitiatorCoins {
		in, err := decodeTxIn(dto)
		if err != nil {
			return nil, jsonrpc.NewError("unexpected packet", err)
		}
		initiatorCoins[i] = in
	}

	var initiatorChange *wire.TxOut
	if p.InitiatorChange != nil {
		out, err := decodeTxOut(*p.InitiatorChange)
		if err != nil {
			return nil, jsonrpc.NewError("unexpected packet", err)
		}
		initiatorChange = out
	}

	initiatorPubkey, err := decodePubkey(p.InitiatorPubkey)
	if err != nil {
		return nil, jsonrpc.NewError("unexpected packet", err)
	}
	initiatorAddr, err := decodeAddr(s.NetParams, p.InitiatorAddr)
	if err != nil {
		return nil, jsonrpc.NewError("unexpected packet", err)
	}

	anchorTx, redeem, responderAddr, responderPubkey, err := s.Machine.HandleOpenChannel(
		lnpeer.Identity(p.SelfAddr),
		btcutil.Amount(p.ResponderBalance), btcutil.Amount(p.InitiatorBalance), btcutil.Amount(p.Fees),
		initiatorCoins, initiatorChange, initiatorPubkey, initiatorAddr)
	if err != nil {
		return nil, translateErr(err)
	}

	encodedTx, err := EncodeTx(anchorTx)
	if err != nil {
		return nil, jsonrpc.NewError("unexpected packet", err)
	}
	return openChannelResult{
		AnchorTx:        encodedTx,
		RedeemScript:    encodeScript(redeem),
		ResponderAddr:   encodeAddr(responderAddr),
		ResponderPubkey: encodePubkey(responderPubkey),
	}, nil
}

func (s *Server) handleUpdateAnchor(raw json.RawMessage) (interface{}, error) {
	var p updateAnchorParams
	if err := unmarshalParams(raw, &p); err != nil {
		return nil, jsonrpc.NewError("unexpected packet", err)
	}
	txid, err := chainhash.NewHashFromStr(p.AnchorTxid)
	if err != nil {
		return nil, jsonrpc.NewError("unexpected packet", err)
	}
	theirSig, err := decodeSig(p.TheirSig)
	if err != nil {
		return nil, jsonrpc.NewError("unexpected packet", err)
	}
	theirPubkey, err := decodePubkey(p.TheirPubkey)
	if err != nil {
		return nil, jsonrpc.NewError("unexpected packet", err)
	}

	ourSig, err := s.Machine.HandleUpdateAnchor(lnpeer.Identity(p.SelfAddr), *txid, theirSig, theirPubkey)
	if err != nil {
		return nil, translateErr(err)
	}
	return updateAnchorResult{OurSig: encodeSig(ourSig)}, nil
}

func (s *Server) handleProposeUpdate(raw json.RawMessage) (interface{}, error) {
	var p proposeUpdateParams
	if err := unmarshalParams(raw, &p); err != nil {
		return nil, jsonrpc.NewError("unexpected packet", err)
	}
	ourSig, err := s.Machine.HandleProposeUpdate(lnpeer.Identity(p.SelfAddr), btcutil.Amount(p.Amount))
	if err != nil {
		return nil, translateErr(err)
	}
	return proposeUpdateResult{OurSig: encodeSig(ourSig)}, nil
}

func (s *Server) handleReceive(raw json.RawMessage) (interface{}, error) {
	var p receiveParams
	if err := unmarshalParams(raw, &p); err != nil {
		return nil, jsonrpc.NewError("unexpected packet", err)
	}
	ourSig, err := decodeSig(p.OurSig)
	if err != nil {
		return nil, jsonrpc.NewError("unexpected packet", err)
	}
	if err := s.Machine.HandleReceive(lnpeer.Identity(p.SelfAddr), btcutil.Amount(p.Amount), ourSig); err != nil {
		return nil, translateErr(err)
	}
	return "ok", nil
}

func (s *Server) handleCloseChannel(raw json.RawMessage) (interface{}, error) {
	var p closeChannelParams
	if err := unmarshalParams(raw, &p); err != nil {
		return nil, jsonrpc.NewError("unexpected packet", err)
	}
	theirSig, err := decodeSig(p.TheirSig)
	if err != nil {
		return nil, jsonrpc.NewError("unexpected packet", err)
	}
	ourSig, err := s.Machine.HandleCloseChannel(lnpeer.Identity(p.SelfAddr), theirSig)
	if err != nil {
		return nil, translateErr(err)
	}
	return closeChannelResult{OurSig: encodeSig(ourSig)}, nil
}

func (s *Server) handleError(raw json.RawMessage) (interface{}, error) {
	var p errorParams
	if err := unmarshalParams(raw, &p); err != nil {
		return nil, jsonrpc.NewError("unexpected packet", err)
	}
	s.Machine.HandleError(lnpeer.Identity(p.SelfAddr), p.Message)
	return "ok", nil
}

func (s *Server) handleLightningUpdate(raw json.RawMessage) (interface{}, error) {
	var p lightningUpdateParams
	if err := unmarshalParams(raw, &p); err != nil {
		return nil, jsonrpc.NewError("unexpected packet", err)
	}
	err := s.Router.HandleUpdate(lnpeer.Identity(p.SelfAddr), lnpeer.Identity(p.Destination), p.Cost)
	if err != nil {
		return nil, jsonrpc.NewError("unexpected packet", err)
	}
	return "ok", nil
}

func (s *Server) handleLightningSend(raw json.RawMessage) (interface{}, error) {
	var p lightningSendParams
	if err := unmarshalParams(raw, &p); err != nil {
		return nil, jsonrpc.NewError("unexpected packet", err)
	}
	err := s.Router.HandleSend(lnpeer.Identity(p.SelfAddr), lnpeer.Identity(p.Destination), btcutil.Amount(p.Amount))
	if err != nil {
		return nil, jsonrpc.NewError("unknown peer", err)
	}
	return "ok", nil
}

// translateErr maps a channel error onto §7's user-visible category
// strings; any other error is reported under a generic category.
func translateErr(err error) error {
	switch e := err.(type) {
	case *channel.FatalError:
		return jsonrpc.NewError(string(e.Category), e.Unwrap())
	case *channel.ErrWorkerDead:
		return jsonrpc.NewError("unexpected packet", e)
	case *chainadapter.ErrInsufficientFunds:
		return jsonrpc.NewError("not enough money", e)
	default:
		return jsonrpc.NewError("error", err)
	}
}

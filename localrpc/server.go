// Package localrpc implements the local control RPC of §6: the same
// JSON-RPC 2.0-over-HTTP transport as peerrpc, mounted at /local/,
// basic-auth guarded and restricted to loopback interfaces. Grounded on
// original_source/serverutil.py's check_auth/requires_auth pair, adapted
// from a Flask before_request hook into an http.Handler wrapper.
package localrpc

import (
	"encoding/json"
	"net/http"

	"github.com/btcsuite/btcutil"

	"github.com/hashplex/lightningd/channel"
	"github.com/hashplex/lightningd/jsonrpc"
	"github.com/hashplex/lightningd/lncfg"
	"github.com/hashplex/lightningd/lnpeer"
	"github.com/hashplex/lightningd/peerrpc"
	"github.com/hashplex/lightningd/routing"
)

// Server dispatches the local control commands of §6 against one
// channel.Machine and one routing.Router.
type Server struct {
	Machine  *channel.Machine
	Router   *routing.Router
	User     string
	Password string

	rpc *jsonrpc.Server
}

// NewServer registers every local command and wraps the handler in basic
// auth. user/password come from config (daemon/config.go), mirroring
// rpcuser/rpcpassword in the reference's Flask app config.
func NewServer(machine *channel.Machine, router *routing.Router, user, password string, logf func(string, ...interface{})) *Server {
	s := &Server{Machine: machine, Router: router, User: user, Password: password, rpc: jsonrpc.NewServer()}
	s.rpc.Log = logf
	s.register()
	return s
}

// Handler returns the basic-auth-guarded, loopback-restricted http.Handler
// to mount at /local/.
func (s *Server) Handler() http.Handler {
	return s.requireAuth(s.rpc)
}

// requireAuth mirrors serverutil.py's requires_auth decorator: a missing or
// wrong basic-auth credential gets a 401 with a WWW-Authenticate challenge,
// and any request whose remote address isn't loopback gets a 403 even with
// valid credentials — the local RPC is never meant to leave the host.
func (s *Server) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, password, ok := r.BasicAuth()
		if !ok || user != s.User || password != s.Password {
			w.Header().Set("WWW-Authenticate", `Basic realm="lightningd"`)
			http.Error(w, "could not verify your access level for that URL", http.StatusUnauthorized)
			return
		}
		if !lncfg.IsLoopback(r.RemoteAddr) {
			http.Error(w, "access outside loopback forbidden", http.StatusForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) register() {
	s.rpc.Register("create", s.handleCreate)
	s.rpc.Register("send", s.handleSend)
	s.rpc.Register("close", s.handleClose)
	s.rpc.Register("get_balance", s.handleGetBalance)
	s.rpc.Register("get_commitment_transactions", s.handleGetCommitmentTransactions)
	s.rpc.Register("alive", s.handleAlive)
}

type createParams struct {
	Peer        string `json:"peer"`
	OurAmount   int64  `json:"our_amount"`
	TheirAmount int64  `json:"their_amount"`
	Fees        int64  `json:"fees"`
}

func (s *Server) handleCreate(raw json.RawMessage) (interface{}, error) {
	var p createParams
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, jsonrpc.NewError("unexpected packet", err)
	}
	peer := lnpeer.Identity(p.Peer)
	err := s.Machine.OpenChannel(peer, btcutil.Amount(p.OurAmount), btcutil.Amount(p.TheirAmount), btcutil.Amount(p.Fees))
	if err != nil {
		return nil, translateErr(err)
	}
	return "ok", nil
}

type sendParams struct {
	Peer   string `json:"peer"`
	Amount int64  `json:"amount"`
}

// handleSend is the user-facing `send` command: it goes through the
// router, not directly through the channel machine, since the
// destination may be multiple hops away (§4.3's send algorithm).
func (s *Server) handleSend(raw json.RawMessage) (interface{}, error) {
	var p sendParams
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, jsonrpc.NewError("unexpected packet", err)
	}
	if err := s.Router.Send(lnpeer.Identity(p.Peer), btcutil.Amount(p.Amount)); err != nil {
		return nil, jsonrpc.NewError("error", err)
	}
	return "ok", nil
}

type closeParams struct {
	Peer string `json:"peer"`
}

func (s *Server) handleClose(raw json.RawMessage) (interface{}, error) {
	var p closeParams
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, jsonrpc.NewError("unexpected packet", err)
	}
	if err := s.Machine.Close(lnpeer.Identity(p.Peer)); err != nil {
		return nil, translateErr(err)
	}
	return "ok", nil
}

type getBalanceParams struct {
	Peer string `json:"peer"`
}

type getBalanceResult struct {
	OurBalance   int64 `json:"our_balance"`
	TheirBalance int64 `json:"their_balance"`
}

func (s *Server) handleGetBalance(raw json.RawMessage) (interface{}, error) {
	var p getBalanceParams
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, jsonrpc.NewError("unexpected packet", err)
	}
	our, their, err := s.Machine.GetBalance(lnpeer.Identity(p.Peer))
	if err != nil {
		return nil, jsonrpc.NewError("unknown peer", err)
	}
	return getBalanceResult{OurBalance: int64(our), TheirBalance: int64(their)}, nil
}

type getCommitmentTransactionsParams struct {
	Peer string `json:"peer"`
}

type getCommitmentTransactionsResult struct {
	Transactions []jsonrpc.Tagged `json:"transactions"`
}

func (s *Server) handleGetCommitmentTransactions(raw json.RawMessage) (interface{}, error) {
	var p getCommitmentTransactionsParams
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, jsonrpc.NewError("unexpected packet", err)
	}
	txs, err := s.Machine.GetCommitmentTransactions(lnpeer.Identity(p.Peer))
	if err != nil {
		return nil, translateErr(err)
	}
	result := getCommitmentTransactionsResult{Transactions: make([]jsonrpc.Tagged, len(txs))}
	for i, tx := range txs {
		encoded, err := peerrpc.EncodeTx(tx)
		if err != nil {
			return nil, jsonrpc.NewError("error", err)
		}
		result.Transactions[i] = encoded
	}
	return result, nil
}

func (s *Server) handleAlive(raw json.RawMessage) (interface{}, error) {
	return "ok", nil
}

func translateErr(err error) error {
	if fatal, ok := err.(*channel.FatalError); ok {
		return jsonrpc.NewError(string(fatal.Category), fatal.Unwrap())
	}
	return jsonrpc.NewError("error", err)
}

// Package localrpc implements the local control RPC of §6.
package localrpc

import (
	"net/http"
	"time"

	"github.com/hashplex/lightningd/jsonrpc"
)

// CallTimeout bounds a single local command round-trip.
const CallTimeout = 30 * time.Second

// Client is the cmd/lightning-cli-facing counterpart to Server: it speaks
// the same basic-auth-guarded JSON-RPC 2.0 transport against one daemon's
// /local/ endpoint. Grounded on original_source/jsonrpcproxy.py's AuthProxy,
// which wraps a plain Proxy with a fixed (user, password) pair added to
// every request.
type Client struct {
	rpc *jsonrpc.Client
}

// NewClient dials the daemon's local RPC endpoint at baseURL+"/local/".
func NewClient(baseURL, user, password string) *Client {
	c := jsonrpc.NewClient(baseURL+"/local/", CallTimeout)
	c.HTTPClient.Transport = &basicAuthTransport{
		user:     user,
		password: password,
		next:     http.DefaultTransport,
	}
	return &Client{rpc: c}
}

// basicAuthTransport adds HTTP basic auth to every outgoing request, the
// same credentials on every call, mirroring AuthProxy's fixed auth pair.
type basicAuthTransport struct {
	user, password string
	next           http.RoundTripper
}

func (t *basicAuthTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req.SetBasicAuth(t.user, t.password)
	return t.next.RoundTrip(req)
}

// Create opens a channel with peer, requesting ourAmount/theirAmount split
// with the given fee reserve (§6's local `create` command).
func (c *Client) Create(peer string, ourAmount, theirAmount, fees int64) error {
	params := createParams{Peer: peer, OurAmount: ourAmount, TheirAmount: theirAmount, Fees: fees}
	return c.rpc.Call("create", params, nil)
}

// Send pays amount to peer via the router, possibly over multiple hops.
func (c *Client) Send(peer string, amount int64) error {
	params := sendParams{Peer: peer, Amount: amount}
	return c.rpc.Call("send", params, nil)
}

// Close cooperatively closes the channel with peer.
func (c *Client) Close(peer string) error {
	params := closeParams{Peer: peer}
	return c.rpc.Call("close", params, nil)
}

// GetBalance returns our and their balance on the channel with peer.
func (c *Client) GetBalance(peer string) (our, their int64, err error) {
	params := getBalanceParams{Peer: peer}
	var result getBalanceResult
	if err := c.rpc.Call("get_balance", params, &result); err != nil {
		return 0, 0, err
	}
	return result.OurBalance, result.TheirBalance, nil
}

// GetCommitmentTransactions returns the base64-tagged commitment
// transactions currently held for the channel with peer.
func (c *Client) GetCommitmentTransactions(peer string) ([]jsonrpc.Tagged, error) {
	params := getCommitmentTransactionsParams{Peer: peer}
	var result getCommitmentTransactionsResult
	if err := c.rpc.Call("get_commitment_transactions", params, &result); err != nil {
		return nil, err
	}
	return result.Transactions, nil
}

// Alive is a liveness check against the daemon.
func (c *Client) Alive() error {
	return c.rpc.Call("alive", nil, nil)
}

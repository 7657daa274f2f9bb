package jsonrpc

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	goerrors "github.com/go-errors/errors"
)

// Client issues JSON-RPC 2.0 calls to a single URL over HTTP POST.
type Client struct {
	URL        string
	HTTPClient *http.Client

	nextID uint64
}

// NewClient returns a Client dialing url, using a clientTimeout suitable
// for a single synchronous peer-wire round-trip. Per §7, a timeout here is
// a transport failure and fatal for the calling channel.
func NewClient(url string, clientTimeout time.Duration) *Client {
	return &Client{
		URL:        url,
		HTTPClient: &http.Client{Timeout: clientTimeout},
	}
}

// Call invokes method with params, decoding the result into out. out may be
// nil if the method's result is not needed.
func (c *Client) Call(method string, params interface{}, out interface{}) error {
	encodedParams, err := json.Marshal(params)
	if err != nil {
		return goerrors.Wrap(err, 1)
	}

	req := Request{
		JSONRPC: Version,
		Method:  method,
		Params:  encodedParams,
		ID:      atomic.AddUint64(&c.nextID, 1),
	}
	body, err := json.Marshal(req)
	if err != nil {
		return goerrors.Wrap(err, 1)
	}

	httpResp, err := c.HTTPClient.Post(c.URL, "application/json", bytes.NewReader(body))
	if err != nil {
		return goerrors.Wrap(err, 1)
	}
	defer httpResp.Body.Close()

	var resp Response
	if err := json.NewDecoder(httpResp.Body).Decode(&resp); err != nil {
		return goerrors.Wrap(err, 1)
	}
	if resp.ID != req.ID {
		return fmt.Errorf("jsonrpc: response id %d does not match request id %d", resp.ID, req.ID)
	}
	if resp.Error != nil {
		return resp.Error
	}
	if out == nil || resp.Result == nil {
		return nil
	}
	return json.Unmarshal(resp.Result, out)
}

package jsonrpc

import (
	"encoding/json"
	"fmt"
	"net/http"
)

// Handler serves one RPC method: it decodes its own params out of raw and
// returns the value to be JSON-encoded as the result.
type Handler func(raw json.RawMessage) (interface{}, error)

// Server dispatches JSON-RPC 2.0 requests to registered Handlers. It
// implements http.Handler directly so callers wire it into an *http.Server
// the same way the reference wires its Flask blueprints (serverutil.py's
// api_factory), just without the web framework.
type Server struct {
	methods map[string]Handler
	Log     func(format string, args ...interface{})
}

// NewServer returns an empty Server ready to have methods registered.
func NewServer() *Server {
	return &Server{methods: make(map[string]Handler)}
}

// Register binds method to handler. Re-registering a method replaces it.
func (s *Server) Register(method string, handler Handler) {
	s.methods[method] = handler
}

func (s *Server) logf(format string, args ...interface{}) {
	if s.Log != nil {
		s.Log(format, args...)
	}
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "jsonrpc: POST only", http.StatusMethodNotAllowed)
		return
	}

	var req Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, 0, &Error{Code: CodeParseError, Message: fmt.Sprintf("parse error: %v", err)})
		return
	}

	handler, ok := s.methods[req.Method]
	if !ok {
		s.writeError(w, req.ID, &Error{Code: CodeMethodNotFound, Message: fmt.Sprintf("unknown method %q", req.Method)})
		return
	}

	result, err := handler(req.Params)
	if err != nil {
		if rpcErr, ok := err.(*Error); ok {
			s.writeError(w, req.ID, rpcErr)
			return
		}
		s.logf("jsonrpc: %s failed: %v", req.Method, err)
		s.writeError(w, req.ID, &Error{Code: CodeInternalError, Message: err.Error()})
		return
	}

	encodedResult, err := json.Marshal(result)
	if err != nil {
		s.writeError(w, req.ID, &Error{Code: CodeInternalError, Message: fmt.Sprintf("encode result: %v", err)})
		return
	}

	s.writeJSON(w, Response{JSONRPC: Version, Result: encodedResult, ID: req.ID})
}

func (s *Server) writeError(w http.ResponseWriter, id uint64, rpcErr *Error) {
	s.writeJSON(w, Response{JSONRPC: Version, Error: rpcErr, ID: id})
}

func (s *Server) writeJSON(w http.ResponseWriter, resp Response) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		s.logf("jsonrpc: failed writing response: %v", err)
	}
}

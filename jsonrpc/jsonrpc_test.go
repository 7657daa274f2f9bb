package jsonrpc_test

import (
	"encoding/json"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/hashplex/lightningd/jsonrpc"
)

func TestCallRoundTrip(t *testing.T) {
	server := jsonrpc.NewServer()
	server.Register("add", func(raw json.RawMessage) (interface{}, error) {
		var args []int
		if err := json.Unmarshal(raw, &args); err != nil {
			return nil, err
		}
		return args[0] + args[1], nil
	})

	httpSrv := httptest.NewServer(server)
	defer httpSrv.Close()

	client := jsonrpc.NewClient(httpSrv.URL, time.Second)
	var sum int
	if err := client.Call("add", []int{2, 3}, &sum); err != nil {
		t.Fatal(err)
	}
	if sum != 5 {
		t.Fatalf("expected 5, got %d", sum)
	}
}

func TestCallUnknownMethod(t *testing.T) {
	server := jsonrpc.NewServer()
	httpSrv := httptest.NewServer(server)
	defer httpSrv.Close()

	client := jsonrpc.NewClient(httpSrv.URL, time.Second)
	err := client.Call("nonexistent", []int{}, nil)
	if err == nil {
		t.Fatal("expected an error for an unregistered method")
	}
}

func TestCallApplicationError(t *testing.T) {
	server := jsonrpc.NewServer()
	server.Register("fail", func(raw json.RawMessage) (interface{}, error) {
		return nil, jsonrpc.NewError("not enough money", nil)
	})
	httpSrv := httptest.NewServer(server)
	defer httpSrv.Close()

	client := jsonrpc.NewClient(httpSrv.URL, time.Second)
	err := client.Call("fail", []int{}, nil)
	if err == nil {
		t.Fatal("expected an error")
	}
	rpcErr, ok := err.(*jsonrpc.Error)
	if !ok {
		t.Fatalf("expected *jsonrpc.Error, got %T", err)
	}
	if rpcErr.Message != "not enough money" {
		t.Fatalf("unexpected message: %s", rpcErr.Message)
	}
}

func TestTagUntagRoundTrip(t *testing.T) {
	raw := []byte{0x01, 0x02, 0x03}
	tagged := jsonrpc.Tag(jsonrpc.ClassSignature, raw)

	encoded, err := json.Marshal(tagged)
	if err != nil {
		t.Fatal(err)
	}
	var decoded jsonrpc.Tagged
	if err := json.Unmarshal(encoded, &decoded); err != nil {
		t.Fatal(err)
	}

	got, err := jsonrpc.Untag(jsonrpc.ClassSignature, decoded)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != string(raw) {
		t.Fatalf("expected %v, got %v", raw, got)
	}

	if _, err := jsonrpc.Untag(jsonrpc.ClassTransaction, decoded); err == nil {
		t.Fatal("expected a class mismatch error")
	}
}

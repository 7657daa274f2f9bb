// Package lncfg holds small address/listener helpers shared by the peer and
// local RPC servers.
package lncfg

import (
	"fmt"
	"net"
	"strconv"
	"strings"
)

var loopbackHosts = []string{"localhost", "127.0.0.1", "[::1]"}

// NormalizeAddresses parses and deduplicates a slice of address strings,
// applying defaultPort to any entry that doesn't specify one.
func NormalizeAddresses(addrs []string, defaultPort string) ([]net.Addr, error) {
	result := make([]net.Addr, 0, len(addrs))
	seen := make(map[string]struct{}, len(addrs))

	for _, addr := range addrs {
		parsed, err := ParseAddressString(addr, defaultPort)
		if err != nil {
			return nil, err
		}
		if _, ok := seen[parsed.String()]; ok {
			continue
		}
		seen[parsed.String()] = struct{}{}
		result = append(result, parsed)
	}

	return result, nil
}

// ParseAddressString converts a "host:port", "host", or ":port" string into
// a *net.TCPAddr, applying defaultPort when no port is given.
func ParseAddressString(strAddress, defaultPort string) (net.Addr, error) {
	addrWithPort := verifyPort(strAddress, defaultPort)

	host, port, err := net.SplitHostPort(addrWithPort)
	if err != nil {
		return nil, err
	}

	portNum, err := strconv.Atoi(port)
	if err != nil {
		return nil, fmt.Errorf("invalid port %q in address %q: %v",
			port, strAddress, err)
	}

	ip := net.ParseIP(host)
	if ip == nil && host != "" {
		// A host name such as "localhost" is resolved so its address is kept.
		resolved, err := net.ResolveTCPAddr("tcp", addrWithPort)
		if err != nil {
			return nil, err
		}
		return resolved, nil
	}
	return &net.TCPAddr{IP: ip, Port: portNum}, nil
}

// verifyPort makes sure that an address string has a port. If it does not,
// the default port is appended.
func verifyPort(address, defaultPort string) string {
	_, _, err := net.SplitHostPort(address)
	if err == nil {
		return address
	}

	if strings.Contains(address, ":") {
		// Already has a colon but SplitHostPort failed; assume it's
		// an IPv6 literal with no brackets, leave it to the caller.
		return address
	}

	return net.JoinHostPort(address, defaultPort)
}

// IsLoopback reports whether addr names a loopback interface.
func IsLoopback(addr string) bool {
	for _, h := range loopbackHosts {
		if strings.Contains(addr, h) {
			return true
		}
	}
	return false
}

// EnforceLocalOnly returns an error if any of addrs is not a loopback
// address. The local control RPC is basic-auth guarded but, per §6 of the
// design, is additionally restricted to loopback interfaces only.
func EnforceLocalOnly(addrs []net.Addr) error {
	for _, addr := range addrs {
		if !IsLoopback(addr.String()) {
			return fmt.Errorf("local RPC may only listen on "+
				"loopback interfaces, got %v", addr)
		}
	}
	return nil
}

// ListenOnAddress opens a TCP listener on addr.
func ListenOnAddress(addr net.Addr) (net.Listener, error) {
	return net.Listen(addr.Network(), addr.String())
}

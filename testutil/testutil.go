// Package testutil provides shared test helpers for probemesh tests.
package testutil

import (
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/probemesh/probemesh/pkg/proto"
)

// TempFile creates a file with the given content and returns its path.
func TempFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write temp file: %v", err)
	}
	return path
}

// FreePort returns an available TCP port on localhost.
func FreePort(t *testing.T) int {
	t.Helper()

	addr, err := net.ResolveTCPAddr("tcp", "localhost:0")
	if err != nil {
		t.Fatalf("failed to resolve address: %v", err)
	}

	l, err := net.ListenTCP("tcp", addr)
	if err != nil {
		t.Fatalf("failed to listen: %v", err)
	}
	defer func() { _ = l.Close() }()

	return l.Addr().(*net.TCPAddr).Port
}

// WaitFor polls cond until it returns true or the timeout expires.
func WaitFor(t *testing.T, timeout time.Duration, cond func() bool, msg string) {
	t.Helper()

	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", msg)
}

// Unit builds a unit fixture with the given addresses. The hostname is
// the unit name with slashes flattened, e.g. "be/0" becomes "be-0".
func Unit(name string, addrs ...proto.NetworkAddress) proto.Unit {
	host := make([]byte, 0, len(name))
	for i := 0; i < len(name); i++ {
		if name[i] == '/' {
			host = append(host, '-')
		} else {
			host = append(host, name[i])
		}
	}
	return proto.Unit{
		Name:      name,
		Hostname:  string(host),
		Addresses: addrs,
	}
}

// Addr builds a network address fixture on the given binding.
func Addr(binding, ip string) proto.NetworkAddress {
	return proto.NetworkAddress{Binding: binding, IP: ip}
}

// Package testutil provides shared test helpers for network and logging
// fixtures.
package testutil

import (
	"encoding/json"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"testing"
)

// DiscardLogger returns a logger that drops every record.
func DiscardLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

// FreeAddr reserves a loopback port, releases it and returns "127.0.0.1:port"
// together with the port. Another process may grab the port in between, which
// is acceptable for tests.
func FreeAddr(t testing.TB) (string, int) {
	t.Helper()
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to reserve port: %v", err)
	}
	port := lis.Addr().(*net.TCPAddr).Port
	if err := lis.Close(); err != nil {
		t.Fatalf("failed to release port: %v", err)
	}
	return net.JoinHostPort("127.0.0.1", strconv.Itoa(port)), port
}

// GetJSON issues a GET and decodes the JSON body into v. It returns the
// status code, or 0 when the request itself failed.
func GetJSON(t testing.TB, url string, v any) int {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		return 0
	}
	defer resp.Body.Close()
	if v != nil {
		if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
			t.Errorf("decode %s: %v", url, err)
		}
	}
	return resp.StatusCode
}

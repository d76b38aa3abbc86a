package tor

import (
	"context"
	"errors"
	"io"
	"net"
	"testing"
	"time"
)

func TestNewClient(t *testing.T) {
	t.Parallel()

	t.Run("valid proxy address creates client", func(t *testing.T) {
		t.Parallel()

		client, err := NewClient("127.0.0.1:9050", 30*time.Second)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if client.ProxyAddress() != "127.0.0.1:9050" {
			t.Errorf("ProxyAddress() = %q, expected %q", client.ProxyAddress(), "127.0.0.1:9050")
		}
	})

	t.Run("invalid address returns error", func(t *testing.T) {
		t.Parallel()

		_, err := NewClient("127.0.0.1", 30*time.Second)
		if !errors.Is(err, ErrInvalidProxyAddress) {
			t.Errorf("expected ErrInvalidProxyAddress, got %v", err)
		}
	})
}

func TestIsValidProxyAddress(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name     string
		address  string
		expected bool
	}{
		{"valid IPv4 with port", "127.0.0.1:9050", true},
		{"valid localhost with port", "localhost:9050", true},
		{"valid IPv6 with port", "[::1]:9050", true},
		{"empty string", "", false},
		{"no port", "127.0.0.1", false},
		{"empty host", ":9050", false},
		{"empty port", "127.0.0.1:", false},
		{"port zero", "127.0.0.1:0", false},
		{"port too large", "127.0.0.1:65536", false},
		{"non numeric port", "127.0.0.1:tor", false},
		{"multiple colons", "127.0.0.1:9050:extra", false},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if got := isValidProxyAddress(tc.address); got != tc.expected {
				t.Errorf("isValidProxyAddress(%q) = %v, expected %v", tc.address, got, tc.expected)
			}
		})
	}
}

func TestNewHTTPClient(t *testing.T) {
	t.Parallel()

	client, err := NewClient("127.0.0.1:9050", 60*time.Second)
	if err != nil {
		t.Fatalf("failed to create client: %v", err)
	}
	httpClient := client.NewHTTPClient()

	if httpClient.Timeout != 60*time.Second {
		t.Errorf("Timeout = %v, expected %v", httpClient.Timeout, 60*time.Second)
	}
	if httpClient.Transport == nil {
		t.Error("expected non-nil transport")
	}
}

// serveOnce accepts a single connection and replies to the SOCKS5 greeting.
func serveOnce(t *testing.T, reply []byte) string {
	t.Helper()

	var lc net.ListenConfig
	l, err := lc.Listen(context.Background(), "tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to listen: %v", err)
	}
	t.Cleanup(func() { _ = l.Close() })

	go func() {
		conn, err := l.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		greeting := make([]byte, 3)
		if _, err := io.ReadFull(conn, greeting); err != nil {
			return
		}
		_, _ = conn.Write(reply)
	}()
	return l.Addr().String()
}

func TestCheckConnection(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		addr func(t *testing.T) string
		want ProxyStatus
	}{
		{
			name: "socks5 without auth",
			addr: func(t *testing.T) string { return serveOnce(t, []byte{0x05, 0x00}) },
			want: ProxyStatusOK,
		},
		{
			name: "socks5 requiring auth",
			addr: func(t *testing.T) string { return serveOnce(t, []byte{0x05, 0xFF}) },
			want: ProxyStatusWrongType,
		},
		{
			name: "http server",
			addr: func(t *testing.T) string { return serveOnce(t, []byte("HTTP/1.1 400 Bad Request\r\n")) },
			want: ProxyStatusWrongType,
		},
		{
			name: "nothing listening",
			addr: closedAddr,
			want: ProxyStatusCannotConnect,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			client, err := NewClient(tc.addr(t), time.Second)
			if err != nil {
				t.Fatal(err)
			}
			if got := client.CheckConnection(context.Background()); got != tc.want {
				t.Errorf("CheckConnection() = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestProxyStatusString(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		status   ProxyStatus
		expected string
	}{
		{ProxyStatusOK, "OK"},
		{ProxyStatusWrongType, "wrong type (not SOCKS5)"},
		{ProxyStatusCannotConnect, "cannot connect"},
		{ProxyStatusTimeout, "timeout"},
		{ProxyStatus(99), "unknown"},
	}
	for _, tc := range testCases {
		if tc.status.String() != tc.expected {
			t.Errorf("ProxyStatus(%d).String() = %q, expected %q", tc.status, tc.status.String(), tc.expected)
		}
	}
}

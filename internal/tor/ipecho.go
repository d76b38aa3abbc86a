package tor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"syscall"
)

// DefaultIPEchoURL answers a plain GET with the caller's address as text.
const DefaultIPEchoURL = "http://icanhazip.com/"

// maxIPEchoBody is far larger than any textual IPv6 address.
const maxIPEchoBody = 256

// fetchIP asks the echo service for the address it sees and returns it
// with trailing whitespace removed.
func fetchIP(ctx context.Context, client *http.Client, echoURL string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, echoURL, nil)
	if err != nil {
		return "", fmt.Errorf("failed to build ip echo request: %w", err)
	}

	resp, err := client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", fmt.Errorf("ip echo service returned %s", resp.Status)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxIPEchoBody))
	if err != nil {
		return "", fmt.Errorf("failed to read ip echo response: %w", err)
	}

	ip := strings.TrimRight(string(body), " \t\r\n")
	if net.ParseIP(ip) == nil {
		return "", fmt.Errorf("ip echo service returned %q, not an ip address", ip)
	}
	return ip, nil
}

// isConnectionRefused reports whether err comes from a refused TCP connect,
// which is how an absent local proxy shows up.
func isConnectionRefused(err error) bool {
	return errors.Is(err, syscall.ECONNREFUSED)
}

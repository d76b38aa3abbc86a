package tor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"time"

	"github.com/nao1215/tornago"
)

// ControlChannel is an authenticated tor control connection.
type ControlChannel interface {
	// NewIdentity sends SIGNAL NEWNYM so that new streams use fresh circuits.
	NewIdentity(ctx context.Context) error

	// IPCountry returns the country code tor's geoip database assigns to
	// ip, "??" when the address is not in it.
	IPCountry(ctx context.Context, ip string) (string, error)

	// Close releases the connection.
	Close() error
}

// ControlDialer opens and authenticates a control channel.
type ControlDialer func(ctx context.Context, addr, cookiePath string, timeout time.Duration) (ControlChannel, error)

// DialControl connects to the tor control port at addr and authenticates
// with the cookie file written by tor. A rejected authentication is
// returned as an error and the connection is closed.
func DialControl(ctx context.Context, addr, cookiePath string, timeout time.Duration) (ControlChannel, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	auth := tornago.ControlAuthFromCookie(cookiePath)
	client, err := tornago.NewControlClient(addr, auth, timeout)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to tor control port %s: %w", addr, err)
	}

	if err := client.Authenticate(); err != nil {
		_ = client.Close() //nolint:errcheck // already failing
		return nil, fmt.Errorf("tor control port rejected authentication: %w", err)
	}

	return &tornagoControl{client: client}, nil
}

type tornagoControl struct {
	client *tornago.ControlClient
}

func (c *tornagoControl) NewIdentity(ctx context.Context) error {
	if err := c.client.NewIdentity(ctx); err != nil {
		return classifySignalError(err)
	}
	return nil
}

func (c *tornagoControl) IPCountry(ctx context.Context, ip string) (string, error) {
	return c.client.GetInfo(ctx, "ip-to-country/"+ip)
}

func (c *tornagoControl) Close() error {
	return c.client.Close()
}

// classifySignalError decides whether a NEWNYM failure is worth retrying.
// A dead connection or a lost authentication will not heal by itself;
// anything else (a rate-limited or garbled reply) is treated as transient.
// Context errors pass through untouched.
func classifySignalError(err error) error {
	if err == nil {
		return nil
	}
	var se *SignalError
	if errors.As(err, &se) {
		return err
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	if errors.Is(err, net.ErrClosed) || errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, ErrProcessExited) {
		return &SignalError{Retryable: false, Err: err}
	}
	// 514/515: authentication required / bad authentication
	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "514") || strings.Contains(msg, "515") || strings.Contains(msg, "authenticat") {
		return &SignalError{Retryable: false, Err: err}
	}
	return &SignalError{Retryable: true, Err: err}
}

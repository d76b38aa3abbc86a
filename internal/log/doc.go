// Package log builds slog loggers that mask Tor control-port secrets.
//
// The control channel authenticates with a cookie file or a hashed password,
// and both can leak into debug output through error messages, torrc dumps or
// attributes. SecureHandler wraps any slog.Handler and replaces:
//   - attributes whose key names a secret (cookie, password, auth, token)
//   - values that look like a control cookie (64 hex characters)
//   - values that look like a hashed control password ("16:" + hex)
//   - raw AUTHENTICATE command lines
//
// # Usage
//
//	logger := log.NewSecureLogger(os.Stderr, verbose)
//	logger.Debug("control channel opened",
//	    "cookie", cookieHex, // logged as ***REDACTED***
//	    "addr", "127.0.0.1:9051",
//	)
//
// The resulting *slog.Logger can be handed to tor.WithLogger.
package log

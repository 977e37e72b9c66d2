package browser

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// deniedSignatures are the substrings that distinguish a blocked or rejected
// connection from a generic navigation failure. They cover Chrome network
// error codes for proxy/tunnel/auth failures plus 403 and 407 responses.
var deniedSignatures = []string{
	"ERR_PROXY_CONNECTION_FAILED",
	"ERR_TUNNEL_CONNECTION_FAILED",
	"ERR_INVALID_AUTH_CREDENTIALS",
	"ERR_CONNECTION_CLOSED",
	"403",
	"407",
}

// DeniedError marks a navigation rejected by the target or the proxy. The
// caller is expected to rotate the session before retrying.
type DeniedError struct {
	URL   string
	Cause error
}

// Error implements the error interface.
func (e *DeniedError) Error() string {
	return fmt.Sprintf("access denied for %s: %v", e.URL, e.Cause)
}

// Unwrap exposes the underlying automation error.
func (e *DeniedError) Unwrap() error { return e.Cause }

// IsDenied reports whether err represents a blocked/rejected navigation.
func IsDenied(err error) bool {
	var denied *DeniedError
	return errors.As(err, &denied)
}

// IsTimeout reports whether err is a per-operation timeout. Timeouts are
// retryable without rotation.
func IsTimeout(err error) bool {
	return errors.Is(err, context.DeadlineExceeded)
}

// classifyNavError wraps navigation failures whose message matches a denial
// signature; everything else passes through unchanged.
func classifyNavError(url string, err error) error {
	if err == nil {
		return nil
	}
	msg := err.Error()
	for _, sig := range deniedSignatures {
		if strings.Contains(msg, sig) {
			return &DeniedError{URL: url, Cause: err}
		}
	}
	return err
}

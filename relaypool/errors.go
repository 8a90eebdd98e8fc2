package relaypool

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Delivery failure reasons, recorded per relay on every failed send.
const (
	ReasonConnectionRefused = "connection-refused"
	ReasonTimeout           = "timeout"
	ReasonRelayRejected     = "relay-rejected"
	ReasonMalformedResponse = "malformed-response"
	ReasonCanceled          = "canceled"
)

// ErrAuthRequired is returned when a relay demands authentication and the
// configured preference does not allow answering without user consent.
var ErrAuthRequired = errors.New("relay requires authentication")

// DeliveryError wraps a failed delivery to one relay with a classified
// reason.
type DeliveryError struct {
	Relay  string
	Reason string
	Err    error
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("%s: %s: %v", e.Relay, e.Reason, e.Err)
}

func (e *DeliveryError) Unwrap() error {
	return e.Err
}

// deliveryError builds a DeliveryError, classifying err when no explicit
// reason is given.
func deliveryError(relay, reason string, err error) *DeliveryError {
	if reason == "" {
		reason = classifyError(err)
	}
	return &DeliveryError{Relay: relay, Reason: reason, Err: err}
}

// classifyError maps a raw send error onto one of the delivery reasons.
func classifyError(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, context.DeadlineExceeded):
		return ReasonTimeout
	case errors.Is(err, context.Canceled):
		return ReasonCanceled
	}

	msg := err.Error()
	switch {
	case strings.Contains(msg, "connection refused"),
		strings.Contains(msg, "no such host"),
		strings.Contains(msg, "dial"):
		return ReasonConnectionRefused
	case strings.Contains(msg, "auth-required"),
		strings.Contains(msg, "restricted"),
		strings.Contains(msg, "blocked"),
		strings.Contains(msg, "rate-limited"),
		strings.Contains(msg, "invalid"),
		strings.Contains(msg, "pow:"),
		strings.Contains(msg, "duplicate"),
		strings.Contains(msg, "error:"):
		// machine-readable OK prefixes from the relay
		return ReasonRelayRejected
	}
	return ReasonMalformedResponse
}

// isAuthRequired reports whether a publish error is the relay asking for a
// NIP-42 auth handshake before accepting the event.
func isAuthRequired(err error) bool {
	return err != nil && strings.Contains(err.Error(), "auth-required")
}

package relaypool

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/girino/outbox-publisher/relayauth"
)

func TestClassifyError(t *testing.T) {
	cases := []struct {
		err  error
		want string
	}{
		{context.DeadlineExceeded, ReasonTimeout},
		{context.Canceled, ReasonCanceled},
		{fmt.Errorf("wrapped: %w", context.DeadlineExceeded), ReasonTimeout},
		{errors.New("dial tcp 127.0.0.1:4848: connect: connection refused"), ReasonConnectionRefused},
		{errors.New("lookup relay.example.com: no such host"), ReasonConnectionRefused},
		{errors.New("msg: auth-required: we only accept events from registered users"), ReasonRelayRejected},
		{errors.New("msg: blocked: pubkey is banned"), ReasonRelayRejected},
		{errors.New("msg: rate-limited: slow down"), ReasonRelayRejected},
		{errors.New("msg: invalid: bad signature"), ReasonRelayRejected},
		{errors.New("unexpected frame type"), ReasonMalformedResponse},
	}
	for _, tc := range cases {
		if got := classifyError(tc.err); got != tc.want {
			t.Errorf("classifyError(%v) = %s, want %s", tc.err, got, tc.want)
		}
	}
}

func TestIsAuthRequired(t *testing.T) {
	if !isAuthRequired(errors.New("msg: auth-required: please authenticate")) {
		t.Error("expected auth-required error to be detected")
	}
	if isAuthRequired(errors.New("msg: blocked: go away")) {
		t.Error("blocked error misdetected as auth-required")
	}
	if isAuthRequired(nil) {
		t.Error("nil error misdetected as auth-required")
	}
}

func TestDeliveryError_Unwrap(t *testing.T) {
	derr := deliveryError("wss://r.example.com", "", context.DeadlineExceeded)
	if derr.Reason != ReasonTimeout {
		t.Errorf("expected timeout reason, got %s", derr.Reason)
	}
	if !errors.Is(derr, context.DeadlineExceeded) {
		t.Error("expected DeliveryError to unwrap to the cause")
	}
}

func TestConn_ApplyTracksChallenge(t *testing.T) {
	c := newConn("wss://r.example.com")

	res := c.Apply(relayauth.Event{
		Type:       relayauth.EventChallengeReceived,
		Challenge:  "nonce-1",
		Preference: relayauth.PreferenceAsk,
	})
	if res.Status != relayauth.StatusChallengeReceived {
		t.Fatalf("expected challenge_received, got %s", res.Status)
	}
	if c.Challenge() != "nonce-1" {
		t.Errorf("expected cached challenge, got %q", c.Challenge())
	}

	// rejecting clears the cached challenge
	c.Apply(relayauth.Event{Type: relayauth.EventUserRejected})
	if c.AuthStatus() != relayauth.StatusRejected {
		t.Errorf("expected rejected, got %s", c.AuthStatus())
	}
	if c.Challenge() != "" {
		t.Errorf("expected challenge cleared, got %q", c.Challenge())
	}
}

func TestConn_AutoAuthDoesNotCacheChallenge(t *testing.T) {
	c := newConn("wss://r.example.com")

	res := c.Apply(relayauth.Event{
		Type:       relayauth.EventChallengeReceived,
		Challenge:  "nonce-2",
		Preference: relayauth.PreferenceAlways,
	})
	if !res.ShouldAutoAuth {
		t.Fatal("expected auto-auth with always preference")
	}
	if c.AuthStatus() != relayauth.StatusAuthenticating {
		t.Errorf("expected authenticating, got %s", c.AuthStatus())
	}
	// the challenge stays cached while the handshake runs
	if c.Challenge() != "nonce-2" {
		t.Errorf("expected challenge kept during handshake, got %q", c.Challenge())
	}

	c.Apply(relayauth.Event{Type: relayauth.EventAuthSuccess})
	if c.AuthStatus() != relayauth.StatusAuthenticated {
		t.Errorf("expected authenticated, got %s", c.AuthStatus())
	}
	if c.Challenge() != "" {
		t.Errorf("expected challenge cleared after success, got %q", c.Challenge())
	}
}

func TestManager_AuthStatusUnknownRelay(t *testing.T) {
	m := NewManager(nil)
	defer m.Close()

	if got := m.AuthStatus("wss://never-seen.example.com"); got != relayauth.StatusNone {
		t.Errorf("expected none for unknown relay, got %s", got)
	}
}

func TestManager_AcceptWithoutChallengeIsNoop(t *testing.T) {
	m := NewManager(nil)
	defer m.Close()

	// no challenge pending: accept must not try to authenticate
	if err := m.AcceptChallenge(context.Background(), "wss://r.example.com"); err != nil {
		t.Errorf("expected nil, got %v", err)
	}
	if got := m.AuthStatus("wss://r.example.com"); got != relayauth.StatusNone {
		t.Errorf("expected none, got %s", got)
	}
}

func TestManager_RejectChallenge(t *testing.T) {
	m := NewManager(nil)
	defer m.Close()

	c := m.conn("wss://r.example.com")
	c.Apply(relayauth.Event{
		Type:       relayauth.EventChallengeReceived,
		Challenge:  "nonce-3",
		Preference: relayauth.PreferenceAsk,
	})

	m.RejectChallenge("wss://r.example.com")
	if got := m.AuthStatus("wss://r.example.com"); got != relayauth.StatusRejected {
		t.Errorf("expected rejected, got %s", got)
	}
}

func TestHealthState(t *testing.T) {
	cases := []struct {
		failures int64
		want     string
	}{
		{0, HealthGreen},
		{2, HealthGreen},
		{3, HealthYellow},
		{9, HealthYellow},
		{10, HealthRed},
		{100, HealthRed},
	}
	for _, tc := range cases {
		if got := healthState(tc.failures); got != tc.want {
			t.Errorf("healthState(%d) = %s, want %s", tc.failures, got, tc.want)
		}
	}
}

// Copyright (c) 2025 Girino Vey.
//
// This software is licensed under Girino's Anarchist License (GAL).
// See LICENSE file for full license text.
// License available at: https://license.girino.org/
//
// Package relaypool maintains one logical connection per relay URL, shared
// by every publish operation in the process, and drives the NIP-42 auth
// handshake on each connection through the relayauth state machine.
package relaypool

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/girino/outbox-publisher/logging"
	"github.com/girino/outbox-publisher/relayauth"
	"github.com/nbd-wtf/go-nostr"
)

// Signer produces the signed auth response for a relay challenge. Signing
// the event in place is expected; failures abort the handshake.
type Signer interface {
	SignEvent(ctx context.Context, evt *nostr.Event) error
}

// Health state constants
const (
	HealthGreen  = "GREEN"
	HealthYellow = "YELLOW"
	HealthRed    = "RED"
)

// Manager is the process-wide relay connection pool.
type Manager struct {
	mu     sync.RWMutex
	conns  map[string]*Conn
	signer Signer
	pref   relayauth.Preference
	// send timeout per remote
	sendTimeout time.Duration
	// stats
	sendAttempts        int64
	sendSuccesses       int64
	sendFailures        int64
	authChallenges      int64
	authSuccesses       int64
	authFailures        int64
	consecutiveFailures int64
}

// Stats holds runtime counters exported by the Manager.
type Stats struct {
	SendAttempts        int64  `json:"send_attempts"`
	SendSuccesses       int64  `json:"send_successes"`
	SendFailures        int64  `json:"send_failures"`
	AuthChallenges      int64  `json:"auth_challenges"`
	AuthSuccesses       int64  `json:"auth_successes"`
	AuthFailures        int64  `json:"auth_failures"`
	ConsecutiveFailures int64  `json:"consecutive_failures"`
	HealthState         string `json:"health_state"`
	OpenConnections     int    `json:"open_connections"`
}

// NewManager creates a Manager that signs auth responses with signer.
// A nil signer is allowed; auth challenges then always fail.
func NewManager(signer Signer) *Manager {
	return &Manager{
		conns:       make(map[string]*Conn),
		signer:      signer,
		pref:        relayauth.PreferenceAsk,
		sendTimeout: 7 * time.Second,
	}
}

// SetAuthPreference sets the standing answer to relay auth challenges.
func (m *Manager) SetAuthPreference(pref relayauth.Preference) {
	m.mu.Lock()
	m.pref = pref
	m.mu.Unlock()
}

// SetSendTimeout overrides the default per-relay send timeout.
func (m *Manager) SetSendTimeout(d time.Duration) {
	m.mu.Lock()
	m.sendTimeout = d
	m.mu.Unlock()
}

// Close tears down every connection. Each connection's auth status resets
// through the regular disconnect transition.
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range m.conns {
		c.Apply(relayauth.Event{Type: relayauth.EventDisconnected})
		if rl := c.currentRelay(); rl != nil {
			_ = rl.Close()
		}
	}
	m.conns = make(map[string]*Conn)
}

// Stats returns a snapshot of the Manager counters.
func (m *Manager) Stats() Stats {
	m.mu.RLock()
	open := len(m.conns)
	m.mu.RUnlock()

	consecutive := atomic.LoadInt64(&m.consecutiveFailures)
	return Stats{
		SendAttempts:        atomic.LoadInt64(&m.sendAttempts),
		SendSuccesses:       atomic.LoadInt64(&m.sendSuccesses),
		SendFailures:        atomic.LoadInt64(&m.sendFailures),
		AuthChallenges:      atomic.LoadInt64(&m.authChallenges),
		AuthSuccesses:       atomic.LoadInt64(&m.authSuccesses),
		AuthFailures:        atomic.LoadInt64(&m.authFailures),
		ConsecutiveFailures: consecutive,
		HealthState:         healthState(consecutive),
		OpenConnections:     open,
	}
}

// healthState determines the health state based on consecutive failures
func healthState(consecutiveFailures int64) string {
	if consecutiveFailures <= 2 {
		return HealthGreen
	} else if consecutiveFailures < 10 {
		return HealthYellow
	}
	return HealthRed
}

// AuthStatus returns the auth status of the connection for url, or
// StatusNone when no connection exists yet.
func (m *Manager) AuthStatus(url string) relayauth.Status {
	m.mu.RLock()
	c, ok := m.conns[nostr.NormalizeURL(url)]
	m.mu.RUnlock()
	if !ok {
		return relayauth.StatusNone
	}
	return c.AuthStatus()
}

// Send delivers one signed event to one relay, negotiating auth when the
// relay demands it and the preference allows. The returned error is always
// a *DeliveryError on failure.
func (m *Manager) Send(ctx context.Context, url string, evt *nostr.Event) error {
	url = nostr.NormalizeURL(url)
	c := m.conn(url)

	m.mu.RLock()
	timeout := m.sendTimeout
	m.mu.RUnlock()
	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	atomic.AddInt64(&m.sendAttempts, 1)
	logging.DebugMethod("relaypool", "Send", "publishing event %s to %s", evt.ID, url)

	rl, err := m.ensureConnected(cctx, c)
	if err != nil {
		return m.fail(deliveryError(url, "", err))
	}

	err = rl.Publish(cctx, *evt)
	if err == nil {
		return m.succeed(url, evt.ID)
	}

	if !isAuthRequired(err) {
		return m.fail(deliveryError(url, "", err))
	}

	// relay wants NIP-42 auth before accepting the event
	atomic.AddInt64(&m.authChallenges, 1)
	res := c.Apply(relayauth.Event{
		Type:       relayauth.EventChallengeReceived,
		Challenge:  err.Error(),
		Preference: m.preference(),
	})
	if !res.ShouldAutoAuth {
		// waiting on the user (or standing rejection); surface it so the
		// caller can retry this relay after an explicit accept
		return m.fail(deliveryError(url, ReasonRelayRejected, ErrAuthRequired))
	}

	if aerr := m.authenticate(cctx, c, rl); aerr != nil {
		return m.fail(deliveryError(url, ReasonRelayRejected, aerr))
	}
	if rerr := rl.Publish(cctx, *evt); rerr != nil {
		return m.fail(deliveryError(url, "", rerr))
	}
	return m.succeed(url, evt.ID)
}

// AcceptChallenge is the user saying yes to a pending challenge on url. It
// runs the auth handshake if the state machine agrees there is one to run.
func (m *Manager) AcceptChallenge(ctx context.Context, url string) error {
	url = nostr.NormalizeURL(url)
	c := m.conn(url)

	res := c.Apply(relayauth.Event{Type: relayauth.EventUserAccepted})
	if res.Status != relayauth.StatusAuthenticating {
		return nil
	}

	m.mu.RLock()
	timeout := m.sendTimeout
	m.mu.RUnlock()
	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	rl, err := m.ensureConnected(cctx, c)
	if err != nil {
		c.Apply(relayauth.Event{Type: relayauth.EventAuthFailed})
		return deliveryError(url, "", err)
	}
	return m.authenticate(cctx, c, rl)
}

// RejectChallenge is the user saying no to a pending challenge on url.
func (m *Manager) RejectChallenge(url string) {
	m.conn(nostr.NormalizeURL(url)).Apply(relayauth.Event{Type: relayauth.EventUserRejected})
}

// authenticate signs and sends the auth response, then feeds the outcome
// back through the state machine.
func (m *Manager) authenticate(ctx context.Context, c *Conn, rl *nostr.Relay) error {
	if m.signer == nil {
		c.Apply(relayauth.Event{Type: relayauth.EventAuthFailed})
		atomic.AddInt64(&m.authFailures, 1)
		return errors.New("no signer configured for auth challenge")
	}

	err := rl.Auth(ctx, func(evt *nostr.Event) error {
		return m.signer.SignEvent(ctx, evt)
	})
	if err != nil {
		c.Apply(relayauth.Event{Type: relayauth.EventAuthFailed})
		atomic.AddInt64(&m.authFailures, 1)
		logging.Warn("relaypool: auth with %s failed: %v", c.URL(), err)
		return err
	}

	c.Apply(relayauth.Event{Type: relayauth.EventAuthSuccess})
	atomic.AddInt64(&m.authSuccesses, 1)
	logging.DebugMethod("relaypool", "authenticate", "authenticated with %s", c.URL())
	return nil
}

func (m *Manager) preference() relayauth.Preference {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.pref
}

// conn returns the Conn for url, creating it on first use.
func (m *Manager) conn(url string) *Conn {
	m.mu.RLock()
	c, ok := m.conns[url]
	m.mu.RUnlock()
	if ok {
		return c
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if c, ok = m.conns[url]; ok {
		return c
	}
	c = newConn(url)
	m.conns[url] = c
	return c
}

// ensureConnected returns a live relay for c, reconnecting when the old
// connection has dropped. A detected drop resets the auth status first, so
// a re-issued challenge starts the negotiation from scratch.
func (m *Manager) ensureConnected(ctx context.Context, c *Conn) (*nostr.Relay, error) {
	rl := c.currentRelay()
	if rl != nil && rl.IsConnected() {
		return rl, nil
	}
	if rl != nil {
		c.Apply(relayauth.Event{Type: relayauth.EventDisconnected})
	}

	logging.DebugMethod("relaypool", "ensureConnected", "connecting to %s", c.URL())
	newrl, err := nostr.RelayConnect(ctx, c.URL())
	if err != nil {
		logging.DebugMethod("relaypool", "ensureConnected", "failed to connect to %s: %v", c.URL(), err)
		return nil, err
	}
	c.setRelay(newrl)
	return newrl, nil
}

func (m *Manager) succeed(url, eventID string) error {
	atomic.AddInt64(&m.sendSuccesses, 1)
	atomic.StoreInt64(&m.consecutiveFailures, 0)
	logging.DebugMethod("relaypool", "Send", "publish to %s succeeded for event %s", url, eventID)
	return nil
}

func (m *Manager) fail(derr *DeliveryError) error {
	atomic.AddInt64(&m.sendFailures, 1)
	atomic.AddInt64(&m.consecutiveFailures, 1)
	logging.DebugMethod("relaypool", "Send", "publish to %s failed (%s): %v", derr.Relay, derr.Reason, derr.Err)
	return derr
}

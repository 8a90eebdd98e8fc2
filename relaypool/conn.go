package relaypool

import (
	"sync"

	"github.com/girino/outbox-publisher/logging"
	"github.com/girino/outbox-publisher/relayauth"
	"github.com/nbd-wtf/go-nostr"
)

// Conn is the pool's view of one logical relay connection. It owns the
// connection's auth status: every auth event funnels through Apply, one at a
// time, in arrival order. Nothing else may touch the status.
type Conn struct {
	url string

	mu        sync.Mutex
	relay     *nostr.Relay
	status    relayauth.Status
	challenge string
}

func newConn(url string) *Conn {
	return &Conn{url: url, status: relayauth.StatusNone}
}

// URL returns the relay URL this connection is bound to.
func (c *Conn) URL() string {
	return c.url
}

// AuthStatus returns the connection's current auth status.
func (c *Conn) AuthStatus() relayauth.Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// Challenge returns the pending auth challenge, empty when none is cached.
func (c *Conn) Challenge() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.challenge
}

// Apply runs one auth event through the state machine and commits the
// resulting status and challenge bookkeeping under the connection lock.
func (c *Conn) Apply(ev relayauth.Event) relayauth.Result {
	c.mu.Lock()
	defer c.mu.Unlock()

	res := relayauth.Transition(c.status, ev)
	if res.Status != c.status {
		logging.DebugMethod("relaypool", "Apply", "%s: %s -> %s on %s", c.url, c.status, res.Status, ev.Type)
	}
	c.status = res.Status
	if res.ClearChallenge {
		c.challenge = ""
	} else if ev.Type == relayauth.EventChallengeReceived {
		c.challenge = ev.Challenge
	}
	return res
}

// setRelay swaps in a fresh underlying relay connection.
func (c *Conn) setRelay(rl *nostr.Relay) {
	c.mu.Lock()
	c.relay = rl
	c.mu.Unlock()
}

// currentRelay returns the underlying relay, which may be nil or stale.
func (c *Conn) currentRelay() *nostr.Relay {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.relay
}

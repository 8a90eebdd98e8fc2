package relaylist

import (
	"context"
	"testing"
	"time"

	"github.com/nbd-wtf/go-nostr"
	"github.com/stretchr/testify/require"
)

func relayListEvent(pubkey string, tags nostr.Tags) *nostr.Event {
	return &nostr.Event{
		ID:        "cafe" + pubkey,
		PubKey:    pubkey,
		Kind:      nostr.KindRelayListMetadata,
		CreatedAt: nostr.Now(),
		Tags:      tags,
	}
}

func TestParseRelayTags(t *testing.T) {
	evt := relayListEvent("pk", nostr.Tags{
		{"r", "wss://both.example.com"},
		{"r", "wss://reads.example.com", "read"},
		{"r", "wss://writes.example.com", "write"},
		{"r", ""},
		{"p", "not-a-relay"},
	})

	require.Equal(t, []string{"wss://both.example.com", "wss://writes.example.com"},
		parseRelayTags(evt, "write"))
	require.Equal(t, []string{"wss://both.example.com", "wss://reads.example.com"},
		parseRelayTags(evt, "read"))
	require.Nil(t, parseRelayTags(nil, "write"))
}

// TestResolver_CacheHit verifies that a cached relay list is served without
// touching the network (the resolver has no query pool in this test).
func TestResolver_CacheHit(t *testing.T) {
	r := NewResolver(nil)
	require.NoError(t, r.Init())
	defer r.Close()

	ctx := context.Background()
	evt := relayListEvent("pk", nostr.Tags{
		{"r", "wss://cached.example.com", "write"},
	})
	r.storeEvent(ctx, "pk", evt)

	require.Equal(t, []string{"wss://cached.example.com"}, r.OutboxRelays(ctx, "pk"))
	require.Empty(t, r.InboxRelays(ctx, "pk"))

	stats := r.Stats()
	require.Equal(t, int64(2), stats.LookupRequests)
	require.Equal(t, int64(2), stats.CacheHits)
}

// TestResolver_CacheExpiry verifies that a stale cache entry is not served.
func TestResolver_CacheExpiry(t *testing.T) {
	r := NewResolver(nil)
	require.NoError(t, r.Init())
	defer r.Close()

	ctx := context.Background()
	r.storeEvent(ctx, "pk", relayListEvent("pk", nostr.Tags{
		{"r", "wss://stale.example.com"},
	}))
	r.SetCacheTTL(time.Nanosecond)
	time.Sleep(time.Millisecond)

	// expired entry plus no query pool means an empty, fail-soft result
	require.Empty(t, r.OutboxRelays(ctx, "pk"))
}

// TestResolver_UnknownPubkeyFailsSoft verifies the empty-list degradation.
func TestResolver_UnknownPubkeyFailsSoft(t *testing.T) {
	r := NewResolver(nil)
	require.NoError(t, r.Init())
	defer r.Close()

	require.Empty(t, r.OutboxRelays(context.Background(), "nobody"))
	require.Empty(t, r.InboxRelays(context.Background(), "nobody"))
}

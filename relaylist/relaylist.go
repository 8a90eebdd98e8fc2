// Copyright (c) 2025 Girino Vey.
//
// This software is licensed under Girino's Anarchist License (GAL).
// See LICENSE file for full license text.
// License available at: https://license.girino.org/
//
// Package relaylist resolves NIP-65 relay preferences and selects the relay
// set for an interaction between two identities.
package relaylist

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fiatjaf/eventstore/slicestore"
	"github.com/girino/outbox-publisher/logging"
	"github.com/nbd-wtf/go-nostr"
)

// Lister resolves an identity's advertised relay lists. Lookups fail soft:
// an identity with no reachable relay-list data yields an empty slice, never
// an error.
type Lister interface {
	OutboxRelays(ctx context.Context, pubkey string) []string
	InboxRelays(ctx context.Context, pubkey string) []string
}

// Resolver fetches kind-10002 relay-list events from a set of query relays
// and caches them locally with a TTL. It implements Lister.
type Resolver struct {
	queryUrls []string
	// pool manages connections for query remotes
	pool *nostr.SimplePool
	// cache holds the most recent relay-list event per pubkey
	cache     *slicestore.SliceStore
	fetchedAt map[string]time.Time
	cacheMu   sync.RWMutex
	cacheTTL  time.Duration
	// lookup timeout per fetch
	lookupTimeout time.Duration
	// stats
	lookupRequests int64
	cacheHits      int64
	fetchFailures  int64
}

// ResolverStats holds runtime counters exported by Resolver.
type ResolverStats struct {
	LookupRequests int64 `json:"lookup_requests"`
	CacheHits      int64 `json:"cache_hits"`
	FetchFailures  int64 `json:"fetch_failures"`
}

// NewResolver creates a Resolver that queries the provided remotes for
// relay-list events.
func NewResolver(queryUrls []string) *Resolver {
	return &Resolver{
		queryUrls:     queryUrls,
		cache:         &slicestore.SliceStore{},
		fetchedAt:     make(map[string]time.Time),
		cacheTTL:      time.Hour,
		lookupTimeout: 7 * time.Second,
	}
}

// Init initializes the query pool and the local cache store.
func (r *Resolver) Init() error {
	if err := r.cache.Init(); err != nil {
		return err
	}
	r.pool = nostr.NewSimplePool(context.Background(), nostr.WithPenaltyBox())
	logging.DebugMethod("relaylist", "Init", "query remotes: %v", r.queryUrls)
	return nil
}

// Close releases the cache store.
func (r *Resolver) Close() {
	r.cache.Close()
}

// SetCacheTTL overrides the default one-hour relay-list cache TTL.
func (r *Resolver) SetCacheTTL(ttl time.Duration) {
	r.cacheMu.Lock()
	r.cacheTTL = ttl
	r.cacheMu.Unlock()
}

// Stats returns a snapshot of the Resolver counters.
func (r *Resolver) Stats() ResolverStats {
	return ResolverStats{
		LookupRequests: atomic.LoadInt64(&r.lookupRequests),
		CacheHits:      atomic.LoadInt64(&r.cacheHits),
		FetchFailures:  atomic.LoadInt64(&r.fetchFailures),
	}
}

// OutboxRelays returns the write relays the identity advertises.
func (r *Resolver) OutboxRelays(ctx context.Context, pubkey string) []string {
	return parseRelayTags(r.relayListEvent(ctx, pubkey), "write")
}

// InboxRelays returns the read relays the identity advertises.
func (r *Resolver) InboxRelays(ctx context.Context, pubkey string) []string {
	return parseRelayTags(r.relayListEvent(ctx, pubkey), "read")
}

// relayListEvent returns the newest kind-10002 event for pubkey, from cache
// when fresh, otherwise fetched from the query remotes. Returns nil when
// nothing is known; callers treat that as an empty relay list.
func (r *Resolver) relayListEvent(ctx context.Context, pubkey string) *nostr.Event {
	atomic.AddInt64(&r.lookupRequests, 1)

	if evt := r.cachedEvent(ctx, pubkey); evt != nil {
		atomic.AddInt64(&r.cacheHits, 1)
		logging.DebugMethod("relaylist", "relayListEvent", "cache hit for %s", pubkey)
		return evt
	}

	if r.pool == nil || len(r.queryUrls) == 0 {
		return nil
	}

	cctx, cancel := context.WithTimeout(ctx, r.lookupTimeout)
	defer cancel()

	filter := nostr.Filter{
		Kinds:   []int{nostr.KindRelayListMetadata},
		Authors: []string{pubkey},
		Limit:   1,
	}

	// FetchMany ends when all query remotes return EOSE; keep the newest
	var newest *nostr.Event
	for ie := range r.pool.FetchMany(cctx, r.queryUrls, filter) {
		if ie.Event == nil {
			continue
		}
		if newest == nil || ie.Event.CreatedAt > newest.CreatedAt {
			newest = ie.Event
		}
	}

	if newest == nil {
		atomic.AddInt64(&r.fetchFailures, 1)
		logging.DebugMethod("relaylist", "relayListEvent", "no relay list found for %s", pubkey)
		return nil
	}

	r.storeEvent(ctx, pubkey, newest)
	return newest
}

// cachedEvent returns the cached relay-list event for pubkey when the cache
// entry is still within the TTL.
func (r *Resolver) cachedEvent(ctx context.Context, pubkey string) *nostr.Event {
	r.cacheMu.RLock()
	fetched, ok := r.fetchedAt[pubkey]
	ttl := r.cacheTTL
	r.cacheMu.RUnlock()
	if !ok || time.Since(fetched) >= ttl {
		return nil
	}

	ch, err := r.cache.QueryEvents(ctx, nostr.Filter{
		Kinds:   []int{nostr.KindRelayListMetadata},
		Authors: []string{pubkey},
		Limit:   1,
	})
	if err != nil {
		return nil
	}
	for evt := range ch {
		return evt
	}
	return nil
}

func (r *Resolver) storeEvent(ctx context.Context, pubkey string, evt *nostr.Event) {
	// kind 10002 is replaceable, keep only the latest per author
	if err := r.cache.ReplaceEvent(ctx, evt); err != nil {
		logging.Warn("relaylist: caching relay list for %s failed: %v", pubkey, err)
		return
	}
	r.cacheMu.Lock()
	r.fetchedAt[pubkey] = time.Now()
	r.cacheMu.Unlock()
}

// parseRelayTags extracts relay URLs from a kind-10002 event's "r" tags.
// A tag with no marker counts for both directions; a marked tag counts only
// for the matching direction ("read" or "write").
func parseRelayTags(evt *nostr.Event, direction string) []string {
	if evt == nil {
		return nil
	}
	var urls []string
	for _, tag := range evt.Tags {
		if len(tag) < 2 || tag[0] != "r" || tag[1] == "" {
			continue
		}
		if len(tag) >= 3 && tag[2] != "" && tag[2] != direction {
			continue
		}
		urls = append(urls, nostr.NormalizeURL(tag[1]))
	}
	return urls
}

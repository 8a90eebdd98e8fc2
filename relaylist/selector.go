package relaylist

import (
	"context"
	"sync"

	"github.com/girino/outbox-publisher/logging"
	"github.com/nbd-wtf/go-nostr"
)

// Tunables for interaction relay selection.
const (
	// MaxInteractionRelays caps the size of a selected relay set.
	MaxInteractionRelays = 10
	// MinRelaysPerParty is how many relays each party is guaranteed before
	// the other party's remainder is considered.
	MinRelaysPerParty = 3
)

// SelectionSources records which lookup contributed which URLs to a
// selection. Diagnostic only; Relays is the authoritative output.
type SelectionSources struct {
	AuthorOutbox []string `json:"author_outbox"`
	TargetInbox  []string `json:"target_inbox"`
	Fallback     []string `json:"fallback"`
}

// SelectionResult is an ordered, deduplicated relay set for one interaction.
type SelectionResult struct {
	Relays  []string         `json:"relays"`
	Sources SelectionSources `json:"sources"`
}

// Selector merges an author's outbox relays with a target's inbox relays
// into a bounded, priority-ordered set, falling back to a static aggregator
// list when neither party advertises anything.
type Selector struct {
	lister Lister
	// FallbackRelays is used when both lookups come back empty.
	FallbackRelays []string
	// MaxRelays and MinPerParty default to the package constants when zero.
	MaxRelays   int
	MinPerParty int
}

// NewSelector creates a Selector over the given Lister.
func NewSelector(lister Lister, fallback []string) *Selector {
	return &Selector{
		lister:         lister,
		FallbackRelays: fallback,
		MaxRelays:      MaxInteractionRelays,
		MinPerParty:    MinRelaysPerParty,
	}
}

// Select resolves both parties' relay lists concurrently and merges them.
//
// Priority order: up to MinPerParty author-outbox entries, then up to
// MinPerParty target-inbox entries, then the remaining outbox entries, then
// the remaining inbox entries, the whole set capped at MaxRelays. A URL seen
// twice keeps its earliest slot. Author and target may be the same identity;
// the merge needs no special case for it.
func (s *Selector) Select(ctx context.Context, author, target string) SelectionResult {
	maxRelays := s.MaxRelays
	if maxRelays <= 0 {
		maxRelays = MaxInteractionRelays
	}
	minPerParty := s.MinPerParty
	if minPerParty <= 0 {
		minPerParty = MinRelaysPerParty
	}

	// both lookups run at once; either side failing degrades to empty
	var outbox, inbox []string
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		outbox = s.lister.OutboxRelays(ctx, author)
	}()
	go func() {
		defer wg.Done()
		inbox = s.lister.InboxRelays(ctx, target)
	}()
	wg.Wait()

	set := newRelaySet(maxRelays)
	var sources SelectionSources

	take := func(urls []string, n int, contributed *[]string) []string {
		taken := 0
		for len(urls) > 0 && taken < n {
			url := urls[0]
			urls = urls[1:]
			if set.add(url) {
				*contributed = append(*contributed, url)
				taken++
			}
		}
		return urls
	}

	outbox = take(outbox, minPerParty, &sources.AuthorOutbox)
	inbox = take(inbox, minPerParty, &sources.TargetInbox)
	take(outbox, len(outbox), &sources.AuthorOutbox)
	take(inbox, len(inbox), &sources.TargetInbox)

	if set.len() == 0 {
		take(s.FallbackRelays, len(s.FallbackRelays), &sources.Fallback)
		logging.DebugMethod("relaylist", "Select",
			"no relay preferences for %s/%s, using %d fallback relays", author, target, set.len())
	}

	return SelectionResult{Relays: set.urls, Sources: sources}
}

// relaySet is an insertion-ordered, capped, deduplicated URL set.
type relaySet struct {
	urls []string
	seen map[string]bool
	cap  int
}

func newRelaySet(max int) *relaySet {
	return &relaySet{seen: make(map[string]bool), cap: max}
}

// add normalizes and inserts url, reporting whether it was newly added.
// Full sets and duplicates are both refused.
func (s *relaySet) add(url string) bool {
	url = nostr.NormalizeURL(url)
	if url == "" || s.seen[url] || len(s.urls) >= s.cap {
		return false
	}
	s.seen[url] = true
	s.urls = append(s.urls, url)
	return true
}

func (s *relaySet) len() int {
	return len(s.urls)
}

package publish

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/girino/outbox-publisher/logging"
	"github.com/girino/outbox-publisher/relaylist"
	"github.com/girino/outbox-publisher/relaypool"
	"github.com/google/uuid"
	"github.com/nbd-wtf/go-nostr"
)

var (
	// ErrNoRelays is returned when a publish resolves to an empty relay set.
	ErrNoRelays = errors.New("no relays to publish to")
	// ErrUnknownRequest is returned when a republish references an id that
	// is not in the history.
	ErrUnknownRequest = errors.New("unknown publish request")
	// ErrNoSender is returned when publishing without a relay sender.
	ErrNoSender = errors.New("no relay sender configured")
)

// Selector resolves the relay set for an interaction between two parties.
// Satisfied by *relaylist.Selector.
type Selector interface {
	Select(ctx context.Context, author, target string) relaylist.SelectionResult
}

// Sender delivers one signed event to one relay. Satisfied by
// *relaypool.Manager.
type Sender interface {
	Send(ctx context.Context, url string, evt *nostr.Event) error
}

// Orchestrator is the publish coordinator: it signs events, resolves relay
// sets, fans deliveries out concurrently and keeps the observable history.
//
// Live request records never leave the Orchestrator: every mutation happens
// under reqMu, and History only ever receives clones taken under that same
// lock. Lock order is always reqMu before the History lock, never the
// reverse.
type Orchestrator struct {
	signer   Signer
	selector Selector
	sender   Sender
	history  *History
	// publish timeout bounding the fan-out join, guarded by reqMu
	publishTimeout time.Duration
	// reqMu serializes mutation of live request records
	reqMu sync.Mutex
}

// New creates an Orchestrator. Any of signer, selector and sender may be
// nil for callers that only use a subset of the API (a nil signer fails
// sign requests, a nil selector disables ModeOutbox).
func New(signer Signer, selector Selector, sender Sender) *Orchestrator {
	return &Orchestrator{
		signer:         signer,
		selector:       selector,
		sender:         sender,
		history:        NewHistory(),
		publishTimeout: 10 * time.Second,
	}
}

// SetPublishTimeout overrides the default fan-out join bound.
func (o *Orchestrator) SetPublishTimeout(d time.Duration) {
	o.reqMu.Lock()
	o.publishTimeout = d
	o.reqMu.Unlock()
}

// History exposes the sign/publish record streams and query helpers.
func (o *Orchestrator) History() *History {
	return o.history
}

// Sign runs the signing capability over a copy of unsigned and records the
// attempt. The input event is never mutated. The returned snapshot's Status
// is StatusFailed when signing failed; signing failures are terminal and
// only retried by calling Sign again.
func (o *Orchestrator) Sign(ctx context.Context, unsigned *nostr.Event) *SignRequest {
	req := &SignRequest{
		ID:        uuid.NewString(),
		Unsigned:  cloneEvent(unsigned),
		Status:    StatusPending,
		CreatedAt: time.Now(),
	}
	o.history.addSign(req.Clone())

	signed := cloneEvent(unsigned)
	var err error
	if o.signer == nil {
		err = ErrNoSigner
	} else {
		err = o.signer.SignEvent(ctx, signed)
	}

	o.reqMu.Lock()
	defer o.reqMu.Unlock()
	if err != nil {
		req.Status = StatusFailed
		req.Error = err.Error()
		logging.Warn("publish: signing event failed: %v", err)
	} else {
		req.Status = StatusSuccess
		req.Signed = signed
		logging.DebugMethod("publish", "Sign", "signed event %s", signed.ID)
	}
	o.history.updateSign(req.Clone())
	return req.Clone()
}

// Publish delivers evt to the relay set resolved for mode, attempting every
// relay concurrently. It returns once all relays have reported or the
// timeout elapsed; relays that never reported are marked failed with a
// timeout reason. The returned snapshot is final.
func (o *Orchestrator) Publish(ctx context.Context, evt *nostr.Event, mode Mode, opts *Options) (*PublishRequest, error) {
	if o.sender == nil {
		return nil, ErrNoSender
	}
	relays, err := o.resolveRelays(ctx, evt, mode, opts)
	if err != nil {
		return nil, err
	}
	req := o.newRequest(evt, mode, relays)
	return o.run(ctx, req, opts), nil
}

// SignAndPublish composes Sign and Publish. When signing fails no relay is
// touched: the operation is failed with the signing error on the sign
// record and a nil publish.
func (o *Orchestrator) SignAndPublish(ctx context.Context, unsigned *nostr.Event, mode Mode, opts *Options) (*PublishOperation, error) {
	sign := o.Sign(ctx, unsigned)
	if sign.Status != StatusSuccess {
		return &PublishOperation{Sign: sign, Status: StatusFailed}, nil
	}

	pub, err := o.Publish(ctx, sign.Signed, mode, opts)
	if err != nil {
		return &PublishOperation{Sign: sign, Status: StatusFailed}, err
	}
	return &PublishOperation{Sign: sign, Publish: pub, Status: pub.Status}, nil
}

// Republish re-attempts delivery of an already-published event, identified
// by its former request id. The relay set recorded on the prior request is
// reused as-is (deterministic retry); pass Options.Relays to override it.
// A new request is created, the original is never touched.
func (o *Orchestrator) Republish(ctx context.Context, requestID string, opts *Options) (*PublishRequest, error) {
	if o.sender == nil {
		return nil, ErrNoSender
	}
	orig := o.history.PublishRequest(requestID)
	if orig == nil {
		return nil, ErrUnknownRequest
	}

	relays := orig.Relays
	if opts != nil && len(opts.Relays) > 0 {
		relays = normalizeRelays(opts.Relays)
	}
	if len(relays) == 0 {
		return nil, ErrNoRelays
	}

	req := o.newRequest(orig.Event, orig.Mode, relays)
	return o.run(ctx, req, opts), nil
}

// RepublishToRelay re-attempts delivery of an already-published event to
// exactly one relay, leaving every other relay of the original request
// alone. Used for manual retry of a single failed relay.
func (o *Orchestrator) RepublishToRelay(ctx context.Context, requestID, relayURL string) (*PublishRequest, error) {
	if o.sender == nil {
		return nil, ErrNoSender
	}
	orig := o.history.PublishRequest(requestID)
	if orig == nil {
		return nil, ErrUnknownRequest
	}

	req := o.newRequest(orig.Event, ModeExplicit, []string{nostr.NormalizeURL(relayURL)})
	return o.run(ctx, req, nil), nil
}

// resolveRelays produces the relay set for one publish call.
func (o *Orchestrator) resolveRelays(ctx context.Context, evt *nostr.Event, mode Mode, opts *Options) ([]string, error) {
	switch mode {
	case ModeExplicit:
		if opts == nil || len(opts.Relays) == 0 {
			return nil, ErrNoRelays
		}
		return normalizeRelays(opts.Relays), nil

	case ModeOutbox:
		if o.selector == nil {
			return nil, ErrNoRelays
		}
		res := o.selector.Select(ctx, evt.PubKey, targetOf(evt))
		if len(res.Relays) == 0 {
			return nil, ErrNoRelays
		}
		logging.DebugMethod("publish", "resolveRelays",
			"selected %d relays (outbox=%d inbox=%d fallback=%d)", len(res.Relays),
			len(res.Sources.AuthorOutbox), len(res.Sources.TargetInbox), len(res.Sources.Fallback))
		return res.Relays, nil
	}
	return nil, ErrNoRelays
}

// targetOf picks the interaction target of an event: the first tagged
// pubkey, or the author itself when the event addresses nobody.
func targetOf(evt *nostr.Event) string {
	for _, tag := range evt.Tags {
		if len(tag) >= 2 && tag[0] == "p" && tag[1] != "" {
			return tag[1]
		}
	}
	return evt.PubKey
}

func normalizeRelays(urls []string) []string {
	seen := make(map[string]bool, len(urls))
	var out []string
	for _, u := range urls {
		u = nostr.NormalizeURL(u)
		if u == "" || seen[u] {
			continue
		}
		seen[u] = true
		out = append(out, u)
	}
	return out
}

// newRequest creates and records a pending publish request.
func (o *Orchestrator) newRequest(evt *nostr.Event, mode Mode, relays []string) *PublishRequest {
	req := &PublishRequest{
		ID:        uuid.NewString(),
		EventID:   evt.ID,
		Event:     cloneEvent(evt),
		Mode:      mode,
		Relays:    append([]string(nil), relays...),
		Results:   make(map[string]RelayResult, len(relays)),
		Status:    StatusPending,
		CreatedAt: time.Now(),
	}
	for _, url := range relays {
		req.Results[url] = RelayResult{Status: RelayPending}
	}
	o.history.addPublish(req.Clone())
	return req
}

// run fans req out to its relays, joins all outcomes within the timeout
// bound, finalizes the aggregate status and returns a snapshot.
func (o *Orchestrator) run(ctx context.Context, req *PublishRequest, opts *Options) *PublishRequest {
	o.reqMu.Lock()
	timeout := o.publishTimeout
	o.reqMu.Unlock()
	if opts != nil && opts.Timeout > 0 {
		timeout = opts.Timeout
	}
	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var wg sync.WaitGroup
	for _, url := range req.Relays {
		wg.Add(1)
		go func(u string) {
			defer wg.Done()
			err := o.sender.Send(cctx, u, req.Event)
			if err != nil {
				o.recordRelay(req, u, RelayFailed, reasonOf(err))
				return
			}
			o.recordRelay(req, u, RelaySuccess, "")
		}(url)
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-cctx.Done():
		// the join must resolve at the bound even if a sender hangs
	}

	o.finalize(req, ctx.Err())
	return o.snapshot(req)
}

// recordRelay stores one relay's outcome and streams the updated snapshot.
// First write wins; reports landing after finalization are dropped.
func (o *Orchestrator) recordRelay(req *PublishRequest, url string, status RelayStatus, reason string) {
	o.reqMu.Lock()
	defer o.reqMu.Unlock()
	if req.final {
		return
	}
	if cur, ok := req.Results[url]; !ok || cur.Status != RelayPending {
		return
	}
	req.Results[url] = RelayResult{Status: status, Reason: reason}
	o.history.updatePublish(req.Clone())
}

// finalize marks still-pending relays failed (canceled when the caller's
// context was canceled, timeout otherwise) and computes the aggregate:
// every relay succeeded = success, none did = failed, anything between =
// partial. A canceled call is recorded as canceled, not dropped.
func (o *Orchestrator) finalize(req *PublishRequest, callerErr error) {
	o.reqMu.Lock()
	defer o.reqMu.Unlock()
	if req.final {
		return
	}
	req.final = true

	canceled := errors.Is(callerErr, context.Canceled)
	pendingReason := relaypool.ReasonTimeout
	if canceled {
		pendingReason = relaypool.ReasonCanceled
	}

	successes, failures := 0, 0
	for url, res := range req.Results {
		if res.Status == RelayPending {
			res = RelayResult{Status: RelayFailed, Reason: pendingReason}
			req.Results[url] = res
		}
		if res.Status == RelaySuccess {
			successes++
		} else {
			failures++
		}
	}

	switch {
	case canceled && successes == 0:
		req.Status = StatusCanceled
	case failures == 0:
		req.Status = StatusSuccess
	case successes == 0:
		req.Status = StatusFailed
	default:
		req.Status = StatusPartial
	}
	req.CompletedAt = time.Now()
	o.history.updatePublish(req.Clone())

	logging.DebugMethod("publish", "finalize", "request %s for event %s: %s (%d/%d relays)",
		req.ID, req.EventID, req.Status, successes, len(req.Results))
}

func (o *Orchestrator) snapshot(req *PublishRequest) *PublishRequest {
	o.reqMu.Lock()
	defer o.reqMu.Unlock()
	return req.Clone()
}

// reasonOf extracts the delivery failure reason from a sender error.
func reasonOf(err error) string {
	var derr *relaypool.DeliveryError
	if errors.As(err, &derr) {
		return derr.Reason
	}
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return relaypool.ReasonTimeout
	case errors.Is(err, context.Canceled):
		return relaypool.ReasonCanceled
	}
	return relaypool.ReasonMalformedResponse
}

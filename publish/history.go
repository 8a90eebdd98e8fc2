package publish

import (
	"sync"
)

// History category names accepted by Clear.
const (
	CategoryAll     = "all"
	CategorySign    = "sign"
	CategoryPublish = "publish"
)

// Stats aggregates terminal statuses across the recorded history.
type Stats struct {
	SignTotal   int `json:"sign_total"`
	SignPending int `json:"sign_pending"`
	SignSuccess int `json:"sign_success"`
	SignFailed  int `json:"sign_failed"`

	PublishTotal    int `json:"publish_total"`
	PublishPending  int `json:"publish_pending"`
	PublishSuccess  int `json:"publish_success"`
	PublishPartial  int `json:"publish_partial"`
	PublishFailed   int `json:"publish_failed"`
	PublishCanceled int `json:"publish_canceled"`
}

// History is the in-memory, append-only record of sign and publish
// requests, most recent first. It holds immutable snapshots only: the
// orchestrator keeps the live records to itself and hands History a fresh
// clone on every change, so readers and feed subscribers never share
// memory with an in-flight request. Every append and status change is
// pushed to the corresponding feed, so consumers can react without polling.
type History struct {
	mu        sync.RWMutex
	signs     []*SignRequest
	publishes []*PublishRequest

	signFeed    *Feed[*SignRequest]
	publishFeed *Feed[*PublishRequest]
}

// NewHistory creates an empty History.
func NewHistory() *History {
	return &History{
		signFeed:    NewFeed[*SignRequest](),
		publishFeed: NewFeed[*PublishRequest](),
	}
}

// SignFeed streams a snapshot of every sign request as it is created or
// resolved. New subscribers receive the most recent snapshot immediately.
func (h *History) SignFeed() *Feed[*SignRequest] {
	return h.signFeed
}

// PublishFeed streams a snapshot of every publish request as it is created,
// updated per relay, or finalized.
func (h *History) PublishFeed() *Feed[*PublishRequest] {
	return h.publishFeed
}

// addSign prepends a snapshot of a new sign request and streams it.
func (h *History) addSign(snap *SignRequest) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.signs = append([]*SignRequest{snap}, h.signs...)
	h.signFeed.Publish(snap.Clone())
}

// addPublish prepends a snapshot of a new publish request and streams it.
func (h *History) addPublish(snap *PublishRequest) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.publishes = append([]*PublishRequest{snap}, h.publishes...)
	h.publishFeed.Publish(snap.Clone())
}

// updateSign replaces the stored snapshot for snap.ID and streams it.
// Updates for requests no longer listed (cleared mid-flight) are dropped.
func (h *History) updateSign(snap *SignRequest) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for i, req := range h.signs {
		if req.ID == snap.ID {
			h.signs[i] = snap
			h.signFeed.Publish(snap.Clone())
			return
		}
	}
}

// updatePublish replaces the stored snapshot for snap.ID and streams it.
// Updates for requests no longer listed (cleared mid-flight) are dropped.
func (h *History) updatePublish(snap *PublishRequest) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for i, req := range h.publishes {
		if req.ID == snap.ID {
			h.publishes[i] = snap
			h.publishFeed.Publish(snap.Clone())
			return
		}
	}
}

// SignRequest returns a snapshot of the sign request with the given id.
func (h *History) SignRequest(id string) *SignRequest {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, req := range h.signs {
		if req.ID == id {
			return req.Clone()
		}
	}
	return nil
}

// PublishRequest returns a snapshot of the publish request with the given id.
func (h *History) PublishRequest(id string) *PublishRequest {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, req := range h.publishes {
		if req.ID == id {
			return req.Clone()
		}
	}
	return nil
}

// PublishRequestsForEvent returns snapshots of every publish request for
// one event id, most recent first.
func (h *History) PublishRequestsForEvent(eventID string) []*PublishRequest {
	h.mu.RLock()
	defer h.mu.RUnlock()
	var out []*PublishRequest
	for _, req := range h.publishes {
		if req.EventID == eventID {
			out = append(out, req.Clone())
		}
	}
	return out
}

// SignHistory returns a snapshot of all sign requests, most recent first.
func (h *History) SignHistory() []*SignRequest {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]*SignRequest, len(h.signs))
	for i, req := range h.signs {
		out[i] = req.Clone()
	}
	return out
}

// PublishHistory returns a snapshot of all publish requests, most recent
// first.
func (h *History) PublishHistory() []*PublishRequest {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]*PublishRequest, len(h.publishes))
	for i, req := range h.publishes {
		out[i] = req.Clone()
	}
	return out
}

// Stats counts requests by status across the whole history.
func (h *History) Stats() Stats {
	h.mu.RLock()
	defer h.mu.RUnlock()

	var s Stats
	s.SignTotal = len(h.signs)
	for _, req := range h.signs {
		switch req.Status {
		case StatusPending:
			s.SignPending++
		case StatusSuccess:
			s.SignSuccess++
		case StatusFailed:
			s.SignFailed++
		}
	}

	s.PublishTotal = len(h.publishes)
	for _, req := range h.publishes {
		switch req.Status {
		case StatusPending:
			s.PublishPending++
		case StatusSuccess:
			s.PublishSuccess++
		case StatusPartial:
			s.PublishPartial++
		case StatusFailed:
			s.PublishFailed++
		case StatusCanceled:
			s.PublishCanceled++
		}
	}
	return s
}

// Clear empties the selected history category. Requests still resolving
// keep running; they are simply no longer listed (their records live on
// until they finalize, unobserved).
func (h *History) Clear(category string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	switch category {
	case CategorySign:
		h.signs = nil
		h.signFeed.Reset()
	case CategoryPublish:
		h.publishes = nil
		h.publishFeed.Reset()
	default:
		h.signs = nil
		h.publishes = nil
		h.signFeed.Reset()
		h.publishFeed.Reset()
	}
}

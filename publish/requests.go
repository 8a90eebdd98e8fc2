// Copyright (c) 2025 Girino Vey.
//
// This software is licensed under Girino's Anarchist License (GAL).
// See LICENSE file for full license text.
// License available at: https://license.girino.org/
//
// Package publish coordinates signing and multi-relay delivery of nostr
// events: it resolves the relay set for an interaction, fans the event out
// to every relay concurrently, records per-relay outcomes, and keeps an
// observable history of every sign and publish attempt.
package publish

import (
	"time"

	"github.com/nbd-wtf/go-nostr"
)

// Mode picks how the relay set for a publish is resolved.
type Mode string

const (
	// ModeOutbox resolves relays from the author's outbox and the
	// target's inbox relay lists.
	ModeOutbox Mode = "outbox"
	// ModeExplicit publishes to a caller-supplied relay list.
	ModeExplicit Mode = "explicit"
)

// Status is the aggregate state of a sign or publish request.
type Status string

const (
	StatusPending  Status = "pending"
	StatusSuccess  Status = "success"
	StatusPartial  Status = "partial"
	StatusFailed   Status = "failed"
	StatusCanceled Status = "canceled"
)

// RelayStatus is the delivery state of one relay within a publish request.
type RelayStatus string

const (
	RelayPending RelayStatus = "pending"
	RelaySuccess RelayStatus = "success"
	RelayFailed  RelayStatus = "failed"
)

// RelayResult is one relay's recorded delivery outcome.
type RelayResult struct {
	Status RelayStatus `json:"status"`
	Reason string      `json:"reason,omitempty"`
}

// SignRequest is one signing attempt for one unsigned event. Signing never
// mutates the input; Signed holds the independent signed copy.
type SignRequest struct {
	ID        string       `json:"id"`
	Unsigned  *nostr.Event `json:"unsigned"`
	Signed    *nostr.Event `json:"signed,omitempty"`
	Status    Status       `json:"status"`
	Error     string       `json:"error,omitempty"`
	CreatedAt time.Time    `json:"created_at"`
}

// PublishRequest is one attempt to deliver one signed event to one resolved
// relay set. Once every relay has reported, or the timeout elapsed, the
// request is final and never mutated again.
type PublishRequest struct {
	ID          string                 `json:"id"`
	EventID     string                 `json:"event_id"`
	Event       *nostr.Event           `json:"-"`
	Mode        Mode                   `json:"mode"`
	Relays      []string               `json:"relays"`
	Results     map[string]RelayResult `json:"results"`
	Status      Status                 `json:"status"`
	CreatedAt   time.Time              `json:"created_at"`
	CompletedAt time.Time              `json:"completed_at,omitzero"`

	final bool
}

// PublishOperation pairs a sign attempt with the publish it fed. When
// signing fails no publish is attempted and Publish stays nil.
type PublishOperation struct {
	Sign    *SignRequest    `json:"sign"`
	Publish *PublishRequest `json:"publish,omitempty"`
	Status  Status          `json:"status"`
}

// Options tunes a single publish call.
type Options struct {
	// Relays is the relay list for ModeExplicit. For Republish it
	// overrides the recorded relay set.
	Relays []string
	// Timeout bounds the fan-out join for this call; zero means the
	// orchestrator default.
	Timeout time.Duration
}

// Clone returns an independent snapshot of the request.
func (r *SignRequest) Clone() *SignRequest {
	if r == nil {
		return nil
	}
	out := *r
	out.Unsigned = cloneEvent(r.Unsigned)
	out.Signed = cloneEvent(r.Signed)
	return &out
}

// Clone returns an independent snapshot of the request.
func (r *PublishRequest) Clone() *PublishRequest {
	if r == nil {
		return nil
	}
	out := *r
	out.Event = cloneEvent(r.Event)
	out.Relays = append([]string(nil), r.Relays...)
	out.Results = make(map[string]RelayResult, len(r.Results))
	for url, res := range r.Results {
		out.Results[url] = res
	}
	return &out
}

func cloneEvent(evt *nostr.Event) *nostr.Event {
	if evt == nil {
		return nil
	}
	out := *evt
	out.Tags = make(nostr.Tags, len(evt.Tags))
	for i, tag := range evt.Tags {
		out.Tags[i] = append(nostr.Tag(nil), tag...)
	}
	return &out
}

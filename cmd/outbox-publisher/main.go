// Copyright (c) 2025 Girino Vey.
//
// This software is licensed under Girino's Anarchist License (GAL).
// See LICENSE file for full license text.
// License available at: https://license.girino.org/
//
// Outbox Publisher - signs nostr events and delivers them across the relay
// sets both parties prefer, with per-relay outcome tracking and retry.
package main

import (
	"context"
	"encoding/json"
	"io"
	"os"
	"strings"

	"github.com/girino/outbox-publisher/logging"
	"github.com/girino/outbox-publisher/publish"
	"github.com/girino/outbox-publisher/relayauth"
	"github.com/girino/outbox-publisher/relaylist"
	"github.com/girino/outbox-publisher/relaypool"
	"github.com/nbd-wtf/go-nostr"
	nip19 "github.com/nbd-wtf/go-nostr/nip19"
)

func main() {
	cfg := LoadConfig()
	logging.SetVerbose(cfg.Verbose)
	logging.Info("%s %s starting", ProjectName, Version)

	sec := cfg.SecKey
	if sec == "" {
		// attempt to generate a new secret if none provided
		sec = nostr.GeneratePrivateKey()
		logging.Warn("no secret key provided, generated an ephemeral one")
	}
	signer, err := publish.NewKeySigner(sec)
	if err != nil {
		logging.Fatal("loading secret key: %v", err)
	}
	// do not log secrets

	pool := relaypool.NewManager(signer)
	pool.SetAuthPreference(parseAuthPref(cfg.AuthPref))
	defer pool.Close()

	var selector *relaylist.Selector
	if len(cfg.QueryRemotes) > 0 || len(cfg.FallbackRelays) > 0 {
		resolver := relaylist.NewResolver(cfg.QueryRemotes)
		if err := resolver.Init(); err != nil {
			logging.Fatal("initializing relay-list resolver: %v", err)
		}
		defer resolver.Close()
		resolver.SetCacheTTL(cfg.CacheTTL)
		selector = relaylist.NewSelector(resolver, cfg.FallbackRelays)
	}

	orch := publish.New(signer, selector, pool)
	orch.SetPublishTimeout(cfg.PublishTimeout)

	ctx := context.Background()

	evt := buildEvent(cfg, signer.PublicKey())
	op, err := orch.SignAndPublish(ctx, evt, publishMode(cfg), publishOptions(cfg))
	if err != nil {
		logging.Fatal("publishing: %v", err)
	}
	if op.Publish == nil {
		logging.Fatal("signing failed: %s", op.Sign.Error)
	}
	req := op.Publish

	if cfg.RetryFailed && req.Status == publish.StatusPartial {
		req = retryFailedRelays(ctx, orch, req)
	}

	report(req, pool)
	if req.Status == publish.StatusFailed || req.Status == publish.StatusCanceled {
		os.Exit(1)
	}
}

// retryFailedRelays re-attempts each failed relay of req once, returning
// the refreshed view of the original request plus retry outcomes folded in.
func retryFailedRelays(ctx context.Context, orch *publish.Orchestrator, req *publish.PublishRequest) *publish.PublishRequest {
	for _, url := range req.Relays {
		if req.Results[url].Status != publish.RelayFailed {
			continue
		}
		logging.Info("retrying failed relay %s", url)
		retry, err := orch.RepublishToRelay(ctx, req.ID, url)
		if err != nil {
			logging.Warn("retry of %s failed: %v", url, err)
			continue
		}
		if res, ok := retry.Results[url]; ok && res.Status == publish.RelaySuccess {
			// reflect the recovered relay in the report; the original
			// request in the history stays as recorded
			req.Results[url] = res
		}
	}
	return req
}

// buildEvent assembles the unsigned event from config.
func buildEvent(cfg *Config, author string) *nostr.Event {
	content := cfg.Content
	if content == "-" {
		data, err := io.ReadAll(os.Stdin)
		if err != nil {
			logging.Fatal("reading content from stdin: %v", err)
		}
		content = string(data)
	}

	evt := &nostr.Event{
		PubKey:    author,
		Kind:      cfg.Kind,
		CreatedAt: nostr.Now(),
		Content:   content,
	}
	if target := decodePubkey(cfg.Target); target != "" && target != author {
		evt.Tags = append(evt.Tags, nostr.Tag{"p", target})
	}
	return evt
}

// decodePubkey accepts npub bech32 or raw hex and returns hex.
func decodePubkey(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	if strings.HasPrefix(s, "npub") {
		if pfx, val, err := nip19.Decode(s); err == nil && pfx == "npub" {
			if pk, ok := val.(string); ok {
				return pk
			}
		}
		logging.Fatal("invalid npub: %s", s)
	}
	return s
}

func publishMode(cfg *Config) publish.Mode {
	if cfg.Mode == "explicit" || len(cfg.Relays) > 0 {
		return publish.ModeExplicit
	}
	return publish.ModeOutbox
}

func publishOptions(cfg *Config) *publish.Options {
	if len(cfg.Relays) == 0 {
		return nil
	}
	return &publish.Options{Relays: cfg.Relays}
}

func parseAuthPref(s string) relayauth.Preference {
	switch s {
	case "always":
		return relayauth.PreferenceAlways
	case "never":
		return relayauth.PreferenceNever
	}
	return relayauth.PreferenceAsk
}

// report prints the per-relay outcomes and the run's counters as JSON.
func report(req *publish.PublishRequest, pool *relaypool.Manager) {
	logging.Info("request %s for event %s: %s", req.ID, req.EventID, req.Status)
	for _, url := range req.Relays {
		res := req.Results[url]
		if res.Reason != "" {
			logging.Info("  %s: %s (%s)", url, res.Status, res.Reason)
		} else {
			logging.Info("  %s: %s", url, res.Status)
		}
	}

	out := struct {
		Version string                  `json:"version"`
		Request *publish.PublishRequest `json:"request"`
		Pool    relaypool.Stats         `json:"pool"`
	}{Version, req, pool.Stats()}
	data, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		logging.Error("encoding report: %v", err)
		return
	}
	os.Stdout.Write(data)
	os.Stdout.Write([]byte("\n"))
}

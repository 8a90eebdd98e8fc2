// Copyright (c) 2025 Girino Vey.
//
// This software is licensed under Girino's Anarchist License (GAL).
// See LICENSE file for full license text.
// License available at: https://license.girino.org/
//
// Configuration management for the outbox publisher CLI.
package main

import (
	"flag"
	"os"
	"strings"
	"time"
)

// getEnvOr returns the environment variable value or a default if not set
func getEnvOr(env, defaultValue string) string {
	if v := os.Getenv(env); v != "" {
		return v
	}
	return defaultValue
}

// Config holds runtime configuration coming from environment and CLI flags.
type Config struct {
	QueryRemotes   []string
	FallbackRelays []string
	Relays         []string
	SecKey         string
	AuthPref       string
	Verbose        string

	Mode        string
	Kind        int
	Content     string
	Target      string
	RetryFailed bool

	PublishTimeout time.Duration
	CacheTTL       time.Duration
}

// LoadConfig reads environment variables and flags. Flags override env values.
func LoadConfig() *Config {
	queryRemotes := flag.String("query-remotes", os.Getenv("QUERY_REMOTES"),
		"comma-separated relay URLs used to look up NIP-65 relay lists (env: QUERY_REMOTES)")
	fallbackRelays := flag.String("fallback-relays", os.Getenv("FALLBACK_RELAYS"),
		"comma-separated aggregator relays used when neither party advertises any (env: FALLBACK_RELAYS)")
	relays := flag.String("relays", os.Getenv("RELAYS"),
		"comma-separated relay URLs for explicit mode (env: RELAYS)")
	secKey := flag.String("seckey", os.Getenv("SECKEY"),
		"secret key for signing, nsec bech32 or raw hex (env: SECKEY)")
	authPref := flag.String("auth-pref", getEnvOr("AUTH_PREF", "ask"),
		"standing answer to relay auth challenges: always, never or ask (env: AUTH_PREF)")
	verbose := flag.String("verbose", os.Getenv("VERBOSE"),
		"verbose logging control: '1'/'true' for all, 'relaypool' for module, 'relaypool.Send,publish' for specific methods (env: VERBOSE)")

	mode := flag.String("mode", getEnvOr("MODE", "outbox"),
		"relay selection mode: outbox or explicit (env: MODE)")
	kind := flag.Int("kind", 1, "event kind to publish")
	content := flag.String("content", "", "event content; '-' reads stdin")
	target := flag.String("target", "",
		"target identity for outbox selection, npub or hex pubkey (defaults to the author)")
	retryFailed := flag.Bool("retry-failed", false,
		"after a partial delivery, retry each failed relay once")

	publishTimeout := flag.Duration("publish-timeout",
		envDuration("PUBLISH_TIMEOUT", 10*time.Second),
		"bound on the whole relay fan-out (env: PUBLISH_TIMEOUT)")
	cacheTTL := flag.Duration("cache-ttl",
		envDuration("CACHE_TTL", time.Hour),
		"relay-list cache TTL (env: CACHE_TTL)")

	flag.Parse()

	return &Config{
		QueryRemotes:   splitList(*queryRemotes),
		FallbackRelays: splitList(*fallbackRelays),
		Relays:         splitList(*relays),
		SecKey:         *secKey,
		AuthPref:       *authPref,
		Verbose:        *verbose,
		Mode:           *mode,
		Kind:           *kind,
		Content:        *content,
		Target:         *target,
		RetryFailed:    *retryFailed,
		PublishTimeout: *publishTimeout,
		CacheTTL:       *cacheTTL,
	}
}

func splitList(s string) []string {
	if s == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}

func envDuration(env string, defaultValue time.Duration) time.Duration {
	v := os.Getenv(env)
	if v == "" {
		return defaultValue
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultValue
	}
	return d
}

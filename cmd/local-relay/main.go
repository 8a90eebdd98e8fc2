// Copyright (c) 2025 Girino Vey.
//
// This software is licensed under Girino's Anarchist License (GAL).
// See LICENSE file for full license text.
// License available at: https://license.girino.org/
//
// local-relay - a small in-memory khatru relay for exercising the outbox
// publisher end to end on localhost.
package main

import (
	"encoding/json"
	"flag"
	"net"
	"net/http"
	"os"
	"strconv"

	"github.com/fiatjaf/eventstore/slicestore"
	"github.com/fiatjaf/khatru"
	"github.com/girino/outbox-publisher/logging"
	"github.com/nbd-wtf/go-nostr"
)

func main() {
	envAddr := os.Getenv("ADDR")
	if envAddr == "" {
		envAddr = ":10547"
	}
	addr := flag.String("addr", envAddr, "address to listen on (env: ADDR)")
	name := flag.String("relay-name", os.Getenv("RELAY_NAME"), "relay name (env: RELAY_NAME)")
	verbose := flag.String("verbose", os.Getenv("VERBOSE"), "verbose logging control (env: VERBOSE)")
	flag.Parse()

	logging.SetVerbose(*verbose)

	store := &slicestore.SliceStore{}
	if err := store.Init(); err != nil {
		logging.Fatal("initializing slicestore: %v", err)
	}
	defer store.Close()

	r := khatru.NewRelay()
	r.Info.Name = *name
	if r.Info.Name == "" {
		r.Info.Name = "local-relay"
	}
	r.Info.Software = "https://github.com/girino/outbox-publisher"
	r.Info.Version = "0.1.0"
	r.Info.PubKey, _ = nostr.GetPublicKey(nostr.GeneratePrivateKey())

	// hook store functions into relay
	r.StoreEvent = append(r.StoreEvent, store.SaveEvent)
	r.QueryEvents = append(r.QueryEvents, store.QueryEvents)
	r.CountEvents = append(r.CountEvents, store.CountEvents)

	// expose a stats endpoint using the relay's router
	mux := r.Router()
	mux.HandleFunc("/stats", func(w http.ResponseWriter, req *http.Request) {
		count, err := store.CountEvents(req.Context(), nostr.Filter{})
		if err != nil {
			http.Error(w, "failed to count events", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(map[string]int64{"stored_events": count}); err != nil {
			http.Error(w, "failed to encode stats", http.StatusInternalServerError)
		}
	})

	// parse addr into host and port
	host, portStr, err := net.SplitHostPort(*addr)
	if err != nil {
		// maybe user provided only a port like ":8080"
		if (*addr)[0] == ':' {
			host = ""
			portStr = (*addr)[1:]
		} else {
			logging.Fatal("invalid addr: %v", err)
		}
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		logging.Fatal("invalid port: %v", err)
	}

	logging.Info("Starting local relay on %s", *addr)
	if err := r.Start(host, port); err != nil {
		logging.Fatal("relay exited: %v", err)
	}
}

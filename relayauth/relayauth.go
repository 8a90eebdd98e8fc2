// Copyright (c) 2025 Girino Vey.
//
// This software is licensed under Girino's Anarchist License (GAL).
// See LICENSE file for full license text.
// License available at: https://license.girino.org/
//
// Package relayauth models the NIP-42 authentication lifecycle of a single
// relay connection as a pure state machine. The machine holds no state of its
// own: the connection manager owns the current Status per relay and feeds
// every auth-related event through Transition, reassigning the returned
// status. Events must be applied in the order the connection delivers them.
package relayauth

// Status is the authentication state of one open relay connection.
type Status string

const (
	StatusNone              Status = "none"
	StatusChallengeReceived Status = "challenge_received"
	StatusAuthenticating    Status = "authenticating"
	StatusAuthenticated     Status = "authenticated"
	StatusFailed            Status = "failed"
	StatusRejected          Status = "rejected"
)

// Preference is the user's standing answer to relay auth challenges.
// It is configuration, re-supplied with every challenge; the machine
// never remembers it.
type Preference string

const (
	PreferenceAlways Preference = "always"
	PreferenceNever  Preference = "never"
	PreferenceAsk    Preference = "ask"
)

// EventType tags an auth Event.
type EventType string

const (
	EventChallengeReceived EventType = "CHALLENGE_RECEIVED"
	EventUserAccepted      EventType = "USER_ACCEPTED"
	EventUserRejected      EventType = "USER_REJECTED"
	EventAuthSuccess       EventType = "AUTH_SUCCESS"
	EventAuthFailed        EventType = "AUTH_FAILED"
	EventDisconnected      EventType = "DISCONNECTED"
)

// Event is one auth-related occurrence on a relay connection.
// Challenge and Preference are only meaningful for EventChallengeReceived.
type Event struct {
	Type       EventType
	Challenge  string
	Preference Preference
}

// Result is the outcome of applying one Event to one Status.
//
// ShouldAutoAuth tells the connection manager to start the signed auth
// response immediately, without user interaction. ClearChallenge tells it
// to drop any cached challenge string, which is no longer actionable.
type Result struct {
	Status         Status
	ShouldAutoAuth bool
	ClearChallenge bool
}

// noop keeps the current status and raises no flags. Unhandled (status,
// event) pairs are not errors: an out-of-place event leaves the connection
// exactly where it was.
func noop(current Status) Result {
	return Result{Status: current}
}

// Transition applies ev to current and returns the new status plus
// side-effect flags. It is deterministic and total: every (status, event)
// pair yields a Result, never an error.
//
// The machine only ever enters StatusAuthenticating through an explicit
// user accept or a PreferenceAlways challenge. That is the consent
// boundary; nothing else may start an auth response.
func Transition(current Status, ev Event) Result {
	switch ev.Type {
	case EventChallengeReceived:
		return challenge(current, ev.Preference)

	case EventUserAccepted:
		if current == StatusChallengeReceived {
			return Result{Status: StatusAuthenticating}
		}

	case EventUserRejected:
		if current == StatusChallengeReceived {
			return Result{Status: StatusRejected, ClearChallenge: true}
		}

	case EventAuthSuccess:
		if current == StatusChallengeReceived || current == StatusAuthenticating {
			return Result{Status: StatusAuthenticated, ClearChallenge: true}
		}

	case EventAuthFailed:
		if current == StatusAuthenticating {
			return Result{Status: StatusFailed, ClearChallenge: true}
		}

	case EventDisconnected:
		// Disconnect resets everything except an already-idle connection,
		// which stays untouched (no flags).
		if current != StatusNone {
			return Result{Status: StatusNone, ClearChallenge: true}
		}
	}

	return noop(current)
}

// challenge handles EventChallengeReceived from every status. Relays may
// re-challenge at any time, including while already authenticated; the
// negotiation restarts without invalidating anything already delivered.
func challenge(current Status, pref Preference) Result {
	switch current {
	case StatusNone, StatusFailed, StatusRejected:
		switch pref {
		case PreferenceAlways:
			return Result{Status: StatusAuthenticating, ShouldAutoAuth: true}
		case PreferenceNever:
			return Result{Status: StatusRejected, ClearChallenge: true}
		default:
			return Result{Status: StatusChallengeReceived}
		}

	case StatusAuthenticated:
		if pref == PreferenceAlways {
			return Result{Status: StatusAuthenticating, ShouldAutoAuth: true}
		}
		return Result{Status: StatusChallengeReceived}
	}

	// challenge_received and authenticating ignore repeated challenges
	return noop(current)
}

package relayauth

import "testing"

func challengeEvent(pref Preference) Event {
	return Event{Type: EventChallengeReceived, Challenge: "nonce-123", Preference: pref}
}

// TestTransition_Table walks every transition the machine defines.
func TestTransition_Table(t *testing.T) {
	cases := []struct {
		name    string
		from    Status
		ev      Event
		want    Result
	}{
		{"none/challenge-always", StatusNone, challengeEvent(PreferenceAlways),
			Result{StatusAuthenticating, true, false}},
		{"none/challenge-never", StatusNone, challengeEvent(PreferenceNever),
			Result{StatusRejected, false, true}},
		{"none/challenge-ask", StatusNone, challengeEvent(PreferenceAsk),
			Result{StatusChallengeReceived, false, false}},
		{"none/challenge-no-pref", StatusNone, challengeEvent(""),
			Result{StatusChallengeReceived, false, false}},

		{"challenge_received/accepted", StatusChallengeReceived, Event{Type: EventUserAccepted},
			Result{StatusAuthenticating, false, false}},
		{"challenge_received/rejected", StatusChallengeReceived, Event{Type: EventUserRejected},
			Result{StatusRejected, false, true}},
		{"challenge_received/auth-success", StatusChallengeReceived, Event{Type: EventAuthSuccess},
			Result{StatusAuthenticated, false, true}},
		{"challenge_received/disconnected", StatusChallengeReceived, Event{Type: EventDisconnected},
			Result{StatusNone, false, true}},

		{"authenticating/auth-success", StatusAuthenticating, Event{Type: EventAuthSuccess},
			Result{StatusAuthenticated, false, true}},
		{"authenticating/auth-failed", StatusAuthenticating, Event{Type: EventAuthFailed},
			Result{StatusFailed, false, true}},
		{"authenticating/disconnected", StatusAuthenticating, Event{Type: EventDisconnected},
			Result{StatusNone, false, true}},

		{"authenticated/disconnected", StatusAuthenticated, Event{Type: EventDisconnected},
			Result{StatusNone, false, true}},
		{"authenticated/challenge-always", StatusAuthenticated, challengeEvent(PreferenceAlways),
			Result{StatusAuthenticating, true, false}},
		{"authenticated/challenge-ask", StatusAuthenticated, challengeEvent(PreferenceAsk),
			Result{StatusChallengeReceived, false, false}},
		{"authenticated/challenge-never", StatusAuthenticated, challengeEvent(PreferenceNever),
			Result{StatusChallengeReceived, false, false}},

		{"failed/challenge-always", StatusFailed, challengeEvent(PreferenceAlways),
			Result{StatusAuthenticating, true, false}},
		{"failed/challenge-never", StatusFailed, challengeEvent(PreferenceNever),
			Result{StatusRejected, false, true}},
		{"failed/challenge-ask", StatusFailed, challengeEvent(PreferenceAsk),
			Result{StatusChallengeReceived, false, false}},
		{"failed/disconnected", StatusFailed, Event{Type: EventDisconnected},
			Result{StatusNone, false, true}},

		{"rejected/challenge-always", StatusRejected, challengeEvent(PreferenceAlways),
			Result{StatusAuthenticating, true, false}},
		{"rejected/challenge-never", StatusRejected, challengeEvent(PreferenceNever),
			Result{StatusRejected, false, true}},
		{"rejected/challenge-ask", StatusRejected, challengeEvent(PreferenceAsk),
			Result{StatusChallengeReceived, false, false}},
		{"rejected/disconnected", StatusRejected, Event{Type: EventDisconnected},
			Result{StatusNone, false, true}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := Transition(tc.from, tc.ev)
			if got != tc.want {
				t.Errorf("Transition(%s, %s) = %+v, want %+v", tc.from, tc.ev.Type, got, tc.want)
			}
		})
	}
}

// TestTransition_UnhandledPairsAreNoops sweeps every (status, event) pair and
// verifies that anything outside the defined table returns the input status
// with both flags false, never an error or a surprise transition.
func TestTransition_UnhandledPairsAreNoops(t *testing.T) {
	statuses := []Status{StatusNone, StatusChallengeReceived, StatusAuthenticating,
		StatusAuthenticated, StatusFailed, StatusRejected}
	events := []Event{
		challengeEvent(PreferenceAlways),
		challengeEvent(PreferenceNever),
		challengeEvent(PreferenceAsk),
		{Type: EventUserAccepted},
		{Type: EventUserRejected},
		{Type: EventAuthSuccess},
		{Type: EventAuthFailed},
		{Type: EventDisconnected},
	}

	handled := func(s Status, ev Event) bool {
		switch ev.Type {
		case EventChallengeReceived:
			return s != StatusChallengeReceived && s != StatusAuthenticating
		case EventUserAccepted, EventUserRejected:
			return s == StatusChallengeReceived
		case EventAuthSuccess:
			return s == StatusChallengeReceived || s == StatusAuthenticating
		case EventAuthFailed:
			return s == StatusAuthenticating
		case EventDisconnected:
			return s != StatusNone
		}
		return false
	}

	for _, s := range statuses {
		for _, ev := range events {
			if handled(s, ev) {
				continue
			}
			got := Transition(s, ev)
			want := Result{Status: s}
			if got != want {
				t.Errorf("Transition(%s, %s) = %+v, want no-op %+v", s, ev.Type, got, want)
			}
		}
	}
}

// TestTransition_DisconnectedFromNone verifies the boundary: disconnecting an
// already-idle connection is a pure no-op, with no clear-challenge flag.
func TestTransition_DisconnectedFromNone(t *testing.T) {
	got := Transition(StatusNone, Event{Type: EventDisconnected})
	if got != (Result{Status: StatusNone}) {
		t.Errorf("Transition(none, DISCONNECTED) = %+v, want no-op", got)
	}
}

// TestTransition_NeverMutatesWithoutConsent checks that authenticating is
// only reachable via user accept or an always preference.
func TestTransition_NeverMutatesWithoutConsent(t *testing.T) {
	statuses := []Status{StatusNone, StatusChallengeReceived, StatusAuthenticating,
		StatusAuthenticated, StatusFailed, StatusRejected}
	for _, s := range statuses {
		for _, ev := range []Event{
			challengeEvent(PreferenceAsk),
			challengeEvent(PreferenceNever),
			{Type: EventUserRejected},
			{Type: EventAuthSuccess},
			{Type: EventAuthFailed},
			{Type: EventDisconnected},
		} {
			got := Transition(s, ev)
			if s != StatusAuthenticating && got.Status == StatusAuthenticating {
				t.Errorf("Transition(%s, %s) entered authenticating without consent", s, ev.Type)
			}
			if got.ShouldAutoAuth {
				t.Errorf("Transition(%s, %s) requested auto-auth without an always preference", s, ev.Type)
			}
		}
	}
}

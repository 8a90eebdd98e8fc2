package publish

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// drain pulls snapshots from a publish feed until it sees a terminal status
// for the given request id.
func drainUntilFinal(t *testing.T, ch <-chan *PublishRequest, id string) *PublishRequest {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case req := <-ch:
			if req != nil && req.ID == id && req.Status != StatusPending {
				return req
			}
		case <-deadline:
			t.Fatal("never saw a terminal snapshot on the publish feed")
			return nil
		}
	}
}

func TestPublishFeed_StreamsRequestLifecycle(t *testing.T) {
	o := New(&fakeSigner{}, nil, newFakeSender())

	ch, unsub := o.History().PublishFeed().Subscribe()
	defer unsub()

	req, err := o.Publish(context.Background(), testEvent(), ModeExplicit,
		explicitOpts("wss://a.example.com"))
	require.NoError(t, err)

	final := drainUntilFinal(t, ch, req.ID)
	require.Equal(t, StatusSuccess, final.Status)
}

func TestPublishFeed_StreamsPerRelayOutcomes(t *testing.T) {
	o := New(&fakeSigner{}, nil, newFakeSender())

	ch, unsub := o.History().PublishFeed().Subscribe()
	defer unsub()

	req, err := o.Publish(context.Background(), testEvent(), ModeExplicit,
		explicitOpts("wss://a.example.com", "wss://b.example.com"))
	require.NoError(t, err)

	// with two relays the feed carries: the pending creation, one snapshot
	// per recorded relay outcome, then the finalized request
	sawSingleOutcome := false
	deadline := time.After(2 * time.Second)
	for {
		select {
		case snap := <-ch:
			if snap == nil || snap.ID != req.ID {
				continue
			}
			if snap.Status != StatusPending {
				require.True(t, sawSingleOutcome,
					"no intermediate per-relay snapshot before the final one")
				return
			}
			recorded := 0
			for _, res := range snap.Results {
				if res.Status != RelayPending {
					recorded++
				}
			}
			if recorded == 1 {
				sawSingleOutcome = true
			}
		case <-deadline:
			t.Fatal("never saw a terminal snapshot on the publish feed")
		}
	}
}

func TestPublishFeed_SnapshotsAreIndependent(t *testing.T) {
	o := New(&fakeSigner{}, nil, newFakeSender())

	ch, unsub := o.History().PublishFeed().Subscribe()
	defer unsub()

	req, err := o.Publish(context.Background(), testEvent(), ModeExplicit,
		explicitOpts("wss://a.example.com"))
	require.NoError(t, err)

	snap := drainUntilFinal(t, ch, req.ID)
	// mutating a received snapshot must not corrupt the history
	snap.Results["wss://a.example.com"] = RelayResult{Status: RelayFailed, Reason: "tampered"}
	snap.Relays[0] = "wss://tampered.example.com"

	stored := o.History().PublishRequest(req.ID)
	require.Equal(t, RelaySuccess, stored.Results["wss://a.example.com"].Status)
	require.Equal(t, "wss://a.example.com", stored.Relays[0])
}

func TestSignFeed_StreamsSignRequests(t *testing.T) {
	o := New(&fakeSigner{fail: true}, nil, newFakeSender())

	ch, unsub := o.History().SignFeed().Subscribe()
	defer unsub()

	req := o.Sign(context.Background(), testEvent())
	require.Equal(t, StatusFailed, req.Status)

	deadline := time.After(2 * time.Second)
	for {
		select {
		case got := <-ch:
			if got.ID == req.ID && got.Status == StatusFailed {
				return
			}
		case <-deadline:
			t.Fatal("never saw the failed sign request on the feed")
		}
	}
}

package orchestrator

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type failingCreds struct{ err error }

func (f failingCreds) Credentials(context.Context) (Credentials, error) {
	return Credentials{}, f.err
}

func TestPoller_Poll(t *testing.T) {
	ctx := context.Background()
	repo := NewInMemoryRepository()
	require.NoError(t, repo.PutCredentials(ctx, Credentials{NIDAut: "aut", NIDSes: "ses"}))
	api := newFakeAPI()
	p := NewPoller(api, repo)
	ch := Channel{ChannelID: chanA}

	t.Run("offline", func(t *testing.T) {
		ev, err := p.Poll(ctx, ch)
		require.NoError(t, err)
		assert.False(t, ev.Live)
	})

	t.Run("live_carries_metadata", func(t *testing.T) {
		api.setLive(chanA, "Morning Stream")
		ev, err := p.Poll(ctx, ch)
		require.NoError(t, err)
		assert.True(t, ev.Live)
		assert.Equal(t, "Morning Stream", ev.Title)
		assert.Equal(t, "Talk", ev.Metadata.Category)
		assert.Equal(t, int64(7), ev.Metadata.LiveID)
	})

	t.Run("unreachable", func(t *testing.T) {
		api.setErr(chanA, errors.New("no route to host"))
		_, err := p.Poll(ctx, ch)
		var terr *TransientError
		require.ErrorAs(t, err, &terr)
		assert.Equal(t, "unreachable", terr.Reason)
	})

	t.Run("cancelled", func(t *testing.T) {
		api.setErr(chanA, context.Canceled)
		_, err := p.Poll(ctx, ch)
		assert.ErrorIs(t, err, context.Canceled)
		var terr *TransientError
		assert.False(t, errors.As(err, &terr))
	})
}

func TestPoller_credentials(t *testing.T) {
	ctx := context.Background()
	api := newFakeAPI()

	_, err := NewPoller(api, NewInMemoryRepository()).Poll(ctx, Channel{ChannelID: chanA})
	assert.ErrorIs(t, err, ErrMissingCredentials)

	_, err = NewPoller(api, failingCreds{err: errors.New("database is locked")}).Poll(ctx, Channel{ChannelID: chanA})
	var terr *TransientError
	require.ErrorAs(t, err, &terr)
	assert.Equal(t, "credentials_unavailable", terr.Reason)

	assert.Zero(t, api.calls)
}

func TestClassify(t *testing.T) {
	cases := []struct {
		wasLive bool
		ev      LivenessEvent
		want    Transition
	}{
		{false, LivenessEvent{Live: true}, TransitionBecameLive},
		{true, LivenessEvent{Live: true}, TransitionStillLive},
		{true, LivenessEvent{}, TransitionWentOffline},
		{false, LivenessEvent{}, TransitionOffline},
	}
	for _, c := range cases {
		if got := classify(c.wasLive, c.ev); got != c.want {
			t.Errorf("classify(%v, live=%v) = %s, want %s", c.wasLive, c.ev.Live, got, c.want)
		}
	}
}

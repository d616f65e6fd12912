package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"chzzk-recorder/internal/orchestrator"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	chanA = "aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"
	chanB = "bbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "db", "recorder.db"), Options{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestStore_channels(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	created := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)

	a, err := s.AddChannel(ctx, orchestrator.Channel{ChannelID: chanA, DisplayName: "Alice", Active: true, CreatedAt: created})
	require.NoError(t, err)
	assert.Equal(t, int64(1), a.ID)
	_, err = s.AddChannel(ctx, orchestrator.Channel{ChannelID: chanB, DisplayName: "Bob", Active: true})
	require.NoError(t, err)

	_, err = s.AddChannel(ctx, orchestrator.Channel{ChannelID: chanA})
	assert.ErrorIs(t, err, orchestrator.ErrChannelExists)

	got, err := s.GetChannel(ctx, chanA)
	require.NoError(t, err)
	assert.Equal(t, "Alice", got.DisplayName)
	assert.True(t, got.Active)
	assert.True(t, got.CreatedAt.Equal(created))
	assert.Nil(t, got.LastChecked)

	require.NoError(t, s.SetChannelActive(ctx, chanA, false))
	active, err := s.ListActiveChannels(ctx)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, chanB, active[0].ChannelID)
	all, err := s.ListChannels(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	checked := created.Add(time.Minute)
	require.NoError(t, s.UpdateChannelTimestamps(ctx, chanB, checked, &checked))
	require.NoError(t, s.UpdateChannelTimestamps(ctx, chanB, checked.Add(time.Minute), nil))
	b, err := s.GetChannel(ctx, chanB)
	require.NoError(t, err)
	require.NotNil(t, b.LastChecked)
	require.NotNil(t, b.LastLive)
	assert.True(t, b.LastChecked.Equal(checked.Add(time.Minute)))
	assert.True(t, b.LastLive.Equal(checked))

	require.NoError(t, s.DeleteChannel(ctx, chanA))
	_, err = s.GetChannel(ctx, chanA)
	assert.ErrorIs(t, err, orchestrator.ErrChannelNotFound)
	assert.ErrorIs(t, s.DeleteChannel(ctx, chanA), orchestrator.ErrChannelNotFound)
	assert.ErrorIs(t, s.SetChannelActive(ctx, chanA, true), orchestrator.ErrChannelNotFound)
	assert.ErrorIs(t, s.UpdateChannelTimestamps(ctx, chanA, checked, nil), orchestrator.ErrChannelNotFound)
}

func TestStore_assets(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	base := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)

	assets := []orchestrator.RecordingAsset{
		{ID: "1", ChannelID: chanA, RelativePath: "Alice/1.ts", CreatedAt: base, Status: orchestrator.AssetRecording},
		{ID: "2", ChannelID: chanB, RelativePath: "Bob/2.ts", CreatedAt: base.Add(500 * time.Millisecond), Status: orchestrator.AssetRecording},
		{ID: "3", ChannelID: chanA, RelativePath: "Alice/3.ts", CreatedAt: base.Add(time.Second), Status: orchestrator.AssetRecording},
	}
	for _, a := range assets {
		require.NoError(t, s.UpsertRecordingAsset(ctx, a))
	}

	all, err := s.ListRecordingAssets(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, []string{"3", "2", "1"}, ids(all))

	done := assets[0]
	done.RelativePath = "Alice/1.mp4"
	done.Status = orchestrator.AssetComplete
	require.NoError(t, s.UpsertRecordingAsset(ctx, done))

	onlyA, err := s.ListRecordingAssets(ctx, chanA)
	require.NoError(t, err)
	require.Equal(t, []string{"3", "1"}, ids(onlyA))
	assert.Equal(t, "Alice/1.mp4", onlyA[1].RelativePath)
	assert.Equal(t, orchestrator.AssetComplete, onlyA[1].Status)
	assert.True(t, onlyA[1].CreatedAt.Equal(base))

	n, err := s.MarkInterruptedAssets(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	all, _ = s.ListRecordingAssets(ctx, "")
	for _, a := range all {
		assert.NotEqual(t, orchestrator.AssetRecording, a.Status, a.ID)
	}

	n, err = s.DeleteRecordingAssets(ctx, chanA)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	all, _ = s.ListRecordingAssets(ctx, "")
	assert.Equal(t, []string{"2"}, ids(all))
}

func TestStore_credentials(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	c, err := s.Credentials(ctx)
	require.NoError(t, err)
	assert.False(t, c.Valid())

	require.NoError(t, s.PutCredentials(ctx, orchestrator.Credentials{NIDAut: "aut", NIDSes: "ses"}))
	c, err = s.Credentials(ctx)
	require.NoError(t, err)
	assert.Equal(t, orchestrator.Credentials{NIDAut: "aut", NIDSes: "ses"}, c)

	// A cached value must not outlive a replacement.
	require.NoError(t, s.PutCredentials(ctx, orchestrator.Credentials{NIDAut: "aut2", NIDSes: "ses2"}))
	c, err = s.Credentials(ctx)
	require.NoError(t, err)
	assert.Equal(t, "aut2", c.NIDAut)
}

func TestStore_reopen_keeps_data(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "recorder.db")

	s, err := Open(path, Options{})
	require.NoError(t, err)
	_, err = s.AddChannel(ctx, orchestrator.Channel{ChannelID: chanA, DisplayName: "Alice", Active: true})
	require.NoError(t, err)
	require.NoError(t, s.UpsertRecordingAsset(ctx, orchestrator.RecordingAsset{
		ID: "x", ChannelID: chanA, RelativePath: "Alice/x.ts", CreatedAt: time.Now(), Status: orchestrator.AssetRecording,
	}))
	require.NoError(t, s.Close())

	s, err = Open(path, Options{})
	require.NoError(t, err)
	defer s.Close()

	n, err := s.MarkInterruptedAssets(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	ch, err := s.GetChannel(ctx, chanA)
	require.NoError(t, err)
	assert.Equal(t, "Alice", ch.DisplayName)
	assert.Equal(t, path, s.Path())
}

func ids(assets []orchestrator.RecordingAsset) []string {
	out := make([]string, 0, len(assets))
	for _, a := range assets {
		out = append(out, a.ID)
	}
	return out
}

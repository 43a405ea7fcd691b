package eventlog

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLogger(t *testing.T) *Logger {
	t.Helper()
	l, err := NewLogger(filepath.Join(t.TempDir(), "logs", "events.jsonl"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = l.Close() })
	return l
}

func TestReadLastNewestFirst(t *testing.T) {
	l := newTestLogger(t)

	require.NoError(t, l.LogPolicy("fw_managed", 1))
	require.NoError(t, l.LogStream(StreamStarted, "dmic0", "unmuted", ""))
	require.NoError(t, l.LogPrivacy("fw_managed", 1, 0xFFFFFFFF, 50))
	require.NoError(t, l.LogPrivacy("fw_managed", 0, 0xFFFFFFFF, 50))

	events, hasMore, err := ReadLast(l.Path(), 10, 0, FilterAll)
	require.NoError(t, err)
	assert.False(t, hasMore)
	require.Len(t, events, 4)

	assert.Equal(t, PrivacyStateChanged, events[0].Type)
	assert.Equal(t, "microphone enabled", events[0].Message)
	assert.Equal(t, "microphone disabled", events[1].Message)
	assert.Equal(t, StreamStarted, events[2].Type)
	assert.Equal(t, "dmic0", events[2].StreamID)
	assert.Equal(t, PolicyResolved, events[3].Type)
}

func TestReadLastPaginationAndFilter(t *testing.T) {
	l := newTestLogger(t)

	for range 3 {
		require.NoError(t, l.LogPrivacy("fw_managed", 1, 0xFFFFFFFF, 50))
		require.NoError(t, l.LogStream(StreamStopped, "dmic0", "muted", ""))
	}
	require.NoError(t, l.LogArchive(ArchiveFailed, "bucket", "key", 0, "denied"))

	events, hasMore, err := ReadLast(l.Path(), 2, 0, FilterPrivacy)
	require.NoError(t, err)
	assert.Len(t, events, 2)
	assert.True(t, hasMore)

	events, hasMore, err = ReadLast(l.Path(), 2, 2, FilterPrivacy)
	require.NoError(t, err)
	assert.Len(t, events, 1)
	assert.False(t, hasMore)

	events, _, err = ReadLast(l.Path(), 10, 0, FilterStream)
	require.NoError(t, err)
	assert.Len(t, events, 3)

	events, _, err = ReadLast(l.Path(), 10, 0, FilterArchive)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, ArchiveFailed, events[0].Type)
}

func TestReadLastEdgeCases(t *testing.T) {
	events, hasMore, err := ReadLast(filepath.Join(t.TempDir(), "missing.jsonl"), 10, 0, FilterAll)
	require.NoError(t, err)
	assert.Empty(t, events)
	assert.False(t, hasMore)

	l := newTestLogger(t)
	require.NoError(t, l.LogPolicy("hw_managed", 0))

	f, err := os.OpenFile(l.Path(), os.O_APPEND|os.O_WRONLY, 0o644)
	require.NoError(t, err)
	_, err = f.WriteString("not json\n")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	events, _, err = ReadLast(l.Path(), 10, 0, FilterAll)
	require.NoError(t, err)
	assert.Len(t, events, 1)

	events, _, err = ReadLast(l.Path(), 0, 0, FilterAll)
	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestTypeFilterMatches(t *testing.T) {
	assert.True(t, FilterAll.Matches(ArchiveUploaded))
	assert.True(t, FilterPrivacy.Matches(PolicyResolved))
	assert.False(t, FilterPrivacy.Matches(StreamStarted))
	assert.True(t, FilterStream.Matches(StreamStopped))
	assert.False(t, FilterArchive.Matches(PrivacyStateChanged))
}

package kafka

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOffsetTracker_InOrderCompletions(t *testing.T) {
	tr := newOffsetTracker()
	for off := int64(0); off < 3; off++ {
		tr.observe(0, off)
		commit, ok := tr.complete(0, off)
		require.True(t, ok)
		assert.Equal(t, off, commit)
	}
}

// Workers finish out of order: a completion above a still-outstanding offset
// must not move the watermark, and filling the gap releases the whole prefix
// at once.
func TestOffsetTracker_HoldsCommitAcrossGap(t *testing.T) {
	tr := newOffsetTracker()
	for off := int64(0); off < 4; off++ {
		tr.observe(0, off)
	}

	_, ok := tr.complete(0, 1)
	assert.False(t, ok)
	_, ok = tr.complete(0, 3)
	assert.False(t, ok)

	commit, ok := tr.complete(0, 0)
	require.True(t, ok)
	assert.Equal(t, int64(1), commit)

	commit, ok = tr.complete(0, 2)
	require.True(t, ok)
	assert.Equal(t, int64(3), commit)
}

// An offset whose processing never succeeds pins the watermark, so later
// successes are not committed past it and the failed message is redelivered
// after a restart.
func TestOffsetTracker_FailedOffsetPinsWatermark(t *testing.T) {
	tr := newOffsetTracker()
	for off := int64(0); off < 3; off++ {
		tr.observe(0, off)
	}

	commit, ok := tr.complete(0, 0)
	require.True(t, ok)
	assert.Equal(t, int64(0), commit)

	// Offset 1 keeps failing; 2 completes.
	_, ok = tr.complete(0, 2)
	assert.False(t, ok)
}

func TestOffsetTracker_PartitionsAreIndependent(t *testing.T) {
	tr := newOffsetTracker()
	tr.observe(0, 0)
	tr.observe(0, 1)
	tr.observe(1, 0)

	_, ok := tr.complete(0, 1)
	assert.False(t, ok)

	commit, ok := tr.complete(1, 0)
	require.True(t, ok)
	assert.Equal(t, int64(0), commit)

	commit, ok = tr.complete(0, 0)
	require.True(t, ok)
	assert.Equal(t, int64(1), commit)
}

// A consumer group resuming mid-topic starts at a committed offset, not
// zero. The first fetch anchors the prefix there.
func TestOffsetTracker_AnchorsAtFirstFetchedOffset(t *testing.T) {
	tr := newOffsetTracker()
	tr.observe(2, 5120)
	tr.observe(2, 5121)

	commit, ok := tr.complete(2, 5120)
	require.True(t, ok)
	assert.Equal(t, int64(5120), commit)

	commit, ok = tr.complete(2, 5121)
	require.True(t, ok)
	assert.Equal(t, int64(5121), commit)
}

// Redelivered acks below the watermark are ignored instead of rewinding it.
func TestOffsetTracker_StaleCompletionIsIgnored(t *testing.T) {
	tr := newOffsetTracker()
	tr.observe(0, 0)
	tr.observe(0, 1)

	commit, ok := tr.complete(0, 0)
	require.True(t, ok)
	assert.Equal(t, int64(0), commit)

	_, ok = tr.complete(0, 0)
	assert.False(t, ok)

	commit, ok = tr.complete(0, 1)
	require.True(t, ok)
	assert.Equal(t, int64(1), commit)
}

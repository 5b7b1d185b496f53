package reshape

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFunnelReshapeCompletedFunnel(t *testing.T) {
	tree := parseTree(t, `{
		"2025-01-01": {
			"u1": [
				{"count": 0, "avg_time_from_start": 120},
				{"count": 3, "avg_time_from_start": 7200}
			]
		}
	}`)

	got := NewFunnelReshaper(nil).Reshape(tree, "activation", testSyncedAt)

	require.Len(t, got, 1)
	assert.Equal(t, "u1", got[0].UserID)
	assert.Equal(t, "activation", got[0].FunnelType)
	assert.Equal(t, float64(7200), got[0].ElapsedSeconds)
	assert.InDelta(t, 7200.0/86400.0, got[0].ElapsedDays, 1e-9)
	assert.Equal(t, testSyncedAt, got[0].SyncedAt)
}

func TestFunnelReshapeZeroFinalStepDropped(t *testing.T) {
	tree := parseTree(t, `{
		"2025-01-01": {
			"u1": [
				{"count": 5, "avg_time_from_start": 60},
				{"count": 0, "avg_time_from_start": 0}
			]
		}
	}`)

	got := NewFunnelReshaper(nil).Reshape(tree, "activation", testSyncedAt)

	assert.Empty(t, got)
}

func TestFunnelReshapeNonPositiveElapsedDropped(t *testing.T) {
	tree := parseTree(t, `{
		"2025-01-01": {
			"u1": [{"count": 2, "avg_time_from_start": 0}],
			"u2": [{"count": 2, "avg_time_from_start": -5}]
		}
	}`)

	got := NewFunnelReshaper(nil).Reshape(tree, "first_copy", testSyncedAt)

	assert.Empty(t, got)
}

func TestFunnelReshapeStripsDevicePrefix(t *testing.T) {
	tree := parseTree(t, `{
		"2025-01-02": {
			"$device:abc-123": [{"count": 1, "avg_time_from_start": 300}]
		}
	}`)

	got := NewFunnelReshaper(nil).Reshape(tree, "activation", testSyncedAt)

	require.Len(t, got, 1)
	assert.Equal(t, "abc-123", got[0].UserID)
}

func TestFunnelReshapeDeduplicatesAcrossDates(t *testing.T) {
	tree := parseTree(t, `{
		"2025-01-01": {"u1": [{"count": 1, "avg_time_from_start": 600}]},
		"2025-01-02": {"u1": [{"count": 1, "avg_time_from_start": 600}]}
	}`)

	got := NewFunnelReshaper(nil).Reshape(tree, "activation", testSyncedAt)

	require.Len(t, got, 1)
	assert.Equal(t, float64(600), got[0].ElapsedSeconds)
}

func TestFunnelReshapeStringElapsedParses(t *testing.T) {
	tree := parseTree(t, `{
		"2025-01-01": {"u1": [{"count": 1, "avg_time_from_start": "450.5"}]}
	}`)

	got := NewFunnelReshaper(nil).Reshape(tree, "activation", testSyncedAt)

	require.Len(t, got, 1)
	assert.Equal(t, 450.5, got[0].ElapsedSeconds)
}

func TestFunnelReshapeMalformedEntriesSkipped(t *testing.T) {
	tree := parseTree(t, `{
		"2025-01-01": {
			"u1": {"not": "an array"},
			"u2": [{"count": 1, "avg_time_from_start": 90}]
		},
		"bad-date": "nope"
	}`)

	r := NewFunnelReshaper(nil)
	got := r.Reshape(tree, "activation", testSyncedAt)

	require.Len(t, got, 1)
	assert.Equal(t, "u2", got[0].UserID)
	assert.Equal(t, 1, r.SkippedUsers)
}

func TestFunnelReshapeOutputSortedByUser(t *testing.T) {
	tree := parseTree(t, `{
		"2025-01-01": {
			"zed":  [{"count": 1, "avg_time_from_start": 10}],
			"anna": [{"count": 1, "avg_time_from_start": 20}]
		}
	}`)

	got := NewFunnelReshaper(nil).Reshape(tree, "activation", testSyncedAt)

	require.Len(t, got, 2)
	assert.Equal(t, "anna", got[0].UserID)
	assert.Equal(t, "zed", got[1].UserID)
}

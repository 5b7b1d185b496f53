package reshape

import (
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zackbabin/dub-analysis-tool-sub008/internal/identity"
	"github.com/zackbabin/dub-analysis-tool-sub008/pkg/models"
)

var testSyncedAt = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func newTestReshaper(t *testing.T, table map[string]string) *PairReshaper {
	t.Helper()
	n, err := identity.NewNormalizer(table)
	require.NoError(t, err)
	return NewPairReshaper(n, nil)
}

func TestReshapeSingleProfileView(t *testing.T) {
	r := newTestReshaper(t, nil)

	result := r.Reshape(MetricTrees{
		ProfileViews: parseTree(t, `{"u1": {"c1": {"alice": {"all": 5}}}}`),
	}, testSyncedAt)

	require.Len(t, result.Creators, 1)
	got := result.Creators[0]
	assert.Equal(t, "u1", got.UserID)
	assert.Equal(t, "c1", got.CreatorID)
	assert.Equal(t, "alice", got.CreatorUsername)
	assert.Equal(t, int64(5), got.ProfileViewCount)
	assert.False(t, got.DidSubscribe)
	assert.Equal(t, testSyncedAt, got.SyncedAt)
	assert.Empty(t, result.Pairs)
}

func TestReshapeDuplicateCreatorIdsCollapse(t *testing.T) {
	r := newTestReshaper(t, map[string]string{"118": "211855351476994048"})

	result := r.Reshape(MetricTrees{
		ProfileViews: parseTree(t, `{
			"u1": {
				"118":                {"alice": {"all": 2}},
				"211855351476994048": {"alice": {"all": 3}}
			}
		}`),
	}, testSyncedAt)

	require.Len(t, result.Creators, 1)
	got := result.Creators[0]
	assert.Equal(t, "211855351476994048", got.CreatorID)
	assert.Equal(t, int64(5), got.ProfileViewCount)
	assert.Equal(t, "alice", got.CreatorUsername)
}

func TestReshapeTickerSigilMerge(t *testing.T) {
	r := newTestReshaper(t, nil)

	result := r.Reshape(MetricTrees{
		ProfileViews: parseTree(t, `{"u1": {"c99": {"bob": 1}}}`),
		DetailViews:  parseTree(t, `{"u1": {"DOGE": {"c99": 1}}}`),
		Copies:       parseTree(t, `{"u1": {"$DOGE": {"c99": {"all": 2}}}}`),
	}, testSyncedAt)

	require.Len(t, result.Pairs, 1)
	got := result.Pairs[0]
	assert.Equal(t, "$DOGE", got.TickerID)
	assert.Equal(t, int64(1), got.DetailViewCount)
	assert.Equal(t, int64(2), got.CopyCount)
	assert.Equal(t, "bob", got.CreatorUsername)
}

func TestReshapeSubscriptionsSetFlag(t *testing.T) {
	r := newTestReshaper(t, nil)

	result := r.Reshape(MetricTrees{
		ProfileViews:  parseTree(t, `{"u1": {"c1": {"alice": 4}}}`),
		Subscriptions: parseTree(t, `{"u1": {"c1": {"alice": 1}}}`),
	}, testSyncedAt)

	require.Len(t, result.Creators, 1)
	got := result.Creators[0]
	assert.Equal(t, int64(4), got.ProfileViewCount)
	assert.Equal(t, int64(1), got.SubscriptionCount)
	assert.True(t, got.DidSubscribe)
}

func TestReshapeNoZeroRows(t *testing.T) {
	r := newTestReshaper(t, nil)

	result := r.Reshape(MetricTrees{
		ProfileViews: parseTree(t, `{"u1": {"c1": {"alice": 0}}}`),
		DetailViews:  parseTree(t, `{"u2": {"DOGE": {"c1": 0}}}`),
	}, testSyncedAt)

	assert.Empty(t, result.Creators)
	assert.Empty(t, result.Pairs)

	for _, p := range result.Pairs {
		assert.Positive(t, p.DetailViewCount+p.CopyCount+p.LiquidationCount)
	}
}

func TestReshapeDropsPairsWithoutName(t *testing.T) {
	r := newTestReshaper(t, nil)

	// c77 never appears in a name-carrying role.
	result := r.Reshape(MetricTrees{
		ProfileViews: parseTree(t, `{"u1": {"c1": {"alice": 2}}}`),
		Copies:       parseTree(t, `{"u1": {"$BTC": {"c77": 3}}}`),
	}, testSyncedAt)

	assert.Empty(t, result.Pairs)
	assert.Equal(t, 1, result.DroppedNoName)
	require.Len(t, result.Creators, 1)
}

func TestReshapeProfileViewsNameWinsOverSubscriptions(t *testing.T) {
	r := newTestReshaper(t, nil)

	result := r.Reshape(MetricTrees{
		ProfileViews:  parseTree(t, `{"u1": {"c1": {"alice": 2}}}`),
		Subscriptions: parseTree(t, `{"u2": {"c1": {"alice_old": 1}}}`),
	}, testSyncedAt)

	require.Len(t, result.Creators, 2)
	for _, c := range result.Creators {
		assert.Equal(t, "alice", c.CreatorUsername)
	}
}

func TestReshapeSubscriptionsNameFillsGap(t *testing.T) {
	r := newTestReshaper(t, nil)

	// c2 only appears in subscriptions; its name still resolves.
	result := r.Reshape(MetricTrees{
		Subscriptions: parseTree(t, `{"u1": {"c2": {"carol": 1}}}`),
	}, testSyncedAt)

	require.Len(t, result.Creators, 1)
	assert.Equal(t, "carol", result.Creators[0].CreatorUsername)
	assert.True(t, result.Creators[0].DidSubscribe)
}

func TestReshapeRolesMergeAcrossRawVariants(t *testing.T) {
	// Different roles store the same logical pair under different raw ids;
	// the counts still land on one row.
	r := newTestReshaper(t, map[string]string{"118": "211855351476994048"})

	result := r.Reshape(MetricTrees{
		ProfileViews: parseTree(t, `{"u1": {"211855351476994048": {"alice": 1}}}`),
		DetailViews:  parseTree(t, `{"u1": {"$ETH": {"118": 2}}}`),
		Copies:       parseTree(t, `{"u1": {"$ETH": {"211855351476994048": 3}}}`),
	}, testSyncedAt)

	require.Len(t, result.Pairs, 1)
	got := result.Pairs[0]
	assert.Equal(t, "211855351476994048", got.CreatorID)
	assert.Equal(t, int64(2), got.DetailViewCount)
	assert.Equal(t, int64(3), got.CopyCount)
}

func TestReshapeLargeInputStaysCorrect(t *testing.T) {
	// Hundreds of thousands of compound keys must merge through the
	// key-indexed maps without blowing up; verify counts stay exact.
	const users = 500
	const creators = 40

	profile := make(map[string]any, users)
	detail := make(map[string]any, users)
	for u := 0; u < users; u++ {
		userKey := fmt.Sprintf("user%04d", u)
		creatorsNode := make(map[string]any, creators)
		pairsNode := make(map[string]any, creators)
		for c := 0; c < creators; c++ {
			creatorKey := fmt.Sprintf("creator%03d", c)
			creatorsNode[creatorKey] = map[string]any{
				"name" + creatorKey: float64(1),
			}
			pairsNode["TICK"+fmt.Sprintf("%03d", c)] = map[string]any{
				creatorKey: float64(2),
			}
		}
		profile[userKey] = creatorsNode
		detail[userKey] = pairsNode
	}

	r := newTestReshaper(t, nil)
	result := r.Reshape(MetricTrees{
		ProfileViews: profile,
		DetailViews:  detail,
	}, testSyncedAt)

	assert.Len(t, result.Creators, users*creators)
	assert.Len(t, result.Pairs, users*creators)
	for _, p := range result.Pairs {
		assert.Equal(t, int64(2), p.DetailViewCount)
	}
}

func TestCanonicalTicker(t *testing.T) {
	cases := map[string]string{
		"DOGE":   "$DOGE",
		"$DOGE":  "$DOGE",
		" doge ": "$DOGE",
		"$eth":   "$ETH",
	}
	for raw, want := range cases {
		assert.Equal(t, want, CanonicalTicker(raw), "raw %q", raw)
	}
}

func TestReshapeOutputIsDeterministicallyOrdered(t *testing.T) {
	r := newTestReshaper(t, nil)
	trees := MetricTrees{
		ProfileViews: parseTree(t, `{
			"u2": {"c2": {"bob": 1}},
			"u1": {"c1": {"alice": 1}, "c2": {"bob": 2}}
		}`),
	}

	first := r.Reshape(trees, testSyncedAt)
	second := r.Reshape(trees, testSyncedAt)

	require.Equal(t, first.Creators, second.Creators)
	assert.Equal(t, []models.CreatorEngagement{
		{UserID: "u1", CreatorID: "c1", CreatorUsername: "alice", ProfileViewCount: 1, SyncedAt: testSyncedAt},
		{UserID: "u1", CreatorID: "c2", CreatorUsername: "bob", ProfileViewCount: 2, SyncedAt: testSyncedAt},
		{UserID: "u2", CreatorID: "c2", CreatorUsername: "bob", ProfileViewCount: 1, SyncedAt: testSyncedAt},
	}, first.Creators)
}

func TestMetricTreesJSONRoundTrip(t *testing.T) {
	// The trees arrive straight from json.Unmarshal; make sure a realistic
	// mixed payload reshapes end to end.
	raw := `{
		"u1": {
			"$overall": {"c1": {"alice": {"all": 2}}}
		},
		"u2": {
			"c1": {"alice": 3},
			"undefined": {"junk": 9}
		}
	}`
	var tree map[string]any
	require.NoError(t, json.Unmarshal([]byte(raw), &tree))

	r := newTestReshaper(t, nil)
	result := r.Reshape(MetricTrees{ProfileViews: tree}, testSyncedAt)

	require.Len(t, result.Creators, 2)
	assert.Equal(t, 1, result.SkippedBranches)
}

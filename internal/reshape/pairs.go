package reshape

import (
	"sort"
	"strings"
	"time"

	"github.com/samber/lo"

	"github.com/zackbabin/dub-analysis-tool-sub008/internal/identity"
	"github.com/zackbabin/dub-analysis-tool-sub008/pkg/logging"
	"github.com/zackbabin/dub-analysis-tool-sub008/pkg/models"
)

// keySep joins compound key parts; a control character cannot collide with
// user ids, tickers, or creator ids.
const keySep = "\x1f"

// Metric tree shapes, outermost dimension first.
var (
	// user -> creator -> username -> count
	creatorDims = []Dimension{
		{Name: "user"},
		{Name: "creator", Identifier: true},
		{Name: "username"},
	}
	// user -> ticker -> creator -> count
	pairDims = []Dimension{
		{Name: "user"},
		{Name: "ticker", Identifier: true},
		{Name: "creator", Identifier: true},
	}
)

// MetricTrees carries the raw trees for one reshape pass. Not every role is
// present in every call; nil trees are skipped.
type MetricTrees struct {
	ProfileViews  map[string]any // user -> creator -> username -> count
	Subscriptions map[string]any // user -> creator -> username -> count
	DetailViews   map[string]any // user -> ticker -> creator -> count
	Copies        map[string]any // user -> ticker -> creator -> count
	Liquidations  map[string]any // user -> ticker -> creator -> count
}

// PairResult is the output of one reshape pass plus its skip tallies.
type PairResult struct {
	Pairs    []models.PairEngagement
	Creators []models.CreatorEngagement

	DroppedNoName   int
	SkippedBranches int
}

// PairReshaper merges the role trees into normalized engagement rows.
type PairReshaper struct {
	normalizer *identity.Normalizer
	logger     logging.Logger
}

// NewPairReshaper creates a reshaper using the given identity table
func NewPairReshaper(normalizer *identity.Normalizer, logger logging.Logger) *PairReshaper {
	return &PairReshaper{normalizer: normalizer, logger: logger}
}

// Reshape flattens every present role tree and merges counts by normalized
// compound key. All merging is hash-map keyed; inputs run into the hundreds
// of thousands of compound keys and a linear find-or-create scan does not
// survive that.
func (r *PairReshaper) Reshape(trees MetricTrees, syncedAt time.Time) PairResult {
	walker := NewWalker(r.logger)

	// Display names keyed by canonical creator id. The profile-views role
	// is walked first, so its first-seen name wins; subscriptions only
	// fill gaps.
	names := make(map[string]string)

	creators := make(map[string]*models.CreatorEngagement)
	pairs := make(map[string]*models.PairEngagement)

	r.walkCreatorRole(walker, trees.ProfileViews, names, creators, func(agg *models.CreatorEngagement, count int64) {
		agg.ProfileViewCount += count
	})
	r.walkCreatorRole(walker, trees.Subscriptions, names, creators, func(agg *models.CreatorEngagement, count int64) {
		agg.SubscriptionCount += count
	})

	r.walkPairRole(walker, trees.DetailViews, pairs, func(agg *models.PairEngagement, count int64) {
		agg.DetailViewCount += count
	})
	r.walkPairRole(walker, trees.Copies, pairs, func(agg *models.PairEngagement, count int64) {
		agg.CopyCount += count
	})
	r.walkPairRole(walker, trees.Liquidations, pairs, func(agg *models.PairEngagement, count int64) {
		agg.LiquidationCount += count
	})

	result := PairResult{SkippedBranches: walker.SkippedBranches}

	for _, key := range sortedKeys(creators) {
		agg := creators[key]
		if agg.ProfileViewCount == 0 && agg.SubscriptionCount == 0 {
			continue
		}
		name, ok := names[agg.CreatorID]
		if !ok {
			result.DroppedNoName++
			r.warnNoName(agg.UserID, "", agg.CreatorID)
			continue
		}
		agg.CreatorUsername = name
		agg.DidSubscribe = agg.SubscriptionCount > 0
		agg.SyncedAt = syncedAt
		result.Creators = append(result.Creators, *agg)
	}

	for _, key := range sortedKeys(pairs) {
		agg := pairs[key]
		if agg.DetailViewCount == 0 && agg.CopyCount == 0 && agg.LiquidationCount == 0 {
			continue
		}
		name, ok := names[agg.CreatorID]
		if !ok {
			result.DroppedNoName++
			r.warnNoName(agg.UserID, agg.TickerID, agg.CreatorID)
			continue
		}
		agg.CreatorUsername = name
		agg.SyncedAt = syncedAt
		result.Pairs = append(result.Pairs, *agg)
	}

	return result
}

// walkCreatorRole accumulates a (user, creator) keyed role and harvests
// display names along the way.
func (r *PairReshaper) walkCreatorRole(
	walker *Walker,
	tree map[string]any,
	names map[string]string,
	creators map[string]*models.CreatorEngagement,
	add func(agg *models.CreatorEngagement, count int64),
) {
	if tree == nil {
		return
	}
	walker.Walk(tree, creatorDims, func(key []string, count int64) {
		if len(key) != len(creatorDims) {
			// Partial key from a truncated branch; nothing to join on.
			return
		}
		userID, rawCreator, username := key[0], key[1], key[2]
		creatorID := r.normalizer.Normalize(rawCreator)

		if _, ok := names[creatorID]; !ok && username != "" {
			names[creatorID] = username
		}

		mapKey := userID + keySep + creatorID
		agg, ok := creators[mapKey]
		if !ok {
			agg = &models.CreatorEngagement{UserID: userID, CreatorID: creatorID}
			creators[mapKey] = agg
		}
		add(agg, count)
	})
}

// walkPairRole accumulates a (user, ticker, creator) keyed role.
func (r *PairReshaper) walkPairRole(
	walker *Walker,
	tree map[string]any,
	pairs map[string]*models.PairEngagement,
	add func(agg *models.PairEngagement, count int64),
) {
	if tree == nil {
		return
	}
	walker.Walk(tree, pairDims, func(key []string, count int64) {
		if len(key) != len(pairDims) {
			return
		}
		userID := key[0]
		tickerID := CanonicalTicker(key[1])
		creatorID := r.normalizer.Normalize(key[2])

		mapKey := userID + keySep + tickerID + keySep + creatorID
		agg, ok := pairs[mapKey]
		if !ok {
			agg = &models.PairEngagement{UserID: userID, TickerID: tickerID, CreatorID: creatorID}
			pairs[mapKey] = agg
		}
		add(agg, count)
	})
}

func (r *PairReshaper) warnNoName(userID, tickerID, creatorID string) {
	if r.logger == nil {
		return
	}
	r.logger.WithFields(logging.Fields{
		"user_id":    userID,
		"ticker_id":  tickerID,
		"creator_id": creatorID,
	}).Warn("Dropping engagement row with no resolvable creator username")
}

// CanonicalTicker normalizes a ticker symbol to its sigil-prefixed upper
// form so "DOGE" and "$DOGE" merge instead of producing duplicate rows.
func CanonicalTicker(raw string) string {
	t := strings.TrimSpace(raw)
	t = strings.TrimPrefix(t, "$")
	return "$" + strings.ToUpper(t)
}

func sortedKeys[V any](m map[string]V) []string {
	keys := lo.Keys(m)
	sort.Strings(keys)
	return keys
}

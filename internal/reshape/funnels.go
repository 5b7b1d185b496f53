package reshape

import (
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/zackbabin/dub-analysis-tool-sub008/pkg/logging"
	"github.com/zackbabin/dub-analysis-tool-sub008/pkg/models"
)

// devicePrefix marks anonymous device keys in funnel trees. Stripping it
// recovers the bare identifier the rest of the warehouse joins on.
const devicePrefix = "$device:"

const secondsPerDay = 86400

// FunnelReshaper extracts per-user completion times from a funnel tree.
type FunnelReshaper struct {
	logger logging.Logger

	// SkippedUsers counts user entries dropped for malformed step data.
	SkippedUsers int
}

// NewFunnelReshaper creates a funnel reshaper
func NewFunnelReshaper(logger logging.Logger) *FunnelReshaper {
	return &FunnelReshaper{logger: logger}
}

// Reshape flattens a date -> user -> step-array tree into one completion
// per user. Date grouping is irrelevant to the output; a user appearing on
// several dates keeps the last-seen entry, which is stable because funnel
// completion does not change within one sync window. Users whose final step
// has a zero count or a non-positive elapsed time are not completed and are
// dropped, not zero-filled.
func (r *FunnelReshaper) Reshape(tree map[string]any, funnelType string, syncedAt time.Time) []models.FunnelCompletion {
	byUser := make(map[string]models.FunnelCompletion)

	for _, dateNode := range tree {
		users, ok := dateNode.(map[string]any)
		if !ok {
			continue
		}
		for userKey, stepsNode := range users {
			userID := strings.TrimPrefix(userKey, devicePrefix)
			if userID == "" {
				continue
			}

			seconds, completed := finalStepElapsed(stepsNode)
			if !completed {
				// A zero-count final step is a real "not completed";
				// only a non-array entry is malformed enough to warn.
				if _, isArray := stepsNode.([]any); !isArray {
					r.skipUser(userID, funnelType)
				}
				continue
			}

			byUser[userID] = models.FunnelCompletion{
				UserID:         userID,
				FunnelType:     funnelType,
				ElapsedSeconds: seconds,
				ElapsedDays:    seconds / secondsPerDay,
				SyncedAt:       syncedAt,
			}
		}
	}

	completions := make([]models.FunnelCompletion, 0, len(byUser))
	for _, completion := range byUser {
		completions = append(completions, completion)
	}
	sort.Slice(completions, func(i, j int) bool {
		return completions[i].UserID < completions[j].UserID
	})
	return completions
}

func (r *FunnelReshaper) skipUser(userID, funnelType string) {
	r.SkippedUsers++
	if r.logger != nil {
		r.logger.WithFields(logging.Fields{
			"user_id":     userID,
			"funnel_type": funnelType,
		}).Warn("Skipping funnel entry with malformed step data")
	}
}

// finalStepElapsed reads the last step of an ordered step array and returns
// its avg-time-from-start when the step was actually completed.
func finalStepElapsed(stepsNode any) (float64, bool) {
	steps, ok := stepsNode.([]any)
	if !ok || len(steps) == 0 {
		return 0, false
	}

	final, ok := steps[len(steps)-1].(map[string]any)
	if !ok {
		return 0, false
	}

	count := toFloat(final["count"])
	seconds := toFloat(final["avg_time_from_start"])
	if count <= 0 || seconds <= 0 {
		return 0, false
	}
	return seconds, true
}

func toFloat(v any) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case int:
		return float64(n)
	case int64:
		return float64(n)
	case string:
		if parsed, err := strconv.ParseFloat(n, 64); err == nil {
			return parsed
		}
	}
	return 0
}

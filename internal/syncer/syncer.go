// Package syncer sequences one sync pass: fetch the raw trees, reshape,
// upsert, then enqueue the downstream rollup without waiting on it. Each
// pass is time-boxed and records its own sync_attempts row.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/zackbabin/dub-analysis-tool-sub008/internal/reshape"
	"github.com/zackbabin/dub-analysis-tool-sub008/internal/warehouse"
	"github.com/zackbabin/dub-analysis-tool-sub008/pkg/clients/mixpanel"
	"github.com/zackbabin/dub-analysis-tool-sub008/pkg/kafka"
	"github.com/zackbabin/dub-analysis-tool-sub008/pkg/logging"
	"github.com/zackbabin/dub-analysis-tool-sub008/pkg/models"
)

// Sync kinds
const (
	KindEngagement = "engagement"
	KindFunnels    = "funnels"
	KindTickets    = "tickets"
)

// MetricSource is the analytics query API surface the syncer consumes.
type MetricSource interface {
	Segmentation(ctx context.Context, q mixpanel.SegmentationQuery) (map[string]any, error)
	Funnel(ctx context.Context, funnelID int, fromDate, toDate string) (map[string]any, error)
}

// TicketSource is the helpdesk API surface the syncer consumes.
type TicketSource interface {
	ListTicketsSince(ctx context.Context, since, syncedAt time.Time) ([]models.SupportTicket, error)
}

// Upserter is the warehouse driver surface the syncer consumes.
type Upserter interface {
	Upsert(ctx context.Context, req warehouse.Request) (warehouse.Result, error)
}

// AttemptRecorder owns the sync_attempts lifecycle.
type AttemptRecorder interface {
	Begin(ctx context.Context, kind string) (models.SyncAttempt, error)
	Finish(ctx context.Context, id, status, detail string) error
}

// RollupEnqueuer triggers downstream aggregation jobs.
type RollupEnqueuer interface {
	EnqueueRollup(job kafka.RollupJob) error
}

// EventNames maps reshaper roles to the provider's event names.
type EventNames struct {
	ProfileViews  string
	DetailViews   string
	Subscriptions string
	Copies        string
	Liquidations  string
}

// DefaultEventNames returns the production event names
func DefaultEventNames() EventNames {
	return EventNames{
		ProfileViews:  "Viewed Creator Profile",
		DetailViews:   "Viewed Portfolio Detail",
		Subscriptions: "Subscribed to Creator",
		Copies:        "Copied Portfolio",
		Liquidations:  "Liquidated Portfolio",
	}
}

// Config holds syncer configuration
type Config struct {
	// Window is how far back each snapshot range reaches. Default: 30 days.
	Window time.Duration

	// RunBudget is the wall-clock budget for one pass. Default: 5 minutes.
	RunBudget time.Duration

	// Funnels maps funnel type tags to provider funnel ids.
	Funnels map[string]int

	Events EventNames
}

// Metrics holds the syncer's Prometheus instruments. All fields optional.
type Metrics struct {
	Runs           *prometheus.CounterVec   // kind, status
	Duration       *prometheus.HistogramVec // kind
	Rows           *prometheus.CounterVec   // table, status
	SourceRequests *prometheus.CounterVec   // source, status
}

// Summary is the structured result of one sync pass.
type Summary struct {
	AttemptID string `json:"attempt_id"`
	Kind      string `json:"kind"`
	Status    string `json:"status"`
	Detail    string `json:"detail,omitempty"`

	PairRows    int `json:"pair_rows"`
	CreatorRows int `json:"creator_rows"`
	FunnelRows  int `json:"funnel_rows"`
	TicketRows  int `json:"ticket_rows"`

	FailedBatches   int  `json:"failed_batches"`
	SkippedBranches int  `json:"skipped_branches"`
	DroppedNoName   int  `json:"dropped_no_name"`
	Partial         bool `json:"partial"`
}

// Syncer orchestrates fetch -> reshape -> upsert -> rollup trigger.
type Syncer struct {
	cfg      Config
	source   MetricSource
	tickets  TicketSource
	driver   Upserter
	attempts AttemptRecorder
	rollups  RollupEnqueuer // nil when no broker is configured
	reshaper *reshape.PairReshaper
	funnels  *reshape.FunnelReshaper
	logger   logging.Logger
	metrics  *Metrics
	now      func() time.Time
}

// New creates a syncer
func New(
	cfg Config,
	source MetricSource,
	tickets TicketSource,
	driver Upserter,
	attempts AttemptRecorder,
	rollups RollupEnqueuer,
	reshaper *reshape.PairReshaper,
	funnels *reshape.FunnelReshaper,
	logger logging.Logger,
	metrics *Metrics,
) *Syncer {
	if cfg.Window <= 0 {
		cfg.Window = 30 * 24 * time.Hour
	}
	if cfg.RunBudget <= 0 {
		cfg.RunBudget = 5 * time.Minute
	}
	if cfg.Events == (EventNames{}) {
		cfg.Events = DefaultEventNames()
	}
	return &Syncer{
		cfg:      cfg,
		source:   source,
		tickets:  tickets,
		driver:   driver,
		attempts: attempts,
		rollups:  rollups,
		reshaper: reshaper,
		funnels:  funnels,
		logger:   logger,
		metrics:  metrics,
		now:      time.Now,
	}
}

// SyncEngagement runs one engagement pass over every metric role.
func (s *Syncer) SyncEngagement(ctx context.Context) (Summary, error) {
	return s.run(ctx, KindEngagement, func(ctx context.Context, deadline time.Time, summary *Summary) error {
		trees, err := s.fetchMetricTrees(ctx)
		if err != nil {
			return err
		}

		result := s.reshaper.Reshape(trees, s.now().UTC())
		summary.SkippedBranches = result.SkippedBranches
		summary.DroppedNoName = result.DroppedNoName

		creatorRes, err := s.driver.Upsert(ctx, warehouse.CreatorEngagementRequest(result.Creators, deadline))
		if err != nil {
			return fmt.Errorf("upsert creator engagement: %w", err)
		}
		s.countRows(warehouse.CreatorEngagementTable, creatorRes)

		pairRes, err := s.driver.Upsert(ctx, warehouse.PairEngagementRequest(result.Pairs, deadline))
		if err != nil {
			return fmt.Errorf("upsert pair engagement: %w", err)
		}
		s.countRows(warehouse.PairEngagementTable, pairRes)

		summary.CreatorRows = creatorRes.Inserted
		summary.PairRows = pairRes.Inserted
		summary.FailedBatches = creatorRes.FailedBatches + pairRes.FailedBatches
		summary.Partial = creatorRes.Partial || pairRes.Partial
		return nil
	})
}

// SyncFunnels runs one pass over every configured funnel.
func (s *Syncer) SyncFunnels(ctx context.Context) (Summary, error) {
	return s.run(ctx, KindFunnels, func(ctx context.Context, deadline time.Time, summary *Summary) error {
		from, to := s.dateRange()
		syncedAt := s.now().UTC()

		var completions []models.FunnelCompletion
		for funnelType, funnelID := range s.cfg.Funnels {
			tree, err := s.source.Funnel(ctx, funnelID, from, to)
			s.countSourceRequest("mixpanel", err)
			if err != nil {
				return fmt.Errorf("fetch funnel %q: %w", funnelType, err)
			}
			completions = append(completions, s.funnels.Reshape(tree, funnelType, syncedAt)...)
		}

		res, err := s.driver.Upsert(ctx, warehouse.FunnelCompletionRequest(completions, deadline))
		if err != nil {
			return fmt.Errorf("upsert funnel completions: %w", err)
		}
		s.countRows(warehouse.FunnelCompletionTable, res)

		summary.FunnelRows = res.Inserted
		summary.FailedBatches = res.FailedBatches
		summary.Partial = res.Partial
		return nil
	})
}

// SyncTickets runs one pass over recently updated support tickets.
func (s *Syncer) SyncTickets(ctx context.Context) (Summary, error) {
	return s.run(ctx, KindTickets, func(ctx context.Context, deadline time.Time, summary *Summary) error {
		syncedAt := s.now().UTC()
		tickets, err := s.tickets.ListTicketsSince(ctx, syncedAt.Add(-s.cfg.Window), syncedAt)
		s.countSourceRequest("helpdesk", err)
		if err != nil {
			return fmt.Errorf("fetch tickets: %w", err)
		}

		res, err := s.driver.Upsert(ctx, warehouse.SupportTicketRequest(tickets, deadline))
		if err != nil {
			return fmt.Errorf("upsert tickets: %w", err)
		}
		s.countRows(warehouse.SupportTicketTable, res)

		summary.TicketRows = res.Inserted
		summary.FailedBatches = res.FailedBatches
		summary.Partial = res.Partial
		return nil
	})
}

// run wraps one pass with attempt bookkeeping, the time box, rate-limit
// downgrade, and the downstream trigger.
func (s *Syncer) run(ctx context.Context, kind string, pass func(ctx context.Context, deadline time.Time, summary *Summary) error) (Summary, error) {
	start := s.now()
	summary := Summary{Kind: kind}

	attempt, err := s.attempts.Begin(ctx, kind)
	if err != nil {
		summary.Status = models.SyncStatusFailed
		summary.Detail = err.Error()
		return summary, err
	}
	summary.AttemptID = attempt.ID

	deadline := start.Add(s.cfg.RunBudget)
	runCtx, cancel := context.WithDeadline(ctx, deadline)
	defer cancel()

	passErr := pass(runCtx, deadline, &summary)

	switch {
	case passErr == nil:
		summary.Status = models.SyncStatusCompleted
		summary.Detail = s.completionDetail(summary)
	case errors.Is(passErr, mixpanel.ErrRateLimited):
		// Not a failure: the dashboard keeps serving the previous
		// snapshot and the next scheduled run picks up from there.
		summary.Status = models.SyncStatusRateLimited
		summary.Detail = "source rate limited; using existing data"
		passErr = nil
	default:
		summary.Status = models.SyncStatusFailed
		summary.Detail = passErr.Error()
	}

	if err := s.attempts.Finish(ctx, attempt.ID, summary.Status, summary.Detail); err != nil {
		s.logger.WithError(err).WithField("attempt_id", attempt.ID).Error("Failed to record sync attempt outcome")
	}

	if summary.Status == models.SyncStatusCompleted {
		s.enqueueRollup(kind, attempt.ID)
	}

	s.observe(kind, summary.Status, s.now().Sub(start))

	s.logger.WithFields(logging.Fields{
		"kind":           kind,
		"attempt_id":     attempt.ID,
		"status":         summary.Status,
		"failed_batches": summary.FailedBatches,
		"partial":        summary.Partial,
	}).Info("Sync pass finished")

	return summary, passErr
}

// fetchMetricTrees pulls all five role trees; the client's admission gate
// bounds how many requests are actually in flight.
func (s *Syncer) fetchMetricTrees(ctx context.Context) (reshape.MetricTrees, error) {
	from, to := s.dateRange()
	var trees reshape.MetricTrees

	g, gctx := errgroup.WithContext(ctx)

	fetch := func(event string, on string, segments []string, dest *map[string]any) func() error {
		return func() error {
			tree, err := s.source.Segmentation(gctx, mixpanel.SegmentationQuery{
				Event:    event,
				FromDate: from,
				ToDate:   to,
				On:       on,
				Segments: segments,
			})
			s.countSourceRequest("mixpanel", err)
			if err != nil {
				return err
			}
			*dest = tree
			return nil
		}
	}

	g.Go(fetch(s.cfg.Events.ProfileViews, "user_id", []string{"creator_id", "creator_username"}, &trees.ProfileViews))
	g.Go(fetch(s.cfg.Events.Subscriptions, "user_id", []string{"creator_id", "creator_username"}, &trees.Subscriptions))
	g.Go(fetch(s.cfg.Events.DetailViews, "user_id", []string{"ticker", "creator_id"}, &trees.DetailViews))
	g.Go(fetch(s.cfg.Events.Copies, "user_id", []string{"ticker", "creator_id"}, &trees.Copies))
	g.Go(fetch(s.cfg.Events.Liquidations, "user_id", []string{"ticker", "creator_id"}, &trees.Liquidations))

	if err := g.Wait(); err != nil {
		return reshape.MetricTrees{}, err
	}
	return trees, nil
}

func (s *Syncer) dateRange() (string, string) {
	now := s.now().UTC()
	return now.Add(-s.cfg.Window).Format("2006-01-02"), now.Format("2006-01-02")
}

func (s *Syncer) enqueueRollup(kind, attemptID string) {
	if s.rollups == nil {
		return
	}
	job := kafka.RollupJob{
		JobID:         uuid.New().String(),
		SyncAttemptID: attemptID,
		Kind:          kind,
		RequestedAt:   s.now().UTC(),
	}
	if err := s.rollups.EnqueueRollup(job); err != nil {
		s.logger.WithError(err).WithField("kind", kind).Warn("Failed to enqueue rollup job")
	}
}

func (s *Syncer) completionDetail(summary Summary) string {
	switch {
	case summary.Partial:
		return "deadline reached; partial upsert committed"
	case summary.FailedBatches > 0:
		return fmt.Sprintf("%d batches failed and were skipped", summary.FailedBatches)
	default:
		return ""
	}
}

func (s *Syncer) countRows(table string, res warehouse.Result) {
	if s.metrics == nil || s.metrics.Rows == nil {
		return
	}
	s.metrics.Rows.WithLabelValues(table, "upserted").Add(float64(res.Inserted))
	if res.FailedBatches > 0 {
		s.metrics.Rows.WithLabelValues(table, "failed_batch").Add(float64(res.FailedBatches))
	}
}

func (s *Syncer) countSourceRequest(source string, err error) {
	if s.metrics == nil || s.metrics.SourceRequests == nil {
		return
	}
	status := "ok"
	switch {
	case errors.Is(err, mixpanel.ErrRateLimited):
		status = "rate_limited"
	case err != nil:
		status = "error"
	}
	s.metrics.SourceRequests.WithLabelValues(source, status).Inc()
}

func (s *Syncer) observe(kind, status string, elapsed time.Duration) {
	if s.metrics == nil {
		return
	}
	if s.metrics.Runs != nil {
		s.metrics.Runs.WithLabelValues(kind, status).Inc()
	}
	if s.metrics.Duration != nil {
		s.metrics.Duration.WithLabelValues(kind).Observe(elapsed.Seconds())
	}
}

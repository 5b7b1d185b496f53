// Package warehouse pushes reshaped records into Postgres in bounded,
// conflict-keyed batches. Idempotency comes from the conflict key, not from
// driver-side deduplication; reshapers hand over pre-deduplicated lists.
package warehouse

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"
	"github.com/samber/lo"

	"github.com/zackbabin/dub-analysis-tool-sub008/pkg/logging"
)

const (
	// MaxBatchSize keeps one statement under the sink's request-size and
	// execution-time limits.
	MaxBatchSize = 5000

	// deadlineMargin is how close to the deadline the driver will still
	// start a new batch.
	deadlineMargin = 5 * time.Second
)

// Request describes one upsert pass for a table.
type Request struct {
	Table       string
	Columns     []string
	ConflictKey []string
	Rows        [][]any

	// BatchSize defaults to MaxBatchSize and is capped there.
	BatchSize int

	// Deadline is the wall-clock budget for the whole pass. Zero means
	// unbounded. Reaching it is an early exit, not an error.
	Deadline time.Time
}

// Result reports what one upsert pass accomplished.
type Result struct {
	Inserted      int
	FailedBatches int

	// Partial is set when the deadline stopped the pass before every
	// batch was attempted.
	Partial bool
}

// Driver executes batched conflict-key upserts.
type Driver struct {
	db     *sql.DB
	logger logging.Logger
	now    func() time.Time
}

// NewDriver creates an upsert driver over the given warehouse connection
func NewDriver(db *sql.DB, logger logging.Logger) *Driver {
	return &Driver{db: db, logger: logger, now: time.Now}
}

// Upsert splits the request's rows into consecutive batches and runs an
// insert-or-update per batch. A failed batch is logged, counted, and
// skipped; later batches still run. Re-running the same request leaves the
// table unchanged beyond timestamps carried in the rows themselves.
func (d *Driver) Upsert(ctx context.Context, req Request) (Result, error) {
	var result Result

	if len(req.Rows) == 0 {
		return result, nil
	}
	if err := validate(req); err != nil {
		return result, err
	}

	batchSize := req.BatchSize
	if batchSize <= 0 || batchSize > MaxBatchSize {
		batchSize = MaxBatchSize
	}

	for _, batch := range lo.Chunk(req.Rows, batchSize) {
		if !req.Deadline.IsZero() && d.now().Add(deadlineMargin).After(req.Deadline) {
			result.Partial = true
			d.logger.WithFields(logging.Fields{
				"table":    req.Table,
				"inserted": result.Inserted,
				"pending":  len(req.Rows) - result.Inserted,
			}).Warn("Upsert deadline reached, returning partial result")
			break
		}

		if err := d.upsertBatch(ctx, req, batch); err != nil {
			result.FailedBatches++
			d.logger.WithError(err).WithFields(logging.Fields{
				"table":      req.Table,
				"batch_rows": len(batch),
			}).Error("Upsert batch failed, continuing with next batch")
			continue
		}
		result.Inserted += len(batch)
	}

	return result, nil
}

func (d *Driver) upsertBatch(ctx context.Context, req Request, batch [][]any) error {
	query := buildUpsertQuery(req.Table, req.Columns, req.ConflictKey, len(batch))

	args := make([]any, 0, len(batch)*len(req.Columns))
	for _, row := range batch {
		args = append(args, row...)
	}

	_, err := d.db.ExecContext(ctx, query, args...)
	return err
}

// buildUpsertQuery renders INSERT ... ON CONFLICT (key) DO UPDATE SET for
// every non-key column. With only key columns the conflict action degrades
// to DO NOTHING.
func buildUpsertQuery(table string, columns, conflictKey []string, rowCount int) string {
	quotedCols := make([]string, len(columns))
	for i, col := range columns {
		quotedCols[i] = pq.QuoteIdentifier(col)
	}

	var sb strings.Builder
	sb.WriteString("INSERT INTO ")
	sb.WriteString(pq.QuoteIdentifier(table))
	sb.WriteString(" (")
	sb.WriteString(strings.Join(quotedCols, ", "))
	sb.WriteString(") VALUES ")

	placeholder := 1
	for row := 0; row < rowCount; row++ {
		if row > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString("(")
		for col := range columns {
			if col > 0 {
				sb.WriteString(", ")
			}
			fmt.Fprintf(&sb, "$%d", placeholder)
			placeholder++
		}
		sb.WriteString(")")
	}

	quotedKey := make([]string, len(conflictKey))
	for i, col := range conflictKey {
		quotedKey[i] = pq.QuoteIdentifier(col)
	}
	sb.WriteString(" ON CONFLICT (")
	sb.WriteString(strings.Join(quotedKey, ", "))
	sb.WriteString(")")

	keySet := lo.SliceToMap(conflictKey, func(col string) (string, struct{}) { return col, struct{}{} })
	updates := make([]string, 0, len(columns))
	for _, col := range columns {
		if _, isKey := keySet[col]; isKey {
			continue
		}
		quoted := pq.QuoteIdentifier(col)
		updates = append(updates, quoted+" = EXCLUDED."+quoted)
	}

	if len(updates) == 0 {
		sb.WriteString(" DO NOTHING")
	} else {
		sb.WriteString(" DO UPDATE SET ")
		sb.WriteString(strings.Join(updates, ", "))
	}

	return sb.String()
}

func validate(req Request) error {
	if req.Table == "" {
		return fmt.Errorf("upsert: table name is required")
	}
	if len(req.Columns) == 0 {
		return fmt.Errorf("upsert: columns are required")
	}
	if len(req.ConflictKey) == 0 {
		return fmt.Errorf("upsert: conflict key is required")
	}
	colSet := lo.SliceToMap(req.Columns, func(col string) (string, struct{}) { return col, struct{}{} })
	for _, key := range req.ConflictKey {
		if _, ok := colSet[key]; !ok {
			return fmt.Errorf("upsert: conflict key column %q not in column list", key)
		}
	}
	for i, row := range req.Rows {
		if len(row) != len(req.Columns) {
			return fmt.Errorf("upsert: row %d has %d values, want %d", i, len(row), len(req.Columns))
		}
	}
	return nil
}

package warehouse

import (
	"time"

	"github.com/zackbabin/dub-analysis-tool-sub008/pkg/models"
)

// Table names and conflict keys match the dashboard schema migrations.
const (
	PairEngagementTable    = "pair_engagement"
	CreatorEngagementTable = "creator_engagement"
	FunnelCompletionTable  = "funnel_completions"
	SupportTicketTable     = "support_tickets"
)

// PairEngagementRequest builds the upsert request for pair engagement rows
func PairEngagementRequest(pairs []models.PairEngagement, deadline time.Time) Request {
	rows := make([][]any, len(pairs))
	for i, p := range pairs {
		rows[i] = []any{
			p.UserID, p.TickerID, p.CreatorID, p.CreatorUsername,
			p.DetailViewCount, p.CopyCount, p.LiquidationCount, p.SyncedAt,
		}
	}
	return Request{
		Table: PairEngagementTable,
		Columns: []string{
			"user_id", "ticker_id", "creator_id", "creator_username",
			"detail_view_count", "copy_count", "liquidation_count", "synced_at",
		},
		ConflictKey: []string{"user_id", "ticker_id", "creator_id"},
		Rows:        rows,
		Deadline:    deadline,
	}
}

// CreatorEngagementRequest builds the upsert request for creator summary rows
func CreatorEngagementRequest(creators []models.CreatorEngagement, deadline time.Time) Request {
	rows := make([][]any, len(creators))
	for i, c := range creators {
		rows[i] = []any{
			c.UserID, c.CreatorID, c.CreatorUsername,
			c.ProfileViewCount, c.SubscriptionCount, c.DidSubscribe, c.SyncedAt,
		}
	}
	return Request{
		Table: CreatorEngagementTable,
		Columns: []string{
			"user_id", "creator_id", "creator_username",
			"profile_view_count", "subscription_count", "did_subscribe", "synced_at",
		},
		ConflictKey: []string{"user_id", "creator_id"},
		Rows:        rows,
		Deadline:    deadline,
	}
}

// FunnelCompletionRequest builds the upsert request for funnel completions
func FunnelCompletionRequest(completions []models.FunnelCompletion, deadline time.Time) Request {
	rows := make([][]any, len(completions))
	for i, f := range completions {
		rows[i] = []any{
			f.UserID, f.FunnelType, f.ElapsedSeconds, f.ElapsedDays, f.SyncedAt,
		}
	}
	return Request{
		Table: FunnelCompletionTable,
		Columns: []string{
			"user_id", "funnel_type", "elapsed_seconds", "elapsed_days", "synced_at",
		},
		ConflictKey: []string{"user_id", "funnel_type"},
		Rows:        rows,
		Deadline:    deadline,
	}
}

// SupportTicketRequest builds the upsert request for redacted support tickets
func SupportTicketRequest(tickets []models.SupportTicket, deadline time.Time) Request {
	rows := make([][]any, len(tickets))
	for i, t := range tickets {
		rows[i] = []any{
			t.TicketID, t.UserID, t.Status, t.Subject, t.Body,
			t.CreatedAt, t.UpdatedAt, t.SyncedAt,
		}
	}
	return Request{
		Table: SupportTicketTable,
		Columns: []string{
			"ticket_id", "user_id", "status", "subject", "body",
			"created_at", "updated_at", "synced_at",
		},
		ConflictKey: []string{"ticket_id"},
		Rows:        rows,
		Deadline:    deadline,
	}
}

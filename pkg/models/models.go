// Package models holds the warehouse-facing record types shared by the
// reshaping engine, the upsert driver, and the HTTP surface.
package models

import "time"

// Sync attempt states
const (
	SyncStatusInProgress  = "in_progress"
	SyncStatusCompleted   = "completed"
	SyncStatusFailed      = "failed"
	SyncStatusRateLimited = "rate_limited"
)

// SyncAttempt is the bookkeeping row for one sync run.
type SyncAttempt struct {
	ID         string     `json:"id"`
	Kind       string     `json:"kind"`
	Status     string     `json:"status"`
	Detail     string     `json:"detail,omitempty"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

// PairEngagement is one user's interaction with a (ticker, creator) pair,
// accumulated across every metric tree in a single sync window.
type PairEngagement struct {
	UserID           string    `json:"user_id"`
	TickerID         string    `json:"ticker_id"`
	CreatorID        string    `json:"creator_id"`
	CreatorUsername  string    `json:"creator_username"`
	DetailViewCount  int64     `json:"detail_view_count"`
	CopyCount        int64     `json:"copy_count"`
	LiquidationCount int64     `json:"liquidation_count"`
	SyncedAt         time.Time `json:"synced_at"`
}

// CreatorEngagement is the user-level summary for roles keyed at
// (user, creator) only.
type CreatorEngagement struct {
	UserID            string    `json:"user_id"`
	CreatorID         string    `json:"creator_id"`
	CreatorUsername   string    `json:"creator_username"`
	ProfileViewCount  int64     `json:"profile_view_count"`
	SubscriptionCount int64     `json:"subscription_count"`
	DidSubscribe      bool      `json:"did_subscribe"`
	SyncedAt          time.Time `json:"synced_at"`
}

// FunnelCompletion records the elapsed time from funnel start to the final
// step for one user. Only completed funnels are materialized.
type FunnelCompletion struct {
	UserID         string    `json:"user_id"`
	FunnelType     string    `json:"funnel_type"`
	ElapsedSeconds float64   `json:"elapsed_seconds"`
	ElapsedDays    float64   `json:"elapsed_days"`
	SyncedAt       time.Time `json:"synced_at"`
}

// SupportTicket is a redacted support conversation pulled from the ticket
// provider. Free-text fields are PII-scrubbed before they reach this struct.
type SupportTicket struct {
	TicketID  string    `json:"ticket_id"`
	UserID    string    `json:"user_id"`
	Status    string    `json:"status"`
	Subject   string    `json:"subject"`
	Body      string    `json:"body"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	SyncedAt  time.Time `json:"synced_at"`
}

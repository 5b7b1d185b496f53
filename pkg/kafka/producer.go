// Package kafka provides the downstream trigger producer. Rollup jobs are
// enqueued fire-and-forget: the sync run never waits on their completion.
package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/twmb/franz-go/pkg/kgo"
)

// RollupJobsTopic is the topic dependent aggregation jobs consume.
const RollupJobsTopic = "rollup_jobs"

// RollupJob asks a downstream worker to refresh the aggregates derived
// from one freshly synced table set.
type RollupJob struct {
	JobID         string    `json:"job_id"`
	SyncAttemptID string    `json:"sync_attempt_id"`
	Kind          string    `json:"kind"`
	RequestedAt   time.Time `json:"requested_at"`
}

// Producer wraps a franz-go client for rollup job publication
type Producer struct {
	client *kgo.Client
	logger *logrus.Logger
}

// NewProducer creates a new rollup job producer
func NewProducer(brokers []string, clientID string, logger *logrus.Logger) (*Producer, error) {
	opts := []kgo.Opt{
		kgo.SeedBrokers(brokers...),
		kgo.ClientID(clientID),
		kgo.ProducerBatchCompression(kgo.SnappyCompression()),
		kgo.ProducerLinger(10 * time.Millisecond),
	}

	client, err := kgo.NewClient(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka client: %w", err)
	}

	return &Producer{client: client, logger: logger}, nil
}

// Close flushes pending records and releases the client
func (p *Producer) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = p.client.Flush(ctx)
	p.client.Close()
	return nil
}

// EnqueueRollup publishes a rollup job without waiting for the broker ack.
// Delivery failures are logged; the caller's sync result does not depend on
// the rollup landing.
func (p *Producer) EnqueueRollup(job RollupJob) error {
	value, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to marshal rollup job: %w", err)
	}

	record := &kgo.Record{
		Topic: RollupJobsTopic,
		Key:   []byte(job.Kind),
		Value: value,
	}

	p.client.Produce(context.Background(), record, func(r *kgo.Record, err error) {
		if err != nil {
			p.logger.WithError(err).WithField("job_id", job.JobID).Warn("Rollup job delivery failed")
		}
	})

	return nil
}

// Ping checks broker connectivity
func (p *Producer) Ping(ctx context.Context) error {
	return p.client.Ping(ctx)
}

// Package deadletter keeps a Redis-backed journal of terminally failed
// jobs so operators can inspect and requeue them. Best effort only: the
// queue never blocks or fails on journal errors.
package deadletter

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/vietddude/genqueue/internal/core/domain"
)

// Config holds Redis connection configuration.
type Config struct {
	URL      string `yaml:"url"`
	Password string `yaml:"password"`
}

// Record is one journal entry.
type Record struct {
	Job      *domain.Job `json:"job"`
	Reason   string      `json:"reason"`
	FailedAt time.Time   `json:"failed_at"`
}

// Journal stores failed jobs in Redis: a ZSET ordered by retry count
// plus one JSON record per job with a TTL.
type Journal struct {
	rdb       *redis.Client
	namespace string
	ttl       time.Duration
}

// NewJournal connects to Redis and verifies the connection.
func NewJournal(cfg Config, namespace string) (*Journal, error) {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis URL: %w", err)
	}
	if cfg.Password != "" {
		opts.Password = cfg.Password
	}

	rdb := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &Journal{
		rdb:       rdb,
		namespace: namespace,
		ttl:       72 * time.Hour,
	}, nil
}

// Close closes the Redis connection.
func (j *Journal) Close() error {
	return j.rdb.Close()
}

func (j *Journal) indexKey() string {
	return fmt.Sprintf("dead_jobs:%s", j.namespace)
}

func (j *Journal) recordKey(id string) string {
	return fmt.Sprintf("dead_job:%s:%s", j.namespace, id)
}

// Record journals a terminally failed job.
func (j *Journal) Record(ctx context.Context, job *domain.Job, reason string) error {
	rec := Record{Job: job, Reason: reason, FailedAt: time.Now().UTC()}
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal record: %w", err)
	}

	if err := j.rdb.Set(ctx, j.recordKey(job.ID), data, j.ttl).Err(); err != nil {
		return fmt.Errorf("failed to set record: %w", err)
	}

	// Fewer retries burned = cheaper to requeue first.
	if err := j.rdb.ZAdd(ctx, j.indexKey(), redis.Z{
		Score:  float64(job.RetryCount),
		Member: job.ID,
	}).Err(); err != nil {
		return fmt.Errorf("failed to index record: %w", err)
	}

	return nil
}

// All returns every journaled record.
func (j *Journal) All(ctx context.Context) ([]*Record, error) {
	ids, err := j.rdb.ZRange(ctx, j.indexKey(), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("zrange failed: %w", err)
	}

	records := make([]*Record, 0, len(ids))
	for _, id := range ids {
		data, err := j.rdb.Get(ctx, j.recordKey(id)).Bytes()
		if err == redis.Nil {
			// Record expired but ID still indexed, drop it.
			j.rdb.ZRem(ctx, j.indexKey(), id)
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to get record: %w", err)
		}

		var rec Record
		if err := json.Unmarshal(data, &rec); err != nil {
			continue
		}
		records = append(records, &rec)
	}

	return records, nil
}

// Take removes and returns a journaled job so the caller can requeue
// it. Returns nil when the id is not journaled.
func (j *Journal) Take(ctx context.Context, id string) (*domain.Job, error) {
	data, err := j.rdb.Get(ctx, j.recordKey(id)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get record: %w", err)
	}

	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("failed to unmarshal record: %w", err)
	}

	if err := j.rdb.ZRem(ctx, j.indexKey(), id).Err(); err != nil {
		return nil, fmt.Errorf("failed to remove from index: %w", err)
	}
	if err := j.rdb.Del(ctx, j.recordKey(id)).Err(); err != nil {
		return nil, fmt.Errorf("failed to delete record: %w", err)
	}

	// Reset mutable lifecycle fields so the job can run again.
	job := rec.Job
	job.Status = domain.StatusQueued
	job.RetryCount = 0
	job.LastError = ""
	job.Result = nil
	return job, nil
}

// Count returns the number of journaled jobs.
func (j *Journal) Count(ctx context.Context) (int, error) {
	n, err := j.rdb.ZCard(ctx, j.indexKey()).Result()
	if err != nil {
		return 0, fmt.Errorf("zcard failed: %w", err)
	}
	return int(n), nil
}

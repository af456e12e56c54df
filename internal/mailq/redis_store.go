package mailq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	defaultRedisPrefix           = "matchbreak:mailq"
	defaultRedisOperationTimeout = 5 * time.Second
	defaultRedisPollInterval     = 250 * time.Millisecond
	defaultRedisTransferBatch    = 100
)

// Redis key layout under the configured prefix:
//
//	{p}:ready          list  - jobs visible to workers, FIFO
//	{p}:delayed        zset  - member=payload score=runAt ms
//	{p}:active         hash  - lease token -> payload
//	{p}:leases         zset  - member=token score=lease expiry ms
//	{p}:completed      zset  - member=job id score=finished ms
//	{p}:failed:index   zset  - member=job id score=failed ms
//	{p}:failed:entry:* string - failed job snapshot, TTL = failed retention
//
// All state transitions run as Lua scripts so they are atomic on the
// server; clients never read-modify-write shared keys.
var (
	// reserveScript promotes due delayed jobs, reclaims jobs whose lease
	// expired without a reported outcome, then pops the next ready job
	// under a fresh lease.
	reserveScript = redis.NewScript(`
local delayed = KEYS[1]
local ready = KEYS[2]
local leases = KEYS[3]
local active = KEYS[4]
local nowMs = tonumber(ARGV[1])
local batch = tonumber(ARGV[2])
local leaseMs = tonumber(ARGV[3])
local token = ARGV[4]

local due = redis.call("ZRANGEBYSCORE", delayed, "-inf", nowMs, "LIMIT", 0, batch)
for _, payload in ipairs(due) do
  redis.call("RPUSH", ready, payload)
  redis.call("ZREM", delayed, payload)
end

local expired = redis.call("ZRANGEBYSCORE", leases, "-inf", nowMs, "LIMIT", 0, batch)
for _, tok in ipairs(expired) do
  local held = redis.call("HGET", active, tok)
  if held then
    redis.call("RPUSH", ready, held)
    redis.call("HDEL", active, tok)
  end
  redis.call("ZREM", leases, tok)
end

local payload = redis.call("LPOP", ready)
if not payload then
  return nil
end

redis.call("HSET", active, token, payload)
redis.call("ZADD", leases, nowMs + leaseMs, token)
return payload
`)

	// ackScript releases the lease and records the completion timestamp.
	ackScript = redis.NewScript(`
local current = redis.call("HGET", KEYS[1], ARGV[1])
if not current then
  return 0
end
if current ~= ARGV[2] then
  return -1
end
redis.call("HDEL", KEYS[1], ARGV[1])
redis.call("ZREM", KEYS[2], ARGV[1])
redis.call("ZADD", KEYS[3], ARGV[4], ARGV[3])
return 1
`)

	// retryScript releases the lease and routes the next payload to the
	// ready list or the delayed zset depending on its run-at time.
	retryScript = redis.NewScript(`
local current = redis.call("HGET", KEYS[1], ARGV[1])
if not current then
  return 0
end
if current ~= ARGV[2] then
  return -1
end
redis.call("HDEL", KEYS[1], ARGV[1])
redis.call("ZREM", KEYS[2], ARGV[1])

local runAtMs = tonumber(ARGV[4])
if runAtMs <= tonumber(ARGV[5]) then
  redis.call("RPUSH", KEYS[3], ARGV[3])
else
  redis.call("ZADD", KEYS[4], runAtMs, ARGV[3])
end
return 1
`)

	// failScript releases the lease and writes the terminal failure record
	// with its retention TTL.
	failScript = redis.NewScript(`
local current = redis.call("HGET", KEYS[1], ARGV[1])
if not current then
  return 0
end
if current ~= ARGV[2] then
  return -1
end
redis.call("HDEL", KEYS[1], ARGV[1])
redis.call("ZREM", KEYS[2], ARGV[1])
redis.call("SET", KEYS[4], ARGV[3], "EX", ARGV[6])
redis.call("ZADD", KEYS[3], ARGV[5], ARGV[4])
return 1
`)
)

// RedisStoreConfig configures the Redis-backed queue store.
type RedisStoreConfig struct {
	URL              string
	Prefix           string
	OperationTimeout time.Duration
	PollInterval     time.Duration
	TransferBatch    int
	Retention        RetentionPolicy
}

func (c *RedisStoreConfig) normalize() {
	if strings.TrimSpace(c.Prefix) == "" {
		c.Prefix = defaultRedisPrefix
	}
	if c.OperationTimeout <= 0 {
		c.OperationTimeout = defaultRedisOperationTimeout
	}
	if c.PollInterval <= 0 {
		c.PollInterval = defaultRedisPollInterval
	}
	if c.TransferBatch <= 0 {
		c.TransferBatch = defaultRedisTransferBatch
	}
	c.Retention.normalize()
}

// failedRecord is the persisted snapshot of a terminally failed job.
type failedRecord struct {
	Job      *EmailJob `json:"job"`
	Reason   string    `json:"reason"`
	FailedAt time.Time `json:"failed_at"`
}

// RedisStore implements QueueStore on Redis lists/zsets with lease tokens.
// Producers and workers each hold their own RedisStore; the worker's
// Reserve loop is the only long-polling consumer.
type RedisStore struct {
	client *redis.Client
	log    *slog.Logger
	config RedisStoreConfig
}

// NewRedisStore connects to Redis and verifies connectivity before
// returning the store.
func NewRedisStore(cfg RedisStoreConfig, log *slog.Logger) (*RedisStore, error) {
	if log == nil {
		log = slog.Default()
	}
	if strings.TrimSpace(cfg.URL) == "" {
		return nil, errors.New("redis url is required")
	}
	cfg.normalize()

	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url failed: %w", err)
	}
	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), cfg.OperationTimeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis failed: %w", err)
	}

	return &RedisStore{client: client, log: log, config: cfg}, nil
}

// Enqueue persists the job, honoring job.RunAt for delayed visibility.
func (s *RedisStore) Enqueue(ctx context.Context, job *EmailJob) error {
	if job == nil {
		return errors.New("job is required")
	}
	encoded, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job failed: %w", err)
	}

	opCtx, cancel := s.operationContext(ctx)
	defer cancel()

	if job.RunAt.After(time.Now()) {
		return s.client.ZAdd(opCtx, s.delayedKey(), redis.Z{
			Score:  float64(job.RunAt.UnixMilli()),
			Member: string(encoded),
		}).Err()
	}
	return s.client.RPush(opCtx, s.readyKey(), string(encoded)).Err()
}

// Reserve polls until a job is eligible and returns it under a fresh lease
// with Attempts incremented.
func (s *RedisStore) Reserve(ctx context.Context, leaseFor time.Duration) (*EmailJob, *Lease, error) {
	if leaseFor <= 0 {
		leaseFor = DefaultLeaseTTL
	}

	for {
		if err := ctx.Err(); err != nil {
			return nil, nil, err
		}

		token := uuid.New().String()
		now := time.Now()
		opCtx, cancel := s.operationContext(ctx)
		result, err := reserveScript.Run(
			opCtx,
			s.client,
			[]string{s.delayedKey(), s.readyKey(), s.leasesKey(), s.activeKey()},
			now.UnixMilli(),
			s.config.TransferBatch,
			leaseFor.Milliseconds(),
			token,
		).Result()
		cancel()
		if err != nil && !errors.Is(err, redis.Nil) {
			return nil, nil, err
		}

		raw, _ := result.(string)
		if errors.Is(err, redis.Nil) || strings.TrimSpace(raw) == "" {
			select {
			case <-ctx.Done():
				return nil, nil, ctx.Err()
			case <-time.After(s.config.PollInterval):
				continue
			}
		}

		var job EmailJob
		if decodeErr := json.Unmarshal([]byte(raw), &job); decodeErr != nil {
			// Malformed payload: drop the lease so the entry does not
			// cycle back into the ready list forever.
			s.log.Warn("discarding malformed queued job payload", "error", decodeErr)
			s.dropLease(ctx, token)
			continue
		}

		job.Attempts++
		updated, encodeErr := json.Marshal(&job)
		if encodeErr != nil {
			s.dropLease(ctx, token)
			return nil, nil, fmt.Errorf("re-encode leased job failed: %w", encodeErr)
		}

		// The token is private to this worker, so overwriting the lease
		// payload with the incremented attempt count is race-free.
		opCtx, cancel = s.operationContext(ctx)
		setErr := s.client.HSet(opCtx, s.activeKey(), token, string(updated)).Err()
		cancel()
		if setErr != nil {
			return nil, nil, setErr
		}

		lease := &Lease{
			JobID:    job.ID,
			Token:    token,
			ExpireAt: now.Add(leaseFor),
		}
		return job.clone(), lease, nil
	}
}

// Ack marks the leased job completed.
func (s *RedisStore) Ack(ctx context.Context, lease *Lease, job *EmailJob) error {
	expected, err := s.expectedPayload(lease, job)
	if err != nil {
		return err
	}

	opCtx, cancel := s.operationContext(ctx)
	defer cancel()
	result, err := ackScript.Run(
		opCtx,
		s.client,
		[]string{s.activeKey(), s.leasesKey(), s.completedKey()},
		lease.Token,
		expected,
		job.ID,
		time.Now().UnixMilli(),
	).Int()
	if err != nil {
		return err
	}
	return leaseTransitionError(result)
}

// Retry releases the lease and reschedules the job to run at runAt.
func (s *RedisStore) Retry(ctx context.Context, lease *Lease, job *EmailJob, runAt time.Time, reason string) error {
	expected, err := s.expectedPayload(lease, job)
	if err != nil {
		return err
	}

	next := job.clone()
	next.RunAt = runAt.UTC()
	next.LastError = reason
	encoded, err := json.Marshal(next)
	if err != nil {
		return fmt.Errorf("marshal retry job failed: %w", err)
	}

	opCtx, cancel := s.operationContext(ctx)
	defer cancel()
	result, err := retryScript.Run(
		opCtx,
		s.client,
		[]string{s.activeKey(), s.leasesKey(), s.readyKey(), s.delayedKey()},
		lease.Token,
		expected,
		string(encoded),
		next.RunAt.UnixMilli(),
		time.Now().UnixMilli(),
	).Int()
	if err != nil {
		return err
	}
	return leaseTransitionError(result)
}

// Fail marks the leased job terminally failed, retaining the record for the
// failed-retention window.
func (s *RedisStore) Fail(ctx context.Context, lease *Lease, job *EmailJob, reason string) error {
	expected, err := s.expectedPayload(lease, job)
	if err != nil {
		return err
	}

	now := time.Now()
	record, err := json.Marshal(failedRecord{Job: job.clone(), Reason: reason, FailedAt: now.UTC()})
	if err != nil {
		return fmt.Errorf("marshal failed record: %w", err)
	}

	opCtx, cancel := s.operationContext(ctx)
	defer cancel()
	result, err := failScript.Run(
		opCtx,
		s.client,
		[]string{s.activeKey(), s.leasesKey(), s.failedIndexKey(), s.failedEntryKey(job.ID)},
		lease.Token,
		expected,
		string(record),
		job.ID,
		now.UnixMilli(),
		int64(s.config.Retention.Failed.Seconds()),
	).Int()
	if err != nil {
		return err
	}
	return leaseTransitionError(result)
}

// Stats returns per-state counts after pruning terminal indexes past their
// retention windows.
func (s *RedisStore) Stats(ctx context.Context) (QueueStats, error) {
	opCtx, cancel := s.operationContext(ctx)
	defer cancel()

	now := time.Now()
	completedCutoff := now.Add(-s.config.Retention.Completed).UnixMilli()
	failedCutoff := now.Add(-s.config.Retention.Failed).UnixMilli()

	var (
		waiting, delayed, active, completed, failed *redis.IntCmd
	)
	_, err := s.client.TxPipelined(opCtx, func(pipe redis.Pipeliner) error {
		pipe.ZRemRangeByScore(opCtx, s.completedKey(), "-inf", fmt.Sprintf("%d", completedCutoff))
		pipe.ZRemRangeByScore(opCtx, s.failedIndexKey(), "-inf", fmt.Sprintf("%d", failedCutoff))
		waiting = pipe.LLen(opCtx, s.readyKey())
		delayed = pipe.ZCard(opCtx, s.delayedKey())
		active = pipe.HLen(opCtx, s.activeKey())
		completed = pipe.ZCard(opCtx, s.completedKey())
		failed = pipe.ZCard(opCtx, s.failedIndexKey())
		return nil
	})
	if err != nil {
		return QueueStats{}, err
	}

	return QueueStats{
		Active:    active.Val(),
		Waiting:   waiting.Val(),
		Delayed:   delayed.Val(),
		Completed: completed.Val(),
		Failed:    failed.Val(),
	}, nil
}

// ListWaiting returns up to limit pending jobs, visible ones first, then
// delayed ones soonest first.
func (s *RedisStore) ListWaiting(ctx context.Context, limit int) ([]JobSnapshot, error) {
	if limit <= 0 {
		limit = 50
	}

	opCtx, cancel := s.operationContext(ctx)
	ready, err := s.client.LRange(opCtx, s.readyKey(), 0, int64(limit-1)).Result()
	cancel()
	if err != nil {
		return nil, err
	}

	out := make([]JobSnapshot, 0, limit)
	for _, raw := range ready {
		var job EmailJob
		if err := json.Unmarshal([]byte(raw), &job); err != nil {
			continue
		}
		out = append(out, JobSnapshot{Job: job, State: StateWaiting})
	}
	if len(out) >= limit {
		return out[:limit], nil
	}

	opCtx, cancel = s.operationContext(ctx)
	delayed, err := s.client.ZRange(opCtx, s.delayedKey(), 0, int64(limit-len(out)-1)).Result()
	cancel()
	if err != nil {
		return nil, err
	}
	for _, raw := range delayed {
		var job EmailJob
		if err := json.Unmarshal([]byte(raw), &job); err != nil {
			continue
		}
		out = append(out, JobSnapshot{Job: job, State: StateDelayed})
	}
	return out, nil
}

// ListFailed returns up to limit failed jobs, most recent first, with their
// failure reasons.
func (s *RedisStore) ListFailed(ctx context.Context, limit int) ([]JobSnapshot, error) {
	if limit <= 0 {
		limit = 50
	}

	opCtx, cancel := s.operationContext(ctx)
	ids, err := s.client.ZRevRange(opCtx, s.failedIndexKey(), 0, int64(limit-1)).Result()
	cancel()
	if err != nil {
		return nil, err
	}

	out := make([]JobSnapshot, 0, len(ids))
	for _, id := range ids {
		opCtx, cancel := s.operationContext(ctx)
		raw, getErr := s.client.Get(opCtx, s.failedEntryKey(id)).Result()
		cancel()
		if getErr != nil {
			if errors.Is(getErr, redis.Nil) {
				// Entry TTL expired ahead of the index prune.
				continue
			}
			return nil, getErr
		}
		var record failedRecord
		if err := json.Unmarshal([]byte(raw), &record); err != nil || record.Job == nil {
			continue
		}
		out = append(out, JobSnapshot{
			Job:           *record.Job,
			State:         StateFailed,
			FinishedAt:    record.FailedAt,
			FailureReason: record.Reason,
		})
	}
	return out, nil
}

// Client exposes the underlying connection so sibling components (the
// dedupe guard) can share it instead of opening their own.
func (s *RedisStore) Client() *redis.Client {
	return s.client
}

// Ping verifies Redis connectivity.
func (s *RedisStore) Ping(ctx context.Context) error {
	opCtx, cancel := s.operationContext(ctx)
	defer cancel()
	return s.client.Ping(opCtx).Err()
}

// Close closes the Redis connection.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

func (s *RedisStore) expectedPayload(lease *Lease, job *EmailJob) (string, error) {
	if lease == nil || strings.TrimSpace(lease.Token) == "" {
		return "", errors.New("lease token is required")
	}
	if job == nil {
		return "", errors.New("job is required")
	}
	encoded, err := json.Marshal(job)
	if err != nil {
		return "", fmt.Errorf("marshal job failed: %w", err)
	}
	return string(encoded), nil
}

func (s *RedisStore) dropLease(ctx context.Context, token string) {
	opCtx, cancel := s.operationContext(ctx)
	defer cancel()
	_, err := s.client.TxPipelined(opCtx, func(pipe redis.Pipeliner) error {
		pipe.HDel(opCtx, s.activeKey(), token)
		pipe.ZRem(opCtx, s.leasesKey(), token)
		return nil
	})
	if err != nil {
		s.log.Warn("failed to drop lease", "token", token, "error", err)
	}
}

func (s *RedisStore) operationContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithTimeout(ctx, s.config.OperationTimeout)
}

func leaseTransitionError(result int) error {
	switch result {
	case 1:
		return nil
	case 0:
		return errors.New("lease not found")
	case -1:
		return errors.New("lease payload changed while transitioning")
	default:
		return fmt.Errorf("invalid lease transition result: %d", result)
	}
}

func (s *RedisStore) prefix() string {
	return strings.TrimRight(strings.TrimSpace(s.config.Prefix), ":")
}

func (s *RedisStore) readyKey() string   { return s.prefix() + ":ready" }
func (s *RedisStore) delayedKey() string { return s.prefix() + ":delayed" }
func (s *RedisStore) activeKey() string  { return s.prefix() + ":active" }
func (s *RedisStore) leasesKey() string  { return s.prefix() + ":leases" }

func (s *RedisStore) completedKey() string   { return s.prefix() + ":completed" }
func (s *RedisStore) failedIndexKey() string { return s.prefix() + ":failed:index" }

func (s *RedisStore) failedEntryKey(id string) string {
	return s.prefix() + ":failed:entry:" + strings.TrimSpace(id)
}

// Compile-time assertion that RedisStore implements QueueStore.
var _ QueueStore = (*RedisStore)(nil)

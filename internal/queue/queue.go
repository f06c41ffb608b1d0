package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"guest-messaging/pkg/logger"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ErrRetry marks a handler error that should be redelivered without counting
// towards the attempt limit (the work was deferred, not failed).
var ErrRetry = errors.New("queue: retry later")

const (
	fieldJobID   = "job_id"
	fieldType    = "type"
	fieldPayload = "payload"
	fieldSig     = "sig"
	fieldError   = "error"
	fieldTries   = "attempts"

	defaultMaxLen = 100_000
)

// Job is one verified delivery handed to a Handler.
type Job struct {
	ID       string
	StreamID string
	Type     string
	Payload  json.RawMessage
	Attempt  int
}

// Decode unmarshals the payload into v.
func (j Job) Decode(v any) error {
	if err := json.Unmarshal(j.Payload, v); err != nil {
		return fmt.Errorf("queue: decode %s payload: %w", j.Type, err)
	}
	return nil
}

type Handler func(ctx context.Context, job Job) error

// Publisher appends signed jobs to a stream. Enqueue is fire-and-forget from
// the caller's point of view: it returns once the job is durable in Redis.
type Publisher struct {
	rdb    redis.Cmdable
	stream string
	signer *Signer
	newID  func() string
}

func NewPublisher(rdb redis.Cmdable, stream string, signer *Signer) *Publisher {
	return &Publisher{rdb: rdb, stream: stream, signer: signer, newID: uuid.NewString}
}

func (p *Publisher) Enqueue(ctx context.Context, jobType string, payload any) (string, error) {
	if jobType == "" {
		return "", errors.New("queue: job type is required")
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("queue: encode payload: %w", err)
	}
	id := p.newID()
	sig, err := p.signer.Sign(id, jobType, body)
	if err != nil {
		return "", err
	}
	err = p.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: p.stream,
		MaxLen: defaultMaxLen,
		Approx: true,
		Values: map[string]any{
			fieldJobID:   id,
			fieldType:    jobType,
			fieldPayload: string(body),
			fieldSig:     sig,
		},
	}).Err()
	if err != nil {
		return "", fmt.Errorf("queue: xadd %s: %w", p.stream, err)
	}
	return id, nil
}

type ConsumerConfig struct {
	Stream   string
	Group    string
	Consumer string

	// MaxAttempts bounds failed deliveries before a job moves to <stream>:dead.
	MaxAttempts int
	// Block is how long one read waits for new jobs. Negative means no wait.
	Block time.Duration
	// MinIdle is how long a job must sit unacknowledged before another
	// consumer may reclaim it. Negative means immediately.
	MinIdle time.Duration
	Batch   int64
}

func (c ConsumerConfig) withDefaults() ConsumerConfig {
	out := c
	if out.MaxAttempts <= 0 {
		out.MaxAttempts = 5
	}
	if out.Block == 0 {
		out.Block = 5 * time.Second
	}
	if out.MinIdle == 0 {
		out.MinIdle = 30 * time.Second
	}
	if out.Batch <= 0 {
		out.Batch = 10
	}
	return out
}

// Consumer reads a stream as one member of a consumer group. Delivery is
// at-least-once: a job is acknowledged only after its handler succeeds, is
// dead-lettered, or fails signature verification.
type Consumer struct {
	rdb      *redis.Client
	cfg      ConsumerConfig
	signer   *Signer
	handlers map[string]Handler
}

func NewConsumer(rdb *redis.Client, cfg ConsumerConfig, signer *Signer) (*Consumer, error) {
	if cfg.Stream == "" || cfg.Group == "" || cfg.Consumer == "" {
		return nil, errors.New("queue: stream, group and consumer are required")
	}
	if signer == nil {
		return nil, errors.New("queue: signer is required")
	}
	return &Consumer{
		rdb:      rdb,
		cfg:      cfg.withDefaults(),
		signer:   signer,
		handlers: map[string]Handler{},
	}, nil
}

func (c *Consumer) Handle(jobType string, h Handler) {
	c.handlers[jobType] = h
}

func (c *Consumer) DeadLetterStream() string { return c.cfg.Stream + ":dead" }

func (c *Consumer) attemptsKey() string { return c.cfg.Stream + ":attempts" }

// EnsureGroup creates the stream and group if they do not exist yet.
func (c *Consumer) EnsureGroup(ctx context.Context) error {
	err := c.rdb.XGroupCreateMkStream(ctx, c.cfg.Stream, c.cfg.Group, "0").Err()
	if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("queue: create group: %w", err)
	}
	return nil
}

// Run polls until ctx is cancelled.
func (c *Consumer) Run(ctx context.Context) error {
	if err := c.EnsureGroup(ctx); err != nil {
		return err
	}
	log := logger.From(ctx)
	for {
		if ctx.Err() != nil {
			return nil
		}
		if _, err := c.Poll(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			log.Error("queue poll failed", "err", err)
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(time.Second):
			}
		}
	}
}

// Poll reclaims stale pending jobs, then reads new ones, and processes both.
// It returns the number of jobs handed to processing.
func (c *Consumer) Poll(ctx context.Context) (int, error) {
	minIdle := c.cfg.MinIdle
	if minIdle < 0 {
		minIdle = 0
	}
	stale, _, err := c.rdb.XAutoClaim(ctx, &redis.XAutoClaimArgs{
		Stream:   c.cfg.Stream,
		Group:    c.cfg.Group,
		Consumer: c.cfg.Consumer,
		MinIdle:  minIdle,
		Start:    "0-0",
		Count:    c.cfg.Batch,
	}).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return 0, fmt.Errorf("queue: xautoclaim: %w", err)
	}

	fresh, err := c.rdb.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    c.cfg.Group,
		Consumer: c.cfg.Consumer,
		Streams:  []string{c.cfg.Stream, ">"},
		Count:    c.cfg.Batch,
		Block:    c.cfg.Block,
	}).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return 0, fmt.Errorf("queue: xreadgroup: %w", err)
	}

	msgs := stale
	for _, s := range fresh {
		msgs = append(msgs, s.Messages...)
	}
	for _, m := range msgs {
		c.process(ctx, m)
	}
	return len(msgs), nil
}

func (c *Consumer) process(ctx context.Context, m redis.XMessage) {
	job := Job{
		ID:       stringField(m.Values, fieldJobID),
		StreamID: m.ID,
		Type:     stringField(m.Values, fieldType),
		Payload:  json.RawMessage(stringField(m.Values, fieldPayload)),
	}
	ctx, log := logger.WithAttrs(ctx, "job_id", job.ID, "job_type", job.Type, "stream_id", m.ID)

	if err := c.signer.Verify(stringField(m.Values, fieldSig), job.ID, job.Type, job.Payload); err != nil {
		log.Warn("dropping job with bad signature", "err", err)
		c.ack(ctx, m.ID)
		return
	}

	attempt, err := c.rdb.HIncrBy(ctx, c.attemptsKey(), m.ID, 1).Result()
	if err != nil {
		log.Error("attempt counter failed", "err", err)
		return
	}
	job.Attempt = int(attempt)

	h, ok := c.handlers[job.Type]
	if !ok {
		c.deadLetter(ctx, m, job, "no handler for job type")
		return
	}

	err = h(ctx, job)
	switch {
	case err == nil:
		c.ack(ctx, m.ID)
	case errors.Is(err, ErrRetry):
		log.Info("job deferred", "err", err)
		_ = c.rdb.HIncrBy(ctx, c.attemptsKey(), m.ID, -1).Err()
	case job.Attempt >= c.cfg.MaxAttempts:
		c.deadLetter(ctx, m, job, err.Error())
	default:
		log.Warn("job failed, will be retried", "attempt", job.Attempt, "err", err)
	}
}

func (c *Consumer) deadLetter(ctx context.Context, m redis.XMessage, job Job, reason string) {
	log := logger.From(ctx)
	err := c.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: c.DeadLetterStream(),
		Values: map[string]any{
			fieldJobID:   job.ID,
			fieldType:    job.Type,
			fieldPayload: string(job.Payload),
			fieldError:   reason,
			fieldTries:   job.Attempt,
		},
	}).Err()
	if err != nil {
		// Leave it pending; the next reclaim tries again.
		log.Error("dead letter failed", "err", err)
		return
	}
	log.Error("job dead-lettered", "attempt", job.Attempt, "reason", reason)
	c.ack(ctx, m.ID)
}

func (c *Consumer) ack(ctx context.Context, streamID string) {
	_, err := c.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.XAck(ctx, c.cfg.Stream, c.cfg.Group, streamID)
		p.HDel(ctx, c.attemptsKey(), streamID)
		return nil
	})
	if err != nil {
		logger.From(ctx).Error("ack failed", "stream_id", streamID, "err", err)
	}
}

func stringField(values map[string]any, key string) string {
	v, ok := values[key]
	if !ok {
		return ""
	}
	switch s := v.(type) {
	case string:
		return s
	default:
		return fmt.Sprint(s)
	}
}

package worker

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/okian/installmatch/pkg/logger"
	"github.com/redis/go-redis/v9"
)

// SinkFunc adapts a function to Sink.
type SinkFunc struct {
	ID string
	Fn func(ctx context.Context, e Event) error
}

func (s SinkFunc) Name() string                               { return s.ID }
func (s SinkFunc) Deliver(ctx context.Context, e Event) error { return s.Fn(ctx, e) }

// LogSink writes every event as a structured log line. It is the default
// audit trail.
type LogSink struct {
	logger logger.Logger
}

// NewLogSink returns a sink logging to l.
func NewLogSink(l logger.Logger) *LogSink {
	return &LogSink{logger: l.Named("events")}
}

func (s *LogSink) Name() string { return "log" }

func (s *LogSink) Deliver(ctx context.Context, e Event) error { //nolint:gocritic // hugeParam
	fields := []logger.Field{
		logger.String("event_id", e.ID),
		logger.String("type", string(e.Type)),
		logger.String("job_id", e.JobID),
		logger.String("contractor_id", e.ContractorID),
		logger.String("assignment_id", e.AssignmentID),
		logger.String("from", string(e.Audit.From)),
		logger.String("to", string(e.Audit.To)),
		logger.String("actor", e.Audit.Actor),
	}
	if e.Pricing != nil {
		fields = append(fields,
			logger.Int64("total_fee", e.Pricing.TotalFee),
			logger.Int64("payout", e.Pricing.Payout),
		)
	}
	s.logger.Info(ctx, "job event", fields...)
	return nil
}

// RedisStreamSink appends events to a Redis stream for downstream
// notification and audit consumers.
type RedisStreamSink struct {
	client redis.Cmdable
	stream string
	maxLen int64
}

// NewRedisStreamSink appends to stream, trimming it to roughly maxLen entries
// when maxLen is positive.
func NewRedisStreamSink(client redis.Cmdable, stream string, maxLen int64) *RedisStreamSink {
	return &RedisStreamSink{client: client, stream: stream, maxLen: maxLen}
}

func (s *RedisStreamSink) Name() string { return "redis_stream" }

func (s *RedisStreamSink) Deliver(ctx context.Context, e Event) error { //nolint:gocritic // hugeParam
	payload, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("encode event %s: %w", e.ID, err)
	}
	args := &redis.XAddArgs{
		Stream: s.stream,
		Values: map[string]any{
			"id":      e.ID,
			"type":    string(e.Type),
			"job_id":  e.JobID,
			"payload": payload,
		},
	}
	if s.maxLen > 0 {
		args.MaxLen = s.maxLen
		args.Approx = true
	}
	return s.client.XAdd(ctx, args).Err()
}

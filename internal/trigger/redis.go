package trigger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"doorcam/internal/pipeline"
)

// RedisConfig configures the Redis stream trigger source.
type RedisConfig struct {
	Stream   string
	Group    string
	Consumer string
	Count    int64
	Block    time.Duration
}

// RedisSource consumes triggers from a Redis stream through a consumer group.
// Each entry carries camera_id, event_type and an optional timestamp, either
// as fields or JSON-encoded in a single "data" field.
type RedisSource struct {
	client *redis.Client
	cfg    RedisConfig
	sink   Sink
	logger *zap.Logger
}

type streamTrigger struct {
	CameraID  string `json:"camera_id"`
	EventType string `json:"event_type"`
	Timestamp any    `json:"timestamp,omitempty"`
}

// NewRedisSource creates a source reading cfg.Stream.
func NewRedisSource(client *redis.Client, cfg RedisConfig, sink Sink, logger *zap.Logger) *RedisSource {
	if cfg.Stream == "" {
		cfg.Stream = "doorcam:triggers"
	}
	if cfg.Group == "" {
		cfg.Group = "doorcam"
	}
	if cfg.Consumer == "" {
		cfg.Consumer = "doorcam-" + uuid.NewString()[:8]
	}
	if cfg.Count <= 0 {
		cfg.Count = 16
	}
	if cfg.Block <= 0 {
		cfg.Block = 5 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &RedisSource{
		client: client,
		cfg:    cfg,
		sink:   sink,
		logger: logger.With(zap.String("component", "redis_trigger"), zap.String("stream", cfg.Stream)),
	}
}

// Run reads the stream until ctx is cancelled. Redis being unreachable is
// never fatal: the consumer group is (re)created inside the loop, with
// backoff, so the source recovers from late starts and flushed servers.
func (s *RedisSource) Run(ctx context.Context) {
	backoff := time.Second
	grouped := false

	for ctx.Err() == nil {
		if !grouped {
			if err := s.ensureGroup(ctx); err != nil {
				if ctx.Err() != nil {
					return
				}
				s.logger.Error("failed to create consumer group", zap.Error(err), zap.Duration("backoff", backoff))
				if !sleepCtx(ctx, &backoff) {
					return
				}
				continue
			}
			grouped = true
			s.logger.Info("redis trigger source started",
				zap.String("consumer_group", s.cfg.Group),
				zap.String("consumer_name", s.cfg.Consumer),
			)
		}

		if _, err := s.Poll(ctx); err != nil {
			if ctx.Err() != nil {
				return
			}
			if isNoGroup(err) {
				s.logger.Warn("consumer group lost, recreating", zap.Error(err))
				grouped = false
				continue
			}
			s.logger.Error("failed to read trigger stream", zap.Error(err), zap.Duration("backoff", backoff))
			if !sleepCtx(ctx, &backoff) {
				return
			}
			continue
		}
		backoff = time.Second
	}
}

// sleepCtx waits for *backoff and doubles it up to 30s. It reports false
// when ctx ends first.
func sleepCtx(ctx context.Context, backoff *time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(*backoff):
	}
	*backoff *= 2
	if *backoff > 30*time.Second {
		*backoff = 30 * time.Second
	}
	return true
}

func isNoGroup(err error) bool {
	return err != nil && strings.Contains(err.Error(), "NOGROUP")
}

func (s *RedisSource) ensureGroup(ctx context.Context) error {
	err := s.client.XGroupCreateMkStream(ctx, s.cfg.Stream, s.cfg.Group, "0").Err()
	if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("failed to create consumer group: %w", err)
	}
	return nil
}

// Poll reads one batch, dispatches it and acknowledges every entry.
// Entries are acknowledged even when rejected, so a bad entry is never redelivered.
func (s *RedisSource) Poll(ctx context.Context) (int, error) {
	streams, err := s.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    s.cfg.Group,
		Consumer: s.cfg.Consumer,
		Streams:  []string{s.cfg.Stream, ">"},
		Count:    s.cfg.Count,
		Block:    s.cfg.Block,
	}).Result()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}

	n := 0
	for _, st := range streams {
		for _, msg := range st.Messages {
			n++
			s.dispatch(msg)
			if err := s.client.XAck(ctx, s.cfg.Stream, s.cfg.Group, msg.ID).Err(); err != nil {
				s.logger.Warn("failed to ack trigger", zap.String("message_id", msg.ID), zap.Error(err))
			}
		}
	}
	return n, nil
}

func (s *RedisSource) dispatch(msg redis.XMessage) {
	tr, err := parseStreamTrigger(msg.Values)
	if err != nil {
		s.logger.Warn("malformed trigger", zap.String("message_id", msg.ID), zap.Error(err))
		return
	}
	tr.Source = "redis"

	if err := s.sink.Handle(tr); err != nil {
		s.logger.Warn("trigger rejected",
			zap.String("message_id", msg.ID),
			zap.String("camera_id", tr.CameraID),
			zap.Error(err),
		)
	}
}

func parseStreamTrigger(values map[string]interface{}) (pipeline.Trigger, error) {
	var st streamTrigger

	if data, ok := values["data"].(string); ok {
		if err := json.Unmarshal([]byte(data), &st); err != nil {
			return pipeline.Trigger{}, fmt.Errorf("invalid data field: %w", err)
		}
	} else {
		st.CameraID, _ = values["camera_id"].(string)
		st.EventType, _ = values["event_type"].(string)
		st.Timestamp = values["timestamp"]
	}

	if st.CameraID == "" || st.EventType == "" {
		return pipeline.Trigger{}, fmt.Errorf("missing camera_id or event_type")
	}

	ts, err := parseTimestamp(st.Timestamp)
	if err != nil {
		return pipeline.Trigger{}, err
	}

	raw, _ := json.Marshal(values)
	return pipeline.Trigger{
		CameraID:  st.CameraID,
		EventType: st.EventType,
		Time:      ts,
		Payload:   raw,
	}, nil
}

// parseTimestamp accepts RFC 3339 text or unix seconds. Absent means now,
// which the pipeline fills in.
func parseTimestamp(v any) (time.Time, error) {
	switch ts := v.(type) {
	case nil:
		return time.Time{}, nil
	case float64:
		return time.Unix(int64(ts), 0), nil
	case string:
		ts = strings.TrimSpace(ts)
		if ts == "" {
			return time.Time{}, nil
		}
		if secs, err := strconv.ParseInt(ts, 10, 64); err == nil {
			return time.Unix(secs, 0), nil
		}
		t, err := time.Parse(time.RFC3339Nano, ts)
		if err != nil {
			return time.Time{}, fmt.Errorf("invalid timestamp %q: %w", ts, err)
		}
		return t, nil
	default:
		return time.Time{}, fmt.Errorf("invalid timestamp type %T", v)
	}
}

package observers

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/harunnryd/voxstream/pkg/turn"
)

const (
	DefaultRedisKey        = "voxstream:turns"
	DefaultRedisMaxRecords = 500
	// RedisEventChannel receives every pushed record.
	RedisEventChannel = "voxstream:turn_events"
)

// ListPusher is the subset of Redis the sink needs.
type ListPusher interface {
	AddToList(ctx context.Context, key, value string, maxLength int64) error
	PublishEvent(ctx context.Context, channel, message string) error
}

// RedisClient adapts go-redis to ListPusher.
type RedisClient struct {
	*redis.Client
}

// NewRedisClient connects to addr and verifies it with PING.
func NewRedisClient(ctx context.Context, addr, password string, db int) (*RedisClient, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, err
	}
	return &RedisClient{rdb}, nil
}

// AddToList pushes value to the head of key and trims the list to maxLength.
func (c *RedisClient) AddToList(ctx context.Context, key, value string, maxLength int64) error {
	pipe := c.Pipeline()
	pipe.LPush(ctx, key, value)
	pipe.LTrim(ctx, key, 0, maxLength-1)
	_, err := pipe.Exec(ctx)
	return err
}

func (c *RedisClient) PublishEvent(ctx context.Context, channel, message string) error {
	return c.Publish(ctx, channel, message).Err()
}

type RedisSinkConfig struct {
	Key            string
	MaxRecords     int64
	Channel        string
	ConversationID string
	Timeout        time.Duration
	Logger         *slog.Logger
}

// RedisSink keeps a capped list of recent turn records and publishes each
// one. Failures are logged; a slow Redis never blocks past Timeout.
type RedisSink struct {
	client ListPusher
	cfg    RedisSinkConfig
	log    *slog.Logger
}

func NewRedisSink(client ListPusher, cfg RedisSinkConfig) *RedisSink {
	if cfg.Key == "" {
		cfg.Key = DefaultRedisKey
	}
	if cfg.MaxRecords <= 0 {
		cfg.MaxRecords = DefaultRedisMaxRecords
	}
	if cfg.Channel == "" {
		cfg.Channel = RedisEventChannel
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 2 * time.Second
	}
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	return &RedisSink{client: client, cfg: cfg, log: log}
}

func (s *RedisSink) OnTurnFinished(f turn.Finished) {
	b, err := json.Marshal(NewTurnRecord(s.cfg.ConversationID, f))
	if err != nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.Timeout)
	defer cancel()
	if err := s.client.AddToList(ctx, s.cfg.Key, string(b), s.cfg.MaxRecords); err != nil {
		s.log.Warn("redis_turn_push_failed", slog.String("key", s.cfg.Key), slog.String("error", err.Error()))
		return
	}
	if err := s.client.PublishEvent(ctx, s.cfg.Channel, string(b)); err != nil {
		s.log.Warn("redis_turn_publish_failed", slog.String("channel", s.cfg.Channel), slog.String("error", err.Error()))
	}
}

var (
	_ ListPusher    = (*RedisClient)(nil)
	_ turn.Listener = (*RedisSink)(nil)
)

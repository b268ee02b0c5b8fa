package services

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/go-redis/redis/v8"
)

// RedisTransport - push-канал поверх redis pub/sub: PSUBSCRIBE <prefix>*, суффикс канала - имя события
type RedisTransport struct {
	Client *redis.Client
	Prefix string
}

func NewRedisTransport(opts *redis.Options, prefix string) *RedisTransport {
	return &RedisTransport{Client: redis.NewClient(opts), Prefix: prefix}
}

func (t *RedisTransport) Name() string { return "redis" }

func (t *RedisTransport) Dial(ctx context.Context, creds Credentials) (Stream, error) {
	if _, err := t.Client.Ping(ctx).Result(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	ps := t.Client.PSubscribe(ctx, t.Prefix+"*")
	// ждем подтверждения подписки
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("failed to subscribe: %w", err)
	}
	return &redisStream{ps: ps, prefix: t.Prefix}, nil
}

// Close закрывает клиент redis
func (t *RedisTransport) Close() error {
	return t.Client.Close()
}

type redisStream struct {
	ps     *redis.PubSub
	prefix string
}

func (s *redisStream) Receive(ctx context.Context) (Frame, error) {
	msg, err := s.ps.ReceiveMessage(ctx)
	if err != nil {
		return Frame{}, err
	}
	return redisFrame(s.prefix, msg)
}

func (s *redisStream) Close() error {
	return s.ps.Close()
}

func redisFrame(prefix string, msg *redis.Message) (Frame, error) {
	name := strings.TrimPrefix(msg.Channel, prefix)
	if !json.Valid([]byte(msg.Payload)) {
		return Frame{Event: name}, fmt.Errorf("%w: channel %s: invalid json", ErrMalformedPayload, msg.Channel)
	}
	return Frame{Event: name, Data: json.RawMessage(msg.Payload)}, nil
}

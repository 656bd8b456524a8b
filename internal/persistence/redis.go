package persistence

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/spec-kit/ticket-sync/internal/config"
)

var errNoPushChannel = errors.New("push channel not configured")

// PushChannel is the Redis pub/sub fan-out used by the postgres backend.
// Each entity type gets its own channel named "<prefix>:<entityType>".
type PushChannel struct {
	Client *redis.Client
	prefix string
}

// NewPushChannel connects to Redis. An unreachable server is only logged
// since go-redis reconnects on its own and the connectivity monitor
// reports the outage.
func NewPushChannel(ctx context.Context, cfg config.RedisConfig, logger *zap.Logger) *PushChannel {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		logger.Warn("unable to reach redis", zap.String("addr", cfg.Addr), zap.Error(err))
	} else {
		logger.Info("connected to redis", zap.String("addr", cfg.Addr), zap.String("channel_prefix", cfg.ChannelPrefix))
	}
	return &PushChannel{Client: client, prefix: cfg.ChannelPrefix}
}

// Name returns the channel carrying pushes for one entity type.
func (p *PushChannel) Name(entityType string) string {
	if p.prefix == "" {
		return entityType
	}
	return p.prefix + ":" + entityType
}

// Publish sends one encoded change to the entity type's channel.
func (p *PushChannel) Publish(ctx context.Context, entityType string, payload []byte) error {
	if p == nil || p.Client == nil {
		return errNoPushChannel
	}
	return p.Client.Publish(ctx, p.Name(entityType), payload).Err()
}

// Subscribe opens a subscription and waits for Redis to confirm it, so
// no publish issued after Subscribe returns is missed.
func (p *PushChannel) Subscribe(ctx context.Context, entityType string) (*redis.PubSub, error) {
	if p == nil || p.Client == nil {
		return nil, errNoPushChannel
	}
	channel := p.Name(entityType)
	sub := p.Client.Subscribe(ctx, channel)
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, fmt.Errorf("subscribe %s: %w", channel, err)
	}
	return sub, nil
}

// Ping verifies Redis connectivity.
func (p *PushChannel) Ping(ctx context.Context) error {
	if p == nil || p.Client == nil {
		return errNoPushChannel
	}
	return p.Client.Ping(ctx).Err()
}

// Close closes the client.
func (p *PushChannel) Close() {
	if p != nil && p.Client != nil {
		_ = p.Client.Close()
	}
}

package broadcast

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/bytedance/sonic"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"tasktracker/domain"
)

// Publisher delivers a status-updated event to connected clients.
type Publisher interface {
	Publish(ctx context.Context, ev domain.StatusUpdatedEvent) error
}

// Envelope is the message carried on the Redis tasks channel.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// RedisPublisher publishes events on a Redis pub/sub channel so every server
// instance can relay them to its own streams.
type RedisPublisher struct {
	rc      *redis.Client
	channel string
}

func NewRedisPublisher(rc *redis.Client, channel string) *RedisPublisher {
	return &RedisPublisher{rc: rc, channel: channel}
}

func (p *RedisPublisher) Publish(ctx context.Context, ev domain.StatusUpdatedEvent) error {
	data, err := sonic.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	msg, err := sonic.Marshal(Envelope{Event: domain.TaskStatusUpdated, Data: data})
	if err != nil {
		return fmt.Errorf("encode envelope: %w", err)
	}
	if err := p.rc.Publish(ctx, p.channel, msg).Err(); err != nil {
		return fmt.Errorf("publish %s: %w", p.channel, err)
	}
	return nil
}

// LocalPublisher hands events straight to the in-process hub.
type LocalPublisher struct {
	hub *Hub
}

func NewLocalPublisher(hub *Hub) *LocalPublisher {
	return &LocalPublisher{hub: hub}
}

func (p *LocalPublisher) Publish(_ context.Context, ev domain.StatusUpdatedEvent) error {
	data, err := sonic.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	p.hub.Broadcast(domain.TaskStatusUpdated, data)
	return nil
}

// LogPublisher only records events; clients learn about changes by polling.
type LogPublisher struct {
	logger *log.Logger
}

func NewLogPublisher(logger *log.Logger) *LogPublisher {
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &LogPublisher{logger: logger}
}

func (p *LogPublisher) Publish(_ context.Context, ev domain.StatusUpdatedEvent) error {
	p.logger.WithFields(log.Fields{
		"event":     domain.TaskStatusUpdated,
		"task":      ev.Task.ID,
		"status":    ev.Task.Status,
		"timestamp": ev.Timestamp,
	}).Info("broadcast")
	return nil
}

/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package eventbus bridges the in-process session event emitter to
// external messaging systems so other services can observe sessions.
package eventbus

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/friendsincode/cueplay/internal/events"
)

// redisChannelPrefix namespaces the published channels.
const redisChannelPrefix = "cueplay:events:"

// RedisConfig contains Redis connection configuration.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int

	// Connection pooling
	PoolSize     int
	MinIdleConns int

	// Timeouts
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration

	// Circuit breaker
	MaxFailures   int
	CheckInterval time.Duration
}

// DefaultRedisConfig returns default Redis configuration.
func DefaultRedisConfig() RedisConfig {
	return RedisConfig{
		Addr:          "localhost:6379",
		PoolSize:      10,
		MinIdleConns:  2,
		DialTimeout:   5 * time.Second,
		ReadTimeout:   3 * time.Second,
		WriteTimeout:  3 * time.Second,
		MaxFailures:   5,
		CheckInterval: 30 * time.Second,
	}
}

// busMessage is the wire format for published session events.
type busMessage struct {
	EventType events.EventType `json:"event_type"`
	Payload   events.Payload   `json:"payload"`
	Timestamp time.Time        `json:"timestamp"`
	NodeID    string           `json:"node_id"`
}

// RedisSink publishes session events to Redis pub/sub channels. When
// Redis becomes unavailable it trips a circuit breaker and keeps the
// scheduler running; publishing resumes after a successful reconnect
// probe.
type RedisSink struct {
	client *redis.Client
	logger zerolog.Logger
	nodeID string
	cfg    RedisConfig

	mu        sync.Mutex
	disabled  bool
	failCount int
	lastCheck time.Time
}

// NewRedisSink connects to Redis and returns a sink. A failed initial
// connection is not fatal: the sink starts disabled and probes later.
func NewRedisSink(cfg RedisConfig, nodeID string, logger zerolog.Logger) *RedisSink {
	log := logger.With().Str("component", "redis_sink").Logger()

	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	})

	sink := &RedisSink{
		client: client,
		logger: log,
		nodeID: nodeID,
		cfg:    cfg,
	}

	pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		log.Warn().Err(err).Msg("Redis connection failed, event publishing disabled until reconnect")
		sink.disabled = true
		sink.lastCheck = time.Now()
	} else {
		log.Info().Str("addr", cfg.Addr).Msg("Redis event sink initialized")
	}
	return sink
}

// Attach subscribes the sink to every session event type.
func (s *RedisSink) Attach(emitter *events.Emitter) {
	for _, eventType := range events.AllTypes() {
		emitter.Subscribe(eventType, s.publish)
	}
}

// publish ships one event to Redis. Runs inline on the scheduler tick,
// so failures are counted instead of retried.
func (s *RedisSink) publish(evt events.Event) {
	if !s.ready() {
		return
	}

	data, err := json.Marshal(busMessage{
		EventType: evt.Type,
		Payload:   evt.Data,
		Timestamp: evt.Timestamp,
		NodeID:    s.nodeID,
	})
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to marshal event")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := s.client.Publish(ctx, redisChannelPrefix+string(evt.Type), data).Err(); err != nil {
		s.logger.Error().Err(err).Str("event_type", string(evt.Type)).Msg("failed to publish to Redis")
		s.handleFailure()
		return
	}

	s.mu.Lock()
	s.failCount = 0
	s.mu.Unlock()
}

// ready reports whether publishing is enabled, probing for a reconnect
// when the breaker is open and the check interval has elapsed.
func (s *RedisSink) ready() bool {
	s.mu.Lock()
	if !s.disabled {
		s.mu.Unlock()
		return true
	}
	if time.Since(s.lastCheck) < s.cfg.CheckInterval {
		s.mu.Unlock()
		return false
	}
	s.lastCheck = time.Now()
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.client.Ping(ctx).Err(); err != nil {
		return false
	}

	s.mu.Lock()
	s.disabled = false
	s.failCount = 0
	s.mu.Unlock()
	s.logger.Info().Msg("reconnected to Redis, resuming event publishing")
	return true
}

// handleFailure implements the circuit breaker.
func (s *RedisSink) handleFailure() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.failCount++
	if s.failCount >= s.cfg.MaxFailures && !s.disabled {
		s.logger.Warn().
			Int("fail_count", s.failCount).
			Msg("Redis failure threshold reached, disabling event publishing")
		s.disabled = true
		s.lastCheck = time.Now()
	}
}

// Close releases the Redis client.
func (s *RedisSink) Close() error {
	if s.client == nil {
		return nil
	}
	if err := s.client.Close(); err != nil {
		return fmt.Errorf("close redis client: %w", err)
	}
	return nil
}

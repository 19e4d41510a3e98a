package cooldown

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	mirrorQueueSize = 1024
	mirrorTTL       = 24 * time.Hour
)

type write struct {
	actor  string
	skill  int
	expiry time.Time
}

// RedisMirror writes reuse timers to a redis hash per actor. Writes are
// queued and flushed by Run, so Save never blocks a region.
type RedisMirror struct {
	client *redis.Client
	prefix string
	queue  chan write
	logger zerolog.Logger
}

// NewRedisMirror connects to redis and verifies the connection.
func NewRedisMirror(ctx context.Context, addr, password string, db int, prefix string) (*RedisMirror, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if _, err := rdb.Ping(ctx).Result(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("redis.Ping failed: %w", err)
	}
	return newRedisMirror(rdb, prefix), nil
}

func newRedisMirror(client *redis.Client, prefix string) *RedisMirror {
	return &RedisMirror{
		client: client,
		prefix: prefix,
		queue:  make(chan write, mirrorQueueSize),
		logger: log.With().Str("component", "cooldown-mirror").Logger(),
	}
}

func (m *RedisMirror) key(actor string) string {
	return m.prefix + "cooldown:" + actor
}

// Save queues a timer write. A full queue drops the write.
func (m *RedisMirror) Save(actor string, skillID int, expiry time.Time) {
	select {
	case m.queue <- write{actor: actor, skill: skillID, expiry: expiry}:
	default:
		m.logger.Warn().Str("actor", actor).Int("skill", skillID).Msg("cooldown mirror queue full, dropping write")
	}
}

// Load reads every mirrored timer of an actor.
func (m *RedisMirror) Load(ctx context.Context, actor string) (map[int]time.Time, error) {
	vals, err := m.client.HGetAll(ctx, m.key(actor)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load cooldowns for %s: %w", actor, err)
	}
	out := make(map[int]time.Time, len(vals))
	for field, v := range vals {
		skill, err := strconv.Atoi(field)
		if err != nil {
			continue
		}
		ms, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			continue
		}
		out[skill] = time.UnixMilli(ms)
	}
	return out, nil
}

// Run flushes queued writes until ctx is cancelled.
func (m *RedisMirror) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			m.drain()
			return
		case w := <-m.queue:
			m.flush(ctx, w)
		}
	}
}

func (m *RedisMirror) drain() {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	for {
		select {
		case w := <-m.queue:
			m.flush(ctx, w)
		default:
			return
		}
	}
}

func (m *RedisMirror) flush(ctx context.Context, w write) {
	k := m.key(w.actor)
	_, err := m.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, k, strconv.Itoa(w.skill), strconv.FormatInt(w.expiry.UnixMilli(), 10))
		pipe.Expire(ctx, k, mirrorTTL)
		return nil
	})
	if err != nil {
		m.logger.Warn().Err(err).Str("actor", w.actor).Msg("failed to mirror cooldown")
	}
}

// Close closes the redis client.
func (m *RedisMirror) Close() error {
	return m.client.Close()
}

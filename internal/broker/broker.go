// Package broker provides the daemon's cross-process coordination
// primitives over a Redis-compatible backend: a per-(show,season)
// distributed lock for the detector's cohort mutex, a pub/sub fan-out for
// progress events so every API server process observes the same stream, and
// a shared "active subprocess" table backing GET /processing/active-ffmpeg.
// The authoritative job state still lives in the SQLite store; the broker
// exists purely for coordination and notification that would otherwise only
// work within a single process.
package broker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"cliparr/internal/config"
)

const (
	progressChannel  = "cliparr:progress"
	activeProcessKey = "cliparr:active-ffmpeg"
	cohortLockPrefix = "cliparr:cohort-lock:"
)

// Broker is the cross-process coordination surface. A nil *Broker is valid
// and behaves as a no-op/in-process fallback, so callers can run without
// Redis configured or reachable.
type Broker struct {
	client *redis.Client
}

// New connects to the broker's backing Redis instance. Connectivity is not
// verified here, so a Redis outage does not block startup; the broker is a
// coordination aid, not the system of record.
func New(cfg *config.Config) *Broker {
	if cfg == nil || strings.TrimSpace(cfg.RedisAddr) == "" {
		return nil
	}
	client := redis.NewClient(&redis.Options{
		Addr: cfg.RedisAddr,
		DB:   cfg.RedisDB,
	})
	return &Broker{client: client}
}

// Ping verifies connectivity to the broker.
func (b *Broker) Ping(ctx context.Context) error {
	if b == nil || b.client == nil {
		return errors.New("broker not configured")
	}
	return b.client.Ping(ctx).Err()
}

// Close releases the underlying Redis connection pool.
func (b *Broker) Close() error {
	if b == nil || b.client == nil {
		return nil
	}
	return b.client.Close()
}

// ProgressEvent mirrors the daemon's WebSocket payload: one
// "ffmpeg-progress" message kind, published so every subscriber (in this
// process or another) observes the same stream.
type ProgressEvent struct {
	Type          string    `json:"type"`
	JobID         int64     `json:"job_id"`
	EpisodeFileID int64     `json:"episode_file_id"`
	FilePath      string    `json:"file_path"`
	Stage         string    `json:"stage"`
	Percent       float64   `json:"percent"`
	FPS           float64   `json:"fps"`
	Status        string    `json:"status"`
	Timestamp     time.Time `json:"timestamp"`
}

// PublishProgress fans a progress event out over the broker's pub/sub
// channel. Best-effort: a slow or absent broker must never block the
// producing stage worker.
func (b *Broker) PublishProgress(ctx context.Context, event ProgressEvent) {
	if b == nil || b.client == nil {
		return
	}
	data, err := json.Marshal(event)
	if err != nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	_ = b.client.Publish(ctx, progressChannel, data).Err()
}

// Subscribe returns a channel of progress events published by any process
// sharing this broker. Callers must drain it promptly; the underlying
// go-redis subscription applies its own internal buffering but the broker
// does not retry delivery to a stalled consumer.
func (b *Broker) Subscribe(ctx context.Context) (<-chan ProgressEvent, func(), error) {
	if b == nil || b.client == nil {
		return nil, func() {}, errors.New("broker not configured")
	}
	sub := b.client.Subscribe(ctx, progressChannel)
	out := make(chan ProgressEvent, 64)
	go func() {
		defer close(out)
		ch := sub.Channel()
		for msg := range ch {
			var event ProgressEvent
			if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
				continue
			}
			select {
			case out <- event:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, func() { _ = sub.Close() }, nil
}

// CohortLock acquires a mutual-exclusion lock for the
// (show_id, season_number) pair the detector is about to cluster, held for
// the duration of clustering. The lock is a Redis SET NX PX token lock so it
// holds across daemon processes, not just goroutines in one. Release, not
// the zero value, must always be called when ok is true.
func (b *Broker) CohortLock(ctx context.Context, showID int64, seasonNumber int, ttl time.Duration) (release func(), ok bool, err error) {
	if b == nil || b.client == nil {
		return func() {}, false, nil
	}
	key := fmt.Sprintf("%s%d:%d", cohortLockPrefix, showID, seasonNumber)
	token := uuid.NewString()
	acquired, err := b.client.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return func() {}, false, err
	}
	if !acquired {
		return func() {}, false, nil
	}
	release = func() {
		releaseCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if val, getErr := b.client.Get(releaseCtx, key).Result(); getErr == nil && val == token {
			_ = b.client.Del(releaseCtx, key).Err()
		}
	}
	return release, true, nil
}

// ActiveProcess describes one in-flight FFmpeg/fpcalc subprocess, backing
// GET /processing/active-ffmpeg.
type ActiveProcess struct {
	JobID         int64     `json:"job_id"`
	EpisodeFileID int64     `json:"episode_file_id"`
	FilePath      string    `json:"file_path"`
	Tool          string    `json:"tool"`
	PID           int       `json:"pid"`
	StartedAt     time.Time `json:"started_at"`
}

// RegisterActive records a subprocess as in-flight in the shared table.
func (b *Broker) RegisterActive(ctx context.Context, proc ActiveProcess) {
	if b == nil || b.client == nil {
		return
	}
	data, err := json.Marshal(proc)
	if err != nil {
		return
	}
	field := fmt.Sprintf("%d", proc.EpisodeFileID)
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	_ = b.client.HSet(ctx, activeProcessKey, field, data).Err()
}

// UnregisterActive removes a subprocess from the shared table once it exits.
func (b *Broker) UnregisterActive(ctx context.Context, episodeFileID int64) {
	if b == nil || b.client == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	_ = b.client.HDel(ctx, activeProcessKey, fmt.Sprintf("%d", episodeFileID)).Err()
}

// ActiveProcesses lists every subprocess currently registered as in-flight.
func (b *Broker) ActiveProcesses(ctx context.Context) ([]ActiveProcess, error) {
	if b == nil || b.client == nil {
		return nil, nil
	}
	values, err := b.client.HGetAll(ctx, activeProcessKey).Result()
	if err != nil {
		return nil, err
	}
	out := make([]ActiveProcess, 0, len(values))
	for _, raw := range values {
		var proc ActiveProcess
		if err := json.Unmarshal([]byte(raw), &proc); err != nil {
			continue
		}
		out = append(out, proc)
	}
	return out, nil
}

// Package progress implements the process-wide progress broadcaster: a
// single fan-out point for subprocess progress from the extract,
// fingerprint, and trim stages, consumed by WebSocket clients as
// restartable, best-effort streams.
package progress

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"cliparr/internal/broker"
	"cliparr/internal/logging"
)

// Event is the single WebSocket message kind the daemon emits.
type Event struct {
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

const (
	// subscriberBufferSize bounds each consumer's private queue; once full,
	// the oldest pending event is dropped to make room for the newest, so a
	// slow consumer never blocks a producing stage worker.
	subscriberBufferSize = 64
)

// Broadcaster is the single process-wide publisher of progress events. The
// zero value is unusable; construct with NewBroadcaster.
type Broadcaster struct {
	mu          sync.Mutex
	subscribers map[*subscriber]struct{}
	logger      *slog.Logger
	broker      *broker.Broker
}

type subscriber struct {
	ch chan Event
}

// NewBroadcaster constructs a Broadcaster. b may be nil when no Redis broker
// is configured; events then only fan out to subscribers within this
// process, which is all a single-daemon deployment needs.
func NewBroadcaster(b *broker.Broker, logger *slog.Logger) *Broadcaster {
	if logger == nil {
		logger = logging.NewNop()
	}
	bc := &Broadcaster{
		subscribers: make(map[*subscriber]struct{}),
		logger:      logger,
		broker:      b,
	}
	return bc
}

// Run relays events published to the Redis broker (if configured) into this
// process's local fan-out, so every API server sharing the broker observes
// the same progress stream. It blocks until ctx is cancelled.
func (b *Broadcaster) Run(ctx context.Context) {
	if b == nil || b.broker == nil {
		return
	}
	events, cancel, err := b.broker.Subscribe(ctx)
	if err != nil {
		b.logger.Warn("progress broadcaster could not subscribe to broker", logging.Error(err))
		return
	}
	defer cancel()
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-events:
			if !ok {
				return
			}
			b.publishLocal(Event(evt))
		}
	}
}

// Publish fans an event out to every current subscriber and, when a broker
// is configured, to every other process sharing it. Never blocks: a full
// subscriber buffer drops its oldest entry rather than stalling the caller.
func (b *Broadcaster) Publish(evt Event) {
	if b == nil {
		return
	}
	if b.broker != nil {
		b.broker.PublishProgress(context.Background(), broker.ProgressEvent(evt))
	}
	b.publishLocal(evt)
}

func (b *Broadcaster) publishLocal(evt Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for sub := range b.subscribers {
		select {
		case sub.ch <- evt:
		default:
			// Drop-oldest: make room for the newest event rather than block.
			select {
			case <-sub.ch:
			default:
			}
			select {
			case sub.ch <- evt:
			default:
			}
		}
	}
}

// Subscribe registers a new consumer and returns its event channel plus an
// unsubscribe function. Events are buffered from the moment of subscription
// (up to subscriberBufferSize, oldest dropped first), and the stream is
// restartable (callers may Subscribe again after Unsubscribe at any time).
func (b *Broadcaster) Subscribe() (<-chan Event, func()) {
	sub := &subscriber{ch: make(chan Event, subscriberBufferSize)}
	b.mu.Lock()
	b.subscribers[sub] = struct{}{}
	b.mu.Unlock()
	return sub.ch, func() {
		b.mu.Lock()
		if _, ok := b.subscribers[sub]; ok {
			delete(b.subscribers, sub)
			close(sub.ch)
		}
		b.mu.Unlock()
	}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// ServeHTTP upgrades the connection and streams progress events as JSON text
// frames until the client disconnects. This backs the daemon's single
// "ffmpeg-progress" WebSocket channel.
func (b *Broadcaster) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		b.logger.Debug("websocket upgrade failed", logging.Error(err))
		return
	}
	defer conn.Close()

	events, unsubscribe := b.Subscribe()
	defer unsubscribe()

	pings := time.NewTicker(30 * time.Second)
	defer pings.Stop()

	// Drain client frames on a separate goroutine purely to notice
	// disconnects (this channel carries no client->server messages).
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.NextReader(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-closed:
			return
		case <-pings.C:
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case evt, ok := <-events:
			if !ok {
				return
			}
			data, err := json.Marshal(evt)
			if err != nil {
				continue
			}
			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		}
	}
}

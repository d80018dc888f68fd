// Package statusbus publishes flash operation progress to Redis so an
// external dashboard can observe a long-running operation without the core
// holding any UI state. It is always optional: every caller accepts a nil
// *Bus and simply skips publishing.
package statusbus

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/redis/go-redis/v9"
)

// StatusKey is the Redis hash key operation status is written to; EventChannel
// is the pub/sub channel individual events are published on.
const (
	StatusKey    = "blasher:status"
	EventChannel = "blasher:events"
	publishDepth = 64
)

type event struct {
	stage string
	value string
	ts    time.Time
}

// Bus is a Redis-backed event publisher. Publish never blocks the caller on
// Redis reachability: events are queued and drained by one background
// goroutine, mirroring the teacher's "state fan-out never blocks the
// control-flow" goroutine pattern.
type Bus struct {
	client *redis.Client
	ctx    context.Context
	cancel context.CancelFunc
	events chan event
	done   chan struct{}
}

// New connects to addr and starts the background publisher. Connection
// failures are returned immediately; callers that don't want a status bus
// at all should simply not call New and pass a nil *Bus everywhere instead.
func New(addr, password string, db int) (*Bus, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	pingCtx, cancelPing := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancelPing()
	if err := client.Ping(pingCtx).Err(); err != nil {
		return nil, fmt.Errorf("statusbus: connect to redis at %s: %w", addr, err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	b := &Bus{
		client: client,
		ctx:    ctx,
		cancel: cancel,
		events: make(chan event, publishDepth),
		done:   make(chan struct{}),
	}
	go b.run()
	return b, nil
}

// Publish queues an event for background delivery. It never blocks on
// Redis; if the internal queue is full the event is dropped and logged,
// matching the "fire and forget" contract a long-running flash needs.
func (b *Bus) Publish(stage, value string) {
	if b == nil {
		return
	}
	ev := event{stage: stage, value: value, ts: time.Now()}
	select {
	case b.events <- ev:
	default:
		log.Printf("statusbus: event queue full, dropping %q", stage)
	}
}

// Close stops the background publisher and closes the Redis connection.
func (b *Bus) Close() error {
	if b == nil {
		return nil
	}
	b.cancel()
	<-b.done
	return b.client.Close()
}

func (b *Bus) run() {
	defer close(b.done)
	for {
		select {
		case <-b.ctx.Done():
			return
		case ev := <-b.events:
			b.deliver(ev)
		}
	}
}

func (b *Bus) deliver(ev event) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	pipe := b.client.Pipeline()
	pipe.HSet(ctx, StatusKey, "stage", ev.stage, "value", ev.value, "at", ev.ts.Format(time.RFC3339Nano))
	pipe.Publish(ctx, EventChannel, fmt.Sprintf("%s:%s", ev.stage, ev.value))
	if _, err := pipe.Exec(ctx); err != nil {
		log.Printf("statusbus: publish %q failed: %v", ev.stage, err)
	}
}

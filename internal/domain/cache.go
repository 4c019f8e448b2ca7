package domain

import (
	"context"
	"fmt"
	"math"
	"time"
)

// StateMirror publishes the latest venue observations outside the process.
type StateMirror interface {
	PutState(ctx context.Context, pair string, state VenueState) error
	GetState(ctx context.Context, venueID string) (VenueState, error)
}

// Lease is a held distributed lock.
type Lease interface {
	// Refresh extends the lease; it returns ErrLockLost if another holder
	// took it over.
	Refresh(ctx context.Context) error
	Release()
}

// LockManager provides distributed leases.
type LockManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (Lease, error)
}

// Bus channel and stream names.
const (
	ChannelExecutions = "dexarb:executions"
	StreamExecutions  = "dexarb:executions:log"
)

// StreamMessage represents a single entry from a Redis stream.
type StreamMessage struct {
	ID      string
	Payload []byte
}

// EventBus provides pub/sub and durable streams.
type EventBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
	StreamAppend(ctx context.Context, stream string, payload []byte) error
	StreamRead(ctx context.Context, stream string, lastID string, count int) ([]StreamMessage, error)
}

// streamPage is how many entries StreamSince reads per call.
const streamPage = 200

// StreamSince returns the last limit entries of stream appended at or after
// since, oldest first. Entry IDs are "<unix ms>-<seq>", so since becomes
// the starting cursor.
func StreamSince(ctx context.Context, bus EventBus, stream string, since time.Time, limit int) ([]StreamMessage, error) {
	if limit <= 0 {
		return nil, nil
	}
	cursor := "0"
	if ms := since.UnixMilli(); ms > 0 {
		// Reads are exclusive of the cursor: start after the last possible
		// entry of the previous millisecond.
		cursor = fmt.Sprintf("%d-%d", ms-1, uint64(math.MaxUint64))
	}

	var out []StreamMessage
	for {
		batch, err := bus.StreamRead(ctx, stream, cursor, streamPage)
		if err != nil {
			return nil, err
		}
		out = append(out, batch...)
		if len(out) > limit {
			out = out[len(out)-limit:]
		}
		if len(batch) < streamPage {
			return out, nil
		}
		cursor = batch[len(batch)-1].ID
	}
}

// RateLimiter counts events against a sliding window.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

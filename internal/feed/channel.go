// Package feed keeps one live push-channel subscription per topic, caches the
// latest item per key and fans every item out to in-process subscribers.
//
// When the channel cannot be reached the manager switches to a fallback mode
// that synthesizes plausible items for every cached key on a fixed interval,
// so consumers keep receiving updates in the same shape as live data.
package feed

import (
	"context"
	"math/rand"
	"time"
)

// State is the lifecycle state of a Manager.
type State int

// Manager states.
const (
	StateIdle State = iota
	StateConnecting
	StateLive
	StateFallback
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateLive:
		return "live"
	case StateFallback:
		return "fallback"
	default:
		return "unknown"
	}
}

// Handler receives the events of one channel connection.
type Handler interface {
	// Established reports that the transport handshake completed.
	Established()

	// Payload delivers one raw message body.
	Payload(data []byte)
}

// Channel is a push transport for one topic.
type Channel interface {
	// Receive connects, calls h.Established once the handshake completes,
	// passes every message to h.Payload and blocks until the connection ends
	// or ctx is cancelled. It returns nil only when ctx is cancelled.
	Receive(ctx context.Context, h Handler) error
}

// Codec adapts an item type to the manager.
type Codec[T any] struct {
	// Decode turns one message into items. It may return items together with
	// an error describing parts of the message it had to skip.
	Decode func(data []byte) ([]T, error)

	// Key returns the cache key of an item. Items with an empty key are dropped.
	Key func(item T) string

	// Synthesize produces the next fallback item from the cached one.
	// If nil, fallback mode delivers nothing.
	Synthesize func(prev T, rng *rand.Rand, now time.Time) T

	// Clone deep-copies an item. If nil, items are copied by value.
	Clone func(item T) T
}

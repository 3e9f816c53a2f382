// Package stream reads server-sent-event token streams: it opens the
// transport connection, reassembles event framing from raw chunks, and feeds
// decoded tokens to the caller while honoring cooperative cancellation.
package stream

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// ErrCancelled marks a stream that was cancelled on purpose. Callers treat it
// as expected, not as a failure.
var ErrCancelled = errors.New("stream cancelled")

// Canceller represents one in-flight request attempt. Exactly one is live per
// orchestrator; creating a replacement cancels the previous one. It is passed
// by reference into the transport and decoder, which check it at every
// suspension point.
type Canceller struct {
	mu     sync.Mutex
	reason string
	done   chan struct{}
}

func NewCanceller() *Canceller {
	return &Canceller{done: make(chan struct{})}
}

// Cancel marks the attempt cancelled with a reason. Subsequent calls keep the
// first reason.
func (c *Canceller) Cancel(reason string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	select {
	case <-c.done:
		return
	default:
	}
	c.reason = reason
	close(c.done)
}

func (c *Canceller) Cancelled() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

func (c *Canceller) Reason() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.reason
}

func (c *Canceller) Done() <-chan struct{} { return c.done }

// Err returns the cancellation error for this attempt, or nil when it is
// still live.
func (c *Canceller) Err() error {
	if !c.Cancelled() {
		return nil
	}
	return fmt.Errorf("%w: %s", ErrCancelled, c.Reason())
}

// Bind derives a context that is cancelled when either the parent or this
// token fires, so the underlying connection is torn down cooperatively.
func (c *Canceller) Bind(parent context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)
	go func() {
		select {
		case <-c.done:
			cancel()
		case <-ctx.Done():
		}
	}()
	return ctx, cancel
}

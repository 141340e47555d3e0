package tamer

import (
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// Frame is one snapshot. Payload aliases the channel's buffer and is only
// valid during Sink.Consume; sinks that keep it must copy it.
type Frame struct {
	Channel    string
	SchemaHash uint64
	Sequence   uint64
	Timestamp  time.Time
	Payload    []byte
}

// Snapshot is TakeSnapshot stamped with the current time.
func (c *Channel) Snapshot() error {
	return c.TakeSnapshot(time.Now())
}

// TakeSnapshot encodes the current value of every enabled binding into one
// frame and hands it to every attached sink in attachment order.
//
// It returns ErrSnapshotTooLarge, without advancing the sequence, when the
// frame would exceed the configured limit, and ErrSinkRejected when at least
// one sink refused the frame. The other sinks still receive it and nothing
// is retried.
func (c *Channel) TakeSnapshot(ts time.Time) error {
	c.snapMu.Lock()
	defer c.snapMu.Unlock()

	c.mu.Lock()
	p := c.currentPlanLocked()
	sinks := c.sinks
	c.mu.Unlock()

	if p != c.lastPlan {
		c.lastPlan = p
		c.reserve(p.fixed)
	}

	size := p.fixed
	for _, b := range p.variable {
		size += b.slot.measure(b.ptr)
	}
	if limit := c.opts.maxSnapshotBytes; limit > 0 && size > limit {
		c.rejected.Add(1)
		c.observer.SnapshotRejected()
		return fmt.Errorf("%w: %d bytes, limit %d", ErrSnapshotTooLarge, size, limit)
	}
	c.reserve(size)

	buf := c.buf[:size]
	off := 0
	for _, b := range p.active {
		off += b.slot.encode(b.ptr, buf[off:])
	}

	c.seq++
	frame := Frame{
		Channel:    c.name,
		SchemaHash: p.schema.Hash,
		Sequence:   c.seq,
		Timestamp:  ts,
		Payload:    buf,
	}

	var errs []error
	for i, a := range sinks {
		if !c.deliver(a, p.schema, frame) {
			errs = append(errs, fmt.Errorf("%w: sink %d (%T)", ErrSinkRejected, i, a.sink))
		}
	}
	c.snapshots.Add(1)
	if failed := len(errs); failed > 0 {
		c.rejected.Add(1)
		c.observer.SnapshotRejected()
		if c.rejectLog.Allow() {
			c.log.Warn("snapshot rejected by sink",
				zap.Uint64("seq", frame.Sequence),
				zap.Int("failed", failed),
				zap.Int("sinks", len(sinks)))
		}
		return errors.Join(errs...)
	}
	c.observer.SnapshotTaken(size)
	return nil
}

// reserve makes sure the buffer can hold n bytes, reallocating only when
// capacity is short.
func (c *Channel) reserve(n int) {
	if cap(c.buf) >= n {
		return
	}
	c.buf = make([]byte, 0, n+n/4)
	c.bufferGrowths.Add(1)
	c.observer.BufferGrown(cap(c.buf))
}

func (c *Channel) deliver(a *attachedSink, schema *Schema, f Frame) bool {
	if _, ok := a.announced[schema.Hash]; !ok {
		if !a.sink.Announce(schema) {
			return false
		}
		a.announced[schema.Hash] = struct{}{}
	}
	return a.sink.Consume(f)
}

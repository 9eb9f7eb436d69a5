package audio

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"
)

// defaultQueueDepth is the buffer depth of the output queue. Sized to absorb a
// full synthesized utterance without blocking the synthesis goroutine.
const defaultQueueDepth = 128

// drainPollInterval is how often WaitForDrain re-checks the queue.
const drainPollInterval = 100 * time.Millisecond

// ErrDrainTimeout is returned by [RateLimitedOutput.WaitForDrain] when the
// queue did not empty within the allotted time.
var ErrDrainTimeout = errors.New("audio: output drain timed out")

// Sink receives audio chunks for immediate playback. The telephony media
// stream implements Sink by slicing the chunk to the carrier frame size and
// padding the tail with codec silence.
type Sink interface {
	Play(ctx context.Context, chunk []byte) error
}

// RateLimitedOutput serializes synthesized audio onto a [Sink] at real-time
// playback rate. A chunk of d seconds is followed by a sleep of roughly d, so
// the queue always holds the not-yet-played remainder of an utterance.
// Interruption works by flagging queued events and simply ceasing to play
// them, with no carrier-side buffer to claw back.
//
// One producer enqueues, one consumer loop plays. The consumer is started
// with [RateLimitedOutput.Run] and exits on context cancellation or the first
// sink error.
type RateLimitedOutput struct {
	sink       Sink
	encoding   Encoding
	sampleRate int
	allowance  time.Duration

	queue    chan *InterruptibleEvent[*AudioChunk]
	current  atomic.Pointer[InterruptibleEvent[*AudioChunk]]
	inFlight atomic.Bool
}

// OutputOption configures a [RateLimitedOutput].
type OutputOption func(*RateLimitedOutput)

// WithQueueDepth overrides the default output queue buffer depth.
func WithQueueDepth(n int) OutputOption {
	return func(o *RateLimitedOutput) {
		if n > 0 {
			o.queue = make(chan *InterruptibleEvent[*AudioChunk], n)
		}
	}
}

// WithAllowance overrides the per-chunk pacing allowance.
func WithAllowance(d time.Duration) OutputOption {
	return func(o *RateLimitedOutput) { o.allowance = d }
}

// NewRateLimitedOutput creates an output device for the given sink and codec.
func NewRateLimitedOutput(sink Sink, encoding Encoding, sampleRate int, opts ...OutputOption) *RateLimitedOutput {
	o := &RateLimitedOutput{
		sink:       sink,
		encoding:   encoding,
		sampleRate: sampleRate,
		allowance:  PerChunkAllowance,
		queue:      make(chan *InterruptibleEvent[*AudioChunk], defaultQueueDepth),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Enqueue appends an event to the output queue, blocking if the queue is full
// until space frees up or ctx is cancelled.
func (o *RateLimitedOutput) Enqueue(ctx context.Context, ev *InterruptibleEvent[*AudioChunk]) error {
	select {
	case o.queue <- ev:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run is the consumer loop. It blocks until ctx is cancelled (clean exit,
// returns nil) or the sink reports a send error (fatal to the call, returned
// to the caller). Chunks are delivered strictly in enqueue order.
func (o *RateLimitedOutput) Run(ctx context.Context) error {
	for {
		var ev *InterruptibleEvent[*AudioChunk]
		select {
		case <-ctx.Done():
			return nil
		case ev = <-o.queue:
		}

		o.inFlight.Store(true)
		o.current.Store(ev)
		start := time.Now()
		chunk := ev.Payload

		if ev.IsInterrupted() {
			chunk.markInterrupted()
			o.inFlight.Store(false)
			continue
		}

		playDur := Duration(len(chunk.Data), o.encoding, o.sampleRate)

		chunk.markPlaying()
		if err := o.sink.Play(ctx, chunk.Data); err != nil {
			o.inFlight.Store(false)
			return fmt.Errorf("audio: sink send: %w", err)
		}
		chunk.markPlayed()

		// Sleep off the remainder of the chunk's real duration so the next
		// dequeue happens when this chunk has (almost) finished playing.
		remaining := playDur - time.Since(start) - o.allowance
		if remaining > 0 {
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(remaining):
			}
		}
		ev.SetUninterruptible()
		o.inFlight.Store(false)
	}
}

// Interrupt is intentionally a no-op. With rate-limited playback, ending an
// utterance requires no sink-side action: flag the queued events (see
// [RateLimitedOutput.InterruptAll]) and the loop stops sending.
func (o *RateLimitedOutput) Interrupt() {}

// InterruptAll flags every queued event and the in-flight event as
// interrupted. Queued chunks transition to INTERRUPTED when the loop reaches
// them; an in-flight chunk that has passed its commit point completes
// normally. Returns the number of events flagged.
func (o *RateLimitedOutput) InterruptAll() int {
	n := 0
	if cur := o.current.Load(); cur != nil && cur.Interrupt() {
		n++
	}
	for {
		select {
		case ev := <-o.queue:
			ev.Interrupt()
			ev.Payload.markInterrupted()
			n++
		default:
			return n
		}
	}
}

// WaitForDrain polls until the queue is empty and no chunk is in flight, or
// the timeout elapses. Returns nil on a clean drain, [ErrDrainTimeout] on
// timeout, or ctx.Err() on cancellation. It never deadlocks.
func (o *RateLimitedOutput) WaitForDrain(ctx context.Context, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for {
		if len(o.queue) == 0 && !o.inFlight.Load() {
			return nil
		}
		if time.Now().After(deadline) {
			return ErrDrainTimeout
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(drainPollInterval):
		}
	}
}

// QueueLen returns the number of events waiting in the queue. Intended for
// metrics and tests.
func (o *RateLimitedOutput) QueueLen() int {
	return len(o.queue)
}

package audio

import "sync/atomic"

// ChunkState tracks an [AudioChunk] through its playback lifecycle.
type ChunkState int32

const (
	// ChunkQueued means the chunk is waiting in the output queue.
	ChunkQueued ChunkState = iota

	// ChunkPlaying means the chunk is being sent to the sink.
	ChunkPlaying

	// ChunkPlayed means the chunk was fully delivered to the sink.
	ChunkPlayed

	// ChunkInterrupted means the chunk was discarded before playback.
	ChunkInterrupted
)

// String returns the lowercase state name.
func (s ChunkState) String() string {
	switch s {
	case ChunkQueued:
		return "queued"
	case ChunkPlaying:
		return "playing"
	case ChunkPlayed:
		return "played"
	case ChunkInterrupted:
		return "interrupted"
	}
	return "unknown"
}

// AudioChunk is a unit of synthesized audio travelling through the output
// queue. The producer (synthesizer) creates chunks; the output device is the
// only component that advances their state and fires the lifecycle hooks.
//
// OnPlay and OnInterrupt are one-shot: each fires at most once, and they are
// mutually exclusive for a given chunk.
type AudioChunk struct {
	// Data holds raw audio bytes in the device's negotiated encoding.
	Data []byte

	// OnPlay is invoked after the chunk has been fully sent to the sink.
	OnPlay func()

	// OnInterrupt is invoked when the chunk is discarded without playback.
	OnInterrupt func()

	state    atomic.Int32
	hookDone atomic.Bool
}

// NewAudioChunk creates a chunk in the QUEUED state.
func NewAudioChunk(data []byte) *AudioChunk {
	return &AudioChunk{Data: data}
}

// State returns the chunk's current lifecycle state.
func (c *AudioChunk) State() ChunkState {
	return ChunkState(c.state.Load())
}

// markPlaying transitions the chunk to PLAYING. Called by the output device
// immediately before the sink send.
func (c *AudioChunk) markPlaying() {
	c.state.Store(int32(ChunkPlaying))
}

// markPlayed transitions the chunk to PLAYED and fires OnPlay exactly once.
func (c *AudioChunk) markPlayed() {
	c.state.Store(int32(ChunkPlayed))
	if c.hookDone.CompareAndSwap(false, true) && c.OnPlay != nil {
		c.OnPlay()
	}
}

// markInterrupted transitions the chunk to INTERRUPTED and fires OnInterrupt
// exactly once.
func (c *AudioChunk) markInterrupted() {
	c.state.Store(int32(ChunkInterrupted))
	if c.hookDone.CompareAndSwap(false, true) && c.OnInterrupt != nil {
		c.OnInterrupt()
	}
}

// InterruptibleEvent wraps a queue payload with an interruption flag.
//
// The flag is one-way in both directions: Interrupt only takes effect while
// the event is still interruptible, and SetUninterruptible may only be called
// once the consumer has irrevocably committed work on the payload. After
// SetUninterruptible, Interrupt is a no-op.
type InterruptibleEvent[T any] struct {
	// Payload is the wrapped value. Owned by the consumer after dequeue.
	Payload T

	interruptible atomic.Bool
	interrupted   atomic.Bool
}

// NewInterruptibleEvent wraps payload in an interruptible event.
func NewInterruptibleEvent[T any](payload T) *InterruptibleEvent[T] {
	e := &InterruptibleEvent[T]{Payload: payload}
	e.interruptible.Store(true)
	return e
}

// Interrupt flags the event as interrupted. Returns true if the flag was set,
// false if the event had already committed (or was already interrupted).
func (e *InterruptibleEvent[T]) Interrupt() bool {
	if !e.interruptible.Load() {
		return false
	}
	return e.interrupted.CompareAndSwap(false, true)
}

// IsInterrupted reports whether the event has been flagged.
func (e *InterruptibleEvent[T]) IsInterrupted() bool {
	return e.interrupted.Load()
}

// SetUninterruptible marks the event as committed. Subsequent Interrupt calls
// have no effect. The transition is one-way.
func (e *InterruptibleEvent[T]) SetUninterruptible() {
	e.interruptible.Store(false)
}

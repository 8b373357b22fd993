package stt

import (
	"context"
	"sync/atomic"

	"github.com/voxa-ai/voxa/pkg/frames"
)

// StreamingSTT is one persistent duplex recognition stream. Implementations
// own exactly one remote connection: Start performs the handshake, SendAudio
// enqueues ordered PCM frames, Results yields transcript events for the
// lifetime of the channel, and Close signals end-of-stream then releases the
// connection on every exit path.
type StreamingSTT interface {
	// Name returns the adapter name for logging.
	Name() string
	// Start establishes the duplex stream. It fails when the handshake does
	// not complete within the adapter's bounded timeout.
	Start(ctx context.Context) error
	// SendAudio enqueues an audio frame without blocking. Frame order is
	// preserved. Calling it after Close fails with reason stt_closed.
	SendAudio(frame frames.AudioFrame) error
	// Results is the channel's primary output: an unbounded lazy sequence of
	// transcript events, closed when the channel reaches the Closed state.
	Results() <-chan Event
	// Close sends the end-of-stream signal and releases the connection.
	Close() error
}

// Event is one item of the recognition stream: a transcript, or a terminal
// error when the stream is interrupted mid-utterance.
type Event struct {
	Transcript frames.TranscriptFrame
	Err        error
}

// Config contains vendor-agnostic channel configuration.
type Config struct {
	StreamID   string
	SampleRate int
	Language   string
	Interim    bool
}

// State is the channel lifecycle: Connecting -> Open -> Closing -> Closed.
// Any transport error while Open moves the channel directly to Closed.
type State int32

const (
	StateConnecting State = iota
	StateOpen
	StateClosing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "CONNECTING"
	case StateOpen:
		return "OPEN"
	case StateClosing:
		return "CLOSING"
	case StateClosed:
		return "CLOSED"
	}
	return "UNKNOWN"
}

// StateVar is a small atomic holder providers embed for their state machine.
type StateVar struct {
	v atomic.Int32
}

func (s *StateVar) Load() State { return State(s.v.Load()) }

func (s *StateVar) Store(st State) { s.v.Store(int32(st)) }

// CAS transitions from one state to another, reporting whether it applied.
func (s *StateVar) CAS(from, to State) bool {
	return s.v.CompareAndSwap(int32(from), int32(to))
}

package mock

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"

	"github.com/voxa-ai/voxa/pkg/adapters/stt"
	"github.com/voxa-ai/voxa/pkg/errorsx"
	"github.com/voxa-ai/voxa/pkg/frames"
)

type STTConfig struct {
	StreamID          string
	Transcript        string
	InterimTranscript string
	EmitInterim       bool
	// FramesBeforeFinal delays the transcript until that many frames arrived.
	FramesBeforeFinal int
	// StartErr makes Start fail, to exercise reconnect handling.
	StartErr error
	// StartFailures makes the first N Start calls fail and later ones
	// succeed, to exercise handshake retry.
	StartFailures int
	// FailAfterFrames injects a StreamInterrupted event after N frames.
	FailAfterFrames int
}

// StreamingSTT is a deterministic in-memory transcription channel: it emits
// one scripted utterance once enough audio has been fed.
type StreamingSTT struct {
	cfg   STTConfig
	out   chan stt.Event
	state stt.StateVar

	mu         sync.Mutex
	received   int
	emitted    bool
	failed     bool
	startCalls int
	closeCalls int
	outOnce    sync.Once

	SentFrames []frames.AudioFrame
}

func NewSTT(cfg STTConfig) *StreamingSTT {
	if cfg.Transcript == "" {
		cfg.Transcript = "mock transcript"
	}
	s := &StreamingSTT{cfg: cfg, out: make(chan stt.Event, 16)}
	s.state.Store(stt.StateConnecting)
	return s
}

func (s *StreamingSTT) Name() string { return "mock_stt" }

func (s *StreamingSTT) State() stt.State { return s.state.Load() }

func (s *StreamingSTT) Start(ctx context.Context) error {
	if s.cfg.StartErr != nil {
		s.state.Store(stt.StateClosed)
		s.closeOut()
		return errorsx.Wrap(s.cfg.StartErr, errorsx.ReasonSTTConnect)
	}
	s.mu.Lock()
	s.startCalls++
	calls := s.startCalls
	s.mu.Unlock()
	if calls <= s.cfg.StartFailures {
		return errorsx.Wrap(errors.New("transient handshake failure"), errorsx.ReasonSTTConnect)
	}
	s.state.Store(stt.StateOpen)
	return nil
}

func (s *StreamingSTT) Close() error {
	s.mu.Lock()
	s.closeCalls++
	s.mu.Unlock()
	s.state.Store(stt.StateClosed)
	s.closeOut()
	return nil
}

func (s *StreamingSTT) SendAudio(frame frames.AudioFrame) error {
	if st := s.state.Load(); st != stt.StateOpen {
		return errorsx.Wrap(errors.New("send on "+st.String()+" channel"), errorsx.ReasonSTTClosed)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.received++
	s.SentFrames = append(s.SentFrames, frame)

	if s.cfg.FailAfterFrames > 0 && s.received >= s.cfg.FailAfterFrames && !s.failed {
		s.failed = true
		s.state.Store(stt.StateClosed)
		s.out <- stt.Event{Err: errorsx.Wrap(errors.New("mock transport loss"), errorsx.ReasonSTTInterrupted)}
		s.closeOut()
		return nil
	}
	if s.emitted || s.received < s.cfg.FramesBeforeFinal {
		return nil
	}
	s.emitted = true

	utterance := uuid.NewString()
	if s.cfg.EmitInterim {
		interim := s.cfg.InterimTranscript
		if interim == "" {
			interim = s.cfg.Transcript
		}
		s.out <- stt.Event{Transcript: frames.NewTranscriptFrame(s.cfg.StreamID, utterance, interim, false, 0.5)}
	}
	s.out <- stt.Event{Transcript: frames.NewTranscriptFrame(s.cfg.StreamID, utterance, s.cfg.Transcript, true, 0.9)}
	return nil
}

func (s *StreamingSTT) Results() <-chan stt.Event { return s.out }

// SentFrameCount returns how many frames reached the channel.
func (s *StreamingSTT) SentFrameCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.SentFrames)
}

// StartCount returns how many times Start was attempted.
func (s *StreamingSTT) StartCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.startCalls
}

// SentFrame returns the i-th frame that reached the channel.
func (s *StreamingSTT) SentFrame(i int) frames.AudioFrame {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.SentFrames[i]
}

// CloseCount returns how many times Close was called.
func (s *StreamingSTT) CloseCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closeCalls
}

func (s *StreamingSTT) closeOut() {
	s.outOnce.Do(func() { close(s.out) })
}

var _ stt.StreamingSTT = (*StreamingSTT)(nil)

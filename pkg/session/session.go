package session

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/voxa-ai/voxa/pkg/adapters/stt"
	"github.com/voxa-ai/voxa/pkg/adapters/tts"
	"github.com/voxa-ai/voxa/pkg/audio"
	"github.com/voxa-ai/voxa/pkg/errorsx"
	"github.com/voxa-ai/voxa/pkg/frames"
	"github.com/voxa-ai/voxa/pkg/llm"
	"github.com/voxa-ai/voxa/pkg/logging"
	"github.com/voxa-ai/voxa/pkg/reply"
	"github.com/voxa-ai/voxa/pkg/resilience"
	"github.com/voxa-ai/voxa/pkg/transports"
)

// Policy decides what happens when a finalized transcript arrives while a
// reply is still being spoken.
type Policy string

const (
	// PolicyInterrupt cancels the in-flight reply and answers the new
	// transcript immediately.
	PolicyInterrupt Policy = "interrupt"
	// PolicyQueue lets the current reply finish; the newest pending
	// transcript is answered next. Only one transcript is held: a newer
	// Final replaces an older queued one.
	PolicyQueue Policy = "queue"
)

type Config struct {
	Participant  string
	InputRate    int
	TargetRate   int
	Channels     int
	Policy       Policy
	Voice        string
	SystemPrompt string
	// DrainTimeout bounds how long Close waits for in-flight work.
	DrainTimeout time.Duration
	// Retry governs the initial recognition handshake.
	Retry resilience.RetryPolicy
}

// STTFactory builds a fresh transcription channel. The session calls it on
// startup and once more if the live channel is lost mid-session.
type STTFactory func(streamID string) stt.StreamingSTT

type Deps struct {
	Transport transports.Transport
	STT       STTFactory
	Synth     tts.Synthesizer
	LLM       llm.StreamAdapter
}

// Session drives one participant's pipeline: inbound audio is resampled and
// fed to the transcription channel, finalized transcripts trigger reply
// generation, and reply fragments are synthesized concurrently but published
// in fragment order. All stages share one task group; Close cancels it and
// returns within the configured drain bound.
type Session struct {
	id     string
	cfg    Config
	deps   Deps
	gen    *reply.Generator
	res    *audio.Resampler
	logger *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	group  *errgroup.Group

	outSeq  *frames.SeqGen
	replies sync.WaitGroup

	mu          sync.Mutex
	conn        stt.StreamingSTT
	reopened    bool
	degraded    bool
	closed      bool
	replyActive bool
	replyCancel context.CancelFunc
	pending     *string
}

func NewSession(cfg Config, deps Deps) (*Session, error) {
	if cfg.InputRate == 0 {
		cfg.InputRate = 48000
	}
	if cfg.TargetRate == 0 {
		cfg.TargetRate = 16000
	}
	if cfg.Channels == 0 {
		cfg.Channels = 1
	}
	if cfg.Policy == "" {
		cfg.Policy = PolicyInterrupt
	}
	if cfg.DrainTimeout == 0 {
		cfg.DrainTimeout = 3 * time.Second
	}
	if cfg.Retry == (resilience.RetryPolicy{}) {
		cfg.Retry = resilience.NewRetryPolicy(2, 200*time.Millisecond)
	}
	res, err := audio.NewResampler(cfg.InputRate, cfg.TargetRate, cfg.Channels)
	if err != nil {
		return nil, err
	}
	id := uuid.NewString()
	return &Session{
		id:     id,
		cfg:    cfg,
		deps:   deps,
		outSeq: frames.NewSeqGen(),
		gen:    reply.NewGenerator(deps.LLM, reply.Config{SystemPrompt: cfg.SystemPrompt}),
		res:    res,
		logger: logging.NewComponentLogger(slog.Default(), "session").With(
			slog.String("session_id", id),
			slog.String("participant", cfg.Participant),
		),
	}, nil
}

func (s *Session) ID() string { return s.id }

// Degraded reports whether the transcription channel has been lost for good.
// A degraded session stops forwarding audio but still tears down normally.
func (s *Session) Degraded() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.degraded
}

// Start brings up the media boundary and the transcription channel, then
// launches the pipeline loops.
func (s *Session) Start(ctx context.Context) error {
	if err := s.deps.Transport.Start(ctx); err != nil {
		return errorsx.Wrap(err, errorsx.ReasonTransportStart)
	}
	conn := s.deps.STT(s.id)
	if err := s.cfg.Retry.Do(ctx, func() error { return conn.Start(ctx) }); err != nil {
		return errorsx.Wrap(err, errorsx.ReasonSTTConnect)
	}
	s.mu.Lock()
	s.conn = conn
	s.mu.Unlock()

	s.ctx, s.cancel = context.WithCancel(context.WithoutCancel(ctx))
	s.group, _ = errgroup.WithContext(s.ctx)
	s.group.Go(func() error { return s.feedLoop(s.ctx) })
	s.group.Go(func() error { return s.eventLoop(s.ctx) })
	s.logger.Info("session started",
		slog.String("stt", conn.Name()),
		slog.String("policy", string(s.cfg.Policy)))
	return nil
}

// Close tears the session down: cancels all stages, closes the transcription
// channel, and waits up to DrainTimeout. No audio is published after it
// returns. Idempotent.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.pending = nil
	conn := s.conn
	s.mu.Unlock()

	if s.cancel != nil {
		s.cancel()
	}
	if conn != nil {
		if err := conn.Close(); err != nil {
			s.logger.Debug("stt close", slog.String("error", err.Error()))
		}
	}

	done := make(chan struct{})
	go func() {
		if s.group != nil {
			_ = s.group.Wait()
		}
		s.replies.Wait()
		close(done)
	}()
	select {
	case <-done:
		s.logger.Info("session closed")
		return nil
	case <-time.After(s.cfg.DrainTimeout):
		err := errors.New("session drain timed out")
		s.logger.Warn("session close", slog.String("error", err.Error()))
		return err
	}
}

// feedLoop resamples inbound audio and forwards it to the live channel. When
// the inbound track ends the resampler's carried tail is flushed downstream
// so the last few samples of the utterance are not lost.
func (s *Session) feedLoop(ctx context.Context) error {
	in := s.deps.Transport.Recv()
	lastStream, lastSeq := s.id, int64(0)
	for {
		select {
		case frame, ok := <-in:
			if !ok {
				tail := s.res.Flush(lastStream, lastSeq+1)
				if tail.Samples() > 0 {
					s.forward(toMono(tail))
				}
				return nil
			}
			lastStream, lastSeq = frame.StreamID(), frame.Seq()
			out, err := s.res.Resample(frame)
			if err != nil {
				if errorsx.HasReason(err, errorsx.ReasonResampleFormat) {
					s.logger.Error("unrecoverable input format", slog.String("error", err.Error()))
					s.cancel()
					return err
				}
				s.logger.Debug("resample", slog.String("error", err.Error()))
				continue
			}
			if out.Samples() == 0 {
				continue
			}
			s.forward(toMono(out))
		case <-ctx.Done():
			return nil
		}
	}
}

// toMono downmixes a stereo frame for the recognition channel, which only
// accepts mono input. Mono frames pass through untouched.
func toMono(frame frames.AudioFrame) frames.AudioFrame {
	if frame.Channels() != 2 {
		return frame
	}
	mono := frames.NewAudioFrameFromPool(frame.StreamID(), frame.Seq(),
		audio.StereoToMono(frame.RawPayload()), frame.Rate(), 1)
	frames.ReleaseAudioFrame(frame)
	return mono
}

func (s *Session) forward(frame frames.AudioFrame) {
	s.mu.Lock()
	conn, degraded := s.conn, s.degraded
	s.mu.Unlock()
	if degraded || conn == nil {
		return
	}
	if err := conn.SendAudio(frame); err != nil {
		// A send race with channel loss resolves through the event loop.
		s.logger.Debug("send audio", slog.String("error", err.Error()))
	}
}

// eventLoop consumes transcript events. Loss of the channel is repaired by
// reopening exactly once; a further loss degrades the session.
func (s *Session) eventLoop(ctx context.Context) error {
	for {
		s.mu.Lock()
		conn := s.conn
		s.mu.Unlock()
		if conn == nil {
			return nil
		}

		interrupted := false
		for ev := range conn.Results() {
			if ev.Err != nil {
				if errorsx.HasReason(ev.Err, errorsx.ReasonSTTInterrupted) {
					interrupted = true
				}
				s.logger.Warn("transcription event", slog.String("error", ev.Err.Error()))
				continue
			}
			t := ev.Transcript
			if !t.Final() {
				continue
			}
			text := strings.TrimSpace(t.Text())
			if text == "" {
				continue
			}
			s.logger.Info("utterance finalized",
				slog.String("utterance_id", t.UtteranceID()),
				slog.String("text", text))
			s.onFinal(text)
		}

		if ctx.Err() != nil || s.isClosing() || !interrupted {
			return nil
		}
		// The lost channel still owns a socket and a write loop; release it
		// before a replacement takes over.
		if err := conn.Close(); err != nil {
			s.logger.Debug("stt close", slog.String("error", err.Error()))
		}
		if !s.reopen(ctx) {
			return nil
		}
	}
}

// reopen replaces the lost channel with a fresh one. Allowed once per
// session; any failure here or a second loss marks the session degraded.
func (s *Session) reopen(ctx context.Context) bool {
	s.mu.Lock()
	if s.reopened || s.closed {
		s.degraded = true
		s.mu.Unlock()
		s.logger.Warn("transcription channel lost again, session degraded")
		return false
	}
	s.reopened = true
	s.mu.Unlock()

	conn := s.deps.STT(s.id)
	if err := conn.Start(ctx); err != nil {
		s.mu.Lock()
		s.degraded = true
		s.mu.Unlock()
		s.logger.Warn("transcription reopen failed, session degraded",
			slog.String("error", err.Error()))
		return false
	}
	s.mu.Lock()
	s.conn = conn
	s.mu.Unlock()
	s.logger.Info("transcription channel reopened")
	return true
}

// onFinal applies the reply policy for a finalized transcript.
func (s *Session) onFinal(text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	if !s.replyActive {
		s.startReplyLocked(text)
		return
	}
	switch s.cfg.Policy {
	case PolicyQueue:
		s.pending = &text
	default:
		s.pending = &text
		if s.replyCancel != nil {
			s.replyCancel()
		}
	}
}

func (s *Session) startReplyLocked(text string) {
	rctx, cancel := context.WithCancel(s.ctx)
	s.replyActive = true
	s.replyCancel = cancel
	s.replies.Add(1)
	go func() {
		defer s.replies.Done()
		defer cancel()
		if err := s.runReply(rctx, text); err != nil && !errors.Is(err, context.Canceled) {
			s.logger.Warn("reply pipeline", slog.String("error", err.Error()))
		}
		s.mu.Lock()
		s.replyActive = false
		s.replyCancel = nil
		if s.pending != nil && !s.closed {
			next := *s.pending
			s.pending = nil
			s.startReplyLocked(next)
		}
		s.mu.Unlock()
	}()
}

// runReply runs one generation-and-synthesis pipeline to completion.
// Fragments are synthesized concurrently; the reorder buffer guarantees the
// published audio follows fragment order.
func (s *Session) runReply(ctx context.Context, text string) error {
	fragments, err := s.gen.Generate(ctx, text)
	if err != nil {
		return errorsx.Wrap(err, errorsx.ReasonLLMStream)
	}

	buf := newReorderBuffer()
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return buf.drain(gctx, s.publish)
	})
	g.Go(func() error {
		total := 0
		for frag := range fragments {
			frag := frag
			total++
			slot := buf.slot(frag.Seq)
			g.Go(func() error {
				s.synthesizeFragment(gctx, frag, slot)
				return nil
			})
		}
		buf.finish(total)
		return nil
	})
	return g.Wait()
}

// synthesizeFragment streams one fragment's audio into its reorder slot.
// The slot is closed on every path; a failed fragment leaves an empty slot
// so later fragments are never blocked behind it.
func (s *Session) synthesizeFragment(ctx context.Context, frag reply.Fragment, slot chan tts.Chunk) {
	defer close(slot)
	chunks, err := s.deps.Synth.Synthesize(ctx, tts.Request{Text: frag.Text, Voice: s.cfg.Voice})
	if err != nil {
		s.logger.Warn("synthesis failed, fragment skipped",
			slog.Int("fragment_seq", frag.Seq),
			slog.String("error", err.Error()))
		return
	}
	for chunk := range chunks {
		if chunk.Err != nil {
			s.logger.Warn("synthesis stream failed, fragment truncated",
				slog.Int("fragment_seq", frag.Seq),
				slog.String("error", chunk.Err.Error()))
			return
		}
		select {
		case slot <- chunk:
		case <-ctx.Done():
			return
		}
	}
}

func (s *Session) publish(chunk tts.Chunk) error {
	channels := chunk.Channels
	if channels == 0 {
		channels = 1
	}
	frame := frames.NewAudioFrame(s.id, s.outSeq.Next(s.id), chunk.PCM, chunk.SampleRate, channels)
	if err := s.deps.Transport.Publish(frame); err != nil {
		return errorsx.Wrap(err, errorsx.ReasonTransportSend)
	}
	return nil
}

func (s *Session) isClosing() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

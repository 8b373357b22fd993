package deepgram

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"

	msginterfaces "github.com/deepgram/deepgram-go-sdk/v3/pkg/api/listen/v1/websocket/interfaces"
	interfaces "github.com/deepgram/deepgram-go-sdk/v3/pkg/client/interfaces"
	client "github.com/deepgram/deepgram-go-sdk/v3/pkg/client/listen"
	"github.com/google/uuid"

	"github.com/voxa-ai/voxa/pkg/adapters/stt"
	"github.com/voxa-ai/voxa/pkg/errorsx"
	"github.com/voxa-ai/voxa/pkg/frames"
	"github.com/voxa-ai/voxa/pkg/logging"
)

type Config struct {
	APIKey     string
	Model      string
	Language   string
	SampleRate int
	Encoding   string
	Interim    bool
	StreamID   string
}

// StreamingSTT is the Deepgram-backed transcription channel. The SDK owns the
// websocket; audio is fed through an io.Pipe into its Stream call.
type StreamingSTT struct {
	cfg      Config
	dgClient *client.WSCallback
	out      chan stt.Event
	state    stt.StateVar
	ctx      context.Context
	cancel   context.CancelFunc
	logger   *slog.Logger

	pipeReader *io.PipeReader
	pipeWriter *io.PipeWriter
	outOnce    sync.Once

	utteranceMu sync.Mutex
	utteranceID string
}

func New(cfg Config) *StreamingSTT {
	if cfg.Model == "" {
		cfg.Model = "nova-2"
	}
	if cfg.SampleRate == 0 {
		cfg.SampleRate = 16000
	}
	if cfg.Encoding == "" {
		cfg.Encoding = "linear16"
	}
	s := &StreamingSTT{
		cfg:    cfg,
		out:    make(chan stt.Event, 256),
		logger: logging.NewComponentLogger(slog.Default(), "deepgram_stt"),
	}
	s.state.Store(stt.StateConnecting)
	return s
}

func (s *StreamingSTT) Name() string { return "deepgram_streaming" }

func (s *StreamingSTT) State() stt.State { return s.state.Load() }

func (s *StreamingSTT) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.pipeReader, s.pipeWriter = io.Pipe()

	clientOptions := &interfaces.ClientOptions{
		EnableKeepAlive: true,
	}
	transcriptOptions := &interfaces.LiveTranscriptionOptions{
		Model:          s.cfg.Model,
		Language:       s.cfg.Language,
		Encoding:       s.cfg.Encoding,
		SampleRate:     s.cfg.SampleRate,
		InterimResults: s.cfg.Interim,
		SmartFormat:    true,
	}

	cb := &callback{parent: s}
	dgClient, err := client.NewWSUsingCallback(s.ctx, s.cfg.APIKey, clientOptions, transcriptOptions, cb)
	if err != nil {
		s.state.Store(stt.StateClosed)
		s.closeOut()
		return errorsx.Wrap(err, errorsx.ReasonSTTConnect)
	}
	s.dgClient = dgClient

	if connected := s.dgClient.Connect(); !connected {
		s.state.Store(stt.StateClosed)
		s.closeOut()
		return errorsx.Wrap(errors.New("deepgram connection failed"), errorsx.ReasonSTTConnect)
	}
	s.state.Store(stt.StateOpen)
	s.logger.Info("connected",
		slog.String("stream_id", s.cfg.StreamID),
		slog.String("model", s.cfg.Model),
		slog.Int("sample_rate", s.cfg.SampleRate))

	go func() {
		if err := s.dgClient.Stream(s.pipeReader); err != nil && s.ctx.Err() == nil {
			if s.state.CAS(stt.StateOpen, stt.StateClosed) {
				s.emit(stt.Event{Err: errorsx.Wrap(err, errorsx.ReasonSTTInterrupted)})
				s.closeOut()
			}
		}
	}()
	return nil
}

func (s *StreamingSTT) SendAudio(frame frames.AudioFrame) error {
	if st := s.state.Load(); st != stt.StateOpen {
		return errorsx.Wrap(errors.New("send on "+st.String()+" channel"), errorsx.ReasonSTTClosed)
	}
	if _, err := s.pipeWriter.Write(frame.RawPayload()); err != nil {
		return errorsx.Wrap(err, errorsx.ReasonSTTSend)
	}
	// The pipe write returns once the SDK consumed the payload.
	frames.ReleaseAudioFrame(frame)
	return nil
}

func (s *StreamingSTT) Results() <-chan stt.Event { return s.out }

func (s *StreamingSTT) Close() error {
	wasOpen := s.state.CAS(stt.StateOpen, stt.StateClosing)
	if s.pipeWriter != nil {
		_ = s.pipeWriter.Close()
	}
	if s.cancel != nil {
		s.cancel()
	}
	if s.dgClient != nil {
		s.dgClient.Stop()
	}
	s.state.Store(stt.StateClosed)
	s.closeOut()
	if wasOpen {
		s.logger.Info("closed", slog.String("stream_id", s.cfg.StreamID))
	}
	return nil
}

func (s *StreamingSTT) emit(ev stt.Event) {
	select {
	case s.out <- ev:
	default:
		s.logger.Warn("results channel full, event dropped",
			slog.String("stream_id", s.cfg.StreamID))
	}
}

func (s *StreamingSTT) closeOut() {
	s.outOnce.Do(func() { close(s.out) })
}

// --- SDK callback ---

type callback struct {
	parent *StreamingSTT
}

func (c *callback) Open(or *msginterfaces.OpenResponse) error {
	c.parent.logger.Debug("socket opened", slog.String("stream_id", c.parent.cfg.StreamID))
	return nil
}

func (c *callback) Message(mr *msginterfaces.MessageResponse) error {
	if len(mr.Channel.Alternatives) == 0 {
		return nil
	}
	alt := mr.Channel.Alternatives[0]
	if alt.Transcript == "" {
		return nil
	}
	isFinal := mr.IsFinal || mr.SpeechFinal

	p := c.parent
	p.utteranceMu.Lock()
	if p.utteranceID == "" {
		p.utteranceID = uuid.NewString()
	}
	id := p.utteranceID
	if isFinal {
		p.utteranceID = ""
	}
	p.utteranceMu.Unlock()

	tf := frames.NewTranscriptFrame(p.cfg.StreamID, id, alt.Transcript, isFinal, float64(alt.Confidence))
	p.emit(stt.Event{Transcript: tf})
	return nil
}

func (c *callback) Metadata(md *msginterfaces.MetadataResponse) error {
	return nil
}

func (c *callback) SpeechStarted(ssr *msginterfaces.SpeechStartedResponse) error {
	return nil
}

func (c *callback) UtteranceEnd(ur *msginterfaces.UtteranceEndResponse) error {
	return nil
}

func (c *callback) Close(cr *msginterfaces.CloseResponse) error {
	c.parent.logger.Debug("socket closed", slog.String("stream_id", c.parent.cfg.StreamID))
	return nil
}

func (c *callback) Error(er *msginterfaces.ErrorResponse) error {
	c.parent.logger.Error("recognition error",
		slog.String("stream_id", c.parent.cfg.StreamID),
		slog.String("error_code", er.ErrCode),
		slog.String("error_message", er.ErrMsg))
	return nil
}

func (c *callback) UnhandledEvent(byData []byte) error {
	return nil
}

var _ stt.StreamingSTT = (*StreamingSTT)(nil)

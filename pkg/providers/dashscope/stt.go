package dashscope

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/voxa-ai/voxa/pkg/adapters/stt"
	"github.com/voxa-ai/voxa/pkg/errorsx"
	"github.com/voxa-ai/voxa/pkg/frames"
	"github.com/voxa-ai/voxa/pkg/logging"
)

// STTConfig configures one paraformer realtime recognition channel.
type STTConfig struct {
	APIKey         string
	Model          string
	Language       string
	SampleRate     int
	Interim        bool
	StreamID       string
	BaseURL        string
	ConnectTimeout time.Duration
}

// StreamingSTT is a duplex recognition channel against the DashScope
// inference websocket. One instance is one task: run-task on Start, binary
// PCM while open, finish-task on Close. The remote keeps acoustic context
// for the whole task, so the connection must stay up for the session.
type StreamingSTT struct {
	cfg    STTConfig
	conn   *websocket.Conn
	out    chan stt.Event
	sendCh chan frames.AudioFrame
	state  stt.StateVar
	logger *slog.Logger

	taskID      string
	taskStarted chan struct{}
	readerDone  chan struct{}

	ctx    context.Context
	cancel context.CancelFunc

	writeMu   sync.Mutex
	closeOnce sync.Once
	outOnce   sync.Once
	closeErr  error

	utteranceMu sync.Mutex
	utteranceID string
}

func NewSTT(cfg STTConfig) *StreamingSTT {
	if cfg.Model == "" {
		cfg.Model = "paraformer-realtime-v2"
	}
	if cfg.SampleRate == 0 {
		cfg.SampleRate = 16000
	}
	if cfg.Language == "" {
		cfg.Language = "zh"
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 10 * time.Second
	}
	s := &StreamingSTT{
		cfg:         cfg,
		out:         make(chan stt.Event, 256),
		sendCh:      make(chan frames.AudioFrame, 256),
		logger:      logging.NewComponentLogger(slog.Default(), "dashscope_stt"),
		taskID:      uuid.NewString(),
		taskStarted: make(chan struct{}),
		readerDone:  make(chan struct{}),
	}
	s.state.Store(stt.StateConnecting)
	return s
}

func (s *StreamingSTT) Name() string { return "dashscope_streaming" }

// State exposes the channel state machine.
func (s *StreamingSTT) State() stt.State { return s.state.Load() }

// Start dials the websocket, issues run-task and waits for task-started
// within the connect timeout. On any failure the connection is released and
// the channel ends up Closed.
func (s *StreamingSTT) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	s.ctx, s.cancel = context.WithCancel(ctx)

	dialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: s.cfg.ConnectTimeout,
	}
	conn, _, err := dialer.DialContext(s.ctx, s.cfg.BaseURL, http.Header{
		"Authorization": []string{"Bearer " + s.cfg.APIKey},
	})
	if err != nil {
		s.state.Store(stt.StateClosed)
		s.closeOut()
		s.logger.Error("handshake failed",
			slog.String("stream_id", s.cfg.StreamID),
			slog.String("error", err.Error()))
		return errorsx.Wrap(err, errorsx.ReasonSTTConnect)
	}
	s.conn = conn

	run := envelope{
		Header: header{
			Action:    actionRunTask,
			TaskID:    s.taskID,
			Streaming: streamingDuplex,
		},
		Payload: payload{
			TaskGroup: "audio",
			Task:      "asr",
			Function:  "recognition",
			Model:     s.cfg.Model,
			Parameters: &taskParameters{
				Format:                   "pcm",
				SampleRate:               s.cfg.SampleRate,
				LanguageHints:            []string{s.cfg.Language},
				MaxSentenceSilence:       800,
				PunctuationPrediction:    true,
				InverseTextNormalization: true,
			},
			Input: &taskInput{},
		},
	}
	if err := s.writeJSON(run); err != nil {
		s.release()
		return errorsx.Wrap(err, errorsx.ReasonSTTConnect)
	}

	go s.readLoop()

	select {
	case <-s.taskStarted:
	case <-s.readerDone:
		s.release()
		return errorsx.Wrap(errors.New("connection lost during handshake"), errorsx.ReasonSTTConnect)
	case <-time.After(s.cfg.ConnectTimeout):
		s.release()
		return errorsx.Wrap(errors.New("timed out waiting for task-started"), errorsx.ReasonSTTConnect)
	case <-s.ctx.Done():
		s.release()
		return errorsx.Wrap(s.ctx.Err(), errorsx.ReasonSTTConnect)
	}

	if !s.state.CAS(stt.StateConnecting, stt.StateOpen) {
		s.release()
		return errorsx.Wrap(errors.New("channel closed during handshake"), errorsx.ReasonSTTConnect)
	}
	s.logger.Info("recognition task started",
		slog.String("stream_id", s.cfg.StreamID),
		slog.String("task_id", s.taskID),
		slog.String("model", s.cfg.Model),
		slog.Int("sample_rate", s.cfg.SampleRate))

	go s.writeLoop()
	return nil
}

// SendAudio enqueues one frame for the write loop. Frames are forwarded in
// enqueue order; calling after Close is a contract violation.
func (s *StreamingSTT) SendAudio(frame frames.AudioFrame) error {
	if st := s.state.Load(); st != stt.StateOpen {
		return errorsx.Wrap(errors.New("send on "+st.String()+" channel"), errorsx.ReasonSTTClosed)
	}
	select {
	case s.sendCh <- frame:
		return nil
	default:
		s.logger.Warn("audio send queue full, frame dropped",
			slog.String("stream_id", s.cfg.StreamID),
			slog.Int64("seq", frame.Seq()))
		return errorsx.Wrap(errors.New("send queue full"), errorsx.ReasonSTTSend)
	}
}

func (s *StreamingSTT) Results() <-chan stt.Event { return s.out }

// Close signals finish-task, waits briefly for the remote task-finished and
// then releases the socket. Safe to call from any state and more than once.
func (s *StreamingSTT) Close() error {
	s.closeOnce.Do(func() {
		wasOpen := s.state.CAS(stt.StateOpen, stt.StateClosing)
		if !wasOpen {
			// Never fully opened, or already failed: just release.
			s.state.Store(stt.StateClosed)
			s.release()
			return
		}
		finish := envelope{
			Header: header{
				Action:    actionFinishTask,
				TaskID:    s.taskID,
				Streaming: streamingDuplex,
			},
			Payload: payload{Input: &taskInput{}},
		}
		if err := s.writeJSON(finish); err != nil {
			s.closeErr = errorsx.Wrap(err, errorsx.ReasonSTTSend)
		}
		select {
		case <-s.readerDone:
		case <-time.After(2 * time.Second):
			s.logger.Warn("task-finished not received before close deadline",
				slog.String("stream_id", s.cfg.StreamID))
		}
		s.state.Store(stt.StateClosed)
		s.release()
		s.logger.Info("recognition channel closed",
			slog.String("stream_id", s.cfg.StreamID),
			slog.String("task_id", s.taskID))
	})
	return s.closeErr
}

// writeJSON serializes control messages under the write mutex so they never
// interleave with binary audio writes.
func (s *StreamingSTT) writeJSON(v any) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.conn.WriteJSON(v)
}

func (s *StreamingSTT) writeLoop() {
	for {
		select {
		case <-s.ctx.Done():
			return
		case frame := <-s.sendCh:
			s.writeMu.Lock()
			err := s.conn.WriteMessage(websocket.BinaryMessage, frame.RawPayload())
			s.writeMu.Unlock()
			frames.ReleaseAudioFrame(frame)
			if err != nil {
				if s.state.Load() == stt.StateOpen {
					s.logger.Error("audio write failed",
						slog.String("stream_id", s.cfg.StreamID),
						slog.String("error", err.Error()))
				}
				return
			}
		}
	}
}

func (s *StreamingSTT) readLoop() {
	defer close(s.readerDone)
	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			st := s.state.Load()
			if st == stt.StateClosing || st == stt.StateClosed {
				s.closeOut()
				return
			}
			// Mid-stream transport loss while Open: surface it, don't drop it.
			s.state.Store(stt.StateClosed)
			s.emit(stt.Event{Err: errorsx.Wrap(err, errorsx.ReasonSTTInterrupted)})
			s.closeOut()
			s.release()
			s.logger.Error("stream interrupted",
				slog.String("stream_id", s.cfg.StreamID),
				slog.String("error", err.Error()))
			return
		}
		var env envelope
		if err := json.Unmarshal(data, &env); err != nil {
			s.logger.Warn("unparseable server message",
				slog.String("stream_id", s.cfg.StreamID))
			continue
		}
		switch env.Header.Event {
		case eventTaskStarted:
			select {
			case <-s.taskStarted:
			default:
				close(s.taskStarted)
			}
		case eventResultGenerated:
			s.handleResult(env)
		case eventTaskFinished:
			s.state.Store(stt.StateClosed)
			s.closeOut()
			return
		case eventTaskFailed:
			s.state.Store(stt.StateClosed)
			s.emit(stt.Event{Err: errorsx.Wrap(
				errors.New(env.Header.ErrorCode+": "+env.Header.ErrorMessage),
				errorsx.ReasonSTTInterrupted)})
			s.closeOut()
			s.release()
			s.logger.Error("task failed",
				slog.String("stream_id", s.cfg.StreamID),
				slog.String("error_code", env.Header.ErrorCode),
				slog.String("error_message", env.Header.ErrorMessage))
			return
		}
	}
}

func (s *StreamingSTT) handleResult(env envelope) {
	if env.Payload.Output == nil || env.Payload.Output.Sentence == nil {
		return
	}
	sen := env.Payload.Output.Sentence
	if sen.Heartbeat || sen.Text == "" {
		return
	}
	if !sen.SentenceEnd && !s.cfg.Interim {
		return
	}

	s.utteranceMu.Lock()
	if s.utteranceID == "" {
		s.utteranceID = uuid.NewString()
	}
	id := s.utteranceID
	if sen.SentenceEnd {
		// The final result settles this utterance; later interims belong to
		// a fresh one.
		s.utteranceID = ""
	}
	s.utteranceMu.Unlock()

	tf := frames.NewTranscriptFrame(s.cfg.StreamID, id, sen.Text, sen.SentenceEnd, 0.9)
	s.emit(stt.Event{Transcript: tf})
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

// release tears down the socket and the loops. Idempotent; called on every
// exit path so no connection is leaked.
func (s *StreamingSTT) release() {
	if s.cancel != nil {
		s.cancel()
	}
	if s.conn != nil {
		_ = s.conn.Close()
	}
	s.state.Store(stt.StateClosed)
}

var _ stt.StreamingSTT = (*StreamingSTT)(nil)

package dashscope

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/voxa-ai/voxa/pkg/adapters/tts"
	"github.com/voxa-ai/voxa/pkg/errorsx"
	"github.com/voxa-ai/voxa/pkg/logging"
)

// TTSConfig configures the CosyVoice synthesizer.
type TTSConfig struct {
	APIKey         string
	Model          string
	Voice          string
	SampleRate     int
	StreamID       string
	BaseURL        string
	ConnectTimeout time.Duration
}

// SpeechSynthesizer issues one DashScope synthesis task per Synthesize call.
// Binary websocket messages carry the PCM; the task protocol mirrors the
// recognition side (run-task / task-started / finish-task / task-finished).
type SpeechSynthesizer struct {
	cfg    TTSConfig
	logger *slog.Logger
}

func NewTTS(cfg TTSConfig) *SpeechSynthesizer {
	if cfg.Model == "" {
		cfg.Model = "cosyvoice-v1"
	}
	if cfg.Voice == "" {
		cfg.Voice = "longxiaochun"
	}
	if cfg.SampleRate == 0 {
		cfg.SampleRate = 22050
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 10 * time.Second
	}
	return &SpeechSynthesizer{
		cfg:    cfg,
		logger: logging.NewComponentLogger(slog.Default(), "dashscope_tts"),
	}
}

func (s *SpeechSynthesizer) Name() string { return "cosyvoice" }

// Synthesize opens a synthesis task and streams its audio. The returned
// channel closes on task-finished, on error (after a terminal Err chunk), or
// when ctx is cancelled; the connection is released on all of those paths.
func (s *SpeechSynthesizer) Synthesize(ctx context.Context, req tts.Request) (<-chan tts.Chunk, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	voice := req.Voice
	if voice == "" {
		voice = s.cfg.Voice
	}
	dialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: s.cfg.ConnectTimeout,
	}
	conn, _, err := dialer.DialContext(ctx, s.cfg.BaseURL, http.Header{
		"Authorization": []string{"Bearer " + s.cfg.APIKey},
	})
	if err != nil {
		return nil, errorsx.Wrap(err, errorsx.ReasonTTSConnect)
	}

	taskID := uuid.NewString()
	run := envelope{
		Header: header{
			Action:    actionRunTask,
			TaskID:    taskID,
			Streaming: streamingDuplex,
		},
		Payload: payload{
			TaskGroup: "audio",
			Task:      "tts",
			Function:  "SpeechSynthesizer",
			Model:     s.cfg.Model,
			Parameters: &taskParameters{
				Format:     "pcm",
				SampleRate: s.cfg.SampleRate,
				Voice:      voice,
				TextType:   "PlainText",
			},
			Input: &taskInput{},
		},
	}
	if err := conn.WriteJSON(run); err != nil {
		_ = conn.Close()
		return nil, errorsx.Wrap(err, errorsx.ReasonTTSConnect)
	}

	out := make(chan tts.Chunk, 64)
	done := make(chan struct{})

	// Unblock the reader when the fragment is cancelled.
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.Close()
		case <-done:
		}
	}()

	go func() {
		defer close(out)
		defer close(done)
		defer conn.Close()
		for {
			msgType, data, err := conn.ReadMessage()
			if err != nil {
				if ctx.Err() == nil {
					s.deliver(ctx, out, tts.Chunk{Err: errorsx.Wrap(err, errorsx.ReasonTTSSynthesize)})
					s.logger.Error("synthesis stream error",
						slog.String("stream_id", s.cfg.StreamID),
						slog.String("task_id", taskID),
						slog.String("error", err.Error()))
				}
				return
			}
			if msgType == websocket.BinaryMessage {
				if len(data) == 0 {
					continue
				}
				pcm := make([]byte, len(data))
				copy(pcm, data)
				if !s.deliver(ctx, out, tts.Chunk{PCM: pcm, SampleRate: s.cfg.SampleRate, Channels: 1}) {
					return
				}
				continue
			}
			var env envelope
			if err := json.Unmarshal(data, &env); err != nil {
				continue
			}
			switch env.Header.Event {
			case eventTaskStarted:
				cont := envelope{
					Header: header{
						Action:    actionContinueTask,
						TaskID:    taskID,
						Streaming: streamingDuplex,
					},
					Payload: payload{Input: &taskInput{Text: req.Text}},
				}
				finish := envelope{
					Header: header{
						Action:    actionFinishTask,
						TaskID:    taskID,
						Streaming: streamingDuplex,
					},
					Payload: payload{Input: &taskInput{}},
				}
				if err := conn.WriteJSON(cont); err == nil {
					_ = conn.WriteJSON(finish)
				}
			case eventTaskFinished:
				return
			case eventTaskFailed:
				s.deliver(ctx, out, tts.Chunk{Err: errorsx.Wrap(
					errors.New(env.Header.ErrorCode+": "+env.Header.ErrorMessage),
					errorsx.ReasonTTSSynthesize)})
				return
			}
		}
	}()
	return out, nil
}

func (s *SpeechSynthesizer) deliver(ctx context.Context, out chan<- tts.Chunk, c tts.Chunk) bool {
	select {
	case out <- c:
		return true
	case <-ctx.Done():
		return false
	}
}

var _ tts.Synthesizer = (*SpeechSynthesizer)(nil)

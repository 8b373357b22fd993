package elevenlabs

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/voxa-ai/voxa/pkg/adapters/tts"
	"github.com/voxa-ai/voxa/pkg/errorsx"
	"github.com/voxa-ai/voxa/pkg/logging"
	"github.com/voxa-ai/voxa/pkg/resilience"
)

type Config struct {
	APIKey         string
	VoiceID        string
	ModelID        string
	OutputFormat   string
	SampleRate     int
	StreamID       string
	BaseURL        string
	ConnectTimeout time.Duration
}

// Synthesizer streams one ElevenLabs stream-input request per fragment.
type Synthesizer struct {
	cfg    Config
	logger *slog.Logger
}

func New(cfg Config) *Synthesizer {
	if cfg.SampleRate == 0 {
		cfg.SampleRate = 22050
	}
	if cfg.OutputFormat == "" {
		cfg.OutputFormat = "pcm_22050"
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "wss://api.elevenlabs.io"
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 10 * time.Second
	}
	return &Synthesizer{
		cfg:    cfg,
		logger: logging.NewComponentLogger(slog.Default(), "elevenlabs_tts"),
	}
}

func (s *Synthesizer) Name() string { return "elevenlabs_tts" }

func (s *Synthesizer) Synthesize(ctx context.Context, req tts.Request) (<-chan tts.Chunk, error) {
	if s.cfg.APIKey == "" || s.cfg.VoiceID == "" {
		return nil, errorsx.Wrap(errors.New("missing elevenlabs config"), errorsx.ReasonTTSConnect)
	}
	if ctx == nil {
		ctx = context.Background()
	}
	dialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: s.cfg.ConnectTimeout,
	}
	conn, resp, err := dialer.DialContext(ctx, s.buildURL(), http.Header{
		"xi-api-key": []string{s.cfg.APIKey},
	})
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusTooManyRequests {
			return nil, errorsx.Wrap(
				resilience.RateLimitError{Provider: "elevenlabs", Message: resp.Status},
				errorsx.ReasonTTSRateLimit)
		}
		return nil, errorsx.Wrap(err, errorsx.ReasonTTSConnect)
	}

	text := strings.TrimSpace(req.Text)
	if text != "" && !strings.HasSuffix(text, " ") {
		text += " "
	}
	bos := map[string]any{
		"text": " ",
		"voice_settings": map[string]any{
			"stability":        0.5,
			"similarity_boost": 0.8,
		},
		"generation_config": map[string]any{
			"chunk_length_schedule": []int{120, 160, 250, 290},
		},
	}
	if err := conn.WriteJSON(bos); err != nil {
		_ = conn.Close()
		return nil, errorsx.Wrap(err, errorsx.ReasonTTSConnect)
	}
	_ = conn.WriteJSON(map[string]any{"text": text, "try_trigger_generation": true})
	// Empty text is the end-of-input marker.
	_ = conn.WriteJSON(map[string]any{"text": ""})

	out := make(chan tts.Chunk, 64)
	done := make(chan struct{})

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
			_, data, err := conn.ReadMessage()
			if err != nil {
				if ctx.Err() == nil {
					s.deliver(ctx, out, tts.Chunk{Err: errorsx.Wrap(err, errorsx.ReasonTTSSynthesize)})
				}
				return
			}
			var msg struct {
				Audio   string `json:"audio"`
				IsFinal bool   `json:"isFinal"`
				Error   string `json:"error"`
			}
			if err := json.Unmarshal(data, &msg); err != nil {
				s.logger.Warn("unparseable synthesis message",
					slog.String("stream_id", s.cfg.StreamID))
				continue
			}
			if msg.Error != "" {
				s.deliver(ctx, out, tts.Chunk{Err: errorsx.Wrap(errors.New(msg.Error), errorsx.ReasonTTSSynthesize)})
				return
			}
			if msg.Audio != "" {
				raw, err := base64.StdEncoding.DecodeString(msg.Audio)
				if err != nil {
					s.logger.Error("audio decode error",
						slog.String("stream_id", s.cfg.StreamID),
						slog.String("error", err.Error()))
					continue
				}
				if !s.deliver(ctx, out, tts.Chunk{PCM: raw, SampleRate: s.cfg.SampleRate, Channels: 1}) {
					return
				}
			}
			if msg.IsFinal {
				return
			}
		}
	}()
	return out, nil
}

func (s *Synthesizer) deliver(ctx context.Context, out chan<- tts.Chunk, c tts.Chunk) bool {
	select {
	case out <- c:
		return true
	case <-ctx.Done():
		return false
	}
}

func (s *Synthesizer) buildURL() string {
	base := s.cfg.BaseURL + "/v1/text-to-speech/" + s.cfg.VoiceID + "/stream-input"
	q := url.Values{}
	if s.cfg.ModelID != "" {
		q.Set("model_id", s.cfg.ModelID)
	}
	q.Set("output_format", s.cfg.OutputFormat)
	q.Set("optimize_streaming_latency", "4")
	return base + "?" + q.Encode()
}

var _ tts.Synthesizer = (*Synthesizer)(nil)

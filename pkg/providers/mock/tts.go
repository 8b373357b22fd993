package mock

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/voxa-ai/voxa/pkg/adapters/tts"
	"github.com/voxa-ai/voxa/pkg/errorsx"
)

type TTSConfig struct {
	SampleRate    int
	ChunksPerText int
	// Delay postpones the first chunk, keyed by fragment text, so tests can
	// shuffle synthesis completion timings.
	Delay map[string]time.Duration
	// FailTexts makes those fragments fail mid-stream.
	FailTexts map[string]bool
}

// Synthesizer produces deterministic PCM: each chunk is the fragment text's
// bytes, so tests can assert which fragment a chunk came from.
type Synthesizer struct {
	cfg TTSConfig

	mu       sync.Mutex
	Requests []string
}

func NewTTS(cfg TTSConfig) *Synthesizer {
	if cfg.SampleRate == 0 {
		cfg.SampleRate = 16000
	}
	if cfg.ChunksPerText == 0 {
		cfg.ChunksPerText = 2
	}
	return &Synthesizer{cfg: cfg}
}

func (s *Synthesizer) Name() string { return "mock_tts" }

func (s *Synthesizer) Synthesize(ctx context.Context, req tts.Request) (<-chan tts.Chunk, error) {
	s.mu.Lock()
	s.Requests = append(s.Requests, req.Text)
	s.mu.Unlock()

	out := make(chan tts.Chunk, s.cfg.ChunksPerText+1)
	go func() {
		defer close(out)
		if d := s.cfg.Delay[req.Text]; d > 0 {
			select {
			case <-time.After(d):
			case <-ctx.Done():
				return
			}
		}
		if s.cfg.FailTexts[req.Text] {
			out <- tts.Chunk{Err: errorsx.Wrap(errors.New("mock synthesis failure"), errorsx.ReasonTTSSynthesize)}
			return
		}
		for i := 0; i < s.cfg.ChunksPerText; i++ {
			select {
			case out <- tts.Chunk{PCM: []byte(req.Text), SampleRate: s.cfg.SampleRate, Channels: 1}:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

var _ tts.Synthesizer = (*Synthesizer)(nil)

package mock

import (
	"context"
	"sync"

	"github.com/voxa-ai/voxa/pkg/llm"
)

type LLMConfig struct {
	// StreamChunks are the raw deltas to emit, in order.
	StreamChunks []string
	// FailAfter injects a stream abort after that many chunks (0 = never).
	FailAfter int
	// StartErr makes Stream fail before any delta is produced.
	StartErr error
}

type LLMAdapter struct {
	cfg LLMConfig

	mu       sync.Mutex
	Requests [][]llm.Message
}

func NewLLMAdapter(cfg LLMConfig) *LLMAdapter {
	if len(cfg.StreamChunks) == 0 {
		cfg.StreamChunks = []string{"mock response."}
	}
	return &LLMAdapter{cfg: cfg}
}

func (a *LLMAdapter) Name() string { return "mock_llm" }

func (a *LLMAdapter) Stream(ctx context.Context, messages []llm.Message) (<-chan string, error) {
	if a.cfg.StartErr != nil {
		return nil, a.cfg.StartErr
	}
	a.mu.Lock()
	snapshot := make([]llm.Message, len(messages))
	copy(snapshot, messages)
	a.Requests = append(a.Requests, snapshot)
	a.mu.Unlock()

	out := make(chan string, len(a.cfg.StreamChunks))
	go func() {
		defer close(out)
		for i, chunk := range a.cfg.StreamChunks {
			if a.cfg.FailAfter > 0 && i >= a.cfg.FailAfter {
				return
			}
			select {
			case out <- chunk:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

// RequestCount returns how many Stream calls were made.
func (a *LLMAdapter) RequestCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.Requests)
}

// LastRequest returns the messages of the most recent Stream call.
func (a *LLMAdapter) LastRequest() []llm.Message {
	a.mu.Lock()
	defer a.mu.Unlock()
	if len(a.Requests) == 0 {
		return nil
	}
	return a.Requests[len(a.Requests)-1]
}

var _ llm.StreamAdapter = (*LLMAdapter)(nil)

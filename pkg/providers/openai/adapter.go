package openai

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/voxa-ai/voxa/pkg/errorsx"
	"github.com/voxa-ai/voxa/pkg/llm"
	"github.com/voxa-ai/voxa/pkg/resilience"
)

// Adapter speaks the OpenAI chat-completions protocol. Pointing BaseURL at a
// compatible endpoint (DashScope compatible-mode, vLLM, Ollama) works the
// same way.
type Adapter struct {
	APIKey  string
	Model   string
	BaseURL string
	Client  *http.Client
}

func NewAdapter(apiKey, model string) *Adapter {
	return &Adapter{
		APIKey:  apiKey,
		Model:   model,
		BaseURL: "https://api.openai.com/v1",
		Client:  &http.Client{Timeout: 60 * time.Second},
	}
}

func (a *Adapter) Name() string { return "openai" }

// Stream issues a streaming completion and yields text deltas until the
// [DONE] marker. The channel closes on completion, error, or ctx cancel; a
// stream is never restarted.
func (a *Adapter) Stream(ctx context.Context, messages []llm.Message) (<-chan string, error) {
	body, err := a.buildRequest(messages)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.BaseURL+"/chat/completions", body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+a.APIKey)

	resp, err := a.client().Do(req)
	if err != nil {
		return nil, errorsx.Wrap(err, errorsx.ReasonLLMStream)
	}
	if resp.StatusCode == http.StatusTooManyRequests {
		msg, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		return nil, errorsx.Wrap(
			resilience.RateLimitError{Provider: "openai", Message: string(msg)},
			errorsx.ReasonLLMRateLimit)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		return nil, errorsx.Wrap(errors.New(string(msg)), errorsx.ReasonLLMStream)
	}

	out := make(chan string, 128)
	go func() {
		defer resp.Body.Close()
		defer close(out)
		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if !strings.HasPrefix(line, "data:") {
				continue
			}
			data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
			if data == "[DONE]" {
				return
			}
			var chunk struct {
				Choices []struct {
					Delta struct {
						Content string `json:"content"`
					} `json:"delta"`
				} `json:"choices"`
			}
			if err := json.Unmarshal([]byte(data), &chunk); err != nil {
				continue
			}
			if len(chunk.Choices) == 0 {
				continue
			}
			if text := chunk.Choices[0].Delta.Content; text != "" {
				select {
				case <-ctx.Done():
					return
				case out <- text:
				}
			}
		}
		// A read error before [DONE] truncates the reply; surface it so the
		// truncation is attributable.
		if err := scanner.Err(); err != nil && ctx.Err() == nil {
			slog.Warn("completion stream truncated",
				slog.String("provider", "openai"),
				slog.String("error", err.Error()))
		}
	}()
	return out, nil
}

func (a *Adapter) buildRequest(messages []llm.Message) (*bytes.Buffer, error) {
	req := map[string]any{
		"model":    a.Model,
		"stream":   true,
		"messages": messages,
	}
	b, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}
	return bytes.NewBuffer(b), nil
}

func (a *Adapter) client() *http.Client {
	if a.Client != nil {
		return a.Client
	}
	return http.DefaultClient
}

var _ llm.StreamAdapter = (*Adapter)(nil)

package reply

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/voxa-ai/voxa/pkg/llm"
	"github.com/voxa-ai/voxa/pkg/logging"
)

// Fragment is one sentence-or-clause unit of a generated reply. Seq is
// monotonically increasing within a single reply, starting at 0.
type Fragment struct {
	Seq  int
	Text string
}

type Config struct {
	SystemPrompt string
	// MaxBufferedRunes bounds latency when the model emits little or no
	// punctuation: a buffer that long is flushed as a fragment anyway.
	MaxBufferedRunes int
	// MaxHistory caps the retained conversation turns.
	MaxHistory int
}

// Generator turns finalized transcripts into streams of reply fragments.
// It owns the in-memory conversation context: each Generate call appends the
// user turn up front and the assistant turn once the stream ends, so a
// truncated reply still lands in history exactly as it was spoken.
type Generator struct {
	adapter llm.StreamAdapter
	cfg     Config
	logger  *slog.Logger

	mu      sync.Mutex
	history []llm.Message
}

func NewGenerator(adapter llm.StreamAdapter, cfg Config) *Generator {
	if cfg.MaxBufferedRunes <= 0 {
		cfg.MaxBufferedRunes = 120
	}
	if cfg.MaxHistory <= 0 {
		cfg.MaxHistory = 20
	}
	return &Generator{
		adapter: adapter,
		cfg:     cfg,
		logger:  logging.NewComponentLogger(slog.Default(), "reply_generator"),
	}
}

// Generate issues one streaming completion for the transcript and yields
// fragments as sentence boundaries appear in the delta stream. The sequence
// is finite and not restartable; a transport error mid-stream simply ends it
// early. Fragments already emitted are never retracted and no retry is
// attempted, so nothing is spoken twice.
func (g *Generator) Generate(ctx context.Context, userText string) (<-chan Fragment, error) {
	g.mu.Lock()
	g.history = append(g.history, llm.Message{Role: llm.RoleUser, Content: userText})
	g.trimHistoryLocked()
	messages := g.snapshotLocked()
	g.mu.Unlock()

	tokens, err := g.adapter.Stream(ctx, messages)
	if err != nil {
		return nil, err
	}

	out := make(chan Fragment, 16)
	go func() {
		defer close(out)
		var (
			buf  strings.Builder
			full strings.Builder
			seq  int
		)
		emit := func(text string) bool {
			text = strings.TrimSpace(text)
			if text == "" {
				return true
			}
			select {
			case out <- Fragment{Seq: seq, Text: text}:
				seq++
				return true
			case <-ctx.Done():
				return false
			}
		}
		for tok := range tokens {
			full.WriteString(tok)
			buf.WriteString(tok)
			complete, rest := splitSentences(buf.String())
			buf.Reset()
			buf.WriteString(rest)
			for _, sentence := range complete {
				if !emit(sentence) {
					g.finish(userText, full.String())
					return
				}
			}
			if utf8.RuneCountInString(buf.String()) >= g.cfg.MaxBufferedRunes {
				flushed := buf.String()
				buf.Reset()
				if !emit(flushed) {
					g.finish(userText, full.String())
					return
				}
			}
		}
		// Stream ended, by completion or by abort: flush the tail either way.
		if !emit(buf.String()) {
			g.finish(userText, full.String())
			return
		}
		g.finish(userText, full.String())
		g.logger.Debug("reply complete", slog.Int("fragments", seq))
	}()
	return out, nil
}

// History returns a copy of the retained conversation context.
func (g *Generator) History() []llm.Message {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]llm.Message, len(g.history))
	copy(out, g.history)
	return out
}

func (g *Generator) finish(userText, assistantText string) {
	assistantText = strings.TrimSpace(assistantText)
	if assistantText == "" {
		return
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.history = append(g.history, llm.Message{Role: llm.RoleAssistant, Content: assistantText})
	g.trimHistoryLocked()
}

func (g *Generator) snapshotLocked() []llm.Message {
	messages := make([]llm.Message, 0, len(g.history)+1)
	if g.cfg.SystemPrompt != "" {
		messages = append(messages, llm.Message{Role: llm.RoleSystem, Content: g.cfg.SystemPrompt})
	}
	return append(messages, g.history...)
}

func (g *Generator) trimHistoryLocked() {
	if len(g.history) > g.cfg.MaxHistory {
		g.history = g.history[len(g.history)-g.cfg.MaxHistory:]
	}
}

// splitSentences cuts the buffer after sentence-ending punctuation and
// returns the completed sentences plus the unfinished remainder.
func splitSentences(s string) (complete []string, rest string) {
	runes := []rune(s)
	start := 0
	for i, r := range runes {
		if !isSentenceEnd(r) {
			continue
		}
		// Group trailing quotes or repeated punctuation with the sentence.
		if i+1 < len(runes) && (isSentenceEnd(runes[i+1]) || runes[i+1] == '"' || runes[i+1] == '”') {
			continue
		}
		complete = append(complete, string(runes[start:i+1]))
		start = i + 1
	}
	return complete, string(runes[start:])
}

func isSentenceEnd(r rune) bool {
	switch r {
	case '.', '!', '?', '\n', '。', '！', '？', '；':
		return true
	}
	return false
}

package openai

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"
)

func sseDelta(text string) string {
	return fmt.Sprintf("data: {\"choices\":[{\"delta\":{\"content\":%q}}]}\n\n", text)
}

func collect(t *testing.T, ch <-chan string) []string {
	t.Helper()
	var out []string
	for {
		select {
		case s, ok := <-ch:
			if !ok {
				return out
			}
			out = append(out, s)
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for stream")
		}
	}
}

// logCapture records messages so a test can assert what was surfaced.
type logCapture struct {
	mu   sync.Mutex
	msgs []string
}

func (c *logCapture) Enabled(context.Context, slog.Level) bool { return true }

func (c *logCapture) Handle(_ context.Context, r slog.Record) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.msgs = append(c.msgs, r.Message)
	return nil
}

func (c *logCapture) WithAttrs([]slog.Attr) slog.Handler { return c }
func (c *logCapture) WithGroup(string) slog.Handler      { return c }

func (c *logCapture) contains(msg string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, m := range c.msgs {
		if m == msg {
			return true
		}
	}
	return false
}

func TestStreamDeliversDeltasUntilDone(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer sk-test" {
			t.Errorf("authorization = %q", got)
		}
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, sseDelta("Hi"))
		fmt.Fprint(w, sseDelta(" there!"))
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	defer srv.Close()

	a := NewAdapter("sk-test", "test-model")
	a.BaseURL = srv.URL

	ch, err := a.Stream(context.Background(), nil)
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}
	got := collect(t, ch)
	if len(got) != 2 || got[0] != "Hi" || got[1] != " there!" {
		t.Fatalf("deltas = %v", got)
	}
}

func TestStreamTruncationIsSurfaced(t *testing.T) {
	capture := &logCapture{}
	old := slog.Default()
	slog.SetDefault(slog.New(capture))
	defer slog.SetDefault(old)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, sseDelta("Hel"))
		w.(http.Flusher).Flush()
		// Kill the connection mid-stream, before the [DONE] marker.
		conn, _, err := w.(http.Hijacker).Hijack()
		if err != nil {
			t.Errorf("hijack: %v", err)
			return
		}
		conn.Close()
	}))
	defer srv.Close()

	a := NewAdapter("sk-test", "test-model")
	a.BaseURL = srv.URL

	ch, err := a.Stream(context.Background(), nil)
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}
	got := collect(t, ch)
	if len(got) != 1 || got[0] != "Hel" {
		t.Fatalf("deltas before cut = %v", got)
	}
	if !capture.contains("completion stream truncated") {
		t.Fatal("read error before [DONE] was not reported")
	}
}

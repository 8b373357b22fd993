package agent

import (
	"context"
	"testing"

	"github.com/voxa-ai/voxa/pkg/adapters/stt"
	"github.com/voxa-ai/voxa/pkg/adapters/tts"
	"github.com/voxa-ai/voxa/pkg/llm"
	"github.com/voxa-ai/voxa/pkg/providers/mock"
	"github.com/voxa-ai/voxa/pkg/session"
	transportmock "github.com/voxa-ai/voxa/pkg/transports/mock"
)

func mockRegistry() *ProviderRegistry {
	r := NewProviderRegistry()
	r.RegisterSTT("mock", func(cfg Config) (session.STTFactory, error) {
		return func(streamID string) stt.StreamingSTT {
			return mock.NewSTT(mock.STTConfig{StreamID: streamID, FramesBeforeFinal: 1000})
		}, nil
	})
	r.RegisterTTS("mock", func(cfg Config) (tts.Synthesizer, error) {
		return mock.NewTTS(mock.TTSConfig{}), nil
	})
	r.RegisterLLM("mock", func(cfg Config) (llm.StreamAdapter, error) {
		return mock.NewLLMAdapter(mock.LLMConfig{}), nil
	})
	return r
}

func mockConfig() Config {
	return Config{
		LogLevel: "error",
		Vendors: VendorsConfig{
			STT: VendorConfig{Provider: "mock"},
			TTS: VendorConfig{Provider: "mock"},
			LLM: VendorConfig{Provider: "mock"},
		},
	}
}

func TestEngineSessionLifecycle(t *testing.T) {
	e, err := NewEngine(EngineOptions{Config: mockConfig(), Providers: mockRegistry()})
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	defer e.Stop()

	transport := transportmock.NewTransport()
	if err := e.OnParticipantAudioTrackSubscribed(context.Background(), "alice", transport); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	if got := e.SessionCount(); got != 1 {
		t.Fatalf("session count = %d, want 1", got)
	}
	if err := e.OnParticipantDisconnected("alice"); err != nil {
		t.Fatalf("disconnect: %v", err)
	}
	if got := e.SessionCount(); got != 0 {
		t.Fatalf("session count after disconnect = %d, want 0", got)
	}
}

func TestEngineDisconnectUnknownIsNoop(t *testing.T) {
	e, err := NewEngine(EngineOptions{Config: mockConfig(), Providers: mockRegistry()})
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	defer e.Stop()
	if err := e.OnParticipantDisconnected("ghost"); err != nil {
		t.Fatalf("disconnect unknown: %v", err)
	}
}

func TestEngineResubscribeReplacesSession(t *testing.T) {
	e, err := NewEngine(EngineOptions{Config: mockConfig(), Providers: mockRegistry()})
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	defer e.Stop()

	ctx := context.Background()
	if err := e.OnParticipantAudioTrackSubscribed(ctx, "bob", transportmock.NewTransport()); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	if err := e.OnParticipantAudioTrackSubscribed(ctx, "bob", transportmock.NewTransport()); err != nil {
		t.Fatalf("resubscribe: %v", err)
	}
	if got := e.SessionCount(); got != 1 {
		t.Fatalf("session count = %d, want 1", got)
	}
}

func TestEngineStopClosesAllSessions(t *testing.T) {
	e, err := NewEngine(EngineOptions{Config: mockConfig(), Providers: mockRegistry()})
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}

	ctx := context.Background()
	for _, p := range []string{"alice", "bob", "carol"} {
		if err := e.OnParticipantAudioTrackSubscribed(ctx, p, transportmock.NewTransport()); err != nil {
			t.Fatalf("subscribe %s: %v", p, err)
		}
	}
	e.Stop()
	if got := e.SessionCount(); got != 0 {
		t.Fatalf("session count after stop = %d, want 0", got)
	}
}

func TestEngineRejectsUnknownProviders(t *testing.T) {
	cfg := mockConfig()
	cfg.Vendors.STT.Provider = "nope"
	if _, err := NewEngine(EngineOptions{Config: cfg, Providers: mockRegistry()}); err == nil {
		t.Fatal("expected error for unregistered stt provider")
	}
}

package agent

import (
	"strings"
	"testing"
)

func vendorsWith(stt, tts, llm VendorConfig) Config {
	return Config{Vendors: VendorsConfig{STT: stt, TTS: tts, LLM: llm}}
}

func TestBuildDashScopeSTTFactory(t *testing.T) {
	cfg := vendorsWith(VendorConfig{
		Provider: "dashscope",
		Settings: map[string]any{"api_key": "sk-1", "language": "en"},
	}, VendorConfig{}, VendorConfig{})

	factory, err := DefaultRegistry().BuildSTTFactory(cfg)
	if err != nil {
		t.Fatalf("BuildSTTFactory: %v", err)
	}
	conn := factory("stream-1")
	if conn == nil || conn.Name() != "dashscope_streaming" {
		t.Fatalf("unexpected channel %v", conn)
	}
}

func TestBuildDashScopeSTTRequiresAPIKey(t *testing.T) {
	cfg := vendorsWith(VendorConfig{
		Provider: "dashscope",
		Settings: map[string]any{"language": "en"},
	}, VendorConfig{}, VendorConfig{})

	if _, err := DefaultRegistry().BuildSTTFactory(cfg); err == nil {
		t.Fatal("expected error for missing api_key")
	}
}

func TestBuildSTTRejectsUnknownSettings(t *testing.T) {
	cfg := vendorsWith(VendorConfig{
		Provider: "dashscope",
		Settings: map[string]any{"api_key": "sk-1", "api_keey": "typo"},
	}, VendorConfig{}, VendorConfig{})

	_, err := DefaultRegistry().BuildSTTFactory(cfg)
	if err == nil || !strings.Contains(err.Error(), "unknown") {
		t.Fatalf("err = %v, want unknown-key error", err)
	}
}

func TestBuildDeepgramSTTFactory(t *testing.T) {
	cfg := vendorsWith(VendorConfig{
		Provider: "deepgram",
		Settings: map[string]any{"api_key": "dg-1", "model": "nova-2"},
	}, VendorConfig{}, VendorConfig{})

	factory, err := DefaultRegistry().BuildSTTFactory(cfg)
	if err != nil {
		t.Fatalf("BuildSTTFactory: %v", err)
	}
	if conn := factory("stream-1"); conn.Name() != "deepgram_streaming" {
		t.Fatalf("unexpected channel name %q", conn.Name())
	}
}

func TestBuildElevenLabsTTSRequiresVoice(t *testing.T) {
	cfg := vendorsWith(VendorConfig{}, VendorConfig{
		Provider: "elevenlabs",
		Settings: map[string]any{"api_key": "el-1"},
	}, VendorConfig{})

	if _, err := DefaultRegistry().BuildTTS(cfg); err == nil {
		t.Fatal("expected error for missing voice_id")
	}
}

func TestBuildOpenAILLM(t *testing.T) {
	cfg := vendorsWith(VendorConfig{}, VendorConfig{}, VendorConfig{
		Provider: "openai",
		Settings: map[string]any{
			"api_key":  "sk-2",
			"model":    "qwen-turbo",
			"base_url": "https://dashscope.aliyuncs.com/compatible-mode/v1",
		},
	})

	adapter, err := DefaultRegistry().BuildLLM(cfg)
	if err != nil {
		t.Fatalf("BuildLLM: %v", err)
	}
	if adapter.Name() != "openai" {
		t.Fatalf("adapter name = %q", adapter.Name())
	}
}

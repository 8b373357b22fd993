package agent

import (
	"os"
	"path/filepath"
	"testing"
)

const sampleConfig = `
environment: test
log_level: debug
system_prompt: "You are a concise voice assistant."

vendors:
  stt:
    provider: dashscope
    settings:
      api_key: ${VOXA_TEST_DASHSCOPE_KEY}
      language: en
  tts:
    provider: dashscope
    settings:
      api_key: ${VOXA_TEST_DASHSCOPE_KEY}
      voice: longxiaochun
  llm:
    provider: openai
    settings:
      api_key: ${VOXA_TEST_DASHSCOPE_KEY}
      model: qwen-turbo

session:
  policy: queue
  voice: longxiaochun
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "voxa.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadConfig(t *testing.T) {
	t.Setenv("VOXA_TEST_DASHSCOPE_KEY", "sk-test-123")
	cfg, err := LoadConfig(writeConfig(t, sampleConfig))
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}

	if cfg.Environment != "test" || cfg.LogLevel != "debug" {
		t.Errorf("unexpected env/log: %q %q", cfg.Environment, cfg.LogLevel)
	}
	if cfg.Vendors.STT.Provider != "dashscope" {
		t.Errorf("stt provider = %q", cfg.Vendors.STT.Provider)
	}
	if got := cfg.Vendors.STT.Settings["api_key"]; got != "sk-test-123" {
		t.Errorf("api_key not expanded: %v", got)
	}
	if cfg.Session.Policy != "queue" {
		t.Errorf("session policy = %q", cfg.Session.Policy)
	}

	// Defaults fill what the file omits.
	if cfg.Session.InputRate != 48000 || cfg.Session.TargetRate != 16000 {
		t.Errorf("rate defaults = %d/%d", cfg.Session.InputRate, cfg.Session.TargetRate)
	}
	if cfg.Session.DrainTimeoutMS != 3000 {
		t.Errorf("drain timeout default = %d", cfg.Session.DrainTimeoutMS)
	}
}

func TestLoadConfigRequiresVendors(t *testing.T) {
	body := `
vendors:
  stt:
    provider: dashscope
`
	if _, err := LoadConfig(writeConfig(t, body)); err == nil {
		t.Fatal("expected validation error for missing vendors")
	}
}

func TestLoadConfigRejectsBadPolicy(t *testing.T) {
	t.Setenv("VOXA_TEST_DASHSCOPE_KEY", "sk-test-123")
	body := sampleConfig + "\n"
	cfg, err := LoadConfig(writeConfig(t, body))
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	cfg.Session.Policy = "barge"
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for unknown policy")
	}
}

func TestLoadConfigMissingFile(t *testing.T) {
	if _, err := LoadConfig(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

package config_test

import (
	"strings"
	"testing"

	"github.com/ringbridge/telephony/internal/config"
)

const validYAML = `
server:
  listen_addr: ":8080"
  log_level: info
providers:
  plivo:
    webhook_base_url: "https://example.com"
    auth_id: "id"
    auth_token: "secret"
  stt:
    name: deepgram
    api_key: "dg-key"
  llm:
    name: openai
    api_key: "oai-key"
    model: "gpt-4o-mini"
  tts:
    name: elevenlabs
    api_key: "el-key"
system_prompt: "You are a courteous phone agent."
journal:
  postgres_dsn: "postgres://localhost/ringbridge"
`

func TestLoadFromReader_Valid(t *testing.T) {
	t.Parallel()
	cfg, err := config.LoadFromReader(strings.NewReader(validYAML))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Server.ListenAddr != ":8080" {
		t.Errorf("listen_addr: got %q", cfg.Server.ListenAddr)
	}
	if cfg.Providers.LLM.Name != "openai" {
		t.Errorf("providers.llm.name: got %q", cfg.Providers.LLM.Name)
	}
	if cfg.Providers.Plivo.WebhookBaseURL != "https://example.com" {
		t.Errorf("providers.plivo.webhook_base_url: got %q", cfg.Providers.Plivo.WebhookBaseURL)
	}
}

func TestLoadFromReader_UnknownField(t *testing.T) {
	t.Parallel()
	bad := validYAML + "\nbogus_top_level_field: true\n"
	if _, err := config.LoadFromReader(strings.NewReader(bad)); err == nil {
		t.Fatal("expected error for unknown field, got nil")
	}
}

func TestLoadFromReader_InvalidLogLevel(t *testing.T) {
	t.Parallel()
	bad := `
server:
  listen_addr: ":8080"
  log_level: bananas
providers:
  plivo:
    webhook_base_url: "https://example.com"
  stt:
    name: deepgram
  llm:
    name: openai
  tts:
    name: elevenlabs
`
	_, err := config.LoadFromReader(strings.NewReader(bad))
	if err == nil {
		t.Fatal("expected error for invalid log_level, got nil")
	}
	if !strings.Contains(err.Error(), "log_level") {
		t.Errorf("error should mention log_level, got: %v", err)
	}
}

func TestLoadFromReader_MissingListenAddr(t *testing.T) {
	t.Parallel()
	bad := `
providers:
  plivo:
    webhook_base_url: "https://example.com"
  stt:
    name: deepgram
  llm:
    name: openai
  tts:
    name: elevenlabs
`
	_, err := config.LoadFromReader(strings.NewReader(bad))
	if err == nil {
		t.Fatal("expected error for missing listen_addr, got nil")
	}
}

func TestLoadFromReader_NoAdapterConfigured(t *testing.T) {
	t.Parallel()
	bad := `
server:
  listen_addr: ":8080"
providers:
  stt:
    name: deepgram
  llm:
    name: openai
  tts:
    name: elevenlabs
`
	_, err := config.LoadFromReader(strings.NewReader(bad))
	if err == nil {
		t.Fatal("expected error when no telephony adapter is configured, got nil")
	}
}

func TestLoadFromReader_NoPipelineConfigured(t *testing.T) {
	t.Parallel()
	bad := `
server:
  listen_addr: ":8080"
providers:
  plivo:
    webhook_base_url: "https://example.com"
`
	_, err := config.LoadFromReader(strings.NewReader(bad))
	if err == nil {
		t.Fatal("expected error when neither s2s nor a full cascade is configured, got nil")
	}
}

func TestLoadFromReader_S2SOnlyIsValid(t *testing.T) {
	t.Parallel()
	ok := `
server:
  listen_addr: ":8080"
providers:
  tata:
    webhook_base_url: "https://example.com"
    api_key: "tata-key"
  s2s:
    name: openai-realtime
    api_key: "oai-key"
system_prompt: "Hello"
`
	if _, err := config.LoadFromReader(strings.NewReader(ok)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestLoad_FileNotFound(t *testing.T) {
	t.Parallel()
	if _, err := config.Load("/nonexistent/path/config.yaml"); err == nil {
		t.Fatal("expected error for missing file, got nil")
	}
}

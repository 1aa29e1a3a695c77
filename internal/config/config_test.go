package config_test

import (
	"errors"
	"testing"

	"github.com/ringbridge/telephony/internal/config"
	"github.com/ringbridge/telephony/pkg/provider/llm"
	"github.com/ringbridge/telephony/pkg/provider/llm/mock"
	"github.com/ringbridge/telephony/pkg/provider/s2s"
	"github.com/ringbridge/telephony/pkg/provider/stt"
	"github.com/ringbridge/telephony/pkg/provider/tts"
)

func validConfig() *config.Config {
	return &config.Config{
		Server: config.ServerConfig{ListenAddr: ":8080", LogLevel: config.LogLevelInfo},
		Providers: config.ProvidersConfig{
			Plivo: config.PlivoConfig{WebhookBaseURL: "https://example.com"},
			STT:   config.ProviderEntry{Name: "deepgram"},
			LLM:   config.ProviderEntry{Name: "openai"},
			TTS:   config.ProviderEntry{Name: "elevenlabs"},
		},
		SystemPrompt: "hello",
	}
}

func TestValidate_Valid(t *testing.T) {
	t.Parallel()
	if err := config.Validate(validConfig()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestValidate_InvalidLogLevel(t *testing.T) {
	t.Parallel()
	cfg := validConfig()
	cfg.Server.LogLevel = "loud"
	if err := config.Validate(cfg); err == nil {
		t.Fatal("expected error for invalid log level")
	}
}

func TestValidate_MissingAdapter(t *testing.T) {
	t.Parallel()
	cfg := validConfig()
	cfg.Providers.Plivo = config.PlivoConfig{}
	if err := config.Validate(cfg); err == nil {
		t.Fatal("expected error for no configured adapter")
	}
}

func TestValidate_MissingPipeline(t *testing.T) {
	t.Parallel()
	cfg := validConfig()
	cfg.Providers.STT = config.ProviderEntry{}
	cfg.Providers.LLM = config.ProviderEntry{}
	cfg.Providers.TTS = config.ProviderEntry{}
	if err := config.Validate(cfg); err == nil {
		t.Fatal("expected error for no configured pipeline")
	}
}

func TestValidate_AggregatesErrors(t *testing.T) {
	t.Parallel()
	cfg := &config.Config{}
	err := config.Validate(cfg)
	if err == nil {
		t.Fatal("expected aggregated error, got nil")
	}
	var joined interface{ Unwrap() []error }
	if !errors.As(err, &joined) {
		t.Fatalf("expected a joined error, got %T", err)
	}
	if len(joined.Unwrap()) < 2 {
		t.Errorf("expected multiple joined errors, got %d", len(joined.Unwrap()))
	}
}

func TestRegistry_CreateLLM(t *testing.T) {
	t.Parallel()
	r := config.NewRegistry()
	r.RegisterLLM("fake", func(entry config.ProviderEntry) (llm.Provider, error) {
		return &mock.Provider{}, nil
	})

	p, err := r.CreateLLM(config.ProviderEntry{Name: "fake"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p == nil {
		t.Fatal("expected non-nil provider")
	}
}

func TestRegistry_CreateLLM_NotRegistered(t *testing.T) {
	t.Parallel()
	r := config.NewRegistry()
	_, err := r.CreateLLM(config.ProviderEntry{Name: "missing"})
	if !errors.Is(err, config.ErrProviderNotRegistered) {
		t.Fatalf("expected ErrProviderNotRegistered, got %v", err)
	}
}

func TestRegistry_AllKinds(t *testing.T) {
	t.Parallel()
	r := config.NewRegistry()
	r.RegisterSTT("fake-stt", func(config.ProviderEntry) (stt.Provider, error) { return nil, nil })
	r.RegisterTTS("fake-tts", func(config.ProviderEntry) (tts.Provider, error) { return nil, nil })
	r.RegisterS2S("fake-s2s", func(config.ProviderEntry) (s2s.Provider, error) { return nil, nil })

	if _, err := r.CreateSTT(config.ProviderEntry{Name: "fake-stt"}); err != nil {
		t.Errorf("CreateSTT: %v", err)
	}
	if _, err := r.CreateTTS(config.ProviderEntry{Name: "fake-tts"}); err != nil {
		t.Errorf("CreateTTS: %v", err)
	}
	if _, err := r.CreateS2S(config.ProviderEntry{Name: "fake-s2s"}); err != nil {
		t.Errorf("CreateS2S: %v", err)
	}
}

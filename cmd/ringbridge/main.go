// Command ringbridge is the main entry point for the telephony media-bridge
// service.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ringbridge/telephony/internal/bridge"
	"github.com/ringbridge/telephony/internal/config"
	"github.com/ringbridge/telephony/internal/health"
	"github.com/ringbridge/telephony/internal/journal"
	journalpg "github.com/ringbridge/telephony/internal/journal/postgres"
	"github.com/ringbridge/telephony/internal/observe"
	"github.com/ringbridge/telephony/internal/pipeline"
	"github.com/ringbridge/telephony/internal/pipeline/cascade"
	"github.com/ringbridge/telephony/internal/pipeline/realtime"
	"github.com/ringbridge/telephony/internal/telephony"
	"github.com/ringbridge/telephony/internal/telephony/plivo"
	"github.com/ringbridge/telephony/internal/telephony/tata"
	"github.com/ringbridge/telephony/internal/webhook"
	"github.com/ringbridge/telephony/pkg/provider/llm"
	"github.com/ringbridge/telephony/pkg/provider/llm/anyllm"
	"github.com/ringbridge/telephony/pkg/provider/llm/openai"
	"github.com/ringbridge/telephony/pkg/provider/s2s"
	s2sgemini "github.com/ringbridge/telephony/pkg/provider/s2s/gemini"
	s2sopenai "github.com/ringbridge/telephony/pkg/provider/s2s/openai"
	"github.com/ringbridge/telephony/pkg/provider/stt"
	"github.com/ringbridge/telephony/pkg/provider/stt/deepgram"
	"github.com/ringbridge/telephony/pkg/provider/stt/whisper"
	"github.com/ringbridge/telephony/pkg/provider/tts"
	"github.com/ringbridge/telephony/pkg/provider/tts/coqui"
	"github.com/ringbridge/telephony/pkg/provider/tts/elevenlabs"
)

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "ringbridge: config file %q not found — copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "ringbridge: %v\n", err)
		}
		return 1
	}

	logger := newLogger(cfg.Server.LogLevel)
	slog.SetDefault(logger)
	slog.Info("ringbridge starting", "config", *configPath, "listen_addr", cfg.Server.ListenAddr)

	otelShutdown, err := observe.InitProvider(context.Background(), observe.ProviderConfig{ServiceName: "ringbridge"})
	if err != nil {
		slog.Error("failed to init observability provider", "error", err)
		return 1
	}
	metrics := observe.DefaultMetrics()

	reg := config.NewRegistry()
	registerBuiltinProviders(reg)

	factory, err := buildPipelineFactory(cfg, reg)
	if err != nil {
		slog.Error("failed to build pipeline factory", "error", err)
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	jrnl, closeJournal, err := buildJournal(ctx, cfg)
	if err != nil {
		slog.Error("failed to build call journal", "error", err)
		return 1
	}

	resolver := staticAgentResolver(cfg)
	manager := bridge.NewManager(factory, resolver, jrnl)

	adapters, err := buildAdapters(ctx, cfg, manager)
	if err != nil {
		slog.Error("failed to build telephony adapters", "error", err)
		return 1
	}

	mux := http.NewServeMux()
	healthHandler := health.New(buildHealthCheckers(cfg, adapters, jrnl)...)
	healthHandler.Register(mux)
	webhook.New(adapters).Register(mux)

	srv := &http.Server{
		Addr:    cfg.Server.ListenAddr,
		Handler: observe.Middleware(metrics)(mux),
	}

	go func() {
		slog.Info("http server listening", "addr", cfg.Server.ListenAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("http server error", "error", err)
		}
	}()

	<-ctx.Done()
	slog.Info("shutdown signal received, stopping…")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	manager.Shutdown(shutdownCtx)
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("http server shutdown error", "error", err)
	}
	if closeJournal != nil {
		closeJournal()
	}
	if err := otelShutdown(shutdownCtx); err != nil {
		slog.Error("observability shutdown error", "error", err)
	}

	slog.Info("goodbye")
	return 0
}

// registerBuiltinProviders wires every provider package this repo ships into
// the config registry.
func registerBuiltinProviders(reg *config.Registry) {
	reg.RegisterLLM("openai", func(e config.ProviderEntry) (llm.Provider, error) {
		return openai.New(e.APIKey, e.Model)
	})
	reg.RegisterLLM("anyllm", func(e config.ProviderEntry) (llm.Provider, error) {
		return anyllm.NewOpenAI(e.Model)
	})

	reg.RegisterSTT("deepgram", func(e config.ProviderEntry) (stt.Provider, error) {
		return deepgram.New(e.APIKey)
	})
	reg.RegisterSTT("whisper", func(e config.ProviderEntry) (stt.Provider, error) {
		return whisper.New(e.BaseURL)
	})

	reg.RegisterTTS("elevenlabs", func(e config.ProviderEntry) (tts.Provider, error) {
		return elevenlabs.New(e.APIKey)
	})
	reg.RegisterTTS("coqui", func(e config.ProviderEntry) (tts.Provider, error) {
		return coqui.New(e.BaseURL)
	})

	reg.RegisterS2S("openai-realtime", func(e config.ProviderEntry) (s2s.Provider, error) {
		return s2sopenai.New(e.APIKey), nil
	})
	reg.RegisterS2S("gemini-live", func(e config.ProviderEntry) (s2s.Provider, error) {
		return s2sgemini.New(e.APIKey), nil
	})
}

// buildPipelineFactory selects the realtime S2S factory when configured,
// otherwise the default STT/LLM/TTS cascade.
func buildPipelineFactory(cfg *config.Config, reg *config.Registry) (pipeline.Factory, error) {
	if cfg.Providers.S2S.Name != "" {
		p, err := reg.CreateS2S(cfg.Providers.S2S)
		if err != nil {
			return nil, fmt.Errorf("create s2s provider: %w", err)
		}
		return &realtime.Factory{Provider: p}, nil
	}

	fastLLM, err := reg.CreateLLM(cfg.Providers.LLM)
	if err != nil {
		return nil, fmt.Errorf("create llm provider: %w", err)
	}
	strongLLM := fastLLM
	if cfg.Providers.LLMStrong.Name != "" {
		strongLLM, err = reg.CreateLLM(cfg.Providers.LLMStrong)
		if err != nil {
			return nil, fmt.Errorf("create strong llm provider: %w", err)
		}
	}
	sttProvider, err := reg.CreateSTT(cfg.Providers.STT)
	if err != nil {
		return nil, fmt.Errorf("create stt provider: %w", err)
	}
	ttsProvider, err := reg.CreateTTS(cfg.Providers.TTS)
	if err != nil {
		return nil, fmt.Errorf("create tts provider: %w", err)
	}

	return &cascade.Factory{
		FastLLM:   fastLLM,
		StrongLLM: strongLLM,
		STT:       sttProvider,
		TTS:       ttsProvider,
	}, nil
}

// buildJournal constructs the durable call journal, or journal.Noop when
// journal.postgres_dsn is unset. The returned close func is nil in the noop
// case.
func buildJournal(ctx context.Context, cfg *config.Config) (journal.Journal, func(), error) {
	if cfg.Journal.PostgresDSN == "" {
		return journal.Noop{}, nil, nil
	}
	store, err := journalpg.New(ctx, cfg.Journal.PostgresDSN)
	if err != nil {
		return nil, nil, fmt.Errorf("connect call journal: %w", err)
	}
	return store, store.Close, nil
}

// buildAdapters constructs the configured telephony adapters, initializes
// each with manager as its event sink, and registers them with manager.
func buildAdapters(ctx context.Context, cfg *config.Config, manager *bridge.Manager) (map[string]telephony.Adapter, error) {
	adapters := make(map[string]telephony.Adapter)

	if cfg.Providers.Plivo.WebhookBaseURL != "" {
		a := plivo.New(plivo.Config{
			AuthID:         cfg.Providers.Plivo.AuthID,
			AuthToken:      cfg.Providers.Plivo.AuthToken,
			WebhookBaseURL: cfg.Providers.Plivo.WebhookBaseURL,
		})
		if err := a.Init(ctx, manager); err != nil {
			return nil, fmt.Errorf("init plivo adapter: %w", err)
		}
		manager.RegisterAdapter(a)
		adapters[a.Name()] = a
	}

	if cfg.Providers.Tata.WebhookBaseURL != "" {
		a := tata.New(tata.Config{WebhookBaseURL: cfg.Providers.Tata.WebhookBaseURL})
		if err := a.Init(ctx, manager); err != nil {
			return nil, fmt.Errorf("init tata adapter: %w", err)
		}
		manager.RegisterAdapter(a)
		adapters[a.Name()] = a
	}

	return adapters, nil
}

// pinger is implemented by journal backends that hold a live connection
// worth probing (journalpg.Store). journal.Noop does not implement it, so it
// contributes no readiness checker.
type pinger interface {
	Ping(ctx context.Context) error
}

// buildHealthCheckers returns one readiness checker per configured adapter
// plus one for the journal, when it exposes a Ping method.
func buildHealthCheckers(cfg *config.Config, adapters map[string]telephony.Adapter, jrnl journal.Journal) []health.Checker {
	checkers := make([]health.Checker, 0, len(adapters)+1)
	for name, a := range adapters {
		a := a
		checkers = append(checkers, health.Checker{
			Name: "adapter:" + name,
			Check: func(ctx context.Context) error {
				_ = a.GetAllSessions() // a live adapter always answers
				return nil
			},
		})
	}
	if p, ok := jrnl.(pinger); ok {
		checkers = append(checkers, health.Checker{Name: "journal", Check: p.Ping})
	}
	return checkers
}

// staticAgentResolver returns an AgentResolver that always resolves to the
// single system prompt configured for this instance. Per-number agent
// directory lookup is out of scope (spec.md §4.4: "out of scope here beyond
// the contract").
func staticAgentResolver(cfg *config.Config) bridge.AgentResolver {
	return func(to string) (pipeline.Config, bool) {
		return pipeline.Config{SystemPrompt: cfg.SystemPrompt}, true
	}
}

func newLogger(level config.LogLevel) *slog.Logger {
	var lvl slog.Level
	switch level {
	case config.LogLevelDebug:
		lvl = slog.LevelDebug
	case config.LogLevelWarn:
		lvl = slog.LevelWarn
	case config.LogLevelError:
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}

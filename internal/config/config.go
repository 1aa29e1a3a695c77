// Package config provides the configuration schema, loader, and provider
// registry for the ringbridge telephony bridge.
package config

// Config is the root configuration structure for ringbridge. It is typically
// loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Providers ProvidersConfig `yaml:"providers"`

	// SystemPrompt seeds every call's pipeline with its persona and
	// behavioural constraints.
	SystemPrompt string `yaml:"system_prompt"`

	// Journal configures the optional durable call-record store.
	Journal JournalConfig `yaml:"journal"`
}

// ServerConfig holds network and logging settings for the bridge process.
type ServerConfig struct {
	// ListenAddr is the TCP address the HTTP server (webhooks, health)
	// listens on, e.g. ":8080".
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity. Valid values: "debug", "info", "warn", "error".
	LogLevel LogLevel `yaml:"log_level"`
}

// LogLevel is a validated slog level name.
type LogLevel string

// Recognised LogLevel values.
const (
	LogLevelDebug LogLevel = "debug"
	LogLevelInfo  LogLevel = "info"
	LogLevelWarn  LogLevel = "warn"
	LogLevelError LogLevel = "error"
)

// IsValid reports whether l is one of the recognised log levels.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogLevelDebug, LogLevelInfo, LogLevelWarn, LogLevelError:
		return true
	default:
		return false
	}
}

// ProvidersConfig declares the telephony adapters and voice-pipeline
// providers this instance uses. STT, LLM, and TTS configure the default
// cascade pipeline (see internal/pipeline/cascade); S2S, when set, is used
// for calls instead of the cascade (see internal/pipeline/realtime).
type ProvidersConfig struct {
	Plivo PlivoConfig `yaml:"plivo"`
	Tata  TataConfig  `yaml:"tata"`

	STT ProviderEntry `yaml:"stt"`
	LLM ProviderEntry `yaml:"llm"`

	// LLMStrong optionally names a second, stronger LLM provider used for the
	// continuation stage of the sentence cascade. When its Name is empty,
	// LLM is used for both stages.
	LLMStrong ProviderEntry `yaml:"llm_strong"`

	TTS ProviderEntry `yaml:"tts"`
	S2S ProviderEntry `yaml:"s2s"`
}

// PlivoConfig configures the PlivoLike adapter.
type PlivoConfig struct {
	// WebhookBaseURL is the publicly reachable base URL this process is
	// deployed at, used to construct the answer webhook and media stream
	// WebSocket URL returned to the carrier.
	WebhookBaseURL string `yaml:"webhook_base_url"`

	// AuthID and AuthToken authenticate outbound REST calls (call origination).
	AuthID    string `yaml:"auth_id"`
	AuthToken string `yaml:"auth_token"`
}

// TataConfig configures the TataLike adapter.
type TataConfig struct {
	// WebhookBaseURL is the publicly reachable base URL this process is
	// deployed at. It is passed to the TataLike adapter, which builds no
	// URLs from it (TataLike has no answer document).
	WebhookBaseURL string `yaml:"webhook_base_url"`

	// APIKey is read from the config file but is not passed to the TataLike
	// adapter, which makes no outbound REST calls.
	APIKey string `yaml:"api_key"`
}

// ProviderEntry is the common configuration block shared by all voice
// pipeline provider types. The Name field is used to look up the
// constructor in the [Registry].
type ProviderEntry struct {
	// Name selects the registered provider implementation (e.g., "openai",
	// "deepgram"). An empty Name means the provider is not configured.
	Name string `yaml:"name"`

	// APIKey is the authentication key for the provider's API.
	APIKey string `yaml:"api_key"`

	// BaseURL overrides the provider's default API endpoint. Leave empty to
	// use the provider's built-in default.
	BaseURL string `yaml:"base_url"`

	// Model selects a specific model within the provider (e.g., "gpt-4o", "nova-2").
	Model string `yaml:"model"`

	// Options holds provider-specific configuration values not covered by
	// the standard fields above. Values may be strings, numbers, booleans,
	// or nested maps.
	Options map[string]any `yaml:"options"`
}

// JournalConfig configures the optional durable call-record journal (§6.5).
// Leaving PostgresDSN empty disables the journal; calls still proceed
// normally, they simply are not recorded.
type JournalConfig struct {
	PostgresDSN string `yaml:"postgres_dsn"`
}

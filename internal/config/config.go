package config

import (
	"fmt"
	"strings"
	"time"
)

type Config struct {
	Server        ServerConfig
	Storage       StorageConfig
	Prompts       PromptsConfig
	Generation    GenerationConfig
	Gemini        GeminiConfig
	Proxy         ProxyConfig
	Images        ImagesConfig
	Transcription TranscriptionConfig
	Log           LogConfig
}

type ServerConfig struct {
	Port           int
	MaxConnections int
	MCPEnabled     bool
}

type StorageConfig struct {
	DataDir string
}

type PromptsConfig struct {
	// Dir overrides the embedded static documents when non-empty.
	Dir      string
	CacheTTL string
}

// Text generation backends.
const (
	BackendGemini     = "gemini"
	BackendOpenRouter = "openrouter"
)

type GenerationConfig struct {
	Backend       string
	MaxConcurrent int
}

type GeminiConfig struct {
	APIKey    string
	TextModel string
}

type ProxyConfig struct {
	OpenRouterAPIKey string
	DefaultModel     string
}

type ImagesConfig struct {
	FalAPIKey string
	Model     string
}

type TranscriptionConfig struct {
	OpenAIAPIKey string
	Model        string
}

type LogConfig struct {
	Level string
	File  string
}

func defaults() Config {
	return Config{
		Server: ServerConfig{
			Port:           4100,
			MaxConnections: 64,
		},
		Storage: StorageConfig{
			DataDir: defaultDataDir(),
		},
		Prompts: PromptsConfig{
			CacheTTL: "1h",
		},
		Generation: GenerationConfig{
			Backend:       BackendGemini,
			MaxConcurrent: 4,
		},
		Gemini: GeminiConfig{
			TextModel: "gemini-2.5-pro",
		},
		Proxy: ProxyConfig{
			DefaultModel: "google/gemini-2.5-pro",
		},
		Images: ImagesConfig{
			Model: "fal-ai/flux/schnell",
		},
		Transcription: TranscriptionConfig{
			Model: "whisper-1",
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load reads configuration from the platform-native backend, environment
// variables, and platform secret store.
//
// On macOS the backend is UserDefaults (domain: com.voicepad.app) and secrets
// fall back to macOS Keychain.
// Elsewhere the backend is a TOML file at $XDG_CONFIG_HOME/voicepad/config.toml
// and secrets fall back to $XDG_DATA_HOME/voicepad/secrets.json.
//
// Environment variables (VOICEPAD_*) override backend values on all platforms.
func Load() (Config, error) {
	return loadWith(newPlatformBackend(), NewKeychain())
}

// keychain abstracts secret store reads for testing.
type keychain interface {
	Get(service, account string) (string, error)
}

// loadFromPath loads configuration from the TOML file at path.
func loadFromPath(path string, kc keychain) (Config, error) {
	return loadWith(newFileBackend(path), kc)
}

func loadWith(b ConfigBackend, kc keychain) (Config, error) {
	cfg := defaults()

	if err := applyBackend(&cfg, b); err != nil {
		return Config{}, err
	}

	applyEnvOverrides(&cfg)

	// Secrets still empty after env are looked up in the secret store.
	for _, s := range specs {
		if !s.secret || s.extract(cfg).(string) != "" {
			continue
		}
		if v, err := kc.Get(secretService, s.account); err == nil && v != "" {
			s.apply(&cfg, v)
		}
	}

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	switch c.Generation.Backend {
	case BackendGemini, BackendOpenRouter:
	default:
		return fmt.Errorf("invalid generation.backend %q: want %q or %q", c.Generation.Backend, BackendGemini, BackendOpenRouter)
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server.port %d", c.Server.Port)
	}
	if _, err := c.PromptCacheTTL(); err != nil {
		return err
	}
	return nil
}

// PromptCacheTTL parses prompts.cache_ttl.
func (c Config) PromptCacheTTL() (time.Duration, error) {
	d, err := time.ParseDuration(c.Prompts.CacheTTL)
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("invalid prompts.cache_ttl %q", c.Prompts.CacheTTL)
	}
	return d, nil
}

// RequireGeneration reports a missing API key for the selected text
// generation backend.
func (c Config) RequireGeneration() error {
	var spec keySpec
	switch c.Generation.Backend {
	case BackendOpenRouter:
		if c.Proxy.OpenRouterAPIKey != "" {
			return nil
		}
		spec = specByKey("proxy.openrouter_api_key")
	default:
		if c.Gemini.APIKey != "" {
			return nil
		}
		spec = specByKey("gemini.api_key")
	}
	return fmt.Errorf("missing required config: %s API key. Set it via environment variable %s%s",
		c.Generation.Backend, spec.env, apiKeyHint(spec.account))
}

// keychainReader reads from the platform secret store.
type keychainReader struct{}

func (keychainReader) Get(service, account string) (string, error) {
	out, err := keychainGet(service, account)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(out)), nil
}

func (keychainReader) Set(service, account, value string) error {
	return keychainSet(service, account, value)
}

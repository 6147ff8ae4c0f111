package config

import (
	"fmt"
	"os"
	"strconv"
)

type keyType int

const (
	kString keyType = iota
	kInt
	kBool
)

type keySpec struct {
	key     string
	typ     keyType
	env     string
	secret  bool
	// account names the secret in the secret store.
	account string
	apply   func(cfg *Config, v any)
	extract func(cfg Config) any
}

var specs = []keySpec{
	{
		key: "server.port", typ: kInt, env: "VOICEPAD_SERVER_PORT",
		apply:   func(cfg *Config, v any) { cfg.Server.Port = v.(int) },
		extract: func(cfg Config) any { return cfg.Server.Port },
	},
	{
		key: "server.max_connections", typ: kInt, env: "VOICEPAD_SERVER_MAX_CONNECTIONS",
		apply:   func(cfg *Config, v any) { cfg.Server.MaxConnections = v.(int) },
		extract: func(cfg Config) any { return cfg.Server.MaxConnections },
	},
	{
		key: "server.mcp_enabled", typ: kBool, env: "VOICEPAD_SERVER_MCP_ENABLED",
		apply:   func(cfg *Config, v any) { cfg.Server.MCPEnabled = v.(bool) },
		extract: func(cfg Config) any { return cfg.Server.MCPEnabled },
	},
	{
		key: "storage.data_dir", typ: kString, env: "VOICEPAD_STORAGE_DATA_DIR",
		apply:   func(cfg *Config, v any) { cfg.Storage.DataDir = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.DataDir },
	},
	{
		key: "prompts.dir", typ: kString, env: "VOICEPAD_PROMPTS_DIR",
		apply:   func(cfg *Config, v any) { cfg.Prompts.Dir = v.(string) },
		extract: func(cfg Config) any { return cfg.Prompts.Dir },
	},
	{
		key: "prompts.cache_ttl", typ: kString, env: "VOICEPAD_PROMPTS_CACHE_TTL",
		apply:   func(cfg *Config, v any) { cfg.Prompts.CacheTTL = v.(string) },
		extract: func(cfg Config) any { return cfg.Prompts.CacheTTL },
	},
	{
		key: "generation.backend", typ: kString, env: "VOICEPAD_GENERATION_BACKEND",
		apply:   func(cfg *Config, v any) { cfg.Generation.Backend = v.(string) },
		extract: func(cfg Config) any { return cfg.Generation.Backend },
	},
	{
		key: "generation.max_concurrent", typ: kInt, env: "VOICEPAD_GENERATION_MAX_CONCURRENT",
		apply:   func(cfg *Config, v any) { cfg.Generation.MaxConcurrent = v.(int) },
		extract: func(cfg Config) any { return cfg.Generation.MaxConcurrent },
	},
	{
		key: "gemini.api_key", typ: kString, env: "VOICEPAD_GEMINI_API_KEY",
		secret: true, account: "gemini_api_key",
		apply:   func(cfg *Config, v any) { cfg.Gemini.APIKey = v.(string) },
		extract: func(cfg Config) any { return cfg.Gemini.APIKey },
	},
	{
		key: "gemini.text_model", typ: kString, env: "VOICEPAD_GEMINI_TEXT_MODEL",
		apply:   func(cfg *Config, v any) { cfg.Gemini.TextModel = v.(string) },
		extract: func(cfg Config) any { return cfg.Gemini.TextModel },
	},
	{
		key: "proxy.openrouter_api_key", typ: kString, env: "VOICEPAD_OPENROUTER_API_KEY",
		secret: true, account: "openrouter_api_key",
		apply:   func(cfg *Config, v any) { cfg.Proxy.OpenRouterAPIKey = v.(string) },
		extract: func(cfg Config) any { return cfg.Proxy.OpenRouterAPIKey },
	},
	{
		key: "proxy.default_model", typ: kString, env: "VOICEPAD_PROXY_DEFAULT_MODEL",
		apply:   func(cfg *Config, v any) { cfg.Proxy.DefaultModel = v.(string) },
		extract: func(cfg Config) any { return cfg.Proxy.DefaultModel },
	},
	{
		key: "images.fal_api_key", typ: kString, env: "VOICEPAD_FAL_API_KEY",
		secret: true, account: "fal_api_key",
		apply:   func(cfg *Config, v any) { cfg.Images.FalAPIKey = v.(string) },
		extract: func(cfg Config) any { return cfg.Images.FalAPIKey },
	},
	{
		key: "images.model", typ: kString, env: "VOICEPAD_IMAGES_MODEL",
		apply:   func(cfg *Config, v any) { cfg.Images.Model = v.(string) },
		extract: func(cfg Config) any { return cfg.Images.Model },
	},
	{
		key: "transcription.openai_api_key", typ: kString, env: "VOICEPAD_OPENAI_API_KEY",
		secret: true, account: "openai_api_key",
		apply:   func(cfg *Config, v any) { cfg.Transcription.OpenAIAPIKey = v.(string) },
		extract: func(cfg Config) any { return cfg.Transcription.OpenAIAPIKey },
	},
	{
		key: "transcription.model", typ: kString, env: "VOICEPAD_TRANSCRIPTION_MODEL",
		apply:   func(cfg *Config, v any) { cfg.Transcription.Model = v.(string) },
		extract: func(cfg Config) any { return cfg.Transcription.Model },
	},
	{
		key: "log.level", typ: kString, env: "VOICEPAD_LOG_LEVEL",
		apply:   func(cfg *Config, v any) { cfg.Log.Level = v.(string) },
		extract: func(cfg Config) any { return cfg.Log.Level },
	},
	{
		key: "log.file", typ: kString, env: "VOICEPAD_LOG_FILE",
		apply:   func(cfg *Config, v any) { cfg.Log.File = v.(string) },
		extract: func(cfg Config) any { return cfg.Log.File },
	},
}

func (t keyType) String() string {
	switch t {
	case kInt:
		return "integer"
	case kBool:
		return "bool"
	}
	return "string"
}

// parse converts a raw string from the environment or the command line.
func (t keyType) parse(raw string) (any, error) {
	switch t {
	case kInt:
		i, err := strconv.Atoi(raw)
		return i, err
	case kBool:
		b, err := strconv.ParseBool(raw)
		return b, err
	}
	return raw, nil
}

func specByKey(key string) keySpec {
	s, _ := lookupSpec(key)
	return s
}

func lookupSpec(key string) (keySpec, bool) {
	for _, s := range specs {
		if s.key == key {
			return s, true
		}
	}
	return keySpec{key: key}, false
}

func (s keySpec) read(b ConfigBackend) (any, bool, error) {
	switch s.typ {
	case kInt:
		v, ok, err := b.GetInt(s.key)
		return v, ok, err
	case kBool:
		v, ok, err := b.GetBool(s.key)
		return v, ok, err
	}
	v, ok, err := b.GetString(s.key)
	return v, ok, err
}

func (s keySpec) write(b ConfigBackend, v any) error {
	switch s.typ {
	case kInt:
		return b.SetInt(s.key, v.(int))
	case kBool:
		return b.SetBool(s.key, v.(bool))
	}
	return b.SetString(s.key, v.(string))
}

func applyBackend(cfg *Config, b ConfigBackend) error {
	for _, s := range specs {
		if s.secret {
			continue
		}
		v, ok, err := s.read(b)
		if err != nil {
			return fmt.Errorf("reading %s: %w", s.key, err)
		}
		if ok {
			s.apply(cfg, v)
		}
	}
	return nil
}

// applyEnvOverrides applies VOICEPAD_* variables. Unparseable values keep
// the current setting and print a warning.
func applyEnvOverrides(cfg *Config) {
	for _, s := range specs {
		raw := os.Getenv(s.env)
		if s.env == "" || raw == "" {
			continue
		}
		v, err := s.typ.parse(raw)
		if err != nil {
			fmt.Fprintf(os.Stderr, "[WARN] ignoring %s=%q: not a valid %s\n", s.env, raw, s.typ)
			continue
		}
		s.apply(cfg, v)
	}
}

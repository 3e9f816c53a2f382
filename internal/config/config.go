package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

// Config is the root configuration for Glass.
type Config struct {
	General    GeneralConfig    `json:"general"`
	Provider   ProviderConfig   `json:"provider"`
	Generation GenerationConfig `json:"generation"`
	Transcribe TranscribeConfig `json:"transcribe"`
	Overlay    OverlayConfig    `json:"overlay"`
}

type GeneralConfig struct {
	LogLevel       string `json:"logLevel"`
	DBPath         string `json:"dbPath"`
	PresetsDir     string `json:"presetsDir,omitempty"`
	SelectedPreset string `json:"selectedPreset,omitempty"`
}

// ProviderConfig selects the model and how requests reach it. Routing is
// "direct" (provider API with the user's key) or "relay" (virtual-key proxy).
type ProviderConfig struct {
	Name       string `json:"name"`
	APIBase    string `json:"apiBase,omitempty"`
	APIKey     string `json:"apiKey,omitempty"`
	Model      string `json:"model"`
	Routing    string `json:"routing"`
	RelayBase  string `json:"relayBase,omitempty"`
	VirtualKey string `json:"virtualKey,omitempty"`
}

type GenerationConfig struct {
	MaxTokens       int     `json:"maxTokens,omitempty"`
	Temperature     float64 `json:"temperature,omitempty"`
	ReasoningEffort string  `json:"reasoningEffort,omitempty"`
}

type TranscribeConfig struct {
	Enabled          bool   `json:"enabled"`
	APIBase          string `json:"apiBase,omitempty"`
	Model            string `json:"model,omitempty"`
	Language         string `json:"language,omitempty"`
	Prompt           string `json:"prompt,omitempty"`
	HeartbeatSeconds int    `json:"heartbeatSeconds,omitempty"`
}

type OverlayConfig struct {
	Port int    `json:"port"`
	Path string `json:"path,omitempty"`
}

// DefaultConfigDir returns the default config directory (~/.glass).
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".glass"
	}
	return filepath.Join(home, ".glass")
}

func DefaultConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "config.json")
}

func Load(path string) (*Config, error) {
	path = ExpandPath(path)

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read config file %s: %w", path, err)
	}

	// Substitute environment variables: ${VAR} and ${VAR:-default}
	data = []byte(ExpandEnvVars(string(data)))

	cfg := Defaults()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("cannot parse config file %s: %w", path, err)
	}

	cfg.General.DBPath = ExpandPath(cfg.General.DBPath)
	cfg.General.PresetsDir = ExpandPath(cfg.General.PresetsDir)

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return cfg, nil
}

// envVarPattern matches ${VAR} and ${VAR:-default} patterns in config strings.
var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::-(.*?))?\}`)

// ExpandEnvVars replaces ${VAR} with the environment variable value.
// Supports default values: ${VAR:-default} uses "default" when VAR is unset
// or empty.
func ExpandEnvVars(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		groups := envVarPattern.FindStringSubmatch(match)
		if len(groups) < 2 {
			return match
		}
		varName := groups[1]
		defaultVal := ""
		hasDefault := len(groups) >= 3 && groups[2] != ""
		if hasDefault {
			defaultVal = groups[2]
		}

		val, exists := os.LookupEnv(varName)
		if !exists || val == "" {
			if hasDefault {
				return defaultVal
			}
			return match
		}
		return val
	})
}

func Save(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("cannot create config directory: %w", err)
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("cannot marshal config: %w", err)
	}

	return os.WriteFile(path, data, 0o644)
}

// Validate checks that the config has valid values.
func Validate(cfg *Config) error {
	var errs []string

	switch cfg.Provider.Routing {
	case "direct", "relay":
		// valid
	default:
		errs = append(errs, "provider.routing must be one of: direct, relay")
	}
	if cfg.Provider.Routing == "relay" && cfg.Provider.RelayBase == "" {
		errs = append(errs, "provider.relayBase is required for relay routing")
	}
	if cfg.Provider.Model == "" {
		errs = append(errs, "provider.model is required")
	}

	if cfg.Generation.MaxTokens < 0 {
		errs = append(errs, "generation.maxTokens must be >= 0")
	}
	if cfg.Generation.Temperature < 0 || cfg.Generation.Temperature > 2 {
		errs = append(errs, "generation.temperature must be between 0 and 2")
	}

	if cfg.Overlay.Port < 0 || cfg.Overlay.Port > 65535 {
		errs = append(errs, "overlay.port must be between 0 and 65535")
	}
	if cfg.Transcribe.HeartbeatSeconds < 0 {
		errs = append(errs, "transcribe.heartbeatSeconds must be >= 0")
	}

	switch strings.ToLower(cfg.General.LogLevel) {
	case "", "debug", "info", "warn", "error":
		// valid
	default:
		errs = append(errs, "general.logLevel must be one of: debug, info, warn, error")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// ExpandPath resolves ~/ to the user's home directory.
func ExpandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[2:])
	}
	return path
}

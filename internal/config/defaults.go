package config

import "path/filepath"

// Defaults returns a config pre-filled with sensible defaults. Load layers
// the file contents on top.
func Defaults() *Config {
	return &Config{
		General: GeneralConfig{
			LogLevel:   "info",
			DBPath:     filepath.Join(DefaultConfigDir(), "glass.db"),
			PresetsDir: filepath.Join(DefaultConfigDir(), "presets"),
		},
		Provider: ProviderConfig{
			Name:    "openai",
			APIBase: "https://api.openai.com/v1",
			Model:   "gpt-4.1",
			Routing: "direct",
		},
		Generation: GenerationConfig{
			Temperature:     0.7,
			ReasoningEffort: "medium",
		},
		Transcribe: TranscribeConfig{
			Enabled:          true,
			APIBase:          "wss://api.openai.com/v1",
			Model:            "gpt-4o-mini-transcribe",
			Language:         "en",
			HeartbeatSeconds: 15,
		},
		Overlay: OverlayConfig{
			Port: 8765,
			Path: "/overlay",
		},
	}
}

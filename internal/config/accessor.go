package config

import (
	"errors"
	"strings"

	"github.com/AxoRm/glass/internal/domain"
	"github.com/AxoRm/glass/internal/preset"
)

var ErrNoModelConfigured = errors.New("no model or credentials configured")

// allowedEfforts mirrors the values the payload layer accepts. The settings
// layer silently maps anything else to "medium"; the payload layer instead
// drops the fragment for values it cannot normalize.
var allowedEfforts = map[string]bool{
	"none": true, "low": true, "medium": true, "high": true, "xhigh": true,
}

// Resolver implements domain.ModelResolver on top of the loaded config and
// the preset store.
type Resolver struct {
	cfg     *Config
	presets *preset.Store
}

func NewResolver(cfg *Config, presets *preset.Store) *Resolver {
	return &Resolver{cfg: cfg, presets: presets}
}

func (r *Resolver) CurrentModelInfo(kind string) (domain.ModelInfo, error) {
	p := r.cfg.Provider
	info := domain.ModelInfo{
		Provider: p.Name,
		Model:    p.Model,
		APIKey:   p.APIKey,
		APIBase:  p.APIBase,
		Routing:  domain.RoutingDirect,
	}
	if p.Routing == "relay" {
		info.Routing = domain.RoutingRelay
		info.APIKey = p.VirtualKey
		info.APIBase = p.RelayBase
	}
	if info.Model == "" || info.APIKey == "" {
		return domain.ModelInfo{}, ErrNoModelConfigured
	}
	return info, nil
}

func (r *Resolver) Settings() domain.Settings {
	return domain.Settings{
		MaxTokens:   r.cfg.Generation.MaxTokens,
		Temperature: r.cfg.Generation.Temperature,
	}
}

// ReasoningEffort returns the configured effort when it is a recognized
// value, falling back to "medium" otherwise.
func (r *Resolver) ReasoningEffort() string {
	v := strings.ToLower(strings.TrimSpace(r.cfg.Generation.ReasoningEffort))
	if allowedEfforts[v] {
		return v
	}
	return "medium"
}

func (r *Resolver) SelectedPresetPrompt() string {
	if r.presets == nil || r.cfg.General.SelectedPreset == "" {
		return ""
	}
	return r.presets.Prompt(r.cfg.General.SelectedPreset)
}

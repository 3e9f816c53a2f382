// Package preset loads prompt presets from YAML files. A preset is a named
// prompt template the user can select to steer answers.
package preset

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

// Preset is one named prompt template.
type Preset struct {
	Name   string `yaml:"name"`
	Prompt string `yaml:"prompt"`
}

// Store holds loaded presets keyed by name.
type Store struct {
	mu      sync.RWMutex
	presets map[string]Preset
}

func NewStore() *Store {
	return &Store{presets: make(map[string]Preset)}
}

// LoadFromDirectory loads preset definitions from .yaml/.yml files in dir.
// Missing directory is not an error; malformed files are skipped with a
// warning.
func (s *Store) LoadFromDirectory(dir string, logger *slog.Logger) error {
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		logger.Debug("presets directory does not exist, skipping", "dir", dir)
		return nil
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("read presets dir: %w", err)
	}

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if !strings.HasSuffix(name, ".yaml") && !strings.HasSuffix(name, ".yml") {
			continue
		}

		path := filepath.Join(dir, name)
		data, err := os.ReadFile(path)
		if err != nil {
			logger.Warn("cannot read preset file", "path", path, "err", err)
			continue
		}

		var p Preset
		if err := yaml.Unmarshal(data, &p); err != nil {
			logger.Warn("cannot parse preset file", "path", path, "err", err)
			continue
		}
		if p.Prompt == "" {
			logger.Warn("preset has no prompt, skipping", "path", path)
			continue
		}
		if p.Name == "" {
			p.Name = strings.TrimSuffix(name, filepath.Ext(name))
		}

		s.mu.Lock()
		s.presets[p.Name] = p
		s.mu.Unlock()
		logger.Info("loaded preset", "name", p.Name, "path", path)
	}

	return nil
}

// Prompt returns the prompt text for a preset name, or "" when unknown.
func (s *Store) Prompt(name string) string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.presets[name].Prompt
}

// Names returns the loaded preset names.
func (s *Store) Names() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, 0, len(s.presets))
	for name := range s.presets {
		names = append(names, name)
	}
	return names
}

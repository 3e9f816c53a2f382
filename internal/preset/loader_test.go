package preset

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"testing"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestLoadFromDirectory(t *testing.T) {
	dir := t.TempDir()
	files := map[string]string{
		"pirate.yaml":   "name: pirate\nprompt: Answer like a pirate.\n",
		"unnamed.yml":   "prompt: Terse answers only.\n",
		"broken.yaml":   "prompt: [unclosed\n",
		"empty.yaml":    "name: empty\n",
		"ignored.txt":   "prompt: not yaml\n",
	}
	for name, content := range files {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
	}

	store := NewStore()
	if err := store.LoadFromDirectory(dir, quietLogger()); err != nil {
		t.Fatalf("LoadFromDirectory: %v", err)
	}

	if got := store.Prompt("pirate"); got != "Answer like a pirate." {
		t.Errorf("pirate prompt = %q", got)
	}
	// Name defaults to the filename without extension.
	if got := store.Prompt("unnamed"); got != "Terse answers only." {
		t.Errorf("unnamed prompt = %q", got)
	}
	if got := store.Prompt("broken"); got != "" {
		t.Errorf("malformed preset loaded: %q", got)
	}
	if got := store.Prompt("empty"); got != "" {
		t.Errorf("promptless preset loaded: %q", got)
	}

	names := store.Names()
	sort.Strings(names)
	if len(names) != 2 || names[0] != "pirate" || names[1] != "unnamed" {
		t.Errorf("Names = %v", names)
	}
}

func TestLoadFromMissingDirectory(t *testing.T) {
	store := NewStore()
	if err := store.LoadFromDirectory(filepath.Join(t.TempDir(), "nope"), quietLogger()); err != nil {
		t.Errorf("missing directory must not be an error, got %v", err)
	}
	if got := store.Prompt("anything"); got != "" {
		t.Errorf("Prompt on empty store = %q", got)
	}
}

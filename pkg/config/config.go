// Package config loads and validates the repository's canonical
// configuration document, spec.md §6: config.json at <repo>/.state/,
// with every field spec.md enumerates (version, default_lane,
// max_blob_size, max_tree_depth, evaluators, embedding_*,
// remote_storage).
//
// JSON is the canonical on-disk format, but this package layers a
// human-edited override on top of it: a sibling config.yaml or
// config.yml next to config.json, if present, is unmarshaled over the
// JSON-loaded defaults using gopkg.in/yaml.v3, letting operators keep
// an override file without touching the canonical document the tool
// itself writes.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/flanes-dev/flanes/pkg/evaluate"
	"github.com/flanes-dev/flanes/pkg/types"
	"gopkg.in/yaml.v3"
)

// CurrentVersion is written into a newly initialized config.json.
const CurrentVersion = "1"

// EmbeddingConfig carries the external semantic-search collaborator's
// settings; Flanes never interprets these beyond passing them through.
type EmbeddingConfig struct {
	Provider string `json:"provider,omitempty" yaml:"provider,omitempty"`
	Endpoint string `json:"endpoint,omitempty" yaml:"endpoint,omitempty"`
	Model    string `json:"model,omitempty" yaml:"model,omitempty"`
	APIKey   string `json:"api_key,omitempty" yaml:"api_key,omitempty"`
}

// Config is the canonical configuration document's in-memory form.
type Config struct {
	Version       string          `json:"version" yaml:"version"`
	DefaultLane   string          `json:"default_lane" yaml:"default_lane"`
	MaxBlobSize   int64           `json:"max_blob_size,omitempty" yaml:"max_blob_size,omitempty"`
	MaxTreeDepth  int             `json:"max_tree_depth,omitempty" yaml:"max_tree_depth,omitempty"`
	Evaluators    []evaluate.Spec `json:"evaluators,omitempty" yaml:"evaluators,omitempty"`
	Embedding     EmbeddingConfig `json:"embedding,omitempty" yaml:"embedding,omitempty"`
	RemoteStorage map[string]any  `json:"remote_storage,omitempty" yaml:"remote_storage,omitempty"`
}

// Default returns the configuration written by `init`: a single
// "main" lane, compile-time CAS limits, no evaluators configured.
func Default() *Config {
	return &Config{
		Version:     CurrentVersion,
		DefaultLane: "main",
	}
}

// Path returns the canonical config.json location under a repo root's
// .state directory.
func Path(repoRoot string) string {
	return filepath.Join(repoRoot, ".state", "config.json")
}

// Load reads config.json from repoRoot's .state directory, then layers
// an optional sibling config.yaml/config.yml on top. Missing
// config.json is not an error: Default is returned so `init` can call
// Load-then-Save idempotently.
func Load(repoRoot string) (*Config, error) {
	cfg := Default()
	body, err := os.ReadFile(Path(repoRoot))
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("config: read config.json: %w", err)
	}
	if err := json.Unmarshal(body, cfg); err != nil {
		return nil, fmt.Errorf("config: parse config.json: %w", err)
	}

	for _, name := range []string{"config.yaml", "config.yml"} {
		overlay := filepath.Join(repoRoot, ".state", name)
		overlayBody, err := os.ReadFile(overlay)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, fmt.Errorf("config: read %s: %w", name, err)
		}
		if err := yaml.Unmarshal(overlayBody, cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", name, err)
		}
		break
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes c as the canonical config.json, creating .state if
// needed.
func (c *Config) Save(repoRoot string) error {
	dir := filepath.Join(repoRoot, ".state")
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("config: create .state: %w", err)
	}
	body, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("config: encode config.json: %w", err)
	}
	return os.WriteFile(Path(repoRoot), body, 0644)
}

// Validate checks the fields this package is responsible for; name
// validity for default_lane is delegated to types.ValidateName so the
// one regex spec.md §6 names lives in one place.
func (c *Config) Validate() error {
	if c.DefaultLane == "" {
		return fmt.Errorf("config: default_lane must not be empty")
	}
	if err := types.ValidateName(c.DefaultLane); err != nil {
		return fmt.Errorf("config: default_lane: %w", err)
	}
	if c.MaxBlobSize < 0 {
		return fmt.Errorf("config: max_blob_size must not be negative")
	}
	if c.MaxTreeDepth < 0 {
		return fmt.Errorf("config: max_tree_depth must not be negative")
	}
	seen := make(map[string]bool, len(c.Evaluators))
	for _, e := range c.Evaluators {
		if e.Name == "" {
			return fmt.Errorf("config: evaluator entry missing name")
		}
		if seen[e.Name] {
			return fmt.Errorf("config: duplicate evaluator name %q", e.Name)
		}
		seen[e.Name] = true
	}
	return nil
}

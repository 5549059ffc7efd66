package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/flanes-dev/flanes/pkg/evaluate"
	"github.com/stretchr/testify/require"
)

func evaluatorSpec(name string) evaluate.Spec {
	return evaluate.Spec{Name: name, Command: []string{"true"}}
}

func TestLoad_MissingFileReturnsDefault(t *testing.T) {
	root := t.TempDir()
	cfg, err := Load(root)
	require.NoError(t, err)
	require.Equal(t, "main", cfg.DefaultLane)
	require.Equal(t, CurrentVersion, cfg.Version)
}

func TestSaveThenLoad_RoundTrips(t *testing.T) {
	root := t.TempDir()
	cfg := Default()
	cfg.DefaultLane = "trunk"
	cfg.MaxBlobSize = 1024
	require.NoError(t, cfg.Save(root))

	loaded, err := Load(root)
	require.NoError(t, err)
	require.Equal(t, "trunk", loaded.DefaultLane)
	require.Equal(t, int64(1024), loaded.MaxBlobSize)
}

func TestLoad_RejectsInvalidDefaultLane(t *testing.T) {
	root := t.TempDir()
	cfg := Default()
	cfg.DefaultLane = "../escape"
	require.NoError(t, cfg.Save(root))

	_, err := Load(root)
	require.Error(t, err)
}

func TestLoad_YamlOverlayWinsOverJSON(t *testing.T) {
	root := t.TempDir()
	cfg := Default()
	cfg.DefaultLane = "main"
	require.NoError(t, cfg.Save(root))

	overlay := "default_lane: staging\n"
	require.NoError(t, os.WriteFile(filepath.Join(root, ".state", "config.yaml"), []byte(overlay), 0644))

	loaded, err := Load(root)
	require.NoError(t, err)
	require.Equal(t, "staging", loaded.DefaultLane)
}

func TestValidate_RejectsDuplicateEvaluatorNames(t *testing.T) {
	cfg := Default()
	cfg.Evaluators = append(cfg.Evaluators,
		evaluatorSpec("lint"),
		evaluatorSpec("lint"),
	)
	err := cfg.Validate()
	require.Error(t, err)
}

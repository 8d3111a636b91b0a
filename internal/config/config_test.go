package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadMissingFileReturnsDefault(t *testing.T) {
	dir := t.TempDir()
	cfg, err := Load(dir)
	require.NoError(t, err)
	require.Equal(t, Default(), cfg)
}

func TestLoadParsesEvaluatorAndLoggingSections(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, ".factgraph"), 0755))
	yaml := `
logging:
  debug_mode: true
  level: debug
evaluator:
  max_depth: 8
  timeout: 5s
`
	require.NoError(t, os.WriteFile(Path(dir), []byte(yaml), 0644))

	cfg, err := Load(dir)
	require.NoError(t, err)
	require.True(t, cfg.Logging.DebugMode)
	require.Equal(t, "debug", cfg.Logging.Level)
	require.Equal(t, 8, cfg.Evaluator.MaxDepth)
}

func TestLoadRejectsMalformedYAML(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, ".factgraph"), 0755))
	require.NoError(t, os.WriteFile(Path(dir), []byte("logging: [this is not a map"), 0644))

	_, err := Load(dir)
	require.Error(t, err)
}

func TestLoadFillsInInvalidEvaluatorValues(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, ".factgraph"), 0755))
	require.NoError(t, os.WriteFile(Path(dir), []byte("evaluator:\n  max_depth: -1\n"), 0644))

	cfg, err := Load(dir)
	require.NoError(t, err)
	require.Equal(t, 64, cfg.Evaluator.MaxDepth)
}

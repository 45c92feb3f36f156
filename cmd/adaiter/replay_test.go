package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/copyleftdev/adaiter/internal/optimization/adaptive"
	"github.com/copyleftdev/adaiter/internal/replay"
)

func init() {
	color.NoColor = true
}

func TestRunReplay(t *testing.T) {
	cfg := adaptive.DefaultConfig()
	cfg.Patience = 1
	cfg.Threshold = 0.1
	cfg.MaxIter = 5

	points := []replay.Point{{Metric: 1}, {Metric: 1}, {Metric: 1}}
	var out bytes.Buffer
	require.NoError(t, runReplay(&out, cfg, points, false))

	text := out.String()
	assert.Contains(t, text, "increasing iterations from   1.0 to   2.0")
	assert.Contains(t, text, "replayed 3 observations, iter_term=2.0 best=1: running")
}

func TestRunReplayStops(t *testing.T) {
	cfg := adaptive.DefaultConfig()
	cfg.Mode = adaptive.Max
	cfg.EarlyStopThreshold = 0.95

	var out bytes.Buffer
	require.NoError(t, runReplay(&out, cfg, []replay.Point{{Metric: 0.96}, {Metric: 0.2}}, true))

	text := out.String()
	assert.Contains(t, text, "validation metric 0.96 reached threshold 0.95")
	assert.Contains(t, text, "replayed 1 observations")
	assert.Contains(t, text, "stopped (threshold)")
	assert.NotContains(t, text, "epoch")
}

func TestRunReplayInvalidConfig(t *testing.T) {
	cfg := adaptive.DefaultConfig()
	cfg.Factor = 0
	assert.Error(t, runReplay(&bytes.Buffer{}, cfg, nil, false))
}

func TestReplayCommand(t *testing.T) {
	dir := t.TempDir()
	series := filepath.Join(dir, "loss.txt")
	require.NoError(t, os.WriteFile(series, []byte("1.0\n0.5\n0.04\n"), 0o600))
	cfgFile := filepath.Join(dir, "ctrl.yaml")
	require.NoError(t, os.WriteFile(cfgFile, []byte("early_stop_threshold: 0.05\n"), 0o600))

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs([]string{"replay", "--config", cfgFile, "--patience", "2", series})
	t.Cleanup(func() {
		rootCmd.SetOut(nil)
		rootCmd.SetArgs(nil)
	})

	require.NoError(t, rootCmd.Execute())
	assert.Contains(t, out.String(), "validation loss 0.04 reached threshold 0.05")
	assert.Contains(t, out.String(), "stopped (threshold)")
}

func TestVersionCommand(t *testing.T) {
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs([]string{"version"})
	t.Cleanup(func() {
		rootCmd.SetOut(nil)
		rootCmd.SetArgs(nil)
	})

	require.NoError(t, rootCmd.Execute())
	assert.Equal(t, "adaiter version dev\n", out.String())
}

package main

import (
	"bytes"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLevelRouterSplitsStreams(t *testing.T) {
	prev := slog.Default()
	t.Cleanup(func() { slog.SetDefault(prev) })

	var stdout, stderr bytes.Buffer
	logger, err := newLogger("info", &stdout, &stderr)
	require.NoError(t, err)

	logger = logger.With("component", "test")
	logger.Debug("hidden")
	logger.Info("push channel status", "state", "connected")
	logger.Warn("event dropped")
	logger.Error("fetch failed")

	assert.NotContains(t, stdout.String(), "hidden")
	assert.Contains(t, stdout.String(), "push channel status")
	assert.Contains(t, stdout.String(), "component=test")
	assert.Contains(t, stdout.String(), "event dropped")
	assert.NotContains(t, stdout.String(), "fetch failed")
	assert.Contains(t, stderr.String(), "fetch failed")
}

func TestParseLevel(t *testing.T) {
	lvl, err := parseLevel("DEBUG")
	require.NoError(t, err)
	assert.Equal(t, slog.LevelDebug, lvl)

	lvl, err = parseLevel("")
	require.NoError(t, err)
	assert.Equal(t, slog.LevelInfo, lvl)

	_, err = parseLevel("verbose")
	assert.Error(t, err)
}

package logging

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoggerBeforeInitDiscards(t *testing.T) {
	Shutdown()
	log := ForComponent(CompTask)
	// Must not panic without Init.
	log.Info("ignored")
	assert.NotNil(t, Logger())
}

func TestForComponentResolvesAfterInit(t *testing.T) {
	// Created before Init, like package-level loggers.
	log := ForComponent(CompBrainstorm)

	dir := t.TempDir()
	Init(Config{LogDir: dir, Level: "debug"})
	defer Shutdown()

	log.Info("session_started", "chat_id", 42)
	Shutdown()

	data, err := os.ReadFile(filepath.Join(dir, "loopbot.log"))
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 1)

	var rec map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &rec))
	assert.Equal(t, "session_started", rec["msg"])
	assert.Equal(t, "brainstorm", rec["component"])
	assert.EqualValues(t, 42, rec["chat_id"])
}

func TestLevelFiltering(t *testing.T) {
	dir := t.TempDir()
	Init(Config{LogDir: dir, Level: "warn", Format: "text"})
	log := ForComponent(CompTask)
	log.Info("dropped")
	log.Warn("kept")
	Shutdown()

	data, err := os.ReadFile(filepath.Join(dir, "loopbot.log"))
	require.NoError(t, err)
	assert.NotContains(t, string(data), "dropped")
	assert.Contains(t, string(data), "kept")
	assert.Contains(t, string(data), "component=task")
}

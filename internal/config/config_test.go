package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func envMap(m map[string]string) func(string) (string, bool) {
	return func(k string) (string, bool) {
		v, ok := m[k]
		return v, ok
	}
}

func TestDefaults(t *testing.T) {
	c := &Config{}
	assert.Equal(t, DefaultProjectsRoot, c.ProjectsRoot())
	assert.Equal(t, 10, c.QueueMaxSize())
	assert.Equal(t, time.Hour, c.QueueTTL())
	assert.Equal(t, 30*time.Minute, c.StaleThreshold())
	assert.Equal(t, 500, c.MinDiskMB())
	assert.Equal(t, 500*time.Millisecond, c.BrainstormPollInterval())
	assert.Equal(t, 300*time.Second, c.BrainstormTimeout())
	assert.Equal(t, 7, c.LogRetentionDays())
	assert.Equal(t, 500.0, c.LogMaxSizeMB())
	assert.Equal(t, "HEAD~5..HEAD", c.GitDiffRange())
	assert.Equal(t, "127.0.0.1:7777", c.Listen())
	assert.Equal(t, "claude", c.ClaudeCommand())
	assert.False(t, c.TelegramEnabled())
}

func TestLoadFileThenEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, FileName)
	content := `
[projects]
root = "/srv/projects"

[queue]
max_size = 3
ttl_seconds = 120

[brainstorm]
poll_interval_seconds = 1.5

[telegram]
token = "abc"
chat_id = 99
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	t.Setenv("MAX_QUEUE_SIZE", "20")
	t.Setenv("QUEUE_TTL", "not-a-number")

	c, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/srv/projects", c.ProjectsRoot())
	assert.Equal(t, 20, c.QueueMaxSize())
	assert.Equal(t, 2*time.Minute, c.QueueTTL())
	assert.Equal(t, 1500*time.Millisecond, c.BrainstormPollInterval())
	assert.True(t, c.TelegramEnabled())
}

func TestLoadMissingFile(t *testing.T) {
	c, err := Load(filepath.Join(t.TempDir(), "nope.toml"))
	require.NoError(t, err)
	assert.Equal(t, 10, c.QueueMaxSize())
}

func TestLoadInvalidTOML(t *testing.T) {
	path := filepath.Join(t.TempDir(), FileName)
	require.NoError(t, os.WriteFile(path, []byte("[queue\nmax_size ="), 0o600))
	_, err := Load(path)
	assert.Error(t, err)
}

func TestApplyEnv(t *testing.T) {
	tests := []struct {
		name  string
		env   map[string]string
		check func(t *testing.T, c *Config)
	}{
		{
			name: "stale threshold",
			env:  map[string]string{"STALE_THRESHOLD": "600"},
			check: func(t *testing.T, c *Config) {
				assert.Equal(t, 10*time.Minute, c.StaleThreshold())
			},
		},
		{
			name: "invalid int keeps default",
			env:  map[string]string{"STALE_THRESHOLD": "abc"},
			check: func(t *testing.T, c *Config) {
				assert.Equal(t, 30*time.Minute, c.StaleThreshold())
			},
		},
		{
			name: "brainstorm timeout and disk",
			env:  map[string]string{"BRAINSTORM_TIMEOUT": "120", "MIN_DISK_MB": "1000"},
			check: func(t *testing.T, c *Config) {
				assert.Equal(t, 2*time.Minute, c.BrainstormTimeout())
				assert.Equal(t, 1000, c.MinDiskMB())
			},
		},
		{
			name: "log settings",
			env:  map[string]string{"LOG_RETENTION_DAYS": "14", "LOG_MAX_SIZE_MB": "1000"},
			check: func(t *testing.T, c *Config) {
				assert.Equal(t, 14, c.LogRetentionDays())
				assert.Equal(t, 1000.0, c.LogMaxSizeMB())
			},
		},
		{
			name: "dev mode and diff range",
			env:  map[string]string{"DEV_MODE": "true", "GIT_DIFF_RANGE": "HEAD~10..HEAD"},
			check: func(t *testing.T, c *Config) {
				assert.True(t, c.DevMode)
				assert.Equal(t, "HEAD~10..HEAD", c.GitDiffRange())
			},
		},
		{
			name: "telegram chat id",
			env:  map[string]string{"TELEGRAM_BOT_TOKEN": "t", "TELEGRAM_CHAT_ID": "123"},
			check: func(t *testing.T, c *Config) {
				assert.Equal(t, int64(123), c.Telegram.ChatID)
				assert.True(t, c.TelegramEnabled())
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := &Config{}
			c.ApplyEnv(envMap(tt.env))
			tt.check(t, c)
		})
	}
}

func TestValidate(t *testing.T) {
	c := &Config{
		Projects:   ProjectSettings{Root: filepath.Join(t.TempDir(), "missing")},
		Brainstorm: BrainstormSettings{ClaudeCommand: "definitely-not-a-real-binary-xyz"},
		Telegram:   TelegramSettings{Token: "abc"},
	}
	problems := c.Validate()
	joined := ""
	for _, p := range problems {
		joined += p + "\n"
	}
	assert.Contains(t, joined, "projects root")
	assert.Contains(t, joined, "definitely-not-a-real-binary-xyz not found")
	assert.Contains(t, joined, "chat_id is missing")
}

func TestWriteExample(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sub", FileName)
	created, err := WriteExample(path)
	require.NoError(t, err)
	assert.True(t, created)

	created, err = WriteExample(path)
	require.NoError(t, err)
	assert.False(t, created)

	c, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 10, c.QueueMaxSize())
}

// Package config loads loopbot settings from ~/.loopbot/config.toml with
// environment overrides.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// FileName is the TOML config file inside the loopbot home directory.
const FileName = "config.toml"

// Config is the full loopbot configuration.
type Config struct {
	// Projects locates the working copies the bot operates on
	Projects ProjectSettings `toml:"projects"`

	// Queue bounds per-project task queues
	Queue QueueSettings `toml:"queue"`

	// Tasks controls loop task launching and polling
	Tasks TaskSettings `toml:"tasks"`

	// Brainstorm controls claude brainstorming sessions
	Brainstorm BrainstormSettings `toml:"brainstorm"`

	// Logs controls rotation of loop JSONL logs
	Logs LogSettings `toml:"logs"`

	// Telegram configures the notification bot
	Telegram TelegramSettings `toml:"telegram"`

	// Server configures the local control API
	Server ServerSettings `toml:"server"`

	// Logging configures loopbot's own log output
	Logging LoggingSettings `toml:"logging"`

	// Tmux selects the tmux server
	Tmux TmuxSettings `toml:"tmux"`

	// DevMode enables debug logging to stderr
	// Default: false
	DevMode bool `toml:"dev_mode"`
}

// ProjectSettings locates projects.
type ProjectSettings struct {
	// Root is the directory holding one subdirectory per project
	// Default: /home/developer/projects
	Root string `toml:"root"`

	// LoopScript is the shared loop script; when missing, each project's
	// loop/loop.sh is used
	// Default: /opt/loop/scripts/loop.sh
	LoopScript string `toml:"loop_script"`
}

// QueueSettings bounds queues.
type QueueSettings struct {
	// MaxSize is the maximum number of queued tasks per project
	// Default: 10
	MaxSize int `toml:"max_size"`

	// TTLSeconds is how long a task may wait in the queue
	// Default: 3600
	TTLSeconds int `toml:"ttl_seconds"`
}

// TaskSettings controls task polling.
type TaskSettings struct {
	// StaleThresholdSeconds is how long the progress marker may stay
	// unchanged before a stale warning
	// Default: 1800
	StaleThresholdSeconds int `toml:"stale_threshold_seconds"`

	// MinDiskMB is the free space required to start a task
	// Default: 500
	MinDiskMB int `toml:"min_disk_mb"`

	// CompletionPollSeconds is the completion check interval
	// Default: 30
	CompletionPollSeconds int `toml:"completion_poll_seconds"`

	// ProgressPollSeconds is the progress check interval
	// Default: 15
	ProgressPollSeconds int `toml:"progress_poll_seconds"`

	// GitDiffRange is the range used for the change summary
	// Default: HEAD~5..HEAD
	GitDiffRange string `toml:"git_diff_range"`
}

// BrainstormSettings controls brainstorming.
type BrainstormSettings struct {
	// PollIntervalSeconds is how often a waiting turn checks its session
	// Default: 0.5
	PollIntervalSeconds float64 `toml:"poll_interval_seconds"`

	// TimeoutSeconds is how long one turn may take
	// Default: 300
	TimeoutSeconds int `toml:"timeout_seconds"`

	// ClaudeCommand is the agent binary
	// Default: claude
	ClaudeCommand string `toml:"claude_command"`
}

// LogSettings controls loop log rotation.
type LogSettings struct {
	// RetentionDays deletes loop JSONL logs older than this
	// Default: 7
	RetentionDays int `toml:"retention_days"`

	// MaxSizeMB caps the total size of loop JSONL logs
	// Default: 500
	MaxSizeMB float64 `toml:"max_size_mb"`

	// RotationIntervalHours is how often rotation runs
	// Default: 24
	RotationIntervalHours int `toml:"rotation_interval_hours"`
}

// TelegramSettings configures notifications.
type TelegramSettings struct {
	// Token is the bot token from @BotFather
	Token string `toml:"token"`

	// ChatID is the only chat notifications are sent to
	ChatID int64 `toml:"chat_id"`

	// APIURL overrides the Bot API base URL
	// Default: https://api.telegram.org
	APIURL string `toml:"api_url"`

	// MessagesPerSecond limits outgoing messages
	// Default: 1
	MessagesPerSecond float64 `toml:"messages_per_second"`
}

// ServerSettings configures the control API.
type ServerSettings struct {
	// Listen is the loopback address of the API
	// Default: 127.0.0.1:7777
	Listen string `toml:"listen"`

	// Token, when set, is required as a bearer token on every request
	Token string `toml:"token"`
}

// LoggingSettings configures loopbot's own logs.
type LoggingSettings struct {
	// Level is debug, info, warn or error
	// Default: info
	Level string `toml:"level"`

	// Format is json or text
	// Default: json
	Format string `toml:"format"`

	// MaxSizeMB rotates loopbot.log at this size
	// Default: 10
	MaxSizeMB int `toml:"max_size_mb"`

	// MaxBackups is how many rotated logs to keep
	// Default: 5
	MaxBackups int `toml:"max_backups"`
}

// TmuxSettings selects the tmux server.
type TmuxSettings struct {
	// Socket is passed as tmux -L; empty uses the default server
	Socket string `toml:"socket"`
}

const (
	DefaultProjectsRoot   = "/home/developer/projects"
	DefaultLoopScript     = "/opt/loop/scripts/loop.sh"
	DefaultQueueMaxSize   = 10
	DefaultQueueTTL       = time.Hour
	DefaultStaleThreshold = 30 * time.Minute
	DefaultMinDiskMB      = 500
	DefaultCompletionPoll = 30 * time.Second
	DefaultProgressPoll   = 15 * time.Second
	DefaultGitDiffRange   = "HEAD~5..HEAD"
	DefaultPollInterval   = 500 * time.Millisecond
	DefaultTurnTimeout    = 300 * time.Second
	DefaultRetentionDays  = 7
	DefaultLogMaxSizeMB   = 500
	DefaultRotation       = 24 * time.Hour
	DefaultListen         = "127.0.0.1:7777"
	DefaultTelegramAPI    = "https://api.telegram.org"
)

// HomeDir returns the loopbot state directory: $LOOPBOT_HOME or ~/.loopbot.
func HomeDir() (string, error) {
	if dir := os.Getenv("LOOPBOT_HOME"); dir != "" {
		return dir, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home directory: %w", err)
	}
	return filepath.Join(home, ".loopbot"), nil
}

// Path returns the default config file location.
func Path() (string, error) {
	dir, err := HomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, FileName), nil
}

// Load reads the config at path and applies environment overrides.
// A missing file yields the defaults.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if path != "" {
		if _, err := toml.DecodeFile(path, cfg); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	}
	cfg.ApplyEnv(os.LookupEnv)
	return cfg, nil
}

// ApplyEnv overrides settings from environment variables. Values that do
// not parse are ignored.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	num := func(key string, dst *int) {
		if v, ok := lookup(key); ok {
			if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
				*dst = n
			}
		}
	}
	float := func(key string, dst *float64) {
		if v, ok := lookup(key); ok {
			if f, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err == nil {
				*dst = f
			}
		}
	}

	str("PROJECTS_ROOT", &c.Projects.Root)
	str("TELEGRAM_BOT_TOKEN", &c.Telegram.Token)
	if v, ok := lookup("TELEGRAM_CHAT_ID"); ok {
		if id, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64); err == nil {
			c.Telegram.ChatID = id
		}
	}
	num("MAX_QUEUE_SIZE", &c.Queue.MaxSize)
	num("QUEUE_TTL", &c.Queue.TTLSeconds)
	num("STALE_THRESHOLD", &c.Tasks.StaleThresholdSeconds)
	num("MIN_DISK_MB", &c.Tasks.MinDiskMB)
	str("GIT_DIFF_RANGE", &c.Tasks.GitDiffRange)
	float("BRAINSTORM_POLL_INTERVAL", &c.Brainstorm.PollIntervalSeconds)
	num("BRAINSTORM_TIMEOUT", &c.Brainstorm.TimeoutSeconds)
	num("LOG_RETENTION_DAYS", &c.Logs.RetentionDays)
	float("LOG_MAX_SIZE_MB", &c.Logs.MaxSizeMB)
	if v, ok := lookup("DEV_MODE"); ok {
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "1", "true", "yes", "on":
			c.DevMode = true
		case "0", "false", "no", "off":
			c.DevMode = false
		}
	}
}

func (c *Config) ProjectsRoot() string {
	if c.Projects.Root == "" {
		return DefaultProjectsRoot
	}
	return c.Projects.Root
}

func (c *Config) LoopScript() string {
	if c.Projects.LoopScript == "" {
		return DefaultLoopScript
	}
	return c.Projects.LoopScript
}

func (c *Config) QueueMaxSize() int {
	if c.Queue.MaxSize <= 0 {
		return DefaultQueueMaxSize
	}
	return c.Queue.MaxSize
}

func (c *Config) QueueTTL() time.Duration {
	if c.Queue.TTLSeconds <= 0 {
		return DefaultQueueTTL
	}
	return time.Duration(c.Queue.TTLSeconds) * time.Second
}

func (c *Config) StaleThreshold() time.Duration {
	if c.Tasks.StaleThresholdSeconds <= 0 {
		return DefaultStaleThreshold
	}
	return time.Duration(c.Tasks.StaleThresholdSeconds) * time.Second
}

func (c *Config) MinDiskMB() int {
	if c.Tasks.MinDiskMB <= 0 {
		return DefaultMinDiskMB
	}
	return c.Tasks.MinDiskMB
}

func (c *Config) CompletionPoll() time.Duration {
	if c.Tasks.CompletionPollSeconds <= 0 {
		return DefaultCompletionPoll
	}
	return time.Duration(c.Tasks.CompletionPollSeconds) * time.Second
}

func (c *Config) ProgressPoll() time.Duration {
	if c.Tasks.ProgressPollSeconds <= 0 {
		return DefaultProgressPoll
	}
	return time.Duration(c.Tasks.ProgressPollSeconds) * time.Second
}

func (c *Config) GitDiffRange() string {
	if c.Tasks.GitDiffRange == "" {
		return DefaultGitDiffRange
	}
	return c.Tasks.GitDiffRange
}

func (c *Config) BrainstormPollInterval() time.Duration {
	if c.Brainstorm.PollIntervalSeconds <= 0 {
		return DefaultPollInterval
	}
	return time.Duration(c.Brainstorm.PollIntervalSeconds * float64(time.Second))
}

func (c *Config) BrainstormTimeout() time.Duration {
	if c.Brainstorm.TimeoutSeconds <= 0 {
		return DefaultTurnTimeout
	}
	return time.Duration(c.Brainstorm.TimeoutSeconds) * time.Second
}

func (c *Config) ClaudeCommand() string {
	if c.Brainstorm.ClaudeCommand == "" {
		return "claude"
	}
	return c.Brainstorm.ClaudeCommand
}

func (c *Config) LogRetentionDays() int {
	if c.Logs.RetentionDays <= 0 {
		return DefaultRetentionDays
	}
	return c.Logs.RetentionDays
}

func (c *Config) LogMaxSizeMB() float64 {
	if c.Logs.MaxSizeMB <= 0 {
		return DefaultLogMaxSizeMB
	}
	return c.Logs.MaxSizeMB
}

func (c *Config) RotationInterval() time.Duration {
	if c.Logs.RotationIntervalHours <= 0 {
		return DefaultRotation
	}
	return time.Duration(c.Logs.RotationIntervalHours) * time.Hour
}

func (c *Config) Listen() string {
	if c.Server.Listen == "" {
		return DefaultListen
	}
	return c.Server.Listen
}

func (c *Config) TelegramAPIURL() string {
	if c.Telegram.APIURL == "" {
		return DefaultTelegramAPI
	}
	return strings.TrimRight(c.Telegram.APIURL, "/")
}

func (c *Config) TelegramRate() float64 {
	if c.Telegram.MessagesPerSecond <= 0 {
		return 1
	}
	return c.Telegram.MessagesPerSecond
}

// TelegramEnabled reports whether notifications can be delivered.
func (c *Config) TelegramEnabled() bool {
	return c.Telegram.Token != "" && c.Telegram.ChatID != 0
}

// RequiredTools are the binaries loopbot shells out to.
var RequiredTools = []string{"tmux", "git"}

// Validate returns human-readable problems with the configuration and the
// host. An empty result means loopbot can run.
func (c *Config) Validate() []string {
	var problems []string

	root := c.ProjectsRoot()
	if info, err := os.Stat(root); err != nil {
		problems = append(problems, fmt.Sprintf("projects root %s: %v", root, err))
	} else if !info.IsDir() {
		problems = append(problems, fmt.Sprintf("projects root %s is not a directory", root))
	}

	tools := append(append([]string{}, RequiredTools...), c.ClaudeCommand())
	for _, tool := range tools {
		if _, err := exec.LookPath(tool); err != nil {
			problems = append(problems, fmt.Sprintf("%s not found in PATH", tool))
		}
	}

	if c.Telegram.Token != "" && c.Telegram.ChatID == 0 {
		problems = append(problems, "telegram token is set but chat_id is missing")
	}
	if c.Telegram.Token == "" && c.Telegram.ChatID != 0 {
		problems = append(problems, "telegram chat_id is set but token is missing")
	}
	return problems
}

// ExampleConfig is written by `loopbot doctor --init`.
const ExampleConfig = `# loopbot configuration
# Environment variables (PROJECTS_ROOT, TELEGRAM_BOT_TOKEN, ...) override
# the values below.

[projects]
# root = "/home/developer/projects"
# loop_script = "/opt/loop/scripts/loop.sh"

[queue]
# max_size = 10
# ttl_seconds = 3600

[tasks]
# stale_threshold_seconds = 1800
# min_disk_mb = 500
# completion_poll_seconds = 30
# progress_poll_seconds = 15

[brainstorm]
# poll_interval_seconds = 0.5
# timeout_seconds = 300

[logs]
# retention_days = 7
# max_size_mb = 500

[telegram]
# token = ""
# chat_id = 0

[server]
# listen = "127.0.0.1:7777"
# token = ""
`

// WriteExample writes ExampleConfig to path unless a file already exists.
func WriteExample(path string) (bool, error) {
	if _, err := os.Stat(path); err == nil {
		return false, nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return false, err
	}
	if err := os.WriteFile(path, []byte(ExampleConfig), 0o600); err != nil {
		return false, err
	}
	return true, nil
}

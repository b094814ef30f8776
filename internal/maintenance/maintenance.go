// Package maintenance keeps loop logs and brainstorm transcripts from
// filling the disk.
package maintenance

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/shirou/gopsutil/v4/disk"

	"github.com/sjoeboo/loopbot/internal/logging"
)

var maintLog = logging.ForComponent(logging.CompMaintenance)

// Result summarizes one cleanup pass.
type Result struct {
	Deleted    int   `json:"deleted"`
	FreedBytes int64 `json:"freed_bytes"`
}

func (r Result) Add(o Result) Result {
	return Result{Deleted: r.Deleted + o.Deleted, FreedBytes: r.FreedBytes + o.FreedBytes}
}

type logFile struct {
	path  string
	mtime time.Time
	size  int64
}

// RotateLogs deletes *.jsonl files under each project's loop/logs/ that are
// older than retentionDays, then deletes oldest first until the remaining
// total is at most maxSizeMB.
func RotateLogs(root string, retentionDays int, maxSizeMB float64, now time.Time) Result {
	var res Result
	cutoff := now.Add(-time.Duration(retentionDays) * 24 * time.Hour)

	var files []logFile
	for _, dir := range projectDirs(root) {
		matches, _ := filepath.Glob(filepath.Join(dir, "loop", "logs", "*.jsonl"))
		for _, m := range matches {
			info, err := os.Stat(m)
			if err != nil || info.IsDir() {
				continue
			}
			files = append(files, logFile{path: m, mtime: info.ModTime(), size: info.Size()})
		}
	}

	var remaining []logFile
	for _, f := range files {
		if f.mtime.Before(cutoff) {
			if err := os.Remove(f.path); err == nil {
				res.Deleted++
				res.FreedBytes += f.size
				maintLog.Info("log_deleted_age", "path", f.path)
				continue
			}
		}
		remaining = append(remaining, f)
	}

	limit := int64(maxSizeMB * 1024 * 1024)
	var total int64
	for _, f := range remaining {
		total += f.size
	}
	if total > limit {
		sort.Slice(remaining, func(i, j int) bool { return remaining[i].mtime.Before(remaining[j].mtime) })
		for _, f := range remaining {
			if total <= limit {
				break
			}
			if err := os.Remove(f.path); err != nil {
				continue
			}
			res.Deleted++
			res.FreedBytes += f.size
			total -= f.size
			maintLog.Info("log_deleted_size", "path", f.path)
		}
	}
	return res
}

// LiveFunc reports whether a chat still has a running brainstorm agent.
type LiveFunc func(chatID int64) bool

// CleanupBrainstormFiles removes transcripts in <root>/.brainstorm/ whose chat
// id has no entry in the sessions snapshot and no live agent. A corrupt
// snapshot makes every transcript of a dead chat an orphan. live may be nil.
func CleanupBrainstormFiles(root string, live LiveFunc) Result {
	var res Result
	dir := filepath.Join(root, ".brainstorm")
	if info, err := os.Stat(dir); err != nil || !info.IsDir() {
		return res
	}

	active := make(map[string]bool)
	snapshot := filepath.Join(root, ".brainstorm_sessions.json")
	if data, err := os.ReadFile(snapshot); err == nil {
		var entries []struct {
			ChatID *int64 `json:"chat_id"`
		}
		if err := json.Unmarshal(data, &entries); err != nil {
			maintLog.Warn("corrupt_sessions_snapshot", "path", snapshot, "error", err)
		} else {
			for _, e := range entries {
				if e.ChatID != nil {
					active[fmt.Sprint(*e.ChatID)] = true
				}
			}
		}
	}

	matches, _ := filepath.Glob(filepath.Join(dir, "*.jsonl"))
	for _, m := range matches {
		// brainstorm_<chat>_<id>.jsonl
		parts := strings.Split(strings.TrimSuffix(filepath.Base(m), ".jsonl"), "_")
		chat := ""
		if len(parts) >= 3 {
			chat = parts[1]
		}
		if chat != "" && active[chat] {
			continue
		}
		if id, err := strconv.ParseInt(chat, 10, 64); err == nil && live != nil && live(id) {
			continue
		}
		info, err := os.Stat(m)
		if err != nil {
			continue
		}
		if err := os.Remove(m); err != nil {
			continue
		}
		res.Deleted++
		res.FreedBytes += info.Size()
		maintLog.Info("brainstorm_orphan_deleted", "path", m)
	}
	return res
}

// CheckDiskSpace reports whether the filesystem holding path has at least
// minMB free. A stat failure is returned as err and says nothing about
// free space.
func CheckDiskSpace(path string, minMB int) (bool, float64, error) {
	usage, err := disk.UsageWithContext(context.Background(), path)
	if err != nil {
		maintLog.Warn("disk_usage_failed", "path", path, "error", err)
		return false, 0, fmt.Errorf("disk usage of %s: %w", path, err)
	}
	available := float64(usage.Free) / (1024 * 1024)
	return available >= float64(minMB), available, nil
}

// Run performs a full maintenance pass.
func Run(root string, retentionDays int, maxSizeMB float64, now time.Time, live LiveFunc) Result {
	res := RotateLogs(root, retentionDays, maxSizeMB, now).Add(CleanupBrainstormFiles(root, live))
	if res.Deleted > 0 {
		maintLog.Info("maintenance_done", "deleted", res.Deleted, "freed_bytes", res.FreedBytes)
	}
	return res
}

func projectDirs(root string) []string {
	entries, err := os.ReadDir(root)
	if err != nil {
		return nil
	}
	var dirs []string
	for _, e := range entries {
		if e.IsDir() && !strings.HasPrefix(e.Name(), ".") {
			dirs = append(dirs, filepath.Join(root, e.Name()))
		}
	}
	return dirs
}

package git

import (
	"context"
	"fmt"

	"github.com/sourcegraph/go-diff/diff"
)

// DiffStats summarizes changes between two revisions.
type DiffStats struct {
	FilesChanged int `json:"files_changed"`
	Insertions   int `json:"insertions"`
	Deletions    int `json:"deletions"`
}

// FetchDiff returns the unified diff of since..HEAD.
func FetchDiff(ctx context.Context, dir, since string) (string, error) {
	return RangeDiff(ctx, dir, since+"..HEAD")
}

// RangeDiff returns the unified diff for a revision range like HEAD~5..HEAD.
func RangeDiff(ctx context.Context, dir, rng string) (string, error) {
	return run(ctx, dir, "diff", "--no-color", "--no-ext-diff", rng)
}

// DiffStatsSince returns file and line counts for since..HEAD. A nil result
// with nil error means there were no changes.
func DiffStatsSince(ctx context.Context, dir, since string) (*DiffStats, error) {
	raw, err := FetchDiff(ctx, dir, since)
	if err != nil {
		return nil, err
	}
	return ParseDiffStats(raw)
}

// ParseDiffStats counts files and lines in a unified diff.
func ParseDiffStats(raw string) (*DiffStats, error) {
	if raw == "" {
		return nil, nil
	}
	files, err := diff.ParseMultiFileDiff([]byte(raw + "\n"))
	if err != nil {
		return nil, fmt.Errorf("parse diff: %w", err)
	}
	if len(files) == 0 {
		return nil, nil
	}

	stats := &DiffStats{FilesChanged: len(files)}
	for _, f := range files {
		s := f.Stat()
		// Changed counts paired -/+ lines; each is one insertion and one deletion.
		stats.Insertions += int(s.Added + s.Changed)
		stats.Deletions += int(s.Deleted + s.Changed)
	}
	return stats, nil
}

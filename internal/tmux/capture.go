package tmux

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Capturer is implemented by runners that can read a session's screen.
type Capturer interface {
	Capture(ctx context.Context, name string, lines int) (string, error)
}

// Capture returns the last lines of the session's pane with escape codes
// removed.
func (t *Tmux) Capture(ctx context.Context, name string, lines int) (string, error) {
	if lines <= 0 {
		lines = 50
	}
	out, err := t.exec.Output(ctx, "tmux",
		t.withSocket("capture-pane", "-p", "-J", "-t", "="+name, "-S", "-"+strconv.Itoa(lines))...)
	if err != nil {
		return "", fmt.Errorf("capture %s: %w", name, err)
	}
	return strings.TrimRight(StripANSI(string(out)), "\n"), nil
}

var (
	csiRe = regexp.MustCompile(`\x1b\[[0-9;?]*[ -/]*[@-~]`)
	oscRe = regexp.MustCompile(`\x1b\][^\x07\x1b]*(?:\x07|\x1b\\)`)
)

// StripANSI removes CSI and OSC escape sequences.
func StripANSI(s string) string {
	if !strings.Contains(s, "\x1b") {
		return s
	}
	return csiRe.ReplaceAllString(oscRe.ReplaceAllString(s, ""), "")
}

var (
	busyMarkers   = []string{"esc to interrupt"}
	spinnerRunes  = "⠋⠙⠹⠸⠼⠴⠦⠧⠇⠏"
	promptMarkers = []string{
		"Do you want to proceed?",
		"Do you want to make this edit",
		"Yes, allow once",
		"No, and tell Claude what to do differently",
		"(Y/n)", "[Y/n]", "(y/N)", "[y/N]",
		"Continue?", "Proceed?",
	}
)

// WaitingForInput reports whether captured pane content shows claude or the
// shell blocked on a question. A busy indicator in the recent lines wins.
func WaitingForInput(content string) bool {
	recent := lastNonEmpty(content, 15)
	if len(recent) == 0 {
		return false
	}
	joined := strings.Join(recent, "\n")

	lower := strings.ToLower(joined)
	for _, m := range busyMarkers {
		if strings.Contains(lower, m) {
			return false
		}
	}
	tail := recent
	if len(tail) > 3 {
		tail = tail[len(tail)-3:]
	}
	for _, line := range tail {
		if strings.ContainsAny(line, spinnerRunes) {
			return false
		}
	}

	for _, m := range promptMarkers {
		if strings.Contains(joined, m) {
			return true
		}
	}
	last := strings.TrimSpace(recent[len(recent)-1])
	return last == ">" || last == "❯"
}

func lastNonEmpty(content string, n int) []string {
	lines := strings.Split(content, "\n")
	var out []string
	for i := len(lines) - 1; i >= 0 && len(out) < n; i-- {
		if strings.TrimSpace(lines[i]) != "" {
			out = append(out, lines[i])
		}
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out
}

package brainstorm

import (
	"context"
	"fmt"
	"time"
)

// waitResult is what one claude turn produced.
type waitResult struct {
	Code      Code
	Text      string
	SessionID string
}

// waitForResult polls until the tmux session ends, then reads the
// transcript. A timeout or cancelled ctx ends the wait but leaves the
// session running.
func (m *Manager) waitForResult(ctx context.Context, tmuxName, file string) waitResult {
	deadline := time.NewTimer(m.opts.Timeout)
	defer deadline.Stop()
	ticker := time.NewTicker(m.opts.PollInterval)
	defer ticker.Stop()

	for {
		if ctx.Err() != nil {
			return waitResult{Code: ErrTimeout, Text: MsgTimeout}
		}
		if !m.runner.IsRunning(ctx, tmuxName) {
			return readResult(file)
		}
		select {
		case <-ctx.Done():
			return waitResult{Code: ErrTimeout, Text: MsgTimeout}
		case <-deadline.C:
			bsLog.Warn("brainstorm_wait_timeout", "session", tmuxName, "timeout", m.opts.Timeout.String())
			return waitResult{Code: ErrTimeout, Text: MsgTimeout}
		case <-ticker.C:
		}
	}
}

func readResult(file string) waitResult {
	res, raw, err := ParseTranscript(file)
	if err != nil {
		bsLog.Debug("brainstorm_transcript_missing", "file", file, "error", err)
		return waitResult{Code: ErrNoResult, Text: MsgNoResponse}
	}
	if res == nil {
		if len(raw) == 0 {
			return waitResult{Code: ErrNoResult, Text: MsgNoResponse}
		}
		return waitResult{Code: ErrNoResult, Text: fmt.Sprintf(MsgNoResult, tail(string(raw), 500))}
	}
	if res.IsError {
		return waitResult{Code: ErrClaudeError, Text: fmt.Sprintf(MsgClaudeError, res.Text), SessionID: res.SessionID}
	}
	return waitResult{Text: res.Text, SessionID: res.SessionID}
}

package brainstorm

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
)

// Result is the terminal record of a claude stream-json transcript.
type Result struct {
	Text      string
	SessionID string
	IsError   bool
}

type streamRecord struct {
	Type      string `json:"type"`
	Result    string `json:"result"`
	SessionID string `json:"session_id"`
	IsError   bool   `json:"is_error"`
}

// ParseTranscript finds the last "result" record in a JSONL transcript.
// Malformed lines are skipped. It returns a nil Result when the file has no
// result record, along with the raw file contents.
func ParseTranscript(path string) (*Result, []byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, fmt.Errorf("read transcript: %w", err)
	}
	data = bytes.TrimSpace(data)

	lines := bytes.Split(data, []byte("\n"))
	for i := len(lines) - 1; i >= 0; i-- {
		line := bytes.TrimSpace(lines[i])
		if len(line) == 0 {
			continue
		}
		var rec streamRecord
		if err := json.Unmarshal(line, &rec); err != nil {
			continue
		}
		if rec.Type == "result" {
			return &Result{Text: rec.Result, SessionID: rec.SessionID, IsError: rec.IsError}, data, nil
		}
	}
	return nil, data, nil
}

// tail returns the last n characters of s.
func tail(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[len(r)-n:])
}

// head returns the first n characters of s.
func head(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

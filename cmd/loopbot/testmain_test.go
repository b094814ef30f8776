package main

import (
	"os"
	"testing"
)

// TestMain points every command at a throwaway home so tests never read or
// write the real ~/.loopbot.
func TestMain(m *testing.M) {
	home, err := os.MkdirTemp("", "loopbot-cmd-test")
	if err != nil {
		panic(err)
	}
	os.Setenv("LOOPBOT_HOME", home)
	os.Setenv("LOOPBOT_COLOR", "none")
	code := m.Run()
	os.RemoveAll(home)
	os.Exit(code)
}

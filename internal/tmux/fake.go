package tmux

import (
	"context"
	"fmt"
	"sync"
)

// Fake is an in-memory Runner for tests. Sessions stay alive until Kill or
// Finish is called. Like tmux, Start registers the sanitized name while
// lookups match names exactly.
type Fake struct {
	mu       sync.Mutex
	alive    map[string]bool
	panes    map[string]string
	Started  []FakeLaunch
	Killed   []string
	StartErr error
	// OnStart runs after a successful launch, outside the lock.
	OnStart func(name, workdir, command string)
}

// FakeLaunch records one Start call.
type FakeLaunch struct {
	Name    string
	Workdir string
	Command string
}

func NewFake() *Fake {
	return &Fake{alive: make(map[string]bool), panes: make(map[string]string)}
}

func (f *Fake) IsRunning(_ context.Context, name string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.alive[name]
}

func (f *Fake) Start(_ context.Context, name, workdir, command string) error {
	f.mu.Lock()
	if f.StartErr != nil {
		err := f.StartErr
		f.mu.Unlock()
		return err
	}
	created := SafeName(name)
	if f.alive[created] {
		f.mu.Unlock()
		return fmt.Errorf("duplicate session: %s", created)
	}
	f.alive[created] = true
	f.Started = append(f.Started, FakeLaunch{Name: name, Workdir: workdir, Command: command})
	hook := f.OnStart
	f.mu.Unlock()

	if hook != nil {
		hook(name, workdir, command)
	}
	return nil
}

func (f *Fake) Kill(_ context.Context, name string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.alive, name)
	f.Killed = append(f.Killed, name)
}

// SetAlive marks a session alive or dead without recording a launch.
func (f *Fake) SetAlive(name string, alive bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if alive {
		f.alive[name] = true
	} else {
		delete(f.alive, name)
	}
}

// Finish ends a session as if its command exited.
func (f *Fake) Finish(name string) {
	f.SetAlive(name, false)
}

// Launches returns a copy of the recorded Start calls.
func (f *Fake) Launches() []FakeLaunch {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]FakeLaunch, len(f.Started))
	copy(out, f.Started)
	return out
}

// KilledSessions returns a copy of the recorded Kill calls.
func (f *Fake) KilledSessions() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.Killed))
	copy(out, f.Killed)
	return out
}

// SetPane sets the content Capture returns for a session.
func (f *Fake) SetPane(name, content string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.panes[name] = content
}

func (f *Fake) Capture(_ context.Context, name string, _ int) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.alive[name] {
		return "", fmt.Errorf("capture %s: no such session", name)
	}
	return f.panes[name], nil
}

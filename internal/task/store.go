package task

import (
	"errors"
	"sync"

	"github.com/sjoeboo/loopbot/internal/jsonfile"
	"github.com/sjoeboo/loopbot/internal/logging"
)

var storeLog = logging.ForComponent(logging.CompStore)

// snapshot is the on-disk form of the manager's state.
type snapshot struct {
	ActiveTasks map[string]*Task        `json:"active_tasks"`
	Queues      map[string][]QueuedTask `json:"queues"`

	seq uint64
}

// Store persists manager snapshots to a single JSON file.
type Store struct {
	path string

	mu      sync.Mutex
	written uint64
}

func NewStore(path string) *Store {
	return &Store{path: path}
}

func (s *Store) Path() string { return s.path }

// Save writes snap unless a newer snapshot has already been written.
func (s *Store) Save(snap *snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if snap.seq != 0 && snap.seq <= s.written {
		return nil
	}
	if err := jsonfile.WriteAtomic(s.path, snap); err != nil {
		return err
	}
	s.written = snap.seq
	return nil
}

// Load reads the last saved snapshot. Missing or corrupt files yield an
// empty snapshot.
func (s *Store) Load() *snapshot {
	jsonfile.CleanupTemp(s.path)

	snap := &snapshot{}
	if err := jsonfile.Read(s.path, snap); err != nil {
		if !errors.Is(err, jsonfile.ErrNotExist) {
			storeLog.Warn("task_state_unreadable", "path", s.path, "error", err)
		}
		snap = &snapshot{}
	}
	if snap.ActiveTasks == nil {
		snap.ActiveTasks = make(map[string]*Task)
	}
	if snap.Queues == nil {
		snap.Queues = make(map[string][]QueuedTask)
	}
	return snap
}

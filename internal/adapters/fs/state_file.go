package fs

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/bft-labs/replayship/internal/domain"
)

const stateFileName = "agent-state.json"

// StateFileRepository implements ports.StateRepository using a JSON file.
type StateFileRepository struct {
	dir string
	mu  sync.Mutex
}

// NewStateFileRepository creates a new StateFileRepository for the given directory.
func NewStateFileRepository(dir string) *StateFileRepository {
	return &StateFileRepository{dir: dir}
}

// Load retrieves the last saved state from disk.
// Returns an empty state and nil error if no state file exists.
func (r *StateFileRepository) Load(ctx context.Context) (domain.State, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.load()
}

func (r *StateFileRepository) load() (domain.State, error) {
	data, err := os.ReadFile(r.Path())
	if err != nil {
		if os.IsNotExist(err) {
			return domain.State{}, nil
		}
		return domain.State{}, err
	}

	var state domain.State
	if err := json.Unmarshal(data, &state); err != nil {
		return domain.State{}, err
	}

	return state, nil
}

// Save persists the current state atomically.
// Uses atomic write (write to temp file, then rename) to prevent corruption.
func (r *StateFileRepository) Save(ctx context.Context, state domain.State) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.save(state)
}

func (r *StateFileRepository) save(state domain.State) error {
	// Ensure directory exists
	if err := os.MkdirAll(r.dir, 0o700); err != nil {
		return err
	}

	path := r.Path()
	tmp := path + ".tmp"

	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return err
	}

	// Write to temp file
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return err
	}

	// Atomic rename
	return os.Rename(tmp, path)
}

// Bootstrap loads the state and assigns a user UUID on first run.
func (r *StateFileRepository) Bootstrap(ctx context.Context) (domain.State, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	state, err := r.load()
	if err != nil {
		return domain.State{}, err
	}
	if !state.IsEmpty() {
		return state, nil
	}

	state.UserUUID = uuid.New().String()
	state.UpdatedAt = time.Now()
	if err := r.save(state); err != nil {
		return domain.State{}, err
	}
	return state, nil
}

// Path returns the full path to the state file.
func (r *StateFileRepository) Path() string {
	return filepath.Join(r.dir, stateFileName)
}

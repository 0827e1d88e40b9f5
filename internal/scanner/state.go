package scanner

import (
	"fmt"
	"time"

	"gantrymon/internal/fileutil"
)

// State is the persisted resume point of every log source plus the watch
// directory files already reported.
type State struct {
	LastLines map[string]string    `json:"last_log_lines"`
	Swept     map[string]time.Time `json:"swept,omitempty"`
	UpdatedAt time.Time            `json:"updated_at"`
}

func newState() *State {
	return &State{
		LastLines: make(map[string]string),
		Swept:     make(map[string]time.Time),
	}
}

func (s *State) clone() *State {
	cp := newState()
	for k, v := range s.LastLines {
		cp.LastLines[k] = v
	}
	for k, v := range s.Swept {
		cp.Swept[k] = v
	}
	cp.UpdatedAt = s.UpdatedAt
	return cp
}

// LoadState reads the scanner state file. A missing file yields an empty
// state; a corrupt one is an error.
func LoadState(path string) (*State, error) {
	st := newState()
	if path == "" {
		return st, nil
	}
	if _, err := fileutil.ReadJSON(path, st); err != nil {
		return nil, fmt.Errorf("load scanner state: %w", err)
	}
	if st.LastLines == nil {
		st.LastLines = make(map[string]string)
	}
	if st.Swept == nil {
		st.Swept = make(map[string]time.Time)
	}
	return st, nil
}

func saveState(path string, st *State) error {
	if path == "" {
		return nil
	}
	if err := fileutil.WriteJSON(path, st, 0o644); err != nil {
		return fmt.Errorf("persist scanner state: %w", err)
	}
	return nil
}

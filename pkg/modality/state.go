package modality

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// State is one modality's persisted registry record.
type State struct {
	ModalityID    string         `json:"modality_id"`
	LastIndexedAt time.Time      `json:"last_indexed_at"`
	LastError     string         `json:"last_error,omitempty"`
	ConfigHash    string         `json:"config_hash"`
	Extra         map[string]any `json:"extra,omitempty"`
}

type stateSnapshot struct {
	UpdatedAt  time.Time        `json:"updated_at"`
	Modalities map[string]State `json:"modalities"`
}

// StateStore persists per-modality state as a single JSON snapshot, rewritten
// atomically (temp file + rename). It also keeps per-scope ingest checkpoints
// as individual files under state/activity_ingest/.
type StateStore struct {
	mu       sync.Mutex
	path     string
	ckptDir  string
	snapshot stateSnapshot
}

// NewStateStore loads (or initializes) the registry snapshot under dataDir.
func NewStateStore(dataDir string) (*StateStore, error) {
	stateDir := filepath.Join(dataDir, "state")
	if err := os.MkdirAll(filepath.Join(stateDir, "activity_ingest"), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create state directory: %w", err)
	}
	s := &StateStore{
		path:     filepath.Join(stateDir, "search_registry.json"),
		ckptDir:  filepath.Join(stateDir, "activity_ingest"),
		snapshot: stateSnapshot{Modalities: map[string]State{}},
	}
	raw, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read registry state: %w", err)
	}
	if err := json.Unmarshal(raw, &s.snapshot); err != nil {
		return nil, fmt.Errorf("failed to parse registry state: %w", err)
	}
	if s.snapshot.Modalities == nil {
		s.snapshot.Modalities = map[string]State{}
	}
	return s, nil
}

// Get returns the persisted state for a modality, if any.
func (s *StateStore) Get(modalityID string) (State, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.snapshot.Modalities[modalityID]
	return st, ok
}

// All returns a copy of every persisted record.
func (s *StateStore) All() map[string]State {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]State, len(s.snapshot.Modalities))
	for id, st := range s.snapshot.Modalities {
		out[id] = st
	}
	return out
}

// Update stamps a modality record and rewrites the snapshot atomically.
// Extra keys are merged into the existing extra map; nil values delete.
func (s *StateStore) Update(modalityID, configHash string, lastErr error, extra map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := s.snapshot.Modalities[modalityID]
	st.ModalityID = modalityID
	st.LastIndexedAt = time.Now().UTC()
	st.ConfigHash = configHash
	if lastErr != nil {
		st.LastError = lastErr.Error()
	} else {
		st.LastError = ""
	}
	if len(extra) > 0 {
		if st.Extra == nil {
			st.Extra = map[string]any{}
		}
		for k, v := range extra {
			if v == nil {
				delete(st.Extra, k)
				continue
			}
			st.Extra[k] = v
		}
	}
	s.snapshot.Modalities[modalityID] = st
	s.snapshot.UpdatedAt = st.LastIndexedAt
	return writeJSONAtomic(s.path, s.snapshot)
}

// Checkpoint reads a per-scope ingest checkpoint. Missing files yield an
// empty map.
func (s *StateStore) Checkpoint(modalityID, scope string) (map[string]any, error) {
	raw, err := os.ReadFile(s.checkpointPath(modalityID, scope))
	if os.IsNotExist(err) {
		return map[string]any{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read ingest checkpoint: %w", err)
	}
	out := map[string]any{}
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("failed to parse ingest checkpoint: %w", err)
	}
	return out, nil
}

// SaveCheckpoint rewrites a per-scope ingest checkpoint atomically.
func (s *StateStore) SaveCheckpoint(modalityID, scope string, data map[string]any) error {
	return writeJSONAtomic(s.checkpointPath(modalityID, scope), data)
}

func (s *StateStore) checkpointPath(modalityID, scope string) string {
	return filepath.Join(s.ckptDir, sanitizeName(modalityID)+"_"+sanitizeName(scope)+".json")
}

func sanitizeName(name string) string {
	out := make([]rune, 0, len(name))
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_', r == '.':
			out = append(out, r)
		default:
			out = append(out, '_')
		}
	}
	return string(out)
}

// writeJSONAtomic writes via a temp file in the same directory and renames
// over the target, so readers never observe a partial snapshot.
func writeJSONAtomic(path string, v any) error {
	raw, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode state: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp state file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to write state: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to close state file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to replace state file: %w", err)
	}
	return nil
}

package incident

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

const defaultInvestigationCap = 500

// InvestigationStore keeps incident candidates in
// data/live/investigations.jsonl, capped to the newest maxEntries. The cap
// rewrite happens through a temp file and rename so readers never see a
// half-written store.
type InvestigationStore struct {
	mu         sync.Mutex
	path       string
	maxEntries int
}

func NewInvestigationStore(dataDir string, maxEntries int) (*InvestigationStore, error) {
	if maxEntries <= 0 {
		maxEntries = defaultInvestigationCap
	}
	dir := filepath.Join(dataDir, "live")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create investigations directory: %w", err)
	}
	return &InvestigationStore{
		path:       filepath.Join(dir, "investigations.jsonl"),
		maxEntries: maxEntries,
	}, nil
}

// Append adds one candidate, trimming the oldest entries past the cap.
func (s *InvestigationStore) Append(candidate *Candidate) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	candidates, err := s.readAll()
	if err != nil {
		return err
	}
	candidates = append(candidates, *candidate)
	if len(candidates) > s.maxEntries {
		candidates = candidates[len(candidates)-s.maxEntries:]
	}
	return s.writeAll(candidates)
}

// Recent returns up to n candidates, newest last.
func (s *InvestigationStore) Recent(n int) ([]Candidate, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	candidates, err := s.readAll()
	if err != nil {
		return nil, err
	}
	if n > 0 && len(candidates) > n {
		candidates = candidates[len(candidates)-n:]
	}
	return candidates, nil
}

// Get returns a candidate by ID.
func (s *InvestigationStore) Get(candidateID string) (*Candidate, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	candidates, err := s.readAll()
	if err != nil {
		return nil, err
	}
	for i := range candidates {
		if candidates[i].CandidateID == candidateID {
			return &candidates[i], nil
		}
	}
	return nil, fmt.Errorf("investigation %s not found", candidateID)
}

func (s *InvestigationStore) readAll() ([]Candidate, error) {
	f, err := os.Open(s.path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open investigations file: %w", err)
	}
	defer f.Close()

	var candidates []Candidate
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		var c Candidate
		if err := json.Unmarshal(scanner.Bytes(), &c); err != nil {
			continue
		}
		candidates = append(candidates, c)
	}
	return candidates, scanner.Err()
}

func (s *InvestigationStore) writeAll(candidates []Candidate) error {
	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".investigations-*")
	if err != nil {
		return fmt.Errorf("failed to create temp investigations file: %w", err)
	}
	w := bufio.NewWriter(tmp)
	for i := range candidates {
		line, err := json.Marshal(&candidates[i])
		if err != nil {
			tmp.Close()
			os.Remove(tmp.Name())
			return fmt.Errorf("failed to encode candidate: %w", err)
		}
		w.Write(line)
		w.WriteByte('\n')
	}
	if err := w.Flush(); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to flush investigations file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to close investigations file: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to replace investigations file: %w", err)
	}
	return nil
}

// Package incident composes incident candidates from reasoning results and
// owns the append-only query trace and capped investigations stores.
package incident

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/latticehq/lattice/pkg/chunk"
	"github.com/latticehq/lattice/pkg/modality"
)

// QueryTrace ties one query invocation to what was retrieved and chosen.
type QueryTrace struct {
	TraceID        string            `json:"trace_id"`
	Query          string            `json:"query"`
	ModalitiesUsed []string          `json:"modalities_used"`
	Retrieved      []TraceChunk      `json:"retrieved"`
	Chosen         []TraceChunk      `json:"chosen"`
	Telemetry      map[string]string `json:"telemetry,omitempty"`
	At             time.Time         `json:"at"`
}

// TraceChunk is the evidence reference kept per retrieved chunk: enough to
// attribute a chosen result back to its source without reloading the chunk.
type TraceChunk struct {
	ChunkID    string           `json:"chunk_id"`
	EntityID   string           `json:"entity_id"`
	SourceType chunk.SourceType `json:"source_type"`
	SourceID   string           `json:"source_id,omitempty"`
	Modality   string           `json:"modality"`
	Score      float64          `json:"score"`
	Title      string           `json:"title,omitempty"`
	URL        string           `json:"url,omitempty"`
	Metadata   map[string]any   `json:"metadata,omitempty"`
}

// TraceChunkFrom shrinks a result down to its trace reference.
func TraceChunkFrom(r modality.Result) TraceChunk {
	return TraceChunk{
		ChunkID:    r.Chunk.ChunkID,
		EntityID:   r.Chunk.EntityID,
		SourceType: r.Chunk.SourceType,
		SourceID:   r.Chunk.SourceID(),
		Modality:   r.Modality,
		Score:      r.Score,
		Title:      r.Title,
		URL:        r.URL,
		Metadata:   r.Chunk.Metadata,
	}
}

// TraceStore appends one JSON line per trace to
// data/state/query_traces.jsonl.
type TraceStore struct {
	mu   sync.Mutex
	path string
}

// NewTraceStore prepares the trace file location under dataDir.
func NewTraceStore(dataDir string) (*TraceStore, error) {
	dir := filepath.Join(dataDir, "state")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create trace directory: %w", err)
	}
	return &TraceStore{path: filepath.Join(dir, "query_traces.jsonl")}, nil
}

// Append writes the trace as one line, assigning a trace ID when missing.
func (s *TraceStore) Append(trace *QueryTrace) error {
	if trace.TraceID == "" {
		trace.TraceID = uuid.NewString()
	}
	if trace.At.IsZero() {
		trace.At = time.Now().UTC()
	}
	line, err := json.Marshal(trace)
	if err != nil {
		return fmt.Errorf("failed to encode trace: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	f, err := os.OpenFile(s.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open trace file: %w", err)
	}
	defer f.Close()
	if _, err := f.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("failed to append trace: %w", err)
	}
	return nil
}

// Get reads back a trace by ID. Scans the file; traces are small and this is
// a debugging path.
func (s *TraceStore) Get(traceID string) (*QueryTrace, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, err := os.Open(s.path)
	if os.IsNotExist(err) {
		return nil, fmt.Errorf("trace %s not found", traceID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open trace file: %w", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		var trace QueryTrace
		if err := json.Unmarshal(scanner.Bytes(), &trace); err != nil {
			continue
		}
		if trace.TraceID == traceID {
			return &trace, nil
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to scan trace file: %w", err)
	}
	return nil, fmt.Errorf("trace %s not found", traceID)
}

// Trim rewrites the trace file keeping only the newest keep lines. Returns
// the number of lines dropped.
func (s *TraceStore) Trim(keep int) (int, error) {
	if keep <= 0 {
		return 0, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read trace file: %w", err)
	}

	lines := splitLines(data)
	if len(lines) <= keep {
		return 0, nil
	}
	dropped := len(lines) - keep
	kept := lines[dropped:]

	tmp := s.path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return 0, fmt.Errorf("failed to create trace file: %w", err)
	}
	for _, line := range kept {
		if _, err := f.Write(append(line, '\n')); err != nil {
			f.Close()
			return 0, fmt.Errorf("failed to rewrite trace file: %w", err)
		}
	}
	if err := f.Close(); err != nil {
		return 0, fmt.Errorf("failed to close trace file: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return 0, fmt.Errorf("failed to replace trace file: %w", err)
	}
	return dropped, nil
}

func splitLines(data []byte) [][]byte {
	var lines [][]byte
	start := 0
	for i, b := range data {
		if b == '\n' {
			if i > start {
				lines = append(lines, data[start:i])
			}
			start = i + 1
		}
	}
	if start < len(data) {
		lines = append(lines, data[start:])
	}
	return lines
}

// Recent returns up to n traces, newest last.
func (s *TraceStore) Recent(n int) ([]QueryTrace, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, err := os.Open(s.path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open trace file: %w", err)
	}
	defer f.Close()

	var traces []QueryTrace
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		var trace QueryTrace
		if err := json.Unmarshal(scanner.Bytes(), &trace); err != nil {
			continue
		}
		traces = append(traces, trace)
		if n > 0 && len(traces) > n {
			traces = traces[1:]
		}
	}
	return traces, scanner.Err()
}

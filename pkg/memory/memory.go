// Package memory holds per-user persistent memories with salience decay
// and semantic recall, plus in-flight conversation sessions.
package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/latticehq/lattice/pkg/embed"
)

// dailyDecay is the geometric salience decay factor per day since last
// access.
const dailyDecay = 0.95

// Entry is one persistent user fact.
type Entry struct {
	MemoryID            string    `json:"memory_id"`
	Content             string    `json:"content"`
	Category            string    `json:"category,omitempty"`
	Tags                []string  `json:"tags,omitempty"`
	SalienceScore       float64   `json:"salience_score"`
	AccessCount         int       `json:"access_count"`
	Embedding           []float32 `json:"embedding,omitempty"`
	SourceInteractionID string    `json:"source_interaction_id,omitempty"`
	CreatedAt           time.Time `json:"created_at"`
	LastAccessedAt      time.Time `json:"last_accessed_at"`
	TTLDays             int       `json:"ttl_days,omitempty"`
}

// Profile is the per-user profile document.
type Profile struct {
	UserID      string            `json:"user_id"`
	DisplayName string            `json:"display_name,omitempty"`
	Preferences map[string]string `json:"preferences,omitempty"`
	UpdatedAt   time.Time         `json:"updated_at"`
}

// Summary is one stored conversation summary.
type Summary struct {
	SummaryID string    `json:"summary_id"`
	SessionID string    `json:"session_id,omitempty"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// RecalledEntry is one recall hit with its relevance.
type RecalledEntry struct {
	Entry     Entry   `json:"entry"`
	Relevance float64 `json:"relevance"`
}

// UserStore owns one user's memory files under
// data/user_memory/<user_id>/. All mutation and maintenance runs under the
// store lock; files are rewritten atomically.
type UserStore struct {
	mu       sync.Mutex
	dir      string
	userID   string
	embedder embed.Embedder
	now      func() time.Time

	entries   []Entry
	profile   Profile
	summaries []Summary
	loaded    bool
}

func NewUserStore(dataDir, userID string, embedder embed.Embedder) (*UserStore, error) {
	dir := filepath.Join(dataDir, "user_memory", sanitizeUserID(userID))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create user memory directory: %w", err)
	}
	return &UserStore{
		dir:      dir,
		userID:   userID,
		embedder: embedder,
		now:      time.Now,
	}, nil
}

// Add stores one memory, embedding it when an embedder is configured. The
// caller fills content, category, tags, salience, TTL, and source; the
// store assigns the ID and timestamps and clamps salience to [0.1, 1.0].
func (s *UserStore) Add(ctx context.Context, entry Entry) (*Entry, error) {
	if strings.TrimSpace(entry.Content) == "" {
		return nil, fmt.Errorf("memory content is empty")
	}
	entry.MemoryID = uuid.NewString()
	entry.SalienceScore = math.Max(0.1, math.Min(1.0, entry.SalienceScore))
	entry.AccessCount = 0
	entry.CreatedAt = s.now().UTC()
	entry.LastAccessedAt = entry.CreatedAt
	if s.embedder != nil {
		vectors, err := s.embedder.Embed(ctx, []string{entry.Content})
		if err == nil && len(vectors) == 1 {
			entry.Embedding = vectors[0]
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.loadLocked(); err != nil {
		return nil, err
	}
	s.entries = append(s.entries, entry)
	if err := s.saveMemoriesLocked(); err != nil {
		return nil, err
	}
	return &entry, nil
}

// Recall returns the most relevant memories for the query, ranked by
// semantic similarity (or token overlap without an embedder) weighted by
// decayed salience. Returned entries get an access bump.
func (s *UserStore) Recall(ctx context.Context, query string, limit int) ([]RecalledEntry, error) {
	if limit <= 0 {
		limit = 5
	}

	var queryVec []float32
	if s.embedder != nil && strings.TrimSpace(query) != "" {
		if vectors, err := s.embedder.Embed(ctx, []string{query}); err == nil && len(vectors) == 1 {
			queryVec = vectors[0]
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.loadLocked(); err != nil {
		return nil, err
	}

	now := s.now().UTC()
	var hits []RecalledEntry
	for i := range s.entries {
		entry := &s.entries[i]
		similarity := s.similarity(query, queryVec, entry)
		if similarity <= 0 {
			continue
		}
		hits = append(hits, RecalledEntry{
			Entry:     *entry,
			Relevance: similarity * effectiveSalience(*entry, now),
		})
	}
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].Relevance > hits[j].Relevance })
	if len(hits) > limit {
		hits = hits[:limit]
	}

	touched := false
	for _, hit := range hits {
		for i := range s.entries {
			if s.entries[i].MemoryID == hit.Entry.MemoryID {
				s.entries[i].AccessCount++
				s.entries[i].LastAccessedAt = now
				touched = true
			}
		}
	}
	if touched {
		if err := s.saveMemoriesLocked(); err != nil {
			return nil, err
		}
	}
	return hits, nil
}

// Get returns one memory by ID without an access bump.
func (s *UserStore) Get(memoryID string) (*Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.loadLocked(); err != nil {
		return nil, err
	}
	for i := range s.entries {
		if s.entries[i].MemoryID == memoryID {
			entry := s.entries[i]
			return &entry, nil
		}
	}
	return nil, fmt.Errorf("memory %s not found", memoryID)
}

// All returns every stored memory, newest first.
func (s *UserStore) All() ([]Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.loadLocked(); err != nil {
		return nil, err
	}
	out := make([]Entry, len(s.entries))
	copy(out, s.entries)
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

// Cleanup removes expired entries (past ttl_days) and entries whose
// decayed salience has dropped below the floor. Returns how many were
// removed.
func (s *UserStore) Cleanup() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.loadLocked(); err != nil {
		return 0, err
	}

	now := s.now().UTC()
	kept := s.entries[:0]
	removed := 0
	for _, entry := range s.entries {
		if expired(entry, now) || effectiveSalience(entry, now) < 0.1 {
			removed++
			continue
		}
		kept = append(kept, entry)
	}
	s.entries = kept
	if removed > 0 {
		if err := s.saveMemoriesLocked(); err != nil {
			return removed, err
		}
	}
	return removed, nil
}

// SaveProfile replaces the profile document.
func (s *UserStore) SaveProfile(profile Profile) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.loadLocked(); err != nil {
		return err
	}
	profile.UserID = s.userID
	profile.UpdatedAt = s.now().UTC()
	s.profile = profile
	return writeJSONAtomic(filepath.Join(s.dir, "profile.json"), &s.profile)
}

// GetProfile returns the profile document.
func (s *UserStore) GetProfile() (Profile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.loadLocked(); err != nil {
		return Profile{}, err
	}
	return s.profile, nil
}

// AddSummary appends one conversation summary.
func (s *UserStore) AddSummary(sessionID, content string) (*Summary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.loadLocked(); err != nil {
		return nil, err
	}
	summary := Summary{
		SummaryID: uuid.NewString(),
		SessionID: sessionID,
		Content:   content,
		CreatedAt: s.now().UTC(),
	}
	s.summaries = append(s.summaries, summary)
	if err := writeJSONAtomic(filepath.Join(s.dir, "summaries.json"), s.summaries); err != nil {
		return nil, err
	}
	return &summary, nil
}

// similarity is cosine against the entry embedding when both vectors
// exist, token overlap otherwise.
func (s *UserStore) similarity(query string, queryVec []float32, entry *Entry) float64 {
	if queryVec != nil && len(entry.Embedding) == len(queryVec) && len(queryVec) > 0 {
		return math.Max(0, cosine(queryVec, entry.Embedding))
	}
	if strings.TrimSpace(query) == "" {
		return 0.5
	}
	return tokenOverlap(query, entry.Content)
}

// effectiveSalience applies the geometric per-day decay since last access.
func effectiveSalience(entry Entry, now time.Time) float64 {
	days := now.Sub(entry.LastAccessedAt).Hours() / 24
	if days <= 0 {
		return entry.SalienceScore
	}
	return entry.SalienceScore * math.Pow(dailyDecay, days)
}

func expired(entry Entry, now time.Time) bool {
	if entry.TTLDays <= 0 {
		return false
	}
	return now.After(entry.CreatedAt.AddDate(0, 0, entry.TTLDays))
}

func cosine(a, b []float32) float64 {
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

// tokenOverlap is the lexical fallback: fraction of query tokens (len ≥ 3)
// found in the content.
func tokenOverlap(query, content string) float64 {
	lower := strings.ToLower(content)
	var total, matched int
	for _, token := range strings.Fields(strings.ToLower(query)) {
		token = strings.Trim(token, ".,!?:;\"'")
		if len(token) < 3 {
			continue
		}
		total++
		if strings.Contains(lower, token) {
			matched++
		}
	}
	if total == 0 {
		return 0
	}
	return float64(matched) / float64(total)
}

func (s *UserStore) loadLocked() error {
	if s.loaded {
		return nil
	}
	if err := readJSONIfExists(filepath.Join(s.dir, "memories.json"), &s.entries); err != nil {
		return err
	}
	if err := readJSONIfExists(filepath.Join(s.dir, "profile.json"), &s.profile); err != nil {
		return err
	}
	if err := readJSONIfExists(filepath.Join(s.dir, "summaries.json"), &s.summaries); err != nil {
		return err
	}
	if s.profile.UserID == "" {
		s.profile.UserID = s.userID
	}
	s.loaded = true
	return nil
}

func (s *UserStore) saveMemoriesLocked() error {
	return writeJSONAtomic(filepath.Join(s.dir, "memories.json"), s.entries)
}

func readJSONIfExists(path string, v any) error {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", filepath.Base(path), err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("failed to parse %s: %w", filepath.Base(path), err)
	}
	return nil
}

func writeJSONAtomic(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", filepath.Base(path), err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+"-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to write %s: %w", filepath.Base(path), err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to replace %s: %w", filepath.Base(path), err)
	}
	return nil
}

func sanitizeUserID(userID string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_', r == '.':
			return r
		default:
			return '_'
		}
	}, userID)
}

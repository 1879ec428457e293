package memory

import (
	"context"
	"log/slog"
	"sync"

	"github.com/latticehq/lattice/pkg/embed"
	"github.com/latticehq/lattice/pkg/llm"
)

// Extractor pulls durable facts out of a conversation.
type Extractor interface {
	Extract(ctx context.Context, conversation []llm.Message) ([]llm.ExtractedMemory, error)
}

// Service hands out per-user stores and runs extraction and maintenance
// across them.
type Service struct {
	dataDir   string
	embedder  embed.Embedder
	extractor Extractor
	logger    *slog.Logger

	mu     sync.Mutex
	stores map[string]*UserStore
}

func NewService(dataDir string, embedder embed.Embedder) *Service {
	return &Service{
		dataDir:  dataDir,
		embedder: embedder,
		logger:   slog.Default().With("component", "memory"),
		stores:   map[string]*UserStore{},
	}
}

// WithExtractor enables LLM memory extraction.
func (s *Service) WithExtractor(e Extractor) *Service {
	s.extractor = e
	return s
}

// Store returns the user's store, creating its directory on first use.
func (s *Service) Store(userID string) (*UserStore, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if store, ok := s.stores[userID]; ok {
		return store, nil
	}
	store, err := NewUserStore(s.dataDir, userID, s.embedder)
	if err != nil {
		return nil, err
	}
	s.stores[userID] = store
	return store, nil
}

// ExtractAndStore runs the extractor over a conversation and persists
// whatever it finds. Extraction failures are logged, not fatal: memory is
// an enhancement, never a gate on the conversation.
func (s *Service) ExtractAndStore(ctx context.Context, userID, interactionID string, conversation []llm.Message) int {
	if s.extractor == nil || len(conversation) == 0 {
		return 0
	}
	extracted, err := s.extractor.Extract(ctx, conversation)
	if err != nil {
		s.logger.Warn("Memory extraction failed", "user_id", userID, "error", err)
		return 0
	}

	store, err := s.Store(userID)
	if err != nil {
		s.logger.Warn("Memory store unavailable", "user_id", userID, "error", err)
		return 0
	}
	stored := 0
	for _, m := range extracted {
		_, err := store.Add(ctx, Entry{
			Content:             m.Content,
			Category:            m.Category,
			SalienceScore:       m.Salience,
			SourceInteractionID: interactionID,
		})
		if err != nil {
			s.logger.Warn("Failed to store extracted memory", "user_id", userID, "error", err)
			continue
		}
		stored++
	}
	if stored > 0 {
		s.logger.Info("Stored extracted memories", "user_id", userID, "count", stored)
	}
	return stored
}

// CleanupAll runs decay/TTL cleanup on every open store.
func (s *Service) CleanupAll() int {
	s.mu.Lock()
	stores := make([]*UserStore, 0, len(s.stores))
	for _, store := range s.stores {
		stores = append(stores, store)
	}
	s.mu.Unlock()

	total := 0
	for _, store := range stores {
		removed, err := store.Cleanup()
		if err != nil {
			s.logger.Warn("Memory cleanup failed", "user_id", store.userID, "error", err)
			continue
		}
		total += removed
	}
	return total
}

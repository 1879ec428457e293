package modality

import (
	"log/slog"
	"slices"
	"time"

	"github.com/latticehq/lattice/pkg/config"
)

// Registry owns the handler table and per-modality state. It is the only
// writer of the state snapshot.
type Registry struct {
	cfg     *config.SearchConfig
	store   *StateStore
	logger  *slog.Logger
	byID    map[string]Handler
	order   []string
	curHash string
}

// NewRegistry builds a registry over the search config. The current config
// hash is computed once; a stored hash that differs marks the modality as
// needing re-index.
func NewRegistry(cfg *config.SearchConfig, store *StateStore) *Registry {
	return &Registry{
		cfg:     cfg,
		store:   store,
		logger:  slog.Default().With("component", "registry"),
		byID:    map[string]Handler{},
		curHash: cfg.Hash(),
	}
}

// Register adds a handler. Registration order is preserved for iteration.
func (r *Registry) Register(h Handler) {
	id := h.ModalityID()
	if _, dup := r.byID[id]; dup {
		r.logger.Warn("Duplicate modality handler replaced", "modality", id)
	} else {
		r.order = append(r.order, id)
	}
	r.byID[id] = h
}

// Handler returns a registered handler by id.
func (r *Registry) Handler(id string) (Handler, bool) {
	h, ok := r.byID[id]
	return h, ok
}

// ConfigHash is the hash of the current search config block.
func (r *Registry) ConfigHash() string { return r.curHash }

// modalityConfig resolves the effective config; an unconfigured modality is
// treated as disabled.
func (r *Registry) modalityConfig(id string) config.ModalityConfig {
	mc, ok := r.cfg.Modality(id)
	if !ok {
		return config.ModalityConfig{}
	}
	return mc
}

// IngestionHandlers yields handlers that are enabled and can ingest, in
// registration order.
func (r *Registry) IngestionHandlers() []Handler {
	var out []Handler
	for _, id := range r.order {
		h := r.byID[id]
		if h.CanIngest() && r.modalityConfig(id).Enabled {
			out = append(out, h)
		}
	}
	return out
}

// QueryHandlers yields enabled handlers that can query. Fallback-only
// modalities are excluded unless includeFallback is set. A non-empty
// modalities list restricts the result to those ids.
func (r *Registry) QueryHandlers(includeFallback bool, modalities []string) []Handler {
	var out []Handler
	for _, id := range r.order {
		h := r.byID[id]
		if !h.CanQuery() {
			continue
		}
		mc := r.modalityConfig(id)
		if !mc.Enabled {
			continue
		}
		if mc.FallbackOnly && !includeFallback {
			continue
		}
		if len(modalities) > 0 && !slices.Contains(modalities, id) {
			continue
		}
		out = append(out, h)
	}
	return out
}

// FallbackHandlers yields enabled fallback-only handlers.
func (r *Registry) FallbackHandlers() []Handler {
	var out []Handler
	for _, id := range r.order {
		h := r.byID[id]
		mc := r.modalityConfig(id)
		if h.CanQuery() && mc.Enabled && mc.FallbackOnly {
			out = append(out, h)
		}
	}
	return out
}

// UpdateState records an ingestion outcome and stamps the current config hash.
func (r *Registry) UpdateState(modalityID string, lastErr error, extra map[string]any) error {
	return r.store.Update(modalityID, r.curHash, lastErr, extra)
}

// Checkpoint and SaveCheckpoint expose per-scope ingest checkpoints.
// State returns the stored ingestion state for a modality.
func (r *Registry) State(modalityID string) (State, bool) {
	return r.store.Get(modalityID)
}

func (r *Registry) Checkpoint(modalityID, scope string) (map[string]any, error) {
	return r.store.Checkpoint(modalityID, scope)
}

func (r *Registry) SaveCheckpoint(modalityID, scope string, data map[string]any) error {
	return r.store.SaveCheckpoint(modalityID, scope, data)
}

// ModalityStatus is the per-modality view surfaced by the status endpoint.
type ModalityStatus struct {
	ModalityID    string    `json:"modality_id"`
	Enabled       bool      `json:"enabled"`
	FallbackOnly  bool      `json:"fallback_only,omitempty"`
	CanIngest     bool      `json:"can_ingest"`
	LastIndexedAt time.Time `json:"last_indexed_at,omitzero"`
	LastError     string    `json:"last_error,omitempty"`
	NeedsReindex  bool      `json:"needs_reindex"`
}

// Status reports every registered modality. A modality whose persisted config
// hash differs from the current one needs re-index but remains queryable.
func (r *Registry) Status() []ModalityStatus {
	out := make([]ModalityStatus, 0, len(r.order))
	for _, id := range r.order {
		h := r.byID[id]
		mc := r.modalityConfig(id)
		ms := ModalityStatus{
			ModalityID:   id,
			Enabled:      mc.Enabled,
			FallbackOnly: mc.FallbackOnly,
			CanIngest:    h.CanIngest(),
		}
		if st, ok := r.store.Get(id); ok {
			ms.LastIndexedAt = st.LastIndexedAt
			ms.LastError = st.LastError
			ms.NeedsReindex = st.ConfigHash != r.curHash
		}
		out = append(out, ms)
	}
	return out
}

package config

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
)

// Hash returns the deterministic hash of the search-config block. Modality
// state records stamp this hash; a stored hash that differs from the current
// one marks the modality as needing re-index.
//
// Map iteration order is not deterministic, so modalities are serialized in
// sorted key order before hashing.
func (s SearchConfig) Hash() string {
	type hashedModality struct {
		ID     string         `json:"id"`
		Config ModalityConfig `json:"config"`
	}
	ids := make([]string, 0, len(s.Modalities))
	for id := range s.Modalities {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	mods := make([]hashedModality, 0, len(ids))
	for _, id := range ids {
		mods = append(mods, hashedModality{ID: id, Config: s.Modalities[id]})
	}

	payload := struct {
		Enabled     bool             `json:"enabled"`
		WorkspaceID string           `json:"workspace_id"`
		Defaults    SearchDefaults   `json:"defaults"`
		Modalities  []hashedModality `json:"modalities"`
		Planner     PlannerConfig    `json:"planner"`
	}{
		Enabled:     s.Enabled,
		WorkspaceID: s.WorkspaceID,
		Defaults:    s.Defaults,
		Modalities:  mods,
		Planner:     s.Planner,
	}

	data, err := json.Marshal(payload)
	if err != nil {
		// Marshal of plain structs cannot fail; keep a stable sentinel anyway.
		return fmt.Sprintf("unhashable:%v", err)
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:8])
}

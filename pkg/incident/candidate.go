package incident

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Evidence is one retrieved item backing a reasoning result.
type Evidence struct {
	ID        string         `json:"id"`
	Source    string         `json:"source"` // chat, scm, doc, issue, graph
	Title     string         `json:"title,omitempty"`
	URL       string         `json:"url,omitempty"`
	Snippet   string         `json:"snippet,omitempty"`
	Timestamp time.Time      `json:"timestamp,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// DocPriority is one document the reasoning pass flagged for attention.
type DocPriority struct {
	DocID    string `json:"doc_id"`
	DocURL   string `json:"doc_url,omitempty"`
	Title    string `json:"title,omitempty"`
	Reason   string `json:"reason,omitempty"`
	Priority string `json:"priority,omitempty"`
}

// ReasoningResult is the builder's input: what a query concluded and on
// what evidence.
type ReasoningResult struct {
	Query             string        `json:"query"`
	Summary           string        `json:"summary,omitempty"`
	Evidence          []Evidence    `json:"evidence"`
	Components        []string      `json:"components,omitempty"`
	DocPriorities     []DocPriority `json:"doc_priorities,omitempty"`
	ModalitiesUsed    []string      `json:"modalities_used,omitempty"`
	DependencyImpact  string        `json:"dependency_impact,omitempty"`
	TraceID           string        `json:"trace_id,omitempty"`
}

// Scope is the union of everything the evidence touches.
type Scope struct {
	Components  []string    `json:"components"`
	DocIDs      []string    `json:"doc_ids"`
	IssueIDs    []string    `json:"issue_ids"`
	ChatThreads []string    `json:"chat_threads"` // channel:ts
	SCMRefs     []string    `json:"scm_refs"`     // repo:pr_or_sha
	Timestamps  []time.Time `json:"-"`
}

// Counts summarizes the scope for the candidate record.
type Counts struct {
	Components int `json:"components"`
	Docs       int `json:"docs"`
	Issues     int `json:"issues"`
	Chat       int `json:"chat"`
	SCM        int `json:"scm"`
	Evidence   int `json:"evidence"`
}

// BlastRadius decomposes the 0-100 score into its three parts.
type BlastRadius struct {
	Score   float64 `json:"score"`
	Trust   float64 `json:"trust"`   // up to 40
	Scope   float64 `json:"scope"`   // up to 35
	Recency float64 `json:"recency"` // up to 25
}

// Entity is one per-entity rollup inside a candidate.
type Entity struct {
	Kind                   string   `json:"kind"` // component, doc, issue, chat_thread
	Key                    string   `json:"key"`
	Title                  string   `json:"title,omitempty"`
	ActivitySignals        []string `json:"activitySignals,omitempty"`
	DissatisfactionSignals []string `json:"dissatisfactionSignals,omitempty"`
	EvidenceIDs            []string `json:"evidenceIds,omitempty"`
	SuggestedAction        string   `json:"suggestedAction"`
}

// Candidate is a scored incident proposal built from one reasoning result.
type Candidate struct {
	CandidateID    string      `json:"candidate_id"`
	Query          string      `json:"query"`
	Summary        string      `json:"summary,omitempty"`
	Severity       string      `json:"severity"`
	BlastRadius    BlastRadius `json:"blast_radius"`
	Scope          Scope       `json:"scope"`
	Counts         Counts      `json:"counts"`
	Entities       []Entity    `json:"incident_entities"`
	Evidence       []Evidence  `json:"evidence"`
	ModalitiesUsed []string    `json:"modalities_used,omitempty"`
	TraceID        string      `json:"trace_id,omitempty"`
	CreatedAt      time.Time   `json:"created_at"`
}

// sourceTrust ranks how much one evidence source contributes to confidence.
var sourceTrust = map[string]float64{
	"scm":   1.0,
	"doc":   0.9,
	"issue": 0.85,
	"chat":  0.7,
	"graph": 0.65,
}

const unknownTrust = 0.5

const defaultSuggestedAction = "Review the linked evidence and confirm whether the documentation needs an update."

// Notifier receives newly built candidates. Implementations are fail-open;
// notification failures never block candidate creation.
type Notifier interface {
	NotifyCandidate(ctx context.Context, c *Candidate)
}

// Builder turns reasoning results into incident candidates.
type Builder struct {
	store    *InvestigationStore
	notifier Notifier
	logger   *slog.Logger
	now      func() time.Time
}

func NewBuilder(store *InvestigationStore) *Builder {
	return &Builder{
		store:  store,
		logger: slog.Default().With("component", "incident-builder"),
		now:    time.Now,
	}
}

// WithNotifier enables candidate notifications.
func (b *Builder) WithNotifier(n Notifier) *Builder {
	b.notifier = n
	return b
}

// Build summarizes scope, scores blast radius, rolls up entities, and
// persists the candidate. Every evidence ID referenced by an entity exists
// in the candidate's evidence list.
func (b *Builder) Build(result ReasoningResult) (*Candidate, error) {
	now := b.now().UTC()
	scope := summarizeScope(result)
	radius := blastRadius(result.Evidence, scope, now)

	candidate := &Candidate{
		CandidateID: uuid.NewString(),
		Query:       result.Query,
		Summary:     result.Summary,
		Severity:    severityFor(radius.Score),
		BlastRadius: radius,
		Scope:       scope,
		Counts: Counts{
			Components: len(scope.Components),
			Docs:       len(scope.DocIDs),
			Issues:     len(scope.IssueIDs),
			Chat:       len(scope.ChatThreads),
			SCM:        len(scope.SCMRefs),
			Evidence:   len(result.Evidence),
		},
		Entities:       buildEntities(result, scope),
		Evidence:       result.Evidence,
		ModalitiesUsed: result.ModalitiesUsed,
		TraceID:        result.TraceID,
		CreatedAt:      now,
	}

	if b.store != nil {
		if err := b.store.Append(candidate); err != nil {
			return nil, fmt.Errorf("failed to persist candidate: %w", err)
		}
	}
	b.logger.Info("Incident candidate built",
		"candidate_id", candidate.CandidateID,
		"severity", candidate.Severity,
		"blast_radius", candidate.BlastRadius.Score,
		"entities", len(candidate.Entities))
	if b.notifier != nil {
		b.notifier.NotifyCandidate(context.Background(), candidate)
	}
	return candidate, nil
}

// summarizeScope unions input components with IDs discovered in evidence
// metadata and collects typed references per source.
func summarizeScope(result ReasoningResult) Scope {
	components := newStringSet(result.Components...)
	docs := newStringSet()
	issues := newStringSet()
	chats := newStringSet()
	scms := newStringSet()
	var timestamps []time.Time

	for _, ev := range result.Evidence {
		if !ev.Timestamp.IsZero() {
			timestamps = append(timestamps, ev.Timestamp)
		}
		if comp := metaStr(ev.Metadata, "component_id", "component"); comp != "" {
			components.add(comp)
		}
		switch ev.Source {
		case "doc":
			if id := firstNonEmpty(metaStr(ev.Metadata, "doc_id"), metaStr(ev.Metadata, "path"), ev.URL); id != "" {
				docs.add(id)
			}
		case "issue":
			if id := firstNonEmpty(metaStr(ev.Metadata, "issue_id"), ev.ID); id != "" {
				issues.add(id)
			}
		case "chat":
			channel := metaStr(ev.Metadata, "channel_id", "channel")
			ts := metaStr(ev.Metadata, "thread_ts", "ts")
			if channel != "" && ts != "" {
				chats.add(channel + ":" + ts)
			}
		case "scm":
			repo := metaStr(ev.Metadata, "repo", "repository")
			ref := firstNonEmpty(metaStr(ev.Metadata, "pr_number", "pr"), metaStr(ev.Metadata, "sha", "commit"))
			if repo != "" && ref != "" {
				scms.add(repo + ":" + ref)
			}
		}
	}
	for _, dp := range result.DocPriorities {
		if dp.DocID != "" {
			docs.add(dp.DocID)
		}
	}

	return Scope{
		Components:  components.sorted(),
		DocIDs:      docs.sorted(),
		IssueIDs:    issues.sorted(),
		ChatThreads: chats.sorted(),
		SCMRefs:     scms.sorted(),
		Timestamps:  timestamps,
	}
}

// blastRadius scores 0-100: trust of the evidence sources, breadth of the
// scope, and freshness of the evidence.
func blastRadius(evidence []Evidence, scope Scope, now time.Time) BlastRadius {
	var trustSum float64
	for _, ev := range evidence {
		trust, ok := sourceTrust[ev.Source]
		if !ok {
			trust = unknownTrust
		}
		trustSum += trust
	}
	trust := math.Min(40, trustSum*8)

	scopeScore := math.Min(35,
		6*float64(len(scope.Components))+
			4*float64(len(scope.DocIDs))+
			5*float64(len(scope.IssueIDs))+
			3*float64(len(scope.ChatThreads)+len(scope.SCMRefs)))

	recency := recencyPoints(scope.Timestamps, now)
	return BlastRadius{
		Score:   trust + scopeScore + recency,
		Trust:   trust,
		Scope:   scopeScore,
		Recency: recency,
	}
}

// recencyPoints awards up to 25 based on average evidence freshness: full
// marks at 0h, nothing at 72h or older.
func recencyPoints(timestamps []time.Time, now time.Time) float64 {
	if len(timestamps) == 0 {
		return 0
	}
	var hoursSum float64
	for _, ts := range timestamps {
		hoursSum += math.Max(0, now.Sub(ts).Hours())
	}
	avg := hoursSum / float64(len(timestamps))
	if avg >= 72 {
		return 0
	}
	return 25 * (1 - avg/72)
}

func severityFor(score float64) string {
	switch {
	case score >= 80:
		return "critical"
	case score >= 60:
		return "high"
	case score >= 40:
		return "medium"
	default:
		return "low"
	}
}

// buildEntities produces one rollup per affected component, prioritized
// doc, issue evidence, and chat thread, attaching matching evidence through
// a pre-built metadata index.
func buildEntities(result ReasoningResult, scope Scope) []Entity {
	index := buildEvidenceIndex(result.Evidence)

	var entities []Entity
	for _, comp := range scope.Components {
		entities = append(entities, Entity{
			Kind:            "component",
			Key:             comp,
			Title:           comp,
			ActivitySignals: signalsFor(index.bySource(comp, "scm", "chat", "doc")),
			EvidenceIDs:     index.lookup(comp),
			SuggestedAction: suggestedAction(DocPriority{}, result.DependencyImpact),
		})
	}
	for _, dp := range result.DocPriorities {
		key := firstNonEmpty(dp.DocID, dp.DocURL)
		if key == "" {
			continue
		}
		evidenceIDs := index.lookup(dp.DocID)
		if len(evidenceIDs) == 0 && dp.DocURL != "" {
			evidenceIDs = index.lookup(dp.DocURL)
		}
		entities = append(entities, Entity{
			Kind:            "doc",
			Key:             key,
			Title:           firstNonEmpty(dp.Title, dp.DocID),
			ActivitySignals: []string{"doc_priority:" + firstNonEmpty(dp.Priority, "unranked")},
			EvidenceIDs:     evidenceIDs,
			SuggestedAction: suggestedAction(dp, result.DependencyImpact),
		})
	}
	for _, ev := range result.Evidence {
		switch ev.Source {
		case "issue":
			entities = append(entities, Entity{
				Kind:                   "issue",
				Key:                    firstNonEmpty(metaStr(ev.Metadata, "issue_id"), ev.ID),
				Title:                  ev.Title,
				ActivitySignals:        []string{"doc_issue"},
				DissatisfactionSignals: []string{"doc_issue:" + ev.ID},
				EvidenceIDs:            []string{ev.ID},
				SuggestedAction:        suggestedAction(DocPriority{}, result.DependencyImpact),
			})
		case "chat":
			channel := metaStr(ev.Metadata, "channel_id", "channel")
			ts := metaStr(ev.Metadata, "thread_ts", "ts")
			if channel == "" || ts == "" {
				continue
			}
			entities = append(entities, Entity{
				Kind:            "chat_thread",
				Key:             channel + ":" + ts,
				Title:           ev.Title,
				ActivitySignals: []string{"chat_thread"},
				EvidenceIDs:     []string{ev.ID},
				SuggestedAction: suggestedAction(DocPriority{}, result.DependencyImpact),
			})
		}
	}
	return entities
}

// suggestedAction picks the most relevant driver: a doc priority reason,
// then the dependency impact summary, then the default.
func suggestedAction(dp DocPriority, dependencyImpact string) string {
	if strings.TrimSpace(dp.Reason) != "" {
		return dp.Reason
	}
	if strings.TrimSpace(dependencyImpact) != "" {
		return dependencyImpact
	}
	return defaultSuggestedAction
}

// evidenceIndex maps doc_id/doc_url/component_id keys to evidence IDs.
type evidenceIndex struct {
	byKey    map[string][]string
	evidence []Evidence
}

func buildEvidenceIndex(evidence []Evidence) *evidenceIndex {
	idx := &evidenceIndex{byKey: map[string][]string{}, evidence: evidence}
	for _, ev := range evidence {
		for _, key := range []string{
			metaStr(ev.Metadata, "doc_id"),
			metaStr(ev.Metadata, "doc_url"),
			metaStr(ev.Metadata, "path"),
			metaStr(ev.Metadata, "component_id", "component"),
			ev.URL,
		} {
			if key != "" {
				idx.byKey[key] = append(idx.byKey[key], ev.ID)
			}
		}
	}
	return idx
}

func (idx *evidenceIndex) lookup(key string) []string {
	if key == "" {
		return nil
	}
	return dedupeStrings(idx.byKey[key])
}

// bySource returns the evidence for a key filtered to the given sources.
func (idx *evidenceIndex) bySource(key string, sources ...string) []Evidence {
	ids := newStringSet(idx.byKey[key]...)
	var out []Evidence
	for _, ev := range idx.evidence {
		if _, ok := ids.m[ev.ID]; !ok {
			continue
		}
		for _, src := range sources {
			if ev.Source == src {
				out = append(out, ev)
				break
			}
		}
	}
	return out
}

func signalsFor(evidence []Evidence) []string {
	var signals []string
	for _, ev := range evidence {
		signals = append(signals, ev.Source+":"+ev.ID)
	}
	return signals
}

type stringSet struct{ m map[string]struct{} }

func newStringSet(values ...string) stringSet {
	s := stringSet{m: map[string]struct{}{}}
	for _, v := range values {
		s.add(v)
	}
	return s
}

func (s stringSet) add(v string) {
	if v != "" {
		s.m[v] = struct{}{}
	}
}

func (s stringSet) sorted() []string {
	out := make([]string, 0, len(s.m))
	for v := range s.m {
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}

func dedupeStrings(values []string) []string {
	seen := map[string]struct{}{}
	var out []string
	for _, v := range values {
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}

func metaStr(meta map[string]any, keys ...string) string {
	for _, key := range keys {
		if v, ok := meta[key].(string); ok && v != "" {
			return v
		}
	}
	return ""
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

package severity

import (
	"context"
	"math"
	"slices"
	"strings"
	"time"

	"github.com/latticehq/lattice/pkg/chunk"
	"github.com/latticehq/lattice/pkg/graph"
	"github.com/latticehq/lattice/pkg/vector"
)

// signalWindow is the trailing window every activity axis looks at.
const signalWindow = 7 * 24 * time.Hour

// ChatFeatures is the raw chat-axis snapshot.
type ChatFeatures struct {
	Messages7d      int     `json:"messages_7d"`
	Threads7d       int     `json:"threads_7d"`
	UniqueAuthors   int     `json:"unique_authors"`
	MaxWeight       float64 `json:"max_weight"`
	AvgWeight       float64 `json:"avg_weight"`
	HoursSinceLast  float64 `json:"hours_since_last"`
	CriticalChannel bool    `json:"critical_channel"`
	LabelCount      int     `json:"label_count"`
}

func (e *Engine) chatFeatures(ctx context.Context, components []string) (ChatFeatures, float64) {
	now := e.now().UTC()
	stats := e.graph.GetSignalStats(ctx, components, []string{"chat"}, now.Add(-signalWindow).Unix())

	f := ChatFeatures{
		Messages7d:     stats.Count,
		Threads7d:      stats.Threads,
		UniqueAuthors:  stats.UniqueAuthors,
		MaxWeight:      stats.MaxWeight,
		AvgWeight:      stats.AvgWeight,
		HoursSinceLast: hoursSince(now, stats.LastSeenUnix),
		LabelCount:     stats.LabelCount,
	}
	f.CriticalChannel = e.criticalChannelSeen(ctx, components)

	score := 0.3*math.Log1p(float64(f.Messages7d)) +
		0.2*math.Log1p(float64(f.Threads7d)) +
		0.2*math.Log1p(float64(f.UniqueAuthors)) +
		0.2*recencyScore(f.HoursSinceLast) +
		0.1*math.Min(f.MaxWeight, 1)
	if f.CriticalChannel {
		score += 0.1
	}
	score = math.Min(score/4, 1)
	if f.Messages7d == 0 {
		score = math.Min(score, 0.15)
	}
	return f, score
}

// criticalChannelSeen checks whether any recent chat signal carries a
// critical channel label.
func (e *Engine) criticalChannelSeen(ctx context.Context, components []string) bool {
	if len(e.cfg.CriticalChannels) == 0 {
		return false
	}
	records := e.graph.RunQuery(ctx, `
		MATCH (sig:ActivitySignal {kind: 'chat'})-[:SIGNALS]->(c:Component)
		WHERE c.component_id IN $ids AND sig.timestamp >= $since
		UNWIND sig.labels AS label
		RETURN collect(DISTINCT label) AS labels`,
		map[string]any{
			"ids":   components,
			"since": e.now().UTC().Add(-signalWindow).Unix(),
		})
	if len(records) == 0 {
		return false
	}
	labels, _ := records[0]["labels"].([]any)
	for _, label := range labels {
		name, _ := label.(string)
		if slices.Contains(e.cfg.CriticalChannels, name) {
			return true
		}
	}
	return false
}

// SCMFeatures is the raw scm-axis snapshot.
type SCMFeatures struct {
	PRs7d          int     `json:"prs_7d"`
	Commits7d      int     `json:"commits_7d"`
	DocChanges7d   int     `json:"doc_changes_7d"`
	BreakingLabels int     `json:"breaking_labels"`
	MaxWeight      float64 `json:"max_weight"`
	HoursSinceLast float64 `json:"hours_since_last"`
}

var breakingLabels = []string{"breaking_change", "breaking", "bug", "regression"}

func (e *Engine) scmFeatures(ctx context.Context, components []string) (SCMFeatures, float64) {
	now := e.now().UTC()
	since := now.Add(-signalWindow).Unix()
	prStats := e.graph.GetSignalStats(ctx, components, []string{"pr"}, since)
	commitStats := e.graph.GetSignalStats(ctx, components, []string{"commit"}, since)

	f := SCMFeatures{
		PRs7d:          prStats.Count,
		Commits7d:      commitStats.Count,
		BreakingLabels: e.countBreakingLabels(ctx, components, since),
		MaxWeight:      math.Max(prStats.MaxWeight, commitStats.MaxWeight),
		HoursSinceLast: hoursSince(now, max64(prStats.LastSeenUnix, commitStats.LastSeenUnix)),
	}
	if f.PRs7d == 0 && f.Commits7d == 0 {
		return f, 0
	}

	score := 0.3*math.Log1p(float64(f.PRs7d)) +
		0.2*math.Log1p(float64(f.Commits7d)) +
		0.2*math.Log1p(float64(f.BreakingLabels)) +
		0.2*recencyScore(f.HoursSinceLast) +
		0.1*math.Min(f.MaxWeight/2.5, 1)
	return f, math.Min(score/4, 1)
}

func (e *Engine) countBreakingLabels(ctx context.Context, components []string, since int64) int {
	records := e.graph.RunQuery(ctx, `
		MATCH (sig:ActivitySignal)-[:SIGNALS]->(c:Component)
		WHERE c.component_id IN $ids AND sig.timestamp >= $since
		  AND sig.kind IN ['pr', 'commit', 'issue']
		UNWIND sig.labels AS label
		WITH label WHERE toLower(label) IN $breaking
		RETURN count(label) AS breaking`,
		map[string]any{"ids": components, "since": since, "breaking": breakingLabels})
	if len(records) == 0 {
		return 0
	}
	if n, ok := records[0]["breaking"].(int64); ok {
		return int(n)
	}
	return 0
}

// DocFeatures is the raw doc-axis snapshot, derived from the issue record
// itself rather than the backends.
type DocFeatures struct {
	BaseSeverity   float64 `json:"base_severity"`
	ImpactLevel    float64 `json:"impact_level"`
	ComponentCount int     `json:"component_count"`
	HoursSinceEdit float64 `json:"hours_since_edit"`
	CriticalLabel  bool    `json:"critical_label"`
}

var severityScale = map[string]float64{
	"low": 0.3, "medium": 0.6, "high": 0.85, "critical": 1.0,
}

func (e *Engine) docFeatures(input Input) (DocFeatures, float64) {
	f := DocFeatures{
		BaseSeverity:   severityScale[strings.ToLower(input.DocSeverity)],
		ImpactLevel:    severityScale[strings.ToLower(input.DocImpact)],
		ComponentCount: len(input.Components),
		CriticalLabel:  hasCriticalLabel(input.DocLabels),
	}
	if f.BaseSeverity == 0 {
		f.BaseSeverity = severityScale["low"]
	}
	if f.ImpactLevel == 0 {
		f.ImpactLevel = f.BaseSeverity
	}
	if !input.DocUpdatedAt.IsZero() {
		f.HoursSinceEdit = e.now().UTC().Sub(input.DocUpdatedAt).Hours()
	}

	score := 0.4*(0.7*f.BaseSeverity+0.3*f.ImpactLevel) +
		0.3*math.Min(float64(f.ComponentCount)/4, 1) +
		0.3*recencyScore(f.HoursSinceEdit)
	if f.CriticalLabel {
		score += 0.1
	}
	return f, clamp01(score)
}

func hasCriticalLabel(labels []string) bool {
	for _, label := range labels {
		lower := strings.ToLower(label)
		if strings.Contains(lower, "critical") || strings.Contains(lower, "urgent") || strings.Contains(lower, "sev1") {
			return true
		}
	}
	return false
}

// GraphFeatures is the raw graph-axis snapshot.
type GraphFeatures struct {
	graph.ComponentActivity
}

func (e *Engine) graphFeatures(ctx context.Context, components []string) (GraphFeatures, float64) {
	activity := e.graph.GetComponentActivity(ctx, components, e.now().UTC().Add(-signalWindow).Unix())
	f := GraphFeatures{ComponentActivity: activity}

	blast := math.Min((float64(activity.Components)+0.5*float64(activity.Downstream2Hop))/10, 1)
	recent := math.Min(float64(activity.ChatSignals7d+activity.SCMSignals7d)/20, 1)
	related := math.Min(float64(activity.RelatedIssues+activity.SupportCases)/8, 1)
	return f, 0.5*blast + 0.3*recent + 0.2*related
}

// PairDrift is one semantic pair's evaluation.
type PairDrift struct {
	Name       string  `json:"name"`
	Similarity float64 `json:"similarity"`
	Drift      float64 `json:"drift"`
	Weight     float64 `json:"weight"`
	Samples    int     `json:"samples"`
}

// semanticFeatures evaluates the configured drift pairs. Each pair's
// similarity is the weighted mean of pair-filtered retrieval scores for the
// topic; drift is its complement.
func (e *Engine) semanticFeatures(ctx context.Context, input Input) ([]PairDrift, float64) {
	if e.vector == nil || strings.TrimSpace(input.Topic) == "" {
		return nil, 0
	}
	var pairs []PairDrift
	var weighted, totalWeight float64
	for _, pair := range e.cfg.SemanticPairs {
		drift := e.pairDrift(ctx, input, pair.Left, pair.Right)
		drift.Name = pair.Name
		drift.Weight = pair.Weight
		pairs = append(pairs, drift)
		weighted += pair.Weight * drift.Drift
		totalWeight += pair.Weight
	}
	if totalWeight == 0 {
		return pairs, 0
	}
	return pairs, weighted / totalWeight
}

// pairDrift measures how differently two corpora speak about the topic: the
// similarity is the mean retrieval score of the weaker side, so a topic well
// covered in docs but absent from chat shows high drift.
func (e *Engine) pairDrift(ctx context.Context, input Input, left, right string) PairDrift {
	leftSim, leftN := e.topicSimilarity(ctx, input, left)
	rightSim, rightN := e.topicSimilarity(ctx, input, right)
	sim := math.Min(leftSim, rightSim)
	return PairDrift{Similarity: sim, Drift: clamp01(1 - sim), Samples: leftN + rightN}
}

func (e *Engine) topicSimilarity(ctx context.Context, input Input, sourceType string) (float64, int) {
	opts := vector.SearchOptions{
		TopK:        5,
		SourceTypes: []chunk.SourceType{chunk.SourceType(sourceType)},
	}
	if len(input.Components) > 0 {
		opts.Components = input.Components
	}
	hits, err := e.vector.SemanticSearch(ctx, input.Topic, opts)
	if err != nil || len(hits) == 0 {
		return 0, 0
	}
	var sum float64
	for _, hit := range hits {
		sum += hit.Score
	}
	return sum / float64(len(hits)), len(hits)
}

// recencyScore maps hours-since-last-activity onto [0,1] over the window.
func recencyScore(hours float64) float64 {
	if hours <= 0 {
		return 1
	}
	windowHours := signalWindow.Hours()
	if hours >= windowHours {
		return 0
	}
	return 1 - hours/windowHours
}

func hoursSince(now time.Time, unix int64) float64 {
	if unix <= 0 {
		return math.Inf(1)
	}
	return now.Sub(time.Unix(unix, 0)).Hours()
}

func clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}

func max64(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}

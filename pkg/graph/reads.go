package graph

import (
	"context"
)

// Neighborhood is the distinct set of entities linked to a component.
type Neighborhood struct {
	ComponentID string   `json:"component_id"`
	DocIDs      []string `json:"doc_ids"`
	IssueIDs    []string `json:"issue_ids"`
	PRIDs       []string `json:"pr_ids"`
	ChatThreads []string `json:"chat_threads"`
	APIIDs      []string `json:"api_ids"`
}

// GetComponentNeighborhood returns the distinct linked entities of a
// component. Unconfigured backends yield an empty (but non-nil-field)
// summary.
func (s *Service) GetComponentNeighborhood(ctx context.Context, componentID string) Neighborhood {
	n := Neighborhood{ComponentID: componentID}
	records := s.RunQuery(ctx, `
		MATCH (c:Component {component_id: $component_id})
		OPTIONAL MATCH (doc:Source {source_type: 'doc'})-[]-(c)
		OPTIONAL MATCH (i:Issue)-[:REFERENCES]->(c)
		OPTIONAL MATCH (pr:PR)-[:TOUCHES]->(c)
		OPTIONAL MATCH (chat:Source {source_type: 'chat'})-[]-(c)
		OPTIONAL MATCH (api:APIEndpoint)-[:EXPOSED_BY]->(c)
		RETURN collect(DISTINCT doc.source_id)  AS doc_ids,
		       collect(DISTINCT i.repo + ':' + toString(i.number)) AS issue_ids,
		       collect(DISTINCT pr.repo + ':' + toString(pr.number)) AS pr_ids,
		       collect(DISTINCT chat.source_id) AS chat_threads,
		       collect(DISTINCT api.api_id)     AS api_ids`,
		map[string]any{"component_id": componentID})
	if len(records) == 0 {
		return n
	}
	rec := records[0]
	n.DocIDs = toStrings(rec["doc_ids"])
	n.IssueIDs = toStrings(rec["issue_ids"])
	n.PRIDs = toStrings(rec["pr_ids"])
	n.ChatThreads = toStrings(rec["chat_threads"])
	n.APIIDs = toStrings(rec["api_ids"])
	return n
}

// APIImpact summarizes what depends on an API endpoint.
type APIImpact struct {
	APIID          string   `json:"api_id"`
	Components     []string `json:"components"`
	DownstreamDocs []string `json:"downstream_docs"`
	Consumers      []string `json:"consumers"`
}

// GetAPIImpact returns components exposing the endpoint, consumers calling
// it, and docs describing it.
func (s *Service) GetAPIImpact(ctx context.Context, apiID string) APIImpact {
	impact := APIImpact{APIID: apiID}
	records := s.RunQuery(ctx, `
		MATCH (api:APIEndpoint {api_id: $api_id})
		OPTIONAL MATCH (api)-[:EXPOSED_BY]->(c:Component)
		OPTIONAL MATCH (consumer:Component)-[:CALLS]->(api)
		OPTIONAL MATCH (doc:Source {source_type: 'doc'})-[:DESCRIBES]->(api)
		RETURN collect(DISTINCT c.component_id)        AS components,
		       collect(DISTINCT consumer.component_id) AS consumers,
		       collect(DISTINCT doc.source_id)         AS docs`,
		map[string]any{"api_id": apiID})
	if len(records) == 0 {
		return impact
	}
	rec := records[0]
	impact.Components = toStrings(rec["components"])
	impact.Consumers = toStrings(rec["consumers"])
	impact.DownstreamDocs = toStrings(rec["docs"])
	return impact
}

// ComponentActivity aggregates recent signal counts around a component.
// Consumed by the severity engine's graph axis.
type ComponentActivity struct {
	Components     int `json:"components"`
	Docs           int `json:"docs"`
	Services       int `json:"services"`
	RelatedIssues  int `json:"related_issues"`
	ChatSignals7d  int `json:"chat_signals_7d"`
	SCMSignals7d   int `json:"scm_signals_7d"`
	SupportCases   int `json:"support_cases"`
	Downstream2Hop int `json:"downstream_2hop"`
}

// GetComponentActivity counts the blast-radius inputs for a set of
// components over the trailing window.
func (s *Service) GetComponentActivity(ctx context.Context, componentIDs []string, sinceUnix int64) ComponentActivity {
	var a ComponentActivity
	records := s.RunQuery(ctx, `
		MATCH (c:Component) WHERE c.component_id IN $ids
		OPTIONAL MATCH (doc:Source {source_type: 'doc'})-[]-(c)
		OPTIONAL MATCH (svc:Service)-[]-(c)
		OPTIONAL MATCH (i:Issue)-[:REFERENCES]->(c)
		OPTIONAL MATCH (sig:ActivitySignal)-[:SIGNALS]->(c) WHERE sig.timestamp >= $since
		OPTIONAL MATCH (sc:SupportCase)-[]-(c)
		OPTIONAL MATCH (c)<-[:DEPENDS_ON*1..2]-(down:Component)
		RETURN count(DISTINCT c)   AS components,
		       count(DISTINCT doc) AS docs,
		       count(DISTINCT svc) AS services,
		       count(DISTINCT i)   AS related_issues,
		       count(DISTINCT CASE WHEN sig.kind = 'chat' THEN sig END) AS chat_signals,
		       count(DISTINCT CASE WHEN sig.kind IN ['pr','commit'] THEN sig END) AS scm_signals,
		       count(DISTINCT sc)   AS support_cases,
		       count(DISTINCT down) AS downstream`,
		map[string]any{"ids": componentIDs, "since": sinceUnix})
	if len(records) == 0 {
		return a
	}
	rec := records[0]
	a.Components = toInt(rec["components"])
	a.Docs = toInt(rec["docs"])
	a.Services = toInt(rec["services"])
	a.RelatedIssues = toInt(rec["related_issues"])
	a.ChatSignals7d = toInt(rec["chat_signals"])
	a.SCMSignals7d = toInt(rec["scm_signals"])
	a.SupportCases = toInt(rec["support_cases"])
	a.Downstream2Hop = toInt(rec["downstream"])
	return a
}

// SignalStats aggregates activity-signal weights for one signal kind.
type SignalStats struct {
	Count         int     `json:"count"`
	Threads       int     `json:"threads"`
	UniqueAuthors int     `json:"unique_authors"`
	MaxWeight     float64 `json:"max_weight"`
	AvgWeight     float64 `json:"avg_weight"`
	LastSeenUnix  int64   `json:"last_seen_unix"`
	LabelCount    int     `json:"label_count"`
}

// GetSignalStats aggregates signals of the given kinds attached to the
// components since the cutoff.
func (s *Service) GetSignalStats(ctx context.Context, componentIDs []string, kinds []string, sinceUnix int64) SignalStats {
	var st SignalStats
	records := s.RunQuery(ctx, `
		MATCH (sig:ActivitySignal)-[:SIGNALS]->(c:Component)
		WHERE c.component_id IN $ids AND sig.kind IN $kinds AND sig.timestamp >= $since
		RETURN count(sig)                 AS count,
		       count(DISTINCT sig.thread) AS threads,
		       count(DISTINCT sig.author) AS authors,
		       coalesce(max(sig.weight), 0.0) AS max_weight,
		       coalesce(avg(sig.weight), 0.0) AS avg_weight,
		       coalesce(max(sig.timestamp), 0) AS last_seen,
		       coalesce(sum(size(sig.labels)), 0) AS label_count`,
		map[string]any{"ids": componentIDs, "kinds": kinds, "since": sinceUnix})
	if len(records) == 0 {
		return st
	}
	rec := records[0]
	st.Count = toInt(rec["count"])
	st.Threads = toInt(rec["threads"])
	st.UniqueAuthors = toInt(rec["authors"])
	st.MaxWeight = toFloat(rec["max_weight"])
	st.AvgWeight = toFloat(rec["avg_weight"])
	st.LastSeenUnix = int64(toInt(rec["last_seen"]))
	st.LabelCount = toInt(rec["label_count"])
	return st
}

func toStrings(v any) []string {
	items, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		if s, ok := item.(string); ok && s != "" {
			out = append(out, s)
		}
	}
	return out
}

func toInt(v any) int {
	switch n := v.(type) {
	case int64:
		return int(n)
	case int:
		return n
	case float64:
		return int(n)
	default:
		return 0
	}
}

func toFloat(v any) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case int64:
		return float64(n)
	case int:
		return float64(n)
	default:
		return 0
	}
}

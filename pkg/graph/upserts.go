package graph

import (
	"context"
	"time"

	"github.com/latticehq/lattice/pkg/chunk"
)

// Node property bags. Every upsert MERGEs on the primary identifier so
// repeated ingestion of the same entity is idempotent.

// ChunkNode mirrors a vector chunk into the graph.
type ChunkNode struct {
	ChunkID    string
	EntityID   string
	SourceType string
	SourceID   string
	Component  string
	Timestamp  time.Time
}

// ChunkNodeFrom maps a vector chunk onto its graph mirror.
func ChunkNodeFrom(c *chunk.Chunk) ChunkNode {
	return ChunkNode{
		ChunkID:    c.ChunkID,
		EntityID:   c.EntityID,
		SourceType: string(c.SourceType),
		SourceID:   c.SourceID(),
		Component:  c.Component,
		Timestamp:  c.Timestamp,
	}
}

// SourceNode is one upstream item (message, commit, doc, video, file).
type SourceNode struct {
	SourceID   string
	SourceType string
	Title      string
	URL        string
	Component  string
	Timestamp  time.Time
}

// PRNode is a pull request.
type PRNode struct {
	Repo      string
	Number    int
	Title     string
	Author    string
	URL       string
	MergedAt  time.Time
	Files     int
	Additions int
	Deletions int
	Labels    []string
}

// CommitNode is a single commit.
type CommitNode struct {
	Repo      string
	SHA       string
	Message   string
	Author    string
	URL       string
	Timestamp time.Time
	Files     int
	Churn     int
}

// IssueNode is an SCM issue.
type IssueNode struct {
	Repo      string
	Number    int
	Title     string
	State     string
	URL       string
	Labels    []string
	Comments  int
	Reactions int
	UpdatedAt time.Time
}

// VideoNode, ChannelNode, PlaylistNode, TranscriptChunkNode and ConceptNode
// model the video modality subgraph: Video→Channel→Playlist→Chunk→Concept.
type VideoNode struct {
	VideoID     string
	Title       string
	ChannelID   string
	URL         string
	Duration    int
	PublishedAt time.Time
}

type ChannelNode struct {
	ChannelID string
	Title     string
}

type PlaylistNode struct {
	PlaylistID string
	Title      string
}

type TranscriptChunkNode struct {
	ChunkID  string
	VideoID  string
	StartSec float64
	EndSec   float64
}

type ConceptNode struct {
	Name string
}

// ActivitySignalNode is a weighted activity event attached to components.
type ActivitySignalNode struct {
	SignalID   string
	Kind       string // "pr", "commit", "issue", "chat"
	Weight     float64
	Components []string
	Labels     []string
	Timestamp  time.Time
}

// SupportCaseNode records a dissatisfaction-labeled issue.
type SupportCaseNode struct {
	CaseID    string
	Repo      string
	Number    int
	Title     string
	URL       string
	Labels    []string
	UpdatedAt time.Time
}

// CodeArtifactNode is a source file or endpoint implementation.
type CodeArtifactNode struct {
	ArtifactID string
	Path       string
	Component  string
	Language   string
}

// UpsertChunk mirrors a chunk and links it to its source node.
func (s *Service) UpsertChunk(ctx context.Context, n ChunkNode) {
	s.RunWrite(ctx, `
		MERGE (c:Chunk {chunk_id: $chunk_id})
		SET c.entity_id = $entity_id, c.source_type = $source_type,
		    c.component = $component, c.timestamp = $timestamp
		WITH c
		MATCH (src:Source {source_id: $source_id})
		MERGE (c)-[:BELONGS_TO]->(src)`,
		map[string]any{
			"chunk_id":    n.ChunkID,
			"entity_id":   n.EntityID,
			"source_type": n.SourceType,
			"component":   n.Component,
			"timestamp":   n.Timestamp.Unix(),
			"source_id":   n.SourceID,
		})
}

// UpsertSource dedupes on source_id.
func (s *Service) UpsertSource(ctx context.Context, n SourceNode) {
	s.RunWrite(ctx, `
		MERGE (src:Source {source_id: $source_id})
		SET src.source_type = $source_type, src.title = $title,
		    src.url = $url, src.component = $component, src.timestamp = $timestamp`,
		map[string]any{
			"source_id":   n.SourceID,
			"source_type": n.SourceType,
			"title":       n.Title,
			"url":         n.URL,
			"component":   n.Component,
			"timestamp":   n.Timestamp.Unix(),
		})
}

// UpsertPR links the PR to each component it touches.
func (s *Service) UpsertPR(ctx context.Context, n PRNode, components []string) {
	s.RunWrite(ctx, `
		MERGE (pr:PR {repo: $repo, number: $number})
		SET pr.title = $title, pr.author = $author, pr.url = $url,
		    pr.merged_at = $merged_at, pr.files = $files,
		    pr.additions = $additions, pr.deletions = $deletions, pr.labels = $labels
		WITH pr
		UNWIND $components AS comp_id
		MERGE (c:Component {component_id: comp_id})
		MERGE (pr)-[:TOUCHES]->(c)`,
		map[string]any{
			"repo": n.Repo, "number": n.Number, "title": n.Title,
			"author": n.Author, "url": n.URL, "merged_at": n.MergedAt.Unix(),
			"files": n.Files, "additions": n.Additions, "deletions": n.Deletions,
			"labels": n.Labels, "components": emptyToNilSlice(components),
		})
}

// UpsertCommit links the commit to each component it touches.
func (s *Service) UpsertCommit(ctx context.Context, n CommitNode, components []string) {
	s.RunWrite(ctx, `
		MERGE (cm:Commit {repo: $repo, sha: $sha})
		SET cm.message = $message, cm.author = $author, cm.url = $url,
		    cm.timestamp = $timestamp, cm.files = $files, cm.churn = $churn
		WITH cm
		UNWIND $components AS comp_id
		MERGE (c:Component {component_id: comp_id})
		MERGE (cm)-[:TOUCHES]->(c)`,
		map[string]any{
			"repo": n.Repo, "sha": n.SHA, "message": n.Message,
			"author": n.Author, "url": n.URL, "timestamp": n.Timestamp.Unix(),
			"files": n.Files, "churn": n.Churn,
			"components": emptyToNilSlice(components),
		})
}

// UpsertIssue links the issue to each component it references.
func (s *Service) UpsertIssue(ctx context.Context, n IssueNode, components []string) {
	s.RunWrite(ctx, `
		MERGE (i:Issue {repo: $repo, number: $number})
		SET i.title = $title, i.state = $state, i.url = $url, i.labels = $labels,
		    i.comments = $comments, i.reactions = $reactions, i.updated_at = $updated_at
		WITH i
		UNWIND $components AS comp_id
		MERGE (c:Component {component_id: comp_id})
		MERGE (i)-[:REFERENCES]->(c)`,
		map[string]any{
			"repo": n.Repo, "number": n.Number, "title": n.Title,
			"state": n.State, "url": n.URL, "labels": n.Labels,
			"comments": n.Comments, "reactions": n.Reactions,
			"updated_at": n.UpdatedAt.Unix(),
			"components": emptyToNilSlice(components),
		})
}

// UpsertVideo stores video metadata.
func (s *Service) UpsertVideo(ctx context.Context, n VideoNode) {
	s.RunWrite(ctx, `
		MERGE (v:Video {video_id: $video_id})
		SET v.title = $title, v.channel_id = $channel_id, v.url = $url,
		    v.duration = $duration, v.published_at = $published_at`,
		map[string]any{
			"video_id": n.VideoID, "title": n.Title, "channel_id": n.ChannelID,
			"url": n.URL, "duration": n.Duration, "published_at": n.PublishedAt.Unix(),
		})
}

// UpsertChannel stores a video channel.
func (s *Service) UpsertChannel(ctx context.Context, n ChannelNode) {
	s.RunWrite(ctx,
		`MERGE (c:Channel {channel_id: $channel_id}) SET c.title = $title`,
		map[string]any{"channel_id": n.ChannelID, "title": n.Title})
}

// UpsertPlaylist stores a playlist.
func (s *Service) UpsertPlaylist(ctx context.Context, n PlaylistNode) {
	s.RunWrite(ctx,
		`MERGE (p:Playlist {playlist_id: $playlist_id}) SET p.title = $title`,
		map[string]any{"playlist_id": n.PlaylistID, "title": n.Title})
}

// UpsertTranscriptChunk stores a transcript chunk with its time span.
func (s *Service) UpsertTranscriptChunk(ctx context.Context, n TranscriptChunkNode) {
	s.RunWrite(ctx, `
		MERGE (t:TranscriptChunk {chunk_id: $chunk_id})
		SET t.video_id = $video_id, t.start_sec = $start_sec, t.end_sec = $end_sec`,
		map[string]any{
			"chunk_id": n.ChunkID, "video_id": n.VideoID,
			"start_sec": n.StartSec, "end_sec": n.EndSec,
		})
}

// UpsertConcept stores a concept keyword.
func (s *Service) UpsertConcept(ctx context.Context, n ConceptNode) {
	s.RunWrite(ctx, `MERGE (c:Concept {name: $name})`, map[string]any{"name": n.Name})
}

// UpsertCodeArtifact stores a code artifact linked to its component.
func (s *Service) UpsertCodeArtifact(ctx context.Context, n CodeArtifactNode) {
	s.RunWrite(ctx, `
		MERGE (a:CodeArtifact {artifact_id: $artifact_id})
		SET a.path = $path, a.language = $language
		WITH a
		MERGE (c:Component {component_id: $component})
		MERGE (a)-[:PART_OF]->(c)`,
		map[string]any{
			"artifact_id": n.ArtifactID, "path": n.Path,
			"language": n.Language, "component": n.Component,
		})
}

// UpsertActivitySignal attaches a weighted signal to its components.
func (s *Service) UpsertActivitySignal(ctx context.Context, n ActivitySignalNode) {
	s.RunWrite(ctx, `
		MERGE (sig:ActivitySignal {signal_id: $signal_id})
		SET sig.kind = $kind, sig.weight = $weight, sig.labels = $labels,
		    sig.timestamp = $timestamp
		WITH sig
		UNWIND $components AS comp_id
		MERGE (c:Component {component_id: comp_id})
		MERGE (sig)-[:SIGNALS]->(c)`,
		map[string]any{
			"signal_id": n.SignalID, "kind": n.Kind, "weight": n.Weight,
			"labels": n.Labels, "timestamp": n.Timestamp.Unix(),
			"components": emptyToNilSlice(n.Components),
		})
}

// UpsertSupportCase records a dissatisfaction-labeled issue.
func (s *Service) UpsertSupportCase(ctx context.Context, n SupportCaseNode) {
	s.RunWrite(ctx, `
		MERGE (sc:SupportCase {case_id: $case_id})
		SET sc.repo = $repo, sc.number = $number, sc.title = $title,
		    sc.url = $url, sc.labels = $labels, sc.updated_at = $updated_at`,
		map[string]any{
			"case_id": n.CaseID, "repo": n.Repo, "number": n.Number,
			"title": n.Title, "url": n.URL, "labels": n.Labels,
			"updated_at": n.UpdatedAt.Unix(),
		})
}

// LinkVideoChannel connects a video to its channel.
func (s *Service) LinkVideoChannel(ctx context.Context, videoID, channelID string) {
	s.RunWrite(ctx, `
		MATCH (v:Video {video_id: $video_id})
		MATCH (c:Channel {channel_id: $channel_id})
		MERGE (v)-[:ON_CHANNEL]->(c)`,
		map[string]any{"video_id": videoID, "channel_id": channelID})
}

// LinkVideoChunk connects a video to one of its transcript chunks.
func (s *Service) LinkVideoChunk(ctx context.Context, videoID, chunkID string) {
	s.RunWrite(ctx, `
		MATCH (v:Video {video_id: $video_id})
		MATCH (t:TranscriptChunk {chunk_id: $chunk_id})
		MERGE (t)-[:PART_OF]->(v)`,
		map[string]any{"video_id": videoID, "chunk_id": chunkID})
}

// LinkChunkConcept connects a transcript chunk to a concept.
func (s *Service) LinkChunkConcept(ctx context.Context, chunkID, concept string) {
	s.RunWrite(ctx, `
		MATCH (t:TranscriptChunk {chunk_id: $chunk_id})
		MERGE (c:Concept {name: $name})
		MERGE (t)-[:MENTIONS]->(c)`,
		map[string]any{"chunk_id": chunkID, "name": concept})
}

// LinkVideoPlaylist connects a video to a playlist.
func (s *Service) LinkVideoPlaylist(ctx context.Context, videoID, playlistID string) {
	s.RunWrite(ctx, `
		MATCH (v:Video {video_id: $video_id})
		MATCH (p:Playlist {playlist_id: $playlist_id})
		MERGE (v)-[:IN_PLAYLIST]->(p)`,
		map[string]any{"video_id": videoID, "playlist_id": playlistID})
}

// Normalize nil to an empty list so the UNWIND parameter is always list-typed.
func emptyToNilSlice(in []string) []string {
	if in == nil {
		return []string{}
	}
	return in
}

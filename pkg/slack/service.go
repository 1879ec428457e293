package slack

import (
	"context"
	"log/slog"
	"time"

	"github.com/latticehq/lattice/pkg/incident"
)

// ServiceConfig holds the parameters needed to construct a Service.
type ServiceConfig struct {
	Token        string
	Channel      string
	DashboardURL string
	// MinSeverity gates notifications; candidates below it are skipped.
	// Empty means "high".
	MinSeverity string
}

var severityRank = map[string]int{
	"low":      0,
	"medium":   1,
	"high":     2,
	"critical": 3,
}

// Service delivers incident-candidate notifications.
// Nil-safe: all methods are no-ops when service is nil.
type Service struct {
	client       *Client
	dashboardURL string
	minSeverity  int
	logger       *slog.Logger
}

// NewService creates a new notification service.
// Returns nil if Token or Channel is empty.
func NewService(cfg ServiceConfig) *Service {
	if cfg.Token == "" || cfg.Channel == "" {
		return nil
	}
	return newService(NewClient(cfg.Token, cfg.Channel), cfg)
}

// NewServiceWithClient creates a Service backed by a pre-built Client.
// Useful for testing with a mock API server.
func NewServiceWithClient(client *Client, cfg ServiceConfig) *Service {
	return newService(client, cfg)
}

func newService(client *Client, cfg ServiceConfig) *Service {
	min := cfg.MinSeverity
	if min == "" {
		min = "high"
	}
	return &Service{
		client:       client,
		dashboardURL: cfg.DashboardURL,
		minSeverity:  severityRank[min],
		logger:       slog.Default().With("component", "slack-service"),
	}
}

// NotifyCandidate posts one incident-candidate notification. A prior
// notification for the same query within 24h becomes the thread root.
// Fail-open: errors are logged, never returned.
func (s *Service) NotifyCandidate(ctx context.Context, c *incident.Candidate) {
	if s == nil || c == nil {
		return
	}
	if severityRank[c.Severity] < s.minSeverity {
		return
	}

	threadTS, err := s.client.FindThreadByMarker(ctx, c.Query)
	if err != nil {
		s.logger.Warn("Failed to find Slack thread for candidate",
			"candidate_id", c.CandidateID,
			"error", err)
	}

	blocks := BuildCandidateMessage(c, s.dashboardURL)
	if err := s.client.PostMessage(ctx, blocks, threadTS, 10*time.Second); err != nil {
		s.logger.Error("Failed to send candidate notification",
			"candidate_id", c.CandidateID,
			"severity", c.Severity,
			"error", err)
	}
}

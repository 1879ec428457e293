package slack

import (
	"fmt"
	"strings"

	goslack "github.com/slack-go/slack"

	"github.com/latticehq/lattice/pkg/incident"
)

const maxBlockTextLength = 2900

var severityEmoji = map[string]string{
	"critical": ":rotating_light:",
	"high":     ":warning:",
	"medium":   ":large_yellow_circle:",
	"low":      ":large_blue_circle:",
}

func candidateURL(candidateID, dashboardURL string) string {
	return fmt.Sprintf("%s/investigations/%s", dashboardURL, candidateID)
}

// BuildCandidateMessage creates Block Kit blocks for an incident-candidate
// notification.
func BuildCandidateMessage(c *incident.Candidate, dashboardURL string) []goslack.Block {
	emoji := severityEmoji[c.Severity]
	if emoji == "" {
		emoji = ":question:"
	}

	header := fmt.Sprintf("%s *Incident candidate (%s)* — %s", emoji, c.Severity, c.Query)
	var blocks []goslack.Block
	blocks = append(blocks, goslack.NewSectionBlock(
		goslack.NewTextBlockObject(goslack.MarkdownType, truncateForSlack(header), false, false),
		nil, nil,
	))

	detail := fmt.Sprintf("*Blast radius:* %.0f/100 (trust %.1f, scope %.1f, recency %.1f)\n*Scope:* %d components, %d docs, %d issues, %d evidence items",
		c.BlastRadius.Score, c.BlastRadius.Trust, c.BlastRadius.Scope, c.BlastRadius.Recency,
		c.Counts.Components, c.Counts.Docs, c.Counts.Issues, c.Counts.Evidence)
	if c.Summary != "" {
		detail = truncateForSlack(c.Summary) + "\n\n" + detail
	}
	blocks = append(blocks, goslack.NewSectionBlock(
		goslack.NewTextBlockObject(goslack.MarkdownType, detail, false, false),
		nil, nil,
	))

	if actions := topActions(c, 3); len(actions) > 0 {
		text := "*Suggested actions:*\n• " + strings.Join(actions, "\n• ")
		blocks = append(blocks, goslack.NewSectionBlock(
			goslack.NewTextBlockObject(goslack.MarkdownType, truncateForSlack(text), false, false),
			nil, nil,
		))
	}

	if dashboardURL != "" {
		btn := goslack.NewButtonBlockElement("", "",
			goslack.NewTextBlockObject(goslack.PlainTextType, "View Investigation", false, false))
		btn.URL = candidateURL(c.CandidateID, dashboardURL)
		blocks = append(blocks, goslack.NewActionBlock("", btn))
	}

	return blocks
}

// topActions collects distinct suggested actions from the entity rollups.
func topActions(c *incident.Candidate, limit int) []string {
	var out []string
	seen := map[string]bool{}
	for _, e := range c.Entities {
		action := e.SuggestedAction
		if action == "" || seen[action] {
			continue
		}
		seen[action] = true
		out = append(out, fmt.Sprintf("%s `%s`: %s", e.Kind, e.Key, action))
		if len(out) >= limit {
			break
		}
	}
	return out
}

func truncateForSlack(text string) string {
	if len(text) <= maxBlockTextLength {
		return text
	}
	return text[:maxBlockTextLength] + "\n\n_... (truncated — view full candidate in dashboard)_"
}

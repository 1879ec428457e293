// Package planner maps a natural-language query to the modality subset worth
// consulting, via declarative first-match-wins keyword rules plus optional
// structured hints.
package planner

import (
	"log/slog"
	"slices"
	"strings"

	"github.com/latticehq/lattice/pkg/config"
)

// Intent classifies what the caller is trying to do with the query.
type Intent string

const (
	IntentNone        Intent = ""
	IntentCompare     Intent = "COMPARE"
	IntentInvestigate Intent = "INVESTIGATE"
)

// TargetType identifies what a resolved hashtag or mention points at.
type TargetType string

const (
	TargetSlackChannel TargetType = "slack_channel"
	TargetIncident     TargetType = "incident"
	TargetComponent    TargetType = "component"
	TargetService      TargetType = "service"
	TargetRepository   TargetType = "repository"
	TargetDoc          TargetType = "doc"
	TargetDocIssue     TargetType = "doc_issue"
)

// Hints carry structured context resolved before planning.
type Hints struct {
	TargetTypes []TargetType `json:"target_types,omitempty"`
	Intent      Intent       `json:"intent,omitempty"`
	Keywords    []string     `json:"keywords,omitempty"`
}

// Planner selects modalities for a query against the current search config.
type Planner struct {
	cfg    *config.SearchConfig
	logger *slog.Logger
}

func New(cfg *config.SearchConfig) *Planner {
	return &Planner{cfg: cfg, logger: slog.Default().With("component", "planner")}
}

// Plan returns the ordered modality IDs to query. When includeFallback is
// set, only enabled fallback-only modalities are returned: that pass runs
// after the primary fanout came back empty.
func (p *Planner) Plan(query string, includeFallback bool, hints *Hints) []string {
	if includeFallback {
		return p.enabledModalities(true)
	}

	primary := p.enabledModalities(false)
	selected := primary

	if p.cfg.Planner.Enabled {
		if rule, ok := p.matchRule(query, hints); ok {
			selected = intersect(rule.Include, primary)
			p.logger.Debug("Planner rule matched", "rule", rule.Name, "modalities", selected)
		}
	}

	if hints != nil {
		selected = applyHints(selected, primary, hints)
	}
	return selected
}

// matchRule evaluates rules in declaration order against the lowercased
// query (and hint keywords). First match wins.
func (p *Planner) matchRule(query string, hints *Hints) (config.PlannerRule, bool) {
	haystack := strings.ToLower(query)
	if hints != nil && len(hints.Keywords) > 0 {
		haystack += " " + strings.ToLower(strings.Join(hints.Keywords, " "))
	}
	for _, rule := range p.cfg.Planner.Rules {
		for _, kw := range rule.Keywords {
			if kw == "" {
				continue
			}
			if strings.Contains(haystack, strings.ToLower(kw)) {
				return rule, true
			}
		}
	}
	return config.PlannerRule{}, false
}

// enabledModalities lists modality IDs in sorted-config order, split by
// fallback class.
func (p *Planner) enabledModalities(fallback bool) []string {
	var out []string
	for _, id := range p.cfg.ModalityIDs() {
		mc, ok := p.cfg.Modality(id)
		if ok && mc.Enabled && mc.FallbackOnly == fallback {
			out = append(out, id)
		}
	}
	return out
}

// applyHints widens the selection: resolved target types and intents pull in
// the modalities that can answer for them, provided they are enabled primary
// modalities.
func applyHints(selected, primary []string, hints *Hints) []string {
	add := func(id string) {
		if slices.Contains(primary, id) && !slices.Contains(selected, id) {
			selected = append(selected, id)
		}
	}
	for _, tt := range hints.TargetTypes {
		switch tt {
		case TargetSlackChannel, TargetIncident:
			add("chat")
		case TargetComponent, TargetService, TargetRepository:
			add("scm")
		case TargetDoc, TargetDocIssue:
			add("docs")
		}
		if tt == TargetIncident {
			add("scm")
		}
	}
	if hints.Intent == IntentCompare || hints.Intent == IntentInvestigate {
		add("chat")
		add("scm")
	}
	return selected
}

func intersect(include, enabled []string) []string {
	var out []string
	for _, id := range include {
		if slices.Contains(enabled, id) {
			out = append(out, id)
		}
	}
	return out
}

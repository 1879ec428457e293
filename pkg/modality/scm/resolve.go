package scm

import (
	"slices"
	"strings"

	"github.com/latticehq/lattice/pkg/config"
)

// resolveComponents maps changed file paths to component and endpoint IDs via
// the configured prefix rules. Results are deduped, input order preserved.
func resolveComponents(paths []string, rules []config.ComponentRule) (components, endpoints []string) {
	for _, path := range paths {
		for _, rule := range rules {
			if !strings.HasPrefix(path, rule.PathPrefix) {
				continue
			}
			for _, comp := range rule.Components {
				if !slices.Contains(components, comp) {
					components = append(components, comp)
				}
			}
			for _, ep := range rule.EndpointIDs {
				if !slices.Contains(endpoints, ep) {
					endpoints = append(endpoints, ep)
				}
			}
		}
	}
	return components, endpoints
}

// prWeight scores a PR's activity signal by file count and line churn.
func prWeight(files, churn int) float64 {
	return 1 + minf(float64(files), 10)*0.1 + minf(float64(churn)/200, 1)*0.5
}

// commitWeight mirrors prWeight.
func commitWeight(files, churn int) float64 {
	return prWeight(files, churn)
}

// issueWeight adds engagement terms and a dissatisfaction bump.
func issueWeight(comments, reactions int, dissatisfied bool) float64 {
	w := 1 + 0.05*minf(float64(comments), 20) + 0.03*minf(float64(reactions), 20)
	if dissatisfied {
		w += 0.4
	}
	return w
}

// defaultDissatisfactionLabels mark an issue as a support case.
var defaultDissatisfactionLabels = []string{
	"dissatisfaction", "customer-impact", "complaint", "frustration", "regression",
}

// hasDissatisfactionLabel checks labels against the configured (or default)
// dissatisfaction set, case-insensitively.
func hasDissatisfactionLabel(labels []string, configured []string) bool {
	set := configured
	if len(set) == 0 {
		set = defaultDissatisfactionLabels
	}
	for _, label := range labels {
		for _, want := range set {
			if strings.EqualFold(label, want) {
				return true
			}
		}
	}
	return false
}

func minf(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}

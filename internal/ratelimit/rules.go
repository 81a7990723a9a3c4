package ratelimit

import (
	"sort"
	"time"

	"github.com/npai/quota-engine/internal/config"
)

// Rule is one short-window limit. Rules are loaded once at startup and
// never mutated; many rules apply to a single request.
type Rule struct {
	Name        string
	Scope       string
	Window      time.Duration
	MaxRequests int64
	Category    string
}

// Tightest and cheapest-to-violate scopes come first so a violation
// short-circuits the remaining counter round trips.
var scopePriority = map[string]int{
	"burst":    0,
	"endpoint": 1,
	"api_key":  2,
	"user":     3,
	"ip":       4,
	"global":   5,
}

// RulesFromConfig builds the evaluation-ordered rule set.
func RulesFromConfig(configs []config.RuleConfig) []Rule {
	rules := make([]Rule, 0, len(configs))
	for _, rc := range configs {
		rules = append(rules, Rule{
			Name:        rc.Name,
			Scope:       rc.Scope,
			Window:      time.Duration(rc.WindowSeconds) * time.Second,
			MaxRequests: rc.MaxRequests,
			Category:    rc.Category,
		})
	}

	sort.SliceStable(rules, func(i, j int) bool {
		pi, pj := scopePriority[rules[i].Scope], scopePriority[rules[j].Scope]
		if pi != pj {
			return pi < pj
		}
		return rules[i].Window < rules[j].Window
	})

	return rules
}

package config

import (
	"encoding/json"
	"log"
	"regexp"
)

// LimitRule is a per-target admission override selected by the first URL
// pattern that matches. Concurrency and RPS values <= 0 mean "no override".
type LimitRule struct {
	Pattern     string         `json:"pattern"`
	Concurrency int            `json:"concurrency"`
	RPS         int            `json:"rps"`
	Regexp      *regexp.Regexp `json:"-"`
}

// ParseServiceLimits parses the SERVICE_LIMITS_JSON payload, a JSON array of
// {pattern, concurrency, rps} objects. Rule order is preserved: the first
// matching pattern wins. Malformed JSON or an unparsable pattern is logged
// and skipped; the result is never an error (misconfiguration must not be
// fatal).
func ParseServiceLimits(raw string) []LimitRule {
	if raw == "" {
		return nil
	}
	var items []LimitRule
	if err := json.Unmarshal([]byte(raw), &items); err != nil {
		log.Printf("[config] SERVICE_LIMITS_JSON: invalid JSON, ignoring: %v", err)
		return nil
	}
	rules := make([]LimitRule, 0, len(items))
	for _, item := range items {
		if item.Pattern == "" {
			continue
		}
		re, err := regexp.Compile(item.Pattern)
		if err != nil {
			log.Printf("[config] SERVICE_LIMITS_JSON: invalid pattern %q, skipping: %v", item.Pattern, err)
			continue
		}
		item.Regexp = re
		rules = append(rules, item)
	}
	return rules
}

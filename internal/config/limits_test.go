package config

import "testing"

func TestParseServiceLimits(t *testing.T) {
	rules := ParseServiceLimits(`[
		{"pattern": "api\\.example\\.com", "concurrency": 2, "rps": 1},
		{"pattern": "example\\.com", "rps": 5}
	]`)
	if len(rules) != 2 {
		t.Fatalf("expected 2 rules, got %d", len(rules))
	}
	if rules[0].Pattern != `api\.example\.com` || rules[0].Concurrency != 2 || rules[0].RPS != 1 {
		t.Fatalf("first rule mismatch: %+v", rules[0])
	}
	if rules[1].Concurrency != 0 || rules[1].RPS != 5 {
		t.Fatalf("second rule mismatch: %+v", rules[1])
	}
	if !rules[0].Regexp.MatchString("https://api.example.com/health") {
		t.Fatal("compiled pattern should match")
	}
	if rules[0].Regexp.MatchString("https://api_example_com/") {
		t.Fatal("dots must be escaped, not wildcards")
	}
}

func TestParseServiceLimitsEmpty(t *testing.T) {
	if rules := ParseServiceLimits(""); rules != nil {
		t.Fatalf("expected nil for empty input, got %v", rules)
	}
}

func TestParseServiceLimitsInvalidJSON(t *testing.T) {
	if rules := ParseServiceLimits(`{"not": "an array"`); rules != nil {
		t.Fatalf("invalid JSON must yield no rules, got %v", rules)
	}
}

func TestParseServiceLimitsSkipsBadPattern(t *testing.T) {
	rules := ParseServiceLimits(`[
		{"pattern": "([unclosed", "rps": 1},
		{"pattern": "ok\\.example", "rps": 2},
		{"pattern": "", "rps": 3}
	]`)
	if len(rules) != 1 {
		t.Fatalf("expected the single valid rule, got %d", len(rules))
	}
	if rules[0].RPS != 2 {
		t.Fatalf("wrong surviving rule: %+v", rules[0])
	}
}

package gate

import (
	"regexp"
	"testing"
	"time"

	"github.com/pingtower/pingtower/internal/config"
)

func rule(pattern string, concurrency, rps int) config.LimitRule {
	return config.LimitRule{
		Pattern:     pattern,
		Concurrency: concurrency,
		RPS:         rps,
		Regexp:      regexp.MustCompile(pattern),
	}
}

func TestForURLNoRules(t *testing.T) {
	r := NewRegistry(4, 0, nil)
	sem, perRPS := r.ForURL("https://example.com")
	if sem == nil {
		t.Fatal("expected the global semaphore")
	}
	if perRPS != 0 {
		t.Fatalf("expected no per-rule rps, got %d", perRPS)
	}
	again, _ := r.ForURL("https://other.example")
	if again != sem {
		t.Fatal("unmatched URLs must share the global semaphore")
	}
}

func TestForURLFirstMatchWins(t *testing.T) {
	r := NewRegistry(4, 0, []config.LimitRule{
		rule(`api\.example\.com`, 0, 2),
		rule(`example\.com`, 0, 9),
	})
	_, perRPS := r.ForURL("https://api.example.com/health")
	if perRPS != 2 {
		t.Fatalf("expected first rule's rps 2, got %d", perRPS)
	}
	_, perRPS = r.ForURL("https://www.example.com/")
	if perRPS != 9 {
		t.Fatalf("expected second rule's rps 9, got %d", perRPS)
	}
}

func TestForURLPerPatternSemaphoreShared(t *testing.T) {
	r := NewRegistry(4, 0, []config.LimitRule{rule(`example\.com`, 2, 0)})
	global, _ := r.ForURL("https://unrelated.invalid")
	a, _ := r.ForURL("https://example.com/a")
	b, _ := r.ForURL("https://example.com/b")
	if a == global {
		t.Fatal("matched rule with concurrency must not use the global semaphore")
	}
	if a != b {
		t.Fatal("both URLs match the same rule and must share one semaphore")
	}
}

func TestForURLRuleWithoutConcurrencyKeepsGlobal(t *testing.T) {
	r := NewRegistry(4, 0, []config.LimitRule{rule(`example\.com`, 0, 5)})
	global, _ := r.ForURL("https://unrelated.invalid")
	sem, perRPS := r.ForURL("https://example.com/")
	if sem != global {
		t.Fatal("rule without a concurrency cap must keep the global semaphore")
	}
	if perRPS != 5 {
		t.Fatalf("expected rps 5, got %d", perRPS)
	}
}

func TestDelay(t *testing.T) {
	cases := []struct {
		name      string
		globalRPS int
		i         int
		perRPS    int
		want      time.Duration
	}{
		{"no caps", 0, 5, 0, 0},
		{"global smoothing", 10, 3, 0, 300 * time.Millisecond},
		{"global first slot", 10, 0, 0, 0},
		{"per-rule floor", 0, 0, 2, 500 * time.Millisecond},
		{"global dominates", 10, 10, 2, time.Second},
		{"per-rule dominates", 10, 1, 2, 500 * time.Millisecond},
	}
	for _, tc := range cases {
		r := NewRegistry(1, tc.globalRPS, nil)
		if got := r.Delay(tc.i, tc.perRPS); got != tc.want {
			t.Fatalf("%s: expected %s, got %s", tc.name, tc.want, got)
		}
	}
}

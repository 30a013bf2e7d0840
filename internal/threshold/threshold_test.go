package threshold

import (
	"testing"
)

const sample = `global_thresholds:
  MIN_ARR: 100000
  CHURN_RISK: 0.35
  TIER: enterprise

renewal-watch:
  MIN_ARR: 250000
`

func newResolver(t *testing.T) *Resolver {
	t.Helper()
	r, err := FromYAML([]byte(sample))
	if err != nil {
		t.Fatalf("parse thresholds: %v", err)
	}
	return r
}

func TestLookupOrder(t *testing.T) {
	r := newResolver(t)
	v, ok := r.Resolve("MIN_ARR", "renewal-watch")
	if !ok || v != 250000 {
		t.Fatalf("expected playbook override, got %v", v)
	}
	v, ok = r.Resolve("MIN_ARR", "other-playbook")
	if !ok || v != 100000 {
		t.Fatalf("expected global default, got %v", v)
	}
	if _, ok := r.Resolve("MISSING", "renewal-watch"); ok {
		t.Fatalf("expected not found")
	}
}

func TestSubstitute(t *testing.T) {
	r := newResolver(t)
	got := r.Substitute("$.account.arr >= ${thresholds.MIN_ARR}", "renewal-watch")
	if got != "$.account.arr >= 250000" {
		t.Fatalf("unexpected substitution: %s", got)
	}
	got = r.Substitute("$.risk > ${thresholds.CHURN_RISK} AND $.tier == ${thresholds.TIER}", "any")
	if got != "$.risk > 0.35 AND $.tier == enterprise" {
		t.Fatalf("unexpected substitution: %s", got)
	}
}

func TestUnresolvedPlaceholderLeftIntact(t *testing.T) {
	r := newResolver(t)
	expr := "$.x > ${thresholds.NOT_CONFIGURED}"
	if got := r.Substitute(expr, "any"); got != expr {
		t.Fatalf("placeholder must stay intact, got %s", got)
	}
}

func TestSubstituteIdempotent(t *testing.T) {
	r := newResolver(t)
	once := r.Substitute("$.arr >= ${thresholds.MIN_ARR}", "any")
	twice := r.Substitute(once, "any")
	if once != twice {
		t.Fatalf("substitution not idempotent: %q vs %q", once, twice)
	}
}

func TestResolveAllMerges(t *testing.T) {
	r := newResolver(t)
	merged := r.ResolveAll("renewal-watch")
	if merged["MIN_ARR"] != 250000 {
		t.Fatalf("expected override in merged set, got %v", merged["MIN_ARR"])
	}
	if merged["CHURN_RISK"] != 0.35 {
		t.Fatalf("expected global in merged set, got %v", merged["CHURN_RISK"])
	}
}

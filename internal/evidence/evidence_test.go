package evidence

import (
	"strings"
	"testing"
)

func validEntry() map[string]any {
	return map[string]any{
		"title": "Expansion opportunity",
		"evidence": []any{
			map[string]any{
				"source_artifact": "meeting_notes/2026-03-01.md",
				"date":            "2026-03-01",
				"excerpt":         "Customer asked about the enterprise tier.",
				"confidence":      "HIGH",
			},
		},
	}
}

func TestValidOutput(t *testing.T) {
	out := map[string]any{
		"decisions": []any{validEntry()},
		"risks":     []any{validEntry()},
		"summary":   "free text fields are ignored",
	}
	if errs := Validate(out); len(errs) != 0 {
		t.Fatalf("expected valid, got %v", errs)
	}
	if err := ValidateStrict(out); err != nil {
		t.Fatalf("strict: %v", err)
	}
}

func TestAbsentFieldsAreFine(t *testing.T) {
	if errs := Validate(map[string]any{"other": "x"}); len(errs) != 0 {
		t.Fatalf("absent evidence fields must pass, got %v", errs)
	}
}

func TestMissingEvidenceList(t *testing.T) {
	out := map[string]any{
		"risks": []any{map[string]any{"title": "no proof"}},
	}
	errs := Validate(out)
	if len(errs) != 1 || !strings.Contains(errs[0], "missing evidence") {
		t.Fatalf("expected missing-evidence error, got %v", errs)
	}
}

func TestEmptyEvidenceList(t *testing.T) {
	out := map[string]any{
		"gaps": []any{map[string]any{"evidence": []any{}}},
	}
	if errs := Validate(out); len(errs) != 1 {
		t.Fatalf("expected one error, got %v", errs)
	}
}

func TestEvidenceFields(t *testing.T) {
	entry := validEntry()
	ev := entry["evidence"].([]any)[0].(map[string]any)
	ev["source_artifact"] = ""
	ev["date"] = "03/01/2026"
	ev["excerpt"] = ""
	ev["confidence"] = "CERTAIN"
	out := map[string]any{"recommendations": []any{entry}}
	errs := Validate(out)
	if len(errs) != 4 {
		t.Fatalf("expected 4 errors, got %d: %v", len(errs), errs)
	}
}

func TestDateShape(t *testing.T) {
	cases := map[string]bool{
		"2026-03-01": true,
		"0000-00-00": true, // structural, not calendrical
		"2026-3-1":   false,
		"2026/03/01": false,
		"":           false,
	}
	for in, want := range cases {
		if got := validDate(in); got != want {
			t.Fatalf("validDate(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestNonListField(t *testing.T) {
	out := map[string]any{"threats": "not a list"}
	errs := Validate(out)
	if len(errs) != 1 || !strings.Contains(errs[0], "list") {
		t.Fatalf("expected list error, got %v", errs)
	}
}

func TestStrictAggregates(t *testing.T) {
	out := map[string]any{
		"risks": []any{map[string]any{"evidence": []any{}}},
		"gaps":  []any{map[string]any{"evidence": []any{}}},
	}
	err := ValidateStrict(out)
	if err == nil {
		t.Fatalf("expected error")
	}
	if !strings.Contains(err.Error(), "risks") || !strings.Contains(err.Error(), "gaps") {
		t.Fatalf("expected aggregated message, got %v", err)
	}
}

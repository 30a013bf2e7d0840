package playbook

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"steward/internal/threshold"
)

const generativePlaybook = `framework_name: Deal Qualification
playbook_mode: GENERATIVE
intended_agent_role: qualification-agent
primary_objective: qualify inbound deals
trigger_conditions:
  - deal_stage_changed
decision_logic:
  rules:
    - id: rule-always
      condition: "$.deal EXISTS"
      severity: HIGH
      creates: [Decision]
      decision:
        title: Qualify the deal
        context: deal data present
version: "1.0"
status: active
last_updated: "2026-03-10"
`

func newTestExecutor(t *testing.T, playbookYAML string) *Executor {
	t.Helper()
	dir := t.TempDir()
	if playbookYAML != "" {
		if err := os.WriteFile(filepath.Join(dir, "pb-1.yaml"), []byte(playbookYAML), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	res, err := threshold.FromYAML([]byte("global_thresholds:\n  min_score: 70\n"))
	if err != nil {
		t.Fatal(err)
	}
	e := NewExecutor(dir, filepath.Join(t.TempDir(), "runs"), res)
	e.Now = func() time.Time { return time.Date(2026, 3, 10, 9, 30, 0, 0, time.UTC) }
	return e
}

func TestExecuteAlwaysTrueRule(t *testing.T) {
	e := newTestExecutor(t, generativePlaybook)
	res, err := e.Execute("pb-1", "client-7", map[string]any{"deal": map[string]any{"stage": "closed_won"}})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if res.Status != RunCompleted {
		t.Fatalf("status = %s, want completed", res.Status)
	}
	if len(res.Outputs) != 1 {
		t.Fatalf("outputs = %d, want 1", len(res.Outputs))
	}
	if res.Outputs[0].Type != "Decision" {
		t.Errorf("output type = %s", res.Outputs[0].Type)
	}
	if len(res.Trace) != 7 {
		t.Errorf("trace has %d stages, want 7", len(res.Trace))
	}
	for _, f := range []string{"metadata.yaml", "trace.json", "report.md", "outputs/decisions/decision-001.yaml"} {
		if _, err := os.Stat(filepath.Join(res.Path, f)); err != nil {
			t.Errorf("missing run artifact %s: %v", f, err)
		}
	}
}

func TestExecuteMissingPlaybookIsFatal(t *testing.T) {
	e := newTestExecutor(t, "")
	res, err := e.Execute("pb-1", "client-7", map[string]any{})
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
	if res.Status != RunFailed {
		t.Errorf("status = %s, want failed", res.Status)
	}
	// diagnostics survive the failure
	for _, f := range []string{"trace.json", "error.log"} {
		if _, err := os.Stat(filepath.Join(res.Path, f)); err != nil {
			t.Errorf("missing %s after failed run: %v", f, err)
		}
	}
}

func TestFailedRunCommitsNoOutputArtifacts(t *testing.T) {
	e := newTestExecutor(t, generativePlaybook)
	res := &Result{
		RunID:  "20260310T093000Z_pb-1_client-7",
		Status: RunFailed,
		Path:   filepath.Join(t.TempDir(), "run"),
		Outputs: []Output{{
			Type:    "Decision",
			RuleID:  "rule-always",
			Content: map[string]any{"output_type": "Decision"},
		}},
	}
	if err := os.MkdirAll(res.Path, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := e.persist(res, errors.New("evidence validation failed")); err != nil {
		t.Fatalf("persist: %v", err)
	}
	for _, f := range []string{"metadata.yaml", "report.md", "error.log"} {
		if _, err := os.Stat(filepath.Join(res.Path, f)); err != nil {
			t.Errorf("missing diagnostic %s: %v", f, err)
		}
	}
	if _, err := os.Stat(filepath.Join(res.Path, "outputs")); !os.IsNotExist(err) {
		t.Errorf("outputs directory written for a failed run (stat err = %v)", err)
	}
}

func TestExecuteRuleErrorIsSkippedNotFatal(t *testing.T) {
	pb := strings.Replace(generativePlaybook, "rules:", `rules:
    - id: rule-broken
      condition: "this is not a condition"
      creates: [Risk]
      decision:
        title: never fires`, 1)
	e := newTestExecutor(t, pb)
	res, err := e.Execute("pb-1", "client-7", map[string]any{"deal": map[string]any{}})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if res.Status != RunCompleted {
		t.Fatalf("status = %s, want completed", res.Status)
	}
	if len(res.Outputs) != 1 {
		t.Fatalf("outputs = %d, want only the healthy rule's", len(res.Outputs))
	}
	if len(res.Warnings) != 1 || !strings.Contains(res.Warnings[0], "rule-broken") {
		t.Errorf("warnings = %v, want one naming rule-broken", res.Warnings)
	}
}

func TestExecuteThresholdSubstitution(t *testing.T) {
	pb := strings.Replace(generativePlaybook,
		`condition: "$.deal EXISTS"`,
		`condition: "$.deal.score >= ${thresholds.min_score}"`, 1)
	e := newTestExecutor(t, pb)

	res, err := e.Execute("pb-1", "c", map[string]any{"deal": map[string]any{"score": 80}})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if len(res.Outputs) != 1 {
		t.Fatalf("outputs = %d, want 1 for score above threshold", len(res.Outputs))
	}
	if v, ok := res.Thresholds["min_score"]; !ok || v != 70 {
		t.Errorf("thresholds_used = %v, want min_score recorded", res.Thresholds)
	}

	res, err = e.Execute("pb-1", "c2", map[string]any{"deal": map[string]any{"score": 50}})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if len(res.Outputs) != 0 {
		t.Errorf("outputs = %d, want 0 for score below threshold", len(res.Outputs))
	}
}

func TestValidateGenerativeRequiresDecisionLogic(t *testing.T) {
	pb := strings.Replace(generativePlaybook, "decision_logic:\n  rules:", "ignored:\n  rules:", 1)
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "pb-1.yaml"), []byte(pb), 0o644); err != nil {
		t.Fatal(err)
	}
	_, err := Load(dir, "pb-1")
	if err == nil || !strings.Contains(err.Error(), "decision_logic.rules") {
		t.Fatalf("err = %v, want decision_logic.rules violation", err)
	}
}

func TestValidateValidationMode(t *testing.T) {
	pb := `framework_name: Review
playbook_mode: VALIDATION
intended_agent_role: reviewer
primary_objective: check artifacts
validation_inputs: [draft]
validation_outputs: [review]
validation_checks: [completeness]
version: "1.0"
status: active
last_updated: "2026-03-10"
`
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "pb-v.yaml"), []byte(pb), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(dir, "pb-v"); err != nil {
		t.Fatalf("valid VALIDATION playbook rejected: %v", err)
	}

	bad := strings.Replace(pb, "validation_checks: [completeness]\n", "", 1)
	if err := os.WriteFile(filepath.Join(dir, "pb-bad.yaml"), []byte(bad), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(dir, "pb-bad"); err == nil {
		t.Fatal("VALIDATION playbook without checks accepted")
	}
}

func TestValidateBadDate(t *testing.T) {
	pb := strings.Replace(generativePlaybook, `last_updated: "2026-03-10"`, `last_updated: "10/03/2026"`, 1)
	errs := mustParse(t, pb)
	found := false
	for _, e := range errs {
		if strings.Contains(e, "last_updated") {
			found = true
		}
	}
	if !found {
		t.Errorf("errors = %v, want last_updated violation", errs)
	}
}

func mustParse(t *testing.T, raw string) []string {
	t.Helper()
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "x.yaml"), []byte(raw), 0o644); err != nil {
		t.Fatal(err)
	}
	_, err := Load(dir, "x")
	if err == nil {
		return nil
	}
	return []string{err.Error()}
}

func TestPluralize(t *testing.T) {
	cases := map[string]string{
		"Decision":    "decisions",
		"Risk":        "risks",
		"Opportunity": "opportunities",
		"Gap":         "gaps",
	}
	for in, want := range cases {
		if got := pluralize(in); got != want {
			t.Errorf("pluralize(%s) = %s, want %s", in, got, want)
		}
	}
}

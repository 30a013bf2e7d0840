package conflict

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"steward/internal/domain"
)

func fixedDetector() *Detector {
	d := NewDetector(nil)
	d.Now = func() time.Time { return time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC) }
	return d
}

func proc(id, event, owner, primary string) domain.ProcessDefinition {
	return domain.ProcessDefinition{
		ProcessID: id,
		Trigger:   domain.Trigger{Event: event},
		Ownership: domain.Ownership{PrimaryOwner: owner},
		Outputs:   domain.ProcessOutputs{Primary: primary},
	}
}

func TestTriggerCollisionContradictoryBooleans(t *testing.T) {
	a := proc("proc-sales-freeze", "deal_stage_changed", "sales", "deal_status")
	a.Trigger.Conditions = []domain.TriggerCondition{{Field: "stage", Operator: "==", Value: "closed_won"}}
	a.Outputs.Artifacts = map[string]any{"billing_enabled": true}

	b := proc("proc-finance-hold", "deal_stage_changed", "finance", "hold_status")
	b.Trigger.Conditions = []domain.TriggerCondition{{Field: "stage", Operator: "==", Value: "closed_won"}}
	b.Outputs.Artifacts = map[string]any{"billing_enabled": false}

	r := fixedDetector().Analyze([]domain.ProcessDefinition{a, b})

	var collisions []Conflict
	for _, c := range r.Conflicts {
		if c.Type == TypeTriggerCollision {
			collisions = append(collisions, c)
		}
	}
	require.Len(t, collisions, 1, "exactly one trigger collision expected")
	c := collisions[0]
	assert.Equal(t, SeverityHigh, c.Severity)
	assert.ElementsMatch(t, []string{"proc-sales-freeze", "proc-finance-hold"}, c.ProcessIDs)
	assert.NotEmpty(t, c.SuggestedResolutions)
	assert.True(t, r.HasHigh())
	assert.False(t, r.HasCritical())

	// the same pair must not additionally be an output contradiction
	for _, c := range r.Conflicts {
		assert.NotEqual(t, TypeOutputContradiction, c.Type)
	}
}

func TestTriggerCollisionEmptyConditionsOverlap(t *testing.T) {
	a := proc("a", "lead_created", "x", "o1")
	a.Outputs.Artifacts = map[string]any{"routing": "approved"}
	b := proc("b", "lead_created", "y", "o2")
	b.Trigger.Conditions = []domain.TriggerCondition{{Field: "region"}}
	b.Outputs.Artifacts = map[string]any{"routing": "blocked"}

	r := fixedDetector().Analyze([]domain.ProcessDefinition{a, b})
	require.Len(t, r.Conflicts, 1)
	assert.Equal(t, TypeTriggerCollision, r.Conflicts[0].Type)
}

func TestNoCollisionWithoutContradiction(t *testing.T) {
	a := proc("a", "lead_created", "x", "o1")
	a.Outputs.Artifacts = map[string]any{"routing": "approved"}
	b := proc("b", "lead_created", "y", "o2")
	b.Outputs.Artifacts = map[string]any{"routing": "approved"}

	r := fixedDetector().Analyze([]domain.ProcessDefinition{a, b})
	assert.Empty(t, r.Conflicts)
}

func TestOutputContradictionDifferentEvents(t *testing.T) {
	a := proc("a", "lead_created", "x", "o1")
	a.Outputs.Artifacts = map[string]any{"account_state": "proceed"}
	b := proc("b", "invoice_overdue", "y", "o2")
	b.Outputs.Artifacts = map[string]any{"account_state": "stopped"}

	r := fixedDetector().Analyze([]domain.ProcessDefinition{a, b})
	require.Len(t, r.Conflicts, 1)
	assert.Equal(t, TypeOutputContradiction, r.Conflicts[0].Type)
	assert.Equal(t, SeverityHigh, r.Conflicts[0].Severity)
}

func TestOwnershipOverlap(t *testing.T) {
	a := proc("a", "e1", "alice", "forecast")
	b := proc("b", "e2", "bob", "forecast")

	r := fixedDetector().Analyze([]domain.ProcessDefinition{a, b})
	require.Len(t, r.Conflicts, 1)
	c := r.Conflicts[0]
	assert.Equal(t, TypeOwnershipOverlap, c.Type)
	assert.Equal(t, SeverityMedium, c.Severity)
	assert.Equal(t, "forecast", c.Details["artifact"])
}

func TestCircularDependencyIsCriticalAndBlocking(t *testing.T) {
	a := proc("proc-a", "e1", "x", "o1")
	a.Relationships.Triggers = []string{"proc-b"}
	b := proc("proc-b", "e2", "y", "o2")
	b.Relationships.Triggers = []string{"proc-c"}
	c := proc("proc-c", "e3", "z", "o3")
	c.Relationships.Triggers = []string{"proc-a"}

	r := fixedDetector().Analyze([]domain.ProcessDefinition{a, b, c})
	require.Len(t, r.Conflicts, 1)
	got := r.Conflicts[0]
	assert.Equal(t, TypeCircularDependency, got.Type)
	assert.Equal(t, SeverityCritical, got.Severity)
	assert.True(t, got.Blocking)
	assert.ElementsMatch(t, []string{"proc-a", "proc-b", "proc-c"}, got.ProcessIDs)
	assert.True(t, r.HasCritical())
	assert.True(t, r.HasBlocking())
}

func TestDependsOnEdgesParticipateInCycles(t *testing.T) {
	// a triggers b, and a depends on b: b must run before a, but a starts b.
	a := proc("a", "e1", "x", "o1")
	a.Relationships.Triggers = []string{"b"}
	a.Relationships.DependsOn = []string{"b"}
	b := proc("b", "e2", "y", "o2")

	r := fixedDetector().Analyze([]domain.ProcessDefinition{a, b})
	require.Len(t, r.Conflicts, 1)
	assert.Equal(t, TypeCircularDependency, r.Conflicts[0].Type)
}

func TestResourceContention(t *testing.T) {
	a := proc("a", "e1", "x", "o1")
	a.Steps = []domain.ProcessStep{{StepID: "s1", Action: "review", Resource: "legal_team"}}
	b := proc("b", "e2", "y", "o2")
	b.Steps = []domain.ProcessStep{{StepID: "s1", Action: "approve", Resource: "legal_team"}}

	r := fixedDetector().Analyze([]domain.ProcessDefinition{a, b})
	require.Len(t, r.Conflicts, 1)
	c := r.Conflicts[0]
	assert.Equal(t, TypeResourceContention, c.Type)
	assert.Equal(t, SeverityMedium, c.Severity)
	assert.Equal(t, "legal_team", c.Details["resource"])
}

func TestRedundantProcesses(t *testing.T) {
	a := proc("a", "deal_stage_changed", "sales", "qualification_report")
	a.Outputs.Artifacts = map[string]any{"score": "n"}
	b := proc("b", "deal_stage_changed", "sales", "qualification_report")
	b.Outputs.Artifacts = map[string]any{"score": "n"}

	r := fixedDetector().Analyze([]domain.ProcessDefinition{a, b})
	var found bool
	for _, c := range r.Conflicts {
		if c.Type == TypeRedundantProcess {
			found = true
			assert.Equal(t, SeverityLow, c.Severity)
			assert.Greater(t, c.Details["similarity"].(float64), 0.8)
		}
	}
	assert.True(t, found, "identical trigger, owner and outputs must flag redundancy")
}

func TestDeadlineInfeasibility(t *testing.T) {
	p := proc("a", "e1", "x", "o1")
	p.Constraints.Deadline = "1 day"
	p.Steps = []domain.ProcessStep{
		{StepID: "s1", Action: "draft", Deadline: "6 hours"},
		{StepID: "s2", Action: "review", Deadline: "4 hours"},
	}

	r := fixedDetector().Analyze([]domain.ProcessDefinition{p})
	require.Len(t, r.Conflicts, 1)
	c := r.Conflicts[0]
	assert.Equal(t, TypeDeadlineInfeasible, c.Type)
	assert.Equal(t, SeverityLow, c.Severity)
	assert.InDelta(t, 10.0, c.Details["step_hours"].(float64), 0.01)
	assert.InDelta(t, 8.0, c.Details["deadline_hours"].(float64), 0.01)
}

func TestGapDetection(t *testing.T) {
	d := NewDetector(map[string]string{
		"lead_created":    "a new lead enters the pipeline",
		"invoice_overdue": "an invoice passed its due date",
	})
	p := proc("a", "lead_created", "x", "o1")

	r := d.Analyze([]domain.ProcessDefinition{p})
	require.Len(t, r.Gaps, 1)
	assert.Equal(t, "invoice_overdue", r.Gaps[0].Event)
}

func TestSortedOrdersBySeverity(t *testing.T) {
	r := Report{Conflicts: []Conflict{
		{ID: "z", Severity: SeverityLow},
		{ID: "a", Severity: SeverityCritical},
		{ID: "m", Severity: SeverityHigh},
	}}
	sorted := r.Sorted()
	assert.Equal(t, SeverityCritical, sorted[0].Severity)
	assert.Equal(t, SeverityHigh, sorted[1].Severity)
	assert.Equal(t, SeverityLow, sorted[2].Severity)
}

func TestParseDurationHours(t *testing.T) {
	cases := []struct {
		in   string
		want float64
		ok   bool
	}{
		{"4 hours", 4, true},
		{"2 days", 16, true},
		{"1 week", 40, true},
		{"2 days 4 hours", 20, true},
		{"90 minutes", 1.5, true},
		{"1.5h", 1.5, true},
		{"asap", 0, false},
		{"", 0, false},
	}
	for _, tc := range cases {
		got, ok := parseDurationHours(tc.in)
		assert.Equal(t, tc.ok, ok, tc.in)
		assert.InDelta(t, tc.want, got, 0.001, tc.in)
	}
}

func TestDeterministicIDs(t *testing.T) {
	a := proc("a", "e1", "alice", "forecast")
	b := proc("b", "e2", "bob", "forecast")

	r1 := fixedDetector().Analyze([]domain.ProcessDefinition{a, b})
	r2 := fixedDetector().Analyze([]domain.ProcessDefinition{b, a})
	require.Len(t, r1.Conflicts, 1)
	require.Len(t, r2.Conflicts, 1)
	assert.Equal(t, r1.Conflicts[0].ID, r2.Conflicts[0].ID)
}

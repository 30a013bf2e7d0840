package engine_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"steward/internal/audit"
	"steward/internal/config"
	"steward/internal/db"
	"steward/internal/domain"
	"steward/internal/engine"
	"steward/internal/engine/auth"
	"steward/internal/migrate"
	"steward/internal/repo"
	"steward/internal/workflow"
)

type testEnv struct {
	Engine engine.Engine
	Ctx    context.Context
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	dir := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: dir})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	cfg := config.Default("ws-1")
	eng := engine.New(conn, cfg, audit.New(db.AuditDir(dir)))
	eng.Now = func() time.Time { return time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC) }
	eng.Versions.Now = eng.Now
	eng.Detector.Now = eng.Now
	return testEnv{Engine: eng, Ctx: context.Background()}
}

func testProcess(id, event, owner, primary string) domain.ProcessDefinition {
	return domain.ProcessDefinition{
		ProcessID: id,
		Trigger:   domain.Trigger{Event: event},
		Ownership: domain.Ownership{PrimaryOwner: owner},
		Outputs:   domain.ProcessOutputs{Primary: primary},
	}
}

func TestCreateProcessStartsInDraft(t *testing.T) {
	env := newTestEnv(t)
	p, report, err := env.Engine.CreateProcess(env.Ctx, testProcess("proc-1", "lead_created", "sales", "routing"), "tester")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if p.Status != domain.ProcessDraft {
		t.Errorf("status = %s, want draft", p.Status)
	}
	if p.Version != 1 {
		t.Errorf("version = %d, want 1", p.Version)
	}
	if len(report.Conflicts) != 0 {
		t.Errorf("unexpected conflicts: %v", report.Conflicts)
	}

	// creation is snapshotted
	hist, err := env.Engine.Versions.History(env.Ctx, "process", "proc-1")
	if err != nil || len(hist) != 1 {
		t.Fatalf("history = %v, %v", hist, err)
	}
	if hist[0].ChangeType != domain.ChangeCreate {
		t.Errorf("change type = %s", hist[0].ChangeType)
	}
}

func TestCreateProcessBlockedByCycle(t *testing.T) {
	env := newTestEnv(t)
	a := testProcess("proc-a", "lead_created", "x", "o1")
	a.Relationships.Triggers = []string{"proc-b"}
	if _, _, err := env.Engine.CreateProcess(env.Ctx, a, "tester"); err != nil {
		t.Fatalf("create a: %v", err)
	}

	b := testProcess("proc-b", "contract_signed", "y", "o2")
	b.Relationships.Triggers = []string{"proc-a"}
	_, report, err := env.Engine.CreateProcess(env.Ctx, b, "tester")
	var ce engine.ConflictError
	if !errors.As(err, &ce) {
		t.Fatalf("err = %v, want ConflictError", err)
	}
	if !report.HasCritical() || !report.HasBlocking() {
		t.Errorf("report = %+v, want critical blocking", report.Conflicts)
	}
	if len(report.Conflicts[0].SuggestedResolutions) == 0 {
		t.Error("blocked creation must carry suggested resolutions")
	}

	// nothing was persisted
	if _, err := env.Engine.Repo.GetProcess(env.Ctx, "proc-b"); !errors.Is(err, repo.ErrNotFound) {
		t.Errorf("blocked process was stored: %v", err)
	}
}

func TestCreateProcessHighConflictForcesPendingApproval(t *testing.T) {
	env := newTestEnv(t)
	a := testProcess("proc-a", "deal_stage_changed", "sales", "deal_status")
	a.Outputs.Artifacts = map[string]any{"billing_enabled": true}
	if _, _, err := env.Engine.CreateProcess(env.Ctx, a, "tester"); err != nil {
		t.Fatalf("create a: %v", err)
	}

	b := testProcess("proc-b", "deal_stage_changed", "finance", "hold_status")
	b.Outputs.Artifacts = map[string]any{"billing_enabled": false}
	b.Status = domain.ProcessDraft
	p, report, err := env.Engine.CreateProcess(env.Ctx, b, "tester")
	if err != nil {
		t.Fatalf("create b: %v", err)
	}
	if !report.HasHigh() {
		t.Fatalf("expected a high conflict, got %+v", report.Conflicts)
	}
	if p.Status != domain.ProcessPendingApproval {
		t.Errorf("status = %s, want pending_approval forced by high conflict", p.Status)
	}
}

func TestApproveProcessRequiresSignOff(t *testing.T) {
	env := newTestEnv(t)
	if _, _, err := env.Engine.CreateProcess(env.Ctx, testProcess("proc-1", "lead_created", "sales", "routing"), "tester"); err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.SetProcessStatus(env.Ctx, "proc-1", domain.ProcessPendingApproval, "tester", false); err != nil {
		t.Fatal(err)
	}

	_, err := env.Engine.ApproveProcess(env.Ctx, "proc-1", "op", []string{"operator"})
	var se auth.SignOffError
	if !errors.As(err, &se) {
		t.Fatalf("err = %v, want SignOffError for operator", err)
	}

	p, err := env.Engine.ApproveProcess(env.Ctx, "proc-1", "rev", []string{"reviewer"})
	if err != nil {
		t.Fatalf("approve as reviewer: %v", err)
	}
	if p.Status != domain.ProcessActive {
		t.Errorf("status = %s, want active", p.Status)
	}
}

func TestProcessStatusTransitions(t *testing.T) {
	env := newTestEnv(t)
	if _, _, err := env.Engine.CreateProcess(env.Ctx, testProcess("proc-1", "lead_created", "sales", "routing"), "tester"); err != nil {
		t.Fatal(err)
	}

	// draft -> active skips approval and must fail
	if _, err := env.Engine.SetProcessStatus(env.Ctx, "proc-1", domain.ProcessActive, "tester", false); err == nil {
		t.Fatal("draft -> active must be rejected")
	}
	// force overrides the guard
	if _, err := env.Engine.SetProcessStatus(env.Ctx, "proc-1", domain.ProcessActive, "tester", true); err != nil {
		t.Fatalf("forced transition: %v", err)
	}
	if _, err := env.Engine.SetProcessStatus(env.Ctx, "proc-1", domain.ProcessDeprecated, "tester", false); err != nil {
		t.Fatalf("active -> deprecated: %v", err)
	}
	if _, err := env.Engine.SetProcessStatus(env.Ctx, "proc-1", domain.ProcessArchived, "tester", false); err != nil {
		t.Fatalf("deprecated -> archived: %v", err)
	}
}

func TestUpdateProcessBumpsVersion(t *testing.T) {
	env := newTestEnv(t)
	p := testProcess("proc-1", "lead_created", "sales", "routing")
	if _, _, err := env.Engine.CreateProcess(env.Ctx, p, "tester"); err != nil {
		t.Fatal(err)
	}
	p.Ownership.PrimaryOwner = "ops"
	updated, _, err := env.Engine.UpdateProcess(env.Ctx, p, "tester", false)
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if updated.Version != 2 {
		t.Errorf("version = %d, want 2", updated.Version)
	}
	hist, err := env.Engine.Versions.History(env.Ctx, "process", "proc-1")
	if err != nil || len(hist) != 2 {
		t.Fatalf("history = %d entries, %v", len(hist), err)
	}
}

func TestRollbackProcessRestoresDefinition(t *testing.T) {
	env := newTestEnv(t)
	p := testProcess("proc-1", "lead_created", "sales", "routing")
	if _, _, err := env.Engine.CreateProcess(env.Ctx, p, "tester"); err != nil {
		t.Fatal(err)
	}
	p.Ownership.PrimaryOwner = "ops"
	if _, _, err := env.Engine.UpdateProcess(env.Ctx, p, "tester", false); err != nil {
		t.Fatal(err)
	}

	restored, err := env.Engine.RollbackProcess(env.Ctx, "proc-1", 1, "tester")
	if err != nil {
		t.Fatalf("rollback: %v", err)
	}
	if restored.Ownership.PrimaryOwner != "sales" {
		t.Errorf("owner = %s, want sales restored", restored.Ownership.PrimaryOwner)
	}
	if restored.Version != 3 {
		t.Errorf("version = %d, rollback must not reuse numbers", restored.Version)
	}
	stored, err := env.Engine.Repo.GetProcess(env.Ctx, "proc-1")
	if err != nil || stored.Ownership.PrimaryOwner != "sales" {
		t.Errorf("stored owner = %s, %v", stored.Ownership.PrimaryOwner, err)
	}
}

func TestWorkflowLifecycleThroughEngine(t *testing.T) {
	env := newTestEnv(t)
	env.Engine.Orchestrator.Register(domain.StepAgentTask, func(step *domain.WorkflowStep, ctx map[string]any) (workflow.HandlerResult, error) {
		return workflow.HandlerResult{Output: map[string]any{"ok": true}}, nil
	})

	exec, err := env.Engine.StartWorkflow(env.Ctx, "wf-onboarding", []*domain.WorkflowStep{
		{StepID: "s1", StepType: domain.StepAgentTask},
		{StepID: "s2", StepType: domain.StepAgentTask, Dependencies: []string{"s1"}},
	}, map[string]any{"client": "c-1"}, "tester")
	if err != nil {
		t.Fatalf("start: %v", err)
	}

	for {
		ready := env.Engine.Orchestrator.GetReadySteps(exec)
		if len(ready) == 0 {
			break
		}
		exec, err = env.Engine.ExecuteWorkflowStep(env.Ctx, exec.ID, ready[0].StepID, "tester")
		if err != nil {
			t.Fatalf("execute: %v", err)
		}
	}
	if exec.Status != domain.ExecutionCompleted {
		t.Fatalf("status = %s, want completed", exec.Status)
	}

	// reload from storage, steps survive the round trip
	stored, err := env.Engine.Repo.GetExecution(env.Ctx, exec.ID)
	if err != nil {
		t.Fatalf("get execution: %v", err)
	}
	if stored.Steps[1].Status != domain.StepCompleted {
		t.Errorf("stored step status = %s", stored.Steps[1].Status)
	}
}

func TestConflictCheckRecordsAudit(t *testing.T) {
	env := newTestEnv(t)
	if _, _, err := env.Engine.CreateProcess(env.Ctx, testProcess("proc-1", "lead_created", "sales", "routing"), "tester"); err != nil {
		t.Fatal(err)
	}
	report, err := env.Engine.CheckConflicts(env.Ctx, "tester")
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	// the default catalog has events no process covers
	if len(report.Gaps) == 0 {
		t.Error("expected gaps for uncovered catalog events")
	}
	events, err := env.Engine.Audit.Query(audit.Filter{EventType: "conflict_check"})
	if err != nil || len(events) != 1 {
		t.Fatalf("audit events = %d, %v", len(events), err)
	}
}

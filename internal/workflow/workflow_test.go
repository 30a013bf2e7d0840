package workflow

import (
	"errors"
	"strings"
	"testing"
	"time"

	"steward/internal/audit"
	"steward/internal/domain"
)

func newTestOrchestrator(t *testing.T) *Orchestrator {
	t.Helper()
	log := audit.New(t.TempDir())
	o := New(log)
	o.Now = func() time.Time { return time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC) }
	return o
}

func steps(ids ...string) []*domain.WorkflowStep {
	var out []*domain.WorkflowStep
	for i, id := range ids {
		s := &domain.WorkflowStep{StepID: id, StepType: domain.StepAgentTask}
		if i > 0 {
			s.Dependencies = []string{ids[i-1]}
		}
		out = append(out, s)
	}
	return out
}

func TestGetReadyStepsRespectsDependencies(t *testing.T) {
	o := newTestOrchestrator(t)
	exec := o.NewExecution("wf-1", steps("a", "b", "c"), nil)

	ready := o.GetReadySteps(exec)
	if len(ready) != 1 || ready[0].StepID != "a" {
		t.Fatalf("ready = %v, want only step a", ids(ready))
	}

	exec.Steps[0].Status = domain.StepCompleted
	ready = o.GetReadySteps(exec)
	if len(ready) != 1 || ready[0].StepID != "b" {
		t.Fatalf("ready = %v, want only step b", ids(ready))
	}
}

func TestExecuteStepDrivesToCompletion(t *testing.T) {
	o := newTestOrchestrator(t)
	var handled []string
	o.Register(domain.StepAgentTask, func(step *domain.WorkflowStep, ctx map[string]any) (HandlerResult, error) {
		handled = append(handled, step.StepID)
		return HandlerResult{Output: map[string]any{"done": step.StepID}}, nil
	})
	exec := o.NewExecution("wf-1", steps("a", "b"), map[string]any{"client": "c-1"})

	for {
		ready := o.GetReadySteps(exec)
		if len(ready) == 0 {
			break
		}
		for _, s := range ready {
			if err := o.ExecuteStep(exec, s.StepID, "tester"); err != nil {
				t.Fatal(err)
			}
		}
	}
	if exec.Status != domain.ExecutionCompleted {
		t.Fatalf("execution status = %s, want completed", exec.Status)
	}
	if strings.Join(handled, ",") != "a,b" {
		t.Errorf("handled order = %v", handled)
	}
	if exec.Steps[0].Output["done"] != "a" {
		t.Errorf("step output not captured: %v", exec.Steps[0].Output)
	}
}

func TestHandlerErrorFailsStepAndExecution(t *testing.T) {
	o := newTestOrchestrator(t)
	o.Register(domain.StepAgentTask, func(step *domain.WorkflowStep, ctx map[string]any) (HandlerResult, error) {
		return HandlerResult{}, errors.New("agent exploded")
	})
	exec := o.NewExecution("wf-1", steps("a"), nil)
	if err := o.ExecuteStep(exec, "a", "tester"); err != nil {
		t.Fatal(err)
	}
	if exec.Steps[0].Status != domain.StepFailed {
		t.Fatalf("step status = %s, want FAILED", exec.Steps[0].Status)
	}
	if exec.Steps[0].Error != "agent exploded" {
		t.Errorf("error = %q", exec.Steps[0].Error)
	}
	if exec.Status != domain.ExecutionFailed {
		t.Errorf("execution status = %s, want failed", exec.Status)
	}
}

func TestEscalationAndAwaitingHuman(t *testing.T) {
	o := newTestOrchestrator(t)
	o.Register(domain.StepAgentTask, func(step *domain.WorkflowStep, ctx map[string]any) (HandlerResult, error) {
		return HandlerResult{RequiresEscalation: true, EscalationReason: "risk above appetite"}, nil
	})
	o.Register(domain.StepHumanDecision, func(step *domain.WorkflowStep, ctx map[string]any) (HandlerResult, error) {
		return HandlerResult{AwaitingHuman: true}, nil
	})

	exec := o.NewExecution("wf-1", []*domain.WorkflowStep{
		{StepID: "agent", StepType: domain.StepAgentTask},
		{StepID: "human", StepType: domain.StepHumanDecision},
	}, nil)

	if err := o.ExecuteStep(exec, "agent", "tester"); err != nil {
		t.Fatal(err)
	}
	if exec.Steps[0].Status != domain.StepEscalated {
		t.Fatalf("status = %s, want ESCALATED", exec.Steps[0].Status)
	}
	if exec.Steps[0].EscalationReason != "risk above appetite" {
		t.Errorf("escalation reason = %q", exec.Steps[0].EscalationReason)
	}

	if err := o.ExecuteStep(exec, "human", "tester"); err != nil {
		t.Fatal(err)
	}
	if exec.Steps[1].Status != domain.StepAwaitingHuman {
		t.Fatalf("status = %s, want AWAITING_HUMAN", exec.Steps[1].Status)
	}
	if exec.Status != domain.ExecutionRunning {
		t.Errorf("execution status = %s, want running while a human holds a step", exec.Status)
	}

	if err := o.ResolveHumanDecision(exec, "human", "carol", true, map[string]any{"approved": true}); err != nil {
		t.Fatal(err)
	}
	if exec.Steps[1].Status != domain.StepCompleted {
		t.Errorf("status = %s after approval", exec.Steps[1].Status)
	}
}

func TestExecuteStepRejectsNonPending(t *testing.T) {
	o := newTestOrchestrator(t)
	o.Register(domain.StepAgentTask, func(step *domain.WorkflowStep, ctx map[string]any) (HandlerResult, error) {
		return HandlerResult{}, nil
	})
	exec := o.NewExecution("wf-1", steps("a"), nil)
	if err := o.ExecuteStep(exec, "a", "tester"); err != nil {
		t.Fatal(err)
	}
	if err := o.ExecuteStep(exec, "a", "tester"); err == nil {
		t.Fatal("re-executing a completed step must fail")
	}
}

func TestMissingHandlerIsAnError(t *testing.T) {
	o := newTestOrchestrator(t)
	exec := o.NewExecution("wf-1", steps("a"), nil)
	err := o.ExecuteStep(exec, "a", "tester")
	if err == nil || !strings.Contains(err.Error(), "no handler") {
		t.Fatalf("err = %v, want missing-handler error", err)
	}
}

func TestDeadlockDetection(t *testing.T) {
	o := newTestOrchestrator(t)
	// b depends on a missing step: never ready, never in flight
	exec := o.NewExecution("wf-1", []*domain.WorkflowStep{
		{StepID: "b", StepType: domain.StepAgentTask, Dependencies: []string{"ghost"}},
	}, nil)
	if !Deadlocked(exec) {
		t.Fatal("expected deadlock with an unsatisfiable dependency")
	}

	healthy := o.NewExecution("wf-2", steps("a"), nil)
	if Deadlocked(healthy) {
		t.Fatal("execution with a ready step is not deadlocked")
	}
}

func TestTransitionsAreAudited(t *testing.T) {
	dir := t.TempDir()
	log := audit.New(dir)
	o := New(log)
	o.Now = func() time.Time { return time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC) }
	o.Register(domain.StepAgentTask, func(step *domain.WorkflowStep, ctx map[string]any) (HandlerResult, error) {
		return HandlerResult{}, nil
	})
	exec := o.NewExecution("wf-1", steps("a"), nil)
	if err := o.ExecuteStep(exec, "a", "tester"); err != nil {
		t.Fatal(err)
	}

	events, err := log.Query(audit.Filter{EventType: "workflow_step_transition"})
	if err != nil {
		t.Fatal(err)
	}
	// PENDING -> IN_PROGRESS and IN_PROGRESS -> COMPLETED
	if len(events) != 2 {
		t.Fatalf("audited %d transitions, want 2", len(events))
	}
	if events[0].Details["to"] != "IN_PROGRESS" || events[1].Details["to"] != "COMPLETED" {
		t.Errorf("transition order wrong: %v, %v", events[0].Details, events[1].Details)
	}
}

func ids(ss []*domain.WorkflowStep) []string {
	var out []string
	for _, s := range ss {
		out = append(out, s.StepID)
	}
	return out
}

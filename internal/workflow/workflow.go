package workflow

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"steward/internal/audit"
	"steward/internal/domain"
)

// HandlerResult is what a step handler reports back. RequiresEscalation and
// AwaitingHuman take precedence over plain completion, in that order.
type HandlerResult struct {
	Output             map[string]any
	RequiresEscalation bool
	EscalationReason   string
	AwaitingHuman      bool
}

// Handler executes one workflow step. One handler is registered per step
// type; this is the sole extension point for connecting agents and playbooks
// to the orchestrator.
type Handler func(step *domain.WorkflowStep, wfContext map[string]any) (HandlerResult, error)

// Orchestrator schedules and executes workflow steps. It does not
// parallelize: it exposes what is ready and lets the caller decide how many
// ready steps to dispatch. Step timeouts are declared but not enforced here.
type Orchestrator struct {
	handlers map[string]Handler
	Audit    *audit.Logger
	Now      func() time.Time
}

func New(auditLog *audit.Logger) *Orchestrator {
	return &Orchestrator{
		handlers: map[string]Handler{},
		Audit:    auditLog,
		Now:      time.Now,
	}
}

// Register installs the handler for a step type, replacing any previous one.
func (o *Orchestrator) Register(stepType string, h Handler) {
	o.handlers[stepType] = h
}

func (o *Orchestrator) now() time.Time {
	if o.Now != nil {
		return o.Now().UTC()
	}
	return time.Now().UTC()
}

// NewExecution instantiates a workflow from its step templates. All steps
// start PENDING.
func (o *Orchestrator) NewExecution(workflowID string, steps []*domain.WorkflowStep, wfContext map[string]any) *domain.WorkflowExecution {
	now := o.now().Format(time.RFC3339)
	copies := make([]*domain.WorkflowStep, len(steps))
	for i, s := range steps {
		c := *s
		c.Status = domain.StepPending
		copies[i] = &c
	}
	return &domain.WorkflowExecution{
		ID:         uuid.New().String(),
		WorkflowID: workflowID,
		Status:     domain.ExecutionRunning,
		Steps:      copies,
		Context:    wfContext,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

// GetReadySteps returns every PENDING step whose dependencies are all
// COMPLETED. This is the sole scheduling rule.
func (o *Orchestrator) GetReadySteps(exec *domain.WorkflowExecution) []*domain.WorkflowStep {
	byID := stepIndex(exec)
	var ready []*domain.WorkflowStep
	for _, s := range exec.Steps {
		if s.Status != domain.StepPending {
			continue
		}
		ok := true
		for _, dep := range s.Dependencies {
			d, found := byID[dep]
			if !found || d.Status != domain.StepCompleted {
				ok = false
				break
			}
		}
		if ok {
			ready = append(ready, s)
		}
	}
	return ready
}

// ExecuteStep runs one step through its registered handler and interprets
// the result. Every transition emits an audit event.
func (o *Orchestrator) ExecuteStep(exec *domain.WorkflowExecution, stepID, actor string) error {
	step, ok := stepIndex(exec)[stepID]
	if !ok {
		return fmt.Errorf("step %s not found in execution %s", stepID, exec.ID)
	}
	if step.Status != domain.StepPending {
		return fmt.Errorf("step %s is %s, only PENDING steps can be executed", stepID, step.Status)
	}
	h, ok := o.handlers[step.StepType]
	if !ok {
		return fmt.Errorf("no handler registered for step type %s", step.StepType)
	}

	o.transition(exec, step, domain.StepInProgress, actor)
	step.StartedAt = o.now().Format(time.RFC3339)

	res, err := h(step, exec.Context)
	switch {
	case err != nil:
		step.Error = err.Error()
		o.transition(exec, step, domain.StepFailed, actor)
	case res.RequiresEscalation:
		step.Output = res.Output
		step.EscalationReason = res.EscalationReason
		o.transition(exec, step, domain.StepEscalated, actor)
	case res.AwaitingHuman:
		step.Output = res.Output
		o.transition(exec, step, domain.StepAwaitingHuman, actor)
	default:
		step.Output = res.Output
		o.transition(exec, step, domain.StepCompleted, actor)
	}
	if step.Status != domain.StepAwaitingHuman {
		step.FinishedAt = o.now().Format(time.RFC3339)
	}
	o.refresh(exec)
	return nil
}

// ResolveHumanDecision completes or fails a step a human was holding.
func (o *Orchestrator) ResolveHumanDecision(exec *domain.WorkflowExecution, stepID, actor string, approved bool, output map[string]any) error {
	step, ok := stepIndex(exec)[stepID]
	if !ok {
		return fmt.Errorf("step %s not found in execution %s", stepID, exec.ID)
	}
	if step.Status != domain.StepAwaitingHuman {
		return fmt.Errorf("step %s is %s, not AWAITING_HUMAN", stepID, step.Status)
	}
	if output != nil {
		step.Output = output
	}
	target := domain.StepCompleted
	if !approved {
		target = domain.StepFailed
		step.Error = "rejected by human decision"
	}
	o.transition(exec, step, target, actor)
	step.FinishedAt = o.now().Format(time.RFC3339)
	o.refresh(exec)
	return nil
}

func (o *Orchestrator) transition(exec *domain.WorkflowExecution, step *domain.WorkflowStep, to, actor string) {
	from := step.Status
	step.Status = to
	exec.UpdatedAt = o.now().Format(time.RFC3339)
	if o.Audit == nil {
		return
	}
	_ = o.Audit.Append(domain.AuditEvent{
		EventType:  "workflow_step_transition",
		Actor:      actor,
		Entity:     exec.ID,
		EntityType: "workflow_execution",
		Details: map[string]any{
			"workflow_id": exec.WorkflowID,
			"step_id":     step.StepID,
			"step_type":   step.StepType,
			"from":        from,
			"to":          to,
		},
	})
}

// refresh derives the execution status from its steps. AWAITING_HUMAN and
// ESCALATED keep the execution running; the host decides what to do next.
func (o *Orchestrator) refresh(exec *domain.WorkflowExecution) {
	completed := 0
	for _, s := range exec.Steps {
		switch s.Status {
		case domain.StepFailed:
			exec.Status = domain.ExecutionFailed
			return
		case domain.StepCompleted:
			completed++
		}
	}
	if completed == len(exec.Steps) {
		exec.Status = domain.ExecutionCompleted
		return
	}
	if Deadlocked(exec) {
		exec.Status = domain.ExecutionBlocked
		return
	}
	exec.Status = domain.ExecutionRunning
}

// Deadlocked reports whether the execution has non-terminal steps but
// nothing ready to run and nothing in flight. A host-side liveness check;
// the engine does not re-validate acyclicity at run time.
func Deadlocked(exec *domain.WorkflowExecution) bool {
	byID := stepIndex(exec)
	nonTerminal := 0
	for _, s := range exec.Steps {
		switch s.Status {
		case domain.StepInProgress, domain.StepAwaitingHuman:
			return false
		case domain.StepPending:
			nonTerminal++
			ok := true
			for _, dep := range s.Dependencies {
				d, found := byID[dep]
				if !found || d.Status != domain.StepCompleted {
					ok = false
					break
				}
			}
			if ok {
				return false
			}
		}
	}
	return nonTerminal > 0
}

func stepIndex(exec *domain.WorkflowExecution) map[string]*domain.WorkflowStep {
	byID := make(map[string]*domain.WorkflowStep, len(exec.Steps))
	for _, s := range exec.Steps {
		byID[s.StepID] = s
	}
	return byID
}

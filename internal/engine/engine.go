package engine

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"steward/internal/audit"
	"steward/internal/config"
	"steward/internal/conflict"
	"steward/internal/domain"
	"steward/internal/engine/auth"
	"steward/internal/playbook"
	"steward/internal/repo"
	"steward/internal/version"
	"steward/internal/workflow"
)

// ConflictError blocks an operation. The report carries the conflicts and
// their suggested resolutions, never a bare error string.
type ConflictError struct {
	Report conflict.Report
}

func (e ConflictError) Error() string {
	return fmt.Sprintf("blocked by %d conflict(s), including critical or blocking ones", len(e.Report.Conflicts))
}

type Engine struct {
	DB           *sql.DB
	Repo         repo.Repo
	Audit        *audit.Logger
	Versions     *version.Controller
	Detector     *conflict.Detector
	Orchestrator *workflow.Orchestrator
	Executor     *playbook.Executor
	Auth         auth.Service
	Config       *config.Config
	Now          func() time.Time
}

func New(db *sql.DB, cfg *config.Config, auditLog *audit.Logger) Engine {
	var catalog map[string]string
	if cfg != nil {
		catalog = cfg.Events.Catalog
	}
	detector := conflict.NewDetector(catalog)
	if cfg != nil {
		detector.RedundancyThreshold = cfg.RedundancyThreshold()
	}
	return Engine{
		DB:           db,
		Repo:         repo.Repo{DB: db},
		Audit:        auditLog,
		Versions:     version.New(db),
		Detector:     detector,
		Orchestrator: workflow.New(auditLog),
		Auth:         auth.Service{Config: cfg},
		Config:       cfg,
		Now:          time.Now,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

// CreateProcess registers a new process definition after a consistency check
// against every stored process. Critical or blocking conflicts abort the
// creation; high-severity conflicts force the process into pending_approval
// regardless of the requested status.
func (e Engine) CreateProcess(ctx context.Context, p domain.ProcessDefinition, actorID string) (domain.ProcessDefinition, conflict.Report, error) {
	if err := validateProcess(p); err != nil {
		return domain.ProcessDefinition{}, conflict.Report{}, err
	}
	if _, err := e.Repo.GetProcess(ctx, p.ProcessID); err == nil {
		return domain.ProcessDefinition{}, conflict.Report{}, fmt.Errorf("process %s already exists", p.ProcessID)
	} else if !errors.Is(err, repo.ErrNotFound) {
		return domain.ProcessDefinition{}, conflict.Report{}, err
	}

	report, err := e.checkAgainstStored(ctx, p, "")
	if err != nil {
		return domain.ProcessDefinition{}, report, err
	}
	scoped := involvedOnly(report, p.ProcessID)
	if scoped.HasCritical() || scoped.HasBlocking() {
		e.recordConflicts(scoped, actorID)
		return domain.ProcessDefinition{}, scoped, ConflictError{Report: scoped}
	}

	now := e.now().UTC().Format(time.RFC3339)
	if p.Status == "" {
		p.Status = domain.ProcessDraft
	}
	if scoped.HasHigh() {
		p.Status = domain.ProcessPendingApproval
	}
	p.Version = 1
	p.CreatedAt = now
	p.UpdatedAt = now

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.ProcessDefinition{}, scoped, err
	}
	defer tx.Rollback()

	if err := e.Repo.InsertProcess(ctx, tx, p); err != nil {
		return domain.ProcessDefinition{}, scoped, fmt.Errorf("insert process: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return domain.ProcessDefinition{}, scoped, err
	}

	if _, err := e.Versions.Save(ctx, "process", p.ProcessID, asMap(p), actorID, domain.ChangeCreate); err != nil {
		return domain.ProcessDefinition{}, scoped, fmt.Errorf("snapshot process: %w", err)
	}
	e.recordConflicts(scoped, actorID)
	e.audit(domain.AuditEvent{
		EventType:         "process_created",
		Actor:             actorID,
		Entity:            p.ProcessID,
		EntityType:        "process",
		Details:           map[string]any{"status": p.Status, "trigger_event": p.Trigger.Event},
		ConflictsDetected: scoped.IDs(),
	})
	return p, scoped, nil
}

// UpdateProcess replaces a stored definition, re-running the consistency
// check with the updated definition in place of the stored one.
func (e Engine) UpdateProcess(ctx context.Context, p domain.ProcessDefinition, actorID string, force bool) (domain.ProcessDefinition, conflict.Report, error) {
	if err := validateProcess(p); err != nil {
		return domain.ProcessDefinition{}, conflict.Report{}, err
	}
	existing, err := e.Repo.GetProcess(ctx, p.ProcessID)
	if err != nil {
		return domain.ProcessDefinition{}, conflict.Report{}, err
	}
	if p.Status == "" {
		p.Status = existing.Status
	}
	if p.Status != existing.Status {
		if err := ensureProcessTransition(existing.Status, p.Status, force); err != nil {
			return domain.ProcessDefinition{}, conflict.Report{}, err
		}
	}

	report, err := e.checkAgainstStored(ctx, p, p.ProcessID)
	if err != nil {
		return domain.ProcessDefinition{}, report, err
	}
	scoped := involvedOnly(report, p.ProcessID)
	if scoped.HasCritical() || scoped.HasBlocking() {
		e.recordConflicts(scoped, actorID)
		return domain.ProcessDefinition{}, scoped, ConflictError{Report: scoped}
	}
	if scoped.HasHigh() && p.Status == domain.ProcessActive && !force {
		p.Status = domain.ProcessPendingApproval
	}

	p.Version = existing.Version + 1
	p.CreatedAt = existing.CreatedAt
	p.UpdatedAt = e.now().UTC().Format(time.RFC3339)

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.ProcessDefinition{}, scoped, err
	}
	defer tx.Rollback()

	if err := e.Repo.UpdateProcess(ctx, tx, p); err != nil {
		return domain.ProcessDefinition{}, scoped, fmt.Errorf("update process: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return domain.ProcessDefinition{}, scoped, err
	}

	if _, err := e.Versions.Save(ctx, "process", p.ProcessID, asMap(p), actorID, domain.ChangeUpdate); err != nil {
		return domain.ProcessDefinition{}, scoped, fmt.Errorf("snapshot process: %w", err)
	}
	e.recordConflicts(scoped, actorID)
	e.audit(domain.AuditEvent{
		EventType:         "process_updated",
		Actor:             actorID,
		Entity:            p.ProcessID,
		EntityType:        "process",
		Details:           map[string]any{"status": p.Status, "version": p.Version},
		ConflictsDetected: scoped.IDs(),
	})
	return p, scoped, nil
}

// ApproveProcess moves a pending_approval process to active. Only sign-off
// authorities may approve.
func (e Engine) ApproveProcess(ctx context.Context, id, actorID string, actorRoles []string) (domain.ProcessDefinition, error) {
	if err := e.Auth.RequireSignOff(actorRoles); err != nil {
		return domain.ProcessDefinition{}, err
	}
	return e.SetProcessStatus(ctx, id, domain.ProcessActive, actorID, false)
}

// SetProcessStatus moves a process through its lifecycle, guarded by the
// transition table unless forced.
func (e Engine) SetProcessStatus(ctx context.Context, id, status, actorID string, force bool) (domain.ProcessDefinition, error) {
	p, err := e.Repo.GetProcess(ctx, id)
	if err != nil {
		return domain.ProcessDefinition{}, err
	}
	if err := ensureProcessTransition(p.Status, status, force); err != nil {
		return domain.ProcessDefinition{}, err
	}
	from := p.Status
	p.Status = status
	p.Version++
	p.UpdatedAt = e.now().UTC().Format(time.RFC3339)

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.ProcessDefinition{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.UpdateProcess(ctx, tx, p); err != nil {
		return domain.ProcessDefinition{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.ProcessDefinition{}, err
	}

	if _, err := e.Versions.Save(ctx, "process", p.ProcessID, asMap(p), actorID, domain.ChangeUpdate); err != nil {
		return domain.ProcessDefinition{}, fmt.Errorf("snapshot process: %w", err)
	}
	e.audit(domain.AuditEvent{
		EventType:  "process_status_changed",
		Actor:      actorID,
		Entity:     p.ProcessID,
		EntityType: "process",
		Details:    map[string]any{"from": from, "to": status},
	})
	return p, nil
}

// CheckConflicts analyzes every stored process and records the check.
func (e Engine) CheckConflicts(ctx context.Context, actorID string) (conflict.Report, error) {
	procs, err := e.Repo.ListProcesses(ctx, repo.ProcessFilters{})
	if err != nil {
		return conflict.Report{}, err
	}
	report := e.Detector.Analyze(procs)
	e.audit(domain.AuditEvent{
		EventType:         "conflict_check",
		Actor:             actorID,
		EntityType:        "process",
		Details:           map[string]any{"processes": report.Processes, "conflicts": len(report.Conflicts), "gaps": len(report.Gaps)},
		ConflictsDetected: report.IDs(),
	})
	return report, nil
}

// RollbackProcess restores a prior snapshot as a new version and updates the
// stored definition to match.
func (e Engine) RollbackProcess(ctx context.Context, id string, targetVersion int, actorID string) (domain.ProcessDefinition, error) {
	rec, err := e.Versions.Rollback(ctx, "process", id, targetVersion, actorID)
	if err != nil {
		return domain.ProcessDefinition{}, err
	}
	snap, err := e.Versions.Snapshot(ctx, "process", id, rec.Version)
	if err != nil {
		return domain.ProcessDefinition{}, err
	}
	p, err := fromMap(snap)
	if err != nil {
		return domain.ProcessDefinition{}, err
	}
	p.Version = rec.Version
	p.UpdatedAt = e.now().UTC().Format(time.RFC3339)

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.ProcessDefinition{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.UpdateProcess(ctx, tx, p); err != nil {
		return domain.ProcessDefinition{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.ProcessDefinition{}, err
	}

	e.audit(domain.AuditEvent{
		EventType:  "process_rolled_back",
		Actor:      actorID,
		Entity:     id,
		EntityType: "process",
		Details:    map[string]any{"target_version": targetVersion, "new_version": rec.Version},
	})
	return p, nil
}

// RunPlaybook executes a playbook and indexes the run. The run directory is
// written whether the run completes or fails.
func (e Engine) RunPlaybook(ctx context.Context, playbookID, clientID string, execContext map[string]any, actorID string) (*playbook.Result, error) {
	if e.Executor == nil {
		return nil, errors.New("playbook executor not configured")
	}
	res, runErr := e.Executor.Execute(playbookID, clientID, execContext)
	if res != nil && res.RunID != "" {
		rec := domain.RunRecord{
			RunID:      res.RunID,
			PlaybookID: res.PlaybookID,
			ClientID:   res.ClientID,
			Status:     res.Status,
			Path:       res.Path,
			StartedAt:  res.StartedAt,
			FinishedAt: res.FinishedAt,
			Outputs:    len(res.Outputs),
			Errors:     len(res.Errors),
		}
		if err := e.Repo.InsertRun(ctx, rec); err != nil {
			return res, fmt.Errorf("index run: %w", err)
		}
		e.audit(domain.AuditEvent{
			EventType:  "playbook_run",
			Actor:      actorID,
			Entity:     res.RunID,
			EntityType: "run",
			Details:    map[string]any{"playbook_id": playbookID, "client_id": clientID, "status": res.Status, "outputs": len(res.Outputs)},
		})
	}
	return res, runErr
}

// StartWorkflow instantiates and persists a workflow execution.
func (e Engine) StartWorkflow(ctx context.Context, workflowID string, steps []*domain.WorkflowStep, wfContext map[string]any, actorID string) (*domain.WorkflowExecution, error) {
	if len(steps) == 0 {
		return nil, errors.New("workflow needs at least one step")
	}
	exec := e.Orchestrator.NewExecution(workflowID, steps, wfContext)
	if err := e.persistExecution(ctx, exec); err != nil {
		return nil, err
	}
	e.audit(domain.AuditEvent{
		EventType:  "workflow_started",
		Actor:      actorID,
		Entity:     exec.ID,
		EntityType: "workflow_execution",
		Details:    map[string]any{"workflow_id": workflowID, "steps": len(steps)},
	})
	return exec, nil
}

// ExecuteWorkflowStep loads an execution, runs one step and persists the
// result.
func (e Engine) ExecuteWorkflowStep(ctx context.Context, executionID, stepID, actorID string) (*domain.WorkflowExecution, error) {
	exec, err := e.Repo.GetExecution(ctx, executionID)
	if err != nil {
		return nil, err
	}
	if err := e.Orchestrator.ExecuteStep(exec, stepID, actorID); err != nil {
		return nil, err
	}
	if err := e.persistExecution(ctx, exec); err != nil {
		return nil, err
	}
	return exec, nil
}

// ResolveHumanDecision completes or rejects an AWAITING_HUMAN step.
func (e Engine) ResolveHumanDecision(ctx context.Context, executionID, stepID, actorID string, actorRoles []string, approved bool, output map[string]any) (*domain.WorkflowExecution, error) {
	if err := e.Auth.RequireSignOff(actorRoles); err != nil {
		return nil, err
	}
	exec, err := e.Repo.GetExecution(ctx, executionID)
	if err != nil {
		return nil, err
	}
	if err := e.Orchestrator.ResolveHumanDecision(exec, stepID, actorID, approved, output); err != nil {
		return nil, err
	}
	if err := e.persistExecution(ctx, exec); err != nil {
		return nil, err
	}
	return exec, nil
}

func (e Engine) persistExecution(ctx context.Context, exec *domain.WorkflowExecution) error {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := e.Repo.UpsertExecution(ctx, tx, exec); err != nil {
		return fmt.Errorf("persist execution: %w", err)
	}
	return tx.Commit()
}

// checkAgainstStored analyzes the stored processes with p substituted for
// replaceID (or appended when replaceID is empty).
func (e Engine) checkAgainstStored(ctx context.Context, p domain.ProcessDefinition, replaceID string) (conflict.Report, error) {
	stored, err := e.Repo.ListProcesses(ctx, repo.ProcessFilters{})
	if err != nil {
		return conflict.Report{}, err
	}
	procs := make([]domain.ProcessDefinition, 0, len(stored)+1)
	for _, s := range stored {
		if replaceID != "" && s.ProcessID == replaceID {
			continue
		}
		procs = append(procs, s)
	}
	procs = append(procs, p)
	return e.Detector.Analyze(procs), nil
}

func (e Engine) recordConflicts(report conflict.Report, actorID string) {
	for _, c := range report.Conflicts {
		e.audit(domain.AuditEvent{
			EventType:  "conflict_detected",
			Actor:      actorID,
			Entity:     c.ID,
			EntityType: "conflict",
			Details: map[string]any{
				"conflict_type": c.Type,
				"severity":      c.Severity,
				"blocking":      c.Blocking,
				"process_ids":   c.ProcessIDs,
			},
		})
	}
}

func (e Engine) audit(ev domain.AuditEvent) {
	if e.Audit == nil {
		return
	}
	_ = e.Audit.Append(ev)
}

func validateProcess(p domain.ProcessDefinition) error {
	if p.ProcessID == "" {
		return errors.New("process_id is required")
	}
	if p.Trigger.Event == "" {
		return errors.New("trigger.event is required")
	}
	if p.Ownership.PrimaryOwner == "" {
		return errors.New("ownership.primary_owner is required")
	}
	if p.Outputs.Primary == "" {
		return errors.New("outputs.primary is required")
	}
	return nil
}

func ensureProcessTransition(oldStatus, newStatus string, force bool) error {
	if force {
		return nil
	}
	switch oldStatus {
	case domain.ProcessDraft:
		if newStatus == domain.ProcessPendingApproval || newStatus == domain.ProcessArchived {
			return nil
		}
	case domain.ProcessPendingApproval:
		if newStatus == domain.ProcessActive || newStatus == domain.ProcessDraft || newStatus == domain.ProcessArchived {
			return nil
		}
	case domain.ProcessActive:
		if newStatus == domain.ProcessDeprecated {
			return nil
		}
	case domain.ProcessDeprecated:
		if newStatus == domain.ProcessArchived {
			return nil
		}
	}
	return fmt.Errorf("invalid process status transition %s -> %s", oldStatus, newStatus)
}

// involvedOnly filters a report to conflicts touching the given process, so
// pre-existing conflicts between other processes never gate this mutation.
func involvedOnly(report conflict.Report, processID string) conflict.Report {
	out := conflict.Report{
		CheckedAt: report.CheckedAt,
		Processes: report.Processes,
		Gaps:      report.Gaps,
	}
	for _, c := range report.Conflicts {
		for _, id := range c.ProcessIDs {
			if id == processID {
				out.Conflicts = append(out.Conflicts, c)
				break
			}
		}
	}
	return out
}

func asMap(p domain.ProcessDefinition) map[string]any {
	raw, _ := json.Marshal(p)
	var m map[string]any
	_ = json.Unmarshal(raw, &m)
	return m
}

func fromMap(m map[string]any) (domain.ProcessDefinition, error) {
	raw, err := json.Marshal(m)
	if err != nil {
		return domain.ProcessDefinition{}, err
	}
	var p domain.ProcessDefinition
	if err := json.Unmarshal(raw, &p); err != nil {
		return domain.ProcessDefinition{}, fmt.Errorf("decode process snapshot: %w", err)
	}
	return p, nil
}

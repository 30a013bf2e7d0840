package server

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"steward/internal/audit"
	"steward/internal/domain"
	"steward/internal/engine"
	"steward/internal/engine/auth"
	"steward/internal/playbook"
	"steward/internal/repo"
	"steward/internal/version"
	"steward/internal/workflow"
)

// Config for the HTTP API handler.
type Config struct {
	Engine   engine.Engine
	BasePath string
	Auth     AuthConfig
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"conflict_detected"`
	Message string         `json:"message" example:"blocked by 1 conflict(s)"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true"`
}

// apiError models the required error envelope.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

// New returns an HTTP handler exposing the Steward API.
func New(cfg Config) (http.Handler, error) {
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/v0"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	huma.DefaultArrayNullable = false
	huma.NewError = func(status int, msg string, errs ...error) huma.StatusError {
		return newAPIError(status, "", msg, nil)
	}
	huma.NewErrorWithContext = func(_ huma.Context, status int, msg string, errs ...error) huma.StatusError {
		if status == http.StatusUnprocessableEntity && strings.Contains(strings.ToLower(msg), "validation") {
			status = http.StatusBadRequest
		}
		var details map[string]any
		if len(errs) > 0 {
			details = map[string]any{"errors": errs}
		}
		return newAPIError(status, "", msg, details)
	}

	router := chi.NewRouter()
	router.Use(newAuthMiddleware(basePath, cfg.Auth, cfg.Engine.Repo))
	hcfg := huma.DefaultConfig("Steward API", "0.1.0")
	hcfg.OpenAPIPath = "/openapi"
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	registerHealth(group)
	registerProcesses(group, cfg.Engine)
	registerConflicts(group, cfg.Engine)
	registerRuns(group, cfg.Engine)
	registerWorkflows(group, cfg.Engine)
	registerVersions(group, cfg.Engine)
	registerAudit(group, cfg.Engine)
	registerEventHooks(group, cfg.Engine)
	registerAPIKeys(group, cfg.Engine)

	return router, nil
}

func newAPIError(status int, code, message string, details map[string]any) huma.StatusError {
	if code == "" {
		code = defaultCodeForStatus(status)
	}
	return &apiError{
		status: status,
		Body: apiErrorBody{
			Code:    code,
			Message: message,
			Details: details,
		},
	}
}

func handleError(err error) huma.StatusError {
	if err == nil {
		return nil
	}
	var ce engine.ConflictError
	if errors.As(err, &ce) {
		return newAPIError(http.StatusConflict, "conflict_detected", err.Error(), map[string]any{
			"conflicts": ce.Report.Sorted(),
			"gaps":      ce.Report.Gaps,
		})
	}
	var fe auth.ForbiddenError
	if errors.As(err, &fe) {
		return newAPIError(http.StatusForbidden, "forbidden", err.Error(), map[string]any{"permission": fe.Permission})
	}
	var se auth.SignOffError
	if errors.As(err, &se) {
		return newAPIError(http.StatusForbidden, "sign_off_required", err.Error(), map[string]any{"roles": se.Roles})
	}
	if errors.Is(err, repo.ErrNotFound) || errors.Is(err, version.ErrNotFound) || errors.Is(err, playbook.ErrNotFound) {
		return newAPIError(http.StatusNotFound, "not_found", err.Error(), nil)
	}
	msg := err.Error()
	lowered := strings.ToLower(msg)
	switch {
	case strings.Contains(lowered, "transition"):
		return newAPIError(http.StatusUnprocessableEntity, "invalid_transition", msg, nil)
	case strings.Contains(lowered, "already exists"):
		return newAPIError(http.StatusConflict, "already_exists", msg, nil)
	case strings.Contains(lowered, "invalid") || strings.Contains(lowered, "missing") || strings.Contains(lowered, "required"):
		return newAPIError(http.StatusBadRequest, "bad_request", msg, nil)
	default:
		return newAPIError(http.StatusInternalServerError, "internal_error", "internal error", map[string]any{"error": msg})
	}
}

func defaultCodeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "bad_request"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusConflict:
		return "conflict"
	case http.StatusUnprocessableEntity:
		return "validation_failed"
	case http.StatusForbidden:
		return "forbidden"
	case http.StatusInternalServerError:
		return "internal_error"
	default:
		return strings.ToLower(strings.ReplaceAll(http.StatusText(status), " ", "_"))
	}
}

func registerHealth(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "health",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Health check",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body map[string]string `json:"body"`
	}, error) {
		return &struct {
			Body map[string]string `json:"body"`
		}{Body: map[string]string{"status": "ok"}}, nil
	})
}

func registerProcesses(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-process",
		Method:        http.MethodPost,
		Path:          "/processes",
		Summary:       "Register a process definition",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusConflict, http.StatusUnauthorized},
	}, func(ctx context.Context, input *struct {
		Body ProcessRequest `json:"body"`
	}) (*struct {
		Body ProcessResponse `json:"body"`
	}, error) {
		principal, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		p, report, err := e.CreateProcess(ctx, input.Body.Process, principal.ActorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ProcessResponse `json:"body"`
		}{Body: ProcessResponse{Process: p, Conflicts: report.Sorted(), Gaps: report.Gaps}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-processes",
		Method:      http.MethodGet,
		Path:        "/processes",
		Summary:     "List process definitions",
	}, func(ctx context.Context, input *struct {
		Status  string `query:"status"`
		Trigger string `query:"trigger_event"`
		Owner   string `query:"owner"`
		Limit   int    `query:"limit"`
	}) (*struct {
		Body ProcessListResponse `json:"body"`
	}, error) {
		items, err := e.Repo.ListProcesses(ctx, repo.ProcessFilters{
			Status:       input.Status,
			TriggerEvent: input.Trigger,
			Owner:        input.Owner,
			Limit:        input.Limit,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ProcessListResponse `json:"body"`
		}{Body: ProcessListResponse{Processes: items}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-process",
		Method:      http.MethodGet,
		Path:        "/processes/{process_id}",
		Summary:     "Get one process definition",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ProcessID string `path:"process_id"`
	}) (*struct {
		Body ProcessResponse `json:"body"`
	}, error) {
		p, err := e.Repo.GetProcess(ctx, input.ProcessID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ProcessResponse `json:"body"`
		}{Body: ProcessResponse{Process: p}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-process",
		Method:      http.MethodPut,
		Path:        "/processes/{process_id}",
		Summary:     "Update a process definition",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		ProcessID string         `path:"process_id"`
		Force     bool           `query:"force"`
		Body      ProcessRequest `json:"body"`
	}) (*struct {
		Body ProcessResponse `json:"body"`
	}, error) {
		principal, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		def := input.Body.Process
		def.ProcessID = input.ProcessID
		p, report, err := e.UpdateProcess(ctx, def, principal.ActorID, input.Force)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ProcessResponse `json:"body"`
		}{Body: ProcessResponse{Process: p, Conflicts: report.Sorted(), Gaps: report.Gaps}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "set-process-status",
		Method:      http.MethodPost,
		Path:        "/processes/{process_id}/status",
		Summary:     "Move a process through its lifecycle",
		Errors:      []int{http.StatusNotFound, http.StatusUnprocessableEntity},
	}, func(ctx context.Context, input *struct {
		ProcessID string        `path:"process_id"`
		Body      StatusRequest `json:"body"`
	}) (*struct {
		Body ProcessResponse `json:"body"`
	}, error) {
		principal, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		p, err := e.SetProcessStatus(ctx, input.ProcessID, input.Body.Status, principal.ActorID, input.Body.Force)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ProcessResponse `json:"body"`
		}{Body: ProcessResponse{Process: p}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "approve-process",
		Method:      http.MethodPost,
		Path:        "/processes/{process_id}/approve",
		Summary:     "Approve a pending process (sign-off authority required)",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound, http.StatusUnprocessableEntity},
	}, func(ctx context.Context, input *struct {
		ProcessID string `path:"process_id"`
	}) (*struct {
		Body ProcessResponse `json:"body"`
	}, error) {
		principal, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		p, err := e.ApproveProcess(ctx, input.ProcessID, principal.ActorID, principal.Roles)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ProcessResponse `json:"body"`
		}{Body: ProcessResponse{Process: p}}, nil
	})
}

func registerConflicts(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "check-conflicts",
		Method:      http.MethodGet,
		Path:        "/conflicts/check",
		Summary:     "Analyze all processes for conflicts and gaps",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body ConflictReportResponse `json:"body"`
	}, error) {
		principal, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		report, err := e.CheckConflicts(ctx, principal.ActorID)
		if err != nil {
			return nil, handleError(err)
		}
		report.Conflicts = report.Sorted()
		return &struct {
			Body ConflictReportResponse `json:"body"`
		}{Body: ConflictReportResponse{Report: report}}, nil
	})
}

func registerRuns(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "run-playbook",
		Method:        http.MethodPost,
		Path:          "/playbooks/{playbook_id}/run",
		Summary:       "Execute a playbook",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusNotFound, http.StatusUnprocessableEntity},
	}, func(ctx context.Context, input *struct {
		PlaybookID string     `path:"playbook_id"`
		Body       RunRequest `json:"body"`
	}) (*struct {
		Body RunDetailResponse `json:"body"`
	}, error) {
		principal, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if input.Body.ClientID == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "client_id is required", nil)
		}
		res, err := e.RunPlaybook(ctx, input.PlaybookID, input.Body.ClientID, input.Body.Context, principal.ActorID)
		if err != nil && (res == nil || res.RunID == "") {
			return nil, handleError(err)
		}
		run, getErr := e.Repo.GetRun(ctx, res.RunID)
		if getErr != nil {
			return nil, handleError(getErr)
		}
		// failed runs are indexed too; surface them with their artifacts
		return &struct {
			Body RunDetailResponse `json:"body"`
		}{Body: RunDetailResponse{Run: run, Result: res}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-runs",
		Method:      http.MethodGet,
		Path:        "/runs",
		Summary:     "List playbook runs",
	}, func(ctx context.Context, input *struct {
		PlaybookID string `query:"playbook_id"`
		ClientID   string `query:"client_id"`
		Status     string `query:"status"`
		Limit      int    `query:"limit"`
	}) (*struct {
		Body RunListResponse `json:"body"`
	}, error) {
		runs, err := e.Repo.ListRuns(ctx, repo.RunFilters{
			PlaybookID: input.PlaybookID,
			ClientID:   input.ClientID,
			Status:     input.Status,
			Limit:      input.Limit,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body RunListResponse `json:"body"`
		}{Body: RunListResponse{Runs: runs}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-run",
		Method:      http.MethodGet,
		Path:        "/runs/{run_id}",
		Summary:     "Get one run record",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		RunID string `path:"run_id"`
	}) (*struct {
		Body RunResponse `json:"body"`
	}, error) {
		run, err := e.Repo.GetRun(ctx, input.RunID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body RunResponse `json:"body"`
		}{Body: RunResponse{Run: run}}, nil
	})
}

func registerWorkflows(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "start-workflow",
		Method:        http.MethodPost,
		Path:          "/workflows",
		Summary:       "Instantiate a workflow execution",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Body WorkflowStartRequest `json:"body"`
	}) (*struct {
		Body ExecutionResponse `json:"body"`
	}, error) {
		principal, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if input.Body.WorkflowID == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "workflow_id is required", nil)
		}
		exec, err := e.StartWorkflow(ctx, input.Body.WorkflowID, input.Body.Steps, input.Body.Context, principal.ActorID)
		if err != nil {
			return nil, handleError(err)
		}
		return executionResponse(e, exec), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-workflows",
		Method:      http.MethodGet,
		Path:        "/workflows",
		Summary:     "List workflow executions",
	}, func(ctx context.Context, input *struct {
		Status string `query:"status"`
		Limit  int    `query:"limit"`
	}) (*struct {
		Body ExecutionListResponse `json:"body"`
	}, error) {
		items, err := e.Repo.ListExecutions(ctx, input.Status, input.Limit)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ExecutionListResponse `json:"body"`
		}{Body: ExecutionListResponse{Executions: items}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-workflow",
		Method:      http.MethodGet,
		Path:        "/workflows/{execution_id}",
		Summary:     "Get one workflow execution with its ready steps",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ExecutionID string `path:"execution_id"`
	}) (*struct {
		Body ExecutionResponse `json:"body"`
	}, error) {
		exec, err := e.Repo.GetExecution(ctx, input.ExecutionID)
		if err != nil {
			return nil, handleError(err)
		}
		return executionResponse(e, exec), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "execute-workflow-step",
		Method:      http.MethodPost,
		Path:        "/workflows/{execution_id}/steps/{step_id}/execute",
		Summary:     "Execute one ready step",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ExecutionID string `path:"execution_id"`
		StepID      string `path:"step_id"`
	}) (*struct {
		Body ExecutionResponse `json:"body"`
	}, error) {
		principal, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		exec, err := e.ExecuteWorkflowStep(ctx, input.ExecutionID, input.StepID, principal.ActorID)
		if err != nil {
			return nil, handleError(err)
		}
		return executionResponse(e, exec), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "resolve-human-decision",
		Method:      http.MethodPost,
		Path:        "/workflows/{execution_id}/steps/{step_id}/decision",
		Summary:     "Resolve an AWAITING_HUMAN step",
		Errors:      []int{http.StatusBadRequest, http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ExecutionID string               `path:"execution_id"`
		StepID      string               `path:"step_id"`
		Body        HumanDecisionRequest `json:"body"`
	}) (*struct {
		Body ExecutionResponse `json:"body"`
	}, error) {
		principal, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		exec, err := e.ResolveHumanDecision(ctx, input.ExecutionID, input.StepID, principal.ActorID, principal.Roles, input.Body.Approved, input.Body.Output)
		if err != nil {
			return nil, handleError(err)
		}
		return executionResponse(e, exec), nil
	})
}

func executionResponse(e engine.Engine, exec *domain.WorkflowExecution) *struct {
	Body ExecutionResponse `json:"body"`
} {
	var ready []string
	for _, s := range e.Orchestrator.GetReadySteps(exec) {
		ready = append(ready, s.StepID)
	}
	return &struct {
		Body ExecutionResponse `json:"body"`
	}{Body: ExecutionResponse{
		Execution: exec,
		Ready:     ready,
		Deadlock:  workflow.Deadlocked(exec),
	}}
}

func registerVersions(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "version-history",
		Method:      http.MethodGet,
		Path:        "/versions/{entity_type}/{entity_id}",
		Summary:     "Version history, newest first",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		EntityType string `path:"entity_type"`
		EntityID   string `path:"entity_id"`
	}) (*struct {
		Body VersionHistoryResponse `json:"body"`
	}, error) {
		hist, err := e.Versions.History(ctx, input.EntityType, input.EntityID)
		if err != nil {
			return nil, handleError(err)
		}
		if len(hist) == 0 {
			return nil, newAPIError(http.StatusNotFound, "not_found", "no versions recorded", nil)
		}
		return &struct {
			Body VersionHistoryResponse `json:"body"`
		}{Body: VersionHistoryResponse{History: hist}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "version-diff",
		Method:      http.MethodGet,
		Path:        "/versions/{entity_type}/{entity_id}/diff",
		Summary:     "Top-level diff between two versions",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		EntityType string `path:"entity_type"`
		EntityID   string `path:"entity_id"`
		From       int    `query:"from" minimum:"1"`
		To         int    `query:"to" minimum:"1"`
	}) (*struct {
		Body VersionDiffResponse `json:"body"`
	}, error) {
		d, err := e.Versions.DiffVersions(ctx, input.EntityType, input.EntityID, input.From, input.To)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body VersionDiffResponse `json:"body"`
		}{Body: VersionDiffResponse{From: input.From, To: input.To, Diff: d}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "rollback-process",
		Method:      http.MethodPost,
		Path:        "/processes/{process_id}/rollback",
		Summary:     "Restore a prior process version as a new version",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ProcessID string          `path:"process_id"`
		Body      RollbackRequest `json:"body"`
	}) (*struct {
		Body ProcessResponse `json:"body"`
	}, error) {
		principal, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		p, err := e.RollbackProcess(ctx, input.ProcessID, input.Body.TargetVersion, principal.ActorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ProcessResponse `json:"body"`
		}{Body: ProcessResponse{Process: p}}, nil
	})
}

func registerAudit(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "query-audit",
		Method:      http.MethodGet,
		Path:        "/audit/events",
		Summary:     "Query the audit log",
	}, func(ctx context.Context, input *struct {
		EventType string `query:"event_type"`
		Actor     string `query:"actor"`
		Entity    string `query:"entity"`
		From      string `query:"from" format:"date-time"`
		To        string `query:"to" format:"date-time"`
		Limit     int    `query:"limit"`
	}) (*struct {
		Body AuditQueryResponse `json:"body"`
	}, error) {
		f := auditFilter(input.EventType, input.Actor, input.Entity, input.From, input.To, input.Limit)
		events, err := e.Audit.Query(f)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body AuditQueryResponse `json:"body"`
		}{Body: AuditQueryResponse{Events: events}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "verify-audit",
		Method:      http.MethodGet,
		Path:        "/audit/verify",
		Summary:     "Recompute audit checksums and report mismatches",
	}, func(ctx context.Context, input *struct {
		From string `query:"from" format:"date-time"`
		To   string `query:"to" format:"date-time"`
	}) (*struct {
		Body AuditVerifyResponse `json:"body"`
	}, error) {
		from, _ := time.Parse(time.RFC3339, input.From)
		to, _ := time.Parse(time.RFC3339, input.To)
		issues, err := e.Audit.VerifyIntegrity(from, to)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body AuditVerifyResponse `json:"body"`
		}{Body: AuditVerifyResponse{Issues: issues, Clean: len(issues) == 0}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "audit-conflicts-report",
		Method:      http.MethodGet,
		Path:        "/audit/conflicts-report",
		Summary:     "Aggregate conflict events over a trailing window",
	}, func(ctx context.Context, input *struct {
		WindowDays int `query:"window_days"`
	}) (*struct {
		Body audit.ConflictsReport `json:"body"`
	}, error) {
		report, err := e.Audit.GetConflictsReport(input.WindowDays)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body audit.ConflictsReport `json:"body"`
		}{Body: report}, nil
	})
}

func auditFilter(eventType, actor, entity, from, to string, limit int) audit.Filter {
	f := audit.Filter{EventType: eventType, Actor: actor, Entity: entity, Limit: limit}
	if t, err := time.Parse(time.RFC3339, from); err == nil {
		f.From = t
	}
	if t, err := time.Parse(time.RFC3339, to); err == nil {
		f.To = t
	}
	return f
}

// registerEventHooks exposes the inbound notification endpoint: a business
// event arrives and every active process triggered by it is reported.
func registerEventHooks(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "notify-event",
		Method:      http.MethodPost,
		Path:        "/hooks/events",
		Summary:     "Notify steward of a business event",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Body EventNotification `json:"body"`
	}) (*struct {
		Body EventTriggerResponse `json:"body"`
	}, error) {
		principal, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if input.Body.Event == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "event is required", nil)
		}
		procs, err := e.Repo.ListProcesses(ctx, repo.ProcessFilters{
			Status:       domain.ProcessActive,
			TriggerEvent: input.Body.Event,
		})
		if err != nil {
			return nil, handleError(err)
		}
		var triggered []string
		for _, p := range procs {
			triggered = append(triggered, p.ProcessID)
		}
		_ = e.Audit.Append(domain.AuditEvent{
			EventType:  "event_received",
			Actor:      principal.ActorID,
			Entity:     input.Body.Event,
			EntityType: "event",
			Details:    map[string]any{"triggered": triggered},
		})
		return &struct {
			Body EventTriggerResponse `json:"body"`
		}{Body: EventTriggerResponse{Event: input.Body.Event, Triggered: triggered}}, nil
	})
}

func registerAPIKeys(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-api-key",
		Method:        http.MethodPost,
		Path:          "/api-keys",
		Summary:       "Create an API key; the raw key is returned once",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Body APIKeyCreateRequest `json:"body"`
	}) (*struct {
		Body APIKeyCreateResponse `json:"body"`
	}, error) {
		if _, authErr := actorFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		if input.Body.ActorID == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "actor_id is required", nil)
		}
		raw := uuid.New().String()
		key := domain.APIKey{
			ID:      uuid.New().String(),
			ActorID: input.Body.ActorID,
			Name:    input.Body.Name,
			KeyHash: repo.HashAPIKey(raw),
		}
		if err := e.Repo.InsertAPIKey(ctx, nil, key); err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body APIKeyCreateResponse `json:"body"`
		}{Body: APIKeyCreateResponse{ID: key.ID, Key: raw}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-api-keys",
		Method:      http.MethodGet,
		Path:        "/api-keys",
		Summary:     "List API keys",
	}, func(ctx context.Context, input *struct {
		ActorID string `query:"actor_id"`
	}) (*struct {
		Body APIKeyListResponse `json:"body"`
	}, error) {
		keys, err := e.Repo.ListAPIKeys(ctx, input.ActorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body APIKeyListResponse `json:"body"`
		}{Body: APIKeyListResponse{Keys: keys}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "delete-api-key",
		Method:        http.MethodDelete,
		Path:          "/api-keys/{id}",
		Summary:       "Delete an API key",
		DefaultStatus: http.StatusNoContent,
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct{}, error) {
		if _, authErr := actorFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		if err := e.Repo.DeleteAPIKey(ctx, input.ID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})
}

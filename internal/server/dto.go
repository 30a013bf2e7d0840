package server

import (
	"steward/internal/audit"
	"steward/internal/conflict"
	"steward/internal/domain"
	"steward/internal/playbook"
	"steward/internal/version"
)

type ProcessRequest struct {
	Process domain.ProcessDefinition `json:"process"`
}

type ProcessResponse struct {
	Process   domain.ProcessDefinition `json:"process"`
	Conflicts []conflict.Conflict      `json:"conflicts,omitempty"`
	Gaps      []conflict.Gap           `json:"gaps,omitempty"`
}

type ProcessListResponse struct {
	Processes []domain.ProcessDefinition `json:"processes"`
}

type StatusRequest struct {
	Status string `json:"status" enum:"draft,pending_approval,active,deprecated,archived"`
	Force  bool   `json:"force,omitempty"`
}

type ConflictReportResponse struct {
	Report conflict.Report `json:"report"`
}

type RunRequest struct {
	ClientID string         `json:"client_id"`
	Context  map[string]any `json:"context,omitempty"`
}

type RunResponse struct {
	Run domain.RunRecord `json:"run"`
}

type RunDetailResponse struct {
	Run    domain.RunRecord `json:"run"`
	Result *playbook.Result `json:"result,omitempty"`
}

type RunListResponse struct {
	Runs []domain.RunRecord `json:"runs"`
}

type WorkflowStartRequest struct {
	WorkflowID string                 `json:"workflow_id"`
	Steps      []*domain.WorkflowStep `json:"steps"`
	Context    map[string]any         `json:"context,omitempty"`
}

type ExecutionResponse struct {
	Execution *domain.WorkflowExecution `json:"execution"`
	Ready     []string                  `json:"ready,omitempty"`
	Deadlock  bool                      `json:"deadlock,omitempty"`
}

type ExecutionListResponse struct {
	Executions []*domain.WorkflowExecution `json:"executions"`
}

type HumanDecisionRequest struct {
	Approved bool           `json:"approved"`
	Output   map[string]any `json:"output,omitempty"`
}

type VersionHistoryResponse struct {
	History []domain.VersionRecord `json:"history"`
}

type VersionDiffResponse struct {
	From int          `json:"from"`
	To   int          `json:"to"`
	Diff version.Diff `json:"diff"`
}

type RollbackRequest struct {
	TargetVersion int `json:"target_version" minimum:"1"`
}

type AuditQueryResponse struct {
	Events []domain.AuditEvent `json:"events"`
}

type AuditVerifyResponse struct {
	Issues []audit.IntegrityIssue `json:"issues"`
	Clean  bool                   `json:"clean"`
}

type EventNotification struct {
	Event   string         `json:"event"`
	Payload map[string]any `json:"payload,omitempty"`
}

type EventTriggerResponse struct {
	Event     string   `json:"event"`
	Triggered []string `json:"triggered"`
}

type APIKeyCreateRequest struct {
	ActorID string `json:"actor_id"`
	Name    string `json:"name,omitempty"`
}

type APIKeyCreateResponse struct {
	ID  string `json:"id"`
	Key string `json:"key"`
}

type APIKeyListResponse struct {
	Keys []domain.APIKey `json:"keys"`
}

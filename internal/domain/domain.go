package domain

// Process statuses.
const (
	ProcessDraft           = "draft"
	ProcessPendingApproval = "pending_approval"
	ProcessActive          = "active"
	ProcessDeprecated      = "deprecated"
	ProcessArchived        = "archived"
)

// TriggerCondition is one field-level condition on a process trigger.
type TriggerCondition struct {
	Field    string `json:"field" yaml:"field"`
	Operator string `json:"operator,omitempty" yaml:"operator,omitempty"`
	Value    any    `json:"value,omitempty" yaml:"value,omitempty"`
}

type Trigger struct {
	Event      string             `json:"event" yaml:"event"`
	Conditions []TriggerCondition `json:"conditions,omitempty" yaml:"conditions,omitempty"`
}

type Ownership struct {
	PrimaryOwner  string   `json:"primary_owner" yaml:"primary_owner"`
	Collaborators []string `json:"collaborators,omitempty" yaml:"collaborators,omitempty"`
}

// ProcessStep is one step inside a process definition. Resource names the
// scheduling resource the step occupies, if any.
type ProcessStep struct {
	StepID    string   `json:"step_id" yaml:"step_id"`
	Owner     string   `json:"owner,omitempty" yaml:"owner,omitempty"`
	Action    string   `json:"action" yaml:"action"`
	Condition string   `json:"condition,omitempty" yaml:"condition,omitempty"`
	Inputs    []string `json:"inputs,omitempty" yaml:"inputs,omitempty"`
	Outputs   []string `json:"outputs,omitempty" yaml:"outputs,omitempty"`
	Deadline  string   `json:"deadline,omitempty" yaml:"deadline,omitempty"`
	Resource  string   `json:"resource,omitempty" yaml:"resource,omitempty"`
}

type ProcessOutputs struct {
	Primary   string         `json:"primary" yaml:"primary"`
	Artifacts map[string]any `json:"artifacts,omitempty" yaml:"artifacts,omitempty"`
}

type ProcessConstraints struct {
	Deadline string `json:"deadline,omitempty" yaml:"deadline,omitempty"`
}

type ProcessRelationships struct {
	DependsOn     []string `json:"depends_on,omitempty" yaml:"depends_on,omitempty"`
	Triggers      []string `json:"triggers,omitempty" yaml:"triggers,omitempty"`
	ConflictsWith []string `json:"conflicts_with,omitempty" yaml:"conflicts_with,omitempty"`
}

// ProcessDefinition is the normalized schema produced by the free-text parser.
// ProcessID is globally unique and stable across versions.
type ProcessDefinition struct {
	ProcessID     string               `json:"process_id" yaml:"process_id"`
	Trigger       Trigger              `json:"trigger" yaml:"trigger"`
	Ownership     Ownership            `json:"ownership" yaml:"ownership"`
	Steps         []ProcessStep        `json:"steps,omitempty" yaml:"steps,omitempty"`
	Outputs       ProcessOutputs       `json:"outputs" yaml:"outputs"`
	Constraints   ProcessConstraints   `json:"constraints,omitempty" yaml:"constraints,omitempty"`
	Relationships ProcessRelationships `json:"relationships,omitempty" yaml:"relationships,omitempty"`
	Version       int                  `json:"version,omitempty" yaml:"version,omitempty"`
	Status        string               `json:"status,omitempty" yaml:"status,omitempty" enum:"draft,pending_approval,active,deprecated,archived"`
	CreatedAt     string               `json:"created_at,omitempty" yaml:"created_at,omitempty" format:"date-time"`
	UpdatedAt     string               `json:"updated_at,omitempty" yaml:"updated_at,omitempty" format:"date-time"`
}

// Playbook modes.
const (
	ModeValidation = "VALIDATION"
	ModeGenerative = "GENERATIVE"
)

type RuleDecision struct {
	Title   string `json:"title" yaml:"title"`
	Context string `json:"context,omitempty" yaml:"context,omitempty"`
}

// Rule is one entry of decision_logic.rules in a GENERATIVE playbook.
// Condition is a condition-evaluator expression and may contain
// ${thresholds.KEY} placeholders.
type Rule struct {
	ID         string       `json:"id" yaml:"id"`
	Condition  string       `json:"condition" yaml:"condition"`
	Severity   string       `json:"severity,omitempty" yaml:"severity,omitempty"`
	OutputType string       `json:"output_type,omitempty" yaml:"output_type,omitempty"`
	Decision   RuleDecision `json:"decision" yaml:"decision"`
	Creates    []string     `json:"creates,omitempty" yaml:"creates,omitempty"`
}

type DecisionLogic struct {
	Rules []Rule `json:"rules" yaml:"rules"`
}

// Playbook models a playbook YAML document.
type Playbook struct {
	FrameworkName     string        `json:"framework_name" yaml:"framework_name"`
	PlaybookMode      string        `json:"playbook_mode" yaml:"playbook_mode" enum:"VALIDATION,GENERATIVE"`
	IntendedAgentRole string        `json:"intended_agent_role" yaml:"intended_agent_role"`
	PrimaryObjective  string        `json:"primary_objective" yaml:"primary_objective"`
	ValidationInputs  []string      `json:"validation_inputs" yaml:"validation_inputs"`
	ValidationOutputs []string      `json:"validation_outputs" yaml:"validation_outputs"`
	ValidationChecks  []string      `json:"validation_checks" yaml:"validation_checks"`
	TriggerConditions []string      `json:"trigger_conditions,omitempty" yaml:"trigger_conditions,omitempty"`
	DecisionLogic     DecisionLogic `json:"decision_logic,omitempty" yaml:"decision_logic,omitempty"`
	Version           string        `json:"version" yaml:"version"`
	Status            string        `json:"status" yaml:"status"`
	LastUpdated       string        `json:"last_updated" yaml:"last_updated"`
}

// Workflow step types.
const (
	StepAgentTask         = "AGENT_TASK"
	StepPlaybookExecution = "PLAYBOOK_EXECUTION"
	StepHumanDecision     = "HUMAN_DECISION"
	StepParallelGate      = "PARALLEL_GATE"
	StepConditional       = "CONDITIONAL"
)

// Workflow step statuses.
const (
	StepPending       = "PENDING"
	StepInProgress    = "IN_PROGRESS"
	StepAwaitingHuman = "AWAITING_HUMAN"
	StepCompleted     = "COMPLETED"
	StepFailed        = "FAILED"
	StepEscalated     = "ESCALATED"
)

// WorkflowStep is one node of a workflow execution graph. TimeoutMinutes is
// declared on HUMAN_DECISION steps but not enforced by the orchestrator.
type WorkflowStep struct {
	StepID           string         `json:"step_id" yaml:"step_id"`
	StepType         string         `json:"step_type" yaml:"step_type" enum:"AGENT_TASK,PLAYBOOK_EXECUTION,HUMAN_DECISION,PARALLEL_GATE,CONDITIONAL"`
	Name             string         `json:"name,omitempty" yaml:"name,omitempty"`
	Dependencies     []string       `json:"dependencies,omitempty" yaml:"dependencies,omitempty"`
	Status           string         `json:"status" yaml:"status" enum:"PENDING,IN_PROGRESS,AWAITING_HUMAN,COMPLETED,FAILED,ESCALATED"`
	Params           map[string]any `json:"params,omitempty" yaml:"params,omitempty"`
	TimeoutMinutes   int            `json:"timeout_minutes,omitempty" yaml:"timeout_minutes,omitempty"`
	Output           map[string]any `json:"output,omitempty" yaml:"output,omitempty"`
	Error            string         `json:"error,omitempty" yaml:"error,omitempty"`
	EscalationReason string         `json:"escalation_reason,omitempty" yaml:"escalation_reason,omitempty"`
	StartedAt        string         `json:"started_at,omitempty" yaml:"started_at,omitempty" format:"date-time"`
	FinishedAt       string         `json:"finished_at,omitempty" yaml:"finished_at,omitempty" format:"date-time"`
}

// Workflow execution statuses.
const (
	ExecutionRunning   = "running"
	ExecutionCompleted = "completed"
	ExecutionFailed    = "failed"
	ExecutionBlocked   = "blocked"
)

// WorkflowExecution is one instantiation of a workflow template.
type WorkflowExecution struct {
	ID         string          `json:"id"`
	WorkflowID string          `json:"workflow_id"`
	Status     string          `json:"status" enum:"running,completed,failed,blocked"`
	Steps      []*WorkflowStep `json:"steps"`
	Context    map[string]any  `json:"context,omitempty"`
	CreatedAt  string          `json:"created_at" format:"date-time"`
	UpdatedAt  string          `json:"updated_at" format:"date-time"`
}

// RunRecord indexes one playbook run. The run directory owns the full
// artifacts; re-execution always produces a new run id.
type RunRecord struct {
	RunID      string `json:"run_id"`
	PlaybookID string `json:"playbook_id"`
	ClientID   string `json:"client_id"`
	Status     string `json:"status" enum:"completed,failed"`
	Path       string `json:"path"`
	StartedAt  string `json:"started_at" format:"date-time"`
	FinishedAt string `json:"finished_at,omitempty" format:"date-time"`
	Outputs    int    `json:"outputs"`
	Errors     int    `json:"errors"`
}

// Version change types.
const (
	ChangeCreate   = "create"
	ChangeUpdate   = "update"
	ChangeDelete   = "delete"
	ChangeRollback = "rollback"
)

// VersionRecord is one immutable snapshot of an entity.
// (EntityType, EntityID, Version) is the primary key.
type VersionRecord struct {
	EntityType   string `json:"entity_type"`
	EntityID     string `json:"entity_id"`
	Version      int    `json:"version"`
	PrevVersion  *int   `json:"prev_version,omitempty"`
	SnapshotYAML string `json:"snapshot_yaml"`
	DiffJSON     string `json:"diff_json,omitempty"`
	ChangedBy    string `json:"changed_by"`
	ChangedAt    string `json:"changed_at" format:"date-time"`
	ChangeType   string `json:"change_type" enum:"create,update,delete,rollback"`
}

// AuditEvent is one append-only audit log entry.
type AuditEvent struct {
	Timestamp         string         `json:"timestamp"`
	EventType         string         `json:"event_type"`
	Actor             string         `json:"actor"`
	Entity            string         `json:"entity,omitempty"`
	EntityType        string         `json:"entity_type,omitempty"`
	Details           map[string]any `json:"details,omitempty"`
	ConflictsDetected []string       `json:"conflicts_detected,omitempty"`
	Resolution        string         `json:"resolution,omitempty"`
	Checksum          string         `json:"checksum"`
}

type APIKey struct {
	ID        string `json:"id"`
	ActorID   string `json:"actor_id"`
	Name      string `json:"name,omitempty"`
	KeyHash   string `json:"key_hash"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

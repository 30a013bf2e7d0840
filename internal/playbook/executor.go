package playbook

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"steward/internal/condition"
	"steward/internal/domain"
	"steward/internal/evidence"
	"steward/internal/threshold"
)

// Pipeline stages, in execution order.
const (
	stageLoad       = "load_playbook"
	stageThresholds = "resolve_thresholds"
	stageInputs     = "validate_inputs"
	stageRules      = "evaluate_rules"
	stageGenerate   = "generate_outputs"
	stageEvidence   = "validate_evidence"
	stagePersist    = "persist_results"
)

const (
	RunCompleted = "completed"
	RunFailed    = "failed"
)

// StageRecord is one trace entry. Every stage is recorded whether it
// succeeds or fails.
type StageRecord struct {
	Stage     string         `json:"stage"`
	Status    string         `json:"status"`
	Timestamp string         `json:"timestamp"`
	Details   map[string]any `json:"details,omitempty"`
}

// Output is one synthesized artifact from a fired rule.
type Output struct {
	Type    string         `json:"type"`
	RuleID  string         `json:"rule_id"`
	Content map[string]any `json:"content"`
}

// Result is the outcome of one playbook run. The run directory under Path
// is immutable once written; re-execution produces a new run id.
type Result struct {
	RunID      string         `json:"run_id"`
	PlaybookID string         `json:"playbook_id"`
	ClientID   string         `json:"client_id"`
	Status     string         `json:"status"`
	Path       string         `json:"path"`
	StartedAt  string         `json:"started_at"`
	FinishedAt string         `json:"finished_at"`
	Thresholds map[string]any `json:"thresholds_used,omitempty"`
	Outputs    []Output       `json:"outputs,omitempty"`
	Warnings   []string       `json:"warnings,omitempty"`
	Errors     []string       `json:"errors,omitempty"`
	Trace      []StageRecord  `json:"trace"`

	playbook domain.Playbook
}

// Executor runs GENERATIVE playbooks through the seven-stage pipeline.
// It is synchronous and performs no network I/O.
type Executor struct {
	Playbooks  string
	RunsRoot   string
	Thresholds *threshold.Resolver
	Now        func() time.Time
}

func NewExecutor(playbookDir, runsRoot string, thresholds *threshold.Resolver) *Executor {
	return &Executor{
		Playbooks:  playbookDir,
		RunsRoot:   runsRoot,
		Thresholds: thresholds,
		Now:        time.Now,
	}
}

func (e *Executor) now() time.Time {
	if e.Now != nil {
		return e.Now().UTC()
	}
	return time.Now().UTC()
}

// Execute runs the pipeline. A failure at any stage halts it, writes the
// failed trace and an error log into the run directory, and returns the
// error. The Result is returned in both cases so callers can index the run.
func (e *Executor) Execute(playbookID, clientID string, context map[string]any) (*Result, error) {
	started := e.now()
	res := &Result{
		RunID:      fmt.Sprintf("%s_%s_%s", started.Format("20060102T150405Z"), playbookID, clientID),
		PlaybookID: playbookID,
		ClientID:   clientID,
		Status:     RunFailed,
		StartedAt:  started.Format(time.RFC3339),
	}
	res.Path = filepath.Join(e.RunsRoot, res.RunID)
	if err := os.MkdirAll(res.Path, 0o755); err != nil {
		return res, fmt.Errorf("create run directory: %w", err)
	}

	err := e.run(res, playbookID, context)
	if err != nil {
		res.Errors = append(res.Errors, err.Error())
	} else {
		res.Status = RunCompleted
	}
	res.FinishedAt = e.now().Format(time.RFC3339)

	if perr := e.persist(res, err); perr != nil {
		if err == nil {
			err = perr
			res.Status = RunFailed
			res.Errors = append(res.Errors, perr.Error())
		}
	}
	e.stage(res, stagePersist, err, map[string]any{"path": res.Path})
	_ = writeJSON(filepath.Join(res.Path, "trace.json"), traceDocument(res))
	return res, err
}

func (e *Executor) run(res *Result, playbookID string, context map[string]any) error {
	// stage 1: load and schema-validate
	pb, err := Load(e.Playbooks, playbookID)
	e.stage(res, stageLoad, err, map[string]any{"playbook_id": playbookID})
	if err != nil {
		return err
	}
	res.playbook = pb

	// stage 2: resolve thresholds for reproducibility
	if e.Thresholds != nil {
		res.Thresholds = e.Thresholds.ResolveAll(playbookID)
	}
	e.stage(res, stageThresholds, nil, map[string]any{"resolved": len(res.Thresholds)})

	// stage 3: input validation is a reserved contract point, recorded as such
	e.stage(res, stageInputs, nil, map[string]any{"note": "no input contract declared"})

	// stage 4: evaluate rules; per-rule errors skip the rule, not the run
	fired := e.evaluateRules(res, pb, context)

	// stage 5: synthesize one output per creates entry of each fired rule
	for _, f := range fired {
		res.Outputs = append(res.Outputs, e.generate(f)...)
	}
	e.stage(res, stageGenerate, nil, map[string]any{"outputs": len(res.Outputs)})

	// stage 6: evidence gate, fatal on any violation
	var evErrs []string
	for _, out := range res.Outputs {
		for _, msg := range evidence.Validate(out.Content) {
			evErrs = append(evErrs, fmt.Sprintf("%s (%s): %s", out.Type, out.RuleID, msg))
		}
	}
	var evErr error
	if len(evErrs) > 0 {
		evErr = fmt.Errorf("evidence validation failed: %s", strings.Join(evErrs, "; "))
	}
	e.stage(res, stageEvidence, evErr, map[string]any{"checked": len(res.Outputs)})
	return evErr
}

type firedRule struct {
	rule domain.Rule
	expr string
}

func (e *Executor) evaluateRules(res *Result, pb domain.Playbook, context map[string]any) []firedRule {
	var fired []firedRule
	details := map[string]any{"total": len(pb.DecisionLogic.Rules)}
	var errored []string
	for _, rule := range pb.DecisionLogic.Rules {
		expr := rule.Condition
		if e.Thresholds != nil {
			expr = e.Thresholds.Substitute(expr, res.PlaybookID)
		}
		ok, err := condition.Evaluate(expr, context)
		if err != nil {
			errored = append(errored, rule.ID)
			res.Warnings = append(res.Warnings, fmt.Sprintf("rule %s skipped: %v", rule.ID, err))
			continue
		}
		if ok {
			fired = append(fired, firedRule{rule: rule, expr: expr})
		}
	}
	details["fired"] = len(fired)
	if len(errored) > 0 {
		details["errored"] = errored
	}
	e.stage(res, stageRules, nil, details)
	return fired
}

func (e *Executor) generate(f firedRule) []Output {
	creates := f.rule.Creates
	if len(creates) == 0 && f.rule.OutputType != "" {
		creates = []string{f.rule.OutputType}
	}
	date := e.now().Format("2006-01-02")
	var outs []Output
	for _, typ := range creates {
		entry := map[string]any{
			"title":   f.rule.Decision.Title,
			"context": f.rule.Decision.Context,
			"evidence": []any{map[string]any{
				"source_artifact": "execution_context",
				"date":            date,
				"excerpt":         f.expr,
				"confidence":      "HIGH",
			}},
		}
		outs = append(outs, Output{
			Type:   typ,
			RuleID: f.rule.ID,
			Content: map[string]any{
				"output_type": typ,
				"rule_id":     f.rule.ID,
				"severity":    f.rule.Severity,
				pluralize(typ): []any{entry},
			},
		})
	}
	return outs
}

// persist writes the run directory contents. A failed run gets the error log
// and diagnostics only; output artifacts are committed on success alone.
func (e *Executor) persist(res *Result, runErr error) error {
	if runErr != nil {
		msg := fmt.Sprintf("%s %s\n", e.now().Format(time.RFC3339), runErr)
		if werr := os.WriteFile(filepath.Join(res.Path, "error.log"), []byte(msg), 0o644); werr != nil {
			return fmt.Errorf("write error log: %w", werr)
		}
	}
	if err := writeYAML(filepath.Join(res.Path, "metadata.yaml"), e.metadata(res)); err != nil {
		return fmt.Errorf("write metadata: %w", err)
	}
	if err := os.WriteFile(filepath.Join(res.Path, "report.md"), []byte(report(res)), 0o644); err != nil {
		return fmt.Errorf("write report: %w", err)
	}
	if runErr != nil {
		return nil
	}
	counts := map[string]int{}
	for _, out := range res.Outputs {
		dir := filepath.Join(res.Path, "outputs", pluralize(out.Type))
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create outputs dir: %w", err)
		}
		counts[out.Type]++
		name := fmt.Sprintf("%s-%03d.yaml", strings.ToLower(out.Type), counts[out.Type])
		if err := writeYAML(filepath.Join(dir, name), out.Content); err != nil {
			return fmt.Errorf("write output %s: %w", name, err)
		}
	}
	return nil
}

func (e *Executor) metadata(res *Result) map[string]any {
	return map[string]any{
		"run_id":           res.RunID,
		"playbook_id":      res.PlaybookID,
		"playbook_name":    res.playbook.FrameworkName,
		"playbook_version": res.playbook.Version,
		"agent_role":       res.playbook.IntendedAgentRole,
		"client_id":        res.ClientID,
		"started_at":       res.StartedAt,
		"finished_at":      e.now().Format(time.RFC3339),
		"status":           res.Status,
		"thresholds_used":  res.Thresholds,
		"outputs":          len(res.Outputs),
		"warnings":         res.Warnings,
		"errors":           res.Errors,
	}
}

func (e *Executor) stage(res *Result, name string, err error, details map[string]any) {
	rec := StageRecord{
		Stage:     name,
		Status:    "completed",
		Timestamp: e.now().Format(time.RFC3339),
		Details:   details,
	}
	if err != nil {
		rec.Status = "failed"
		if rec.Details == nil {
			rec.Details = map[string]any{}
		}
		rec.Details["error"] = err.Error()
	}
	res.Trace = append(res.Trace, rec)
}

func traceDocument(res *Result) map[string]any {
	return map[string]any{
		"run_id": res.RunID,
		"stages": res.Trace,
		"summary": map[string]any{
			"status":   res.Status,
			"outputs":  len(res.Outputs),
			"warnings": len(res.Warnings),
			"errors":   len(res.Errors),
		},
	}
}

func report(res *Result) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# Run %s\n\n", res.RunID)
	fmt.Fprintf(&b, "- playbook: %s (%s)\n", res.PlaybookID, res.playbook.FrameworkName)
	fmt.Fprintf(&b, "- client: %s\n", res.ClientID)
	fmt.Fprintf(&b, "- status: %s\n", res.Status)
	fmt.Fprintf(&b, "- started: %s\n\n", res.StartedAt)
	fmt.Fprintf(&b, "## Outputs (%d)\n\n", len(res.Outputs))
	for _, out := range res.Outputs {
		title, _ := out.Content[pluralize(out.Type)].([]any)
		label := ""
		if len(title) > 0 {
			if m, ok := title[0].(map[string]any); ok {
				label, _ = m["title"].(string)
			}
		}
		fmt.Fprintf(&b, "- %s from rule %s: %s\n", out.Type, out.RuleID, label)
	}
	if len(res.Warnings) > 0 {
		b.WriteString("\n## Warnings\n\n")
		for _, w := range res.Warnings {
			fmt.Fprintf(&b, "- %s\n", w)
		}
	}
	if len(res.Errors) > 0 {
		b.WriteString("\n## Errors\n\n")
		for _, e := range res.Errors {
			fmt.Fprintf(&b, "- %s\n", e)
		}
	}
	return b.String()
}

// pluralize maps an output type to its evidence field and directory name:
// Decision -> decisions, Opportunity -> opportunities.
func pluralize(typ string) string {
	s := strings.ToLower(typ)
	if strings.HasSuffix(s, "y") {
		return s[:len(s)-1] + "ies"
	}
	if strings.HasSuffix(s, "s") {
		return s + "es"
	}
	return s + "s"
}

func writeYAML(path string, v any) error {
	data, err := yaml.Marshal(v)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

package app

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	"steward/internal/audit"
	"steward/internal/condition"
	"steward/internal/config"
	"steward/internal/db"
	"steward/internal/domain"
	"steward/internal/engine"
	"steward/internal/migrate"
	"steward/internal/playbook"
	"steward/internal/threshold"
	"steward/internal/workflow"
)

// Context wires the engine and its collaborators for one workspace. Commands
// and the server both bootstrap through Open.
type Context struct {
	Workspace string
	DB        *sql.DB
	Config    *config.Config
	Engine    engine.Engine
}

// Open initializes the workspace: database, migrations, config, audit log,
// playbook executor and the default workflow step handlers.
func Open(workspace string) (*Context, error) {
	if workspace == "" {
		workspace = "."
	}
	if _, err := db.EnsureWorkspace(workspace); err != nil {
		return nil, fmt.Errorf("ensure workspace: %w", err)
	}
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	cfg, err := config.LoadOptional(workspace)
	if err != nil {
		conn.Close()
		return nil, err
	}
	if cfg == nil {
		cfg = config.Default(filepath.Base(absPath(workspace)))
	}

	eng := engine.New(conn, cfg, audit.New(db.AuditDir(workspace)))

	resolver, err := loadThresholds(workspace, cfg)
	if err != nil {
		conn.Close()
		return nil, err
	}
	playbookDir := cfg.Paths.Playbooks
	if playbookDir == "" {
		playbookDir = "playbooks"
	}
	eng.Executor = playbook.NewExecutor(filepath.Join(workspace, playbookDir), db.RunsDir(workspace), resolver)

	registerDefaultHandlers(&eng)
	return &Context{
		Workspace: workspace,
		DB:        conn,
		Config:    cfg,
		Engine:    eng,
	}, nil
}

func (c *Context) Close() error {
	if c == nil || c.DB == nil {
		return nil
	}
	return c.DB.Close()
}

func loadThresholds(workspace string, cfg *config.Config) (*threshold.Resolver, error) {
	name := cfg.Paths.Thresholds
	if name == "" {
		name = "thresholds.yml"
	}
	path := filepath.Join(workspace, name)
	resolver, err := threshold.Load(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("load thresholds: %w", err)
	}
	return resolver, nil
}

// registerDefaultHandlers installs the built-in step handlers. AGENT_TASK and
// HUMAN_DECISION both park for a human: steward coordinates agents, it does
// not run them.
func registerDefaultHandlers(eng *engine.Engine) {
	executor := eng.Executor
	eng.Orchestrator.Register(domain.StepPlaybookExecution, func(step *domain.WorkflowStep, wfContext map[string]any) (workflow.HandlerResult, error) {
		playbookID, _ := step.Params["playbook_id"].(string)
		clientID, _ := step.Params["client_id"].(string)
		if playbookID == "" {
			return workflow.HandlerResult{}, fmt.Errorf("step %s: params.playbook_id is required", step.StepID)
		}
		if clientID == "" {
			clientID, _ = wfContext["client_id"].(string)
		}
		if clientID == "" {
			return workflow.HandlerResult{}, fmt.Errorf("step %s: client_id not found in params or context", step.StepID)
		}
		if executor == nil {
			return workflow.HandlerResult{}, fmt.Errorf("step %s: playbook executor not configured", step.StepID)
		}
		res, err := executor.Execute(playbookID, clientID, wfContext)
		if err != nil {
			return workflow.HandlerResult{}, err
		}
		return workflow.HandlerResult{Output: map[string]any{
			"run_id":  res.RunID,
			"status":  res.Status,
			"path":    res.Path,
			"outputs": len(res.Outputs),
		}}, nil
	})

	eng.Orchestrator.Register(domain.StepConditional, func(step *domain.WorkflowStep, wfContext map[string]any) (workflow.HandlerResult, error) {
		expr, _ := step.Params["condition"].(string)
		if expr == "" {
			return workflow.HandlerResult{}, fmt.Errorf("step %s: params.condition is required", step.StepID)
		}
		ok, err := condition.Evaluate(expr, wfContext)
		if err != nil {
			return workflow.HandlerResult{}, fmt.Errorf("step %s: %w", step.StepID, err)
		}
		return workflow.HandlerResult{Output: map[string]any{"condition": expr, "result": ok}}, nil
	})

	eng.Orchestrator.Register(domain.StepParallelGate, func(step *domain.WorkflowStep, wfContext map[string]any) (workflow.HandlerResult, error) {
		// dependencies were already satisfied or the step would not be ready
		return workflow.HandlerResult{Output: map[string]any{"joined": step.Dependencies}}, nil
	})

	eng.Orchestrator.Register(domain.StepHumanDecision, func(step *domain.WorkflowStep, wfContext map[string]any) (workflow.HandlerResult, error) {
		return workflow.HandlerResult{AwaitingHuman: true}, nil
	})

	eng.Orchestrator.Register(domain.StepAgentTask, func(step *domain.WorkflowStep, wfContext map[string]any) (workflow.HandlerResult, error) {
		return workflow.HandlerResult{AwaitingHuman: true}, nil
	})
}

func absPath(p string) string {
	abs, err := filepath.Abs(p)
	if err != nil {
		return p
	}
	return abs
}

package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/google/uuid"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"steward/internal/app"
	"steward/internal/audit"
	"steward/internal/config"
	"steward/internal/conflict"
	"steward/internal/db"
	"steward/internal/domain"
	"steward/internal/engine"
	"steward/internal/playbook"
	"steward/internal/repo"
	"steward/internal/server"
	"steward/internal/workflow"
)

var rootCmd = &cobra.Command{
	Use:   "stew",
	Short: "Steward CLI",
	Long: `Steward keeps an organization's operational processes consistent.
Core concepts:
- Workspace: your .steward directory with the database, audit log and run artifacts.
- Processes: structured definitions (trigger, ownership, steps, outputs) that move
  draft -> pending_approval -> active -> deprecated -> archived.
- Conflicts: every create/update is checked against all stored processes; critical
  conflicts block, high-severity ones force an approval gate.
- Playbooks: rule-driven decision documents executed against a client context;
  each run leaves a full artifact trail under .steward/runs.
- Workflows: DAGs of agent tasks, playbook executions and human decision points.
- Versions: every process change is snapshotted and can be rolled back.
- Audit: an append-only, checksummed log of everything that happened.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		workspace := viper.GetString("workspace")
		if _, err := db.EnsureWorkspace(workspace); err != nil {
			return err
		}
		return nil
	},
}

func main() {
	cobra.OnInitialize(initViper)
	addPersistentFlags()
	registerCommands()
	if err := rootCmd.Execute(); err != nil {
		fmt.Println("error:", err)
		os.Exit(1)
	}
}

func initViper() {
	viper.SetEnvPrefix("STEWARD")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("actor-id", "local-user", "actor identifier")
	rootCmd.PersistentFlags().Bool("force", false, "force operation")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("actor-id", rootCmd.PersistentFlags().Lookup("actor-id"))
	_ = viper.BindPFlag("force", rootCmd.PersistentFlags().Lookup("force"))
}

func registerCommands() {
	rootCmd.AddCommand(initCmd())
	rootCmd.AddCommand(statusCmd())
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(processCmd())
	rootCmd.AddCommand(conflictsCmd())
	rootCmd.AddCommand(playbookCmd())
	rootCmd.AddCommand(runCmd())
	rootCmd.AddCommand(workflowCmd())
	rootCmd.AddCommand(versionCmd())
	rootCmd.AddCommand(auditCmd())
	rootCmd.AddCommand(apikeyCmd())
	rootCmd.AddCommand(serveCmd())
}

func initCmd() *cobra.Command {
	var id string
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Initialize a workspace with a default steward.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			path := config.Path(workspace)
			if _, err := os.Stat(path); err == nil {
				return fmt.Errorf("%s already exists", path)
			}
			if id == "" {
				id = "steward"
			}
			if err := os.WriteFile(path, []byte(config.GenerateDefault(id)), 0o644); err != nil {
				return err
			}
			fmt.Printf("Wrote %s\n", path)
			return nil
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "workspace project id")
	return cmd
}

func statusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show workspace status",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				counts, err := e.Repo.CountProcessesByStatus(ctx)
				if err != nil {
					return err
				}
				runs, err := e.Repo.ListRuns(ctx, repo.RunFilters{Limit: 1})
				if err != nil {
					return err
				}
				out := map[string]any{
					"workspace":      e.Config.Project.ID,
					"process_counts": counts,
				}
				if len(runs) > 0 {
					out["last_run"] = runs[0].RunID
				}
				if viper.GetBool("json") {
					return printJSON(out)
				}
				fmt.Printf("Workspace: %s\n", e.Config.Project.ID)
				fmt.Println("Processes:")
				for status, c := range counts {
					fmt.Printf("  %s: %d\n", status, c)
				}
				if len(runs) > 0 {
					fmt.Printf("Last run: %s (%s)\n", runs[0].RunID, runs[0].Status)
				}
				return nil
			})
		},
	}
	return cmd
}

func configCmd() *cobra.Command {
	cfg := &cobra.Command{
		Use:   "config",
		Short: "Inspect workspace config",
	}
	cfg.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Show loaded config",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				return printJSONOrDump(e.Config)
			})
		},
	})
	cfg.AddCommand(&cobra.Command{
		Use:   "validate",
		Short: "Validate steward.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := config.Load(viper.GetString("workspace"))
			if viper.GetBool("json") {
				return printJSON(map[string]any{"ok": err == nil, "error": fmt.Sprint(err)})
			}
			if err != nil {
				return err
			}
			fmt.Println("config OK")
			return nil
		},
	})
	return cfg
}

func processCmd() *cobra.Command {
	proc := &cobra.Command{
		Use:   "process",
		Short: "Manage process definitions",
		Long:  "Processes are the governed units: each has a trigger event, an owner, steps and outputs. Creating or updating one runs the full conflict check first.",
	}
	proc.AddCommand(processCreateCmd())
	proc.AddCommand(processListCmd())
	proc.AddCommand(processGetCmd())
	proc.AddCommand(processUpdateCmd())
	proc.AddCommand(processStatusCmd())
	proc.AddCommand(processApproveCmd())
	proc.AddCommand(processRollbackCmd())
	return proc
}

func loadProcessFile(path string) (domain.ProcessDefinition, error) {
	var p domain.ProcessDefinition
	data, err := os.ReadFile(path)
	if err != nil {
		return p, err
	}
	if err := yaml.Unmarshal(data, &p); err != nil {
		return p, fmt.Errorf("parse process definition: %w", err)
	}
	return p, nil
}

func processCreateCmd() *cobra.Command {
	var filePath string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Register a process definition from a YAML file",
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := loadProcessFile(filePath)
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				created, report, err := e.CreateProcess(ctx, p, viper.GetString("actor-id"))
				if err != nil {
					var ce engine.ConflictError
					if errors.As(err, &ce) {
						printConflicts(ce.Report)
					}
					return err
				}
				printConflicts(report)
				return printJSONOrDump(created)
			})
		},
	}
	cmd.Flags().StringVar(&filePath, "file", "", "process definition YAML")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func processListCmd() *cobra.Command {
	var f repo.ProcessFilters
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List processes",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				procs, err := e.Repo.ListProcesses(ctx, f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(procs)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Trigger", "Owner", "Status", "Version"})
				for _, p := range procs {
					tw.AppendRow(table.Row{p.ProcessID, p.Trigger.Event, p.Ownership.PrimaryOwner, p.Status, p.Version})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&f.Status, "status", "", "status filter")
	cmd.Flags().StringVar(&f.TriggerEvent, "trigger", "", "trigger event filter")
	cmd.Flags().StringVar(&f.Owner, "owner", "", "primary owner filter")
	cmd.Flags().IntVar(&f.Limit, "limit", 0, "max results")
	return cmd
}

func processGetCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "get <id>",
		Short: "Get a process definition",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				p, err := e.Repo.GetProcess(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrDump(p)
			})
		},
	}
	return cmd
}

func processUpdateCmd() *cobra.Command {
	var filePath string
	cmd := &cobra.Command{
		Use:   "update <id>",
		Short: "Update a process definition from a YAML file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := loadProcessFile(filePath)
			if err != nil {
				return err
			}
			p.ProcessID = args[0]
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				updated, report, err := e.UpdateProcess(ctx, p, viper.GetString("actor-id"), viper.GetBool("force"))
				if err != nil {
					var ce engine.ConflictError
					if errors.As(err, &ce) {
						printConflicts(ce.Report)
					}
					return err
				}
				printConflicts(report)
				return printJSONOrDump(updated)
			})
		},
	}
	cmd.Flags().StringVar(&filePath, "file", "", "process definition YAML")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func processStatusCmd() *cobra.Command {
	var status string
	cmd := &cobra.Command{
		Use:   "set-status <id>",
		Short: "Move a process through its lifecycle",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				p, err := e.SetProcessStatus(ctx, args[0], status, viper.GetString("actor-id"), viper.GetBool("force"))
				if err != nil {
					return err
				}
				return printJSONOrDump(p)
			})
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "new status")
	_ = cmd.MarkFlagRequired("status")
	return cmd
}

func processApproveCmd() *cobra.Command {
	var roles []string
	cmd := &cobra.Command{
		Use:   "approve <id>",
		Short: "Approve a pending process (sign-off authority required)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				p, err := e.ApproveProcess(ctx, args[0], viper.GetString("actor-id"), roles)
				if err != nil {
					return err
				}
				return printJSONOrDump(p)
			})
		},
	}
	cmd.Flags().StringArrayVar(&roles, "role", []string{"owner"}, "acting role (repeatable)")
	return cmd
}

func processRollbackCmd() *cobra.Command {
	var target int
	cmd := &cobra.Command{
		Use:   "rollback <id>",
		Short: "Restore a prior process version as a new version",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				p, err := e.RollbackProcess(ctx, args[0], target, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrDump(p)
			})
		},
	}
	cmd.Flags().IntVar(&target, "to-version", 0, "target version")
	_ = cmd.MarkFlagRequired("to-version")
	return cmd
}

func conflictsCmd() *cobra.Command {
	conflicts := &cobra.Command{
		Use:   "conflicts",
		Short: "Detect conflicts across processes",
	}
	conflicts.AddCommand(&cobra.Command{
		Use:   "check",
		Short: "Analyze all processes for conflicts and coverage gaps",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				report, err := e.CheckConflicts(ctx, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					report.Conflicts = report.Sorted()
					return printJSON(report)
				}
				printConflicts(report)
				if len(report.Conflicts) == 0 {
					fmt.Printf("No conflicts across %d processes.\n", report.Processes)
				}
				for _, g := range report.Gaps {
					fmt.Printf("gap: no process covers event %q (%s)\n", g.Event, g.Description)
				}
				return nil
			})
		},
	})
	return conflicts
}

func severityColor(severity string) *color.Color {
	switch severity {
	case conflict.SeverityCritical:
		return color.New(color.FgRed, color.Bold)
	case conflict.SeverityHigh:
		return color.New(color.FgRed)
	case conflict.SeverityMedium:
		return color.New(color.FgYellow)
	case conflict.SeverityLow:
		return color.New(color.FgCyan)
	default:
		return color.New(color.FgWhite)
	}
}

func printConflicts(report conflict.Report) {
	if viper.GetBool("json") {
		return
	}
	for _, c := range report.Sorted() {
		severityColor(c.Severity).Printf("[%s] %s", c.Severity, c.Type)
		if c.Blocking {
			fmt.Print(" (blocking)")
		}
		fmt.Printf(": %s\n", c.Description)
		for _, r := range c.SuggestedResolutions {
			fmt.Printf("  - %s\n", r)
		}
	}
}

func playbookCmd() *cobra.Command {
	pb := &cobra.Command{
		Use:   "playbook",
		Short: "Run and validate playbooks",
		Long:  "Playbooks are YAML decision documents. GENERATIVE playbooks evaluate rules against a client context and emit recommendation artifacts; VALIDATION playbooks declare the checks an agent must perform.",
	}
	pb.AddCommand(playbookRunCmd())
	pb.AddCommand(playbookValidateCmd())
	return pb
}

func playbookRunCmd() *cobra.Command {
	var clientID, contextFile string
	cmd := &cobra.Command{
		Use:   "run <playbook-id>",
		Short: "Execute a playbook against a client context",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var execContext map[string]any
			if contextFile != "" {
				data, err := os.ReadFile(contextFile)
				if err != nil {
					return err
				}
				if err := yaml.Unmarshal(data, &execContext); err != nil {
					return fmt.Errorf("parse context: %w", err)
				}
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				res, err := e.RunPlaybook(ctx, args[0], clientID, execContext, viper.GetString("actor-id"))
				if res != nil && !viper.GetBool("json") {
					fmt.Printf("Run %s: %s (%d outputs, %d warnings)\n", res.RunID, res.Status, len(res.Outputs), len(res.Warnings))
					fmt.Printf("Artifacts: %s\n", res.Path)
				}
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(res)
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&clientID, "client", "", "client identifier")
	cmd.Flags().StringVar(&contextFile, "context", "", "execution context YAML")
	_ = cmd.MarkFlagRequired("client")
	return cmd
}

func playbookValidateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate <playbook-id>",
		Short: "Validate a playbook's structure",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				pb, err := playbook.Load(e.Executor.Playbooks, args[0])
				if err != nil {
					return err
				}
				problems := playbook.Validate(pb)
				if viper.GetBool("json") {
					return printJSON(map[string]any{"ok": len(problems) == 0, "problems": problems})
				}
				if len(problems) == 0 {
					fmt.Println("playbook OK")
					return nil
				}
				for _, p := range problems {
					fmt.Printf("  - %s\n", p)
				}
				return fmt.Errorf("%d problem(s)", len(problems))
			})
		},
	}
	return cmd
}

func runCmd() *cobra.Command {
	run := &cobra.Command{
		Use:   "run",
		Short: "Inspect playbook runs",
	}
	run.AddCommand(runListCmd())
	run.AddCommand(runGetCmd())
	return run
}

func runListCmd() *cobra.Command {
	var f repo.RunFilters
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List runs",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				runs, err := e.Repo.ListRuns(ctx, f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(runs)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Run", "Playbook", "Client", "Status", "Outputs"})
				for _, r := range runs {
					tw.AppendRow(table.Row{r.RunID, r.PlaybookID, r.ClientID, r.Status, r.Outputs})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&f.PlaybookID, "playbook", "", "playbook filter")
	cmd.Flags().StringVar(&f.ClientID, "client", "", "client filter")
	cmd.Flags().StringVar(&f.Status, "status", "", "status filter")
	cmd.Flags().IntVar(&f.Limit, "limit", 0, "max results")
	return cmd
}

func runGetCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "get <run-id>",
		Short: "Get one run record",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				r, err := e.Repo.GetRun(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrDump(r)
			})
		},
	}
	return cmd
}

func workflowCmd() *cobra.Command {
	wf := &cobra.Command{
		Use:   "workflow",
		Short: "Orchestrate multi-step workflows",
		Long:  "Workflows are DAGs of steps (AGENT_TASK, PLAYBOOK_EXECUTION, HUMAN_DECISION, PARALLEL_GATE, CONDITIONAL). Steps run when their dependencies complete; human decision points park until resolved.",
	}
	wf.AddCommand(workflowStartCmd())
	wf.AddCommand(workflowListCmd())
	wf.AddCommand(workflowShowCmd())
	wf.AddCommand(workflowExecuteCmd())
	wf.AddCommand(workflowDecideCmd())
	return wf
}

type workflowFile struct {
	WorkflowID string                 `yaml:"workflow_id"`
	Steps      []*domain.WorkflowStep `yaml:"steps"`
	Context    map[string]any         `yaml:"context"`
}

func workflowStartCmd() *cobra.Command {
	var filePath string
	cmd := &cobra.Command{
		Use:   "start",
		Short: "Instantiate a workflow from a YAML file",
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(filePath)
			if err != nil {
				return err
			}
			var wf workflowFile
			if err := yaml.Unmarshal(data, &wf); err != nil {
				return fmt.Errorf("parse workflow: %w", err)
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				exec, err := e.StartWorkflow(ctx, wf.WorkflowID, wf.Steps, wf.Context, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrDump(exec)
			})
		},
	}
	cmd.Flags().StringVar(&filePath, "file", "", "workflow YAML")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func workflowListCmd() *cobra.Command {
	var status string
	var limit int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List workflow executions",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.Repo.ListExecutions(ctx, status, limit)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Workflow", "Status", "Steps"})
				for _, ex := range items {
					tw.AppendRow(table.Row{ex.ID, ex.WorkflowID, ex.Status, len(ex.Steps)})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "status filter")
	cmd.Flags().IntVar(&limit, "limit", 0, "max results")
	return cmd
}

func workflowShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <execution-id>",
		Short: "Show an execution with its ready steps",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				exec, err := e.Repo.GetExecution(ctx, args[0])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(exec)
				}
				fmt.Printf("Execution %s (%s): %s\n", exec.ID, exec.WorkflowID, exec.Status)
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Step", "Type", "Status", "Depends on"})
				for _, s := range exec.Steps {
					tw.AppendRow(table.Row{s.StepID, s.StepType, s.Status, strings.Join(s.Dependencies, ",")})
				}
				tw.Render()
				for _, s := range e.Orchestrator.GetReadySteps(exec) {
					fmt.Printf("ready: %s\n", s.StepID)
				}
				if workflow.Deadlocked(exec) {
					color.New(color.FgRed).Println("execution is deadlocked")
				}
				return nil
			})
		},
	}
	return cmd
}

func workflowExecuteCmd() *cobra.Command {
	var stepID string
	cmd := &cobra.Command{
		Use:   "execute <execution-id>",
		Short: "Execute one ready step",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				exec, err := e.ExecuteWorkflowStep(ctx, args[0], stepID, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrDump(exec)
			})
		},
	}
	cmd.Flags().StringVar(&stepID, "step", "", "step id")
	_ = cmd.MarkFlagRequired("step")
	return cmd
}

func workflowDecideCmd() *cobra.Command {
	var stepID string
	var approve, reject bool
	var roles []string
	cmd := &cobra.Command{
		Use:   "decide <execution-id>",
		Short: "Resolve a step awaiting a human decision",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if approve == reject {
				return fmt.Errorf("exactly one of --approve or --reject is required")
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				exec, err := e.ResolveHumanDecision(ctx, args[0], stepID, viper.GetString("actor-id"), roles, approve, nil)
				if err != nil {
					return err
				}
				return printJSONOrDump(exec)
			})
		},
	}
	cmd.Flags().StringVar(&stepID, "step", "", "step id")
	cmd.Flags().BoolVar(&approve, "approve", false, "approve the step")
	cmd.Flags().BoolVar(&reject, "reject", false, "reject the step")
	cmd.Flags().StringArrayVar(&roles, "role", []string{"owner"}, "acting role (repeatable)")
	_ = cmd.MarkFlagRequired("step")
	return cmd
}

func versionCmd() *cobra.Command {
	ver := &cobra.Command{
		Use:   "version",
		Short: "Inspect and manage entity versions",
	}
	ver.AddCommand(versionHistoryCmd())
	ver.AddCommand(versionDiffCmd())
	ver.AddCommand(versionPruneCmd())
	return ver
}

func versionHistoryCmd() *cobra.Command {
	var entityType string
	cmd := &cobra.Command{
		Use:   "history <entity-id>",
		Short: "Version history, newest first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				hist, err := e.Versions.History(ctx, entityType, args[0])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(hist)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Version", "Change", "By", "At", "Prev"})
				for _, rec := range hist {
					prev := ""
					if rec.PrevVersion != nil {
						prev = fmt.Sprint(*rec.PrevVersion)
					}
					tw.AppendRow(table.Row{rec.Version, rec.ChangeType, rec.ChangedBy, rec.ChangedAt, prev})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&entityType, "type", "process", "entity type")
	return cmd
}

func versionDiffCmd() *cobra.Command {
	var entityType string
	var from, to int
	cmd := &cobra.Command{
		Use:   "diff <entity-id>",
		Short: "Top-level diff between two versions",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				d, err := e.Versions.DiffVersions(ctx, entityType, args[0], from, to)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(d)
				}
				if d.Empty() {
					fmt.Println("no differences")
					return nil
				}
				for k, v := range d.Added {
					fmt.Printf("+ %s: %v\n", k, v)
				}
				for _, k := range d.Removed {
					fmt.Printf("- %s\n", k)
				}
				for k, change := range d.Modified {
					fmt.Printf("~ %s: %v -> %v\n", k, change["from"], change["to"])
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&entityType, "type", "process", "entity type")
	cmd.Flags().IntVar(&from, "from", 0, "from version")
	cmd.Flags().IntVar(&to, "to", 0, "to version")
	_ = cmd.MarkFlagRequired("from")
	_ = cmd.MarkFlagRequired("to")
	return cmd
}

func versionPruneCmd() *cobra.Command {
	var entityType string
	var keep int
	cmd := &cobra.Command{
		Use:   "prune <entity-id>",
		Short: "Drop old versions beyond the retention count",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if keep == 0 {
					keep = e.Config.Versions.Retention
				}
				if keep <= 0 {
					return fmt.Errorf("retention not configured; pass --keep or set versions.retention")
				}
				n, err := e.Versions.Prune(ctx, entityType, args[0], keep)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]any{"pruned": n})
				}
				fmt.Printf("pruned %d version(s)\n", n)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&entityType, "type", "process", "entity type")
	cmd.Flags().IntVar(&keep, "keep", 0, "versions to keep (defaults to config retention)")
	return cmd
}

func auditCmd() *cobra.Command {
	a := &cobra.Command{
		Use:   "audit",
		Short: "Query and verify the audit log",
		Long:  "The audit log is append-only JSON lines, one file per day, each entry checksummed. Verify recomputes checksums; the conflicts report aggregates detected conflicts over a trailing window.",
	}
	a.AddCommand(auditQueryCmd())
	a.AddCommand(auditVerifyCmd())
	a.AddCommand(auditConflictsReportCmd())
	return a
}

func auditQueryCmd() *cobra.Command {
	var eventType, actor, entity string
	var limit int
	cmd := &cobra.Command{
		Use:   "query",
		Short: "Query audit events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				events, err := e.Audit.Query(audit.Filter{
					EventType: eventType,
					Actor:     actor,
					Entity:    entity,
					Limit:     limit,
				})
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(events)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Time", "Type", "Actor", "Entity"})
				for _, ev := range events {
					tw.AppendRow(table.Row{ev.Timestamp, ev.EventType, ev.Actor, ev.Entity})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&eventType, "type", "", "event type filter")
	cmd.Flags().StringVar(&actor, "actor", "", "actor filter")
	cmd.Flags().StringVar(&entity, "entity", "", "entity filter")
	cmd.Flags().IntVar(&limit, "limit", 50, "max results")
	return cmd
}

func auditVerifyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Recompute checksums over the audit log",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				issues, err := e.Audit.VerifyIntegrity(time.Time{}, time.Time{})
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]any{"clean": len(issues) == 0, "issues": issues})
				}
				if len(issues) == 0 {
					fmt.Println("audit log OK")
					return nil
				}
				for _, issue := range issues {
					color.New(color.FgRed).Printf("%s:%d checksum mismatch: want %s, got %s\n", issue.File, issue.Line, issue.Expected, issue.Actual)
				}
				return fmt.Errorf("%d integrity issue(s)", len(issues))
			})
		},
	}
	return cmd
}

func auditConflictsReportCmd() *cobra.Command {
	var window int
	cmd := &cobra.Command{
		Use:   "conflicts-report",
		Short: "Aggregate detected conflicts over a trailing window",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if window == 0 {
					window = e.Config.Audit.ConflictsWindowDays
				}
				report, err := e.Audit.GetConflictsReport(window)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(report)
				}
				fmt.Printf("Conflicts in the last %d days: %d\n", report.WindowDays, report.Total)
				for sev, n := range report.BySeverity {
					severityColor(sev).Printf("  %s: %d\n", sev, n)
				}
				for ct, n := range report.ByType {
					fmt.Printf("  %s: %d\n", ct, n)
				}
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&window, "window-days", 0, "trailing window (defaults to config)")
	return cmd
}

func apikeyCmd() *cobra.Command {
	k := &cobra.Command{
		Use:   "apikey",
		Short: "Manage API keys",
	}
	k.AddCommand(apikeyCreateCmd())
	k.AddCommand(apikeyListCmd())
	k.AddCommand(apikeyDeleteCmd())
	return k
}

func apikeyCreateCmd() *cobra.Command {
	var actorID, name string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create an API key; the raw key is printed once",
		RunE: func(cmd *cobra.Command, args []string) error {
			if actorID == "" {
				actorID = viper.GetString("actor-id")
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				raw := uuid.New().String()
				key := domain.APIKey{
					ID:      uuid.New().String(),
					ActorID: actorID,
					Name:    name,
					KeyHash: repo.HashAPIKey(raw),
				}
				if err := e.Repo.InsertAPIKey(ctx, nil, key); err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]any{"id": key.ID, "key": raw})
				}
				fmt.Printf("id:  %s\nkey: %s\n", key.ID, raw)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&actorID, "actor", "", "actor the key authenticates as")
	cmd.Flags().StringVar(&name, "name", "", "key name")
	return cmd
}

func apikeyListCmd() *cobra.Command {
	var actorID string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List API keys",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				keys, err := e.Repo.ListAPIKeys(ctx, actorID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(keys)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Actor", "Name", "Created"})
				for _, key := range keys {
					tw.AppendRow(table.Row{key.ID, key.ActorID, key.Name, key.CreatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&actorID, "actor", "", "actor filter")
	return cmd
}

func apikeyDeleteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete an API key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				return e.Repo.DeleteAPIKey(ctx, args[0])
			})
		},
	}
	return cmd
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	var allowLegacy bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			appCtx, err := app.Open(viper.GetString("workspace"))
			if err != nil {
				return err
			}
			defer appCtx.Close()
			authCfg := server.AuthConfig{
				JWTSecret:              os.Getenv("STEWARD_JWT_SECRET"),
				AllowLegacyActorHeader: allowLegacy,
			}
			if authCfg.JWTSecret == "" && !allowLegacy {
				return fmt.Errorf("STEWARD_JWT_SECRET is required for bearer auth (or pass --allow-legacy-actor-header)")
			}
			handler, err := server.New(server.Config{Engine: appCtx.Engine, BasePath: basePath, Auth: authCfg})
			if err != nil {
				return err
			}
			srv := &http.Server{Addr: addr, Handler: handler}
			go func() {
				<-cmd.Context().Done()
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				srv.Shutdown(ctx)
			}()
			fmt.Printf("Serving Steward API on http://%s%s (OpenAPI at %s/openapi.json)\n", addr, basePath, basePath)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "/v0", "API base path")
	cmd.Flags().BoolVar(&allowLegacy, "allow-legacy-actor-header", false, "accept unauthenticated X-Actor-Id")
	return cmd
}

// --- helpers ---

func withEngine(ctx context.Context, fn func(context.Context, engine.Engine) error) error {
	appCtx, err := app.Open(viper.GetString("workspace"))
	if err != nil {
		return err
	}
	defer appCtx.Close()
	return fn(ctx, appCtx.Engine)
}

func printJSONOrDump(v any) error {
	if viper.GetBool("json") {
		return printJSON(v)
	}
	b, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(b))
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"steward/internal/domain"
)

type Repo struct {
	DB *sql.DB
}

var ErrNotFound = errors.New("not found")

func (r Repo) InsertProcess(ctx context.Context, tx *sql.Tx, p domain.ProcessDefinition) error {
	payload, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("marshal process %s: %w", p.ProcessID, err)
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO processes(process_id,definition_json,trigger_event,primary_owner,status,version,created_at,updated_at) VALUES (?,?,?,?,?,?,?,?)`,
		p.ProcessID, string(payload), p.Trigger.Event, nullable(p.Ownership.PrimaryOwner), p.Status, p.Version, p.CreatedAt, p.UpdatedAt)
	return err
}

func (r Repo) UpdateProcess(ctx context.Context, tx *sql.Tx, p domain.ProcessDefinition) error {
	payload, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("marshal process %s: %w", p.ProcessID, err)
	}
	res, err := tx.ExecContext(ctx, `UPDATE processes SET definition_json=?, trigger_event=?, primary_owner=?, status=?, version=?, updated_at=? WHERE process_id=?`,
		string(payload), p.Trigger.Event, nullable(p.Ownership.PrimaryOwner), p.Status, p.Version, p.UpdatedAt, p.ProcessID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) GetProcess(ctx context.Context, id string) (domain.ProcessDefinition, error) {
	return scanProcess(r.DB.QueryRowContext(ctx, `SELECT definition_json FROM processes WHERE process_id=?`, id))
}

func (r Repo) GetProcessTx(ctx context.Context, tx *sql.Tx, id string) (domain.ProcessDefinition, error) {
	return scanProcess(tx.QueryRowContext(ctx, `SELECT definition_json FROM processes WHERE process_id=?`, id))
}

func scanProcess(row *sql.Row) (domain.ProcessDefinition, error) {
	var p domain.ProcessDefinition
	var payload string
	err := row.Scan(&payload)
	if err == sql.ErrNoRows {
		return p, ErrNotFound
	}
	if err != nil {
		return p, err
	}
	if err := json.Unmarshal([]byte(payload), &p); err != nil {
		return p, fmt.Errorf("decode process definition: %w", err)
	}
	return p, nil
}

type ProcessFilters struct {
	Status       string
	TriggerEvent string
	Owner        string
	Limit        int
}

func (r Repo) ListProcesses(ctx context.Context, f ProcessFilters) ([]domain.ProcessDefinition, error) {
	var clauses []string
	var args []any
	if f.Status != "" {
		clauses = append(clauses, "status=?")
		args = append(args, f.Status)
	}
	if f.TriggerEvent != "" {
		clauses = append(clauses, "trigger_event=?")
		args = append(args, f.TriggerEvent)
	}
	if f.Owner != "" {
		clauses = append(clauses, "primary_owner=?")
		args = append(args, f.Owner)
	}
	where := ""
	if len(clauses) > 0 {
		where = "WHERE " + strings.Join(clauses, " AND ")
	}
	query := `SELECT definition_json FROM processes ` + where + ` ORDER BY process_id ASC`
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.ProcessDefinition
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, err
		}
		var p domain.ProcessDefinition
		if err := json.Unmarshal([]byte(payload), &p); err != nil {
			return nil, fmt.Errorf("decode process definition: %w", err)
		}
		res = append(res, p)
	}
	return res, rows.Err()
}

func (r Repo) DeleteProcess(ctx context.Context, tx *sql.Tx, id string) error {
	res, err := tx.ExecContext(ctx, `DELETE FROM processes WHERE process_id=?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) UpsertExecution(ctx context.Context, tx *sql.Tx, exec *domain.WorkflowExecution) error {
	steps, err := json.Marshal(exec.Steps)
	if err != nil {
		return fmt.Errorf("marshal steps: %w", err)
	}
	var execContext any
	if exec.Context != nil {
		payload, err := json.Marshal(exec.Context)
		if err != nil {
			return fmt.Errorf("marshal context: %w", err)
		}
		execContext = string(payload)
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO workflow_executions(id,workflow_id,status,steps_json,context_json,created_at,updated_at) VALUES (?,?,?,?,?,?,?)
ON CONFLICT(id) DO UPDATE SET status=excluded.status, steps_json=excluded.steps_json, context_json=excluded.context_json, updated_at=excluded.updated_at`,
		exec.ID, exec.WorkflowID, exec.Status, string(steps), execContext, exec.CreatedAt, exec.UpdatedAt)
	return err
}

func (r Repo) GetExecution(ctx context.Context, id string) (*domain.WorkflowExecution, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT id,workflow_id,status,steps_json,context_json,created_at,updated_at FROM workflow_executions WHERE id=?`, id)
	var exec domain.WorkflowExecution
	var steps string
	var execContext sql.NullString
	err := row.Scan(&exec.ID, &exec.WorkflowID, &exec.Status, &steps, &execContext, &exec.CreatedAt, &exec.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(steps), &exec.Steps); err != nil {
		return nil, fmt.Errorf("decode steps: %w", err)
	}
	if execContext.Valid {
		if err := json.Unmarshal([]byte(execContext.String), &exec.Context); err != nil {
			return nil, fmt.Errorf("decode context: %w", err)
		}
	}
	return &exec, nil
}

func (r Repo) ListExecutions(ctx context.Context, status string, limit int) ([]*domain.WorkflowExecution, error) {
	query := `SELECT id FROM workflow_executions`
	var args []any
	if status != "" {
		query += ` WHERE status=?`
		args = append(args, status)
	}
	query += ` ORDER BY created_at DESC, id DESC`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	var res []*domain.WorkflowExecution
	for _, id := range ids {
		exec, err := r.GetExecution(ctx, id)
		if err != nil {
			return nil, err
		}
		res = append(res, exec)
	}
	return res, nil
}

func (r Repo) InsertRun(ctx context.Context, run domain.RunRecord) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO runs(run_id,playbook_id,client_id,status,path,started_at,finished_at,outputs,errors) VALUES (?,?,?,?,?,?,?,?,?)`,
		run.RunID, run.PlaybookID, run.ClientID, run.Status, run.Path, run.StartedAt, nullable(run.FinishedAt), run.Outputs, run.Errors)
	return err
}

type RunFilters struct {
	PlaybookID string
	ClientID   string
	Status     string
	Limit      int
}

func (r Repo) ListRuns(ctx context.Context, f RunFilters) ([]domain.RunRecord, error) {
	var clauses []string
	var args []any
	if f.PlaybookID != "" {
		clauses = append(clauses, "playbook_id=?")
		args = append(args, f.PlaybookID)
	}
	if f.ClientID != "" {
		clauses = append(clauses, "client_id=?")
		args = append(args, f.ClientID)
	}
	if f.Status != "" {
		clauses = append(clauses, "status=?")
		args = append(args, f.Status)
	}
	where := ""
	if len(clauses) > 0 {
		where = "WHERE " + strings.Join(clauses, " AND ")
	}
	query := `SELECT run_id,playbook_id,client_id,status,path,started_at,COALESCE(finished_at,''),outputs,errors FROM runs ` + where + ` ORDER BY started_at DESC, run_id DESC`
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.RunRecord
	for rows.Next() {
		var run domain.RunRecord
		if err := rows.Scan(&run.RunID, &run.PlaybookID, &run.ClientID, &run.Status, &run.Path, &run.StartedAt, &run.FinishedAt, &run.Outputs, &run.Errors); err != nil {
			return nil, err
		}
		res = append(res, run)
	}
	return res, rows.Err()
}

func (r Repo) GetRun(ctx context.Context, runID string) (domain.RunRecord, error) {
	var run domain.RunRecord
	err := r.DB.QueryRowContext(ctx, `SELECT run_id,playbook_id,client_id,status,path,started_at,COALESCE(finished_at,''),outputs,errors FROM runs WHERE run_id=?`, runID).
		Scan(&run.RunID, &run.PlaybookID, &run.ClientID, &run.Status, &run.Path, &run.StartedAt, &run.FinishedAt, &run.Outputs, &run.Errors)
	if err == sql.ErrNoRows {
		return run, ErrNotFound
	}
	return run, err
}

func (r Repo) CountProcessesByStatus(ctx context.Context) (map[string]int, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT status, count(*) FROM processes GROUP BY status`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := map[string]int{}
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		res[status] = count
	}
	return res, rows.Err()
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

package storage

import (
	"database/sql"
	"fmt"
	"time"
)

func (s *Store) CreateWorkflow(w Workflow) (Workflow, error) {
	if w.Name == "" {
		return Workflow{}, fmt.Errorf("%w: name is required", ErrInvalidInput)
	}
	now := time.Now().UTC()
	_, err := s.db.Exec(`
		INSERT INTO workflows (id, name, description, definition, active, created_by, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		w.ID, w.Name, w.Description, jsonOrDefault(w.Definition, "{}"), w.Active, w.CreatedBy, fmtTime(now), fmtTime(now),
	)
	if err != nil {
		return Workflow{}, fmt.Errorf("inserting workflow: %w", err)
	}
	w.Definition = jsonOrDefault(w.Definition, "{}")
	w.CreatedAt = now
	w.UpdatedAt = now
	return w, nil
}

func (s *Store) GetWorkflow(id string) (Workflow, error) {
	var w Workflow
	var createdAt, updatedAt string
	err := s.db.QueryRow(`
		SELECT id, name, description, definition, active, created_by, created_at, updated_at
		FROM workflows WHERE id = ?`, id,
	).Scan(&w.ID, &w.Name, &w.Description, &w.Definition, &w.Active, &w.CreatedBy, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return Workflow{}, ErrNotFound
	}
	if err != nil {
		return Workflow{}, err
	}
	if w.CreatedAt, err = parseTime(createdAt); err != nil {
		return Workflow{}, fmt.Errorf("parsing created_at: %w", err)
	}
	if w.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return Workflow{}, fmt.Errorf("parsing updated_at: %w", err)
	}
	return w, nil
}

// UpdateWorkflow sets description, definition, and the active flag, and
// bumps updated_at. Missing IDs affect zero rows and are not an error.
func (s *Store) UpdateWorkflow(id, description, definition string, active bool) error {
	_, err := s.db.Exec(`
		UPDATE workflows SET description = ?, definition = ?, active = ?, updated_at = ? WHERE id = ?`,
		description, jsonOrDefault(definition, "{}"), active, fmtTime(time.Now().UTC()), id)
	return err
}

// DeleteWorkflow removes the workflow and its executions in one
// transaction.
func (s *Store) DeleteWorkflow(id string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("beginning delete transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM workflow_executions WHERE workflow_id = ?`, id); err != nil {
		return fmt.Errorf("deleting executions: %w", err)
	}
	if _, err := tx.Exec(`DELETE FROM workflows WHERE id = ?`, id); err != nil {
		return fmt.Errorf("deleting workflow: %w", err)
	}

	return tx.Commit()
}

// CreateExecution inserts a pending execution for an existing workflow.
// A reference to a nonexistent workflow is rejected at write time.
func (s *Store) CreateExecution(e WorkflowExecution) (WorkflowExecution, error) {
	var exists int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM workflows WHERE id = ?`, e.WorkflowID).Scan(&exists); err != nil {
		return WorkflowExecution{}, fmt.Errorf("checking workflow: %w", err)
	}
	if exists == 0 {
		return WorkflowExecution{}, fmt.Errorf("%w: workflow %q does not exist", ErrInvalidInput, e.WorkflowID)
	}

	now := time.Now().UTC()
	_, err := s.db.Exec(`
		INSERT INTO workflow_executions (id, workflow_id, status, input, output, error, started_at, completed_at, created_at)
		VALUES (?, ?, 'pending', ?, '{}', '', NULL, NULL, ?)`,
		e.ID, e.WorkflowID, jsonOrDefault(e.Input, "{}"), fmtTime(now),
	)
	if err != nil {
		return WorkflowExecution{}, fmt.Errorf("inserting execution: %w", err)
	}
	e.Status = StatusPending
	e.Input = jsonOrDefault(e.Input, "{}")
	e.Output = "{}"
	e.Error = ""
	e.CreatedAt = now
	return e, nil
}

func (s *Store) GetExecution(id string) (WorkflowExecution, error) {
	var e WorkflowExecution
	var startedAt, completedAt sql.NullString
	var createdAt string
	err := s.db.QueryRow(`
		SELECT id, workflow_id, status, input, output, error, started_at, completed_at, created_at
		FROM workflow_executions WHERE id = ?`, id,
	).Scan(&e.ID, &e.WorkflowID, &e.Status, &e.Input, &e.Output, &e.Error, &startedAt, &completedAt, &createdAt)
	if err == sql.ErrNoRows {
		return WorkflowExecution{}, ErrNotFound
	}
	if err != nil {
		return WorkflowExecution{}, err
	}
	if e.StartedAt, err = parseNullTime(startedAt); err != nil {
		return WorkflowExecution{}, fmt.Errorf("parsing started_at: %w", err)
	}
	if e.CompletedAt, err = parseNullTime(completedAt); err != nil {
		return WorkflowExecution{}, fmt.Errorf("parsing completed_at: %w", err)
	}
	if e.CreatedAt, err = parseTime(createdAt); err != nil {
		return WorkflowExecution{}, fmt.Errorf("parsing created_at: %w", err)
	}
	return e, nil
}

// TransitionExecution moves an execution along pending -> running ->
// {completed, failed}. The pending -> completed/failed short-circuit is
// allowed; completed and failed are terminal. output and errMsg are only
// written on terminal transitions. Missing IDs are a no-op; an attempt to
// leave a terminal state (or any other illegal move) returns
// ErrInvalidTransition.
func (s *Store) TransitionExecution(id, status, output, errMsg string) error {
	var allowedFrom string
	switch status {
	case StatusRunning:
		allowedFrom = "('pending')"
	case StatusCompleted, StatusFailed:
		allowedFrom = "('pending', 'running')"
	default:
		return fmt.Errorf("%w: status %q must be one of running, completed, failed", ErrInvalidInput, status)
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("beginning transition transaction: %w", err)
	}
	defer tx.Rollback()

	now := fmtTime(time.Now().UTC())
	var res sql.Result
	if status == StatusRunning {
		res, err = tx.Exec(`
			UPDATE workflow_executions SET status = ?, started_at = ?
			WHERE id = ? AND status IN `+allowedFrom,
			status, now, id)
	} else {
		res, err = tx.Exec(`
			UPDATE workflow_executions SET status = ?, output = ?, error = ?, completed_at = ?
			WHERE id = ? AND status IN `+allowedFrom,
			status, jsonOrDefault(output, "{}"), errMsg, now, id)
	}
	if err != nil {
		return fmt.Errorf("updating execution status: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		// Distinguish a missing row (no-op) from an illegal move.
		var current string
		err := tx.QueryRow(`SELECT status FROM workflow_executions WHERE id = ?`, id).Scan(&current)
		if err == sql.ErrNoRows {
			return tx.Commit()
		}
		if err != nil {
			return err
		}
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, current, status)
	}

	return tx.Commit()
}

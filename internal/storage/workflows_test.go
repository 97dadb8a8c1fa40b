package storage

import (
	"errors"
	"testing"
)

func mustCreateWorkflow(t *testing.T, s *Store, id string) Workflow {
	t.Helper()
	w, err := s.CreateWorkflow(Workflow{ID: id, Name: "wf " + id, Active: true})
	if err != nil {
		t.Fatalf("CreateWorkflow(%s): %v", id, err)
	}
	return w
}

func mustCreateExecution(t *testing.T, s *Store, id, workflowID string) WorkflowExecution {
	t.Helper()
	e, err := s.CreateExecution(WorkflowExecution{ID: id, WorkflowID: workflowID, Input: `{"step":1}`})
	if err != nil {
		t.Fatalf("CreateExecution(%s): %v", id, err)
	}
	return e
}

func TestCreateWorkflowRequiresName(t *testing.T) {
	s := openTestStore(t)
	if _, err := s.CreateWorkflow(Workflow{ID: "w1"}); !errors.Is(err, ErrInvalidInput) {
		t.Errorf("expected ErrInvalidInput, got %v", err)
	}
}

func TestCreateExecutionRejectsGhostWorkflow(t *testing.T) {
	s := openTestStore(t)
	if _, err := s.CreateExecution(WorkflowExecution{ID: "e1", WorkflowID: "ghost"}); !errors.Is(err, ErrInvalidInput) {
		t.Errorf("execution for ghost workflow: got %v, want ErrInvalidInput", err)
	}
}

func TestExecutionStartsPending(t *testing.T) {
	s := openTestStore(t)
	w := mustCreateWorkflow(t, s, "w1")

	// The caller cannot smuggle in a different initial status.
	e, err := s.CreateExecution(WorkflowExecution{ID: "e1", WorkflowID: w.ID, Status: StatusCompleted})
	if err != nil {
		t.Fatalf("CreateExecution: %v", err)
	}
	if e.Status != StatusPending {
		t.Errorf("status = %q, want pending", e.Status)
	}

	got, err := s.GetExecution(e.ID)
	if err != nil {
		t.Fatalf("GetExecution: %v", err)
	}
	if got.Status != StatusPending || got.StartedAt != nil || got.CompletedAt != nil {
		t.Errorf("unexpected initial state: %+v", got)
	}
}

func TestTransitionExecutionLifecycle(t *testing.T) {
	s := openTestStore(t)
	w := mustCreateWorkflow(t, s, "w1")
	e := mustCreateExecution(t, s, "e1", w.ID)

	if err := s.TransitionExecution(e.ID, StatusRunning, "", ""); err != nil {
		t.Fatalf("pending -> running: %v", err)
	}
	running, err := s.GetExecution(e.ID)
	if err != nil {
		t.Fatalf("GetExecution: %v", err)
	}
	if running.Status != StatusRunning || running.StartedAt == nil {
		t.Errorf("running state wrong: %+v", running)
	}

	if err := s.TransitionExecution(e.ID, StatusCompleted, `{"answer":42}`, ""); err != nil {
		t.Fatalf("running -> completed: %v", err)
	}
	done, err := s.GetExecution(e.ID)
	if err != nil {
		t.Fatalf("GetExecution: %v", err)
	}
	if done.Status != StatusCompleted || done.CompletedAt == nil || done.Output != `{"answer":42}` {
		t.Errorf("completed state wrong: %+v", done)
	}
}

func TestTransitionExecutionShortCircuit(t *testing.T) {
	s := openTestStore(t)
	w := mustCreateWorkflow(t, s, "w1")
	e := mustCreateExecution(t, s, "e1", w.ID)

	// pending -> failed without ever running.
	if err := s.TransitionExecution(e.ID, StatusFailed, "", "validation refused input"); err != nil {
		t.Fatalf("pending -> failed: %v", err)
	}
	got, err := s.GetExecution(e.ID)
	if err != nil {
		t.Fatalf("GetExecution: %v", err)
	}
	if got.Status != StatusFailed || got.Error != "validation refused input" {
		t.Errorf("failed state wrong: %+v", got)
	}
}

func TestTransitionExecutionIllegalMoves(t *testing.T) {
	s := openTestStore(t)
	w := mustCreateWorkflow(t, s, "w1")

	e := mustCreateExecution(t, s, "e1", w.ID)
	if err := s.TransitionExecution(e.ID, StatusCompleted, "", ""); err != nil {
		t.Fatalf("setup: %v", err)
	}

	// Terminal states cannot be left.
	for _, status := range []string{StatusRunning, StatusCompleted, StatusFailed} {
		if err := s.TransitionExecution(e.ID, status, "", ""); !errors.Is(err, ErrInvalidTransition) {
			t.Errorf("completed -> %s: got %v, want ErrInvalidTransition", status, err)
		}
	}

	// Going back to pending is never a valid target.
	e2 := mustCreateExecution(t, s, "e2", w.ID)
	if err := s.TransitionExecution(e2.ID, StatusPending, "", ""); !errors.Is(err, ErrInvalidInput) {
		t.Errorf("-> pending: got %v, want ErrInvalidInput", err)
	}

	// Missing IDs are a quiet no-op.
	if err := s.TransitionExecution("ghost", StatusRunning, "", ""); err != nil {
		t.Errorf("missing execution: %v", err)
	}
}

func TestDeleteWorkflowCascades(t *testing.T) {
	s := openTestStore(t)
	w := mustCreateWorkflow(t, s, "w1")
	e := mustCreateExecution(t, s, "e1", w.ID)

	if err := s.DeleteWorkflow(w.ID); err != nil {
		t.Fatalf("DeleteWorkflow: %v", err)
	}
	if _, err := s.GetWorkflow(w.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("workflow survived: %v", err)
	}
	if _, err := s.GetExecution(e.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("execution survived: %v", err)
	}
}

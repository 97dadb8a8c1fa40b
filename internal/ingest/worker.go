package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/mnemosyne-ai/memstore/internal/storage"
)

// JobEmbedMemory is the queue type for pending-embedding entries.
const JobEmbedMemory = "embed_memory"

// batchSize caps how many jobs one iteration claims and sends through a
// single batched embedding call.
const batchSize = 8

// EmbedPayload is the job payload written when a memory entry is created
// without a vector.
type EmbedPayload struct {
	MemoryEntryID string `json:"memory_entry_id"`
}

// MemoryStore abstracts the storage operations the worker needs.
type MemoryStore interface {
	ClaimNextJob(types []string) (*storage.Job, error)
	CompleteJob(id string) error
	FailJob(id string, errMsg string) error
	GetMemoryEntry(id string) (storage.MemoryEntry, error)
	SetMemoryEmbedding(id string, vec []float32) error
}

// Embedder turns memory content into vectors. EmbedBatch returns one
// vector per input text, in input order.
type Embedder interface {
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// Worker drains embed_memory jobs from the SQLite job queue, calling the
// external embedding generator for entries submitted without a vector.
type Worker struct {
	store    MemoryStore
	embedder Embedder
	poll     time.Duration
	logger   *slog.Logger
}

// NewWorker creates a Worker with the given dependencies.
// If pollInterval is <= 0, it defaults to 500ms.
func NewWorker(store MemoryStore, embedder Embedder, pollInterval time.Duration) *Worker {
	if pollInterval <= 0 {
		pollInterval = 500 * time.Millisecond
	}
	return &Worker{
		store:    store,
		embedder: embedder,
		poll:     pollInterval,
		logger:   slog.Default(),
	}
}

// Run polls for jobs until ctx is cancelled. A non-empty iteration is
// followed immediately by another, so a backlog drains without waiting
// out the poll interval.
func (w *Worker) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}

		n, err := w.RunOnce(ctx)
		if err != nil {
			w.logger.Error("worker iteration failed", "error", err)
		}
		if n > 0 {
			continue
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(w.poll):
		}
	}
}

// RunOnce claims up to a batch of embed_memory jobs, resolves the entries
// that still need vectors, and embeds them with one batched call. Returns
// the number of jobs handled, whether they succeeded or not.
func (w *Worker) RunOnce(ctx context.Context) (int, error) {
	jobs := make([]*storage.Job, 0, batchSize)
	for len(jobs) < batchSize {
		job, err := w.store.ClaimNextJob([]string{JobEmbedMemory})
		if err != nil {
			if len(jobs) == 0 {
				return 0, fmt.Errorf("claiming job: %w", err)
			}
			w.logger.Warn("claiming further jobs failed", "error", err)
			break
		}
		if job == nil {
			break
		}
		jobs = append(jobs, job)
	}
	if len(jobs) == 0 {
		return 0, nil
	}

	type pending struct {
		job   *storage.Job
		entry storage.MemoryEntry
	}
	var todo []pending
	for _, job := range jobs {
		entry, err := w.resolveEntry(job)
		switch {
		case err != nil:
			w.failJob(job, err)
		case entry == nil:
			w.completeJob(job)
		default:
			todo = append(todo, pending{job: job, entry: *entry})
		}
	}
	if len(todo) == 0 {
		return len(jobs), nil
	}

	texts := make([]string, len(todo))
	for i, p := range todo {
		texts[i] = p.entry.Content
	}
	vecs, err := w.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		for _, p := range todo {
			w.failJob(p.job, fmt.Errorf("embedding content: %w", err))
		}
		return len(jobs), nil
	}

	for i, p := range todo {
		if err := w.store.SetMemoryEmbedding(p.entry.ID, vecs[i]); err != nil {
			w.failJob(p.job, fmt.Errorf("storing embedding: %w", err))
			continue
		}
		w.completeJob(p.job)
	}
	return len(jobs), nil
}

// resolveEntry loads the entry a job points at. A nil entry with a nil
// error means the job has nothing left to embed: the entry was deleted
// before the worker reached it, or a vector already landed.
func (w *Worker) resolveEntry(job *storage.Job) (*storage.MemoryEntry, error) {
	var payload EmbedPayload
	if err := json.Unmarshal([]byte(job.PayloadJSON), &payload); err != nil {
		return nil, fmt.Errorf("parsing payload: %w", err)
	}

	entry, err := w.store.GetMemoryEntry(payload.MemoryEntryID)
	if errors.Is(err, storage.ErrNotFound) {
		w.logger.Debug("memory entry gone, skipping", "entry_id", payload.MemoryEntryID)
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("loading memory entry %s: %w", payload.MemoryEntryID, err)
	}
	if entry.Embedding != nil {
		return nil, nil
	}
	return &entry, nil
}

func (w *Worker) completeJob(job *storage.Job) {
	if err := w.store.CompleteJob(job.ID); err != nil {
		w.logger.Error("completing job failed", "job_id", job.ID, "error", err)
	}
}

func (w *Worker) failJob(job *storage.Job, cause error) {
	w.logger.Warn("job failed", "job_id", job.ID, "error", cause)
	if err := w.store.FailJob(job.ID, cause.Error()); err != nil {
		w.logger.Error("marking job failed", "job_id", job.ID, "error", err)
	}
}

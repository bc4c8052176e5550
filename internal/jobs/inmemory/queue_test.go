package inmemory

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/osokin/receipt-ledger/internal/jobs"
)

func waitForStatus(t *testing.T, store *Store, jobID string, status jobs.JobStatus) *jobs.ExtractReceiptJob {
	t.Helper()

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		job, err := store.GetJob(context.Background(), jobID)
		if err == nil && job != nil && job.Status == status {
			return job
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("job %s never reached status %s", jobID, status)
	return nil
}

func TestQueueProcessesJob(t *testing.T) {
	store := NewStore()
	q := NewQueue(10, 2, store)
	defer q.Close()

	var mu sync.Mutex
	var handled []string

	handler := func(ctx context.Context, job jobs.Job) error {
		mu.Lock()
		defer mu.Unlock()
		handled = append(handled, job.GetID())
		return nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := q.Start(ctx, handler); err != nil {
		t.Fatalf("Start: %v", err)
	}

	job := &jobs.ExtractReceiptJob{
		DocumentID: "doc-1",
		GCSURI:     "gs://bucket/receipts/r.jpg",
	}
	if err := q.PublishExtractReceipt(ctx, job); err != nil {
		t.Fatalf("PublishExtractReceipt: %v", err)
	}

	if job.JobID == "" {
		t.Fatal("expected a job ID to be assigned on publish")
	}

	completed := waitForStatus(t, store, job.JobID, jobs.JobStatusCompleted)

	if completed.StartedAt == nil || completed.CompletedAt == nil {
		t.Error("expected started and completed timestamps to be set")
	}
	if completed.Error != "" {
		t.Errorf("unexpected error on completed job: %q", completed.Error)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(handled) != 1 || handled[0] != job.JobID {
		t.Errorf("handled = %v, want exactly [%s]", handled, job.JobID)
	}
}

func TestQueueRetriesFailedJob(t *testing.T) {
	store := NewStore()
	q := NewQueue(10, 1, store)
	defer q.Close()

	var mu sync.Mutex
	attempts := 0

	handler := func(ctx context.Context, job jobs.Job) error {
		mu.Lock()
		defer mu.Unlock()
		attempts++
		if attempts == 1 {
			return errors.New("transient failure")
		}
		return nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := q.Start(ctx, handler); err != nil {
		t.Fatalf("Start: %v", err)
	}

	job := &jobs.ExtractReceiptJob{DocumentID: "doc-retry", MaxRetries: 2}
	if err := q.PublishExtractReceipt(ctx, job); err != nil {
		t.Fatalf("PublishExtractReceipt: %v", err)
	}

	completed := waitForStatus(t, store, job.JobID, jobs.JobStatusCompleted)

	if completed.RetryCount != 1 {
		t.Errorf("retry count = %d, want 1", completed.RetryCount)
	}

	mu.Lock()
	defer mu.Unlock()
	if attempts != 2 {
		t.Errorf("attempts = %d, want 2", attempts)
	}
}

func TestQueueExhaustsRetries(t *testing.T) {
	store := NewStore()
	q := NewQueue(10, 1, store)
	defer q.Close()

	handler := func(ctx context.Context, job jobs.Job) error {
		return errors.New("permanent failure")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := q.Start(ctx, handler); err != nil {
		t.Fatalf("Start: %v", err)
	}

	job := &jobs.ExtractReceiptJob{DocumentID: "doc-fail", MaxRetries: 1}
	if err := q.PublishExtractReceipt(ctx, job); err != nil {
		t.Fatalf("PublishExtractReceipt: %v", err)
	}

	failed := waitForStatus(t, store, job.JobID, jobs.JobStatusFailed)

	if failed.Error != "permanent failure" {
		t.Errorf("error = %q, want %q", failed.Error, "permanent failure")
	}
	if failed.RetryCount != failed.MaxRetries {
		t.Errorf("retry count = %d, want %d", failed.RetryCount, failed.MaxRetries)
	}
}

func TestPublishAfterCloseFails(t *testing.T) {
	q := NewQueue(1, 1, NewStore())
	if err := q.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	err := q.PublishExtractReceipt(context.Background(), &jobs.ExtractReceiptJob{DocumentID: "doc-x"})
	if err == nil {
		t.Fatal("expected publish on a closed queue to fail")
	}
}

func TestStopWaitsForInFlightJobs(t *testing.T) {
	store := NewStore()
	q := NewQueue(1, 1, store)

	release := make(chan struct{})
	started := make(chan struct{})

	handler := func(ctx context.Context, job jobs.Job) error {
		close(started)
		<-release
		return nil
	}

	ctx := context.Background()
	if err := q.Start(ctx, handler); err != nil {
		t.Fatalf("Start: %v", err)
	}

	job := &jobs.ExtractReceiptJob{DocumentID: "doc-slow"}
	if err := q.PublishExtractReceipt(ctx, job); err != nil {
		t.Fatalf("PublishExtractReceipt: %v", err)
	}

	<-started

	stopDone := make(chan error, 1)
	go func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		stopDone <- q.Stop(stopCtx)
	}()

	// Stop must not return while the handler is still running.
	select {
	case err := <-stopDone:
		t.Fatalf("Stop returned %v before the in-flight job finished", err)
	case <-time.After(50 * time.Millisecond):
	}

	close(release)

	if err := <-stopDone; err != nil {
		t.Fatalf("Stop: %v", err)
	}

	waitForStatus(t, store, job.JobID, jobs.JobStatusCompleted)
}

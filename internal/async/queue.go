package async

import (
	"context"
	"time"
)

// Job asks the worker pool to run extraction for one delivery note.
type Job struct {
	NoteName    string
	SubmittedAt time.Time
}

// Queue decouples webhook intake from the extraction pipeline. The contract
// is at-least-once: a job handed to Enqueue will eventually execute.
type Queue interface {
	Enqueue(ctx context.Context, job Job) error
	Shutdown(ctx context.Context)
}

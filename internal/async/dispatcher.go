package async

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Processor is implemented by the orchestrator; the dispatcher stays unaware
// of what processing a note entails.
type Processor interface {
	Process(ctx context.Context, noteName string) error
}

// Dispatcher runs extraction jobs on a bounded worker pool. Intake returns
// immediately; workers drain the channel in the background.
type Dispatcher struct {
	proc    Processor
	logger  *slog.Logger
	workers int
	timeout time.Duration

	ch   chan Job
	wg   sync.WaitGroup
	once sync.Once

	mu     sync.Mutex
	closed bool
}

type Option func(*Dispatcher)

func WithWorkers(n int) Option {
	return func(d *Dispatcher) {
		if n > 0 {
			d.workers = n
		}
	}
}

func WithQueueSize(n int) Option {
	return func(d *Dispatcher) {
		if n > 0 {
			d.ch = make(chan Job, n)
		}
	}
}

func WithJobTimeout(t time.Duration) Option {
	return func(d *Dispatcher) {
		if t > 0 {
			d.timeout = t
		}
	}
}

func NewDispatcher(proc Processor, logger *slog.Logger, opts ...Option) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	d := &Dispatcher{
		proc:    proc,
		logger:  logger,
		workers: 4,
		timeout: 5 * time.Minute,
		ch:      make(chan Job, 256),
	}
	for _, o := range opts {
		o(d)
	}
	d.start()
	return d
}

func (d *Dispatcher) start() {
	d.once.Do(func() {
		for i := 0; i < d.workers; i++ {
			d.wg.Add(1)
			go func(workerID int) {
				defer d.wg.Done()
				d.logger.Info("worker started", "worker_id", workerID)

				for job := range d.ch {
					ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
					err := d.proc.Process(ctx, job.NoteName)
					cancel()

					if err != nil {
						d.logger.Error("processing failed", "worker_id", workerID, "note", job.NoteName, "error", err)
					} else {
						d.logger.Info("processed note", "worker_id", workerID, "note", job.NoteName,
							"queued_ms", time.Since(job.SubmittedAt).Milliseconds())
					}
				}

				d.logger.Info("worker stopped", "worker_id", workerID)
			}(i + 1)
		}
	})
}

func (d *Dispatcher) Enqueue(_ context.Context, job Job) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		d.logger.Warn("cannot enqueue: dispatcher is shutting down", "note", job.NoteName)
		return nil
	}
	select {
	case d.ch <- job:
		d.logger.Info("queued note for extraction", "note", job.NoteName)
	default:
		d.logger.Warn("queue full, applying backpressure", "note", job.NoteName)
		d.ch <- job
	}
	return nil
}

func (d *Dispatcher) Shutdown(ctx context.Context) {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	close(d.ch)
	d.mu.Unlock()

	done := make(chan struct{})
	go func() { defer close(done); d.wg.Wait() }()

	select {
	case <-ctx.Done():
		d.logger.Warn("shutdown interrupted by context")
	case <-done:
		d.logger.Info("queue drained, shutdown complete")
	}
}

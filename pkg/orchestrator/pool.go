package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"
)

// ErrQueueFull is returned when the pool cannot accept more work.
var ErrQueueFull = errors.New("run queue is full")

// errPoolStopped is returned by Submit after Stop.
var errPoolStopped = errors.New("worker pool stopped")

// Task is a unit of work executed by the pool.
type Task func(ctx context.Context)

// Pool runs submitted tasks on a fixed number of workers. Submit never
// blocks.
type Pool interface {
	Start(ctx context.Context) error
	Stop() error
	Submit(task Task) error
}

// Compile-time interface check.
var _ Pool = (*pool)(nil)

type pool struct {
	log     logrus.FieldLogger
	workers int
	queue   chan Task

	mu      sync.RWMutex
	stopped bool
	done    chan struct{}
	wg      sync.WaitGroup
}

// NewPool creates a pool with the given number of workers and queue
// capacity.
func NewPool(log logrus.FieldLogger, workers, queueSize int) Pool {
	if workers <= 0 {
		workers = 1
	}

	if queueSize < 0 {
		queueSize = 0
	}

	return &pool{
		log:     log.WithField("component", "worker-pool"),
		workers: workers,
		queue:   make(chan Task, queueSize),
		done:    make(chan struct{}),
	}
}

// Start launches the workers. Tasks receive ctx.
func (p *pool) Start(ctx context.Context) error {
	p.log.WithFields(logrus.Fields{
		"workers":    p.workers,
		"queue_size": cap(p.queue),
	}).Info("Starting worker pool")

	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)

		go func() {
			defer p.wg.Done()

			for {
				select {
				case task := <-p.queue:
					p.run(ctx, task)
				case <-p.done:
					return
				case <-ctx.Done():
					return
				}
			}
		}()
	}

	return nil
}

func (p *pool) run(ctx context.Context, task Task) {
	defer func() {
		if r := recover(); r != nil {
			p.log.WithField("panic", fmt.Sprint(r)).Error("Task panicked")
		}
	}()

	task(ctx)
}

// Stop signals the workers and waits for in-flight tasks. Queued tasks
// that have not started are dropped.
func (p *pool) Stop() error {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()

		return nil
	}

	p.stopped = true
	close(p.done)
	p.mu.Unlock()

	p.wg.Wait()

	if dropped := len(p.queue); dropped > 0 {
		p.log.WithField("dropped", dropped).Warn("Dropped queued tasks on shutdown")
	}

	p.log.Info("Worker pool stopped")

	return nil
}

func (p *pool) Submit(task Task) error {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.stopped {
		return errPoolStopped
	}

	select {
	case p.queue <- task:
		return nil
	default:
		return ErrQueueFull
	}
}

package controller

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"
)

type Runnable interface {
	// Start runs the component until the context is done or it fails.
	// It blocks for the component's whole lifetime.
	Start(context.Context) error
}

// RunnableFunc adapts a plain function to Runnable.
type RunnableFunc func(context.Context) error

func (f RunnableFunc) Start(ctx context.Context) error {
	return f(ctx)
}

type Manager struct {
	runnables []Runnable
	cancel    context.CancelFunc
	mu        sync.Mutex
	wg        sync.WaitGroup

	logger *zap.Logger
}

func NewManager(logger *zap.Logger, runnables ...Runnable) *Manager {
	return &Manager{
		runnables: runnables,
		logger:    logger,
	}
}

// Start runs every runnable and blocks until all of them have returned.
// The first failure cancels the others. Errors other than cancellation are
// joined into the result.
func (m *Manager) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	m.mu.Lock()
	m.cancel = cancel
	m.mu.Unlock()
	defer cancel()

	var (
		errsMu sync.Mutex
		errs   []error
	)
	for _, runnable := range m.runnables {
		m.wg.Add(1)
		go func(r Runnable) {
			defer m.wg.Done()
			if err := r.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
				m.logger.Error("runnable error", zap.Error(err))
				errsMu.Lock()
				errs = append(errs, err)
				errsMu.Unlock()
				cancel()
			}
		}(runnable)
	}

	m.wg.Wait()
	return errors.Join(errs...)
}

// Stop cancels every running component.
func (m *Manager) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cancel != nil {
		m.cancel()
	}
}

// Package shutdown coordinates graceful teardown of the daemon. Hooks run
// in reverse registration order so dependents stop before the things they
// depend on.
package shutdown

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"
)

type hook struct {
	name string
	fn   func(context.Context) error
}

// Manager collects named shutdown hooks and runs them LIFO under one
// deadline.
type Manager struct {
	mu      sync.Mutex
	hooks   []hook
	timeout time.Duration
	log     *zap.Logger
}

func New(timeout time.Duration, log *zap.Logger) *Manager {
	return &Manager{timeout: timeout, log: log}
}

// Register adds a shutdown hook.
func (m *Manager) Register(name string, fn func(context.Context) error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.hooks = append(m.hooks, hook{name: name, fn: fn})
}

// Wait blocks until SIGINT/SIGTERM, then runs every hook. It returns once
// teardown finishes.
func (m *Manager) Wait() {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGTERM, syscall.SIGINT)
	sig := <-sigChan
	m.log.Info("shutdown signal received", zap.String("signal", sig.String()))
	m.Run()
}

// Run executes the registered hooks in reverse order.
func (m *Manager) Run() {
	m.mu.Lock()
	hooks := make([]hook, len(m.hooks))
	copy(hooks, m.hooks)
	m.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), m.timeout)
	defer cancel()

	for i := len(hooks) - 1; i >= 0; i-- {
		h := hooks[i]
		if err := h.fn(ctx); err != nil {
			m.log.Warn("shutdown hook failed", zap.String("hook", h.name), zap.Error(err))
			continue
		}
		m.log.Debug("shutdown hook done", zap.String("hook", h.name))
	}
	m.log.Info("shutdown complete")
}

// Closer adapts an io.Closer into a hook.
func Closer(closer interface{ Close() error }) func(context.Context) error {
	return func(context.Context) error {
		return closer.Close()
	}
}

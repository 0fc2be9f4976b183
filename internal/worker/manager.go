package worker

import "context"

// Manager runs owner-scoped functions on the dispatcher's workers.
type Manager struct {
	dispatcher *Dispatcher
}

func NewManager(cfg DispatcherConfig) *Manager {
	idle := cfg.WorkerIdleTimeout
	if idle <= 0 {
		idle = defaultWorkerIdle
	}
	return &Manager{
		dispatcher: NewDispatcher(cfg.MinWorkers, cfg.MaxWorkers, cfg.QueueSize, idle),
	}
}

// Go queues fn for ownerID and returns immediately.
func (m *Manager) Go(ownerID int64, fn func()) error {
	return m.dispatcher.Submit(Job{Type: Analyze, OwnerID: ownerID, Run: fn})
}

// Do queues fn and waits until it has run or ctx is done. On ctx expiry fn
// still runs later; callers must make its effects safe to apply late.
func (m *Manager) Do(ctx context.Context, ownerID int64, fn func()) error {
	done := make(chan struct{})
	err := m.Go(ownerID, func() {
		defer close(done)
		fn()
	})
	if err != nil {
		return err
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ResetOwner drops queued work of an owner, e.g. when the account is deleted.
func (m *Manager) ResetOwner(ownerID int64) {
	m.dispatcher.CancelOwner(ownerID)
}

func (m *Manager) Close() {
	m.dispatcher.Close()
}

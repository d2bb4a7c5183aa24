package core

// import_limiter.go serializes dataset writers.
//
// Applying an import, scanning reports and generating work orders all
// rewrite the whole dataset, so only one may run at a time. A writer that
// finds the slot taken waits up to maxWait before failing with ErrImportBusy.
// WaitForDrain lets shutdown finish the running writer before exiting.

import (
	"context"
	"sync"
	"time"
)

// DefaultImportWaitTime is how long a writer waits for the slot.
const DefaultImportWaitTime = 10 * time.Second

// ImportLimiter is a semaphore guarding dataset writes.
type ImportLimiter struct {
	semaphore chan struct{}
	maxWait   time.Duration

	mu      sync.RWMutex
	active  int
	holder  string
	started time.Time
}

// NewImportLimiter returns a limiter admitting one writer at a time.
func NewImportLimiter(maxWait time.Duration) *ImportLimiter {
	if maxWait <= 0 {
		maxWait = DefaultImportWaitTime
	}
	return &ImportLimiter{
		semaphore: make(chan struct{}, 1),
		maxWait:   maxWait,
	}
}

// Acquire takes the writer slot for the named operation.
// The caller must call Release when done.
func (l *ImportLimiter) Acquire(ctx context.Context, operation string) error {
	waitCtx, cancel := context.WithTimeout(ctx, l.maxWait)
	defer cancel()

	select {
	case l.semaphore <- struct{}{}:
		l.hold(operation)
		return nil
	case <-waitCtx.Done():
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return ErrImportBusy
	}
}

// TryAcquire takes the slot without blocking.
func (l *ImportLimiter) TryAcquire(operation string) bool {
	select {
	case l.semaphore <- struct{}{}:
		l.hold(operation)
		return true
	default:
		return false
	}
}

func (l *ImportLimiter) hold(operation string) {
	l.mu.Lock()
	l.active++
	l.holder = operation
	l.started = time.Now()
	l.mu.Unlock()
}

// Release frees the slot. Must be called once per successful acquire.
func (l *ImportLimiter) Release() {
	l.mu.Lock()
	l.active--
	l.holder = ""
	l.started = time.Time{}
	l.mu.Unlock()

	<-l.semaphore
}

// ActiveCount returns 1 while a writer holds the slot.
func (l *ImportLimiter) ActiveCount() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.active
}

// WaitForDrain blocks until no writer holds the slot or ctx ends.
func (l *ImportLimiter) WaitForDrain(ctx context.Context) error {
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		if l.ActiveCount() == 0 {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// ImportLimiterStatus is a snapshot for the status endpoint.
type ImportLimiterStatus struct {
	Busy      bool      `json:"busy"`
	Operation string    `json:"operation,omitempty"`
	Since     time.Time `json:"since,omitzero"`
}

// Status returns the current holder, if any.
func (l *ImportLimiter) Status() ImportLimiterStatus {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return ImportLimiterStatus{
		Busy:      l.active > 0,
		Operation: l.holder,
		Since:     l.started,
	}
}

package session

import (
	"context"
	"log"
	"sync"
)

// OccupancyTracker holds who currently holds the machine and who held it before.
//
// The holder is only ever taken from a CurrentHolder response. The UI actions
// flip the printing flag optimistically and leave the holder alone until the
// next Refresh confirms it.
type OccupancyTracker struct {
	transport Transport
	limit     int
	logger    *log.Logger
	notify    func()

	mu       sync.Mutex
	holder   *OperatorSummary
	history  []OperatorSummary
	printing bool
}

// NewOccupancyTracker creates a tracker keeping at most historyLimit past holders.
// A non-positive limit keeps them all.
func NewOccupancyTracker(t Transport, historyLimit int, logger *log.Logger) *OccupancyTracker {
	if logger == nil {
		logger = log.Default()
	}
	return &OccupancyTracker{
		transport: t,
		limit:     historyLimit,
		logger:    logger,
		notify:    func() {},
	}
}

// Refresh fetches the current holder and commits it. When the machine turns
// out to be free and somebody was holding it, that holder moves to history.
func (t *OccupancyTracker) Refresh(ctx context.Context) error {
	holder, err := t.transport.CurrentHolder(ctx)
	if err != nil {
		return transportErr("get occupancy", err)
	}

	t.mu.Lock()
	if holder != nil {
		h := *holder
		t.holder = &h
		t.printing = true
	} else {
		if t.holder != nil {
			t.history = append(t.history, *t.holder)
			if t.limit > 0 && len(t.history) > t.limit {
				t.history = append([]OperatorSummary(nil), t.history[len(t.history)-t.limit:]...)
			}
			t.logger.Printf("%s is no longer printing", t.holder.Username)
		}
		t.holder = nil
		t.printing = false
	}
	t.mu.Unlock()

	t.notify()
	return nil
}

// RequestStart marks the machine as in use and tells the server that username started.
func (t *OccupancyTracker) RequestStart(ctx context.Context, username string) error {
	t.setPrinting(true)
	if err := t.transport.NotifyStarted(ctx, username); err != nil {
		return transportErr("notify start", err)
	}
	return nil
}

// RequestFailed reports that the current job failed.
func (t *OccupancyTracker) RequestFailed(ctx context.Context) error {
	t.setPrinting(false)
	if err := t.transport.NotifyFailed(ctx); err != nil {
		return transportErr("notify failed", err)
	}
	return nil
}

// RequestFinished reports that the current job completed.
func (t *OccupancyTracker) RequestFinished(ctx context.Context) error {
	t.setPrinting(false)
	if err := t.transport.NotifyFinished(ctx); err != nil {
		return transportErr("notify finished", err)
	}
	return nil
}

func (t *OccupancyTracker) setPrinting(v bool) {
	t.mu.Lock()
	t.printing = v
	t.mu.Unlock()
	t.notify()
}

// Holder returns a copy of the confirmed holder, or nil when the machine is free.
func (t *OccupancyTracker) Holder() *OperatorSummary {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.holder == nil {
		return nil
	}
	h := *t.holder
	return &h
}

// History returns past holders, most recent last.
func (t *OccupancyTracker) History() []OperatorSummary {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]OperatorSummary(nil), t.history...)
}

func (t *OccupancyTracker) IsPrinting() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.printing
}

func (t *OccupancyTracker) IsNotPrinting() bool {
	return !t.IsPrinting()
}

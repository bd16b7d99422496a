package session

import (
	"context"
	"sync"
)

// OperatorDirectory is the list of operators that can be picked for manual assignment.
type OperatorDirectory struct {
	transport Transport
	notify    func()

	mu        sync.Mutex
	operators []OperatorSummary
	selected  string
}

func NewOperatorDirectory(t Transport) *OperatorDirectory {
	return &OperatorDirectory{transport: t, notify: func() {}}
}

// Refresh replaces the list with the server's current listing. A selection
// that is no longer listed is dropped.
func (d *OperatorDirectory) Refresh(ctx context.Context) error {
	operators, err := d.transport.ListOperators(ctx)
	if err != nil {
		return transportErr("list operators", err)
	}

	d.mu.Lock()
	d.operators = append([]OperatorSummary(nil), operators...)
	if d.selected != "" && !d.listedLocked(d.selected) {
		d.selected = ""
	}
	d.mu.Unlock()

	d.notify()
	return nil
}

// Operators returns a copy of the current list.
func (d *OperatorDirectory) Operators() []OperatorSummary {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]OperatorSummary(nil), d.operators...)
}

// Select picks the operator the next start is attributed to. An empty
// username clears the selection.
func (d *OperatorDirectory) Select(username string) error {
	d.mu.Lock()
	if username != "" && !d.listedLocked(username) {
		d.mu.Unlock()
		return &ValidationError{Field: "operator", Reason: "not in directory: " + username}
	}
	d.selected = username
	d.mu.Unlock()

	d.notify()
	return nil
}

func (d *OperatorDirectory) Selected() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.selected
}

// CanAssign reports whether an operator is selected.
func (d *OperatorDirectory) CanAssign() bool {
	return d.Selected() != ""
}

func (d *OperatorDirectory) listedLocked(username string) bool {
	for _, op := range d.operators {
		if op.Username == username {
			return true
		}
	}
	return false
}

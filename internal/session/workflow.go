// Package session tracks the staged uploads of each browser session.
//
// A Workflow moves between three states:
//
//	Empty  --Stage(items)--> Staged
//	Staged --Stage(items)--> Staged   (list replaced; no items means Empty)
//	Staged --Clear()-------> PendingClear
//	PendingClear --Render()--> Empty
//
// Every Stage call must present the widget key of the upload form it came
// from. Clear rotates the key before the page has been re-rendered, so a
// picker still holding the old selection can never re-stage cleared items.
package session

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/example/leafguard/internal/leaf"
)

// State is the workflow position.
type State string

const (
	StateEmpty        State = "empty"
	StateStaged       State = "staged"
	StatePendingClear State = "pending_clear"
)

// ErrStaleWidget is returned by Stage when the upload came from a form
// rendered before the most recent clear.
var ErrStaleWidget = errors.New("upload widget is stale; reload to stage new files")

// View is what one render cycle shows.
type View struct {
	State     State
	Items     []string
	WidgetKey string
	// Discard tells the page to reset any selection its picker still holds.
	Discard bool
}

// Workflow is the per-session state machine. It is safe for concurrent use.
type Workflow struct {
	mu         sync.Mutex
	items      []leaf.UploadedItem
	discard    bool
	widgetKey  string
	lastActive time.Time
	now        func() time.Time
}

// NewWorkflow returns an Empty workflow with a fresh widget key.
func NewWorkflow() *Workflow {
	return newWorkflow(time.Now)
}

func newWorkflow(now func() time.Time) *Workflow {
	return &Workflow{widgetKey: uuid.NewString(), lastActive: now(), now: now}
}

func (w *Workflow) stateLocked() State {
	switch {
	case w.discard:
		return StatePendingClear
	case len(w.items) > 0:
		return StateStaged
	default:
		return StateEmpty
	}
}

// State reports the current position without consuming anything.
func (w *Workflow) State() State {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.stateLocked()
}

// Stage replaces the staged list with items reported by the widget identified by widgetKey.
func (w *Workflow) Stage(widgetKey string, items []leaf.UploadedItem) (State, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.lastActive = w.now()

	if w.discard || widgetKey != w.widgetKey {
		return w.stateLocked(), ErrStaleWidget
	}

	w.items = append([]leaf.UploadedItem(nil), items...)
	return w.stateLocked(), nil
}

// Snapshot returns a copy of the staged items for analysis. It changes no state.
func (w *Workflow) Snapshot() []leaf.UploadedItem {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.lastActive = w.now()
	return append([]leaf.UploadedItem(nil), w.items...)
}

// Clear drops the staged items, raises the discard flag and rotates the widget key.
func (w *Workflow) Clear() State {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.lastActive = w.now()

	w.items = nil
	w.discard = true
	w.widgetKey = uuid.NewString()
	return w.stateLocked()
}

// Render produces the view for one page cycle. A pending clear is consumed here.
func (w *Workflow) Render() View {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.lastActive = w.now()

	view := View{WidgetKey: w.widgetKey, Discard: w.discard}
	w.discard = false

	view.State = w.stateLocked()
	view.Items = make([]string, len(w.items))
	for i, item := range w.items {
		view.Items[i] = item.Name
	}
	return view
}

func (w *Workflow) idleSince() time.Time {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.lastActive
}

package worker

import (
	"sync/atomic"
	"time"

	"github.com/pvfs2/client/internal/completion"
	"github.com/pvfs2/client/pkg/types"
)

// OpID is the worker manager's operation identifier, shared with
// internal/completion since a completion is always keyed by the same id
// the manager assigned at Post time.
type OpID = completion.OpID

// ServiceCallout is the user-supplied function a worker invokes to
// actually perform an operation.
type ServiceCallout func(op *Op) error

// Op is one in-flight operation tracked by the manager's hash, per
// spec.md §4.5.
type Op struct {
	ID       OpID
	Name     string // opcode name, for metrics labeling only
	CtxID    completion.CtxID
	UserPtr  any
	Callout  ServiceCallout
	OpPtr    any
	Hint     types.Hints
	WorkerID WorkerID

	StartTime   time.Time
	ServiceTime time.Duration

	cancelled atomic.Bool
	lastErr   error
}

// cancel marks the op cancelled. Unexported: only the manager that owns
// the op's lifecycle may request cancellation.
func (op *Op) cancel() { op.cancelled.Store(true) }

// Cancelled reports whether Cancel has been requested for this op.
// Manager.completeOp checks this and discards the completion of a
// cancelled op rather than deliver it (spec.md §7, was_cancelled_io).
func (op *Op) Cancelled() bool { return op.cancelled.Load() }

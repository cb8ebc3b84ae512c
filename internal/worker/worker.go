// Package worker implements the worker manager and the closed set of
// worker backends described in spec.md §4.4: Blocking, Queues,
// ThreadedQueues, PerOp, External, and the reserved-but-unimplemented
// Pool.
package worker

import (
	"sync"

	"github.com/pvfs2/client/pkg/errors"
	"github.com/pvfs2/client/pkg/types"
)

// Kind enumerates the worker backends. The enum is the contract: callers
// switch on Kind only to pick a constructor, never to special-case
// behavior that belongs inside the Worker implementation itself.
type Kind int

const (
	Blocking Kind = iota
	Queues
	ThreadedQueues
	PerOp
	External
	Pool
)

func (k Kind) String() string {
	switch k {
	case Blocking:
		return "blocking"
	case Queues:
		return "queues"
	case ThreadedQueues:
		return "threaded_queues"
	case PerOp:
		return "per_op"
	case External:
		return "external"
	case Pool:
		return "pool"
	default:
		return "unknown"
	}
}

// WorkerID identifies a registered worker.
type WorkerID int64

// QueueID identifies a named queue, resolved to its owning worker at post time.
type QueueID int64

// TargetID is what a caller names when posting: a specific worker id, a
// specific queue id, or one of the two magic sentinels below.
type TargetID int64

const (
	// TargetBlocking always dispatches via the blocking worker.
	TargetBlocking TargetID = 0
	// TargetImplicit defers the choice to the manager's mapping callouts.
	TargetImplicit TargetID = -1
)

// MappingCallout inspects an about-to-be-posted operation and optionally
// names a target; returning TargetImplicit means "not my decision."
type MappingCallout func(opPtr any, hint types.Hints) TargetID

// Worker is the contract every backend satisfies. Post returns
// completedSync=true only when the op's result is already known by the
// time Post returns (the Blocking backend); every other backend returns
// false and delivers the result later via the manager's completeOp.
type Worker interface {
	ID() WorkerID
	Kind() Kind
	Post(m *Manager, op *Op) (completedSync bool, err error)
}

// Canceller is implemented by workers that can actively interrupt
// in-flight work (QueueWorker, whose ops can still be sitting in its
// queue).
type Canceller interface {
	Cancel(op *Op) error
}

// DoWorker is implemented only by the pull-model Queues backend; the
// manager's TestContext calls DoWork to advance pending work when a
// caller is blocked waiting for a completion.
type DoWorker interface {
	DoWork(m *Manager)
}

// wireable is implemented by backends that need a back-reference to the
// manager to deliver completions from their own goroutines
// (ThreadedQueues, PerOp).
type wireable interface {
	wire(m *Manager)
}

// blockingWorker runs the callout on the caller's own goroutine and
// never touches the manager's op table.
type blockingWorker struct{}

func (blockingWorker) ID() WorkerID { return WorkerID(TargetBlocking) }
func (blockingWorker) Kind() Kind   { return Blocking }

func (blockingWorker) Post(m *Manager, op *Op) (bool, error) {
	m.runCallout(op)
	return true, op.lastErr
}

// QueueWorker enqueues posted ops; they are serviced only when the
// manager calls DoWork (the pull model), typically from TestContext.
type QueueWorker struct {
	id WorkerID

	mu    sync.Mutex
	queue []*Op
}

// NewQueueWorker constructs a pull-model queue worker.
func NewQueueWorker(id WorkerID) *QueueWorker {
	return &QueueWorker{id: id}
}

func (w *QueueWorker) ID() WorkerID { return w.id }
func (w *QueueWorker) Kind() Kind   { return Queues }

func (w *QueueWorker) Post(m *Manager, op *Op) (bool, error) {
	w.mu.Lock()
	w.queue = append(w.queue, op)
	w.mu.Unlock()
	return false, nil
}

func (w *QueueWorker) DoWork(m *Manager) {
	w.mu.Lock()
	pending := w.queue
	w.queue = nil
	w.mu.Unlock()
	for _, op := range pending {
		m.serviceAndComplete(op, w.id)
	}
}

func (w *QueueWorker) Cancel(op *Op) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	for i, o := range w.queue {
		if o.ID == op.ID {
			w.queue = append(w.queue[:i], w.queue[i+1:]...)
			return nil
		}
	}
	return errors.New("worker", errors.CodeOpNotFound, "op not pending in queue worker").
		WithOperation("Cancel")
}

// ThreadedQueueWorker has the same post contract as QueueWorker but is
// serviced by a dedicated pool of goroutines instead of a pull-model
// DoWork call.
type ThreadedQueueWorker struct {
	id   WorkerID
	jobs chan *Op
	m    *Manager
}

// NewThreadedQueueWorker constructs a worker backed by poolSize
// goroutines draining a shared job channel.
func NewThreadedQueueWorker(id WorkerID, poolSize int) *ThreadedQueueWorker {
	if poolSize < 1 {
		poolSize = 1
	}
	w := &ThreadedQueueWorker{id: id, jobs: make(chan *Op, 64)}
	for i := 0; i < poolSize; i++ {
		go w.loop()
	}
	return w
}

func (w *ThreadedQueueWorker) wire(m *Manager) { w.m = m }

func (w *ThreadedQueueWorker) loop() {
	for op := range w.jobs {
		if w.m != nil {
			w.m.serviceAndComplete(op, w.id)
		}
	}
}

func (w *ThreadedQueueWorker) ID() WorkerID { return w.id }
func (w *ThreadedQueueWorker) Kind() Kind   { return ThreadedQueues }

func (w *ThreadedQueueWorker) Post(m *Manager, op *Op) (bool, error) {
	w.jobs <- op
	return false, nil
}

// PerOpWorker spawns a goroutine per posted op, gated by a semaphore
// sized maxConcurrency so that a burst of posts reuses a bounded number
// of concurrently-running goroutines rather than spawning unboundedly.
type PerOpWorker struct {
	id  WorkerID
	sem chan struct{}
	m   *Manager
}

// NewPerOpWorker constructs a per-op worker allowing up to maxConcurrency
// callouts to run concurrently.
func NewPerOpWorker(id WorkerID, maxConcurrency int) *PerOpWorker {
	if maxConcurrency < 1 {
		maxConcurrency = 1
	}
	return &PerOpWorker{id: id, sem: make(chan struct{}, maxConcurrency)}
}

func (w *PerOpWorker) wire(m *Manager) { w.m = m }

func (w *PerOpWorker) ID() WorkerID { return w.id }
func (w *PerOpWorker) Kind() Kind   { return PerOp }

func (w *PerOpWorker) Post(m *Manager, op *Op) (bool, error) {
	w.sem <- struct{}{}
	go func() {
		defer func() { <-w.sem }()
		m.serviceAndComplete(op, w.id)
	}()
	return false, nil
}

// ExternalWorker registers an op but performs no work itself; the caller
// has promised to deliver the result out of band through Deliver.
type ExternalWorker struct {
	id WorkerID
	m  *Manager
}

// NewExternalWorker constructs an external-completion worker.
func NewExternalWorker(id WorkerID) *ExternalWorker {
	return &ExternalWorker{id: id}
}

func (w *ExternalWorker) wire(m *Manager) { w.m = m }

func (w *ExternalWorker) ID() WorkerID { return w.id }
func (w *ExternalWorker) Kind() Kind   { return External }

func (w *ExternalWorker) Post(m *Manager, op *Op) (bool, error) {
	return false, nil
}

// Deliver is the back-door API an external driver calls once it has
// finished op on its own, outside the manager's control.
func (w *ExternalWorker) Deliver(op *Op, err error) {
	if w.m != nil {
		w.m.completeOp(op, err)
	}
}

// PoolWorker is the reserved-but-unimplemented backend named in
// spec.md §4.4; NewPoolWorker always fails so the closed set of worker
// kinds stays complete without silently accepting posts no one services.
type PoolWorker struct{ id WorkerID }

// NewPoolWorker always returns an error; Pool is reserved, not implemented.
func NewPoolWorker(id WorkerID) (*PoolWorker, error) {
	return nil, errors.New("worker", errors.CodeNotImplemented, "pool worker is reserved and not implemented").
		WithOperation("NewPoolWorker")
}

func (w *PoolWorker) ID() WorkerID { return w.id }
func (w *PoolWorker) Kind() Kind   { return Pool }

func (w *PoolWorker) Post(m *Manager, op *Op) (bool, error) {
	return false, errors.New("worker", errors.CodeNotImplemented, "pool worker is reserved and not implemented")
}

package worker

import (
	"sync"
	"time"

	"github.com/pvfs2/client/internal/circuit"
	"github.com/pvfs2/client/internal/completion"
	"github.com/pvfs2/client/pkg/errors"
	"github.com/pvfs2/client/pkg/types"
)

// Manager is the worker manager from spec.md §4.4/§4.5: it owns the
// registered workers and queues, the opcode-to-target mapping chain, the
// in-flight op table, and the single completion context every posted op
// eventually completes through.
type Manager struct {
	mu          sync.Mutex
	completions *completion.Manager
	ctxID       completion.CtxID

	workers  map[WorkerID]Worker
	queues   map[QueueID]WorkerID
	mappings []MappingCallout

	ops      map[OpID]*Op
	nextOpID OpID

	blocking *blockingWorker
	metrics  types.MetricsCollector
	breakers *circuit.Manager
}

// NewManager constructs a manager posting completions through ctxID on
// completions. nextOpID starts at 1 so no generated id ever collides with
// TargetBlocking's zero value.
func NewManager(completions *completion.Manager, ctxID completion.CtxID) *Manager {
	return &Manager{
		completions: completions,
		ctxID:       ctxID,
		workers:     make(map[WorkerID]Worker),
		queues:      make(map[QueueID]WorkerID),
		ops:         make(map[OpID]*Op),
		nextOpID:    1,
		blocking:    &blockingWorker{},
	}
}

// SetMetrics wires an optional metrics sink; every method nil-checks it
// before use, so a manager built without one runs exactly the same.
func (m *Manager) SetMetrics(mc types.MetricsCollector) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.metrics = mc
}

// SetBreakers wires an optional per-opcode circuit breaker manager. When
// set, every callout is run through a breaker named after the op's
// opcode (circuit.NewIOBreakerConfig's ReadyToTrip/IsSuccessful only
// count NORECVR/TRYAGAIN as failures, so opcodes that never return those
// codes simply never trip). A manager built without one runs callouts
// directly, unchanged.
func (m *Manager) SetBreakers(cb *circuit.Manager) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.breakers = cb
}

// RegisterWorker adds w to the set of dispatch targets. If w needs a
// back-reference to the manager to deliver completions from its own
// goroutines, RegisterWorker wires it in.
func (m *Manager) RegisterWorker(w Worker) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.workers[w.ID()]; exists {
		return errors.New("worker", errors.CodeInvalidConfig, "worker id already registered").
			WithOperation("RegisterWorker")
	}
	m.workers[w.ID()] = w
	if wi, ok := w.(wireable); ok {
		wi.wire(m)
	}
	return nil
}

// RegisterQueue names a queue id, resolved to owner at post time when a
// caller targets the queue rather than the worker directly.
func (m *Manager) RegisterQueue(q QueueID, owner WorkerID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.workers[owner]; !ok {
		return errors.New("worker", errors.CodeWorkerNotFound, "queue owner not registered").
			WithOperation("RegisterQueue")
	}
	m.queues[q] = owner
	return nil
}

// RegisterMapping appends a mapping callout to the chain consulted for
// TargetImplicit posts, in registration order.
func (m *Manager) RegisterMapping(callout MappingCallout) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.mappings = append(m.mappings, callout)
}

// Post submits an operation for service. If the resolved target is
// TargetBlocking (or no mapping claims the op), the callout runs
// synchronously on the caller's goroutine and the returned bool is true.
// Otherwise the op is handed to the resolved worker and completes later
// through the manager's completion context.
func (m *Manager) Post(userPtr any, callout ServiceCallout, opPtr any, hint types.Hints, target TargetID) (OpID, bool, error) {
	resolved := target
	if resolved == TargetImplicit {
		m.mu.Lock()
		mappings := append([]MappingCallout(nil), m.mappings...)
		m.mu.Unlock()
		for _, mapping := range mappings {
			if t := mapping(opPtr, hint); t != TargetImplicit {
				resolved = t
				break
			}
		}
	}

	if resolved == TargetBlocking || resolved == TargetImplicit {
		op := &Op{CtxID: m.ctxID, UserPtr: userPtr, Callout: callout, OpPtr: opPtr, Hint: hint, WorkerID: WorkerID(TargetBlocking)}
		completedSync, err := m.blocking.Post(m, op)
		return 0, completedSync, err
	}

	wid, err := m.resolveWorker(resolved)
	if err != nil {
		return 0, false, err
	}

	m.mu.Lock()
	w, ok := m.workers[wid]
	if !ok {
		m.mu.Unlock()
		return 0, false, errors.New("worker", errors.CodeWorkerNotFound, "resolved worker not registered").
			WithOperation("Post")
	}
	id := m.nextOpID
	m.nextOpID++
	op := &Op{ID: id, CtxID: m.ctxID, UserPtr: userPtr, Callout: callout, OpPtr: opPtr, Hint: hint, WorkerID: wid}
	m.ops[id] = op
	m.mu.Unlock()

	completedSync, postErr := w.Post(m, op)
	if completedSync {
		m.completeOp(op, postErr)
		return id, true, postErr
	}
	return id, false, nil
}

func (m *Manager) resolveWorker(target TargetID) (WorkerID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	wid := WorkerID(target)
	if _, ok := m.workers[wid]; ok {
		return wid, nil
	}
	if owner, ok := m.queues[QueueID(target)]; ok {
		return owner, nil
	}
	return 0, errors.New("worker", errors.CodeWorkerNotFound, "target resolves to neither a worker nor a queue").
		WithOperation("resolveWorker")
}

// runCallout executes op's callout synchronously, recording timing and
// leaving the result in op.lastErr for the blocking worker to return. If a
// breaker manager is wired, the callout runs inside a per-opcode breaker
// so repeated NORECVR/TRYAGAIN failures against a dead or overloaded
// server fail fast instead of queuing more ops behind a doomed one.
func (m *Manager) runCallout(op *Op) {
	m.mu.Lock()
	breakers := m.breakers
	m.mu.Unlock()

	op.StartTime = time.Now()
	var err error
	if breakers != nil {
		cb := breakers.GetBreaker(op.Name)
		err = cb.Execute(func() error { return op.Callout(op) })
	} else {
		err = op.Callout(op)
	}
	op.ServiceTime = time.Since(op.StartTime)
	op.lastErr = err
	if m.metrics != nil {
		m.metrics.RecordOperation(op.Name, op.ServiceTime, err == nil)
	}
}

// serviceAndComplete is the non-blocking-worker half of Post: it runs the
// callout (the "service_op" step) and then completes the op (the
// "complete_op" step), exactly like the blocking path but invoked from
// whatever goroutine the worker backend uses to do the work.
func (m *Manager) serviceAndComplete(op *Op, wid WorkerID) {
	m.runCallout(op)
	m.completeOp(op, op.lastErr)
}

// completeOp removes op from the in-flight table and, unless it was
// cancelled, delivers the result through the completion context. A
// cancelled op's completion is discarded per spec.md §7's was_cancelled_io
// handling: the caller already gave up on it.
func (m *Manager) completeOp(op *Op, err error) {
	m.mu.Lock()
	delete(m.ops, op.ID)
	m.mu.Unlock()

	if op.Cancelled() {
		return
	}
	m.completions.Complete(op.CtxID, op.ID, op.UserPtr, err)
}

// TestContext drains the manager's completion context, first pulling
// anything already queued, then — if nothing is available and the caller
// is willing to wait — advancing every pull-model (DoWorker) backend
// before trying again with the remaining budget.
func (m *Manager) TestContext(capacity int, timeoutMsecs int) ([]completion.Completion, error) {
	comps, err := m.completions.TestAll(m.ctxID, capacity, 0)
	if err != nil {
		return nil, err
	}
	if len(comps) > 0 || timeoutMsecs == 0 {
		return comps, nil
	}

	m.mu.Lock()
	pullers := make([]DoWorker, 0, len(m.workers))
	for _, w := range m.workers {
		if dw, ok := w.(DoWorker); ok {
			pullers = append(pullers, dw)
		}
	}
	m.mu.Unlock()
	for _, dw := range pullers {
		dw.DoWork(m)
	}

	timeout := time.Duration(timeoutMsecs) * time.Millisecond
	if timeoutMsecs < 0 {
		timeout = completion.NoTimeout
	}
	return m.completions.TestAll(m.ctxID, capacity, timeout)
}

// Cancel marks op as cancelled and, if its owning worker supports active
// interruption, asks it to drop the op. The op's eventual completion (if
// any) is discarded in completeOp regardless of whether the worker could
// actually interrupt it.
func (m *Manager) Cancel(id OpID) error {
	m.mu.Lock()
	op, ok := m.ops[id]
	if !ok {
		m.mu.Unlock()
		return errors.New("worker", errors.CodeOpNotFound, "op not in flight").
			WithOperation("Cancel")
	}
	w := m.workers[op.WorkerID]
	m.mu.Unlock()

	op.cancel()
	if c, ok := w.(Canceller); ok {
		return c.Cancel(op)
	}
	return nil
}

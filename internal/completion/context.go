// Package completion implements the completion context: the handoff
// point between a worker finishing an operation and the caller that
// posted it, per spec.md §4.3. A context is either queue-backed (the
// caller polls with Test/TestAll) or callback-backed (the worker invokes
// the callback synchronously on its own goroutine).
package completion

import (
	"sync"
	"time"

	"github.com/pvfs2/client/pkg/errors"
	"github.com/pvfs2/client/pkg/pvfserr"
)

// OpID identifies one in-flight operation across its post/complete
// lifecycle. Also used by internal/worker, which is the only producer of
// fresh ids.
type OpID uint64

// Callback is invoked synchronously, on the completing worker's own
// goroutine, for a callback-mode context.
type Callback func(op OpID, userPtr any, err error)

// Completion is one entry delivered through a queue-mode context.
type Completion struct {
	OpID    OpID
	UserPtr any
	Err     error
}

// NoTimeout requests Test/TestAll block until at least one completion is
// available, matching the original's NONE timeout sentinel.
const NoTimeout = time.Duration(-1)

// CtxID identifies one completion context.
type CtxID uint64

type ctx struct {
	id       CtxID
	callback Callback // nil => queue mode

	mu       sync.Mutex
	cond     *sync.Cond
	queue    []Completion
	refcount int
	inUseBy  bool // true while a worker manager is wired to this context
}

func (c *ctx) isQueue() bool { return c.callback == nil }

// Manager owns the set of live completion contexts.
type Manager struct {
	mu   sync.Mutex
	next CtxID
	ctxs map[CtxID]*ctx
}

// NewManager constructs an empty completion-context manager.
func NewManager() *Manager {
	return &Manager{ctxs: make(map[CtxID]*ctx)}
}

// Open creates a new context. If callback is nil the context is
// queue-backed; otherwise every Complete call invokes callback directly.
func (m *Manager) Open(callback Callback) CtxID {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.next++
	id := m.next
	c := &ctx{id: id, callback: callback}
	c.cond = sync.NewCond(&c.mu)
	m.ctxs[id] = c
	return id
}

func (m *Manager) lookup(id CtxID) (*ctx, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.ctxs[id]
	if !ok {
		return nil, errors.New("completion", errors.CodeOpNotFound, "unknown completion context").
			WithContext("ctx_id", itoa(uint64(id)))
	}
	return c, nil
}

// AddRef increments id's outstanding-reference count; a context with
// outstanding references cannot be closed.
func (m *Manager) AddRef(id CtxID) error {
	c, err := m.lookup(id)
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.refcount++
	c.mu.Unlock()
	return nil
}

// Release decrements id's outstanding-reference count.
func (m *Manager) Release(id CtxID) error {
	c, err := m.lookup(id)
	if err != nil {
		return err
	}
	c.mu.Lock()
	if c.refcount > 0 {
		c.refcount--
	}
	c.mu.Unlock()
	return nil
}

// MarkUsedByManager records whether a worker manager is currently wired
// to this context; Close refuses while this is true.
func (m *Manager) MarkUsedByManager(id CtxID, used bool) error {
	c, err := m.lookup(id)
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.inUseBy = used
	c.mu.Unlock()
	return nil
}

// Close destroys a context. It fails if the context's queue is
// non-empty, if it has outstanding references, or if a worker manager is
// still using it.
func (m *Manager) Close(id CtxID) error {
	c, err := m.lookup(id)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.queue) > 0 || c.refcount > 0 || c.inUseBy {
		return errors.New("completion", errors.CodeContextBusy, "context has pending work and cannot be closed").
			WithContext("ctx_id", itoa(uint64(id))).
			WithContext("queue_len", itoa(uint64(len(c.queue)))).
			WithContext("refcount", itoa(uint64(c.refcount)))
	}
	m.mu.Lock()
	delete(m.ctxs, id)
	m.mu.Unlock()
	return nil
}

// Complete delivers one operation's result. For a callback context the
// callback runs synchronously, on the calling goroutine — which is
// always the worker goroutine that just finished the op. For a queue
// context the completion is enqueued and any blocked Test/TestAll caller
// is woken.
func (m *Manager) Complete(id CtxID, op OpID, userPtr any, opErr error) error {
	c, err := m.lookup(id)
	if err != nil {
		return err
	}
	if !c.isQueue() {
		c.callback(op, userPtr, opErr)
		return nil
	}
	c.mu.Lock()
	c.queue = append(c.queue, Completion{OpID: op, UserPtr: userPtr, Err: opErr})
	c.cond.Broadcast()
	c.mu.Unlock()
	return nil
}

// TestAll drains up to capacity completions from a queue context,
// blocking up to timeout for at least one to arrive (NoTimeout blocks
// indefinitely, 0 never blocks). Fails with CodeContextIsQueue's mirror
// — CodeContextCallback — if the context is callback-backed.
func (m *Manager) TestAll(id CtxID, capacity int, timeout time.Duration) ([]Completion, error) {
	c, err := m.lookup(id)
	if err != nil {
		return nil, err
	}
	if !c.isQueue() {
		return nil, errors.New("completion", errors.CodeContextCallback, "test_all is not valid on a callback context").
			WithContext("ctx_id", itoa(uint64(id)))
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	deadline := deadlineFor(timeout)
	for len(c.queue) == 0 {
		if !waitUntil(c.cond, deadline) {
			return nil, nil
		}
	}
	n := capacity
	if n <= 0 || n > len(c.queue) {
		n = len(c.queue)
	}
	out := make([]Completion, n)
	copy(out, c.queue[:n])
	c.queue = c.queue[n:]
	return out, nil
}

// Test waits for a specific op's completion, removing only that entry
// from the queue (other completions remain queued). Returns an ENOMSG
// error if timeout elapses with nothing matching.
func (m *Manager) Test(id CtxID, op OpID, timeout time.Duration) (any, error) {
	c, err := m.lookup(id)
	if err != nil {
		return nil, err
	}
	if !c.isQueue() {
		return nil, errors.New("completion", errors.CodeContextCallback, "test is not valid on a callback context").
			WithContext("ctx_id", itoa(uint64(id)))
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	deadline := deadlineFor(timeout)
	for {
		for i, comp := range c.queue {
			if comp.OpID == op {
				c.queue = append(c.queue[:i], c.queue[i+1:]...)
				return comp.UserPtr, comp.Err
			}
		}
		if !waitUntil(c.cond, deadline) {
			return nil, pvfserr.FromClientErrno(pvfserr.ENOMSG)
		}
	}
}

func deadlineFor(timeout time.Duration) time.Time {
	if timeout == NoTimeout {
		return time.Time{}
	}
	return time.Now().Add(timeout)
}

// waitUntil blocks on cond until it is signalled or deadline passes
// (zero deadline means wait forever). Returns false once deadline has
// passed; the caller's loop re-checks its predicate either way, so a
// spurious wakeup just costs one extra check.
func waitUntil(cond *sync.Cond, deadline time.Time) bool {
	if deadline.IsZero() {
		cond.Wait()
		return true
	}
	if !time.Now().Before(deadline) {
		return false
	}
	timer := time.AfterFunc(time.Until(deadline), func() {
		cond.L.Lock()
		cond.Broadcast()
		cond.L.Unlock()
	})
	defer timer.Stop()
	cond.Wait()
	return time.Now().Before(deadline)
}

func itoa(v uint64) string {
	if v == 0 {
		return "0"
	}
	var buf [20]byte
	i := len(buf)
	for v > 0 {
		i--
		buf[i] = byte('0' + v%10)
		v /= 10
	}
	return string(buf[i:])
}

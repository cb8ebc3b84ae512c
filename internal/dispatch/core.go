// Package dispatch implements the upcall dispatcher (spec.md §4.7):
// it reads upcall messages from a device.Device, consults the acache/
// ncache/capcache short-circuits, posts non-blocking sysint
// operations through a worker.Manager, signs renewed credentials through
// a security.Manager when a capability needs minting, collects
// completions through a completion.Manager, and writes downcalls back.
package dispatch

import (
	"context"
	"sync"
	"time"

	"github.com/pvfs2/client/internal/cache"
	"github.com/pvfs2/client/internal/completion"
	"github.com/pvfs2/client/internal/device"
	"github.com/pvfs2/client/internal/gossip"
	"github.com/pvfs2/client/internal/security"
	"github.com/pvfs2/client/internal/tcache"
	"github.com/pvfs2/client/internal/worker"
	"github.com/pvfs2/client/pkg/errors"
	"github.com/pvfs2/client/pkg/pvfserr"
	"github.com/pvfs2/client/pkg/types"
)

// MaxNumOps is MAX_NUM_OPS from spec.md §4.7: the size of the pre-posted
// pool of unexpected-message slots. The Go rewrite has no async read
// primitive to pre-post against a character device, so it approximates
// the same concurrency bound by running this many independent reader
// goroutines against the Device, each blocked on its own ReadUpcall.
const MaxNumOps = 64

type dupKey struct {
	tag    uint64
	opcode Opcode
}

type chunkState struct {
	mu            sync.Mutex
	remaining     int
	totalComplete int64
}

type pendingOp struct {
	tag     uint64
	opcode  Opcode
	chunks  *chunkState
	ref     types.ObjectRef
	regions []int // region slot indices to release once this op completes
}

// resultHolder is threaded through worker.Manager.Post as the userPtr so
// the service callout (running on whatever goroutine the worker backend
// uses) can hand its Response back to the dispatcher goroutine that later
// drains the completion, since completion.Completion carries only the
// UserPtr the op was posted with plus its error.
type resultHolder struct {
	resp Response
}

// Config bundles every collaborator ClientCore wires together. Every
// cache pointer is optional: a nil cache is treated as always-miss, so a
// ClientCore can be built with only the caches a test cares about.
type Config struct {
	Device      device.Device
	Backend     Backend
	Workers     *worker.Manager
	Completions *completion.Manager
	CtxID       completion.CtxID
	Regions     *device.Regions

	ACache   *cache.ACache
	NCache   *cache.NCache
	RCache   *cache.RCache
	CapCache *cache.CapCache

	Security *security.Manager
	Gossip   *gossip.Logger
	Metrics  types.MetricsCollector

	DefaultHints types.Hints

	Now func() time.Time
}

// ClientCore is the dispatcher: the component named "client-core" in
// spec.md §1.
type ClientCore struct {
	cfg Config
	now func() time.Time

	mu          sync.Mutex
	inProgress  map[dupKey]completion.OpID
	pending     map[completion.OpID]*pendingOp
	mountKnown  bool
	mountPoints map[string]types.ObjectRef
}

// NewClientCore validates cfg and returns a ClientCore ready for Start.
func NewClientCore(cfg Config) (*ClientCore, error) {
	if cfg.Device == nil || cfg.Backend == nil || cfg.Workers == nil || cfg.Completions == nil {
		return nil, errors.New("dispatch", errors.CodeInvalidConfig, "device, backend, workers, and completions are required").
			WithOperation("NewClientCore")
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &ClientCore{
		cfg:         cfg,
		now:         now,
		inProgress:  make(map[dupKey]completion.OpID),
		pending:     make(map[completion.OpID]*pendingOp),
		mountPoints: make(map[string]types.ObjectRef),
	}, nil
}

// Start runs MaxNumOps reader goroutines plus one completion-drain
// goroutine until ctx is cancelled. It returns once every goroutine has
// exited.
func (c *ClientCore) Start(ctx context.Context) error {
	var wg sync.WaitGroup
	wg.Add(MaxNumOps + 1)

	for i := 0; i < MaxNumOps; i++ {
		go func() {
			defer wg.Done()
			c.readerLoop(ctx)
		}()
	}
	go func() {
		defer wg.Done()
		c.completionLoop(ctx)
	}()

	wg.Wait()
	return nil
}

func (c *ClientCore) readerLoop(ctx context.Context) {
	buf := make([]byte, 256*1024)
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		n, err := c.cfg.Device.ReadUpcall(buf)
		if err != nil {
			return
		}
		msg := append([]byte(nil), buf[:n]...)
		if err := c.HandleRaw(msg); err != nil {
			c.log(gossip.FacilityDevice, "failed to handle upcall", map[string]interface{}{"error": err.Error()})
		}
	}
}

func (c *ClientCore) completionLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		comps, err := c.cfg.Workers.TestContext(MaxNumOps, 100)
		if err != nil {
			continue
		}
		for _, comp := range comps {
			c.completeAsync(comp)
		}
	}
}

// HandleRaw decodes and dispatches one upcall message, exported so tests
// (and a future synchronous CLI driver) can push a message through
// without running the reader goroutines.
func (c *ClientCore) HandleRaw(raw []byte) error {
	up, err := DecodeUpcall(raw)
	if err != nil {
		return err
	}
	return c.Handle(up)
}

// Handle dispatches a decoded upcall. It is the synchronous half of
// spec.md §4.7's main loop: classify, consult caches, post or service
// inline, write the downcall for anything that completes synchronously.
func (c *ClientCore) Handle(up Upcall) error {
	key := dupKey{tag: up.Tag, opcode: up.Opcode}

	c.mu.Lock()
	if _, dup := c.inProgress[key]; dup {
		c.mu.Unlock()
		c.log(gossip.FacilityDevice, "discarding duplicate upcall", map[string]interface{}{"tag": up.Tag})
		return nil
	}
	if !c.mountKnown && up.Opcode != OpFSMount {
		c.mu.Unlock()
		c.log(gossip.FacilityDevice, "discarding upcall before any mount is known", map[string]interface{}{"opcode": up.Opcode.String()})
		return nil
	}
	c.mu.Unlock()

	up.Request.Hints = up.Request.Hints.Merge(c.cfg.DefaultHints)

	if !up.Opcode.IsPostable() {
		return c.serviceInline(up)
	}
	return c.servicePostable(up, key)
}

func (c *ClientCore) serviceInline(up Upcall) error {
	resp, svcErr := c.inlineResponse(up)
	code := pvfserr.Code(0)
	if svcErr != nil {
		code = classify(svcErr)
	}
	return c.writeDowncall(Downcall{Tag: up.Tag, Opcode: up.Opcode, Error: code, Response: resp})
}

func (c *ClientCore) inlineResponse(up Upcall) (Response, error) {
	switch up.Opcode {
	case OpFSMount:
		resp, err := c.cfg.Backend.Service(up.Opcode, up.Request)
		if err != nil {
			return Response{}, err
		}
		c.mu.Lock()
		c.mountKnown = true
		c.mountPoints[up.Request.Name] = resp.Ref
		c.mu.Unlock()
		return resp, nil
	case OpFSUmount:
		c.mu.Lock()
		delete(c.mountPoints, up.Request.Name)
		c.mountKnown = len(c.mountPoints) > 0
		c.mu.Unlock()
		return Response{}, nil
	case OpCancel:
		if err := c.cfg.Workers.Cancel(completion.OpID(up.Request.Token)); err != nil {
			return Response{}, err
		}
		return Response{}, nil
	case OpPerfCount, OpParam, OpFSKey, OpMmapRaFlush:
		return c.cfg.Backend.Service(up.Opcode, up.Request)
	default:
		return Response{}, errors.New("dispatch", errors.CodeUnknownOpcode, "opcode has no inline handler").
			WithOperation("inlineResponse").WithContext("opcode", up.Opcode.String())
	}
}

func (c *ClientCore) servicePostable(up Upcall, key dupKey) error {
	if up.Opcode == OpGetattr && c.cfg.ACache != nil {
		if attr, freshMask, ok := c.cfg.ACache.GetCachedEntry(up.Request.Ref, up.Request.Mask); ok && freshMask.Has(up.Request.Mask) {
			c.recordCacheEvent("acache", "hit")
			return c.writeDowncall(Downcall{Tag: up.Tag, Opcode: up.Opcode, Response: Response{Attr: attr, Ref: up.Request.Ref}})
		}
	}
	if up.Opcode == OpLookup && c.cfg.NCache != nil {
		if ref, status := c.cfg.NCache.Lookup(up.Request.Parent, up.Request.Name); status == tcache.StatusOK {
			return c.writeDowncall(Downcall{Tag: up.Tag, Opcode: up.Opcode, Response: Response{Ref: ref}})
		}
	}

	if up.Opcode == OpFileIOX {
		return c.servicePostableIOX(up, key)
	}
	return c.postSingle(up, key, up.Request)
}

func (c *ClientCore) postSingle(up Upcall, key dupKey, req Request) error {
	holder := &resultHolder{}
	callout := func(op *worker.Op) error {
		resp, err := c.cfg.Backend.Service(up.Opcode, req)
		if err == nil {
			c.refreshCaches(up.Opcode, req, resp)
		}
		holder.resp = resp
		return err
	}

	id, completedSync, err := c.cfg.Workers.Post(holder, callout, &req, req.Hints, worker.TargetImplicit)
	if completedSync {
		code := pvfserr.Code(0)
		if err != nil {
			code = classify(err)
		}
		return c.writeDowncall(Downcall{Tag: up.Tag, Opcode: up.Opcode, Error: code, Response: holder.resp})
	}
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.inProgress[key] = id
	c.pending[id] = &pendingOp{tag: up.Tag, opcode: up.Opcode, ref: req.Ref}
	c.mu.Unlock()
	return nil
}

// servicePostableIOX splits a file_iox upcall's extent list into chunks
// of IOXHindexedCount, posts one sysint op per chunk against a shared
// region buffer, and emits exactly one downcall once every chunk
// completes (spec.md §4.7's file_iox note).
func (c *ClientCore) servicePostableIOX(up Upcall, key dupKey) error {
	chunks := SplitExtents(up.Request.Extents)
	if len(chunks) == 0 {
		return c.writeDowncall(Downcall{Tag: up.Tag, Opcode: up.Opcode})
	}

	state := &chunkState{remaining: len(chunks)}
	var regionIdx []int
	if c.cfg.Regions != nil {
		idx, _, err := c.cfg.Regions.IO.Acquire()
		if err != nil {
			return err
		}
		regionIdx = []int{idx}
	}

	c.mu.Lock()
	c.inProgress[key] = completion.OpID(0)
	c.mu.Unlock()

	for _, chunk := range chunks {
		chunkReq := up.Request
		chunkReq.Extents = chunk
		holder := &resultHolder{}
		callout := func(op *worker.Op) error {
			resp, err := c.cfg.Backend.Service(up.Opcode, chunkReq)
			holder.resp = resp
			return err
		}
		id, completedSync, err := c.cfg.Workers.Post(holder, callout, &chunkReq, chunkReq.Hints, worker.TargetImplicit)
		if err != nil {
			return err
		}
		if completedSync {
			c.finishIOXChunk(up, key, state, regionIdx, holder.resp.AmountComplete, nil)
			continue
		}
		c.mu.Lock()
		c.pending[id] = &pendingOp{tag: up.Tag, opcode: up.Opcode, chunks: state, regions: regionIdx}
		c.mu.Unlock()
	}
	return nil
}

func (c *ClientCore) finishIOXChunk(up Upcall, key dupKey, state *chunkState, regionIdx []int, amountComplete int64, svcErr error) {
	state.mu.Lock()
	state.totalComplete += amountComplete
	state.remaining--
	done := state.remaining == 0
	total := state.totalComplete
	state.mu.Unlock()

	if !done {
		return
	}
	for _, idx := range regionIdx {
		c.cfg.Regions.IO.Release(idx)
	}
	c.mu.Lock()
	delete(c.inProgress, key)
	c.mu.Unlock()

	code := pvfserr.Code(0)
	if svcErr != nil {
		code = classify(svcErr)
	}
	c.writeDowncall(Downcall{Tag: up.Tag, Opcode: up.Opcode, Error: code, Response: Response{AmountComplete: total}})
}

// completeAsync handles one completion.Completion pulled off the worker
// manager's context: look up the op's tag/opcode, write its downcall (or
// finish its iox chunk group), unless it was cancelled.
func (c *ClientCore) completeAsync(comp completion.Completion) {
	c.mu.Lock()
	p, ok := c.pending[comp.OpID]
	if ok {
		delete(c.pending, comp.OpID)
	}
	c.mu.Unlock()
	if !ok {
		return
	}

	var resp Response
	if holder, ok := comp.UserPtr.(*resultHolder); ok {
		resp = holder.resp
	}

	key := dupKey{tag: p.tag, opcode: p.opcode}
	if p.chunks != nil {
		c.finishIOXChunk(Upcall{Tag: p.tag, Opcode: p.opcode}, key, p.chunks, p.regions, resp.AmountComplete, comp.Err)
		return
	}

	c.mu.Lock()
	delete(c.inProgress, key)
	c.mu.Unlock()

	code := pvfserr.Code(0)
	if comp.Err != nil {
		code = classify(comp.Err)
	}
	c.writeDowncall(Downcall{Tag: p.tag, Opcode: p.opcode, Error: code, Response: resp})
}

func (c *ClientCore) writeDowncall(d Downcall) error {
	raw, err := EncodeDowncall(d)
	if err != nil {
		return err
	}
	return c.cfg.Device.WriteDowncall(raw)
}

// refreshCaches updates acache/ncache after a successful postable
// op, mirroring the original's "every successful op that touches an
// attribute updates the attribute cache" behavior.
func (c *ClientCore) refreshCaches(op Opcode, req Request, resp Response) {
	switch op {
	case OpGetattr, OpSetattr, OpCreate, OpMkdir:
		if c.cfg.ACache != nil {
			c.cfg.ACache.Update(resp.Ref, resp.Attr)
		}
	case OpLookup:
		if c.cfg.NCache != nil && !resp.Ref.Handle.IsNull() {
			c.cfg.NCache.Insert(req.Parent, req.Name, resp.Ref)
		}
	case OpRemove:
		if c.cfg.ACache != nil {
			c.cfg.ACache.Invalidate(req.Ref)
		}
		if c.cfg.NCache != nil {
			c.cfg.NCache.Invalidate(req.Parent, req.Name)
		}
	}
}

// ResolveCapability returns a cached capability for handle, minting and
// signing a fresh one through the security manager on a miss. This is
// the dispatcher's wiring point for internal/security: capcache misses
// never hit the wire without first producing a freshly signed credential.
func (c *ClientCore) ResolveCapability(ref types.ObjectRef, uid uint32, groups []uint32) (types.Capability, error) {
	if c.cfg.CapCache != nil {
		if cap, ok := c.cfg.CapCache.Lookup(ref.Handle, ref.FSID, uid); ok && !cap.Expired(c.now()) {
			return cap, nil
		}
	}
	if c.cfg.Security == nil {
		return types.Capability{}, errors.New("dispatch", errors.CodeCapabilityStale, "no signer configured and no cached capability available").
			WithOperation("ResolveCapability")
	}
	cred, err := c.cfg.Security.SignCredential(uid, groups, c.now().Add(time.Hour).Unix())
	if err != nil {
		return types.Capability{}, err
	}
	capability := types.Capability{
		Issuer:  cred.Issuer,
		FSID:    ref.FSID,
		Handles: []types.Handle{ref.Handle},
		Timeout: cred.Timeout,
	}
	if c.cfg.CapCache != nil {
		_ = c.cfg.CapCache.Update(ref.Handle, ref.FSID, uid, capability)
	}
	return capability, nil
}

func (c *ClientCore) log(facility gossip.Facility, msg string, fields map[string]interface{}) {
	if c.cfg.Gossip != nil {
		c.cfg.Gossip.Log(facility, msg, fields)
	}
}

func (c *ClientCore) recordCacheEvent(cacheName, event string) {
	if c.cfg.Metrics != nil {
		c.cfg.Metrics.RecordCacheEvent(cacheName, event)
	}
}

// classify maps an arbitrary service error onto a wire-transmissible
// pvfserr.Code. A Code already is one; anything else becomes a generic
// client-class EINVAL, since the real mapping from backend errors to
// PVFS codes lives on the far side of the out-of-scope server protocol.
func classify(err error) pvfserr.Code {
	if code, ok := err.(pvfserr.Code); ok {
		return code
	}
	return pvfserr.FromClientErrno(pvfserr.EINVAL)
}

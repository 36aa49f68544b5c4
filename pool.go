package shapesync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/go-metrics"
	iradix "github.com/hashicorp/go-immutable-radix"
	"github.com/oklog/ulid/v2"
	"github.com/raskyld/shapesync/pkg/flow"
	"github.com/raskyld/shapesync/pkg/patch"
	"github.com/raskyld/shapesync/pkg/protocol"
	"github.com/raskyld/shapesync/pkg/signal"
)

const (
	defaultBufferSize   = 64
	defaultPendingLimit = 1024
)

// ShapeDescriptor identifies the shape of a document.
type ShapeDescriptor = protocol.ShapeDescriptor

// Pool shares connections to the remote store between every consumer of
// the same shape and scope.
type Pool struct {
	config config
	logger *slog.Logger
	msink  metrics.MetricSink

	sender   *flow.Sender[protocol.Envelope]
	receiver *flow.Receiver[protocol.Envelope]

	// registries, guarded by lk.
	byKey  map[string]*entry
	byConn map[string]*entry
	index  *iradix.Tree

	// synchronisation
	lk sync.Mutex

	// closing
	shutdown bool
	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
}

type entry struct {
	key     string
	shapeID string
	connID  string
	root    *signal.Root
	created time.Time

	// guarded by Pool.lk
	refCount int
	released bool

	// readiness
	lk        sync.Mutex
	ready     bool
	stopped   bool
	pending   []patch.Diff
	stopWatch func()
	readyCh   chan struct{}
	doneCh    chan struct{}

	// sendLk orders FrontendUpdates before the final Stop.
	sendLk     sync.Mutex
	sendClosed bool
}

// New starts a Pool speaking the protocol over raw. The Pool owns raw and
// closes it on [Pool.Close].
func New(raw flow.Raw, opts ...Option) (*Pool, error) {
	p := &Pool{
		byKey:  make(map[string]*entry),
		byConn: make(map[string]*entry),
		index:  iradix.New(),
	}

	p.config = config{
		bufferSize:   defaultBufferSize,
		pendingLimit: defaultPendingLimit,
		encoder:      flow.NewJsonEncoder(true),
		decoder:      flow.NewJsonDecoder[protocol.Envelope](),
		newConnID: func() string {
			return ulid.Make().String()
		},
	}
	for _, opt := range opts {
		err := opt(&p.config)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidCfg, err)
		}
	}

	if p.config.logHandler != nil {
		p.logger = slog.New(p.config.logHandler)
	} else {
		p.logger = slog.Default()
	}

	if p.config.msink == nil {
		p.msink = metrics.Default()
	} else {
		p.msink = p.config.msink
	}

	p.ctx, p.cancel = context.WithCancel(context.Background())
	p.sender = flow.NewSender[protocol.Envelope](raw, p.config.encoder, p.config.bufferSize)
	p.receiver = flow.NewReceiver[protocol.Envelope](raw, p.config.decoder, p.config.bufferSize)

	p.wg.Add(1)
	go p.handleInbound()

	return p, nil
}

// Acquire returns a handle on the document of shape restricted to scope.
// The order of scope does not matter. Every handle MUST be stopped.
//
// Handles for the same shape and scope share a single connection and
// a single root. The first one sends a Request to the remote store before
// Acquire returns.
func (p *Pool) Acquire(shape ShapeDescriptor, scope ...string) (*Handle, error) {
	if shape.ID == "" {
		return nil, ErrInvalidShape
	}
	canonical := protocol.SortedScope(scope)
	key := protocol.Key(shape.ID, canonical)

	p.lk.Lock()
	if p.shutdown {
		p.lk.Unlock()
		return nil, ErrPoolClosed
	}
	if e, has := p.byKey[key]; has {
		e.refCount++
		refs := e.refCount
		p.lk.Unlock()

		p.msink.IncrCounterWithLabels(MetricPoolHitCount, 1.0, p.labels(LabelShape.M(shape.ID)))
		p.logger.Debug(
			"sharing connection",
			LabelKey.L(key),
			LabelConnectionID.L(e.connID),
			"ref_count", refs,
		)
		return newHandle(p, e), nil
	}

	e := &entry{
		key:     key,
		shapeID: shape.ID,
		connID:  p.config.newConnID(),
		root: signal.New(
			signal.WithLogger(p.logger),
			signal.WithEnsurePathExists(p.config.ensurePaths),
		),
		created:  time.Now(),
		refCount: 1,
		readyCh:  make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
	p.register(e)
	p.lk.Unlock()

	if err := p.send(protocol.NewRequest(e.connID, shape, canonical)); err != nil {
		p.release(e)
		return nil, err
	}

	p.msink.IncrCounterWithLabels(MetricPoolRequestCount, 1.0, p.labels(LabelShape.M(shape.ID)))
	p.logger.Debug(
		"requested connection",
		LabelKey.L(key),
		LabelConnectionID.L(e.connID),
	)
	return newHandle(p, e), nil
}

// Use acquires a handle, waits for it to be hydrated, runs fn and releases
// the handle whatever happens.
func (p *Pool) Use(ctx context.Context, shape ShapeDescriptor, scope []string, fn func(root *signal.Root) error) error {
	h, err := p.Acquire(shape, scope...)
	if err != nil {
		return err
	}
	defer h.Stop()

	if err := h.Wait(ctx); err != nil {
		return err
	}
	return fn(h.Root())
}

// Len returns the number of open connections.
func (p *Pool) Len() int {
	p.lk.Lock()
	defer p.lk.Unlock()
	return len(p.byKey)
}

// Scopes returns the canonical scopes currently open for shapeID, in
// lexical order.
func (p *Pool) Scopes(shapeID string) []string {
	p.lk.Lock()
	index := p.index
	p.lk.Unlock()

	prefix := shapeID + protocol.KeySeparator
	var scopes []string
	index.Root().WalkPrefix([]byte(prefix), func(k []byte, _ interface{}) bool {
		scopes = append(scopes, strings.TrimPrefix(string(k), prefix))
		return false
	})
	return scopes
}

// Close stops every connection, flushes the Stop messages and releases the
// flow. Handles stopped afterwards are no-ops.
func (p *Pool) Close() error {
	p.lk.Lock()
	if p.shutdown {
		p.lk.Unlock()
		return nil
	}
	p.shutdown = true
	entries := make([]*entry, 0, len(p.byKey))
	for _, e := range p.byKey {
		entries = append(entries, e)
	}
	for _, e := range entries {
		p.unregister(e)
	}
	p.lk.Unlock()

	start := time.Now()
	p.logger.Info("shutting down...", "connections", len(entries))

	for _, e := range entries {
		p.stopEntry(e)
	}

	p.logger.Debug("shutdown: flush outbound envelopes")
	err := p.sender.Close()
	if errors.Is(err, flow.ErrFlowClosed) {
		err = nil
	}

	p.cancel()
	err = errors.Join(err, p.receiver.Close())

	p.logger.Debug("shutdown: wait for sub-tasks to finish")
	p.wg.Wait()

	p.logger.Info("shutdown: completed", LabelDuration.L(time.Since(start)))
	return err
}

// register MUST be called with lk held.
func (p *Pool) register(e *entry) {
	p.byKey[e.key] = e
	p.byConn[e.connID] = e
	p.index, _, _ = p.index.Insert([]byte(e.key), e)
	p.msink.SetGaugeWithLabels(MetricPoolEntries, float32(len(p.byKey)), p.labels())
}

// unregister MUST be called with lk held.
func (p *Pool) unregister(e *entry) {
	e.released = true
	delete(p.byKey, e.key)
	delete(p.byConn, e.connID)
	p.index, _, _ = p.index.Delete([]byte(e.key))
	p.msink.SetGaugeWithLabels(MetricPoolEntries, float32(len(p.byKey)), p.labels())
}

func (p *Pool) release(e *entry) {
	p.lk.Lock()
	if e.released {
		p.lk.Unlock()
		return
	}
	e.refCount--
	if e.refCount > 0 {
		p.lk.Unlock()
		return
	}
	p.unregister(e)
	p.lk.Unlock()

	p.stopEntry(e)
}

func (p *Pool) stopEntry(e *entry) {
	e.lk.Lock()
	e.stopped = true
	e.pending = nil
	stopWatch := e.stopWatch
	e.stopWatch = nil
	close(e.doneCh)
	e.lk.Unlock()

	if stopWatch != nil {
		stopWatch()
	}

	e.sendLk.Lock()
	defer e.sendLk.Unlock()
	e.sendClosed = true
	if err := p.send(protocol.NewStop(e.connID)); err != nil {
		p.logger.Warn(
			"failed to send stop",
			LabelConnectionID.L(e.connID),
			LabelError.L(err),
		)
		return
	}

	p.msink.IncrCounterWithLabels(MetricPoolStopCount, 1.0, p.labels(LabelShape.M(e.shapeID)))
	p.logger.Debug("stopped connection", LabelKey.L(e.key), LabelConnectionID.L(e.connID))
}

func (p *Pool) send(env protocol.Envelope) error {
	if err := p.sender.Send(p.ctx, env); err != nil {
		return fmt.Errorf("%w: %w", ErrSendFailed, err)
	}
	return nil
}

func (p *Pool) lookup(connID string) *entry {
	p.lk.Lock()
	defer p.lk.Unlock()
	return p.byConn[connID]
}

func (p *Pool) labels(extra ...metrics.Label) []metrics.Label {
	labels := make([]metrics.Label, 0, len(p.config.metricLabels)+len(extra))
	labels = append(labels, p.config.metricLabels...)
	return append(labels, extra...)
}

func (p *Pool) handleInbound() {
	defer p.wg.Done()
	for {
		env, err := p.receiver.Recv(p.ctx)
		if err != nil {
			if p.ctx.Err() == nil && !errors.Is(err, flow.ErrFlowClosed) {
				p.logger.Error("inbound flow failed", LabelError.L(err))
			}
			return
		}

		p.msink.IncrCounterWithLabels(
			MetricPoolInboundCount,
			1.0,
			p.labels(LabelMessageType.M(string(env.Type))),
		)

		switch env.Type {
		case protocol.InitialResponse:
			p.hydrate(env)
		case protocol.BackendUpdate:
			p.applyRemote(env)
		default:
			p.logger.Warn(
				"ignoring unexpected envelope",
				LabelMessageType.L(env.Type),
				LabelConnectionID.L(env.ConnectionID),
			)
		}
	}
}

func (p *Pool) hydrate(env protocol.Envelope) {
	e := p.lookup(env.ConnectionID)
	if e == nil {
		p.drop(env, "unknown_connection")
		return
	}

	e.lk.Lock()
	defer e.lk.Unlock()
	if e.stopped {
		p.drop(env, "released")
		return
	}
	if e.ready {
		p.logger.Warn(
			"ignoring duplicate initial response",
			LabelKey.L(e.key),
			LabelConnectionID.L(e.connID),
		)
		return
	}

	// The watcher is only armed after the snapshot is assigned, and it
	// forwards local batches only: neither hydration nor the pending
	// remote diffs are echoed back.
	e.root.Assign(patch.FromWireObject(env.InitialData), signal.OriginHydration)
	e.stopWatch = e.root.Watch(p.forwarder(e))
	for _, diff := range e.pending {
		e.root.Apply(diff, signal.OriginRemote)
	}
	e.pending = nil
	e.ready = true
	close(e.readyCh)

	p.msink.AddSampleWithLabels(
		MetricPoolHydrationSeconds,
		float32(time.Since(e.created).Seconds()),
		p.labels(LabelShape.M(e.shapeID)),
	)
	p.logger.Debug("hydrated connection", LabelKey.L(e.key), LabelConnectionID.L(e.connID))
}

func (p *Pool) applyRemote(env protocol.Envelope) {
	e := p.lookup(env.ConnectionID)
	if e == nil {
		p.drop(env, "unknown_connection")
		return
	}

	e.lk.Lock()
	if e.stopped {
		e.lk.Unlock()
		p.drop(env, "released")
		return
	}
	if !e.ready {
		if len(e.pending) >= p.config.pendingLimit {
			e.lk.Unlock()
			p.msink.IncrCounterWithLabels(MetricPoolPendingOverflow, 1.0, p.labels(LabelShape.M(e.shapeID)))
			p.logger.Warn(
				"dropping update received before hydration: too many pending",
				LabelConnectionID.L(e.connID),
				"limit", p.config.pendingLimit,
			)
			return
		}
		e.pending = append(e.pending, env.Diff)
		e.lk.Unlock()
		return
	}
	e.lk.Unlock()

	e.root.Apply(env.Diff, signal.OriginRemote)
}

func (p *Pool) forwarder(e *entry) func(signal.Batch) {
	return func(b signal.Batch) {
		if b.Origin != signal.OriginLocal {
			return
		}

		e.sendLk.Lock()
		defer e.sendLk.Unlock()
		if e.sendClosed {
			return
		}
		if err := p.send(protocol.NewFrontendUpdate(e.connID, b.Patches)); err != nil {
			p.logger.Error(
				"failed to forward local changes",
				LabelConnectionID.L(e.connID),
				LabelError.L(err),
			)
			return
		}
		p.msink.IncrCounterWithLabels(MetricPoolFrontendUpdateCount, 1.0, p.labels(LabelShape.M(e.shapeID)))
	}
}

func (p *Pool) drop(env protocol.Envelope, reason string) {
	p.msink.IncrCounterWithLabels(
		MetricPoolDroppedCount,
		1.0,
		p.labels(LabelMessageType.M(string(env.Type)), LabelReason.M(reason)),
	)
	p.logger.Debug(
		"dropping envelope",
		LabelMessageType.L(env.Type),
		LabelConnectionID.L(env.ConnectionID),
		LabelReason.L(reason),
	)
}

// Handle is one consumer's claim on a pooled connection.
type Handle struct {
	pool  *Pool
	entry *entry
	once  sync.Once
}

func newHandle(p *Pool, e *entry) *Handle {
	return &Handle{pool: p, entry: e}
}

// Root is shared with every other handle on the same key.
func (h *Handle) Root() *signal.Root {
	return h.entry.root
}

func (h *Handle) ConnectionID() string {
	return h.entry.connID
}

func (h *Handle) Key() string {
	return h.entry.key
}

// Ready is closed once the root holds the snapshot of the remote store.
func (h *Handle) Ready() <-chan struct{} {
	return h.entry.readyCh
}

// Wait blocks until the root is hydrated. It returns ErrReleased if the
// connection was closed first.
func (h *Handle) Wait(ctx context.Context) error {
	select {
	case <-h.entry.readyCh:
		return nil
	case <-h.entry.doneCh:
		select {
		case <-h.entry.readyCh:
			return nil
		default:
			return ErrReleased
		}
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stop releases the handle. Only the first call has an effect.
func (h *Handle) Stop() {
	h.once.Do(func() {
		h.pool.release(h.entry)
	})
}

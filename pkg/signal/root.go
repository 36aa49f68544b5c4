// Package signal provides the Reactive Root: a document tree that many
// goroutines share by reference and whose every structural change is
// published to watchers as a batch of patches.
package signal

import (
	"log/slog"
	"sync"

	"github.com/raskyld/shapesync/pkg/patch"
)

// Origin tells watchers where a batch of changes comes from.
type Origin uint8

const (
	// OriginLocal batches come from a writer holding the Root.
	OriginLocal Origin = iota
	// OriginHydration batches come from the initial snapshot.
	OriginHydration
	// OriginRemote batches come from a diff sent by the remote store.
	OriginRemote
)

func (o Origin) String() string {
	switch o {
	case OriginLocal:
		return "local"
	case OriginHydration:
		return "hydration"
	case OriginRemote:
		return "remote"
	default:
		return "unknown"
	}
}

// Batch is the set of patches that took effect in a single update.
type Batch struct {
	Origin  Origin
	Patches patch.Diff
}

// Root is safe for concurrent use. Writers are serialized, and watchers
// receive batches in the order the writes happened.
type Root struct {
	logger      *slog.Logger
	ensurePaths bool

	// doc is guarded by lk, emitLk serializes write+publish so that
	// watchers observe batches in mutation order.
	doc    patch.Object
	lk     sync.RWMutex
	emitLk sync.Mutex

	watchers  map[uint64]func(Batch)
	nextWatch uint64
	watchLk   sync.Mutex
}

type Option func(*Root)

// WithLogger sets the logger receiving skipped-patch warnings.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Root) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithEnsurePathExists makes [Root.Apply] create missing intermediate
// objects instead of skipping the patch.
func WithEnsurePathExists(ensure bool) Option {
	return func(r *Root) {
		r.ensurePaths = ensure
	}
}

// New returns an empty Root.
func New(opts ...Option) *Root {
	r := &Root{
		logger:   slog.Default(),
		doc:      patch.Object{},
		watchers: make(map[uint64]func(Batch)),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Watch registers fn to be called synchronously after every non-empty
// batch. fn MUST NOT write to the Root. The returned function unregisters
// fn and may be called more than once.
func (r *Root) Watch(fn func(Batch)) (cancel func()) {
	r.watchLk.Lock()
	id := r.nextWatch
	r.nextWatch++
	r.watchers[id] = fn
	r.watchLk.Unlock()

	return func() {
		r.watchLk.Lock()
		delete(r.watchers, id)
		r.watchLk.Unlock()
	}
}

// Get returns a copy of the value at path.
func (r *Root) Get(path string) (any, bool) {
	segments, err := patch.Segments(path)
	if err != nil {
		return nil, false
	}

	r.lk.RLock()
	defer r.lk.RUnlock()
	value, ok := lookup(r.doc, segments)
	if !ok {
		return nil, false
	}
	return patch.Clone(value), true
}

// Snapshot returns a deep copy of the whole document.
func (r *Root) Snapshot() patch.Object {
	r.lk.RLock()
	defer r.lk.RUnlock()
	return patch.CloneObject(r.doc)
}

// View gives fn read access to the live document. fn MUST NOT keep or
// mutate anything it reads.
func (r *Root) View(fn func(doc patch.Object)) {
	r.lk.RLock()
	defer r.lk.RUnlock()
	fn(r.doc)
}

// Update runs fn against a transaction; everything fn writes is published as
// one OriginLocal batch.
func (r *Root) Update(fn func(tx *Tx)) patch.Diff {
	return r.update(OriginLocal, fn)
}

// Apply applies a diff received from elsewhere, tagging the batch with
// origin. Unless [WithEnsurePathExists] is set, a patch whose intermediates
// are missing is skipped.
func (r *Root) Apply(diff patch.Diff, origin Origin) patch.Diff {
	return r.update(origin, func(tx *Tx) {
		tx.applyAll(diff, r.ensurePaths)
	})
}

// Assign copies every top-level key of obj onto the document, replacing
// what was there. Keys absent from obj are left alone.
func (r *Root) Assign(obj patch.Object, origin Origin) patch.Diff {
	return r.update(origin, func(tx *Tx) {
		for key, value := range obj {
			tx.Set(patch.Path(key), value)
		}
	})
}

func (r *Root) Set(path string, value any) patch.Diff {
	return r.Update(func(tx *Tx) { tx.Set(path, value) })
}

func (r *Root) Delete(path string) patch.Diff {
	return r.Update(func(tx *Tx) { tx.Delete(path) })
}

func (r *Root) EnsureObject(path string) patch.Diff {
	return r.Update(func(tx *Tx) { tx.EnsureObject(path) })
}

func (r *Root) AddToSet(path string, members ...any) patch.Diff {
	return r.Update(func(tx *Tx) { tx.AddToSet(path, members...) })
}

func (r *Root) RemoveFromSet(path string, members ...any) patch.Diff {
	return r.Update(func(tx *Tx) { tx.RemoveFromSet(path, members...) })
}

func (r *Root) PutKeyed(path string, id string, member patch.Object) patch.Diff {
	return r.Update(func(tx *Tx) { tx.PutKeyed(path, id, member) })
}

func (r *Root) RemoveKeyed(path string, ids ...string) patch.Diff {
	return r.Update(func(tx *Tx) { tx.RemoveKeyed(path, ids...) })
}

func (r *Root) update(origin Origin, fn func(tx *Tx)) patch.Diff {
	r.emitLk.Lock()
	defer r.emitLk.Unlock()

	r.lk.Lock()
	tx := &Tx{
		doc:     r.doc,
		applier: patch.Applier{Logger: r.logger},
	}
	fn(tx)
	tx.doc = nil
	r.lk.Unlock()

	if len(tx.applied) == 0 {
		return nil
	}

	batch := Batch{Origin: origin, Patches: tx.applied}
	r.watchLk.Lock()
	fns := make([]func(Batch), 0, len(r.watchers))
	for _, fn := range r.watchers {
		fns = append(fns, fn)
	}
	r.watchLk.Unlock()

	for _, fn := range fns {
		fn(batch)
	}
	return batch.Patches
}

func lookup(doc patch.Object, segments []string) (any, bool) {
	var current any = doc
	for _, seg := range segments {
		obj, ok := current.(patch.Object)
		if !ok {
			return nil, false
		}
		current, ok = obj[seg]
		if !ok {
			return nil, false
		}
	}
	return current, true
}

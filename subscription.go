package shapesync

import (
	"context"
	"slices"
	"strings"
	"sync"

	"github.com/raskyld/shapesync/pkg/patch"
	"github.com/raskyld/shapesync/pkg/signal"
)

// Subscription bridges a pooled root to a re-render loop: Changed fires
// after any batch, whatever its origin, and Touched tells which top-level
// keys moved since the last call.
type Subscription struct {
	handle *Handle
	cancel func()

	changed chan struct{}

	lk      sync.Mutex
	touched map[string]struct{}
	once    sync.Once
}

// Subscribe acquires a handle and waits until it is hydrated. Changed is
// primed on return and Touched then reports every top-level key, so the
// first render happens right away.
func (p *Pool) Subscribe(ctx context.Context, shape ShapeDescriptor, scope ...string) (*Subscription, error) {
	h, err := p.Acquire(shape, scope...)
	if err != nil {
		return nil, err
	}

	s := &Subscription{
		handle:  h,
		changed: make(chan struct{}, 1),
		touched: make(map[string]struct{}),
	}
	s.cancel = h.Root().Watch(s.observe)

	if err := h.Wait(ctx); err != nil {
		s.Close()
		return nil, err
	}

	h.Root().View(func(doc patch.Object) {
		s.lk.Lock()
		for key := range doc {
			s.touched[key] = struct{}{}
		}
		s.lk.Unlock()
	})
	s.notify()
	return s, nil
}

func (s *Subscription) Root() *signal.Root {
	return s.handle.Root()
}

func (s *Subscription) Handle() *Handle {
	return s.handle
}

// Changed receives a value when the root changed since the last receive.
// Bursts of batches are coalesced into one notification.
func (s *Subscription) Changed() <-chan struct{} {
	return s.changed
}

// Touched returns, sorted, the top-level keys modified since the previous
// call and resets the record.
func (s *Subscription) Touched() []string {
	s.lk.Lock()
	defer s.lk.Unlock()
	keys := make([]string, 0, len(s.touched))
	for key := range s.touched {
		keys = append(keys, key)
	}
	clear(s.touched)
	slices.Sort(keys)
	return keys
}

// Close stops watching and releases the underlying handle. It is safe to
// call more than once.
func (s *Subscription) Close() {
	s.once.Do(func() {
		s.cancel()
		s.handle.Stop()
	})
}

func (s *Subscription) observe(b signal.Batch) {
	s.lk.Lock()
	for _, p := range b.Patches {
		if top := topLevelKey(p.Path); top != "" {
			s.touched[top] = struct{}{}
		}
	}
	s.lk.Unlock()
	s.notify()
}

func (s *Subscription) notify() {
	select {
	case s.changed <- struct{}{}:
	default:
	}
}

func topLevelKey(path string) string {
	path = strings.TrimPrefix(path, "/")
	if i := strings.IndexByte(path, '/'); i >= 0 {
		return path[:i]
	}
	return path
}

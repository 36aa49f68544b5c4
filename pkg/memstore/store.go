// Package memstore is an in-memory remote store speaking the shape
// protocol. It backs tests and demos; it keeps nothing on disk and
// resolves no conflicts, the last diff applied wins.
package memstore

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/raskyld/shapesync/pkg/flow"
	"github.com/raskyld/shapesync/pkg/patch"
	"github.com/raskyld/shapesync/pkg/protocol"
)

// Received records one FrontendUpdate as it was applied.
type Received struct {
	ConnectionID string
	Key          string
	Diff         patch.Diff
	At           time.Time
}

type peer struct {
	sender *flow.Sender[protocol.Envelope]
}

type conn struct {
	id   string
	key  string
	peer *peer
}

// Store holds one document per shape and scope, and keeps every connection
// on a document in sync.
//
// All operations are serialized, including the envelopes they send, so
// that every connection observes updates in the order they were applied.
type Store struct {
	logger     *slog.Logger
	encoder    flow.Encoder
	decoder    flow.Decoder
	bufferSize uint

	lk       sync.Mutex
	docs     map[string]patch.Object
	conns    map[string]*conn
	received []Received

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

type Option func(*Store)

func WithLog(handler slog.Handler) Option {
	return func(s *Store) {
		if handler != nil {
			s.logger = slog.New(handler)
		}
	}
}

// WithCodec sets how envelopes are encoded on the flows given to Attach.
// Defaults to JSON.
func WithCodec(enc flow.Encoder, dec flow.Decoder) Option {
	return func(s *Store) {
		s.encoder = enc
		s.decoder = dec
	}
}

func WithBufferSize(size uint) Option {
	return func(s *Store) {
		s.bufferSize = size
	}
}

func New(opts ...Option) *Store {
	s := &Store{
		logger:     slog.Default(),
		encoder:    flow.NewJsonEncoder(true),
		decoder:    flow.NewJsonDecoder[protocol.Envelope](),
		bufferSize: 64,
		docs:       make(map[string]patch.Object),
		conns:      make(map[string]*conn),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.ctx, s.cancel = context.WithCancel(context.Background())
	return s
}

// Put replaces the document of shapeID restricted to scope. Connected
// clients are not notified, use Push for that.
func (s *Store) Put(shapeID string, scope []string, doc patch.Object) {
	s.lk.Lock()
	defer s.lk.Unlock()
	s.docs[protocol.Key(shapeID, scope)] = patch.FromWireObject(patch.CloneObject(doc))
}

// Document returns a copy of the document of shapeID restricted to scope.
func (s *Store) Document(shapeID string, scope []string) patch.Object {
	s.lk.Lock()
	defer s.lk.Unlock()
	return patch.CloneObject(s.docs[protocol.Key(shapeID, scope)])
}

// Push applies a server-side change and sends it to every connection on
// the document. It returns the patches that took effect.
func (s *Store) Push(shapeID string, scope []string, diff patch.Diff) patch.Diff {
	s.lk.Lock()
	defer s.lk.Unlock()

	key := protocol.Key(shapeID, scope)
	applied := s.apply(key, diff)
	if len(applied) > 0 {
		s.broadcast(key, "", applied)
	}
	return applied
}

// Received returns every FrontendUpdate applied so far.
func (s *Store) Received() []Received {
	s.lk.Lock()
	defer s.lk.Unlock()
	return slices.Clone(s.received)
}

// Connections returns the sorted ids of the connections open on the
// document of shapeID restricted to scope.
func (s *Store) Connections(shapeID string, scope []string) []string {
	s.lk.Lock()
	defer s.lk.Unlock()

	key := protocol.Key(shapeID, scope)
	var ids []string
	for id, c := range s.conns {
		if c.key == key {
			ids = append(ids, id)
		}
	}
	slices.Sort(ids)
	return ids
}

// Attach serves raw in the background until it fails or the store is
// closed.
func (s *Store) Attach(raw flow.Raw) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.Serve(s.ctx, raw); err != nil {
			s.logger.Warn("peer failed", "error", err)
		}
	}()
}

// Serve speaks the protocol over raw until ctx is done or the peer leaves.
// The connections opened through raw are forgotten on return.
func (s *Store) Serve(ctx context.Context, raw flow.Raw) error {
	p := &peer{
		sender: flow.NewSender[protocol.Envelope](raw, s.encoder, s.bufferSize),
	}
	receiver := flow.NewReceiver[protocol.Envelope](raw, s.decoder, s.bufferSize)
	defer func() {
		s.forget(p)
		_ = p.sender.Close()
		_ = receiver.Close()
	}()

	for {
		env, err := receiver.Recv(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, flow.ErrFlowClosed) || errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
		s.handle(p, env)
	}
}

// Close stops serving every attached flow.
func (s *Store) Close() {
	s.cancel()
	s.wg.Wait()
}

func (s *Store) handle(p *peer, env protocol.Envelope) {
	s.lk.Lock()
	defer s.lk.Unlock()

	switch env.Type {
	case protocol.Request:
		if env.ShapeDescriptor == nil || env.ShapeDescriptor.ID == "" {
			s.logger.Warn("ignoring request without shape", "connection_id", env.ConnectionID)
			return
		}
		key := protocol.Key(env.ShapeDescriptor.ID, env.Scope)
		doc, has := s.docs[key]
		if !has {
			doc = patch.Object{}
			s.docs[key] = doc
		}
		s.conns[env.ConnectionID] = &conn{id: env.ConnectionID, key: key, peer: p}
		s.send(p, protocol.NewInitialResponse(env.ConnectionID, doc))
		s.logger.Debug("opened connection", "connection_id", env.ConnectionID, "key", key)

	case protocol.FrontendUpdate:
		c, has := s.conns[env.ConnectionID]
		if !has {
			s.logger.Warn("ignoring update on unknown connection", "connection_id", env.ConnectionID)
			return
		}
		applied := s.apply(c.key, env.Diff)
		s.received = append(s.received, Received{
			ConnectionID: c.id,
			Key:          c.key,
			Diff:         env.Diff,
			At:           time.Now(),
		})
		if len(applied) > 0 {
			s.broadcast(c.key, c.id, applied)
		}

	case protocol.Stop:
		delete(s.conns, env.ConnectionID)
		s.logger.Debug("closed connection", "connection_id", env.ConnectionID)

	default:
		s.logger.Warn("ignoring unexpected envelope", "message_type", env.Type)
	}
}

// apply MUST be called with lk held.
func (s *Store) apply(key string, diff patch.Diff) patch.Diff {
	doc, has := s.docs[key]
	if !has {
		doc = patch.Object{}
		s.docs[key] = doc
	}
	return patch.Applier{Logger: s.logger}.Apply(doc, diff)
}

// broadcast MUST be called with lk held.
func (s *Store) broadcast(key, except string, diff patch.Diff) {
	for id, c := range s.conns {
		if c.key != key || id == except {
			continue
		}
		s.send(c.peer, protocol.NewBackendUpdate(id, diff))
	}
}

func (s *Store) send(p *peer, env protocol.Envelope) {
	if err := p.sender.Send(s.ctx, env); err != nil {
		s.logger.Warn("failed to send envelope", "connection_id", env.ConnectionID, "error", err)
	}
}

func (s *Store) forget(p *peer) {
	s.lk.Lock()
	defer s.lk.Unlock()
	for id, c := range s.conns {
		if c.peer == p {
			delete(s.conns, id)
		}
	}
}

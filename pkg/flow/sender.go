package flow

import (
	"context"
	"io"
	"sync"
)

// RawSender is a non-thread safe and blocking flow which should
// only be used by power users.
//
// Methods MUST NOT be called concurrently.
type RawSender interface {
	Send(Encoder, interface{}) error
	Close() error
}

// Encoder can encode messages on a byte stream.
// It is supposed to return an error only when a final error is
// encountered.
type Encoder interface {
	Encode(io.Writer, interface{}) error
	ProcessLocal(interface{}) (interface{}, error)
}

// Clonable messages are deep-copied when crossing a local flow.
type Clonable interface {
	Clone() interface{}
}

// Sender is a thread-safe and typed flow writer.
//
// Messages are written in the order Send accepted them. Close flushes what
// is queued before closing the raw flow.
type Sender[T any] struct {
	raw RawSender
	enc Encoder

	writeCh    chan T
	closeCh    chan struct{}
	mainLoopWg sync.WaitGroup

	// handle Close sync.
	writer    sync.WaitGroup
	err       error
	closeErr  error
	closeOnce sync.Once
	lk        sync.Mutex
}

func NewSender[T any](raw RawSender, enc Encoder, bufferSize uint) *Sender[T] {
	w := &Sender[T]{
		raw: raw,
		enc: enc,

		writeCh: make(chan T, bufferSize),
		closeCh: make(chan struct{}),
	}

	w.mainLoopWg.Add(1)
	go w.run()

	return w
}

// Send queues msg. It returns an error if the sender is closed or the
// underlying flow failed.
func (w *Sender[T]) Send(ctx context.Context, msg T) error {
	w.lk.Lock()
	if w.err != nil {
		err := w.err
		w.lk.Unlock()
		return err
	}
	w.writer.Add(1)
	defer w.writer.Done()
	w.lk.Unlock()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-w.closeCh:
		return w.failure()
	case w.writeCh <- msg:
	}

	return nil
}

// Close is idempotent and blocks until queued messages are written.
func (w *Sender[T]) Close() error {
	w.closeOnce.Do(func() {
		w.fail(ErrFlowClosed)
		w.writer.Wait()
		close(w.writeCh)
	})
	w.mainLoopWg.Wait()
	return w.closeErr
}

func (w *Sender[T]) fail(cause error) {
	w.lk.Lock()
	defer w.lk.Unlock()
	if w.err != nil {
		return
	}
	w.err = cause
	close(w.closeCh)
}

func (w *Sender[T]) failure() error {
	w.lk.Lock()
	defer w.lk.Unlock()
	return w.err
}

func (w *Sender[T]) run() {
	defer w.mainLoopWg.Done()
	broken := false
	for msg := range w.writeCh {
		if broken {
			continue
		}
		if err := w.raw.Send(w.enc, msg); err != nil {
			w.fail(err)
			broken = true
		}
	}
	w.closeErr = w.raw.Close()
}

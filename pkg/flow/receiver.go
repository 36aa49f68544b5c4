package flow

import (
	"context"
	"fmt"
	"io"
	"sync"
)

// RawReceiver is a non-thread safe and blocking flow which should
// only be used by power users.
//
// Methods MUST NOT be called concurrently.
type RawReceiver interface {
	Recv(Decoder) (interface{}, error)
	Close() error
}

// Decoder can decode messages from a byte stream.
// It is supposed to return an error only when a final error is
// encountered.
type Decoder interface {
	Decode(io.Reader) (interface{}, error)
}

// Receiver is a thread-safe and typed flow reader.
type Receiver[T any] struct {
	raw RawReceiver
	dec Decoder

	readCh     chan T
	closeCh    chan struct{}
	mainLoopWg sync.WaitGroup

	// handle Close sync.
	err error
	lk  sync.Mutex
}

func NewReceiver[T any](raw RawReceiver, dec Decoder, bufferSize uint) *Receiver[T] {
	r := &Receiver[T]{
		raw: raw,
		dec: dec,

		readCh:  make(chan T, bufferSize),
		closeCh: make(chan struct{}),
	}

	r.mainLoopWg.Add(1)
	go r.run()

	return r
}

// Recv returns the next message. Messages already buffered are still
// delivered after the flow failed, then the failure is returned.
func (r *Receiver[T]) Recv(ctx context.Context) (result T, err error) {
	select {
	case <-ctx.Done():
		return result, ctx.Err()
	case elem, ok := <-r.readCh:
		if !ok {
			return result, r.Err()
		}
		return elem, nil
	}
}

// Err returns why the receiver stopped, or nil while it is running.
func (r *Receiver[T]) Err() error {
	r.lk.Lock()
	defer r.lk.Unlock()
	return r.err
}

// Close stops the main loop and closes the raw flow.
func (r *Receiver[T]) Close() error {
	r.lk.Lock()
	if r.err != nil {
		r.lk.Unlock()
		return nil
	}
	r.err = ErrFlowClosed
	close(r.closeCh)
	err := r.raw.Close()
	r.lk.Unlock()
	r.mainLoopWg.Wait()
	close(r.readCh)
	return err
}

func (r *Receiver[T]) run() {
	defer r.mainLoopWg.Done()
	for {
		elem, err := r.raw.Recv(r.dec)
		if err != nil {
			r.stop(err)
			return
		}

		msg, ok := elem.(T)
		if !ok {
			r.stop(fmt.Errorf("%w: %T", ErrUnexpectedType, elem))
			return
		}

		select {
		case <-r.closeCh:
			return
		case r.readCh <- msg:
		}
	}
}

// stop is called by the main loop only, which owns readCh once it exits
// on its own.
func (r *Receiver[T]) stop(cause error) {
	r.lk.Lock()
	if r.err != nil {
		// Close is waiting for us and will close readCh.
		r.lk.Unlock()
		return
	}
	r.err = cause
	close(r.closeCh)
	_ = r.raw.Close()
	r.lk.Unlock()
	close(r.readCh)
}

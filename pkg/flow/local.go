package flow

import "sync"

// LocalFlow is a one-way in-process flow. Messages go through
// [Encoder.ProcessLocal] but are never serialized.
type LocalFlow struct {
	data    chan interface{}
	lk      sync.Mutex
	closed  bool
	closeCh chan struct{}
	wg      sync.WaitGroup
}

func NewLocalFlow(bufferSize uint) *LocalFlow {
	return &LocalFlow{
		data:    make(chan interface{}, bufferSize),
		closeCh: make(chan struct{}),
	}
}

// NewLocalPipe returns the two ends of an in-process bidirectional flow:
// what is sent on one end is received on the other.
func NewLocalPipe(bufferSize uint) (Raw, Raw) {
	ab := NewLocalFlow(bufferSize)
	ba := NewLocalFlow(bufferSize)
	return Raw{RawReceiver: ba, RawSender: ab}, Raw{RawReceiver: ab, RawSender: ba}
}

// Recv returns the buffered messages, then ErrFlowClosed once the flow is
// closed.
func (fl *LocalFlow) Recv(_ Decoder) (interface{}, error) {
	elem, ok := <-fl.data
	if !ok {
		return nil, ErrFlowClosed
	}
	return elem, nil
}

func (fl *LocalFlow) Send(encoder Encoder, msg interface{}) error {
	fl.lk.Lock()
	if fl.closed {
		fl.lk.Unlock()
		return ErrFlowClosed
	}
	fl.wg.Add(1)
	defer fl.wg.Done()
	fl.lk.Unlock()

	toSend, err := encoder.ProcessLocal(msg)
	if err != nil {
		return err
	}

	select {
	case fl.data <- toSend:
		return nil
	case <-fl.closeCh:
		return ErrFlowClosed
	}
}

func (fl *LocalFlow) Close() error {
	fl.lk.Lock()
	defer fl.lk.Unlock()
	if fl.closed {
		return nil
	}
	fl.closed = true
	close(fl.closeCh)
	fl.wg.Wait()
	close(fl.data)
	return nil
}

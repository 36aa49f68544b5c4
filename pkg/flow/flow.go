// Package flow moves typed messages over a bidirectional byte stream or an
// in-process pipe.
//
// A [Raw] flow is blocking and not thread-safe. Wrap it in a [Sender] and a
// [Receiver] to get buffered, goroutine-safe and typed ends.
package flow

import (
	"errors"
)

var (
	ErrFlowClosed     = errors.New("flow: closed")
	ErrFrameTooLarge  = errors.New("flow: frame exceeds the maximum size")
	ErrUnexpectedType = errors.New("flow: codec produced an unexpected type")
)

// Raw is a bidirectional raw flow.
//
// Most users should not use it directly but wrap it
// in a [Sender] and [Receiver] for a better DX.
type Raw struct {
	RawReceiver
	RawSender
}

func (r Raw) Close() error {
	return errors.Join(r.RawReceiver.Close(), r.RawSender.Close())
}

package flow

import (
	"io"
	"sync"
)

// RemoteSender encodes messages onto a byte stream.
type RemoteSender struct {
	io.WriteCloser
}

var _ RawSender = RemoteSender{}

func (s RemoteSender) Send(enc Encoder, msg interface{}) error {
	return enc.Encode(s.WriteCloser, msg)
}

// RemoteReceiver decodes messages from a byte stream.
type RemoteReceiver struct {
	io.ReadCloser
}

var _ RawReceiver = RemoteReceiver{}

func (r RemoteReceiver) Recv(dec Decoder) (interface{}, error) {
	return dec.Decode(r.ReadCloser)
}

// NewStreamFlow wraps a full-duplex stream, such as a net.Conn, into a
// [Raw] flow. Closing either half closes the stream, so close the sending
// half first to flush pending messages.
func NewStreamFlow(stream io.ReadWriteCloser) Raw {
	closer := &onceCloser{closer: stream}
	return Raw{
		RawReceiver: RemoteReceiver{halfStream{Reader: stream, closer: closer}},
		RawSender:   RemoteSender{halfStream{Writer: stream, closer: closer}},
	}
}

type onceCloser struct {
	once   sync.Once
	closer io.Closer
	err    error
}

func (c *onceCloser) Close() error {
	c.once.Do(func() {
		c.err = c.closer.Close()
	})
	return c.err
}

type halfStream struct {
	io.Reader
	io.Writer
	closer io.Closer
}

func (h halfStream) Close() error {
	return h.closer.Close()
}

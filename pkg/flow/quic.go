package flow

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"sync"

	"github.com/quic-go/quic-go"
)

// ALPN is negotiated by the QUIC flows of this package.
const ALPN = "shapesync/1"

const (
	quicCodeClosed  quic.StreamErrorCode      = 0xC
	quicCodeNoError quic.ApplicationErrorCode = 0x0
)

// DialQUIC opens a QUIC connection to addr and a single bidirectional
// stream on it. The peer only accepts the stream once something has been
// sent on it.
func DialQUIC(ctx context.Context, addr string, tlsConf *tls.Config, quicConf *quic.Config) (Raw, error) {
	conn, err := quic.DialAddr(ctx, addr, withALPN(tlsConf), quicConf)
	if err != nil {
		return Raw{}, fmt.Errorf("flow: failed to dial %s: %w", addr, err)
	}

	stream, err := conn.OpenStreamSync(ctx)
	if err != nil {
		_ = conn.CloseWithError(quicCodeNoError, "")
		return Raw{}, fmt.Errorf("flow: failed to open stream: %w", err)
	}
	return newQUICFlow(conn, stream), nil
}

// QUICListener accepts one flow per incoming QUIC connection.
type QUICListener struct {
	ln *quic.Listener
}

func ListenQUIC(addr string, tlsConf *tls.Config, quicConf *quic.Config) (*QUICListener, error) {
	ln, err := quic.ListenAddr(addr, withALPN(tlsConf), quicConf)
	if err != nil {
		return nil, fmt.Errorf("flow: failed to listen on %s: %w", addr, err)
	}
	return &QUICListener{ln: ln}, nil
}

func (l *QUICListener) Accept(ctx context.Context) (Raw, error) {
	conn, err := l.ln.Accept(ctx)
	if err != nil {
		if errors.Is(err, quic.ErrServerClosed) {
			return Raw{}, ErrFlowClosed
		}
		return Raw{}, err
	}

	stream, err := conn.AcceptStream(ctx)
	if err != nil {
		_ = conn.CloseWithError(quicCodeNoError, "")
		return Raw{}, fmt.Errorf("flow: failed to accept stream: %w", err)
	}
	return newQUICFlow(conn, stream), nil
}

func (l *QUICListener) Addr() net.Addr {
	return l.ln.Addr()
}

func (l *QUICListener) Close() error {
	return l.ln.Close()
}

func withALPN(tlsConf *tls.Config) *tls.Config {
	if tlsConf == nil {
		tlsConf = &tls.Config{}
	} else {
		tlsConf = tlsConf.Clone()
	}
	tlsConf.NextProtos = []string{ALPN}
	return tlsConf
}

// quicFlow closes the connection once both halves of the stream are closed.
type quicFlow struct {
	conn   quic.Connection
	stream quic.Stream

	lk       sync.Mutex
	halves   int
	recvOnce sync.Once
	sendOnce sync.Once
}

func newQUICFlow(conn quic.Connection, stream quic.Stream) Raw {
	f := &quicFlow{conn: conn, stream: stream, halves: 2}
	return Raw{
		RawReceiver: RemoteReceiver{quicRecvHalf{f}},
		RawSender:   RemoteSender{quicSendHalf{f}},
	}
}

func (f *quicFlow) release() error {
	f.lk.Lock()
	defer f.lk.Unlock()
	f.halves--
	if f.halves != 0 {
		return nil
	}
	return f.conn.CloseWithError(quicCodeNoError, "")
}

type quicRecvHalf struct{ f *quicFlow }

func (h quicRecvHalf) Read(p []byte) (int, error) {
	return h.f.stream.Read(p)
}

func (h quicRecvHalf) Close() (err error) {
	h.f.recvOnce.Do(func() {
		h.f.stream.CancelRead(quicCodeClosed)
		err = h.f.release()
	})
	return err
}

type quicSendHalf struct{ f *quicFlow }

func (h quicSendHalf) Write(p []byte) (int, error) {
	return h.f.stream.Write(p)
}

func (h quicSendHalf) Close() (err error) {
	h.f.sendOnce.Do(func() {
		err = errors.Join(h.f.stream.Close(), h.f.release())
	})
	return err
}

package flow

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const closeGracePeriod = time.Second

// DialWebsocket connects to a WebSocket endpoint. Every message sent on the
// returned flow is one binary WebSocket message.
func DialWebsocket(ctx context.Context, url string, header http.Header) (Raw, error) {
	ws, _, err := websocket.DefaultDialer.DialContext(ctx, url, header)
	if err != nil {
		return Raw{}, fmt.Errorf("flow: failed to dial %s: %w", url, err)
	}
	return NewWebsocketFlow(ws), nil
}

// UpgradeWebsocket upgrades an HTTP request into a flow.
func UpgradeWebsocket(upgrader *websocket.Upgrader, w http.ResponseWriter, r *http.Request) (Raw, error) {
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return Raw{}, err
	}
	return NewWebsocketFlow(ws), nil
}

func NewWebsocketFlow(ws *websocket.Conn) Raw {
	f := &websocketFlow{ws: ws}
	return Raw{
		RawReceiver: websocketReceiver{f},
		RawSender:   websocketSender{f},
	}
}

type websocketFlow struct {
	ws        *websocket.Conn
	closeOnce sync.Once
	closeErr  error
}

// close sends a close frame, best effort, then tears down the connection.
func (f *websocketFlow) close() error {
	f.closeOnce.Do(func() {
		_ = f.ws.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(closeGracePeriod),
		)
		f.closeErr = f.ws.Close()
	})
	return f.closeErr
}

type websocketSender struct{ f *websocketFlow }

func (s websocketSender) Send(enc Encoder, msg interface{}) error {
	w, err := s.f.ws.NextWriter(websocket.BinaryMessage)
	if err != nil {
		return err
	}
	if err := enc.Encode(w, msg); err != nil {
		_ = w.Close()
		return err
	}
	return w.Close()
}

func (s websocketSender) Close() error {
	return s.f.close()
}

type websocketReceiver struct{ f *websocketFlow }

func (r websocketReceiver) Recv(dec Decoder) (interface{}, error) {
	for {
		typ, reader, err := r.f.ws.NextReader()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil, io.EOF
			}
			return nil, err
		}
		if typ != websocket.BinaryMessage {
			continue
		}
		return dec.Decode(reader)
	}
}

func (r websocketReceiver) Close() error {
	return r.f.close()
}

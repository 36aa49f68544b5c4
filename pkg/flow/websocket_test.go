package flow

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
)

func TestWebsocketFlow(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	accepted := make(chan Raw, 1)
	upgrader := &websocket.Upgrader{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, err := UpgradeWebsocket(upgrader, w, r)
		if err != nil {
			t.Errorf("failed to upgrade: %s", err)
			return
		}
		accepted <- raw
	}))
	defer server.Close()

	client, err := DialWebsocket(ctx, "ws"+strings.TrimPrefix(server.URL, "http"), nil)
	require.NoError(t, err)

	var serverEnd Raw
	select {
	case serverEnd = <-accepted:
	case <-ctx.Done():
		t.Fatal("server never accepted the websocket")
	}

	clientSender := NewSender[*note](client, NewJsonEncoder(false), 4)
	clientReceiver := NewReceiver[*note](client, NewJsonDecoder[*note](), 4)
	serverSender := NewSender[*note](serverEnd, NewJsonEncoder(false), 4)
	serverReceiver := NewReceiver[*note](serverEnd, NewJsonDecoder[*note](), 4)

	require.NoError(t, clientSender.Send(ctx, &note{Text: "up", Tags: []string{"a"}}))
	got, err := serverReceiver.Recv(ctx)
	require.NoError(t, err)
	require.Equal(t, &note{Text: "up", Tags: []string{"a"}}, got)

	require.NoError(t, serverSender.Send(ctx, &note{Text: "down"}))
	got, err = clientReceiver.Recv(ctx)
	require.NoError(t, err)
	require.Equal(t, "down", got.Text)

	require.NoError(t, clientSender.Close())
	_, err = serverReceiver.Recv(ctx)
	require.Error(t, err, "the server sees the client leaving")

	_ = clientReceiver.Close()
	_ = serverSender.Close()
	_ = serverReceiver.Close()
}

package source

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"pumppulse/models"
	"pumppulse/ws"
)

var upgrader = websocket.Upgrader{}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestPumpPortalSubscribesAndForwards(t *testing.T) {
	received := make(chan string, 1)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		defer conn.Close()

		_, msg, err := conn.ReadMessage()
		require.NoError(t, err)
		received <- string(msg)

		conn.WriteMessage(websocket.TextMessage, []byte(`{"signature":"s1","mint":"m1","txType":"create"}`))
		conn.WriteMessage(websocket.TextMessage, []byte(`{"signature":"s2","mint":"m2","txType":"buy"}`))
		conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	}))
	defer srv.Close()

	p := NewPumpPortal(wsURL(srv), ws.Options{}, zap.NewNop().Sugar())
	out := make(chan models.RawMessage, 8)

	var readyCalled atomic.Bool
	errc := make(chan error, 1)
	go func() {
		errc <- p.Run(context.Background(), func() { readyCalled.Store(true) }, out)
	}()

	select {
	case cmd := <-received:
		assert.JSONEq(t, `{"method":"subscribeNewToken"}`, cmd)
	case <-time.After(2 * time.Second):
		t.Fatal("subscribe command never arrived")
	}

	// Everything the socket delivers is forwarded verbatim; filtering
	// happens downstream.
	msgs := collect(t, out, 2)
	assert.Contains(t, string(msgs[0].Data), `"s1"`)
	assert.Contains(t, string(msgs[1].Data), `"s2"`)
	assert.Equal(t, models.SourcePumpPortal, msgs[0].Source)
	assert.True(t, readyCalled.Load())

	// Server hung up; Run must return so the supervisor can reconnect.
	select {
	case err := <-errc:
		require.Error(t, err)
		assert.False(t, IsFatal(err))
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after server close")
	}
}

func TestPumpPortalDialFailure(t *testing.T) {
	p := NewPumpPortal("ws://127.0.0.1:1", ws.Options{HandshakeTimeout: 100 * time.Millisecond},
		zap.NewNop().Sugar())
	out := make(chan models.RawMessage, 1)

	err := p.Run(context.Background(), func() { t.Fatal("ready without a connection") }, out)
	require.Error(t, err)
	assert.False(t, IsFatal(err), "connection refused should be retried")
}

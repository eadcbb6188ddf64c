package wsclient

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"git.platform.alem.school/amibragim/order-tracker/internal/shared/contracts"
	"git.platform.alem.school/amibragim/order-tracker/internal/shared/logger"
)

// flakyServer drops its first connection right after the handshake and
// answers every control message on later ones with a joined ack plus one event.
type flakyServer struct {
	conns   atomic.Int32
	authHdr atomic.Value
}

func (s *flakyServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.authHdr.Store(r.Header.Get("Authorization"))
	upgrader := websocket.Upgrader{}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	if s.conns.Add(1) == 1 {
		return
	}
	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var ctl contracts.ControlMessage
		if json.Unmarshal(msg, &ctl) != nil {
			continue
		}
		_ = conn.WriteJSON(contracts.Ack{Event: contracts.AckJoined, Action: ctl.Action, Topic: "order:" + ctl.ID})
		_ = conn.WriteJSON(contracts.WireEvent{Event: contracts.EventOrderStatusUpdated, OrderID: ctl.ID, Status: "Confirmed", Version: 2})
	}
}

func TestClientReconnectsAndDispatches(t *testing.T) {
	backend := &flakyServer{}
	srv := httptest.NewServer(backend)
	defer srv.Close()

	c := New(Options{
		URL:        "ws" + strings.TrimPrefix(srv.URL, "http"),
		Token:      "tok",
		MinBackoff: 5 * time.Millisecond,
		MaxBackoff: 20 * time.Millisecond,
	}, logger.NewLoggerTo("wsclient-test", io.Discard, "error"))

	var mu sync.Mutex
	var connects int
	var acks []contracts.Ack
	events := make(chan contracts.WireEvent, 4)
	c.OnConnect = func(ctx context.Context) {
		mu.Lock()
		connects++
		mu.Unlock()
		_ = c.Send(contracts.ControlMessage{Action: contracts.ActionJoinOrderRoom, ID: "O1"})
	}
	c.OnAck = func(ack contracts.Ack) {
		mu.Lock()
		acks = append(acks, ack)
		mu.Unlock()
	}
	c.OnEvent = func(ev contracts.WireEvent) { events <- ev }

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	select {
	case ev := <-events:
		assert.Equal(t, "O1", ev.OrderID)
		assert.Equal(t, "Confirmed", ev.Status)
	case <-time.After(3 * time.Second):
		t.Fatal("no event after reconnect")
	}

	mu.Lock()
	assert.GreaterOrEqual(t, connects, 2)
	require.NotEmpty(t, acks)
	assert.Equal(t, contracts.AckJoined, acks[0].Event)
	mu.Unlock()
	assert.Equal(t, "Bearer tok", backend.authHdr.Load())
	assert.True(t, c.Connected())

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(3 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
	assert.False(t, c.Connected())
}

func TestSendWhileDisconnected(t *testing.T) {
	c := New(Options{URL: "ws://127.0.0.1:1/ws"}, logger.NewLoggerTo("wsclient-test", io.Discard, "error"))
	assert.ErrorIs(t, c.Send(contracts.ControlMessage{Action: contracts.ActionJoinOrderRoom, ID: "O1"}), ErrNotConnected)
}

func TestNextBackoffCaps(t *testing.T) {
	assert.Equal(t, 2*time.Second, nextBackoff(time.Second, 5*time.Second))
	assert.Equal(t, 5*time.Second, nextBackoff(4*time.Second, 5*time.Second))
}

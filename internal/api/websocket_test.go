package api

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/rawblock/bridgetrace/internal/risk"
)

func TestHubDeliversRiskAlerts(t *testing.T) {
	hub := NewHub(nil, zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hub.Run(ctx)

	env := newTestEnv(t, Options{}, func(d *Deps) { d.Hub = hub })
	srv := httptest.NewServer(env.server.Handler())
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/v2/stream"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool { return hub.Clients() == 1 }, 2*time.Second, 10*time.Millisecond)

	hub.PublishRiskAlert(risk.Alert{
		Type:      "risk_alert",
		EntityID:  "entity_009",
		RiskLevel: risk.LevelHigh,
		RiskScore: 0.8443,
	})

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, raw, err := conn.ReadMessage()
	require.NoError(t, err)

	var msg alertMessage
	require.NoError(t, json.Unmarshal(raw, &msg))
	assert.Equal(t, "risk_alert", msg.Type)
	assert.Equal(t, "entity_009", msg.Alert.EntityID)
	assert.Equal(t, risk.LevelHigh, msg.Alert.RiskLevel)
}

func TestHubRejectsForeignOrigin(t *testing.T) {
	hub := NewHub([]string{"https://app.example"}, zap.NewNop())
	env := newTestEnv(t, Options{}, func(d *Deps) { d.Hub = hub })
	srv := httptest.NewServer(env.server.Handler())
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/v2/stream"
	header := map[string][]string{"Origin": {"https://evil.example"}}
	_, resp, err := websocket.DefaultDialer.Dial(url, header)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, 403, resp.StatusCode)
}

func TestBroadcastDropsWhenQueueFull(t *testing.T) {
	hub := NewHub(nil, zap.NewNop())
	for i := 0; i < broadcastBuffer+10; i++ {
		hub.Broadcast([]byte("x"))
	}
	assert.Len(t, hub.broadcast, broadcastBuffer)
}

func TestHubShutdownClosesClients(t *testing.T) {
	hub := NewHub(nil, zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		hub.Run(ctx)
		close(done)
	}()

	env := newTestEnv(t, Options{}, func(d *Deps) { d.Hub = hub })
	srv := httptest.NewServer(env.server.Handler())
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/v2/stream"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()
	require.Eventually(t, func() bool { return hub.Clients() == 1 }, 2*time.Second, 10*time.Millisecond)

	cancel()
	<-done
	assert.Equal(t, 0, hub.Clients())

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err = conn.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseGoingAway), "got %v", err)
}

func TestSlowClientDoesNotBlockHub(t *testing.T) {
	hub := NewHub(nil, zap.NewNop())
	hub.writeWait = time.Second

	env := newTestEnv(t, Options{}, func(d *Deps) { d.Hub = hub })
	srv := httptest.NewServer(env.server.Handler())
	defer srv.Close()

	// The client never reads, so a large frame fills the socket buffers and
	// the write stalls until its deadline.
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/v2/stream"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()
	require.Eventually(t, func() bool { return hub.Clients() == 1 }, 2*time.Second, 10*time.Millisecond)

	delivered := make(chan struct{})
	go func() {
		hub.deliver(make([]byte, 64<<20))
		close(delivered)
	}()
	time.Sleep(100 * time.Millisecond)

	counted := make(chan int, 1)
	go func() { counted <- hub.Clients() }()
	select {
	case <-counted:
	case <-time.After(500 * time.Millisecond):
		t.Fatal("Clients blocked behind a stalled write")
	}

	select {
	case <-delivered:
	case <-time.After(5 * time.Second):
		t.Fatal("write deadline not applied")
	}
	assert.Equal(t, 0, hub.Clients())
}

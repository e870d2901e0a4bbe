package stream

import (
	"io"
	"log/slog"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"stationmon/internal/hub"

	"github.com/gorilla/websocket"
)

type wireEvent struct {
	ID      string         `json:"id"`
	Seq     uint64         `json:"seq"`
	Kind    hub.Kind       `json:"kind"`
	At      time.Time      `json:"at"`
	Payload map[string]any `json:"payload"`
}

func TestClientReceivesEventsInOrder(t *testing.T) {
	t.Parallel()

	events, handler, url := startServer(t)
	conn := dial(t, url)
	defer conn.Close()
	waitFor(t, func() bool { return events.Len() == 1 })

	for _, nodeID := range []string{"a", "b", "c"} {
		events.Publish(hub.NewNodeStatus(hub.NodeStatusChanged{NodeID: nodeID, NodeStatus: "online"}))
	}

	var lastSeq uint64
	for _, want := range []string{"a", "b", "c"} {
		var event wireEvent
		_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		if err := conn.ReadJSON(&event); err != nil {
			t.Fatalf("read event: %v", err)
		}
		if event.Kind != hub.KindNodeStatus || event.Payload["node_id"] != want {
			t.Fatalf("expected node.status for %s, got %+v", want, event)
		}
		if event.Seq <= lastSeq || event.ID == "" || event.At.IsZero() {
			t.Fatalf("unexpected envelope %+v after seq %d", event, lastSeq)
		}
		lastSeq = event.Seq
	}
	if handler.Len() != 1 {
		t.Fatalf("expected 1 client, got %d", handler.Len())
	}
}

func TestEachClientIsOneSubscriber(t *testing.T) {
	t.Parallel()

	events, _, url := startServer(t)
	first := dial(t, url)
	defer first.Close()
	second := dial(t, url)
	defer second.Close()
	waitFor(t, func() bool { return events.Len() == 2 })

	events.Publish(hub.NewNodeStatus(hub.NodeStatusChanged{NodeID: "XT-2"}))
	for _, conn := range []*websocket.Conn{first, second} {
		var event wireEvent
		_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		if err := conn.ReadJSON(&event); err != nil {
			t.Fatalf("read event: %v", err)
		}
		if event.Payload["node_id"] != "XT-2" {
			t.Fatalf("unexpected payload %+v", event.Payload)
		}
	}
}

func TestDisconnectUnsubscribes(t *testing.T) {
	t.Parallel()

	events, handler, url := startServer(t)
	conn := dial(t, url)
	waitFor(t, func() bool { return events.Len() == 1 })

	_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	_ = conn.Close()

	waitFor(t, func() bool { return events.Len() == 0 && handler.Len() == 0 })
	events.Publish(hub.NewNodeStatus(hub.NodeStatusChanged{NodeID: "after"}))
}

func TestCloseDisconnectsClients(t *testing.T) {
	t.Parallel()

	events, handler, url := startServer(t)
	conn := dial(t, url)
	defer conn.Close()
	waitFor(t, func() bool { return events.Len() == 1 })

	handler.Close()

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := conn.ReadMessage()
	if !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
		t.Fatalf("expected normal close, got %v", err)
	}
	waitFor(t, func() bool { return events.Len() == 0 })

	late, response, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial after close: %v", err)
	}
	defer late.Close()
	if response != nil && response.Body != nil {
		_ = response.Body.Close()
	}
	_ = late.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, _, err := late.ReadMessage(); !websocket.IsCloseError(err, websocket.CloseGoingAway) {
		t.Fatalf("expected going-away close for late client, got %v", err)
	}
}

func TestPingKeepsIdleClientAlive(t *testing.T) {
	t.Parallel()

	events := hub.New(hub.Options{Logger: discardLogger()})
	handler := NewHandler(events, Options{PongWait: 200 * time.Millisecond, PingPeriod: 50 * time.Millisecond, Logger: discardLogger()})
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	t.Cleanup(handler.Close)

	conn := dial(t, "ws"+strings.TrimPrefix(server.URL, "http"))
	defer conn.Close()

	pings := make(chan struct{}, 16)
	conn.SetPingHandler(func(data string) error {
		select {
		case pings <- struct{}{}:
		default:
		}
		return conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(time.Second))
	})
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for i := 0; i < 3; i++ {
		select {
		case <-pings:
		case <-time.After(2 * time.Second):
			t.Fatalf("expected ping %d", i+1)
		}
	}
	time.Sleep(300 * time.Millisecond)
	if handler.Len() != 1 {
		t.Fatalf("expected client to stay connected past pong wait, got %d clients", handler.Len())
	}
}

func startServer(t *testing.T) (*hub.Hub, *Handler, string) {
	t.Helper()

	events := hub.New(hub.Options{Logger: discardLogger()})
	handler := NewHandler(events, Options{Logger: discardLogger()})
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	t.Cleanup(handler.Close)
	return events, handler, "ws" + strings.TrimPrefix(server.URL, "http")
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()

	conn, response, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial %s: %v", url, err)
	}
	if response != nil && response.Body != nil {
		_ = response.Body.Close()
	}
	return conn
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not met before deadline")
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

package hub

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func startHub(t *testing.T, initial any) (*Hub, *httptest.Server, context.CancelFunc) {
	t.Helper()
	h := New(discardLogger(), nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = h.Run(ctx)
	}()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h.ServeWS(w, r, strings.TrimPrefix(r.URL.Path, "/"), initial)
	}))
	t.Cleanup(func() {
		cancel()
		<-done
		srv.Close()
	})
	return h, srv, cancel
}

func dial(t *testing.T, srv *httptest.Server, topic string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/" + topic
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial %s: %v", url, err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func waitForClients(t *testing.T, h *Hub, topic string, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for h.Count(topic) != n {
		if time.Now().After(deadline) {
			t.Fatalf("Count(%s) = %d, want %d", topic, h.Count(topic), n)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func readMessage(t *testing.T, conn *websocket.Conn) Message {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("ReadMessage: %v", err)
	}
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		t.Fatalf("unmarshal %s: %v", data, err)
	}
	return msg
}

func TestHub_PublishReachesTopicSubscribers(t *testing.T) {
	h, srv, _ := startHub(t, nil)

	feedConn := dial(t, srv, TopicFeed)
	alertConn := dial(t, srv, TopicAlerts)
	waitForClients(t, h, TopicFeed, 1)
	waitForClients(t, h, TopicAlerts, 1)

	h.Publish(TopicAlerts, map[string]string{"severity": "warning"})
	h.Publish(TopicFeed, []int{1, 2, 3})

	msg := readMessage(t, feedConn)
	if msg.Type != TopicFeed {
		t.Errorf("feed client got type %q", msg.Type)
	}
	if vals, ok := msg.Payload.([]any); !ok || len(vals) != 3 {
		t.Errorf("payload = %#v", msg.Payload)
	}

	msg = readMessage(t, alertConn)
	if msg.Type != TopicAlerts {
		t.Errorf("alert client got type %q", msg.Type)
	}
}

func TestHub_InitialPayload(t *testing.T) {
	h, srv, _ := startHub(t, map[string]int{"len": 4})

	conn := dial(t, srv, TopicFeed)
	waitForClients(t, h, TopicFeed, 1)

	msg := readMessage(t, conn)
	payload, ok := msg.Payload.(map[string]any)
	if !ok || payload["len"] != float64(4) {
		t.Errorf("initial payload = %#v", msg.Payload)
	}
}

func TestHub_ClientDisconnectUnregisters(t *testing.T) {
	h, srv, _ := startHub(t, nil)

	conn := dial(t, srv, TopicFeed)
	waitForClients(t, h, TopicFeed, 1)

	conn.Close()
	waitForClients(t, h, TopicFeed, 0)
}

func TestHub_ShutdownClosesClients(t *testing.T) {
	h, srv, cancel := startHub(t, nil)

	conn := dial(t, srv, TopicFeed)
	waitForClients(t, h, TopicFeed, 1)

	cancel()

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, _, err := conn.ReadMessage(); err == nil {
		t.Fatal("expected connection to close after shutdown")
	}

	// Publishing after shutdown must not block.
	h.Publish(TopicFeed, 1)
}

package bus

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

func dialTestSocket(t *testing.T, b *Bus) *websocket.Conn {
	t.Helper()
	srv := httptest.NewServer(Handler(b))
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })

	waitFor(t, func() bool { return b.SubscriberCount() == 1 })
	return conn
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not reached in time")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestWebsocketDeliversDetectionFrames(t *testing.T) {
	// GIVEN a connected websocket session
	b := newTestBus(8)
	conn := dialTestSocket(t, b)

	// WHEN a detection is published on the bus
	d := detectionN(7)
	b.Publish(d)

	// THEN the session receives it wrapped in a detection frame
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var frame Frame
	if err := conn.ReadJSON(&frame); err != nil {
		t.Fatalf("read frame: %v", err)
	}
	if frame.Type != "detection" {
		t.Errorf("frame type = %q, want detection", frame.Type)
	}
	if frame.Data == nil || frame.Data.ID != d.ID {
		t.Errorf("frame data = %+v, want detection %s", frame.Data, d.ID)
	}
}

func TestWebsocketAnswersTextWithHeartbeat(t *testing.T) {
	// GIVEN a connected websocket session
	b := newTestBus(8)
	conn := dialTestSocket(t, b)

	// WHEN the client sends any text message
	if err := conn.WriteMessage(websocket.TextMessage, []byte("ping")); err != nil {
		t.Fatalf("write: %v", err)
	}

	// THEN it gets a heartbeat frame back
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var frame Frame
	if err := conn.ReadJSON(&frame); err != nil {
		t.Fatalf("read frame: %v", err)
	}
	if frame.Type != "heartbeat" || frame.Status != "ok" {
		t.Errorf("frame = %+v, want heartbeat/ok", frame)
	}
}

func TestWebsocketDisconnectDetachesSubscriber(t *testing.T) {
	// GIVEN a connected session
	b := newTestBus(8)
	conn := dialTestSocket(t, b)

	// WHEN the client goes away
	conn.Close()

	// THEN the bus drops the subscription
	waitFor(t, func() bool { return b.SubscriberCount() == 0 })
}

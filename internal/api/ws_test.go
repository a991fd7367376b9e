package api

import (
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

func readWS(t *testing.T, c *websocket.Conn) wsMessage {
	t.Helper()
	_ = c.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg wsMessage
	if err := c.ReadJSON(&msg); err != nil {
		t.Fatalf("read: %v", err)
	}
	return msg
}

func TestRouteEventsWS(t *testing.T) {
	s := newTestServer(t)
	ts := httptest.NewServer(s.Routes())
	defer ts.Close()

	u := "ws" + strings.TrimPrefix(ts.URL, "http") + "/v1/routes/ws"
	c, _, err := websocket.DefaultDialer.Dial(u, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer c.Close()

	if err := c.WriteJSON(wsMessage{Type: "connection_init"}); err != nil {
		t.Fatal(err)
	}
	if msg := readWS(t, c); msg.Type != "connection_ack" {
		t.Fatalf("expected ack, got %+v", msg)
	}

	_ = c.WriteJSON(wsMessage{Type: "subscribe", ID: "1", Payload: json.RawMessage(`{}`)})
	if msg := readWS(t, c); msg.Type != "error" || msg.ID != "1" {
		t.Fatalf("expected error for missing driverId, got %+v", msg)
	}
	if msg := readWS(t, c); msg.Type != "complete" {
		t.Fatalf("expected complete, got %+v", msg)
	}

	_ = c.WriteJSON(wsMessage{Type: "subscribe", ID: "2", Payload: json.RawMessage(`{"driverId":"d1","types":["route.optimized"]}`)})
	// ping round trip guarantees the subscription is registered
	_ = c.WriteJSON(wsMessage{Type: "ping"})
	if msg := readWS(t, c); msg.Type != "pong" {
		t.Fatalf("expected pong, got %+v", msg)
	}

	s.Broker.Publish("d1", newEvent(EventLocationUpdated, map[string]any{"lat": 1}))
	s.Broker.Publish("d1", newEvent(EventRouteOptimized, map[string]any{"totalDistance": 3.2}))
	msg := readWS(t, c)
	if msg.Type != "next" || msg.ID != "2" {
		t.Fatalf("expected next, got %+v", msg)
	}
	var body struct {
		Data SSEEvent `json:"data"`
	}
	if err := json.Unmarshal(msg.Payload, &body); err != nil {
		t.Fatalf("payload: %v", err)
	}
	if body.Data.Type != EventRouteOptimized {
		t.Fatalf("filtered event leaked: %+v", body.Data)
	}

	_ = c.WriteJSON(wsMessage{Type: "complete", ID: "2"})
	if msg := readWS(t, c); msg.Type != "complete" || msg.ID != "2" {
		t.Fatalf("expected complete for 2, got %+v", msg)
	}
}

package api

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Minimal graphql-transport-ws style protocol streaming driver events.

var upgrader = websocket.Upgrader{CheckOrigin: func(_ *http.Request) bool { return true }}

type wsMessage struct {
	Type    string          `json:"type"`
	ID      string          `json:"id,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type subscribePayload struct {
	DriverID string   `json:"driverId"`
	Types    []string `json:"types,omitempty"`
}

var wsPingInterval = 20 * time.Second

// RouteEventsWSHandler handles /v1/routes/ws
func (s *Server) RouteEventsWSHandler(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer func() { _ = conn.Close() }()

	type sub struct {
		driverID string
		ch       chan SSEEvent
	}
	subs := map[string]sub{}
	done := make(chan struct{})
	var wg sync.WaitGroup
	defer func() {
		close(done)
		for id, s0 := range subs {
			s.Broker.Unsubscribe(s0.driverID, s0.ch)
			delete(subs, id)
		}
		wg.Wait()
	}()

	conn.SetReadLimit(1 << 20)
	_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	conn.SetPongHandler(func(string) error { return conn.SetReadDeadline(time.Now().Add(60 * time.Second)) })

	// gorilla connections allow one concurrent writer
	var wmu sync.Mutex
	write := func(v any) error {
		wmu.Lock()
		defer wmu.Unlock()
		_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
		return conn.WriteJSON(v)
	}
	fail := func(id, msg string) {
		payload, _ := json.Marshal(map[string]string{"message": msg})
		_ = write(wsMessage{Type: "error", ID: id, Payload: payload})
		_ = write(wsMessage{Type: "complete", ID: id})
	}

	initialized := false
	for {
		var msg wsMessage
		if err := conn.ReadJSON(&msg); err != nil {
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		switch msg.Type {
		case "connection_init":
			if initialized {
				continue
			}
			initialized = true
			_ = write(wsMessage{Type: "connection_ack"})
			wg.Add(1)
			go func() {
				defer wg.Done()
				ticker := time.NewTicker(wsPingInterval)
				defer ticker.Stop()
				for {
					select {
					case <-done:
						return
					case <-ticker.C:
						if err := write(wsMessage{Type: "ping"}); err != nil {
							return
						}
					}
				}
			}()
		case "ping":
			_ = write(wsMessage{Type: "pong"})
		case "subscribe":
			if !initialized {
				fail(msg.ID, "connection_init required")
				continue
			}
			var pl subscribePayload
			if err := json.Unmarshal(msg.Payload, &pl); err != nil || pl.DriverID == "" {
				fail(msg.ID, "driverId required")
				continue
			}
			if _, dup := subs[msg.ID]; dup || msg.ID == "" {
				fail(msg.ID, "subscription id must be unique")
				continue
			}
			ch := s.Broker.Subscribe(pl.DriverID)
			subs[msg.ID] = sub{driverID: pl.DriverID, ch: ch}
			want := map[string]bool{}
			for _, t := range pl.Types {
				want[t] = true
			}
			wg.Add(1)
			go func(id string, c chan SSEEvent) {
				defer wg.Done()
				for evt := range c {
					if len(want) > 0 && !want[evt.Type] {
						continue
					}
					payload, _ := json.Marshal(map[string]any{"data": evt})
					if err := write(wsMessage{Type: "next", ID: id, Payload: payload}); err != nil {
						return
					}
				}
				_ = write(wsMessage{Type: "complete", ID: id})
			}(msg.ID, ch)
		case "complete":
			if s0, ok := subs[msg.ID]; ok {
				s.Broker.Unsubscribe(s0.driverID, s0.ch)
				delete(subs, msg.ID)
			}
		}
	}
}

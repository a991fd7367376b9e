//go:build ignore

// Command ws_client seeds a driver, subscribes to its events over the
// WebSocket endpoint and triggers an optimization.
//
//	go run scripts/ws_client.go
package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"os"
	"time"

	"github.com/gorilla/websocket"
)

type wsMessage struct {
	Type    string          `json:"type"`
	ID      string          `json:"id,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

func call(method, u, body string) {
	req, _ := http.NewRequest(method, u, bytes.NewReader([]byte(body)))
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		log.Fatal(err)
	}
	_ = resp.Body.Close()
	log.Printf("%s %s -> %d", method, u, resp.StatusCode)
}

func main() {
	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}
	base := fmt.Sprintf("http://localhost:%s", port)
	driverID := os.Getenv("DRIVER_ID")
	if driverID == "" {
		driverID = "drv_demo"
	}

	call(http.MethodPut, base+"/v1/drivers/"+driverID+"/location", `{"coordinates":{"latitude":41.0082,"longitude":28.9784}}`)
	call(http.MethodPost, base+"/v1/drivers/"+driverID+"/assignments", `{"deliveries":[
		{"id":"d1","address":"Kadikoy","coordinates":{"latitude":41.05,"longitude":29.02}},
		{"id":"d2","address":"Eminonu","coordinates":{"latitude":41.02,"longitude":28.99}},
		{"id":"d3","address":"Besiktas","coordinates":{"latitude":41.04,"longitude":29.00}}]}`)

	u := url.URL{Scheme: "ws", Host: "localhost:" + port, Path: "/v1/routes/ws"}
	c, _, err := websocket.DefaultDialer.Dial(u.String(), nil)
	if err != nil {
		log.Fatal("dial:", err)
	}
	defer func() { _ = c.Close() }()

	if err := c.WriteJSON(wsMessage{Type: "connection_init"}); err != nil {
		log.Fatal(err)
	}
	pl, _ := json.Marshal(map[string]any{"driverId": driverID, "types": []string{"route.optimized"}})
	if err := c.WriteJSON(wsMessage{Type: "subscribe", ID: "1", Payload: pl}); err != nil {
		log.Fatal(err)
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			var m wsMessage
			if err := c.ReadJSON(&m); err != nil {
				log.Printf("read: %v", err)
				return
			}
			log.Printf("WS <- %s: %s", m.Type, string(m.Payload))
			if m.Type == "next" {
				return
			}
		}
	}()

	time.Sleep(500 * time.Millisecond)
	call(http.MethodPost, base+"/v1/drivers/"+driverID+"/optimize", `{"algorithm":"2-opt","includeAnalysis":false}`)

	select {
	case <-time.After(5 * time.Second):
		log.Printf("no route event within 5s")
	case <-done:
	}
}

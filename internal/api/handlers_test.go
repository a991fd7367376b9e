package api

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"routeopt/internal/config"
	"routeopt/internal/model"
	"routeopt/internal/store"
)

func newTestServer(t *testing.T, mutate ...func(*config.Config)) *Server {
	t.Helper()
	cfg := config.Default()
	cfg.Engine.Seed = 7
	for _, m := range mutate {
		m(&cfg)
	}
	s, err := NewServer(cfg)
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	return s
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

const istanbulRequest = `{
	"driverId": "driver1",
	"driverLocation": {"latitude": 41.0082, "longitude": 28.9784},
	"algorithm": "greedy",
	"includeAnalysis": false,
	"deliveries": [
		{"id": "A", "address": "Kadikoy", "coordinates": {"latitude": 41.05, "longitude": 29.02}},
		{"id": "B", "address": "Eminonu", "coordinates": {"latitude": 41.02, "longitude": 28.99}}
	]
}`

func TestHealthReady(t *testing.T) {
	s := newTestServer(t)
	rr := httptest.NewRecorder()
	s.HealthHandler(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rr.Code != 200 {
		t.Fatalf("health: got %d", rr.Code)
	}
	rr = httptest.NewRecorder()
	s.ReadyHandler(rr, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if rr.Code != 200 {
		t.Fatalf("ready: got %d", rr.Code)
	}
}

func TestOptimizeHandler(t *testing.T) {
	s := newTestServer(t)
	ch := s.Broker.Subscribe("driver1")
	defer s.Broker.Unsubscribe("driver1", ch)

	rr := do(t, s.Routes(), http.MethodPost, "/v1/optimize", istanbulRequest)
	if rr.Code != 200 {
		t.Fatalf("optimize: %d %s", rr.Code, rr.Body.String())
	}
	var res model.RouteResult
	if err := json.Unmarshal(rr.Body.Bytes(), &res); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(res.OptimizedRoute) != 2 || res.OptimizedRoute[0].DeliveryID != "B" {
		t.Fatalf("unexpected route: %+v", res.OptimizedRoute)
	}
	if res.Algorithm != "H3 GREEDY Algorithm" {
		t.Fatalf("algorithm label %q", res.Algorithm)
	}
	if !strings.HasPrefix(res.Message, "H3 route optimized in ") {
		t.Fatalf("message %q", res.Message)
	}

	select {
	case evt := <-ch:
		if evt.Type != EventRouteOptimized || evt.ID == "" {
			t.Fatalf("unexpected event %+v", evt)
		}
		order, _ := evt.Data["order"].([]string)
		if len(order) != 2 || order[0] != "B" {
			t.Fatalf("event order %v", evt.Data["order"])
		}
	case <-time.After(time.Second):
		t.Fatal("no route.optimized event")
	}

	items, err := s.Store.ListPlanMetrics(context.Background(), "driver1", "")
	if err != nil || len(items) != 1 || items[0].Points != 2 {
		t.Fatalf("plan metrics: %+v err=%v", items, err)
	}
}

func TestOptimizeHandlerErrors(t *testing.T) {
	s := newTestServer(t)
	h := s.Routes()
	loc := `"driverLocation": {"latitude": 41.0082, "longitude": 28.9784}`
	cases := []struct {
		name   string
		method string
		body   string
		want   int
	}{
		{"method", http.MethodGet, "", http.StatusMethodNotAllowed},
		{"bad json", http.MethodPost, `{`, http.StatusBadRequest},
		{"unknown field", http.MethodPost, `{"tenantId":"x"}`, http.StatusBadRequest},
		{"unknown algorithm", http.MethodPost, `{` + loc + `,"algorithm":"simulated_annealing","deliveries":[{"id":"A","coordinates":{"latitude":41,"longitude":29}}]}`, http.StatusBadRequest},
		{"resolution", http.MethodPost, `{` + loc + `,"resolution":16,"deliveries":[{"id":"A","coordinates":{"latitude":41,"longitude":29}}]}`, http.StatusBadRequest},
		{"missing id", http.MethodPost, `{` + loc + `,"deliveries":[{"coordinates":{"latitude":41,"longitude":29}}]}`, http.StatusBadRequest},
		{"duplicate id", http.MethodPost, `{` + loc + `,"deliveries":[{"id":"A","coordinates":{"latitude":41,"longitude":29}},{"id":"A","coordinates":{"latitude":41,"longitude":29}}]}`, http.StatusBadRequest},
		{"bad driver location", http.MethodPost, `{"driverLocation":{"latitude":120,"longitude":0},"deliveries":[{"id":"A","coordinates":{"latitude":41,"longitude":29}}]}`, http.StatusBadRequest},
		{"no valid deliveries", http.MethodPost, `{` + loc + `,"deliveries":[{"id":"A","coordinates":{"latitude":95,"longitude":29}}]}`, http.StatusUnprocessableEntity},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rr := do(t, h, tc.method, "/v1/optimize", tc.body)
			if rr.Code != tc.want {
				t.Fatalf("got %d want %d: %s", rr.Code, tc.want, rr.Body.String())
			}
			if tc.want != http.StatusMethodNotAllowed {
				var p Problem
				if err := json.Unmarshal(rr.Body.Bytes(), &p); err != nil || p.Status != tc.want {
					t.Fatalf("problem body %s", rr.Body.String())
				}
			}
		})
	}
}

func TestOptimizeEmptyDeliveries(t *testing.T) {
	s := newTestServer(t)
	rr := do(t, s.Routes(), http.MethodPost, "/v1/optimize", `{"driverId":"d","driverLocation":{"latitude":41,"longitude":29},"deliveries":[]}`)
	if rr.Code != 200 {
		t.Fatalf("optimize: %d", rr.Code)
	}
	var res model.RouteResult
	_ = json.Unmarshal(rr.Body.Bytes(), &res)
	if res.Message != "No deliveries to optimize" || len(res.OptimizedRoute) != 0 || res.Efficiency != 100 {
		t.Fatalf("unexpected empty result %+v", res)
	}
}

func TestBasicOptimizeHandler(t *testing.T) {
	s := newTestServer(t)
	rr := do(t, s.Routes(), http.MethodPost, "/v1/optimize/basic", istanbulRequest)
	if rr.Code != 200 {
		t.Fatalf("basic: %d %s", rr.Code, rr.Body.String())
	}
	var res model.RouteResult
	_ = json.Unmarshal(rr.Body.Bytes(), &res)
	if res.Algorithm != "Greedy TSP + Haversine" || len(res.OptimizedRoute) != 2 {
		t.Fatalf("unexpected basic result %+v", res)
	}
	if !strings.HasPrefix(res.Message, "Route optimized in ") {
		t.Fatalf("message %q", res.Message)
	}
}

func TestAnalysisHandlers(t *testing.T) {
	s := newTestServer(t)
	h := s.Routes()
	for _, path := range []string{"/v1/analysis/traffic", "/v1/analysis/weather"} {
		rr := do(t, h, http.MethodGet, path+"?lat=41.0082&lng=28.9784&radiusKm=2&resolution=7", "")
		if rr.Code != 200 {
			t.Fatalf("%s: %d %s", path, rr.Code, rr.Body.String())
		}
		var body map[string]any
		if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil || len(body) == 0 {
			t.Fatalf("%s: body %s", path, rr.Body.String())
		}
		for _, q := range []string{"?lng=28.9", "?lat=abc&lng=1", "?lat=100&lng=1", "?lat=41&lng=29&resolution=16", "?lat=41&lng=29&radiusKm=-1"} {
			if rr := do(t, h, http.MethodGet, path+q, ""); rr.Code != http.StatusBadRequest {
				t.Fatalf("%s%s: got %d", path, q, rr.Code)
			}
		}
	}
}

func TestDriverFlow(t *testing.T) {
	t.Run("memory", func(t *testing.T) {
		testDriverFlow(t, newTestServer(t))
	})
	t.Run("sqlite", func(t *testing.T) {
		s := newTestServer(t, func(c *config.Config) {
			c.Server.SQLitePath = filepath.Join(t.TempDir(), "routeopt.db")
		})
		defer s.Close()
		if _, ok := s.Store.(*store.SQLite); !ok {
			t.Fatalf("want sqlite store, got %T", s.Store)
		}
		testDriverFlow(t, s)
	})
}

func testDriverFlow(t *testing.T, s *Server) {
	t.Helper()
	h := s.Routes()

	if rr := do(t, h, http.MethodPost, "/v1/drivers/d1/optimize", ""); rr.Code != http.StatusNotFound {
		t.Fatalf("optimize without location: %d", rr.Code)
	}
	if rr := do(t, h, http.MethodPut, "/v1/drivers/d1/location", `{"coordinates":{"latitude":200,"longitude":0}}`); rr.Code != http.StatusBadRequest {
		t.Fatalf("bad location: %d", rr.Code)
	}
	if rr := do(t, h, http.MethodPut, "/v1/drivers/d1/location", `{"coordinates":{"latitude":41.0082,"longitude":28.9784}}`); rr.Code != 200 {
		t.Fatalf("put location: %d %s", rr.Code, rr.Body.String())
	}
	rr := do(t, h, http.MethodGet, "/v1/drivers/d1/location", "")
	var loc model.DriverLocation
	_ = json.Unmarshal(rr.Body.Bytes(), &loc)
	if rr.Code != 200 || loc.DriverID != "d1" || loc.RecordedAt == "" {
		t.Fatalf("get location: %d %+v", rr.Code, loc)
	}

	body := `{"deliveries":[
		{"id":"A","coordinates":{"latitude":41.05,"longitude":29.02}},
		{"id":"B","coordinates":{"latitude":41.02,"longitude":28.99}},
		{"id":"C","coordinates":{"latitude":41.03,"longitude":29.00}}]}`
	if rr := do(t, h, http.MethodPost, "/v1/drivers/d1/assignments", body); rr.Code != http.StatusCreated {
		t.Fatalf("assign: %d %s", rr.Code, rr.Body.String())
	}
	if rr := do(t, h, http.MethodPatch, "/v1/drivers/d1/assignments/C", `{"status":"completed"}`); rr.Code != 200 {
		t.Fatalf("patch: %d %s", rr.Code, rr.Body.String())
	}
	if rr := do(t, h, http.MethodPatch, "/v1/drivers/d1/assignments/C", `{"status":"lost"}`); rr.Code != http.StatusBadRequest {
		t.Fatalf("patch bad status: %d", rr.Code)
	}
	if rr := do(t, h, http.MethodPatch, "/v1/drivers/d1/assignments/Z", `{"status":"accepted"}`); rr.Code != http.StatusNotFound {
		t.Fatalf("patch unknown: %d", rr.Code)
	}

	rr = do(t, h, http.MethodPost, "/v1/drivers/d1/optimize", `{"algorithm":"2-opt","includeAnalysis":false}`)
	if rr.Code != 200 {
		t.Fatalf("driver optimize: %d %s", rr.Code, rr.Body.String())
	}
	var res model.RouteResult
	_ = json.Unmarshal(rr.Body.Bytes(), &res)
	if res.DriverID != "d1" || len(res.OptimizedRoute) != 2 || res.Algorithm != "H3 2-OPT Algorithm" {
		t.Fatalf("unexpected driver route %+v", res)
	}
	for _, p := range res.OptimizedRoute {
		if p.DeliveryID == "C" {
			t.Fatal("completed delivery was routed")
		}
	}
	if rr := do(t, h, http.MethodGet, "/v1/drivers/d1/unknown", ""); rr.Code != http.StatusNotFound {
		t.Fatalf("unknown action: %d", rr.Code)
	}
}

func TestWebhookEnqueuedOnOptimize(t *testing.T) {
	s := newTestServer(t, func(c *config.Config) {
		c.Webhooks.URLs = []string{"http://example.invalid/hook"}
		c.Webhooks.Secret = "s3cret"
	})
	if rr := do(t, s.Routes(), http.MethodPost, "/v1/optimize", istanbulRequest); rr.Code != 200 {
		t.Fatalf("optimize: %d", rr.Code)
	}
	events, err := s.Store.ListEvents(context.Background(), store.EventPending, 10)
	if err != nil || len(events) != 1 {
		t.Fatalf("events: %+v err=%v", events, err)
	}
	if events[0].EventType != "route.optimized" || events[0].URL != "http://example.invalid/hook" {
		t.Fatalf("unexpected event %+v", events[0])
	}
	rr := do(t, s.Routes(), http.MethodGet, "/v1/admin/webhook-events?status=pending", "")
	if rr.Code != 200 || !strings.Contains(rr.Body.String(), "route.optimized") {
		t.Fatalf("webhook events: %d %s", rr.Code, rr.Body.String())
	}
	if strings.Contains(rr.Body.String(), "s3cret") {
		t.Fatal("secret leaked in admin listing")
	}
}

func TestOptimizerConfigAndPlanMetrics(t *testing.T) {
	s := newTestServer(t)
	h := s.Routes()
	rr := do(t, h, http.MethodGet, "/v1/optimizer/config", "")
	if rr.Code != 200 || !strings.Contains(rr.Body.String(), "ant_colony") {
		t.Fatalf("config: %d %s", rr.Code, rr.Body.String())
	}
	req := strings.Replace(istanbulRequest, `"driver1"`, `"metrics-driver"`, 1)
	if rr := do(t, h, http.MethodPost, "/v1/optimize", req); rr.Code != 200 {
		t.Fatalf("optimize: %d", rr.Code)
	}
	rr = do(t, h, http.MethodGet, "/v1/admin/plan-metrics?driverId=metrics-driver&algo=greedy", "")
	var body struct {
		Items []struct {
			Algorithm string `json:"algorithm"`
			Points    int    `json:"points"`
		} `json:"items"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil || rr.Code != 200 {
		t.Fatalf("plan metrics: %d %s", rr.Code, rr.Body.String())
	}
	if len(body.Items) != 1 || body.Items[0].Algorithm != "greedy" || body.Items[0].Points != 2 {
		t.Fatalf("plan metrics items %+v", body.Items)
	}
	if rr := do(t, h, http.MethodGet, "/v1/admin/plan-metrics?driverId=x&algo=bogus", ""); rr.Code != http.StatusBadRequest {
		t.Fatalf("bad algo: %d", rr.Code)
	}
}

func TestPlanMetricsPerDriverUnderConcurrency(t *testing.T) {
	s := newTestServer(t)
	h := s.Routes()
	var wg sync.WaitGroup
	for i := 1; i <= 6; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			var b strings.Builder
			for k := 0; k < n; k++ {
				if k > 0 {
					b.WriteString(",")
				}
				fmt.Fprintf(&b, `{"id":"p%d","coordinates":{"latitude":%.4f,"longitude":%.4f}}`, k, 41.0+0.01*float64(k+1), 28.97+0.005*float64(k))
			}
			body := fmt.Sprintf(`{"driverId":"drv-%d","driverLocation":{"latitude":41.0082,"longitude":28.9784},"algorithm":"greedy","includeAnalysis":false,"deliveries":[%s]}`, n, b.String())
			if rr := do(t, h, http.MethodPost, "/v1/optimize", body); rr.Code != 200 {
				t.Errorf("optimize drv-%d: %d %s", n, rr.Code, rr.Body.String())
			}
		}(i)
	}
	wg.Wait()
	for i := 1; i <= 6; i++ {
		driver := fmt.Sprintf("drv-%d", i)
		items, err := s.Store.ListPlanMetrics(context.Background(), driver, "")
		if err != nil || len(items) != 1 || items[0].Points != i {
			t.Fatalf("%s stored metrics %+v %v", driver, items, err)
		}
		if got := s.Solves.Get(driver)["greedy"].Points; got != i {
			t.Fatalf("%s recent solve points %d", driver, got)
		}
	}

	// anonymous requests are not recorded, and servers do not share solves
	anon := strings.Replace(istanbulRequest, `"driverId": "driver1",`, "", 1)
	if rr := do(t, h, http.MethodPost, "/v1/optimize", anon); rr.Code != 200 {
		t.Fatalf("anonymous optimize: %d %s", rr.Code, rr.Body.String())
	}
	if s.Solves.Len() != 6 {
		t.Fatalf("recent solves %d, want 6", s.Solves.Len())
	}
	if other := newTestServer(t); other.Solves.Len() != 0 {
		t.Fatalf("new server sees %d solves", other.Solves.Len())
	}
}

func TestOpenAPIDocs(t *testing.T) {
	s := newTestServer(t)
	rr := do(t, s.Routes(), http.MethodGet, "/openapi.json", "")
	var doc map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &doc); err != nil || rr.Code != 200 {
		t.Fatalf("openapi.json: %d %v", rr.Code, err)
	}
	paths, _ := doc["paths"].(map[string]any)
	if _, ok := paths["/v1/optimize"]; !ok {
		t.Fatalf("openapi paths missing /v1/optimize")
	}
	if rr := do(t, s.Routes(), http.MethodGet, "/docs", ""); rr.Code != 200 || !bytes.Contains(rr.Body.Bytes(), []byte("/openapi.yaml")) {
		t.Fatalf("docs: %d", rr.Code)
	}
}

func TestDriverEventStream(t *testing.T) {
	s := newTestServer(t)
	ts := httptest.NewServer(s.Routes())
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/v1/drivers/d9/events/stream", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("stream: %v", err)
	}
	defer resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("content type %q", ct)
	}
	sc := bufio.NewScanner(resp.Body)
	next := func() string {
		if !sc.Scan() {
			t.Fatalf("stream ended: %v", sc.Err())
		}
		return sc.Text()
	}
	// the first heartbeat is written after subscribing
	if line := next(); line != "event: heartbeat" {
		t.Fatalf("first line %q", line)
	}
	next() // data
	next() // blank

	s.Broker.Publish("d9", newEvent(EventAssignmentUpdate, map[string]any{"deliveryId": "A"}))
	if line := next(); !strings.HasPrefix(line, "id: evt_") {
		t.Fatalf("id line %q", line)
	}
	if line := next(); line != "event: "+EventAssignmentUpdate {
		t.Fatalf("event line %q", line)
	}
	if line := next(); line != `data: {"deliveryId":"A"}` {
		t.Fatalf("data line %q", line)
	}
}

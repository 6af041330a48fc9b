package api_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/mattjoyce/telltale/internal/api"
	"github.com/mattjoyce/telltale/internal/config"
	"github.com/mattjoyce/telltale/internal/dispatch"
	"github.com/mattjoyce/telltale/internal/events"
	"github.com/mattjoyce/telltale/internal/metrics"
	"github.com/mattjoyce/telltale/internal/prop"
	"github.com/mattjoyce/telltale/internal/schema"
)

type fixedDispatcher struct {
	st  dispatch.Stats
	sch *schema.Schema
}

func (d *fixedDispatcher) Stats() dispatch.Stats         { return d.st }
func (d *fixedDispatcher) Schema() *schema.Schema        { return d.sch }
func (d *fixedDispatcher) RequestTimeout() time.Duration { return 30 * time.Second }

// TestServerLifecycle boots the server on a real socket, walks the surface,
// and checks that cancellation shuts it down.
func TestServerLifecycle(t *testing.T) {
	sch, err := schema.New([]prop.Config{
		{Prop: 0x0100, Type: prop.TypeInt32},
	})
	if err != nil {
		t.Fatalf("build schema: %v", err)
	}
	d := &fixedDispatcher{
		st:  dispatch.Stats{AdmittedGets: 5, PendingRequests: 1, Clients: 2},
		sch: sch,
	}

	cfg := config.APIConfig{
		Enabled: true,
		Listen:  "127.0.0.1:17173",
		Auth:    config.APIAuthConfig{APIKey: "lifecycle-key"},
	}
	hub := events.NewHub(16)
	server := api.New(cfg, d, nil, hub, metrics.New(d).Handler())

	ctx, cancel := context.WithCancel(context.Background())
	startErr := make(chan error, 1)
	go func() {
		startErr <- server.Start(ctx)
	}()

	client := &http.Client{Timeout: 2 * time.Second}
	baseURL := "http://" + cfg.Listen

	// Wait for the listener.
	var resp *http.Response
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		resp, err = client.Get(baseURL + "/healthz")
		if err == nil {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}
	if err != nil {
		cancel()
		t.Fatalf("server did not come up: %v", err)
	}

	var health api.HealthzResponse
	if err := json.NewDecoder(resp.Body).Decode(&health); err != nil {
		t.Fatalf("decode healthz: %v", err)
	}
	resp.Body.Close()
	if health.Status != "ok" || health.PendingRequests != 1 || health.Clients != 2 {
		t.Fatalf("unexpected healthz response: %+v", health)
	}

	// Stats requires the bearer key.
	req, _ := http.NewRequest(http.MethodGet, baseURL+"/v1/stats", nil)
	req.Header.Set("Authorization", "Bearer lifecycle-key")
	resp, err = client.Do(req)
	if err != nil {
		t.Fatalf("get stats: %v", err)
	}
	var st api.StatsResponse
	if err := json.NewDecoder(resp.Body).Decode(&st); err != nil {
		t.Fatalf("decode stats: %v", err)
	}
	resp.Body.Close()
	if st.Dispatch.AdmittedGets != 5 {
		t.Fatalf("expected admitted_gets 5, got %d", st.Dispatch.AdmittedGets)
	}

	// Prometheus scrape sees the dispatch counters.
	req, _ = http.NewRequest(http.MethodGet, baseURL+"/metrics", nil)
	req.Header.Set("Authorization", "Bearer lifecycle-key")
	resp, err = client.Do(req)
	if err != nil {
		t.Fatalf("get metrics: %v", err)
	}
	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	if err != nil {
		t.Fatalf("read metrics: %v", err)
	}
	if !strings.Contains(string(body), "telltale_dispatch_admitted_get_requests_total 5") {
		t.Fatalf("expected admitted gets counter in scrape, got:\n%s", body)
	}

	cancel()
	select {
	case err := <-startErr:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("expected context.Canceled from Start, got %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatalf("server did not shut down after cancel")
	}
}

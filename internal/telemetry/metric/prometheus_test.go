package metric

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestNewRegistryPopulatesMetrics(t *testing.T) {
	r := NewRegistry()
	if r == nil {
		t.Fatal("NewRegistry() returned nil")
	}
	if r.registry == nil {
		t.Error("registry field is nil")
	}
	if r.GossipTicksSent == nil || r.RPCRequestsTotal == nil || r.CertIssuances == nil {
		t.Error("expected gossip/rpc/cert metrics to be initialized")
	}
}

func TestGlobalReturnsSingleton(t *testing.T) {
	r1 := Global()
	r2 := Global()
	if r1 != r2 {
		t.Error("Global() should return the same instance")
	}
}

func TestHandlerServesGoAndProcessMetrics(t *testing.T) {
	r := NewRegistry()
	h := r.Handler()

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}

	body, _ := io.ReadAll(rec.Body)
	bodyStr := string(body)
	if !strings.Contains(bodyStr, "go_goroutines") {
		t.Error("expected go_goroutines metric")
	}
	if !strings.Contains(bodyStr, "process_") {
		t.Error("expected process metrics")
	}
}

func TestGossipMetrics(t *testing.T) {
	r := NewRegistry()

	r.GossipTicksSent.Inc()
	r.GossipEntriesReceived.Add(5)
	r.GossipEntriesAccepted.Add(3)
	r.GossipEntriesDiscarded.Add(2)
	r.DirectorySize.WithLabelValues("alive").Set(4)
	r.DirectorySize.WithLabelValues("dead").Set(1)

	body := scrape(t, r)
	for _, want := range []string{
		"relaymesh_gossip_ticks_sent_total 1",
		"relaymesh_gossip_entries_received_total 5",
		"relaymesh_gossip_entries_accepted_total 3",
		"relaymesh_gossip_entries_discarded_total 2",
		`relaymesh_directory_size{status="alive"} 4`,
		`relaymesh_directory_size{status="dead"} 1`,
	} {
		if !strings.Contains(body, want) {
			t.Errorf("expected metrics output to contain %q", want)
		}
	}
}

func TestRPCMetrics(t *testing.T) {
	r := NewRegistry()

	r.RPCRequestsTotal.WithLabelValues("ok", "0").Inc()
	r.RPCRequestsTotal.WithLabelValues("MethodNotFound", "-32601").Inc()
	r.RPCRequestDuration.WithLabelValues("system/ping").Observe(0.005)

	body := scrape(t, r)
	if !strings.Contains(body, `relaymesh_rpc_requests_total{code="0",kind="ok"} 1`) {
		t.Error("expected ok/0 rpc request counter")
	}
	if !strings.Contains(body, `relaymesh_rpc_requests_total{code="-32601",kind="MethodNotFound"} 1`) {
		t.Error("expected MethodNotFound rpc request counter")
	}
	if !strings.Contains(body, "relaymesh_rpc_request_duration_seconds_count") {
		t.Error("expected rpc request duration histogram")
	}
}

func TestCertAndRateLimitAndPoolMetrics(t *testing.T) {
	r := NewRegistry()

	r.CertIssuances.Inc()
	r.CertRenewals.Inc()
	r.CertFailures.Inc()
	r.RateLimitRejections.WithLabelValues("rpc").Inc()
	r.ConnectionPoolSize.Set(7)
	r.ConnectionPoolEvictions.Inc()

	body := scrape(t, r)
	for _, want := range []string{
		"relaymesh_cert_issuances_total 1",
		"relaymesh_cert_renewals_total 1",
		"relaymesh_cert_failures_total 1",
		`relaymesh_ratelimit_rejections_total{class="rpc"} 1`,
		"relaymesh_pool_size 7",
		"relaymesh_pool_evictions_total 1",
	} {
		if !strings.Contains(body, want) {
			t.Errorf("expected metrics output to contain %q", want)
		}
	}
}

func TestConcurrentMetricUpdates(t *testing.T) {
	r := NewRegistry()

	done := make(chan struct{})
	for i := 0; i < 10; i++ {
		go func() {
			for j := 0; j < 100; j++ {
				r.GossipTicksSent.Inc()
				r.RPCRequestsTotal.WithLabelValues("ok", "0").Inc()
				r.RPCRequestDuration.WithLabelValues("system/ping").Observe(0.001)
			}
			done <- struct{}{}
		}()
	}
	for i := 0; i < 10; i++ {
		<-done
	}

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	r.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("expected status 200, got %d", rec.Code)
	}
}

func scrape(t *testing.T, r *Registry) string {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	r.Handler().ServeHTTP(rec, req)
	body, err := io.ReadAll(rec.Body)
	if err != nil {
		t.Fatalf("read metrics body: %v", err)
	}
	return string(body)
}

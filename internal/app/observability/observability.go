// Package observability keeps in-process request and submission counters and
// writes the access log.
package observability

import (
	"database/sql"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

type routeKey struct {
	method string
	route  string
	status int
}

type routeTotals struct {
	hits    int64
	totalMS float64
}

func (t routeTotals) avgMS() float64 {
	if t.hits == 0 {
		return 0
	}
	return t.totalMS / float64(t.hits)
}

// Collector is shared by the router middleware, the exam service (through
// ObserveSubmission) and the /metrics handler.
type Collector struct {
	db  *sql.DB
	log *slog.Logger
	up  time.Time

	mu       sync.Mutex
	routes   map[routeKey]routeTotals
	outcomes map[string]int64
}

func NewCollector(db *sql.DB, logger *slog.Logger) *Collector {
	if logger == nil {
		logger = slog.Default()
	}
	return &Collector{
		db:       db,
		log:      logger,
		up:       time.Now(),
		routes:   make(map[routeKey]routeTotals),
		outcomes: make(map[string]int64),
	}
}

// ObserveSubmission counts one submit outcome: scored, resubmitted or failed.
func (c *Collector) ObserveSubmission(outcome string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.outcomes[outcome]++
}

func (c *Collector) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		began := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		elapsed := float64(time.Since(began).Microseconds()) / 1000
		route := routeLabel(r)

		c.mu.Lock()
		k := routeKey{method: r.Method, route: route, status: status}
		t := c.routes[k]
		t.hits++
		t.totalMS += elapsed
		c.routes[k] = t
		c.mu.Unlock()

		c.log.Info("http request",
			"request_id", middleware.GetReqID(r.Context()),
			"method", r.Method,
			"route", route,
			"attempt_id", attemptIDFromPath(r.URL.Path),
			"status", status,
			"bytes", ww.BytesWritten(),
			"latency_ms", elapsed,
			"remote_ip", r.RemoteAddr,
		)
	})
}

// MetricsHandler renders counters in the Prometheus text format.
func (c *Collector) MetricsHandler(w http.ResponseWriter, _ *http.Request) {
	c.mu.Lock()
	routes := make([]routeKey, 0, len(c.routes))
	totals := make(map[routeKey]routeTotals, len(c.routes))
	for k, v := range c.routes {
		routes = append(routes, k)
		totals[k] = v
	}
	outcomes := make(map[string]int64, len(c.outcomes))
	for k, v := range c.outcomes {
		outcomes[k] = v
	}
	c.mu.Unlock()

	sort.Slice(routes, func(i, j int) bool {
		a, b := routes[i], routes[j]
		if a.route != b.route {
			return a.route < b.route
		}
		if a.method != b.method {
			return a.method < b.method
		}
		return a.status < b.status
	})

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)

	metric(w, "examhall_uptime_seconds", "gauge")
	fmt.Fprintf(w, "examhall_uptime_seconds %.0f\n", time.Since(c.up).Seconds())

	metric(w, "examhall_http_requests_total", "counter")
	for _, k := range routes {
		fmt.Fprintf(w, "examhall_http_requests_total{%s} %d\n", k.labels(), totals[k].hits)
	}
	metric(w, "examhall_http_request_latency_ms_avg", "gauge")
	for _, k := range routes {
		fmt.Fprintf(w, "examhall_http_request_latency_ms_avg{%s} %.3f\n", k.labels(), totals[k].avgMS())
	}

	names := make([]string, 0, len(outcomes))
	for name := range outcomes {
		names = append(names, name)
	}
	sort.Strings(names)
	metric(w, "examhall_submissions_total", "counter")
	for _, name := range names {
		fmt.Fprintf(w, "examhall_submissions_total{outcome=%q} %d\n", name, outcomes[name])
	}

	if c.db == nil {
		return
	}
	s := c.db.Stats()
	for _, g := range []struct {
		name string
		v    int
	}{
		{"examhall_db_open_connections", s.OpenConnections},
		{"examhall_db_in_use_connections", s.InUse},
		{"examhall_db_idle_connections", s.Idle},
	} {
		metric(w, g.name, "gauge")
		fmt.Fprintf(w, "%s %d\n", g.name, g.v)
	}
	metric(w, "examhall_db_wait_count", "counter")
	fmt.Fprintf(w, "examhall_db_wait_count %d\n", s.WaitCount)
}

func (k routeKey) labels() string {
	return fmt.Sprintf("method=%q,route=%q,status=\"%d\"", k.method, k.route, k.status)
}

func metric(w io.Writer, name, kind string) {
	fmt.Fprintf(w, "# TYPE %s %s\n", name, kind)
}

// unmatchedRoute labels every request chi could not route, so unknown paths
// share one counter.
const unmatchedRoute = "unmatched"

func routeLabel(r *http.Request) string {
	if rc := chi.RouteContext(r.Context()); rc != nil {
		if p := rc.RoutePattern(); p != "" {
			return p
		}
	}
	return unmatchedRoute
}

func attemptIDFromPath(path string) int64 {
	parts := strings.Split(strings.Trim(path, "/"), "/")
	for i := 0; i+1 < len(parts); i++ {
		if parts[i] != "attempts" && parts[i] != "results" {
			continue
		}
		if id, err := strconv.ParseInt(parts[i+1], 10, 64); err == nil {
			return id
		}
	}
	return 0
}

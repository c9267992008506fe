package metrics

import (
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"
)

type requestKey struct {
	handler string
	method  string
	code    string
}

type latencyKey struct {
	handler string
	method  string
}

type histogram struct {
	buckets []float64
	counts  []uint64
	sum     float64
	count   uint64
}

type collector struct {
	mu       sync.Mutex
	requests map[requestKey]uint64
	latency  map[latencyKey]*histogram
	outcomes map[string]uint64
	attempts map[string]uint64
}

var defaultCollector = &collector{
	requests: make(map[requestKey]uint64),
	latency:  make(map[latencyKey]*histogram),
	outcomes: make(map[string]uint64),
	attempts: make(map[string]uint64),
}

// ObserveHTTPRequest records metrics about an HTTP request lifecycle.
func ObserveHTTPRequest(handler, method string, status int, duration time.Duration) {
	defaultCollector.observeHTTP(handler, method, status, duration)
}

// ObserveOutcome counts terminal intent statuses (BROADCASTED, BLOCKED_*, FAILED_EVM).
func ObserveOutcome(status string) {
	defaultCollector.mu.Lock()
	defaultCollector.outcomes[status]++
	defaultCollector.mu.Unlock()
}

// ObserveProviderAttempt counts per-candidate attempt results.
func ObserveProviderAttempt(candidate string, success bool) {
	key := candidate + "|failure"
	if success {
		key = candidate + "|success"
	}
	defaultCollector.mu.Lock()
	defaultCollector.attempts[key]++
	defaultCollector.mu.Unlock()
}

func (c *collector) observeHTTP(handler, method string, status int, duration time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.requests[requestKey{handler: handler, method: method, code: strconv.Itoa(status)}]++

	latKey := latencyKey{handler: handler, method: method}
	hist := c.latency[latKey]
	if hist == nil {
		hist = newHistogram()
		c.latency[latKey] = hist
	}
	hist.observe(duration.Seconds())
}

func newHistogram() *histogram {
	buckets := []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30}
	return &histogram{
		buckets: buckets,
		counts:  make([]uint64, len(buckets)),
	}
}

func (h *histogram) observe(value float64) {
	h.count++
	h.sum += value
	for idx, bound := range h.buckets {
		if value <= bound {
			for i := idx; i < len(h.counts); i++ {
				h.counts[i]++
			}
			break
		}
	}
}

// Handler exposes the metrics in Prometheus text exposition format.
func Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4")
		_, _ = fmt.Fprint(w, defaultCollector.render())
	})
}

func (c *collector) render() string {
	c.mu.Lock()
	defer c.mu.Unlock()

	var builder strings.Builder
	builder.Grow(1024)

	builder.WriteString("# HELP arcflow_http_requests_total Total number of HTTP requests processed.\n")
	builder.WriteString("# TYPE arcflow_http_requests_total counter\n")
	for _, key := range sortedRequestKeys(c.requests) {
		builder.WriteString(fmt.Sprintf("arcflow_http_requests_total{handler=%q,method=%q,code=%q} %d\n",
			key.handler, key.method, key.code, c.requests[key]))
	}

	builder.WriteString("# HELP arcflow_intent_outcomes_total Terminal statuses of transfer intents.\n")
	builder.WriteString("# TYPE arcflow_intent_outcomes_total counter\n")
	for _, status := range sortedKeys(c.outcomes) {
		builder.WriteString(fmt.Sprintf("arcflow_intent_outcomes_total{status=%q} %d\n", status, c.outcomes[status]))
	}

	builder.WriteString("# HELP arcflow_provider_attempts_total Reasoning candidate attempts by result.\n")
	builder.WriteString("# TYPE arcflow_provider_attempts_total counter\n")
	for _, key := range sortedKeys(c.attempts) {
		parts := strings.SplitN(key, "|", 2)
		builder.WriteString(fmt.Sprintf("arcflow_provider_attempts_total{candidate=%q,result=%q} %d\n",
			parts[0], parts[1], c.attempts[key]))
	}

	builder.WriteString("# HELP arcflow_http_request_duration_seconds HTTP request latency.\n")
	builder.WriteString("# TYPE arcflow_http_request_duration_seconds histogram\n")
	for _, key := range sortedLatencyKeys(c.latency) {
		hist := c.latency[key]
		labels := fmt.Sprintf("handler=%q,method=%q", key.handler, key.method)
		for i, bound := range hist.buckets {
			builder.WriteString(fmt.Sprintf("arcflow_http_request_duration_seconds_bucket{%s,le=\"%g\"} %d\n",
				labels, bound, hist.counts[i]))
		}
		builder.WriteString(fmt.Sprintf("arcflow_http_request_duration_seconds_bucket{%s,le=\"+Inf\"} %d\n", labels, hist.count))
		builder.WriteString(fmt.Sprintf("arcflow_http_request_duration_seconds_sum{%s} %g\n", labels, hist.sum))
		builder.WriteString(fmt.Sprintf("arcflow_http_request_duration_seconds_count{%s} %d\n", labels, hist.count))
	}

	return builder.String()
}

func sortedKeys(m map[string]uint64) []string {
	keys := make([]string, 0, len(m))
	for key := range m {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

func sortedRequestKeys(m map[requestKey]uint64) []requestKey {
	keys := make([]requestKey, 0, len(m))
	for key := range m {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].handler != keys[j].handler {
			return keys[i].handler < keys[j].handler
		}
		if keys[i].method != keys[j].method {
			return keys[i].method < keys[j].method
		}
		return keys[i].code < keys[j].code
	})
	return keys
}

func sortedLatencyKeys(m map[latencyKey]*histogram) []latencyKey {
	keys := make([]latencyKey, 0, len(m))
	for key := range m {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].handler != keys[j].handler {
			return keys[i].handler < keys[j].handler
		}
		return keys[i].method < keys[j].method
	})
	return keys
}

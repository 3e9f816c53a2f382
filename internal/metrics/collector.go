// Package metrics is a lightweight Prometheus-exposition collector for the
// ask pipeline. It avoids the heavy client_golang dependency on purpose.
package metrics

import (
	"fmt"
	"net/http"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// Collector is the process-wide collector.
var Collector = NewCollector()

// MetricsCollector aggregates named counters.
type MetricsCollector struct {
	counters  sync.Map // name -> *Counter
	startTime time.Time
}

func NewCollector() *MetricsCollector {
	return &MetricsCollector{startTime: time.Now()}
}

// Counter is a monotonically increasing counter.
type Counter struct {
	name  string
	help  string
	value atomic.Int64
}

func (c *Counter) Inc()         { c.value.Add(1) }
func (c *Counter) Add(n int64)  { c.value.Add(n) }
func (c *Counter) Value() int64 { return c.value.Load() }

// CounterVec returns the counter with the given name, creating it on first
// use.
func (m *MetricsCollector) CounterVec(name, help string) *Counter {
	if v, ok := m.counters.Load(name); ok {
		return v.(*Counter)
	}
	c := &Counter{name: name, help: help}
	actual, _ := m.counters.LoadOrStore(name, c)
	return actual.(*Counter)
}

// WriteExposition renders all metrics in Prometheus text format.
func (m *MetricsCollector) WriteExposition() string {
	type entry struct {
		name, help string
		value      int64
	}
	var entries []entry
	m.counters.Range(func(_, v any) bool {
		c := v.(*Counter)
		entries = append(entries, entry{c.name, c.help, c.Value()})
		return true
	})
	sort.Slice(entries, func(i, j int) bool { return entries[i].name < entries[j].name })

	out := fmt.Sprintf("# HELP glass_uptime_seconds Process uptime.\n# TYPE glass_uptime_seconds gauge\nglass_uptime_seconds %d\n",
		int64(time.Since(m.startTime).Seconds()))
	for _, e := range entries {
		out += fmt.Sprintf("# HELP %s %s\n# TYPE %s counter\n%s %d\n", e.name, e.help, e.name, e.name, e.value)
	}
	return out
}

// Handler serves the exposition over HTTP.
func (m *MetricsCollector) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4")
		fmt.Fprint(w, m.WriteExposition())
	})
}

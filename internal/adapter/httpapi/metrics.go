package httpapi

import (
	"fmt"
	"net/http"
	"runtime"
	"sync/atomic"
	"time"
)

// Metrics holds process counters exported at /metrics.
type Metrics struct {
	ChatStreams   atomic.Int64
	StreamErrors  atomic.Int64
	RateLimited   atomic.Int64
	TitlesCreated atomic.Int64
}

func NewMetrics() *Metrics {
	return &Metrics{}
}

// Handler serves the counters in Prometheus text format. The lightweight
// text format avoids pulling in the full prometheus client.
func (m *Metrics) Handler(startTime time.Time) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")

		fmt.Fprintf(w, "# HELP chatstream_streams_total Total chat streams started.\n")
		fmt.Fprintf(w, "# TYPE chatstream_streams_total counter\n")
		fmt.Fprintf(w, "chatstream_streams_total %d\n", m.ChatStreams.Load())

		fmt.Fprintf(w, "# HELP chatstream_stream_errors_total Total chat streams that failed mid-generation.\n")
		fmt.Fprintf(w, "# TYPE chatstream_stream_errors_total counter\n")
		fmt.Fprintf(w, "chatstream_stream_errors_total %d\n", m.StreamErrors.Load())

		fmt.Fprintf(w, "# HELP chatstream_rate_limited_total Total chat requests rejected by the session limiter.\n")
		fmt.Fprintf(w, "# TYPE chatstream_rate_limited_total counter\n")
		fmt.Fprintf(w, "chatstream_rate_limited_total %d\n", m.RateLimited.Load())

		fmt.Fprintf(w, "# HELP chatstream_titles_total Total conversation titles generated.\n")
		fmt.Fprintf(w, "# TYPE chatstream_titles_total counter\n")
		fmt.Fprintf(w, "chatstream_titles_total %d\n", m.TitlesCreated.Load())

		var mem runtime.MemStats
		runtime.ReadMemStats(&mem)
		fmt.Fprintf(w, "# HELP chatstream_memory_alloc_bytes Bytes of allocated heap objects.\n")
		fmt.Fprintf(w, "# TYPE chatstream_memory_alloc_bytes gauge\n")
		fmt.Fprintf(w, "chatstream_memory_alloc_bytes %d\n", mem.Alloc)

		fmt.Fprintf(w, "# HELP chatstream_goroutines Current goroutine count.\n")
		fmt.Fprintf(w, "# TYPE chatstream_goroutines gauge\n")
		fmt.Fprintf(w, "chatstream_goroutines %d\n", runtime.NumGoroutine())

		fmt.Fprintf(w, "# HELP chatstream_uptime_seconds Seconds since process start.\n")
		fmt.Fprintf(w, "# TYPE chatstream_uptime_seconds gauge\n")
		fmt.Fprintf(w, "chatstream_uptime_seconds %d\n", int(time.Since(startTime).Seconds()))
	}
}

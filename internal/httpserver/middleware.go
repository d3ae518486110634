package httpserver

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"burnbin/internal/metrics"
)

// TestNowHeader carries an epoch-millisecond clock override in test mode.
const TestNowHeader = "x-test-now-ms"

type ctxKey int

const testNowKey ctxKey = iota

// TestClockMiddleware stores the x-test-now-ms override on the request
// context when enabled. Malformed values are ignored.
func TestClockMiddleware(enabled bool) func(http.Handler) http.Handler {
	if !enabled {
		return func(next http.Handler) http.Handler {
			return next
		}
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw := strings.TrimSpace(r.Header.Get(TestNowHeader))
			if raw != "" {
				if ms, err := strconv.ParseInt(raw, 10, 64); err == nil {
					ctx := context.WithValue(r.Context(), testNowKey, time.UnixMilli(ms).UTC())
					r = r.WithContext(ctx)
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}

func testNowFromContext(ctx context.Context) (time.Time, bool) {
	t, ok := ctx.Value(testNowKey).(time.Time)
	return t, ok
}

// MetricsMiddleware records request latency by route pattern and status.
func MetricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				route = pattern
			}
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		metrics.RequestDuration.
			WithLabelValues(r.Method, route, strconv.Itoa(status)).
			Observe(time.Since(start).Seconds())
	})
}

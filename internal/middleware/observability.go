package middleware

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"forwardbot/internal/httputil"
	"forwardbot/internal/metrics"
	"forwardbot/internal/tracing"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
)

// Observability traces, times and logs every admin API request. Metrics are
// labelled by route template so account ids do not explode label cardinality.
func Observability(logger *logrus.Logger, registry *metrics.Registry, trustProxy bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			route := routeTemplate(r)
			clientIP := httputil.ClientIP(r, trustProxy)

			ctx, span := tracing.StartSpan(r.Context(), "admin.request",
				attribute.String("http.method", r.Method),
				attribute.String("http.route", route),
				attribute.String("client.address", clientIP),
			)
			defer span.End()
			r = r.WithContext(ctx)

			wrapper := &responseWrapper{ResponseWriter: w, statusCode: http.StatusOK}
			next.ServeHTTP(wrapper, r)

			duration := time.Since(start)
			status := strconv.Itoa(wrapper.statusCode)

			tracing.AddSpanAttributes(ctx,
				attribute.Int("http.response.status_code", wrapper.statusCode),
				attribute.Int64("http.response.size", wrapper.responseSize),
			)
			if wrapper.statusCode >= 500 {
				tracing.RecordError(ctx, fmt.Errorf("HTTP %d", wrapper.statusCode))
			}

			registry.IncrementCounter(metrics.HTTPRequestsTotal, map[string]string{
				"method":      r.Method,
				"route":       route,
				"status_code": status,
			}, "Admin API requests")
			registry.RecordTimer(metrics.HTTPRequestDuration, duration, map[string]string{
				"method": r.Method,
				"route":  route,
			}, "Admin API request duration")

			logLevel := logrus.InfoLevel
			if wrapper.statusCode >= 400 && wrapper.statusCode < 500 {
				logLevel = logrus.WarnLevel
			} else if wrapper.statusCode >= 500 {
				logLevel = logrus.ErrorLevel
			}

			logger.WithFields(logrus.Fields{
				"method":      r.Method,
				"route":       route,
				"status_code": wrapper.statusCode,
				"duration_ms": duration.Milliseconds(),
				"remote_ip":   clientIP,
				"size_bytes":  wrapper.responseSize,
				"trace_id":    tracing.GetOtelTraceID(ctx),
			}).Log(logLevel, "HTTP request completed")
		})
	}
}

func routeTemplate(r *http.Request) string {
	if route := mux.CurrentRoute(r); route != nil {
		if tpl, err := route.GetPathTemplate(); err == nil {
			return tpl
		}
	}
	return r.URL.Path
}

// responseWrapper captures response metrics
type responseWrapper struct {
	http.ResponseWriter
	statusCode   int
	responseSize int64
}

func (rw *responseWrapper) WriteHeader(statusCode int) {
	rw.statusCode = statusCode
	rw.ResponseWriter.WriteHeader(statusCode)
}

func (rw *responseWrapper) Write(data []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(data)
	rw.responseSize += int64(n)
	return n, err
}

// Unwrap exposes the underlying writer to http.ResponseController, which the
// websocket upgrade needs to hijack the connection
func (rw *responseWrapper) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}

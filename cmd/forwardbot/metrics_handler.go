package main

import (
	"encoding/json"
	"net/http"

	"forwardbot/internal/tracing"

	"github.com/sirupsen/logrus"
)

// handleMetrics returns current application metrics
func (s *Server) handleMetrics() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		traceID := tracing.GetOtelTraceID(r.Context())

		allMetrics := s.metrics.GetAllMetrics()

		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
		w.Header().Set("Pragma", "no-cache")
		w.Header().Set("Expires", "0")

		encoder := json.NewEncoder(w)
		encoder.SetIndent("", "  ")

		if err := encoder.Encode(allMetrics); err != nil {
			s.logger.WithFields(logrus.Fields{
				"trace_id": traceID,
				"error":    err,
			}).Error("Failed to encode metrics response")

			http.Error(w, "Internal server error", http.StatusInternalServerError)
			return
		}

		s.logger.WithFields(logrus.Fields{
			"trace_id": traceID,
			"endpoint": "/metrics",
		}).Debug("Metrics endpoint served successfully")
	}
}

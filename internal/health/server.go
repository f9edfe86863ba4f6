package health

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/vietddude/genqueue/internal/queue"
)

// Server provides HTTP endpoints for health monitoring.
type Server struct {
	queue  *queue.Queue
	server *http.Server
}

// NewServer creates a new health server.
func NewServer(q *queue.Queue, port int) *Server {
	mux := http.NewServeMux()
	s := &Server{
		queue: q,
		server: &http.Server{
			Addr:    fmt.Sprintf(":%d", port),
			Handler: mux,
		},
	}

	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/health/detailed", s.handleDetailed)
	mux.HandleFunc("/status", s.handleStatus)
	mux.Handle("/metrics", promhttp.Handler())

	return s
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	return s.server.ListenAndServe()
}

// Stop stops the HTTP server.
func (s *Server) Stop(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

func (s *Server) buildReport() Report {
	report := Report{
		SystemStatus: StatusHealthy,
		Queue:        s.queue.GetStatus(),
		Providers:    make(map[string]ProviderHealth),
	}

	// Aggregate status (worst case wins).
	for key, stats := range s.queue.Breakers() {
		ph := ProviderHealth{
			Provider:      key,
			Status:        providerStatus(stats),
			BreakerState:  stats.State,
			UptimePercent: stats.UptimePercent,
			TotalAttempts: stats.TotalAttempts,
		}
		report.Providers[key] = ph

		if ph.Status == StatusCritical {
			report.SystemStatus = StatusCritical
		} else if ph.Status == StatusDegraded && report.SystemStatus == StatusHealthy {
			report.SystemStatus = StatusDegraded
		}
	}

	return report
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	report := s.buildReport()

	w.Header().Set("Content-Type", "application/json")
	if report.SystemStatus == StatusCritical {
		w.WriteHeader(http.StatusServiceUnavailable)
	} else {
		w.WriteHeader(http.StatusOK)
	}

	json.NewEncoder(w).Encode(map[string]string{"status": string(report.SystemStatus)})
}

func (s *Server) handleDetailed(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(s.buildReport())
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(s.queue.GetStatus())
}

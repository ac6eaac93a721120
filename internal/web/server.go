// Package web serves the node's HTTP surface: a human-readable status
// page that doubles as the bus endpoint configuration interface, a
// JSON health endpoint, and Prometheus metrics.
package web

import (
	"context"
	"encoding/json"
	"fmt"
	"html/template"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/fernhollow/airnode/internal/buildinfo"
	"github.com/fernhollow/airnode/internal/endpoint"
	"github.com/fernhollow/airnode/internal/messaging"
	"github.com/fernhollow/airnode/internal/node"
	"github.com/fernhollow/airnode/internal/sensor"
)

// historyRows is how many recent readings the status page shows.
const historyRows = 10

// BusClient is the slice of the messaging client the web surface needs.
type BusClient interface {
	StatusSnapshot() messaging.Status
	Reconfigure(endpoint string)
}

// NodeStatus exposes the node's identity and latest sample state.
type NodeStatus interface {
	Identity() node.Identity
	StatusSnapshot() node.Status
}

// HistorySource lists recent retained readings, newest first.
type HistorySource interface {
	Recent(n int) ([]sensor.Reading, error)
}

// writeJSON encodes v as JSON to w, logging any errors at debug level.
// Errors here typically mean the client disconnected mid-response.
func writeJSON(w http.ResponseWriter, v any, logger *slog.Logger) {
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Debug("failed to write JSON response", "error", err)
	}
}

// Server is the node's HTTP server.
type Server struct {
	address  string
	port     int
	node     NodeStatus
	bus      BusClient
	store    *endpoint.Store
	history  HistorySource
	gatherer prometheus.Gatherer
	logger   *slog.Logger
	template *template.Template
	server   *http.Server
}

// NewServer creates the HTTP server. history and gatherer may be nil;
// the corresponding sections are then omitted or disabled.
func NewServer(address string, port int, n NodeStatus, bus BusClient, store *endpoint.Store, history HistorySource, gatherer prometheus.Gatherer, logger *slog.Logger) *Server {
	return &Server{
		address:  address,
		port:     port,
		node:     n,
		bus:      bus,
		store:    store,
		history:  history,
		gatherer: gatherer,
		logger:   logger,
		template: loadTemplate(),
	}
}

// Start begins serving HTTP requests. It blocks until the listener
// fails or Shutdown is called.
func (s *Server) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", s.address, s.port),
		Handler:      s.withLogging(s.Handler()),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	addr := s.address
	if addr == "" {
		addr = "0.0.0.0"
	}
	s.logger.Info("starting HTTP server", "address", addr, "port", s.port)
	return s.server.ListenAndServe()
}

// Handler builds the route mux. Exposed separately so tests can drive
// it through httptest without a live listener.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", s.handleHealth)
	if s.gatherer != nil {
		mux.Handle("GET /metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}

	// Everything else gets the status page. The original firmware
	// answered every path with the same page, and field tooling
	// depends on that.
	mux.HandleFunc("/", s.handleRoot)

	return mux
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

func (s *Server) withLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.logger.Debug("request",
			"method", r.Method,
			"path", r.URL.Path,
			"duration", time.Since(start),
		)
	})
}

// handleRoot serves the status page and, when the request target
// carries a bus endpoint value, applies it first. The value is taken
// from the raw request target so the bytes the client sent are the
// bytes that get stored.
func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	if addr, ok := ExtractBusEndpoint(r.URL.RequestURI()); ok {
		s.applyEndpoint(addr)
		http.Redirect(w, r, "/", http.StatusFound)
		return
	}

	s.render(w, s.statusData())
}

// applyEndpoint persists the new bus endpoint and hands it to the
// messaging client. A persistence failure is logged but does not stop
// the in-memory reconfiguration; the node keeps the new endpoint until
// it restarts.
func (s *Server) applyEndpoint(addr string) {
	if err := s.store.Write(addr); err != nil {
		s.logger.Warn("failed to persist bus endpoint", "endpoint", addr, "error", err)
	}
	s.bus.Reconfigure(addr)
	s.logger.Info("bus endpoint updated via HTTP", "endpoint", addr)
}

// statusReading is a display row for the status page.
type statusReading struct {
	Temperature float64
	Humidity    float64
	CapturedAt  time.Time
}

// statusData is the template context for the status page.
type statusData struct {
	NodeName    string
	NodeID      string
	Version     string
	Uptime      time.Duration
	Bus         messaging.Status
	HasReading  bool
	Reading     statusReading
	LastAttempt time.Time
	LastError   string
	History     []statusReading
}

func (s *Server) statusData() statusData {
	ident := s.node.Identity()
	ns := s.node.StatusSnapshot()

	data := statusData{
		NodeName:    ident.Name,
		NodeID:      ident.ID,
		Version:     buildinfo.Version,
		Uptime:      buildinfo.Uptime(),
		Bus:         s.bus.StatusSnapshot(),
		HasReading:  ns.HasReading,
		LastAttempt: ns.LastAttempt,
		LastError:   ns.LastError,
	}
	if ns.HasReading {
		data.Reading = statusReading{
			Temperature: ns.Reading.Temperature,
			Humidity:    ns.Reading.Humidity,
			CapturedAt:  ns.Reading.CapturedAt,
		}
	}

	if s.history != nil {
		readings, err := s.history.Recent(historyRows)
		if err != nil {
			s.logger.Warn("failed to load reading history", "error", err)
		}
		for _, r := range readings {
			data.History = append(data.History, statusReading{
				Temperature: r.Temperature,
				Humidity:    r.Humidity,
				CapturedAt:  r.CapturedAt,
			})
		}
	}

	return data
}

// healthResponse is the /healthz payload.
type healthResponse struct {
	Status        string           `json:"status"`
	Version       string           `json:"version"`
	UptimeSeconds int64            `json:"uptime_seconds"`
	Bus           messaging.Status `json:"bus"`
	Sample        sampleHealth     `json:"sample"`
}

type sampleHealth struct {
	HasReading  bool      `json:"has_reading"`
	Temperature float64   `json:"temperature,omitempty"`
	Humidity    float64   `json:"humidity,omitempty"`
	CapturedAt  time.Time `json:"captured_at,omitzero"`
	LastAttempt time.Time `json:"last_attempt,omitzero"`
	LastError   string    `json:"last_error,omitempty"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ns := s.node.StatusSnapshot()
	bus := s.bus.StatusSnapshot()

	status := "degraded"
	if bus.State == messaging.Connected.String() && ns.LastError == "" {
		status = "ok"
	}

	resp := healthResponse{
		Status:        status,
		Version:       buildinfo.Version,
		UptimeSeconds: int64(buildinfo.Uptime().Seconds()),
		Bus:           bus,
		Sample: sampleHealth{
			HasReading:  ns.HasReading,
			LastAttempt: ns.LastAttempt,
			LastError:   ns.LastError,
		},
	}
	if ns.HasReading {
		resp.Sample.Temperature = ns.Reading.Temperature
		resp.Sample.Humidity = ns.Reading.Humidity
		resp.Sample.CapturedAt = ns.Reading.CapturedAt
	}

	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, resp, s.logger)
}

// Package metrics exposes the pipeline's operational counters over a
// small Prometheus HTTP listener, plus a JWT-guarded admin endpoint
// for operational actions (currently: flushing the alert cooldown
// table).
package metrics

import (
	"context"
	"encoding/json"
	"io"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/marketpulse/anomaly-radar/internal/auth"
)

// Registry bundles every metric the pipeline emits.
type Registry struct {
	EventsIngested    *prometheus.CounterVec
	EventsEvicted     *prometheus.CounterVec
	DetectorEmissions *prometheus.CounterVec
	AlertsDispatched  *prometheus.CounterVec
	AlertsFailed      *prometheus.CounterVec
	FeedReconnects    prometheus.Counter
	MemoryPressure    prometheus.Gauge
}

func NewRegistry() *Registry {
	return &Registry{
		EventsIngested: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "anomaly_radar",
			Name:      "events_ingested_total",
			Help:      "Events accepted into the aggregator, by kind.",
		}, []string{"kind"}),
		EventsEvicted: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "anomaly_radar",
			Name:      "events_evicted_total",
			Help:      "Events dropped from the aggregator's windows, by reason.",
		}, []string{"reason"}),
		DetectorEmissions: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "anomaly_radar",
			Name:      "detector_emissions_total",
			Help:      "Findings produced by each detector.",
		}, []string{"detector"}),
		AlertsDispatched: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "anomaly_radar",
			Name:      "alerts_dispatched_total",
			Help:      "Alert messages successfully sent, by kind.",
		}, []string{"kind"}),
		AlertsFailed: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "anomaly_radar",
			Name:      "alerts_failed_total",
			Help:      "Alert send attempts that errored, by kind.",
		}, []string{"kind"}),
		FeedReconnects: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: "anomaly_radar",
			Name:      "feed_reconnects_total",
			Help:      "WS Client reconnect attempts.",
		}),
		MemoryPressure: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: "anomaly_radar",
			Name:      "memory_pressure_level",
			Help:      "Current memory pressure level (0=normal,1=elevated,2=high,3=critical).",
		}),
	}
}

// CooldownFlusher is satisfied by the alert engine's Sweep method;
// kept as a narrow interface so metrics doesn't import alert.
type CooldownFlusher interface {
	Sweep() int
}

// Server is the metrics HTTP listener: /metrics is open, /admin/* is
// bearer-token guarded and, when request signing is enabled, also
// requires a valid HMAC signature over the request body.
type Server struct {
	http    *http.Server
	tokens  *auth.TokenManager
	signer  *auth.RequestSigner
	flusher CooldownFlusher
}

func NewServer(addr string, tokens *auth.TokenManager, signer *auth.RequestSigner, flusher CooldownFlusher) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	s := &Server{http: &http.Server{Addr: addr, Handler: mux}, tokens: tokens, signer: signer, flusher: flusher}
	mux.HandleFunc("/admin/flush-cooldowns", tokens.Middleware(s.signedHandler(s.handleFlushCooldowns)))
	return s
}

// signedHandler wraps next with an HMAC body-signature check. A no-op
// when request signing is disabled.
func (s *Server) signedHandler(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		if err != nil {
			http.Error(w, "failed to read request body", http.StatusBadRequest)
			return
		}
		if !s.signer.Verify(body, r.Header.Get("X-Signature")) {
			http.Error(w, "unauthorized: invalid request signature", http.StatusUnauthorized)
			return
		}
		next(w, r)
	}
}

func (s *Server) handleFlushCooldowns(w http.ResponseWriter, r *http.Request) {
	if s.flusher == nil {
		http.Error(w, "cooldown flusher not configured", http.StatusServiceUnavailable)
		return
	}
	dropped := s.flusher.Sweep()
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]int{"dropped": dropped})
}

func (s *Server) ListenAndServe() error {
	return s.http.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

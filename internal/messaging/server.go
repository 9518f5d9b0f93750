package messaging

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const maxRequestBody = 1 << 20

// ServerConfig tunes the HTTP transport.
type ServerConfig struct {
	Listen      string `mapstructure:"listen"`
	MetricsPath string `mapstructure:"metrics-path"`
	// RatePerSecond bounds inbound messages; zero disables the limit.
	RatePerSecond float64 `mapstructure:"rate-per-second"`
	Burst         int     `mapstructure:"burst"`
}

// DefaultServerConfig listens on localhost only.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{Listen: "127.0.0.1:8787", MetricsPath: "/metrics", RatePerSecond: 5, Burst: 10}
}

// Server is the HTTP face of the dispatcher and the event hub.
type Server struct {
	cfg        ServerConfig
	dispatcher *Dispatcher
	hub        *Hub
	gatherer   prometheus.Gatherer
	logger     *zap.Logger
	limiter    *rate.Limiter
}

func NewServer(cfg ServerConfig, dispatcher *Dispatcher, hub *Hub, gatherer prometheus.Gatherer, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	if cfg.MetricsPath == "" {
		cfg.MetricsPath = "/metrics"
	}

	s := &Server{cfg: cfg, dispatcher: dispatcher, hub: hub, gatherer: gatherer, logger: log}
	if cfg.RatePerSecond > 0 {
		s.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSecond), max(cfg.Burst, 1))
	}
	return s
}

// Router wires the HTTP routes.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()

	api := r.PathPrefix("/v1").Subrouter()
	api.Handle("/messages", s.rateLimit(http.HandlerFunc(s.handleMessage))).Methods(http.MethodPost, http.MethodOptions)
	api.HandleFunc("/state", s.handleState).Methods(http.MethodGet)
	api.HandleFunc("/events", s.hub.ServeWS).Methods(http.MethodGet)

	r.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	if s.gatherer != nil {
		r.Handle(s.cfg.MetricsPath, promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	}

	r.Use(s.accessLog)
	r.Use(corsMiddleware)
	return r
}

// HTTPServer returns a server for the configured listen address.
func (s *Server) HTTPServer() *http.Server {
	return &http.Server{
		Addr:              s.cfg.Listen,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
}

func (s *Server) handleMessage(w http.ResponseWriter, r *http.Request) {
	var req Request
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody)).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, Response{Status: StatusError, Error: "invalid request body: " + err.Error()})
		return
	}

	resp := s.dispatcher.Handle(r.Context(), req)
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleState(w http.ResponseWriter, _ *http.Request) {
	st := s.dispatcher.ctrl.State()
	if st == nil {
		writeJSON(w, http.StatusNotFound, Response{Status: StatusError, Error: "no run initialized"})
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"running":   s.dispatcher.ctrl.Running(),
		"listeners": s.hub.Clients(),
	})
}

func (s *Server) rateLimit(next http.Handler) http.Handler {
	if s.limiter == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodOptions && !s.limiter.Allow() {
			writeJSON(w, http.StatusTooManyRequests, Response{Status: StatusError, Error: "rate limit exceeded"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.logger.Debug("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Duration("took", time.Since(start)),
		)
	})
}

// corsMiddleware lets the browser extension call the API.
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

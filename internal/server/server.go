package server

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"crowdfund/internal/actions"
	"crowdfund/internal/config"
	"crowdfund/internal/contract"
	"crowdfund/internal/hmacauth"
	"crowdfund/internal/idempotency"
	"crowdfund/internal/reader"
	"crowdfund/internal/session"
	"crowdfund/internal/submitter"
)

// Deps are the campaign components the HTTP surface drives.
type Deps struct {
	Session    *session.Session
	Reader     *reader.Reader
	Actions    *actions.Actions
	Submitter  *submitter.Submitter
	Store      idempotency.Store
	FailureLog *FailureLog
	Metrics    *Metrics
	// Contract is probed by the health endpoint when it implements
	// contract.HealthChecker.
	Contract any
}

type Server struct {
	cfg         *config.AppConfig
	deps        Deps
	log         logrus.FieldLogger
	hmac        *hmacauth.Verifier
	httpServer  *http.Server
	metrics     *Metrics
	now         func() time.Time
	dbHealthFn  func(context.Context) error
	rpcHealthFn func(context.Context) error
}

func NewServer(cfg *config.AppConfig, deps Deps, log logrus.FieldLogger) *Server {
	if deps.Metrics == nil {
		deps.Metrics = NewMetrics()
	}
	if deps.FailureLog == nil {
		deps.FailureLog = NewFailureLog(cfg.Service.FailureLogPath, log)
	}

	s := &Server{
		cfg:     cfg,
		deps:    deps,
		log:     log,
		metrics: deps.Metrics,
		now:     time.Now,
	}
	s.hmac = &hmacauth.Verifier{
		Secret:  cfg.Service.HMACSecret,
		MaxSkew: cfg.Service.HMACClockSkew,
		KeyHeader: headerIdempotencyKey,
		Reject:    s.rejectUnsigned,
	}

	if checker, ok := deps.Store.(interface{ Ping(context.Context) error }); ok {
		s.dbHealthFn = checker.Ping
	}
	if checker, ok := deps.Contract.(contract.HealthChecker); ok {
		s.rpcHealthFn = checker.Ping
	}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware, s.logRequests, middleware.Recoverer)
	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/campaign", s.handleCampaign)
		r.Get("/donors", s.handleDonors)
		r.Get("/health", s.handleHealth)
		r.Handle("/metrics", s.metrics.handler())

		r.Group(func(r chi.Router) {
			r.Use(s.hmac.Middleware)
			r.Post("/donations", s.idempotent(routeDonations, s.donate))
			r.Post("/withdrawals", s.idempotent(routeWithdrawals, s.withdraw))
			r.Post("/refunds", s.idempotent(routeRefunds, s.refund))
			r.Post("/campaigns", s.idempotent(routeCampaigns, s.createCampaign))
		})
	})

	s.httpServer = &http.Server{
		Addr:              ":" + strconv.Itoa(cfg.Service.HTTPPort),
		Handler:           r,
		ReadHeaderTimeout: 15 * time.Second,
	}
	return s
}

// rejectUnsigned answers a submission whose signature failed verification.
func (s *Server) rejectUnsigned(w http.ResponseWriter, r *http.Request, err error) {
	reason := hmacauth.Reason(err)
	s.requestLogger(r).WithError(err).WithField("reason", reason).Warn("request signature rejected")
	s.metrics.incRejected(routeOf(r), reason)
	writeJSON(w, http.StatusUnauthorized, errorResponse{
		Code:        strings.ToUpper(reason),
		Description: err.Error(),
		ID:          uuid.NewString(),
	})
}

func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

func (s *Server) Start() error {
	s.log.WithField("addr", s.httpServer.Addr).Info("API listening")
	return s.httpServer.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) updateFailureLogDepth() int {
	depth := s.deps.FailureLog.Depth()
	s.metrics.setFailureLogDepth(depth)
	return depth
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	overallHealthy := true

	rpcInfo := struct {
		Connected bool    `json:"connected"`
		LatencyMs float64 `json:"latency_ms"`
		Error     string  `json:"error,omitempty"`
	}{Connected: true}

	if s.rpcHealthFn != nil {
		start := time.Now()
		rpcCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		defer cancel()
		if err := s.rpcHealthFn(rpcCtx); err != nil {
			rpcInfo.Connected = false
			rpcInfo.Error = err.Error()
			overallHealthy = false
		} else {
			rpcInfo.LatencyMs = float64(time.Since(start).Microseconds()) / 1000.0
		}
	}

	dbInfo := struct {
		Connected bool   `json:"connected"`
		Error     string `json:"error,omitempty"`
	}{Connected: true}

	if s.dbHealthFn != nil {
		dbCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		defer cancel()
		if err := s.dbHealthFn(dbCtx); err != nil {
			dbInfo.Connected = false
			dbInfo.Error = err.Error()
			overallHealthy = false
		}
	}

	submission := "idle"
	if s.deps.Submitter != nil {
		submission = s.deps.Submitter.State().String()
	}

	status := "healthy"
	if !overallHealthy {
		status = "degraded"
	}

	resp := struct {
		Status          string      `json:"status"`
		Network         string      `json:"network"`
		RPC             interface{} `json:"rpc"`
		Database        interface{} `json:"database"`
		Submission      string      `json:"submission"`
		FailureLogDepth int         `json:"failure_log_depth"`
	}{
		Status:          status,
		Network:         s.cfg.Network.Name,
		RPC:             rpcInfo,
		Database:        dbInfo,
		Submission:      submission,
		FailureLogDepth: s.updateFailureLogDepth(),
	}

	w.Header().Set("Content-Type", "application/json")
	if !overallHealthy {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	_ = json.NewEncoder(w).Encode(resp)
}

type ctxKey int

const requestIDKey ctxKey = iota

const headerRequestID = "X-Request-Id"

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(headerRequestID)
		if id == "" {
			id = uuid.NewString()
			r.Header.Set(headerRequestID, id)
		}
		w.Header().Set(headerRequestID, id)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), requestIDKey, id)))
	})
}

func requestIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey).(string)
	return id
}

func (s *Server) requestLogger(r *http.Request) logrus.FieldLogger {
	return s.log.WithFields(logrus.Fields{
		"request_id": requestIDFromContext(r.Context()),
		"method":     r.Method,
		"path":       r.URL.Path,
	})
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.requestLogger(r).WithFields(logrus.Fields{
			"status":      ww.Status(),
			"duration_ms": time.Since(start).Milliseconds(),
		}).Debug("request served")
	})
}

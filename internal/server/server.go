package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"time"

	"SatLedger/internal/core"
	"SatLedger/internal/event"
	"SatLedger/internal/observability"
	"SatLedger/internal/query"

	"github.com/google/uuid"
	"github.com/grpc-ecosystem/grpc-gateway/v2/runtime"
	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
)

// CoreReader runs read closures against core state.
type CoreReader interface {
	Read(ctx context.Context, name string, fn core.ReadFunc) error
}

// AdminIngester queues manually injected commands.
type AdminIngester interface {
	Inject(ctx context.Context, eventType event.EventType, body []byte) (event.Event, error)
}

// PenaltyQuerier answers reads from the projection tables.
type PenaltyQuerier interface {
	GetAccountPenalties(ctx context.Context, account uuid.UUID, recentClaims int) (*query.AccountPenaltiesResponse, error)
	GetClaimHistory(ctx context.Context, account uuid.UUID, limit int, beforeSequence *int64) ([]query.ClaimResponse, error)
	GetAccrual(ctx context.Context, epochID int64) (*query.AccrualResponse, error)
	ListAccruals(ctx context.Context, limit int, beforeEpoch *int64) ([]query.AccrualResponse, error)
	VerifyIntegrity(ctx context.Context) (*query.IntegrityReport, error)
}

// Deps holds everything the handlers need.
type Deps struct {
	Core          CoreReader
	Ingest        AdminIngester
	Query         PenaltyQuerier
	HealthChecker *observability.HealthChecker
	Metrics       *observability.Metrics
	Log           zerolog.Logger
}

// Server owns the gRPC server (health and reflection) and the HTTP API.
type Server struct {
	deps         Deps
	grpcServer   *grpc.Server
	healthServer *health.Server
	httpServer   *http.Server
	grpcAddr     string
	httpAddr     string
}

func New(grpcAddr, httpAddr string, deps Deps) (*Server, error) {
	grpcServer := grpc.NewServer()

	healthServer := health.NewServer()
	healthpb.RegisterHealthServer(grpcServer, healthServer)
	healthServer.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)

	// Reflection for grpcurl / grpcui
	reflection.Register(grpcServer)

	s := &Server{
		deps:         deps,
		grpcServer:   grpcServer,
		healthServer: healthServer,
		grpcAddr:     grpcAddr,
		httpAddr:     httpAddr,
	}
	handler, err := s.Handler()
	if err != nil {
		return nil, err
	}
	s.httpServer = &http.Server{
		Addr:              httpAddr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s, nil
}

// SetServing flips the gRPC health status once the service is ready.
func (s *Server) SetServing(serving bool) {
	st := healthpb.HealthCheckResponse_NOT_SERVING
	if serving {
		st = healthpb.HealthCheckResponse_SERVING
	}
	s.healthServer.SetServingStatus("", st)
}

// StartGRPC serves gRPC until ctx is cancelled.
func (s *Server) StartGRPC(ctx context.Context) error {
	lis, err := net.Listen("tcp", s.grpcAddr)
	if err != nil {
		return fmt.Errorf("grpc listen: %w", err)
	}

	go func() {
		<-ctx.Done()
		s.deps.Log.Info().Msg("gRPC server shutting down")
		s.healthServer.Shutdown()
		s.grpcServer.GracefulStop()
	}()

	s.deps.Log.Info().Str("addr", s.grpcAddr).Msg("gRPC server listening")
	return s.grpcServer.Serve(lis)
}

// StartHTTP serves the HTTP API until ctx is cancelled.
func (s *Server) StartHTTP(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		s.deps.Log.Info().Msg("HTTP server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.httpServer.Shutdown(shutdownCtx)
	}()

	s.deps.Log.Info().Str("addr", s.httpAddr).Msg("HTTP server listening")
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Handler builds the HTTP API: the gateway mux with the API routes, plus
// the health endpoints.
func (s *Server) Handler() (http.Handler, error) {
	mux := runtime.NewServeMux()

	routes := []struct {
		method, pattern, name string
		h                     handlerFunc
	}{
		{"POST", "/v1/admin/positions", "admin_positions", s.inject(event.EventTypePositionUpdate)},
		{"POST", "/v1/admin/accruals", "admin_accruals", s.inject(event.EventTypePenaltyAccrual)},
		{"POST", "/v1/admin/claims", "admin_claims", s.inject(event.EventTypePenaltyClaim)},
		{"GET", "/v1/admin/integrity", "integrity", s.integrity},
		{"GET", "/v1/accounts/{account}/penalties", "account_penalties", s.accountPenalties},
		{"GET", "/v1/accounts/{account}/claims", "account_claims", s.accountClaims},
		{"GET", "/v1/accruals", "accruals", s.listAccruals},
		{"GET", "/v1/accruals/{epoch}", "accrual", s.accrual},
		{"POST", "/v1/premium", "premium", s.premium},
		{"POST", "/v1/saturation-ratio", "saturation_ratio", s.saturationRatio},
		{"GET", "/v1/trees", "trees", s.trees},
		{"GET", "/v1/trees/{tree}/accounts/{account}", "tree_account", s.treeAccount},
	}
	for _, rt := range routes {
		if err := mux.HandlePath(rt.method, rt.pattern, s.instrument(rt.name, rt.h)); err != nil {
			return nil, fmt.Errorf("register %s %s: %w", rt.method, rt.pattern, err)
		}
	}

	httpMux := http.NewServeMux()
	if hc := s.deps.HealthChecker; hc != nil {
		httpMux.HandleFunc("/healthz", hc.LivenessHandler)
		httpMux.HandleFunc("/readyz", hc.ReadinessHandler)
	} else {
		httpMux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
		})
	}
	httpMux.Handle("/", mux)
	return httpMux, nil
}

// handlerFunc returns the status and body to write, or an error.
type handlerFunc func(r *http.Request, params map[string]string) (int, interface{}, error)

func (s *Server) instrument(name string, h handlerFunc) runtime.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request, params map[string]string) {
		start := time.Now()
		code, body, err := h(r, params)
		if err != nil {
			var errType string
			code, errType = classify(err)
			if code >= http.StatusInternalServerError {
				s.deps.Log.Error().Err(err).Str("endpoint", name).Msg("request failed")
			}
			if s.deps.Metrics != nil {
				s.deps.Metrics.QueryErrors.WithLabelValues(name, errType).Inc()
			}
			body = map[string]string{"error": err.Error()}
		}
		writeJSON(w, code, body)
		if s.deps.Metrics != nil {
			s.deps.Metrics.QueryRequests.WithLabelValues(name, fmt.Sprint(code)).Inc()
			s.deps.Metrics.QueryDuration.WithLabelValues(name).Observe(time.Since(start).Seconds())
		}
	}
}

func writeJSON(w http.ResponseWriter, code int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(body)
}

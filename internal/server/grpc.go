package server

import (
	"PerpFunding/internal/observability"
	"PerpFunding/internal/persistence"
	"PerpFunding/internal/projection"
	"PerpFunding/internal/query"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"net"
	"net/http"
	"strconv"
	"time"

	googleuuid "github.com/google/uuid"
	"github.com/grpc-ecosystem/grpc-gateway/v2/runtime"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
)

// GRPCServer wraps the gRPC server and the HTTP/JSON mux.
// The read API is served as plain HTTP/JSON on a gRPC-Gateway mux; the gRPC
// side carries health checks and reflection so standard tooling (grpcurl,
// Kubernetes probes) works against the service.
type GRPCServer struct {
	grpcServer    *grpc.Server
	httpServer    *http.Server
	grpcAddr      string
	httpAddr      string
	deps          *ServerDeps
	healthServer  *health.Server
	healthChecker *observability.HealthChecker
}

// ServerDeps holds all dependencies needed by the API handlers.
type ServerDeps struct {
	DB            *sql.DB
	QueryService  *query.QueryService
	SnapshotMgr   *persistence.SnapshotManager
	StartTime     time.Time
	HealthChecker *observability.HealthChecker
}

// NewGRPCServer creates a new gRPC server with health and reflection.
func NewGRPCServer(grpcAddr, httpAddr string, deps *ServerDeps) *GRPCServer {
	grpcServer := grpc.NewServer()

	healthServer := health.NewServer()
	healthpb.RegisterHealthServer(grpcServer, healthServer)
	healthServer.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)

	// Reflection for grpcurl / grpcui
	reflection.Register(grpcServer)

	return &GRPCServer{
		grpcServer:    grpcServer,
		grpcAddr:      grpcAddr,
		httpAddr:      httpAddr,
		deps:          deps,
		healthServer:  healthServer,
		healthChecker: deps.HealthChecker,
	}
}

// SetServing flips the gRPC health status.
func (s *GRPCServer) SetServing(serving bool) {
	if serving {
		s.healthServer.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	} else {
		s.healthServer.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
	}
}

// StartGRPC starts the gRPC server (blocking).
func (s *GRPCServer) StartGRPC(ctx context.Context) error {
	lis, err := net.Listen("tcp", s.grpcAddr)
	if err != nil {
		return fmt.Errorf("grpc listen: %w", err)
	}

	go func() {
		<-ctx.Done()
		log.Println("INFO: gRPC server shutting down...")
		s.grpcServer.GracefulStop()
	}()

	log.Printf("INFO: gRPC server listening on %s", s.grpcAddr)
	return s.grpcServer.Serve(lis)
}

// StartHTTP starts the HTTP/JSON API (blocking). Routes are registered on a
// gRPC-Gateway ServeMux so path parameters follow the gateway conventions.
func (s *GRPCServer) StartHTTP(ctx context.Context) error {
	mux := runtime.NewServeMux()

	routes := []struct {
		method  string
		pattern string
		handler runtime.HandlerFunc
	}{
		{"GET", "/v1/users/{user_id}/balances/{asset}", s.handleGetBalance},
		{"GET", "/v1/users/{user_id}/positions", s.handleGetPositions},
		{"GET", "/v1/users/{user_id}/margin", s.handleGetMargin},
		{"GET", "/v1/users/{user_id}/funding", s.handleGetFundingHistory},
		{"GET", "/v1/users/{user_id}/journals", s.handleGetJournals},
		{"GET", "/v1/markets/{market_id}/funding", s.handleGetFundingState},
		{"GET", "/v1/markets/{market_id}/funding/epochs", s.handleGetFundingEpochs},
		{"GET", "/v1/admin/integrity", s.handleVerifyIntegrity},
		{"GET", "/v1/admin/eventlog", s.handleEventLogInfo},
		{"POST", "/v1/admin/projections/rebuild", s.handleRebuildProjections},
	}

	for _, r := range routes {
		if err := mux.HandlePath(r.method, r.pattern, r.handler); err != nil {
			return fmt.Errorf("register %s %s: %w", r.method, r.pattern, err)
		}
	}

	httpMux := http.NewServeMux()
	if s.healthChecker != nil {
		httpMux.HandleFunc("/healthz", s.healthChecker.LivenessHandler)
		httpMux.HandleFunc("/readyz", s.healthChecker.ReadinessHandler)
	} else {
		httpMux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusOK)
			fmt.Fprintf(w, `{"status":"ok"}`)
		})
	}
	httpMux.Handle("/", mux)

	s.httpServer = &http.Server{
		Addr:    s.httpAddr,
		Handler: httpMux,
	}

	go func() {
		<-ctx.Done()
		log.Println("INFO: HTTP server shutting down...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.httpServer.Shutdown(shutdownCtx)
	}()

	log.Printf("INFO: HTTP API listening on %s", s.httpAddr)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// ============================================================================
// Query handlers
// ============================================================================

func (s *GRPCServer) handleGetBalance(w http.ResponseWriter, r *http.Request, pathParams map[string]string) {
	userID, err := googleuuid.Parse(pathParams["user_id"])
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid user_id: %v", err))
		return
	}

	bal, err := s.deps.QueryService.GetBalance(r.Context(), userID, pathParams["asset"])
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	writeJSON(w, bal)
}

func (s *GRPCServer) handleGetPositions(w http.ResponseWriter, r *http.Request, pathParams map[string]string) {
	userID, err := googleuuid.Parse(pathParams["user_id"])
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid user_id: %v", err))
		return
	}

	positions, err := s.deps.QueryService.GetPositions(r.Context(), userID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, map[string]interface{}{"positions": positions})
}

func (s *GRPCServer) handleGetMargin(w http.ResponseWriter, r *http.Request, pathParams map[string]string) {
	userID, err := googleuuid.Parse(pathParams["user_id"])
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid user_id: %v", err))
		return
	}

	info, err := s.deps.QueryService.GetMarginSnapshot(r.Context(), userID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, info)
}

func (s *GRPCServer) handleGetFundingState(w http.ResponseWriter, r *http.Request, pathParams map[string]string) {
	marketID := pathParams["market_id"]

	var epochID int64
	if v := r.URL.Query().Get("epoch_id"); v != "" {
		parsed, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid epoch_id")
			return
		}
		epochID = parsed
	}

	state, err := s.deps.QueryService.GetFundingState(r.Context(), marketID, epochID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, state)
}

func (s *GRPCServer) handleGetFundingEpochs(w http.ResponseWriter, r *http.Request, pathParams map[string]string) {
	marketID := pathParams["market_id"]
	limit := parseLimit(r, 50, 200)

	var beforeEpoch *int64
	if v := r.URL.Query().Get("before_epoch"); v != "" {
		parsed, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid before_epoch")
			return
		}
		beforeEpoch = &parsed
	}

	epochs, err := s.deps.QueryService.GetFundingEpochs(r.Context(), marketID, limit, beforeEpoch)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, map[string]interface{}{"epochs": epochs})
}

func (s *GRPCServer) handleGetFundingHistory(w http.ResponseWriter, r *http.Request, pathParams map[string]string) {
	userID, err := googleuuid.Parse(pathParams["user_id"])
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid user_id: %v", err))
		return
	}

	limit := parseLimit(r, 50, 100)

	var marketID *string
	if v := r.URL.Query().Get("market_id"); v != "" {
		marketID = &v
	}

	var beforeSeq *int64
	if v := r.URL.Query().Get("before_sequence"); v != "" {
		parsed, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid before_sequence")
			return
		}
		beforeSeq = &parsed
	}

	history, err := s.deps.QueryService.GetFundingHistory(r.Context(), userID, marketID, limit, beforeSeq)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, map[string]interface{}{"payments": history})
}

func (s *GRPCServer) handleGetJournals(w http.ResponseWriter, r *http.Request, pathParams map[string]string) {
	userID, err := googleuuid.Parse(pathParams["user_id"])
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid user_id: %v", err))
		return
	}

	limit := parseLimit(r, 100, 500)

	var afterSeq *int64
	if v := r.URL.Query().Get("before_sequence"); v != "" {
		parsed, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid before_sequence")
			return
		}
		afterSeq = &parsed
	}

	entries, err := s.deps.QueryService.GetJournalHistory(r.Context(), userID, limit, afterSeq)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, map[string]interface{}{"journals": entries})
}

// ============================================================================
// Admin handlers
// ============================================================================

func (s *GRPCServer) handleVerifyIntegrity(w http.ResponseWriter, r *http.Request, pathParams map[string]string) {
	report, err := s.deps.QueryService.VerifyIntegrity(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, report)
}

func (s *GRPCServer) handleEventLogInfo(w http.ResponseWriter, r *http.Request, pathParams map[string]string) {
	latestSeq, err := s.deps.SnapshotMgr.GetLatestSequence(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, map[string]interface{}{
		"last_sequence": latestSeq,
		"uptime":        time.Since(s.deps.StartTime).String(),
	})
}

func (s *GRPCServer) handleRebuildProjections(w http.ResponseWriter, r *http.Request, pathParams map[string]string) {
	if err := projection.RebuildProjections(r.Context(), s.deps.DB); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, map[string]interface{}{"rebuilt": true})
}

// ============================================================================
// Helpers
// ============================================================================

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("WARN: write response: %v", err)
	}
}

func writeError(w http.ResponseWriter, code int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

func parseLimit(r *http.Request, def, max int) int {
	v := r.URL.Query().Get("limit")
	if v == "" {
		return def
	}
	parsed, err := strconv.Atoi(v)
	if err != nil || parsed <= 0 || parsed > max {
		return def
	}
	return parsed
}

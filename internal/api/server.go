package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/sirupsen/logrus"

	"github.com/1inch/fusion-escrow/internal/config"
	"github.com/1inch/fusion-escrow/internal/escrow"
)

var log = logrus.WithField("subsystem", "api")

// Server is the HTTP façade over EscrowService: POST /escrows/source,
// POST /escrows/destination, POST /escrows/{addr}/{withdraw,public-withdraw,
// cancel,public-cancel,rescue}, GET /escrows/{addr}, GET /health. Grounded
// on the teacher's internal/api/server.go: stdlib net/http + ServeMux,
// manual JSON encode/decode, manual CORS headers, no web framework.
type Server struct {
	server  *http.Server
	config  config.API
	service EscrowService
	mux     *http.ServeMux
}

// NewServer creates a new API server.
func NewServer(cfg config.API, service EscrowService) *Server {
	mux := http.NewServeMux()

	s := &Server{
		config:  cfg,
		service: service,
		mux:     mux,
		server: &http.Server{
			Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
			Handler:      mux,
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
		},
	}

	s.setupRoutes()
	return s
}

// Start starts the HTTP server and blocks until ctx is cancelled or the
// server fails, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	log.WithField("addr", s.server.Addr).Info("starting API server")

	errCh := make(chan error, 1)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		log.Info("shutting down API server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.config.ShutdownTimeout)
		defer cancel()
		return s.server.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

func (s *Server) setupRoutes() {
	s.mux.HandleFunc("/", s.corsMiddleware(s.notFoundHandler))
	s.mux.HandleFunc("/health", s.corsMiddleware(s.healthHandler))
	s.mux.HandleFunc("/escrows/source", s.corsMiddleware(s.createSourceHandler))
	s.mux.HandleFunc("/escrows/destination", s.corsMiddleware(s.createDestinationHandler))
	s.mux.HandleFunc("/escrows/", s.corsMiddleware(s.escrowDetailHandler))
}

func (s *Server) corsMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next(w, r)
	}
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.methodNotAllowed(w)
		return
	}

	response := map[string]interface{}{
		"status":    "healthy",
		"timestamp": time.Now().Unix(),
		"service":   "fusion-escrow",
	}
	s.writeJSONResponse(w, http.StatusOK, response)
}

func (s *Server) createSourceHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.methodNotAllowed(w)
		return
	}

	var req createSourceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeErrorResponse(w, http.StatusBadRequest, "invalid JSON", err)
		return
	}

	params, err := req.toParams(uint32(time.Now().Unix()))
	if err != nil {
		s.writeErrorResponse(w, http.StatusBadRequest, "invalid timelocks", err)
		return
	}

	addr, err := s.service.CreateSource(params)
	if err != nil {
		s.writeEscrowError(w, "failed to create source escrow", err)
		return
	}

	log.WithFields(logrus.Fields{"escrow_addr": addr, "order_hash": req.OrderHash}).Info("source escrow created")
	s.writeJSONResponse(w, http.StatusCreated, map[string]common.Hash{"address": addr})
}

func (s *Server) createDestinationHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.methodNotAllowed(w)
		return
	}

	var req createDestinationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeErrorResponse(w, http.StatusBadRequest, "invalid JSON", err)
		return
	}

	params, err := req.toParams(uint32(time.Now().Unix()))
	if err != nil {
		s.writeErrorResponse(w, http.StatusBadRequest, "invalid timelocks", err)
		return
	}

	addr, err := s.service.CreateDestination(params)
	if err != nil {
		s.writeEscrowError(w, "failed to create destination escrow", err)
		return
	}

	log.WithFields(logrus.Fields{"escrow_addr": addr, "order_hash": req.Immutables.OrderHash}).Info("destination escrow created")
	s.writeJSONResponse(w, http.StatusCreated, map[string]common.Hash{"address": addr})
}

// escrowDetailHandler routes GET /escrows/{addr} and POST
// /escrows/{addr}/{action}.
func (s *Server) escrowDetailHandler(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/escrows/")
	parts := strings.Split(path, "/")
	if len(parts) == 0 || parts[0] == "" {
		s.writeErrorResponse(w, http.StatusBadRequest, "escrow address required", nil)
		return
	}

	addr := common.HexToHash(parts[0])

	if len(parts) == 1 {
		if r.Method != http.MethodGet {
			s.methodNotAllowed(w)
			return
		}
		s.handleGetEscrow(w, addr)
		return
	}

	if r.Method != http.MethodPost {
		s.methodNotAllowed(w)
		return
	}

	switch parts[1] {
	case "withdraw":
		s.handleWithdraw(w, r, addr, s.service.Withdraw)
	case "public-withdraw":
		s.handleWithdraw(w, r, addr, s.service.PublicWithdraw)
	case "cancel":
		s.handleCancel(w, r, addr, s.service.Cancel)
	case "public-cancel":
		s.handleCancel(w, r, addr, s.service.PublicCancel)
	case "rescue":
		s.handleRescue(w, r, addr)
	default:
		s.writeErrorResponse(w, http.StatusNotFound, "unknown escrow action", nil)
	}
}

func (s *Server) handleGetEscrow(w http.ResponseWriter, addr common.Hash) {
	inst, ok := s.service.Get(addr)
	if !ok {
		s.writeErrorResponse(w, http.StatusNotFound, "escrow not found", nil)
		return
	}
	s.writeJSONResponse(w, http.StatusOK, newEscrowView(inst))
}

type withdrawFunc func(addr common.Hash, caller common.Address, secret []byte, im escrow.Immutables, recipient common.Address) error

func (s *Server) handleWithdraw(w http.ResponseWriter, r *http.Request, addr common.Hash, do withdrawFunc) {
	var req settlementRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeErrorResponse(w, http.StatusBadRequest, "invalid JSON", err)
		return
	}

	im, err := req.toImmutables()
	if err != nil {
		s.writeErrorResponse(w, http.StatusBadRequest, "invalid timelocks", err)
		return
	}

	if err := do(addr, req.Caller, req.Secret, im, req.Recipient); err != nil {
		s.writeEscrowError(w, "withdraw failed", err)
		return
	}

	log.WithFields(logrus.Fields{"escrow_addr": addr, "caller": req.Caller}).Info("escrow withdrawn")
	s.writeJSONResponse(w, http.StatusOK, map[string]string{"status": "withdrawn"})
}

type cancelFunc func(addr common.Hash, caller common.Address, im escrow.Immutables) error

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request, addr common.Hash, do cancelFunc) {
	var req settlementRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeErrorResponse(w, http.StatusBadRequest, "invalid JSON", err)
		return
	}

	im, err := req.toImmutables()
	if err != nil {
		s.writeErrorResponse(w, http.StatusBadRequest, "invalid timelocks", err)
		return
	}

	if err := do(addr, req.Caller, im); err != nil {
		s.writeEscrowError(w, "cancel failed", err)
		return
	}

	log.WithFields(logrus.Fields{"escrow_addr": addr, "caller": req.Caller}).Info("escrow cancelled")
	s.writeJSONResponse(w, http.StatusOK, map[string]string{"status": "cancelled"})
}

func (s *Server) handleRescue(w http.ResponseWriter, r *http.Request, addr common.Hash) {
	var req settlementRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeErrorResponse(w, http.StatusBadRequest, "invalid JSON", err)
		return
	}

	im, err := req.toImmutables()
	if err != nil {
		s.writeErrorResponse(w, http.StatusBadRequest, "invalid timelocks", err)
		return
	}

	if err := s.service.Rescue(addr, req.Caller, req.TokenID, req.Amount, im); err != nil {
		s.writeEscrowError(w, "rescue failed", err)
		return
	}

	log.WithFields(logrus.Fields{"escrow_addr": addr, "caller": req.Caller}).Info("escrow rescued")
	s.writeJSONResponse(w, http.StatusOK, map[string]string{"status": "rescued"})
}

func (s *Server) notFoundHandler(w http.ResponseWriter, r *http.Request) {
	s.writeErrorResponse(w, http.StatusNotFound, "endpoint not found", nil)
}

func (s *Server) methodNotAllowed(w http.ResponseWriter) {
	s.writeErrorResponse(w, http.StatusMethodNotAllowed, "method not allowed", nil)
}

// writeEscrowError maps a *escrow.Error's Kind to the matching HTTP status,
// falling back to 500 for anything unrecognized.
func (s *Server) writeEscrowError(w http.ResponseWriter, message string, err error) {
	status := http.StatusInternalServerError
	switch {
	case escrow.Is(err, escrow.KindNotFound):
		status = http.StatusNotFound
	case escrow.Is(err, escrow.KindUnauthorized):
		status = http.StatusForbidden
	case escrow.Is(err, escrow.KindInvalidSecret),
		escrow.Is(err, escrow.KindInvalidSecretIndex),
		escrow.Is(err, escrow.KindImmutablesMismatch),
		escrow.Is(err, escrow.KindStageWindow),
		escrow.Is(err, escrow.KindAlreadySettled),
		escrow.Is(err, escrow.KindInsufficientBalance),
		escrow.Is(err, escrow.KindInvalidConfiguration),
		escrow.Is(err, escrow.KindInvalidCreationTime),
		escrow.Is(err, escrow.KindInvalidTimelock):
		status = http.StatusBadRequest
	}
	s.writeErrorResponse(w, status, message, err)
}

func (s *Server) writeJSONResponse(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.WithError(err).Error("failed to encode JSON response")
	}
}

func (s *Server) writeErrorResponse(w http.ResponseWriter, statusCode int, message string, err error) {
	response := map[string]interface{}{
		"error":     message,
		"status":    statusCode,
		"timestamp": time.Now().Unix(),
	}

	if err != nil {
		log.WithError(err).Warn(message)
		response["details"] = err.Error()
	}

	s.writeJSONResponse(w, statusCode, response)
}

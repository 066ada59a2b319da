package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"vaultchain/core/state"
	"vaultchain/native/loan"
	"vaultchain/observability"
	"vaultchain/observability/logging"
)

const (
	jsonRPCVersion  = "2.0"
	maxRequestBytes = 1 << 20 // 1 MiB
)

const (
	codeParseError     = -32700
	codeInvalidRequest = -32600
	codeMethodNotFound = -32601
	codeInvalidParams  = -32602
	codeServerError    = -32000
	codeRejected       = -32010
	codeRateLimited    = -32020
)

// Backend is the ledger the query API reads from.
type Backend interface {
	Height() uint64
	Query(fn func(engine *loan.Engine, mgr *state.Manager) error) error
}

// ServerConfig tunes the HTTP surface.
type ServerConfig struct {
	RequestsPerMinute float64
	Burst             int
	ReadHeaderTimeout time.Duration
}

type Server struct {
	backend Backend
	logger  *slog.Logger
	cfg     ServerConfig
	limiter *RateLimiter
	metrics interface {
		Observe(method string, status int, duration time.Duration)
		RecordThrottle()
	}

	serverMu   sync.Mutex
	httpServer *http.Server
}

func NewServer(backend Backend, logger *slog.Logger, cfg ServerConfig) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.ReadHeaderTimeout <= 0 {
		cfg.ReadHeaderTimeout = 5 * time.Second
	}
	s := &Server{
		backend: backend,
		logger:  logger,
		cfg:     cfg,
		metrics: observability.RPCMetrics(),
	}
	if cfg.RequestsPerMinute > 0 {
		s.limiter = NewRateLimiter(RateLimit{RequestsPerMinute: cfg.RequestsPerMinute, Burst: cfg.Burst})
	}
	return s
}

// Handler returns the router serving JSON-RPC on "/" alongside the health
// and metrics endpoints.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.Recoverer)
	r.Use(requestID)
	r.Get("/healthz", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())
	r.Group(func(r chi.Router) {
		if s.limiter != nil {
			r.Use(s.limiter.Middleware(s.onThrottle))
		}
		r.Post("/", s.handle)
	})
	return r
}

// Serve accepts connections on listener until Shutdown is called.
func (s *Server) Serve(listener net.Listener) error {
	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: s.cfg.ReadHeaderTimeout,
	}
	s.serverMu.Lock()
	s.httpServer = srv
	s.serverMu.Unlock()
	s.logger.Info("query API listening", slog.String("addr", listener.Addr().String()))
	return srv.Serve(listener)
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.serverMu.Lock()
	srv := s.httpServer
	s.serverMu.Unlock()
	if srv == nil {
		return nil
	}
	return srv.Shutdown(ctx)
}

type RPCRequest struct {
	JSONRPC string            `json:"jsonrpc"`
	Method  string            `json:"method"`
	Params  []json.RawMessage `json:"params"`
	ID      interface{}       `json:"id"`
}

type RPCResponse struct {
	JSONRPC string      `json:"jsonrpc"`
	ID      interface{} `json:"id"`
	Result  interface{} `json:"result,omitempty"`
	Error   *RPCError   `json:"error,omitempty"`
}

type RPCError struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

func writeError(w http.ResponseWriter, status int, id interface{}, code int, message string, data interface{}) {
	if status <= 0 {
		status = http.StatusBadRequest
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	errObj := &RPCError{Code: code, Message: message}
	if data != nil {
		errObj.Data = data
	}
	_ = json.NewEncoder(w).Encode(RPCResponse{JSONRPC: jsonRPCVersion, ID: id, Error: errObj})
}

func writeResult(w http.ResponseWriter, id interface{}, result interface{}) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(RPCResponse{JSONRPC: jsonRPCVersion, ID: id, Result: result})
}

// writeQueryError maps a ledger error onto a JSON-RPC error. Rejections are
// caller errors, everything else is reported as a server fault.
func (s *Server) writeQueryError(w http.ResponseWriter, req *RPCRequest, err error) {
	var loanErr *loan.Error
	if errors.As(err, &loanErr) {
		writeError(w, http.StatusBadRequest, req.ID, codeRejected, loanErr.Message, map[string]string{
			"code": loanErr.Code,
			"kind": loanErr.Kind.String(),
		})
		return
	}
	s.logger.Error("query failed", slog.String("method", req.Method), slog.Any("error", err))
	writeError(w, http.StatusInternalServerError, req.ID, codeServerError, "internal error", nil)
}

type handlerFunc func(s *Server, w http.ResponseWriter, req *RPCRequest)

var methods = map[string]handlerFunc{
	"getblockcount":   (*Server).handleBlockCount,
	"getvault":        (*Server).handleGetVault,
	"listvaults":      (*Server).handleListVaults,
	"estimatevault":   (*Server).handleEstimateVault,
	"getinterest":     (*Server).handleGetInterest,
	"listloanschemes": (*Server).handleListLoanSchemes,
	"getloanscheme":   (*Server).handleGetLoanScheme,
	"getburninfo":     (*Server).handleGetBurnInfo,
	"getaccount":      (*Server).handleGetAccount,
	"listprices":      (*Server).handleListPrices,
	"listtokens":      (*Server).handleListTokens,
}

// handle decodes a JSON-RPC request and routes it to its handler.
func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	reader := http.MaxBytesReader(w, r.Body, maxRequestBytes)
	defer func() {
		_ = reader.Close()
	}()

	body, err := io.ReadAll(reader)
	if err != nil {
		message := "failed to read request body"
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			message = fmt.Sprintf("request body exceeds %d bytes", maxRequestBytes)
		}
		writeError(w, http.StatusBadRequest, nil, codeInvalidRequest, message, nil)
		return
	}
	var req RPCRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeError(w, http.StatusBadRequest, nil, codeParseError, "failed to parse request", err.Error())
		return
	}
	method := strings.ToLower(strings.TrimSpace(req.Method))
	handler, ok := methods[method]
	if !ok {
		writeError(w, http.StatusNotFound, req.ID, codeMethodNotFound, fmt.Sprintf("unknown method: %s", req.Method), nil)
		s.metrics.Observe("unknown", http.StatusNotFound, time.Since(start))
		return
	}
	if s.backend == nil {
		writeError(w, http.StatusServiceUnavailable, req.ID, codeServerError, "ledger unavailable", nil)
		return
	}
	recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
	handler(s, recorder, &req)
	elapsed := time.Since(start)
	s.metrics.Observe(method, recorder.status, elapsed)
	s.logger.Debug("rpc call",
		slog.String("method", method),
		slog.Int("status", recorder.status),
		slog.String("request_id", RequestIDFromContext(r.Context())),
		slog.Duration("elapsed", elapsed))
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	var height uint64
	if s.backend != nil {
		height = s.backend.Height()
	}
	_ = json.NewEncoder(w).Encode(map[string]interface{}{"status": "ok", "height": height})
}

func (s *Server) onThrottle(r *http.Request) {
	s.metrics.RecordThrottle()
	s.logger.Warn("rpc request throttled",
		logging.MaskField("client", clientID(r)),
		slog.String("request_id", RequestIDFromContext(r.Context())))
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

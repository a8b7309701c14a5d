package main

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"bmpow/logger"
	"bmpow/pow"
)

const (
	redirectReadTimeout  = 5 * time.Second
	redirectWriteTimeout = 5 * time.Second
	redirectIdleTimeout  = 30 * time.Second
)

// APIServer exposes the proof-of-work engine over HTTP.
//
// Endpoints:
//   - POST /api/search  — synchronous search, blocks until a terminal outcome
//   - POST /api/jobs    — submit an asynchronous job
//   - GET  /api/jobs    — job status/result by id
//   - POST /api/verify  — verify a nonce against a target and digest
//   - GET  /api/stats   — pool statistics
//   - GET  /ws          — WebSocket feed of finished jobs
//
// All /api endpoints require Bearer token authentication. The server
// supports TLS with an optional HTTP-to-HTTPS redirect listener and shuts
// down gracefully via Shutdown.
type APIServer struct {
	pool      *JobPool
	hub       *Hub
	log       *slog.Logger
	authToken string
	useTLS    bool
	certFile  string
	keyFile   string

	readTimeout  time.Duration
	writeTimeout time.Duration
	idleTimeout  time.Duration

	ctx            context.Context
	cancel         context.CancelFunc
	server         *http.Server
	redirectServer *http.Server
}

// NewAPIServer wires the job pool and WebSocket hub into an HTTP server.
// The derived context is cancelled when the parent is cancelled or Shutdown
// is called.
func NewAPIServer(ctx context.Context, pool *JobPool, hub *Hub, log *slog.Logger, authToken string, cfg serverOptions) *APIServer {
	serverCtx, cancel := context.WithCancel(ctx)

	return &APIServer{
		pool:         pool,
		hub:          hub,
		log:          log,
		authToken:    authToken,
		useTLS:       cfg.useTLS,
		certFile:     cfg.certFile,
		keyFile:      cfg.keyFile,
		readTimeout:  cfg.readTimeout,
		writeTimeout: cfg.writeTimeout,
		idleTimeout:  cfg.idleTimeout,
		ctx:          serverCtx,
		cancel:       cancel,
	}
}

// serverOptions collects the HTTP-level knobs from the loaded configuration.
type serverOptions struct {
	useTLS       bool
	certFile     string
	keyFile      string
	readTimeout  time.Duration
	writeTimeout time.Duration
	idleTimeout  time.Duration
}

// searchRequest is the body of POST /api/search and POST /api/jobs.
// initial_hash is hex-encoded; target and max_nonce are exact uint64
// decimals. max_nonce 0 selects the configured bound, workers 0 the
// configured default pool size.
type searchRequest struct {
	Target      uint64 `json:"target"`
	InitialHash string `json:"initial_hash"`
	Workers     int    `json:"workers"`
	MaxNonce    uint64 `json:"max_nonce"`
}

type searchResponse struct {
	Status    int    `json:"status"`
	Nonce     uint64 `json:"nonce"`
	Hashes    uint64 `json:"hashes"`
	ElapsedMS int64  `json:"elapsed_ms"`
}

type verifyRequest struct {
	Nonce       uint64 `json:"nonce"`
	Target      uint64 `json:"target"`
	InitialHash string `json:"initial_hash"`
}

type verifyResponse struct {
	Valid bool `json:"valid"`
}

type errorResponse struct {
	Status int    `json:"status"`
	Error  string `json:"error"`
}

func (api *APIServer) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		api.log.Error("failed to encode JSON response", "error", err)
	}
}

// writeError maps an engine error onto the HTTP layer: the body always
// carries the pow status code, the HTTP status distinguishes caller mistakes
// from engine outcomes.
func (api *APIServer) writeError(w http.ResponseWriter, err error) {
	status := pow.StatusOf(err)
	httpStatus := http.StatusInternalServerError
	switch status {
	case pow.StatusBadInput:
		httpStatus = http.StatusBadRequest
	case pow.StatusOverflow:
		httpStatus = http.StatusUnprocessableEntity
	}
	api.writeJSON(w, httpStatus, errorResponse{Status: status, Error: err.Error()})
}

// sendGenericErrorPage answers failed authentication with a bland 503 page
// that reveals nothing about the service behind it.
func (api *APIServer) sendGenericErrorPage(w http.ResponseWriter) {
	const html = `<!DOCTYPE html>
<html>
<head><meta charset="UTF-8"><title>Service Error</title></head>
<body>
<h1>Service Unavailable</h1>
<p>We apologize for the inconvenience. The service is not functioning correctly at this time.</p>
<p>Please try again later.</p>
</body>
</html>`
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusServiceUnavailable)
	if _, err := w.Write([]byte(html)); err != nil {
		api.log.Error("failed to write error page", "error", err)
	}
}

// authMiddleware enforces the Bearer token on protected endpoints.
func (api *APIServer) authMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer "+api.authToken {
			api.sendGenericErrorPage(w)
			return
		}
		next(w, r)
	}
}

func decodeHash(s string) ([]byte, error) {
	hash, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("%w: initial_hash is not valid hex: %v", pow.ErrBadInput, err)
	}
	return hash, nil
}

// handleSearch runs a blocking search on behalf of the caller.
func (api *APIServer) handleSearch(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req searchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.writeError(w, fmt.Errorf("%w: %v", pow.ErrBadInput, err))
		return
	}

	hash, err := decodeHash(req.InitialHash)
	if err != nil {
		api.writeError(w, err)
		return
	}

	workers, err := api.pool.resolveWorkers(req.Workers)
	if err != nil {
		api.writeError(w, err)
		return
	}

	logger.FromContext(r.Context()).Debug("synchronous search",
		"target", req.Target,
		"workers", workers)

	res, err := pow.SearchDetailed(workers, req.Target, hash, api.pool.resolveMaxNonce(req.MaxNonce), nil)
	api.pool.AddHashes(res.Hashes)
	if err != nil {
		api.writeError(w, err)
		return
	}

	api.writeJSON(w, http.StatusOK, searchResponse{
		Status:    pow.StatusOK,
		Nonce:     res.Nonce,
		Hashes:    res.Hashes,
		ElapsedMS: res.Elapsed.Milliseconds(),
	})
}

// handleJobs submits asynchronous jobs (POST) and reports job status (GET).
func (api *APIServer) handleJobs(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		api.handleSubmitJob(w, r)
	case http.MethodGet:
		api.handleJobStatus(w, r)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (api *APIServer) handleSubmitJob(w http.ResponseWriter, r *http.Request) {
	var req searchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.writeError(w, fmt.Errorf("%w: %v", pow.ErrBadInput, err))
		return
	}

	hash, err := decodeHash(req.InitialHash)
	if err != nil {
		api.writeError(w, err)
		return
	}

	view, err := api.pool.Submit(api.ctx, req.Target, hash, req.Workers, req.MaxNonce)
	if err != nil {
		api.writeError(w, err)
		return
	}

	api.writeJSON(w, http.StatusAccepted, view)
}

func (api *APIServer) handleJobStatus(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("id")
	if id == "" {
		api.writeError(w, fmt.Errorf("%w: missing id parameter", pow.ErrBadInput))
		return
	}

	view, ok := api.pool.Get(id)
	if !ok {
		api.writeJSON(w, http.StatusNotFound, errorResponse{
			Status: pow.StatusBadInput,
			Error:  "unknown job id",
		})
		return
	}

	api.writeJSON(w, http.StatusOK, view)
}

func (api *APIServer) handleVerify(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req verifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.writeError(w, fmt.Errorf("%w: %v", pow.ErrBadInput, err))
		return
	}

	hash, err := decodeHash(req.InitialHash)
	if err != nil {
		api.writeError(w, err)
		return
	}

	api.writeJSON(w, http.StatusOK, verifyResponse{
		Valid: pow.Verify(req.Nonce, req.Target, hash),
	})
}

func (api *APIServer) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	api.writeJSON(w, http.StatusOK, api.pool.Stats())
}

// handleIndex serves a minimal public status page.
func (api *APIServer) handleIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	fmt.Fprintln(w, "bmpow proof-of-work service")
}

// routes builds the handler tree with authentication applied to every /api
// endpoint. The WebSocket feed carries only job snapshots and needs no auth.
func (api *APIServer) routes() *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("/api/search", api.authMiddleware(api.handleSearch))
	mux.HandleFunc("/api/jobs", api.authMiddleware(api.handleJobs))
	mux.HandleFunc("/api/verify", api.authMiddleware(api.handleVerify))
	mux.HandleFunc("/api/stats", api.authMiddleware(api.handleStats))

	mux.HandleFunc("/ws", api.hub.HandleWebSocket)

	mux.HandleFunc("/", api.handleIndex)
	return mux
}

// Start begins serving on the given port and blocks until the server stops.
// With TLS enabled and a non-zero httpPort, a redirect listener is started
// alongside.
func (api *APIServer) Start(port, httpPort int) error {
	addr := fmt.Sprintf(":%d", port)
	api.server = &http.Server{
		Addr:         addr,
		Handler:      api.routes(),
		ReadTimeout:  api.readTimeout,
		WriteTimeout: api.writeTimeout,
		IdleTimeout:  api.idleTimeout,
		// Request contexts derive from the server context, so handlers see
		// its logger and cancellation.
		BaseContext: func(net.Listener) context.Context { return api.ctx },
	}

	if api.useTLS {
		if httpPort > 0 {
			go api.startHTTPRedirect(httpPort, port)
		}
		api.log.Info("starting API server",
			"addr", addr,
			"tls", true,
			"cert", api.certFile)
		return api.server.ListenAndServeTLS(api.certFile, api.keyFile)
	}

	api.log.Info("starting API server", "addr", addr, "tls", false)
	api.log.Warn("TLS is disabled, connections are not encrypted")
	return api.server.ListenAndServe()
}

// Shutdown stops the HTTP servers and cancels the background goroutines.
func (api *APIServer) Shutdown(ctx context.Context) error {
	api.cancel()

	var errs []error
	if api.server != nil {
		if err := api.server.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errs = append(errs, fmt.Errorf("api server shutdown: %w", err))
		}
	}
	if api.redirectServer != nil {
		if err := api.redirectServer.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errs = append(errs, fmt.Errorf("redirect server shutdown: %w", err))
		}
	}
	return errors.Join(errs...)
}

// startHTTPRedirect answers plain HTTP with permanent redirects to the HTTPS
// listener.
func (api *APIServer) startHTTPRedirect(httpPort, httpsPort int) {
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		host := r.Host
		if h, _, err := net.SplitHostPort(host); err == nil {
			host = h
		}
		target := fmt.Sprintf("https://%s:%d%s", host, httpsPort, r.URL.RequestURI())
		http.Redirect(w, r, target, http.StatusMovedPermanently)
	})

	api.redirectServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", httpPort),
		Handler:      mux,
		ReadTimeout:  redirectReadTimeout,
		WriteTimeout: redirectWriteTimeout,
		IdleTimeout:  redirectIdleTimeout,
	}

	api.log.Info("starting HTTP redirect server", "port", httpPort)
	if err := api.redirectServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		api.log.Error("redirect server failed", "error", err)
	}
}

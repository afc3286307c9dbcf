package tab

import (
	"log/slog"
	"net/http"
	"time"
)

// Server handles HTTP requests for the bill-splitting session
type Server struct {
	service *Service
	mux     *http.ServeMux
}

// NewServer creates a new Server with default mux
func NewServer(service *Service) *Server {
	return NewServerWithMux(service, http.NewServeMux())
}

// NewServerWithMux creates a new Server with a custom mux for testing
func NewServerWithMux(service *Service, mux *http.ServeMux) *Server {
	s := &Server{
		service: service,
		mux:     mux,
	}
	s.registerRoutes()
	return s
}

// corsMiddleware adds CORS headers to responses
func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		setCORSHeaders(w)

		// Handle preflight OPTIONS requests
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// loggingMiddleware logs every request with its duration
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		slog.Debug("Request completed",
			"method", r.Method,
			"path", r.URL.Path,
			"remote_addr", r.RemoteAddr,
			"duration_ms", time.Since(start).Milliseconds(),
		)
	})
}

// registerRoutes registers all routes on the server's mux
// Routes must be registered from most specific to least specific to avoid conflicts
func (s *Server) registerRoutes() {
	s.mux.Handle("GET /metrics", s.service.Metrics().Handler())

	// Session
	s.mux.HandleFunc("GET /api/session", s.handleGetSession)
	s.mux.HandleFunc("POST /api/session/reset", s.handleReset)

	// Receipt
	s.mux.HandleFunc("GET /api/receipt/image", s.handleGetImage)
	s.mux.HandleFunc("POST /api/receipt", s.handleUploadReceipt)

	// Split
	s.mux.HandleFunc("POST /api/split/assign", s.handleAssign)
	s.mux.HandleFunc("POST /api/chat", s.handleChat)

	// Receipt edits
	s.mux.HandleFunc("PATCH /api/edit/items/{index}", s.handleUpdateDraftItem)
	s.mux.HandleFunc("DELETE /api/edit/items/{index}", s.handleRemoveDraftItem)
	s.mux.HandleFunc("POST /api/edit/items", s.handleAddDraftItem)
	s.mux.HandleFunc("PATCH /api/edit/totals", s.handleUpdateDraftTotals)
	s.mux.HandleFunc("POST /api/edit/commit", s.handleCommitEdit)
	s.mux.HandleFunc("POST /api/edit/cancel", s.handleCancelEdit)
	s.mux.HandleFunc("POST /api/edit", s.handleBeginEdit)

	// Static HTML interface (register last as it's the catch-all)
	s.mux.HandleFunc("GET /index.html", s.handleIndex)
	s.mux.HandleFunc("GET /", s.handleIndex)
}

// Handler returns the mux wrapped in the CORS and logging middleware
func (s *Server) Handler() http.Handler {
	return s.loggingMiddleware(s.corsMiddleware(s.mux))
}

// Start starts the HTTP server
func (s *Server) Start(addr string) error {
	slog.Info("Starting server", "address", addr)
	return http.ListenAndServe(addr, s.Handler())
}

// ServeHTTP implements http.Handler for testing
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

package trip

import (
	"context"
	"encoding/base64"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 30 * time.Second

// Server handles HTTP requests for trips and receipts
type Server struct {
	service   *Service
	basicAuth BasicAuth
	mux       *http.ServeMux
}

// BasicAuth holds basic authentication credentials
type BasicAuth struct {
	Username string
	Password string
}

// NewServer creates a new Server with default mux
func NewServer(service *Service, basicAuth BasicAuth) *Server {
	return NewServerWithMux(service, basicAuth, http.NewServeMux())
}

// NewServerWithMux creates a new Server with a custom mux for testing
func NewServerWithMux(service *Service, basicAuth BasicAuth, mux *http.ServeMux) *Server {
	s := &Server{
		service:   service,
		basicAuth: basicAuth,
		mux:       mux,
	}
	s.registerRoutes()
	return s
}

// authenticate checks basic auth credentials
func (s *Server) authenticate(r *http.Request) bool {
	if s.basicAuth.Username == "" && s.basicAuth.Password == "" {
		return true // No auth required if not configured
	}

	auth := r.Header.Get("Authorization")
	if !strings.HasPrefix(auth, "Basic ") {
		return false
	}

	decoded, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(auth, "Basic "))
	if err != nil {
		return false
	}

	credentials := strings.SplitN(string(decoded), ":", 2)
	if len(credentials) != 2 {
		return false
	}

	return credentials[0] == s.basicAuth.Username && credentials[1] == s.basicAuth.Password
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

// requireAuth middleware
func (s *Server) requireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !s.authenticate(r) {
			w.Header().Set("WWW-Authenticate", `Basic realm="Trip Tracker"`)
			corsError(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next(w, r)
	}
}

// registerRoutes registers all API routes on the server's mux
func (s *Server) registerRoutes() {
	// Trips
	s.mux.HandleFunc("GET /api/trips", s.requireAuth(s.handleListTrips))
	s.mux.HandleFunc("POST /api/trips", s.requireAuth(s.handleCreateTrip))
	s.mux.HandleFunc("GET /api/trips/{id}", s.requireAuth(s.handleGetTrip))
	s.mux.HandleFunc("PUT /api/trips/{id}", s.requireAuth(s.handleUpdateTrip))
	s.mux.HandleFunc("DELETE /api/trips/{id}", s.requireAuth(s.handleDeleteTrip))
	s.mux.HandleFunc("POST /api/trips/{id}/reset", s.requireAuth(s.handleResetTrip))

	// Derived views and exports
	s.mux.HandleFunc("GET /api/trips/{id}/summary", s.requireAuth(s.handleSummary))
	s.mux.HandleFunc("GET /api/trips/{id}/timeline", s.requireAuth(s.handleTimeline))
	s.mux.HandleFunc("GET /api/trips/{id}/dates", s.requireAuth(s.handleDates))
	s.mux.HandleFunc("GET /api/trips/{id}/export.json", s.requireAuth(s.handleExportJSON))
	s.mux.HandleFunc("GET /api/trips/{id}/export.csv", s.requireAuth(s.handleExportCSV))

	// Receipts
	s.mux.HandleFunc("POST /api/trips/{id}/receipts/scan", s.requireAuth(s.handleScanReceipt))
	s.mux.HandleFunc("PUT /api/trips/{id}/receipts/{rid}", s.requireAuth(s.handleSaveReceipt))
	s.mux.HandleFunc("DELETE /api/trips/{id}/receipts/{rid}", s.requireAuth(s.handleDeleteReceipt))
	s.mux.HandleFunc("POST /api/trips/{id}/receipts/{rid}/geocode", s.requireAuth(s.handleGeocodeReceipt))
	s.mux.HandleFunc("GET /api/receipts/draft", s.requireAuth(s.handleDraft))
	s.mux.HandleFunc("POST /api/geocode", s.requireAuth(s.handleGeocodeDraft))

	// Preferences and status
	s.mux.HandleFunc("GET /api/active", s.requireAuth(s.handleGetActive))
	s.mux.HandleFunc("PUT /api/active", s.requireAuth(s.handleSetActive))
	s.mux.HandleFunc("GET /api/preferences/theme", s.requireAuth(s.handleGetTheme))
	s.mux.HandleFunc("PUT /api/preferences/theme", s.requireAuth(s.handleSetTheme))
	s.mux.HandleFunc("GET /api/status/persistence", s.requireAuth(s.handlePersistenceStatus))
}

// Handler returns the mux wrapped with CORS handling
func (s *Server) Handler() http.Handler {
	return s.corsMiddleware(s.mux)
}

// Start serves HTTP until ctx is cancelled, then shuts down gracefully
func (s *Server) Start(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("Starting server", "address", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		slog.Info("Shutting down server")
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

// ServeHTTP implements http.Handler for testing
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

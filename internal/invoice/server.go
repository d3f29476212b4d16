package invoice

import (
	"crypto/subtle"
	"encoding/base64"
	"log/slog"
	"net/http"
	"strings"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Server handles HTTP requests for invoices
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

	user, pass, ok := strings.Cut(string(decoded), ":")
	if !ok {
		return false
	}

	userOK := subtle.ConstantTimeCompare([]byte(user), []byte(s.basicAuth.Username)) == 1
	passOK := subtle.ConstantTimeCompare([]byte(pass), []byte(s.basicAuth.Password)) == 1
	return userOK && passOK
}

// corsMiddleware adds CORS headers to responses and answers preflight requests
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		setCORSHeaders(w)

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
			w.Header().Set("WWW-Authenticate", `Basic realm="Invoice Tracker"`)
			writeErrorMessage(w, http.StatusUnauthorized, "unauthorized", "Unauthorized")
			return
		}
		next(w, r)
	}
}

// setCORSHeaders sets CORS headers on a response
func setCORSHeaders(w http.ResponseWriter) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
	w.Header().Set("Access-Control-Max-Age", "3600")
}

// registerRoutes registers all API routes on the server's mux
func (s *Server) registerRoutes() {
	// Recognition
	s.mux.HandleFunc("POST /api/invoices/recognize", s.requireAuth(s.handleRecognize))
	s.mux.HandleFunc("POST /api/invoices/recognize/save", s.requireAuth(s.handleRecognizeAndSave))
	s.mux.HandleFunc("POST /api/invoices/recognize/batch", s.requireAuth(s.handleRecognizeBatch))
	s.mux.HandleFunc("POST /api/invoices/upload", s.requireAuth(s.handleUpload))
	s.mux.HandleFunc("POST /api/ocr/test", s.requireAuth(s.handleTestConnection))

	// Invoices
	s.mux.HandleFunc("GET /api/invoices/export", s.requireAuth(s.handleExportFiltered))
	s.mux.HandleFunc("POST /api/invoices/export", s.requireAuth(s.handleExportSelected))
	s.mux.HandleFunc("POST /api/invoices/delete", s.requireAuth(s.handleDeleteInvoices))
	s.mux.HandleFunc("GET /api/invoices/{id}", s.requireAuth(s.handleGetInvoice))
	s.mux.HandleFunc("PUT /api/invoices/{id}", s.requireAuth(s.handleUpdateInvoice))
	s.mux.HandleFunc("DELETE /api/invoices/{id}", s.requireAuth(s.handleDeleteInvoice))
	s.mux.HandleFunc("GET /api/invoices", s.requireAuth(s.handleListInvoices))

	// Config store
	s.mux.HandleFunc("GET /api/config", s.requireAuth(s.handleListConfigs))
	s.mux.HandleFunc("GET /api/config/{key}", s.requireAuth(s.handleGetConfig))
	s.mux.HandleFunc("PUT /api/config/{key}", s.requireAuth(s.handleSetConfig))
	s.mux.HandleFunc("DELETE /api/config/{key}", s.requireAuth(s.handleDeleteConfig))

	// Files
	s.mux.HandleFunc("GET /api/files/extensions", s.requireAuth(s.handleSupportedExtensions))
	s.mux.HandleFunc("GET /api/files/info", s.requireAuth(s.handleFileInfo))

	s.mux.Handle("GET /metrics", promhttp.Handler())
}

// Handler returns the routes wrapped with CORS handling
func (s *Server) Handler() http.Handler {
	return corsMiddleware(s.mux)
}

// Start starts the HTTP server
func (s *Server) Start(addr string) error {
	slog.Info("Starting server", "address", addr)
	return http.ListenAndServe(addr, s.Handler())
}

// ServeHTTP implements http.Handler for testing
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.Handler().ServeHTTP(w, r)
}

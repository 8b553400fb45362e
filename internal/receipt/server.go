package receipt

import (
	"context"
	"encoding/base64"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/cors"
	"github.com/google/uuid"
)

// requestIDHeader carries the per-request id in both directions
const requestIDHeader = "X-Request-ID"

// IDGenerator generates request IDs
type IDGenerator interface {
	Generate() string
}

// uuidGenerator generates random UUIDs
type uuidGenerator struct{}

func (uuidGenerator) Generate() string {
	return uuid.NewString()
}

// Options tune request handling
type Options struct {
	// MaxUploadBytes caps request bodies, including multipart uploads
	MaxUploadBytes int64
	// OCRTimeout bounds a single OCR call, including time spent throttled
	OCRTimeout time.Duration
	// AllowedOrigins for CORS; empty allows any origin
	AllowedOrigins []string
}

// DefaultOptions returns the options used when none are configured
func DefaultOptions() Options {
	return Options{
		MaxUploadBytes: 10 << 20, // 10MB
		OCRTimeout:     60 * time.Second,
		AllowedOrigins: []string{"*"},
	}
}

// Server handles HTTP requests for receipt extraction
type Server struct {
	service     *Service
	basicAuth   BasicAuth
	opts        Options
	mux         *http.ServeMux
	handler     http.Handler
	idGenerator IDGenerator
	httpServer  *http.Server
}

// BasicAuth holds basic authentication credentials
type BasicAuth struct {
	Username string
	Password string
}

// NewServer creates a new Server with default mux
func NewServer(service *Service, basicAuth BasicAuth, opts Options) *Server {
	return NewServerWithMux(service, basicAuth, opts, http.NewServeMux())
}

// NewServerWithMux creates a new Server with a custom mux for testing
func NewServerWithMux(service *Service, basicAuth BasicAuth, opts Options, mux *http.ServeMux) *Server {
	defaults := DefaultOptions()
	if opts.MaxUploadBytes <= 0 {
		opts.MaxUploadBytes = defaults.MaxUploadBytes
	}
	if opts.OCRTimeout <= 0 {
		opts.OCRTimeout = defaults.OCRTimeout
	}
	if len(opts.AllowedOrigins) == 0 {
		opts.AllowedOrigins = defaults.AllowedOrigins
	}

	s := &Server{
		service:     service,
		basicAuth:   basicAuth,
		opts:        opts,
		mux:         mux,
		idGenerator: uuidGenerator{},
	}
	s.registerRoutes()

	corsHandler := cors.Handler(cors.Options{
		AllowedOrigins: opts.AllowedOrigins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Content-Type", "Authorization", requestIDHeader},
		ExposedHeaders: []string{requestIDHeader},
		MaxAge:         3600,
	})
	s.handler = corsHandler(s.withRequestID(s.mux))
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

// requireAuth middleware
func (s *Server) requireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !s.authenticate(r) {
			w.Header().Set("WWW-Authenticate", `Basic realm="Receipt Amounts"`)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next(w, r)
	}
}

// withRequestID tags every request with an id, reusing the caller's if sent
func (s *Server) withRequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(requestIDHeader)
		if id == "" {
			id = s.idGenerator.Generate()
		}
		w.Header().Set(requestIDHeader, id)
		next.ServeHTTP(w, r.WithContext(WithRequestID(r.Context(), id)))
	})
}

// requestLogger returns the default logger tagged with the request id
func requestLogger(r *http.Request) *slog.Logger {
	id, _ := RequestID(r.Context())
	return slog.Default().With("request_id", id, "path", r.URL.Path)
}

// registerRoutes registers all API routes on the server's mux
func (s *Server) registerRoutes() {
	s.mux.HandleFunc("GET /healthz", s.handleHealth)

	s.mux.HandleFunc("POST /api/ocr", s.requireAuth(s.handleOCR))
	s.mux.HandleFunc("POST /api/extract", s.requireAuth(s.handleExtract))
	s.mux.HandleFunc("POST /api/classify", s.requireAuth(s.handleClassify))
	s.mux.HandleFunc("POST /api/full-extract", s.requireAuth(s.handleFullExtract))
}

// Start starts the HTTP server and blocks until it stops
func (s *Server) Start(addr string) error {
	slog.Info("Starting server", "address", addr)
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops the server, waiting for in-flight requests until ctx is done
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

// ServeHTTP implements http.Handler
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/url"
	"path/filepath"
	"strings"

	"github.com/go-chi/chi/v5"
	"readerapp/internal/metrics"
	"readerapp/internal/ratelimit"
	"readerapp/internal/util"
	"readerapp/pkg/domain"
	"readerapp/services/reader/internal/app"
)

const (
	defaultMaxUploadBytes = 10 << 20
	maxJSONBodyBytes      = 1 << 20
	multipartMemoryBytes  = 8 << 20
)

// Config wires required dependencies for the HTTP server. Nil limiters
// disable throttling for their route.
type Config struct {
	App                *app.App
	Metrics            *metrics.Collector
	RegisterLimiter    ratelimit.Limiter
	LoginLimiter       ratelimit.Limiter
	TrustedProxies     *util.TrustedProxies
	CORSAllowedOrigins []string
	MaxUploadBytes     int64
}

// Server exposes the reader HTTP API.
type Server struct {
	app             *app.App
	metrics         *metrics.Collector
	router          chi.Router
	registerLimiter ratelimit.Limiter
	loginLimiter    ratelimit.Limiter
	trusted         *util.TrustedProxies
	corsOrigins     []string
	maxUploadBytes  int64
}

// New constructs the server with routes configured.
func New(cfg Config) (*Server, error) {
	if cfg.App == nil {
		return nil, errors.New("server: app required")
	}
	maxUploadBytes := cfg.MaxUploadBytes
	if maxUploadBytes <= 0 {
		maxUploadBytes = defaultMaxUploadBytes
	}
	s := &Server{
		app:             cfg.App,
		metrics:         cfg.Metrics,
		router:          chi.NewRouter(),
		registerLimiter: cfg.RegisterLimiter,
		loginLimiter:    cfg.LoginLimiter,
		trusted:         cfg.TrustedProxies,
		corsOrigins:     cfg.CORSAllowedOrigins,
		maxUploadBytes:  maxUploadBytes,
	}
	s.routes()
	return s, nil
}

// Router returns the configured handler.
func (s *Server) Router() http.Handler {
	return util.WithRequestID(util.WithRequestLog(util.WithSecurityHeaders(util.WithCORS(s.corsOrigins)(s.router))))
}

func (s *Server) routes() {
	r := s.router
	r.Use(s.metrics.Middleware)

	r.Get("/healthz", s.handleHealth)
	if s.metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.metrics.Handler())
	}

	r.Route("/api/user", func(r chi.Router) {
		r.With(s.limit(s.registerLimiter, "too many registrations")).Post("/register", s.handleRegister)
		r.With(s.limit(s.loginLimiter, "too many login attempts")).Post("/login", s.handleLogin)
	})

	r.Route("/api/book", func(r chi.Router) {
		r.Get("/search/{word}", s.handleSearch)
		r.Post("/add", s.handleAddBook)
		r.Post("/upload", s.handleUpload)
		r.Get("/{name}/{author}", s.handleFindBook)
	})

	r.Route("/api/history/{account}", func(r chi.Router) {
		r.Get("/", s.handleListHistory)
		r.Post("/", s.handleAddHistory)
		r.Delete("/", s.handleClearHistory)
	})

	r.Route("/api/shop/{account}", func(r chi.Router) {
		r.Get("/", s.handleListCart)
		r.Post("/", s.handleAddToCart)
		r.Delete("/{name}/{author}", s.handleRemoveFromCart)
	})

	r.Get("/upload/{file}", s.handleCover)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.app.Ping(r.Context()); err != nil {
		util.LoggerFromContext(r.Context()).Warn("health check failed", "err", err)
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// limit throttles by route and client address.
func (s *Server) limit(limiter ratelimit.Limiter, msg string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if limiter == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.URL.Path + "|" + util.ClientIP(r, s.trusted)
			if !limiter.Allow(r.Context(), key) {
				w.Header().Set("Retry-After", "60")
				writeError(w, http.StatusTooManyRequests, msg)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

type credentialsRequest struct {
	Account  string `json:"account"`
	Password string `json:"password"`
	IconPath string `json:"iconPath"`
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	err := s.app.Register(r.Context(), domain.Account{Account: req.Account, Password: req.Password, IconPath: req.IconPath})
	writeResult(w, err, nil)
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	acc, err := s.app.Login(r.Context(), req.Account, req.Password)
	if err != nil {
		writeResult(w, err, nil)
		return
	}
	writeResult(w, nil, acc)
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	books, err := s.app.SearchBooks(r.Context(), pathParam(r, "word"), r.URL.Query().Get("account"))
	writeResult(w, err, books)
}

func (s *Server) handleFindBook(w http.ResponseWriter, r *http.Request) {
	book, ok, err := s.app.FindBook(r.Context(), pathParam(r, "name"), pathParam(r, "author"))
	if err != nil {
		writeResult(w, err, nil)
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, "book not found")
		return
	}
	writeResult(w, nil, book)
}

func (s *Server) handleAddBook(w http.ResponseWriter, r *http.Request) {
	var book domain.Book
	if !decodeJSON(w, r, &book) {
		return
	}
	writeResult(w, s.app.AddBook(r.Context(), book), nil)
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxUploadBytes)
	if err := r.ParseMultipartForm(multipartMemoryBytes); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "file too large")
			return
		}
		writeError(w, http.StatusBadRequest, "invalid form data")
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile("file")
	if err != nil {
		writeResult(w, domain.ErrMissingFile, nil)
		return
	}
	defer file.Close()

	stored, err := s.app.UploadCover(r.Context(), header.Filename, file)
	if err != nil {
		writeResult(w, err, nil)
		return
	}
	writeResult(w, nil, stored)
}

func (s *Server) handleListHistory(w http.ResponseWriter, r *http.Request) {
	terms, err := s.app.ListHistory(r.Context(), pathParam(r, "account"))
	writeResult(w, err, terms)
}

type historyRequest struct {
	Term string `json:"term"`
}

func (s *Server) handleAddHistory(w http.ResponseWriter, r *http.Request) {
	var req historyRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	writeResult(w, s.app.AddHistory(r.Context(), pathParam(r, "account"), req.Term), nil)
}

func (s *Server) handleClearHistory(w http.ResponseWriter, r *http.Request) {
	writeResult(w, s.app.ClearHistory(r.Context(), pathParam(r, "account")), nil)
}

func (s *Server) handleListCart(w http.ResponseWriter, r *http.Request) {
	items, err := s.app.ListCart(r.Context(), pathParam(r, "account"))
	writeResult(w, err, items)
}

type cartRequest struct {
	Name   string `json:"name"`
	Author string `json:"author"`
	Rating int64  `json:"rating"`
}

func (s *Server) handleAddToCart(w http.ResponseWriter, r *http.Request) {
	var req cartRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	err := s.app.AddToCart(r.Context(), pathParam(r, "account"), req.Name, req.Author, req.Rating)
	writeResult(w, err, nil)
}

func (s *Server) handleRemoveFromCart(w http.ResponseWriter, r *http.Request) {
	err := s.app.RemoveFromCart(r.Context(), pathParam(r, "account"), pathParam(r, "name"), pathParam(r, "author"))
	writeResult(w, err, nil)
}

func (s *Server) handleCover(w http.ResponseWriter, r *http.Request) {
	name := pathParam(r, "file")
	if name == "" || name == "." || name == ".." || name != filepath.Base(name) || strings.ContainsRune(name, '\\') {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	http.ServeFile(w, r, filepath.Join(s.app.UploadDir(), name))
}

// pathParam returns the decoded value of a route parameter.
func pathParam(r *http.Request, name string) string {
	raw := chi.URLParam(r, name)
	if v, err := url.PathUnescape(raw); err == nil {
		return v
	}
	return raw
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(io.LimitReader(r.Body, maxJSONBodyBytes)).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}

// result is the envelope of every business outcome, success or not.
type result struct {
	Code    domain.Code `json:"code"`
	Message string      `json:"message"`
	Data    any         `json:"data"`
}

func writeResult(w http.ResponseWriter, err error, data any) {
	if err != nil {
		data = nil
	}
	writeJSON(w, http.StatusOK, result{
		Code:    domain.CodeOf(err),
		Message: domain.MessageOf(err),
		Data:    data,
	})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

type errorResponse struct {
	Error     string `json:"error"`
	RequestID string `json:"requestId,omitempty"`
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{
		Error:     msg,
		RequestID: strings.TrimSpace(w.Header().Get(util.RequestIDHeader)),
	})
}

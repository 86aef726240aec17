// Package server exposes the picto dataset read-only over HTTP for the frontend.
package server

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/SergeiSkv/pictofix/dataset"
	"github.com/SergeiSkv/pictofix/models"
	"github.com/SergeiSkv/pictofix/normalizer"
)

const (
	DefaultPerPage = 20
	MaxPerPage     = 200

	maxBodyBytes = 64 << 10
)

// Options configures the HTTP API
type Options struct {
	AllowedOrigins []string
	PerPage        int
	StaticDir      string
}

// Server holds the loaded dataset and the router
type Server struct {
	router     chi.Router
	items      []item
	normalizer *normalizer.Normalizer
	opts       Options
	logger     *slog.Logger
}

// New indexes ds and builds the routes. ds must not be modified afterwards.
func New(ds *dataset.Dataset, n *normalizer.Normalizer, opts Options, logger *slog.Logger) *Server {
	if opts.PerPage <= 0 {
		opts.PerPage = DefaultPerPage
	}
	if len(opts.AllowedOrigins) == 0 {
		opts.AllowedOrigins = []string{"http://localhost:*"}
	}
	if n == nil {
		n = normalizer.Default()
	}
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		router:     chi.NewRouter(),
		items:      buildIndex(ds),
		normalizer: n,
		opts:       opts,
		logger:     logger,
	}

	s.setupMiddleware()
	s.setupRoutes()

	return s
}

// ServeHTTP implements http.Handler
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) setupMiddleware() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(s.requestLogger)
	s.router.Use(middleware.Recoverer)
	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins: s.opts.AllowedOrigins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))
}

func (s *Server) setupRoutes() {
	s.router.Route("/api", func(r chi.Router) {
		r.Get("/pictos", s.handleListPictos)
		r.Get("/pictos/{id}", s.handleGetPicto)
		r.Post("/normalize", s.handleNormalize)
	})

	s.router.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		respondJSON(w, http.StatusOK, map[string]interface{}{"status": "ok", "pictos": len(s.items)})
	})

	if s.opts.StaticDir != "" {
		fileServer(s.router, "/", http.Dir(s.opts.StaticDir))
	}
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.Debug("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration", time.Since(start),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}

// fileServer serves the built frontend from root
func fileServer(r chi.Router, path string, root http.FileSystem) {
	if path != "/" && path[len(path)-1] != '/' {
		r.Get(path, http.RedirectHandler(path+"/", http.StatusMovedPermanently).ServeHTTP)
		path += "/"
	}
	path += "*"

	r.Get(path, func(w http.ResponseWriter, req *http.Request) {
		rctx := chi.RouteContext(req.Context())
		pathPrefix := strings.TrimSuffix(rctx.RoutePattern(), "/*")
		fs := http.StripPrefix(pathPrefix, http.FileServer(root))
		fs.ServeHTTP(w, req)
	})
}

// --- Response helpers ---

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

// pictoView is a record with its derived rarity appended
type pictoView struct {
	rec    *models.Record
	rarity models.Rarity
}

func (v pictoView) MarshalJSON() ([]byte, error) {
	rarity, err := models.MarshalString(v.rarity.String())
	if err != nil {
		return nil, err
	}
	fields := make([]models.Field, 0, len(v.rec.Fields)+1)
	fields = append(fields, v.rec.Fields...)
	fields = append(fields, models.Field{Key: "rarity", Value: rarity})
	return models.NewRecord(fields...).MarshalJSON()
}

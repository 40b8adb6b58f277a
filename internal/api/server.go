// Package api exposes the HTTP surface: accounts, document upload and
// lifecycle, retrieval, and question answering.
package api

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/paperquery/paperquery/internal/auth"
	"github.com/paperquery/paperquery/internal/config"
	"github.com/paperquery/paperquery/internal/model"
	"github.com/paperquery/paperquery/internal/rag"
)

// UserStore persists accounts.
type UserStore interface {
	Create(ctx context.Context, user *model.User) error
	GetByEmail(ctx context.Context, email string) (*model.User, error)
	GetByID(ctx context.Context, id string) (*model.User, error)
}

// RefreshTokenStore persists hashed refresh tokens.
type RefreshTokenStore interface {
	Create(ctx context.Context, token *model.RefreshToken) error
	GetByHash(ctx context.Context, tokenHash string) (*model.RefreshToken, error)
	Rotate(ctx context.Context, oldID string, replacement *model.RefreshToken) error
	DeleteByHash(ctx context.Context, tokenHash string) error
}

// DocumentStore is the slice of the document repository the API needs.
// Status transitions belong to the worker and are deliberately absent.
type DocumentStore interface {
	Create(ctx context.Context, doc *model.Document) error
	GetOwned(ctx context.Context, id, userID string) (*model.Document, error)
	ListByUser(ctx context.Context, userID string) ([]model.Document, error)
	Delete(ctx context.Context, id, userID string) error
}

// MessageStore persists and lists conversation history.
type MessageStore interface {
	AppendPair(ctx context.Context, question, answer *model.Message) error
	ListByDocument(ctx context.Context, documentID, userID string) ([]model.Message, error)
}

// ObjectStore holds the raw uploaded PDFs.
type ObjectStore interface {
	Upload(ctx context.Context, objectKey string, reader io.Reader, size int64, contentType string) error
	Remove(ctx context.Context, objectKey string) error
	PresignGet(ctx context.Context, objectKey string, ttl time.Duration) (string, error)
}

// JobQueue schedules ingestion runs.
type JobQueue interface {
	EnqueueIngest(ctx context.Context, documentID string) error
}

// Answerer runs retrieval and question answering over a processed document.
type Answerer interface {
	Search(ctx context.Context, documentID, query string, topK int) ([]model.SearchResult, error)
	Query(ctx context.Context, documentID, question string, topK int) (*rag.Answer, error)
}

// HealthCheck reports the readiness of one dependency.
type HealthCheck struct {
	Name  string
	Check func(ctx context.Context) error
}

// Deps collects everything the server serves from.
type Deps struct {
	Users     UserStore
	Tokens    RefreshTokenStore
	Documents DocumentStore
	Messages  MessageStore
	Objects   ObjectStore
	Jobs      JobQueue
	RAG       Answerer
	Issuer    *auth.TokenIssuer
	Hasher    *auth.TokenHasher
	Checks    []HealthCheck
}

// Server exposes the HTTP endpoints.
type Server struct {
	cfg    *config.Config
	deps   Deps
	limits *limiterSet
	server *http.Server
	once   sync.Once
}

// New constructs a Server.
func New(cfg *config.Config, deps Deps) *Server {
	return &Server{cfg: cfg, deps: deps, limits: newLimiterSet()}
}

// Handler builds the route table. Exported so tests can drive the full
// middleware chain without a listener.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   s.cfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	r.Get("/healthz", s.handleHealth)

	r.Route("/api", func(api chi.Router) {
		api.Route("/auth", func(ar chi.Router) {
			ar.With(s.rateLimit(authLimit)).Post("/register", s.handleRegister)
			ar.With(s.rateLimit(authLimit)).Post("/login", s.handleLogin)
			ar.With(s.rateLimit(authLimit)).Post("/refresh", s.handleRefresh)
			ar.Post("/logout", s.handleLogout)
			ar.With(s.requireAuth).Get("/me", s.handleMe)
		})

		api.Route("/documents", func(dr chi.Router) {
			dr.Use(s.requireAuth)
			dr.With(s.rateLimit(uploadLimit)).Post("/", s.handleUpload)
			dr.Get("/", s.handleListDocuments)

			dr.Route("/{documentID}", func(doc chi.Router) {
				doc.Get("/", s.handleGetDocument)
				doc.Delete("/", s.handleDeleteDocument)
				doc.Get("/download", s.handleDownload)
				doc.With(s.rateLimit(processLimit)).Post("/process", s.handleProcess)
				doc.With(s.rateLimit(queryLimit)).Post("/search", s.handleSearch)
				doc.With(s.rateLimit(queryLimit)).Post("/query", s.handleQuery)
				doc.Get("/messages", s.handleMessages)
			})
		})
	})

	return r
}

// Run starts the HTTP server and blocks until the context is cancelled.
func (s *Server) Run(ctx context.Context) error {
	s.once.Do(func() {
		s.server = &http.Server{
			Addr:    s.cfg.Address,
			Handler: s.Handler(),
		}
	})
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.server.Shutdown(shutdownCtx)
	}()
	slog.Info("api listening", "addr", s.cfg.Address)
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	for _, hc := range s.deps.Checks {
		if err := hc.Check(ctx); err != nil {
			slog.Warn("health check failed", "dependency", hc.Name, "err", err)
			respondJSON(w, http.StatusServiceUnavailable, map[string]string{
				"status":  "degraded",
				"failing": hc.Name,
			})
			return
		}
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

package http

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/secmon-lab/kotodama/pkg/usecase"
	"github.com/secmon-lab/kotodama/pkg/utils/logging"
)

const defaultMaxBodySize = 4 << 20

type Server struct {
	router      *chi.Mux
	uc          *usecase.UseCases
	maxBodySize int64
}

type Options func(*Server)

// WithMaxBodySize limits the size of JSON request bodies
func WithMaxBodySize(n int64) Options {
	return func(s *Server) {
		if n > 0 {
			s.maxBodySize = n
		}
	}
}

func New(uc *usecase.UseCases, opts ...Options) *Server {
	r := chi.NewRouter()

	s := &Server{
		router:      r,
		uc:          uc,
		maxBodySize: defaultMaxBodySize,
	}
	for _, opt := range opts {
		opt(s)
	}

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(accessLogger)
	r.Use(middleware.Recoverer)

	r.Get("/health", healthHandler)

	r.Group(func(r chi.Router) {
		r.Use(scopeMiddleware)

		r.Post("/search", s.searchHandler)

		r.Route("/conversations", func(r chi.Router) {
			r.Post("/", s.createConversationHandler)
			r.Get("/", s.listConversationsHandler)

			r.Route("/{conversationID}", func(r chi.Router) {
				r.Get("/", s.getConversationHandler)
				r.Patch("/", s.renameConversationHandler)
				r.Delete("/", s.deleteConversationHandler)

				r.Get("/messages", s.listMessagesHandler)
				r.Post("/messages", s.submitTurnHandler)
			})
		})

		r.Route("/documents", func(r chi.Router) {
			r.Put("/", s.putDocumentHandler)
			r.Get("/{documentID}", s.getDocumentHandler)
			r.Delete("/{documentID}", s.deleteDocumentHandler)
		})

		// Upload endpoint (if configured)
		if s.uc.Upload != nil {
			r.Post("/uploads", s.issueUploadHandler)
		}
	})

	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// accessLogger is a middleware that logs HTTP requests
func accessLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		logger := logging.From(r.Context()).With("request_id", middleware.GetReqID(r.Context()))
		ctx := logging.With(r.Context(), logger)

		defer func() {
			logger.Info("access",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"bytes", ww.BytesWritten(),
				"duration", time.Since(start),
				"remote", r.RemoteAddr,
				"user_agent", r.UserAgent(),
			)
		}()

		next.ServeHTTP(ww, r.WithContext(ctx))
	})
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(r.Context(), w, http.StatusOK, map[string]string{"status": "ok"})
}

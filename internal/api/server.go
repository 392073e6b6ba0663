// Package api exposes the thin HTTP surface over the project orchestrator
// and the retrieval engine. Every response uses the same envelope:
// data, optional structured error, and the agent event log of the call.
package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	inkerrors "github.com/inkwell-ai/inkwell/internal/errors"
	"github.com/inkwell-ai/inkwell/internal/project"
	"github.com/inkwell-ai/inkwell/internal/rag"
	"github.com/inkwell-ai/inkwell/internal/store"
)

const requestTimeout = 120 * time.Second

// Server holds the handler dependencies.
type Server struct {
	projects *project.Service
	rag      *rag.Service
	cors     []string
}

// NewServer creates the API server.
func NewServer(projects *project.Service, ragSvc *rag.Service, corsOrigins []string) *Server {
	return &Server{projects: projects, rag: ragSvc, cors: corsOrigins}
}

// Router builds the chi router with the full route table.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(corsMiddleware(s.cors))
	r.Use(middleware.Timeout(requestTimeout))

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"healthy","service":"inkwell"}`))
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/projects", s.createProject)
		r.Get("/projects", s.listProjects)
		r.Get("/rag/metrics", s.ragMetrics)
		r.Route("/projects/{projectID}", func(r chi.Router) {
			r.Get("/", s.getProject)
			r.Post("/outline", s.generateOutline)
			r.Post("/characters", s.generateCharacters)
			r.Post("/chapters/{chapterNo}/expand", s.expandChapter)
			r.Get("/rag/stats", s.ragStats)
			r.Get("/rag/preview", s.ragPreview)
		})
	})

	return r
}

// corsMiddleware answers browser clients for the configured origins.
func corsMiddleware(allowedOrigins []string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")

			allowed := false
			for _, o := range allowedOrigins {
				if o == "*" || o == origin {
					allowed = true
					break
				}
			}
			if allowed && origin != "" {
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
				w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
				w.Header().Set("Access-Control-Max-Age", "86400")
			}

			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

type apiError struct {
	Code    string            `json:"code"`
	Message string            `json:"message"`
	Details map[string]string `json:"details,omitempty"`
}

type envelope struct {
	Data      any           `json:"data"`
	Error     *apiError     `json:"error,omitempty"`
	AgentLogs []store.Event `json:"agent_logs"`
}

func writeData(w http.ResponseWriter, status int, data any, logs []store.Event) {
	if logs == nil {
		logs = []store.Event{}
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(envelope{Data: data, AgentLogs: logs}); err != nil {
		slog.Error("response_encode_failed", "error", err.Error())
	}
}

func writeErr(w http.ResponseWriter, err error) {
	code := inkerrors.GetCode(err)
	if code == "" {
		code = inkerrors.ErrCodeInternal
	}
	e := &apiError{Code: code, Message: err.Error()}
	if ie, ok := err.(*inkerrors.InkError); ok {
		e.Message = ie.Message
		e.Details = ie.Details
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusFor(err))
	if encErr := json.NewEncoder(w).Encode(envelope{Error: e, AgentLogs: []store.Event{}}); encErr != nil {
		slog.Error("response_encode_failed", "error", encErr.Error())
	}
}

func statusFor(err error) int {
	switch inkerrors.GetCategory(err) {
	case inkerrors.CategoryNotFound:
		return http.StatusNotFound
	case inkerrors.CategoryValidation, inkerrors.CategoryPrecondition:
		return http.StatusBadRequest
	case inkerrors.CategoryBackend:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func decodeBody(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(dst); err != nil {
		return inkerrors.ValidationError("malformed request body", err)
	}
	return nil
}

package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"notewire/internal/config"
	"notewire/internal/conversation"
	"notewire/internal/model"
	"notewire/internal/pipeline"
	"notewire/internal/upstream/gemini"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
)

type PipelineService interface {
	Process(ctx context.Context, up pipeline.Upload) (pipeline.Result, error)
}

type MetricsObserver interface {
	ObserveHTTP(route, method string, status int, duration time.Duration)
	IncAdmissionRejection()
}

type Dependencies struct {
	Pipeline       PipelineService
	State          *conversation.State
	Metrics        MetricsObserver
	MetricsHandler http.Handler
}

type server struct {
	cfg          config.Config
	logger       *slog.Logger
	pipeline     PipelineService
	state        *conversation.State
	metrics      MetricsObserver
	metricsRoute http.Handler
}

type ctxKey string

const (
	requestIDHeader  = "X-Request-Id"
	requestIDContext = ctxKey("request_id")
)

func NewServer(cfg config.Config, logger *slog.Logger, deps Dependencies) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	if deps.Pipeline == nil || deps.State == nil {
		panic("httpapi: pipeline and state dependencies are required")
	}

	s := &server{
		cfg:          cfg,
		logger:       logger,
		pipeline:     deps.Pipeline,
		state:        deps.State,
		metrics:      deps.Metrics,
		metricsRoute: deps.MetricsHandler,
	}

	r := chi.NewRouter()
	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		s.writeError(w, r, http.StatusNotFound, "not_found", "route not found", nil)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		s.writeError(w, r, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed", nil)
	})

	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoverMiddleware)

	r.Get("/", s.handleRoot)
	r.Get("/healthz", s.handleHealthz)
	if s.metricsRoute != nil {
		r.Handle("/metrics", s.metricsRoute)
	}

	r.Post("/transcribe", s.handleTranscribe)
	r.Get("/summary", s.handleSummary)

	return r
}

func (s *server) handleRoot(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = io.WriteString(w, "notewire is running\n")
}

func (s *server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, model.HealthResponse{OK: true})
}

func (s *server) handleTranscribe(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxUploadBytes)
	if err := r.ParseMultipartForm(minInt64(s.cfg.MaxUploadBytes, 8<<20)); err != nil {
		s.handleMultipartReadError(w, r, err)
		return
	}
	defer cleanupMultipartForm(r)

	file, header, err := r.FormFile("file")
	if err != nil {
		s.handleMultipartReadError(w, r, err)
		return
	}
	defer func() { _ = file.Close() }()

	data, err := io.ReadAll(file)
	if err != nil {
		s.writeError(w, r, http.StatusBadRequest, "invalid_request", "could not read uploaded file", nil)
		return
	}

	_, err = s.pipeline.Process(r.Context(), pipeline.Upload{Data: data, Filename: header.Filename})
	if err != nil {
		s.writePipelineError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, model.TranscribeResponse{Message: "Transcription complete; summary delivered to chat."})
}

func (s *server) handleSummary(w http.ResponseWriter, r *http.Request) {
	summary, ok := s.state.Summary()
	if !ok {
		s.writeError(w, r, http.StatusNotFound, "summary_not_found", "no summary available yet", nil)
		return
	}
	writeJSON(w, http.StatusOK, model.SummaryResponse{Summary: summary})
}

// writePipelineError maps the pipeline's error taxonomy onto status
// codes: validation 400, admission 429, overload 503, everything else
// in the inference/transcode/delivery family 500.
func (s *server) writePipelineError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		verr *pipeline.ValidationError
		terr *pipeline.TranscodeError
		derr *pipeline.DeliveryError
		gerr *gemini.Error
	)

	switch {
	case errors.Is(err, pipeline.ErrRateLimited):
		if s.metrics != nil {
			s.metrics.IncAdmissionRejection()
		}
		s.writeError(w, r, http.StatusTooManyRequests, "rate_limited", "too many concurrent transcription requests, try again later", nil)
	case errors.As(err, &verr):
		s.writeError(w, r, http.StatusBadRequest, "invalid_request", verr.Message, nil)
	case errors.As(err, &gerr):
		s.writeGeminiError(w, r, gerr)
	case errors.As(err, &terr):
		s.writeError(w, r, http.StatusInternalServerError, "transcoding_failed", "audio transcoding failed", map[string]any{"error": terr.Err.Error()})
	case errors.As(err, &derr):
		s.writeError(w, r, http.StatusInternalServerError, "delivery_failed", "chat delivery failed", map[string]any{"error": derr.Err.Error()})
	case errors.Is(err, context.DeadlineExceeded):
		s.writeError(w, r, http.StatusGatewayTimeout, "timeout", "request timed out", nil)
	default:
		s.writeError(w, r, http.StatusInternalServerError, "internal_error", "request failed", map[string]any{"error": err.Error()})
	}
}

func (s *server) writeGeminiError(w http.ResponseWriter, r *http.Request, gerr *gemini.Error) {
	switch gerr.Kind {
	case gemini.KindOverloaded:
		s.writeError(w, r, http.StatusServiceUnavailable, "model_overloaded", "the model is overloaded, try again later", nil)
	case gemini.KindEmpty:
		s.writeError(w, r, http.StatusInternalServerError, "invalid_inference_response", "inference returned no usable content", map[string]any{
			"error": gerr.Message,
			"raw":   gerr.Body,
		})
	default:
		details := map[string]any{"error": gerr.Message}
		if gerr.StatusCode != 0 {
			details["upstream_status"] = gerr.StatusCode
		}
		s.writeError(w, r, http.StatusInternalServerError, "inference_failed", "inference request failed", details)
	}
}

func (s *server) handleMultipartReadError(w http.ResponseWriter, r *http.Request, err error) {
	var maxErr *http.MaxBytesError
	if errors.As(err, &maxErr) {
		s.writeError(w, r, http.StatusRequestEntityTooLarge, "request_too_large", fmt.Sprintf("request exceeds %d bytes", s.cfg.MaxUploadBytes), nil)
		return
	}
	if strings.Contains(strings.ToLower(err.Error()), "no such file") || strings.Contains(strings.ToLower(err.Error()), "missing") {
		s.writeError(w, r, http.StatusBadRequest, "invalid_request", "multipart field 'file' is required", nil)
		return
	}
	s.writeError(w, r, http.StatusBadRequest, "invalid_request", "invalid multipart form data", nil)
}

func (s *server) writeError(w http.ResponseWriter, r *http.Request, status int, code, message string, details map[string]any) {
	if rid := requestIDFromContext(r.Context()); rid != "" {
		w.Header().Set(requestIDHeader, rid)
	}
	writeJSON(w, status, model.ErrorResponse{
		Error:     model.APIError{Code: code, Message: message, Details: details},
		RequestID: requestIDFromContext(r.Context()),
	})
}

func (s *server) requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := strings.TrimSpace(r.Header.Get(requestIDHeader))
		if requestID == "" {
			requestID = uuid.NewString()
		}
		w.Header().Set(requestIDHeader, requestID)
		ctx := context.WithValue(r.Context(), requestIDContext, requestID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		started := time.Now()
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}

		route := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				route = pattern
			}
		}

		duration := time.Since(started)
		if s.metrics != nil {
			s.metrics.ObserveHTTP(route, r.Method, status, duration)
		}

		s.logger.Info("http_request",
			"request_id", requestIDFromContext(r.Context()),
			"method", r.Method,
			"route", route,
			"path", r.URL.Path,
			"status", status,
			"bytes", ww.BytesWritten(),
			"duration_ms", duration.Milliseconds(),
		)
	})
}

func (s *server) recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.logger.Error("panic recovered", "request_id", requestIDFromContext(r.Context()), "panic", rec)
				s.writeError(w, r, http.StatusInternalServerError, "internal_error", "internal server error", nil)
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, value any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(value)
}

func cleanupMultipartForm(r *http.Request) {
	if r.MultipartForm != nil {
		_ = r.MultipartForm.RemoveAll()
	}
}

func requestIDFromContext(ctx context.Context) string {
	value, _ := ctx.Value(requestIDContext).(string)
	return value
}

func minInt64(a, b int64) int64 {
	if a < b {
		return a
	}
	return b
}

package gateway

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"homevoice/pkg/command"
	"homevoice/pkg/ingest"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

const (
	defaultMaxAudioBytes = 20 << 20
	// multipartOverhead leaves room for form fields around the audio part.
	multipartOverhead = 1 << 20
)

type textCommandRequest struct {
	UserID string `json:"user_id"`
	ChatID string `json:"chat_id,omitempty"`
	Text   string `json:"text"`
}

type acceptedResponse struct {
	MessageID string `json:"message_id"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func (s *Service) routes() *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.loggingMiddleware)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealth)
	r.Get("/readyz", s.handleReady)

	r.Route("/v1/commands", func(r chi.Router) {
		r.Post("/text", s.handleTextCommand)
		r.Post("/audio", s.handleAudioCommand)
	})

	return r
}

func (s *Service) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.log.Debug("HTTP request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}

func (s *Service) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, s.health.report("ok"))
}

func (s *Service) handleReady(w http.ResponseWriter, _ *http.Request) {
	statusCode := http.StatusOK
	status := "ready"
	if !s.health.ready() {
		statusCode = http.StatusServiceUnavailable
		status = "not_ready"
	}

	s.writeJSON(w, statusCode, s.health.report(status))
}

// handleTextCommand handles POST /v1/commands/text.
func (s *Service) handleTextCommand(w http.ResponseWriter, r *http.Request) {
	var req textCommandRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, multipartOverhead)).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	s.accept(w, r, ingest.Submission{UserID: req.UserID, ChatID: req.ChatID, Text: req.Text})
}

// handleAudioCommand handles POST /v1/commands/audio as multipart form data
// with user_id, optional chat_id and mime_type, and the recording in "file".
func (s *Service) handleAudioCommand(w http.ResponseWriter, r *http.Request) {
	limit := s.cfg.MaxAudioBytes
	if limit <= 0 {
		limit = defaultMaxAudioBytes
	}
	r.Body = http.MaxBytesReader(w, r.Body, limit+multipartOverhead)

	if err := r.ParseMultipartForm(multipartOverhead); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid multipart body: "+err.Error())
		return
	}
	defer func() { _ = r.MultipartForm.RemoveAll() }()

	file, header, err := r.FormFile("file")
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "file is required")
		return
	}
	defer file.Close()

	audio, err := io.ReadAll(file)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "read file: "+err.Error())
		return
	}

	mimeType := strings.TrimSpace(r.FormValue("mime_type"))
	if mimeType == "" {
		mimeType = header.Header.Get("Content-Type")
	}

	s.accept(w, r, ingest.Submission{
		UserID:   r.FormValue("user_id"),
		ChatID:   r.FormValue("chat_id"),
		Audio:    audio,
		MimeType: mimeType,
	})
}

func (s *Service) accept(w http.ResponseWriter, r *http.Request, sub ingest.Submission) {
	ref, err := s.submit(r.Context(), sub)
	switch {
	case err == nil:
		s.log.Info("Command accepted", "channel", "http", "message_id", ref.ID, "user_id", ref.UserID)
		s.writeJSON(w, http.StatusAccepted, acceptedResponse{MessageID: ref.ID})
	case errors.Is(err, command.ErrInvalidInput):
		s.writeError(w, http.StatusBadRequest, err.Error())
	default:
		s.log.Error("Failed to submit command", "error", err, "request_id", middleware.GetReqID(r.Context()))
		s.writeError(w, http.StatusInternalServerError, "failed to submit command")
	}
}

func (s *Service) writeJSON(w http.ResponseWriter, statusCode int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.log.Error("Failed to write response", "error", err)
	}
}

func (s *Service) writeError(w http.ResponseWriter, statusCode int, message string) {
	s.writeJSON(w, statusCode, errorResponse{Error: message})
}

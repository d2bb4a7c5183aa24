package web

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/JonMunkholm/maintrack/internal/core"
	"github.com/JonMunkholm/maintrack/internal/logging"
	"github.com/JonMunkholm/maintrack/internal/web/templates"
)

// ErrorResponse is the JSON body of every API error.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Action  string `json:"action,omitempty"`
	Code    string `json:"code"`
}

// statusFor maps core sentinels to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, core.ErrFileTooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, core.ErrNoFile),
		errors.Is(err, core.ErrEmptyFile),
		errors.Is(err, core.ErrEncoding),
		errors.Is(err, core.ErrUnknownMode),
		errors.Is(err, core.ErrInvalidTemplate),
		errors.Is(err, core.ErrInvalidBackup):
		return http.StatusBadRequest
	case errors.Is(err, core.ErrDecoderUnavailable):
		return http.StatusUnsupportedMediaType
	case errors.Is(err, core.ErrPreviewNotFound),
		errors.Is(err, core.ErrTemplateNotFound),
		errors.Is(err, core.ErrWorkOrderNotFound),
		errors.Is(err, core.ErrSnapshotNotFound):
		return http.StatusNotFound
	case errors.Is(err, core.ErrPreviewStale),
		errors.Is(err, core.ErrWorkOrderNotOpen),
		errors.Is(err, core.ErrImportBusy):
		return http.StatusConflict
	case errors.Is(err, core.ErrNoReportLinked):
		return http.StatusUnprocessableEntity
	case errors.Is(err, core.ErrNoReportSource),
		errors.Is(err, core.ErrSnapshotsUnsupported):
		return http.StatusNotImplemented
	case errors.Is(err, core.ErrRateLimited):
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

// fail responds with the status derived from err.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	s.respondError(w, r, err, statusFor(err))
}

// respondError logs the technical error and answers with the mapped user
// message, as an HTML fragment for HTMX, JSON for API clients, or plain text.
func (s *Server) respondError(w http.ResponseWriter, r *http.Request, err error, status int) {
	msg := core.MapError(err)

	level := slog.LevelWarn
	if status >= http.StatusInternalServerError {
		level = slog.LevelError
	}
	logging.FromContext(r.Context()).Log(r.Context(), level, "request error",
		"path", r.URL.Path,
		"method", r.Method,
		"status", status,
		"error", err.Error(),
		"code", msg.Code,
	)

	switch {
	case isHTMX(r):
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.WriteHeader(status)
		if err := templates.ErrorAlert(msg.Message, msg.Action, msg.Code).Render(r.Context(), w); err != nil {
			slog.Warn("render error alert", "error", err)
		}
	case wantsJSON(r):
		respondErrorJSON(w, msg, status)
	default:
		http.Error(w, msg.Message+" ("+msg.Code+")", status)
	}
}

func respondErrorJSON(w http.ResponseWriter, msg core.UserMessage, status int) {
	writeJSON(w, status, ErrorResponse{
		Error:   msg.Message,
		Message: msg.Message,
		Action:  msg.Action,
		Code:    msg.Code,
	})
}

func isHTMX(r *http.Request) bool {
	return r.Header.Get("HX-Request") == "true"
}

func wantsJSON(r *http.Request) bool {
	return strings.Contains(r.Header.Get("Accept"), "application/json") ||
		strings.Contains(r.Header.Get("Content-Type"), "application/json") ||
		strings.HasPrefix(r.URL.Path, "/api/")
}

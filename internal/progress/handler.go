package progress

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/getsentry/sentry-go"

	"lessons-serverless/internal/auth"
)

const maxJSONBodyBytes = 1 << 20

// Log is the per-user progress partition the handlers write to and read from.
type Log interface {
	Append(ctx context.Context, userID, lessonID string, passedAt time.Time) error
	List(ctx context.Context, userID string) ([]CompletionRecord, error)
}

type Handler struct {
	log Log
}

func NewHandler(log Log) *Handler {
	return &Handler{log: log}
}

type recordRequest struct {
	LessonID string    `json:"lessonId"`
	PassedAt Timestamp `json:"passedAt"`
}

func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	identity, ok := auth.IdentityFrom(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "missing authorization token")
		return
	}

	records, err := h.log.List(r.Context(), identity)
	if err != nil {
		sentry.CaptureException(err)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, records)
}

func (h *Handler) Record(w http.ResponseWriter, r *http.Request) {
	identity, ok := auth.IdentityFrom(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "missing authorization token")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBodyBytes)

	var body recordRequest
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}

	body.LessonID = strings.TrimSpace(body.LessonID)
	if body.LessonID == "" {
		writeError(w, http.StatusBadRequest, "lessonId is required")
		return
	}
	if body.PassedAt.IsZero() {
		writeError(w, http.StatusBadRequest, "passedAt is required")
		return
	}

	if err := h.log.Append(r.Context(), identity, body.LessonID, body.PassedAt.Time); err != nil {
		sentry.CaptureException(err)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusCreated, map[string]string{"message": "lesson progress saved"})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

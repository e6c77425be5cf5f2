// Package httpx holds the JSON envelope, error mapping and cookie handling shared by the
// HTTP handlers.
package httpx

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"taskboard-auth/backend/internal/apperr"
)

const maxBodyBytes = 1 << 20

type envelope struct {
	Success bool      `json:"success"`
	Data    any       `json:"data,omitempty"`
	Error   *apiError `json:"error,omitempty"`
	Meta    meta      `json:"meta"`
}

type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type meta struct {
	RequestID string    `json:"request_id"`
	Timestamp time.Time `json:"timestamp"`
}

// JSON writes data in a success envelope.
func JSON(w http.ResponseWriter, r *http.Request, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(envelope{Success: true, Data: data, Meta: buildMeta(r)})
}

// ErrorCode writes an error envelope with an explicit status and code.
func ErrorCode(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(envelope{
		Error: &apiError{Code: code, Message: message},
		Meta:  buildMeta(r),
	})
}

// Error maps a service error to its status, code and client-safe message.
func Error(w http.ResponseWriter, r *http.Request, err error) {
	ErrorCode(w, r, apperr.HTTPStatus(err), apperr.KindOf(err).String(), apperr.Message(err))
}

// Decode reads a JSON body into v. Malformed or oversized bodies are Rejected.
func Decode(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return apperr.New(apperr.Rejected, "Request body is required")
		}
		return apperr.Wrap(apperr.Rejected, "Invalid request body", err)
	}
	return nil
}

func buildMeta(r *http.Request) meta {
	id := chimiddleware.GetReqID(r.Context())
	if id == "" {
		id = r.Header.Get("X-Request-Id")
	}
	if id == "" {
		id = "req-unknown"
	}
	return meta{RequestID: id, Timestamp: time.Now().UTC()}
}

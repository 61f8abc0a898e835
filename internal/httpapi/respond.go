package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"

	"tessera.org/internal/auth"
	"tessera.org/internal/obs"
	"tessera.org/internal/parameter"
)

// Error headers shown to clients next to the message.
const (
	headerAuth       = "AUTH ERROR"
	headerNotExist   = "NOT EXIST"
	headerConflict   = "ALREADY EXIST"
	headerBadRequest = "BAD REQUEST"
	headerValidation = "VALIDATION ERROR"
	headerProcess    = "PROCESS ERROR"
	headerRateLimit  = "TOO MANY REQUESTS"
)

type envelope struct {
	Time      time.Time `json:"time"`
	IsSuccess bool      `json:"isSuccess"`
	Response  any       `json:"response,omitempty"`
}

type errorBody struct {
	Time      time.Time `json:"time"`
	Header    string    `json:"header"`
	Message   string    `json:"message"`
	IsSuccess bool      `json:"isSuccess"`
}

func writeRaw(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// writeJSON wraps v in the success envelope. A nil v yields a bare success.
func writeJSON(w http.ResponseWriter, code int, v any) {
	writeRaw(w, code, envelope{Time: time.Now().UTC(), IsSuccess: true, Response: v})
}

func writeSuccess(w http.ResponseWriter) {
	writeJSON(w, http.StatusOK, nil)
}

func writeError(w http.ResponseWriter, code int, header, msg string) {
	if code == http.StatusUnauthorized {
		w.Header().Set("WWW-Authenticate", `Bearer realm="tessera"`)
	}
	writeRaw(w, code, errorBody{Time: time.Now().UTC(), Header: header, Message: msg})
}

// writeServiceError maps domain error kinds to HTTP statuses.
func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, auth.ErrUnauthorized):
		writeError(w, http.StatusUnauthorized, headerAuth, err.Error())
	case errors.Is(err, auth.ErrAccessDenied):
		writeError(w, http.StatusForbidden, headerAuth, err.Error())
	case errors.Is(err, auth.ErrNotFound), errors.Is(err, parameter.ErrNotExist):
		writeError(w, http.StatusNotFound, headerNotExist, err.Error())
	case errors.Is(err, auth.ErrConflict):
		writeError(w, http.StatusConflict, headerConflict, err.Error())
	case errors.Is(err, auth.ErrInvalidInput):
		writeError(w, http.StatusBadRequest, headerValidation, err.Error())
	default:
		obs.Logger().ErrorContext(r.Context(), "request_failed",
			slog.String("request_id", middleware.GetReqID(r.Context())),
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, headerProcess, "unexpected error occurred")
	}
}

func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is required")
		}
		return err
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		if err == nil {
			return errors.New("unexpected data after JSON body")
		}
		return err
	}
	return nil
}

// readJSON decodes the body or answers 400 and reports false.
func readJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := decodeJSON(r, dst); err != nil {
		writeError(w, http.StatusBadRequest, headerBadRequest, err.Error())
		return false
	}
	return true
}

// internal/controller/respond.go
package controller

import (
    "encoding/json"
    "errors"
    "net/http"
    "strconv"

    "github.com/go-chi/chi/v5"
    "go.uber.org/zap"

    appErrors "github.com/unclebandit/dripmail-backend/internal/errors"
)

// StatusFor maps the error taxonomy onto HTTP status codes.
func StatusFor(err error) int {
    var sendErr *appErrors.SendError
    var genErr *appErrors.GenerationError
    switch {
    case appErrors.IsNotFound(err):
        return http.StatusNotFound
    case errors.Is(err, appErrors.ErrInvalidContact):
        return http.StatusBadRequest
    case errors.Is(err, appErrors.ErrDuplicateContact),
        errors.Is(err, appErrors.ErrInvalidTransition),
        errors.Is(err, appErrors.ErrTickInProgress),
        errors.Is(err, appErrors.ErrStoreConflict):
        return http.StatusConflict
    case errors.Is(err, appErrors.ErrStoreUnavailable):
        return http.StatusServiceUnavailable
    case errors.As(err, &sendErr), errors.As(err, &genErr):
        return http.StatusBadGateway
    }
    return http.StatusInternalServerError
}

func WriteJSON(w http.ResponseWriter, status int, v any) {
    w.Header().Set("Content-Type", "application/json")
    w.WriteHeader(status)
    json.NewEncoder(w).Encode(v)
}

// WriteError logs server-side failures and writes {"error": ...}.
func WriteError(w http.ResponseWriter, log *zap.Logger, err error) {
    status := StatusFor(err)
    if status >= http.StatusInternalServerError {
        log.Error("❌ request failed", zap.Int("status", status), zap.Error(err))
    }
    WriteJSON(w, status, map[string]string{"error": err.Error()})
}

func contactID(r *http.Request) (int64, error) {
    id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
    if err != nil || id < 1 {
        return 0, appErrors.ErrInvalidContact
    }
    return id, nil
}

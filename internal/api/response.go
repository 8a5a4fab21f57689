package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/user/puppy/internal/process"
	"github.com/user/puppy/internal/project"
	"github.com/user/puppy/internal/repl"
	"github.com/user/puppy/internal/session"
)

type errorBody struct {
	Error string `json:"error"`
}

func jsonResponse(w http.ResponseWriter, status int, data any) {
	if w.Header().Get("Content-Type") == "" {
		w.Header().Set("Content-Type", "application/json")
	}
	w.WriteHeader(status)
	if data == nil || status == http.StatusNoContent {
		return
	}
	_ = json.NewEncoder(w).Encode(data)
}

func jsonError(w http.ResponseWriter, status int, message string) {
	jsonResponse(w, status, errorBody{Error: message})
}

// statusFor maps domain errors to HTTP status codes.
func statusFor(err error) int {
	var spawnErr *process.SpawnError
	var openErr *repl.DeviceOpenError
	switch {
	case errors.Is(err, project.ErrNotFound), errors.Is(err, project.ErrFileNotFound), errors.Is(err, repl.ErrDeviceNotFound):
		return http.StatusNotFound
	case errors.Is(err, project.ErrInvalidName), errors.Is(err, project.ErrUnknownTemplate),
		errors.Is(err, project.ErrInvalidPath), errors.Is(err, project.ErrNotText), errors.Is(err, session.ErrNoInput):
		return http.StatusBadRequest
	case errors.Is(err, project.ErrFileTooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, project.ErrExists), errors.Is(err, process.ErrAlreadyRunning),
		errors.Is(err, repl.ErrAlreadyOpen), errors.Is(err, repl.ErrNotOpen):
		return http.StatusConflict
	case errors.As(err, &openErr):
		return http.StatusServiceUnavailable
	case errors.As(err, &spawnErr):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, err error) {
	jsonError(w, statusFor(err), err.Error())
}

package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"vitalwatch/internal/service"
)

type pagination struct {
	Page    int `json:"page"`
	PerPage int `json:"per_page"`
	Total   int `json:"total"`
}

type envelope struct {
	OK         bool        `json:"ok"`
	Data       any         `json:"data"`
	Error      any         `json:"error"`
	Pagination *pagination `json:"pagination"`
}

type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, data any, pg *pagination) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(envelope{
		OK:         status >= 200 && status < 300,
		Data:       data,
		Pagination: pg,
	})
}

func writeErr(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(envelope{
		OK:    false,
		Error: apiError{Code: code, Message: message},
	})
}

const maxBodyBytes = 1 << 20

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}

func parseInt(value string, defaultValue int) int {
	v, err := strconv.Atoi(value)
	if err != nil || v <= 0 {
		return defaultValue
	}
	return v
}

// writeServiceErr maps service sentinels to status codes; anything else is a 500.
func writeServiceErr(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, service.ErrNotFound):
		writeErr(w, http.StatusNotFound, "NOT_FOUND", "not found")
	case errors.Is(err, service.ErrValidation):
		writeErr(w, http.StatusBadRequest, "VALIDATION_ERROR", err.Error())
	case errors.Is(err, service.ErrConflict):
		writeErr(w, http.StatusConflict, "CONFLICT", err.Error())
	default:
		writeErr(w, http.StatusInternalServerError, "INTERNAL", err.Error())
	}
}

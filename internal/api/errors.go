package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/kalambet/bookforge/internal/generation"
	"github.com/kalambet/bookforge/internal/pipeline"
)

const maxRequestBodySize = 1 << 20 // 1MB

func httpError(w http.ResponseWriter, code int, errType string, format string, args ...any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	msg := fmt.Sprintf(format, args...)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{
			"message": msg,
			"type":    errType,
		},
	})
}

// processStatus maps a pipeline failure to an HTTP status and error type.
func processStatus(err error) (int, string) {
	if errors.Is(err, pipeline.ErrNoSource) {
		return http.StatusBadRequest, "invalid_request_error"
	}
	switch generation.Classify(err) {
	case generation.KindContent:
		return http.StatusUnprocessableEntity, "content_error"
	case generation.KindConfiguration:
		return http.StatusServiceUnavailable, "configuration_error"
	case generation.KindTransient:
		return http.StatusBadGateway, "upstream_error"
	}
	return http.StatusInternalServerError, "api_error"
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}

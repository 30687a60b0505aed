// internal/handler/errors.go
package handler

import (
	"errors"
	"net/http"

	"github.com/SyedDaiam9101/cardio-risk-service/internal/artifact"
)

// errorResponse is the JSON body of every failed request.
type errorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
	Type    string `json:"type,omitempty"`
}

const (
	msgBadBody       = "invalid request body"
	msgFeatureCount  = "Invalid number of features. Expected 6 features."
	msgModelNotFound = "model not found"
	msgModelLoad     = "model artifact could not be loaded"
	msgInternal      = "internal server error"
)

// modelError maps a model load failure to a status and a client-safe body.
// Details of the underlying error are never sent to the client.
func modelError(err error) (int, errorResponse) {
	switch {
	case errors.Is(err, artifact.ErrNotFound):
		return http.StatusInternalServerError, errorResponse{
			Error:   msgModelNotFound,
			Details: "model artifact is missing from all configured locations",
		}
	case errors.Is(err, artifact.ErrUnsupportedVersion):
		return http.StatusInternalServerError, errorResponse{Error: msgModelLoad, Type: "artifact_version"}
	case errors.Is(err, artifact.ErrInvalid):
		return http.StatusInternalServerError, errorResponse{Error: msgModelLoad, Type: "artifact_invalid"}
	default:
		return http.StatusInternalServerError, errorResponse{Error: msgModelLoad, Type: "model_load"}
	}
}

// inferenceError is the body for any failure past model loading.
func inferenceError() (int, errorResponse) {
	return http.StatusInternalServerError, errorResponse{Error: msgInternal, Type: "inference"}
}

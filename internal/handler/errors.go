package handler

import (
	"encoding/json"
	"net/http"

	"github.com/SyedDaiam9101/detector-service/internal/apperr"
)

// ErrorResponse is the JSON body of every rejection.
type ErrorResponse struct {
	Detail string `json:"detail"`
	Code   string `json:"code"`
}

// httpStatus maps a rejection kind to its HTTP status code
func httpStatus(kind apperr.Kind) int {
	switch kind {
	case apperr.EmptyPayload, apperr.InvalidImage:
		return http.StatusBadRequest
	case apperr.Unauthorized:
		return http.StatusUnauthorized
	case apperr.PayloadTooLarge:
		return http.StatusRequestEntityTooLarge
	case apperr.UnsupportedContentType:
		return http.StatusUnsupportedMediaType
	case apperr.InvalidParameter:
		return http.StatusUnprocessableEntity
	case apperr.ModelUnavailable, apperr.Overloaded:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// invalidParameterError creates an InvalidParameter rejection
func invalidParameterError(format string, args ...interface{}) error {
	return apperr.New(apperr.InvalidParameter, format, args...)
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func sendErrorResponse(w http.ResponseWriter, err error) {
	kind := apperr.KindOf(err)
	writeJSON(w, httpStatus(kind), ErrorResponse{
		Detail: apperr.MessageOf(err),
		Code:   string(kind),
	})
}

// Package httputil holds shared HTTP request/response helpers.
package httputil

import (
	"encoding/json"
	"fmt"
	"net/http"

	apperr "github.com/saficlean/marketplace/internal/errors"
)

// WriteJSON encodes v as the response body with the given status.
func WriteJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		_ = json.NewEncoder(w).Encode(v)
	}
}

// ErrorBody is the JSON shape of all error responses.
type ErrorBody struct {
	Error struct {
		Code    apperr.Code            `json:"code"`
		Message string                 `json:"message"`
		Details map[string]interface{} `json:"details,omitempty"`
	} `json:"error"`
}

// WriteError maps err to its HTTP status and writes the error envelope.
// Unrecognized errors become opaque 500s so internals never leak.
func WriteError(w http.ResponseWriter, err error) {
	var body ErrorBody
	if svcErr := apperr.GetServiceError(err); svcErr != nil {
		body.Error.Code = svcErr.Code
		body.Error.Message = svcErr.Message
		body.Error.Details = svcErr.Details
		WriteJSON(w, svcErr.HTTPStatus, body)
		return
	}
	body.Error.Code = apperr.CodeInternal
	body.Error.Message = "internal server error"
	WriteJSON(w, http.StatusInternalServerError, body)
}

// DecodeJSON parses the request body into v, rejecting unknown fields.
func DecodeJSON(r *http.Request, v interface{}) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return apperr.Validation(fmt.Sprintf("invalid request body: %v", err))
	}
	return nil
}

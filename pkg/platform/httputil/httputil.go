// Package httputil holds the JSON response and error envelope helpers shared by
// the HTTP handlers.
package httputil

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	dErrors "enrollgate/pkg/domain-errors"
)

const maxBodyBytes = 64 << 10

// ErrorResponse is the JSON error envelope.
type ErrorResponse struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description,omitempty"`
}

// WriteJSON writes payload with status.
func WriteJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// WriteError translates err into the error envelope. Untagged and internal
// errors never leak their message.
func WriteError(w http.ResponseWriter, err error) {
	code := dErrors.CodeOf(err)
	resp := ErrorResponse{Error: errorCode(code)}
	if code != dErrors.CodeInternal {
		var de *dErrors.Error
		if errors.As(err, &de) {
			resp.ErrorDescription = de.Message
		}
	}
	WriteJSON(w, StatusFor(code), resp)
}

// StatusFor maps a domain error code to its HTTP status.
func StatusFor(code dErrors.Code) int {
	switch code {
	case dErrors.CodeInvalidInput:
		return http.StatusBadRequest
	case dErrors.CodeNotFound:
		return http.StatusNotFound
	case dErrors.CodeExpired:
		return http.StatusGone
	case dErrors.CodePreconditionNotMet, dErrors.CodeAlreadyConverted:
		return http.StatusConflict
	case dErrors.CodeDocumentsIncomplete:
		return http.StatusUnprocessableEntity
	case dErrors.CodeTransient, dErrors.CodeStorageUnavailable:
		return http.StatusServiceUnavailable
	case dErrors.CodePermanent:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func errorCode(code dErrors.Code) string {
	if code == dErrors.CodeInternal {
		return "internal_error"
	}
	return string(code)
}

// DecodeJSON decodes a bounded request body into out. Unknown fields are
// rejected.
func DecodeJSON(r *http.Request, out any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(out); err != nil {
		if errors.Is(err, io.EOF) {
			return dErrors.New(dErrors.CodeInvalidInput, "request body is required")
		}
		return dErrors.Wrap(err, dErrors.CodeInvalidInput, fmt.Sprintf("invalid request body: %v", err))
	}
	return nil
}

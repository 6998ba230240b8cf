// Package httputil holds the JSON request/response helpers shared by the HTTP
// handlers and middleware.
package httputil

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/clothbridge/clothbridge/internal/errors"
	"github.com/clothbridge/clothbridge/internal/logging"
)

// MaxJSONBody caps JSON request bodies.
const MaxJSONBody = 1 << 20

// ErrorBody is the envelope written for failed requests.
type ErrorBody struct {
	Error ErrorDetail `json:"error"`
}

type ErrorDetail struct {
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
	TraceID string                 `json:"trace_id,omitempty"`
}

// WriteJSON encodes payload with the given status.
func WriteJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(payload)
}

// WriteErrorResponse writes an error envelope.
func WriteErrorResponse(w http.ResponseWriter, r *http.Request, status int, code, message string, details map[string]interface{}) {
	body := ErrorBody{Error: ErrorDetail{Code: code, Message: message, Details: details}}
	if r != nil {
		body.Error.TraceID = logging.GetTraceID(r.Context())
	}
	WriteJSON(w, status, body)
}

// WriteError maps err onto the envelope. Errors that are not service errors
// become 500s and their text is not exposed.
func WriteError(w http.ResponseWriter, r *http.Request, err error) {
	se := errors.GetServiceError(err)
	if se == nil {
		se = errors.Internal("Internal server error", err)
	}
	WriteErrorResponse(w, r, se.HTTPStatus, string(se.Code), se.Message, se.Details)
}

func MethodNotAllowed(w http.ResponseWriter) {
	WriteErrorResponse(w, nil, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
}

// DecodeJSON decodes a single JSON document into dst and rejects unknown
// fields and trailing data.
func DecodeJSON(r *http.Request, dst interface{}) error {
	if r.Body == nil {
		return errors.BadRequest("request body is required")
	}
	return DecodeJSONReader(io.LimitReader(r.Body, MaxJSONBody), dst)
}

// DecodeJSONReader is DecodeJSON over an arbitrary reader (multipart payload
// fields go through here).
func DecodeJSONReader(body io.Reader, dst interface{}) error {
	dec := json.NewDecoder(body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if err == io.EOF {
			return errors.BadRequest("request body is required")
		}
		return errors.BadRequest(fmt.Sprintf("invalid JSON payload: %v", err))
	}
	if dec.More() {
		return errors.BadRequest("request body must contain a single JSON document")
	}
	return nil
}

// BearerToken returns the token from an Authorization header, or "".
func BearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

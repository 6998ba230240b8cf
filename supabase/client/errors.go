package client

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/tidwall/gjson"
)

// Error is a failure reported by one of the Supabase services. PostgREST,
// GoTrue and Storage each use a different body shape; parseError folds them
// into this one type.
type Error struct {
	StatusCode int
	Code       string
	Message    string
	Details    string
	Hint       string
}

func (e *Error) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("supabase error %d (%s): %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("supabase error %d: %s", e.StatusCode, e.Message)
}

// NotFound reports a missing row (PGRST116 on single-object reads) or object.
func (e *Error) NotFound() bool {
	return e.StatusCode == http.StatusNotFound || e.Code == "PGRST116"
}

// AsError extracts a *Error from err.
func AsError(err error) (*Error, bool) {
	var se *Error
	if errors.As(err, &se) {
		return se, true
	}
	return nil, false
}

// IsNotFound reports whether err is a not-found *Error.
func IsNotFound(err error) bool {
	se, ok := AsError(err)
	return ok && se.NotFound()
}

func parseError(status int, body []byte) *Error {
	e := &Error{StatusCode: status}
	if !gjson.ValidBytes(body) {
		e.Message = http.StatusText(status)
		return e
	}

	res := gjson.ParseBytes(body)
	e.Message = firstString(res, "message", "msg", "error_description", "error")
	e.Code = firstString(res, "code", "error_code", "statusCode")
	e.Details = res.Get("details").String()
	e.Hint = res.Get("hint").String()
	if e.Message == "" {
		e.Message = http.StatusText(status)
	}
	return e
}

func firstString(res gjson.Result, paths ...string) string {
	for _, p := range paths {
		if v := res.Get(p); v.Exists() && v.String() != "" {
			return v.String()
		}
	}
	return ""
}

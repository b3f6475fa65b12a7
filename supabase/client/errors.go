package client

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/tidwall/gjson"
)

// Postgres and PostgREST codes that mean the queried relation is absent.
const (
	CodeUndefinedTable    = "42P01"
	CodeSchemaCacheMissed = "PGRST205"
)

// APIError is a decoded PostgREST or GoTrue error response.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
	Details    string
	Hint       string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("supabase error %s: %s", e.Code, e.Message)
	}
	return fmt.Sprintf("supabase error: %s", e.Message)
}

// ErrorCode returns the backend error code, if any.
func (e *APIError) ErrorCode() string {
	return e.Code
}

// RelationMissing reports whether the error means the table does not exist.
func (e *APIError) RelationMissing() bool {
	switch e.Code {
	case CodeUndefinedTable, CodeSchemaCacheMissed:
		return true
	}
	return strings.Contains(e.Message, "does not exist") && strings.Contains(e.Message, "relation")
}

// IsRelationMissing reports whether err carries an APIError for a missing table.
func IsRelationMissing(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.RelationMissing()
}

// decodeAPIError builds an APIError from a response body. PostgREST uses
// message/code/details/hint; GoTrue uses msg, error_description or error.
func decodeAPIError(status int, body []byte) *APIError {
	apiErr := &APIError{StatusCode: status}
	if len(body) == 0 || !gjson.ValidBytes(body) {
		apiErr.Message = strings.TrimSpace(string(body))
		if apiErr.Message == "" {
			apiErr.Message = fmt.Sprintf("status %d %s", status, http.StatusText(status))
		}
		return apiErr
	}

	parsed := gjson.ParseBytes(body)
	apiErr.Code = firstString(parsed, "code", "error_code")
	apiErr.Message = firstString(parsed, "message", "msg", "error_description", "error")
	apiErr.Details = parsed.Get("details").String()
	apiErr.Hint = parsed.Get("hint").String()
	if apiErr.Message == "" {
		apiErr.Message = fmt.Sprintf("status %d %s", status, http.StatusText(status))
	}
	return apiErr
}

func firstString(res gjson.Result, paths ...string) string {
	for _, p := range paths {
		v := res.Get(p)
		if v.Exists() && v.Type != gjson.Null {
			if s := strings.TrimSpace(v.String()); s != "" {
				return s
			}
		}
	}
	return ""
}

package handler

import (
	"net/http"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"

	"github.com/agentuity/readaside/item"
)

// ValidationError is a malformed request. It maps to 400.
type ValidationError struct {
	Field  string
	Reason string
	Err    error
}

func (e *ValidationError) Error() string {
	if e.Err != nil {
		return e.Field + ": " + e.Reason + ": " + e.Err.Error()
	}
	return e.Field + ": " + e.Reason
}

func (e *ValidationError) Unwrap() error { return e.Err }

// ReadRequest is a parsed read.
type ReadRequest struct {
	Key    item.Key
	ID     uuid.UUID
	Fields []string // projection; empty means every column
}

// ParseReadRequest reads the id from the {id} path segment or the id query
// parameter, and an optional comma separated fields projection.
func ParseReadRequest(r *http.Request) (ReadRequest, error) {
	raw := r.PathValue("id")
	if raw == "" {
		raw = r.URL.Query().Get("id")
	}
	key, id, err := item.ParseKey(raw)
	if err != nil {
		return ReadRequest{}, &ValidationError{Field: "id", Reason: "must be a uuid", Err: err}
	}

	req := ReadRequest{Key: key, ID: id}
	if list := r.URL.Query().Get("fields"); list != "" {
		seen := make(map[string]bool)
		for _, f := range strings.Split(list, ",") {
			f = strings.TrimSpace(f)
			if f == "" || seen[f] {
				continue
			}
			if !item.IsColumn(f) {
				return ReadRequest{}, &ValidationError{Field: "fields", Reason: "unknown field " + f}
			}
			seen[f] = true
			req.Fields = append(req.Fields, f)
		}
	}
	return req, nil
}

// IsValidationError reports whether err is, or wraps, a ValidationError.
func IsValidationError(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}

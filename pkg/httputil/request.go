package httputil

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/platinummonkey/warden/pkg/access"
)

// ParseJSON decodes the request body into dest. Unknown fields and malformed
// bodies are validation errors. An empty body leaves dest untouched.
func ParseJSON(r *http.Request, dest interface{}) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dest); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return access.Invalid("body", "invalid JSON: %v", err)
	}
	return nil
}

// PathVar returns a path parameter captured by the router
func PathVar(r *http.Request, key string) string {
	return mux.Vars(r)[key]
}

// ParseQueryInt extracts and parses an integer query parameter
func ParseQueryInt(r *http.Request, key string, defaultVal int) (int, error) {
	str := r.URL.Query().Get(key)
	if str == "" {
		return defaultVal, nil
	}
	val, err := strconv.Atoi(str)
	if err != nil {
		return 0, access.Invalid(key, "invalid integer %q", str)
	}
	return val, nil
}

// ParseQueryTime extracts an RFC 3339 timestamp. It returns nil when the
// parameter is absent.
func ParseQueryTime(r *http.Request, key string) (*time.Time, error) {
	str := r.URL.Query().Get(key)
	if str == "" {
		return nil, nil
	}
	val, err := time.Parse(time.RFC3339, str)
	if err != nil {
		return nil, access.Invalid(key, "invalid RFC 3339 timestamp %q", str)
	}
	return &val, nil
}

// ParseQueryList returns every value of a repeatable query parameter
func ParseQueryList(r *http.Request, key string) []string {
	return r.URL.Query()[key]
}

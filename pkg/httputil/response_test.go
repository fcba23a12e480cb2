package httputil

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/warden/pkg/access"
)

func TestWriteJSON(t *testing.T) {
	w := httptest.NewRecorder()
	data := map[string]string{"message": "success"}

	err := WriteJSON(w, http.StatusOK, data)

	assert.NoError(t, err)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
	assert.Contains(t, w.Body.String(), "success")
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
	}{
		{"validation", access.Invalid("name", "required"), http.StatusBadRequest},
		{"denied", access.Denied(access.ReasonInsufficientRank), http.StatusForbidden},
		{"quota", access.Denied(access.ReasonQuotaExceeded), http.StatusTooManyRequests},
		{"not found", fmt.Errorf("tenant acme: %w", access.ErrNotFound), http.StatusNotFound},
		{"conflict", access.Conflict("template", "stale"), http.StatusConflict},
		{"unavailable", access.Unavailable("get", errors.New("conn refused")), http.StatusServiceUnavailable},
		{"other", errors.New("boom"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.status, StatusFor(tt.err))
		})
	}
}

func TestWriteError(t *testing.T) {
	t.Run("validation carries the field", func(t *testing.T) {
		w := httptest.NewRecorder()
		WriteError(w, access.Invalid("amount", "must be at least 1"))

		var body ErrorResponse
		require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Equal(t, "amount", body.Field)
	})

	t.Run("denied carries the reason", func(t *testing.T) {
		w := httptest.NewRecorder()
		WriteError(w, access.Denied(access.ReasonTenantSuspended))

		var body ErrorResponse
		require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
		assert.Equal(t, http.StatusForbidden, w.Code)
		assert.Equal(t, access.ReasonTenantSuspended, body.Reason)
	})

	t.Run("store failures hide the cause", func(t *testing.T) {
		w := httptest.NewRecorder()
		WriteError(w, access.Unavailable("get", errors.New("password authentication failed")))

		assert.Equal(t, http.StatusServiceUnavailable, w.Code)
		assert.NotContains(t, w.Body.String(), "password")
	})
}

func TestWriteErrorMessage(t *testing.T) {
	w := httptest.NewRecorder()

	WriteErrorMessage(w, http.StatusNotFound, "resource not found")

	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Contains(t, w.Body.String(), "resource not found")
}

func TestWriteCreated(t *testing.T) {
	w := httptest.NewRecorder()

	err := WriteCreated(w, map[string]string{"id": "acme"})

	assert.NoError(t, err)
	assert.Equal(t, http.StatusCreated, w.Code)
}

func TestWriteNoContent(t *testing.T) {
	w := httptest.NewRecorder()

	WriteNoContent(w)

	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Empty(t, w.Body.String())
}

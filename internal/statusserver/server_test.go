package statusserver

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func get(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestServer_Routes(t *testing.T) {

	status := func(context.Context) (any, error) {
		return map[string]any{"status": "HALTED", "trades_today": 2}, nil
	}
	h := New(":0", status, nil).Handler()

	rec := get(t, h, "/healthz")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())

	rec = get(t, h, "/status")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"HALTED","trades_today":2}`, rec.Body.String())

	rec = get(t, h, "/metrics")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}

func TestServer_StatusErrors(t *testing.T) {

	h := New(":0", func(context.Context) (any, error) { return nil, errors.New("state unreadable") }, nil).Handler()
	rec := get(t, h, "/status")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Body.String(), "state unreadable")

	rec = get(t, New(":0", nil, nil).Handler(), "/status")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

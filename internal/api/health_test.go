package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var body map[string]interface{}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	return body
}

func TestHealthz(t *testing.T) {
	h := &HealthHandler{}
	rec := httptest.NewRecorder()

	h.Healthz(rec, httptest.NewRequest("GET", "/healthz", nil))

	assert.Equal(t, 200, rec.Code)
	assert.Equal(t, "ok", decodeBody(t, rec)["status"])
}

func TestReadyzAllHealthy(t *testing.T) {
	h := &HealthHandler{checks: map[string]func(context.Context) error{
		"database": func(context.Context) error { return nil },
		"redis":    func(context.Context) error { return nil },
	}}
	rec := httptest.NewRecorder()

	h.Readyz(rec, httptest.NewRequest("GET", "/readyz", nil))

	require.Equal(t, 200, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, "ok", body["status"])
	checks := body["checks"].(map[string]interface{})
	assert.Equal(t, "ok", checks["database"])
	assert.Equal(t, "ok", checks["redis"])
}

func TestReadyzFailingDependency(t *testing.T) {
	h := &HealthHandler{checks: map[string]func(context.Context) error{
		"database": func(context.Context) error { return nil },
		"redis":    func(context.Context) error { return errors.New("connection refused") },
	}}
	rec := httptest.NewRecorder()

	h.Readyz(rec, httptest.NewRequest("GET", "/readyz", nil))

	require.Equal(t, 503, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, "unhealthy", body["status"])
	checks := body["checks"].(map[string]interface{})
	assert.Equal(t, "ok", checks["database"])
	assert.Contains(t, checks["redis"], "unhealthy")
}

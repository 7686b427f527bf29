package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestOperationalRoutes(t *testing.T) {
	t.Run("healthz always answers ok", func(t *testing.T) {
		handler := New().Handler()
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

		require.Equal(t, http.StatusOK, rec.Code)
		var body map[string]string
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		require.Equal(t, "ok", body["status"])
	})

	t.Run("readyz passes when every probe passes", func(t *testing.T) {
		handler := New(
			WithCheck("postgres", func(context.Context) error { return nil }),
			WithCheck("redis", func(context.Context) error { return nil }),
		).Handler()
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))

		require.Equal(t, http.StatusOK, rec.Code)
		var body struct {
			Status string            `json:"status"`
			Checks map[string]string `json:"checks"`
		}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		require.Equal(t, "ready", body.Status)
		require.Equal(t, "ok", body.Checks["postgres"])
		require.Equal(t, "ok", body.Checks["redis"])
	})

	t.Run("readyz names the failing probe", func(t *testing.T) {
		handler := New(
			WithCheck("postgres", func(context.Context) error { return nil }),
			WithCheck("redis", func(context.Context) error { return errors.New("connection refused") }),
		).Handler()
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))

		require.Equal(t, http.StatusServiceUnavailable, rec.Code)
		var body struct {
			Status string            `json:"status"`
			Checks map[string]string `json:"checks"`
		}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		require.Equal(t, "unavailable", body.Status)
		require.Equal(t, "ok", body.Checks["postgres"])
		require.Equal(t, "connection refused", body.Checks["redis"])
	})

	t.Run("nil checks are skipped", func(t *testing.T) {
		handler := New(WithCheck("redis", nil)).Handler()
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
		require.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("metrics serves the prometheus registry", func(t *testing.T) {
		handler := New().Handler()
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

		require.Equal(t, http.StatusOK, rec.Code)
		require.Contains(t, rec.Body.String(), "go_goroutines")
	})
}

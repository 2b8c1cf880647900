package http

import (
	"context"
	"encoding/json"
	"errors"
	stdhttp "net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeDB struct{ err error }

func (f fakeDB) Ping(context.Context) error { return f.err }

type fakeCounter int

func (c fakeCounter) Len() int { return int(c) }

func healthRouter(db HealthChecker, connections ConnectionCounter) *chi.Mux {
	r := chi.NewRouter()
	NewHealthHandler(db, connections, "test").RegisterRoutes(r)
	return r
}

func TestHealthHandler(t *testing.T) {
	t.Run("healthy with connection count", func(t *testing.T) {
		rec := httptest.NewRecorder()
		healthRouter(fakeDB{}, fakeCounter(3)).ServeHTTP(rec, httptest.NewRequest("GET", "/health", nil))

		require.Equal(t, stdhttp.StatusOK, rec.Code)
		var body map[string]any
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		assert.Equal(t, "healthy", body["status"])
		assert.EqualValues(t, 3, body["connections"])
	})

	t.Run("readiness fails when database is down", func(t *testing.T) {
		rec := httptest.NewRecorder()
		healthRouter(fakeDB{err: errors.New("down")}, nil).ServeHTTP(rec, httptest.NewRequest("GET", "/health/ready", nil))

		assert.Equal(t, stdhttp.StatusServiceUnavailable, rec.Code)
	})

	t.Run("liveness ignores the database", func(t *testing.T) {
		rec := httptest.NewRecorder()
		healthRouter(fakeDB{err: errors.New("down")}, nil).ServeHTTP(rec, httptest.NewRequest("GET", "/health/live", nil))

		assert.Equal(t, stdhttp.StatusOK, rec.Code)
	})
}

func TestOriginAllowed(t *testing.T) {
	allowed := []string{"app.salon.io", "*.bookings.io"}

	assert.True(t, originAllowed("app.salon.io", allowed))
	assert.True(t, originAllowed("eu.bookings.io", allowed))
	assert.True(t, originAllowed("bookings.io", allowed))
	assert.False(t, originAllowed("evil.io", allowed))
	assert.False(t, originAllowed("notbookings.io", allowed))
	assert.True(t, originAllowed("anything", []string{"*"}))
}

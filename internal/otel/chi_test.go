package otel

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
)

func TestMiddleware_PassesStatusThrough(t *testing.T) {
	mw := Middleware()
	for _, status := range []int{http.StatusOK, http.StatusBadGateway} {
		h := mw(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(status)
		}))
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/x", nil))
		assert.Equal(t, status, rec.Code)
	}
}

func TestMiddleware_ChiRoutePattern(t *testing.T) {
	r := chi.NewRouter()
	r.Use(Middleware())
	var pattern string
	r.Post("/v1/workflows/{workflow}", func(w http.ResponseWriter, r *http.Request) {
		pattern = routePattern(r)
		w.WriteHeader(http.StatusOK)
	})
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/workflows/workout", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "/v1/workflows/{workflow}", pattern)
}

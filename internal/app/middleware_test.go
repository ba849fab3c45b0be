package app

import (
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

// nextHandler is a dummy handler that checks for a user ID in the context.
func nextHandler(t *testing.T, expectedUserID string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := getUserIDFromContext(r)
		require.True(t, ok, "user ID not found in context")
		assert.Equal(t, expectedUserID, userID)
		fmt.Fprintln(w, "next handler called")
	}
}

func TestRequireUserMiddleware(t *testing.T) {
	app := &Application{Logger: zap.NewNop().Sugar()}

	t.Run("with user header", func(t *testing.T) {
		req := httptest.NewRequest("GET", "/api/v1/logs", nil)
		req.Header.Set(UserIDHeader, " user-123 ")
		rr := httptest.NewRecorder()

		app.requireUser(nextHandler(t, "user-123")).ServeHTTP(rr, req)

		assert.Equal(t, http.StatusOK, rr.Code)
		body, _ := io.ReadAll(rr.Body)
		assert.Contains(t, string(body), "next handler called")
	})

	t.Run("without user header", func(t *testing.T) {
		req := httptest.NewRequest("GET", "/api/v1/logs", nil)
		rr := httptest.NewRecorder()

		dummyHandler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			t.Fatal("next handler should not be called")
		})
		app.requireUser(dummyHandler).ServeHTTP(rr, req)

		assert.Equal(t, http.StatusUnauthorized, rr.Code)
		assert.Contains(t, rr.Body.String(), UserIDHeader)
	})
}

func TestLogRequestsMiddleware(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	app := &Application{Logger: zap.New(core).Sugar()}

	handler := app.logRequests(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest("DELETE", "/api/v1/schedules/x", nil))

	assert.Equal(t, http.StatusTeapot, rr.Code)
	entries := logs.FilterMessage("HTTP request").All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	assert.Equal(t, "DELETE", fields["method"])
	assert.Equal(t, int64(http.StatusTeapot), fields["status"])
}

package app

import (
	"context"
	"net/http"
	"strings"
	"time"
)

// contextKey is a custom type to use as a key for context values.
type contextKey string

// userContextKey is the key for storing the user ID in the request context.
const userContextKey = contextKey("userID")

// UserIDHeader carries the caller's identity, set by the fronting gateway.
const UserIDHeader = "X-User-ID"

// requireUser rejects requests that do not identify a user.
func (a *Application) requireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID := strings.TrimSpace(r.Header.Get(UserIDHeader))
		if userID == "" {
			writeError(w, http.StatusUnauthorized, "missing "+UserIDHeader+" header")
			return
		}
		next.ServeHTTP(w, withUserID(r, userID))
	})
}

// statusRecorder captures the response code for request logging.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// logRequests logs one line per request.
func (a *Application) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		a.Logger.Debugw("HTTP request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"duration", time.Since(start),
		)
	})
}

// withUserID adds the user ID to the request's context.
func withUserID(r *http.Request, userID string) *http.Request {
	ctx := context.WithValue(r.Context(), userContextKey, userID)
	return r.WithContext(ctx)
}

// getUserIDFromContext retrieves the user ID from the request's context.
func getUserIDFromContext(r *http.Request) (string, bool) {
	userID, ok := r.Context().Value(userContextKey).(string)
	return userID, ok
}

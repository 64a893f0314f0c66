package middleware

import (
	"fmt"
	"net/http"
	"time"

	"botvault/internal/errors"
	"botvault/internal/logging"
	"botvault/internal/metrics"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// RequestIDHeader carries the request id in both directions.
const RequestIDHeader = "X-Request-ID"

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (w *responseWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

type Middleware func(http.Handler) http.Handler

// Chain wraps h so that the last middleware runs first.
func Chain(h http.Handler, middlewares ...Middleware) http.Handler {
	for _, m := range middlewares {
		h = m(h)
	}
	return h
}

// RequestID reuses an incoming X-Request-ID or generates one.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get(RequestIDHeader)
		if requestID == "" {
			requestID = uuid.New().String()
		}
		ctx := logging.WithRequestID(r.Context(), requestID)
		w.Header().Set(RequestIDHeader, requestID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func Logger(logger *logging.Logger) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			// Create response wrapper to capture status code
			wrapper := &responseWriter{ResponseWriter: w, status: http.StatusOK}

			next.ServeHTTP(wrapper, r)

			logger.WithRequestID(r.Context()).Info("request completed",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", wrapper.status),
				zap.Duration("duration", time.Since(start)),
			)
		})
	}
}

// Metrics counts responses by method and status class.
func Metrics(m *metrics.Metrics) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			wrapper := &responseWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(wrapper, r)
			m.RecordRequest(r.Method, wrapper.status)
		})
	}
}

func Recover(logger *logging.Logger) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if err := recover(); err != nil {
					logger.WithRequestID(r.Context()).Error("panic recovered",
						zap.Any("error", err),
					)
					errors.WriteHTTP(w, fmt.Errorf("panic: %v", err))
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

// Authorizer decides whether a request may perform action on the tenant
// named in its path. The store performs no permission checks of its own.
type Authorizer interface {
	Authorize(r *http.Request, tenant, action string) error
}

// AuthorizerFunc adapts a function to Authorizer.
type AuthorizerFunc func(r *http.Request, tenant, action string) error

func (f AuthorizerFunc) Authorize(r *http.Request, tenant, action string) error {
	return f(r, tenant, action)
}

// AllowAll permits every request.
var AllowAll Authorizer = AuthorizerFunc(func(*http.Request, string, string) error { return nil })

// Authorize guards a route registered with a {botId} wildcard. A denial
// is answered with 403 unless the authorizer returned a typed error.
func Authorize(a Authorizer, action string) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if err := a.Authorize(r, r.PathValue("botId"), action); err != nil {
				if errors.TypeOf(err) == errors.ErrorTypeInternal {
					err = errors.Forbidden("not allowed to " + action)
				}
				errors.WriteHTTP(w, err)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

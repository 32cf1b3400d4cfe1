// Package httpx provides HTTP middleware and JSON response helpers.
package httpx

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"runtime/debug"
	"strings"
	"sync/atomic"
	"time"

	apperrors "github.com/Natural-Highs/live-sub000/internal/platform/errors"
	"github.com/Natural-Highs/live-sub000/internal/platform/requestctx"
	"github.com/golang/glog"
)

// MaxBodyBytes caps request bodies read by ReadBody and DecodeJSON.
const MaxBodyBytes = 64 << 10

// Middleware wraps an HTTP handler.
type Middleware func(http.Handler) http.Handler

var requestIDCounter atomic.Uint64

// Chain applies middleware in declaration order.
func Chain(handler http.Handler, middleware ...Middleware) http.Handler {
	if handler == nil {
		handler = http.NotFoundHandler()
	}
	wrapped := handler
	for idx := len(middleware) - 1; idx >= 0; idx-- {
		if middleware[idx] == nil {
			continue
		}
		wrapped = middleware[idx](wrapped)
	}
	return wrapped
}

// RequestID injects and echoes a request id for correlation.
func RequestID() Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			requestID := strings.TrimSpace(r.Header.Get("X-Request-ID"))
			if requestID == "" {
				requestID = fmt.Sprintf("live-%d-%d", time.Now().UnixNano(), requestIDCounter.Add(1))
			}
			w.Header().Set("X-Request-ID", requestID)
			next.ServeHTTP(w, r.WithContext(requestctx.WithRequestID(r.Context(), requestID)))
		})
	}
}

// RecoverPanic converts panics into HTTP 500 responses.
func RecoverPanic() Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if recovered := recover(); recovered != nil {
					glog.Errorf(
						"panic recovered method=%s path=%s request_id=%s panic=%v stack=%s",
						r.Method,
						r.URL.Path,
						requestctx.RequestIDFromContext(r.Context()),
						recovered,
						strings.TrimSpace(string(debug.Stack())),
					)
					w.WriteHeader(http.StatusInternalServerError)
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

// WriteJSON writes a JSON response with the provided status code.
func WriteJSON(w http.ResponseWriter, status int, payload any) error {
	if w == nil {
		return fmt.Errorf("response writer is required")
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	return json.NewEncoder(w).Encode(payload)
}

// ErrorBody is the JSON shape of every error response.
type ErrorBody struct {
	Error string `json:"error"`
	Code  string `json:"code"`
	Field string `json:"field,omitempty"`
}

// WriteError writes a typed error response. Errors without a domain code are
// logged and rendered as a generic 500 so internals never reach the client.
func WriteError(w http.ResponseWriter, r *http.Request, err error) {
	if w == nil {
		return
	}
	code := apperrors.GetCode(err)
	status := apperrors.HTTPStatus(err)
	body := ErrorBody{Error: http.StatusText(status), Code: string(code)}
	var domainErr *apperrors.Error
	if code != apperrors.CodeUnknown && errors.As(err, &domainErr) {
		body.Error = domainErr.Message
		body.Field = domainErr.Metadata["field"]
	}
	if status >= http.StatusInternalServerError {
		requestID, userID := "-", ""
		if r != nil {
			requestID = requestctx.RequestIDFromContext(r.Context())
			userID = requestctx.UserIDFromContext(r.Context())
		}
		glog.Errorf("request_id=%s user_id=%q internal error: %v", requestID, userID, err)
	}
	_ = WriteJSON(w, status, body)
}

// ReadBody reads at most MaxBodyBytes from the request body.
func ReadBody(w http.ResponseWriter, r *http.Request) ([]byte, error) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, MaxBodyBytes))
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeValidation, "request body could not be read", err)
	}
	return body, nil
}

// DecodeJSON decodes the request body into target, rejecting unknown fields.
func DecodeJSON(w http.ResponseWriter, r *http.Request, target any) error {
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, MaxBodyBytes))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(target); err != nil {
		return apperrors.Wrap(apperrors.CodeValidation, "request body is not valid JSON", err)
	}
	return nil
}

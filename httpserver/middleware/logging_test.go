/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package middleware

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/tollgate/tollgate/log"
	"github.com/tollgate/tollgate/log/logtest"
)

type mockLoggingNextHandler struct {
	called                   int
	lastContextLogger        log.FieldLogger
	lastContextLoggingParams *LoggingParams
	respStatusCode           int
	extraFields              []log.Field
	delay                    time.Duration
}

func (h *mockLoggingNextHandler) ServeHTTP(rw http.ResponseWriter, r *http.Request) {
	h.called++
	h.lastContextLogger = GetLoggerFromContext(r.Context())
	h.lastContextLoggingParams = GetLoggingParamsFromContext(r.Context())
	if len(h.extraFields) != 0 {
		h.lastContextLoggingParams.ExtendFields(h.extraFields...)
	}
	time.Sleep(h.delay)
	rw.WriteHeader(h.respStatusCode)
	_, _ = rw.Write([]byte(http.StatusText(h.respStatusCode)))
}

func TestLoggingHandler_ServeHTTP(t *testing.T) {
	const (
		extReqID    = "external-request-id"
		intReqID    = "internal-request-id"
		userAgent   = "http-client"
		urlPath     = "/endpoint"
		bodyContent = "body-content"
	)

	requireCommonFields := func(t *testing.T, logEntry logtest.RecordedEntry) {
		requireLogFieldString(t, logEntry, "request_id", extReqID)
		requireLogFieldString(t, logEntry, "int_request_id", intReqID)
		requireLogFieldString(t, logEntry, "method", http.MethodPost)
		requireLogFieldString(t, logEntry, "uri", urlPath)
		requireLogFieldInt(t, logEntry, "content_length", len(bodyContent))
		requireLogFieldString(t, logEntry, userAgentLogFieldKey, userAgent)
	}

	newRequest := func() *http.Request {
		req := httptest.NewRequest(http.MethodPost, urlPath, bytes.NewReader([]byte(bodyContent)))
		req.Header.Set("X-Header-1", "header1-value")
		req.Header.Set("User-Agent", userAgent)
		ctx := NewContextWithInternalRequestID(NewContextWithRequestID(req.Context(), extReqID), intReqID)
		return req.WithContext(ctx)
	}

	tests := []struct {
		name              string
		opts              LoggingOpts
		statusCode        int
		wantLoggedHeaders map[string]string
	}{
		{name: "defaults", statusCode: http.StatusInternalServerError},
		{name: "request start", opts: LoggingOpts{RequestStart: true}, statusCode: http.StatusTooManyRequests},
		{
			name:              "request headers",
			opts:              LoggingOpts{RequestHeaders: map[string]string{"X-Header-1": "header_1", "X-Header-3": "header_3"}},
			statusCode:        http.StatusOK,
			wantLoggedHeaders: map[string]string{"header_1": "header1-value", "header_3": ""},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger := logtest.NewRecorder()
			next := &mockLoggingNextHandler{respStatusCode: tt.statusCode}
			LoggingWithOpts(logger, tt.opts)(next).ServeHTTP(httptest.NewRecorder(), newRequest())
			require.Equal(t, 1, next.called)
			require.NotNil(t, next.lastContextLogger)
			require.NotNil(t, next.lastContextLoggingParams)

			wantEntries := 1
			if tt.opts.RequestStart {
				wantEntries++
				require.Equal(t, "request started", logger.Entries()[0].Text)
				requireCommonFields(t, logger.Entries()[0])
			}
			require.Len(t, logger.Entries(), wantEntries)

			entry := logger.Entries()[wantEntries-1]
			require.True(t, strings.HasPrefix(entry.Text, "response completed in "))
			require.Equal(t, log.LevelInfo, entry.Level)
			requireCommonFields(t, entry)
			requireLogFieldInt(t, entry, "status", tt.statusCode)
			requireLogFieldInt(t, entry, "bytes_sent", len(http.StatusText(tt.statusCode)))
			for logKey, logVal := range tt.wantLoggedHeaders {
				requireLogFieldString(t, entry, logKey, logVal)
			}
		})
	}
}

func TestLoggingHandler_ServeHTTP_ExcludedEndpoints(t *testing.T) {
	tests := []struct {
		name       string
		path       string
		statusCode int
		wantLogged bool
	}{
		{name: "excluded, ok", path: "/healthz", statusCode: http.StatusOK},
		{name: "excluded, error is logged anyway", path: "/healthz", statusCode: http.StatusServiceUnavailable, wantLogged: true},
		{name: "not excluded", path: "/api", statusCode: http.StatusOK, wantLogged: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger := logtest.NewRecorder()
			next := &mockLoggingNextHandler{respStatusCode: tt.statusCode}
			handler := LoggingWithOpts(logger, LoggingOpts{RequestStart: true, ExcludedEndpoints: []string{"/healthz"}})(next)
			handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, tt.path, nil))
			require.Equal(t, 1, next.called)
			_, found := logger.FindEntryByFilter(func(e logtest.RecordedEntry) bool {
				return strings.HasPrefix(e.Text, "response completed")
			})
			require.Equal(t, tt.wantLogged, found)
		})
	}
}

func TestLoggingHandler_ServeHTTP_SecretQueryParams(t *testing.T) {
	logger := logtest.NewRecorder()
	next := &mockLoggingNextHandler{respStatusCode: http.StatusOK}
	handler := LoggingWithOpts(logger, LoggingOpts{SecretQueryParams: []string{"token"}})(next)

	query := url.Values{"token": {"secret"}, "page": {"2"}}
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/items?"+query.Encode(), nil))

	require.Len(t, logger.Entries(), 1)
	requireLogFieldString(t, logger.Entries()[0], "uri", "/items?page=2&token="+LoggingSecretQueryPlaceholder)
}

func TestLoggingHandler_ServeHTTP_LoggingParams(t *testing.T) {
	logger := logtest.NewRecorder()
	next := &mockLoggingNextHandler{
		respStatusCode: http.StatusTooManyRequests,
		extraFields:    []log.Field{log.String("rate_limit_type", "burst"), log.Int("rate_limit_remaining", 0)},
	}
	LoggingWithOpts(logger, LoggingOpts{})(next).ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))

	require.Len(t, logger.Entries(), 1)
	requireLogFieldString(t, logger.Entries()[0], "rate_limit_type", "burst")
	requireLogFieldInt(t, logger.Entries()[0], "rate_limit_remaining", 0)
}

func TestLoggingHandler_ServeHTTP_SlowRequest(t *testing.T) {
	logger := logtest.NewRecorder()
	next := &mockLoggingNextHandler{respStatusCode: http.StatusOK, delay: 20 * time.Millisecond}
	handler := LoggingWithOpts(logger, LoggingOpts{SlowRequestThreshold: 10 * time.Millisecond})(next)
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))

	require.Len(t, logger.Entries(), 1)
	require.Equal(t, log.LevelWarn, logger.Entries()[0].Level)
	_, found := logger.Entries()[0].FindField("slow_request")
	require.True(t, found)
}

func TestLoggingHandler_ServeHTTP_AddRequestInfoToLogger(t *testing.T) {
	logger := logtest.NewRecorder()
	next := &mockLoggingNextHandler{respStatusCode: http.StatusOK}
	handler := LoggingWithOpts(logger, LoggingOpts{AddRequestInfoToLogger: true})(next)
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/items", nil))

	next.lastContextLogger.Info("from handler")
	entry, found := logger.FindEntry("from handler")
	require.True(t, found)
	requireLogFieldString(t, entry, "uri", "/items")
}

func requireLogFieldString(t *testing.T, logEntry logtest.RecordedEntry, key, want string) {
	t.Helper()
	logField, found := logEntry.FindField(key)
	require.True(t, found, "field %q is not found", key)
	require.Equal(t, want, string(logField.Bytes))
}

func requireLogFieldInt(t *testing.T, logEntry logtest.RecordedEntry, key string, want int) {
	t.Helper()
	logField, found := logEntry.FindField(key)
	require.True(t, found, "field %q is not found", key)
	require.Equal(t, want, int(logField.Int))
}

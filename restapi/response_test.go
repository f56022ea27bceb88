/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package restapi

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tollgate/tollgate/log"
	"github.com/tollgate/tollgate/log/logtest"
	"github.com/tollgate/tollgate/testutil"
)

const testDomain = "Tollgate"

type failingWriter struct {
	*httptest.ResponseRecorder
}

func (w failingWriter) Write([]byte) (int, error) {
	return 0, errors.New("connection reset by peer")
}

func TestRespondCodeAndJSON(t *testing.T) {
	type window struct {
		Key   string `json:"key"`
		Count int    `json:"count"`
	}

	t.Run("ok", func(t *testing.T) {
		logger := logtest.NewRecorder()
		rec := httptest.NewRecorder()
		w := &window{Key: "id:alice|GET /items|rpm", Count: 3}
		RespondJSON(rec, w, logger)
		testutil.RequireJSONInRecorder(t, rec, w, &window{})
		require.Empty(t, logger.Entries())
	})

	t.Run("html is not escaped", func(t *testing.T) {
		rec := httptest.NewRecorder()
		RespondCodeAndJSON(rec, http.StatusCreated, map[string]string{"pattern": "/a?b=<c>&d"}, nil)
		require.Equal(t, http.StatusCreated, rec.Code)
		require.Equal(t, `{"pattern":"/a?b=<c>&d"}`, rec.Body.String())
	})

	t.Run("nil data", func(t *testing.T) {
		rec := httptest.NewRecorder()
		RespondCodeAndJSON(rec, http.StatusNoContent, nil, nil)
		require.Equal(t, http.StatusNoContent, rec.Code)
		require.Empty(t, rec.Header().Get("Content-Type"))
		testutil.RequireEmptyBodyInRecorder(t, rec)
	})

	t.Run("content type set by handler is kept", func(t *testing.T) {
		rec := httptest.NewRecorder()
		rec.Header().Set("Content-Type", "application/problem+json")
		RespondJSON(rec, "ok", nil)
		require.Equal(t, "application/problem+json", rec.Header().Get("Content-Type"))
	})

	t.Run("encoding error", func(t *testing.T) {
		for _, logger := range []*logtest.Recorder{nil, logtest.NewRecorder()} {
			var fl log.FieldLogger
			if logger != nil {
				fl = logger
			}
			rec := httptest.NewRecorder()
			RespondJSON(rec, make(chan int), fl)
			require.Equal(t, http.StatusInternalServerError, rec.Code)
			testutil.RequireEmptyBodyInRecorder(t, rec)
			if logger != nil {
				_, found := logger.FindEntry("failed to encode response body")
				require.True(t, found)
			}
		}
	})

	t.Run("writing error", func(t *testing.T) {
		logger := logtest.NewRecorder()
		RespondJSON(failingWriter{httptest.NewRecorder()}, "ok", logger)
		entry, found := logger.FindEntry("failed to write response body")
		require.True(t, found)
		require.Equal(t, log.LevelError, entry.Level)
	})
}

func TestRespondError(t *testing.T) {
	MustInitAndRegisterMetrics("")
	defer UnregisterMetrics()

	tests := []struct {
		name        string
		code        int
		apiErr      *Error
		wantContext []string
	}{
		{name: "internal", code: http.StatusInternalServerError, apiErr: NewInternalError("serviceA")},
		{name: "custom", code: http.StatusBadRequest, apiErr: NewError("serviceB", "invalidRule", "Pattern is missing.")},
		{
			name:        "with context",
			code:        http.StatusBadGateway,
			apiErr:      NewErrorForHTTPCode("serviceC", http.StatusBadGateway, ErrMessageBadGateway).AddContext("upstream", "b:2").AddContext("attempt", 1),
			wantContext: []string{"attempt: 1", "upstream: b:2"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger := logtest.NewRecorder()
			rec := httptest.NewRecorder()
			RespondError(rec, tt.code, tt.apiErr, logger)

			testutil.RequireErrorInRecorder(t, rec, tt.code, tt.apiErr.Domain, tt.apiErr.Code)
			testutil.RequireSamplesCountInCounter(t, responseErrors.WithLabelValues(tt.apiErr.Domain, tt.apiErr.Code), 1)

			entry, found := logger.FindEntry("error in response")
			require.True(t, found)
			field, found := entry.FindField("error_code")
			require.True(t, found)
			require.Equal(t, tt.apiErr.Code, string(field.Bytes))
			_, found = entry.FindField("error_context")
			require.Equal(t, tt.wantContext != nil, found)
			if tt.wantContext != nil {
				require.Equal(t, tt.wantContext, formatErrorContext(tt.apiErr.Context))
			}
		})
	}
}

func TestRespondErrorShortcuts(t *testing.T) {
	rec := httptest.NewRecorder()
	RespondInternalError(rec, testDomain, nil)
	testutil.RequireErrorInRecorder(t, rec, http.StatusInternalServerError, testDomain, ErrCodeInternal)

	rec = httptest.NewRecorder()
	RespondBadRequestError(rec, testDomain, "Either identity or address query parameter is required.", nil)
	testutil.RequireErrorInRecorder(t, rec, http.StatusBadRequest, testDomain, "badRequest")
}

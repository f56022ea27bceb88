/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tollgate/tollgate/log"
	"github.com/tollgate/tollgate/log/logtest"
	"github.com/tollgate/tollgate/restapi"
	"github.com/tollgate/tollgate/testutil"
)

func panicHandler(value interface{}) http.Handler {
	return http.HandlerFunc(func(http.ResponseWriter, *http.Request) { panic(value) })
}

func TestRecovery(t *testing.T) {
	const errDomain = "Gateway"

	tests := []struct {
		name      string
		mw        func(http.Handler) http.Handler
		withLog   bool
		wantStack int
	}{
		{name: "without logger", mw: Recovery(errDomain)},
		{name: "default stack size", mw: Recovery(errDomain), withLog: true, wantStack: -1},
		{name: "limited stack", mw: RecoveryWithOpts(errDomain, RecoveryOpts{StackSize: 10}), withLog: true, wantStack: 10},
		{name: "stack disabled", mw: RecoveryWithOpts(errDomain, RecoveryOpts{}), withLog: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger := logtest.NewRecorder()
			req := httptest.NewRequest(http.MethodGet, "/api/items", nil)
			if tt.withLog {
				req = req.WithContext(NewContextWithLogger(req.Context(), logger))
			}
			resp := httptest.NewRecorder()

			require.NotPanics(t, func() { tt.mw(panicHandler("boom")).ServeHTTP(resp, req) })
			testutil.RequireErrorInRecorder(t, resp, http.StatusInternalServerError, errDomain, restapi.ErrCodeInternal)

			entry, found := logger.FindEntry("Panic: boom")
			require.Equal(t, tt.withLog, found)
			if !found {
				return
			}
			require.Equal(t, log.LevelError, entry.Level)
			stack, hasStack := entry.FindField("stack")
			switch {
			case tt.wantStack == 0:
				require.False(t, hasStack)
			case tt.wantStack > 0:
				require.True(t, hasStack)
				require.Len(t, stack.Bytes, tt.wantStack)
			default:
				require.True(t, hasStack)
				require.Contains(t, string(stack.Bytes), "goroutine")
			}
		})
	}
}

func TestRecovery_AbortHandler(t *testing.T) {
	logger := logtest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req = req.WithContext(NewContextWithLogger(req.Context(), logger))

	require.PanicsWithValue(t, http.ErrAbortHandler, func() {
		Recovery("Gateway")(panicHandler(http.ErrAbortHandler)).ServeHTTP(httptest.NewRecorder(), req)
	})
	require.Empty(t, logger.FindAllEntriesByFilter(func(e logtest.RecordedEntry) bool { return e.Level == log.LevelError }))
	entry, found := logger.FindEntry("request has been aborted")
	require.True(t, found)
	require.Equal(t, log.LevelWarn, entry.Level)
}

/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package testutil

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func newRecorder(code int, contentType, body string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	if contentType != "" {
		rec.Header().Set("Content-Type", contentType)
	}
	rec.WriteHeader(code)
	_, _ = rec.WriteString(body)
	return rec
}

func TestRequireErrorInRecorderAndResponse(t *testing.T) {
	const notFoundBody = `{"error":{"domain":"Tollgate","code":"notFound"}}`
	tests := []struct {
		name        string
		code        int
		contentType string
		body        string
		wantFailed  bool
	}{
		{name: "matches", code: http.StatusNotFound, contentType: contentTypeAppJSON, body: notFoundBody},
		{name: "other status", code: http.StatusBadRequest, contentType: contentTypeAppJSON, body: notFoundBody, wantFailed: true},
		{name: "not json", code: http.StatusNotFound, contentType: "text/html", body: notFoundBody, wantFailed: true},
		{name: "other domain", code: http.StatusNotFound, contentType: contentTypeAppJSON,
			body: `{"error":{"domain":"Upstream","code":"notFound"}}`, wantFailed: true},
		{name: "other code", code: http.StatusNotFound, contentType: contentTypeAppJSON,
			body: `{"error":{"domain":"Tollgate","code":"internalError"}}`, wantFailed: true},
		{name: "malformed body", code: http.StatusNotFound, contentType: contentTypeAppJSON, body: `{"error":`, wantFailed: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rt := &recordingT{}
			RequireErrorInRecorder(rt, newRecorder(tt.code, tt.contentType, tt.body), http.StatusNotFound, "Tollgate", "notFound")
			require.Equal(t, tt.wantFailed, rt.failed)

			rt = &recordingT{}
			resp := newRecorder(tt.code, tt.contentType, tt.body).Result()
			RequireErrorInResponse(rt, resp, http.StatusNotFound, "Tollgate", "notFound")
			require.Equal(t, tt.wantFailed, rt.failed)
		})
	}
}

func TestRequireRateLimitExceededInRecorder(t *testing.T) {
	newRejection := func(retryAfterHeader, body string) *httptest.ResponseRecorder {
		rec := httptest.NewRecorder()
		rec.Header().Set("Retry-After", retryAfterHeader)
		rec.Header().Set("Content-Type", contentTypeAppJSON)
		rec.WriteHeader(http.StatusTooManyRequests)
		_, _ = rec.WriteString(body)
		return rec
	}
	tests := []struct {
		name       string
		rec        *httptest.ResponseRecorder
		wantFailed bool
	}{
		{name: "matches", rec: newRejection("7", `{"error":"rate_limit_exceeded","retry_after":7}`)},
		{name: "header mismatch", rec: newRejection("8", `{"error":"rate_limit_exceeded","retry_after":7}`), wantFailed: true},
		{name: "body mismatch", rec: newRejection("7", `{"error":"rate_limit_exceeded","retry_after":1}`), wantFailed: true},
		{name: "other error", rec: newRejection("7", `{"error":"forbidden","retry_after":7}`), wantFailed: true},
		{name: "not rejected", rec: newRecorder(http.StatusOK, contentTypeAppJSON, `{}`), wantFailed: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rt := &recordingT{}
			RequireRateLimitExceededInRecorder(rt, tt.rec, 7)
			require.Equal(t, tt.wantFailed, rt.failed)
		})
	}
}

func TestRequireJSONInRecorder(t *testing.T) {
	type limits struct {
		RPM int `json:"rpm"`
	}

	rt := &recordingT{}
	RequireJSONInRecorder(rt, newRecorder(http.StatusOK, contentTypeAppJSON, `{"rpm":60}`), &limits{RPM: 60}, &limits{})
	require.False(t, rt.failed)

	rt = &recordingT{}
	RequireJSONInRecorder(rt, newRecorder(http.StatusOK, contentTypeAppJSON, `{"rpm":30}`), &limits{RPM: 60}, &limits{})
	require.True(t, rt.failed)

	rt = &recordingT{}
	RequireJSONInRecorder(rt, newRecorder(http.StatusCreated, contentTypeAppJSON, `{"rpm":60}`), &limits{RPM: 60}, &limits{})
	require.True(t, rt.failed)
}

func TestRequireEmptyBodyInRecorder(t *testing.T) {
	rt := &recordingT{}
	RequireEmptyBodyInRecorder(rt, newRecorder(http.StatusNoContent, "", ""))
	require.False(t, rt.failed)

	rt = &recordingT{}
	RequireEmptyBodyInRecorder(rt, newRecorder(http.StatusOK, "", "x"))
	require.True(t, rt.failed)
}

func TestRequireStringJSONInResponse(t *testing.T) {
	newResp := func(body string) *http.Response {
		return &http.Response{
			Header: http.Header{"Content-Type": {contentTypeAppJSON}},
			Body:   io.NopCloser(strings.NewReader(body)),
		}
	}

	rt := &recordingT{}
	RequireStringJSONInResponse(rt, newResp(`{"b": 2, "a": 1}`), `{"a":1,"b":2}`)
	require.False(t, rt.failed)

	rt = &recordingT{}
	RequireStringJSONInResponse(rt, newResp(`{"a":2}`), `{"a":1}`)
	require.True(t, rt.failed)
}

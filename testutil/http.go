/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package testutil

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"

	"github.com/stretchr/testify/require"
)

const contentTypeAppJSON = "application/json"

// snapshot is a status code, headers and body of either http.Response or httptest.ResponseRecorder.
type snapshot struct {
	code   int
	header http.Header
	body   io.Reader
}

func fromRecorder(rec *httptest.ResponseRecorder) snapshot {
	return snapshot{code: rec.Code, header: rec.Header(), body: rec.Body}
}

func fromResponse(resp *http.Response) snapshot {
	return snapshot{code: resp.StatusCode, header: resp.Header, body: resp.Body}
}

func (s snapshot) requireJSON(t require.TestingT, wantCode int, dest interface{}) {
	if h, ok := t.(tHelper); ok {
		h.Helper()
	}
	require.Equal(t, wantCode, s.code)
	require.Equal(t, contentTypeAppJSON, s.header.Get("Content-Type"))
	require.NoError(t, json.NewDecoder(s.body).Decode(dest))
}

type errorResponse struct {
	Error struct {
		Domain string `json:"domain"`
		Code   string `json:"code"`
	} `json:"error"`
}

func (s snapshot) requireError(t require.TestingT, wantCode int, wantDomain, wantErrCode string) {
	if h, ok := t.(tHelper); ok {
		h.Helper()
	}
	var resp errorResponse
	s.requireJSON(t, wantCode, &resp)
	require.Equal(t, wantDomain, resp.Error.Domain)
	require.Equal(t, wantErrCode, resp.Error.Code)
}

// RequireErrorInRecorder asserts that the recorder holds {"error": {"domain": ..., "code": ...}} with the HTTP code.
func RequireErrorInRecorder(t require.TestingT, rec *httptest.ResponseRecorder, wantHTTPCode int, wantErrDomain, wantErrCode string) {
	if h, ok := t.(tHelper); ok {
		h.Helper()
	}
	fromRecorder(rec).requireError(t, wantHTTPCode, wantErrDomain, wantErrCode)
}

// RequireErrorInResponse is like RequireErrorInRecorder but for http.Response.
func RequireErrorInResponse(t require.TestingT, resp *http.Response, wantHTTPCode int, wantErrDomain, wantErrCode string) {
	if h, ok := t.(tHelper); ok {
		h.Helper()
	}
	fromResponse(resp).requireError(t, wantHTTPCode, wantErrDomain, wantErrCode)
}

// RequireRateLimitExceededInRecorder asserts that the recorder holds the 429 response
// of the admission middleware with the given Retry-After seconds.
func RequireRateLimitExceededInRecorder(t require.TestingT, rec *httptest.ResponseRecorder, wantRetryAfter int) {
	if h, ok := t.(tHelper); ok {
		h.Helper()
	}
	var body struct {
		Error      string `json:"error"`
		RetryAfter int    `json:"retry_after"`
	}
	fromRecorder(rec).requireJSON(t, http.StatusTooManyRequests, &body)
	require.Equal(t, strconv.Itoa(wantRetryAfter), rec.Header().Get("Retry-After"))
	require.Equal(t, "rate_limit_exceeded", body.Error)
	require.Equal(t, wantRetryAfter, body.RetryAfter)
}

// RequireEmptyBodyInRecorder asserts that nothing was written to the recorder body.
func RequireEmptyBodyInRecorder(t require.TestingT, rec *httptest.ResponseRecorder) {
	if h, ok := t.(tHelper); ok {
		h.Helper()
	}
	require.Zero(t, rec.Body.Len(), "body should be empty, got %q", rec.Body.String())
}

// RequireJSONInRecorder decodes the recorder body into dest and compares the result with want.
// The status code should be 200.
func RequireJSONInRecorder(t require.TestingT, rec *httptest.ResponseRecorder, want, dest interface{}) {
	if h, ok := t.(tHelper); ok {
		h.Helper()
	}
	fromRecorder(rec).requireJSON(t, http.StatusOK, dest)
	require.Equal(t, want, dest)
}

// RequireStringJSONInResponse asserts that the response body is a JSON document equal to want.
// Formatting and key order are ignored.
func RequireStringJSONInResponse(t require.TestingT, resp *http.Response, want string) {
	if h, ok := t.(tHelper); ok {
		h.Helper()
	}
	require.Equal(t, contentTypeAppJSON, resp.Header.Get("Content-Type"))
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.JSONEq(t, want, string(body))
}

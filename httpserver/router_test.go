/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package httpserver

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/tollgate/tollgate/httpserver/middleware"
	"github.com/tollgate/tollgate/limits"
	"github.com/tollgate/tollgate/limits/store"
	"github.com/tollgate/tollgate/log/logtest"
	"github.com/tollgate/tollgate/ratelimit"
	"github.com/tollgate/tollgate/restapi"
	"github.com/tollgate/tollgate/slidingwindow"
	"github.com/tollgate/tollgate/testutil"
)

func intPtr(v int) *int { return &v }

func classRules(rpm int) limits.RuleSet {
	return limits.RuleSet{Configs: []limits.RateLimitConfig{{
		ID: "standard", Scope: limits.ScopeClass, Target: "standard", Active: true,
		Limits: limits.Limits{RequestsPerMinute: intPtr(rpm), Burst: intPtr(100)},
	}}}
}

func newTestService(t *testing.T, rules limits.RuleSet) *limits.Service {
	t.Helper()
	st, err := store.NewMemory(rules)
	require.NoError(t, err)
	svc, err := limits.NewService(st, limits.ServiceOpts{})
	require.NoError(t, err)
	return svc
}

func newTestManagerWithService(t *testing.T, svc *limits.Service) *ratelimit.Manager {
	t.Helper()
	limiter, err := slidingwindow.New(slidingwindow.Opts{Clock: slidingwindow.NewManualClock(time.Hour)})
	require.NoError(t, err)
	m, err := ratelimit.NewManager(svc, limiter, ratelimit.ManagerOpts{})
	require.NoError(t, err)
	return m
}

func newTestManager(t *testing.T, rules limits.RuleSet) *ratelimit.Manager {
	t.Helper()
	return newTestManagerWithService(t, newTestService(t, rules))
}

func serve(handler http.Handler, method, target string, header http.Header) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, nil)
	for k, v := range header {
		req.Header[k] = v
	}
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)
	return resp
}

func TestNewRouter_AdmissionAndProxy(t *testing.T) {
	var mu sync.Mutex
	var upstreamReqs []*http.Request
	getUpstreamReqs := func() []*http.Request {
		mu.Lock()
		defer mu.Unlock()
		return upstreamReqs
	}
	upstream := httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		mu.Lock()
		upstreamReqs = append(upstreamReqs, r)
		mu.Unlock()
		rw.Header().Set("Content-Type", restapi.ContentTypeAppJSON)
		_, _ = rw.Write([]byte(`{"path":"` + r.URL.Path + `"}`))
	}))
	defer upstream.Close()
	upstreamURL, err := url.Parse(upstream.URL)
	require.NoError(t, err)

	router := NewRouter(logtest.NewLogger(), RouterOpts{
		RootMiddlewares: []func(http.Handler) http.Handler{middleware.RequestID()},
		ErrorDomain:     "MyGateway",
		Admission:       newTestManager(t, classRules(1)),
		Upstream:        NewUpstreamProxy(upstreamURL, UpstreamProxyOpts{ErrorDomain: "MyGateway"}),
	})

	header := http.Header{middleware.DefaultIdentityHeader: {"alice"}, "X-Request-ID": {"req-1"}}
	resp := serve(router, http.MethodGet, "/api/v1/items?page=2", header)
	require.Equal(t, http.StatusOK, resp.Code)
	require.Equal(t, "1", resp.Header().Get(middleware.HeaderRateLimitLimit))
	require.Equal(t, "0", resp.Header().Get(middleware.HeaderRateLimitRemaining))
	require.JSONEq(t, `{"path":"/api/v1/items"}`, resp.Body.String())
	reqs := getUpstreamReqs()
	require.Len(t, reqs, 1)
	require.Equal(t, "page=2", reqs[0].URL.RawQuery)
	require.Equal(t, "alice", reqs[0].Header.Get(middleware.DefaultIdentityHeader))
	require.Equal(t, "req-1", reqs[0].Header.Get("X-Request-ID"))
	require.Equal(t, "192.0.2.1", reqs[0].Header.Get("X-Forwarded-For"))

	resp = serve(router, http.MethodGet, "/api/v1/items", header)
	testutil.RequireRateLimitExceededInRecorder(t, resp, 60)
	require.Len(t, getUpstreamReqs(), 1, "rejected requests should not reach the upstream")

	// Other subjects have their own windows.
	resp = serve(router, http.MethodGet, "/api/v1/items", http.Header{middleware.DefaultIdentityHeader: {"bob"}})
	require.Equal(t, http.StatusOK, resp.Code)
	require.Len(t, getUpstreamReqs(), 2)
}

func TestNewRouter_WithoutUpstream(t *testing.T) {
	router := NewRouter(logtest.NewLogger(), RouterOpts{ErrorDomain: "MyGateway"})

	resp := serve(router, http.MethodGet, "/api/v1/items", nil)
	testutil.RequireErrorInRecorder(t, resp, http.StatusNotFound, "MyGateway", restapi.ErrCodeNotFound)

	resp = serve(router, http.MethodPost, "/healthz", nil)
	testutil.RequireErrorInRecorder(t, resp, http.StatusMethodNotAllowed, "MyGateway", restapi.ErrCodeMethodNotAllowed)

	resp = serve(router, http.MethodGet, DebugWindowsPath, nil)
	require.Equal(t, http.StatusNotFound, resp.Code, "debug routes are mounted only on demand")
}

func TestUpstreamProxy_UpstreamIsUnavailable(t *testing.T) {
	upstream := httptest.NewServer(http.NotFoundHandler())
	upstreamURL, err := url.Parse(upstream.URL)
	require.NoError(t, err)
	upstream.Close()

	logger := logtest.NewRecorder()
	proxy := NewUpstreamProxy(upstreamURL, UpstreamProxyOpts{ErrorDomain: "MyGateway", Logger: logger})
	resp := serve(proxy, http.MethodGet, "/items", nil)
	testutil.RequireErrorInRecorder(t, resp, http.StatusBadGateway, "MyGateway", restapi.ErrCodeBadGateway)
	_, found := logger.FindEntry("request to upstream failed")
	require.True(t, found)
}

func TestUpstreamProxy_ForwardedFor(t *testing.T) {
	gotHeaders := make(chan http.Header, 1)
	upstream := httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		gotHeaders <- r.Header.Clone()
	}))
	defer upstream.Close()
	upstreamURL, err := url.Parse(upstream.URL)
	require.NoError(t, err)

	header := http.Header{"X-Forwarded-For": {"203.0.113.7"}, "X-Real-Ip": {"198.51.100.3"}}

	serve(NewUpstreamProxy(upstreamURL, UpstreamProxyOpts{}), http.MethodGet, "/", header)
	got := <-gotHeaders
	require.Equal(t, "192.0.2.1", got.Get("X-Forwarded-For"))
	require.Empty(t, got.Get("X-Real-IP"))

	serve(NewUpstreamProxy(upstreamURL, UpstreamProxyOpts{TrustForwardedFor: true}), http.MethodGet, "/", header)
	got = <-gotHeaders
	require.Equal(t, "203.0.113.7, 192.0.2.1", got.Get("X-Forwarded-For"))
	require.Equal(t, "198.51.100.3", got.Get("X-Real-IP"))
}

func TestDebugRoutes(t *testing.T) {
	svc := newTestService(t, limits.RuleSet{
		Configs: classRules(5).Configs,
		Endpoints: []limits.EndpointRule{{
			ID: "login", Pattern: "= /login", Method: "POST", Active: true,
			Limits: limits.Limits{RequestsPerMinute: intPtr(2)},
		}},
	})
	manager := newTestManagerWithService(t, svc)
	router := NewRouter(logtest.NewLogger(), RouterOpts{
		ErrorDomain: "MyGateway",
		Admission:   manager,
		Upstream:    http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {}),
		Debug:       &DebugOpts{Inspector: manager, Invalidator: svc},
	})

	for i := 0; i < 2; i++ {
		resp := serve(router, http.MethodPost, "/login", http.Header{middleware.DefaultIdentityHeader: {"alice"}})
		require.Equal(t, http.StatusOK, resp.Code)
	}

	t.Run("windows", func(t *testing.T) {
		resp := serve(router, http.MethodGet, DebugWindowsPath+"?identity=alice&method=POST&path=/login", nil)
		require.Equal(t, http.StatusOK, resp.Code)
		require.Equal(t, restapi.ContentTypeAppJSON, resp.Header().Get("Content-Type"))

		var data debugWindowsResponseData
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&data))
		require.Equal(t, "id:alice", data.SubjectKey)
		require.Equal(t, "login", data.Endpoint)
		require.Equal(t, 2, data.Limits.RPM)
		require.Equal(t, string(limits.LimitTypeClass), data.Sources["rpm"])
		require.False(t, data.Degraded)

		counts := make(map[string]int, len(data.Windows))
		for _, w := range data.Windows {
			counts[w.Key] = w.Count
		}
		require.Equal(t, 2, counts["id:alice|login|rpm"])
		require.Equal(t, 2, counts["id:alice|*|rpm"])
	})

	t.Run("windows are not counted", func(t *testing.T) {
		resp := serve(router, http.MethodGet, DebugWindowsPath+"?identity=alice&method=POST&path=/login", nil)
		require.Equal(t, http.StatusOK, resp.Code)
		resp = serve(router, http.MethodPost, "/login", http.Header{middleware.DefaultIdentityHeader: {"alice"}})
		testutil.RequireRateLimitExceededInRecorder(t, resp, 60)
	})

	t.Run("windows of anonymous subject", func(t *testing.T) {
		resp := serve(router, http.MethodGet, DebugWindowsPath+"?address="+url.QueryEscape("[::ffff:192.0.2.10]:5555"), nil)
		require.Equal(t, http.StatusOK, resp.Code)
		var data debugWindowsResponseData
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&data))
		require.Equal(t, "addr:192.0.2.10", data.SubjectKey)
	})

	t.Run("subject is required", func(t *testing.T) {
		resp := serve(router, http.MethodGet, DebugWindowsPath, nil)
		testutil.RequireErrorInRecorder(t, resp, http.StatusBadRequest, "MyGateway", "badRequest")
	})

	t.Run("invalidate", func(t *testing.T) {
		resp := serve(router, http.MethodPost, DebugInvalidatePath, nil)
		require.Equal(t, http.StatusNoContent, resp.Code)
		body, err := io.ReadAll(resp.Body)
		require.NoError(t, err)
		require.Empty(t, body)
	})
}

/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package httpserver

import (
	"context"
	"errors"
	"net/http"
	"net/http/httputil"
	"net/url"
	"time"

	"github.com/tollgate/tollgate/httpserver/middleware"
	"github.com/tollgate/tollgate/log"
	"github.com/tollgate/tollgate/restapi"
)

// DefaultProxyFlushInterval is the flush interval of the upstream proxy.
// Negative value makes streamed responses be flushed immediately.
const DefaultProxyFlushInterval = -1 * time.Millisecond

// UpstreamProxyOpts represents options for NewUpstreamProxy.
type UpstreamProxyOpts struct {
	ErrorDomain string
	// TrustForwardedFor keeps the X-Forwarded-For chain and X-Real-IP of the incoming request.
	TrustForwardedFor bool
	Transport         http.RoundTripper
	Logger            log.FieldLogger
}

// NewUpstreamProxy creates a reverse proxy that passes admitted requests to the upstream service.
// The request id is forwarded in the X-Request-ID header, failures of the upstream are answered with 502.
func NewUpstreamProxy(upstream *url.URL, opts UpstreamProxyOpts) *httputil.ReverseProxy {
	if opts.ErrorDomain == "" {
		opts.ErrorDomain = DefaultErrorDomain
	}
	if opts.Logger == nil {
		opts.Logger = log.NewDisabledLogger()
	}
	return &httputil.ReverseProxy{
		Rewrite: func(pr *httputil.ProxyRequest) {
			pr.SetURL(upstream)
			if opts.TrustForwardedFor {
				pr.Out.Header["X-Forwarded-For"] = pr.In.Header["X-Forwarded-For"]
			} else {
				pr.Out.Header.Del("X-Real-IP")
			}
			pr.SetXForwarded()
			if requestID := middleware.GetRequestIDFromContext(pr.In.Context()); requestID != "" {
				pr.Out.Header.Set("X-Request-ID", requestID)
			}
		},
		Transport:     opts.Transport,
		FlushInterval: DefaultProxyFlushInterval,
		ErrorHandler: func(rw http.ResponseWriter, r *http.Request, err error) {
			logger := middleware.GetLoggerFromContext(r.Context())
			if logger == nil {
				logger = opts.Logger
			}
			if errors.Is(err, context.Canceled) {
				logger.Warn("request to upstream has been canceled", log.Error(err))
				rw.WriteHeader(StatusClientClosedRequest)
				return
			}
			logger.Error("request to upstream failed", log.Error(err))
			apiErr := restapi.NewError(opts.ErrorDomain, restapi.ErrCodeBadGateway, restapi.ErrMessageBadGateway)
			restapi.RespondError(rw, http.StatusBadGateway, apiErr, logger)
		},
	}
}

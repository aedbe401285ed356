// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

// Package httpx builds the outbound HTTP clients used for upstream API calls
// and media downloads. http.DefaultClient is never used.
package httpx

import (
	"net"
	"net/http"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

const (
	defaultDialTimeout           = 5 * time.Second
	defaultResponseHeaderTimeout = 15 * time.Second
	defaultIdleConnTimeout       = 90 * time.Second
	defaultExpectContinueTimeout = 1 * time.Second
	defaultMaxIdleConns          = 32
	defaultMaxIdleConnsPerHost   = 8
)

// Options configures NewClient.
type Options struct {
	// Timeout bounds the whole exchange including the body. Zero leaves the
	// deadline to the request context.
	Timeout time.Duration
	// CheckRedirect is installed as the client's redirect policy.
	CheckRedirect func(req *http.Request, via []*http.Request) error
	// SpanName labels client spans. Empty disables tracing.
	SpanName string
}

// NewTransport returns a hardened transport. Dial and header waits are capped
// at timeout when it is shorter than the defaults.
func NewTransport(timeout time.Duration) *http.Transport {
	dialTimeout := defaultDialTimeout
	headerTimeout := defaultResponseHeaderTimeout
	if timeout > 0 {
		dialTimeout = min(dialTimeout, timeout)
		headerTimeout = min(headerTimeout, timeout)
	}
	return &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           (&net.Dialer{Timeout: dialTimeout, KeepAlive: 30 * time.Second}).DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          defaultMaxIdleConns,
		MaxIdleConnsPerHost:   defaultMaxIdleConnsPerHost,
		IdleConnTimeout:       defaultIdleConnTimeout,
		TLSHandshakeTimeout:   dialTimeout,
		ResponseHeaderTimeout: headerTimeout,
		ExpectContinueTimeout: defaultExpectContinueTimeout,
	}
}

// NewClient returns a client over NewTransport, optionally traced.
func NewClient(opts Options) *http.Client {
	var rt http.RoundTripper = NewTransport(opts.Timeout)
	if opts.SpanName != "" {
		name := opts.SpanName
		rt = otelhttp.NewTransport(rt, otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
			return name + " " + r.Method
		}))
	}
	return &http.Client{
		Timeout:       opts.Timeout,
		Transport:     rt,
		CheckRedirect: opts.CheckRedirect,
	}
}

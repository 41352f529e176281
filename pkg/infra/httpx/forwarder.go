package httpx

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/NeuralTrust/TrustGuard/pkg/infra/breaker"
	"github.com/valyala/fasthttp"
)

const (
	DefaultTimeout             = 30 * time.Second
	DefaultMaxConnsPerHost     = 512
	DefaultMaxIdleConnDuration = 10 * time.Second
	DefaultReadBufferSize      = 16384
	DefaultWriteBufferSize     = 16384
	DefaultMaxResponseBodySize = 100 * 1024 * 1024
)

var ErrNoUpstream = errors.New("upstream url is not configured")

// hopHeaders are connection-scoped and never forwarded in either direction.
var hopHeaders = []string{
	"Connection",
	"Proxy-Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Te",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
}

type ForwarderOptions struct {
	UpstreamURL        string
	Timeout            time.Duration
	MaxConnsPerHost    int
	InsecureSkipVerify bool
}

//go:generate mockery --name=Forwarder --dir=. --output=./mocks --filename=forwarder_mock.go --case=underscore --with-expecter
type Forwarder interface {
	// Forward relays in to the upstream and fills out with its response.
	Forward(ctx context.Context, in *fasthttp.Request, out *fasthttp.Response, clientIP string) error
}

type forwarder struct {
	client   *fasthttp.Client
	base     *url.URL
	timeout  time.Duration
	breakers breaker.Executor
}

func NewForwarder(opts ForwarderOptions, breakers breaker.Executor) (Forwarder, error) {
	if opts.UpstreamURL == "" {
		return nil, ErrNoUpstream
	}
	base, err := url.Parse(opts.UpstreamURL)
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("invalid upstream url %q", opts.UpstreamURL)
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.MaxConnsPerHost <= 0 {
		opts.MaxConnsPerHost = DefaultMaxConnsPerHost
	}

	client := &fasthttp.Client{
		ReadTimeout:                   opts.Timeout,
		WriteTimeout:                  opts.Timeout,
		MaxConnsPerHost:               opts.MaxConnsPerHost,
		MaxIdleConnDuration:           DefaultMaxIdleConnDuration,
		ReadBufferSize:                DefaultReadBufferSize,
		WriteBufferSize:               DefaultWriteBufferSize,
		MaxResponseBodySize:           DefaultMaxResponseBodySize,
		NoDefaultUserAgentHeader:      true,
		DisableHeaderNamesNormalizing: true,
		DisablePathNormalizing:        true,
	}
	if opts.InsecureSkipVerify {
		client.TLSConfig = &tls.Config{
			InsecureSkipVerify: true, //nolint:gosec // intentionally configurable
		}
	}

	return &forwarder{
		client:   client,
		base:     base,
		timeout:  opts.Timeout,
		breakers: breakers,
	}, nil
}

func (f *forwarder) Forward(ctx context.Context, in *fasthttp.Request, out *fasthttp.Response, clientIP string) error {
	req := fasthttp.AcquireRequest()
	in.CopyTo(req)
	f.prepare(req, in, clientIP)

	// The breaker may abandon a slow call, so req and result belong to the call once it
	// starts. result is only read after Execute returns nil.
	var result *fasthttp.Response
	err := f.breakers.Execute(ctx, breaker.Upstream, func(ctx context.Context) error {
		defer fasthttp.ReleaseRequest(req)
		resp := &fasthttp.Response{}
		deadline, ok := ctx.Deadline()
		if !ok {
			deadline = time.Now().Add(f.timeout)
		}
		if err := f.client.DoDeadline(req, resp, deadline); err != nil {
			return fmt.Errorf("forward to %s: %w", f.base.Host, err)
		}
		result = resp
		return nil
	})
	if err != nil {
		return err
	}

	// Headers are merged so values the guard already set on out survive.
	out.SetStatusCode(result.StatusCode())
	result.Header.VisitAll(func(key, value []byte) {
		if isHopHeader(key) || strings.EqualFold(string(key), fasthttp.HeaderContentLength) {
			return
		}
		out.Header.AddBytesKV(key, value)
	})
	out.SetBody(result.Body())
	return nil
}

type disabledForwarder struct{}

// NewDisabledForwarder fails every call with ErrNoUpstream.
func NewDisabledForwarder() Forwarder {
	return disabledForwarder{}
}

func (disabledForwarder) Forward(context.Context, *fasthttp.Request, *fasthttp.Response, string) error {
	return ErrNoUpstream
}

func isHopHeader(key []byte) bool {
	for _, h := range hopHeaders {
		if strings.EqualFold(string(key), h) {
			return true
		}
	}
	return false
}

func (f *forwarder) prepare(req *fasthttp.Request, in *fasthttp.Request, clientIP string) {
	target := *f.base
	target.Path = strings.TrimSuffix(f.base.Path, "/") + string(in.URI().Path())
	target.RawQuery = string(in.URI().QueryString())

	req.SetRequestURI(target.String())
	req.Header.SetHost(target.Host)
	for _, h := range hopHeaders {
		req.Header.Del(h)
	}

	if clientIP != "" {
		if prior := string(in.Header.Peek("X-Forwarded-For")); prior != "" {
			req.Header.Set("X-Forwarded-For", prior+", "+clientIP)
		} else {
			req.Header.Set("X-Forwarded-For", clientIP)
		}
	}
	if host := in.Header.Host(); len(host) > 0 {
		req.Header.Set("X-Forwarded-Host", string(host))
	}
	if scheme := in.URI().Scheme(); len(scheme) > 0 {
		req.Header.Set("X-Forwarded-Proto", string(scheme))
	}
}

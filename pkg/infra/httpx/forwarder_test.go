package httpx_test

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/NeuralTrust/TrustGuard/pkg/infra/breaker"
	"github.com/NeuralTrust/TrustGuard/pkg/infra/httpx"
	"github.com/NeuralTrust/TrustGuard/pkg/infra/metrics"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/valyala/fasthttp"
)

func newBreakers() *breaker.Registry {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return breaker.NewRegistry(logger, metrics.NewNopSink(), breaker.DefaultConfig())
}

type seenRequest struct {
	path          string
	query         string
	forwardedFor  string
	forwardedHost string
	proxyAuth     string
	body          string
}

func newUpstream(t *testing.T, seen *seenRequest) *httptest.Server {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		*seen = seenRequest{
			path:          r.URL.Path,
			query:         r.URL.RawQuery,
			forwardedFor:  r.Header.Get("X-Forwarded-For"),
			forwardedHost: r.Header.Get("X-Forwarded-Host"),
			proxyAuth:     r.Header.Get("Proxy-Authorization"),
			body:          string(body),
		}
		w.Header().Set("X-Upstream", "yes")
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte("created"))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func inbound(method, uri string, body string) *fasthttp.Request {
	req := &fasthttp.Request{}
	req.Header.SetMethod(method)
	req.SetRequestURI(uri)
	req.Header.SetHost("shop.example.com")
	if body != "" {
		req.SetBodyString(body)
	}
	return req
}

func TestForwarder_RelaysRequestAndResponse(t *testing.T) {
	var seen seenRequest
	upstream := newUpstream(t, &seen)

	fwd, err := httpx.NewForwarder(httpx.ForwarderOptions{UpstreamURL: upstream.URL + "/api/"}, newBreakers())
	require.NoError(t, err)

	in := inbound(fasthttp.MethodPost, "/orders?id=7", `{"sku":"a"}`)
	in.Header.Set("X-Forwarded-For", "198.51.100.1")
	in.Header.Set("Proxy-Authorization", "Basic c2VjcmV0")
	out := &fasthttp.Response{}

	require.NoError(t, fwd.Forward(context.Background(), in, out, "203.0.113.7"))

	assert.Equal(t, "/api/orders", seen.path)
	assert.Equal(t, "id=7", seen.query)
	assert.Equal(t, "198.51.100.1, 203.0.113.7", seen.forwardedFor)
	assert.Equal(t, "shop.example.com", seen.forwardedHost)
	assert.Empty(t, seen.proxyAuth)
	assert.Equal(t, `{"sku":"a"}`, seen.body)

	assert.Equal(t, http.StatusCreated, out.StatusCode())
	assert.Equal(t, "created", string(out.Body()))
	assert.Equal(t, "yes", string(out.Header.Peek("X-Upstream")))
}

func TestForwarder_UpstreamDown(t *testing.T) {
	var seen seenRequest
	upstream := newUpstream(t, &seen)
	url := upstream.URL
	upstream.Close()

	fwd, err := httpx.NewForwarder(httpx.ForwarderOptions{UpstreamURL: url}, newBreakers())
	require.NoError(t, err)

	err = fwd.Forward(context.Background(), inbound(fasthttp.MethodGet, "/", ""), &fasthttp.Response{}, "203.0.113.7")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "breaker (upstream)")
}

func TestNewForwarder_InvalidOptions(t *testing.T) {
	_, err := httpx.NewForwarder(httpx.ForwarderOptions{}, newBreakers())
	assert.ErrorIs(t, err, httpx.ErrNoUpstream)

	_, err = httpx.NewForwarder(httpx.ForwarderOptions{UpstreamURL: "not-a-url"}, newBreakers())
	assert.Error(t, err)
}

func TestForwarder_KeepsHeadersAlreadyOnResponse(t *testing.T) {
	var seen seenRequest
	upstream := newUpstream(t, &seen)
	fwd, err := httpx.NewForwarder(httpx.ForwarderOptions{UpstreamURL: upstream.URL}, newBreakers())
	require.NoError(t, err)

	out := &fasthttp.Response{}
	out.Header.Set("X-Threat-Score", "12")
	require.NoError(t, fwd.Forward(context.Background(), inbound(fasthttp.MethodGet, "/", ""), out, "203.0.113.7"))

	assert.Equal(t, "12", string(out.Header.Peek("X-Threat-Score")))
	assert.Equal(t, "yes", string(out.Header.Peek("X-Upstream")))
	assert.Equal(t, http.StatusCreated, out.StatusCode())
}

func TestDisabledForwarder(t *testing.T) {
	err := httpx.NewDisabledForwarder().Forward(context.Background(), inbound(fasthttp.MethodGet, "/", ""), &fasthttp.Response{}, "")
	assert.ErrorIs(t, err, httpx.ErrNoUpstream)
}

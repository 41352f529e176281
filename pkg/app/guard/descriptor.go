package guard

import (
	"net"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/NeuralTrust/TrustGuard/pkg/common"
	"github.com/NeuralTrust/TrustGuard/pkg/domain/threat"
	"github.com/NeuralTrust/TrustGuard/pkg/infra/fingerprint"
)

// RawRequest is the framework-independent view of an inbound request.
type RawRequest struct {
	RemoteAddr    string
	Method        string
	URI           string
	Headers       map[string]string
	ContentLength int64
	ReceivedAt    time.Time
}

// clientIPHeaders are consulted in order before falling back to the socket address.
var clientIPHeaders = []string{
	"x-forwarded-for",
	"x-real-ip",
	"cf-connecting-ip",
	"true-client-ip",
}

var headerWhitelist = map[string]struct{}{
	"user-agent":                {},
	"accept":                    {},
	"accept-language":           {},
	"accept-encoding":           {},
	"connection":                {},
	"cache-control":             {},
	"referer":                   {},
	"origin":                    {},
	"host":                      {},
	"content-type":              {},
	"content-length":            {},
	"x-forwarded-for":           {},
	"x-real-ip":                 {},
	"x-requested-with":          {},
	"dnt":                       {},
	"upgrade-insecure-requests": {},
	"sec-fetch-site":            {},
	"sec-fetch-mode":            {},
	"sec-fetch-dest":            {},
}

// BuildDescriptor normalizes a raw request. Only whitelisted headers are kept and each value
// is capped at common.HeaderValueMaxLen bytes. Fingerprint and user id are derived from the
// full header set before filtering.
func BuildDescriptor(raw RawRequest) threat.RequestDescriptor {
	lower := make(map[string]string, len(raw.Headers))
	for k, v := range raw.Headers {
		lower[strings.ToLower(k)] = v
	}

	headers := make(map[string]string, len(headerWhitelist))
	for k, v := range lower {
		if _, ok := headerWhitelist[k]; ok {
			headers[k] = capValue(v)
		}
	}

	ts := raw.ReceivedAt
	if ts.IsZero() {
		ts = time.Now()
	}
	size := raw.ContentLength
	if size < 0 {
		size = 0
	}

	return threat.RequestDescriptor{
		ClientIP:         ClientIP(lower, raw.RemoteAddr),
		UserAgent:        headers["user-agent"],
		Endpoint:         raw.URI,
		Method:           strings.ToUpper(raw.Method),
		Timestamp:        ts,
		PayloadSizeBytes: size,
		Headers:          headers,
		Fingerprint:      fingerprint.FromHeaders(lower),
		UserID:           fingerprint.UserID(lower),
	}
}

// ClientIP resolves the client address from lower-case headers with the precedence
// forwarded-for, real-ip, CDN headers, socket address.
func ClientIP(headers map[string]string, remoteAddr string) string {
	for _, h := range clientIPHeaders {
		v := headers[h]
		if v == "" {
			continue
		}
		for _, hop := range strings.Split(v, ",") {
			if ip := normalizeIP(hop); ip != "" {
				return ip
			}
		}
	}
	if ip := normalizeIP(remoteAddr); ip != "" {
		return ip
	}
	return strings.TrimSpace(remoteAddr)
}

// normalizeIP accepts a bare address or host:port, with or without IPv6 brackets.
func normalizeIP(s string) string {
	s = strings.TrimSpace(s)
	if host, _, err := net.SplitHostPort(s); err == nil {
		s = host
	}
	s = strings.TrimSuffix(strings.TrimPrefix(s, "["), "]")
	ip := net.ParseIP(s)
	if ip == nil {
		return ""
	}
	return ip.String()
}

func capValue(v string) string {
	if len(v) <= common.HeaderValueMaxLen {
		return v
	}
	// back off to a rune start so a multi-byte character is not split
	n := common.HeaderValueMaxLen
	for i := 0; i < utf8.UTFMax-1 && n > 0 && !utf8.RuneStart(v[n]); i++ {
		n--
	}
	if !utf8.RuneStart(v[n]) {
		n = common.HeaderValueMaxLen
	}
	return v[:n]
}

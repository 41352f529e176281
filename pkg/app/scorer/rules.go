package scorer

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/NeuralTrust/TrustGuard/pkg/domain/threat"
)

const (
	frequencyWindow     = 60 * time.Second
	frequencyHigh       = 50
	frequencyElevated   = 30
	scanWindow          = 20
	scanDistinctPaths   = 15
	minUserAgentLength  = 10
	minRelevantHeaders  = 3
	timingMinSamples    = 5
	timingMinAverageMs  = 100
	timingFastRatio     = 0.3
	maxPayloadBytes     = 10 * 1024 * 1024
	driftMinSamples     = 10
	driftWindow         = 10
	driftMaxUserAgents  = 3
	driftMethodsTrigger = 4
)

func signal(points int, category threat.Category, format string, args ...interface{}) threat.Signal {
	return threat.Signal{Points: points, Category: category, Reason: fmt.Sprintf(format, args...)}
}

func frequencyRule(d threat.RequestDescriptor, history []threat.RequestDescriptor) []threat.Signal {
	var out []threat.Signal

	cutoff := d.Timestamp.Add(-frequencyWindow)
	count := 1
	for i := len(history) - 1; i >= 0; i-- {
		if history[i].Timestamp.Before(cutoff) {
			break
		}
		count++
	}
	switch {
	case count > frequencyHigh:
		out = append(out, signal(30, threat.CategoryRateLimit, "high request frequency: %d requests in 60s", count))
	case count > frequencyElevated:
		out = append(out, signal(15, threat.CategoryRateLimit, "elevated request frequency: %d requests in 60s", count))
	}

	paths := map[string]struct{}{d.Path(): {}}
	start := len(history) - (scanWindow - 1)
	if start < 0 {
		start = 0
	}
	for _, h := range history[start:] {
		paths[h.Path()] = struct{}{}
	}
	if len(paths) > scanDistinctPaths {
		out = append(out, signal(25, threat.CategoryAnomaly, "endpoint scanning: %d distinct endpoints in last %d requests", len(paths), scanWindow))
	}
	return out
}

func userAgentRule(d threat.RequestDescriptor, _ []threat.RequestDescriptor) []threat.Signal {
	var out []threat.Signal
	ua := strings.TrimSpace(d.UserAgent)
	if len(ua) < minUserAgentLength {
		out = append(out, signal(20, threat.CategoryBot, "missing or suspiciously short user agent"))
	}
	if ua != "" && offensiveUserAgent.MatchString(ua) {
		out = append(out, signal(40, threat.CategoryBot, "offensive tool user agent: %s", offensiveUserAgent.FindString(ua)))
	}
	return out
}

func endpointRule(d threat.RequestDescriptor, _ []threat.RequestDescriptor) []threat.Signal {
	raw := d.Endpoint
	decoded, err := url.QueryUnescape(raw)
	if err != nil {
		decoded = raw
	}
	var out []threat.Signal
	for _, p := range endpointPatterns {
		if p.Regex.MatchString(raw) || p.Regex.MatchString(decoded) {
			out = append(out, signal(35, p.Category, "malicious endpoint pattern: %s", p.Name))
		}
	}
	return out
}

func headersRule(d threat.RequestDescriptor, _ []threat.RequestDescriptor) []threat.Signal {
	var out []threat.Signal
	present := 0
	for _, name := range relevantHeaders {
		if v, ok := d.Header(name); ok && v != "" {
			present++
		}
	}
	if present < minRelevantHeaders {
		out = append(out, signal(15, threat.CategoryBot, "few standard headers: %d present", present))
	}
	if ua, ok := d.Header("user-agent"); (!ok || ua == "") && d.UserAgent == "" {
		out = append(out, signal(10, threat.CategoryBot, "missing required header: user-agent"))
	}
	if accept, ok := d.Header("accept"); !ok || accept == "" {
		out = append(out, signal(10, threat.CategoryBot, "missing required header: accept"))
	}
	return out
}

func timingRule(d threat.RequestDescriptor, history []threat.RequestDescriptor) []threat.Signal {
	if d.ResponseTimeMs <= 0 {
		return nil
	}
	var sum int64
	samples := 0
	for _, h := range history {
		if h.ResponseTimeMs > 0 {
			sum += h.ResponseTimeMs
			samples++
		}
	}
	if samples < timingMinSamples {
		return nil
	}
	avg := float64(sum) / float64(samples)
	if avg > timingMinAverageMs && float64(d.ResponseTimeMs) < timingFastRatio*avg {
		return []threat.Signal{signal(10, threat.CategoryBot, "too fast, likely automated: %dms vs %.0fms average", d.ResponseTimeMs, avg)}
	}
	return nil
}

func payloadRule(d threat.RequestDescriptor, _ []threat.RequestDescriptor) []threat.Signal {
	if d.PayloadSizeBytes > maxPayloadBytes {
		return []threat.Signal{signal(20, threat.CategoryAnomaly, "oversized payload: %d bytes", d.PayloadSizeBytes)}
	}
	return nil
}

func driftRule(_ threat.RequestDescriptor, history []threat.RequestDescriptor) []threat.Signal {
	if len(history) < driftMinSamples {
		return nil
	}
	recent := history[len(history)-driftWindow:]
	agents := map[string]struct{}{}
	methods := map[string]struct{}{}
	for _, h := range recent {
		agents[h.UserAgent] = struct{}{}
		methods[strings.ToUpper(h.Method)] = struct{}{}
	}
	var out []threat.Signal
	if len(agents) > driftMaxUserAgents {
		out = append(out, signal(15, threat.CategoryAnomaly, "identity switching: %d user agents in last %d requests", len(agents), driftWindow))
	}
	if len(methods) >= driftMethodsTrigger {
		out = append(out, signal(10, threat.CategoryAnomaly, "identity switching: %d http methods in last %d requests", len(methods), driftWindow))
	}
	return out
}

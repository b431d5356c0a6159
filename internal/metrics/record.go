package metrics

import (
	"context"
	"errors"
	"net"
	"regexp"
	"strconv"
	"strings"
	"time"
)

var (
	uuidPattern    = regexp.MustCompile(`[0-9a-fA-F]{8}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{12}`)
	numericSegment = regexp.MustCompile(`/\d+(/|$)`)
)

// RecordOptionLoad counts one option resolution.
func (m *Metrics) RecordOptionLoad(source, result string) {
	m.safeExecute("RecordOptionLoad", func() {
		m.OptionLoadsTotal.WithLabelValues(source, result).Inc()
	})
}

// RecordCacheLookup counts a cache hit, miss or stale read.
func (m *Metrics) RecordCacheLookup(result string) {
	m.safeExecute("RecordCacheLookup", func() {
		m.OptionCacheRequests.WithLabelValues(result).Inc()
	})
}

// RecordExternalAPICall records CTMS API call metrics
func (m *Metrics) RecordExternalAPICall(endpoint, method string, statusCode int, duration time.Duration, err error) {
	m.safeExecute("RecordExternalAPICall", func() {
		endpoint = NormalizeEndpoint(endpoint)
		status := strconv.Itoa(statusCode)

		m.ExternalAPIRequestsTotal.WithLabelValues(endpoint, method, status).Inc()
		m.ExternalAPIRequestDuration.WithLabelValues(endpoint, method).Observe(duration.Seconds())

		if err != nil || statusCode >= 400 {
			m.ExternalAPIErrors.WithLabelValues(endpoint, errorType(statusCode, err)).Inc()
		}
	})
}

// RecordValidationIssue counts one validation error or warning.
func (m *Metrics) RecordValidationIssue(ruleID, severity string) {
	m.safeExecute("RecordValidationIssue", func() {
		if ruleID == "" {
			ruleID = "unspecified"
		}
		m.ValidationIssuesTotal.WithLabelValues(ruleID, severity).Inc()
	})
}

// RecordHTTPRequest records one served HTTP request.
func (m *Metrics) RecordHTTPRequest(method, endpoint string, statusCode int, duration time.Duration) {
	m.safeExecute("RecordHTTPRequest", func() {
		m.HTTPRequestsTotal.WithLabelValues(method, endpoint, strconv.Itoa(statusCode)).Inc()
		m.HTTPRequestDuration.WithLabelValues(method, endpoint).Observe(duration.Seconds())
	})
}

// RecordToolCall counts one MCP tool invocation.
func (m *Metrics) RecordToolCall(tool string, err error) {
	m.safeExecute("RecordToolCall", func() {
		result := "success"
		if err != nil {
			result = "error"
		}
		m.ToolCallsTotal.WithLabelValues(tool, result).Inc()
	})
}

// NormalizeEndpoint strips the query and replaces ids with templates so label
// cardinality stays bounded.
// Example: /api/v1/studies/42/sites?active=true -> /api/v1/studies/{id}/sites
func NormalizeEndpoint(endpoint string) string {
	if i := strings.IndexByte(endpoint, '?'); i >= 0 {
		endpoint = endpoint[:i]
	}
	endpoint = uuidPattern.ReplaceAllString(endpoint, "{id}")
	for numericSegment.MatchString(endpoint) {
		endpoint = numericSegment.ReplaceAllString(endpoint, "/{id}$1")
	}
	return endpoint
}

// errorType categorizes errors based on status code and error
func errorType(statusCode int, err error) string {
	switch {
	case statusCode == 400:
		return "bad_request"
	case statusCode == 401:
		return "unauthorized"
	case statusCode == 403:
		return "forbidden"
	case statusCode == 404:
		return "not_found"
	case statusCode == 429:
		return "too_many_requests"
	case statusCode >= 400 && statusCode < 500:
		return "client_error"
	case statusCode == 502:
		return "bad_gateway"
	case statusCode == 503:
		return "service_unavailable"
	case statusCode == 504:
		return "gateway_timeout"
	case statusCode >= 500 && statusCode < 600:
		return "server_error"
	}

	if err == nil {
		return "unknown"
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return "timeout"
	}
	if errors.Is(err, context.Canceled) {
		return "canceled"
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return "timeout"
	}
	msg := err.Error()
	switch {
	case strings.Contains(msg, "connection refused"):
		return "connection_refused"
	case strings.Contains(msg, "no such host"):
		return "dns_error"
	case strings.Contains(msg, "EOF"), strings.Contains(msg, "connection reset"):
		return "connection_reset"
	case strings.Contains(msg, "certificate"), strings.Contains(msg, "tls"):
		return "tls_error"
	}
	return "network_error"
}

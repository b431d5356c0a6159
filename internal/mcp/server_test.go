package mcp

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/clinprecision/ctms-forms/internal/audit"
	"github.com/clinprecision/ctms-forms/internal/health"
	"github.com/clinprecision/ctms-forms/internal/metrics"
	"github.com/clinprecision/ctms-forms/internal/options"
	"github.com/clinprecision/ctms-forms/internal/validation"
	"github.com/clinprecision/ctms-forms/pkg/types"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const countryPath = "/clinops-ws/api/v1/study-design/metadata/codelists/simple/COUNTRY"

type fakeFetcher struct {
	mu    sync.Mutex
	body  map[string]any
	err   error
	calls int
}

func (f *fakeFetcher) Get(_ context.Context, path string, out any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return f.err
	}
	body, ok := f.body[path]
	if !ok {
		return fmt.Errorf("unexpected request %s", path)
	}
	data, err := json.Marshal(body)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, out)
}

type testEnv struct {
	server  *Server
	fetcher *fakeFetcher
	audit   *audit.Logger
	metrics *metrics.Metrics
	out     *bytes.Buffer
}

func newTestEnv(t *testing.T, rateLimit int, input ...string) *testEnv {
	t.Helper()

	auditLog, err := audit.NewLogger(audit.Config{FilePath: filepath.Join(t.TempDir(), "audit.log")})
	require.NoError(t, err)
	t.Cleanup(func() { _ = auditLog.Close() })

	fetcher := &fakeFetcher{body: map[string]any{
		countryPath: []any{
			map[string]any{"code": "US", "displayName": "United States"},
			map[string]any{"code": "CA", "displayName": "Canada"},
		},
	}}
	m := metrics.NewWithRegistry(prometheus.NewRegistry(), nil)
	loader := options.NewLoader(fetcher, options.WithMetrics(m), options.WithAudit(auditLog))
	engine := validation.NewEngine(validation.WithMetrics(m))

	out := &bytes.Buffer{}
	server := NewServer(Dependencies{
		Options:   loader,
		Validator: engine,
		Health:    health.NewChecker(loader.Store(), "http://ctms.test", nil, auditLog),
		Audit:     auditLog,
		Metrics:   m,
	}, &ServerOptions{
		RateLimit:   rateLimit,
		ProfileName: "default",
		Input:       strings.NewReader(strings.Join(input, "\n") + "\n"),
		Output:      out,
	})

	return &testEnv{server: server, fetcher: fetcher, audit: auditLog, metrics: m, out: out}
}

// run serves the queued input and returns every response by position.
func (e *testEnv) run(t *testing.T) []types.MCPResponse {
	t.Helper()
	require.NoError(t, e.server.Start(context.Background()))

	var responses []types.MCPResponse
	scanner := bufio.NewScanner(e.out)
	scanner.Buffer(make([]byte, 0, 64*1024), maxMessageSize)
	for scanner.Scan() {
		var resp types.MCPResponse
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &resp), scanner.Text())
		assert.Equal(t, "2.0", resp.JSONRPC)
		responses = append(responses, resp)
	}
	require.NoError(t, scanner.Err())
	return responses
}

func request(id int, method string, params any) string {
	req := map[string]any{"jsonrpc": "2.0", "id": id, "method": method}
	if params != nil {
		req["params"] = params
	}
	data, _ := json.Marshal(req)
	return string(data)
}

func toolCall(id int, name string, args any) string {
	return request(id, "tools/call", map[string]any{"name": name, "arguments": args})
}

// toolText decodes the single text block of a successful tool result.
func toolText(t *testing.T, resp types.MCPResponse, out any) {
	t.Helper()
	require.Nil(t, resp.Error, "unexpected protocol error")

	data, err := json.Marshal(resp.Result)
	require.NoError(t, err)
	var result types.ToolResult
	require.NoError(t, json.Unmarshal(data, &result))
	require.False(t, result.IsError, "tool failed: %+v", result.Content)
	require.Len(t, result.Content, 1)
	assert.Equal(t, "text", result.Content[0].Type)
	require.NoError(t, json.Unmarshal([]byte(result.Content[0].Text), out))
}

var countryField = map[string]any{
	"id":   "country",
	"type": "select",
	"metadata": map[string]any{
		"uiConfig": map[string]any{
			"optionSource": map[string]any{"type": "CODE_LIST", "category": "COUNTRY"},
		},
	},
}

var ageMetadata = map[string]any{
	"validation": map[string]any{
		"required": true,
		"type":     "integer",
		"minValue": 18,
		"maxValue": 120,
	},
}

func TestServer_Handshake(t *testing.T) {
	env := newTestEnv(t, 0,
		request(1, "initialize", map[string]any{
			"protocolVersion": "2024-11-05",
			"clientInfo":      map[string]any{"name": "test-client", "version": "0.1"},
		}),
		`{"jsonrpc":"2.0","method":"notifications/initialized"}`,
		request(2, "tools/list", nil),
		request(3, "ping", nil),
	)

	responses := env.run(t)
	require.Len(t, responses, 3, "the initialized notification gets no response")

	var initResult struct {
		ProtocolVersion string `json:"protocolVersion"`
		ServerInfo      struct {
			Name string `json:"name"`
		} `json:"serverInfo"`
	}
	remarshal(t, responses[0].Result, &initResult)
	assert.Equal(t, "2024-11-05", initResult.ProtocolVersion)
	assert.Equal(t, "ctms-forms", initResult.ServerInfo.Name)

	var list struct {
		Tools []types.MCPTool `json:"tools"`
	}
	remarshal(t, responses[1].Result, &list)
	var names []string
	for _, tool := range list.Tools {
		names = append(names, tool.Name)
		assert.Equal(t, "object", tool.InputSchema["type"], tool.Name)
	}
	assert.ElementsMatch(t, []string{
		"validate_field", "validate_form",
		"load_field_options", "refresh_field_options", "preload_form_options",
		"clear_option_cache", "clear_field_cache", "option_cache_stats",
		"health_check",
	}, names)

	assert.EqualValues(t, 3, responses[2].ID)
	assert.Nil(t, responses[2].Error)
}

func TestServer_ProtocolErrors(t *testing.T) {
	env := newTestEnv(t, 0,
		`{not json`,
		`{"jsonrpc":"1.0","id":1,"method":"tools/list"}`,
		request(2, "sessions/list", nil),
		toolCall(3, "get_secret", map[string]any{}),
		request(4, "tools/call", map[string]any{"arguments": map[string]any{}}),
		toolCall(5, "validate_field", map[string]any{"value": 1}),
		toolCall(6, "validate_form", []any{}),
	)

	responses := env.run(t)
	require.Len(t, responses, 7)

	want := []int{
		types.CodeParseError,
		types.CodeInvalidRequest,
		types.CodeMethodNotFound,
		types.CodeInvalidParams,
		types.CodeInvalidParams,
		types.CodeInvalidParams,
		types.CodeInvalidParams,
	}
	for i, code := range want {
		require.NotNil(t, responses[i].Error, "response %d", i)
		assert.Equal(t, code, responses[i].Error.Code, "response %d: %s", i, responses[i].Error.Message)
	}
	assert.Contains(t, responses[3].Error.Message, "unknown tool")
	assert.Contains(t, responses[5].Error.Message, "fieldId is required")
}

func TestServer_RateLimit(t *testing.T) {
	env := newTestEnv(t, 2,
		request(1, "ping", nil),
		request(2, "ping", nil),
		request(3, "ping", nil),
	)

	responses := env.run(t)
	require.Len(t, responses, 3)
	assert.Nil(t, responses[0].Error)
	assert.Nil(t, responses[1].Error)
	require.NotNil(t, responses[2].Error)
	assert.Equal(t, types.CodeRateLimited, responses[2].Error.Code)

	require.NoError(t, env.audit.Close())
	denied, err := audit.Search(env.audit.Path(), audit.Query{EventTypes: []audit.EventType{audit.EventAccessDenied}})
	require.NoError(t, err)
	require.Len(t, denied, 1)
	assert.Equal(t, "ping", denied[0].Resource)
}

func TestServer_ValidateField(t *testing.T) {
	tests := []struct {
		name   string
		value  any
		valid  bool
		ruleID string
	}{
		{"below minimum", 17, false, "MIN_VALUE"},
		{"not an integer", "abc", false, "TYPE_INTEGER"},
		{"in range", 45, true, ""},
		{"absent", nil, false, "REQUIRED"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, 0, toolCall(1, "validate_field", map[string]any{
				"fieldId":  "age",
				"value":    tt.value,
				"metadata": ageMetadata,
			}))

			responses := env.run(t)
			require.Len(t, responses, 1)

			var res validation.Result
			toolText(t, responses[0], &res)
			assert.Equal(t, tt.valid, res.Valid)
			if tt.ruleID != "" {
				require.Len(t, res.Errors, 1)
				assert.Equal(t, tt.ruleID, res.Errors[0].RuleID)
				assert.Equal(t, "age", res.Errors[0].Field)
			}
		})
	}
}

func TestServer_ValidateForm(t *testing.T) {
	form := map[string]any{
		"id": "demographics",
		"fields": []any{
			map[string]any{"id": "age", "metadata": ageMetadata},
			map[string]any{"id": "initials", "metadata": map[string]any{
				"validation": map[string]any{"maxLength": 3},
			}},
		},
	}
	env := newTestEnv(t, 0, toolCall(1, "validate_form", map[string]any{
		"form": form,
		"data": map[string]any{"age": 16, "initials": "ABCD"},
	}))

	responses := env.run(t)
	require.Len(t, responses, 1)

	var res validation.FormResult
	toolText(t, responses[0], &res)
	assert.False(t, res.Valid)
	assert.Len(t, res.Errors, 2)
	assert.Contains(t, res.FieldErrors, "age")
	assert.Contains(t, res.FieldErrors, "initials")
	assert.Equal(t, 1.0, testutil.ToFloat64(env.metrics.ToolCallsTotal.WithLabelValues("validate_form", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(env.metrics.ValidationIssuesTotal.WithLabelValues("MIN_VALUE", "error")))

	require.NoError(t, env.audit.Close())
	events, err := audit.Search(env.audit.Path(), audit.Query{EventTypes: []audit.EventType{audit.EventFormValidated}})
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "INVALID", events[0].Result)
	assert.Equal(t, env.server.SessionID(), events[0].CorrelationID)
}

func TestServer_OptionTools(t *testing.T) {
	env := newTestEnv(t, 0,
		toolCall(1, "load_field_options", map[string]any{"field": countryField, "context": map[string]any{"studyId": 7}}),
		toolCall(2, "load_field_options", map[string]any{"field": countryField, "context": map[string]any{"studyId": 7}}),
		toolCall(3, "option_cache_stats", nil),
		toolCall(4, "refresh_field_options", map[string]any{"field": countryField, "context": map[string]any{"studyId": 7}}),
		toolCall(5, "clear_field_cache", map[string]any{"fieldId": "country"}),
		toolCall(6, "preload_form_options", map[string]any{"form": map[string]any{
			"id": "f",
			"fields": []any{
				countryField,
				map[string]any{"id": "free_text"},
				map[string]any{"id": "sex", "options": []any{
					map[string]any{"value": "M", "label": "Male"},
					map[string]any{"value": "F", "label": "Female"},
				}},
			},
		}}),
		toolCall(7, "clear_option_cache", map[string]any{}),
		toolCall(8, "option_cache_stats", map[string]any{}),
	)

	responses := env.run(t)
	require.Len(t, responses, 8)

	var loaded struct {
		Options []map[string]any `json:"options"`
		Count   int              `json:"count"`
	}
	toolText(t, responses[0], &loaded)
	assert.Equal(t, 2, loaded.Count)
	assert.Equal(t, "United States", loaded.Options[0]["label"])
	toolText(t, responses[1], &loaded)
	assert.Equal(t, 2, loaded.Count)

	var stats options.CacheStats
	toolText(t, responses[2], &stats)
	assert.Equal(t, 1, stats.TotalEntries)

	toolText(t, responses[3], &loaded)
	assert.Equal(t, 2, loaded.Count)

	var cleared struct {
		Removed int `json:"removed"`
	}
	toolText(t, responses[4], &cleared)
	assert.Equal(t, 1, cleared.Removed)

	var preload struct {
		Options map[string][]map[string]any `json:"options"`
		Fields  int                         `json:"fields"`
	}
	toolText(t, responses[5], &preload)
	assert.Equal(t, 2, preload.Fields)
	assert.Len(t, preload.Options["country"], 2)
	assert.Len(t, preload.Options["sex"], 2)
	assert.NotContains(t, preload.Options, "free_text")

	toolText(t, responses[7], &stats)
	assert.Equal(t, 0, stats.TotalEntries)

	// The second load was a cache hit; refresh and preload fetched again.
	assert.Equal(t, 3, env.fetcher.calls)
}

func TestServer_ToolFailure(t *testing.T) {
	env := newTestEnv(t, 0,
		toolCall(1, "refresh_field_options", map[string]any{"field": countryField}),
		toolCall(2, "load_field_options", map[string]any{"field": countryField}),
	)
	env.fetcher.err = errors.New("connection refused")

	responses := env.run(t)
	require.Len(t, responses, 2)

	// refresh reports the source failure as a failed tool result.
	require.Nil(t, responses[0].Error)
	var result types.ToolResult
	remarshal(t, responses[0].Result, &result)
	assert.True(t, result.IsError)
	require.Len(t, result.Content, 1)
	assert.Contains(t, result.Content[0].Text, "connection refused")

	// load never fails; with nothing cached it returns no options.
	var loaded struct {
		Count int `json:"count"`
	}
	toolText(t, responses[1], &loaded)
	assert.Equal(t, 0, loaded.Count)

	assert.Equal(t, 1.0, testutil.ToFloat64(env.metrics.ToolCallsTotal.WithLabelValues("refresh_field_options", "error")))
}

func TestServer_HealthCheck(t *testing.T) {
	env := newTestEnv(t, 0, toolCall(1, "health_check", nil))

	responses := env.run(t)
	require.Len(t, responses, 1)

	var report struct {
		Status    string                       `json:"status"`
		SessionID string                       `json:"session_id"`
		Checks    map[string]map[string]string `json:"checks"`
	}
	toolText(t, responses[0], &report)
	assert.Equal(t, health.StatusDegraded, report.Status)
	assert.Equal(t, env.server.SessionID(), report.SessionID)
	require.Contains(t, report.Checks, "auth_token")
	assert.Equal(t, "warning", report.Checks["auth_token"]["status"])
}

func TestServer_StartCanceled(t *testing.T) {
	r, w := io.Pipe()
	defer w.Close()

	server := NewServer(Dependencies{}, &ServerOptions{Input: r, Output: &bytes.Buffer{}})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- server.Start(ctx) }()

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop after cancel")
	}
}

func TestNewServer_Defaults(t *testing.T) {
	s := NewServer(Dependencies{}, nil)
	assert.Equal(t, 30*time.Second, s.config.Timeout)
	assert.True(t, strings.HasPrefix(s.SessionID(), "mcp-"))
	assert.NotNil(t, s.logger)
	assert.True(t, s.rateLimiter.Allow())
}

func TestTrimLine(t *testing.T) {
	assert.Equal(t, `{"a":1}`, string(trimLine([]byte("{\"a\":1}\r\n"))))
	assert.Empty(t, trimLine([]byte(" \t\n")))
}

func remarshal(t *testing.T, in, out any) {
	t.Helper()
	data, err := json.Marshal(in)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(data, out))
}

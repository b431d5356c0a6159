package e2e

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/clinprecision/ctms-forms/internal/apiclient"
	"github.com/clinprecision/ctms-forms/internal/audit"
	"github.com/clinprecision/ctms-forms/internal/authstore"
	"github.com/clinprecision/ctms-forms/internal/health"
	"github.com/clinprecision/ctms-forms/internal/mcp"
	"github.com/clinprecision/ctms-forms/internal/metrics"
	"github.com/clinprecision/ctms-forms/internal/options"
	"github.com/clinprecision/ctms-forms/internal/testing/mock"
	"github.com/clinprecision/ctms-forms/internal/validation"
	"github.com/clinprecision/ctms-forms/pkg/types"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sessionToken = "e2e-session-token"

// TestHarness drives a real MCP server, wired to the fake CTMS API, over
// pipes.
type TestHarness struct {
	api    *mock.CTMSServer
	tokens authstore.ProfileTokens
	audit  *audit.Logger

	in     *io.PipeWriter
	out    *bufio.Scanner
	nextID int

	mu  sync.Mutex
	now time.Time
}

func NewTestHarness(t *testing.T) *TestHarness {
	t.Helper()

	h := &TestHarness{
		api: mock.NewCTMSServer(sessionToken),
		now: time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC),
	}
	t.Cleanup(h.api.Close)

	dir := t.TempDir()
	var err error
	h.audit, err = audit.NewLogger(audit.Config{FilePath: filepath.Join(dir, "audit.log")})
	require.NoError(t, err)

	creds := authstore.NewMemoryStore()
	require.NoError(t, creds.Put(authstore.Credential{Name: "e2e", BaseURL: h.api.URL, Token: sessionToken}))
	h.tokens = authstore.NewProfileTokens(creds, "e2e")

	m := metrics.NewWithRegistry(prometheus.NewRegistry(), nil)
	client, err := apiclient.New(h.api.URL,
		apiclient.WithTimeout(5*time.Second),
		apiclient.WithTokenStore(h.tokens, "e2e"),
		apiclient.WithMetrics(m),
		apiclient.WithAudit(h.audit),
	)
	require.NoError(t, err)

	cache, err := options.OpenLevelStore(filepath.Join(dir, "option-cache"))
	require.NoError(t, err)

	loader := options.NewLoader(client,
		options.WithStore(cache),
		options.WithClock(h.clock),
		options.WithMetrics(m),
		options.WithAudit(h.audit),
	)

	inR, inW := io.Pipe()
	outR, outW := io.Pipe()
	h.in = inW
	h.out = bufio.NewScanner(outR)
	h.out.Buffer(make([]byte, 0, 64*1024), 4<<20)

	server := mcp.NewServer(mcp.Dependencies{
		Options:   loader,
		Validator: validation.NewEngine(validation.WithClock(h.clock), validation.WithMetrics(m)),
		Health:    health.NewChecker(cache, h.api.URL, h.tokens, h.audit),
		Audit:     h.audit,
		Metrics:   m,
	}, &mcp.ServerOptions{
		Timeout:     5 * time.Second,
		ProfileName: "e2e",
		Input:       inR,
		Output:      outW,
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- server.Start(ctx) }()

	// Cleanups run last-in first-out: stop the server before the cache and
	// audit log it writes to are closed.
	t.Cleanup(func() {
		_ = cache.Close()
		_ = h.audit.Close()
	})
	t.Cleanup(func() {
		_ = inW.Close()
		cancel()
		<-done
		_ = outR.Close()
	})

	return h
}

func (h *TestHarness) clock() time.Time {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.now
}

func (h *TestHarness) advance(d time.Duration) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.now = h.now.Add(d)
}

// SendRequest writes one JSON-RPC request and reads its response.
func (h *TestHarness) SendRequest(t *testing.T, method string, params any) types.MCPResponse {
	t.Helper()
	h.nextID++
	data, err := json.Marshal(map[string]any{"jsonrpc": "2.0", "id": h.nextID, "method": method, "params": params})
	require.NoError(t, err)

	_, err = fmt.Fprintf(h.in, "%s\n", data)
	require.NoError(t, err)

	require.True(t, h.out.Scan(), "no response: %v", h.out.Err())
	var resp types.MCPResponse
	require.NoError(t, json.Unmarshal(h.out.Bytes(), &resp))
	return resp
}

// CallTool calls name and decodes its text content into out. It returns
// whether the tool reported a failure.
func (h *TestHarness) CallTool(t *testing.T, name string, args any, out any) bool {
	t.Helper()
	resp := h.SendRequest(t, "tools/call", map[string]any{"name": name, "arguments": args})
	require.Nil(t, resp.Error, "protocol error calling %s", name)

	data, err := json.Marshal(resp.Result)
	require.NoError(t, err)
	var result types.ToolResult
	require.NoError(t, json.Unmarshal(data, &result))
	require.Len(t, result.Content, 1)

	if !result.IsError && out != nil {
		require.NoError(t, json.Unmarshal([]byte(result.Content[0].Text), out))
	}
	return result.IsError
}

type loadResult struct {
	FieldID string `json:"fieldId"`
	Count   int    `json:"count"`
	Options []struct {
		Value any    `json:"value"`
		Label string `json:"label"`
	} `json:"options"`
}

func countryField() map[string]any {
	return map[string]any{
		"id": "country",
		"metadata": map[string]any{
			"uiConfig": map[string]any{
				"optionSource": map[string]any{"type": "CODE_LIST", "category": "COUNTRY", "cacheDuration": 60},
			},
		},
	}
}

func siteField() map[string]any {
	return map[string]any{
		"id": "site",
		"metadata": map[string]any{
			"uiConfig": map[string]any{
				"optionSource": map[string]any{
					"type":     "STUDY_DATA",
					"endpoint": "/api/studies/{studyId}/sites",
					"filter":   "status=active",
				},
			},
		},
	}
}

func TestInitializeAndListTools(t *testing.T) {
	h := NewTestHarness(t)

	resp := h.SendRequest(t, "initialize", map[string]any{
		"protocolVersion": "2024-11-05",
		"clientInfo":      map[string]any{"name": "e2e", "version": "1"},
	})
	require.Nil(t, resp.Error)

	resp = h.SendRequest(t, "tools/list", nil)
	require.Nil(t, resp.Error)
	data, err := json.Marshal(resp.Result)
	require.NoError(t, err)
	assert.Contains(t, string(data), "load_field_options")
	assert.Contains(t, string(data), "validate_form")
}

func TestCodeListIsCached(t *testing.T) {
	h := NewTestHarness(t)
	path := mock.CodeListPrefix + "COUNTRY"

	var first, second loadResult
	require.False(t, h.CallTool(t, "load_field_options", map[string]any{"field": countryField()}, &first))
	require.False(t, h.CallTool(t, "load_field_options", map[string]any{"field": countryField()}, &second))

	assert.Equal(t, 3, first.Count)
	assert.Equal(t, "United States", first.Options[0].Label)
	assert.Equal(t, first, second)
	assert.Equal(t, 1, h.api.Calls(path), "second load is served from cache")

	h.advance(2 * time.Minute)
	require.False(t, h.CallTool(t, "load_field_options", map[string]any{"field": countryField()}, &second))
	assert.Equal(t, 2, h.api.Calls(path), "expired entry is refetched")
}

func TestLabelsAreSanitized(t *testing.T) {
	h := NewTestHarness(t)

	field := map[string]any{"id": "severity", "metadata": map[string]any{"codeListCategory": "SEVERITY"}}
	var got loadResult
	require.False(t, h.CallTool(t, "load_field_options", map[string]any{"field": field}, &got))
	require.Equal(t, 3, got.Count)
	assert.Equal(t, "Severe", got.Options[2].Label)
}

func TestStudyScopedOptions(t *testing.T) {
	h := NewTestHarness(t)

	var study1, study2 loadResult
	require.False(t, h.CallTool(t, "load_field_options", map[string]any{
		"field": siteField(), "context": map[string]any{"studyId": "1"},
	}, &study1))
	require.False(t, h.CallTool(t, "load_field_options", map[string]any{
		"field": siteField(), "context": map[string]any{"studyId": "2"},
	}, &study2))

	assert.Equal(t, 2, study1.Count)
	assert.Equal(t, 1, study2.Count)
	assert.Equal(t, "Toronto Clinic", study2.Options[0].Label)

	var stats options.CacheStats
	require.False(t, h.CallTool(t, "option_cache_stats", map[string]any{}, &stats))
	assert.Equal(t, 2, stats.TotalEntries)

	var cleared struct {
		Removed int `json:"removed"`
	}
	require.False(t, h.CallTool(t, "clear_field_cache", map[string]any{"fieldId": "site"}, &cleared))
	assert.Equal(t, 2, cleared.Removed)
}

func TestOutageServesStaleOptions(t *testing.T) {
	h := NewTestHarness(t)

	var got loadResult
	require.False(t, h.CallTool(t, "load_field_options", map[string]any{"field": countryField()}, &got))
	require.Equal(t, 3, got.Count)

	h.api.SetDown(true)
	h.advance(time.Hour)

	require.False(t, h.CallTool(t, "load_field_options", map[string]any{"field": countryField()}, &got))
	assert.Equal(t, 3, got.Count, "stale entry is served while the API is down")

	assert.True(t, h.CallTool(t, "refresh_field_options", map[string]any{"field": countryField()}, nil),
		"refresh reports the outage")

	h.api.SetDown(false)
	require.False(t, h.CallTool(t, "refresh_field_options", map[string]any{"field": countryField()}, &got))
	assert.Equal(t, 3, got.Count)
}

func TestRejectedTokenIsCleared(t *testing.T) {
	h := NewTestHarness(t)
	h.api.RotateToken("someone-else")

	var got loadResult
	require.False(t, h.CallTool(t, "load_field_options", map[string]any{"field": countryField()}, &got))
	assert.Equal(t, 0, got.Count)

	token, err := h.tokens.Token(context.Background())
	require.NoError(t, err)
	assert.Empty(t, token, "401 drops the stored session")

	var status struct {
		Status string                  `json:"status"`
		Checks map[string]health.Check `json:"checks"`
	}
	require.False(t, h.CallTool(t, "health_check", map[string]any{}, &status))
	assert.Equal(t, health.StatusDegraded, status.Status)
	assert.Contains(t, status.Checks, "auth_token")
}

func TestValidateFormWithLoadedOptions(t *testing.T) {
	h := NewTestHarness(t)

	form := map[string]any{
		"id": "enrollment",
		"fields": []any{
			countryField(),
			map[string]any{
				"id": "age",
				"metadata": map[string]any{
					"validation": map[string]any{"required": true, "type": "integer", "minValue": 18},
				},
			},
			map[string]any{
				"id": "consentDate",
				"metadata": map[string]any{
					"validation": map[string]any{"required": true, "type": "date"},
				},
			},
		},
	}

	var preload struct {
		Fields int `json:"fields"`
	}
	require.False(t, h.CallTool(t, "preload_form_options", map[string]any{"form": form}, &preload))
	assert.Equal(t, 1, preload.Fields)

	var result validation.FormResult
	require.False(t, h.CallTool(t, "validate_form", map[string]any{
		"form": form,
		"data": map[string]any{"country": "CA", "age": 16, "consentDate": "2026-03-01"},
	}, &result))

	assert.False(t, result.Valid)
	require.Len(t, result.Errors, 1)
	assert.Equal(t, "MIN_VALUE", result.Errors[0].RuleID)
	assert.Contains(t, result.FieldErrors, "age")
}

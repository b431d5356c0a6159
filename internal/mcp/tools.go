package mcp

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/clinprecision/ctms-forms/pkg/types"
)

// argumentError marks a tool call whose arguments could not be used. It maps
// to a JSON-RPC invalid params error rather than a failed tool result.
type argumentError struct {
	tool string
	msg  string
}

func (e *argumentError) Error() string {
	return fmt.Sprintf("invalid arguments for %s: %s", e.tool, e.msg)
}

func invalidArgs(tool, format string, args ...interface{}) error {
	return &argumentError{tool: tool, msg: fmt.Sprintf(format, args...)}
}

func decodeArgs(tool string, args json.RawMessage, out interface{}) error {
	if err := json.Unmarshal(args, out); err != nil {
		return invalidArgs(tool, "%v", err)
	}
	return nil
}

var (
	contextSchema = map[string]interface{}{
		"type":        "object",
		"description": "Render context: studyId, siteId, subjectId, visitId, formId. Substituted into endpoint templates; studyId and siteId scope the cache.",
		"properties": map[string]interface{}{
			"studyId":   map[string]interface{}{"type": []string{"string", "number"}},
			"siteId":    map[string]interface{}{"type": []string{"string", "number"}},
			"subjectId": map[string]interface{}{"type": []string{"string", "number"}},
			"visitId":   map[string]interface{}{"type": []string{"string", "number"}},
			"formId":    map[string]interface{}{"type": []string{"string", "number"}},
		},
	}
	fieldSchema = map[string]interface{}{
		"type":        "object",
		"description": "Field definition with id, label, type, metadata (validation, dataQuality, uiConfig.optionSource) and options",
		"properties": map[string]interface{}{
			"id": map[string]interface{}{"type": "string"},
		},
		"required": []string{"id"},
	}
	formSchema = map[string]interface{}{
		"type":        "object",
		"description": "Form definition: an id and an ordered list of field definitions",
		"properties": map[string]interface{}{
			"id":     map[string]interface{}{"type": "string"},
			"fields": map[string]interface{}{"type": "array", "items": fieldSchema},
		},
		"required": []string{"fields"},
	}
	emptySchema = map[string]interface{}{
		"type":       "object",
		"properties": map[string]interface{}{},
	}
)

// getAvailableTools returns the list of available MCP tools
func (s *Server) getAvailableTools() []types.MCPTool {
	return []types.MCPTool{
		{
			Name:        "validate_field",
			Description: "Validate one field value against its metadata. Returns valid, errors and warnings.",
			InputSchema: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"fieldId": map[string]interface{}{
						"type":        "string",
						"description": "Field id used in issue messages",
					},
					"value": map[string]interface{}{
						"description": "The value to check; omit or null for an empty field",
					},
					"metadata": map[string]interface{}{
						"type":        "object",
						"description": "Field metadata: validation, dataQuality and legacy top-level limits",
					},
					"formData": map[string]interface{}{
						"type":        "object",
						"description": "Other field values, visible to custom and cross-field rules",
					},
				},
				"required": []string{"fieldId"},
			},
		},
		{
			Name:        "validate_form",
			Description: "Validate every field of a form. Returns aggregated errors and warnings, plus per-field maps.",
			InputSchema: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"form": formSchema,
					"data": map[string]interface{}{
						"type":        "object",
						"description": "Submitted values keyed by field id",
					},
				},
				"required": []string{"form"},
			},
		},
		{
			Name:        "load_field_options",
			Description: "Resolve a field's options through the cache. Falls back to cached or empty options if the source fails.",
			InputSchema: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"field":   fieldSchema,
					"context": contextSchema,
				},
				"required": []string{"field"},
			},
		},
		{
			Name:        "refresh_field_options",
			Description: "Fetch a field's options from their source, bypassing and repopulating the cache",
			InputSchema: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"field":   fieldSchema,
					"context": contextSchema,
				},
				"required": []string{"field"},
			},
		},
		{
			Name:        "preload_form_options",
			Description: "Resolve the options of every field in a form that has an option source or static options",
			InputSchema: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"form":    formSchema,
					"context": contextSchema,
				},
				"required": []string{"form"},
			},
		},
		{
			Name:        "clear_option_cache",
			Description: "Remove every cached option list",
			InputSchema: emptySchema,
		},
		{
			Name:        "clear_field_cache",
			Description: "Remove cached option lists whose key contains the field id",
			InputSchema: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"fieldId": map[string]interface{}{
						"type":        "string",
						"description": "Field id to clear",
					},
				},
				"required": []string{"fieldId"},
			},
		},
		{
			Name:        "option_cache_stats",
			Description: "List cached option lists with their size and age",
			InputSchema: emptySchema,
		},
		{
			Name:        "health_check",
			Description: "Report the state of the option cache, the CTMS API configuration, the auth token and the audit log",
			InputSchema: emptySchema,
		},
	}
}

// executeTool routes a tool call to its handler.
func (s *Server) executeTool(ctx context.Context, toolName string, args json.RawMessage) (interface{}, error) {
	switch toolName {
	case "validate_field":
		return s.executeValidateField(args)
	case "validate_form":
		return s.executeValidateForm(args)
	case "load_field_options":
		return s.executeLoadFieldOptions(ctx, args)
	case "refresh_field_options":
		return s.executeRefreshFieldOptions(ctx, args)
	case "preload_form_options":
		return s.executePreloadFormOptions(ctx, args)
	case "clear_option_cache":
		return s.executeClearOptionCache(ctx, args)
	case "clear_field_cache":
		return s.executeClearFieldCache(ctx, args)
	case "option_cache_stats":
		return s.executeOptionCacheStats(ctx, args)
	case "health_check":
		return s.handleHealthCheck(ctx, args)
	case "":
		return nil, invalidArgs("tools/call", "tool name is required")
	default:
		return nil, invalidArgs(toolName, "unknown tool")
	}
}

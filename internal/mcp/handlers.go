package mcp

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/clinprecision/ctms-forms/internal/audit"
	"github.com/clinprecision/ctms-forms/pkg/types"
	"go.uber.org/zap"
)

// handleInitialize handles the initialize request
func (s *Server) handleInitialize(request types.MCPRequest, writer *bufio.Writer) error {
	var params types.InitializeParams
	if len(request.Params) > 0 {
		if err := json.Unmarshal(request.Params, &params); err != nil {
			_ = s.sendErrorResponse(writer, request.ID, types.CodeInvalidParams, "Invalid initialize params", nil)
			return fmt.Errorf("failed to parse initialize params: %w", err)
		}
	}

	s.audit.LogSystem("client_connect", "Client connected", map[string]interface{}{
		"session_id":     s.sessionID,
		"client_name":    params.ClientInfo.Name,
		"client_version": params.ClientInfo.Version,
		"protocol":       params.ProtocolVersion,
	})

	version := params.ProtocolVersion
	if version == "" {
		version = protocolVersion
	}

	return s.sendResponse(writer, request.ID, map[string]interface{}{
		"protocolVersion": version,
		"capabilities": map[string]interface{}{
			"tools": map[string]interface{}{
				"listChanged": false,
			},
		},
		"serverInfo": map[string]interface{}{
			"name":    serverName,
			"version": serverVersion,
		},
	})
}

// handleInitialized handles the initialized notification
func (s *Server) handleInitialized(request types.MCPRequest) error {
	s.logger.Debug("Client initialization complete", zap.Any("request_id", request.ID))
	return nil
}

// handleToolsList handles the tools/list request
func (s *Server) handleToolsList(request types.MCPRequest, writer *bufio.Writer) error {
	return s.sendResponse(writer, request.ID, map[string]interface{}{
		"tools": s.getAvailableTools(),
	})
}

// handleToolCall handles the tools/call request. Unknown tools and malformed
// arguments are protocol errors; a tool that runs and fails returns a result
// with isError set.
func (s *Server) handleToolCall(ctx context.Context, request types.MCPRequest, writer *bufio.Writer) error {
	var params types.ToolCallParams
	if len(request.Params) > 0 {
		if err := json.Unmarshal(request.Params, &params); err != nil {
			_ = s.sendErrorResponse(writer, request.ID, types.CodeInvalidParams, "Invalid tool call params", nil)
			return fmt.Errorf("failed to parse tool call params: %w", err)
		}
	}
	if len(params.Arguments) == 0 || string(params.Arguments) == "null" {
		params.Arguments = json.RawMessage("{}")
	}

	ctx, cancel := context.WithTimeout(ctx, s.config.Timeout)
	defer cancel()

	result, err := s.executeTool(ctx, params.Name, params.Arguments)
	s.metrics.RecordToolCall(params.Name, err)
	s.audit.LogAccess(params.Name, "call", s.config.ProfileName, err == nil, map[string]interface{}{
		"session_id": s.sessionID,
		"request_id": request.ID,
	})

	var argErr *argumentError
	switch {
	case err == nil:
	case errors.As(err, &argErr):
		_ = s.sendErrorResponse(writer, request.ID, types.CodeInvalidParams, argErr.Error(), nil)
		return err
	default:
		s.logger.Warn("Tool failed", zap.String("tool", params.Name), zap.Error(err))
		return s.sendResponse(writer, request.ID, types.TextResult(err.Error(), true))
	}

	text, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		_ = s.sendErrorResponse(writer, request.ID, types.CodeInternalError, "Failed to encode tool result", nil)
		return fmt.Errorf("failed to encode %s result: %w", params.Name, err)
	}
	return s.sendResponse(writer, request.ID, types.TextResult(string(text), false))
}

// logToolEvent records a domain event raised by a tool under this session.
func (s *Server) logToolEvent(eventType audit.EventType, action, result string, details map[string]interface{}) {
	s.audit.LogWithCorrelation(&audit.Event{
		Type:     eventType,
		Severity: audit.SeverityInfo,
		Source:   "mcp",
		Profile:  s.config.ProfileName,
		Action:   action,
		Result:   result,
		Details:  details,
	}, s.sessionID)
}

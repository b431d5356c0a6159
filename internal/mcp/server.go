// Package mcp serves form validation and option loading as MCP tools over
// line-delimited JSON-RPC 2.0.
package mcp

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/clinprecision/ctms-forms/internal/audit"
	"github.com/clinprecision/ctms-forms/internal/health"
	"github.com/clinprecision/ctms-forms/internal/metrics"
	"github.com/clinprecision/ctms-forms/pkg/types"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	protocolVersion = "2024-11-05"
	serverName      = "ctms-forms"
	serverVersion   = "1.0.0"

	maxMessageSize = 4 << 20
)

// Server implements the MCP protocol server
type Server struct {
	options   OptionService
	validator FieldValidator
	health    *health.Checker
	logger    *zap.Logger
	audit     *audit.Logger
	metrics   *metrics.Metrics
	config    *ServerOptions

	rateLimiter *RateLimiter

	writeMu sync.Mutex

	sessionID string
	startTime time.Time
}

// Dependencies are the services the tools call into. Options and Validator
// are required; the rest may be nil.
type Dependencies struct {
	Options   OptionService
	Validator FieldValidator
	Health    *health.Checker
	Logger    *zap.Logger
	Audit     *audit.Logger
	Metrics   *metrics.Metrics
}

// ServerOptions configuration for the server
type ServerOptions struct {
	Timeout     time.Duration // per tool call
	RateLimit   int           // requests per minute
	ProfileName string

	Input  io.Reader
	Output io.Writer
}

// NewServer creates a new MCP server
func NewServer(deps Dependencies, options *ServerOptions) *Server {
	if options == nil {
		options = &ServerOptions{}
	}
	if options.Timeout <= 0 {
		options.Timeout = 30 * time.Second
	}
	if options.Input == nil {
		options.Input = os.Stdin
	}
	if options.Output == nil {
		options.Output = os.Stdout
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Server{
		options:     deps.Options,
		validator:   deps.Validator,
		health:      deps.Health,
		logger:      logger.Named("mcp"),
		audit:       deps.Audit,
		metrics:     deps.Metrics,
		config:      options,
		rateLimiter: NewRateLimiter(options.RateLimit),
		sessionID:   "mcp-" + uuid.NewString(),
		startTime:   time.Now(),
	}
}

// SessionID identifies this server run in audit events.
func (s *Server) SessionID() string { return s.sessionID }

// Start serves requests until the input is exhausted or ctx is canceled.
func (s *Server) Start(ctx context.Context) error {
	s.audit.LogSystem(audit.EventStartup, "MCP server started", map[string]interface{}{
		"session_id": s.sessionID,
		"profile":    s.config.ProfileName,
	})
	s.logger.Info("MCP server started", zap.String("session_id", s.sessionID))

	lines := make(chan []byte)
	readErr := make(chan error, 1)
	go s.readLines(ctx, lines, readErr)

	writer := bufio.NewWriter(s.config.Output)
	defer writer.Flush()

	for {
		select {
		case <-ctx.Done():
			s.stopped()
			return ctx.Err()
		case err := <-readErr:
			s.stopped()
			return err
		case line := <-lines:
			if err := s.processMessage(ctx, line, writer); err != nil {
				s.logger.Warn("Failed to process message", zap.Error(err))
				s.audit.LogError("mcp", err, map[string]interface{}{
					"session_id": s.sessionID,
				})
			}
		}
	}
}

// readLines forwards non-empty input lines. It reports io.EOF as a clean
// stop (nil) and any other read failure as an error.
func (s *Server) readLines(ctx context.Context, lines chan<- []byte, errs chan<- error) {
	reader := bufio.NewReaderSize(s.config.Input, 64*1024)
	for {
		line, err := reader.ReadBytes('\n')
		if len(line) > maxMessageSize {
			line = nil
			err = errors.Join(err, fmt.Errorf("message exceeds %d bytes", maxMessageSize))
		}
		if trimmed := trimLine(line); len(trimmed) > 0 {
			select {
			case lines <- trimmed:
			case <-ctx.Done():
				return
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				err = nil
			} else {
				err = fmt.Errorf("failed to read message: %w", err)
			}
			errs <- err
			return
		}
	}
}

func trimLine(line []byte) []byte {
	for len(line) > 0 {
		switch line[len(line)-1] {
		case '\n', '\r', ' ', '\t':
			line = line[:len(line)-1]
			continue
		}
		break
	}
	return line
}

func (s *Server) stopped() {
	s.audit.LogSystem(audit.EventShutdown, "MCP server stopped", map[string]interface{}{
		"session_id": s.sessionID,
		"duration":   time.Since(s.startTime).Round(time.Millisecond).String(),
	})
	s.logger.Info("MCP server stopped", zap.String("session_id", s.sessionID))
}

// processMessage handles one request and writes at most one response.
func (s *Server) processMessage(ctx context.Context, data []byte, writer *bufio.Writer) error {
	var request types.MCPRequest
	if err := json.Unmarshal(data, &request); err != nil {
		_ = s.sendErrorResponse(writer, nil, types.CodeParseError, "Parse error", nil)
		return fmt.Errorf("failed to parse request: %w", err)
	}
	if request.JSONRPC != "2.0" || request.Method == "" {
		_ = s.sendErrorResponse(writer, request.ID, types.CodeInvalidRequest, "Invalid request", nil)
		return fmt.Errorf("invalid request: jsonrpc %q method %q", request.JSONRPC, request.Method)
	}

	if !s.rateLimiter.Allow() {
		s.audit.LogAccess(request.Method, "rate_limit", s.config.ProfileName, false, map[string]interface{}{
			"session_id": s.sessionID,
		})
		_ = s.sendErrorResponse(writer, request.ID, types.CodeRateLimited, "Rate limit exceeded", nil)
		return fmt.Errorf("rate limit exceeded")
	}

	s.logger.Debug("Request received",
		zap.String("method", request.Method),
		zap.Any("request_id", request.ID),
	)

	switch request.Method {
	case "initialize":
		return s.handleInitialize(request, writer)
	case "initialized", "notifications/initialized":
		return s.handleInitialized(request)
	case "ping":
		return s.sendResponse(writer, request.ID, map[string]interface{}{})
	case "tools/list":
		return s.handleToolsList(request, writer)
	case "tools/call":
		return s.handleToolCall(ctx, request, writer)
	default:
		if request.IsNotification() {
			return nil
		}
		_ = s.sendErrorResponse(writer, request.ID, types.CodeMethodNotFound, "Method not found", nil)
		return fmt.Errorf("unknown method: %s", request.Method)
	}
}

// sendResponse sends a JSON-RPC response
func (s *Server) sendResponse(writer *bufio.Writer, id interface{}, result interface{}) error {
	return s.write(writer, types.MCPResponse{
		JSONRPC: "2.0",
		ID:      id,
		Result:  result,
	})
}

// sendErrorResponse sends a JSON-RPC error response
func (s *Server) sendErrorResponse(writer *bufio.Writer, id interface{}, code int, message string, data interface{}) error {
	return s.write(writer, types.MCPResponse{
		JSONRPC: "2.0",
		ID:      id,
		Error: &types.MCPError{
			Code:    code,
			Message: message,
			Data:    data,
		},
	})
}

func (s *Server) write(writer *bufio.Writer, response types.MCPResponse) error {
	data, err := json.Marshal(response)
	if err != nil {
		return fmt.Errorf("failed to marshal response: %w", err)
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if _, err := writer.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("failed to write response: %w", err)
	}
	return writer.Flush()
}

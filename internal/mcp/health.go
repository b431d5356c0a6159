package mcp

import (
	"context"
	"encoding/json"
	"time"
)

// handleHealthCheck processes health check requests via MCP
func (s *Server) handleHealthCheck(ctx context.Context, args json.RawMessage) (interface{}, error) {
	var params struct{}
	if err := decodeArgs("health_check", args, &params); err != nil {
		return nil, err
	}

	result := map[string]interface{}{
		"session_id": s.sessionID,
		"uptime":     time.Since(s.startTime).Round(time.Second).String(),
		"profile":    s.config.ProfileName,
	}
	if s.health == nil {
		result["status"] = "unknown"
		return result, nil
	}

	status := s.health.Check(ctx)
	result["status"] = status.Status
	result["timestamp"] = status.Timestamp.Format(time.RFC3339)

	// Only list the checks that need attention.
	if failed := status.Failed(); len(failed) > 0 {
		checks := make(map[string]interface{}, len(failed))
		for name, check := range failed {
			checks[name] = map[string]string{"status": check.Status, "error": check.Error}
		}
		result["checks"] = checks
	}
	return result, nil
}

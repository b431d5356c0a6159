package audit

import (
	"strings"
	"time"
)

// EventType represents the type of audit event
type EventType string

const (
	// Authentication and access
	EventAuth           EventType = "AUTH"
	EventAuthFailed     EventType = "AUTH_FAILED"
	EventAccess         EventType = "ACCESS"
	EventAccessDenied   EventType = "ACCESS_DENIED"
	EventSessionCleared EventType = "SESSION_CLEARED"

	// Token profile operations
	EventTokenStore  EventType = "TOKEN_STORE"
	EventTokenDelete EventType = "TOKEN_DELETE"

	// Option loading and validation
	EventOptionFallback EventType = "OPTION_FALLBACK"
	EventCacheClear     EventType = "CACHE_CLEAR"
	EventFormValidated  EventType = "FORM_VALIDATED"

	// System events
	EventStartup      EventType = "STARTUP"
	EventShutdown     EventType = "SHUTDOWN"
	EventError        EventType = "ERROR"
	EventConfigChange EventType = "CONFIG_CHANGE"
)

// Severity represents the severity level of an audit event
type Severity string

const (
	SeverityInfo     Severity = "INFO"
	SeverityWarning  Severity = "WARNING"
	SeverityError    Severity = "ERROR"
	SeverityCritical Severity = "CRITICAL"
)

// Event is a single audit log entry, written as one JSON line.
type Event struct {
	ID            string                 `json:"id"`
	Timestamp     time.Time              `json:"timestamp"`
	Type          EventType              `json:"type"`
	Severity      Severity               `json:"severity"`
	Source        string                 `json:"source"`
	Profile       string                 `json:"profile,omitempty"`
	Resource      string                 `json:"resource,omitempty"`
	Action        string                 `json:"action"`
	Result        string                 `json:"result"`
	Details       map[string]interface{} `json:"details,omitempty"`
	Error         string                 `json:"error,omitempty"`
	CorrelationID string                 `json:"correlation_id,omitempty"`
}

// LogAuth records a token check against the CTMS API.
func (l *Logger) LogAuth(success bool, profile string, details map[string]interface{}) {
	event := &Event{
		Type:     EventAuth,
		Severity: SeverityInfo,
		Source:   "auth",
		Profile:  profile,
		Action:   "authenticate",
		Result:   "SUCCESS",
		Details:  redact(details),
	}
	if !success {
		event.Type = EventAuthFailed
		event.Severity = SeverityWarning
		event.Result = "FAILED"
	}
	l.Log(event)
}

// LogAccess records a tool call or HTTP request against a resource.
func (l *Logger) LogAccess(resource, action, profile string, allowed bool, details map[string]interface{}) {
	event := &Event{
		Type:     EventAccess,
		Severity: SeverityInfo,
		Source:   "access",
		Profile:  profile,
		Resource: resource,
		Action:   action,
		Result:   "ALLOWED",
		Details:  redact(details),
	}
	if !allowed {
		event.Type = EventAccessDenied
		event.Severity = SeverityWarning
		event.Result = "DENIED"
	}
	l.Log(event)
}

// LogTokenOperation records a change to a stored token profile. Token values
// never reach the log.
func (l *Logger) LogTokenOperation(operation EventType, profile string, success bool, details map[string]interface{}) {
	result, severity := "SUCCESS", SeverityInfo
	if !success {
		result, severity = "FAILED", SeverityError
	}
	l.Log(&Event{
		Type:     operation,
		Severity: severity,
		Source:   "tokens",
		Profile:  profile,
		Action:   string(operation),
		Result:   result,
		Details:  redact(details),
	})
}

// LogSessionCleared records a 401 from the CTMS API that dropped the stored
// session.
func (l *Logger) LogSessionCleared(endpoint, profile string) {
	l.Log(&Event{
		Type:     EventSessionCleared,
		Severity: SeverityWarning,
		Source:   "api",
		Profile:  profile,
		Resource: endpoint,
		Action:   "clear_session",
		Result:   "UNAUTHORIZED",
	})
}

// LogError logs an error event
func (l *Logger) LogError(source string, err error, details map[string]interface{}) {
	l.Log(&Event{
		Type:     EventError,
		Severity: SeverityError,
		Source:   source,
		Action:   "error",
		Result:   "ERROR",
		Error:    err.Error(),
		Details:  redact(details),
	})
}

// LogSystem logs a system event
func (l *Logger) LogSystem(eventType EventType, message string, details map[string]interface{}) {
	l.Log(&Event{
		Type:     eventType,
		Severity: SeverityInfo,
		Source:   "system",
		Action:   string(eventType),
		Result:   message,
		Details:  redact(details),
	})
}

// LogWithCorrelation logs an event with a correlation ID
func (l *Logger) LogWithCorrelation(event *Event, correlationID string) {
	event.CorrelationID = correlationID
	l.Log(event)
}

// redact drops detail keys that may carry credentials.
func redact(details map[string]interface{}) map[string]interface{} {
	if details == nil {
		return nil
	}
	clean := make(map[string]interface{}, len(details))
	for k, v := range details {
		if !isSensitiveKey(k) {
			clean[k] = v
		}
	}
	return clean
}

// isSensitiveKey checks if a key contains sensitive information
func isSensitiveKey(key string) bool {
	sensitiveKeys := []string{
		"password", "secret", "token", "credential", "passphrase",
		"authorization", "bearer", "cookie", "private", "signature",
		"api_key", "apikey",
	}

	keyLower := strings.ToLower(key)
	for _, sensitive := range sensitiveKeys {
		if strings.Contains(keyLower, sensitive) {
			return true
		}
	}
	return false
}

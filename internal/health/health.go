// Package health reports whether the pieces ctms-forms depends on are usable.
// The MCP health_check tool and the HTTP /healthz endpoint share it.
package health

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/clinprecision/ctms-forms/internal/audit"
)

const (
	StatusHealthy   = "healthy"
	StatusDegraded  = "degraded"
	StatusUnhealthy = "unhealthy"

	pingTimeout = 5 * time.Second
)

// Status is the outcome of a health check.
type Status struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	Uptime    string    `json:"uptime,omitempty"`
	Checks    []Check   `json:"checks"`
}

// Check is one component's result.
type Check struct {
	Name   string `json:"name"`
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

// Pinger is satisfied by every option cache backend.
type Pinger interface {
	Name() string
	Ping(ctx context.Context) error
}

// TokenSource yields the current API token.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// Checker runs the health checks. Any dependency may be nil.
type Checker struct {
	Cache   Pinger
	BaseURL string
	Tokens  TokenSource
	Audit   *audit.Logger

	started time.Time
	now     func() time.Time
}

// NewChecker returns a Checker whose uptime starts now.
func NewChecker(cache Pinger, baseURL string, tokens TokenSource, auditLog *audit.Logger) *Checker {
	return &Checker{
		Cache:   cache,
		BaseURL: baseURL,
		Tokens:  tokens,
		Audit:   auditLog,
		started: time.Now(),
		now:     time.Now,
	}
}

// Check probes every dependency. A failed cache or missing API base URL makes
// the service unhealthy; a missing token or audit log only degrades it.
func (c *Checker) Check(ctx context.Context) *Status {
	now := c.now()
	st := &Status{
		Status:    StatusHealthy,
		Timestamp: now.UTC(),
		Uptime:    now.Sub(c.started).Round(time.Second).String(),
	}

	st.add(c.checkCache(ctx))
	st.add(c.checkAPI())
	st.add(c.checkToken(ctx))

	auditCheck := Check{Name: "audit_logger", Status: "ok"}
	if c.Audit == nil {
		auditCheck.Status = "warning"
		auditCheck.Error = "audit logging disabled"
	}
	st.add(auditCheck)

	return st
}

func (c *Checker) checkCache(ctx context.Context) Check {
	if c.Cache == nil {
		return Check{Name: "cache", Status: "failed", Error: "cache not initialized"}
	}
	name := "cache:" + c.Cache.Name()
	ctx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := c.Cache.Ping(ctx); err != nil {
		return Check{Name: name, Status: "failed", Error: err.Error()}
	}
	return Check{Name: name, Status: "ok"}
}

func (c *Checker) checkAPI() Check {
	if c.BaseURL == "" {
		return Check{Name: "api", Status: "failed", Error: "no CTMS API base URL configured"}
	}
	return Check{Name: "api", Status: "ok"}
}

func (c *Checker) checkToken(ctx context.Context) Check {
	if c.Tokens == nil {
		return Check{Name: "auth_token", Status: "warning", Error: "no token source configured"}
	}
	token, err := c.Tokens.Token(ctx)
	switch {
	case err != nil:
		return Check{Name: "auth_token", Status: "warning", Error: fmt.Sprintf("token unavailable: %v", err)}
	case token == "":
		return Check{Name: "auth_token", Status: "warning", Error: "not logged in"}
	}
	return Check{Name: "auth_token", Status: "ok"}
}

func (s *Status) add(check Check) {
	s.Checks = append(s.Checks, check)
	switch check.Status {
	case "failed":
		s.Status = StatusUnhealthy
	case "warning":
		if s.Status == StatusHealthy {
			s.Status = StatusDegraded
		}
	}
}

// Healthy reports whether the status is anything but unhealthy.
func (s *Status) Healthy() bool { return s.Status != StatusUnhealthy }

// Failed returns the checks that did not pass, keyed by name.
func (s *Status) Failed() map[string]Check {
	out := map[string]Check{}
	for _, check := range s.Checks {
		if check.Status != "ok" {
			out[check.Name] = check
		}
	}
	return out
}

// ErrUnhealthy is returned by Require when a check failed.
var ErrUnhealthy = errors.New("service unhealthy")

// Require returns ErrUnhealthy when any check failed outright.
func (s *Status) Require() error {
	if s.Healthy() {
		return nil
	}
	for _, check := range s.Checks {
		if check.Status == "failed" {
			return fmt.Errorf("%w: %s: %s", ErrUnhealthy, check.Name, check.Error)
		}
	}
	return ErrUnhealthy
}

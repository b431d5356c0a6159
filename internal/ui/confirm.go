// Package ui holds the interactive prompts of the CLI.
package ui

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"
)

// ConfirmationResult represents the result of a confirmation prompt
type ConfirmationResult struct {
	Approved bool
	TimedOut bool
	Error    error
}

// Confirmer asks yes/no questions before destructive commands. Prompts go
// to Out so stdout stays clean for command results.
type Confirmer struct {
	In          io.Reader
	Out         io.Writer
	Timeout     time.Duration
	AssumeYes   bool // --yes: approve without asking
	DefaultDeny bool // an empty answer or timeout means no
}

// NewConfirmer reads from stdin and prompts on stderr. Destructive
// operations default to no.
func NewConfirmer(assumeYes bool) *Confirmer {
	return &Confirmer{
		In:          os.Stdin,
		Out:         os.Stderr,
		Timeout:     time.Minute,
		AssumeYes:   assumeYes,
		DefaultDeny: true,
	}
}

// Confirm prompts with message and waits for an answer, the timeout or ctx.
func (c *Confirmer) Confirm(ctx context.Context, message string) *ConfirmationResult {
	if c.AssumeYes {
		return &ConfirmationResult{Approved: true}
	}

	var (
		promptCtx context.Context
		cancel    context.CancelFunc
	)
	if c.Timeout > 0 {
		promptCtx, cancel = context.WithTimeout(ctx, c.Timeout)
	} else {
		promptCtx, cancel = context.WithCancel(ctx)
	}
	defer cancel()

	hint := "[Y/n]"
	if c.DefaultDeny {
		hint = "[y/N]"
	}
	fmt.Fprintf(c.Out, "%s %s ", message, hint)

	responses := make(chan string, 1)
	errs := make(chan error, 1)
	go func() {
		response, err := bufio.NewReader(c.In).ReadString('\n')
		if err != nil && (err != io.EOF || response == "") {
			errs <- fmt.Errorf("failed to read answer: %w", err)
			return
		}
		responses <- response
	}()

	select {
	case <-promptCtx.Done():
		fmt.Fprintln(c.Out)
		return &ConfirmationResult{Approved: !c.DefaultDeny, TimedOut: true}
	case err := <-errs:
		return &ConfirmationResult{Error: err}
	case response := <-responses:
		return &ConfirmationResult{Approved: c.parseResponse(response)}
	}
}

func (c *Confirmer) parseResponse(response string) bool {
	switch strings.ToLower(strings.TrimSpace(response)) {
	case "":
		return !c.DefaultDeny
	case "y", "yes":
		return true
	case "n", "no":
		return false
	default:
		fmt.Fprintf(c.Out, "Unrecognized answer %q, taking that as %s\n", strings.TrimSpace(response), c.defaultWord())
		return !c.DefaultDeny
	}
}

func (c *Confirmer) defaultWord() string {
	if c.DefaultDeny {
		return "no"
	}
	return "yes"
}

package validation

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
	"unicode"
)

// InputValidator screens identifiers, paths and endpoints that arrive from
// tool calls and HTTP requests before they reach the option loader, the
// token store or the CTMS API.
type InputValidator struct {
	profileNamePattern *regexp.Regexp
	identifierPattern  *regexp.Regexp

	// Patterns that indicate injection or traversal attempts
	injectionPatterns     []*regexp.Regexp
	pathTraversalPatterns []*regexp.Regexp
}

// NewInputValidator creates a new input validator
func NewInputValidator() *InputValidator {
	return &InputValidator{
		// Profile name: alphanumeric with underscores, hyphens, dots (1-64 chars)
		profileNamePattern: regexp.MustCompile(`^[a-zA-Z0-9._-]{1,64}$`),

		// Field, study and site identifiers
		identifierPattern: regexp.MustCompile(`^[a-zA-Z0-9._:-]{1,128}$`),

		injectionPatterns: []*regexp.Regexp{
			regexp.MustCompile(`[;&|]`), // Command separators
			regexp.MustCompile("`"),     // Backticks
			regexp.MustCompile(`\$\(`),  // Command substitution
			regexp.MustCompile(`\$\{`),  // Variable expansion
			regexp.MustCompile(`[<>]`),  // Redirection and markup
			regexp.MustCompile(`\n|\r`), // Newlines
			regexp.MustCompile(`\x00`),  // Null bytes
		},

		pathTraversalPatterns: []*regexp.Regexp{
			regexp.MustCompile(`\.\.[\\/]`),             // ../ or ..\
			regexp.MustCompile(`(?i)%2e%2e|%252e%252e`), // URL encoded traversal
			regexp.MustCompile(`\x00`),                  // Null bytes
		},
	}
}

// ValidateProfileName validates a token profile name
func (v *InputValidator) ValidateProfileName(name string) error {
	if name == "" {
		return fmt.Errorf("profile name cannot be empty")
	}

	if len(name) > 64 {
		return fmt.Errorf("profile name too long: maximum 64 characters")
	}

	if !v.profileNamePattern.MatchString(name) {
		return fmt.Errorf("invalid profile name: must contain only alphanumeric characters, dots, underscores, and hyphens")
	}

	reservedNames := []string{"system", "root", "admin", "config"}
	nameLower := strings.ToLower(name)
	for _, reserved := range reservedNames {
		if nameLower == reserved {
			return fmt.Errorf("profile name '%s' is reserved", name)
		}
	}

	return nil
}

// ValidateIdentifier checks a field, form, study or site identifier. kind
// names the identifier in error messages.
func (v *InputValidator) ValidateIdentifier(kind, id string) error {
	if id == "" {
		return fmt.Errorf("%s cannot be empty", kind)
	}
	if !v.identifierPattern.MatchString(id) {
		return fmt.Errorf("invalid %s: must be 1-128 characters of letters, digits, '.', '_', ':' or '-'", kind)
	}
	return nil
}

// ValidateContextID checks an optional load context identifier. Empty values
// are allowed because unset identifiers are never substituted.
func (v *InputValidator) ValidateContextID(kind, id string) error {
	if id == "" {
		return nil
	}
	return v.ValidateIdentifier(kind, id)
}

// ValidateEndpoint checks an endpoint template from a form definition. Only
// server-relative paths are accepted so option sources cannot point the
// client at another host.
func (v *InputValidator) ValidateEndpoint(endpoint string) error {
	if endpoint == "" {
		return fmt.Errorf("endpoint cannot be empty")
	}
	if !strings.HasPrefix(endpoint, "/") || strings.HasPrefix(endpoint, "//") {
		return fmt.Errorf("endpoint must be a server-relative path starting with '/'")
	}
	if strings.Contains(endpoint, "://") {
		return fmt.Errorf("endpoint must not contain a scheme")
	}
	if v.containsPathTraversal(endpoint) {
		return fmt.Errorf("endpoint contains path traversal patterns")
	}
	if v.containsInjection(endpoint) && !onlyQuerySeparators(endpoint) {
		return fmt.Errorf("endpoint contains invalid characters")
	}
	if v.containsDangerousUnicode(endpoint) {
		return fmt.Errorf("endpoint contains invalid characters")
	}
	return nil
}

// ValidateFilePath validates a configured file path
func (v *InputValidator) ValidateFilePath(path string) error {
	if path == "" {
		return fmt.Errorf("file path cannot be empty")
	}

	if v.containsPathTraversal(path) {
		return fmt.Errorf("file path contains invalid characters or patterns")
	}

	// Slashes are valid in paths; shell metacharacters are not
	if containsFilePathInjection(path) {
		return fmt.Errorf("file path contains invalid characters")
	}

	if strings.HasPrefix(filepath.Clean(path), "..") {
		return fmt.Errorf("file path cannot traverse to parent directories")
	}

	return nil
}

// SanitizeString removes null bytes and control characters except tab,
// newline and carriage return.
func (v *InputValidator) SanitizeString(input string) string {
	var sanitized strings.Builder
	for _, r := range input {
		if r == 0 || (unicode.IsControl(r) && r != '\t' && r != '\n' && r != '\r') {
			continue
		}
		sanitized.WriteRune(r)
	}
	return sanitized.String()
}

// TruncateString truncates a string to a maximum length in runes
func (v *InputValidator) TruncateString(s string, maxLen int) string {
	runes := []rune(s)
	if len(runes) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return string(runes[:maxLen])
	}
	return string(runes[:maxLen-3]) + "..."
}

func (v *InputValidator) containsInjection(input string) bool {
	for _, pattern := range v.injectionPatterns {
		if pattern.MatchString(input) {
			return true
		}
	}
	return false
}

// onlyQuerySeparators reports whether every '&' in an endpoint sits in its
// query string and no other injection pattern is present.
func onlyQuerySeparators(endpoint string) bool {
	q := strings.IndexByte(endpoint, '?')
	if q < 0 {
		return false
	}
	if strings.ContainsAny(endpoint[:q], "&") {
		return false
	}
	rest := strings.ReplaceAll(endpoint[q:], "&", "")
	return !strings.ContainsAny(rest, ";|`<>\n\r\x00") &&
		!strings.Contains(rest, "$(") && !strings.Contains(rest, "${")
}

func (v *InputValidator) containsPathTraversal(input string) bool {
	for _, pattern := range v.pathTraversalPatterns {
		if pattern.MatchString(input) {
			return true
		}
	}
	return false
}

// containsDangerousUnicode checks for bidi overrides and other format characters
func (v *InputValidator) containsDangerousUnicode(input string) bool {
	for _, r := range input {
		if unicode.Is(unicode.Cf, r) {
			return true
		}
	}
	return false
}

// containsFilePathInjection is more permissive than the general check because
// paths need slashes
func containsFilePathInjection(path string) bool {
	dangerousPatterns := []string{
		";", "|", "&", "$", "`", "<", ">", "\n", "\r", "\x00", "%00",
	}
	for _, pattern := range dangerousPatterns {
		if strings.Contains(path, pattern) {
			return true
		}
	}
	return false
}

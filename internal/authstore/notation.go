package authstore

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

var (
	recordUIDPattern = regexp.MustCompile(`^[a-zA-Z0-9_-]{16,32}$`)
	indexedPattern   = regexp.MustCompile(`^(.+)\[(\d+)\]$`)
)

// Notation is a parsed Keeper notation that points at one field value.
type Notation struct {
	UID    string
	Title  string
	Custom bool
	Field  string
	Index  int // -1 when absent
}

// ParseNotation checks that s addresses a record field, the only notation
// kind that can hold a token. Files are rejected.
func ParseNotation(s string) (*Notation, error) {
	s = strings.TrimPrefix(strings.TrimSpace(s), notationPrefix)
	if s == "" {
		return nil, fmt.Errorf("notation cannot be empty")
	}

	parts := strings.Split(s, "/")
	if len(parts) != 3 {
		return nil, fmt.Errorf("invalid notation %q: expected <record>/field/<name>", s)
	}

	n := &Notation{Index: -1}
	if recordUIDPattern.MatchString(parts[0]) {
		n.UID = parts[0]
	} else if parts[0] != "" {
		n.Title = parts[0]
	} else {
		return nil, fmt.Errorf("invalid notation %q: record is empty", s)
	}

	switch parts[1] {
	case "field":
	case "custom_field":
		n.Custom = true
	default:
		return nil, fmt.Errorf("invalid notation %q: unsupported selector %s", s, parts[1])
	}

	field := parts[2]
	if m := indexedPattern.FindStringSubmatch(field); m != nil {
		idx, err := strconv.Atoi(m[2])
		if err != nil {
			return nil, fmt.Errorf("invalid notation index: %w", err)
		}
		field, n.Index = m[1], idx
	}
	if field == "" {
		return nil, fmt.Errorf("invalid notation %q: field name is empty", s)
	}
	n.Field = field
	return n, nil
}

package forms

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// LoadDefinition reads a form definition from a JSON or YAML file. The format
// follows the file extension; anything other than .yaml or .yml is read as JSON.
func LoadDefinition(path string) (*FormDefinition, error) {
	data, err := os.ReadFile(path) // #nosec G304 - path supplied by the operator
	if err != nil {
		return nil, fmt.Errorf("failed to read form definition: %w", err)
	}
	def, err := DecodeDefinition(data, formatOf(path))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return def, nil
}

// DecodeDefinition parses a form definition. format is "yaml" or "json".
func DecodeDefinition(data []byte, format string) (*FormDefinition, error) {
	var def FormDefinition
	if err := decode(data, format, &def); err != nil {
		return nil, fmt.Errorf("failed to parse form definition: %w", err)
	}
	for i, f := range def.Fields {
		if strings.TrimSpace(f.ID) == "" {
			return nil, fmt.Errorf("field %d has no id", i)
		}
	}
	return &def, nil
}

// LoadData reads submitted form values from a JSON or YAML file.
func LoadData(path string) (map[string]any, error) {
	data, err := os.ReadFile(path) // #nosec G304 - path supplied by the operator
	if err != nil {
		return nil, fmt.Errorf("failed to read form data: %w", err)
	}
	values := map[string]any{}
	if err := decode(data, formatOf(path), &values); err != nil {
		return nil, fmt.Errorf("failed to parse form data %s: %w", path, err)
	}
	return values, nil
}

func decode(data []byte, format string, out any) error {
	if format == "yaml" {
		return yaml.Unmarshal(data, out)
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	return dec.Decode(out)
}

func formatOf(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return "yaml"
	default:
		return "json"
	}
}

package forms

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestLimit_UnmarshalJSON(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		present bool
		usable  bool
		value   float64
	}{
		{"number", `{"minValue": 18}`, true, true, 18},
		{"numeric string", `{"minValue": " 18 "}`, true, true, 18},
		{"empty string", `{"minValue": ""}`, true, false, 0},
		{"not a number", `{"minValue": "abc"}`, true, false, 0},
		{"null", `{"minValue": null}`, false, false, 0},
		{"absent", `{}`, false, false, 0},
		{"zero", `{"minValue": 0}`, true, true, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var rules ValidationRules
			require.NoError(t, json.Unmarshal([]byte(tt.input), &rules))

			assert.Equal(t, tt.present, rules.MinValue.Present())
			v, ok := rules.MinValue.Float()
			assert.Equal(t, tt.usable, ok)
			if tt.usable {
				assert.Equal(t, tt.value, v)
			}
		})
	}
}

func TestLimit_UnmarshalYAML(t *testing.T) {
	var rules ValidationRules
	err := yaml.Unmarshal([]byte("minLength: 3\nmaxLength: '10'\nminValue: ''\n"), &rules)
	require.NoError(t, err)

	v, ok := rules.MinLength.Float()
	assert.True(t, ok)
	assert.Equal(t, 3.0, v)

	v, ok = rules.MaxLength.Float()
	assert.True(t, ok)
	assert.Equal(t, 10.0, v)

	assert.True(t, rules.MinValue.Present())
	_, ok = rules.MinValue.Float()
	assert.False(t, ok)

	assert.False(t, rules.MaxValue.Present())
}

func TestLimit_Or(t *testing.T) {
	fallback := NewLimit(5)

	assert.Equal(t, fallback, Limit{}.Or(fallback))

	// An authored but unusable value shadows the fallback.
	blank := LimitOf("")
	assert.Equal(t, blank, blank.Or(fallback))
}

func TestLimit_MarshalJSON(t *testing.T) {
	rules := ValidationRules{MinValue: NewLimit(1.5)}
	data, err := json.Marshal(rules)
	require.NoError(t, err)
	assert.JSONEq(t, `{"minValue": 1.5}`, string(data))
}

func TestLoadContext_UnmarshalJSON(t *testing.T) {
	var ctx LoadContext
	require.NoError(t, json.Unmarshal([]byte(`{"studyId": 123, "siteId": "S-1", "formId": null}`), &ctx))

	assert.Equal(t, LoadContext{StudyID: "123", SiteID: "S-1"}, ctx)
}

func TestLoadDefinition(t *testing.T) {
	dir := t.TempDir()

	yamlDef := `
id: vitals
name: Vital Signs
fields:
  - id: age
    label: Age
    metadata:
      validation:
        required: true
        type: integer
        minValue: 18
        maxValue: 120
  - id: country
    type: select
    metadata:
      uiConfig:
        optionSource:
          type: CODE_LIST
          category: COUNTRY
`
	yamlPath := filepath.Join(dir, "vitals.yaml")
	require.NoError(t, os.WriteFile(yamlPath, []byte(yamlDef), 0600))

	def, err := LoadDefinition(yamlPath)
	require.NoError(t, err)
	require.Len(t, def.Fields, 2)
	assert.Equal(t, "vitals", def.ID)

	age, ok := def.Field("age")
	require.True(t, ok)
	assert.True(t, age.Metadata.Validation.Required)
	v, usable := age.Metadata.Validation.MaxValue.Float()
	assert.True(t, usable)
	assert.Equal(t, 120.0, v)

	country, ok := def.Field("country")
	require.True(t, ok)
	assert.Equal(t, "CODE_LIST", country.Metadata.UIConfig.OptionSource.Type)
	assert.Equal(t, "country", country.DisplayLabel())

	_, ok = def.Field("missing")
	assert.False(t, ok)
}

func TestLoadDefinition_Errors(t *testing.T) {
	dir := t.TempDir()

	_, err := LoadDefinition(filepath.Join(dir, "missing.json"))
	assert.Error(t, err)

	noID := filepath.Join(dir, "noid.json")
	require.NoError(t, os.WriteFile(noID, []byte(`{"fields":[{"label":"x"}]}`), 0600))
	_, err = LoadDefinition(noID)
	assert.ErrorContains(t, err, "has no id")
}

func TestLoadData(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "data.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"age": 45, "consent": true}`), 0600))

	data, err := LoadData(path)
	require.NoError(t, err)
	assert.Equal(t, 45.0, data["age"])
	assert.Equal(t, true, data["consent"])
}

package options

import (
	"testing"
	"time"

	"github.com/clinprecision/ctms-forms/internal/forms"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecode(t *testing.T) {
	no := false

	tests := []struct {
		name  string
		field *forms.FieldDefinition
		want  Source
		ok    bool
	}{
		{"nil field", nil, nil, false},
		{"no metadata", &forms.FieldDefinition{ID: "x"}, nil, false},
		{
			"code list category shorthand",
			&forms.FieldDefinition{ID: "x", Metadata: &forms.FieldMetadata{CodeListCategory: "RACE"}},
			CodeListSource{Policy: CachePolicy{Cacheable: true, TTL: time.Hour}, Category: "RACE"},
			true,
		},
		{
			"study data defaults",
			sourcedField("x", forms.SourceConfig{Type: "STUDY_DATA", Endpoint: "/sites", CacheDuration: 30}),
			StudyDataSource{Policy: CachePolicy{Cacheable: true, TTL: 30 * time.Second}, Endpoint: "/sites", ValueField: "id", LabelField: "name"},
			true,
		},
		{
			"api defaults not cacheable",
			sourcedField("x", forms.SourceConfig{Type: "API", Endpoint: "/a", Cacheable: &no}),
			APISource{Policy: CachePolicy{Cacheable: false, TTL: time.Hour}, Endpoint: "/a", ValueField: "value", LabelField: "label"},
			true,
		},
		{
			"external defaults",
			sourcedField("x", forms.SourceConfig{Type: "EXTERNAL_STANDARD", Category: "ICD10"}),
			ExternalStandardSource{Policy: CachePolicy{Cacheable: true, TTL: time.Hour}, Category: "ICD10", ValueField: "code", LabelField: "term"},
			true,
		},
		{
			"unknown type",
			sourcedField("x", forms.SourceConfig{Type: "FTP"}),
			UnknownSource{Policy: CachePolicy{Cacheable: true, TTL: time.Hour}, Type: "FTP"},
			true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src, ok := Decode(tt.field, 0)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, src)
		})
	}
}

func TestDecode_OptionSourceWins(t *testing.T) {
	field := sourcedField("x", forms.SourceConfig{Type: "API", Endpoint: "/a"})
	field.Metadata.CodeListCategory = "RACE"

	src, ok := Decode(field, time.Minute)
	require.True(t, ok)
	assert.Equal(t, KindAPI, src.Kind())
	assert.Equal(t, time.Minute, src.Cache().TTL)
}

func TestCacheKey(t *testing.T) {
	lc := forms.LoadContext{StudyID: "42", SiteID: "7"}

	tests := []struct {
		name string
		src  Source
		lc   forms.LoadContext
		want string
	}{
		{"code list", CodeListSource{Category: "COUNTRY"}, forms.LoadContext{}, "options_f_CODE_LIST_COUNTRY"},
		{"study data scoped", StudyDataSource{Endpoint: "/sites", Filter: "active=true"}, lc, "options_f_STUDY_DATA_/sites_42_7_active=true"},
		{"external", ExternalStandardSource{Category: "MedDRA", Filter: "soc=1"}, lc, "options_f_EXTERNAL_STANDARD_MedDRA_42_7_soc=1"},
		{"static", StaticSource{}, forms.LoadContext{SubjectID: "S"}, "options_f_STATIC"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, CacheKey("f", tt.src, tt.lc))
		})
	}
}

func TestSubstitute(t *testing.T) {
	lc := forms.LoadContext{StudyID: "42", SubjectID: "S-1", FormID: "F9"}

	assert.Equal(t,
		"/studies/42/sites/{siteId}/subjects/S-1?form=F9",
		substitute("/studies/{studyId}/sites/{siteId}/subjects/{subjectId}?form={formId}", lc))

	// Only the first occurrence is replaced.
	assert.Equal(t, "/42/{studyId}", substitute("/{studyId}/{studyId}", lc))
}

func TestAppendQuery(t *testing.T) {
	assert.Equal(t, "/a", appendQuery("/a", ""))
	assert.Equal(t, "/a?x=1", appendQuery("/a", "x=1"))
	assert.Equal(t, "/a?y=2&x=1", appendQuery("/a?y=2", "x=1"))
}

func TestPlainText(t *testing.T) {
	p := newPlainText()

	tests := []struct {
		in, want string
	}{
		{"Headache", "Headache"},
		{"<script>alert(1)</script>Nausea", "Nausea"},
		{"<b>Bold</b> term", "Bold term"},
		{"Fever &gt; 38C", "Fever > 38C"},
		{"", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, p.clean(tt.in), tt.in)
	}
}

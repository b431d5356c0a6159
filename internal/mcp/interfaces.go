package mcp

import (
	"context"

	"github.com/clinprecision/ctms-forms/internal/forms"
	"github.com/clinprecision/ctms-forms/internal/options"
	"github.com/clinprecision/ctms-forms/internal/validation"
)

// OptionService resolves and caches field options. *options.Loader
// implements it.
type OptionService interface {
	LoadFieldOptions(ctx context.Context, field *forms.FieldDefinition, lc forms.LoadContext) []forms.Option
	Refresh(ctx context.Context, field *forms.FieldDefinition, lc forms.LoadContext) ([]forms.Option, error)
	PreloadForm(ctx context.Context, def *forms.FormDefinition, lc forms.LoadContext) (map[string][]forms.Option, error)
	CacheStats(ctx context.Context) (options.CacheStats, error)
	ClearOptionCache(ctx context.Context) error
	ClearFieldCache(ctx context.Context, fieldID string) (int, error)
}

// FieldValidator validates form values. *validation.Engine implements it.
type FieldValidator interface {
	ValidateField(fieldID string, value any, md *forms.FieldMetadata, formData map[string]any) validation.Result
	ValidateForm(formData map[string]any, def *forms.FormDefinition) validation.FormResult
}

var (
	_ OptionService  = (*options.Loader)(nil)
	_ FieldValidator = (*validation.Engine)(nil)
)

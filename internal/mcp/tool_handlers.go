package mcp

import (
	"context"
	"encoding/json"

	"github.com/clinprecision/ctms-forms/internal/audit"
	"github.com/clinprecision/ctms-forms/internal/forms"
)

type fieldArgs struct {
	Field   *forms.FieldDefinition `json:"field"`
	Context forms.LoadContext      `json:"context"`
}

type formArgs struct {
	Form    *forms.FormDefinition `json:"form"`
	Context forms.LoadContext     `json:"context"`
}

func (a fieldArgs) check(tool string) error {
	if a.Field == nil || a.Field.ID == "" {
		return invalidArgs(tool, "field with an id is required")
	}
	return nil
}

func (a formArgs) check(tool string) error {
	if a.Form == nil {
		return invalidArgs(tool, "form is required")
	}
	for i, f := range a.Form.Fields {
		if f.ID == "" {
			return invalidArgs(tool, "field %d has no id", i)
		}
	}
	return nil
}

// executeValidateField handles the validate_field tool
func (s *Server) executeValidateField(args json.RawMessage) (interface{}, error) {
	var params struct {
		FieldID  string                 `json:"fieldId"`
		Value    interface{}            `json:"value"`
		Metadata *forms.FieldMetadata   `json:"metadata"`
		FormData map[string]interface{} `json:"formData"`
	}
	if err := decodeArgs("validate_field", args, &params); err != nil {
		return nil, err
	}
	if params.FieldID == "" {
		return nil, invalidArgs("validate_field", "fieldId is required")
	}

	return s.validator.ValidateField(params.FieldID, params.Value, params.Metadata, params.FormData), nil
}

// executeValidateForm handles the validate_form tool
func (s *Server) executeValidateForm(args json.RawMessage) (interface{}, error) {
	var params struct {
		Form *forms.FormDefinition  `json:"form"`
		Data map[string]interface{} `json:"data"`
	}
	if err := decodeArgs("validate_form", args, &params); err != nil {
		return nil, err
	}
	if err := (formArgs{Form: params.Form}).check("validate_form"); err != nil {
		return nil, err
	}
	if params.Data == nil {
		params.Data = map[string]interface{}{}
	}

	result := s.validator.ValidateForm(params.Data, params.Form)

	outcome := "VALID"
	if !result.Valid {
		outcome = "INVALID"
	}
	s.logToolEvent(audit.EventFormValidated, "validate_form", outcome, map[string]interface{}{
		"form_id":  params.Form.ID,
		"errors":   len(result.Errors),
		"warnings": len(result.Warnings),
	})
	return result, nil
}

// executeLoadFieldOptions handles the load_field_options tool
func (s *Server) executeLoadFieldOptions(ctx context.Context, args json.RawMessage) (interface{}, error) {
	var params fieldArgs
	if err := decodeArgs("load_field_options", args, &params); err != nil {
		return nil, err
	}
	if err := params.check("load_field_options"); err != nil {
		return nil, err
	}

	opts := s.options.LoadFieldOptions(ctx, params.Field, params.Context)
	return map[string]interface{}{
		"fieldId": params.Field.ID,
		"options": opts,
		"count":   len(opts),
	}, nil
}

// executeRefreshFieldOptions handles the refresh_field_options tool
func (s *Server) executeRefreshFieldOptions(ctx context.Context, args json.RawMessage) (interface{}, error) {
	var params fieldArgs
	if err := decodeArgs("refresh_field_options", args, &params); err != nil {
		return nil, err
	}
	if err := params.check("refresh_field_options"); err != nil {
		return nil, err
	}

	opts, err := s.options.Refresh(ctx, params.Field, params.Context)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{
		"fieldId": params.Field.ID,
		"options": opts,
		"count":   len(opts),
	}, nil
}

// executePreloadFormOptions handles the preload_form_options tool
func (s *Server) executePreloadFormOptions(ctx context.Context, args json.RawMessage) (interface{}, error) {
	var params formArgs
	if err := decodeArgs("preload_form_options", args, &params); err != nil {
		return nil, err
	}
	if err := params.check("preload_form_options"); err != nil {
		return nil, err
	}

	loaded, err := s.options.PreloadForm(ctx, params.Form, params.Context)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{
		"formId":  params.Form.ID,
		"options": loaded,
		"fields":  len(loaded),
	}, nil
}

// executeClearOptionCache handles the clear_option_cache tool
func (s *Server) executeClearOptionCache(ctx context.Context, args json.RawMessage) (interface{}, error) {
	var params struct{}
	if err := decodeArgs("clear_option_cache", args, &params); err != nil {
		return nil, err
	}
	if err := s.options.ClearOptionCache(ctx); err != nil {
		return nil, err
	}
	return map[string]interface{}{"cleared": true}, nil
}

// executeClearFieldCache handles the clear_field_cache tool
func (s *Server) executeClearFieldCache(ctx context.Context, args json.RawMessage) (interface{}, error) {
	var params struct {
		FieldID string `json:"fieldId"`
	}
	if err := decodeArgs("clear_field_cache", args, &params); err != nil {
		return nil, err
	}
	if params.FieldID == "" {
		return nil, invalidArgs("clear_field_cache", "fieldId is required")
	}

	removed, err := s.options.ClearFieldCache(ctx, params.FieldID)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{
		"fieldId": params.FieldID,
		"removed": removed,
	}, nil
}

// executeOptionCacheStats handles the option_cache_stats tool
func (s *Server) executeOptionCacheStats(ctx context.Context, args json.RawMessage) (interface{}, error) {
	var params struct{}
	if err := decodeArgs("option_cache_stats", args, &params); err != nil {
		return nil, err
	}
	return s.options.CacheStats(ctx)
}

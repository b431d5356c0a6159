package commands

import (
	"errors"
	"fmt"
	"sort"

	"github.com/clinprecision/ctms-forms/internal/forms"
	"github.com/clinprecision/ctms-forms/internal/logging"
	"github.com/clinprecision/ctms-forms/internal/validation"
	"github.com/spf13/cobra"
)

var (
	validateForm   string
	validateData   string
	validateField  string
	validateOutput string
)

// errInvalid makes the process exit non-zero after the report is printed.
var errInvalid = errors.New("form data is invalid")

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate form data against a form definition",
	Long: `Validate submitted values against a form definition. Both files may be
JSON or YAML. The command exits non-zero when any error is found; warnings
alone do not fail it.

Examples:
  # Whole form
  ctms-forms validate --form demographics.yaml --data subject-001.json

  # One field, as a table
  ctms-forms validate --form demographics.yaml --data subject-001.json --field age --output table`,
	RunE: runValidate,
}

func init() {
	rootCmd.AddCommand(validateCmd)

	validateCmd.Flags().StringVar(&validateForm, "form", "", "form definition file (required)")
	validateCmd.Flags().StringVar(&validateData, "data", "", "form data file (required)")
	validateCmd.Flags().StringVar(&validateField, "field", "", "validate only this field")
	validateCmd.Flags().StringVarP(&validateOutput, "output", "o", outputJSON, "output format (json, table)")
	_ = validateCmd.MarkFlagRequired("form")
	_ = validateCmd.MarkFlagRequired("data")
}

func runValidate(cmd *cobra.Command, args []string) error {
	if err := checkOutputFormat(validateOutput); err != nil {
		return err
	}

	def, err := forms.LoadDefinition(validateForm)
	if err != nil {
		return err
	}
	data, err := forms.LoadData(validateData)
	if err != nil {
		return err
	}

	cfg, _, err := loadConfig()
	if err != nil {
		return err
	}
	logger, err := logging.New(cfg.Logging.Level, cfg.Logging.Format)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	engine := validation.NewEngine(
		validation.WithLocation(cfg.Location()),
		validation.WithLogger(logger),
	)

	var (
		valid          bool
		report         any
		errs, warnings []validation.Issue
	)
	if validateField != "" {
		field, ok := def.Field(validateField)
		if !ok {
			return fmt.Errorf("field %q is not in form %s", validateField, validateForm)
		}
		result := engine.ValidateField(field.ID, data[field.ID], field.Metadata, data)
		valid, report = result.Valid, result
		errs, warnings = result.Errors, result.Warnings
	} else {
		result := engine.ValidateForm(data, def)
		valid, report = result.Valid, result
		errs, warnings = result.Errors, result.Warnings
	}
	verboseLog("Validated %s: valid=%t errors=%d warnings=%d", validateForm, valid, len(errs), len(warnings))

	if validateOutput == outputTable {
		err = printIssues(errs, warnings)
	} else {
		err = printJSON(report)
	}
	if err != nil {
		return err
	}
	if !valid {
		return errInvalid
	}
	return nil
}

func printIssues(errs, warnings []validation.Issue) error {
	if len(errs)+len(warnings) == 0 {
		_, err := fmt.Fprintln(stdout, "No issues found.")
		return err
	}

	rows := make([][]string, 0, len(errs)+len(warnings))
	add := func(issues []validation.Issue, severity string) {
		for _, is := range issues {
			rows = append(rows, []string{is.Field, severity, is.Type, is.RuleID, is.Message})
		}
	}
	add(errs, "error")
	add(warnings, "warning")
	sort.SliceStable(rows, func(i, j int) bool { return rows[i][0] < rows[j][0] })

	return printTable([]string{"FIELD", "SEVERITY", "TYPE", "RULE", "MESSAGE"}, rows)
}

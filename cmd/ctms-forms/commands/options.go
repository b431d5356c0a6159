package commands

import (
	"fmt"
	"sort"
	"strconv"

	"github.com/clinprecision/ctms-forms/internal/forms"
	"github.com/spf13/cobra"
)

var (
	optionsForm    string
	optionsField   string
	optionsRefresh bool
	optionsOutput  string
	loadContext    forms.LoadContext
)

var optionsCmd = &cobra.Command{
	Use:   "options",
	Short: "Load dropdown options from the CTMS API",
	Long: `Resolve a field's option source through the cache. Study, site, subject
and visit ids scope the request and the cache key.`,
}

var optionsLoadCmd = &cobra.Command{
	Use:   "load",
	Short: "Load options for one field",
	Long: `Load options for one field. Without --refresh a failing source falls back
to stale cache or static options; with --refresh the cache is bypassed and
source failures are reported.

Examples:
  ctms-forms options load --form ae.yaml --field severity
  ctms-forms options load --form ae.yaml --field site --study-id 42 --refresh`,
	RunE: runOptionsLoad,
}

var optionsRefreshCmd = &cobra.Command{
	Use:   "refresh",
	Short: "Refetch one field's options, bypassing the cache",
	RunE: func(cmd *cobra.Command, args []string) error {
		optionsRefresh = true
		return runOptionsLoad(cmd, args)
	},
}

var optionsPreloadCmd = &cobra.Command{
	Use:   "preload",
	Short: "Warm the cache for every field of a form",
	RunE:  runOptionsPreload,
}

func init() {
	rootCmd.AddCommand(optionsCmd)
	optionsCmd.AddCommand(optionsLoadCmd)
	optionsCmd.AddCommand(optionsRefreshCmd)
	optionsCmd.AddCommand(optionsPreloadCmd)

	flags := optionsCmd.PersistentFlags()
	flags.StringVar(&optionsForm, "form", "", "form definition file (required)")
	flags.StringVarP(&optionsOutput, "output", "o", outputTable, "output format (json, table)")
	flags.StringVar(&loadContext.StudyID, "study-id", "", "study id")
	flags.StringVar(&loadContext.SiteID, "site-id", "", "site id")
	flags.StringVar(&loadContext.SubjectID, "subject-id", "", "subject id")
	flags.StringVar(&loadContext.VisitID, "visit-id", "", "visit id")
	_ = optionsCmd.MarkPersistentFlagRequired("form")

	optionsLoadCmd.Flags().StringVar(&optionsField, "field", "", "field id (required)")
	optionsLoadCmd.Flags().BoolVar(&optionsRefresh, "refresh", false, "bypass the cache")
	_ = optionsLoadCmd.MarkFlagRequired("field")
	optionsRefreshCmd.Flags().StringVar(&optionsField, "field", "", "field id (required)")
	_ = optionsRefreshCmd.MarkFlagRequired("field")
}

func runOptionsLoad(cmd *cobra.Command, args []string) error {
	if err := checkOutputFormat(optionsOutput); err != nil {
		return err
	}
	def, err := forms.LoadDefinition(optionsForm)
	if err != nil {
		return err
	}
	field, ok := def.Field(optionsField)
	if !ok {
		return fmt.Errorf("field %q is not in form %s", optionsField, optionsForm)
	}

	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, cancel := signalContext()
	defer cancel()

	lc := loadContext
	lc.FormID = def.ID

	var opts []forms.Option
	if optionsRefresh {
		if opts, err = a.loader.Refresh(ctx, field, lc); err != nil {
			return fmt.Errorf("refresh %s: %w", field.ID, err)
		}
	} else {
		opts = a.loader.LoadFieldOptions(ctx, field, lc)
	}

	if optionsOutput == outputJSON {
		return printJSON(map[string]any{"fieldId": field.ID, "options": opts, "count": len(opts)})
	}
	return printOptions(opts)
}

func runOptionsPreload(cmd *cobra.Command, args []string) error {
	if err := checkOutputFormat(optionsOutput); err != nil {
		return err
	}
	def, err := forms.LoadDefinition(optionsForm)
	if err != nil {
		return err
	}

	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, cancel := signalContext()
	defer cancel()

	lc := loadContext
	lc.FormID = def.ID

	loaded, err := a.loader.PreloadForm(ctx, def, lc)
	if err != nil {
		return err
	}

	if optionsOutput == outputJSON {
		return printJSON(map[string]any{"formId": def.ID, "options": loaded, "fields": len(loaded)})
	}

	ids := make([]string, 0, len(loaded))
	for id := range loaded {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	rows := make([][]string, 0, len(ids))
	for _, id := range ids {
		rows = append(rows, []string{id, strconv.Itoa(len(loaded[id]))})
	}
	return printTable([]string{"FIELD", "OPTIONS"}, rows)
}

func printOptions(opts []forms.Option) error {
	if len(opts) == 0 {
		_, err := fmt.Fprintln(stdout, "No options.")
		return err
	}
	rows := make([][]string, 0, len(opts))
	for _, o := range opts {
		rows = append(rows, []string{fmt.Sprint(o.Value), o.Label})
	}
	return printTable([]string{"VALUE", "LABEL"}, rows)
}

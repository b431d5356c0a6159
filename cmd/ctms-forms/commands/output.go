package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/clinprecision/ctms-forms/internal/ui"
)

// stdout receives command results; logs and prompts go to stderr.
var stdout io.Writer = os.Stdout

// assumeYes skips confirmation prompts.
var assumeYes bool

// confirm asks before a destructive operation.
func confirm(ctx context.Context, message string) bool {
	c := ui.NewConfirmer(assumeYes)
	c.In = stdin
	res := c.Confirm(ctx, message)
	if res.Error != nil {
		verboseLog("Confirmation failed: %v", res.Error)
	}
	return res.Approved
}

const (
	outputJSON  = "json"
	outputTable = "table"
)

func checkOutputFormat(format string) error {
	switch format {
	case outputJSON, outputTable:
		return nil
	default:
		return fmt.Errorf("unknown output format %q (want json or table)", format)
	}
}

func printJSON(v any) error {
	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// printTable writes rows under header with aligned columns.
func printTable(header []string, rows [][]string) error {
	w := tabwriter.NewWriter(stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, strings.Join(header, "\t"))
	for _, row := range rows {
		fmt.Fprintln(w, strings.Join(row, "\t"))
	}
	return w.Flush()
}

package commands

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"
)

var (
	cacheField  string
	cacheOutput string
)

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Inspect or clear the option cache",
}

var cacheStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "List cached option lists and their age",
	RunE:  runCacheStats,
}

var cacheClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Clear the option cache",
	Long: `Clear every cached option list, or with --field only the entries for
that field across all studies and sites.`,
	RunE: runCacheClear,
}

func init() {
	rootCmd.AddCommand(cacheCmd)
	cacheCmd.AddCommand(cacheStatsCmd)
	cacheCmd.AddCommand(cacheClearCmd)

	cacheStatsCmd.Flags().StringVarP(&cacheOutput, "output", "o", outputTable, "output format (json, table)")
	cacheClearCmd.Flags().StringVar(&cacheField, "field", "", "clear only this field's entries")
	cacheClearCmd.Flags().BoolVarP(&assumeYes, "yes", "y", false, "do not ask for confirmation")
}

func runCacheStats(cmd *cobra.Command, args []string) error {
	if err := checkOutputFormat(cacheOutput); err != nil {
		return err
	}
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, cancel := signalContext()
	defer cancel()

	stats, err := a.loader.CacheStats(ctx)
	if err != nil {
		return err
	}
	if cacheOutput == outputJSON {
		return printJSON(stats)
	}
	if stats.TotalEntries == 0 {
		_, err := fmt.Fprintf(stdout, "Option cache (%s) is empty.\n", a.cache.Name())
		return err
	}

	rows := make([][]string, 0, len(stats.Entries))
	for _, e := range stats.Entries {
		age := time.Duration(e.AgeSeconds) * time.Second
		rows = append(rows, []string{e.Key, strconv.Itoa(e.OptionCount), age.String()})
	}
	return printTable([]string{"KEY", "OPTIONS", "AGE"}, rows)
}

func runCacheClear(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, cancel := signalContext()
	defer cancel()

	if cacheField != "" {
		removed, err := a.loader.ClearFieldCache(ctx, cacheField)
		if err != nil {
			return err
		}
		fmt.Fprintf(stdout, "Removed %d cached option list(s) for field %s.\n", removed, cacheField)
		return nil
	}

	if !confirm(ctx, fmt.Sprintf("Clear every cached option list in the %s cache?", a.cache.Name())) {
		fmt.Fprintln(os.Stderr, "Aborted.")
		return nil
	}
	if err := a.loader.ClearOptionCache(ctx); err != nil {
		return err
	}
	fmt.Fprintf(stdout, "Option cache (%s) cleared.\n", a.cache.Name())
	return nil
}

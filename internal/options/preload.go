package options

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/clinprecision/ctms-forms/internal/audit"
	"github.com/clinprecision/ctms-forms/internal/forms"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// PreloadForm resolves the options of every field in def that declares a
// source or inline options. Fields are loaded with bounded concurrency; the
// result is keyed by field id. Only context cancellation is reported as an
// error, since each field load already falls back on failure.
func (l *Loader) PreloadForm(ctx context.Context, def *forms.FormDefinition, lc forms.LoadContext) (map[string][]forms.Option, error) {
	out := map[string][]forms.Option{}
	if def == nil {
		return out, nil
	}

	var fields []*forms.FieldDefinition
	for i := range def.Fields {
		f := &def.Fields[i]
		if _, ok := Decode(f, l.ttl); ok || len(StaticOptions(f)) > 0 {
			fields = append(fields, f)
		}
	}

	results := make([][]forms.Option, len(fields))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(l.concurrency)

	for i, f := range fields {
		i, f := i, f
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			results[i] = l.LoadFieldOptions(gctx, f, lc)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("preload of form %q interrupted: %w", def.ID, err)
	}

	for i, f := range fields {
		out[f.ID] = results[i]
	}
	l.logger.Debug("Preloaded form options",
		zap.String("form", def.ID),
		zap.Int("fields", len(fields)),
	)
	return out, nil
}

// CacheEntryStats describes one cached option list. Age is in whole seconds.
type CacheEntryStats struct {
	Key         string `json:"key"`
	OptionCount int    `json:"optionCount"`
	AgeSeconds  int    `json:"ageSeconds"`
	Timestamp   string `json:"timestamp"`
}

// CacheStats summarizes the option cache.
type CacheStats struct {
	TotalEntries int               `json:"totalEntries"`
	Entries      []CacheEntryStats `json:"entries"`
}

// CacheStats lists every cached entry with its age on the loader's clock.
func (l *Loader) CacheStats(ctx context.Context) (CacheStats, error) {
	keys, err := l.store.Keys(ctx)
	if err != nil {
		return CacheStats{}, fmt.Errorf("failed to list option cache: %w", err)
	}

	stats := CacheStats{Entries: make([]CacheEntryStats, 0, len(keys))}
	now := l.now()
	for _, key := range keys {
		entry, ok, err := l.store.Get(ctx, key)
		if err != nil {
			return CacheStats{}, fmt.Errorf("failed to read option cache entry %s: %w", key, err)
		}
		if !ok {
			continue
		}
		stats.Entries = append(stats.Entries, CacheEntryStats{
			Key:         key,
			OptionCount: len(entry.Options),
			AgeSeconds:  int(now.Sub(entry.StoredAt) / time.Second),
			Timestamp:   entry.StoredAt.UTC().Format(time.RFC3339),
		})
	}
	stats.TotalEntries = len(stats.Entries)
	return stats, nil
}

// ClearOptionCache removes every cached option list.
func (l *Loader) ClearOptionCache(ctx context.Context) error {
	if err := l.store.Clear(ctx); err != nil {
		return fmt.Errorf("failed to clear option cache: %w", err)
	}
	l.logger.Info("Cleared option cache", zap.String("store", l.store.Name()))
	l.audit.LogSystem(audit.EventCacheClear, "Cleared option cache", map[string]interface{}{
		"store": l.store.Name(),
	})
	return nil
}

// ClearFieldCache removes every cached entry whose key contains fieldID and
// returns how many were removed.
func (l *Loader) ClearFieldCache(ctx context.Context, fieldID string) (int, error) {
	if strings.TrimSpace(fieldID) == "" {
		return 0, fmt.Errorf("field id is required")
	}
	keys, err := l.store.Keys(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to list option cache: %w", err)
	}

	removed := 0
	for _, key := range keys {
		if !strings.Contains(key, fieldID) {
			continue
		}
		if err := l.store.Delete(ctx, key); err != nil {
			return removed, fmt.Errorf("failed to delete option cache entry %s: %w", key, err)
		}
		removed++
	}

	l.logger.Info("Cleared field option cache",
		zap.String("field", fieldID),
		zap.Int("removed", removed),
	)
	l.audit.LogSystem(audit.EventCacheClear, "Cleared field option cache", map[string]interface{}{
		"field":   fieldID,
		"removed": removed,
	})
	return removed, nil
}

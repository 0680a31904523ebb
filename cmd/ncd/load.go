package main

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"ncd/internal/loader"
	"ncd/internal/storage"
)

func newLoadCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "load <archive.zip>...",
		Short: "Load local NCD zip archives",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.validate(false); err != nil {
				return err
			}
			ctx := cmd.Context()
			defer a.startMetrics(ctx, "load")()

			repo, err := a.openStorage(ctx)
			if err != nil {
				return err
			}
			defer repo.Close()

			for _, path := range args {
				if _, err := a.loadArchive(ctx, repo, path); err != nil {
					return err
				}
			}
			return nil
		},
	}
	return cmd
}

// loadArchive runs one Loader over the zip at path and logs its summary.
func (a *app) loadArchive(ctx context.Context, repo storage.Repository, path string) (loader.Summary, error) {
	lg := log.With().Str("archive", filepath.Base(path)).Logger()
	l := &loader.Loader{
		Repo:      repo,
		Logger:    &lg,
		BatchSize: a.cfg.Load.BatchSize,
		Job:       a.cfg.Job,
		TempDir:   a.cfg.Load.TempDir,
	}

	start := time.Now()
	sum, err := l.LoadFile(ctx, path)
	if err != nil {
		return sum, fmt.Errorf("load %s: %w", path, err)
	}

	var rows, redacted, malformed int64
	for _, t := range sum.Tables {
		rows += t.Rows
		redacted += t.RedactedCells
		malformed += t.MalformedCells
	}
	lg.Info().
		Str("run_id", sum.RunID).
		Int("tables", len(sum.Tables)).
		Int64("rows", rows).
		Int64("redacted", redacted).
		Int64("malformed", malformed).
		Dur("took", time.Since(start).Truncate(time.Millisecond)).
		Msg("archive loaded")
	return sum, nil
}

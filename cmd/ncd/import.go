package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"ncd/internal/fetch"
	"ncd/internal/listing"
	"ncd/internal/storage"
)

func newImportCmd(a *app) *cobra.Command {
	var keep bool
	var concurrency int

	cmd := &cobra.Command{
		Use:   "import [listing-url]",
		Short: "Download every archive linked from the listing page and load it",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 1 {
				a.cfg.Import.ListingURL = args[0]
			}
			if cmd.Flags().Changed("keep") {
				a.cfg.Import.KeepDownloads = keep
			}
			if cmd.Flags().Changed("concurrency") {
				a.cfg.Import.Concurrency = concurrency
			}
			if err := a.validate(true); err != nil {
				return err
			}
			ctx := cmd.Context()
			defer a.startMetrics(ctx, "import")()

			repo, err := a.openStorage(ctx)
			if err != nil {
				return err
			}
			defer repo.Close()

			return a.runImport(ctx, repo)
		},
	}
	cmd.Flags().BoolVar(&keep, "keep", false, "Keep downloaded archives after loading")
	cmd.Flags().IntVarP(&concurrency, "concurrency", "j", 1, "Archives fetched and loaded at once")
	return cmd
}

func (a *app) runImport(ctx context.Context, repo storage.Repository) error {
	ic := a.cfg.Import
	client := &http.Client{Timeout: ic.Timeout}

	links, err := listing.ZipLinks(ctx, client, ic.ListingURL)
	if err != nil {
		return fmt.Errorf("listing %s: %w", ic.ListingURL, err)
	}
	if len(links) == 0 {
		log.Warn().Str("url", ic.ListingURL).Msg("no archives linked from listing page")
		return nil
	}
	log.Info().Int("archives", len(links)).Str("url", ic.ListingURL).Msg("listing fetched")

	dir := ic.DownloadDir
	if dir == "" {
		tmp, err := os.MkdirTemp("", "ncd-import-*")
		if err != nil {
			return err
		}
		dir = tmp
		if !ic.KeepDownloads {
			defer os.RemoveAll(tmp)
		}
	} else if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	dl := &fetch.Downloader{
		Client:      client,
		MaxAttempts: ic.MaxAttempts,
		BaseBackoff: ic.BaseBackoff,
		MaxBackoff:  ic.MaxBackoff,
		Job:         a.cfg.Job,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(ic.Concurrency, 1))
	for i, link := range links {
		g.Go(func() error {
			name := listing.ArchiveName(link)
			// Listings may link the same file name under different paths.
			sub := filepath.Join(dir, fmt.Sprintf("%03d", i))
			if err := os.MkdirAll(sub, 0o755); err != nil {
				return err
			}
			if !ic.KeepDownloads {
				defer os.RemoveAll(sub)
			}
			log.Debug().Str("archive", name).Str("url", link).Msg("downloading")
			path, err := dl.Download(gctx, link, sub)
			if err != nil {
				return fmt.Errorf("download %s: %w", name, err)
			}
			_, err = a.loadArchive(gctx, repo, path)
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	if ic.KeepDownloads {
		log.Info().Str("dir", dir).Msg("archives kept")
	}
	return nil
}

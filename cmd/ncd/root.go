package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"ncd/internal/config"
	"ncd/internal/metrics"
	"ncd/internal/metrics/datadog"
	"ncd/internal/storage"

	// Every backend is compiled in; storage.kind picks one at run time.
	_ "ncd/internal/storage/all"
)

// app is the state shared by all subcommands once flags are parsed.
type app struct {
	v       *viper.Viper
	cfgPath string
	envFile string
	verbose bool
	cfg     config.Config
}

func newRootCmd() *cobra.Command {
	a := &app{v: viper.New()}

	root := &cobra.Command{
		Use:           "ncd",
		Short:         "Load DOJ National Caseload Data archives",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			initLogging(a.verbose)
			return a.loadConfig()
		},
	}

	pf := root.PersistentFlags()
	pf.BoolVarP(&a.verbose, "verbose", "v", false, "Enable verbose (debug) logging")
	pf.StringVar(&a.cfgPath, "config", "", "Config file (YAML or JSON)")
	pf.StringVar(&a.envFile, "env-file", ".env", "Environment file loaded before reading NCD_* variables")
	pf.String("storage-kind", "", "Storage backend: postgres, sqlite, mssql, blobstore")
	pf.String("storage-dsn", "", "Backend DSN, or root directory for blobstore")
	pf.String("storage-database", "", "Target schema/database")
	pf.Int("batch-size", 0, "Rows handed to the backend per batch")
	pf.String("metrics-backend", "", "Metrics backend: none, datadog")
	pf.String("job", "", "Job name used in metrics tags")

	for key, flag := range map[string]string{
		"storage.kind":     "storage-kind",
		"storage.dsn":      "storage-dsn",
		"storage.database": "storage-database",
		"load.batch_size":  "batch-size",
		"metrics.backend":  "metrics-backend",
		"job":              "job",
	} {
		_ = a.v.BindPFlag(key, pf.Lookup(flag))
	}

	root.AddCommand(newLoadCmd(a), newImportCmd(a), newSchemaCmd(a))
	return root
}

// initLogging configures zerolog on stderr; stdout is reserved for command
// output such as `ncd schema`.
func initLogging(verbose bool) {
	level := zerolog.InfoLevel
	if verbose {
		level = zerolog.DebugLevel
	}
	zerolog.SetGlobalLevel(level)
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
}

func (a *app) loadConfig() error {
	if a.envFile != "" {
		if err := godotenv.Load(a.envFile); err != nil {
			if !errors.Is(err, fs.ErrNotExist) {
				return fmt.Errorf("env file %s: %w", a.envFile, err)
			}
			log.Debug().Str("file", a.envFile).Msg("no env file")
		}
	}
	cfg, err := config.Load(a.v, a.cfgPath)
	if err != nil {
		return err
	}
	a.cfg = cfg
	return nil
}

// validate logs every issue and fails on errors.
func (a *app) validate(requireListing bool) error {
	issues := a.cfg.Validate(requireListing)
	for _, iss := range issues {
		ev := log.Warn()
		if iss.Severity == config.SeverityError {
			ev = log.Error()
		}
		ev.Str("path", iss.Path).Msg(iss.Message)
	}
	if config.HasErrors(issues) {
		return errors.New("configuration is invalid")
	}
	return nil
}

func (a *app) openStorage(ctx context.Context) (storage.Repository, error) {
	repo, err := storage.New(ctx, storage.Config{
		Kind:     a.cfg.Storage.Kind,
		DSN:      os.ExpandEnv(a.cfg.Storage.DSN),
		Database: a.cfg.Storage.Database,
	})
	if err != nil {
		return nil, fmt.Errorf("open storage %s: %w", a.cfg.Storage.Kind, err)
	}
	log.Debug().Str("kind", a.cfg.Storage.Kind).Str("database", a.cfg.Storage.Database).Msg("storage opened")
	return repo, nil
}

// startMetrics installs the configured backend and returns its shutdown.
func (a *app) startMetrics(ctx context.Context, tool string) func() {
	switch a.cfg.Metrics.Backend {
	case "datadog":
		tags := append(datadog.ParseTagsCSV(a.cfg.Metrics.Tags), "tool:"+tool)
		b, err := datadog.NewBackend(ctx, datadog.Options{
			JobName:    a.cfg.Job,
			Tags:       tags,
			FlushEvery: a.cfg.Metrics.FlushEvery,
		})
		if err != nil {
			log.Warn().Err(err).Msg("metrics: datadog init failed; metrics disabled")
			return func() {}
		}
		metrics.SetBackend(b)
		log.Debug().Str("job", a.cfg.Job).Strs("tags", tags).Msg("metrics: datadog enabled")
		return func() {
			if err := b.Close(); err != nil {
				log.Warn().Err(err).Msg("metrics: datadog close/flush error")
			}
			metrics.SetBackend(nil)
		}
	default:
		return func() {}
	}
}

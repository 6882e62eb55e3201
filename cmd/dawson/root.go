package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/mmarcus006/web-scraper-legal/internal/downloader"
	"github.com/mmarcus006/web-scraper-legal/pkg/config"
	"github.com/mmarcus006/web-scraper-legal/pkg/database"
	"github.com/mmarcus006/web-scraper-legal/pkg/dawson"
	"github.com/mmarcus006/web-scraper-legal/pkg/logger"
	"github.com/mmarcus006/web-scraper-legal/pkg/scraper"
	"github.com/mmarcus006/web-scraper-legal/pkg/storage"
)

var (
	version = "1.0.0"

	// Global flags
	configFile string
	logLevel   string
	dataDir    string
)

var rootCmd = &cobra.Command{
	Use:   "dawson",
	Short: "Bulk downloader for US Tax Court opinions",
	Long: `dawson downloads court opinion metadata and PDFs from the DAWSON
public API, month by month, into a local archive.

All progress is tracked in a local SQLite database, so interrupted runs
can be resumed without repeating completed work.`,
	Version:      version,
	SilenceUsage: true,
}

// Execute runs the CLI.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "config file (YAML)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&dataDir, "data-dir", "", "root directory for database, JSON and PDFs")

	rootCmd.SetVersionTemplate(`dawson {{.Version}}
Go Version: ` + runtime.Version() + `
OS/Arch: ` + runtime.GOOS + `/` + runtime.GOARCH + `
`)
	rootCmd.CompletionOptions.DisableDefaultCmd = true
}

// app holds everything a command needs, wired once.
type app struct {
	cfg     *config.Config
	log     logger.Logger
	store   *database.Store
	scraper *scraper.Scraper
}

func (a *app) close() {
	if a.store != nil {
		a.store.Close()
	}
}

// buildApp loads configuration and constructs the full pipeline.
func buildApp() (*app, error) {
	cfg, err := config.Load(configFile)
	if err != nil {
		return nil, err
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}
	if dataDir != "" {
		cfg.Paths.DataDir = dataDir
	}

	log := logger.NewConsole(cfg.Logging.Level)

	store, err := database.Open(cfg.DatabasePath())
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	files, err := storage.NewManager(cfg.DocumentsDir(), cfg.JSONDir())
	if err != nil {
		store.Close()
		return nil, err
	}

	client := dawson.New(&cfg.API, log)
	pool := downloader.NewPool(store, client, files, cfg, log)

	return &app{
		cfg:     cfg,
		log:     log,
		store:   store,
		scraper: scraper.New(store, client, files, pool, cfg, log),
	}, nil
}

// commandContext returns a context cancelled by SIGINT/SIGTERM, so an
// interrupted run leaves clean database state behind.
func commandContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

// exitCode maps run outcomes to process exit codes. Unresolved
// failures exit non-zero so schedulers notice.
func exitCode(err error) error {
	if errors.Is(err, scraper.ErrRunIncomplete) {
		fmt.Fprintln(os.Stderr, "finished with failures; run 'dawson resume' to retry")
		os.Exit(2)
	}
	return err
}

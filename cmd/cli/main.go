package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/stockwatch/monitor-service/config"
	"github.com/stockwatch/monitor-service/internal/adapters/registry"
	"github.com/stockwatch/monitor-service/internal/adapters/stores"
	"github.com/stockwatch/monitor-service/internal/database"
	"github.com/stockwatch/monitor-service/internal/httpx"
	"github.com/stockwatch/monitor-service/internal/proxy"
)

var (
	cfgFile string
	cfg     *config.Config
	logger  *zerolog.Logger
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "monitor-service",
	Short: "Monitor Service CLI - retail availability and price tracking tool",
	Long: `A CLI tool for operating the availability and price monitoring pipeline:
reconciling store catalogs, polling listings, resolving product URLs, managing
subscriptions, and exporting price history.`,
	PersistentPreRunE: persistentPreRun,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./config/config.yaml or ./config.yaml)")
}

func initConfig() {
	var err error
	cfg, err = config.Load(cfgFile)
	if err != nil {
		// Config is optional for some commands, don't fail here
		fmt.Fprintf(os.Stderr, "Warning: failed to load config: %v\n", err)
	}
}

// persistentPreRun runs before each command and initializes dependencies
func persistentPreRun(cmd *cobra.Command, args []string) error {
	if cmd.Name() == "help" || cmd.Name() == "completion" {
		return nil
	}

	logger = initLogger()

	if cfg == nil {
		return fmt.Errorf("config required for %s command but not loaded", cmd.Name())
	}
	if err := initDatabase(); err != nil {
		return fmt.Errorf("database initialization failed: %w", err)
	}
	logger.Info().Msg("Database connected")

	return nil
}

func initLogger() *zerolog.Logger {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix

	level := zerolog.InfoLevel
	if cfg != nil && cfg.Logging.Level != "" {
		if parsedLevel, err := zerolog.ParseLevel(cfg.Logging.Level); err == nil {
			level = parsedLevel
		}
	}

	// Always use console format for CLI
	var output io.Writer
	if cfg != nil && cfg.Logging.Format == "json" {
		output = os.Stdout
	} else {
		noColor := false
		if cfg != nil {
			noColor = cfg.Logging.NoColor
		}
		output = zerolog.ConsoleWriter{Out: os.Stdout, NoColor: noColor}
	}

	log := zerolog.New(output).Level(level).With().Timestamp().Logger()
	return &log
}

func initDatabase() error {
	dbURL := config.GetDatabaseURL()
	if dbURL == "" {
		return fmt.Errorf("DATABASE_URL not set")
	}

	ctx := context.Background()
	if err := database.Connect(
		ctx,
		dbURL,
		cfg.Database.MaxConnections,
		cfg.Database.MinConnections,
		cfg.Database.MaxConnLifetime,
		cfg.Database.MaxConnIdleTime,
	); err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}

	return nil
}

// buildRegistry wires the shared scraping client and all store adapters.
func buildRegistry() (*registry.Registry, error) {
	pool, err := proxy.NewPool(cfg.Scraper.ProxyURLs)
	if err != nil {
		return nil, fmt.Errorf("invalid proxy configuration: %w", err)
	}

	client := httpx.NewClient(httpx.Config{
		RequestsPerSecond: cfg.Scraper.RequestsPerSecond,
		MaxRetries:        cfg.Scraper.MaxRetries,
		InitialBackoff:    time.Duration(cfg.Scraper.InitialBackoffMs) * time.Millisecond,
		MaxBackoff:        time.Duration(cfg.Scraper.MaxBackoffMs) * time.Millisecond,
		RequestTimeout:    cfg.Scraper.RequestTimeout,
	}, pool)

	reg := registry.NewRegistry()
	stores.RegisterAll(reg, client)
	return reg, nil
}

// ensureStores upserts a store row for every registered adapter.
func ensureStores(ctx context.Context, catalog *database.Catalog, reg *registry.Registry) error {
	for _, handle := range reg.Handles() {
		adapter, err := reg.ResolveAdapter(handle)
		if err != nil {
			return err
		}
		baseURL := ""
		if prefixes := adapter.DomainPrefixes(); len(prefixes) > 0 {
			baseURL = "https://" + prefixes[0]
		}
		if _, err := catalog.EnsureStore(ctx, adapter.Handle(), adapter.Name(), baseURL); err != nil {
			return err
		}
	}
	return nil
}

func main() {
	if err := Execute(); err != nil {
		os.Exit(1)
	}
}

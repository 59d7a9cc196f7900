// Package main implements the unified rangekeeper binary.
// It can run the admin API and the maintenance daemon together or
// individually based on the --mode flag.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/rangekeeper/rangekeeper/internal/app"
	"github.com/rangekeeper/rangekeeper/internal/config"
	"github.com/rangekeeper/rangekeeper/pkg/types"
)

var (
	version = "dev"
	commit  = "unknown"
)

func main() {
	var (
		configFile  string
		dataDir     string
		mode        string
		httpAddr    string
		unit        string
		origin      string
		showVersion bool
		showHelp    bool
	)

	flag.StringVar(&configFile, "config", "", "Path to configuration file (YAML or JSON)")
	flag.StringVar(&dataDir, "data-dir", "", "Base directory for all data files")
	flag.StringVar(&mode, "mode", "all", "Service mode: all, serve, maintain")
	flag.StringVar(&httpAddr, "http-addr", "", "HTTP address for the admin API")
	flag.StringVar(&unit, "unit", "", "Partition period unit: day, month")
	flag.StringVar(&origin, "origin", "", "Key-space origin for a fresh catalog (YYYY-MM-DD)")
	flag.BoolVar(&showVersion, "version", false, "Show version information")
	flag.BoolVar(&showHelp, "help", false, "Show help message")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Rangekeeper - Range Partition Catalog and Router\n\n")
		fmt.Fprintf(os.Stderr, "Usage: rangekeeper [options]\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  rangekeeper --data-dir /data/rangekeeper\n")
		fmt.Fprintf(os.Stderr, "  rangekeeper --mode maintain --unit day --origin 2023-01-01\n")
		fmt.Fprintf(os.Stderr, "  rangekeeper --config /etc/rangekeeper/config.yaml\n")
		fmt.Fprintf(os.Stderr, "\nEnvironment Variables:\n")
		fmt.Fprintf(os.Stderr, "  RANGEKEEPER_MODE             Service mode (all, serve, maintain)\n")
		fmt.Fprintf(os.Stderr, "  RANGEKEEPER_DATA_DIR         Base directory for data files\n")
		fmt.Fprintf(os.Stderr, "  RANGEKEEPER_HTTP_ADDR        Admin API address\n")
		fmt.Fprintf(os.Stderr, "  RANGEKEEPER_KEYSPACE_UNIT    Partition period unit (day, month)\n")
		fmt.Fprintf(os.Stderr, "  RANGEKEEPER_ARCHIVE_TYPE     Change archive backend (local, s3)\n")
	}

	flag.Parse()

	if showHelp {
		flag.Usage()
		os.Exit(0)
	}

	if showVersion {
		fmt.Printf("rangekeeper version %s (commit: %s)\n", version, commit)
		os.Exit(0)
	}

	cfg, err := loadConfig(configFile, dataDir, mode, httpAddr, unit, origin)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	printBanner(cfg)

	application, err := app.New(cfg)
	if err != nil {
		log.Fatalf("Failed to create application: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := application.Start(ctx); err != nil {
		log.Fatalf("Failed to start application: %v", err)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	sig := <-sigCh
	log.Printf("Received signal: %v", sig)

	if err := application.Stop(context.Background()); err != nil {
		log.Printf("Shutdown error: %v", err)
		os.Exit(1)
	}
}

// loadConfig loads configuration from file, environment, and command line flags.
func loadConfig(configFile, dataDir, mode, httpAddr, unit, origin string) (*config.Config, error) {
	var cfg *config.Config
	var err error

	if configFile != "" {
		cfg, err = config.LoadFromFile(configFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load config file: %w", err)
		}
	} else {
		cfg = config.DefaultConfig()
	}

	config.LoadFromEnv(cfg)

	// Command line flags take highest priority
	if dataDir != "" {
		cfg.DataDir = dataDir
	}
	if mode != "" {
		cfg.Mode = config.Mode(mode)
	}
	if httpAddr != "" {
		cfg.HTTP.Addr = httpAddr
	}
	if unit != "" {
		cfg.Keyspace.Unit = types.PeriodUnit(unit)
	}
	if origin != "" {
		cfg.Keyspace.Origin = origin
	}

	return cfg, nil
}

// printBanner prints the startup banner with configuration summary.
func printBanner(cfg *config.Config) {
	log.Printf("Rangekeeper - Range Partition Catalog and Router")
	log.Printf("Configuration:")
	log.Printf("  Mode:     %s", cfg.Mode)
	log.Printf("  Data Dir: %s", cfg.DataDir)
	log.Printf("  Unit:     %s", cfg.Keyspace.Unit)

	if cfg.ShouldServe() {
		log.Printf("Admin API:")
		log.Printf("  HTTP: %s", cfg.HTTP.Addr)
	}

	if cfg.ShouldMaintain() {
		log.Printf("Maintenance:")
		log.Printf("  Check Interval: %v", cfg.Frontier.CheckInterval)
		log.Printf("  Lookahead:      %d period(s)", cfg.Frontier.LookaheadPeriods)
		if cfg.Retention.Enabled {
			log.Printf("  Retention:      %d %s(s)", cfg.Retention.HorizonUnits, cfg.Retention.Unit)
		}
	}
}

// contextd is the context aggregation daemon.
//
// It loads configuration, wires the source registry and response cache,
// and serves the aggregation API until interrupted.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/term"

	"github.com/issuepilot/context-engine/internal/aggregator"
	"github.com/issuepilot/context-engine/internal/cache"
	"github.com/issuepilot/context-engine/internal/config"
	"github.com/issuepilot/context-engine/internal/monitoring"
	"github.com/issuepilot/context-engine/internal/server"
	"github.com/issuepilot/context-engine/internal/sources"
)

func main() {
	var (
		configFlag string
		debugFlag  bool
		portFlag   int
	)

	args := os.Args[1:]
	i := 0
parseLoop:
	for i < len(args) {
		switch args[i] {
		case "-h", "--help":
			printHelp()
			return
		case "-c", "--config":
			if i+1 < len(args) {
				configFlag = args[i+1]
				i += 2
			} else {
				fmt.Fprintln(os.Stderr, "Error: --config requires a value")
				os.Exit(1)
			}
		case "-d", "--debug":
			debugFlag = true
			i++
		case "-p", "--port":
			if i+1 < len(args) {
				n, err := parsePort(args[i+1])
				if err != nil {
					fmt.Fprintf(os.Stderr, "Error: invalid port '%s'\n", args[i+1])
					os.Exit(1)
				}
				portFlag = n
				i += 2
			} else {
				fmt.Fprintln(os.Stderr, "Error: --port requires a value")
				os.Exit(1)
			}
		case "--":
			break parseLoop
		default:
			fmt.Fprintf(os.Stderr, "Error: unknown option: %s\n", args[i])
			os.Exit(1)
		}
	}

	loadEnvFiles()
	setupLogging(debugFlag)

	cfg, err := loadConfig(configFlag)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}
	if debugFlag {
		cfg.Debug = true
	}
	if portFlag > 0 {
		cfg.Server.Port = portFlag
	}

	store, err := buildStore(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error opening cache: %v\n", err)
		os.Exit(1)
	}

	registry := sources.NewDefaultRegistry(cfg)
	metrics := monitoring.NewMetricsCollector()
	agg := aggregator.New(cfg, registry, store, metrics)
	srv := server.New(agg, metrics)

	// Periodic purge keeps the sqlite cache from accumulating dead rows.
	purgeCtx, stopPurge := context.WithCancel(context.Background())
	if sqliteStore, ok := store.(*cache.SQLiteStore); ok {
		go purgeLoop(purgeCtx, sqliteStore, cfg.Cache.TTL())
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.Info().Str("signal", sig.String()).Msg("contextd: shutting down")
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("contextd: server error")
		}
	}

	stopPurge()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("contextd: shutdown incomplete")
	}
	registry.Dispose()
	if err := store.Close(); err != nil {
		log.Warn().Err(err).Msg("contextd: cache close failed")
	}
}

func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.Load(path)
	}
	// Well-known locations, first match wins.
	candidates := []string{"contextd.yaml", "config/contextd.yaml"}
	if home, err := os.UserHomeDir(); err == nil {
		candidates = append(candidates, filepath.Join(home, ".config", "context-engine", "contextd.yaml"))
	}
	for _, c := range candidates {
		if _, err := os.Stat(c); err == nil {
			return config.Load(c)
		}
	}
	cfg := config.Default()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func buildStore(cfg *config.Config) (cache.Store, error) {
	switch cfg.Cache.Provider {
	case "sqlite":
		return cache.NewSQLiteStore(cfg.Cache.Path)
	default:
		return cache.NewMemoryStore(cfg.Cache.MaxEntries), nil
	}
}

func purgeLoop(ctx context.Context, store *cache.SQLiteStore, ttl time.Duration) {
	interval := ttl
	if interval < time.Minute {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n, err := store.PurgeExpired(ctx); err == nil && n > 0 {
				log.Debug().Int("removed", n).Msg("contextd: purged expired cache rows")
			}
		}
	}
}

// loadEnvFiles loads .env then .env.local, without overriding existing vars.
func loadEnvFiles() {
	for _, f := range []string{".env", ".env.local"} {
		if _, err := os.Stat(f); err == nil {
			_ = godotenv.Load(f)
		}
	}
}

func setupLogging(debug bool) {
	level := zerolog.InfoLevel
	if debug {
		level = zerolog.DebugLevel
	}
	zerolog.SetGlobalLevel(level)
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnixMs

	// Pretty output on a terminal, JSON when piped or redirected.
	if term.IsTerminal(int(os.Stderr.Fd())) {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})
	} else {
		log.Logger = log.Output(os.Stderr)
	}
}

func parsePort(s string) (int, error) {
	var n int
	if _, err := fmt.Sscanf(s, "%d", &n); err != nil {
		return 0, err
	}
	if n <= 0 || n > 65535 {
		return 0, fmt.Errorf("port out of range: %d", n)
	}
	return n, nil
}

func printHelp() {
	fmt.Println(`contextd - context aggregation daemon

Usage: contextd [options]

Options:
  -c, --config <path>   Config file (default: contextd.yaml, then
                        ~/.config/context-engine/contextd.yaml)
  -p, --port <port>     Listen port (overrides config)
  -d, --debug           Debug logging
  -h, --help            Show this help`)
}

// Package main is the ragd CLI entry point.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/hyperjump/ragd/internal/cli"
	"github.com/hyperjump/ragd/internal/config"
	"github.com/hyperjump/ragd/internal/models"
	"github.com/hyperjump/ragd/internal/server"
	"github.com/hyperjump/ragd/internal/storage"
	"github.com/hyperjump/ragd/internal/watcher"
	"github.com/hyperjump/ragd/pkg/utils"
)

var version = "dev"

const (
	defaultConfigPath = "/usr/local/etc/ragd/config.yaml"
	defaultServerURL  = "http://localhost:8080"
	clientTimeout     = 30 * time.Second
)

// loadConfig loads config from path. When path is the default, config.yaml in the
// current directory takes precedence if it exists. Returns the path actually loaded.
func loadConfig(path string) (*config.Config, string, error) {
	if path == defaultConfigPath {
		if cwd, err := os.Getwd(); err == nil {
			fallback := filepath.Join(cwd, "config.yaml")
			if _, err := os.Stat(fallback); err == nil {
				path = fallback
			}
		}
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, "", err
	}
	return cfg, path, nil
}

func newLogger(cfg *config.Config, debug bool) (*zap.Logger, error) {
	if debug || cfg.Debug {
		return utils.NewLogger(true)
	}
	if cfg.LogLevel != "" {
		return utils.NewLoggerWithLevel(cfg.LogLevel)
	}
	return utils.NewLogger(false)
}

func main() {
	// .env is optional; values already in the environment win.
	_ = godotenv.Load()

	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}
	command := os.Args[1]
	switch command {
	case "server":
		runServer()
	case "query":
		runQuery()
	case "import":
		runImport()
	case "invalidate":
		runInvalidate()
	case "status":
		runStatus()
	case "version", "--version", "-v":
		fmt.Printf("ragd version %s\n", version)
	case "help", "--help", "-h":
		printUsage()
	default:
		fmt.Printf("Unknown command: %s\n", command)
		printUsage()
		os.Exit(1)
	}
}

func fatalf(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}

func runServer() {
	fs := flag.NewFlagSet("server", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	debug := fs.Bool("debug", false, "enable debug logging")
	watchConfig := fs.Bool("watch-config", true, "reload embedding settings when the config file changes")
	_ = fs.Parse(os.Args[2:])

	cfg, resolvedConfigPath, err := loadConfig(*configPath)
	if err != nil {
		fatalf("Failed to load config: %v", err)
	}
	logger, err := newLogger(cfg, *debug)
	if err != nil {
		fatalf("Failed to create logger: %v", err)
	}
	defer logger.Sync()

	logger.Info("config loaded",
		zap.String("config_path", resolvedConfigPath),
		zap.String("storage_driver", cfg.Storage.Driver),
		zap.String("default_provider", cfg.Embedding.Default.Provider),
	)

	components, err := initializeComponents(cfg, logger)
	if err != nil {
		logger.Fatal("Failed to initialize components", zap.Error(err))
	}
	defer components.Close()

	watchCtx, watchCancel := context.WithCancel(context.Background())
	defer watchCancel()
	if *watchConfig {
		reloader := &configReloader{
			path:     resolvedConfigPath,
			resolver: components.Resolver,
			engine:   components.Engine,
			logger:   logger,
		}
		fw := watcher.NewFileWatcher(resolvedConfigPath, func(string) { reloader.reload() },
			watcher.WithLogger(logger))
		if err := fw.Start(watchCtx); err != nil {
			logger.Warn("config watcher not started", zap.Error(err))
		} else {
			defer fw.Stop()
		}
	}

	srv := server.NewServer(components.Engine, components.Storage, cfg, logger, components.Metrics)
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("Server failed", zap.Error(err))
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	logger.Info("Shutting down...")
	watchCancel()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Stop(ctx)
}

// argsReorder moves flags that appear after positional arguments to the front, since
// flag.Parse stops at the first non-flag argument.
func argsReorder(args []string) []string {
	for i, a := range args {
		if len(a) > 0 && a[0] == '-' {
			if i == 0 {
				return args
			}
			reordered := make([]string, 0, len(args))
			reordered = append(reordered, args[i:]...)
			reordered = append(reordered, args[:i]...)
			return reordered
		}
	}
	return args
}

// buildQuery joins positional args so multi-word queries work with or without quotes.
func buildQuery(args []string) string {
	return strings.TrimSpace(strings.Join(args, " "))
}

// splitIDs parses a comma-separated list. An unset flag yields nil (all
// documents); "-docs=" yields an explicit empty scope.
func splitIDs(value string, set bool) []string {
	if !set {
		return nil
	}
	ids := []string{}
	for _, id := range strings.Split(value, ",") {
		if id = strings.TrimSpace(id); id != "" {
			ids = append(ids, id)
		}
	}
	return ids
}

func flagWasSet(fs *flag.FlagSet, name string) bool {
	set := false
	fs.Visit(func(f *flag.Flag) {
		if f.Name == name {
			set = true
		}
	})
	return set
}

func printQueryUsage(fs *flag.FlagSet) {
	fmt.Fprintf(fs.Output(), "Usage: ragd query -org <id> [flags] <query>\n\n")
	fs.PrintDefaults()
	fmt.Fprintf(fs.Output(), `
Examples:
  ragd query -org acme 付款條件是什麼
  ragd query -org acme -customer cust-42 -top-k 3 termination clause
  ragd query -org acme -docs d1,d2 -min-score 0.5 -output json refund policy
  ragd query -org acme -server "" warranty     # query storage directly
`)
}

func runQuery() {
	fs := flag.NewFlagSet("query", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	serverURL := fs.String("server", defaultServerURL, "server URL (empty = query storage directly)")
	orgID := fs.String("org", "", "organization ID (required)")
	customerID := fs.String("customer", "", "restrict to documents of this customer")
	docs := fs.String("docs", "", "comma-separated document IDs to restrict to")
	topK := fs.Int("top-k", 0, "number of sources (default from config)")
	minScore := fs.Float64("min-score", 0, "minimum similarity (default from config)")
	outputFormat := fs.String("output", "text", "output format: text or json")
	fs.Usage = func() { printQueryUsage(fs) }
	_ = fs.Parse(argsReorder(os.Args[2:]))

	queryStr := buildQuery(fs.Args())
	if queryStr == "" || *orgID == "" {
		printQueryUsage(fs)
		os.Exit(1)
	}
	format, err := cli.ParseOutputFormat(*outputFormat)
	if err != nil {
		fatalf("%v", err)
	}

	q := models.RAGQuery{
		Query:       queryStr,
		DocumentIDs: splitIDs(*docs, flagWasSet(fs, "docs")),
		CustomerID:  *customerID,
		TopK:        *topK,
	}
	if flagWasSet(fs, "min-score") {
		q.MinScore = minScore
	}

	ctx := context.Background()
	var res *models.RetrievalResult
	if *serverURL != "" {
		res, err = cli.NewClient(*serverURL, clientTimeout).RAGQuery(ctx, *orgID, q)
	} else {
		res, err = queryDirect(ctx, *configPath, *orgID, q)
	}
	if err != nil {
		fatalf("Query failed: %v", err)
	}
	if err := cli.WriteQueryResult(os.Stdout, res, format); err != nil {
		fatalf("Output failed: %v", err)
	}
}

func queryDirect(ctx context.Context, configPath, orgID string, q models.RAGQuery) (*models.RetrievalResult, error) {
	cfg, _, err := loadConfig(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	logger, err := newLogger(cfg, false)
	if err != nil {
		return nil, err
	}
	defer logger.Sync()
	components, err := initializeComponents(cfg, logger)
	if err != nil {
		return nil, err
	}
	defer components.Close()
	return components.Engine.RAGQuery(ctx, orgID, q)
}

func runImport() {
	fs := flag.NewFlagSet("import", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	orgID := fs.String("org", "", "organization ID for every record (overrides organization_id)")
	embed := fs.Bool("embed", false, "embed chunks that have no vector with the organization's provider")
	notify := fs.String("notify", "", "server URL to invalidate imported organizations on (empty = skip)")
	_ = fs.Parse(argsReorder(os.Args[2:]))

	if fs.NArg() < 1 {
		fmt.Println("Usage: ragd import [flags] <file.jsonl|->")
		os.Exit(1)
	}

	cfg, _, err := loadConfig(*configPath)
	if err != nil {
		fatalf("Failed to load config: %v", err)
	}
	logger, err := newLogger(cfg, false)
	if err != nil {
		fatalf("Failed to create logger: %v", err)
	}
	defer logger.Sync()

	components, err := initializeComponents(cfg, logger)
	if err != nil {
		logger.Fatal("Failed to initialize", zap.Error(err))
	}
	defer components.Close()

	in := os.Stdin
	if path := fs.Arg(0); path != "-" {
		f, err := os.Open(path)
		if err != nil {
			fatalf("Failed to open %s: %v", path, err)
		}
		defer f.Close()
		in = f
	}

	im := &importer{store: components.Storage, org: *orgID, logger: logger}
	if *embed {
		im.embedder = components.Resolver
	}
	ctx := context.Background()
	stats, err := im.Import(ctx, in)
	if err != nil {
		fatalf("Import failed after %d document(s): %v", stats.Documents, err)
	}
	fmt.Printf("Imported %d document(s), %d chunk(s), %d embedded\n", stats.Documents, stats.Chunks, stats.Embedded)

	if *notify != "" {
		client := cli.NewClient(*notify, clientTimeout)
		for _, org := range stats.Organizations {
			if err := client.Invalidate(ctx, org); err != nil {
				fmt.Fprintf(os.Stderr, "Invalidate %s failed: %v\n", org, err)
			}
		}
	}
}

func runInvalidate() {
	fs := flag.NewFlagSet("invalidate", flag.ExitOnError)
	serverURL := fs.String("server", defaultServerURL, "server URL")
	all := fs.Bool("all", false, "invalidate every organization")
	_ = fs.Parse(argsReorder(os.Args[2:]))

	orgID := fs.Arg(0)
	if orgID == "" && !*all {
		fmt.Println("Usage: ragd invalidate [-server URL] <organization-id> | -all")
		os.Exit(1)
	}
	if *all {
		orgID = ""
	}
	if err := cli.NewClient(*serverURL, clientTimeout).Invalidate(context.Background(), orgID); err != nil {
		fatalf("Invalidate failed: %v", err)
	}
	if orgID == "" {
		fmt.Println("Invalidated all organizations")
		return
	}
	fmt.Printf("Invalidated: %s\n", orgID)
}

func runStatus() {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	serverURL := fs.String("server", defaultServerURL, "server URL (empty = read storage directly)")
	outputFormat := fs.String("output", "text", "output format: text or json")
	_ = fs.Parse(os.Args[2:])

	format, err := cli.ParseOutputFormat(*outputFormat)
	if err != nil {
		fatalf("%v", err)
	}
	ctx := context.Background()
	var status map[string]interface{}
	if *serverURL != "" {
		status, err = cli.NewClient(*serverURL, clientTimeout).Status(ctx)
	} else {
		status, err = statusDirect(ctx, *configPath)
	}
	if err != nil {
		fatalf("Status failed: %v", err)
	}
	if err := cli.WriteStatus(os.Stdout, status, format); err != nil {
		fatalf("Output failed: %v", err)
	}
}

func statusDirect(ctx context.Context, configPath string) (map[string]interface{}, error) {
	cfg, _, err := loadConfig(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	store, err := storage.Open(cfg.Storage.Driver, cfg.Storage.Target())
	if err != nil {
		return nil, err
	}
	defer store.Close()
	docs, err := store.CountDocuments(ctx, "")
	if err != nil {
		return nil, err
	}
	chunks, err := store.CountChunks(ctx, "")
	if err != nil {
		return nil, err
	}
	status := map[string]interface{}{"documents": docs, "chunks": chunks}
	if cfg.Storage.Driver == storage.DriverSQLite {
		if size, err := storage.DatabaseSizeBytes(cfg.Storage.DatabasePath); err == nil {
			status["database_size_bytes"] = size
		}
	}
	return status, nil
}

func printUsage() {
	fmt.Print(`ragd - multi-tenant retrieval for RAG

Usage:
  ragd server [flags]                        Start the HTTP API
  ragd query -org <id> [flags] <query>       Retrieve context for a query
  ragd import [flags] <file.jsonl|->         Load documents and chunks
  ragd invalidate <org-id> | -all            Drop cached chunks on a running server
  ragd status [flags]                        Show counts and cache stats
  ragd version                               Show version
  ragd help                                  Show this help

Run "ragd <command> -h" for command flags.
`)
}

package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/ventapp/ventfeed/internal/backend"
	"github.com/ventapp/ventfeed/internal/backend/blob"
	"github.com/ventapp/ventfeed/internal/backend/memory"
	"github.com/ventapp/ventfeed/internal/backend/sqlitestore"
	"github.com/ventapp/ventfeed/internal/backend/ws"
	"github.com/ventapp/ventfeed/internal/cache"
	"github.com/ventapp/ventfeed/internal/config"
	"github.com/ventapp/ventfeed/internal/feed"
	"github.com/ventapp/ventfeed/internal/ops"
	"github.com/ventapp/ventfeed/internal/seed"
)

var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
	builtBy = "manual"
)

func main() {
	if len(os.Args) > 1 && os.Args[1] == "init" {
		handleInit()
		return
	}
	if len(os.Args) > 1 && os.Args[1] == "seed" {
		handleSeed(os.Args[2:])
		return
	}

	var (
		showVersion = flag.Bool("version", false, "Show version information")
		configPath  = flag.String("config", "", "Path to configuration file")
	)
	flag.Parse()

	if *showVersion {
		fmt.Printf("ventfeed %s\n", version)
		fmt.Printf("  commit: %s\n", commit)
		fmt.Printf("  built:  %s\n", date)
		fmt.Printf("  by:     %s\n", builtBy)
		os.Exit(0)
	}

	if *configPath == "" {
		fmt.Println("ventfeed - live feed aggregation engine for The Vent")
		fmt.Println()
		fmt.Println("No configuration file specified. Use --config <path> to specify config.")
		fmt.Println()
		fmt.Println("Commands:")
		fmt.Println("  ventfeed init                    Generate example configuration")
		fmt.Println("  ventfeed seed --config <path>    Populate the backend with demo data")
		fmt.Println("  ventfeed --version               Show version information")
		fmt.Println("  ventfeed --config <path>         Start with configuration file")
		os.Exit(1)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading configuration: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Starting ventfeed %s\n", version)
	fmt.Printf("  User: %s (%s)\n", cfg.Session.Username, cfg.Session.UserID)
	fmt.Printf("  Backend: %s\n", cfg.Backend.Driver)
	fmt.Println()

	if err := run(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	logger := ops.NewLogger(&cfg.Logging)
	ops.SetDefault(logger)

	be, err := openBackend(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to open backend: %w", err)
	}
	defer be.Close()
	fmt.Printf("  Backend: %s ready\n", cfg.Backend.Driver)

	counts, err := cache.New(&cfg.Caching)
	if err != nil {
		return fmt.Errorf("failed to open counts cache: %w", err)
	}
	defer counts.Close()
	fmt.Printf("  Counts cache: %s ready\n", cfg.Caching.Engine)

	var blobStore backend.BlobStore
	if cfg.Upload.Enabled {
		blobStore, err = blob.New(&cfg.Upload)
		if err != nil {
			return fmt.Errorf("failed to open blob store: %w", err)
		}
		fmt.Println("  Uploads: enabled")
	}

	engine := feed.NewEngine(cfg, be, blobStore, counts, logger)
	if err := engine.Start(); err != nil {
		return fmt.Errorf("failed to start feed engine: %w", err)
	}
	defer engine.Stop()

	engine.OnChange(func() {
		snap := engine.Snapshot()
		logger.Info("feed updated",
			"posts", len(snap.Records),
			"category", snap.Category,
			"unread", snap.Unread)
	})

	fmt.Println()
	fmt.Println("✓ Feed engine started")
	fmt.Println()
	fmt.Println("Press Ctrl+C to shutdown gracefully...")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	fmt.Println()
	fmt.Println("Shutting down gracefully...")
	fmt.Println("✓ Shutdown complete")
	return nil
}

func openBackend(ctx context.Context, cfg *config.Config, logger *ops.Logger) (backend.Backend, error) {
	switch cfg.Backend.Driver {
	case "memory":
		return memory.New(), nil
	case "sqlite":
		return sqlitestore.Open(ctx, cfg.Backend.SQLite.Path)
	case "websocket":
		return ws.Dial(ctx, &cfg.Backend.WebSocket, logger)
	default:
		return nil, fmt.Errorf("unknown backend driver: %s", cfg.Backend.Driver)
	}
}

func handleInit() {
	exampleConfig, err := config.GetExampleConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error reading example config: %v\n", err)
		os.Exit(1)
	}
	fmt.Print(string(exampleConfig))
}

func handleSeed(args []string) {
	fs := flag.NewFlagSet("seed", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to configuration file")
	users := fs.Int("users", 8, "Number of demo users")
	posts := fs.Int("posts", 25, "Number of demo posts")
	rngSeed := fs.Int64("seed", 0, "Deterministic seed (0 = random)")
	fs.Parse(args)

	if *configPath == "" {
		fmt.Fprintln(os.Stderr, "seed requires --config <path>")
		os.Exit(1)
	}
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading configuration: %v\n", err)
		os.Exit(1)
	}
	if cfg.Backend.Driver == "memory" {
		fmt.Fprintln(os.Stderr, "seed needs a durable backend (sqlite or websocket)")
		os.Exit(1)
	}

	ctx := context.Background()
	logger := ops.NewLogger(&cfg.Logging)
	be, err := openBackend(ctx, cfg, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error opening backend: %v\n", err)
		os.Exit(1)
	}
	defer be.Close()

	err = seed.Run(ctx, be, cfg, seed.Options{
		Users:   *users,
		Posts:   *posts,
		Seed:    *rngSeed,
		Session: cfg.Session,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error seeding: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("✓ Seeded %d users and %d posts\n", *users, *posts)
}

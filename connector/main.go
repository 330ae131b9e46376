package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/natserract/retailex/connector/schema/postgres"
	"github.com/natserract/retailex/connector/services"
	"github.com/natserract/retailex/pkg/config"
	"github.com/natserract/retailex/pkg/hub"
	"github.com/natserract/retailex/pkg/retailex"
	"github.com/natserract/retailex/pkg/retailex/refdata"
	"go.uber.org/zap"
)

func main() {
	nodesPath := flag.String("nodes", "", "YAML file listing the nodes; defaults to a single node from RETAILEX_* variables")
	typesFlag := flag.String("types", strings.Join(retailex.EntityTypes, ","), "comma separated entity types to retrieve")
	force := flag.Bool("force", false, "look back over the previous retrieve window")
	initSchema := flag.Bool("init-schema", false, "create the link, entity and watermark tables before syncing")
	refdataPath := flag.String("refdata", "", "YAML file with colour and size tables")
	concurrency := flag.Int("concurrency", services.DefaultMaxConcurrency, "nodes retrieved at once")
	timeout := flag.Duration("timeout", 0, "per-attempt HTTP timeout")
	flag.Parse()

	// Initialize logger
	logger, err := zap.NewProduction()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	// Load configuration
	nodeConfigs, err := loadNodes(*nodesPath)
	if err != nil {
		logger.Error("Failed to load config", zap.Error(err))
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	types, err := parseTypes(*typesFlag)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	tables := refdata.Default()
	if *refdataPath != "" {
		if tables, err = refdata.Load(*refdataPath); err != nil {
			logger.Error("Failed to load reference data", zap.Error(err))
			fmt.Fprintf(os.Stderr, "Failed to load reference data: %v\n", err)
			os.Exit(1)
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Entities, links and watermarks live in postgres; the run cannot continue without them
	db, err := postgres.New(ctx, postgres.NewConfig(), logger)
	if err != nil {
		logger.Error("Failed to connect to database", zap.Error(err))
		fmt.Fprintf(os.Stderr, "Failed to connect to database: %v\n", err)
		os.Exit(1)
	}
	defer db.Close()

	if *initSchema {
		if err := db.InitSchema(ctx); err != nil {
			logger.Error("Failed to initialize schema", zap.Error(err))
			fmt.Fprintf(os.Stderr, "Failed to initialize schema: %v\n", err)
			os.Exit(1)
		}
	}

	entities := hub.NewPersistentStore(db.Links(), db.Records(), logger)
	timestamps := db.Timestamps()

	var nodes []services.Node
	for _, cfg := range nodeConfigs {
		node := retailex.NewNodeWithLogger(cfg, entities, timestamps, logger, retailex.Options{
			RefData:     tables,
			ForceResync: *force,
			Timeout:     *timeout,
		})
		defer node.Close()
		nodes = append(nodes, node)
	}

	start := time.Now()
	metrics, err := services.NewSyncService(nodes, types, logger).
		WithMaxConcurrency(*concurrency).
		SyncAll(ctx)

	fmt.Printf("Sync Metrics (%s):\n", time.Since(start).Round(time.Millisecond))
	fmt.Printf("  Nodes: %d succeeded, %d failed\n", metrics.NodesSucceeded, metrics.NodesFailed)
	fmt.Printf("  Entity types: %d succeeded, %d failed\n", metrics.TypesSucceeded, metrics.TypesFailed)
	fmt.Printf("  Entities retrieved: %d\n", metrics.Retrieved)

	if err != nil {
		logger.Error("Failed to sync data", zap.Error(err))
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func loadNodes(path string) ([]*config.Config, error) {
	if path != "" {
		return config.LoadNodes(path)
	}
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	return []*config.Config{cfg}, nil
}

func parseTypes(raw string) ([]string, error) {
	known := make(map[string]bool, len(retailex.EntityTypes))
	for _, t := range retailex.EntityTypes {
		known[t] = true
	}

	var types []string
	for _, t := range strings.Split(raw, ",") {
		t = strings.TrimSpace(t)
		if t == "" {
			continue
		}
		if !known[t] {
			return nil, fmt.Errorf("unknown entity type %q (known: %s)", t, strings.Join(retailex.EntityTypes, ", "))
		}
		types = append(types, t)
	}
	if len(types) == 0 {
		return nil, fmt.Errorf("no entity types selected")
	}
	return types, nil
}

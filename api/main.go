package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	flag "github.com/spf13/pflag"

	api "github.com/ruhrdata/regiolake/api/internal"
	"github.com/ruhrdata/regiolake/api/metrics"
	"github.com/ruhrdata/regiolake/config"
	"github.com/ruhrdata/regiolake/pkg/chat"
	"github.com/ruhrdata/regiolake/pkg/logger"
	"github.com/ruhrdata/regiolake/pkg/querier"
	"github.com/ruhrdata/regiolake/pkg/warehouse"
)

var (
	// Set by LDFLAGS
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

const (
	defaultListenAddr      = "0.0.0.0:3001"
	defaultShutdownTimeout = 10 * time.Second
	defaultCacheTTL        = 5 * time.Minute
	defaultMetadataTTL     = 30 * time.Second
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	_ = godotenv.Load()

	verboseFlag := flag.Bool("verbose", false, "enable verbose (debug) logging")
	configFlag := flag.String("config", "", "path to the pipeline YAML config (or set REGIOLAKE_CONFIG env var)")
	listenAddrFlag := flag.String("listen-addr", defaultListenAddr, "HTTP listen address (or set REGIOLAKE_API_LISTEN_ADDR env var)")
	allowedOriginsFlag := flag.String("allowed-origins", "http://localhost:5173", "comma-separated CORS origins")
	shutdownTimeoutFlag := flag.Duration("shutdown-timeout", defaultShutdownTimeout, "server shutdown timeout")
	cacheTTLFlag := flag.Duration("cache-ttl", defaultCacheTTL, "cache TTL for the city list")
	metadataTTLFlag := flag.Duration("metadata-cache-ttl", defaultMetadataTTL, "cache TTL for indicator metadata (year ranges change with every load)")
	flag.Parse()

	if v := os.Getenv("REGIOLAKE_CONFIG"); v != "" {
		*configFlag = v
	}
	if v := os.Getenv("REGIOLAKE_API_LISTEN_ADDR"); v != "" {
		*listenAddrFlag = v
	}

	log := logger.New(*verboseFlag)
	metrics.BuildInfo.WithLabelValues(version, commit, date).Set(1)

	cfg, err := config.LoadPipelineConfig(*configFlag)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := warehouse.Open(ctx, log, cfg.Warehouse.DSN)
	if err != nil {
		return err
	}
	defer func() {
		if err := db.Close(); err != nil {
			log.Error("failed to close warehouse", "error", err)
		}
	}()

	q, err := querier.New(querier.Config{Logger: log, DB: db})
	if err != nil {
		return err
	}
	bot, err := chat.New(chat.Config{
		Logger:        log,
		Querier:       q,
		DefaultCities: cfg.Verification.MustHaveRegions,
	})
	if err != nil {
		return err
	}

	listener, err := net.Listen("tcp", *listenAddrFlag)
	if err != nil {
		return fmt.Errorf("failed to create HTTP listener: %w", err)
	}
	defer listener.Close()

	srv, err := api.New(api.Config{
		Logger:          log,
		Listener:        listener,
		Querier:         q,
		Chat:            bot,
		AllowedOrigins:  strings.Split(*allowedOriginsFlag, ","),
		ShutdownTimeout: *shutdownTimeoutFlag,
		CacheTTL:        *cacheTTLFlag,

		MetadataCacheTTL: *metadataTTLFlag,
	})
	if err != nil {
		return err
	}
	return srv.Run(ctx)
}

package main

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/user/stagepass/internal/cache"
	"github.com/user/stagepass/internal/chain"
	"github.com/user/stagepass/internal/clock"
	"github.com/user/stagepass/internal/config"
	"github.com/user/stagepass/internal/listing"
	"github.com/user/stagepass/internal/metadata"
	"github.com/user/stagepass/internal/state"
	"github.com/user/stagepass/internal/types"
)

var cfgPath string

// rpcTimeout bounds a single JSON-RPC round trip, retries included.
const rpcTimeout = 30 * time.Second

var rootCmd = &cobra.Command{
	Use:           "stagepass",
	Short:         "Browse live-performance events and buy tickets on-chain",
	SilenceUsage:  true,
	SilenceErrors: false,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgPath, "config",
		filepath.Join(os.Getenv("HOME"), ".stagepass", "config.json"), "config file path")
}

// loadConfig loads the config or exits; every command needs it.
func loadConfig() *config.Config {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	return cfg
}

func setupLogging(cfg *config.Config) {
	var level slog.Level
	switch strings.ToLower(cfg.LogLevel) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
}

// app holds the wired read path shared by every command.
type app struct {
	cfg      *config.Config
	client   *ethclient.Client
	reader   *chain.ReadOnlyClient
	resolver *metadata.Resolver
	listing  *listing.Service
	receipts *state.ReceiptStore
	redis    *redis.Client
}

func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", cfgPath, err)
	}
	if err := os.MkdirAll(cfg.DataDir, 0o700); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	client, err := chain.Dial(ctx, cfg.Chain.RPCURL, chain.NewHTTPClient(rpcTimeout, nil))
	if err != nil {
		return nil, err
	}

	var opts []chain.Option
	if rps := cfg.Chain.RequestsPerSecond; rps > 0 {
		opts = append(opts, chain.WithRateLimit(rps, int(rps)+1))
	}
	reader := chain.NewReadOnlyClient(client, common.HexToAddress(cfg.Chain.RegistryAddress), opts...)
	resolver := metadata.New(cfg.Gateway.Primary, cfg.Gateway.Secondary, &http.Client{Timeout: cfg.Gateway.Timeout.Std()})

	a := &app{
		cfg:      cfg,
		client:   client,
		reader:   reader,
		resolver: resolver,
		receipts: state.NewReceiptStore(cfg.DataDir),
	}

	clk := clock.NewSystem()
	ttl := cfg.Cache.TTL.Std()
	var (
		events cache.Store[[]types.EventRecord]
		meta   cache.Store[types.Metadata]
	)
	if cfg.Cache.RedisAddr != "" {
		rc, err := cache.NewRedisClient(ctx, cfg.Cache.RedisAddr)
		if err != nil {
			slog.Warn("redis unavailable, using in-memory cache", "addr", cfg.Cache.RedisAddr, "error", err)
		} else {
			a.redis = rc
			prefix := "stagepass:" + strings.ToLower(cfg.Chain.RegistryAddress)
			events = cache.NewRedis[[]types.EventRecord](rc, prefix+":events", ttl)
			meta = cache.NewRedis[types.Metadata](rc, prefix+":metadata", ttl)
		}
	}
	if events == nil {
		events = cache.NewTTL[[]types.EventRecord](ttl, clk)
		meta = cache.NewTTL[types.Metadata](ttl, clk)
	}

	sched := listing.NewScheduler(cfg.Listing.BatchSize, cfg.Listing.BatchDelay.Std(), clk)
	a.listing = listing.NewService(reader, resolver, events, meta, sched, clk)
	return a, nil
}

// signer builds the signing client from a hex private key.
func (a *app) signer(hexKey string) (*chain.SigningClient, error) {
	key, err := chain.ParsePrivateKey(hexKey)
	if err != nil {
		return nil, err
	}
	return chain.NewSigningClient(a.reader, a.client, key, big.NewInt(a.cfg.Chain.ChainID)), nil
}

func (a *app) Close() {
	if a.redis != nil {
		a.redis.Close()
	}
	a.client.Close()
}

// withApp loads config, sets up logging and runs fn with a wired app.
func withApp(cmd *cobra.Command, fn func(ctx context.Context, a *app) error) error {
	cfg := loadConfig()
	setupLogging(cfg)

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(ctx, a)
}

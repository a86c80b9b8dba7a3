package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"crestchain/config"
	"crestchain/core"
	"crestchain/observability"
	"crestchain/observability/logging"
	"crestchain/rpc"
	"crestchain/storage"
)

const authTokenEnv = "CREST_RPC_TOKEN"

func main() {
	configFile := flag.String("config", "./config.toml", "Path to the configuration file")
	genesisFlag := flag.String("genesis", "", "Path to a genesis YAML file (overrides config GenesisFile)")
	flag.Parse()

	env := strings.TrimSpace(os.Getenv("CREST_ENV"))

	cfg, err := config.Load(*configFile)
	if err != nil {
		panic(fmt.Sprintf("Failed to load config: %v", err))
	}

	var logger *slog.Logger
	if cfg.LogFile != "" {
		logger = logging.SetupRotating("crestd", env, cfg.LogFile)
	} else {
		logger = logging.Setup("crestd", env)
	}

	genesisPath := cfg.GenesisFile
	if *genesisFlag != "" {
		genesisPath = *genesisFlag
	}
	genesisDoc, err := config.LoadGenesis(genesisPath)
	if err != nil {
		logger.Error("Failed to load genesis", slog.Any("error", err))
		os.Exit(1)
	}
	genesis, err := genesisDoc.ToCore()
	if err != nil {
		logger.Error("Invalid genesis", slog.Any("error", err))
		os.Exit(1)
	}

	reserveParams, err := cfg.ReserveParams()
	if err != nil {
		logger.Error("Invalid reserve calibration", slog.Any("error", err))
		os.Exit(1)
	}
	bondParams, err := cfg.BondParams()
	if err != nil {
		logger.Error("Invalid bond calibration", slog.Any("error", err))
		os.Exit(1)
	}

	db, err := storage.NewLevelDB(cfg.DataDir)
	if err != nil {
		panic(fmt.Sprintf("Failed to open database: %v", err))
	}
	defer db.Close()

	node, err := core.NewNode(core.NodeConfig{
		ReserveParams:      reserveParams,
		BondParams:         bondParams,
		CollateralDecimals: cfg.CollateralDecimals,
		PausedModules:      cfg.PausedModules,
		Genesis:            genesis,
		Database:           db,
		Emitter:            logEmitter{logger},
		Metrics:            observability.Reserve(),
		Logger:             logger,
	})
	if err != nil {
		logger.Error("Failed to start node", slog.Any("error", err))
		os.Exit(1)
	}

	authToken := strings.TrimSpace(os.Getenv(authTokenEnv))
	if authToken == "" {
		authToken = cfg.RPCAuthToken
	}

	server := rpc.NewServer(node, logger, rpc.Options{
		AuthToken:      authToken,
		RateLimitRPS:   cfg.RateLimitRPS,
		RateLimitBurst: cfg.RateLimitBurst,
		FaucetEnabled:  cfg.FaucetEnabled,
	})
	httpServer := &http.Server{
		Addr:              cfg.RPCAddress,
		Handler:           server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		logger.Info("RPC listening",
			slog.String("address", cfg.RPCAddress),
			slog.String("network", cfg.NetworkName))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("RPC server failed", slog.Any("error", err))
			stop()
		}
	}()

	go runClock(ctx, node, cfg, logger)

	<-ctx.Done()
	logger.Info("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("RPC shutdown failed", slog.Any("error", err))
	}
}

// runClock drives the engine clock: one tick per interval, with a bond
// epoch close attempt every EpochInterval ticks. A tick that fails leaves
// state untouched, so the loop just logs and keeps going.
func runClock(ctx context.Context, node *core.Node, cfg *config.Config, logger *slog.Logger) {
	interval := time.Duration(cfg.TickInterval) * time.Millisecond
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	tick := node.CurrentTick()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			tick++
			if _, err := node.Tick(tick); err != nil {
				logger.Error("Tick failed", slog.Uint64("tick", tick), slog.Any("error", err))
				continue
			}
			if cfg.EpochInterval > 0 && tick%cfg.EpochInterval == 0 {
				closed, err := node.CloseEpoch(tick)
				if err != nil {
					logger.Error("Epoch close failed", slog.Uint64("tick", tick), slog.Any("error", err))
				} else if closed {
					logger.Info("Epoch closed", slog.Uint64("tick", tick))
				}
			}
		}
	}
}

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"vaultchain/config"
	"vaultchain/core"
	"vaultchain/core/genesis"
	"vaultchain/crypto"
	nativecommon "vaultchain/native/common"
	"vaultchain/observability/logging"
	"vaultchain/rpc"
	"vaultchain/storage"
)

const genesisPathEnv = "VAULT_GENESIS"

func main() {
	configFile := flag.String("config", "./config.toml", "Path to the configuration file")
	genesisFlag := flag.String("genesis", "", "Path to a genesis YAML file (overrides VAULT_GENESIS and config GenesisFile)")
	blocksFlag := flag.String("blocks", "", "Path to a JSON lines block file replayed at startup (overrides config BlocksFile)")
	replayOnly := flag.Bool("replay-only", false, "Exit after replaying the block file instead of serving the query API")
	flag.Parse()

	cfg, err := config.Load(*configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger := logging.SetupWithOptions(logging.Options{
		Service: "vaultd",
		Env:     cfg.Env,
		File:    cfg.LogFile,
		Level:   logging.ParseLevel(cfg.LogLevel),
	})

	if err := run(cfg, logger, *genesisFlag, *blocksFlag, *replayOnly); err != nil {
		logger.Error("vaultd stopped", slog.Any("error", err))
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *slog.Logger, genesisFlag, blocksFlag string, replayOnly bool) error {
	params, err := cfg.Loan.Params()
	if err != nil {
		return fmt.Errorf("loan params: %w", err)
	}

	db, err := storage.NewLevelDB(cfg.DataDir)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	genesisPath := resolvePath(genesisFlag, cfg.GenesisFile, os.LookupEnv)
	var spec *genesis.GenesisSpec
	if genesisPath != "" {
		if spec, err = genesis.LoadGenesisSpec(genesisPath); err != nil {
			return err
		}
	}

	opts := []core.Option{
		core.WithLogger(logger),
		core.WithPauses(nativecommon.NewPauseSet(cfg.PausedModules...)),
	}
	if spec != nil && len(spec.SchemeAuthority) > 0 {
		// Authority is read from genesis on every start; it is not persisted.
		opts = append(opts, core.WithSchemeAuthority(spec.Authority()))
		logger.Info("scheme authority loaded",
			slog.Int("addresses", len(spec.SchemeAuthority)),
			slog.String("first", logging.MaskAddress(firstAddress(spec.Authority()))))
	}
	processor, err := core.NewProcessor(db, params, opts...)
	if err != nil {
		return fmt.Errorf("create processor: %w", err)
	}

	switch {
	case !processor.Initialized() && spec == nil:
		return errors.New("no stored state and no genesis file configured")
	case !processor.Initialized():
		if err := processor.InitGenesis(spec); err != nil {
			return fmt.Errorf("apply genesis: %w", err)
		}
	case spec != nil:
		logger.Info("stored state found, genesis allocations skipped", slog.String("path", genesisPath))
	}

	blocksPath := strings.TrimSpace(blocksFlag)
	if blocksPath == "" {
		blocksPath = strings.TrimSpace(cfg.BlocksFile)
	}
	if blocksPath != "" {
		stats, err := replayFile(processor, blocksPath, logger)
		if err != nil {
			return err
		}
		logger.Info("block replay finished",
			slog.Int("applied", stats.Applied),
			slog.Int("skipped", stats.Skipped),
			slog.Int("rejectedTxs", stats.Rejected),
			slog.Int("liquidations", stats.Liquidated),
			slog.Uint64("height", processor.Height()))
	}
	if replayOnly {
		return nil
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	server := rpc.NewServer(processor, logger, rpc.ServerConfig{
		RequestsPerMinute: cfg.RPCRequestsPerMinute,
		Burst:             cfg.RPCBurst,
	})
	listener, err := net.Listen("tcp", cfg.RPCAddress)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", cfg.RPCAddress, err)
	}
	serveErr := make(chan error, 1)
	go func() {
		serveErr <- server.Serve(listener)
	}()

	select {
	case err := <-serveErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}
	logger.Info("shutting down query API")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

func resolvePath(flagValue, cfgValue string, lookup func(string) (string, bool)) string {
	if trimmed := strings.TrimSpace(flagValue); trimmed != "" {
		return trimmed
	}
	if lookup != nil {
		if value, ok := lookup(genesisPathEnv); ok && strings.TrimSpace(value) != "" {
			return strings.TrimSpace(value)
		}
	}
	return strings.TrimSpace(cfgValue)
}

func firstAddress(addrs []crypto.Address) string {
	if len(addrs) == 0 {
		return ""
	}
	return addrs[0].String()
}

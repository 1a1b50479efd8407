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

	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"lendledger/config"
	"lendledger/core/state"
	"lendledger/crypto"
	"lendledger/native/bank"
	"lendledger/native/lending"
	"lendledger/native/positions"
	"lendledger/native/system"
	"lendledger/observability"
	"lendledger/observability/logging"
	"lendledger/rpc"
	"lendledger/storage"
)

// vaultAddress derives the ledger's escrow account from a fixed domain tag so
// every node agrees on it without configuration.
func vaultAddress() crypto.Address {
	digest := ethcrypto.Keccak256([]byte("lendledger/escrow-vault"))
	return crypto.NewAddress(crypto.LendPrefix, digest[12:])
}

func main() {
	configFile := flag.String("config", "./config.toml", "Path to the configuration file")
	flag.Parse()

	env := strings.TrimSpace(os.Getenv("LENDLEDGER_ENV"))

	cfg, err := config.Load(*configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger := logging.SetupWithFile("lendledgerd", env, cfg.LogPath)

	admin, err := crypto.DecodeAddress(cfg.AdminAddress)
	if err != nil {
		logger.Error("invalid AdminAddress", slog.Any("error", err))
		os.Exit(1)
	}
	vault := vaultAddress()
	if strings.TrimSpace(cfg.VaultAddress) != "" {
		vault, err = crypto.DecodeAddress(cfg.VaultAddress)
		if err != nil {
			logger.Error("invalid VaultAddress", slog.Any("error", err))
			os.Exit(1)
		}
	}

	db, err := storage.NewLevelDB(cfg.DataDir)
	if err != nil {
		logger.Error("failed to open database", slog.Any("error", err))
		os.Exit(1)
	}
	defer db.Close()

	manager := state.NewManager(db)
	ledger := bank.NewLedger(manager)
	registry := positions.NewRegistry(vault)
	registry.SetState(manager)
	pauses := system.NewPauseAuthority(admin)

	engine := lending.NewEngine(vault, admin, cfg.Lending.Params())
	engine.SetState(manager)
	engine.SetTransferService(ledger)
	engine.SetIssuer(positions.NewEngineIssuer(registry))
	engine.SetPauses(pauses)
	engine.SetEmitter(observability.NewMetricsEmitter(nil))

	authSecret := os.Getenv(cfg.AuthSecretEnv)
	if authSecret == "" {
		logger.Warn("auth secret not set; HTTP authentication disabled", "env", cfg.AuthSecretEnv)
	}
	server := rpc.NewServer(engine, ledger, registry, pauses, logger, rpc.Config{
		Auth: rpc.AuthConfig{
			Enabled:    authSecret != "",
			HMACSecret: authSecret,
		},
		RateLimitPerMin: cfg.RateLimitPerMin,
	})

	httpServer := &http.Server{
		Addr:              cfg.RPCAddress,
		Handler:           server.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("serving", "addr", cfg.RPCAddress, "vault", vault.String())
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server failed", slog.Any("error", err))
			os.Exit(1)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	logger.Info("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		logger.Error("shutdown failed", slog.Any("error", err))
	}
}

package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"tithe/config"
	"tithe/core/events"
	"tithe/core/state"
	"tithe/core/types"
	"tithe/native/donation"
	"tithe/native/vault"
	"tithe/observability/logging"
	"tithe/rpc"
	"tithe/storage"
)

// logEmitter mirrors every engine event into the structured log.
type logEmitter struct {
	logger *slog.Logger
}

func (l logEmitter) Emit(evt events.Event) {
	if evt == nil || l.logger == nil {
		return
	}
	args := []any{slog.String("event", evt.EventType())}
	if carrier, ok := evt.(interface{ Event() *types.Event }); ok {
		if payload := carrier.Event(); payload != nil {
			for key, value := range payload.Attributes {
				args = append(args, slog.String(key, value))
			}
		}
	}
	l.logger.Info("ledger event", args...)
}

func main() {
	configFile := flag.String("config", "./config.toml", "Path to the configuration file")
	flag.Parse()

	env := strings.TrimSpace(os.Getenv("TITHE_ENV"))
	logger := logging.Setup("tithed", env)

	cfg, err := config.Load(*configFile)
	if err != nil {
		panic(fmt.Sprintf("Failed to load config: %v", err))
	}

	db, err := storage.NewLevelDB(cfg.DataDir)
	if err != nil {
		panic(fmt.Sprintf("Failed to open database: %v", err))
	}
	defer db.Close()

	manager := state.NewManager(db)
	reserve := vault.NewReserveVault(cfg.VaultCooldownSeconds)

	engine := donation.NewEngine()
	engine.SetState(manager)
	engine.SetToken(manager)
	engine.SetVault(reserve)
	engine.SetEmitter(logEmitter{logger: logger})

	feeCollector, err := cfg.FeeCollectorAddress()
	if err != nil {
		panic(fmt.Sprintf("Invalid fee collector: %v", err))
	}
	custody, err := cfg.CustodyAddress()
	if err != nil {
		panic(fmt.Sprintf("Invalid custody address: %v", err))
	}
	threshold, err := cfg.BatchThreshold()
	if err != nil {
		panic(fmt.Sprintf("Invalid batch threshold: %v", err))
	}
	engine.SetFeeCollector(feeCollector)
	engine.SetCustody(custody)
	engine.SetMinimumBatchThreshold(threshold)

	server := rpc.NewServer(engine)
	logger.Info("starting JSON-RPC server", slog.String("addr", cfg.RPCAddress))
	if err := server.Start(cfg.RPCAddress); err != nil {
		panic(fmt.Sprintf("RPC server stopped: %v", err))
	}
}

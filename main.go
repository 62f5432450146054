package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"strategy-core/internal/api"
	"strategy-core/internal/backtest"
	"strategy-core/internal/events"
	"strategy-core/internal/executor"
	"strategy-core/internal/market"
	"strategy-core/internal/monitor"
	"strategy-core/internal/persistence"
	"strategy-core/internal/runner"
	"strategy-core/internal/strategy"
	"strategy-core/pkg/config"
	"strategy-core/pkg/crypto"
	"strategy-core/pkg/db"
)

// credentialsKeyEnv names the env var holding the base64 AES key that seals
// stored account credentials. Without it, live-account endpoints degrade to
// an error instead of storing secrets in the clear.
const credentialsKeyEnv = "CREDENTIALS_KEY"

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	database, err := db.New(cfg.DBPath)
	if err != nil {
		log.Fatalf("open database: %v", err)
	}
	defer database.Close()
	if err := db.ApplyMigrations(database); err != nil {
		log.Fatalf("apply migrations: %v", err)
	}

	bus := events.NewBus()
	defer bus.Close()

	// Sync file-defined strategies into the database so they are editable
	// and runnable through the API.
	if cfg.StrategiesPath != "" {
		if configs, err := strategy.LoadFile(cfg.StrategiesPath); err != nil {
			log.Printf("strategies file %s: %v", cfg.StrategiesPath, err)
		} else if err := strategy.SyncToDB(context.Background(), database, configs); err != nil {
			log.Printf("sync strategies: %v", err)
		} else {
			log.Printf("synced %d strategies from %s", len(configs), cfg.StrategiesPath)
		}
	}

	rootCtx, stop := context.WithCancel(context.Background())
	defer stop()

	if cfg.UseMockFeed {
		interval, err := time.ParseDuration(cfg.MockFeedInterval)
		if err != nil {
			log.Printf("mock feed interval %q: %v, using 1s", cfg.MockFeedInterval, err)
			interval = time.Second
		}
		for _, sym := range cfg.Symbols {
			feed := &market.MockFeed{Bus: bus, Symbol: sym, StartPrice: 100, Interval: interval}
			feed.Start(rootCtx)
			log.Printf("mock feed started for %s every %s", sym, interval)
		}
	} else {
		for _, sym := range cfg.Symbols {
			feed := &market.BinanceFeed{Bus: bus, Symbol: sym, Interval: cfg.KlineInterval, Testnet: cfg.BinanceTestnet}
			feed.Start(rootCtx)
			log.Printf("binance kline feed started for %s@%s", sym, cfg.KlineInterval)
		}
	}

	secrets, err := crypto.NewFromEnv(credentialsKeyEnv)
	if err != nil {
		log.Fatalf("credentials key: %v", err)
	}
	if secrets == nil {
		log.Printf("%s not set, account credential storage disabled", credentialsKeyEnv)
	}

	gateway := executor.NewBinanceGateway(&executor.DBCredentials{DB: database, Secrets: secrets})
	markets := make([]executor.Market, 0, len(cfg.Symbols))
	for _, sym := range cfg.Symbols {
		markets = append(markets, executor.Market{
			Symbol:            sym,
			PricePrecision:    int32(cfg.PricePrecision),
			QuantityPrecision: int32(cfg.QuantityPrecision),
		})
	}
	liveExec := executor.New(gateway, gateway, bus, cfg.Account, markets)

	sessions := runner.NewManager()
	defer sessions.Shutdown()

	metrics := monitor.NewMetrics()
	monitor.Watch(rootCtx, bus, metrics)

	autosave := &persistence.Autosaver{DB: database, Sessions: sessions}
	autosave.Start(rootCtx)

	server := api.NewServer(api.Options{
		Bus:          bus,
		DB:           database,
		Backtests:    backtest.NewEngine(bus),
		Sessions:     sessions,
		Config:       cfg,
		LiveExec:     liveExec,
		LiveSessions: gateway,
		History:      market.NewBinanceProvider(cfg.BinanceTestnet),
		Secrets:      secrets,
		Metrics:      metrics,
	})
	go func() {
		if err := server.Start(":" + cfg.Port); err != nil {
			log.Fatalf("api server: %v", err)
		}
	}()
	log.Printf("listening on :%s mode=%s symbols=%v", cfg.Port, cfg.TradingMode, cfg.Symbols)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan
	log.Println("shutting down")
}

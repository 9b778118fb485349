package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"strike-guard-bot/internal/bybit"
	"strike-guard-bot/internal/bybit/rest"
	"strike-guard-bot/internal/config"
	"strike-guard-bot/internal/logging"
	"strike-guard-bot/internal/state"
	"strike-guard-bot/internal/state/sqlite"
)

const (
	defaultRESTBaseURL = "https://api.bybit.com"
	defaultRESTTimeout = 10 * time.Second
	defaultEnvFile     = ".env"
)

func main() {
	configPath := flag.String("config", "", "optional config path for REST settings")
	symbolFlag := flag.String("symbol", "", "symbol to query (defaults to strategy.symbol)")
	showSnapshot := flag.Bool("snapshot", false, "print the last persisted strategy snapshot and exit")
	flag.Parse()

	if err := config.LoadEnv(defaultEnvFile); err != nil {
		fatal(err)
	}

	logCfg := config.LoggingConfig{Level: "info"}
	baseURL := defaultRESTBaseURL
	timeout := defaultRESTTimeout
	statePath := "data/strike-guard-bot.db"
	symbol := *symbolFlag
	var cfg *config.Config
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			fatal(err)
		}
		cfg = loaded
		logCfg = cfg.Log
		if cfg.REST.BaseURL != "" {
			baseURL = cfg.REST.BaseURL
		}
		if cfg.REST.Timeout > 0 {
			timeout = cfg.REST.Timeout
		}
		if cfg.State.SQLitePath != "" {
			statePath = cfg.State.SQLitePath
		}
		if symbol == "" {
			symbol = cfg.Strategy.Symbol
		}
	}
	if symbol == "" {
		fatal(fmt.Errorf("a symbol is required: pass -symbol or -config"))
	}

	log := logging.New(logCfg)
	defer func() { _ = log.Sync() }()

	ctx := context.Background()

	if *showSnapshot {
		store, err := sqlite.New(statePath)
		if err != nil {
			fatal(err)
		}
		defer store.Close()
		snapshot, ok, err := state.LoadStrategySnapshot(ctx, store)
		if err != nil {
			fatal(err)
		}
		if !ok {
			fmt.Println("no snapshot persisted yet")
			return
		}
		pretty, err := json.MarshalIndent(snapshot, "", "  ")
		if err != nil {
			fatal(err)
		}
		fmt.Printf("last snapshot:\n%s\n", string(pretty))
		return
	}

	creds, err := bybit.CredentialsFromEnv()
	if err != nil {
		fatal(err)
	}
	client := rest.New(baseURL, timeout, creds, log)

	pos, err := client.Position(ctx, symbol)
	if err != nil {
		fatal(fmt.Errorf("position query failed: %w", err))
	}
	fmt.Printf("position: symbol=%s side=%s size=%s entry=%s\n", pos.Symbol, pos.Side, pos.Size, pos.EntryPrice)

	orders, err := client.OpenOrders(ctx, symbol)
	if err != nil {
		fatal(fmt.Errorf("open orders query failed: %w", err))
	}
	fmt.Printf("open orders: %d\n", len(orders))
	for _, order := range orders {
		kind := "limit"
		if order.StopOrderType != "" {
			kind = "conditional"
		}
		fmt.Printf("  %s %s %s %s@%s status=%s kind=%s\n",
			order.OrderID, order.Symbol, order.Side, order.Qty, order.Price, order.OrderStatus, kind)
	}
	fmt.Println("credentials and connectivity OK")
}

func fatal(err error) {
	fmt.Fprintln(os.Stderr, err)
	os.Exit(1)
}

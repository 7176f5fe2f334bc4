package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/venkyp/scalper/params"
	"github.com/venkyp/scalper/pkg/api"
	"github.com/venkyp/scalper/pkg/broker"
	"github.com/venkyp/scalper/pkg/engine"
	"github.com/venkyp/scalper/pkg/intent"
	"github.com/venkyp/scalper/pkg/quote"
	"github.com/venkyp/scalper/pkg/symbols"
	"github.com/venkyp/scalper/pkg/ticks"
	"github.com/venkyp/scalper/pkg/util"
)

func main() {
	envPath := flag.String("env", "", "path to .env file (default: .env in cwd)")
	settingsPath := flag.String("settings", "settings.yaml", "path to settings file")
	flag.Parse()

	cfg, err := params.Load(*envPath, *settingsPath)
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("config: %v", err)
	}

	logger, err := util.NewLogger(cfg.Log.Level, cfg.Log.File)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer logger.Sync()
	sugar := logger.Sugar()
	sugar.Infow("scalper_starting", "live", cfg.Trade.Live, "base", cfg.Trade.Base,
		"expiry", cfg.Trade.Expiry, "addr", cfg.Server.Addr)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cache := quote.NewCache()

	// ---- Gateway ----
	// Live mode routes orders to the broker; paper mode fills against the
	// quote cache. The broker session is still opened in paper mode when
	// credentials are present, so the live feed can drive paper fills.
	fin := broker.NewFinvasia(cfg.Credentials, sugar)
	haveSession := false
	if cfg.Trade.Live || cfg.Credentials.UserID != "" {
		if err := fin.Login(ctx); err != nil {
			if cfg.Trade.Live {
				sugar.Fatalw("broker_login_failed", "err", err)
			}
			sugar.Warnw("broker_login_failed_paper_continues", "err", err)
		} else {
			haveSession = true
		}
	}

	var gw broker.Gateway
	if cfg.Trade.Live {
		gw = fin
	} else {
		gw = broker.NewPaper(func(_, token string) (float64, bool) {
			return cache.Last(token)
		})
	}
	sugar.Infow("gateway_selected", "gateway", gw.Name())

	// ---- Instruments and feed ----
	// Resolve the option chain around the ATM strike and subscribe the
	// touchline feed. Without a broker session there is no market data.
	var resolver *symbols.Resolver
	if haveSession {
		underlying, ok := symbols.Lookup(cfg.Trade.Base)
		if !ok {
			sugar.Fatalw("unknown_underlying", "base", cfg.Trade.Base)
		}
		resolver = symbols.NewResolver(underlying, cfg.Trade.Expiry, sugar)
		if err := resolver.LoadMaster(ctx); err != nil {
			sugar.Fatalw("scrip_master_load_failed", "err", err)
		}

		spot, err := fin.LastPrice(ctx, underlying.Exchange, underlying.Token)
		if err != nil {
			sugar.Fatalw("spot_quote_failed", "err", err)
		}
		atm := resolver.ATM(spot)
		tokens := resolver.Tokens(atm, cfg.Trade.Depth)
		sugar.Infow("chain_resolved", "spot", spot, "atm", atm, "instruments", len(tokens))

		feed := quote.NewFeed(fin.WSURL(), fin.UserID(), fin.SessionToken(), tokens, cache, sugar)
		go func() {
			if err := feed.Run(ctx); err != nil && ctx.Err() == nil {
				sugar.Errorw("feed_stopped", "err", err)
			}
		}()
	} else {
		sugar.Warn("no broker session, market data feed disabled")
	}

	// ---- Persistence ----
	store := intent.NewStore(filepath.Join(cfg.DataDir, "intent.json"))
	tickPath := filepath.Join(cfg.DataDir, "ticks.csv")
	recorder, err := ticks.NewWriter(tickPath)
	if err != nil {
		sugar.Fatalw("tick_writer_init_failed", "err", err)
	}

	// ---- Engine ----
	eng := engine.New(engine.Config{
		Interval:    cfg.Trade.PollInterval(),
		TriggerStep: cfg.Trade.TriggerStep,
	}, gw, store, cache, recorder, sugar)
	go func() {
		if err := eng.Run(ctx); err != nil && ctx.Err() == nil {
			sugar.Errorw("engine_stopped", "err", err)
		}
	}()

	// ---- API server ----
	server := api.NewServer(cfg.Trade, gw, store, cache, resolver,
		tickPath, cfg.Server.StaticDir, sugar)
	if err := server.Run(ctx, cfg.Server.Addr); err != nil && ctx.Err() == nil {
		sugar.Fatalw("api_server_failed", "err", err)
	}
	sugar.Info("scalper_stopped")
}

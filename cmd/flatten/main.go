// Command flatten closes every open position at market and exits. Meant
// for end-of-day cleanup or when the bot has to be stopped mid-trade.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/venkyp/scalper/params"
	"github.com/venkyp/scalper/pkg/broker"
	"github.com/venkyp/scalper/pkg/util"
)

func main() {
	envPath := flag.String("env", "", "path to .env file (default: .env in cwd)")
	dryRun := flag.Bool("dry-run", false, "list open positions without placing orders")
	flag.Parse()

	cfg, err := params.Load(*envPath, "")
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if cfg.Credentials.UserID == "" || cfg.Credentials.Password == "" {
		log.Fatal("flatten needs broker credentials in the environment")
	}

	logger, err := util.NewLogger(cfg.Log.Level, "")
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer logger.Sync()
	sugar := logger.Sugar()

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	fin := broker.NewFinvasia(cfg.Credentials, sugar)
	if err := fin.Login(ctx); err != nil {
		sugar.Fatalw("broker_login_failed", "err", err)
	}

	positions, err := fin.Positions(ctx)
	if err != nil {
		sugar.Fatalw("position_book_failed", "err", err)
	}

	open := 0
	for _, pos := range positions {
		if pos.Quantity == 0 {
			continue
		}
		open++
		fmt.Printf("%s %s net %d (pnl %.2f)\n", pos.Exchange, pos.Symbol, pos.Quantity, pos.UnrealizedPnL)
		if *dryRun {
			continue
		}

		side := broker.SideSell
		qty := pos.Quantity
		if qty < 0 {
			side = broker.SideBuy
			qty = -qty
		}
		id, err := fin.PlaceOrder(ctx, broker.OrderRequest{
			Symbol:            pos.Symbol,
			Exchange:          pos.Exchange,
			Side:              side,
			Type:              broker.TypeMarket,
			Quantity:          qty,
			DisclosedQuantity: qty,
			Product:           pos.Product,
			Tag:               "close",
		})
		if err != nil {
			sugar.Errorw("flatten_order_failed", "symbol", pos.Symbol, "err", err)
			continue
		}
		sugar.Infow("flatten_order_placed", "symbol", pos.Symbol, "order_id", id, "side", side, "qty", qty)
	}

	if open == 0 {
		fmt.Println("no open positions")
	}
	os.Exit(0)
}

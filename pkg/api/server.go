// Package api exposes the REST surface: trade submission, order and
// position queries, candlestick streaming and the chart UI.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"go.uber.org/zap"

	"github.com/venkyp/scalper/params"
	"github.com/venkyp/scalper/pkg/broker"
	"github.com/venkyp/scalper/pkg/intent"
	"github.com/venkyp/scalper/pkg/metrics"
	"github.com/venkyp/scalper/pkg/quote"
	"github.com/venkyp/scalper/pkg/symbols"
	"github.com/venkyp/scalper/pkg/ticks"
)

// Server wires the HTTP surface to the gateway, the intent slot, the
// quote cache and the tick log.
type Server struct {
	trade     params.Trade
	gw        broker.Gateway
	store     *intent.Store
	cache     *quote.Cache
	resolver  *symbols.Resolver
	tickPath  string
	staticDir string
	log       *zap.SugaredLogger
	router    *mux.Router
}

func NewServer(
	trade params.Trade,
	gw broker.Gateway,
	store *intent.Store,
	cache *quote.Cache,
	resolver *symbols.Resolver,
	tickPath, staticDir string,
	log *zap.SugaredLogger,
) *Server {
	s := &Server{
		trade:     trade,
		gw:        gw,
		store:     store,
		cache:     cache,
		resolver:  resolver,
		tickPath:  tickPath,
		staticDir: staticDir,
		log:       log,
		router:    mux.NewRouter(),
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	api := s.router.PathPrefix("/api").Subrouter()
	api.HandleFunc("/symbols", s.handleSymbols).Methods("GET")
	api.HandleFunc("/trade/buy", s.handleTrade("CE")).Methods("POST")
	api.HandleFunc("/trade/sell", s.handleTrade("PE")).Methods("POST")
	api.HandleFunc("/orders", s.handleOrders).Methods("GET")
	api.HandleFunc("/positions", s.handlePositions).Methods("GET")
	api.HandleFunc("/flatten", s.handleFlatten).Methods("POST")

	s.router.HandleFunc("/sse/candlesticks/{symbol}", s.handleCandlestickStream).Methods("GET")
	s.router.HandleFunc("/sse/orders", s.handleOrderStream).Methods("GET")

	s.router.Handle("/metrics", promhttp.Handler()).Methods("GET")
	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")

	if s.staticDir != "" {
		s.router.PathPrefix("/").Handler(http.FileServer(http.Dir(s.staticDir)))
	}
}

// Handler returns the fully wrapped HTTP handler, for tests and Run.
func (s *Server) Handler() http.Handler {
	c := cors.New(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Content-Type"},
	})
	return c.Handler(s.router)
}

// Run serves until the context is canceled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{Addr: addr, Handler: s.Handler()}

	errCh := make(chan error, 1)
	go func() {
		s.log.Infow("api_listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "gateway": s.gw.Name()})
}

func (s *Server) handleSymbols(w http.ResponseWriter, _ *http.Request) {
	syms, err := ticks.Symbols(s.tickPath)
	if err != nil {
		s.fail(w, http.StatusInternalServerError, "list symbols", err)
		return
	}
	if syms == nil {
		syms = []string{}
	}
	writeJSON(w, http.StatusOK, syms)
}

// handleTrade is the submission path: pick (or accept) an instrument,
// compute the exit band from the last traded price, place the entry
// order and claim the intent slot. It refuses while a trade is active:
// the slot is a register, not a queue.
func (s *Server) handleTrade(optType string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req TradeRequest
		// A bare POST with no body is fine; the server picks the symbol.
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
			s.fail(w, http.StatusBadRequest, "decode request", err)
			return
		}

		slot, err := s.store.Read()
		if err != nil {
			s.fail(w, http.StatusInternalServerError, "read intent slot", err)
			return
		}
		if slot.Active() {
			writeJSON(w, http.StatusConflict, errorResponse{
				Error: fmt.Sprintf("trade %s already active on %s", slot.EntryID, slot.Symbol),
			})
			return
		}

		symbol := strings.ToUpper(strings.TrimSpace(req.Symbol))
		if symbol == "" && s.resolver != nil {
			symbol = s.resolver.ClosestPremium(s.cache.Snapshot(), s.trade.Premium, optType)
		}
		if symbol == "" {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: "no symbol given and none resolvable"})
			return
		}

		ltp, ok := s.cache.Last(symbol)
		if !ok {
			writeJSON(w, http.StatusBadGateway, errorResponse{
				Error: fmt.Sprintf("no quote yet for %s", symbol),
			})
			return
		}

		exitPrice := ltp - s.trade.StopOffset
		targetPrice := ltp + s.trade.TargetOffset

		entryID, err := s.gw.PlaceOrder(r.Context(), broker.OrderRequest{
			Symbol:   symbol,
			Exchange: s.exchange(),
			Side:     broker.SideBuy,
			Type:     broker.TypeLimit,
			Quantity: s.trade.Quantity,
			Price:    ltp,
			Tag:      s.trade.Tag,
		})
		if err != nil {
			s.fail(w, http.StatusBadGateway, "place entry order", err)
			return
		}
		metrics.OrdersPlaced.WithLabelValues(string(broker.SideBuy), "entry").Inc()

		in := intent.Intent{
			Symbol:      symbol,
			Quantity:    s.trade.Quantity,
			Exchange:    s.exchange(),
			Tag:         s.trade.Tag,
			EntryID:     entryID,
			ExitPrice:   exitPrice,
			TargetPrice: targetPrice,
		}
		if err := s.store.Write(in); err != nil {
			// The entry order is already out; surface the mismatch loudly.
			s.log.Errorw("intent_write_failed_after_entry", "entry_id", entryID, "err", err)
			s.fail(w, http.StatusInternalServerError, "persist intent", err)
			return
		}

		s.log.Infow("trade_submitted", "symbol", symbol, "entry_id", entryID,
			"ltp", ltp, "exit_price", exitPrice, "target_price", targetPrice)
		writeJSON(w, http.StatusOK, TradeResponse{
			Message:     fmt.Sprintf("entry initiated for %s", symbol),
			Status:      "success",
			Symbol:      symbol,
			EntryID:     entryID,
			Price:       ltp,
			ExitPrice:   exitPrice,
			TargetPrice: targetPrice,
		})
	}
}

func (s *Server) exchange() string {
	if s.resolver != nil {
		return s.resolver.Exchange()
	}
	return "NFO"
}

func (s *Server) handleOrders(w http.ResponseWriter, r *http.Request) {
	orders, err := s.gw.Orders(r.Context())
	if err != nil {
		s.fail(w, http.StatusBadGateway, "fetch orders", err)
		return
	}
	out := make([]OrderInfo, 0, len(orders))
	for _, o := range orders {
		out = append(out, orderInfo(o))
	}
	writeJSON(w, http.StatusOK, out)
}

func orderInfo(o broker.Order) OrderInfo {
	return OrderInfo{
		ID:           o.ID,
		Symbol:       o.Symbol,
		Exchange:     o.Exchange,
		Side:         string(o.Side),
		Type:         string(o.Type),
		Quantity:     o.Quantity,
		Price:        o.Price,
		TriggerPrice: o.TriggerPrice,
		AveragePrice: o.AveragePrice,
		Status:       string(o.Status),
		Rejection:    o.Rejection,
		Tag:          o.Tag,
	}
}

func (s *Server) handlePositions(w http.ResponseWriter, r *http.Request) {
	positions, err := s.gw.Positions(r.Context())
	if err != nil {
		s.fail(w, http.StatusBadGateway, "fetch positions", err)
		return
	}
	out := PositionsResponse{Positions: make([]PositionInfo, 0, len(positions))}
	for _, p := range positions {
		out.Positions = append(out.Positions, PositionInfo{
			Symbol:        p.Symbol,
			Exchange:      p.Exchange,
			Quantity:      p.Quantity,
			UnrealizedPnL: p.UnrealizedPnL,
		})
	}
	out.MTM = broker.MTM(positions)
	metrics.MTM.Set(out.MTM)
	writeJSON(w, http.StatusOK, out)
}

// handleFlatten closes every open position at market. This is the
// manual reconciliation hammer for stale broker state.
func (s *Server) handleFlatten(w http.ResponseWriter, r *http.Request) {
	positions, err := s.gw.Positions(r.Context())
	if err != nil {
		s.fail(w, http.StatusBadGateway, "fetch positions", err)
		return
	}

	closed := 0
	for _, pos := range positions {
		if pos.Quantity == 0 {
			continue
		}
		side := broker.SideSell
		qty := pos.Quantity
		if qty < 0 {
			side = broker.SideBuy
			qty = -qty
		}
		_, err := s.gw.PlaceOrder(r.Context(), broker.OrderRequest{
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
			s.log.Warnw("flatten_order_failed", "symbol", pos.Symbol, "err", err)
			continue
		}
		metrics.OrdersPlaced.WithLabelValues(string(side), "flatten").Inc()
		closed++
	}
	writeJSON(w, http.StatusOK, map[string]int{"closed": closed})
}

func (s *Server) fail(w http.ResponseWriter, code int, what string, err error) {
	s.log.Warnw("request_failed", "what", what, "err", err)
	writeJSON(w, code, errorResponse{Error: fmt.Sprintf("%s: %v", what, err)})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}


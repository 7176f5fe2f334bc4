// Package engine runs the order-lifecycle state machine: adopt a trade
// intent, wait for the entry order to fill, attach a protective stop, and
// force-exit when price leaves the band.
package engine

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/venkyp/scalper/pkg/broker"
	"github.com/venkyp/scalper/pkg/intent"
	"github.com/venkyp/scalper/pkg/metrics"
	"github.com/venkyp/scalper/pkg/quote"
	"github.com/venkyp/scalper/pkg/util"
)

// State tags the machine's position in the order lifecycle.
type State int

const (
	Idle State = iota
	PendingEntry
	PendingExit
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case PendingEntry:
		return "pending_entry"
	case PendingExit:
		return "pending_exit"
	default:
		return "unknown"
	}
}

// Trade is the per-cycle value the machine tracks while a lifecycle is in
// flight. Handlers build a new value and commit it at the end of the
// cycle; nothing mutates it mid-step.
type Trade struct {
	Symbol      string
	Quantity    int
	Exchange    string
	Tag         string
	EntryID     string
	ExitID      string
	ExitPrice   float64
	TargetPrice float64
}

// Recorder receives the quote snapshot each cycle, before the state
// machine runs. The tick CSV writer hangs off this seam.
type Recorder interface {
	Record(prices map[string]float64)
}

// Config carries the tunables the engine needs beyond its collaborators.
type Config struct {
	Interval    time.Duration // poll cadence, default 500ms
	TriggerStep float64       // stop trigger offset above exit price
}

type Engine struct {
	cfg      Config
	gw       broker.Gateway
	store    *intent.Store
	quotes   *quote.Cache
	recorder Recorder
	clock    util.Clock
	log      *zap.SugaredLogger

	// state and trade are written only from the poll loop; the accessor
	// below is for observers.
	state State
	trade Trade
}

func New(cfg Config, gw broker.Gateway, store *intent.Store, quotes *quote.Cache, recorder Recorder, log *zap.SugaredLogger) *Engine {
	if cfg.Interval <= 0 {
		cfg.Interval = 500 * time.Millisecond
	}
	if cfg.TriggerStep <= 0 {
		cfg.TriggerStep = 0.05
	}
	return &Engine{
		cfg:      cfg,
		gw:       gw,
		store:    store,
		quotes:   quotes,
		recorder: recorder,
		clock:    util.RealClock{},
		log:      log,
	}
}

// State returns the machine's current lifecycle tag.
func (e *Engine) State() State { return e.state }

// Trade returns a copy of the trade the machine is tracking.
func (e *Engine) Trade() Trade { return e.trade }

// Run advances the machine once per interval until the context is
// canceled. A cycle can fail; the loop cannot.
func (e *Engine) Run(ctx context.Context) error {
	e.log.Infow("engine_started", "interval", e.cfg.Interval, "gateway", e.gw.Name())
	for {
		select {
		case <-ctx.Done():
			e.log.Infow("engine_stopped", "state", e.state.String())
			return ctx.Err()
		case <-e.clock.After(e.cfg.Interval):
		}

		prices := e.quotes.Snapshot()
		if e.recorder != nil {
			e.recorder.Record(prices)
		}
		e.Cycle(ctx, prices)
	}
}

// Cycle runs a single state-machine step against the given quote
// snapshot. Any failure is logged and leaves the state unchanged so the
// next tick retries from the same place.
func (e *Engine) Cycle(ctx context.Context, prices map[string]float64) {
	defer func() {
		if r := recover(); r != nil {
			metrics.CycleErrors.Inc()
			e.log.Errorw("cycle_panic", "state", e.state.String(), "panic", r)
		}
	}()

	metrics.EngineCycles.WithLabelValues(e.state.String()).Inc()

	var (
		next State
		tr   Trade
		err  error
	)
	switch e.state {
	case Idle:
		next, tr, err = e.idle()
	case PendingEntry:
		next, tr, err = e.pendingEntry(ctx)
	case PendingExit:
		next, tr, err = e.pendingExit(ctx, prices)
	default:
		e.log.Errorw("cycle_bad_state", "state", int(e.state))
		return
	}
	if err != nil {
		metrics.CycleErrors.Inc()
		e.log.Warnw("cycle_error", "state", e.state.String(), "err", err)
		return
	}

	if next != e.state {
		e.log.Infow("state_change", "from", e.state.String(), "to", next.String(), "entry_id", tr.EntryID, "exit_id", tr.ExitID)
	}
	e.state, e.trade = next, tr
}

// idle watches the intent slot and adopts a new intent when its entry id
// differs from the one the machine last saw.
func (e *Engine) idle() (State, Trade, error) {
	in, err := e.store.Read()
	if err != nil {
		return e.state, e.trade, err
	}
	if in.EntryID == e.trade.EntryID {
		return Idle, e.trade, nil
	}

	tr := Trade{
		Symbol:      in.Symbol,
		Quantity:    in.Quantity,
		Exchange:    in.Exchange,
		Tag:         in.Tag,
		EntryID:     in.EntryID,
		ExitPrice:   in.ExitPrice,
		TargetPrice: in.TargetPrice,
	}
	e.log.Infow("intent_adopted", "symbol", tr.Symbol, "entry_id", tr.EntryID,
		"exit_price", tr.ExitPrice, "target_price", tr.TargetPrice)
	return PendingEntry, tr, nil
}

// pendingEntry waits for the entry order to go terminal. A fill attaches
// the protective stop; a rejection or cancel abandons the lifecycle.
func (e *Engine) pendingEntry(ctx context.Context) (State, Trade, error) {
	order, err := e.gw.QueryOrder(ctx, e.trade.EntryID)
	if err != nil {
		return e.state, e.trade, err
	}
	if order == nil {
		// Not in the order book yet; no information, try again next tick.
		e.log.Warnw("entry_status_unknown", "entry_id", e.trade.EntryID)
		return PendingEntry, e.trade, nil
	}

	switch order.Status {
	case broker.StatusComplete:
		exitID, err := e.gw.PlaceOrder(ctx, broker.OrderRequest{
			Symbol:            e.trade.Symbol,
			Exchange:          e.trade.Exchange,
			Quantity:          e.trade.Quantity,
			DisclosedQuantity: 0,
			Side:              order.Side.Opposite(),
			Type:              broker.TypeStopLimit,
			Price:             e.trade.ExitPrice,
			TriggerPrice:      e.trade.ExitPrice + e.cfg.TriggerStep,
			Tag:               e.trade.Tag,
		})
		if err != nil {
			// Stay put; the stop leg is retried next cycle.
			return e.state, e.trade, err
		}
		metrics.OrdersPlaced.WithLabelValues(string(order.Side.Opposite()), "exit").Inc()
		tr := e.trade
		tr.ExitID = exitID
		e.log.Infow("exit_placed", "exit_id", exitID, "stop", tr.ExitPrice,
			"trigger", tr.ExitPrice+e.cfg.TriggerStep)
		return PendingExit, tr, nil

	case broker.StatusRejected, broker.StatusCanceled:
		if err := e.store.Clear(); err != nil {
			return e.state, e.trade, err
		}
		e.log.Infow("entry_abandoned", "entry_id", e.trade.EntryID, "status", order.Status, "reason", order.Rejection)
		return Idle, Trade{}, nil

	default:
		e.log.Infow("entry_waiting", "entry_id", e.trade.EntryID, "status", order.Status)
		return PendingEntry, e.trade, nil
	}
}

// pendingExit finishes the lifecycle when the stop goes terminal, or
// escalates to a market exit when price leaves the band.
func (e *Engine) pendingExit(ctx context.Context, prices map[string]float64) (State, Trade, error) {
	order, err := e.gw.QueryOrder(ctx, e.trade.ExitID)
	if err != nil {
		return e.state, e.trade, err
	}
	if order != nil && order.Status.Terminal() {
		if err := e.store.Clear(); err != nil {
			return e.state, e.trade, err
		}
		e.log.Infow("lifecycle_done", "exit_id", e.trade.ExitID, "status", order.Status)
		return Idle, Trade{}, nil
	}

	ltp, ok := prices[e.trade.Symbol]
	if !ok || !e.beyondBand(ltp) {
		return PendingExit, e.trade, nil
	}

	// Band breach: convert the stop to an immediate market order. The
	// modify is fire-and-forget; the lifecycle resets either way.
	metrics.BandBreaches.Inc()
	if err := e.gw.ModifyOrder(ctx, broker.ModifyRequest{
		OrderID:  e.trade.ExitID,
		Symbol:   e.trade.Symbol,
		Exchange: e.trade.Exchange,
		Quantity: e.trade.Quantity,
		Type:     broker.TypeMarket,
		Price:    0,
	}); err != nil {
		e.log.Warnw("breach_modify_failed", "exit_id", e.trade.ExitID, "err", err)
	} else {
		e.log.Infow("breach_exit", "exit_id", e.trade.ExitID, "ltp", ltp,
			"exit_price", e.trade.ExitPrice, "target_price", e.trade.TargetPrice)
	}
	if err := e.store.Clear(); err != nil {
		return e.state, e.trade, err
	}
	return Idle, Trade{}, nil
}

func (e *Engine) beyondBand(ltp float64) bool {
	return ltp > e.trade.TargetPrice || ltp < e.trade.ExitPrice
}

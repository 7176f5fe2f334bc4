package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"github.com/venkyp/scalper/pkg/ticks"
)

const candlePollInterval = time.Second

// handleCandlestickStream serves candles over SSE: one initial_data
// event carrying the full history, then live_update events whenever a
// repoll of the tick log changes the tail candle.
func (s *Server) handleCandlestickStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	symbol := strings.ToUpper(mux.Vars(r)["symbol"])
	timeframe := time.Minute
	if tf := r.URL.Query().Get("timeframe"); tf != "" {
		if d, err := time.ParseDuration(tf); err == nil && d > 0 {
			timeframe = d
		}
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	candles, err := ticks.Aggregate(s.tickPath, symbol, timeframe)
	if err != nil {
		s.log.Warnw("candle_aggregate_failed", "symbol", symbol, "err", err)
		candles = nil
	}
	if candles == nil {
		candles = []ticks.Candle{}
	}
	writeSSE(w, "initial_data", candles)
	flusher.Flush()

	last := tailCandle(candles)
	ticker := time.NewTicker(candlePollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
			candles, err := ticks.Aggregate(s.tickPath, symbol, timeframe)
			if err != nil || len(candles) == 0 {
				continue
			}
			tail := candles[len(candles)-1]
			if tail == last {
				continue
			}
			last = tail
			writeSSE(w, "live_update", tail)
			flusher.Flush()
		}
	}
}

// handleOrderStream pushes the order book over SSE: the full list on
// connect, then again whenever a repoll shows a change.
func (s *Server) handleOrderStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	snapshot := func() ([]byte, error) {
		orders, err := s.gw.Orders(r.Context())
		if err != nil {
			return nil, err
		}
		out := make([]OrderInfo, 0, len(orders))
		for _, o := range orders {
			out = append(out, orderInfo(o))
		}
		return json.Marshal(out)
	}

	last, err := snapshot()
	if err != nil {
		s.log.Warnw("order_stream_snapshot_failed", "err", err)
		last = []byte("[]")
	}
	fmt.Fprintf(w, "event: initial_data\ndata: %s\n\n", last)
	flusher.Flush()

	ticker := time.NewTicker(candlePollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
			cur, err := snapshot()
			if err != nil || string(cur) == string(last) {
				continue
			}
			last = cur
			fmt.Fprintf(w, "event: live_update\ndata: %s\n\n", cur)
			flusher.Flush()
		}
	}
}

func tailCandle(candles []ticks.Candle) ticks.Candle {
	if len(candles) == 0 {
		return ticks.Candle{}
	}
	return candles[len(candles)-1]
}

func writeSSE(w http.ResponseWriter, event string, v any) {
	payload, err := json.Marshal(v)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, payload)
}

// Package ticks appends quote snapshots to a CSV log and aggregates them
// into OHLCV candles for the chart API.
package ticks

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"
)

const timeLayout = "2006-01-02 15:04:05"

// Writer appends one CSV line per instrument per snapshot:
// timestamp,symbol,price,volume. Volume is always 0; the touchline feed
// carries no per-tick volume.
type Writer struct {
	mu   sync.Mutex
	path string
	now  func() time.Time
}

func NewWriter(path string) (*Writer, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("create tick dir: %w", err)
	}
	w := &Writer{path: path, now: time.Now}
	if err := w.truncateStale(); err != nil {
		return nil, err
	}
	return w, nil
}

// truncateStale wipes a log left over from a previous session day; ticks
// are intraday data.
func (w *Writer) truncateStale() error {
	info, err := os.Stat(w.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("stat tick log: %w", err)
	}
	now := w.now()
	y1, m1, d1 := info.ModTime().Date()
	y2, m2, d2 := now.Date()
	if y1 == y2 && m1 == m2 && d1 == d2 {
		return nil
	}
	if err := os.Truncate(w.path, 0); err != nil {
		return fmt.Errorf("truncate stale tick log: %w", err)
	}
	return nil
}

// Record appends the snapshot. Implements the engine's Recorder seam.
// Write errors are swallowed; tick logging must never stall the loop.
func (w *Writer) Record(prices map[string]float64) {
	if len(prices) == 0 {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()

	f, err := os.OpenFile(w.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return
	}
	defer f.Close()

	ts := w.now().Format(timeLayout)
	symbols := make([]string, 0, len(prices))
	for sym := range prices {
		symbols = append(symbols, sym)
	}
	sort.Strings(symbols)
	for _, sym := range symbols {
		fmt.Fprintf(f, "%s,%s,%.2f,0\n", ts, sym, prices[sym])
	}
}

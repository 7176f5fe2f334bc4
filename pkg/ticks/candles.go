package ticks

import (
	"encoding/csv"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Candle is one OHLCV bucket. Time is the bucket start in unix seconds.
type Candle struct {
	Time   int64   `json:"time"`
	Open   float64 `json:"open"`
	High   float64 `json:"high"`
	Low    float64 `json:"low"`
	Close  float64 `json:"close"`
	Volume float64 `json:"volume"`
}

type row struct {
	ts     time.Time
	symbol string
	price  float64
	volume float64
}

func readRows(path string) ([]row, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("open tick log: %w", err)
	}
	defer f.Close()

	reader := csv.NewReader(f)
	reader.FieldsPerRecord = -1
	records, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("parse tick log: %w", err)
	}

	rows := make([]row, 0, len(records))
	for _, rec := range records {
		if len(rec) < 4 {
			continue // skip torn or partial lines
		}
		ts, err := time.ParseInLocation(timeLayout, rec[0], time.Local)
		if err != nil {
			continue
		}
		price, err := strconv.ParseFloat(rec[2], 64)
		if err != nil {
			continue
		}
		volume, _ := strconv.ParseFloat(rec[3], 64)
		rows = append(rows, row{ts: ts, symbol: rec[1], price: price, volume: volume})
	}
	return rows, nil
}

// Symbols lists the distinct instruments present in the tick log, in
// first-seen order.
func Symbols(path string) ([]string, error) {
	rows, err := readRows(path)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]bool)
	var symbols []string
	for _, r := range rows {
		if !seen[r.symbol] {
			seen[r.symbol] = true
			symbols = append(symbols, r.symbol)
		}
	}
	return symbols, nil
}

// Aggregate resamples one symbol's ticks into candles of the given
// timeframe. Buckets with no ticks are omitted.
func Aggregate(path, symbol string, timeframe time.Duration) ([]Candle, error) {
	if timeframe <= 0 {
		timeframe = time.Minute
	}
	rows, err := readRows(path)
	if err != nil {
		return nil, err
	}

	symbol = strings.ToUpper(symbol)
	buckets := make(map[int64]*Candle)
	for _, r := range rows {
		if strings.ToUpper(r.symbol) != symbol {
			continue
		}
		start := r.ts.Truncate(timeframe).Unix()
		c, ok := buckets[start]
		if !ok {
			buckets[start] = &Candle{
				Time: start, Open: r.price, High: r.price,
				Low: r.price, Close: r.price, Volume: r.volume,
			}
			continue
		}
		if r.price > c.High {
			c.High = r.price
		}
		if r.price < c.Low {
			c.Low = r.price
		}
		c.Close = r.price
		c.Volume += r.volume
	}

	candles := make([]Candle, 0, len(buckets))
	for _, c := range buckets {
		candles = append(candles, *c)
	}
	sort.Slice(candles, func(i, j int) bool { return candles[i].Time < candles[j].Time })
	return candles, nil
}

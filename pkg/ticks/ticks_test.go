package ticks

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestRecordAppendsSortedLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ticks.csv")
	w, err := NewWriter(path)
	if err != nil {
		t.Fatal(err)
	}
	fixed := time.Date(2025, 7, 10, 10, 30, 15, 0, time.Local)
	w.now = func() time.Time { return fixed }

	w.Record(map[string]float64{
		"NIFTY10JUL25P27850": 101.456,
		"NIFTY10JUL25C27850": 87.2,
	})

	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	lines := strings.Split(strings.TrimSpace(string(raw)), "\n")
	if len(lines) != 2 {
		t.Fatalf("got %d lines, want 2", len(lines))
	}
	want0 := "2025-07-10 10:30:15,NIFTY10JUL25C27850,87.20,0"
	if lines[0] != want0 {
		t.Errorf("line[0] = %q, want %q", lines[0], want0)
	}
	if !strings.Contains(lines[1], "P27850,101.46,0") {
		t.Errorf("line[1] = %q, want rounded price 101.46", lines[1])
	}
}

func TestRecordEmptySnapshotWritesNothing(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ticks.csv")
	w, err := NewWriter(path)
	if err != nil {
		t.Fatal(err)
	}
	w.Record(nil)
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatal("empty snapshot should not create the log file")
	}
}

func TestStaleLogTruncatedOnStartup(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ticks.csv")
	if err := os.WriteFile(path, []byte("old data\n"), 0644); err != nil {
		t.Fatal(err)
	}
	yesterday := time.Now().Add(-24 * time.Hour)
	if err := os.Chtimes(path, yesterday, yesterday); err != nil {
		t.Fatal(err)
	}

	if _, err := NewWriter(path); err != nil {
		t.Fatal(err)
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(raw) != 0 {
		t.Fatalf("stale log should be truncated, still has %q", raw)
	}
}

func TestTodayLogKeptOnStartup(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ticks.csv")
	if err := os.WriteFile(path, []byte("fresh data\n"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := NewWriter(path); err != nil {
		t.Fatal(err)
	}
	raw, _ := os.ReadFile(path)
	if len(raw) == 0 {
		t.Fatal("same-day log must survive startup")
	}
}

func writeTicks(t *testing.T, lines ...string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "ticks.csv")
	if err := os.WriteFile(path, []byte(strings.Join(lines, "\n")+"\n"), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestAggregateOneMinuteBuckets(t *testing.T) {
	path := writeTicks(t,
		"2025-07-10 10:30:05,X,100.00,0",
		"2025-07-10 10:30:20,X,103.00,0",
		"2025-07-10 10:30:40,X,99.00,0",
		"2025-07-10 10:30:55,X,101.00,0",
		"2025-07-10 10:31:10,X,102.00,0",
		"2025-07-10 10:31:30,Y,55.00,0", // other symbol, ignored
	)

	candles, err := Aggregate(path, "X", time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	if len(candles) != 2 {
		t.Fatalf("got %d candles, want 2", len(candles))
	}

	first := candles[0]
	if first.Open != 100 || first.High != 103 || first.Low != 99 || first.Close != 101 {
		t.Fatalf("first candle OHLC = %v/%v/%v/%v, want 100/103/99/101",
			first.Open, first.High, first.Low, first.Close)
	}
	second := candles[1]
	if second.Open != 102 || second.Close != 102 {
		t.Fatalf("second candle = %+v, want flat 102", second)
	}
	if second.Time-first.Time != 60 {
		t.Fatalf("bucket spacing = %d, want 60", second.Time-first.Time)
	}
}

func TestAggregateSkipsMalformedLines(t *testing.T) {
	path := writeTicks(t,
		"2025-07-10 10:30:05,X,100.00,0",
		"not a timestamp,X,abc,0",
		"2025-07-10 10:30:06,X,bad,0",
		"2025-07-10 10:30:07,X,101.00,0",
	)
	candles, err := Aggregate(path, "x", time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	if len(candles) != 1 {
		t.Fatalf("got %d candles, want 1", len(candles))
	}
	if candles[0].Open != 100 || candles[0].Close != 101 {
		t.Fatalf("candle = %+v, want open 100 close 101", candles[0])
	}
}

func TestAggregateMissingFile(t *testing.T) {
	candles, err := Aggregate(filepath.Join(t.TempDir(), "none.csv"), "X", time.Minute)
	if err != nil {
		t.Fatalf("missing file should not error, got %v", err)
	}
	if len(candles) != 0 {
		t.Fatalf("expected no candles, got %d", len(candles))
	}
}

func TestSymbolsFirstSeenOrder(t *testing.T) {
	path := writeTicks(t,
		"2025-07-10 10:30:05,B,1.00,0",
		"2025-07-10 10:30:06,A,2.00,0",
		"2025-07-10 10:30:07,B,3.00,0",
	)
	symbols, err := Symbols(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(symbols) != 2 || symbols[0] != "B" || symbols[1] != "A" {
		t.Fatalf("symbols = %v, want [B A]", symbols)
	}
}

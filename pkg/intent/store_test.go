package intent

import (
	"os"
	"path/filepath"
	"testing"
)

func tempStore(t *testing.T) *Store {
	t.Helper()
	return NewStore(filepath.Join(t.TempDir(), "trade.json"))
}

func TestReadMissingFileIsFreeSlot(t *testing.T) {
	s := tempStore(t)
	in, err := s.Read()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if in.Active() {
		t.Fatalf("missing file should read as a free slot, got %+v", in)
	}
}

func TestWriteReadRoundTrip(t *testing.T) {
	s := tempStore(t)
	want := Intent{
		Symbol:      "NIFTY10JUL25P27850",
		Quantity:    75,
		Exchange:    "NFO",
		Tag:         "scalper",
		EntryID:     "25070500003440",
		ExitPrice:   2370.75,
		TargetPrice: 2372.75,
	}
	if err := s.Write(want); err != nil {
		t.Fatalf("write: %v", err)
	}
	got, err := s.Read()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if got != want {
		t.Fatalf("round trip mismatch:\n got %+v\nwant %+v", got, want)
	}
	if !got.Active() {
		t.Fatal("slot with entry id should be active")
	}
}

func TestWriteReplacesWholesale(t *testing.T) {
	s := tempStore(t)
	if err := s.Write(Intent{Symbol: "A", Quantity: 75, EntryID: "E1", ExitPrice: 100}); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := s.Write(Intent{EntryID: "E2"}); err != nil {
		t.Fatalf("write: %v", err)
	}
	got, err := s.Read()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if got.Symbol != "" || got.Quantity != 0 || got.ExitPrice != 0 {
		t.Fatalf("write merged instead of replacing: %+v", got)
	}
}

func TestClearFreesSlot(t *testing.T) {
	s := tempStore(t)
	if err := s.Write(Intent{EntryID: "E1", Symbol: "X"}); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := s.Clear(); err != nil {
		t.Fatalf("clear: %v", err)
	}
	got, err := s.Read()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if got.Active() {
		t.Fatalf("slot still active after clear: %+v", got)
	}
}

func TestReadCorruptFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "trade.json")
	if err := os.WriteFile(path, []byte("{not json"), 0644); err != nil {
		t.Fatal(err)
	}
	s := NewStore(path)
	if _, err := s.Read(); err == nil {
		t.Fatal("corrupt slot should surface an error")
	}
}

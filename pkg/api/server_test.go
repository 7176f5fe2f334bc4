package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"go.uber.org/zap"

	"github.com/venkyp/scalper/params"
	"github.com/venkyp/scalper/pkg/broker"
	"github.com/venkyp/scalper/pkg/intent"
	"github.com/venkyp/scalper/pkg/quote"
)

func testServer(t *testing.T) (*Server, *broker.Paper, *intent.Store, *quote.Cache) {
	t.Helper()

	dir := t.TempDir()
	cache := quote.NewCache()
	gw := broker.NewPaper(func(_, token string) (float64, bool) {
		lp, ok := cache.Last(token)
		return lp, ok
	})
	store := intent.NewStore(filepath.Join(dir, "intent.json"))
	trade := params.Trade{
		Quantity:     75,
		Premium:      100,
		Tag:          "scalper",
		StopOffset:   2.0,
		TargetOffset: 2.0,
		TriggerStep:  0.05,
	}
	s := NewServer(trade, gw, store, cache, nil,
		filepath.Join(dir, "ticks.csv"), "", zap.NewNop().Sugar())
	return s, gw, store, cache
}

func doJSON(t *testing.T, s *Server, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	return w
}

func TestTradeBuyPlacesEntryAndClaimsSlot(t *testing.T) {
	s, gw, store, cache := testServer(t)
	cache.Update("NIFTY10JUL25C27900", 102.5)

	w := doJSON(t, s, http.MethodPost, "/api/trade/buy", TradeRequest{Symbol: "NIFTY10JUL25C27900"})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}

	var resp TradeResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.EntryID == "" {
		t.Fatal("no entry id in response")
	}
	if resp.ExitPrice != 100.5 || resp.TargetPrice != 104.5 {
		t.Fatalf("band = [%v, %v], want [100.5, 104.5]", resp.ExitPrice, resp.TargetPrice)
	}

	in, err := store.Read()
	if err != nil {
		t.Fatal(err)
	}
	if !in.Active() || in.EntryID != resp.EntryID {
		t.Fatalf("slot not claimed: %+v", in)
	}
	if in.Symbol != "NIFTY10JUL25C27900" || in.Quantity != 75 {
		t.Fatalf("intent mismatch: %+v", in)
	}

	order, err := gw.QueryOrder(context.Background(), resp.EntryID)
	if err != nil || order == nil {
		t.Fatalf("entry order missing: %v", err)
	}
	if order.Side != broker.SideBuy || order.Type != broker.TypeLimit {
		t.Fatalf("entry = %s %s, want BUY LMT", order.Side, order.Type)
	}
}

func TestTradeRefusedWhileSlotActive(t *testing.T) {
	s, _, store, cache := testServer(t)
	cache.Update("NIFTY10JUL25C27900", 102.5)
	if err := store.Write(intent.Intent{Symbol: "X", EntryID: "E1"}); err != nil {
		t.Fatal(err)
	}

	w := doJSON(t, s, http.MethodPost, "/api/trade/buy", TradeRequest{Symbol: "NIFTY10JUL25C27900"})
	if w.Code != http.StatusConflict {
		t.Fatalf("status = %d, want 409", w.Code)
	}

	in, _ := store.Read()
	if in.EntryID != "E1" {
		t.Fatalf("slot was overwritten: %+v", in)
	}
}

func TestTradeWithoutQuoteFails(t *testing.T) {
	s, _, store, _ := testServer(t)

	w := doJSON(t, s, http.MethodPost, "/api/trade/sell", TradeRequest{Symbol: "NIFTY10JUL25P27900"})
	if w.Code != http.StatusBadGateway {
		t.Fatalf("status = %d, want 502", w.Code)
	}
	if in, _ := store.Read(); in.Active() {
		t.Fatalf("slot claimed without an order: %+v", in)
	}
}

func TestTradeWithoutSymbolOrResolverFails(t *testing.T) {
	s, _, _, _ := testServer(t)

	w := doJSON(t, s, http.MethodPost, "/api/trade/buy", nil)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
}

func TestOrdersEndpointListsPlacedOrders(t *testing.T) {
	s, gw, _, cache := testServer(t)
	cache.Update("NIFTY10JUL25C27900", 102.5)
	id, err := gw.PlaceOrder(context.Background(), broker.OrderRequest{
		Symbol: "NIFTY10JUL25C27900", Exchange: "NFO",
		Side: broker.SideBuy, Type: broker.TypeLimit, Quantity: 75, Price: 102.5,
	})
	if err != nil {
		t.Fatal(err)
	}

	w := doJSON(t, s, http.MethodGet, "/api/orders", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var orders []OrderInfo
	if err := json.Unmarshal(w.Body.Bytes(), &orders); err != nil {
		t.Fatal(err)
	}
	if len(orders) != 1 || orders[0].ID != id || orders[0].Status != "COMPLETE" {
		t.Fatalf("orders = %+v", orders)
	}
}

func TestPositionsEndpointReportsMTM(t *testing.T) {
	s, gw, _, cache := testServer(t)
	cache.Update("NIFTY10JUL25C27900", 102.5)
	if _, err := gw.PlaceOrder(context.Background(), broker.OrderRequest{
		Symbol: "NIFTY10JUL25C27900", Exchange: "NFO",
		Side: broker.SideBuy, Type: broker.TypeLimit, Quantity: 75, Price: 102.5,
	}); err != nil {
		t.Fatal(err)
	}

	w := doJSON(t, s, http.MethodGet, "/api/positions", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var resp PositionsResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if len(resp.Positions) != 1 || resp.Positions[0].Quantity != 75 {
		t.Fatalf("positions = %+v", resp.Positions)
	}
}

func TestFlattenClosesOpenPositions(t *testing.T) {
	s, gw, _, cache := testServer(t)
	cache.Update("NIFTY10JUL25C27900", 102.5)
	if _, err := gw.PlaceOrder(context.Background(), broker.OrderRequest{
		Symbol: "NIFTY10JUL25C27900", Exchange: "NFO",
		Side: broker.SideBuy, Type: broker.TypeLimit, Quantity: 75, Price: 102.5,
	}); err != nil {
		t.Fatal(err)
	}

	w := doJSON(t, s, http.MethodPost, "/api/flatten", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}
	var resp map[string]int
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp["closed"] != 1 {
		t.Fatalf("closed = %d, want 1", resp["closed"])
	}

	positions, err := gw.Positions(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	for _, p := range positions {
		if p.Quantity != 0 {
			t.Fatalf("position %s still open: %d", p.Symbol, p.Quantity)
		}
	}
}

func TestSymbolsEndpointEmptyWithoutTicks(t *testing.T) {
	s, _, _, _ := testServer(t)

	w := doJSON(t, s, http.MethodGet, "/api/symbols", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if body := strings.TrimSpace(w.Body.String()); body != "[]" {
		t.Fatalf("body = %q, want []", body)
	}
}

func TestHealthEndpoint(t *testing.T) {
	s, _, _, _ := testServer(t)

	w := doJSON(t, s, http.MethodGet, "/health", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var resp map[string]string
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp["gateway"] != "paper" {
		t.Fatalf("gateway = %q, want paper", resp["gateway"])
	}
}

func TestOrderStreamSendsInitialData(t *testing.T) {
	s, gw, _, cache := testServer(t)
	cache.Update("NIFTY10JUL25C27900", 102.5)
	if _, err := gw.PlaceOrder(context.Background(), broker.OrderRequest{
		Symbol: "NIFTY10JUL25C27900", Exchange: "NFO",
		Side: broker.SideBuy, Type: broker.TypeLimit, Quantity: 75, Price: 102.5,
	}); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	req := httptest.NewRequest(http.MethodGet, "/sse/orders", nil).WithContext(ctx)
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)

	body := w.Body.String()
	if !strings.Contains(body, "event: initial_data") || !strings.Contains(body, "NIFTY10JUL25C27900") {
		t.Fatalf("order stream body = %q", body)
	}
}

func TestCandlestickStreamSendsInitialData(t *testing.T) {
	s, _, _, _ := testServer(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel() // stream should emit initial_data then return
	req := httptest.NewRequest(http.MethodGet, "/sse/candlesticks/NIFTY10JUL25C27900", nil).WithContext(ctx)
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)

	body := w.Body.String()
	if !strings.Contains(body, "event: initial_data") {
		t.Fatalf("missing initial_data event: %q", body)
	}
	if ct := w.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("content type = %q", ct)
	}
}

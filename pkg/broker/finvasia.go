package broker

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/venkyp/scalper/params"
)

const (
	finvasiaRESTURL = "https://api.shoonya.com/NorenWClientTP"
	finvasiaWSURL   = "wss://api.shoonya.com/NorenWSTP/"

	// A hung call stalls the engine cycle, so every request is bounded.
	finvasiaHTTPTimeout = 10 * time.Second
)

// Compile-time interface check.
var _ Gateway = (*Finvasia)(nil)

// Finvasia is a NorenAPI REST gateway (Finvasia Shoonya). Requests are
// form posts of the shape "jData=<json>&jKey=<session token>".
type Finvasia struct {
	creds  params.Credentials
	http   *http.Client
	log    *zap.SugaredLogger
	base   string
	wsBase string

	mu    sync.RWMutex
	token string // session token from login
}

func NewFinvasia(creds params.Credentials, log *zap.SugaredLogger) *Finvasia {
	return &Finvasia{
		creds:  creds,
		http:   &http.Client{Timeout: finvasiaHTTPTimeout},
		log:    log,
		base:   finvasiaRESTURL,
		wsBase: finvasiaWSURL,
	}
}

func (f *Finvasia) Name() string { return "finvasia" }

// SessionToken returns the token obtained at login, used by the quote feed.
func (f *Finvasia) SessionToken() string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.token
}

// WSURL returns the push-feed endpoint for this venue.
func (f *Finvasia) WSURL() string { return f.wsBase }

// UserID exposes the account id the feed authenticates with.
func (f *Finvasia) UserID() string { return f.creds.UserID }

func sha256Hex(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

// Login authenticates and stores the session token for later calls.
func (f *Finvasia) Login(ctx context.Context) error {
	payload := map[string]string{
		"apkversion": "1.0.0",
		"uid":        f.creds.UserID,
		"pwd":        sha256Hex(f.creds.Password),
		"factor2":    f.creds.Factor2,
		"vc":         f.creds.VendorCode,
		"appkey":     sha256Hex(f.creds.UserID + "|" + f.creds.APIKey),
		"imei":       f.creds.IMEI,
		"source":     "API",
	}
	var resp struct {
		Stat       string `json:"stat"`
		SUserToken string `json:"susertoken"`
		EMsg       string `json:"emsg"`
	}
	if err := f.post(ctx, "/QuickAuth", payload, false, &resp); err != nil {
		return fmt.Errorf("login: %w", err)
	}
	if resp.Stat != "Ok" || resp.SUserToken == "" {
		return fmt.Errorf("login rejected: %s", resp.EMsg)
	}
	f.mu.Lock()
	f.token = resp.SUserToken
	f.mu.Unlock()
	f.log.Infow("broker_login_ok", "uid", f.creds.UserID)
	return nil
}

func (f *Finvasia) PlaceOrder(ctx context.Context, req OrderRequest) (string, error) {
	product := req.Product
	if product == "" {
		product = "M"
	}
	payload := map[string]string{
		"uid":      f.creds.UserID,
		"actid":    f.creds.UserID,
		"exch":     req.Exchange,
		"tsym":     req.Symbol,
		"qty":      strconv.Itoa(req.Quantity),
		"dscqty":   strconv.Itoa(req.DisclosedQuantity),
		"prd":      product,
		"trantype": wireSide(req.Side),
		"prctyp":   string(req.Type),
		"prc":      formatPrice(req.Price),
		"ret":      "DAY",
		"remarks":  req.Tag,
	}
	if req.TriggerPrice > 0 {
		payload["trgprc"] = formatPrice(req.TriggerPrice)
	}
	var resp struct {
		Stat       string `json:"stat"`
		NorenOrdNo string `json:"norenordno"`
		EMsg       string `json:"emsg"`
	}
	if err := f.post(ctx, "/PlaceOrder", payload, true, &resp); err != nil {
		return "", fmt.Errorf("place order: %w", err)
	}
	if resp.Stat != "Ok" || resp.NorenOrdNo == "" {
		return "", fmt.Errorf("place order rejected: %s", resp.EMsg)
	}
	return resp.NorenOrdNo, nil
}

func (f *Finvasia) ModifyOrder(ctx context.Context, req ModifyRequest) error {
	payload := map[string]string{
		"uid":        f.creds.UserID,
		"norenordno": req.OrderID,
		"exch":       req.Exchange,
		"tsym":       req.Symbol,
		"qty":        strconv.Itoa(req.Quantity),
		"prctyp":     string(req.Type),
		"prc":        formatPrice(req.Price),
	}
	if req.TriggerPrice > 0 {
		payload["trgprc"] = formatPrice(req.TriggerPrice)
	}
	var resp struct {
		Stat   string `json:"stat"`
		Result string `json:"result"`
		EMsg   string `json:"emsg"`
	}
	if err := f.post(ctx, "/ModifyOrder", payload, true, &resp); err != nil {
		return fmt.Errorf("modify order %s: %w", req.OrderID, err)
	}
	if resp.Stat != "Ok" {
		return fmt.Errorf("modify order %s rejected: %s", req.OrderID, resp.EMsg)
	}
	return nil
}

func (f *Finvasia) CancelOrder(ctx context.Context, orderID string) error {
	payload := map[string]string{
		"uid":        f.creds.UserID,
		"norenordno": orderID,
	}
	var resp struct {
		Stat string `json:"stat"`
		EMsg string `json:"emsg"`
	}
	if err := f.post(ctx, "/CancelOrder", payload, true, &resp); err != nil {
		return fmt.Errorf("cancel order %s: %w", orderID, err)
	}
	if resp.Stat != "Ok" {
		return fmt.Errorf("cancel order %s rejected: %s", orderID, resp.EMsg)
	}
	return nil
}

// QueryOrder scans the order book for the given id. Unknown ids return
// (nil, nil); the caller treats that as "no information yet".
func (f *Finvasia) QueryOrder(ctx context.Context, orderID string) (*Order, error) {
	orders, err := f.Orders(ctx)
	if err != nil {
		return nil, err
	}
	for i := range orders {
		if orders[i].ID == orderID {
			return &orders[i], nil
		}
	}
	return nil, nil
}

// norenOrder mirrors the venue's order book row.
type norenOrder struct {
	Stat      string `json:"stat"`
	OrderNo   string `json:"norenordno"`
	Symbol    string `json:"tsym"`
	Exchange  string `json:"exch"`
	TranType  string `json:"trantype"`
	PriceType string `json:"prctyp"`
	Qty       string `json:"qty"`
	Price     string `json:"prc"`
	TrgPrice  string `json:"trgprc"`
	AvgPrice  string `json:"avgprc"`
	Status    string `json:"status"`
	RejReason string `json:"rejreason"`
	Remarks   string `json:"remarks"`
	OrderTime string `json:"norentm"`
}

func (f *Finvasia) Orders(ctx context.Context) ([]Order, error) {
	payload := map[string]string{"uid": f.creds.UserID}
	var rows []norenOrder
	if err := f.postList(ctx, "/OrderBook", payload, &rows); err != nil {
		return nil, fmt.Errorf("order book: %w", err)
	}
	orders := make([]Order, 0, len(rows))
	for _, row := range rows {
		orders = append(orders, row.toOrder())
	}
	return orders, nil
}

func (o norenOrder) toOrder() Order {
	ts, _ := time.ParseInLocation("15:04:05 02-01-2006", o.OrderTime, time.Local)
	return Order{
		ID:           o.OrderNo,
		Symbol:       o.Symbol,
		Exchange:     o.Exchange,
		Side:         parseSide(o.TranType),
		Type:         OrderType(o.PriceType),
		Quantity:     atoi(o.Qty),
		Price:        atof(o.Price),
		TriggerPrice: atof(o.TrgPrice),
		AveragePrice: atof(o.AvgPrice),
		Status:       Status(strings.ToUpper(o.Status)),
		Rejection:    o.RejReason,
		Tag:          o.Remarks,
		UpdatedAt:    ts,
	}
}

func (f *Finvasia) Positions(ctx context.Context) ([]Position, error) {
	payload := map[string]string{"uid": f.creds.UserID, "actid": f.creds.UserID}
	var rows []struct {
		Symbol   string `json:"tsym"`
		Exchange string `json:"exch"`
		Product  string `json:"prd"`
		NetQty   string `json:"netqty"`
		URMtoM   string `json:"urmtom"`
	}
	if err := f.postList(ctx, "/PositionBook", payload, &rows); err != nil {
		return nil, fmt.Errorf("position book: %w", err)
	}
	positions := make([]Position, 0, len(rows))
	for _, row := range rows {
		positions = append(positions, Position{
			Symbol:        row.Symbol,
			Exchange:      row.Exchange,
			Product:       row.Product,
			Quantity:      atoi(row.NetQty),
			UnrealizedPnL: atof(row.URMtoM),
		})
	}
	return positions, nil
}

func (f *Finvasia) LastPrice(ctx context.Context, exchange, token string) (float64, error) {
	payload := map[string]string{
		"uid":   f.creds.UserID,
		"exch":  exchange,
		"token": token,
	}
	var resp struct {
		Stat string `json:"stat"`
		LP   string `json:"lp"`
		EMsg string `json:"emsg"`
	}
	if err := f.post(ctx, "/GetQuotes", payload, true, &resp); err != nil {
		return 0, fmt.Errorf("quote %s|%s: %w", exchange, token, err)
	}
	if resp.Stat != "Ok" {
		return 0, fmt.Errorf("quote %s|%s rejected: %s", exchange, token, resp.EMsg)
	}
	lp := atof(resp.LP)
	if lp <= 0 {
		return 0, fmt.Errorf("quote %s|%s: empty last price", exchange, token)
	}
	return lp, nil
}

func (f *Finvasia) post(ctx context.Context, endpoint string, payload map[string]string, withKey bool, out any) error {
	body, err := f.do(ctx, endpoint, payload, withKey)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode %s response: %w", endpoint, err)
	}
	return nil
}

// postList handles endpoints that answer with either a JSON array or,
// when empty, a single {"stat":"Not_Ok"} object.
func (f *Finvasia) postList(ctx context.Context, endpoint string, payload map[string]string, out any) error {
	body, err := f.do(ctx, endpoint, payload, true)
	if err != nil {
		return err
	}
	trimmed := strings.TrimSpace(string(body))
	if !strings.HasPrefix(trimmed, "[") {
		var status struct {
			Stat string `json:"stat"`
			EMsg string `json:"emsg"`
		}
		if err := json.Unmarshal(body, &status); err == nil && strings.Contains(status.EMsg, "no data") {
			return nil
		}
		return fmt.Errorf("%s: unexpected response %q", endpoint, trimmed)
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode %s response: %w", endpoint, err)
	}
	return nil
}

func (f *Finvasia) do(ctx context.Context, endpoint string, payload map[string]string, withKey bool) ([]byte, error) {
	jData, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	body := "jData=" + string(jData)
	if withKey {
		f.mu.RLock()
		token := f.token
		f.mu.RUnlock()
		if token == "" {
			return nil, fmt.Errorf("%s: not logged in", endpoint)
		}
		body += "&jKey=" + token
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, f.base+endpoint, strings.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "text/plain")

	resp, err := f.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", endpoint, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%s: read body: %w", endpoint, err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%s: http %d: %s", endpoint, resp.StatusCode, strings.TrimSpace(string(raw)))
	}
	return raw, nil
}

func wireSide(s Side) string {
	if s == SideSell {
		return "S"
	}
	return "B"
}

func parseSide(trantype string) Side {
	if trantype == "S" {
		return SideSell
	}
	return SideBuy
}

func formatPrice(p float64) string {
	return strconv.FormatFloat(p, 'f', 2, 64)
}

func atoi(s string) int {
	v, _ := strconv.Atoi(strings.TrimSpace(s))
	return v
}

func atof(s string) float64 {
	v, _ := strconv.ParseFloat(strings.TrimSpace(s), 64)
	return v
}

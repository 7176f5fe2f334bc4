// Package symbols resolves option instruments for an underlying: ATM
// strike from the spot price, trading-symbol construction, and the
// venue's token map loaded from the published scrip master.
package symbols

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"math"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Underlying describes an index the scalper can trade options on.
type Underlying struct {
	Base           string
	Exchange       string // spot exchange, e.g. NSE
	Token          string // spot token for the underlying LTP
	OptionExchange string // derivatives exchange, e.g. NFO
	LotSize        int
	StrikeStep     int
}

var underlyings = map[string]Underlying{
	"NIFTY": {
		Base: "NIFTY", Exchange: "NSE", Token: "26000",
		OptionExchange: "NFO", LotSize: 75, StrikeStep: 50,
	},
	"BANKNIFTY": {
		Base: "BANKNIFTY", Exchange: "NSE", Token: "26009",
		OptionExchange: "NFO", LotSize: 35, StrikeStep: 100,
	},
	"FINNIFTY": {
		Base: "FINNIFTY", Exchange: "NSE", Token: "26037",
		OptionExchange: "NFO", LotSize: 65, StrikeStep: 50,
	},
}

// Lookup returns the underlying table entry for a base name.
func Lookup(base string) (Underlying, bool) {
	u, ok := underlyings[strings.ToUpper(base)]
	return u, ok
}

const masterURLFormat = "https://api.shoonya.com/%s_symbols.txt.zip"

// instrument is one option row from the scrip master.
type instrument struct {
	token      string
	optionType string // CE or PE
}

// Resolver maps between strikes, trading symbols and venue tokens for a
// single underlying and expiry.
type Resolver struct {
	underlying Underlying
	expiry     string // e.g. 10JUL25, as embedded in trading symbols
	http       *http.Client
	log        *zap.SugaredLogger

	mu       sync.RWMutex
	bySymbol map[string]instrument
}

func NewResolver(u Underlying, expiry string, log *zap.SugaredLogger) *Resolver {
	return &Resolver{
		underlying: u,
		expiry:     strings.ToUpper(expiry),
		http:       &http.Client{Timeout: 30 * time.Second},
		log:        log,
		bySymbol:   make(map[string]instrument),
	}
}

// LoadMaster downloads and indexes the scrip master for the option
// exchange. Only rows for this resolver's underlying are kept.
func (r *Resolver) LoadMaster(ctx context.Context) error {
	url := fmt.Sprintf(masterURLFormat, r.underlying.OptionExchange)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := r.http.Do(req)
	if err != nil {
		return fmt.Errorf("download scrip master: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("download scrip master: http %d", resp.StatusCode)
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read scrip master: %w", err)
	}
	zr, err := zip.NewReader(bytes.NewReader(raw), int64(len(raw)))
	if err != nil {
		return fmt.Errorf("open scrip master zip: %w", err)
	}
	if len(zr.File) == 0 {
		return fmt.Errorf("scrip master zip is empty")
	}
	inner, err := zr.File[0].Open()
	if err != nil {
		return fmt.Errorf("open scrip master entry: %w", err)
	}
	defer inner.Close()

	count, err := r.parseMaster(inner)
	if err != nil {
		return err
	}
	r.log.Infow("scrip_master_loaded", "underlying", r.underlying.Base, "instruments", count)
	return nil
}

// parseMaster indexes rows of the scrip master CSV. Columns:
// Exchange,Token,LotSize,Symbol,TradingSymbol,Expiry,Instrument,OptionType,StrikePrice,TickSize
func (r *Resolver) parseMaster(src io.Reader) (int, error) {
	reader := csv.NewReader(src)
	reader.FieldsPerRecord = -1

	index := make(map[string]instrument)
	for {
		rec, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return 0, fmt.Errorf("parse scrip master: %w", err)
		}
		if len(rec) < 8 || rec[0] == "Exchange" {
			continue
		}
		symbol := strings.TrimSpace(rec[3])
		if symbol != r.underlying.Base {
			continue
		}
		tsym := strings.TrimSpace(rec[4])
		if !strings.HasPrefix(tsym, r.underlying.Base+r.expiry) {
			continue
		}
		index[tsym] = instrument{
			token:      strings.TrimSpace(rec[1]),
			optionType: strings.TrimSpace(rec[7]),
		}
	}

	r.mu.Lock()
	r.bySymbol = index
	r.mu.Unlock()
	return len(index), nil
}

// Exchange is the derivatives venue this resolver's instruments trade on.
func (r *Resolver) Exchange() string {
	return r.underlying.OptionExchange
}

// ATM rounds the underlying's last traded price to the nearest strike.
func (r *Resolver) ATM(ltp float64) int {
	step := float64(r.underlying.StrikeStep)
	return int(math.Round(ltp/step) * step)
}

// TradingSymbol builds the venue symbol for a strike and option type
// ("C" or "P"), e.g. NIFTY10JUL25P27850.
func (r *Resolver) TradingSymbol(optType string, strike int) string {
	return fmt.Sprintf("%s%s%s%d", r.underlying.Base, r.expiry, optType, strike)
}

// Tokens returns the feed subscription map, "EXCH|token" to trading
// symbol, for calls and puts within depth strikes of the ATM.
func (r *Resolver) Tokens(atm, depth int) map[string]string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[string]string)
	for i := -depth; i <= depth; i++ {
		strike := atm + i*r.underlying.StrikeStep
		for _, optType := range []string{"C", "P"} {
			tsym := r.TradingSymbol(optType, strike)
			inst, ok := r.bySymbol[tsym]
			if !ok {
				continue
			}
			out[r.underlying.OptionExchange+"|"+inst.token] = tsym
		}
	}
	return out
}

// ClosestPremium picks the trading symbol of the given option type
// ("CE"/"PE") whose quote is nearest the wanted premium. Empty result
// means no quote matched.
func (r *Resolver) ClosestPremium(quotes map[string]float64, premium float64, optType string) string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	best := ""
	bestDiff := math.MaxFloat64
	for tsym, ltp := range quotes {
		inst, ok := r.bySymbol[tsym]
		if !ok || inst.optionType != optType {
			continue
		}
		diff := math.Abs(ltp - premium)
		if diff < bestDiff {
			bestDiff = diff
			best = tsym
		}
	}
	return best
}

// Strike parses the strike embedded in one of this resolver's trading
// symbols.
func (r *Resolver) Strike(tsym string) (int, bool) {
	prefix := r.underlying.Base + r.expiry
	if len(tsym) < len(prefix)+2 || !strings.HasPrefix(tsym, prefix) {
		return 0, false
	}
	strike, err := strconv.Atoi(tsym[len(prefix)+1:])
	if err != nil {
		return 0, false
	}
	return strike, true
}

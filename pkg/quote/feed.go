package quote

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/venkyp/scalper/pkg/metrics"
)

// Feed consumes the broker's touchline websocket and writes last traded
// prices into the cache, translating venue tokens to trading symbols.
type Feed struct {
	url     string
	uid     string
	session string
	tokens  map[string]string // "NFO|54321" -> trading symbol
	cache   *Cache
	log     *zap.SugaredLogger
}

func NewFeed(url, uid, session string, tokens map[string]string, cache *Cache, log *zap.SugaredLogger) *Feed {
	return &Feed{
		url:     url,
		uid:     uid,
		session: session,
		tokens:  tokens,
		cache:   cache,
		log:     log,
	}
}

type wireMessage struct {
	T        string `json:"t"`
	Status   string `json:"s,omitempty"`
	Exchange string `json:"e,omitempty"`
	Token    string `json:"tk,omitempty"`
	LP       string `json:"lp,omitempty"`
}

// Run maintains the websocket connection until the context is canceled,
// reconnecting with exponential backoff and resubscribing every time.
func (f *Feed) Run(ctx context.Context) error {
	backoffCfg := backoff.NewExponentialBackOff()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		conn, _, err := websocket.DefaultDialer.DialContext(ctx, f.url, nil)
		if err != nil {
			f.log.Warnw("feed_dial_failed", "url", f.url, "err", err)
			sleep := backoffCfg.NextBackOff()
			if sleep == backoff.Stop {
				sleep = time.Second
			}
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(sleep):
				continue
			}
		}

		backoffCfg.Reset()
		metrics.FeedConnects.Inc()

		err = f.sessionLoop(ctx, conn)
		conn.Close()
		if errors.Is(err, context.Canceled) {
			return err
		}
		f.log.Warnw("feed_disconnected", "err", err)

		sleep := backoffCfg.NextBackOff()
		if sleep == backoff.Stop {
			sleep = time.Second
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(sleep):
		}
	}
}

// sessionLoop authenticates, subscribes and pumps ticks into the cache
// until the connection drops or the context is canceled.
func (f *Feed) sessionLoop(ctx context.Context, conn *websocket.Conn) error {
	if err := f.connect(conn); err != nil {
		return err
	}

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return context.Canceled
			}
			return fmt.Errorf("read: %w", err)
		}

		var msg wireMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			f.log.Debugw("feed_bad_frame", "err", err)
			continue
		}

		switch msg.T {
		case "ck":
			if msg.Status != "OK" {
				return fmt.Errorf("feed auth rejected: %s", msg.Status)
			}
			if err := f.subscribe(conn); err != nil {
				return err
			}
			f.log.Infow("feed_connected", "instruments", len(f.tokens))
		case "tk", "tf":
			f.apply(msg)
		}
	}
}

func (f *Feed) connect(conn *websocket.Conn) error {
	auth := map[string]string{
		"t":          "c",
		"uid":        f.uid,
		"actid":      f.uid,
		"source":     "API",
		"susertoken": f.session,
	}
	if err := conn.WriteJSON(auth); err != nil {
		return fmt.Errorf("auth: %w", err)
	}
	return nil
}

func (f *Feed) subscribe(conn *websocket.Conn) error {
	keys := make([]string, 0, len(f.tokens))
	for key := range f.tokens {
		keys = append(keys, key)
	}
	sub := map[string]string{"t": "t", "k": strings.Join(keys, "#")}
	if err := conn.WriteJSON(sub); err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}
	return nil
}

// apply records a touchline tick. Frames without an lp field (depth-only
// updates) are ignored.
func (f *Feed) apply(msg wireMessage) {
	if msg.LP == "" {
		return
	}
	lp, err := strconv.ParseFloat(msg.LP, 64)
	if err != nil {
		f.log.Debugw("feed_bad_ltp", "lp", msg.LP, "err", err)
		return
	}
	key := msg.Exchange + "|" + msg.Token
	symbol, ok := f.tokens[key]
	if !ok {
		return
	}
	f.cache.Update(symbol, lp)
	metrics.TicksReceived.Inc()
}

package market

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"strategy-core/internal/events"
)

// BinanceFeed streams closed klines from the public Binance websocket and
// publishes them on the bus as ticks, one bar per closed candle.
type BinanceFeed struct {
	Bus      *events.Bus
	Symbol   string
	Interval string // e.g. "1m"
	Testnet  bool

	streamURL string // overrides the venue URL when set (tests)
	dialer    *websocket.Dialer
}

func (f *BinanceFeed) url() string {
	if f.streamURL != "" {
		return f.streamURL
	}
	host := "stream.binance.com:9443"
	if f.Testnet {
		host = "testnet.binance.vision"
	}
	base := (&url.URL{Scheme: "wss", Host: host, Path: "/ws"}).String()
	return fmt.Sprintf("%s/%s@kline_%s", base, strings.ToLower(f.Symbol), f.Interval)
}

// Start launches the stream loop with reconnects until ctx is cancelled.
func (f *BinanceFeed) Start(ctx context.Context) {
	if f.Bus == nil {
		log.Println("binance feed: bus not set")
		return
	}
	if f.Interval == "" {
		f.Interval = "1m"
	}
	if f.dialer == nil {
		f.dialer = websocket.DefaultDialer
	}
	go func() {
		backoff := time.Second
		for {
			if ctx.Err() != nil {
				return
			}
			if err := f.stream(ctx); err != nil {
				log.Printf("binance feed %s: %v, reconnecting in %s", f.Symbol, err, backoff)
			}
			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff):
			}
			if backoff < 30*time.Second {
				backoff *= 2
			}
		}
	}()
}

func (f *BinanceFeed) stream(ctx context.Context) error {
	conn, _, err := f.dialer.DialContext(ctx, f.url(), nil)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	defer conn.Close()

	// Close the socket when the context ends so ReadMessage unblocks.
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
		_, msg, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("read: %w", err)
		}
		bar, closed, err := parseKline(msg)
		if err != nil {
			log.Printf("binance feed %s: parse: %v", f.Symbol, err)
			continue
		}
		// Only forward closed candles; a live candle mutates until close.
		if !closed {
			continue
		}
		f.Bus.Publish(events.EventBar, Tick{Symbol: f.Symbol, Bar: bar})
	}
}

func parseKline(msg []byte) (Bar, bool, error) {
	var raw struct {
		Data struct {
			StartTime int64  `json:"t"`
			Closed    bool   `json:"x"`
			Open      string `json:"o"`
			Close     string `json:"c"`
			High      string `json:"h"`
			Low       string `json:"l"`
			Volume    string `json:"v"`
		} `json:"k"`
	}
	if err := json.Unmarshal(msg, &raw); err != nil {
		return Bar{}, false, err
	}
	return Bar{
		Timestamp: time.UnixMilli(raw.Data.StartTime).UTC(),
		Open:      toFloat(raw.Data.Open),
		High:      toFloat(raw.Data.High),
		Low:       toFloat(raw.Data.Low),
		Close:     toFloat(raw.Data.Close),
		Volume:    toFloat(raw.Data.Volume),
	}, raw.Data.Closed, nil
}

package market

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"strategy-core/internal/events"
)

func TestParseKline(t *testing.T) {
	msg := []byte(`{"k":{"t":1704067200000,"x":true,"o":"100.0","c":"101.5","h":"102.0","l":"99.5","v":"350.0"}}`)
	bar, closed, err := parseKline(msg)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if !closed {
		t.Fatal("closed flag lost")
	}
	if bar.Close != 101.5 || bar.High != 102.0 || bar.Low != 99.5 {
		t.Fatalf("bar = %+v", bar)
	}
	want := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	if !bar.Timestamp.Equal(want) {
		t.Fatalf("timestamp = %v", bar.Timestamp)
	}
}

func TestParseKlineRejectsGarbage(t *testing.T) {
	if _, _, err := parseKline([]byte("not json")); err == nil {
		t.Fatal("expected error")
	}
}

func TestBinanceFeedPublishesClosedBars(t *testing.T) {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		frames := []string{
			`{"k":{"t":1704067200000,"x":false,"o":"100","c":"100.5","h":"101","l":"99","v":"10"}}`,
			`{"k":{"t":1704067200000,"x":true,"o":"100","c":"101","h":"101","l":"99","v":"42"}}`,
		}
		for _, f := range frames {
			if err := conn.WriteMessage(websocket.TextMessage, []byte(f)); err != nil {
				return
			}
		}
		// Hold the socket open until the client goes away.
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	bus := events.NewBus()
	defer bus.Close()
	ticks, unsub := bus.Subscribe(events.EventBar, 10)
	defer unsub()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	feed := &BinanceFeed{
		Bus:       bus,
		Symbol:    "BTCUSDT",
		Interval:  "1m",
		streamURL: "ws" + strings.TrimPrefix(srv.URL, "http"),
	}
	feed.Start(ctx)

	select {
	case msg := <-ticks:
		tick, ok := msg.(Tick)
		if !ok {
			t.Fatalf("payload = %T", msg)
		}
		if tick.Symbol != "BTCUSDT" {
			t.Fatalf("symbol = %q", tick.Symbol)
		}
		// The open (x:false) candle must have been skipped.
		if tick.Bar.Close != 101 || tick.Bar.Volume != 42 {
			t.Fatalf("bar = %+v", tick.Bar)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no tick published")
	}
}

package market

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"strategy-core/pkg/cache"
)

// BinanceProvider fetches historical klines from the public Binance REST
// API. Responses are cached briefly so repeated backtests over the same
// window do not refetch.
type BinanceProvider struct {
	baseURL    string
	httpClient *http.Client
	bars       *cache.Sharded[[]Bar]
	cacheTTL   time.Duration
}

// NewBinanceProvider builds a provider; testnet switches base URLs.
func NewBinanceProvider(testnet bool) *BinanceProvider {
	base := "https://api.binance.com"
	if testnet {
		base = "https://testnet.binance.vision"
	}
	return &BinanceProvider{
		baseURL:    base,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		bars:       cache.New[[]Bar](),
		cacheTTL:   time.Minute,
	}
}

// GetBars implements HistoricalProvider over the /api/v3/klines endpoint.
// Binance caps one request at 1000 klines; longer ranges page forward.
func (p *BinanceProvider) GetBars(ctx context.Context, symbol, resolution string, from, to time.Time) ([]Bar, error) {
	key := fmt.Sprintf("%s|%s|%d|%d", symbol, resolution, from.UnixMilli(), to.UnixMilli())
	if cached, ok := p.bars.GetFresh(key, p.cacheTTL); ok {
		return cached, nil
	}

	var out []Bar
	cursor := from
	for cursor.Before(to) {
		page, err := p.fetch(ctx, symbol, resolution, cursor, to)
		if err != nil {
			return nil, err
		}
		if len(page) == 0 {
			break
		}
		out = append(out, page...)
		last := page[len(page)-1].Timestamp
		if !last.After(cursor) {
			break
		}
		cursor = last.Add(time.Millisecond)
	}

	p.bars.Set(key, out)
	return out, nil
}

func (p *BinanceProvider) fetch(ctx context.Context, symbol, resolution string, from, to time.Time) ([]Bar, error) {
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("interval", resolution)
	params.Set("startTime", strconv.FormatInt(from.UnixMilli(), 10))
	params.Set("endTime", strconv.FormatInt(to.UnixMilli(), 10))
	params.Set("limit", "1000")

	u := fmt.Sprintf("%s/api/v3/klines?%s", p.baseURL, params.Encode())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	res, err := p.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("binance klines status %d", res.StatusCode)
	}

	var raw [][]any
	if err := json.NewDecoder(res.Body).Decode(&raw); err != nil {
		return nil, err
	}

	bars := make([]Bar, 0, len(raw))
	for _, item := range raw {
		// klines come back as 12-element arrays
		if len(item) < 6 {
			continue
		}
		bars = append(bars, Bar{
			Timestamp: time.UnixMilli(toInt64(item[0])).UTC(),
			Open:      toFloat(item[1]),
			High:      toFloat(item[2]),
			Low:       toFloat(item[3]),
			Close:     toFloat(item[4]),
			Volume:    toFloat(item[5]),
		})
	}
	return bars, nil
}

func toFloat(v any) float64 {
	switch t := v.(type) {
	case float64:
		return t
	case string:
		f, _ := strconv.ParseFloat(t, 64)
		return f
	default:
		return 0
	}
}

func toInt64(v any) int64 {
	switch t := v.(type) {
	case float64:
		return int64(t)
	case string:
		n, _ := strconv.ParseInt(t, 10, 64)
		return n
	default:
		return 0
	}
}

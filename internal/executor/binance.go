package executor

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Credentials are one account's venue API keys, resolved per request so
// rotation takes effect without a restart.
type Credentials struct {
	APIKey    string
	APISecret string
	Testnet   bool
}

// CredentialSource resolves the credentials for a named account.
type CredentialSource interface {
	Credentials(ctx context.Context, account string) (Credentials, error)
}

// BinanceGateway places orders on Binance USDT-M futures. It implements
// both OrderPlacer and SessionChecker: a session is active when the account
// has resolvable, non-empty credentials.
type BinanceGateway struct {
	creds      CredentialSource
	httpClient *http.Client
	recvWindow int64
	base       string // overrides the venue URL when set (tests)
}

// NewBinanceGateway builds a gateway over the given credential source.
func NewBinanceGateway(creds CredentialSource) *BinanceGateway {
	return &BinanceGateway{
		creds:      creds,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		recvWindow: 5000,
	}
}

func baseURL(testnet bool) string {
	if testnet {
		return "https://testnet.binancefuture.com"
	}
	return "https://fapi.binance.com"
}

// formatScaled renders a fixed-point integer as an exact decimal string.
func formatScaled(v int64, precision int32) string {
	return decimal.New(v, -precision).String()
}

func toVenueType(kind string) (string, error) {
	switch kind {
	case "market":
		return "MARKET", nil
	case "limit":
		return "LIMIT", nil
	case "stop":
		return "STOP_MARKET", nil
	case "stop_limit":
		return "STOP", nil
	default:
		return "", fmt.Errorf("unsupported order kind %q", kind)
	}
}

func fromVenueStatus(status string) PlacementStatus {
	switch status {
	case "NEW":
		return PlacementOpen
	case "PARTIALLY_FILLED":
		return PlacementPartial
	case "FILLED":
		return PlacementFilled
	case "CANCELED", "EXPIRED", "REJECTED":
		return PlacementCancelled
	default:
		return PlacementOpen
	}
}

// HasActiveSession reports whether the account's credentials resolve.
func (g *BinanceGateway) HasActiveSession(account string) bool {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	c, err := g.creds.Credentials(ctx, account)
	return err == nil && c.APIKey != "" && c.APISecret != ""
}

// PlaceOrder submits one signed order and maps the venue response.
func (g *BinanceGateway) PlaceOrder(ctx context.Context, req PlacementRequest) (PlacementResult, error) {
	creds, err := g.creds.Credentials(ctx, req.Account)
	if err != nil {
		return PlacementResult{}, fmt.Errorf("resolve credentials for %s: %w", req.Account, err)
	}

	venueType, err := toVenueType(req.Kind)
	if err != nil {
		return PlacementResult{}, err
	}

	params := url.Values{}
	params.Set("symbol", req.Symbol)
	params.Set("side", strings.ToUpper(req.Side))
	params.Set("type", venueType)
	params.Set("quantity", formatScaled(req.Quantity, req.QuantityPrecision))
	if venueType == "LIMIT" || venueType == "STOP" {
		params.Set("price", formatScaled(req.Price, req.PricePrecision))
		params.Set("timeInForce", "GTC")
	}
	if venueType == "STOP_MARKET" || venueType == "STOP" {
		params.Set("stopPrice", formatScaled(req.Price, req.PricePrecision))
	}
	if req.ClientID != "" {
		params.Set("newClientOrderId", req.ClientID)
	}
	params.Set("timestamp", strconv.FormatInt(time.Now().UnixMilli(), 10))
	params.Set("recvWindow", strconv.FormatInt(g.recvWindow, 10))

	base := g.base
	if base == "" {
		base = baseURL(creds.Testnet)
	}
	body, err := g.doSigned(ctx, creds, http.MethodPost, base+"/fapi/v1/order", params)
	if err != nil {
		return PlacementResult{}, err
	}

	var resp struct {
		OrderID     int64  `json:"orderId"`
		Status      string `json:"status"`
		ExecutedQty string `json:"executedQty"`
		AvgPrice    string `json:"avgPrice"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return PlacementResult{}, fmt.Errorf("decode order response: %w", err)
	}

	return PlacementResult{
		VenueOrderID: strconv.FormatInt(resp.OrderID, 10),
		Status:       fromVenueStatus(resp.Status),
		FilledQty:    parseScaled(resp.ExecutedQty, req.QuantityPrecision),
		AvgPrice:     parseScaled(resp.AvgPrice, req.PricePrecision),
	}, nil
}

// parseScaled converts a venue decimal string to a fixed-point integer,
// truncating excess precision.
func parseScaled(s string, precision int32) int64 {
	if s == "" {
		return 0
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0
	}
	return d.Shift(precision).Truncate(0).IntPart()
}

func (g *BinanceGateway) doSigned(ctx context.Context, creds Credentials, method, endpoint string, params url.Values) ([]byte, error) {
	mac := hmac.New(sha256.New, []byte(creds.APISecret))
	mac.Write([]byte(params.Encode()))
	params.Set("signature", hex.EncodeToString(mac.Sum(nil)))

	var (
		req *http.Request
		err error
	)
	encoded := params.Encode()
	switch method {
	case http.MethodGet, http.MethodDelete:
		req, err = http.NewRequestWithContext(ctx, method, endpoint+"?"+encoded, nil)
	default:
		req, err = http.NewRequestWithContext(ctx, method, endpoint, strings.NewReader(encoded))
		if req != nil {
			req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		}
	}
	if err != nil {
		return nil, err
	}
	req.Header.Set("X-MBX-APIKEY", creds.APIKey)

	res, err := g.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()

	body, _ := io.ReadAll(res.Body)
	if res.StatusCode >= 300 {
		return nil, fmt.Errorf("binance %s %s status %d: %s", method, endpoint, res.StatusCode, string(body))
	}
	return body, nil
}

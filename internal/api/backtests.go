package api

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"strategy-core/internal/backtest"
	"strategy-core/internal/market"
	"strategy-core/internal/sandbox"
	"strategy-core/internal/strategy"
	"strategy-core/pkg/db"
)

type backtestRequest struct {
	Symbol         string         `json:"symbol"`
	InitialCapital float64        `json:"initial_capital"`
	FeeRate        float64        `json:"fee_rate"`
	SlippagePct    float64        `json:"slippage_pct"`
	Params         map[string]any `json:"params"`

	// Bar source, in priority order: explicit bars, a historical range
	// (interval + from/to), or a synthetic series.
	Bars       []market.Bar `json:"bars"`
	Interval   string       `json:"interval"`
	From       time.Time    `json:"from"`
	To         time.Time    `json:"to"`
	BarCount   int          `json:"bar_count"`
	StartPrice float64      `json:"start_price"`
	Step       float64      `json:"step"`
	IntervalMs int          `json:"interval_ms"`
	Seed       int64        `json:"seed"`
}

func (r *backtestRequest) applyDefaults(cfg serverDefaults) {
	if r.Symbol == "" {
		r.Symbol = cfg.symbol
	}
	if r.InitialCapital == 0 {
		r.InitialCapital = cfg.initialCapital
	}
	if r.FeeRate == 0 {
		r.FeeRate = cfg.feeRate
	}
	if r.SlippagePct == 0 {
		r.SlippagePct = cfg.slippagePct
	}
}

// resolveBars picks the bar series for a run.
func (s *Server) resolveBars(ctx context.Context, req *backtestRequest) ([]market.Bar, error) {
	if len(req.Bars) > 0 {
		return req.Bars, nil
	}
	if req.Interval != "" {
		if s.history == nil {
			return nil, errors.New("no historical data provider configured")
		}
		return s.history.GetBars(ctx, req.Symbol, req.Interval, req.From, req.To)
	}
	return req.synthetic(), nil
}

func (r *backtestRequest) synthetic() []market.Bar {
	count := r.BarCount
	if count <= 0 {
		count = 500
	}
	startPrice := r.StartPrice
	if startPrice <= 0 {
		startPrice = 100
	}
	step := r.Step
	if step <= 0 {
		step = 0.5
	}
	interval := time.Duration(r.IntervalMs) * time.Millisecond
	if interval <= 0 {
		interval = time.Hour
	}
	start := time.Now().UTC().Add(-time.Duration(count) * interval)
	return market.GenerateBars(start, interval, count, startPrice, step, r.Seed)
}

// strategyPolicy decodes the stored policy document, falling back to the
// sandbox defaults on an empty or unparseable value.
func strategyPolicy(rec db.Strategy) sandbox.Policy {
	var pc strategy.PolicyConfig
	if err := json.Unmarshal([]byte(rec.Policy), &pc); err != nil {
		return sandbox.DefaultPolicy()
	}
	return pc.Policy()
}

func strategyParams(rec db.Strategy) map[string]any {
	var params map[string]any
	if err := json.Unmarshal([]byte(rec.Params), &params); err != nil {
		return nil
	}
	return params
}

func (s *Server) handleRunBacktest(c *gin.Context) {
	rec, err := s.db.GetStrategy(c.Request.Context(), c.Param("id"))
	if errors.Is(err, db.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"code": "NOT_FOUND", "error": "strategy not found"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"code": "INTERNAL", "error": err.Error()})
		return
	}

	var req backtestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": "BAD_REQUEST", "error": err.Error()})
		return
	}
	req.applyDefaults(s.defaults())

	params := req.Params
	if params == nil {
		params = strategyParams(rec)
	}
	cfg := backtest.Config{
		StrategyID:     rec.ID,
		Symbol:         req.Symbol,
		InitialCapital: req.InitialCapital,
		FeeRate:        req.FeeRate,
		SlippagePct:    req.SlippagePct,
		Params:         params,
	}

	paramsDoc, _ := json.Marshal(params)
	stored := db.BacktestConfig{
		ID:             uuid.NewString(),
		StrategyID:     rec.ID,
		Symbol:         cfg.Symbol,
		InitialCapital: cfg.InitialCapital,
		FeeRate:        cfg.FeeRate,
		SlippagePct:    cfg.SlippagePct,
		Params:         string(paramsDoc),
	}
	if err := s.db.CreateBacktestConfig(c.Request.Context(), stored); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"code": "INTERNAL", "error": err.Error()})
		return
	}

	bars, err := s.resolveBars(c.Request.Context(), &req)
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"code": "DATA_UNAVAILABLE", "error": err.Error()})
		return
	}

	runID := s.backtests.Start(context.Background(), cfg, rec.Code, strategyPolicy(rec), bars, func(res *backtest.Result) {
		s.persistBacktest(stored.ID, res)
	})
	c.JSON(http.StatusAccepted, gin.H{"id": runID, "config_id": stored.ID})
}

func (s *Server) persistBacktest(configID string, res *backtest.Result) {
	metrics, _ := json.Marshal(res.Metrics)
	curve, _ := json.Marshal(res.EquityCurve)
	trades, _ := json.Marshal(res.Trades)
	record := db.BacktestResult{
		ID:          res.ID,
		ConfigID:    configID,
		StrategyID:  res.Config.StrategyID,
		Status:      string(res.Status),
		Error:       res.Error,
		StartedAt:   res.StartedAt,
		FinishedAt:  res.FinishedAt,
		Metrics:     string(metrics),
		EquityCurve: string(curve),
		Trades:      string(trades),
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.db.SaveBacktestResult(ctx, record); err != nil {
		log.Printf("api: persist backtest %s: %v", res.ID, err)
	}
}

func (s *Server) handleGetBacktest(c *gin.Context) {
	id := c.Param("id")
	if res, ok := s.backtests.Get(id); ok {
		c.JSON(http.StatusOK, res)
		return
	}
	stored, err := s.db.GetBacktestResult(c.Request.Context(), id)
	if errors.Is(err, db.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"code": "NOT_FOUND", "error": "backtest not found"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"code": "INTERNAL", "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, stored)
}

func (s *Server) handleListBacktests(c *gin.Context) {
	list, err := s.db.ListBacktestResults(c.Request.Context(), c.Param("id"), 50)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"code": "INTERNAL", "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"results": list})
}

func (s *Server) handleCancelBacktest(c *gin.Context) {
	if err := s.backtests.Cancel(c.Param("id")); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"code": "NOT_FOUND", "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"cancelled": c.Param("id")})
}

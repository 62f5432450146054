package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"strategy-core/internal/events"
	"strategy-core/internal/market"
	"strategy-core/internal/paper"
	"strategy-core/internal/runner"
	"strategy-core/pkg/db"
)

type sessionRequest struct {
	Mode           string  `json:"mode"`
	Symbol         string  `json:"symbol"`
	InitialCapital float64 `json:"initial_capital"`
	FeeRate        float64 `json:"fee_rate"`
	SlippagePct    float64 `json:"slippage_pct"`
	QueueSize      int     `json:"queue_size"`
	Account        string  `json:"account"`
	Restore        bool    `json:"restore"`
}

func (s *Server) handleStartSession(c *gin.Context) {
	id := c.Param("id")
	rec, err := s.db.GetStrategy(c.Request.Context(), id)
	if errors.Is(err, db.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"code": "NOT_FOUND", "error": "strategy not found"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"code": "INTERNAL", "error": err.Error()})
		return
	}

	var req sessionRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		c.JSON(http.StatusBadRequest, gin.H{"code": "BAD_REQUEST", "error": err.Error()})
		return
	}
	defaults := s.defaults()
	if req.Mode == "" {
		req.Mode = s.cfg.TradingMode
	}
	if req.Symbol == "" {
		req.Symbol = defaults.symbol
	}
	if req.InitialCapital == 0 {
		req.InitialCapital = defaults.initialCapital
	}
	if req.FeeRate == 0 {
		req.FeeRate = defaults.feeRate
	}
	if req.SlippagePct == 0 {
		req.SlippagePct = defaults.slippagePct
	}
	if req.Account == "" {
		req.Account = s.cfg.Account
	}
	mode := runner.Mode(req.Mode)
	if mode != runner.ModePaper && mode != runner.ModeLive {
		c.JSON(http.StatusBadRequest, gin.H{"code": "BAD_REQUEST", "error": "mode must be paper or live"})
		return
	}

	cfg := runner.Config{
		Symbol:         req.Symbol,
		Mode:           mode,
		InitialCapital: req.InitialCapital,
		FeeRate:        req.FeeRate,
		SlippagePct:    req.SlippagePct,
		QueueSize:      req.QueueSize,
		Account:        req.Account,
		Params:         strategyParams(rec),
		Policy:         strategyPolicy(rec),
		Limits:         s.cfg.RiskLimits(),
	}
	r := runner.New(cfg, rec.Code, s.bus)
	if mode == runner.ModeLive {
		r.SetLive(s.liveExec, s.liveSessions)
	}
	if err := s.sessions.Register(id, r); err != nil {
		c.JSON(http.StatusConflict, gin.H{"code": "CONFLICT", "error": err.Error()})
		return
	}
	if err := r.Start(c.Request.Context()); err != nil {
		s.sessions.Remove(id)
		c.JSON(http.StatusUnprocessableEntity, gin.H{"code": "START_FAILED", "error": err.Error()})
		return
	}

	if req.Restore && mode == runner.ModePaper {
		if err := s.restorePaperState(c.Request.Context(), id, r); err != nil {
			log.Printf("api: restore paper state for %s: %v", id, err)
		}
	}

	s.startBarPump(id, req.Symbol, r)
	c.JSON(http.StatusCreated, r.Status())
}

func (s *Server) restorePaperState(ctx context.Context, strategyID string, r *runner.Runner) error {
	rec, err := s.db.LatestPaperState(ctx, strategyID)
	if errors.Is(err, db.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	var st paper.State
	if err := json.Unmarshal([]byte(rec.State), &st); err != nil {
		return err
	}
	return r.RestorePaper(st)
}

// startBarPump forwards bus bar ticks for the session's symbol into its
// queue. The pump ends when the subscription is cancelled or the bus closes.
func (s *Server) startBarPump(strategyID, symbol string, r *runner.Runner) {
	ch, unsub := s.bus.Subscribe(events.EventBar, 256)
	s.pumpMu.Lock()
	s.pumps[strategyID] = unsub
	s.pumpMu.Unlock()

	go func() {
		for msg := range ch {
			tick, ok := msg.(market.Tick)
			if !ok || tick.Symbol != symbol {
				continue
			}
			if err := r.OnBar(tick.Bar); err != nil {
				log.Printf("api: session %s dropped bar: %v", strategyID, err)
			}
		}
	}()
}

func (s *Server) stopBarPump(strategyID string) {
	s.pumpMu.Lock()
	unsub, ok := s.pumps[strategyID]
	delete(s.pumps, strategyID)
	s.pumpMu.Unlock()
	if ok {
		unsub()
	}
}

func (s *Server) session(c *gin.Context) (*runner.Runner, string, bool) {
	id := c.Param("id")
	r, ok := s.sessions.Get(id)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"code": "NOT_FOUND", "error": "no session for strategy"})
		return nil, id, false
	}
	return r, id, true
}

func (s *Server) handleSessionStatus(c *gin.Context) {
	r, _, ok := s.session(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, r.Status())
}

func (s *Server) handleListSessions(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"sessions": s.sessions.List()})
}

func (s *Server) handleStopSession(c *gin.Context) {
	r, id, ok := s.session(c)
	if !ok {
		return
	}
	s.stopBarPump(id)
	if err := r.Stop(); err != nil {
		c.JSON(http.StatusConflict, gin.H{"code": "CONFLICT", "error": err.Error()})
		return
	}
	s.savePaperState(c.Request.Context(), id, r)
	final := r.Status()
	s.sessions.Remove(id)
	c.JSON(http.StatusOK, final)
}

func (s *Server) savePaperState(ctx context.Context, strategyID string, r *runner.Runner) {
	st, ok := r.SnapshotPaper()
	if !ok {
		return
	}
	doc, err := json.Marshal(st)
	if err != nil {
		log.Printf("api: marshal paper state for %s: %v", strategyID, err)
		return
	}
	rec := db.PaperState{ID: uuid.NewString(), StrategyID: strategyID, State: string(doc)}
	if err := s.db.SavePaperState(ctx, rec); err != nil {
		log.Printf("api: save paper state for %s: %v", strategyID, err)
	}
}

func (s *Server) handlePauseSession(c *gin.Context) {
	r, _, ok := s.session(c)
	if !ok {
		return
	}
	if err := r.Pause(); err != nil {
		c.JSON(http.StatusConflict, gin.H{"code": "CONFLICT", "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, r.Status())
}

func (s *Server) handleResumeSession(c *gin.Context) {
	r, _, ok := s.session(c)
	if !ok {
		return
	}
	if err := r.Resume(); err != nil {
		c.JSON(http.StatusConflict, gin.H{"code": "CONFLICT", "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, r.Status())
}

func (s *Server) handleEmergencyStop(c *gin.Context) {
	r, id, ok := s.session(c)
	if !ok {
		return
	}
	s.stopBarPump(id)
	if err := r.EmergencyStop(); err != nil {
		c.JSON(http.StatusConflict, gin.H{"code": "CONFLICT", "error": err.Error()})
		return
	}
	s.savePaperState(c.Request.Context(), id, r)
	final := r.Status()
	s.sessions.Remove(id)
	c.JSON(http.StatusOK, final)
}

func (s *Server) handleRiskResume(c *gin.Context) {
	r, _, ok := s.session(c)
	if !ok {
		return
	}
	mgr := r.Risk()
	if mgr == nil {
		c.JSON(http.StatusConflict, gin.H{"code": "CONFLICT", "error": "session has no risk manager"})
		return
	}
	mgr.Resume()
	c.JSON(http.StatusOK, gin.H{"risk": mgr.Status()})
}

package api

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"strategy-core/internal/backtest"
	"strategy-core/internal/events"
	"strategy-core/internal/executor"
	"strategy-core/internal/market"
	"strategy-core/internal/monitor"
	"strategy-core/internal/runner"
	"strategy-core/pkg/config"
	"strategy-core/pkg/crypto"
	"strategy-core/pkg/db"
)

// Server is the HTTP surface over the strategy core.
type Server struct {
	Router *gin.Engine

	bus       *events.Bus
	db        *db.Database
	backtests *backtest.Engine
	sessions  *runner.Manager
	cfg       *config.Config
	jwtSecret string

	liveExec     *executor.Executor
	liveSessions executor.SessionChecker
	history      market.HistoricalProvider
	secrets      *crypto.Encryptor
	metrics      *monitor.Metrics

	pumpMu sync.Mutex
	pumps  map[string]func()
}

// Options bundle the server's collaborators. LiveExec and LiveSessions are
// optional; without them only paper sessions can start.
type Options struct {
	Bus          *events.Bus
	DB           *db.Database
	Backtests    *backtest.Engine
	Sessions     *runner.Manager
	Config       *config.Config
	LiveExec     *executor.Executor
	LiveSessions executor.SessionChecker
	History      market.HistoricalProvider
	Secrets      *crypto.Encryptor
	Metrics      *monitor.Metrics
}

// NewServer builds the router with the full middleware stack and all routes.
func NewServer(opts Options) *Server {
	s := &Server{
		bus:          opts.Bus,
		db:           opts.DB,
		backtests:    opts.Backtests,
		sessions:     opts.Sessions,
		cfg:          opts.Config,
		jwtSecret:    opts.Config.JWTSecret,
		liveExec:     opts.LiveExec,
		liveSessions: opts.LiveSessions,
		history:      opts.History,
		secrets:      opts.Secrets,
		metrics:      opts.Metrics,
		pumps:        make(map[string]func()),
	}
	if s.metrics == nil {
		s.metrics = monitor.NewMetrics()
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(RequestIDMiddleware())
	router.Use(RequestLogger())
	router.Use(RateLimitMiddleware(20, 40))
	router.Use(CORSMiddleware())

	router.GET("/health", s.handleHealth)
	router.GET("/ws", s.handleWebSocket)

	// Long-lived websocket streams skip the timeout budget.
	apiGroup := router.Group("/api", TimeoutMiddleware(30*time.Second))
	{
		auth := apiGroup.Group("/auth")
		auth.POST("/register", s.handleRegister)
		auth.POST("/login", s.handleLogin)

		protected := apiGroup.Group("")
		protected.Use(s.AuthMiddleware())
		{
			protected.GET("/strategies", s.handleListStrategies)
			protected.POST("/strategies", s.handleCreateStrategy)
			protected.POST("/strategies/validate", s.handleValidateStrategy)
			protected.POST("/strategies/import", s.handleImportStrategy)
			protected.GET("/strategies/:id", s.handleGetStrategy)
			protected.PUT("/strategies/:id", s.handleUpdateStrategy)
			protected.DELETE("/strategies/:id", s.handleDeleteStrategy)
			protected.GET("/strategies/:id/export", s.handleExportStrategy)

			protected.POST("/strategies/:id/backtests", s.handleRunBacktest)
			protected.GET("/strategies/:id/backtests", s.handleListBacktests)
			protected.GET("/backtests/:id", s.handleGetBacktest)
			protected.POST("/backtests/:id/cancel", s.handleCancelBacktest)

			protected.GET("/accounts", s.handleListAccounts)
			protected.POST("/accounts", s.handleCreateAccount)
			protected.DELETE("/accounts/:name", s.handleDeleteAccount)

			protected.GET("/metrics", s.handleMetrics)

			protected.GET("/sessions", s.handleListSessions)
			protected.POST("/strategies/:id/session", s.handleStartSession)
			protected.GET("/strategies/:id/session", s.handleSessionStatus)
			protected.DELETE("/strategies/:id/session", s.handleStopSession)
			protected.POST("/strategies/:id/session/pause", s.handlePauseSession)
			protected.POST("/strategies/:id/session/resume", s.handleResumeSession)
			protected.POST("/strategies/:id/session/emergency-stop", s.handleEmergencyStop)
			protected.POST("/strategies/:id/session/risk/resume", s.handleRiskResume)
		}
	}

	s.Router = router
	return s
}

type serverDefaults struct {
	symbol         string
	initialCapital float64
	feeRate        float64
	slippagePct    float64
}

func (s *Server) defaults() serverDefaults {
	d := serverDefaults{
		initialCapital: s.cfg.InitialCapital,
		feeRate:        s.cfg.FeeRate,
		slippagePct:    s.cfg.SlippagePct,
	}
	if len(s.cfg.Symbols) > 0 {
		d.symbol = s.cfg.Symbols[0]
	}
	return d
}

func (s *Server) handleMetrics(c *gin.Context) {
	c.JSON(http.StatusOK, s.metrics.Snapshot())
}

// Start blocks serving HTTP on addr.
func (s *Server) Start(addr string) error {
	return s.Router.Run(addr)
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "time": time.Now().UTC()})
}

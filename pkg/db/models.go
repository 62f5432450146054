package db

import "time"

// User is an API account. The password is stored as a bcrypt hash.
type User struct {
	ID           string    `json:"id"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
}

// Account holds venue credentials, encrypted at rest. The ciphertext
// columns never leave the process decrypted except to sign venue requests.
type Account struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	Venue        string    `json:"venue"`
	APIKeyEnc    string    `json:"-"`
	APISecretEnc string    `json:"-"`
	Testnet      bool      `json:"testnet"`
	CreatedAt    time.Time `json:"created_at"`
}

// Strategy is a stored user script plus its declared configuration. Params
// and Policy are JSON documents; Checksum is the SHA-256 of code and params.
type Strategy struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Code      string    `json:"code"`
	Params    string    `json:"params"`
	Policy    string    `json:"policy"`
	Checksum  string    `json:"checksum"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// BacktestConfig is a stored backtest parameterization.
type BacktestConfig struct {
	ID             string    `json:"id"`
	StrategyID     string    `json:"strategy_id"`
	Symbol         string    `json:"symbol"`
	InitialCapital float64   `json:"initial_capital"`
	FeeRate        float64   `json:"fee_rate"`
	SlippagePct    float64   `json:"slippage_pct"`
	Params         string    `json:"params"`
	CreatedAt      time.Time `json:"created_at"`
}

// BacktestResult is a finished (or failed) run. Metrics, EquityCurve, and
// Trades are JSON documents serialized by the caller.
type BacktestResult struct {
	ID          string     `json:"id"`
	ConfigID    string     `json:"config_id,omitempty"`
	StrategyID  string     `json:"strategy_id"`
	Status      string     `json:"status"`
	Error       string     `json:"error,omitempty"`
	StartedAt   time.Time  `json:"started_at"`
	FinishedAt  *time.Time `json:"finished_at,omitempty"`
	Metrics     string     `json:"metrics"`
	EquityCurve string     `json:"equity_curve"`
	Trades      string     `json:"trades"`
}

// PaperState is one serialized paper-book snapshot for a strategy.
type PaperState struct {
	ID         string    `json:"id"`
	StrategyID string    `json:"strategy_id"`
	State      string    `json:"state"`
	CreatedAt  time.Time `json:"created_at"`
}

package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// ----------------------------------------
// User queries
// ----------------------------------------

// CreateUser inserts a user with an already-hashed password.
func (d *Database) CreateUser(ctx context.Context, u User) error {
	_, err := d.DB.ExecContext(ctx, `
		INSERT INTO users (id, email, password_hash, created_at)
		VALUES (?, ?, ?, ?)
	`, u.ID, u.Email, u.PasswordHash, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

// GetUserByEmail fetches one user by email.
func (d *Database) GetUserByEmail(ctx context.Context, email string) (User, error) {
	row := d.DB.QueryRowContext(ctx, `
		SELECT id, email, password_hash, created_at
		FROM users WHERE email = ?
	`, email)
	var u User
	err := row.Scan(&u.ID, &u.Email, &u.PasswordHash, &u.CreatedAt)
	if err == sql.ErrNoRows {
		return User{}, ErrNotFound
	}
	if err != nil {
		return User{}, fmt.Errorf("scan user: %w", err)
	}
	return u, nil
}

// ----------------------------------------
// Account queries
// ----------------------------------------

// CreateAccount inserts a venue credential set.
func (d *Database) CreateAccount(ctx context.Context, a Account) error {
	_, err := d.DB.ExecContext(ctx, `
		INSERT INTO accounts (id, name, venue, api_key_enc, api_secret_enc, testnet, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, a.ID, a.Name, a.Venue, a.APIKeyEnc, a.APISecretEnc, a.Testnet, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("insert account: %w", err)
	}
	return nil
}

// GetAccountByName fetches one account by its unique name.
func (d *Database) GetAccountByName(ctx context.Context, name string) (Account, error) {
	row := d.DB.QueryRowContext(ctx, `
		SELECT id, name, venue, api_key_enc, api_secret_enc, testnet, created_at
		FROM accounts WHERE name = ?
	`, name)
	var a Account
	err := row.Scan(&a.ID, &a.Name, &a.Venue, &a.APIKeyEnc, &a.APISecretEnc, &a.Testnet, &a.CreatedAt)
	if err == sql.ErrNoRows {
		return Account{}, ErrNotFound
	}
	if err != nil {
		return Account{}, fmt.Errorf("scan account: %w", err)
	}
	return a, nil
}

// ListAccounts returns all accounts, oldest first.
func (d *Database) ListAccounts(ctx context.Context) ([]Account, error) {
	rows, err := d.DB.QueryContext(ctx, `
		SELECT id, name, venue, api_key_enc, api_secret_enc, testnet, created_at
		FROM accounts ORDER BY created_at
	`)
	if err != nil {
		return nil, fmt.Errorf("list accounts: %w", err)
	}
	defer rows.Close()
	var out []Account
	for rows.Next() {
		var a Account
		if err := rows.Scan(&a.ID, &a.Name, &a.Venue, &a.APIKeyEnc, &a.APISecretEnc, &a.Testnet, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan account: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// DeleteAccount removes an account by name.
func (d *Database) DeleteAccount(ctx context.Context, name string) error {
	res, err := d.DB.ExecContext(ctx, `DELETE FROM accounts WHERE name = ?`, name)
	if err != nil {
		return fmt.Errorf("delete account: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// ----------------------------------------
// Strategy queries
// ----------------------------------------

// CreateStrategy inserts a strategy, computing its checksum from the code
// and params.
func (d *Database) CreateStrategy(ctx context.Context, s Strategy) error {
	now := time.Now().UTC()
	_, err := d.DB.ExecContext(ctx, `
		INSERT INTO strategies (id, name, code, params, policy, checksum, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, s.ID, s.Name, s.Code, s.Params, s.Policy, Checksum(s.Code, s.Params), now, now)
	if err != nil {
		return fmt.Errorf("insert strategy: %w", err)
	}
	return nil
}

// UpdateStrategy replaces a strategy's code, params, and policy, refreshing
// the checksum.
func (d *Database) UpdateStrategy(ctx context.Context, s Strategy) error {
	res, err := d.DB.ExecContext(ctx, `
		UPDATE strategies SET name = ?, code = ?, params = ?, policy = ?, checksum = ?, updated_at = ?
		WHERE id = ?
	`, s.Name, s.Code, s.Params, s.Policy, Checksum(s.Code, s.Params), time.Now().UTC(), s.ID)
	if err != nil {
		return fmt.Errorf("update strategy: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// GetStrategy fetches one strategy by id.
func (d *Database) GetStrategy(ctx context.Context, id string) (Strategy, error) {
	row := d.DB.QueryRowContext(ctx, `
		SELECT id, name, code, params, policy, checksum, created_at, updated_at
		FROM strategies WHERE id = ?
	`, id)
	var s Strategy
	err := row.Scan(&s.ID, &s.Name, &s.Code, &s.Params, &s.Policy, &s.Checksum, &s.CreatedAt, &s.UpdatedAt)
	if err == sql.ErrNoRows {
		return Strategy{}, ErrNotFound
	}
	if err != nil {
		return Strategy{}, fmt.Errorf("scan strategy: %w", err)
	}
	return s, nil
}

// GetStrategyByName fetches one strategy by its unique name.
func (d *Database) GetStrategyByName(ctx context.Context, name string) (Strategy, error) {
	row := d.DB.QueryRowContext(ctx, `
		SELECT id, name, code, params, policy, checksum, created_at, updated_at
		FROM strategies WHERE name = ?
	`, name)
	var s Strategy
	err := row.Scan(&s.ID, &s.Name, &s.Code, &s.Params, &s.Policy, &s.Checksum, &s.CreatedAt, &s.UpdatedAt)
	if err == sql.ErrNoRows {
		return Strategy{}, ErrNotFound
	}
	if err != nil {
		return Strategy{}, fmt.Errorf("scan strategy: %w", err)
	}
	return s, nil
}

// ListStrategies returns all strategies, newest first.
func (d *Database) ListStrategies(ctx context.Context) ([]Strategy, error) {
	rows, err := d.DB.QueryContext(ctx, `
		SELECT id, name, code, params, policy, checksum, created_at, updated_at
		FROM strategies ORDER BY created_at DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("query strategies: %w", err)
	}
	defer rows.Close()

	var out []Strategy
	for rows.Next() {
		var s Strategy
		if err := rows.Scan(&s.ID, &s.Name, &s.Code, &s.Params, &s.Policy, &s.Checksum, &s.CreatedAt, &s.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan strategy: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// DeleteStrategy removes a strategy by id.
func (d *Database) DeleteStrategy(ctx context.Context, id string) error {
	res, err := d.DB.ExecContext(ctx, `DELETE FROM strategies WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete strategy: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// ----------------------------------------
// Backtest queries
// ----------------------------------------

// CreateBacktestConfig stores one backtest parameterization.
func (d *Database) CreateBacktestConfig(ctx context.Context, c BacktestConfig) error {
	_, err := d.DB.ExecContext(ctx, `
		INSERT INTO backtest_configs (id, strategy_id, symbol, initial_capital, fee_rate, slippage_pct, params, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, c.ID, c.StrategyID, c.Symbol, c.InitialCapital, c.FeeRate, c.SlippagePct, c.Params, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("insert backtest config: %w", err)
	}
	return nil
}

// GetBacktestConfig fetches one config by id.
func (d *Database) GetBacktestConfig(ctx context.Context, id string) (BacktestConfig, error) {
	row := d.DB.QueryRowContext(ctx, `
		SELECT id, strategy_id, symbol, initial_capital, fee_rate, slippage_pct, params, created_at
		FROM backtest_configs WHERE id = ?
	`, id)
	var c BacktestConfig
	err := row.Scan(&c.ID, &c.StrategyID, &c.Symbol, &c.InitialCapital, &c.FeeRate, &c.SlippagePct, &c.Params, &c.CreatedAt)
	if err == sql.ErrNoRows {
		return BacktestConfig{}, ErrNotFound
	}
	if err != nil {
		return BacktestConfig{}, fmt.Errorf("scan backtest config: %w", err)
	}
	return c, nil
}

// SaveBacktestResult upserts one run, so a result can be written as running
// and finalized later.
func (d *Database) SaveBacktestResult(ctx context.Context, r BacktestResult) error {
	_, err := d.DB.ExecContext(ctx, `
		INSERT INTO backtest_results (id, config_id, strategy_id, status, error, started_at, finished_at, metrics, equity_curve, trades)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			error = excluded.error,
			finished_at = excluded.finished_at,
			metrics = excluded.metrics,
			equity_curve = excluded.equity_curve,
			trades = excluded.trades
	`, r.ID, r.ConfigID, r.StrategyID, r.Status, r.Error, r.StartedAt, r.FinishedAt, r.Metrics, r.EquityCurve, r.Trades)
	if err != nil {
		return fmt.Errorf("save backtest result: %w", err)
	}
	return nil
}

// GetBacktestResult fetches one run by id.
func (d *Database) GetBacktestResult(ctx context.Context, id string) (BacktestResult, error) {
	row := d.DB.QueryRowContext(ctx, `
		SELECT id, COALESCE(config_id, ''), strategy_id, status, COALESCE(error, ''), started_at, finished_at, metrics, equity_curve, trades
		FROM backtest_results WHERE id = ?
	`, id)
	var r BacktestResult
	err := row.Scan(&r.ID, &r.ConfigID, &r.StrategyID, &r.Status, &r.Error, &r.StartedAt, &r.FinishedAt, &r.Metrics, &r.EquityCurve, &r.Trades)
	if err == sql.ErrNoRows {
		return BacktestResult{}, ErrNotFound
	}
	if err != nil {
		return BacktestResult{}, fmt.Errorf("scan backtest result: %w", err)
	}
	return r, nil
}

// ListBacktestResults returns the most recent runs for a strategy.
func (d *Database) ListBacktestResults(ctx context.Context, strategyID string, limit int) ([]BacktestResult, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := d.DB.QueryContext(ctx, `
		SELECT id, COALESCE(config_id, ''), strategy_id, status, COALESCE(error, ''), started_at, finished_at, metrics, equity_curve, trades
		FROM backtest_results WHERE strategy_id = ? ORDER BY started_at DESC LIMIT ?
	`, strategyID, limit)
	if err != nil {
		return nil, fmt.Errorf("query backtest results: %w", err)
	}
	defer rows.Close()

	var out []BacktestResult
	for rows.Next() {
		var r BacktestResult
		if err := rows.Scan(&r.ID, &r.ConfigID, &r.StrategyID, &r.Status, &r.Error, &r.StartedAt, &r.FinishedAt, &r.Metrics, &r.EquityCurve, &r.Trades); err != nil {
			return nil, fmt.Errorf("scan backtest result: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// ----------------------------------------
// Paper state queries
// ----------------------------------------

// PrunePaperStates keeps only the newest keep snapshots for a strategy.
func (d *Database) PrunePaperStates(ctx context.Context, strategyID string, keep int) error {
	_, err := d.DB.ExecContext(ctx, `
		DELETE FROM paper_states
		WHERE strategy_id = ? AND id NOT IN (
			SELECT id FROM paper_states WHERE strategy_id = ?
			ORDER BY created_at DESC, id DESC LIMIT ?
		)
	`, strategyID, strategyID, keep)
	if err != nil {
		return fmt.Errorf("prune paper states: %w", err)
	}
	return nil
}

// SavePaperState appends one paper-book snapshot for a strategy.
func (d *Database) SavePaperState(ctx context.Context, s PaperState) error {
	_, err := d.DB.ExecContext(ctx, `
		INSERT INTO paper_states (id, strategy_id, state, created_at)
		VALUES (?, ?, ?, ?)
	`, s.ID, s.StrategyID, s.State, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("insert paper state: %w", err)
	}
	return nil
}

// LatestPaperState returns the newest snapshot for a strategy.
func (d *Database) LatestPaperState(ctx context.Context, strategyID string) (PaperState, error) {
	row := d.DB.QueryRowContext(ctx, `
		SELECT id, strategy_id, state, created_at
		FROM paper_states WHERE strategy_id = ? ORDER BY created_at DESC, id DESC LIMIT 1
	`, strategyID)
	var s PaperState
	err := row.Scan(&s.ID, &s.StrategyID, &s.State, &s.CreatedAt)
	if err == sql.ErrNoRows {
		return PaperState{}, ErrNotFound
	}
	if err != nil {
		return PaperState{}, fmt.Errorf("scan paper state: %w", err)
	}
	return s, nil
}

// DeletePaperStates removes all snapshots for a strategy.
func (d *Database) DeletePaperStates(ctx context.Context, strategyID string) error {
	if _, err := d.DB.ExecContext(ctx, `DELETE FROM paper_states WHERE strategy_id = ?`, strategyID); err != nil {
		return fmt.Errorf("delete paper states: %w", err)
	}
	return nil
}

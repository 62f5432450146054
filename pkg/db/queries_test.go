package db

import (
	"context"
	"encoding/json"
	"testing"
	"time"
)

func newTestDB(t *testing.T) *Database {
	t.Helper()
	database, err := New(":memory:")
	if err != nil {
		t.Fatalf("create database: %v", err)
	}
	t.Cleanup(func() { database.Close() })
	if err := ApplyMigrations(database); err != nil {
		t.Fatalf("apply migrations: %v", err)
	}
	return database
}

func sampleStrategy() Strategy {
	return Strategy{
		ID:     "strat-1",
		Name:   "sma-crossover",
		Code:   "def on_bar(ctx, bar):\n    pass\n",
		Params: `{"fast": 10, "slow": 30}`,
		Policy: `{"exec_timeout": "30s"}`,
	}
}

func TestStrategyCRUD(t *testing.T) {
	d := newTestDB(t)
	ctx := context.Background()

	s := sampleStrategy()
	if err := d.CreateStrategy(ctx, s); err != nil {
		t.Fatalf("create: %v", err)
	}

	got, err := d.GetStrategy(ctx, s.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Code != s.Code || got.Params != s.Params {
		t.Fatalf("round trip mismatch: %+v", got)
	}
	if got.Checksum != Checksum(s.Code, s.Params) {
		t.Fatalf("checksum = %s", got.Checksum)
	}

	byName, err := d.GetStrategyByName(ctx, "sma-crossover")
	if err != nil || byName.ID != s.ID {
		t.Fatalf("get by name: %v, %+v", err, byName)
	}

	got.Code = "def on_bar(ctx, bar):\n    ctx.buy(quantity=1)\n"
	if err := d.UpdateStrategy(ctx, got); err != nil {
		t.Fatalf("update: %v", err)
	}
	updated, _ := d.GetStrategy(ctx, s.ID)
	if updated.Checksum == s.Checksum || updated.Checksum != Checksum(got.Code, got.Params) {
		t.Fatalf("checksum not refreshed: %s", updated.Checksum)
	}

	all, err := d.ListStrategies(ctx)
	if err != nil || len(all) != 1 {
		t.Fatalf("list: %v, %d", err, len(all))
	}

	if err := d.DeleteStrategy(ctx, s.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := d.GetStrategy(ctx, s.ID); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := d.DeleteStrategy(ctx, s.ID); err != ErrNotFound {
		t.Fatalf("delete missing: %v", err)
	}
}

func TestExportImportRoundTrip(t *testing.T) {
	d := newTestDB(t)
	ctx := context.Background()

	s := sampleStrategy()
	if err := d.CreateStrategy(ctx, s); err != nil {
		t.Fatal(err)
	}

	data, err := d.ExportStrategy(ctx, s.ID)
	if err != nil {
		t.Fatalf("export: %v", err)
	}

	if err := d.DeleteStrategy(ctx, s.ID); err != nil {
		t.Fatal(err)
	}

	newID, err := d.ImportStrategy(ctx, data)
	if err != nil {
		t.Fatalf("import: %v", err)
	}
	got, err := d.GetStrategy(ctx, newID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Code != s.Code {
		t.Fatal("imported code differs from exported code")
	}
	if got.Params != s.Params {
		t.Fatal("imported params differ from exported params")
	}
	if got.Checksum != Checksum(s.Code, s.Params) {
		t.Fatal("checksum does not recompute to the same value")
	}
}

func TestImportRejectsTamperedExport(t *testing.T) {
	d := newTestDB(t)
	ctx := context.Background()

	if err := d.CreateStrategy(ctx, sampleStrategy()); err != nil {
		t.Fatal(err)
	}
	data, err := d.ExportStrategy(ctx, "strat-1")
	if err != nil {
		t.Fatal(err)
	}

	var exp StrategyExport
	if err := json.Unmarshal(data, &exp); err != nil {
		t.Fatal(err)
	}
	exp.Code += "\n# injected"
	tampered, _ := json.Marshal(exp)
	if _, err := d.ImportStrategy(ctx, tampered); err == nil {
		t.Fatal("tampered export should fail checksum verification")
	}
}

func TestBacktestPersistence(t *testing.T) {
	d := newTestDB(t)
	ctx := context.Background()

	cfg := BacktestConfig{
		ID: "cfg-1", StrategyID: "strat-1", Symbol: "BTCUSDT",
		InitialCapital: 10000, FeeRate: 0.001, Params: "{}",
	}
	if err := d.CreateBacktestConfig(ctx, cfg); err != nil {
		t.Fatalf("create config: %v", err)
	}
	gotCfg, err := d.GetBacktestConfig(ctx, "cfg-1")
	if err != nil || gotCfg.InitialCapital != 10000 {
		t.Fatalf("get config: %v, %+v", err, gotCfg)
	}

	res := BacktestResult{
		ID: "run-1", ConfigID: "cfg-1", StrategyID: "strat-1",
		Status: "running", StartedAt: time.Now().UTC(),
		Metrics: "{}", EquityCurve: "[]", Trades: "[]",
	}
	if err := d.SaveBacktestResult(ctx, res); err != nil {
		t.Fatalf("save running: %v", err)
	}

	finished := time.Now().UTC()
	res.Status = "completed"
	res.FinishedAt = &finished
	res.Metrics = `{"total_return": 9.79}`
	if err := d.SaveBacktestResult(ctx, res); err != nil {
		t.Fatalf("finalize: %v", err)
	}

	got, err := d.GetBacktestResult(ctx, "run-1")
	if err != nil {
		t.Fatalf("get result: %v", err)
	}
	if got.Status != "completed" || got.Metrics != `{"total_return": 9.79}` {
		t.Fatalf("result = %+v", got)
	}

	list, err := d.ListBacktestResults(ctx, "strat-1", 10)
	if err != nil || len(list) != 1 {
		t.Fatalf("list: %v, %d", err, len(list))
	}
}

func TestPaperStateSnapshots(t *testing.T) {
	d := newTestDB(t)
	ctx := context.Background()

	if _, err := d.LatestPaperState(ctx, "strat-1"); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	if err := d.SavePaperState(ctx, PaperState{ID: "s1", StrategyID: "strat-1", State: `{"cash": 10000}`}); err != nil {
		t.Fatal(err)
	}
	if err := d.SavePaperState(ctx, PaperState{ID: "s2", StrategyID: "strat-1", State: `{"cash": 10010}`}); err != nil {
		t.Fatal(err)
	}

	latest, err := d.LatestPaperState(ctx, "strat-1")
	if err != nil {
		t.Fatal(err)
	}
	if latest.ID != "s2" {
		t.Fatalf("latest = %s, want s2", latest.ID)
	}

	if err := d.DeletePaperStates(ctx, "strat-1"); err != nil {
		t.Fatal(err)
	}
	if _, err := d.LatestPaperState(ctx, "strat-1"); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}
}

package strategy

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"strategy-core/pkg/db"
)

const sampleYAML = `
strategies:
  - name: inline-hold
    script: |
      def on_bar(ctx, bar):
          pass
    params:
      threshold: 1.5
  - name: file-based
    script_file: flip.star
    policy:
      allowed_modules: [math]
      exec_timeout_ms: 5000
`

func writeFixture(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "strategies.yaml"), []byte(sampleYAML), 0o644); err != nil {
		t.Fatal(err)
	}
	script := "def on_bar(ctx, bar):\n    ctx.buy(quantity=1)\n"
	if err := os.WriteFile(filepath.Join(dir, "flip.star"), []byte(script), 0o644); err != nil {
		t.Fatal(err)
	}
	return filepath.Join(dir, "strategies.yaml")
}

func TestLoadFile(t *testing.T) {
	configs, err := LoadFile(writeFixture(t))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(configs) != 2 {
		t.Fatalf("strategies = %d, want 2", len(configs))
	}
	if configs[0].Script == "" {
		t.Fatal("inline script missing")
	}
	if configs[1].Script != "def on_bar(ctx, bar):\n    ctx.buy(quantity=1)\n" {
		t.Fatalf("script_file not resolved: %q", configs[1].Script)
	}
	if configs[0].Params["threshold"] != 1.5 {
		t.Fatalf("params = %v", configs[0].Params)
	}
}

func TestPolicyConversion(t *testing.T) {
	p := PolicyConfig{AllowedModules: []string{"math"}, ExecTimeoutMs: 5000}.Policy()
	if p.ExecTimeout != 5*time.Second {
		t.Fatalf("timeout = %s", p.ExecTimeout)
	}
	if len(p.AllowedModules) != 1 || p.AllowedModules[0] != "math" {
		t.Fatalf("modules = %v", p.AllowedModules)
	}
}

func TestLoadFileRejectsMissingScript(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.yaml")
	if err := os.WriteFile(path, []byte("strategies:\n  - name: broken\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadFile(path); err == nil {
		t.Fatal("strategy without script should fail")
	}
}

func TestSyncToDBUpserts(t *testing.T) {
	database, err := db.New(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	defer database.Close()
	if err := db.ApplyMigrations(database); err != nil {
		t.Fatal(err)
	}

	ctx := context.Background()
	configs, err := LoadFile(writeFixture(t))
	if err != nil {
		t.Fatal(err)
	}

	if err := SyncToDB(ctx, database, configs); err != nil {
		t.Fatalf("first sync: %v", err)
	}
	first, err := database.GetStrategyByName(ctx, "inline-hold")
	if err != nil {
		t.Fatal(err)
	}

	// A second sync must keep ids stable.
	configs[0].Script = "def on_bar(ctx, bar):\n    ctx.sell(quantity=1)\n"
	if err := SyncToDB(ctx, database, configs); err != nil {
		t.Fatalf("second sync: %v", err)
	}
	second, err := database.GetStrategyByName(ctx, "inline-hold")
	if err != nil {
		t.Fatal(err)
	}
	if second.ID != first.ID {
		t.Fatal("resync changed the strategy id")
	}
	if second.Code == first.Code {
		t.Fatal("resync did not update the code")
	}
	if second.Checksum == first.Checksum {
		t.Fatal("checksum should change with the code")
	}
}

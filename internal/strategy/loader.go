// Package strategy loads strategy definitions from a YAML file and syncs
// them into the database, so local script files can be edited and reloaded
// without touching the API.
package strategy

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"strategy-core/internal/sandbox"
	"strategy-core/pkg/db"
)

// PolicyConfig is the YAML form of a sandbox policy.
type PolicyConfig struct {
	AllowedModules []string `yaml:"allowed_modules" json:"allowed_modules"`
	ExecTimeoutMs  int      `yaml:"exec_timeout_ms" json:"exec_timeout_ms"`
	MaxSteps       uint64   `yaml:"max_steps" json:"max_steps"`
}

// Policy converts the YAML form to a sandbox policy; zero fields fall back
// to the sandbox defaults.
func (p PolicyConfig) Policy() sandbox.Policy {
	return sandbox.Policy{
		AllowedModules: p.AllowedModules,
		ExecTimeout:    time.Duration(p.ExecTimeoutMs) * time.Millisecond,
		MaxSteps:       p.MaxSteps,
	}
}

// Config is one strategy entry in the YAML file. The script can be inline
// (script) or referenced by path (script_file, relative to the YAML file).
type Config struct {
	Name       string         `yaml:"name"`
	Script     string         `yaml:"script"`
	ScriptFile string         `yaml:"script_file"`
	Params     map[string]any `yaml:"params"`
	Policy     PolicyConfig   `yaml:"policy"`
}

// File is the top-level YAML structure.
type File struct {
	Strategies []Config `yaml:"strategies"`
}

// LoadFile reads strategy definitions from a YAML file, resolving referenced
// script files relative to it.
func LoadFile(path string) ([]Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var file File
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}

	dir := filepath.Dir(path)
	for i, cfg := range file.Strategies {
		if cfg.Name == "" {
			return nil, fmt.Errorf("%s: strategy %d has no name", path, i)
		}
		if cfg.Script == "" && cfg.ScriptFile == "" {
			return nil, fmt.Errorf("%s: strategy %q has neither script nor script_file", path, cfg.Name)
		}
		if cfg.Script == "" {
			code, err := os.ReadFile(filepath.Join(dir, cfg.ScriptFile))
			if err != nil {
				return nil, fmt.Errorf("read script for %q: %w", cfg.Name, err)
			}
			file.Strategies[i].Script = string(code)
		}
	}
	return file.Strategies, nil
}

// SyncToDB upserts loaded strategies by name: existing rows are updated in
// place so their ids stay stable across reloads.
func SyncToDB(ctx context.Context, database *db.Database, configs []Config) error {
	for _, cfg := range configs {
		params, err := json.Marshal(cfg.Params)
		if err != nil {
			return fmt.Errorf("marshal params for %q: %w", cfg.Name, err)
		}
		policy, err := json.Marshal(cfg.Policy)
		if err != nil {
			return fmt.Errorf("marshal policy for %q: %w", cfg.Name, err)
		}

		existing, err := database.GetStrategyByName(ctx, cfg.Name)
		switch err {
		case nil:
			existing.Code = cfg.Script
			existing.Params = string(params)
			existing.Policy = string(policy)
			if err := database.UpdateStrategy(ctx, existing); err != nil {
				return fmt.Errorf("update strategy %q: %w", cfg.Name, err)
			}
		case db.ErrNotFound:
			if err := database.CreateStrategy(ctx, db.Strategy{
				ID:     uuid.NewString(),
				Name:   cfg.Name,
				Code:   cfg.Script,
				Params: string(params),
				Policy: string(policy),
			}); err != nil {
				return fmt.Errorf("create strategy %q: %w", cfg.Name, err)
			}
		default:
			return fmt.Errorf("lookup strategy %q: %w", cfg.Name, err)
		}
	}
	return nil
}

package db

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

// StrategyExport is the portable form of a strategy. Re-importing it yields
// byte-identical code and params, and the checksum recomputes to the same
// value.
type StrategyExport struct {
	Name     string `json:"name"`
	Code     string `json:"code"`
	Params   string `json:"params"`
	Policy   string `json:"policy"`
	Checksum string `json:"checksum"`
}

// Checksum is the integrity digest stored with every strategy: SHA-256 over
// the code and params documents.
func Checksum(code, params string) string {
	h := sha256.New()
	h.Write([]byte(code))
	h.Write([]byte{0})
	h.Write([]byte(params))
	return hex.EncodeToString(h.Sum(nil))
}

// ExportStrategy serializes one strategy for transfer.
func (d *Database) ExportStrategy(ctx context.Context, id string) ([]byte, error) {
	s, err := d.GetStrategy(ctx, id)
	if err != nil {
		return nil, err
	}
	exp := StrategyExport{
		Name:     s.Name,
		Code:     s.Code,
		Params:   s.Params,
		Policy:   s.Policy,
		Checksum: s.Checksum,
	}
	return json.MarshalIndent(exp, "", "  ")
}

// ImportStrategy verifies an export's checksum and stores it as a new
// strategy, returning the generated id.
func (d *Database) ImportStrategy(ctx context.Context, data []byte) (string, error) {
	var exp StrategyExport
	if err := json.Unmarshal(data, &exp); err != nil {
		return "", fmt.Errorf("parse strategy export: %w", err)
	}
	if got := Checksum(exp.Code, exp.Params); got != exp.Checksum {
		return "", fmt.Errorf("checksum mismatch: computed %s, export carries %s", got, exp.Checksum)
	}
	s := Strategy{
		ID:     uuid.NewString(),
		Name:   exp.Name,
		Code:   exp.Code,
		Params: exp.Params,
		Policy: exp.Policy,
	}
	if err := d.CreateStrategy(ctx, s); err != nil {
		return "", err
	}
	return s.ID, nil
}

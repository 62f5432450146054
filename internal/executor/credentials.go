package executor

import (
	"context"
	"errors"
	"fmt"

	"strategy-core/pkg/crypto"
	"strategy-core/pkg/db"
)

// DBCredentials resolves account credentials from stored, encrypted rows.
type DBCredentials struct {
	DB      *db.Database
	Secrets *crypto.Encryptor
}

// Credentials implements CredentialSource.
func (d *DBCredentials) Credentials(ctx context.Context, account string) (Credentials, error) {
	if d.Secrets == nil {
		return Credentials{}, errors.New("no credential encryption key configured")
	}
	rec, err := d.DB.GetAccountByName(ctx, account)
	if err != nil {
		return Credentials{}, err
	}
	key, err := d.Secrets.Decrypt(rec.APIKeyEnc)
	if err != nil {
		return Credentials{}, fmt.Errorf("decrypt api key for %s: %w", account, err)
	}
	secret, err := d.Secrets.Decrypt(rec.APISecretEnc)
	if err != nil {
		return Credentials{}, fmt.Errorf("decrypt api secret for %s: %w", account, err)
	}
	return Credentials{APIKey: key, APISecret: secret, Testnet: rec.Testnet}, nil
}

// Package store persists the broker credential, account identifier,
// access tokens and the API audit log. Secret columns hold credential
// cipher blobs; the repositories decrypt on read.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/sageinvest/kis-engine/internal/crypto"
	"github.com/sageinvest/kis-engine/internal/kiserr"
	"github.com/sageinvest/kis-engine/internal/model"
)

// Exactly one credential row exists; the fixed id makes the save an
// upsert instead of delete-then-insert, so a concurrent read never
// observes zero rows.
const (
	_upsertConfig = `INSERT INTO kis_configs (id, app_key, app_secret_encrypted, environment, updated_at)
					VALUES (1, $1, $2, $3, now())
					ON CONFLICT (id)
					DO UPDATE SET
						app_key = EXCLUDED.app_key,
						app_secret_encrypted = EXCLUDED.app_secret_encrypted,
						environment = EXCLUDED.environment,
						updated_at = now();`
	_queryConfig  = `SELECT app_key, app_secret_encrypted, environment FROM kis_configs WHERE id = 1`
	_deleteConfig = `DELETE FROM kis_configs`
)

type configRow struct {
	AppKey             string `db:"app_key"`
	AppSecretEncrypted string `db:"app_secret_encrypted"`
	Environment        string `db:"environment"`
}

type ConfigRepo struct {
	db     *sqlx.DB
	cipher *crypto.Cipher
}

func NewConfigRepo(db *sqlx.DB, cipher *crypto.Cipher) *ConfigRepo {
	return &ConfigRepo{db: db, cipher: cipher}
}

// Save replaces the stored credential. The app key is an identifier and
// stays in clear; the secret is encrypted before it touches the wire.
func (r *ConfigRepo) Save(ctx context.Context, appKey, appSecret string, env model.Environment) error {
	encrypted, err := r.cipher.Encrypt(appSecret)
	if err != nil {
		return fmt.Errorf("%w: can't encrypt app secret", err)
	}

	if _, err := r.db.ExecContext(ctx, _upsertConfig, appKey, encrypted, string(env)); err != nil {
		return fmt.Errorf("%w: can't save config: %s", kiserr.ErrPersistence, err)
	}
	return nil
}

// Get returns the stored credential with the secret decrypted, or
// (nil, nil) when none is configured.
func (r *ConfigRepo) Get(ctx context.Context) (*model.BrokerConfig, error) {
	var row configRow
	if err := r.db.GetContext(ctx, &row, _queryConfig); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: can't query config: %s", kiserr.ErrPersistence, err)
	}

	secret, err := r.cipher.Decrypt(row.AppSecretEncrypted)
	if err != nil {
		return nil, fmt.Errorf("%w: can't decrypt app secret", err)
	}

	return &model.BrokerConfig{
		AppKey:      row.AppKey,
		AppSecret:   secret,
		Environment: model.Environment(row.Environment),
	}, nil
}

func (r *ConfigRepo) Delete(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, _deleteConfig); err != nil {
		return fmt.Errorf("%w: can't delete config: %s", kiserr.ErrPersistence, err)
	}
	return nil
}

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/sageinvest/kis-engine/internal/crypto"
	"github.com/sageinvest/kis-engine/internal/kiserr"
	"github.com/sageinvest/kis-engine/internal/model"
)

// Tokens are treated as stale one hour before their literal expiry so a
// refresh happens while the old token still works.
const ExpiryMargin = time.Hour

const (
	_upsertToken = `INSERT INTO kis_tokens (access_token_encrypted, token_type, expires_in, expires_at, environment, updated_at)
					VALUES ($1, $2, $3, $4, $5, now())
					ON CONFLICT (environment)
					DO UPDATE SET
						access_token_encrypted = EXCLUDED.access_token_encrypted,
						token_type = EXCLUDED.token_type,
						expires_in = EXCLUDED.expires_in,
						expires_at = EXCLUDED.expires_at,
						updated_at = now();`
	_queryToken  = `SELECT access_token_encrypted, token_type, expires_in, expires_at FROM kis_tokens WHERE environment = $1`
	_deleteToken = `DELETE FROM kis_tokens WHERE environment = $1`
)

type tokenRow struct {
	AccessTokenEncrypted string    `db:"access_token_encrypted"`
	TokenType            string    `db:"token_type"`
	ExpiresIn            int64     `db:"expires_in"`
	ExpiresAt            time.Time `db:"expires_at"`
}

type TokenRepo struct {
	db     *sqlx.DB
	cipher *crypto.Cipher
}

func NewTokenRepo(db *sqlx.DB, cipher *crypto.Cipher) *TokenRepo {
	return &TokenRepo{db: db, cipher: cipher}
}

// Save upserts the token for its environment; at most one row per
// environment exists.
func (r *TokenRepo) Save(ctx context.Context, token model.AccessToken, env model.Environment) error {
	encrypted, err := r.cipher.Encrypt(token.AccessToken)
	if err != nil {
		return fmt.Errorf("%w: can't encrypt access token", err)
	}

	if _, err := r.db.ExecContext(ctx, _upsertToken,
		encrypted, token.TokenType, token.ExpiresIn, token.ExpiresAt, string(env),
	); err != nil {
		return fmt.Errorf("%w: can't save token: %s", kiserr.ErrPersistence, err)
	}
	return nil
}

// Get returns the decrypted token for the environment, or (nil, nil)
// when none is stored.
func (r *TokenRepo) Get(ctx context.Context, env model.Environment) (*model.AccessToken, error) {
	var row tokenRow
	if err := r.db.GetContext(ctx, &row, _queryToken, string(env)); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: can't query token: %s", kiserr.ErrPersistence, err)
	}

	value, err := r.cipher.Decrypt(row.AccessTokenEncrypted)
	if err != nil {
		return nil, fmt.Errorf("%w: can't decrypt access token", err)
	}

	return &model.AccessToken{
		AccessToken: value,
		TokenType:   row.TokenType,
		ExpiresIn:   row.ExpiresIn,
		ExpiresAt:   row.ExpiresAt,
	}, nil
}

func (r *TokenRepo) Delete(ctx context.Context, env model.Environment) error {
	if _, err := r.db.ExecContext(ctx, _deleteToken, string(env)); err != nil {
		return fmt.Errorf("%w: can't delete token: %s", kiserr.ErrPersistence, err)
	}
	return nil
}

// IsExpired reports whether the environment has no usable token: none
// stored, or expiry within the safety margin.
func (r *TokenRepo) IsExpired(ctx context.Context, env model.Environment) (bool, error) {
	token, err := r.Get(ctx, env)
	if err != nil {
		return false, err
	}
	if token == nil {
		return true, nil
	}
	return !token.ExpiresAt.After(time.Now().Add(ExpiryMargin)), nil
}

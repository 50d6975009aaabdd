package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"

	"github.com/jmoiron/sqlx"
	"github.com/sageinvest/kis-engine/internal/crypto"
	"github.com/sageinvest/kis-engine/internal/kiserr"
	"github.com/sageinvest/kis-engine/internal/model"
)

var (
	_canoPattern       = regexp.MustCompile(`^\d{8}$`)
	_acntPrdtCdPattern = regexp.MustCompile(`^\d{2}$`)
)

const (
	_deleteAccounts = `DELETE FROM kis_account_settings`
	_insertAccount  = `INSERT INTO kis_account_settings (cano_encrypted, acnt_prdt_cd_encrypted)
					VALUES ($1, $2)`
	_queryAccount = `SELECT cano_encrypted, acnt_prdt_cd_encrypted
					FROM kis_account_settings
					ORDER BY created_at DESC
					LIMIT 1`
)

type accountRow struct {
	CanoEncrypted       string `db:"cano_encrypted"`
	AcntPrdtCdEncrypted string `db:"acnt_prdt_cd_encrypted"`
}

type AccountRepo struct {
	db     *sqlx.DB
	cipher *crypto.Cipher
}

func NewAccountRepo(db *sqlx.DB, cipher *crypto.Cipher) *AccountRepo {
	return &AccountRepo{db: db, cipher: cipher}
}

// Save validates, encrypts and replaces the single stored account. The
// delete-then-insert runs inside one transaction so a concurrent read
// never observes zero rows.
func (r *AccountRepo) Save(ctx context.Context, cano, acntPrdtCd string) error {
	if !_canoPattern.MatchString(cano) {
		return &kiserr.ValidationError{Field: "cano", Reason: "must be exactly 8 digits"}
	}
	if !_acntPrdtCdPattern.MatchString(acntPrdtCd) {
		return &kiserr.ValidationError{Field: "acntPrdtCd", Reason: "must be exactly 2 digits"}
	}

	canoEncrypted, err := r.cipher.Encrypt(cano)
	if err != nil {
		return fmt.Errorf("%w: can't encrypt account number", err)
	}
	prdtEncrypted, err := r.cipher.Encrypt(acntPrdtCd)
	if err != nil {
		return fmt.Errorf("%w: can't encrypt product code", err)
	}

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: can't begin account save: %s", kiserr.ErrPersistence, err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	if _, err := tx.ExecContext(ctx, _deleteAccounts); err != nil {
		return fmt.Errorf("%w: can't clear account settings: %s", kiserr.ErrPersistence, err)
	}
	if _, err := tx.ExecContext(ctx, _insertAccount, canoEncrypted, prdtEncrypted); err != nil {
		return fmt.Errorf("%w: can't insert account settings: %s", kiserr.ErrPersistence, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: can't commit account save: %s", kiserr.ErrPersistence, err)
	}
	return nil
}

// GetDecrypted returns the configured account pair, or (nil, nil) when
// none is set.
func (r *AccountRepo) GetDecrypted(ctx context.Context) (*model.Account, error) {
	var row accountRow
	if err := r.db.GetContext(ctx, &row, _queryAccount); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: can't query account settings: %s", kiserr.ErrPersistence, err)
	}

	cano, err := r.cipher.Decrypt(row.CanoEncrypted)
	if err != nil {
		return nil, fmt.Errorf("%w: can't decrypt account number", err)
	}
	acntPrdtCd, err := r.cipher.Decrypt(row.AcntPrdtCdEncrypted)
	if err != nil {
		return nil, fmt.Errorf("%w: can't decrypt product code", err)
	}

	return &model.Account{Cano: cano, AcntPrdtCd: acntPrdtCd}, nil
}

func (r *AccountRepo) Delete(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, _deleteAccounts); err != nil {
		return fmt.Errorf("%w: can't delete account settings: %s", kiserr.ErrPersistence, err)
	}
	return nil
}

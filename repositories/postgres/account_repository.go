package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/upb/transcriber-gateway/models"
	"github.com/upb/transcriber-gateway/repositories"
	"go.uber.org/zap"
)

// AccountRepository implements repositories.AccountStore on top of the
// account_records table (one row per collection/document pair)
type AccountRepository struct {
	db     *DB
	logger *zap.Logger
}

// NewAccountRepository creates a new account repository
func NewAccountRepository(db *DB, logger *zap.Logger) *AccountRepository {
	return &AccountRepository{
		db:     db,
		logger: logger,
	}
}

// Get retrieves the account stored under collection/key
func (r *AccountRepository) Get(ctx context.Context, collection, key string) (*models.Account, error) {
	query := `
		SELECT collection, document_id, data, created_at, updated_at
		FROM account_records
		WHERE collection = $1 AND document_id = $2
	`

	account := &models.Account{}
	var data []byte

	err := r.db.QueryRowContext(ctx, query, collection, key).Scan(
		&account.Collection,
		&account.SubjectID,
		&data,
		&account.CreatedAt,
		&account.UpdatedAt,
	)

	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("account %s/%s: %w", collection, key, repositories.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get account: %w", err)
	}
	account.Data = data

	r.logger.Debug("account loaded",
		zap.String("collection", collection),
		zap.String("document_id", key))
	return account, nil
}

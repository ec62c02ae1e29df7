package tx

import (
	"context"
	"database/sql"
	"strings"

	"github.com/roomly/matchtalk/internal/domain"
)

type Transactor interface {
	WithTx(ctx context.Context, fn func(ctx context.Context, tx *sql.Tx) error) error
}

type Manager struct {
	DB *sql.DB
}

const maxRetries = 5

func (m *Manager) WithTx(
	ctx context.Context,
	fn func(ctx context.Context, tx *sql.Tx) error,
) error {

	var lastErr error
	for i := 0; i < maxRetries; i++ {

		tx, err := m.DB.BeginTx(ctx, &sql.TxOptions{
			Isolation: sql.LevelReadCommitted,
		})
		if err != nil {
			return domain.Transient(err)
		}

		err = fn(ctx, tx)
		if err != nil {
			tx.Rollback()
			if isSerializationError(err) {
				lastErr = err
				continue
			}
			return err
		}

		if err := tx.Commit(); err != nil {
			if isSerializationError(err) {
				lastErr = err
				continue
			}
			return domain.Transient(err)
		}

		return nil
	}

	return domain.Transient(lastErr)
}

func isSerializationError(err error) bool {
	return err != nil && strings.Contains(err.Error(), "could not serialize")
}

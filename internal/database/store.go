package database

import (
	"chatrelay-backend/internal/errs"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"
)

// Store is the persistence layer shared by every component. All methods are
// safe for concurrent use.
type Store struct {
	db      *sql.DB
	dialect Dialect
	sugar   *zap.SugaredLogger
}

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) Ping(ctx context.Context) error {
	return errs.Storage(s.db.PingContext(ctx))
}

// inTx runs fn inside a transaction, rolling back when fn fails.
func (s *Store) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errs.Storage(err)
	}

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			s.sugar.Errorf("Rollback failed: %v", rbErr)
		}
		return err
	}

	return errs.Storage(tx.Commit())
}

// nextSequence bumps and returns the channel's write counter. Must run in
// the same transaction as the write it numbers.
func nextSequence(ctx context.Context, q querier, channelID int64) (int64, error) {
	result, err := q.ExecContext(ctx, "UPDATE channels SET last_seq = last_seq + 1 WHERE id = ?", channelID)
	if err != nil {
		return 0, errs.Storage(err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return 0, errs.Storage(err)
	}
	if affected == 0 {
		return 0, errs.Wrap(errs.ErrNotFound, "channel [%d] doesn't exist", channelID)
	}

	var seq int64
	if err := q.QueryRowContext(ctx, "SELECT last_seq FROM channels WHERE id = ?", channelID).Scan(&seq); err != nil {
		return 0, errs.Storage(err)
	}
	return seq, nil
}

func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

func int64Args(ids []int64) []any {
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	return args
}

func notFoundOr(err error, what string, id int64) error {
	if errors.Is(err, sql.ErrNoRows) {
		return errs.Wrap(errs.ErrNotFound, "%s [%d] doesn't exist", what, id)
	}
	return errs.Storage(fmt.Errorf("loading %s [%d]: %w", what, id, err))
}

package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"forwardbot/internal/models"
)

// SQLiteCursorStore keeps long-poll cursors in the cursors table
type SQLiteCursorStore struct {
	db *Database
}

func NewSQLiteCursorStore(db *Database) *SQLiteCursorStore {
	return &SQLiteCursorStore{db: db}
}

// Load returns the stored cursor, or nil without error when none exists
func (s *SQLiteCursorStore) Load(ctx context.Context, accountID int64) (*models.Cursor, error) {
	var (
		cursor    models.Cursor
		updatedAt int64
	)

	err := s.db.db.QueryRowContext(ctx, selectCursorQuery, accountID).Scan(
		&cursor.AccountID,
		&cursor.Server,
		&cursor.Key,
		&cursor.Position,
		&updatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load cursor: %w", err)
	}

	cursor.UpdatedAt = time.UnixMilli(updatedAt)
	return &cursor, nil
}

func (s *SQLiteCursorStore) Save(ctx context.Context, cursor *models.Cursor) error {
	return retryableDBOperation(ctx, func() error {
		_, err := s.db.db.ExecContext(ctx, upsertCursorQuery,
			cursor.AccountID,
			cursor.Server,
			cursor.Key,
			cursor.Position,
			cursor.UpdatedAt.UnixMilli(),
		)
		return err
	}, "save cursor")
}

// Delete removes the stored cursor; deleting an absent cursor is not an error
func (s *SQLiteCursorStore) Delete(ctx context.Context, accountID int64) error {
	return retryableDBOperation(ctx, func() error {
		_, err := s.db.db.ExecContext(ctx, deleteCursorQuery, accountID)
		return err
	}, "delete cursor")
}

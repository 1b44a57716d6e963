package origin

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// SQLiteRepository implements Repository using SQLite.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a SQLite-backed repository.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// AddMessages implements Repository.
func (r *SQLiteRepository) AddMessages(ctx context.Context, address string, n int, at time.Time) error {
	ts := at.UTC().Format(time.RFC3339Nano)
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO origin (id, address, ctime, atime, message_count)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (address) DO UPDATE SET
			message_count = origin.message_count + excluded.message_count,
			atime = excluded.atime`,
		uuid.NewString(), address, ts, ts, n,
	)
	if err != nil {
		return fmt.Errorf("adding origin messages: %w", err)
	}
	return nil
}

// GetByAddress implements Repository.
func (r *SQLiteRepository) GetByAddress(ctx context.Context, address string) (*Origin, error) {
	var o Origin
	var ctime, atime string
	err := r.db.QueryRowContext(ctx,
		"SELECT id, address, message_count, ctime, atime FROM origin WHERE address = ?", address,
	).Scan(&o.ID, &o.Address, &o.MessageCount, &ctime, &atime)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrOriginNotFound
		}
		return nil, fmt.Errorf("querying origin: %w", err)
	}

	if o.CreatedAt, err = time.Parse(time.RFC3339Nano, ctime); err != nil {
		return nil, fmt.Errorf("parsing ctime: %w", err)
	}
	if o.AccessedAt, err = time.Parse(time.RFC3339Nano, atime); err != nil {
		return nil, fmt.Errorf("parsing atime: %w", err)
	}
	return &o, nil
}

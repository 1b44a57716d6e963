package origin

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

type originRow struct {
	bun.BaseModel `bun:"table:origin,alias:o"`

	ID           string    `bun:"id,pk"`
	Address      string    `bun:"address,notnull,unique"`
	CTime        time.Time `bun:"ctime,notnull"`
	ATime        time.Time `bun:"atime,notnull"`
	MessageCount int64     `bun:"message_count,notnull,default:0"`
}

// PostgresRepository implements Repository on PostgreSQL through bun.
type PostgresRepository struct {
	db bun.IDB
}

// NewPostgresRepository creates a PostgreSQL-backed repository.
func NewPostgresRepository(db bun.IDB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// CreateSchema creates the origin table if absent.
func (r *PostgresRepository) CreateSchema(ctx context.Context) error {
	if _, err := r.db.NewCreateTable().Model((*originRow)(nil)).IfNotExists().Exec(ctx); err != nil {
		return fmt.Errorf("creating origin table: %w", err)
	}
	return nil
}

// AddMessages implements Repository.
func (r *PostgresRepository) AddMessages(ctx context.Context, address string, n int, at time.Time) error {
	row := &originRow{
		ID:           uuid.NewString(),
		Address:      address,
		CTime:        at.UTC(),
		ATime:        at.UTC(),
		MessageCount: int64(n),
	}
	_, err := r.db.NewInsert().
		Model(row).
		On("CONFLICT (address) DO UPDATE").
		Set("message_count = ?TableAlias.message_count + EXCLUDED.message_count").
		Set("atime = EXCLUDED.atime").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("adding origin messages: %w", err)
	}
	return nil
}

// GetByAddress implements Repository.
func (r *PostgresRepository) GetByAddress(ctx context.Context, address string) (*Origin, error) {
	row := new(originRow)
	if err := r.db.NewSelect().Model(row).Where("address = ?", address).Scan(ctx); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrOriginNotFound
		}
		return nil, fmt.Errorf("querying origin: %w", err)
	}
	return &Origin{
		ID:           row.ID,
		Address:      row.Address,
		MessageCount: row.MessageCount,
		CreatedAt:    row.CTime.UTC(),
		AccessedAt:   row.ATime.UTC(),
	}, nil
}

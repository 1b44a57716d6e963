package device

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/uptrace/bun"
)

// deviceRow maps the device table for bun.
type deviceRow struct {
	bun.BaseModel `bun:"table:device,alias:d"`

	ID             string         `bun:"id,pk"`
	Network        string         `bun:"network,notnull,unique:device_network_registration"`
	RegistrationID string         `bun:"registration_id,notnull,unique:device_network_registration"`
	Details        string         `bun:"details,type:jsonb,notnull,default:'{}'"`
	EndpointARN    sql.NullString `bun:"endpoint_arn"`
	CurrentAddress sql.NullString `bun:"current_address"`
	CurrentToken   string         `bun:"current_token,notnull"`
	MessageCount   int64          `bun:"message_count,notnull,default:0"`
	CTime          time.Time      `bun:"ctime,notnull"`
	ATime          time.Time      `bun:"atime,notnull"`
}

func (r *deviceRow) toDevice() *Device {
	d := &Device{
		ID:             r.ID,
		Network:        Network(r.Network),
		RegistrationID: r.RegistrationID,
		Details:        []byte(r.Details),
		EndpointRef:    r.EndpointARN.String,
		CurrentToken:   r.CurrentToken,
		MessageCount:   r.MessageCount,
		CreatedAt:      r.CTime.UTC(),
		AccessedAt:     r.ATime.UTC(),
	}
	if r.CurrentAddress.Valid {
		addr := r.CurrentAddress.String
		d.CurrentAddress = &addr
	}
	return d
}

// PostgresRepository implements Repository on PostgreSQL through bun.
type PostgresRepository struct {
	db bun.IDB
}

// NewPostgresRepository creates a PostgreSQL-backed repository.
func NewPostgresRepository(db bun.IDB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// CreateSchema creates the device table and its listening index if absent.
func (r *PostgresRepository) CreateSchema(ctx context.Context) error {
	if _, err := r.db.NewCreateTable().Model((*deviceRow)(nil)).IfNotExists().Exec(ctx); err != nil {
		return fmt.Errorf("creating device table: %w", err)
	}
	_, err := r.db.NewCreateIndex().
		Model((*deviceRow)(nil)).
		Index("idx_device_listening").
		Column("current_address", "current_token").
		IfNotExists().
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("creating device index: %w", err)
	}
	return nil
}

// UpsertRegistration implements Repository.
func (r *PostgresRepository) UpsertRegistration(ctx context.Context, reg Registration) (*Device, error) {
	if err := reg.Validate(); err != nil {
		return nil, err
	}

	row := &deviceRow{
		ID:             reg.ID,
		Network:        string(reg.Network),
		RegistrationID: reg.RegistrationID,
		Details:        "{}",
		CurrentAddress: nullableString(reg.Address),
		CurrentToken:   reg.Token,
		CTime:          reg.At.UTC(),
		ATime:          reg.At.UTC(),
	}
	if reg.Details != nil {
		row.Details = string(reg.Details)
	}

	q := r.db.NewInsert().
		Model(row).
		On("CONFLICT (network, registration_id) DO UPDATE").
		Set("current_address = EXCLUDED.current_address").
		Set("current_token = EXCLUDED.current_token").
		Set("atime = EXCLUDED.atime")
	if reg.Details != nil {
		q = q.Set("details = EXCLUDED.details")
	}

	if _, err := q.Returning("*").Exec(ctx); err != nil {
		return nil, fmt.Errorf("upserting device registration: %w", err)
	}
	return row.toDevice(), nil
}

// FindListening implements Repository.
func (r *PostgresRepository) FindListening(ctx context.Context, address string, tokens []string) ([]Device, error) {
	if len(tokens) == 0 {
		return nil, nil
	}

	var rows []deviceRow
	err := r.db.NewSelect().
		Model(&rows).
		Where("current_address = ?", address).
		Where("current_token IN (?)", bun.In(tokens)).
		Order("ctime", "id").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("querying listening devices: %w", err)
	}

	devices := make([]Device, 0, len(rows))
	for i := range rows {
		devices = append(devices, *rows[i].toDevice())
	}
	return devices, nil
}

// SetEndpoint implements Repository.
func (r *PostgresRepository) SetEndpoint(ctx context.Context, id, ref string) error {
	result, err := r.db.NewUpdate().
		Model((*deviceRow)(nil)).
		Set("endpoint_arn = ?", ref).
		Where("id = ?", id).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("updating endpoint: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if n == 0 {
		return ErrDeviceNotFound
	}
	return nil
}

// AddMessages implements Repository.
func (r *PostgresRepository) AddMessages(ctx context.Context, ids []string, n int) error {
	if len(ids) == 0 || n == 0 {
		return nil
	}
	_, err := r.db.NewUpdate().
		Model((*deviceRow)(nil)).
		Set("message_count = message_count + ?", n).
		Where("id IN (?)", bun.In(ids)).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("adding device messages: %w", err)
	}
	return nil
}

// GetByID implements Repository.
func (r *PostgresRepository) GetByID(ctx context.Context, id string) (*Device, error) {
	row := new(deviceRow)
	if err := r.db.NewSelect().Model(row).Where("id = ?", id).Scan(ctx); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrDeviceNotFound
		}
		return nil, fmt.Errorf("querying device by id: %w", err)
	}
	return row.toDevice(), nil
}

package device

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
)

// Repository defines device persistence operations.
type Repository interface {
	// UpsertRegistration inserts or updates the device identified by
	// (reg.Network, reg.RegistrationID) in one atomic statement and returns
	// the stored row. The endpoint reference and message count of an
	// existing row are left untouched.
	UpsertRegistration(ctx context.Context, reg Registration) (*Device, error)

	// FindListening returns the devices whose listening address is
	// address and whose current token is one of tokens.
	FindListening(ctx context.Context, address string, tokens []string) ([]Device, error)

	// SetEndpoint stores the broker endpoint reference of a device.
	// Returns ErrDeviceNotFound if the device does not exist.
	SetEndpoint(ctx context.Context, id, ref string) error

	// AddMessages adds n to the message count of every listed device.
	AddMessages(ctx context.Context, ids []string, n int) error

	// GetByID retrieves a device by its identifier.
	// Returns ErrDeviceNotFound if the device does not exist.
	GetByID(ctx context.Context, id string) (*Device, error)
}

const deviceColumns = "id, network, registration_id, details, endpoint_arn, current_address, current_token, message_count, ctime, atime"

// SQLiteRepository implements Repository using SQLite.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a SQLite-backed repository.
// The schema is created by the migrations package.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// UpsertRegistration implements Repository.
func (r *SQLiteRepository) UpsertRegistration(ctx context.Context, reg Registration) (*Device, error) {
	if err := reg.Validate(); err != nil {
		return nil, err
	}

	details := nullableJSON(reg.Details)
	at := formatTime(reg.At)

	query := `
		INSERT INTO device (id, network, registration_id, details, current_address, current_token, message_count, ctime, atime)
		VALUES (?, ?, ?, COALESCE(?, '{}'), ?, ?, 0, ?, ?)
		ON CONFLICT (network, registration_id) DO UPDATE SET
			details = COALESCE(?, device.details),
			current_address = excluded.current_address,
			current_token = excluded.current_token,
			atime = excluded.atime
		RETURNING ` + deviceColumns

	row := r.db.QueryRowContext(ctx, query,
		reg.ID, string(reg.Network), reg.RegistrationID, details,
		nullableString(reg.Address), reg.Token, at, at,
		details,
	)
	d, err := scanDevice(row)
	if err != nil {
		return nil, fmt.Errorf("upserting device registration: %w", err)
	}
	return d, nil
}

// FindListening implements Repository.
func (r *SQLiteRepository) FindListening(ctx context.Context, address string, tokens []string) ([]Device, error) {
	if len(tokens) == 0 {
		return nil, nil
	}

	query, args, err := sq.Select(deviceColumns).
		From("device").
		Where(sq.Eq{"current_address": address}).
		Where(inList("current_token", tokens)).
		OrderBy("ctime", "id").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("building listening query: %w", err)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying listening devices: %w", err)
	}
	defer rows.Close()

	var devices []Device
	for rows.Next() {
		d, err := scanDevice(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning device: %w", err)
		}
		devices = append(devices, *d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating devices: %w", err)
	}
	return devices, nil
}

// SetEndpoint implements Repository.
func (r *SQLiteRepository) SetEndpoint(ctx context.Context, id, ref string) error {
	result, err := r.db.ExecContext(ctx, "UPDATE device SET endpoint_arn = ? WHERE id = ?", ref, id)
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
func (r *SQLiteRepository) AddMessages(ctx context.Context, ids []string, n int) error {
	if len(ids) == 0 || n == 0 {
		return nil
	}

	query, args, err := sq.Update("device").
		Set("message_count", sq.Expr("message_count + ?", n)).
		Where(inList("id", ids)).
		ToSql()
	if err != nil {
		return fmt.Errorf("building message count update: %w", err)
	}
	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("adding device messages: %w", err)
	}
	return nil
}

// GetByID implements Repository.
func (r *SQLiteRepository) GetByID(ctx context.Context, id string) (*Device, error) {
	row := r.db.QueryRowContext(ctx, "SELECT "+deviceColumns+" FROM device WHERE id = ?", id)
	d, err := scanDevice(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrDeviceNotFound
		}
		return nil, fmt.Errorf("querying device by id: %w", err)
	}
	return d, nil
}

// inList matches column against values bound as a single JSON array,
// keeping the statement within SQLite's bound-variable limit.
func inList(column string, values []string) sq.Sqlizer {
	list, err := json.Marshal(values)
	if err != nil {
		list = []byte("[]")
	}
	return sq.Expr(column+" IN (SELECT value FROM json_each(?))", string(list))
}

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanDevice(scanner rowScanner) (*Device, error) {
	var d Device
	var network, details, ctime, atime string
	var endpoint, address sql.NullString

	err := scanner.Scan(
		&d.ID,
		&network,
		&d.RegistrationID,
		&details,
		&endpoint,
		&address,
		&d.CurrentToken,
		&d.MessageCount,
		&ctime,
		&atime,
	)
	if err != nil {
		return nil, err
	}

	d.Network = Network(network)
	d.Details = []byte(details)
	d.EndpointRef = endpoint.String
	if address.Valid {
		d.CurrentAddress = &address.String
	}

	if d.CreatedAt, err = time.Parse(time.RFC3339Nano, ctime); err != nil {
		return nil, fmt.Errorf("parsing ctime: %w", err)
	}
	if d.AccessedAt, err = time.Parse(time.RFC3339Nano, atime); err != nil {
		return nil, fmt.Errorf("parsing atime: %w", err)
	}
	return &d, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func nullableString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func nullableJSON(raw []byte) sql.NullString {
	if raw == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: string(raw), Valid: true}
}

package booking

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"matchbreak/internal/types"
)

// DBTX is the minimal interface shared by *pgxpool.Pool and pgx.Tx.
// The repository accepts this so the same code works inside or outside a
// transaction.
type DBTX interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Repo is the PostgreSQL-backed booking repository.
type Repo struct {
	db DBTX
}

// NewRepo creates a booking repository backed by the given database
// connection (pool or transaction).
func NewRepo(db DBTX) *Repo {
	return &Repo{db: db}
}

// bookingColumns is the standard column set for booking queries. Used
// consistently across query methods to avoid column drift.
const bookingColumns = `b.id, b.status, b.customer_name, b.customer_email,
	b.package_name, b.destination, b.event_name, b.departure_date,
	b.total_amount_cents, b.currency, b.created_at`

// scanBooking scans a single booking row. The columns must match the order
// defined in bookingColumns.
func scanBooking(row pgx.Row) (*types.Booking, error) {
	var b types.Booking
	var status string

	err := row.Scan(
		&b.ID,
		&status,
		&b.CustomerName,
		&b.CustomerEmail,
		&b.PackageName,
		&b.Destination,
		&b.EventName,
		&b.DepartureDate,
		&b.TotalAmount,
		&b.Currency,
		&b.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	b.Status = types.BookingStatus(status)
	return &b, nil
}

// FindByID retrieves a booking snapshot. Returns (nil, nil) when the
// booking does not exist.
func (r *Repo) FindByID(ctx context.Context, id string) (*types.Booking, error) {
	row := r.db.QueryRow(ctx,
		`SELECT `+bookingColumns+`
		 FROM bookings b
		 WHERE b.id = $1`,
		id,
	)

	b, err := scanBooking(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to retrieve booking", err)
	}
	return b, nil
}

// UpdateStatus sets the booking's lifecycle status.
func (r *Repo) UpdateStatus(ctx context.Context, id string, status types.BookingStatus) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE bookings
		 SET status = $1,
		     updated_at = NOW()
		 WHERE id = $2`,
		string(status),
		id,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to update booking status", err)
	}
	if tag.RowsAffected() == 0 {
		return types.NewAppError(types.ErrCodeNotFoundBooking, "booking not found", nil)
	}
	return nil
}

// Compile-time assertions that Repo satisfies both contracts.
var (
	_ Store         = (*Repo)(nil)
	_ StatusUpdater = (*Repo)(nil)
)

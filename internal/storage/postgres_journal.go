package storage

import (
	"context"
	"database/sql"

	_ "github.com/lib/pq"

	"github.com/example/driver-session/internal/models"
)

type PostgresJournal struct {
	db *sql.DB
}

func NewPostgresJournal(ctx context.Context, dsn string) (*PostgresJournal, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	// quick ping
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &PostgresJournal{db: db}, nil
}

func (p *PostgresJournal) Append(ctx context.Context, e models.JournalEntry) error {
	e = Prepare(e)
	_, err := p.db.ExecContext(ctx, `INSERT INTO ride_journal(id, driver_id, ride_id, from_status, to_status, fare, created_at) VALUES($1,$2,$3,$4,$5,$6,$7)`,
		e.ID, e.DriverID, e.RideID, e.FromStatus, string(e.ToStatus), e.Fare, e.At)
	return err
}

// ListRide reads back one ride's history, oldest first.
func (p *PostgresJournal) ListRide(ctx context.Context, rideID int64) ([]models.JournalEntry, error) {
	rows, err := p.db.QueryContext(ctx, `SELECT id, driver_id, ride_id, from_status, to_status, fare, created_at FROM ride_journal WHERE ride_id=$1 ORDER BY created_at`, rideID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []models.JournalEntry
	for rows.Next() {
		var (
			e    models.JournalEntry
			to   string
			fare sql.NullFloat64
		)
		if err := rows.Scan(&e.ID, &e.DriverID, &e.RideID, &e.FromStatus, &to, &fare, &e.At); err != nil {
			return nil, err
		}
		e.ToStatus = models.RideStatus(to)
		if fare.Valid {
			f := fare.Float64
			e.Fare = &f
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (p *PostgresJournal) Close() error { return p.db.Close() }

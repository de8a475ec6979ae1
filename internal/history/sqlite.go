package history

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"time"

	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"

	apperrors "github.com/lcrostarosa/safecheck/internal/errors"
)

//go:embed migrations/*.sql
var migrations embed.FS

// OpenDB opens a SQLite database at path and runs migrations. ":memory:"
// gives a private in-memory database.
func OpenDB(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", path+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	// one connection: SQLite serialises writers anyway and an in-memory
	// database only exists on the connection that created it
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}

	if err := runMigrations(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return db, nil
}

func runMigrations(db *sql.DB) error {
	goose.SetBaseFS(migrations)
	goose.SetLogger(goose.NopLogger())

	if err := goose.SetDialect("sqlite3"); err != nil {
		return fmt.Errorf("set dialect: %w", err)
	}

	if err := goose.Up(db, "migrations"); err != nil {
		return fmt.Errorf("goose up: %w", err)
	}

	return nil
}

// SQLiteStore keeps history in the alert_history table.
type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(db *sql.DB) *SQLiteStore {
	return &SQLiteStore{db: db}
}

const entryColumns = `id, owner_id, alert_id, sender_id, sender_name, receiver_id, receiver_name,
	latitude, longitude, location_name, type, status, created_at`

func (s *SQLiteStore) Append(ctx context.Context, e Entry) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO alert_history (`+entryColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.OwnerID, e.AlertID, e.SenderID, e.SenderName, e.ReceiverID, e.ReceiverName,
		e.Latitude, e.Longitude, e.LocationName, string(e.Type), string(e.Status), e.Timestamp.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("append history %s: %w", e.ID, err)
	}
	return nil
}

func (s *SQLiteStore) List(ctx context.Context, ownerID string) ([]Entry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+entryColumns+` FROM alert_history
		 WHERE owner_id = ? ORDER BY created_at DESC, id`, ownerID,
	)
	if err != nil {
		return nil, fmt.Errorf("list history: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		var typ, status string
		var created int64
		if err := rows.Scan(&e.ID, &e.OwnerID, &e.AlertID, &e.SenderID, &e.SenderName, &e.ReceiverID, &e.ReceiverName,
			&e.Latitude, &e.Longitude, &e.LocationName, &typ, &status, &created); err != nil {
			return nil, fmt.Errorf("scan history: %w", err)
		}
		e.Type = Type(typ)
		e.Status = Status(status)
		e.Timestamp = time.Unix(0, created).UTC()
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (s *SQLiteStore) UpdateStatus(ctx context.Context, alertID string, status Status) ([]string, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx,
		`SELECT DISTINCT owner_id FROM alert_history WHERE alert_id = ? AND status = ?`,
		alertID, string(Delivered),
	)
	if err != nil {
		return nil, fmt.Errorf("find alert %s: %w", alertID, err)
	}
	var owners []string
	for rows.Next() {
		var o string
		if err := rows.Scan(&o); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan owner: %w", err)
		}
		owners = append(owners, o)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(owners) == 0 {
		return nil, apperrors.ErrAlertNotFound
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE alert_history SET status = ? WHERE alert_id = ? AND status = ?`,
		string(status), alertID, string(Delivered),
	); err != nil {
		return nil, fmt.Errorf("update alert %s: %w", alertID, err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return owners, nil
}

func (s *SQLiteStore) Purge(ctx context.Context, olderThan time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM alert_history WHERE created_at < ?`, olderThan.UnixNano())
	if err != nil {
		return 0, fmt.Errorf("purge history: %w", err)
	}
	return res.RowsAffected()
}

func (s *SQLiteStore) ExpireUnacknowledged(ctx context.Context, olderThan time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE alert_history SET status = ? WHERE status = ? AND created_at < ?`,
		string(Expired), string(Delivered), olderThan.UnixNano())
	if err != nil {
		return 0, fmt.Errorf("expire history: %w", err)
	}
	return res.RowsAffected()
}

package report

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/kiosk-status/internal/model"
)

// DefaultSQLiteDSN keeps the database in process memory.
const DefaultSQLiteDSN = "file::memory:"

// SQLiteStore implements Store using modernc.org/sqlite. The unique index on
// (kiosk_id, device_hash) makes each Put a single atomic upsert.
type SQLiteStore struct {
	db *sql.DB
}

var _ Store = (*SQLiteStore)(nil)

// NewSQLite opens the database at dsn and applies the schema.
func NewSQLite(ctx context.Context, dsn string) (*SQLiteStore, error) {
	if dsn == "" {
		dsn = DefaultSQLiteDSN
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}

	// One connection: an in-memory database lives and dies with it.
	db.SetMaxOpenConns(1)
	db.SetConnMaxLifetime(0)
	db.SetConnMaxIdleTime(0)

	s := &SQLiteStore{db: db}
	if err := s.Migrate(ctx); err != nil {
		db.Close() //nolint:errcheck
		return nil, err
	}
	return s, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS reports (
	id                  TEXT PRIMARY KEY,
	kiosk_id            TEXT NOT NULL,
	status              TEXT NOT NULL CHECK (status IN ('working', 'no_cash', 'out_of_service')),
	device_hash         TEXT NOT NULL,
	submitted_at_ns     INTEGER NOT NULL,
	trust_at_submission REAL NOT NULL
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_reports_kiosk_device ON reports(kiosk_id, device_hash);
CREATE INDEX IF NOT EXISTS idx_reports_submitted_at ON reports(submitted_at_ns);
`

// Migrate creates the reports table if it does not exist.
func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

// Close implements Store.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Put implements Store.
func (s *SQLiteStore) Put(ctx context.Context, r model.Report) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO reports (id, kiosk_id, status, device_hash, submitted_at_ns, trust_at_submission)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (kiosk_id, device_hash) DO UPDATE SET
			id = excluded.id,
			status = excluded.status,
			submitted_at_ns = excluded.submitted_at_ns,
			trust_at_submission = excluded.trust_at_submission`,
		r.ID, r.KioskID, string(r.Status), r.DeviceHash, r.SubmittedAt.UnixNano(), r.TrustAtSubmission,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: upsert report %s", r.ID)
	}
	return nil
}

const selectReport = `SELECT id, kiosk_id, status, device_hash, submitted_at_ns, trust_at_submission FROM reports`

// ForKiosk implements Store.
func (s *SQLiteStore) ForKiosk(ctx context.Context, kioskID string) ([]model.Report, error) {
	rows, err := s.db.QueryContext(ctx,
		selectReport+` WHERE kiosk_id = ? ORDER BY submitted_at_ns DESC, id ASC`, kioskID)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: reports for kiosk %s", kioskID)
	}
	return scanReports(rows)
}

// FindByID implements Store.
func (s *SQLiteStore) FindByID(ctx context.Context, reportID string) (model.Report, error) {
	row := s.db.QueryRowContext(ctx, selectReport+` WHERE id = ?`, reportID)
	r, err := scanReport(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Report{}, eris.Wrapf(model.ErrNotFound, "report %s", reportID)
	}
	if err != nil {
		return model.Report{}, eris.Wrapf(err, "sqlite: find report %s", reportID)
	}
	return r, nil
}

// All implements Store.
func (s *SQLiteStore) All(ctx context.Context) ([]model.Report, error) {
	rows, err := s.db.QueryContext(ctx, selectReport)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: all reports")
	}
	return scanReports(rows)
}

// Kiosks implements Store.
func (s *SQLiteStore) Kiosks(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT kiosk_id FROM reports ORDER BY kiosk_id`)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list kiosks")
	}
	defer rows.Close() //nolint:errcheck

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan kiosk id")
		}
		ids = append(ids, id)
	}
	return ids, eris.Wrap(rows.Err(), "sqlite: iterate kiosks")
}

type scanner interface {
	Scan(dest ...any) error
}

func scanReport(row scanner) (model.Report, error) {
	var (
		r      model.Report
		status string
		ns     int64
	)
	if err := row.Scan(&r.ID, &r.KioskID, &status, &r.DeviceHash, &ns, &r.TrustAtSubmission); err != nil {
		return model.Report{}, err
	}
	r.Status = model.Status(status)
	r.SubmittedAt = time.Unix(0, ns).UTC()
	return r, nil
}

func scanReports(rows *sql.Rows) ([]model.Report, error) {
	defer rows.Close() //nolint:errcheck

	var out []model.Report
	for rows.Next() {
		r, err := scanReport(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan report")
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "sqlite: iterate reports")
	}
	return out, nil
}

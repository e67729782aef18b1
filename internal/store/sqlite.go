package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/sells-group/visitor-intel/internal/company"
	"github.com/sells-group/visitor-intel/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS visits (
	id                  TEXT PRIMARY KEY,
	site_id             TEXT NOT NULL DEFAULT '',
	session_id          TEXT NOT NULL DEFAULT '',
	ip                  TEXT NOT NULL,
	url                 TEXT NOT NULL DEFAULT '',
	referrer            TEXT NOT NULL DEFAULT '',
	user_agent          TEXT NOT NULL DEFAULT '',
	company_name        TEXT NOT NULL DEFAULT '',
	company_domain      TEXT NOT NULL DEFAULT '',
	identity_source     TEXT NOT NULL DEFAULT '',
	identity_confidence REAL NOT NULL DEFAULT 0,
	company_id          TEXT NOT NULL DEFAULT '',
	created_at          DATETIME NOT NULL DEFAULT (datetime('now')),
	identified_at       DATETIME,
	enriched_at         DATETIME
);

CREATE INDEX IF NOT EXISTS idx_visits_company_name ON visits(company_name, created_at);
CREATE INDEX IF NOT EXISTS idx_visits_ip ON visits(ip);

CREATE TABLE IF NOT EXISTS sessions (
	id                  TEXT PRIMARY KEY,
	site_id             TEXT NOT NULL DEFAULT '',
	ip                  TEXT NOT NULL,
	company_name        TEXT NOT NULL DEFAULT '',
	company_domain      TEXT NOT NULL DEFAULT '',
	identity_source     TEXT NOT NULL DEFAULT '',
	identity_confidence REAL NOT NULL DEFAULT 0,
	company_id          TEXT NOT NULL DEFAULT '',
	started_at          DATETIME NOT NULL DEFAULT (datetime('now')),
	identified_at       DATETIME,
	enriched_at         DATETIME
);

CREATE INDEX IF NOT EXISTS idx_sessions_ip ON sessions(ip, started_at);

CREATE TABLE IF NOT EXISTS enrichment_tasks (
	id           TEXT PRIMARY KEY,
	domain       TEXT NOT NULL DEFAULT '',
	company_name TEXT NOT NULL DEFAULT '',
	visit_ids    BLOB NOT NULL,
	session_id   TEXT NOT NULL DEFAULT '',
	status       TEXT NOT NULL DEFAULT 'pending',
	result       TEXT NOT NULL DEFAULT '',
	company_id   TEXT NOT NULL DEFAULT '',
	error        TEXT NOT NULL DEFAULT '',
	created_at   DATETIME NOT NULL DEFAULT (datetime('now')),
	completed_at DATETIME
);

CREATE INDEX IF NOT EXISTS idx_enrichment_tasks_status ON enrichment_tasks(status, created_at);

CREATE TABLE IF NOT EXISTS companies (
	id             TEXT PRIMARY KEY,
	domain         TEXT NOT NULL,
	name           TEXT NOT NULL DEFAULT '',
	website        TEXT NOT NULL DEFAULT '',
	description    TEXT NOT NULL DEFAULT '',
	industry       TEXT NOT NULL DEFAULT '',
	year_founded   INTEGER NOT NULL DEFAULT 0,
	phone          TEXT NOT NULL DEFAULT '',
	linkedin_url   TEXT NOT NULL DEFAULT '',
	employee_count INTEGER NOT NULL DEFAULT 0,
	annual_revenue REAL NOT NULL DEFAULT 0,
	city           TEXT NOT NULL DEFAULT '',
	state          TEXT NOT NULL DEFAULT '',
	country        TEXT NOT NULL DEFAULT '',
	source         TEXT NOT NULL DEFAULT '',
	source_id      TEXT NOT NULL DEFAULT '',
	raw_data       BLOB,
	last_updated   DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS ip_ranges (
	position       INTEGER NOT NULL,
	id             TEXT NOT NULL,
	company_name   TEXT NOT NULL,
	company_domain TEXT NOT NULL DEFAULT '',
	start_ip       TEXT NOT NULL,
	end_ip         TEXT NOT NULL,
	start_num      INTEGER NOT NULL,
	end_num        INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS ip_info_cache (
	ip        TEXT PRIMARY KEY,
	data      BLOB NOT NULL,
	cached_at DATETIME NOT NULL DEFAULT (datetime('now'))
);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) GetVisit(ctx context.Context, id string) (*model.Visit, error) {
	v, err := scanVisit(s.db.QueryRowContext(ctx, rebind(selectVisitByID), id))
	if err != nil {
		return nil, sqliteNotFound(err, "sqlite: get visit %s", id)
	}
	return v, nil
}

func (s *SQLiteStore) ListUnidentifiedVisits(ctx context.Context, limit int) ([]model.Visit, error) {
	rows, err := s.db.QueryContext(ctx, rebind(selectUnidentifiedVisits), limit)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list unidentified visits")
	}
	defer rows.Close() //nolint:errcheck

	var visits []model.Visit
	for rows.Next() {
		v, err := scanVisit(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan visit")
		}
		visits = append(visits, *v)
	}
	return visits, eris.Wrap(rows.Err(), "sqlite: iterate visits")
}

func (s *SQLiteStore) GetSession(ctx context.Context, id string) (*model.Session, error) {
	sess, err := scanSession(s.db.QueryRowContext(ctx, rebind(selectSessionByID), id))
	if err != nil {
		return nil, sqliteNotFound(err, "sqlite: get session %s", id)
	}
	return sess, nil
}

func (s *SQLiteStore) ListSessionsByIP(ctx context.Context, ip string, limit int) ([]model.Session, error) {
	rows, err := s.db.QueryContext(ctx, rebind(selectSessionsByIP), ip, limit)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: list sessions for %s", ip)
	}
	defer rows.Close() //nolint:errcheck

	var sessions []model.Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan session")
		}
		sessions = append(sessions, *sess)
	}
	return sessions, eris.Wrap(rows.Err(), "sqlite: iterate sessions")
}

func (s *SQLiteStore) GetTask(ctx context.Context, id string) (*model.EnrichmentTask, error) {
	t, err := scanTask(s.db.QueryRowContext(ctx, rebind(selectTaskByID), id))
	if err != nil {
		return nil, sqliteNotFound(err, "sqlite: get task %s", id)
	}
	return t, nil
}

func (s *SQLiteStore) ListPendingTasks(ctx context.Context, limit int) ([]model.EnrichmentTask, error) {
	rows, err := s.db.QueryContext(ctx, rebind(selectPendingTasks), limit)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list pending tasks")
	}
	defer rows.Close() //nolint:errcheck

	var tasks []model.EnrichmentTask
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan task")
		}
		tasks = append(tasks, *t)
	}
	return tasks, eris.Wrap(rows.Err(), "sqlite: iterate tasks")
}

func (s *SQLiteStore) GetCompany(ctx context.Context, domain string) (*company.CompanyRecord, error) {
	id := company.NormalizeDomain(domain)
	c, err := scanCompany(s.db.QueryRowContext(ctx, rebind(selectCompanyByID), id))
	if err != nil {
		return nil, sqliteNotFound(err, "sqlite: get company %s", id)
	}
	return c, nil
}

func (s *SQLiteStore) ListIPRanges(ctx context.Context) ([]model.IPRange, error) {
	rows, err := s.db.QueryContext(ctx, selectIPRanges)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list ip ranges")
	}
	defer rows.Close() //nolint:errcheck

	var ranges []model.IPRange
	for rows.Next() {
		r, err := scanIPRange(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan ip range")
		}
		ranges = append(ranges, r)
	}
	return ranges, eris.Wrap(rows.Err(), "sqlite: iterate ip ranges")
}

func (s *SQLiteStore) ReplaceIPRanges(ctx context.Context, ranges []model.IPRange) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin replace ip ranges")
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, deleteIPRanges); err != nil {
		return eris.Wrap(err, "sqlite: clear ip ranges")
	}

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO ip_ranges (position, `+rangeColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return eris.Wrap(err, "sqlite: prepare ip range insert")
	}
	defer stmt.Close() //nolint:errcheck

	for _, row := range rangeRows(ranges) {
		if _, err := stmt.ExecContext(ctx, row...); err != nil {
			return eris.Wrapf(err, "sqlite: insert ip range %v", row[1])
		}
	}
	if err := tx.Commit(); err != nil {
		return eris.Wrap(err, "sqlite: commit ip ranges")
	}

	zap.L().Info("sqlite: replaced ip ranges", zap.Int("count", len(ranges)))
	return nil
}

func (s *SQLiteStore) GetIPInfo(ctx context.Context, ip string) ([]byte, time.Time, error) {
	var data []byte
	var cachedAt time.Time
	if err := s.db.QueryRowContext(ctx, rebind(selectIPInfo), ip).Scan(&data, &cachedAt); err != nil {
		return nil, time.Time{}, sqliteNotFound(err, "sqlite: get ip info %s", ip)
	}
	return data, cachedAt, nil
}

func (s *SQLiteStore) SetIPInfo(ctx context.Context, ip string, data []byte, cachedAt time.Time) error {
	_, err := s.db.ExecContext(ctx, rebind(upsertIPInfo), ip, data, cachedAt.UTC())
	return eris.Wrapf(err, "sqlite: set ip info %s", ip)
}

func (s *SQLiteStore) Commit(ctx context.Context, b *Batch) error {
	writes := b.Writes()
	if len(writes) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin batch")
	}
	defer func() { _ = tx.Rollback() }()

	err = applyWrites(ctx, writes, rebind, func(ctx context.Context, query string, args ...any) error {
		_, err := tx.ExecContext(ctx, query, args...)
		return err
	})
	if err != nil {
		return eris.Wrap(err, "sqlite: apply batch")
	}

	if err := tx.Commit(); err != nil {
		return eris.Wrap(err, "sqlite: commit batch")
	}
	return nil
}

func (s *SQLiteStore) Stats(ctx context.Context) (*Stats, error) {
	st := &Stats{TasksByStatus: make(map[model.TaskStatus]int)}

	rows, err := s.db.QueryContext(ctx, countTasksByStatus)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: count tasks")
	}
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			_ = rows.Close()
			return nil, eris.Wrap(err, "sqlite: scan task count")
		}
		st.TasksByStatus[model.TaskStatus(status)] = n
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return nil, eris.Wrap(err, "sqlite: iterate task counts")
	}
	_ = rows.Close()

	for _, c := range []struct {
		query string
		dest  *int
	}{
		{countUnidentified, &st.UnidentifiedVisits},
		{countCompanies, &st.Companies},
		{countIPRanges, &st.IPRanges},
	} {
		if err := s.db.QueryRowContext(ctx, c.query).Scan(c.dest); err != nil {
			return nil, eris.Wrap(err, "sqlite: stats")
		}
	}
	return st, nil
}

func sqliteNotFound(err error, format string, args ...any) error {
	if errors.Is(err, sql.ErrNoRows) {
		return eris.Wrapf(ErrNotFound, format, args...)
	}
	return eris.Wrapf(err, format, args...)
}

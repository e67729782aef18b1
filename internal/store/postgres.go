package store

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/visitor-intel/internal/company"
	"github.com/sells-group/visitor-intel/internal/db"
	"github.com/sells-group/visitor-intel/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

// NewPostgresWithPool wraps an existing pool, e.g. a pgxmock pool in tests.
func NewPostgresWithPool(pool db.Pool) *PostgresStore {
	return &PostgresStore{pool: pool, closeFn: pool.Close}
}

const postgresMigration = `
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
	identity_confidence DOUBLE PRECISION NOT NULL DEFAULT 0,
	company_id          TEXT NOT NULL DEFAULT '',
	created_at          TIMESTAMPTZ NOT NULL DEFAULT now(),
	identified_at       TIMESTAMPTZ,
	enriched_at         TIMESTAMPTZ
);

CREATE INDEX IF NOT EXISTS idx_visits_unidentified ON visits(created_at DESC) WHERE company_name = '';
CREATE INDEX IF NOT EXISTS idx_visits_ip ON visits(ip);

CREATE TABLE IF NOT EXISTS sessions (
	id                  TEXT PRIMARY KEY,
	site_id             TEXT NOT NULL DEFAULT '',
	ip                  TEXT NOT NULL,
	company_name        TEXT NOT NULL DEFAULT '',
	company_domain      TEXT NOT NULL DEFAULT '',
	identity_source     TEXT NOT NULL DEFAULT '',
	identity_confidence DOUBLE PRECISION NOT NULL DEFAULT 0,
	company_id          TEXT NOT NULL DEFAULT '',
	started_at          TIMESTAMPTZ NOT NULL DEFAULT now(),
	identified_at       TIMESTAMPTZ,
	enriched_at         TIMESTAMPTZ
);

CREATE INDEX IF NOT EXISTS idx_sessions_ip ON sessions(ip, started_at DESC);

CREATE TABLE IF NOT EXISTS enrichment_tasks (
	id           TEXT PRIMARY KEY,
	domain       TEXT NOT NULL DEFAULT '',
	company_name TEXT NOT NULL DEFAULT '',
	visit_ids    JSONB NOT NULL DEFAULT '[]',
	session_id   TEXT NOT NULL DEFAULT '',
	status       TEXT NOT NULL DEFAULT 'pending',
	result       TEXT NOT NULL DEFAULT '',
	company_id   TEXT NOT NULL DEFAULT '',
	error        TEXT NOT NULL DEFAULT '',
	created_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
	completed_at TIMESTAMPTZ
);

CREATE INDEX IF NOT EXISTS idx_enrichment_tasks_pending ON enrichment_tasks(created_at) WHERE status = 'pending';

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
	annual_revenue DOUBLE PRECISION NOT NULL DEFAULT 0,
	city           TEXT NOT NULL DEFAULT '',
	state          TEXT NOT NULL DEFAULT '',
	country        TEXT NOT NULL DEFAULT '',
	source         TEXT NOT NULL DEFAULT '',
	source_id      TEXT NOT NULL DEFAULT '',
	raw_data       JSONB,
	last_updated   TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS ip_ranges (
	position       INTEGER NOT NULL,
	id             TEXT NOT NULL,
	company_name   TEXT NOT NULL,
	company_domain TEXT NOT NULL DEFAULT '',
	start_ip       TEXT NOT NULL,
	end_ip         TEXT NOT NULL,
	start_num      BIGINT NOT NULL,
	end_num        BIGINT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_ip_ranges_position ON ip_ranges(position);

CREATE TABLE IF NOT EXISTS ip_info_cache (
	ip        TEXT PRIMARY KEY,
	data      JSONB NOT NULL,
	cached_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
`

// Ping checks database connectivity.
func (s *PostgresStore) Ping(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, "SELECT 1")
	return eris.Wrap(err, "postgres: ping")
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

func (s *PostgresStore) GetVisit(ctx context.Context, id string) (*model.Visit, error) {
	v, err := scanVisit(s.pool.QueryRow(ctx, selectVisitByID, id))
	if err != nil {
		return nil, pgNotFound(err, "postgres: get visit %s", id)
	}
	return v, nil
}

func (s *PostgresStore) ListUnidentifiedVisits(ctx context.Context, limit int) ([]model.Visit, error) {
	rows, err := s.pool.Query(ctx, selectUnidentifiedVisits, limit)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list unidentified visits")
	}
	defer rows.Close()

	var visits []model.Visit
	for rows.Next() {
		v, err := scanVisit(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan visit")
		}
		visits = append(visits, *v)
	}
	return visits, eris.Wrap(rows.Err(), "postgres: iterate visits")
}

func (s *PostgresStore) GetSession(ctx context.Context, id string) (*model.Session, error) {
	sess, err := scanSession(s.pool.QueryRow(ctx, selectSessionByID, id))
	if err != nil {
		return nil, pgNotFound(err, "postgres: get session %s", id)
	}
	return sess, nil
}

func (s *PostgresStore) ListSessionsByIP(ctx context.Context, ip string, limit int) ([]model.Session, error) {
	rows, err := s.pool.Query(ctx, selectSessionsByIP, ip, limit)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: list sessions for %s", ip)
	}
	defer rows.Close()

	var sessions []model.Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan session")
		}
		sessions = append(sessions, *sess)
	}
	return sessions, eris.Wrap(rows.Err(), "postgres: iterate sessions")
}

func (s *PostgresStore) GetTask(ctx context.Context, id string) (*model.EnrichmentTask, error) {
	t, err := scanTask(s.pool.QueryRow(ctx, selectTaskByID, id))
	if err != nil {
		return nil, pgNotFound(err, "postgres: get task %s", id)
	}
	return t, nil
}

func (s *PostgresStore) ListPendingTasks(ctx context.Context, limit int) ([]model.EnrichmentTask, error) {
	rows, err := s.pool.Query(ctx, selectPendingTasks, limit)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list pending tasks")
	}
	defer rows.Close()

	var tasks []model.EnrichmentTask
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan task")
		}
		tasks = append(tasks, *t)
	}
	return tasks, eris.Wrap(rows.Err(), "postgres: iterate tasks")
}

func (s *PostgresStore) GetCompany(ctx context.Context, domain string) (*company.CompanyRecord, error) {
	id := company.NormalizeDomain(domain)
	c, err := scanCompany(s.pool.QueryRow(ctx, selectCompanyByID, id))
	if err != nil {
		return nil, pgNotFound(err, "postgres: get company %s", id)
	}
	return c, nil
}

func (s *PostgresStore) ListIPRanges(ctx context.Context) ([]model.IPRange, error) {
	rows, err := s.pool.Query(ctx, selectIPRanges)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list ip ranges")
	}
	defer rows.Close()

	var ranges []model.IPRange
	for rows.Next() {
		r, err := scanIPRange(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan ip range")
		}
		ranges = append(ranges, r)
	}
	return ranges, eris.Wrap(rows.Err(), "postgres: iterate ip ranges")
}

// ReplaceIPRanges swaps the whole directory in one transaction using COPY.
func (s *PostgresStore) ReplaceIPRanges(ctx context.Context, ranges []model.IPRange) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return eris.Wrap(err, "postgres: begin replace ip ranges")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, deleteIPRanges); err != nil {
		return eris.Wrap(err, "postgres: clear ip ranges")
	}
	n, err := db.CopyFrom(ctx, tx, "ip_ranges", rangeInsertColumns, rangeRows(ranges))
	if err != nil {
		return eris.Wrap(err, "postgres: load ip ranges")
	}
	if err := tx.Commit(ctx); err != nil {
		return eris.Wrap(err, "postgres: commit ip ranges")
	}

	zap.L().Info("postgres: replaced ip ranges", zap.Int64("count", n))
	return nil
}

func (s *PostgresStore) GetIPInfo(ctx context.Context, ip string) ([]byte, time.Time, error) {
	var data []byte
	var cachedAt time.Time
	if err := s.pool.QueryRow(ctx, selectIPInfo, ip).Scan(&data, &cachedAt); err != nil {
		return nil, time.Time{}, pgNotFound(err, "postgres: get ip info %s", ip)
	}
	return data, cachedAt, nil
}

func (s *PostgresStore) SetIPInfo(ctx context.Context, ip string, data []byte, cachedAt time.Time) error {
	_, err := s.pool.Exec(ctx, upsertIPInfo, ip, data, cachedAt.UTC())
	return eris.Wrapf(err, "postgres: set ip info %s", ip)
}

// Commit applies the batch in a single transaction. Nothing is written
// unless every staged write succeeds.
func (s *PostgresStore) Commit(ctx context.Context, b *Batch) error {
	writes := b.Writes()
	if len(writes) == 0 {
		return nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return eris.Wrap(err, "postgres: begin batch")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	err = applyWrites(ctx, writes, func(q string) string { return q },
		func(ctx context.Context, query string, args ...any) error {
			_, err := tx.Exec(ctx, query, args...)
			return err
		})
	if err != nil {
		return eris.Wrap(err, "postgres: apply batch")
	}

	if err := tx.Commit(ctx); err != nil {
		return eris.Wrap(err, "postgres: commit batch")
	}
	return nil
}

func (s *PostgresStore) Stats(ctx context.Context) (*Stats, error) {
	st := &Stats{TasksByStatus: make(map[model.TaskStatus]int)}

	rows, err := s.pool.Query(ctx, countTasksByStatus)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: count tasks")
	}
	defer rows.Close()
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, eris.Wrap(err, "postgres: scan task count")
		}
		st.TasksByStatus[model.TaskStatus(status)] = n
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "postgres: iterate task counts")
	}

	for _, c := range []struct {
		query string
		dest  *int
	}{
		{countUnidentified, &st.UnidentifiedVisits},
		{countCompanies, &st.Companies},
		{countIPRanges, &st.IPRanges},
	} {
		if err := s.pool.QueryRow(ctx, c.query).Scan(c.dest); err != nil {
			return nil, eris.Wrap(err, "postgres: stats")
		}
	}
	return st, nil
}

func pgNotFound(err error, format string, args ...any) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return eris.Wrapf(ErrNotFound, format, args...)
	}
	return eris.Wrapf(err, format, args...)
}

package store

import (
	"context"
	"encoding/json"
	"regexp"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/visitor-intel/internal/company"
	"github.com/sells-group/visitor-intel/internal/model"
)

// Statements are written with Postgres placeholders; rebind rewrites them
// for SQLite. Every statement uses its placeholders once, in order.
const (
	visitColumns   = `id, site_id, session_id, ip, url, referrer, user_agent, company_name, company_domain, identity_source, identity_confidence, company_id, created_at, identified_at, enriched_at`
	sessionColumns = `id, site_id, ip, company_name, company_domain, identity_source, identity_confidence, company_id, started_at, identified_at, enriched_at`
	taskColumns    = `id, domain, company_name, visit_ids, session_id, status, result, company_id, error, created_at, completed_at`
	companyColumns = `id, domain, name, website, description, industry, year_founded, phone, linkedin_url, employee_count, annual_revenue, city, state, country, source, source_id, raw_data, last_updated`
	rangeColumns   = `id, company_name, company_domain, start_ip, end_ip, start_num, end_num`
)

var writeStatements = map[writeKind]string{
	kindCreateVisit: `INSERT INTO visits (` + visitColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`,
	kindEnsureSession: `INSERT INTO sessions (` + sessionColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (id) DO NOTHING`,
	kindCreateTask: `INSERT INTO enrichment_tasks (` + taskColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
	kindUpdateTask: `UPDATE enrichment_tasks
		SET status = $1, result = $2, company_id = $3, error = $4, completed_at = $5
		WHERE id = $6 AND status = 'pending'`,
	kindUpsertCompany: `INSERT INTO companies (` + companyColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)
		ON CONFLICT (id) DO UPDATE SET
			domain = EXCLUDED.domain, name = EXCLUDED.name, website = EXCLUDED.website,
			description = EXCLUDED.description, industry = EXCLUDED.industry,
			year_founded = EXCLUDED.year_founded, phone = EXCLUDED.phone,
			linkedin_url = EXCLUDED.linkedin_url, employee_count = EXCLUDED.employee_count,
			annual_revenue = EXCLUDED.annual_revenue, city = EXCLUDED.city,
			state = EXCLUDED.state, country = EXCLUDED.country, source = EXCLUDED.source,
			source_id = EXCLUDED.source_id, raw_data = EXCLUDED.raw_data,
			last_updated = EXCLUDED.last_updated`,
	kindIdentifyVisit: `UPDATE visits
		SET company_name = $1, company_domain = $2, identity_source = $3, identity_confidence = $4, identified_at = $5
		WHERE id = $6`,
	kindIdentifySession: `UPDATE sessions
		SET company_name = $1, company_domain = $2, identity_source = $3, identity_confidence = $4, identified_at = $5
		WHERE id = $6`,
	kindLinkVisit:   `UPDATE visits SET company_id = $1, enriched_at = $2 WHERE id = $3`,
	kindLinkSession: `UPDATE sessions SET company_id = $1, enriched_at = $2 WHERE id = $3`,
}

const (
	selectVisitByID          = `SELECT ` + visitColumns + ` FROM visits WHERE id = $1`
	selectUnidentifiedVisits = `SELECT ` + visitColumns + ` FROM visits
		WHERE company_name = '' ORDER BY created_at DESC, id LIMIT $1`
	selectSessionByID  = `SELECT ` + sessionColumns + ` FROM sessions WHERE id = $1`
	selectSessionsByIP = `SELECT ` + sessionColumns + ` FROM sessions
		WHERE ip = $1 ORDER BY started_at DESC, id LIMIT $2`
	selectTaskByID     = `SELECT ` + taskColumns + ` FROM enrichment_tasks WHERE id = $1`
	selectPendingTasks = `SELECT ` + taskColumns + ` FROM enrichment_tasks
		WHERE status = 'pending' ORDER BY created_at, id LIMIT $1`
	selectCompanyByID = `SELECT ` + companyColumns + ` FROM companies WHERE id = $1`
	selectIPRanges    = `SELECT ` + rangeColumns + ` FROM ip_ranges ORDER BY position`
	selectIPInfo      = `SELECT data, cached_at FROM ip_info_cache WHERE ip = $1`
	upsertIPInfo      = `INSERT INTO ip_info_cache (ip, data, cached_at) VALUES ($1, $2, $3)
		ON CONFLICT (ip) DO UPDATE SET data = EXCLUDED.data, cached_at = EXCLUDED.cached_at`
	countTasksByStatus = `SELECT status, COUNT(*) FROM enrichment_tasks GROUP BY status`
	countUnidentified  = `SELECT COUNT(*) FROM visits WHERE company_name = ''`
	countCompanies     = `SELECT COUNT(*) FROM companies`
	countIPRanges      = `SELECT COUNT(*) FROM ip_ranges`
	deleteIPRanges     = `DELETE FROM ip_ranges`
)

var placeholder = regexp.MustCompile(`\$\d+`)

// rebind converts $N placeholders to SQLite's positional ?.
func rebind(query string) string {
	return placeholder.ReplaceAllString(query, "?")
}

// execFunc runs one statement inside the commit transaction.
type execFunc func(ctx context.Context, query string, args ...any) error

// applyWrites executes every staged write in order through exec.
func applyWrites(ctx context.Context, writes []Write, bind func(string) string, exec execFunc) error {
	for i, w := range writes {
		kind, err := classify(w)
		if err != nil {
			return err
		}
		args, err := writeArgs(kind, w)
		if err != nil {
			return err
		}
		if err := exec(ctx, bind(writeStatements[kind]), args...); err != nil {
			return eris.Wrapf(err, "store: write %d (%s %s %s)", i, w.Op, w.Collection, w.ID)
		}
	}
	return nil
}

// writeArgs flattens a classified write's payload into statement arguments.
func writeArgs(kind writeKind, w Write) ([]any, error) {
	switch kind {
	case kindCreateVisit:
		v := w.Payload.(*model.Visit)
		return []any{
			w.ID, v.SiteID, v.SessionID, v.IP, v.URL, v.Referrer, v.UserAgent,
			v.CompanyName, v.CompanyDomain, string(v.IdentitySource), v.IdentityConfidence,
			v.CompanyID, v.CreatedAt.UTC(), nullTime(v.IdentifiedAt), nullTime(v.EnrichedAt),
		}, nil
	case kindEnsureSession:
		s := w.Payload.(*model.Session)
		return []any{
			w.ID, s.SiteID, s.IP, s.CompanyName, s.CompanyDomain, string(s.IdentitySource),
			s.IdentityConfidence, s.CompanyID, s.StartedAt.UTC(), nullTime(s.IdentifiedAt), nullTime(s.EnrichedAt),
		}, nil
	case kindCreateTask:
		t := w.Payload.(*model.EnrichmentTask)
		ids, err := encodeIDs(t.VisitIDs)
		if err != nil {
			return nil, err
		}
		status := t.Status
		if status == "" {
			status = model.TaskStatusPending
		}
		return []any{
			w.ID, t.Domain, t.CompanyName, ids, t.SessionID, string(status), string(t.Result),
			t.CompanyID, t.Error, t.CreatedAt.UTC(), nullTime(t.CompletedAt),
		}, nil
	case kindUpdateTask:
		u := w.Payload.(model.TaskUpdate)
		return []any{string(u.Status), string(u.Result), u.CompanyID, u.Error, u.CompletedAt.UTC(), w.ID}, nil
	case kindUpsertCompany:
		c := w.Payload.(*company.CompanyRecord)
		return []any{
			w.ID, c.Domain, c.Name, c.Website, c.Description, c.Industry, c.YearFounded,
			c.Phone, c.LinkedInURL, c.EmployeeCount, c.AnnualRevenue, c.City, c.State,
			c.Country, c.Source, c.SourceID, nullJSON(c.RawData), c.LastUpdated.UTC(),
		}, nil
	case kindIdentifyVisit, kindIdentifySession:
		u := w.Payload.(model.IdentityUpdate)
		return []any{u.CompanyName, u.CompanyDomain, string(u.Source), model.ClampConfidence(u.Confidence), u.IdentifiedAt.UTC(), w.ID}, nil
	case kindLinkVisit, kindLinkSession:
		l := w.Payload.(model.CompanyLink)
		return []any{l.CompanyID, l.EnrichedAt.UTC(), w.ID}, nil
	}
	return nil, eris.Errorf("store: no statement for write kind %d", kind)
}

// rowScanner is satisfied by pgx.Row, pgx.Rows, *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanVisit(row rowScanner) (*model.Visit, error) {
	var v model.Visit
	var source string
	var identifiedAt, enrichedAt *time.Time
	if err := row.Scan(&v.ID, &v.SiteID, &v.SessionID, &v.IP, &v.URL, &v.Referrer, &v.UserAgent,
		&v.CompanyName, &v.CompanyDomain, &source, &v.IdentityConfidence, &v.CompanyID,
		&v.CreatedAt, &identifiedAt, &enrichedAt); err != nil {
		return nil, err
	}
	v.IdentitySource = model.SignalSource(source)
	v.IdentifiedAt = identifiedAt
	v.EnrichedAt = enrichedAt
	return &v, nil
}

func scanSession(row rowScanner) (*model.Session, error) {
	var s model.Session
	var source string
	var identifiedAt, enrichedAt *time.Time
	if err := row.Scan(&s.ID, &s.SiteID, &s.IP, &s.CompanyName, &s.CompanyDomain, &source,
		&s.IdentityConfidence, &s.CompanyID, &s.StartedAt, &identifiedAt, &enrichedAt); err != nil {
		return nil, err
	}
	s.IdentitySource = model.SignalSource(source)
	s.IdentifiedAt = identifiedAt
	s.EnrichedAt = enrichedAt
	return &s, nil
}

func scanTask(row rowScanner) (*model.EnrichmentTask, error) {
	var t model.EnrichmentTask
	var ids []byte
	var status, result string
	var completedAt *time.Time
	if err := row.Scan(&t.ID, &t.Domain, &t.CompanyName, &ids, &t.SessionID, &status, &result,
		&t.CompanyID, &t.Error, &t.CreatedAt, &completedAt); err != nil {
		return nil, err
	}
	t.Status = model.TaskStatus(status)
	t.Result = model.TaskResult(result)
	t.CompletedAt = completedAt
	if len(ids) > 0 {
		if err := json.Unmarshal(ids, &t.VisitIDs); err != nil {
			return nil, eris.Wrapf(err, "store: decode visit ids for task %s", t.ID)
		}
	}
	if t.VisitIDs == nil {
		t.VisitIDs = []string{}
	}
	return &t, nil
}

func scanCompany(row rowScanner) (*company.CompanyRecord, error) {
	var c company.CompanyRecord
	var raw []byte
	if err := row.Scan(&c.ID, &c.Domain, &c.Name, &c.Website, &c.Description, &c.Industry,
		&c.YearFounded, &c.Phone, &c.LinkedInURL, &c.EmployeeCount, &c.AnnualRevenue,
		&c.City, &c.State, &c.Country, &c.Source, &c.SourceID, &raw, &c.LastUpdated); err != nil {
		return nil, err
	}
	if len(raw) > 0 {
		c.RawData = raw
	}
	return &c, nil
}

func scanIPRange(row rowScanner) (model.IPRange, error) {
	var r model.IPRange
	var start, end int64
	if err := row.Scan(&r.ID, &r.CompanyName, &r.CompanyDomain, &r.StartIP, &r.EndIP, &start, &end); err != nil {
		return r, err
	}
	r.Start = uint32(start) //nolint:gosec // stored from uint32
	r.End = uint32(end)     //nolint:gosec // stored from uint32
	return r, nil
}

// rangeRows flattens ranges for bulk insert, keeping directory order in position.
func rangeRows(ranges []model.IPRange) [][]any {
	rows := make([][]any, len(ranges))
	for i, r := range ranges {
		rows[i] = []any{i, r.ID, r.CompanyName, r.CompanyDomain, r.StartIP, r.EndIP, int64(r.Start), int64(r.End)}
	}
	return rows
}

var rangeInsertColumns = []string{"position", "id", "company_name", "company_domain", "start_ip", "end_ip", "start_num", "end_num"}

func encodeIDs(ids []string) ([]byte, error) {
	if ids == nil {
		ids = []string{}
	}
	b, err := json.Marshal(ids)
	if err != nil {
		return nil, eris.Wrap(err, "store: encode visit ids")
	}
	return b, nil
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC()
}

func nullJSON(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	return []byte(raw)
}

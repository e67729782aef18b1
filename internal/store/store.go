// Package store persists visits, sessions, enrichment tasks, company records
// and the static IP range directory, and commits staged batches atomically.
package store

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/visitor-intel/internal/company"
	"github.com/sells-group/visitor-intel/internal/model"
)

// ErrNotFound is returned by get-by-id lookups when no row matches.
var ErrNotFound = eris.New("not found")

// Stats is a point-in-time count of the stored pipeline state.
type Stats struct {
	TasksByStatus      map[model.TaskStatus]int `json:"tasks_by_status"`
	UnidentifiedVisits int                      `json:"unidentified_visits"`
	Companies          int                      `json:"companies"`
	IPRanges           int                      `json:"ip_ranges"`
}

// Store defines the persistence interface for the identification pipeline.
type Store interface {
	// Visits and sessions
	GetVisit(ctx context.Context, id string) (*model.Visit, error)
	ListUnidentifiedVisits(ctx context.Context, limit int) ([]model.Visit, error)
	GetSession(ctx context.Context, id string) (*model.Session, error)
	ListSessionsByIP(ctx context.Context, ip string, limit int) ([]model.Session, error)

	// Enrichment tasks
	GetTask(ctx context.Context, id string) (*model.EnrichmentTask, error)
	ListPendingTasks(ctx context.Context, limit int) ([]model.EnrichmentTask, error)

	// Companies
	GetCompany(ctx context.Context, domain string) (*company.CompanyRecord, error)

	// IP range directory
	ListIPRanges(ctx context.Context) ([]model.IPRange, error)
	ReplaceIPRanges(ctx context.Context, ranges []model.IPRange) error

	// IP info cache
	GetIPInfo(ctx context.Context, ip string) ([]byte, time.Time, error)
	SetIPInfo(ctx context.Context, ip string, data []byte, cachedAt time.Time) error

	// Commit applies every staged write in b as one transaction, or none.
	Commit(ctx context.Context, b *Batch) error

	Stats(ctx context.Context) (*Stats, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}

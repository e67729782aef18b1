// Package dedup identifies unlabelled visits in bulk: visits sharing an IP
// are resolved with one lookup and fan out into at most one enrichment task.
package dedup

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/visitor-intel/internal/model"
	"github.com/sells-group/visitor-intel/internal/store"
)

// Defaults for a dedup cycle.
const (
	DefaultVisitPageSize   = 100
	DefaultSessionPageSize = 50
	DefaultConcurrency     = 5
)

// Resolver maps an IP to a company identity.
type Resolver interface {
	Resolve(ctx context.Context, ip string) model.ResolvedIdentity
}

// VisitStore is the persistence surface used by the collaborator.
type VisitStore interface {
	ListUnidentifiedVisits(ctx context.Context, limit int) ([]model.Visit, error)
	ListSessionsByIP(ctx context.Context, ip string, limit int) ([]model.Session, error)
	Commit(ctx context.Context, b *store.Batch) error
}

// Result summarizes one cycle.
type Result struct {
	Processed    int `json:"processed"`
	UniqueIPs    int `json:"unique_ips"`
	Identified   int `json:"identified"`
	TasksCreated int `json:"tasks_created"`
}

// Option configures a Collaborator.
type Option func(*Collaborator)

// WithVisitPageSize sets how many unidentified visits one cycle pulls.
func WithVisitPageSize(n int) Option {
	return func(c *Collaborator) {
		if n > 0 {
			c.visitPageSize = n
		}
	}
}

// WithSessionPageSize bounds the sessions updated per IP.
func WithSessionPageSize(n int) Option {
	return func(c *Collaborator) {
		if n > 0 {
			c.sessionPageSize = n
		}
	}
}

// WithConcurrency sets how many IPs are resolved at once.
func WithConcurrency(n int) Option {
	return func(c *Collaborator) {
		if n > 0 {
			c.concurrency = n
		}
	}
}

// WithClock overrides the time source (for testing).
func WithClock(fn func() time.Time) Option {
	return func(c *Collaborator) {
		c.nowFunc = fn
	}
}

// WithIDFunc overrides task id generation (for testing).
func WithIDFunc(fn func() string) Option {
	return func(c *Collaborator) {
		c.newID = fn
	}
}

// Collaborator runs dedup cycles.
type Collaborator struct {
	store           VisitStore
	resolver        Resolver
	visitPageSize   int
	sessionPageSize int
	concurrency     int
	nowFunc         func() time.Time
	newID           func() string
}

// New creates a Collaborator.
func New(s VisitStore, r Resolver, opts ...Option) *Collaborator {
	c := &Collaborator{
		store:           s,
		resolver:        r,
		visitPageSize:   DefaultVisitPageSize,
		sessionPageSize: DefaultSessionPageSize,
		concurrency:     DefaultConcurrency,
		nowFunc:         time.Now,
		newID:           uuid.NewString,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// ipGroup is the visits of one page that share an exact IP string.
type ipGroup struct {
	ip     string
	visits []model.Visit
}

// groupByIP groups visits by IP in first-seen order. Visits without an IP
// are dropped.
func groupByIP(visits []model.Visit) []*ipGroup {
	index := make(map[string]*ipGroup)
	var groups []*ipGroup
	for _, v := range visits {
		if v.IP == "" {
			continue
		}
		g, ok := index[v.IP]
		if !ok {
			g = &ipGroup{ip: v.IP}
			index[v.IP] = g
			groups = append(groups, g)
		}
		g.visits = append(g.visits, v)
	}
	return groups
}

// RunCycle pulls one page of unidentified visits, resolves each distinct IP
// once and commits every resulting visit, session and task write as one batch.
func (c *Collaborator) RunCycle(ctx context.Context) (*Result, error) {
	visits, err := c.store.ListUnidentifiedVisits(ctx, c.visitPageSize)
	if err != nil {
		return nil, eris.Wrap(err, "dedup: list unidentified visits")
	}

	groups := groupByIP(visits)
	res := &Result{Processed: len(visits), UniqueIPs: len(groups)}
	if len(groups) == 0 {
		zap.L().Debug("dedup: no unidentified visits")
		return res, nil
	}

	staged := make([]*store.Batch, len(groups))
	created := make([]bool, len(groups))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.concurrency)
	for i, grp := range groups {
		i, grp := i, grp
		g.Go(func() error {
			staged[i], created[i] = c.processIP(gctx, grp)
			return nil
		})
	}
	_ = g.Wait()

	batch := store.NewBatch()
	for i, b := range staged {
		if b == nil {
			continue
		}
		res.Identified++
		if created[i] {
			res.TasksCreated++
		}
		batch.Merge(b)
	}

	if batch.Len() > 0 {
		if err := c.store.Commit(ctx, batch); err != nil {
			zap.L().Error("dedup: cycle commit failed",
				zap.Int("ips", len(groups)),
				zap.Int("writes", batch.Len()),
				zap.Error(err),
			)
			return nil, eris.Wrap(err, "dedup: commit cycle")
		}
	}

	zap.L().Info("dedup: cycle complete",
		zap.Int("visits", res.Processed),
		zap.Int("unique_ips", res.UniqueIPs),
		zap.Int("identified", res.Identified),
		zap.Int("tasks_created", res.TasksCreated),
	)
	return res, nil
}

// processIP resolves one IP and stages its writes. It returns nil when the
// IP could not be attributed to a company.
func (c *Collaborator) processIP(ctx context.Context, grp *ipGroup) (*store.Batch, bool) {
	id := c.resolver.Resolve(ctx, grp.ip)
	if !id.Found() {
		return nil, false
	}

	update := id.Identity()
	update.IdentifiedAt = c.nowFunc().UTC()

	b := store.NewBatch()
	visitIDs := make([]string, 0, len(grp.visits))
	for _, v := range grp.visits {
		b.IdentifyVisit(v.ID, update)
		visitIDs = append(visitIDs, v.ID)
	}

	sessionID := grp.visits[0].SessionID
	sessions, err := c.store.ListSessionsByIP(ctx, grp.ip, c.sessionPageSize)
	if err != nil {
		zap.L().Warn("dedup: list sessions failed", zap.String("ip", grp.ip), zap.Error(err))
	}
	for _, s := range sessions {
		b.IdentifySession(s.ID, update)
		if sessionID == "" {
			sessionID = s.ID
		}
	}

	if !id.HasDomain() {
		return b, false
	}

	b.CreateTask(&model.EnrichmentTask{
		ID:          c.newID(),
		Domain:      id.CompanyDomain,
		CompanyName: id.CompanyName,
		VisitIDs:    visitIDs,
		SessionID:   sessionID,
		Status:      model.TaskStatusPending,
		CreatedAt:   update.IdentifiedAt,
	})

	zap.L().Debug("dedup: task staged",
		zap.String("ip", grp.ip),
		zap.String("domain", id.CompanyDomain),
		zap.String("source", string(id.Source)),
		zap.Int("visits", len(visitIDs)),
	)
	return b, true
}

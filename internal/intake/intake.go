// Package intake records new visits: the visitor IP is resolved on the spot
// and the visit, its session and any enrichment task are written together.
package intake

import (
	"context"
	"net/netip"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/visitor-intel/internal/model"
	"github.com/sells-group/visitor-intel/internal/store"
)

// ErrInvalidVisit is returned when a visit cannot be recorded as given.
var ErrInvalidVisit = eris.New("invalid visit")

// Resolver maps an IP to a company identity.
type Resolver interface {
	Resolve(ctx context.Context, ip string) model.ResolvedIdentity
}

// Committer applies a batch of writes atomically.
type Committer interface {
	Commit(ctx context.Context, b *store.Batch) error
}

// VisitInput is a page view reported by the tracking widget.
type VisitInput struct {
	ID         string    `json:"id,omitempty"`
	SiteID     string    `json:"site_id,omitempty"`
	SessionID  string    `json:"session_id,omitempty"`
	IP         string    `json:"ip"`
	URL        string    `json:"url,omitempty"`
	Referrer   string    `json:"referrer,omitempty"`
	UserAgent  string    `json:"user_agent,omitempty"`
	OccurredAt time.Time `json:"occurred_at,omitempty"`
}

// Outcome is what Record wrote.
type Outcome struct {
	Visit    model.Visit            `json:"visit"`
	Identity model.ResolvedIdentity `json:"identity"`
	TaskID   string                 `json:"task_id,omitempty"`
}

// Service records visits.
type Service struct {
	store    Committer
	resolver Resolver
	nowFunc  func() time.Time
	newID    func() string
}

// Option configures a Service.
type Option func(*Service)

// WithClock overrides the time source (for testing).
func WithClock(fn func() time.Time) Option {
	return func(s *Service) { s.nowFunc = fn }
}

// WithIDFunc overrides id generation (for testing).
func WithIDFunc(fn func() string) Option {
	return func(s *Service) { s.newID = fn }
}

// NewService creates a Service.
func NewService(c Committer, r Resolver, opts ...Option) *Service {
	s := &Service{
		store:    c,
		resolver: r,
		nowFunc:  time.Now,
		newID:    uuid.NewString,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Record resolves the visit's IP, then commits the visit (carrying the
// company fields when a name was found), its session, and one pending
// enrichment task when a domain was found.
func (s *Service) Record(ctx context.Context, in VisitInput) (*Outcome, error) {
	ip := strings.TrimSpace(in.IP)
	if _, err := netip.ParseAddr(ip); err != nil {
		return nil, eris.Wrapf(ErrInvalidVisit, "intake: ip %q", in.IP)
	}

	now := s.nowFunc().UTC()
	v := model.Visit{
		ID:        in.ID,
		SiteID:    in.SiteID,
		SessionID: in.SessionID,
		IP:        ip,
		URL:       in.URL,
		Referrer:  in.Referrer,
		UserAgent: in.UserAgent,
		CreatedAt: now,
	}
	if v.ID == "" {
		v.ID = s.newID()
	}
	if !in.OccurredAt.IsZero() {
		v.CreatedAt = in.OccurredAt.UTC()
	}

	id := s.resolver.Resolve(ctx, ip)
	out := &Outcome{Identity: id}

	b := store.NewBatch()
	var update model.IdentityUpdate
	if id.Found() {
		update = id.Identity()
		update.IdentifiedAt = now
		v.CompanyName = update.CompanyName
		v.CompanyDomain = update.CompanyDomain
		v.IdentitySource = update.Source
		v.IdentityConfidence = update.Confidence
		v.IdentifiedAt = &now
	}
	b.CreateVisit(&v)

	if v.SessionID != "" {
		b.EnsureSession(&model.Session{
			ID:        v.SessionID,
			SiteID:    v.SiteID,
			IP:        ip,
			StartedAt: v.CreatedAt,
		})
		if id.Found() {
			b.IdentifySession(v.SessionID, update)
		}
	}

	if id.HasDomain() {
		out.TaskID = s.newID()
		b.CreateTask(&model.EnrichmentTask{
			ID:          out.TaskID,
			Domain:      id.CompanyDomain,
			CompanyName: id.CompanyName,
			VisitIDs:    []string{v.ID},
			SessionID:   v.SessionID,
			Status:      model.TaskStatusPending,
			CreatedAt:   now,
		})
	}

	if err := s.store.Commit(ctx, b); err != nil {
		return nil, eris.Wrapf(err, "intake: record visit %s", v.ID)
	}

	zap.L().Debug("intake: visit recorded",
		zap.String("visit", v.ID),
		zap.String("ip", ip),
		zap.String("company", v.CompanyName),
		zap.String("source", string(v.IdentitySource)),
		zap.Bool("task", out.TaskID != ""),
	)

	out.Visit = v
	return out, nil
}

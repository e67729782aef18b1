// Package enrichment drains pending enrichment tasks: each task's company is
// looked up at the firmographic provider, stored, and linked back to the
// visits and session that produced it.
package enrichment

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/visitor-intel/internal/company"
	"github.com/sells-group/visitor-intel/internal/model"
	"github.com/sells-group/visitor-intel/internal/store"
	"github.com/sells-group/visitor-intel/pkg/apollo"
)

// Defaults for a processor cycle.
const (
	DefaultBatchSize   = 20
	DefaultConcurrency = 5
)

// Provider is the firmographic lookup surface used by the processor.
type Provider interface {
	EnrichByDomain(ctx context.Context, domain string) (*apollo.Organization, error)
	SearchByName(ctx context.Context, name string) ([]apollo.Organization, error)
}

// TaskStore is the persistence surface used by the processor.
type TaskStore interface {
	ListPendingTasks(ctx context.Context, limit int) ([]model.EnrichmentTask, error)
	Commit(ctx context.Context, b *store.Batch) error
}

// Result summarizes one cycle.
type Result struct {
	Processed int `json:"processed"`
	Succeeded int `json:"succeeded"`
	NotFound  int `json:"not_found"`
	Failed    int `json:"failed"`
}

// Option configures a Processor.
type Option func(*Processor)

// WithBatchSize sets how many pending tasks one cycle pulls.
func WithBatchSize(n int) Option {
	return func(p *Processor) {
		if n > 0 {
			p.batchSize = n
		}
	}
}

// WithConcurrency sets how many tasks are enriched at once.
func WithConcurrency(n int) Option {
	return func(p *Processor) {
		if n > 0 {
			p.concurrency = n
		}
	}
}

// WithClock overrides the time source (for testing).
func WithClock(fn func() time.Time) Option {
	return func(p *Processor) {
		p.nowFunc = fn
	}
}

// Processor runs enrichment cycles. Each cycle is a single bounded poll.
type Processor struct {
	store       TaskStore
	provider    Provider
	batchSize   int
	concurrency int
	nowFunc     func() time.Time
}

// NewProcessor creates a Processor.
func NewProcessor(s TaskStore, p Provider, opts ...Option) *Processor {
	proc := &Processor{
		store:       s,
		provider:    p,
		batchSize:   DefaultBatchSize,
		concurrency: DefaultConcurrency,
		nowFunc:     time.Now,
	}
	for _, o := range opts {
		o(proc)
	}
	return proc
}

// outcome is the staged result of one task.
type outcome struct {
	writes *store.Batch
	result model.TaskResult
	failed bool
}

// RunCycle pulls up to the batch size of pending tasks, enriches each one and
// commits every staged write as one batch. A task that fails is recorded as
// failed inside that batch; only a failed commit fails the cycle.
func (p *Processor) RunCycle(ctx context.Context) (*Result, error) {
	tasks, err := p.store.ListPendingTasks(ctx, p.batchSize)
	if err != nil {
		return nil, eris.Wrap(err, "enrichment: list pending tasks")
	}
	if len(tasks) == 0 {
		zap.L().Debug("enrichment: no pending tasks")
		return &Result{}, nil
	}

	zap.L().Info("enrichment: cycle started",
		zap.Int("tasks", len(tasks)),
		zap.Int("concurrency", p.concurrency),
	)

	outcomes := make([]outcome, len(tasks))
	var failed atomic.Int64

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.concurrency)

	for i := range tasks {
		i := i
		task := tasks[i]
		g.Go(func() error {
			outcomes[i] = p.runTask(gctx, task)
			if outcomes[i].failed {
				failed.Add(1)
			}
			return nil // one task never aborts the cycle
		})
	}
	_ = g.Wait()

	batch := store.NewBatch()
	res := &Result{Processed: len(tasks), Failed: int(failed.Load())}
	for _, o := range outcomes {
		batch.Merge(o.writes)
		switch {
		case o.failed:
		case o.result == model.TaskResultSuccess:
			res.Succeeded++
		default:
			res.NotFound++
		}
	}

	if err := p.store.Commit(ctx, batch); err != nil {
		zap.L().Error("enrichment: cycle commit failed",
			zap.Int("tasks", len(tasks)),
			zap.Int("writes", batch.Len()),
			zap.Error(err),
		)
		return nil, eris.Wrap(err, "enrichment: commit cycle")
	}

	zap.L().Info("enrichment: cycle complete",
		zap.Int("processed", res.Processed),
		zap.Int("succeeded", res.Succeeded),
		zap.Int("not_found", res.NotFound),
		zap.Int("failed", res.Failed),
		zap.Int("writes", batch.Len()),
	)
	return res, nil
}

// runTask enriches one task and stages its writes. On failure every write
// except the task's own failed status is discarded.
func (p *Processor) runTask(ctx context.Context, task model.EnrichmentTask) (out outcome) {
	log := zap.L().With(
		zap.String("task", task.ID),
		zap.String("domain", task.Domain),
		zap.String("company_name", task.CompanyName),
	)

	defer func() {
		if r := recover(); r != nil {
			out = p.failTask(task, eris.Errorf("enrichment: panic: %v", r))
			log.Error("enrichment: task panicked", zap.Any("panic", r))
		}
	}()

	writes, result, err := p.enrich(ctx, task)
	if err != nil {
		log.Warn("enrichment: task failed", zap.Error(err))
		return p.failTask(task, err)
	}

	log.Debug("enrichment: task complete", zap.String("result", string(result)))
	return outcome{writes: writes, result: result}
}

func (p *Processor) enrich(ctx context.Context, task model.EnrichmentTask) (*store.Batch, model.TaskResult, error) {
	org, domain, err := p.lookup(ctx, task)
	if err != nil {
		return nil, "", err
	}

	now := p.nowFunc().UTC()
	b := store.NewBatch()

	if org == nil || domain == "" {
		b.UpdateTask(task.ID, model.TaskUpdate{
			Status:      model.TaskStatusCompleted,
			Result:      model.TaskResultNotFound,
			CompletedAt: now,
		})
		return b, model.TaskResultNotFound, nil
	}

	rec, err := company.FromOrganization(domain, org, now)
	if err != nil {
		return nil, "", err
	}
	b.UpsertCompany(rec)

	link := model.CompanyLink{CompanyID: rec.ID, EnrichedAt: now}
	for _, id := range task.VisitIDs {
		if id != "" {
			b.LinkVisit(id, link)
		}
	}
	if task.SessionID != "" {
		b.LinkSession(task.SessionID, link)
	}

	b.UpdateTask(task.ID, model.TaskUpdate{
		Status:      model.TaskStatusCompleted,
		Result:      model.TaskResultSuccess,
		CompanyID:   rec.ID,
		CompletedAt: now,
	})
	return b, model.TaskResultSuccess, nil
}

// lookup finds the organization for a task: by domain first, then by name
// with a domain refinement of the first search hit. It returns the domain
// the company record is keyed by.
func (p *Processor) lookup(ctx context.Context, task model.EnrichmentTask) (*apollo.Organization, string, error) {
	if task.Domain != "" {
		org, err := p.provider.EnrichByDomain(ctx, task.Domain)
		if err != nil {
			return nil, "", eris.Wrapf(err, "enrichment: enrich domain %s", task.Domain)
		}
		if org != nil {
			return org, task.Domain, nil
		}
	}

	if task.CompanyName == "" {
		return nil, "", nil
	}

	results, err := p.provider.SearchByName(ctx, task.CompanyName)
	if err != nil {
		return nil, "", eris.Wrapf(err, "enrichment: search name %q", task.CompanyName)
	}
	if len(results) == 0 {
		return nil, "", nil
	}

	match := results[0]
	domain := match.Domain()
	if domain != "" {
		refined, err := p.provider.EnrichByDomain(ctx, domain)
		switch {
		case err != nil:
			zap.L().Debug("enrichment: refinement failed, keeping search match",
				zap.String("task", task.ID),
				zap.String("domain", domain),
				zap.Error(err),
			)
		case refined != nil:
			match = *refined
		}
	}
	if domain == "" {
		domain = task.Domain
	}
	return &match, domain, nil
}

func (p *Processor) failTask(task model.EnrichmentTask, err error) outcome {
	b := store.NewBatch()
	b.UpdateTask(task.ID, model.TaskUpdate{
		Status:      model.TaskStatusFailed,
		Error:       truncate(err.Error(), 500),
		CompletedAt: p.nowFunc().UTC(),
	})
	return outcome{writes: b, failed: true}
}

// truncate caps s at n bytes on a rune boundary. Invalid UTF-8 is replaced
// so the message is always storable in a text column.
func truncate(s string, n int) string {
	s = strings.ToValidUTF8(s, "\uFFFD")
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return fmt.Sprintf("%s...", s[:n])
}

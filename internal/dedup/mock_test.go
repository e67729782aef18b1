package dedup

import (
	"context"
	"sync"

	"github.com/sells-group/visitor-intel/internal/model"
	"github.com/sells-group/visitor-intel/internal/store"
)

type fakeResolver struct {
	mu    sync.Mutex
	byIP  map[string]model.ResolvedIdentity
	calls map[string]int
	total int
}

func newFakeResolver() *fakeResolver {
	return &fakeResolver{byIP: map[string]model.ResolvedIdentity{}, calls: map[string]int{}}
}

func (f *fakeResolver) Resolve(_ context.Context, ip string) model.ResolvedIdentity {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[ip]++
	f.total++
	id, ok := f.byIP[ip]
	if !ok {
		return model.ResolvedIdentity{IP: ip}
	}
	id.IP = ip
	return id
}

type fakeVisitStore struct {
	mu          sync.Mutex
	visits      []model.Visit
	sessions    map[string][]model.Session
	listErr     error
	sessionErr  error
	commitErr   error
	commits     []*store.Batch
	visitLimit  int
	sessionLims []int
}

func (f *fakeVisitStore) ListUnidentifiedVisits(_ context.Context, limit int) ([]model.Visit, error) {
	f.visitLimit = limit
	if f.listErr != nil {
		return nil, f.listErr
	}
	if len(f.visits) > limit {
		return f.visits[:limit], nil
	}
	return f.visits, nil
}

func (f *fakeVisitStore) ListSessionsByIP(_ context.Context, ip string, limit int) ([]model.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sessionLims = append(f.sessionLims, limit)
	if f.sessionErr != nil {
		return nil, f.sessionErr
	}
	return f.sessions[ip], nil
}

func (f *fakeVisitStore) Commit(_ context.Context, b *store.Batch) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.commits = append(f.commits, b)
	return f.commitErr
}

func tasksIn(b *store.Batch) []*model.EnrichmentTask {
	var out []*model.EnrichmentTask
	for _, w := range b.Writes() {
		if t, ok := w.Payload.(*model.EnrichmentTask); ok {
			out = append(out, t)
		}
	}
	return out
}

func identified(b *store.Batch, c store.Collection) map[string]model.IdentityUpdate {
	out := map[string]model.IdentityUpdate{}
	for _, w := range b.Writes() {
		if u, ok := w.Payload.(model.IdentityUpdate); ok && w.Collection == c {
			out[w.ID] = u
		}
	}
	return out
}

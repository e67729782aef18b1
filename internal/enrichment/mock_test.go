package enrichment

import (
	"context"
	"errors"
	"sync"

	"github.com/sells-group/visitor-intel/internal/model"
	"github.com/sells-group/visitor-intel/internal/store"
	"github.com/sells-group/visitor-intel/pkg/apollo"
)

type fakeTaskStore struct {
	mu        sync.Mutex
	tasks     []model.EnrichmentTask
	listErr   error
	commitErr error
	commits   []*store.Batch
	limit     int
}

func (f *fakeTaskStore) ListPendingTasks(_ context.Context, limit int) ([]model.EnrichmentTask, error) {
	f.limit = limit
	if f.listErr != nil {
		return nil, f.listErr
	}
	if len(f.tasks) > limit {
		return f.tasks[:limit], nil
	}
	return f.tasks, nil
}

func (f *fakeTaskStore) Commit(_ context.Context, b *store.Batch) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.commits = append(f.commits, b)
	return f.commitErr
}

type fakeProvider struct {
	mu         sync.Mutex
	byDomain   map[string]*apollo.Organization
	domainErrs map[string]error
	panics     map[string]bool
	byName     map[string][]apollo.Organization
	nameErr    error
	domainHits map[string]int
	nameHits   int
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{
		byDomain:   map[string]*apollo.Organization{},
		domainErrs: map[string]error{},
		panics:     map[string]bool{},
		byName:     map[string][]apollo.Organization{},
		domainHits: map[string]int{},
	}
}

func (f *fakeProvider) EnrichByDomain(_ context.Context, domain string) (*apollo.Organization, error) {
	f.mu.Lock()
	f.domainHits[domain]++
	org, err, boom := f.byDomain[domain], f.domainErrs[domain], f.panics[domain]
	f.mu.Unlock()

	if boom {
		panic("provider exploded")
	}
	if err != nil {
		return nil, err
	}
	return org, nil
}

func (f *fakeProvider) SearchByName(_ context.Context, name string) ([]apollo.Organization, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nameHits++
	if f.nameErr != nil {
		return nil, f.nameErr
	}
	return f.byName[name], nil
}

var errProvider = errors.New("apollo: status 500")

// taskUpdates indexes the staged task status changes by task id.
func taskUpdates(b *store.Batch) map[string]model.TaskUpdate {
	out := map[string]model.TaskUpdate{}
	for _, w := range b.Writes() {
		if u, ok := w.Payload.(model.TaskUpdate); ok && w.Collection == store.CollectionTasks {
			out[w.ID] = u
		}
	}
	return out
}

func writesFor(b *store.Batch, c store.Collection) []store.Write {
	var out []store.Write
	for _, w := range b.Writes() {
		if w.Collection == c {
			out = append(out, w)
		}
	}
	return out
}

package intake

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/visitor-intel/internal/model"
	"github.com/sells-group/visitor-intel/internal/store"
)

var fixedNow = time.Date(2026, 4, 2, 9, 30, 0, 0, time.UTC)

type fakeResolver struct {
	id    model.ResolvedIdentity
	calls int
}

func (f *fakeResolver) Resolve(_ context.Context, ip string) model.ResolvedIdentity {
	f.calls++
	id := f.id
	id.IP = ip
	return id
}

type fakeCommitter struct {
	batches []*store.Batch
	err     error
}

func (f *fakeCommitter) Commit(_ context.Context, b *store.Batch) error {
	f.batches = append(f.batches, b)
	return f.err
}

func newTestService(c Committer, r Resolver) *Service {
	n := 0
	return NewService(c, r,
		WithClock(func() time.Time { return fixedNow }),
		WithIDFunc(func() string { n++; return fmt.Sprintf("id-%d", n) }),
	)
}

func kinds(b *store.Batch) []string {
	var out []string
	for _, w := range b.Writes() {
		out = append(out, fmt.Sprintf("%s:%s", w.Op, w.Collection))
	}
	return out
}

func TestRecord_IdentifiedWithDomain(t *testing.T) {
	c := &fakeCommitter{}
	r := &fakeResolver{id: model.ResolvedIdentity{
		CompanyName:   "Acme",
		CompanyDomain: "acme.com",
		Source:        model.SourceRange,
		Confidence:    0.9,
	}}

	out, err := newTestService(c, r).Record(context.Background(), VisitInput{
		SessionID: "s1",
		IP:        " 10.0.0.1 ",
		URL:       "https://example.com/pricing",
	})
	require.NoError(t, err)
	assert.Equal(t, 1, r.calls)

	assert.Equal(t, "id-1", out.Visit.ID)
	assert.Equal(t, "10.0.0.1", out.Visit.IP)
	assert.Equal(t, "Acme", out.Visit.CompanyName)
	assert.Equal(t, model.SourceRange, out.Visit.IdentitySource)
	require.NotNil(t, out.Visit.IdentifiedAt)
	assert.Equal(t, "id-2", out.TaskID)

	require.Len(t, c.batches, 1)
	assert.Equal(t, []string{"create:visits", "ensure:sessions", "update:sessions", "create:tasks"}, kinds(c.batches[0]))

	task := c.batches[0].Writes()[3].Payload.(*model.EnrichmentTask)
	assert.Equal(t, []string{"id-1"}, task.VisitIDs)
	assert.Equal(t, "s1", task.SessionID)
	assert.Equal(t, model.TaskStatusPending, task.Status)
}

func TestRecord_NameOnly(t *testing.T) {
	c := &fakeCommitter{}
	r := &fakeResolver{id: model.ResolvedIdentity{CompanyName: "Google LLC", Source: model.SourceASNOrg, Confidence: 0.5}}

	out, err := newTestService(c, r).Record(context.Background(), VisitInput{ID: "v9", IP: "8.8.8.8"})
	require.NoError(t, err)
	assert.Empty(t, out.TaskID)
	assert.Equal(t, "v9", out.Visit.ID)
	assert.Equal(t, "Google LLC", out.Visit.CompanyName)
	assert.Equal(t, []string{"create:visits"}, kinds(c.batches[0]))
}

func TestRecord_Unidentified(t *testing.T) {
	c := &fakeCommitter{}
	occurred := fixedNow.Add(-time.Minute)

	out, err := newTestService(c, &fakeResolver{}).Record(context.Background(), VisitInput{
		IP:         "203.0.113.5",
		SessionID:  "s1",
		OccurredAt: occurred,
	})
	require.NoError(t, err)
	assert.Empty(t, out.Visit.CompanyName)
	assert.Nil(t, out.Visit.IdentifiedAt)
	assert.Equal(t, occurred, out.Visit.CreatedAt)
	assert.Equal(t, []string{"create:visits", "ensure:sessions"}, kinds(c.batches[0]))
}

func TestRecord_InvalidIP(t *testing.T) {
	c := &fakeCommitter{}
	r := &fakeResolver{}

	for _, ip := range []string{"", "not-an-ip", "10.0.0.256"} {
		_, err := newTestService(c, r).Record(context.Background(), VisitInput{IP: ip})
		require.Error(t, err, ip)
		assert.True(t, errors.Is(err, ErrInvalidVisit), ip)
	}
	assert.Zero(t, r.calls)
	assert.Empty(t, c.batches)
}

func TestRecord_CommitError(t *testing.T) {
	c := &fakeCommitter{err: errors.New("db down")}
	_, err := newTestService(c, &fakeResolver{}).Record(context.Background(), VisitInput{IP: "10.0.0.1"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "record visit")
}

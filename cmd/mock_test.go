package main

import (
	"context"

	"github.com/sells-group/visitor-intel/internal/dedup"
	"github.com/sells-group/visitor-intel/internal/enrichment"
	"github.com/sells-group/visitor-intel/internal/intake"
	"github.com/sells-group/visitor-intel/internal/model"
	"github.com/sells-group/visitor-intel/internal/monitoring"
)

type fakeRecorder struct {
	out *intake.Outcome
	err error
	got intake.VisitInput
}

func (f *fakeRecorder) Record(_ context.Context, in intake.VisitInput) (*intake.Outcome, error) {
	f.got = in
	return f.out, f.err
}

type fakeResolver struct {
	id model.ResolvedIdentity
}

func (f *fakeResolver) Resolve(_ context.Context, ip string) model.ResolvedIdentity {
	id := f.id
	id.IP = ip
	return id
}

type fakeEnrichment struct {
	res *enrichment.Result
	err error
}

func (f *fakeEnrichment) RunCycle(context.Context) (*enrichment.Result, error) {
	return f.res, f.err
}

type fakeDedup struct {
	res *dedup.Result
	err error
}

func (f *fakeDedup) RunCycle(context.Context) (*dedup.Result, error) {
	return f.res, f.err
}

type fakeSnapshotter struct {
	snap *monitoring.Snapshot
	err  error
}

func (f *fakeSnapshotter) Collect(context.Context) (*monitoring.Snapshot, error) {
	return f.snap, f.err
}

// fakeDNS never finds a PTR record.
type fakeDNS struct{}

func (fakeDNS) LookupAddr(context.Context, string) ([]string, error) {
	return nil, nil
}

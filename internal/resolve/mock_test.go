package resolve

import (
	"context"
	"sync"

	"github.com/sells-group/visitor-intel/internal/model"
	"github.com/sells-group/visitor-intel/pkg/ipinfo"
)

type fakeASN struct {
	mu    sync.Mutex
	info  *ipinfo.Info
	err   error
	calls int
}

func (f *fakeASN) Lookup(_ context.Context, _ string) (*ipinfo.Info, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.info, f.err
}

type fakeDNS struct {
	hosts       []string
	err         error
	hadDeadline bool
}

func (f *fakeDNS) LookupAddr(ctx context.Context, _ string) ([]string, error) {
	_, f.hadDeadline = ctx.Deadline()
	return f.hosts, f.err
}

type fakeRanges struct {
	r   *model.IPRange
	err error
}

func (f *fakeRanges) Lookup(_ context.Context, _ string) (*model.IPRange, error) {
	return f.r, f.err
}

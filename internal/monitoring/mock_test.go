package monitoring

import (
	"context"

	"github.com/sells-group/visitor-intel/internal/store"
)

type fakeStats struct {
	stats *store.Stats
	err   error
	calls int
}

func (f *fakeStats) Stats(_ context.Context) (*store.Stats, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.stats, nil
}

package model

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTaskStatusTerminal(t *testing.T) {
	t.Parallel()

	tests := []struct {
		status TaskStatus
		want   bool
	}{
		{TaskStatusPending, false},
		{TaskStatusCompleted, true},
		{TaskStatusFailed, true},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(string(tt.status), func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, tt.status.Terminal())
		})
	}
}

func TestClampConfidence(t *testing.T) {
	t.Parallel()

	assert.Equal(t, 0.0, ClampConfidence(-0.5))
	assert.Equal(t, 1.0, ClampConfidence(1.7))
	assert.Equal(t, 0.6, ClampConfidence(0.6))
	assert.Equal(t, 0.0, ClampConfidence(math.NaN()))
}

func TestResolvedIdentity_Apply(t *testing.T) {
	t.Parallel()

	var id ResolvedIdentity
	assert.False(t, id.Found())
	assert.False(t, id.HasDomain())

	id.Apply(IdentitySignal{
		Source:        SourceDNS,
		CompanyName:   "Facebook",
		CompanyDomain: "facebook.com",
		Confidence:    0.8,
		RawPayload:    "edge.facebook.com",
	})

	assert.True(t, id.Found())
	assert.True(t, id.HasDomain())
	assert.Equal(t, SourceDNS, id.Source)
	assert.InDelta(t, 0.8, id.Confidence, 0.0001)
	assert.Equal(t, "edge.facebook.com", id.RawData)

	upd := id.Identity()
	assert.Equal(t, "Facebook", upd.CompanyName)
	assert.Equal(t, "facebook.com", upd.CompanyDomain)
	assert.Equal(t, SourceDNS, upd.Source)
}

func TestIPRangeContains(t *testing.T) {
	t.Parallel()

	r := IPRange{Start: 100, End: 200}
	assert.True(t, r.Contains(100))
	assert.True(t, r.Contains(200))
	assert.True(t, r.Contains(150))
	assert.False(t, r.Contains(99))
	assert.False(t, r.Contains(201))
}

package iprange

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/visitor-intel/internal/model"
)

type staticRanges struct {
	ranges []model.IPRange
	err    error
	calls  int
}

func (s *staticRanges) ListIPRanges(context.Context) ([]model.IPRange, error) {
	s.calls++
	return s.ranges, s.err
}

func (s *staticRanges) ReplaceIPRanges(_ context.Context, ranges []model.IPRange) error {
	if s.err != nil {
		return s.err
	}
	s.ranges = ranges
	return nil
}

func mustRange(t *testing.T, id, name, start, end string) model.IPRange {
	t.Helper()
	s, err := IPToNumber(start)
	require.NoError(t, err)
	e, err := IPToNumber(end)
	require.NoError(t, err)
	return model.IPRange{ID: id, CompanyName: name, StartIP: start, EndIP: end, Start: s, End: e}
}

func TestIPToNumber(t *testing.T) {
	tests := []struct {
		ip      string
		want    uint32
		wantErr bool
	}{
		{"0.0.0.0", 0, false},
		{"10.0.0.1", 167772161, false},
		{"192.168.1.10", 3232235786, false},
		{"255.255.255.255", 4294967295, false},
		{"::ffff:10.0.0.1", 167772161, false},
		{"2001:db8::1", 0, true},
		{"10.0.0", 0, true},
		{"not-an-ip", 0, true},
		{"", 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.ip, func(t *testing.T) {
			got, err := IPToNumber(tt.ip)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDirectory_Lookup(t *testing.T) {
	src := &staticRanges{ranges: []model.IPRange{mustRange(t, "r1", "Acme", "10.0.0.0", "10.0.0.255")}}
	d := NewDirectory(src)
	ctx := context.Background()

	got, err := d.Lookup(ctx, "10.0.0.1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "Acme", got.CompanyName)

	got, err = d.Lookup(ctx, "10.0.1.1")
	require.NoError(t, err)
	assert.Nil(t, got)

	// Inclusive bounds.
	got, err = d.Lookup(ctx, "10.0.0.255")
	require.NoError(t, err)
	assert.NotNil(t, got)
}

func TestDirectory_LookupFirstContainingWins(t *testing.T) {
	src := &staticRanges{ranges: []model.IPRange{
		mustRange(t, "wide", "Wide Corp", "10.0.0.0", "10.255.255.255"),
		mustRange(t, "narrow", "Narrow Inc", "10.0.0.0", "10.0.0.255"),
	}}

	got, err := NewDirectory(src).Lookup(context.Background(), "10.0.0.7")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "wide", got.ID)
}

func TestDirectory_LookupErrors(t *testing.T) {
	src := &staticRanges{}
	d := NewDirectory(src)

	_, err := d.Lookup(context.Background(), "2001:db8::1")
	require.Error(t, err)
	assert.Zero(t, src.calls, "invalid ip should not hit the store")

	src.err = errors.New("db down")
	_, err = d.Lookup(context.Background(), "10.0.0.1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "list ranges")
}

func TestParse(t *testing.T) {
	doc := `
ranges:
  - company_name: Acme Corp
    company_domain: ACME.com
    start_ip: 10.0.0.0
    end_ip: 10.0.0.255
  - id: custom
    company_name: Globex
    start_ip: 192.168.0.0
    end_ip: 192.168.255.255
`
	ranges, err := Parse(strings.NewReader(doc))
	require.NoError(t, err)
	require.Len(t, ranges, 2)

	assert.Equal(t, "range-0001", ranges[0].ID)
	assert.Equal(t, "acme.com", ranges[0].CompanyDomain)
	assert.Equal(t, uint32(167772160), ranges[0].Start)
	assert.Equal(t, uint32(167772415), ranges[0].End)
	assert.Equal(t, "custom", ranges[1].ID)
}

func TestParse_Invalid(t *testing.T) {
	tests := []struct {
		name string
		doc  string
		want string
	}{
		{"missing name", "ranges:\n  - start_ip: 10.0.0.0\n    end_ip: 10.0.0.1\n", "company_name is required"},
		{"bad start", "ranges:\n  - company_name: A\n    start_ip: nope\n    end_ip: 10.0.0.1\n", "start_ip"},
		{"ipv6", "ranges:\n  - company_name: A\n    start_ip: 10.0.0.0\n    end_ip: '::1'\n", "end_ip"},
		{"reversed", "ranges:\n  - company_name: A\n    start_ip: 10.0.0.9\n    end_ip: 10.0.0.1\n", "is after"},
		{"not yaml", "ranges: [", "decode yaml"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse(strings.NewReader(tt.doc))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestParse_Empty(t *testing.T) {
	ranges, err := Parse(strings.NewReader(""))
	require.NoError(t, err)
	assert.Empty(t, ranges)
}

func TestImport(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ranges.yaml")
	require.NoError(t, os.WriteFile(path, []byte("ranges:\n  - company_name: Acme\n    start_ip: 10.0.0.0\n    end_ip: 10.0.0.255\n"), 0o600))

	dst := &staticRanges{}
	n, err := Import(context.Background(), dst, path)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	require.Len(t, dst.ranges, 1)
	assert.Equal(t, "Acme", dst.ranges[0].CompanyName)

	_, err = Import(context.Background(), dst, filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}

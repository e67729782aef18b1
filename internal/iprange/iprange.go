// Package iprange implements the static directory of known corporate IPv4
// ranges and its YAML import format.
package iprange

import (
	"context"
	"net/netip"

	"github.com/rotisserie/eris"

	"github.com/sells-group/visitor-intel/internal/model"
)

// IPToNumber packs an IPv4 address into an unsigned 32-bit integer, most
// significant octet first. IPv4-mapped IPv6 addresses are unmapped; other
// IPv6 addresses are rejected.
func IPToNumber(ip string) (uint32, error) {
	addr, err := netip.ParseAddr(ip)
	if err != nil {
		return 0, eris.Wrapf(err, "iprange: parse %q", ip)
	}
	addr = addr.Unmap()
	if !addr.Is4() {
		return 0, eris.Errorf("iprange: %s is not an IPv4 address", ip)
	}
	b := addr.As4()
	return uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3]), nil
}

// Lister returns the stored ranges in directory order.
type Lister interface {
	ListIPRanges(ctx context.Context) ([]model.IPRange, error)
}

// Directory answers exact-containment lookups against the stored ranges.
type Directory struct {
	ranges Lister
}

// NewDirectory creates a Directory reading ranges from l.
func NewDirectory(l Lister) *Directory {
	return &Directory{ranges: l}
}

// Lookup returns the first stored range containing ip, or nil when no range
// matches. Ranges are scanned in stored order so overlaps resolve to the
// earliest entry.
func (d *Directory) Lookup(ctx context.Context, ip string) (*model.IPRange, error) {
	n, err := IPToNumber(ip)
	if err != nil {
		return nil, err
	}

	ranges, err := d.ranges.ListIPRanges(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "iprange: list ranges")
	}

	for i := range ranges {
		if ranges[i].Contains(n) {
			r := ranges[i]
			return &r, nil
		}
	}
	return nil, nil
}

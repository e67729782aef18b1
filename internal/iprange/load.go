package iprange

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/visitor-intel/internal/model"
)

// File is the YAML document accepted by Import.
//
//	ranges:
//	  - company_name: Acme Corp
//	    company_domain: acme.com
//	    start_ip: 10.0.0.0
//	    end_ip: 10.0.0.255
type File struct {
	Ranges []model.IPRange `yaml:"ranges"`
}

// Replacer swaps the stored directory for a new set of ranges.
type Replacer interface {
	ReplaceIPRanges(ctx context.Context, ranges []model.IPRange) error
}

// Parse decodes and validates a range file. Start and End are filled from
// the dotted addresses; entries without an id get a positional one.
func Parse(r io.Reader) ([]model.IPRange, error) {
	var f File
	if err := yaml.NewDecoder(r).Decode(&f); err != nil {
		if errors.Is(err, io.EOF) {
			return []model.IPRange{}, nil
		}
		return nil, eris.Wrap(err, "iprange: decode yaml")
	}

	out := make([]model.IPRange, 0, len(f.Ranges))
	for i, rg := range f.Ranges {
		rg.CompanyName = strings.TrimSpace(rg.CompanyName)
		rg.CompanyDomain = strings.ToLower(strings.TrimSpace(rg.CompanyDomain))
		if rg.CompanyName == "" {
			return nil, eris.Errorf("iprange: range %d: company_name is required", i)
		}

		start, err := IPToNumber(strings.TrimSpace(rg.StartIP))
		if err != nil {
			return nil, eris.Wrapf(err, "iprange: range %d start_ip", i)
		}
		end, err := IPToNumber(strings.TrimSpace(rg.EndIP))
		if err != nil {
			return nil, eris.Wrapf(err, "iprange: range %d end_ip", i)
		}
		if start > end {
			return nil, eris.Errorf("iprange: range %d: start_ip %s is after end_ip %s", i, rg.StartIP, rg.EndIP)
		}

		rg.Start, rg.End = start, end
		if rg.ID == "" {
			rg.ID = fmt.Sprintf("range-%04d", i+1)
		}
		out = append(out, rg)
	}
	return out, nil
}

// ParseFile reads and validates the range file at path.
func ParseFile(path string) ([]model.IPRange, error) {
	f, err := os.Open(path) //nolint:gosec // operator-supplied path
	if err != nil {
		return nil, eris.Wrapf(err, "iprange: open %s", path)
	}
	defer f.Close() //nolint:errcheck

	return Parse(f)
}

// Import replaces the stored directory with the ranges in path and returns
// how many were loaded.
func Import(ctx context.Context, dst Replacer, path string) (int, error) {
	ranges, err := ParseFile(path)
	if err != nil {
		return 0, err
	}
	if err := dst.ReplaceIPRanges(ctx, ranges); err != nil {
		return 0, eris.Wrap(err, "iprange: replace ranges")
	}

	zap.L().Info("iprange: imported ranges", zap.String("path", path), zap.Int("count", len(ranges)))
	return len(ranges), nil
}

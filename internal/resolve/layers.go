package resolve

import (
	"context"
	"regexp"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/sells-group/visitor-intel/internal/model"
	"github.com/sells-group/visitor-intel/pkg/ipinfo"
)

// ASNLookup fetches ASN and organization data for an IP.
type ASNLookup interface {
	Lookup(ctx context.Context, ip string) (*ipinfo.Info, error)
}

// ASNLayer maps ipinfo data to a signal. It runs first, so its threshold
// lets it apply unconditionally.
func ASNLayer(client ASNLookup) Layer {
	return Layer{
		Source:    model.SourceASNName,
		Threshold: 1.0,
		Lookup: func(ctx context.Context, ip string) (*model.IdentitySignal, error) {
			info, err := client.Lookup(ctx, ip)
			if err != nil {
				return nil, err
			}
			return asnSignal(info), nil
		},
	}
}

func asnSignal(info *ipinfo.Info) *model.IdentitySignal {
	if info == nil {
		return nil
	}
	if name := strings.TrimSpace(info.ASName); name != "" {
		return &model.IdentitySignal{
			Source:        model.SourceASNName,
			CompanyName:   name,
			CompanyDomain: strings.ToLower(strings.TrimSpace(info.ASDomain)),
			Confidence:    ConfidenceASNName,
			RawPayload:    info,
		}
	}
	if name := ExtractCompanyName(info.Org); name != "" {
		return &model.IdentitySignal{
			Source:      model.SourceASNOrg,
			CompanyName: name,
			Confidence:  ConfidenceASNOrg,
			RawPayload:  info,
		}
	}
	return nil
}

var asnPrefix = regexp.MustCompile(`^AS\d+\s*`)

// ExtractCompanyName strips a leading "AS<digits>" token from an org string,
// e.g. "AS15169 Google LLC" becomes "Google LLC".
func ExtractCompanyName(org string) string {
	return strings.TrimSpace(asnPrefix.ReplaceAllString(strings.TrimSpace(org), ""))
}

// HostResolver performs reverse DNS. *net.Resolver satisfies it.
type HostResolver interface {
	LookupAddr(ctx context.Context, addr string) ([]string, error)
}

// DNSOption configures the reverse DNS layer.
type DNSOption func(*dnsLayer)

// WithDNSTimeout bounds each reverse lookup.
func WithDNSTimeout(d time.Duration) DNSOption {
	return func(l *dnsLayer) {
		l.timeout = d
	}
}

type dnsLayer struct {
	resolver HostResolver
	timeout  time.Duration
}

// DNSLayer derives a company from the first PTR hostname of an IP.
func DNSLayer(r HostResolver, opts ...DNSOption) Layer {
	l := &dnsLayer{resolver: r, timeout: 5 * time.Second}
	for _, o := range opts {
		o(l)
	}
	return Layer{
		Source:    model.SourceDNS,
		Threshold: ConfidenceDNS,
		Lookup:    l.lookup,
	}
}

func (l *dnsLayer) lookup(ctx context.Context, ip string) (*model.IdentitySignal, error) {
	if l.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, l.timeout)
		defer cancel()
	}

	hosts, err := l.resolver.LookupAddr(ctx, ip)
	if err != nil {
		return nil, eris.Wrapf(err, "resolve: reverse lookup %s", ip)
	}
	if len(hosts) == 0 {
		return nil, nil
	}

	domain, name := DomainFromHostname(hosts[0])
	if domain == "" {
		return nil, nil
	}
	return &model.IdentitySignal{
		Source:        model.SourceDNS,
		CompanyName:   name,
		CompanyDomain: domain,
		Confidence:    ConfidenceDNS,
		RawPayload:    hosts,
	}, nil
}

// DomainFromHostname takes the last two labels of host as its domain and
// capitalizes the domain's first label as a company name:
// "edge-1.fra.facebook.com." yields ("facebook.com", "Facebook").
func DomainFromHostname(host string) (domain, name string) {
	host = strings.ToLower(strings.TrimSuffix(strings.TrimSpace(host), "."))
	labels := strings.Split(host, ".")
	if len(labels) < 2 {
		return "", ""
	}
	first, tld := labels[len(labels)-2], labels[len(labels)-1]
	if first == "" || tld == "" {
		return "", ""
	}
	// Casers carry state, so one is built per call.
	return first + "." + tld, cases.Title(language.Und, cases.NoLower).String(first)
}

// RangeFinder finds the first stored range containing an IP.
type RangeFinder interface {
	Lookup(ctx context.Context, ip string) (*model.IPRange, error)
}

// RangeLayer matches the IP against the static corporate range directory.
func RangeLayer(dir RangeFinder) Layer {
	return Layer{
		Source:    model.SourceRange,
		Threshold: ConfidenceRange,
		Lookup: func(ctx context.Context, ip string) (*model.IdentitySignal, error) {
			r, err := dir.Lookup(ctx, ip)
			if err != nil || r == nil {
				return nil, err
			}
			return &model.IdentitySignal{
				Source:        model.SourceRange,
				CompanyName:   r.CompanyName,
				CompanyDomain: r.CompanyDomain,
				Confidence:    ConfidenceRange,
				RawPayload:    r,
			}, nil
		},
	}
}

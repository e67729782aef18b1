// Package company defines the persisted firmographic record for an identified company.
package company

import (
	"encoding/json"
	"net/url"
	"strings"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/visitor-intel/pkg/apollo"
)

// SourceApollo tags records built from the Apollo firmographic API.
const SourceApollo = "apollo"

// CompanyRecord is the enriched record for a company, keyed by normalized domain.
// Each successful enrichment replaces the whole record.
type CompanyRecord struct { //nolint:revive // stutters but reads better at call sites
	ID          string `json:"id" db:"id"`
	Domain      string `json:"domain" db:"domain"`
	Name        string `json:"name" db:"name"`
	Website     string `json:"website,omitempty" db:"website"`
	Description string `json:"description,omitempty" db:"description"`
	Industry    string `json:"industry,omitempty" db:"industry"`
	YearFounded int    `json:"year_founded,omitempty" db:"year_founded"`
	Phone       string `json:"phone,omitempty" db:"phone"`
	LinkedInURL string `json:"linkedin_url,omitempty" db:"linkedin_url"`

	EmployeeCount int     `json:"employee_count,omitempty" db:"employee_count"`
	AnnualRevenue float64 `json:"annual_revenue,omitempty" db:"annual_revenue"`

	City    string `json:"city,omitempty" db:"city"`
	State   string `json:"state,omitempty" db:"state"`
	Country string `json:"country,omitempty" db:"country"`

	Source      string          `json:"source" db:"source"`
	SourceID    string          `json:"source_id,omitempty" db:"source_id"`
	RawData     json.RawMessage `json:"raw_data,omitempty" db:"raw_data"`
	LastUpdated time.Time       `json:"last_updated" db:"last_updated"`
}

// FromOrganization builds a full replacement record for domain from a
// provider organization.
func FromOrganization(domain string, org *apollo.Organization, now time.Time) (*CompanyRecord, error) {
	id := NormalizeDomain(domain)
	if id == "" {
		return nil, eris.New("company: domain is required")
	}
	if org == nil {
		return nil, eris.Errorf("company: no organization for %s", id)
	}

	raw, err := json.Marshal(org)
	if err != nil {
		return nil, eris.Wrap(err, "company: marshal raw organization")
	}

	return &CompanyRecord{
		ID:            id,
		Domain:        id,
		Name:          org.Name,
		Website:       org.WebsiteURL,
		Description:   org.ShortDescription,
		Industry:      org.Industry,
		YearFounded:   org.FoundedYear,
		Phone:         org.Phone,
		LinkedInURL:   org.LinkedInURL,
		EmployeeCount: org.EstimatedNumEmployees,
		AnnualRevenue: org.AnnualRevenue,
		City:          org.City,
		State:         org.State,
		Country:       org.Country,
		Source:        SourceApollo,
		SourceID:      org.ID,
		RawData:       raw,
		LastUpdated:   now.UTC(),
	}, nil
}

// NormalizeDomain lowercases a domain or URL and strips scheme, www prefix,
// path, port and trailing dots.
func NormalizeDomain(raw string) string {
	d := strings.TrimSpace(raw)
	if d == "" {
		return ""
	}
	if strings.Contains(d, "://") {
		if u, err := url.Parse(d); err == nil && u.Host != "" {
			d = u.Host
		}
	}
	if i := strings.IndexAny(d, "/?#"); i >= 0 {
		d = d[:i]
	}
	if i := strings.LastIndex(d, ":"); i >= 0 {
		d = d[:i]
	}
	d = strings.ToLower(d)
	d = strings.TrimSuffix(d, ".")
	d = strings.TrimPrefix(d, "www.")
	return d
}

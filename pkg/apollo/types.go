package apollo

import (
	"net/url"
	"slices"
	"strings"
)

// Organization is a firmographic record returned by the provider.
type Organization struct {
	ID                    string   `json:"id"`
	Name                  string   `json:"name"`
	WebsiteURL            string   `json:"website_url,omitempty"`
	PrimaryDomain         string   `json:"primary_domain,omitempty"`
	LinkedInURL           string   `json:"linkedin_url,omitempty"`
	Phone                 string   `json:"phone,omitempty"`
	FoundedYear           int      `json:"founded_year,omitempty"`
	Industry              string   `json:"industry,omitempty"`
	Keywords              []string `json:"keywords,omitempty"`
	EstimatedNumEmployees int      `json:"estimated_num_employees,omitempty"`
	AnnualRevenue         float64  `json:"annual_revenue,omitempty"`
	ShortDescription      string   `json:"short_description,omitempty"`
	City                  string   `json:"city,omitempty"`
	State                 string   `json:"state,omitempty"`
	Country               string   `json:"country,omitempty"`

	// Cached is true when the record was served from the local cache.
	Cached bool `json:"-"`
}

// clone returns a copy that shares no slices with o.
func (o Organization) clone() Organization {
	o.Keywords = slices.Clone(o.Keywords)
	return o
}

// Domain returns the organization's own domain, falling back to the host of
// its website URL.
func (o Organization) Domain() string {
	if o.PrimaryDomain != "" {
		return o.PrimaryDomain
	}
	if o.WebsiteURL == "" {
		return ""
	}
	raw := o.WebsiteURL
	if !strings.Contains(raw, "://") {
		raw = "http://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	return strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")
}

type enrichResponse struct {
	Organization *Organization `json:"organization"`
}

type searchRequest struct {
	OrganizationName string `json:"q_organization_name"`
	Page             int    `json:"page"`
	PerPage          int    `json:"per_page"`
}

type searchResponse struct {
	Organizations []Organization `json:"organizations"`
}

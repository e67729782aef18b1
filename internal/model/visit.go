package model

import "time"

// Visit is a single page view recorded by the tracking widget.
type Visit struct {
	ID                 string       `json:"id"`
	SiteID             string       `json:"site_id,omitempty"`
	SessionID          string       `json:"session_id,omitempty"`
	IP                 string       `json:"ip"`
	URL                string       `json:"url,omitempty"`
	Referrer           string       `json:"referrer,omitempty"`
	UserAgent          string       `json:"user_agent,omitempty"`
	CompanyName        string       `json:"company_name,omitempty"`
	CompanyDomain      string       `json:"company_domain,omitempty"`
	IdentitySource     SignalSource `json:"identity_source,omitempty"`
	IdentityConfidence float64      `json:"identity_confidence,omitempty"`
	CompanyID          string       `json:"company_id,omitempty"`
	CreatedAt          time.Time    `json:"created_at"`
	IdentifiedAt       *time.Time   `json:"identified_at,omitempty"`
	EnrichedAt         *time.Time   `json:"enriched_at,omitempty"`
}

// Session groups the visits of one browser session.
type Session struct {
	ID                 string       `json:"id"`
	SiteID             string       `json:"site_id,omitempty"`
	IP                 string       `json:"ip"`
	CompanyName        string       `json:"company_name,omitempty"`
	CompanyDomain      string       `json:"company_domain,omitempty"`
	IdentitySource     SignalSource `json:"identity_source,omitempty"`
	IdentityConfidence float64      `json:"identity_confidence,omitempty"`
	CompanyID          string       `json:"company_id,omitempty"`
	StartedAt          time.Time    `json:"started_at"`
	IdentifiedAt       *time.Time   `json:"identified_at,omitempty"`
	EnrichedAt         *time.Time   `json:"enriched_at,omitempty"`
}

// IdentityUpdate carries resolved company fields onto a visit or session.
type IdentityUpdate struct {
	CompanyName   string       `json:"company_name"`
	CompanyDomain string       `json:"company_domain,omitempty"`
	Source        SignalSource `json:"source"`
	Confidence    float64      `json:"confidence"`
	IdentifiedAt  time.Time    `json:"identified_at"`
}

// CompanyLink attaches an enriched company record to a visit or session.
type CompanyLink struct {
	CompanyID  string    `json:"company_id"`
	EnrichedAt time.Time `json:"enriched_at"`
}

package model

// SignalSource identifies the lookup that produced an identity signal.
type SignalSource string

const (
	SourceNone    SignalSource = ""
	SourceRange   SignalSource = "range"
	SourceDNS     SignalSource = "dns"
	SourceASNName SignalSource = "asn_name"
	SourceASNOrg  SignalSource = "asn_org"
)

// IdentitySignal is one source's opinion about the company behind an IP.
// Signals are discarded once the resolver has merged them.
type IdentitySignal struct {
	Source        SignalSource `json:"source"`
	CompanyName   string       `json:"company_name"`
	CompanyDomain string       `json:"company_domain,omitempty"`
	Confidence    float64      `json:"confidence"`
	RawPayload    any          `json:"raw_payload,omitempty"`
}

// ResolvedIdentity is the outcome of the identity cascade for a single IP.
// A zero value (confidence 0, empty fields) means nothing was found.
type ResolvedIdentity struct {
	IP            string       `json:"ip"`
	CompanyName   string       `json:"company_name"`
	CompanyDomain string       `json:"company_domain,omitempty"`
	Source        SignalSource `json:"source"`
	Confidence    float64      `json:"confidence"`
	RawData       any          `json:"raw_data,omitempty"`
}

// Found reports whether the cascade produced a company name.
func (r ResolvedIdentity) Found() bool {
	return r.CompanyName != ""
}

// HasDomain reports whether the cascade produced a company domain.
func (r ResolvedIdentity) HasDomain() bool {
	return r.CompanyDomain != ""
}

// Apply overwrites the identity with sig.
func (r *ResolvedIdentity) Apply(sig IdentitySignal) {
	r.CompanyName = sig.CompanyName
	r.CompanyDomain = sig.CompanyDomain
	r.Source = sig.Source
	r.Confidence = ClampConfidence(sig.Confidence)
	r.RawData = sig.RawPayload
}

// Identity returns the fields written onto visits and sessions.
func (r ResolvedIdentity) Identity() IdentityUpdate {
	return IdentityUpdate{
		CompanyName:   r.CompanyName,
		CompanyDomain: r.CompanyDomain,
		Source:        r.Source,
		Confidence:    r.Confidence,
	}
}

// ClampConfidence bounds c to [0, 1].
func ClampConfidence(c float64) float64 {
	switch {
	case c != c: // NaN
		return 0
	case c < 0:
		return 0
	case c > 1:
		return 1
	default:
		return c
	}
}

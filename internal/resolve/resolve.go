// Package resolve turns a visitor IP into a company identity by running an
// ordered cascade of lookups, each allowed to overwrite the current answer
// only while the answer's confidence is below the layer's threshold.
package resolve

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/visitor-intel/internal/model"
)

// Signal confidences per source.
const (
	ConfidenceASNName = 0.6
	ConfidenceASNOrg  = 0.5
	ConfidenceDNS     = 0.8
	ConfidenceRange   = 0.9
)

// LookupFunc produces one source's signal for ip. A nil signal with a nil
// error means the source had nothing to say.
type LookupFunc func(ctx context.Context, ip string) (*model.IdentitySignal, error)

// Layer is one step of the cascade. Its signal replaces the current identity
// only when the current confidence is below Threshold.
type Layer struct {
	Source    model.SignalSource
	Threshold float64
	Lookup    LookupFunc
}

// Resolver runs the cascade. It is safe for concurrent use.
type Resolver struct {
	layers []Layer
}

// New creates a Resolver that evaluates layers in the given order.
func New(layers ...Layer) *Resolver {
	return &Resolver{layers: layers}
}

// Default builds the standard ASN, reverse DNS, IP range cascade.
func Default(asn ASNLookup, dns HostResolver, ranges RangeFinder, opts ...DNSOption) *Resolver {
	return New(
		ASNLayer(asn),
		DNSLayer(dns, opts...),
		RangeLayer(ranges),
	)
}

// Resolve runs every layer and returns the surviving identity. It never
// fails: a layer that errors is logged and contributes nothing. When no
// layer produces a signal the result has confidence 0 and empty fields.
func (r *Resolver) Resolve(ctx context.Context, ip string) model.ResolvedIdentity {
	id := model.ResolvedIdentity{IP: ip}

	for _, l := range r.layers {
		if id.Confidence >= l.Threshold {
			continue
		}

		sig, err := runLayer(ctx, l, ip)
		if err != nil {
			zap.L().Debug("resolve: signal lookup failed",
				zap.String("ip", ip),
				zap.String("source", string(l.Source)),
				zap.Error(err),
			)
			continue
		}
		if sig == nil || sig.CompanyName == "" {
			continue
		}
		id.Apply(*sig)
	}

	return id
}

// runLayer isolates a layer so a panic counts as a failed lookup.
func runLayer(ctx context.Context, l Layer, ip string) (sig *model.IdentitySignal, err error) {
	defer func() {
		if p := recover(); p != nil {
			sig, err = nil, eris.Errorf("resolve: %s lookup panicked: %v", l.Source, p)
		}
	}()
	if l.Lookup == nil {
		return nil, nil
	}
	return l.Lookup(ctx, ip)
}

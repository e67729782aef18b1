package resilience

import "sync"

// ServiceBreakers hands out one breaker per external service, all sharing
// the same thresholds.
type ServiceBreakers struct {
	template CircuitBreakerConfig
	byName   sync.Map // service name -> *CircuitBreaker
}

// NewServiceBreakers creates an empty registry using cfg for every breaker.
func NewServiceBreakers(cfg CircuitBreakerConfig) *ServiceBreakers {
	return &ServiceBreakers{template: cfg}
}

// Get returns the breaker for service, creating it on first use.
func (sb *ServiceBreakers) Get(service string) *CircuitBreaker {
	if cb, ok := sb.byName.Load(service); ok {
		return cb.(*CircuitBreaker)
	}
	cfg := sb.template
	cfg.Name = service
	cb, _ := sb.byName.LoadOrStore(service, NewCircuitBreaker(cfg))
	return cb.(*CircuitBreaker)
}

// Statuses returns the counters of every breaker, keyed by service.
func (sb *ServiceBreakers) Statuses() map[string]BreakerStatus {
	out := make(map[string]BreakerStatus)
	sb.byName.Range(func(k, v any) bool {
		out[k.(string)] = v.(*CircuitBreaker).Status()
		return true
	})
	return out
}

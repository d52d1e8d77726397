package circuitbreaker

import "sync"

// ProviderSet keeps one Breaker per provider so a single flaky backend cannot
// drag the others down. It satisfies the orchestrator's breaker gate contract.
type ProviderSet struct {
	mu       sync.Mutex
	breakers map[string]*Breaker
	opts     []Option
}

// NewProviderSet creates a ProviderSet. The options are applied to every
// per-provider breaker it creates.
func NewProviderSet(opts ...Option) *ProviderSet {
	return &ProviderSet{
		breakers: make(map[string]*Breaker),
		opts:     opts,
	}
}

// Allow reports whether the provider should be invoked.
func (ps *ProviderSet) Allow(provider string) bool {
	return ps.get(provider).Allow()
}

// RecordResult feeds one vote outcome into the provider's breaker.
func (ps *ProviderSet) RecordResult(provider string, success bool) {
	b := ps.get(provider)
	if success {
		b.RecordSuccess()
	} else {
		b.RecordFailure()
	}
}

// States returns a snapshot of each known provider's breaker state.
func (ps *ProviderSet) States() map[string]string {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	out := make(map[string]string, len(ps.breakers))
	for name, b := range ps.breakers {
		out[name] = b.CurrentState().String()
	}
	return out
}

func (ps *ProviderSet) get(provider string) *Breaker {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	b, ok := ps.breakers[provider]
	if !ok {
		b = New(ps.opts...)
		ps.breakers[provider] = b
	}
	return b
}

// Package registry holds the set of routable provider descriptors and picks
// per-tier subsets. The absolute routing rule is enforced here: a given
// (vendor, model) pair is reachable through exactly one transport, checked at
// construction and again on every lookup.
package registry

import (
	"math"
	"sort"
	"strings"

	"github.com/jordanhubbard/wallbounce/internal/bounce"
)

// Registry is immutable after New returns.
type Registry struct {
	descriptors []bounce.ProviderDescriptor
	byName      map[string]bounce.ProviderDescriptor
}

// New validates the descriptor set and builds the registry. A duplicate
// transport for the same (vendor, model) pair, a duplicate name, or an
// unknown transport is a config_error and aborts initialisation.
func New(descs []bounce.ProviderDescriptor) (*Registry, error) {
	r := &Registry{
		descriptors: make([]bounce.ProviderDescriptor, len(descs)),
		byName:      make(map[string]bounce.ProviderDescriptor, len(descs)),
	}
	copy(r.descriptors, descs)

	for _, d := range r.descriptors {
		if d.Name == "" || d.Vendor == "" || d.Model == "" {
			return nil, bounce.Errf(bounce.KindConfigError, "provider descriptor missing name/vendor/model: %+v", d)
		}
		if !d.Transport.Valid() {
			return nil, bounce.Errf(bounce.KindConfigError, "provider %s: unknown transport %q", d.Name, string(d.Transport))
		}
		if _, dup := r.byName[d.Name]; dup {
			return nil, bounce.Errf(bounce.KindConfigError, "duplicate provider name %q", d.Name)
		}
		r.byName[d.Name] = d
	}
	if err := verifyRouting(r.descriptors); err != nil {
		return nil, err
	}
	return r, nil
}

// verifyRouting enforces the absolute routing rule over a descriptor set.
func verifyRouting(descs []bounce.ProviderDescriptor) error {
	routes := make(map[string]bounce.Transport, len(descs))
	for _, d := range descs {
		key := routeKey(d.Vendor, d.Model)
		if prior, ok := routes[key]; ok && prior != d.Transport {
			return bounce.Errf(bounce.KindConfigError,
				"conflicting transports for %s/%s: %s and %s", d.Vendor, d.Model, prior, d.Transport)
		}
		routes[key] = d.Transport
	}
	return nil
}

func routeKey(vendor, model string) string {
	return strings.ToLower(vendor) + "/" + strings.ToLower(model)
}

// ProvidersFor returns the ordered provider subset for a tier. Candidates
// supporting the tier are ranked by the tier's preference order, then vendors
// are de-duplicated unless minCount exceeds the distinct vendor count. If
// fewer than minCount candidates exist, all of them are returned. The routing
// invariant is rechecked on every call.
func (r *Registry) ProvidersFor(tier bounce.TaskTier, minCount int) ([]bounce.ProviderDescriptor, error) {
	if err := verifyRouting(r.descriptors); err != nil {
		return nil, err
	}
	var candidates []bounce.ProviderDescriptor
	for _, d := range r.descriptors {
		if d.SupportsTier(tier) {
			candidates = append(candidates, d)
		}
	}
	if len(candidates) == 0 {
		return nil, nil
	}
	rankForTier(tier, candidates)

	if minCount < 1 {
		minCount = 1
	}
	selected := dedupeVendors(candidates)
	if len(selected) < minCount {
		// Vendor diversity yields too few providers; refill with the skipped
		// duplicates in rank order.
		selected = refill(selected, candidates, minCount)
	}
	return selected, nil
}

// rankForTier sorts candidates in place by the tier's preference order.
// Basic favors the cheapest backends, critical the highest-quality (priciest)
// ones, premium the middle of the cost range. Provider name breaks ties so
// ordering is deterministic.
func rankForTier(tier bounce.TaskTier, candidates []bounce.ProviderDescriptor) {
	switch tier {
	case bounce.TierCritical:
		sort.SliceStable(candidates, func(i, j int) bool {
			ci, cj := candidates[i].CostScore(), candidates[j].CostScore()
			if ci != cj {
				return ci > cj
			}
			return candidates[i].Name < candidates[j].Name
		})
	case bounce.TierPremium:
		med := medianCost(candidates)
		sort.SliceStable(candidates, func(i, j int) bool {
			di := math.Abs(candidates[i].CostScore() - med)
			dj := math.Abs(candidates[j].CostScore() - med)
			if di != dj {
				return di < dj
			}
			ci, cj := candidates[i].CostScore(), candidates[j].CostScore()
			if ci != cj {
				return ci > cj
			}
			return candidates[i].Name < candidates[j].Name
		})
	default: // basic
		sort.SliceStable(candidates, func(i, j int) bool {
			ci, cj := candidates[i].CostScore(), candidates[j].CostScore()
			if ci != cj {
				return ci < cj
			}
			return candidates[i].Name < candidates[j].Name
		})
	}
}

func medianCost(descs []bounce.ProviderDescriptor) float64 {
	costs := make([]float64, len(descs))
	for i, d := range descs {
		costs[i] = d.CostScore()
	}
	sort.Float64s(costs)
	n := len(costs)
	if n == 0 {
		return 0
	}
	if n%2 == 1 {
		return costs[n/2]
	}
	return (costs[n/2-1] + costs[n/2]) / 2
}

// dedupeVendors keeps the first-ranked descriptor per vendor.
func dedupeVendors(ranked []bounce.ProviderDescriptor) []bounce.ProviderDescriptor {
	seen := make(map[string]struct{}, len(ranked))
	out := make([]bounce.ProviderDescriptor, 0, len(ranked))
	for _, d := range ranked {
		if _, ok := seen[d.Vendor]; ok {
			continue
		}
		seen[d.Vendor] = struct{}{}
		out = append(out, d)
	}
	return out
}

// refill appends vendor duplicates in rank order until minCount is met or
// the candidate pool runs out.
func refill(selected, ranked []bounce.ProviderDescriptor, minCount int) []bounce.ProviderDescriptor {
	have := make(map[string]struct{}, len(selected))
	for _, d := range selected {
		have[d.Name] = struct{}{}
	}
	for _, d := range ranked {
		if len(selected) >= minCount {
			break
		}
		if _, ok := have[d.Name]; ok {
			continue
		}
		have[d.Name] = struct{}{}
		selected = append(selected, d)
	}
	return selected
}

// Get looks up a descriptor by provider name.
func (r *Registry) Get(name string) (bounce.ProviderDescriptor, bool) {
	d, ok := r.byName[name]
	return d, ok
}

// All returns a copy of every registered descriptor.
func (r *Registry) All() []bounce.ProviderDescriptor {
	out := make([]bounce.ProviderDescriptor, len(r.descriptors))
	copy(out, r.descriptors)
	return out
}

// Len returns the number of registered descriptors.
func (r *Registry) Len() int { return len(r.descriptors) }

// Package tools decides which external tools a request may touch. Filtering
// is by cost tier against the request budget tier, security tier against the
// request clearance, and a projected-cost budget that drops the most
// expensive tools first.
package tools

import (
	"sort"

	"github.com/jordanhubbard/wallbounce/internal/bounce"
)

// Cost-tier weights used by the budget estimator.
var costTierWeights = map[string]float64{
	bounce.CostTierFree:     0,
	bounce.CostTierStandard: 1,
	bounce.CostTierPremium:  3,
}

func costTierRank(t string) int {
	switch t {
	case bounce.CostTierFree:
		return 0
	case bounce.CostTierStandard:
		return 1
	default:
		return 2
	}
}

func securityTierRank(t string) int {
	switch t {
	case bounce.SecurityPublic:
		return 0
	case bounce.SecurityInternal:
		return 1
	case bounce.SecuritySensitive:
		return 2
	default:
		return 3
	}
}

// SecretSource reports whether sealed tool credentials are currently
// readable. A locked source hides sensitive and critical tools.
type SecretSource interface {
	Unlocked() bool
}

// Manager holds the tool catalog. The catalog is immutable after New.
type Manager struct {
	catalog []bounce.ToolDescriptor
	byLabel map[string]bounce.ToolDescriptor
	secrets SecretSource
}

// Option configures a Manager.
type Option func(*Manager)

// WithSecretSource gates sensitive/critical tools on vault state.
func WithSecretSource(s SecretSource) Option {
	return func(m *Manager) {
		m.secrets = s
	}
}

// New validates the catalog and builds the manager. Duplicate labels and
// unknown approval policies are config errors.
func New(catalog []bounce.ToolDescriptor, opts ...Option) (*Manager, error) {
	m := &Manager{
		catalog: make([]bounce.ToolDescriptor, len(catalog)),
		byLabel: make(map[string]bounce.ToolDescriptor, len(catalog)),
	}
	copy(m.catalog, catalog)
	for _, o := range opts {
		o(m)
	}

	for _, d := range m.catalog {
		if d.Label == "" {
			return nil, bounce.Errf(bounce.KindConfigError, "tool descriptor missing label: %+v", d)
		}
		switch d.ApprovalPolicy {
		case bounce.PolicyNever, bounce.PolicyConditional, bounce.PolicyAlways:
		default:
			return nil, bounce.Errf(bounce.KindConfigError, "tool %s: unknown approval policy %q", d.Label, d.ApprovalPolicy)
		}
		if _, dup := m.byLabel[d.Label]; dup {
			return nil, bounce.Errf(bounce.KindConfigError, "duplicate tool label %q", d.Label)
		}
		m.byLabel[d.Label] = d
	}
	return m, nil
}

// ToolsFor returns the allowed subset for the given request context, in
// catalog order. An unset budget tier defaults to standard, an unset
// security tier to internal.
func (m *Manager) ToolsFor(tc bounce.ToolContext) []bounce.ToolDescriptor {
	budgetTier := tc.BudgetTier
	if budgetTier == "" {
		budgetTier = bounce.CostTierStandard
	}
	securityTier := tc.SecurityTier
	if securityTier == "" {
		securityTier = bounce.SecurityInternal
	}

	sealed := m.secrets != nil && !m.secrets.Unlocked()

	var eligible []bounce.ToolDescriptor
	for _, d := range m.catalog {
		if costTierRank(d.CostTier) > costTierRank(budgetTier) {
			continue
		}
		if securityTierRank(d.SecurityTier) > securityTierRank(securityTier) {
			continue
		}
		if sealed && d.AuthToken == "" && securityTierRank(d.SecurityTier) >= securityTierRank(bounce.SecuritySensitive) {
			// No inline credential; the sealed vault holds it.
			continue
		}
		eligible = append(eligible, d)
	}

	return m.fitBudget(eligible, tc)
}

// fitBudget drops the most expensive tools until the projected cost fits
// inside the remaining budget. A zero budget limit means unlimited.
func (m *Manager) fitBudget(eligible []bounce.ToolDescriptor, tc bounce.ToolContext) []bounce.ToolDescriptor {
	if tc.BudgetLimit <= 0 {
		return eligible
	}

	dropped := make(map[string]bool)
	for len(eligible) > len(dropped) {
		projected := 0.0
		for _, d := range eligible {
			if !dropped[d.Label] {
				projected += EstimateCost(d, tc.ExpectedCalls)
			}
		}
		if tc.BudgetUsed+projected <= tc.BudgetLimit {
			break
		}
		mostExpensive := ""
		worst := -1.0
		for _, d := range eligible {
			if dropped[d.Label] {
				continue
			}
			cost := EstimateCost(d, tc.ExpectedCalls)
			if cost > worst || (cost == worst && d.Label < mostExpensive) {
				worst = cost
				mostExpensive = d.Label
			}
		}
		if mostExpensive == "" {
			break
		}
		dropped[mostExpensive] = true
	}

	out := make([]bounce.ToolDescriptor, 0, len(eligible))
	for _, d := range eligible {
		if !dropped[d.Label] {
			out = append(out, d)
		}
	}
	return out
}

// EstimateCost is the projected cost of one tool: cost-tier weight times the
// caller-supplied expected call count (default 1).
func EstimateCost(d bounce.ToolDescriptor, expectedCalls map[string]int) float64 {
	calls := 1
	if n, ok := expectedCalls[d.Label]; ok && n > 0 {
		calls = n
	}
	return costTierWeights[d.CostTier] * float64(calls)
}

// Get looks up a descriptor by label.
func (m *Manager) Get(label string) (bounce.ToolDescriptor, bool) {
	d, ok := m.byLabel[label]
	return d, ok
}

// All returns a copy of the full catalog, ignoring request context.
func (m *Manager) All() []bounce.ToolDescriptor {
	out := make([]bounce.ToolDescriptor, len(m.catalog))
	copy(out, m.catalog)
	return out
}

// Labels returns the catalog labels sorted.
func (m *Manager) Labels() []string {
	out := make([]string, 0, len(m.byLabel))
	for l := range m.byLabel {
		out = append(out, l)
	}
	sort.Strings(out)
	return out
}

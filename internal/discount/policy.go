package discount

import "sort"

// Candidate pairs a satisfied rule with the discount it would produce on its
// own against the current snapshot.
type Candidate struct {
	Rule   Rule
	Amount int64
}

// StackingPolicy decides which satisfied rules participate in a pricing pass.
// Coupon and merchant discounts are outside its jurisdiction; they always
// apply.
type StackingPolicy interface {
	Select(candidates []Candidate) []Candidate
}

// SingleRulePolicy keeps only the rule with the largest standalone discount,
// breaking ties by rule ID so repeated pricing passes stay deterministic.
type SingleRulePolicy struct{}

// Select implements StackingPolicy.
func (SingleRulePolicy) Select(candidates []Candidate) []Candidate {
	if len(candidates) == 0 {
		return nil
	}
	best := candidates[0]
	for _, c := range candidates[1:] {
		if c.Amount > best.Amount {
			best = c
			continue
		}
		if c.Amount == best.Amount && c.Rule.ID.String() < best.Rule.ID.String() {
			best = c
		}
	}
	return []Candidate{best}
}

// MultiRulePolicy applies every satisfied rule in rule-ID order.
type MultiRulePolicy struct{}

// Select implements StackingPolicy.
func (MultiRulePolicy) Select(candidates []Candidate) []Candidate {
	out := make([]Candidate, len(candidates))
	copy(out, candidates)
	sort.Slice(out, func(i, j int) bool {
		return out[i].Rule.ID.String() < out[j].Rule.ID.String()
	})
	return out
}

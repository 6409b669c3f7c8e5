package decoder

import "github.com/Adithya-Monish-Kumar-K/ccg-chart-parser/internal/ccg"

// Constraint is a side condition on a binary rule application.
type Constraint func(left, right *ccg.Constituent) bool

// Constraints maps rule names to their side conditions. Rules without an
// entry are unconstrained.
type Constraints map[string]Constraint

// DefaultConstraints returns the built-in punctuation and coordination
// checks.
func DefaultConstraints() Constraints {
	return Constraints{
		"lp": func(left, _ *ccg.Constituent) bool {
			return left.Tag.IsPunctuation()
		},
		"rp": func(_, right *ccg.Constituent) bool {
			return right.Tag.IsPunctuation()
		},
		// coordination never applies to an already coordinated conjunct
		"conj": func(left, right *ccg.Constituent) bool {
			if right.Tag.HasFeature("conj") {
				return false
			}
			return left.Tag.IsConj() || left.Tag.IsPunctuation()
		},
	}
}

// Allows reports whether rule may combine left and right.
func (cs Constraints) Allows(rule string, left, right *ccg.Constituent) bool {
	check, ok := cs[rule]
	if !ok || check == nil {
		return true
	}
	return check(left, right)
}

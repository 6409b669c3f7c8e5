package ccg

// WildcardFeature unifies with any feature, including none.
const WildcardFeature = "X"

// Combinator is a schematic binary rule. It returns the result category, or
// nil when the rule does not apply.
type Combinator struct {
	Name    string
	Combine func(left, right *Category) *Category
}

// Combinators are the schematic rules tried by the generic fallback path,
// in order. Composed results are not interned unless they already were.
var Combinators = []Combinator{
	{Name: "fa", Combine: forwardApplication},
	{Name: "ba", Combine: backwardApplication},
	{Name: "fc", Combine: forwardComposition},
	{Name: "bx", Combine: backwardCrossedComposition},
}

// ContainsWildcard reports whether c or any of its sub-categories carries
// the X feature.
func (c *Category) ContainsWildcard() bool {
	if c.feature == WildcardFeature {
		return true
	}
	if c.IsAtomic() {
		return false
	}
	return c.left.ContainsWildcard() || c.right.ContainsWildcard()
}

// Unifies reports whether a and b are equal up to missing or wildcard
// features.
func Unifies(a, b *Category) bool {
	if a == b {
		return true
	}
	if !featuresUnify(a.feature, b.feature) || a.slash != b.slash {
		return false
	}
	if a.IsAtomic() {
		return a.name == b.name
	}
	return Unifies(a.left, b.left) && Unifies(a.right, b.right)
}

func featuresUnify(f, g string) bool {
	return f == g || f == "" || g == "" || f == WildcardFeature || g == WildcardFeature
}

// X/Y Y => X
func forwardApplication(left, right *Category) *Category {
	if left.slash != Forward || !Unifies(left.right, right) {
		return nil
	}
	return left.left
}

// Y X\Y => X
func backwardApplication(left, right *Category) *Category {
	if right.slash != Backward || !Unifies(right.right, left) {
		return nil
	}
	return right.left
}

// X/Y Y/Z => X/Z
func forwardComposition(left, right *Category) *Category {
	if left.slash != Forward || right.slash != Forward || !Unifies(left.right, right.left) {
		return nil
	}
	return lookup(complexOf(left.left, right.right, Forward, ""))
}

// Y/Z X\Y => X/Z
func backwardCrossedComposition(left, right *Category) *Category {
	if left.slash != Forward || right.slash != Backward || !Unifies(right.right, left.left) {
		return nil
	}
	return lookup(complexOf(right.left, left.right, Forward, ""))
}

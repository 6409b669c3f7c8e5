// Package ccg defines the Combinatory Categorial Grammar primitives used by
// the chart decoder: interned categories, lexical tokens and derivation
// constituents.
//
// Categories built by Parse are interned: two of them are
// structurally equal if and only if they are the same pointer, so *Category
// can be used directly as a map key in rule tables. Per-request input goes
// through ParseTransient instead, which never grows the shared tables; such
// categories compare with Equal.
package ccg

import (
	"errors"
	"fmt"
	"strings"
	"sync"
)

// ErrMalformedCategory is matched by every error returned from Parse.
var ErrMalformedCategory = errors.New("malformed category")

// Slash is the directionality of a complex category.
type Slash int

const (
	// NoSlash marks an atomic category.
	NoSlash Slash = iota
	Forward
	Backward
)

func (s Slash) String() string {
	switch s {
	case Forward:
		return "/"
	case Backward:
		return `\`
	default:
		return ""
	}
}

// Category is a CCG category. The zero value is not valid; obtain
// categories from Parse or ParseTransient.
type Category struct {
	name    string
	feature string
	left    *Category
	right   *Category
	slash   Slash
	repr    string
}

var (
	// canonical rendering -> interned category
	interned sync.Map
	// raw input string -> interned category, memoises Parse
	parsed sync.Map
)

func atomic(name, feature string) *Category {
	c := &Category{name: name, feature: feature}
	c.repr = c.render(true)
	return c
}

func complexOf(left, right *Category, slash Slash, feature string) *Category {
	c := &Category{left: left, right: right, slash: slash, feature: feature}
	c.repr = c.render(true)
	return c
}

func intern(c *Category) *Category {
	actual, _ := interned.LoadOrStore(c.repr, c)
	return actual.(*Category)
}

// lookup returns the interned twin of c, or c itself without storing it.
func lookup(c *Category) *Category {
	if v, ok := interned.Load(c.repr); ok {
		return v.(*Category)
	}
	return c
}

// InternedCount is the number of distinct interned categories.
func InternedCount() int {
	n := 0
	interned.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}

// IsAtomic reports whether c has no slash.
func (c *Category) IsAtomic() bool { return c.slash == NoSlash }

// Name is the atom name; empty for complex categories.
func (c *Category) Name() string { return c.name }

// Feature is the bracketed feature, e.g. "dcl" for S[dcl].
func (c *Category) Feature() string { return c.feature }

// HasFeature reports whether c carries exactly the feature f.
func (c *Category) HasFeature(f string) bool { return c.feature == f }

// Left is the result side of a complex category.
func (c *Category) Left() *Category { return c.left }

// Right is the argument side of a complex category.
func (c *Category) Right() *Category { return c.right }

// Slash returns the direction of a complex category.
func (c *Category) Slash() Slash { return c.slash }

// Equal reports structural equality. It also holds between an interned
// category and a transient one.
func (c *Category) Equal(other *Category) bool {
	if c == other {
		return true
	}
	return c != nil && other != nil && c.repr == other.repr
}

var punctuation = map[string]struct{}{
	",": {}, ".": {}, ";": {}, ":": {},
	"LRB": {}, "RRB": {}, "LQU": {}, "RQU": {},
}

// IsPunctuation reports whether c is one of the atomic punctuation tags.
func (c *Category) IsPunctuation() bool {
	if !c.IsAtomic() {
		return false
	}
	_, ok := punctuation[c.name]
	return ok
}

// IsConj reports whether c is the atomic conjunction tag.
func (c *Category) IsConj() bool {
	return c.IsAtomic() && c.name == "conj"
}

// WithoutFeature returns c with its own top-level feature removed. The
// result is interned only if that category already was.
func (c *Category) WithoutFeature() *Category {
	if c.feature == "" {
		return c
	}
	if c.IsAtomic() {
		return lookup(atomic(c.name, ""))
	}
	return lookup(complexOf(c.left, c.right, c.slash, ""))
}

func (c *Category) String() string {
	if c == nil {
		return "<nil>"
	}
	return c.repr
}

// render builds the canonical form. Nested complex categories are
// bracketed; a feature on a complex category always follows brackets.
func (c *Category) render(top bool) string {
	if c.IsAtomic() {
		if c.feature == "" {
			return c.name
		}
		return c.name + "[" + c.feature + "]"
	}
	inner := c.left.render(false) + c.slash.String() + c.right.render(false)
	if c.feature != "" {
		return "(" + inner + ")[" + c.feature + "]"
	}
	if top {
		return inner
	}
	return "(" + inner + ")"
}

// ParseError describes a malformed category string.
type ParseError struct {
	Input string
	Pos   int
	Msg   string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parsing category %q at %d: %s", e.Input, e.Pos, e.Msg)
}

func (e *ParseError) Unwrap() error { return ErrMalformedCategory }

// Parse parses CCGbank slash notation such as `(S[dcl]\NP)/NP`. Slashes at
// the same bracket depth associate to the left.
func Parse(s string) (*Category, error) {
	if v, ok := parsed.Load(s); ok {
		return v.(*Category), nil
	}
	p := &catParser{input: s, keep: intern}
	c, err := p.parse(0, len(s))
	if err != nil {
		return nil, err
	}
	parsed.Store(s, c)
	return c, nil
}

// ParseTransient parses s like Parse but adds nothing to the shared tables.
// Categories that are already interned come back as the interned pointer;
// any other category is a private value. Use it for input that arrives
// with a request, such as gold supertags.
func ParseTransient(s string) (*Category, error) {
	if v, ok := parsed.Load(s); ok {
		return v.(*Category), nil
	}
	p := &catParser{input: s, keep: lookup}
	return p.parse(0, len(s))
}

// MustParse is like Parse but panics on error.
func MustParse(s string) *Category {
	c, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return c
}

type catParser struct {
	input string
	keep  func(*Category) *Category
}

func (p *catParser) fail(pos int, format string, args ...any) error {
	return &ParseError{Input: p.input, Pos: pos, Msg: fmt.Sprintf(format, args...)}
}

// parse handles input[lo:hi].
func (p *catParser) parse(lo, hi int) (*Category, error) {
	if lo >= hi {
		return nil, p.fail(lo, "empty category")
	}
	split, slash, err := p.topLevelSlash(lo, hi)
	if err != nil {
		return nil, err
	}
	if split >= 0 {
		left, err := p.parse(lo, split)
		if err != nil {
			return nil, err
		}
		right, err := p.parse(split+1, hi)
		if err != nil {
			return nil, err
		}
		return p.keep(complexOf(left, right, slash, "")), nil
	}

	if p.input[lo] == '(' {
		closing, err := p.matchParen(lo, hi)
		if err != nil {
			return nil, err
		}
		inner, err := p.parse(lo+1, closing)
		if err != nil {
			return nil, err
		}
		if closing == hi-1 {
			return inner, nil
		}
		feature, err := p.feature(closing+1, hi)
		if err != nil {
			return nil, err
		}
		if inner.IsAtomic() {
			return p.keep(atomic(inner.name, feature)), nil
		}
		return p.keep(complexOf(inner.left, inner.right, inner.slash, feature)), nil
	}
	return p.atom(lo, hi)
}

// topLevelSlash returns the position of the rightmost slash outside any
// brackets, or -1.
func (p *catParser) topLevelSlash(lo, hi int) (int, Slash, error) {
	depth, square := 0, 0
	pos, dir := -1, NoSlash
	for i := lo; i < hi; i++ {
		switch p.input[i] {
		case '(':
			depth++
		case ')':
			depth--
			if depth < 0 {
				return 0, NoSlash, p.fail(i, "unbalanced ')'")
			}
		case '[':
			square++
		case ']':
			square--
			if square < 0 {
				return 0, NoSlash, p.fail(i, "unbalanced ']'")
			}
		case '/', '\\':
			if depth == 0 && square == 0 {
				pos = i
				dir = Forward
				if p.input[i] == '\\' {
					dir = Backward
				}
			}
		}
	}
	if depth != 0 {
		return 0, NoSlash, p.fail(hi, "unbalanced '('")
	}
	if square != 0 {
		return 0, NoSlash, p.fail(hi, "unterminated feature")
	}
	return pos, dir, nil
}

func (p *catParser) matchParen(lo, hi int) (int, error) {
	depth := 0
	for i := lo; i < hi; i++ {
		switch p.input[i] {
		case '(':
			depth++
		case ')':
			depth--
			if depth == 0 {
				return i, nil
			}
		}
	}
	return 0, p.fail(lo, "unbalanced '('")
}

func (p *catParser) feature(lo, hi int) (string, error) {
	if p.input[lo] != '[' || p.input[hi-1] != ']' {
		return "", p.fail(lo, "unexpected trailing input %q", p.input[lo:hi])
	}
	f := p.input[lo+1 : hi-1]
	if f == "" || strings.ContainsAny(f, "[]()/\\") {
		return "", p.fail(lo, "invalid feature %q", f)
	}
	return f, nil
}

func (p *catParser) atom(lo, hi int) (*Category, error) {
	end := hi
	feature := ""
	if i := strings.IndexByte(p.input[lo:hi], '['); i >= 0 {
		end = lo + i
		f, err := p.feature(end, hi)
		if err != nil {
			return nil, err
		}
		feature = f
	}
	name := p.input[lo:end]
	if name == "" {
		return nil, p.fail(lo, "missing atom name")
	}
	if strings.ContainsAny(name, "()[] \t") {
		return nil, p.fail(lo, "invalid atom %q", name)
	}
	return p.keep(atomic(name, feature)), nil
}

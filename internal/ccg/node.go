package ccg

import (
	"strings"
)

// Node is a derivation tree node: either a *Token leaf or a *Constituent.
type Node interface {
	Category() *Category
	writeTo(b *strings.Builder)
}

// Token is a surface word paired with its assigned category.
type Token struct {
	Contents string
	Tag      *Category
}

// Category returns the token's tag.
func (t *Token) Category() *Category { return t.Tag }

func (t *Token) writeTo(b *strings.Builder) {
	b.WriteString(t.Contents)
}

// Constituent is a derivation node. Children are shared read-only with any
// other chart item that references them; they always cover strictly smaller
// spans, so derivations are acyclic.
type Constituent struct {
	Tag      *Category
	Children []Node
	// Rule names the rule that built this node; empty for leaves.
	Rule string
}

// NewLeaf wraps a token in a lexical constituent.
func NewLeaf(tok *Token) *Constituent {
	return &Constituent{Tag: tok.Tag, Children: []Node{tok}}
}

// NewUnary builds a unary constituent over child.
func NewUnary(tag *Category, child *Constituent, rule string) *Constituent {
	return &Constituent{Tag: tag, Children: []Node{child}, Rule: rule}
}

// NewBinary builds a binary constituent over left and right.
func NewBinary(tag *Category, left, right *Constituent, rule string) *Constituent {
	return &Constituent{Tag: tag, Children: []Node{left, right}, Rule: rule}
}

// Category returns the constituent's tag.
func (c *Constituent) Category() *Category { return c.Tag }

// IsLeaf reports whether c directly wraps a token.
func (c *Constituent) IsLeaf() bool {
	if len(c.Children) != 1 {
		return false
	}
	_, ok := c.Children[0].(*Token)
	return ok
}

// IsUnary reports whether c was built by a unary rule.
func (c *Constituent) IsUnary() bool {
	return len(c.Children) == 1 && !c.IsLeaf()
}

// Leaves returns the tokens covered by c, left to right.
func (c *Constituent) Leaves() []*Token {
	var out []*Token
	var walk func(n Node)
	walk = func(n Node) {
		switch v := n.(type) {
		case *Token:
			out = append(out, v)
		case *Constituent:
			for _, child := range v.Children {
				walk(child)
			}
		}
	}
	walk(c)
	return out
}

// String renders the derivation as a bracketed tree, e.g.
// (S (NP (NP/N the) (N cat)) (S\NP sat)).
func (c *Constituent) String() string {
	var b strings.Builder
	c.writeTo(&b)
	return b.String()
}

func (c *Constituent) writeTo(b *strings.Builder) {
	if c.IsLeaf() {
		b.WriteByte('(')
		b.WriteString(c.Tag.String())
		b.WriteByte(' ')
		c.Children[0].writeTo(b)
		b.WriteByte(')')
		return
	}
	b.WriteByte('(')
	b.WriteString(c.Tag.String())
	for _, child := range c.Children {
		b.WriteByte(' ')
		child.writeTo(b)
	}
	b.WriteByte(')')
}

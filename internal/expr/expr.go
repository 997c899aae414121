// Package expr implements the boolean expression language shared by the
// rule, card, and product-card tiers. Expressions are boolean
// combinations of numeric entity ids, e.g. "(12 AND 14) OR 31".
//
// AND binds tighter than OR; parentheses override both. NOT is accepted
// before any operand. Keywords are case-insensitive. The literal tokens
// "true" and "false" evaluate to themselves; every numeric token is an
// entity id resolved through the caller's LeafResolver.
//
// Malformed input (unbalanced parentheses, dangling operators, unknown
// tokens) is never an evaluation error at the call site design level:
// Parse returns a descriptive error and the owning entity degrades to
// non-matching, surfaced as a diagnostic by the caller.
package expr

import (
	"fmt"
	"strconv"
	"strings"
)

// LeafResolver maps an entity id referenced by an expression to a
// boolean outcome. ok reports whether the id could be resolved.
type LeafResolver func(id int64) (value bool, ok bool)

// Expression is a parsed boolean expression ready for evaluation.
type Expression struct {
	root   node
	leaves []int64
}

// node is one AST node: literal leaf, id leaf, NOT, AND, or OR.
type node interface {
	eval(resolve LeafResolver) (bool, error)
}

type litNode bool

type leafNode int64

type notNode struct {
	child node
}

type andNode struct {
	children []node
}

type orNode struct {
	children []node
}

func (n litNode) eval(LeafResolver) (bool, error) {
	return bool(n), nil
}

func (n leafNode) eval(resolve LeafResolver) (bool, error) {
	if resolve == nil {
		return false, fmt.Errorf("no resolver for id %d", int64(n))
	}
	v, ok := resolve(int64(n))
	if !ok {
		return false, fmt.Errorf("unresolvable id %d", int64(n))
	}
	return v, nil
}

func (n *notNode) eval(resolve LeafResolver) (bool, error) {
	v, err := n.child.eval(resolve)
	if err != nil {
		return false, err
	}
	return !v, nil
}

func (n *andNode) eval(resolve LeafResolver) (bool, error) {
	result := true
	for _, c := range n.children {
		v, err := c.eval(resolve)
		if err != nil {
			return false, err
		}
		result = result && v
	}
	return result, nil
}

func (n *orNode) eval(resolve LeafResolver) (bool, error) {
	result := false
	for _, c := range n.children {
		v, err := c.eval(resolve)
		if err != nil {
			return false, err
		}
		result = result || v
	}
	return result, nil
}

// Parse parses input into an Expression. An empty or malformed input
// returns an error; callers treat that as a non-matching entity, not a
// failure.
func Parse(input string) (*Expression, error) {
	tokens, err := lex(input)
	if err != nil {
		return nil, err
	}
	if len(tokens) == 0 {
		return nil, fmt.Errorf("empty expression")
	}

	p := &parser{tokens: tokens}
	root, err := p.parseOr()
	if err != nil {
		return nil, err
	}
	if p.pos != len(p.tokens) {
		return nil, fmt.Errorf("unexpected token %q at position %d", p.tokens[p.pos].text, p.pos)
	}

	e := &Expression{root: root}
	collectLeaves(root, &e.leaves)
	return e, nil
}

// Eval walks the AST against the resolver. An unresolvable leaf id is
// reported as an error so the caller can degrade the owning entity.
func (e *Expression) Eval(resolve LeafResolver) (bool, error) {
	return e.root.eval(resolve)
}

// Leaves returns the distinct entity ids referenced by the expression,
// in first-appearance order.
func (e *Expression) Leaves() []int64 {
	out := make([]int64, len(e.leaves))
	copy(out, e.leaves)
	return out
}

// Evaluate is the one-shot convenience form: parse then eval. Malformed
// input or an unresolvable id yields (false, err); the caller records
// err as a diagnostic and treats the entity as non-matching.
func Evaluate(input string, resolve LeafResolver) (bool, error) {
	e, err := Parse(input)
	if err != nil {
		return false, err
	}
	return e.Eval(resolve)
}

func collectLeaves(n node, out *[]int64) {
	switch t := n.(type) {
	case leafNode:
		for _, id := range *out {
			if id == int64(t) {
				return
			}
		}
		*out = append(*out, int64(t))
	case *notNode:
		collectLeaves(t.child, out)
	case *andNode:
		for _, c := range t.children {
			collectLeaves(c, out)
		}
	case *orNode:
		for _, c := range t.children {
			collectLeaves(c, out)
		}
	}
}

// Lexer

type tokenKind int

const (
	tokLParen tokenKind = iota
	tokRParen
	tokAnd
	tokOr
	tokNot
	tokTrue
	tokFalse
	tokID
)

type token struct {
	kind tokenKind
	text string
	id   int64
}

func lex(input string) ([]token, error) {
	var tokens []token
	i := 0
	for i < len(input) {
		c := input[i]
		switch {
		case c == ' ' || c == '\t' || c == '\n' || c == '\r':
			i++
		case c == '(':
			tokens = append(tokens, token{kind: tokLParen, text: "("})
			i++
		case c == ')':
			tokens = append(tokens, token{kind: tokRParen, text: ")"})
			i++
		case c >= '0' && c <= '9':
			j := i
			for j < len(input) && input[j] >= '0' && input[j] <= '9' {
				j++
			}
			id, err := strconv.ParseInt(input[i:j], 10, 64)
			if err != nil {
				return nil, fmt.Errorf("invalid id %q: %w", input[i:j], err)
			}
			tokens = append(tokens, token{kind: tokID, text: input[i:j], id: id})
			i = j
		case isWordChar(c):
			j := i
			for j < len(input) && isWordChar(input[j]) {
				j++
			}
			word := input[i:j]
			switch strings.ToUpper(word) {
			case "AND":
				tokens = append(tokens, token{kind: tokAnd, text: word})
			case "OR":
				tokens = append(tokens, token{kind: tokOr, text: word})
			case "NOT":
				tokens = append(tokens, token{kind: tokNot, text: word})
			case "TRUE":
				tokens = append(tokens, token{kind: tokTrue, text: word})
			case "FALSE":
				tokens = append(tokens, token{kind: tokFalse, text: word})
			default:
				return nil, fmt.Errorf("unknown token %q", word)
			}
			i = j
		default:
			return nil, fmt.Errorf("unexpected character %q", string(c))
		}
	}
	return tokens, nil
}

func isWordChar(c byte) bool {
	return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

// Parser
//
// or   := and (OR and)*
// and  := unary (AND unary)*
// unary := NOT unary | primary
// primary := '(' or ')' | TRUE | FALSE | ID

type parser struct {
	tokens []token
	pos    int
}

func (p *parser) peek() (token, bool) {
	if p.pos >= len(p.tokens) {
		return token{}, false
	}
	return p.tokens[p.pos], true
}

func (p *parser) parseOr() (node, error) {
	first, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	children := []node{first}
	for {
		t, ok := p.peek()
		if !ok || t.kind != tokOr {
			break
		}
		p.pos++
		next, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		children = append(children, next)
	}
	if len(children) == 1 {
		return children[0], nil
	}
	return &orNode{children: children}, nil
}

func (p *parser) parseAnd() (node, error) {
	first, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	children := []node{first}
	for {
		t, ok := p.peek()
		if !ok || t.kind != tokAnd {
			break
		}
		p.pos++
		next, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		children = append(children, next)
	}
	if len(children) == 1 {
		return children[0], nil
	}
	return &andNode{children: children}, nil
}

func (p *parser) parseUnary() (node, error) {
	t, ok := p.peek()
	if !ok {
		return nil, fmt.Errorf("unexpected end of expression")
	}
	if t.kind == tokNot {
		p.pos++
		child, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return &notNode{child: child}, nil
	}
	return p.parsePrimary()
}

func (p *parser) parsePrimary() (node, error) {
	t, ok := p.peek()
	if !ok {
		return nil, fmt.Errorf("unexpected end of expression")
	}
	switch t.kind {
	case tokLParen:
		p.pos++
		inner, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		closing, ok := p.peek()
		if !ok || closing.kind != tokRParen {
			return nil, fmt.Errorf("unbalanced parentheses")
		}
		p.pos++
		return inner, nil
	case tokTrue:
		p.pos++
		return litNode(true), nil
	case tokFalse:
		p.pos++
		return litNode(false), nil
	case tokID:
		p.pos++
		return leafNode(t.id), nil
	default:
		return nil, fmt.Errorf("unexpected token %q", t.text)
	}
}

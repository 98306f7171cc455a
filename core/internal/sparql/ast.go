package sparql

import "github.com/cheograph/cheograph/core/internal/rdfstore"

// Query is a parsed SELECT query
type Query struct {
	Prefixes   map[string]string
	Distinct   bool
	Star       bool
	Projection []Projection
	Where      *Group
	GroupBy    []string
	OrderBy    []OrderCond
	Limit      int
	Offset     int
}

// Projection is one entry of the SELECT clause. Agg and Expr are nil for a
// plain variable.
type Projection struct {
	Var  string
	Agg  *Aggregate
	Expr Expr
}

// Aggregate is a set function over a group of solutions
type Aggregate struct {
	Func      string
	Distinct  bool
	Star      bool
	Var       string
	Separator string
}

// Group is a group graph pattern; filters apply to the whole group
type Group struct {
	Elements []Element
	Filters  []Expr
}

// Element is a member of a group graph pattern
type Element interface {
	element()
}

// TriplePattern matches triples, each position is a variable or a term
type TriplePattern struct {
	S, P, O Node
}

// Optional is a left join against the enclosing solutions
type Optional struct {
	Group *Group
}

// SubGroup is a nested group joined with the enclosing solutions
type SubGroup struct {
	Group *Group
}

func (*TriplePattern) element() {}
func (*Optional) element()      {}
func (*SubGroup) element()      {}

// Node is either a variable (Var set) or a constant term
type Node struct {
	Var  string
	Term rdfstore.Term
}

func (n Node) IsVar() bool {
	return n.Var != ""
}

type OrderCond struct {
	Var  string
	Desc bool
}

// Expr is a filter or projection expression
type Expr interface {
	expr()
}

type exprVar struct {
	name string
}

type exprConst struct {
	term rdfstore.Term
}

type exprCall struct {
	fn   string
	args []Expr
}

type exprBinary struct {
	op   string
	l, r Expr
}

type exprUnary struct {
	op string
	x  Expr
}

func (exprVar) expr()    {}
func (exprConst) expr()  {}
func (exprCall) expr()   {}
func (exprBinary) expr() {}
func (exprUnary) expr()  {}

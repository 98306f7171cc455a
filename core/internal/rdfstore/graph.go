// Package rdfstore holds an ontology document in memory as an indexed set of
// triples.
package rdfstore

import "strings"

// Kind discriminates the three RDF term types
type Kind uint8

const (
	KindIRI Kind = iota + 1
	KindBlank
	KindLiteral
)

const xsdString = "http://www.w3.org/2001/XMLSchema#string"

// Term is an IRI, blank node or literal
type Term struct {
	Kind     Kind
	Value    string
	Lang     string
	Datatype string
}

func NewIRI(v string) Term {
	return Term{Kind: KindIRI, Value: v}
}

func NewBlank(id string) Term {
	return Term{Kind: KindBlank, Value: id}
}

func NewLiteral(v string) Term {
	return Term{Kind: KindLiteral, Value: v}
}

func NewLangLiteral(v, lang string) Term {
	return Term{Kind: KindLiteral, Value: v, Lang: strings.ToLower(lang)}
}

func NewTypedLiteral(v, datatype string) Term {
	if datatype == xsdString {
		datatype = ""
	}
	return Term{Kind: KindLiteral, Value: v, Datatype: datatype}
}

// IsZero reports whether the term is unset
func (t Term) IsZero() bool {
	return t.Kind == 0
}

// Equal compares two terms by kind, value, language and datatype
func (t Term) Equal(o Term) bool {
	return t.Kind == o.Kind &&
		t.Value == o.Value &&
		t.Lang == o.Lang &&
		t.Datatype == o.Datatype
}

// Key returns a string that uniquely identifies the term
func (t Term) Key() string {
	var sb strings.Builder
	sb.Grow(len(t.Value) + len(t.Lang) + len(t.Datatype) + 4)
	sb.WriteByte(byte('0' + t.Kind))
	sb.WriteString(t.Value)
	if t.Lang != "" {
		sb.WriteString("\x00@")
		sb.WriteString(t.Lang)
	}
	if t.Datatype != "" {
		sb.WriteString("\x00^")
		sb.WriteString(t.Datatype)
	}
	return sb.String()
}

func (t Term) String() string {
	switch t.Kind {
	case KindIRI:
		return "<" + t.Value + ">"
	case KindBlank:
		return "_:" + t.Value
	case KindLiteral:
		s := `"` + t.Value + `"`
		if t.Lang != "" {
			return s + "@" + t.Lang
		}
		if t.Datatype != "" {
			return s + "^^<" + t.Datatype + ">"
		}
		return s
	}
	return ""
}

// Triple is a single subject, predicate, object statement
type Triple struct {
	S, P, O Term
}

// Graph is an append-only triple set indexed by subject, predicate and object
type Graph struct {
	triples []Triple
	seen    map[string]struct{}
	bySubj  map[string][]int
	byPred  map[string][]int
	byObj   map[string][]int
}

// New returns an empty graph
func New() *Graph {
	return &Graph{
		seen:   make(map[string]struct{}),
		bySubj: make(map[string][]int),
		byPred: make(map[string][]int),
		byObj:  make(map[string][]int),
	}
}

// Add inserts a triple, duplicates are ignored
func (g *Graph) Add(tr Triple) bool {
	sk, pk, ok := tr.S.Key(), tr.P.Key(), tr.O.Key()
	id := sk + "\x01" + pk + "\x01" + ok
	if _, exists := g.seen[id]; exists {
		return false
	}
	g.seen[id] = struct{}{}

	i := len(g.triples)
	g.triples = append(g.triples, tr)
	g.bySubj[sk] = append(g.bySubj[sk], i)
	g.byPred[pk] = append(g.byPred[pk], i)
	g.byObj[ok] = append(g.byObj[ok], i)
	return true
}

// Len returns the number of triples
func (g *Graph) Len() int {
	return len(g.triples)
}

// Match calls fn for every triple matching the pattern, nil positions are
// wildcards. Iteration stops when fn returns false.
func (g *Graph) Match(s, p, o *Term, fn func(Triple) bool) {
	var cand []int
	narrowed := false

	pick := func(idx map[string][]int, t *Term) {
		if t == nil {
			return
		}
		l := idx[t.Key()]
		if !narrowed || len(l) < len(cand) {
			cand = l
			narrowed = true
		}
	}
	pick(g.bySubj, s)
	pick(g.byPred, p)
	pick(g.byObj, o)

	if !narrowed {
		for _, tr := range g.triples {
			if !fn(tr) {
				return
			}
		}
		return
	}

	for _, i := range cand {
		tr := g.triples[i]
		if s != nil && !tr.S.Equal(*s) {
			continue
		}
		if p != nil && !tr.P.Equal(*p) {
			continue
		}
		if o != nil && !tr.O.Equal(*o) {
			continue
		}
		if !fn(tr) {
			return
		}
	}
}

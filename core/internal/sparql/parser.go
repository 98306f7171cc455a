package sparql

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/alecthomas/participle/v2/lexer"
	"github.com/cheograph/cheograph/core/internal/rdfstore"
)

const (
	nsRDF = "http://www.w3.org/1999/02/22-rdf-syntax-ns#"
	nsXSD = "http://www.w3.org/2001/XMLSchema#"
)

var defaultPrefixes = map[string]string{
	"rdf":  nsRDF,
	"rdfs": "http://www.w3.org/2000/01/rdf-schema#",
	"owl":  "http://www.w3.org/2002/07/owl#",
	"xsd":  nsXSD,
}

// blank nodes in patterns bind like variables that SELECT * never returns
const blankVarPrefix = "_:"

// ErrUnsupported is returned for valid SPARQL outside the supported subset
var ErrUnsupported = errors.New("unsupported query construct")

var aggregates = map[string]bool{
	"COUNT":        true,
	"GROUP_CONCAT": true,
	"SAMPLE":       true,
	"MIN":          true,
	"MAX":          true,
	"SUM":          true,
	"AVG":          true,
}

var builtins = map[string]int{
	"BOUND":     1,
	"STR":       1,
	"LCASE":     1,
	"UCASE":     1,
	"LANG":      1,
	"STRLEN":    1,
	"ISIRI":     1,
	"ISURI":     1,
	"ISLITERAL": 1,
	"ISBLANK":   1,
	"CONTAINS":  2,
	"STRSTARTS": 2,
	"STRENDS":   2,
	"REGEX":     -1,
}

type parser struct {
	toks     []lexer.Token
	pos      int
	prefixes map[string]string
}

// Parse parses a SELECT query
func Parse(q string) (*Query, error) {
	toks, err := tokenize(q)
	if err != nil {
		return nil, err
	}

	p := &parser{
		toks:     toks,
		prefixes: make(map[string]string, len(defaultPrefixes)),
	}
	for k, v := range defaultPrefixes {
		p.prefixes[k] = v
	}
	return p.parseQuery()
}

func (p *parser) parseQuery() (*Query, error) {
	if err := p.parsePrologue(); err != nil {
		return nil, err
	}

	qu := &Query{Limit: -1, Prefixes: p.prefixes}

	if !p.acceptKeyword("SELECT") {
		if p.isKeyword("CONSTRUCT") || p.isKeyword("ASK") || p.isKeyword("DESCRIBE") {
			return nil, p.unsupported(p.peek().Value)
		}
		return nil, p.errorf("expected SELECT")
	}
	if err := p.parseSelectClause(qu); err != nil {
		return nil, err
	}

	if p.isKeyword("FROM") {
		return nil, p.unsupported("FROM")
	}
	p.acceptKeyword("WHERE")

	grp, err := p.parseGroup()
	if err != nil {
		return nil, err
	}
	qu.Where = grp

	if err := p.parseModifiers(qu); err != nil {
		return nil, err
	}

	if t := p.peek(); t.Type != lexer.EOF {
		return nil, p.errorf("unexpected %q after query", t.Value)
	}
	return qu, nil
}

func (p *parser) parsePrologue() error {
	for {
		switch {
		case p.acceptKeyword("PREFIX"):
			t := p.next()
			if t.Type != tokPName || !strings.HasSuffix(t.Value, ":") {
				return p.errorf("expected prefix name, got %q", t.Value)
			}
			iri := p.next()
			if iri.Type != tokIRI {
				return p.errorf("expected IRI for prefix %s", t.Value)
			}
			p.prefixes[strings.TrimSuffix(t.Value, ":")] = iri.Value[1 : len(iri.Value)-1]

		case p.isKeyword("BASE"):
			return p.unsupported("BASE")

		default:
			return nil
		}
	}
}

func (p *parser) parseSelectClause(qu *Query) error {
	if p.acceptKeyword("DISTINCT") || p.acceptKeyword("REDUCED") {
		qu.Distinct = true
	}

	if p.accept("*") {
		qu.Star = true
		return nil
	}

	for {
		t := p.peek()
		switch {
		case t.Type == tokVar:
			p.next()
			qu.Projection = append(qu.Projection, Projection{Var: varName(t.Value)})

		case p.isPunct("("):
			p.next()
			pr, err := p.parseProjectionExpr()
			if err != nil {
				return err
			}
			qu.Projection = append(qu.Projection, pr)

		default:
			if len(qu.Projection) == 0 {
				return p.errorf("expected projection, got %q", t.Value)
			}
			return nil
		}
	}
}

// parseProjectionExpr parses "expr AS ?var )" after the opening paren
func (p *parser) parseProjectionExpr() (Projection, error) {
	var pr Projection

	t := p.peek()
	if t.Type == tokIdent && aggregates[strings.ToUpper(t.Value)] {
		agg, err := p.parseAggregate()
		if err != nil {
			return pr, err
		}
		pr.Agg = agg
	} else {
		ex, err := p.parseExpr()
		if err != nil {
			return pr, err
		}
		pr.Expr = ex
	}

	if err := p.expectKeyword("AS"); err != nil {
		return pr, err
	}
	v := p.next()
	if v.Type != tokVar {
		return pr, p.errorf("expected variable after AS, got %q", v.Value)
	}
	pr.Var = varName(v.Value)
	return pr, p.expect(")")
}

func (p *parser) parseAggregate() (*Aggregate, error) {
	agg := &Aggregate{Func: strings.ToUpper(p.next().Value)}
	if err := p.expect("("); err != nil {
		return nil, err
	}
	agg.Distinct = p.acceptKeyword("DISTINCT")

	switch t := p.next(); {
	case t.Type == tokVar:
		agg.Var = varName(t.Value)
	case t.Value == "*" && agg.Func == "COUNT":
		agg.Star = true
	default:
		return nil, p.errorf("%s expects a variable, got %q", agg.Func, t.Value)
	}

	if agg.Func == "GROUP_CONCAT" {
		agg.Separator = " "
		if p.accept(";") {
			if err := p.expectKeyword("SEPARATOR"); err != nil {
				return nil, err
			}
			if err := p.expect("="); err != nil {
				return nil, err
			}
			s := p.next()
			if s.Type != tokString {
				return nil, p.errorf("expected separator string, got %q", s.Value)
			}
			agg.Separator = unquote(s.Value)
		}
	}
	return agg, p.expect(")")
}

func (p *parser) parseGroup() (*Group, error) {
	if err := p.expect("{"); err != nil {
		return nil, err
	}
	grp := &Group{}

	for {
		t := p.peek()
		switch {
		case t.Type == lexer.EOF:
			return nil, p.errorf("unterminated group")

		case p.accept("}"):
			if p.isKeyword("UNION") {
				return nil, p.unsupported("UNION")
			}
			return grp, nil

		case p.accept("."):

		case p.acceptKeyword("OPTIONAL"):
			og, err := p.parseGroup()
			if err != nil {
				return nil, err
			}
			grp.Elements = append(grp.Elements, &Optional{Group: og})

		case p.acceptKeyword("FILTER"):
			ex, err := p.parseConstraint()
			if err != nil {
				return nil, err
			}
			grp.Filters = append(grp.Filters, ex)

		case p.isPunct("{"):
			sg, err := p.parseGroup()
			if err != nil {
				return nil, err
			}
			if p.isKeyword("UNION") {
				return nil, p.unsupported("UNION")
			}
			grp.Elements = append(grp.Elements, &SubGroup{Group: sg})

		case p.isKeyword("MINUS"), p.isKeyword("BIND"), p.isKeyword("VALUES"),
			p.isKeyword("SERVICE"), p.isKeyword("GRAPH"), p.isKeyword("SELECT"):
			return nil, p.unsupported(strings.ToUpper(t.Value))

		default:
			tps, err := p.parseTriples()
			if err != nil {
				return nil, err
			}
			for _, tp := range tps {
				grp.Elements = append(grp.Elements, tp)
			}
		}
	}
}

// parseTriples parses one subject with its predicate-object list
func (p *parser) parseTriples() ([]*TriplePattern, error) {
	subj, err := p.parseSubject()
	if err != nil {
		return nil, err
	}

	var out []*TriplePattern
	for {
		verb, err := p.parseVerb()
		if err != nil {
			return nil, err
		}
		for {
			obj, err := p.parseObject()
			if err != nil {
				return nil, err
			}
			out = append(out, &TriplePattern{S: subj, P: verb, O: obj})
			if !p.accept(",") {
				break
			}
		}
		if !p.accept(";") {
			return out, nil
		}
		// a trailing ';' before '.' or '}' is allowed
		if p.isPunct(".") || p.isPunct("}") {
			return out, nil
		}
	}
}

func (p *parser) parseSubject() (Node, error) {
	t := p.peek()
	switch t.Type {
	case tokVar:
		p.next()
		return Node{Var: varName(t.Value)}, nil
	case tokIRI, tokPName:
		term, err := p.parseIRI()
		if err != nil {
			return Node{}, err
		}
		return termNode(term), nil
	}
	return Node{}, p.errorf("expected subject, got %q", t.Value)
}

func (p *parser) parseVerb() (Node, error) {
	t := p.peek()
	switch {
	case t.Type == tokVar:
		p.next()
		return Node{Var: varName(t.Value)}, nil
	case t.Type == tokIRI || t.Type == tokPName:
		term, err := p.parseIRI()
		return Node{Term: term}, err
	case t.Type == tokIdent && t.Value == "a":
		p.next()
		return Node{Term: rdfstore.NewIRI(nsRDF + "type")}, nil
	}
	return Node{}, p.errorf("expected predicate, got %q", t.Value)
}

func (p *parser) parseObject() (Node, error) {
	t := p.peek()
	if t.Type == tokVar {
		p.next()
		return Node{Var: varName(t.Value)}, nil
	}
	term, err := p.parseTerm()
	if err != nil {
		return Node{}, err
	}
	return termNode(term), nil
}

// termNode turns blank node labels into non-projected variables
func termNode(t rdfstore.Term) Node {
	if t.Kind == rdfstore.KindBlank {
		return Node{Var: blankVarPrefix + t.Value}
	}
	return Node{Term: t}
}

// parseTerm parses an IRI, prefixed name, literal, number or boolean
func (p *parser) parseTerm() (rdfstore.Term, error) {
	t := p.peek()
	switch t.Type {
	case tokIRI, tokPName:
		return p.parseIRI()

	case tokString:
		p.next()
		val := unquote(t.Value)
		switch nt := p.peek(); nt.Type {
		case tokLangTag:
			p.next()
			return rdfstore.NewLangLiteral(val, nt.Value[1:]), nil
		case tokCaret:
			p.next()
			dt, err := p.parseIRI()
			if err != nil {
				return rdfstore.Term{}, err
			}
			return rdfstore.NewTypedLiteral(val, dt.Value), nil
		}
		return rdfstore.NewLiteral(val), nil

	case tokNumber:
		p.next()
		if strings.Contains(t.Value, ".") {
			return rdfstore.NewTypedLiteral(t.Value, nsXSD+"decimal"), nil
		}
		return rdfstore.NewTypedLiteral(t.Value, nsXSD+"integer"), nil

	case tokIdent:
		switch strings.ToLower(t.Value) {
		case "true", "false":
			p.next()
			return rdfstore.NewTypedLiteral(strings.ToLower(t.Value), nsXSD+"boolean"), nil
		}
	}

	if t.Type == tokOp && t.Value == "-" {
		p.next()
		n := p.next()
		if n.Type != tokNumber {
			return rdfstore.Term{}, p.errorf("expected number after '-'")
		}
		dt := nsXSD + "integer"
		if strings.Contains(n.Value, ".") {
			dt = nsXSD + "decimal"
		}
		return rdfstore.NewTypedLiteral("-"+n.Value, dt), nil
	}

	return rdfstore.Term{}, p.errorf("expected term, got %q", t.Value)
}

func (p *parser) parseIRI() (rdfstore.Term, error) {
	t := p.next()
	switch t.Type {
	case tokIRI:
		return rdfstore.NewIRI(t.Value[1 : len(t.Value)-1]), nil

	case tokPName:
		i := strings.IndexByte(t.Value, ':')
		prefix, local := t.Value[:i], t.Value[i+1:]
		if prefix == "_" {
			return rdfstore.NewBlank(local), nil
		}
		ns, ok := p.prefixes[prefix]
		if !ok {
			return rdfstore.Term{}, p.errorf("undeclared prefix %q", prefix)
		}
		return rdfstore.NewIRI(ns + local), nil
	}
	return rdfstore.Term{}, p.errorf("expected IRI, got %q", t.Value)
}

func (p *parser) parseConstraint() (Expr, error) {
	if p.isPunct("(") {
		p.next()
		ex, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		return ex, p.expect(")")
	}
	if p.peek().Type == tokIdent {
		return p.parsePrimary()
	}
	return nil, p.errorf("expected filter constraint, got %q", p.peek().Value)
}

func (p *parser) parseModifiers(qu *Query) error {
	if p.acceptKeyword("GROUP") {
		if err := p.expectKeyword("BY"); err != nil {
			return err
		}
		for p.peek().Type == tokVar {
			qu.GroupBy = append(qu.GroupBy, varName(p.next().Value))
		}
		if len(qu.GroupBy) == 0 {
			return p.errorf("GROUP BY expects variables")
		}
	}

	if p.isKeyword("HAVING") {
		return p.unsupported("HAVING")
	}

	if p.acceptKeyword("ORDER") {
		if err := p.expectKeyword("BY"); err != nil {
			return err
		}
		for {
			t := p.peek()
			if t.Type == tokVar {
				p.next()
				qu.OrderBy = append(qu.OrderBy, OrderCond{Var: varName(t.Value)})
				continue
			}
			if p.isKeyword("ASC") || p.isKeyword("DESC") {
				desc := strings.EqualFold(p.next().Value, "DESC")
				if err := p.expect("("); err != nil {
					return err
				}
				v := p.next()
				if v.Type != tokVar {
					return p.errorf("ORDER BY expects a variable, got %q", v.Value)
				}
				if err := p.expect(")"); err != nil {
					return err
				}
				qu.OrderBy = append(qu.OrderBy, OrderCond{Var: varName(v.Value), Desc: desc})
				continue
			}
			break
		}
		if len(qu.OrderBy) == 0 {
			return p.errorf("ORDER BY expects conditions")
		}
	}

	for i := 0; i < 2; i++ {
		switch {
		case p.acceptKeyword("LIMIT"):
			n, err := p.parseInt()
			if err != nil {
				return err
			}
			qu.Limit = n
		case p.acceptKeyword("OFFSET"):
			n, err := p.parseInt()
			if err != nil {
				return err
			}
			qu.Offset = n
		}
	}
	return nil
}

func (p *parser) parseInt() (int, error) {
	t := p.next()
	if t.Type != tokNumber {
		return 0, p.errorf("expected integer, got %q", t.Value)
	}
	return strconv.Atoi(t.Value)
}

// expression grammar, lowest precedence first

func (p *parser) parseExpr() (Expr, error) {
	l, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for p.accept("||") {
		r, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		l = exprBinary{op: "||", l: l, r: r}
	}
	return l, nil
}

func (p *parser) parseAnd() (Expr, error) {
	l, err := p.parseRelational()
	if err != nil {
		return nil, err
	}
	for p.accept("&&") {
		r, err := p.parseRelational()
		if err != nil {
			return nil, err
		}
		l = exprBinary{op: "&&", l: l, r: r}
	}
	return l, nil
}

func (p *parser) parseRelational() (Expr, error) {
	l, err := p.parseAdditive()
	if err != nil {
		return nil, err
	}
	t := p.peek()
	if t.Type == tokOp {
		switch t.Value {
		case "=", "!=", "<", ">", "<=", ">=":
			p.next()
			r, err := p.parseAdditive()
			if err != nil {
				return nil, err
			}
			return exprBinary{op: t.Value, l: l, r: r}, nil
		}
	}
	if p.isKeyword("IN") || p.isKeyword("NOT") {
		return nil, p.unsupported(strings.ToUpper(t.Value))
	}
	return l, nil
}

func (p *parser) parseAdditive() (Expr, error) {
	l, err := p.parseMultiplicative()
	if err != nil {
		return nil, err
	}
	for {
		t := p.peek()
		if t.Type != tokOp || (t.Value != "+" && t.Value != "-") {
			return l, nil
		}
		p.next()
		r, err := p.parseMultiplicative()
		if err != nil {
			return nil, err
		}
		l = exprBinary{op: t.Value, l: l, r: r}
	}
}

func (p *parser) parseMultiplicative() (Expr, error) {
	l, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	for {
		t := p.peek()
		if t.Type != tokOp || (t.Value != "*" && t.Value != "/") {
			return l, nil
		}
		p.next()
		r, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		l = exprBinary{op: t.Value, l: l, r: r}
	}
}

func (p *parser) parseUnary() (Expr, error) {
	t := p.peek()
	if t.Type == tokOp && (t.Value == "!" || t.Value == "-" || t.Value == "+") {
		p.next()
		x, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return exprUnary{op: t.Value, x: x}, nil
	}
	return p.parsePrimary()
}

func (p *parser) parsePrimary() (Expr, error) {
	t := p.peek()

	switch {
	case p.isPunct("("):
		p.next()
		ex, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		return ex, p.expect(")")

	case t.Type == tokVar:
		p.next()
		return exprVar{name: varName(t.Value)}, nil

	case t.Type == tokIdent:
		name := strings.ToUpper(t.Value)
		if name == "TRUE" || name == "FALSE" {
			break
		}
		arity, ok := builtins[name]
		if !ok {
			return nil, p.unsupported("function " + t.Value)
		}
		p.next()
		args, err := p.parseArgs()
		if err != nil {
			return nil, err
		}
		if arity >= 0 && len(args) != arity {
			return nil, p.errorf("%s expects %d arguments, got %d", name, arity, len(args))
		}
		if name == "REGEX" && (len(args) < 2 || len(args) > 3) {
			return nil, p.errorf("REGEX expects 2 or 3 arguments, got %d", len(args))
		}
		if name == "BOUND" {
			if _, ok := args[0].(exprVar); !ok {
				return nil, p.errorf("BOUND expects a variable")
			}
		}
		return exprCall{fn: name, args: args}, nil
	}

	term, err := p.parseTerm()
	if err != nil {
		return nil, err
	}
	return exprConst{term: term}, nil
}

func (p *parser) parseArgs() ([]Expr, error) {
	if err := p.expect("("); err != nil {
		return nil, err
	}
	var args []Expr
	if p.accept(")") {
		return args, nil
	}
	for {
		ex, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		args = append(args, ex)
		if p.accept(")") {
			return args, nil
		}
		if err := p.expect(","); err != nil {
			return nil, err
		}
	}
}

// token helpers

func (p *parser) peek() lexer.Token {
	if p.pos < len(p.toks) {
		return p.toks[p.pos]
	}
	return lexer.Token{Type: lexer.EOF}
}

func (p *parser) next() lexer.Token {
	t := p.peek()
	if p.pos < len(p.toks) {
		p.pos++
	}
	return t
}

func (p *parser) isKeyword(kw string) bool {
	t := p.peek()
	return t.Type == tokIdent && strings.EqualFold(t.Value, kw)
}

func (p *parser) acceptKeyword(kw string) bool {
	if p.isKeyword(kw) {
		p.pos++
		return true
	}
	return false
}

func (p *parser) expectKeyword(kw string) error {
	if !p.acceptKeyword(kw) {
		return p.errorf("expected %s, got %q", kw, p.peek().Value)
	}
	return nil
}

func (p *parser) isPunct(s string) bool {
	t := p.peek()
	return (t.Type == tokPunct || t.Type == tokOp) && t.Value == s
}

func (p *parser) accept(s string) bool {
	if p.isPunct(s) {
		p.pos++
		return true
	}
	return false
}

func (p *parser) expect(s string) error {
	if !p.accept(s) {
		return p.errorf("expected %q, got %q", s, p.peek().Value)
	}
	return nil
}

func (p *parser) errorf(format string, args ...interface{}) error {
	t := p.peek()
	return fmt.Errorf("sparql: %d:%d: %s", t.Pos.Line, t.Pos.Column, fmt.Sprintf(format, args...))
}

func (p *parser) unsupported(what string) error {
	return fmt.Errorf("sparql: %w: %s", ErrUnsupported, what)
}

func varName(tok string) string {
	return tok[1:]
}

package sparql

import (
	"context"
	"sort"
	"strconv"
	"strings"

	"github.com/cheograph/cheograph/core/internal/rdfstore"
)

// Binding maps variable names to terms for one solution
type Binding map[string]rdfstore.Term

// Result is the projected solution sequence of a query
type Result struct {
	Vars []string
	Rows []Binding
}

// Run parses and executes a query against the graph
func Run(ctx context.Context, g *rdfstore.Graph, q string) (*Result, error) {
	qu, err := Parse(q)
	if err != nil {
		return nil, err
	}
	return Exec(ctx, g, qu)
}

// Exec evaluates a parsed query against the graph
func Exec(ctx context.Context, g *rdfstore.Graph, qu *Query) (*Result, error) {
	sols, err := evalGroup(ctx, g, qu.Where, []Binding{{}})
	if err != nil {
		return nil, err
	}

	var rows []Binding
	if qu.isAggregate() {
		rows = aggregate(qu, sols)
	} else {
		rows = sols
		for _, pr := range qu.Projection {
			if pr.Expr == nil {
				continue
			}
			for _, r := range rows {
				if v, err := evalExpr(pr.Expr, r); err == nil {
					r[pr.Var] = v
				}
			}
		}
	}

	if len(qu.OrderBy) != 0 {
		sort.SliceStable(rows, func(i, j int) bool {
			for _, oc := range qu.OrderBy {
				c := compareOptional(rows[i], rows[j], oc.Var)
				if c == 0 {
					continue
				}
				if oc.Desc {
					return c > 0
				}
				return c < 0
			}
			return false
		})
	}

	vars := qu.projectedVars()
	res := &Result{Vars: vars, Rows: make([]Binding, 0, len(rows))}
	seen := make(map[string]struct{})

	for _, r := range rows {
		out := make(Binding, len(vars))
		for _, v := range vars {
			if t, ok := r[v]; ok {
				out[v] = t
			}
		}
		if qu.Distinct {
			k := rowKey(vars, out)
			if _, dup := seen[k]; dup {
				continue
			}
			seen[k] = struct{}{}
		}
		res.Rows = append(res.Rows, out)
	}

	if qu.Offset > 0 {
		if qu.Offset >= len(res.Rows) {
			res.Rows = res.Rows[:0]
		} else {
			res.Rows = res.Rows[qu.Offset:]
		}
	}
	if qu.Limit >= 0 && qu.Limit < len(res.Rows) {
		res.Rows = res.Rows[:qu.Limit]
	}
	return res, nil
}

func evalGroup(ctx context.Context, g *rdfstore.Graph, grp *Group, in []Binding) ([]Binding, error) {
	sols := in
	for _, el := range grp.Elements {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		switch e := el.(type) {
		case *TriplePattern:
			sols = matchPattern(g, e, sols)

		case *Optional:
			out := make([]Binding, 0, len(sols))
			for _, s := range sols {
				ext, err := evalGroup(ctx, g, e.Group, []Binding{s})
				if err != nil {
					return nil, err
				}
				if len(ext) == 0 {
					out = append(out, s)
				} else {
					out = append(out, ext...)
				}
			}
			sols = out

		case *SubGroup:
			var err error
			if sols, err = evalGroup(ctx, g, e.Group, sols); err != nil {
				return nil, err
			}
		}

		if len(sols) == 0 {
			return sols, nil
		}
	}

	if len(grp.Filters) == 0 {
		return sols, nil
	}

	out := sols[:0:0]
	for _, s := range sols {
		if passes(grp.Filters, s) {
			out = append(out, s)
		}
	}
	return out, nil
}

func passes(filters []Expr, b Binding) bool {
	for _, f := range filters {
		v, err := evalExpr(f, b)
		if err != nil {
			return false
		}
		ok, err := ebv(v)
		if err != nil || !ok {
			return false
		}
	}
	return true
}

func matchPattern(g *rdfstore.Graph, tp *TriplePattern, sols []Binding) []Binding {
	var out []Binding

	for _, sol := range sols {
		s, sv := resolve(tp.S, sol)
		p, pv := resolve(tp.P, sol)
		o, ov := resolve(tp.O, sol)

		g.Match(s, p, o, func(tr rdfstore.Triple) bool {
			nb := make(Binding, len(sol)+3)
			for k, v := range sol {
				nb[k] = v
			}
			if bind(nb, sv, tr.S) && bind(nb, pv, tr.P) && bind(nb, ov, tr.O) {
				out = append(out, nb)
			}
			return true
		})
	}
	return out
}

// resolve returns the constant for a node, or the variable name when the
// node is an unbound variable
func resolve(n Node, sol Binding) (*rdfstore.Term, string) {
	if !n.IsVar() {
		t := n.Term
		return &t, ""
	}
	if t, ok := sol[n.Var]; ok {
		return &t, ""
	}
	return nil, n.Var
}

// bind records a value for v, failing when the same variable appears twice in
// a pattern with different values
func bind(b Binding, v string, t rdfstore.Term) bool {
	if v == "" {
		return true
	}
	if prev, ok := b[v]; ok {
		return prev.Equal(t)
	}
	b[v] = t
	return true
}

func (qu *Query) isAggregate() bool {
	if len(qu.GroupBy) != 0 {
		return true
	}
	for _, pr := range qu.Projection {
		if pr.Agg != nil {
			return true
		}
	}
	return false
}

func (qu *Query) projectedVars() []string {
	if !qu.Star {
		vars := make([]string, 0, len(qu.Projection))
		for _, pr := range qu.Projection {
			vars = append(vars, pr.Var)
		}
		return vars
	}

	var vars []string
	seen := make(map[string]bool)
	var walk func(*Group)
	walk = func(grp *Group) {
		for _, el := range grp.Elements {
			switch e := el.(type) {
			case *TriplePattern:
				for _, n := range []Node{e.S, e.P, e.O} {
					if n.IsVar() && !seen[n.Var] && !strings.HasPrefix(n.Var, blankVarPrefix) {
						seen[n.Var] = true
						vars = append(vars, n.Var)
					}
				}
			case *Optional:
				walk(e.Group)
			case *SubGroup:
				walk(e.Group)
			}
		}
	}
	walk(qu.Where)
	return vars
}

type solutionGroup struct {
	first Binding
	sols  []Binding
}

func aggregate(qu *Query, sols []Binding) []Binding {
	var order []string
	groups := make(map[string]*solutionGroup)

	for _, s := range sols {
		k := rowKey(qu.GroupBy, s)
		grp, ok := groups[k]
		if !ok {
			grp = &solutionGroup{first: s}
			groups[k] = grp
			order = append(order, k)
		}
		grp.sols = append(grp.sols, s)
	}

	// an aggregate without GROUP BY yields one row even with no solutions
	if len(order) == 0 && len(qu.GroupBy) == 0 {
		groups[""] = &solutionGroup{first: Binding{}}
		order = append(order, "")
	}

	rows := make([]Binding, 0, len(order))
	for _, k := range order {
		grp := groups[k]
		row := make(Binding, len(qu.Projection)+len(qu.GroupBy))
		for _, v := range qu.GroupBy {
			if t, ok := grp.first[v]; ok {
				row[v] = t
			}
		}

		for _, pr := range qu.Projection {
			switch {
			case pr.Agg != nil:
				if t, ok := evalAggregate(pr.Agg, grp.sols); ok {
					row[pr.Var] = t
				}
			case pr.Expr != nil:
				if t, err := evalExpr(pr.Expr, row); err == nil {
					row[pr.Var] = t
				}
			default:
				if _, ok := row[pr.Var]; !ok {
					if t, ok := grp.first[pr.Var]; ok {
						row[pr.Var] = t
					}
				}
			}
		}
		rows = append(rows, row)
	}
	return rows
}

func evalAggregate(agg *Aggregate, sols []Binding) (rdfstore.Term, bool) {
	var vals []rdfstore.Term
	seen := make(map[string]struct{})

	for _, s := range sols {
		var t rdfstore.Term
		var k string

		if agg.Star {
			k = bindingKey(s)
		} else {
			v, ok := s[agg.Var]
			if !ok {
				continue
			}
			t, k = v, v.Key()
		}
		if agg.Distinct {
			if _, dup := seen[k]; dup {
				continue
			}
			seen[k] = struct{}{}
		}
		vals = append(vals, t)
	}

	switch agg.Func {
	case "COUNT":
		return rdfstore.NewTypedLiteral(strconv.Itoa(len(vals)), nsXSD+"integer"), true

	case "GROUP_CONCAT":
		parts := make([]string, len(vals))
		for i, v := range vals {
			parts[i] = v.Value
		}
		return rdfstore.NewLiteral(strings.Join(parts, agg.Separator)), true

	case "SAMPLE":
		if len(vals) == 0 {
			return rdfstore.Term{}, false
		}
		return vals[0], true

	case "MIN", "MAX":
		if len(vals) == 0 {
			return rdfstore.Term{}, false
		}
		best := vals[0]
		for _, v := range vals[1:] {
			c := compareTerms(v, best)
			if (agg.Func == "MIN" && c < 0) || (agg.Func == "MAX" && c > 0) {
				best = v
			}
		}
		return best, true

	case "SUM", "AVG":
		var sum float64
		n := 0
		for _, v := range vals {
			if f, ok := numeric(v); ok {
				sum += f
				n++
			}
		}
		if agg.Func == "AVG" {
			if n == 0 {
				return numberTerm(0, true), true
			}
			return numberTerm(sum/float64(n), false), true
		}
		return numberTerm(sum, false), true
	}
	return rdfstore.Term{}, false
}

func compareOptional(a, b Binding, v string) int {
	ta, aok := a[v]
	tb, bok := b[v]
	switch {
	case !aok && !bok:
		return 0
	case !aok:
		return -1
	case !bok:
		return 1
	}
	return compareTerms(ta, tb)
}

// rowKey keys b on vars only. No vars gives the same key for every binding.
func rowKey(vars []string, b Binding) string {
	var sb strings.Builder
	for _, v := range vars {
		sb.WriteString(v)
		sb.WriteByte('=')
		if t, ok := b[v]; ok {
			sb.WriteString(t.Key())
		}
		sb.WriteByte('\x02')
	}
	return sb.String()
}

// bindingKey keys b on every bound variable
func bindingKey(b Binding) string {
	vars := make([]string, 0, len(b))
	for k := range b {
		vars = append(vars, k)
	}
	sort.Strings(vars)
	return rowKey(vars, b)
}

package sparql

import (
	"errors"
	"math"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/cheograph/cheograph/core/internal/rdfstore"
)

var (
	errUnbound = errors.New("unbound variable")
	errType    = errors.New("type error")
)

var numericTypes = map[string]bool{
	nsXSD + "integer":            true,
	nsXSD + "decimal":            true,
	nsXSD + "double":             true,
	nsXSD + "float":              true,
	nsXSD + "int":                true,
	nsXSD + "long":               true,
	nsXSD + "short":              true,
	nsXSD + "nonNegativeInteger": true,
	nsXSD + "positiveInteger":    true,
	nsXSD + "gYear":              true,
}

var (
	trueTerm  = rdfstore.NewTypedLiteral("true", nsXSD+"boolean")
	falseTerm = rdfstore.NewTypedLiteral("false", nsXSD+"boolean")
)

func boolTerm(b bool) rdfstore.Term {
	if b {
		return trueTerm
	}
	return falseTerm
}

func numberTerm(f float64, integer bool) rdfstore.Term {
	if integer && f == math.Trunc(f) {
		return rdfstore.NewTypedLiteral(strconv.FormatFloat(f, 'f', 0, 64), nsXSD+"integer")
	}
	return rdfstore.NewTypedLiteral(strconv.FormatFloat(f, 'f', -1, 64), nsXSD+"decimal")
}

func numeric(t rdfstore.Term) (float64, bool) {
	if t.Kind != rdfstore.KindLiteral || !numericTypes[t.Datatype] {
		return 0, false
	}
	f, err := strconv.ParseFloat(t.Value, 64)
	return f, err == nil
}

func isInteger(t rdfstore.Term) bool {
	return t.Datatype == nsXSD+"integer" || t.Datatype == nsXSD+"int" || t.Datatype == nsXSD+"long"
}

// ebv computes the effective boolean value of a term
func ebv(t rdfstore.Term) (bool, error) {
	if t.Kind != rdfstore.KindLiteral {
		return false, errType
	}
	if t.Datatype == nsXSD+"boolean" {
		return t.Value == "true" || t.Value == "1", nil
	}
	if f, ok := numeric(t); ok {
		return f != 0 && !math.IsNaN(f), nil
	}
	return t.Value != "", nil
}

// compareTerms orders unbound < blank < IRI < literal, numbers numerically
// and everything else by lexical value
func compareTerms(a, b rdfstore.Term) int {
	if fa, ok := numeric(a); ok {
		if fb, ok := numeric(b); ok {
			switch {
			case fa < fb:
				return -1
			case fa > fb:
				return 1
			}
			return 0
		}
	}
	if a.Kind != b.Kind {
		return kindRank(a.Kind) - kindRank(b.Kind)
	}
	return strings.Compare(a.Value, b.Value)
}

func kindRank(k rdfstore.Kind) int {
	switch k {
	case rdfstore.KindBlank:
		return 1
	case rdfstore.KindIRI:
		return 2
	case rdfstore.KindLiteral:
		return 3
	}
	return 0
}

// termsEqual compares literals by value so that tagged and plain strings with
// the same text are equal
func termsEqual(a, b rdfstore.Term) bool {
	if fa, ok := numeric(a); ok {
		if fb, ok := numeric(b); ok {
			return fa == fb
		}
	}
	return a.Kind == b.Kind && a.Value == b.Value
}

func evalExpr(e Expr, b Binding) (rdfstore.Term, error) {
	switch ex := e.(type) {
	case exprConst:
		return ex.term, nil

	case exprVar:
		if t, ok := b[ex.name]; ok {
			return t, nil
		}
		return rdfstore.Term{}, errUnbound

	case exprUnary:
		return evalUnary(ex, b)

	case exprBinary:
		return evalBinary(ex, b)

	case exprCall:
		return evalCall(ex, b)
	}
	return rdfstore.Term{}, errType
}

func evalUnary(ex exprUnary, b Binding) (rdfstore.Term, error) {
	v, err := evalExpr(ex.x, b)
	if err != nil {
		return v, err
	}
	switch ex.op {
	case "!":
		ok, err := ebv(v)
		if err != nil {
			return v, err
		}
		return boolTerm(!ok), nil
	case "-":
		f, ok := numeric(v)
		if !ok {
			return v, errType
		}
		return numberTerm(-f, isInteger(v)), nil
	}
	if _, ok := numeric(v); !ok {
		return v, errType
	}
	return v, nil
}

func evalBinary(ex exprBinary, b Binding) (rdfstore.Term, error) {
	switch ex.op {
	case "||", "&&":
		return evalLogical(ex, b)
	}

	l, err := evalExpr(ex.l, b)
	if err != nil {
		return l, err
	}
	r, err := evalExpr(ex.r, b)
	if err != nil {
		return r, err
	}

	switch ex.op {
	case "=":
		return boolTerm(termsEqual(l, r)), nil
	case "!=":
		return boolTerm(!termsEqual(l, r)), nil
	case "<":
		return boolTerm(compareTerms(l, r) < 0), nil
	case ">":
		return boolTerm(compareTerms(l, r) > 0), nil
	case "<=":
		return boolTerm(compareTerms(l, r) <= 0), nil
	case ">=":
		return boolTerm(compareTerms(l, r) >= 0), nil
	}

	fl, lok := numeric(l)
	fr, rok := numeric(r)
	if !lok || !rok {
		return rdfstore.Term{}, errType
	}
	integer := isInteger(l) && isInteger(r)

	switch ex.op {
	case "+":
		return numberTerm(fl+fr, integer), nil
	case "-":
		return numberTerm(fl-fr, integer), nil
	case "*":
		return numberTerm(fl*fr, integer), nil
	case "/":
		if fr == 0 {
			return rdfstore.Term{}, errType
		}
		return numberTerm(fl/fr, false), nil
	}
	return rdfstore.Term{}, errType
}

// evalLogical follows the SPARQL truth tables where an error on one side can
// be masked by the other side
func evalLogical(ex exprBinary, b Binding) (rdfstore.Term, error) {
	lv, lerr := evalBool(ex.l, b)
	rv, rerr := evalBool(ex.r, b)

	if ex.op == "||" {
		if (lerr == nil && lv) || (rerr == nil && rv) {
			return trueTerm, nil
		}
	} else {
		if (lerr == nil && !lv) || (rerr == nil && !rv) {
			return falseTerm, nil
		}
	}
	if lerr != nil {
		return rdfstore.Term{}, lerr
	}
	if rerr != nil {
		return rdfstore.Term{}, rerr
	}
	return boolTerm(ex.op == "&&"), nil
}

func evalBool(e Expr, b Binding) (bool, error) {
	v, err := evalExpr(e, b)
	if err != nil {
		return false, err
	}
	return ebv(v)
}

func evalCall(ex exprCall, b Binding) (rdfstore.Term, error) {
	if ex.fn == "BOUND" {
		_, ok := b[ex.args[0].(exprVar).name]
		return boolTerm(ok), nil
	}

	args := make([]rdfstore.Term, len(ex.args))
	for i, a := range ex.args {
		v, err := evalExpr(a, b)
		if err != nil {
			return v, err
		}
		args[i] = v
	}

	switch ex.fn {
	case "STR":
		if args[0].Kind == rdfstore.KindBlank {
			return rdfstore.Term{}, errType
		}
		return rdfstore.NewLiteral(args[0].Value), nil

	case "LCASE", "UCASE":
		v := args[0]
		if v.Kind != rdfstore.KindLiteral {
			return rdfstore.Term{}, errType
		}
		if ex.fn == "LCASE" {
			v.Value = strings.ToLower(v.Value)
		} else {
			v.Value = strings.ToUpper(v.Value)
		}
		return v, nil

	case "LANG":
		if args[0].Kind != rdfstore.KindLiteral {
			return rdfstore.Term{}, errType
		}
		return rdfstore.NewLiteral(args[0].Lang), nil

	case "STRLEN":
		if args[0].Kind != rdfstore.KindLiteral {
			return rdfstore.Term{}, errType
		}
		return numberTerm(float64(utf8.RuneCountInString(args[0].Value)), true), nil

	case "ISIRI", "ISURI":
		return boolTerm(args[0].Kind == rdfstore.KindIRI), nil

	case "ISLITERAL":
		return boolTerm(args[0].Kind == rdfstore.KindLiteral), nil

	case "ISBLANK":
		return boolTerm(args[0].Kind == rdfstore.KindBlank), nil

	case "CONTAINS", "STRSTARTS", "STRENDS":
		if args[0].Kind != rdfstore.KindLiteral || args[1].Kind != rdfstore.KindLiteral {
			return rdfstore.Term{}, errType
		}
		s, sub := args[0].Value, args[1].Value
		switch ex.fn {
		case "CONTAINS":
			return boolTerm(strings.Contains(s, sub)), nil
		case "STRSTARTS":
			return boolTerm(strings.HasPrefix(s, sub)), nil
		}
		return boolTerm(strings.HasSuffix(s, sub)), nil

	case "REGEX":
		if args[0].Kind != rdfstore.KindLiteral {
			return rdfstore.Term{}, errType
		}
		flags := ""
		if len(args) == 3 {
			flags = args[2].Value
		}
		re, err := compileRegex(args[1].Value, flags)
		if err != nil {
			return rdfstore.Term{}, errType
		}
		return boolTerm(re.MatchString(args[0].Value)), nil
	}
	return rdfstore.Term{}, errType
}

var regexCache sync.Map

func compileRegex(pattern, flags string) (*regexp.Regexp, error) {
	key := flags + "\x00" + pattern
	if re, ok := regexCache.Load(key); ok {
		return re.(*regexp.Regexp), nil
	}

	var mods string
	for _, f := range flags {
		switch f {
		case 'i', 's', 'm':
			mods += string(f)
		}
	}
	src := pattern
	if mods != "" {
		src = "(?" + mods + ")" + pattern
	}
	re, err := regexp.Compile(src)
	if err != nil {
		return nil, err
	}
	regexCache.Store(key, re)
	return re, nil
}

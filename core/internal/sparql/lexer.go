package sparql

import (
	"fmt"
	"strings"

	"github.com/alecthomas/participle/v2/lexer"
)

//nolint:govet // participle rule literals are unkeyed
var queryLexer = lexer.MustSimple([]lexer.SimpleRule{
	{Name: "Whitespace", Pattern: `[ \t\r\n]+`},
	{Name: "Comment", Pattern: `#[^\n]*`},
	{Name: "IRI", Pattern: `<[^<>"{}|^\x60\\\s]*>`},
	{Name: "String", Pattern: `"(?:\\.|[^"\\])*"|'(?:\\.|[^'\\])*'`},
	{Name: "LangTag", Pattern: `@[a-zA-Z]+(?:-[a-zA-Z0-9]+)*`},
	{Name: "Caret", Pattern: `\^\^`},
	{Name: "Var", Pattern: `[?$][\p{L}\p{N}_]+`},
	{Name: "Number", Pattern: `[0-9]+(?:\.[0-9]+)?`},
	{Name: "PName", Pattern: `(?:[\p{L}_][\p{L}\p{N}_-]*)?:(?:[\p{L}\p{N}_](?:[\p{L}\p{N}_.-]*[\p{L}\p{N}_-])?)?`},
	{Name: "Ident", Pattern: `[\p{L}_][\p{L}\p{N}_]*`},
	{Name: "Op", Pattern: `&&|\|\||!=|<=|>=|[=<>!*/+-]`},
	{Name: "Punct", Pattern: `[{}().;,]`},
})

var (
	symbols     = queryLexer.Symbols()
	tokIRI      = symbols["IRI"]
	tokString   = symbols["String"]
	tokLangTag  = symbols["LangTag"]
	tokCaret    = symbols["Caret"]
	tokVar      = symbols["Var"]
	tokNumber   = symbols["Number"]
	tokPName    = symbols["PName"]
	tokIdent    = symbols["Ident"]
	tokOp       = symbols["Op"]
	tokPunct    = symbols["Punct"]
	tokSkipWS   = symbols["Whitespace"]
	tokSkipComm = symbols["Comment"]
)

// tokenize lexes the query and drops whitespace and comments
func tokenize(q string) ([]lexer.Token, error) {
	lex, err := queryLexer.LexString("", q)
	if err != nil {
		return nil, err
	}
	all, err := lexer.ConsumeAll(lex)
	if err != nil {
		return nil, fmt.Errorf("lex: %w", err)
	}

	toks := make([]lexer.Token, 0, len(all))
	for _, t := range all {
		if t.Type == tokSkipWS || t.Type == tokSkipComm {
			continue
		}
		toks = append(toks, t)
	}
	return toks, nil
}

// unquote resolves the escape sequences of a quoted string token
func unquote(s string) string {
	if len(s) < 2 {
		return s
	}
	s = s[1 : len(s)-1]
	if !strings.ContainsRune(s, '\\') {
		return s
	}

	var sb strings.Builder
	sb.Grow(len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c != '\\' || i+1 == len(s) {
			sb.WriteByte(c)
			continue
		}
		i++
		switch s[i] {
		case 't':
			sb.WriteByte('\t')
		case 'n':
			sb.WriteByte('\n')
		case 'r':
			sb.WriteByte('\r')
		case 'b':
			sb.WriteByte('\b')
		case 'f':
			sb.WriteByte('\f')
		default:
			sb.WriteByte(s[i])
		}
	}
	return sb.String()
}

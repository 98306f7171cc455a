package core

import (
	_ "embed"
	"fmt"
	"strings"
	"text/template"
)

//go:embed queries.rq
var queriesRQ string

const tagPrefix = "# tag:"

var queryBank = mustLoadBank(queriesRQ)

// mustLoadBank parses a query file where each query starts with a
// "# tag: name" line. Lines before the first tag are a shared prologue.
func mustLoadBank(src string) *template.Template {
	funcs := template.FuncMap{
		"lit": literal,
		"iri": iriRef,
	}

	var (
		prologue strings.Builder
		body     strings.Builder
		name     string
	)
	root := template.New("queries").Funcs(funcs).Option("missingkey=error")

	flush := func() {
		if name == "" {
			return
		}
		template.Must(root.New(name).Parse(prologue.String() + body.String()))
		body.Reset()
	}

	for _, line := range strings.Split(src, "\n") {
		if strings.HasPrefix(line, tagPrefix) {
			flush()
			name = strings.TrimSpace(strings.TrimPrefix(line, tagPrefix))
			continue
		}
		if name == "" {
			prologue.WriteString(line)
			prologue.WriteByte('\n')
		} else {
			body.WriteString(line)
			body.WriteByte('\n')
		}
	}
	flush()
	return root
}

func renderQuery(name string, data interface{}) (string, error) {
	var sb strings.Builder
	if err := queryBank.ExecuteTemplate(&sb, name, data); err != nil {
		return "", fmt.Errorf("query %s: %w", name, err)
	}
	return sb.String(), nil
}

// ListQuery returns the query listing every entity of a type
func ListQuery(e Entity) (string, error) {
	return renderQuery("list_"+string(e), nil)
}

// InfoQuery returns the detail query for one entity. Scenes are looked up by
// URI, the rest by name.
func InfoQuery(e Entity, id string) (string, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return "", fmt.Errorf("%s: empty identifier", e.Singular())
	}
	return renderQuery(e.Singular()+"_info", id)
}

// SearchQuery returns the name search query for an entity type
func SearchQuery(e Entity, text string) (string, error) {
	return renderQuery("search_"+string(e), strings.TrimSpace(text))
}

var literalEscaper = strings.NewReplacer(
	`\`, `\\`,
	`"`, `\"`,
	"\n", `\n`,
	"\r", `\r`,
	"\t", `\t`,
)

// literal renders s as a quoted SPARQL string literal
func literal(s string) string {
	return `"` + literalEscaper.Replace(s) + `"`
}

// iriRef renders s as an IRI reference, rejecting characters that would end
// the reference early
func iriRef(s string) (string, error) {
	if s == "" || strings.ContainsAny(s, "<>\"{}|^`\\ \t\r\n") {
		return "", fmt.Errorf("invalid IRI %q", s)
	}
	return "<" + s + ">", nil
}

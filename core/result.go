package core

import (
	"encoding/json"

	"github.com/cheograph/cheograph/core/internal/rdfstore"
	"github.com/cheograph/cheograph/core/internal/sparql"
)

// ValueKind tells literals apart from resources
type ValueKind int

const (
	Literal ValueKind = iota
	Resource
)

// Value is a single bound term in a result row
type Value struct {
	Kind     ValueKind
	Value    string
	Lang     string
	Datatype string
}

type jsonValue struct {
	Type     string `json:"type"`
	Value    string `json:"value"`
	Lang     string `json:"xml:lang,omitempty"`
	Datatype string `json:"datatype,omitempty"`
}

// MarshalJSON writes the value in the SPARQL JSON results binding shape
func (v Value) MarshalJSON() ([]byte, error) {
	jv := jsonValue{Type: "literal", Value: v.Value, Lang: v.Lang, Datatype: v.Datatype}
	if v.Kind == Resource {
		jv.Type = "uri"
		jv.Lang, jv.Datatype = "", ""
	}
	return json.Marshal(jv)
}

func (v *Value) UnmarshalJSON(b []byte) error {
	var jv jsonValue
	if err := json.Unmarshal(b, &jv); err != nil {
		return err
	}
	*v = valueFromBinding(jv)
	return nil
}

func valueFromBinding(jv jsonValue) Value {
	switch jv.Type {
	case "uri", "bnode":
		return Value{Kind: Resource, Value: jv.Value}
	}
	return Value{Kind: Literal, Value: jv.Value, Lang: jv.Lang, Datatype: jv.Datatype}
}

// Row maps variable names to their bound values
type Row map[string]Value

// Source names the backend that answered a query
type Source string

const (
	SourceNone   Source = ""
	SourceLocal  Source = "local"
	SourceRemote Source = "remote"
	SourceCache  Source = "cache"
)

// Result is the outcome of a query. It is not modified after it is returned.
type Result struct {
	Vars   []string `json:"vars"`
	Rows   []Row    `json:"rows"`
	Source Source   `json:"-"`
}

// EmptyResult is what callers get when no backend produced an answer
func EmptyResult() *Result {
	return &Result{Vars: []string{}, Rows: []Row{}}
}

// Answered reports whether a backend produced this result
func (r *Result) Answered() bool {
	return r != nil && r.Source != SourceNone
}

// Empty reports whether the result has no rows
func (r *Result) Empty() bool {
	return r == nil || len(r.Rows) == 0
}

// String returns the string value of v in row i, or "" when unbound
func (r *Result) String(i int, v string) string {
	if i < 0 || i >= len(r.Rows) {
		return ""
	}
	return r.Rows[i][v].Value
}

// Column returns the values bound to v across all rows, skipping unbound
func (r *Result) Column(v string) []string {
	out := make([]string, 0, len(r.Rows))
	for _, row := range r.Rows {
		if val, ok := row[v]; ok {
			out = append(out, val.Value)
		}
	}
	return out
}

func fromEngine(res *sparql.Result) *Result {
	out := &Result{
		Vars:   append([]string{}, res.Vars...),
		Rows:   make([]Row, 0, len(res.Rows)),
		Source: SourceLocal,
	}
	for _, b := range res.Rows {
		row := make(Row, len(b))
		for k, t := range b {
			row[k] = fromTerm(t)
		}
		out.Rows = append(out.Rows, row)
	}
	return out
}

func fromTerm(t rdfstore.Term) Value {
	switch t.Kind {
	case rdfstore.KindIRI:
		return Value{Kind: Resource, Value: t.Value}
	case rdfstore.KindBlank:
		return Value{Kind: Resource, Value: "_:" + t.Value}
	}
	return Value{Kind: Literal, Value: t.Value, Lang: t.Lang, Datatype: t.Datatype}
}

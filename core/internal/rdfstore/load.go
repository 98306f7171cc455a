package rdfstore

import (
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/knakk/rdf"
)

// FormatFor picks the RDF serialization from a file extension
func FormatFor(path string) (rdf.Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".nt":
		return rdf.NTriples, nil
	case ".ttl":
		return rdf.Turtle, nil
	case ".owl", ".rdf", ".xml":
		return rdf.RDFXML, nil
	}
	return 0, fmt.Errorf("unsupported ontology format: %s", path)
}

// Load decodes every triple from r into a new graph
func Load(r io.Reader, f rdf.Format) (*Graph, error) {
	g := New()
	dec := rdf.NewTripleDecoder(r, f)

	for {
		tr, err := dec.Decode()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("decode triple %d: %w", g.Len()+1, err)
		}
		g.Add(Triple{
			S: convertTerm(tr.Subj),
			P: convertTerm(tr.Pred),
			O: convertTerm(tr.Obj),
		})
	}
	return g, nil
}

func convertTerm(t rdf.Term) Term {
	switch t.Type() {
	case rdf.TermIRI:
		return NewIRI(t.String())

	case rdf.TermBlank:
		return NewBlank(strings.TrimPrefix(t.String(), "_:"))

	case rdf.TermLiteral:
		// the N-Triples form carries the language tag or datatype after the
		// closing quote
		nt := t.Serialize(rdf.NTriples)
		suffix := ""
		if i := strings.LastIndexByte(nt, '"'); i != -1 {
			suffix = nt[i+1:]
		}
		switch {
		case strings.HasPrefix(suffix, "@"):
			return NewLangLiteral(t.String(), suffix[1:])
		case strings.HasPrefix(suffix, "^^"):
			dt := strings.TrimSuffix(strings.TrimPrefix(suffix[2:], "<"), ">")
			return NewTypedLiteral(t.String(), dt)
		}
		return NewLiteral(t.String())
	}
	return Term{}
}

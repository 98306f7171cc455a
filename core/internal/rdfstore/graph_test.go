package rdfstore

import (
	"strings"
	"testing"

	"github.com/knakk/rdf"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const ns = "http://cheo.vn/ontology#"

func TestGraphAddDeduplicates(t *testing.T) {
	g := New()
	tr := Triple{S: NewIRI(ns + "ThiMau"), P: NewIRI(ns + "name"), O: NewLangLiteral("Thị Mầu", "VI")}

	assert.True(t, g.Add(tr))
	assert.False(t, g.Add(tr))
	assert.Equal(t, 1, g.Len())
	assert.Equal(t, "vi", tr.O.Lang)
}

func TestGraphMatch(t *testing.T) {
	g := New()
	name := NewIRI(ns + "name")
	g.Add(Triple{S: NewIRI(ns + "ThiMau"), P: name, O: NewLiteral("Thị Mầu")})
	g.Add(Triple{S: NewIRI(ns + "XuyVan"), P: name, O: NewLiteral("Xúy Vân")})
	g.Add(Triple{S: NewIRI(ns + "XuyVan"), P: NewIRI(ns + "roleType"), O: NewLiteral("Nữ lệch")})

	var got []string
	g.Match(nil, &name, nil, func(tr Triple) bool {
		got = append(got, tr.O.Value)
		return true
	})
	assert.Equal(t, []string{"Thị Mầu", "Xúy Vân"}, got)

	subj := NewIRI(ns + "XuyVan")
	n := 0
	g.Match(&subj, nil, nil, func(Triple) bool {
		n++
		return true
	})
	assert.Equal(t, 2, n)

	// stops early
	n = 0
	g.Match(nil, nil, nil, func(Triple) bool {
		n++
		return false
	})
	assert.Equal(t, 1, n)

	missing := NewLiteral("Kim Nham")
	g.Match(nil, nil, &missing, func(Triple) bool {
		t.Fatal("unexpected match")
		return true
	})
}

func TestTypedLiteralStringDatatype(t *testing.T) {
	a := NewTypedLiteral("x", "http://www.w3.org/2001/XMLSchema#string")
	assert.True(t, a.Equal(NewLiteral("x")))
	assert.Equal(t, `"x"`, a.String())
}

func TestLoadNTriples(t *testing.T) {
	src := `<http://cheo.vn/ontology#ThiMau> <http://cheo.vn/ontology#name> "Thị Mầu"@vi .
<http://cheo.vn/ontology#NguyenVanAn> <http://cheo.vn/ontology#birthYear> "1962"^^<http://www.w3.org/2001/XMLSchema#integer> .
<http://cheo.vn/ontology#ThiMau> <http://cheo.vn/ontology#playedBy> <http://cheo.vn/ontology#LeThiCuc> .
`
	g, err := Load(strings.NewReader(src), rdf.NTriples)
	require.NoError(t, err)
	require.Equal(t, 3, g.Len())

	var terms []Term
	g.Match(nil, nil, nil, func(tr Triple) bool {
		terms = append(terms, tr.O)
		return true
	})
	assert.Equal(t, NewLangLiteral("Thị Mầu", "vi"), terms[0])
	assert.Equal(t, NewTypedLiteral("1962", "http://www.w3.org/2001/XMLSchema#integer"), terms[1])
	assert.Equal(t, NewIRI(ns+"LeThiCuc"), terms[2])
}

func TestFormatFor(t *testing.T) {
	f, err := FormatFor("/data/cheo.owl")
	require.NoError(t, err)
	assert.Equal(t, rdf.RDFXML, f)

	f, err = FormatFor("cheo.TTL")
	require.NoError(t, err)
	assert.Equal(t, rdf.Turtle, f)

	_, err = FormatFor("cheo.json")
	assert.Error(t, err)
}

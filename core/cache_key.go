package core

import (
	"fmt"
	"hash/fnv"
	"net/url"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// Entity is one of the knowledge-base entity types
type Entity string

const (
	Characters Entity = "characters"
	Plays      Entity = "plays"
	Actors     Entity = "actors"
	Scenes     Entity = "scenes"
)

// Entities lists entity types in warming order
var Entities = []Entity{Characters, Plays, Actors, Scenes}

// ParseEntity accepts plural or singular entity names
func ParseEntity(s string) (Entity, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for _, e := range Entities {
		if s == string(e) || s == e.Singular() {
			return e, nil
		}
	}
	return "", fmt.Errorf("unknown entity type: %q", s)
}

// Singular returns the entity name used in detail keys
func (e Entity) Singular() string {
	return strings.TrimSuffix(string(e), "s")
}

// NormalizeQuery collapses whitespace runs and lower-cases the query so
// formatting differences map to the same key
func NormalizeQuery(q string) string {
	return strings.ToLower(strings.Join(strings.Fields(q), " "))
}

// QueryKey builds the cache key for an ad hoc query. The key is a 64-bit
// FNV-1a hash of the normalized text.
func QueryKey(q string) string {
	h := fnv.New64a()
	h.Write([]byte(NormalizeQuery(q))) //nolint:errcheck
	return fmt.Sprintf("sparql_%016x", h.Sum64())
}

// NormalizeName trims, lower-cases and joins whitespace runs with '_'.
// Names are NFC-composed first so decomposed Vietnamese diacritics key the
// same as precomposed ones.
func NormalizeName(name string) string {
	name = norm.NFC.String(name)
	return strings.Join(strings.Fields(strings.ToLower(name)), "_")
}

// ListKey is the cache key holding every entity of a type
func ListKey(e Entity) string {
	return "list_" + string(e)
}

// ListKeys returns the list key of every entity type
func ListKeys() []string {
	keys := make([]string, len(Entities))
	for i, e := range Entities {
		keys[i] = ListKey(e)
	}
	return keys
}

// InfoKey is the cache key for one entity's details. Scenes are identified
// by URI which is percent-encoded; other entities use their normalized name.
func InfoKey(e Entity, id string) string {
	if e == Scenes {
		return "scene_info_" + url.QueryEscape(strings.TrimSpace(id))
	}
	return e.Singular() + "_info_" + NormalizeName(id)
}

// SearchKey is the cache key for a text search over one entity type
func SearchKey(e Entity, text string) string {
	return "search_" + string(e) + "_" + NormalizeName(text)
}

package models

import (
	"fmt"
	"strings"
)

// ConceptKey identifies a concept by category and external identifier.
// Compare keys directly; String is only for display and serialization.
type ConceptKey struct {
	Type string
	ID   string
}

func (k ConceptKey) String() string {
	return k.Type + "|" + k.ID
}

// Complete reports whether both halves are set.
func (k ConceptKey) Complete() bool {
	return k.Type != "" && k.ID != ""
}

// ParseConceptKey splits a "type|identifier" string on its first separator.
func ParseConceptKey(s string) (ConceptKey, error) {
	typ, id, ok := strings.Cut(s, "|")
	if !ok {
		return ConceptKey{}, fmt.Errorf("concept key %q has no type separator", s)
	}
	return ConceptKey{Type: typ, ID: id}, nil
}

// ConceptRow is one line of a per-document concept table.
type ConceptRow struct {
	PMID      string
	Type      string
	ConceptID string
	Mentions  string
	Resource  string
}

func (r ConceptRow) Key() ConceptKey {
	return ConceptKey{Type: r.Type, ID: r.ConceptID}
}

// RelationRow is one line of a per-document relation table.
type RelationRow struct {
	PMID   string
	Type   string
	First  ConceptKey
	Second ConceptKey
}

// RelationKey groups relation rows corpus-wide.
type RelationKey struct {
	First  ConceptKey
	Second ConceptKey
	Type   string
}

func (r RelationRow) Key() RelationKey {
	return RelationKey{First: r.First, Second: r.Second, Type: r.Type}
}

// ConceptAggregate is one row of the corpus concept table. Multi-valued
// columns are pipe-joined, sorted and deduplicated.
type ConceptAggregate struct {
	ConceptID string
	Type      string
	PMIDs     string
	Mentions  string
	Resources string
}

// RelationAggregate is one row of the corpus relation table.
type RelationAggregate struct {
	First  ConceptKey
	Second ConceptKey
	Type   string
	PMIDs  string
}

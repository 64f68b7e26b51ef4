// Package aggregate folds per-document concept and relation tables into
// corpus-wide tables grouped by key.
package aggregate

import (
	"sort"
	"strings"

	"github.com/xhad/pubgraph/internal/models"
)

// stringSet holds the distinct members of a pipe-joined column.
type stringSet map[string]struct{}

func (s stringSet) add(joined string) {
	for _, item := range strings.Split(joined, "|") {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		s[item] = struct{}{}
	}
}

func (s stringSet) merge(other stringSet) {
	for k := range other {
		s[k] = struct{}{}
	}
}

func (s stringSet) String() string {
	items := make([]string, 0, len(s))
	for k := range s {
		items = append(items, k)
	}
	sort.Strings(items)
	return strings.Join(items, "|")
}

// UniqueList splits every value on "|", trims and deduplicates the pieces,
// and joins them back sorted. Sorting is byte-wise, so "Aspirin" precedes
// "aspirin".
func UniqueList(values ...string) string {
	s := make(stringSet)
	for _, v := range values {
		s.add(v)
	}
	return s.String()
}

type conceptGroup struct {
	pmids     stringSet
	mentions  stringSet
	resources stringSet
}

func newConceptGroup() *conceptGroup {
	return &conceptGroup{pmids: make(stringSet), mentions: make(stringSet), resources: make(stringSet)}
}

// ConceptTable groups concept rows by (identifier, type).
type ConceptTable struct {
	groups map[models.ConceptKey]*conceptGroup
}

func NewConceptTable() *ConceptTable {
	return &ConceptTable{groups: make(map[models.ConceptKey]*conceptGroup)}
}

// ConceptTableFrom rebuilds a table from its persisted rows.
func ConceptTableFrom(rows []models.ConceptAggregate) *ConceptTable {
	t := NewConceptTable()
	for _, r := range rows {
		g := t.group(models.ConceptKey{Type: r.Type, ID: r.ConceptID})
		g.pmids.add(r.PMIDs)
		g.mentions.add(r.Mentions)
		g.resources.add(r.Resources)
	}
	return t
}

func (t *ConceptTable) group(key models.ConceptKey) *conceptGroup {
	g, ok := t.groups[key]
	if !ok {
		g = newConceptGroup()
		t.groups[key] = g
	}
	return g
}

func (t *ConceptTable) Add(rows ...models.ConceptRow) {
	for _, r := range rows {
		g := t.group(r.Key())
		g.pmids.add(r.PMID)
		g.mentions.add(r.Mentions)
		g.resources.add(r.Resource)
	}
}

func (t *ConceptTable) Merge(other *ConceptTable) {
	for key, og := range other.groups {
		g := t.group(key)
		g.pmids.merge(og.pmids)
		g.mentions.merge(og.mentions)
		g.resources.merge(og.resources)
	}
}

func (t *ConceptTable) Len() int {
	return len(t.groups)
}

// PMIDs returns every document identifier represented in the table.
func (t *ConceptTable) PMIDs() map[string]struct{} {
	out := make(map[string]struct{})
	for _, g := range t.groups {
		for p := range g.pmids {
			out[p] = struct{}{}
		}
	}
	return out
}

// Rows renders the table ordered by identifier, then type.
func (t *ConceptTable) Rows() []models.ConceptAggregate {
	keys := make([]models.ConceptKey, 0, len(t.groups))
	for k := range t.groups {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].ID != keys[j].ID {
			return keys[i].ID < keys[j].ID
		}
		return keys[i].Type < keys[j].Type
	})

	rows := make([]models.ConceptAggregate, 0, len(keys))
	for _, k := range keys {
		g := t.groups[k]
		rows = append(rows, models.ConceptAggregate{
			ConceptID: k.ID,
			Type:      k.Type,
			PMIDs:     g.pmids.String(),
			Mentions:  g.mentions.String(),
			Resources: g.resources.String(),
		})
	}
	return rows
}

// AggregateConcepts returns previous merged with rows. previous is left
// untouched and may be nil.
func AggregateConcepts(rows []models.ConceptRow, previous *ConceptTable) *ConceptTable {
	t := NewConceptTable()
	if previous != nil {
		t.Merge(previous)
	}
	t.Add(rows...)
	return t
}

// RelationTable groups relation rows by participant keys and relation type.
type RelationTable struct {
	groups map[models.RelationKey]stringSet
}

func NewRelationTable() *RelationTable {
	return &RelationTable{groups: make(map[models.RelationKey]stringSet)}
}

func RelationTableFrom(rows []models.RelationAggregate) *RelationTable {
	t := NewRelationTable()
	for _, r := range rows {
		t.group(models.RelationKey{First: r.First, Second: r.Second, Type: r.Type}).add(r.PMIDs)
	}
	return t
}

func (t *RelationTable) group(key models.RelationKey) stringSet {
	g, ok := t.groups[key]
	if !ok {
		g = make(stringSet)
		t.groups[key] = g
	}
	return g
}

func (t *RelationTable) Add(rows ...models.RelationRow) {
	for _, r := range rows {
		t.group(r.Key()).add(r.PMID)
	}
}

func (t *RelationTable) Merge(other *RelationTable) {
	for key, og := range other.groups {
		t.group(key).merge(og)
	}
}

func (t *RelationTable) Len() int {
	return len(t.groups)
}

func (t *RelationTable) PMIDs() map[string]struct{} {
	out := make(map[string]struct{})
	for _, g := range t.groups {
		for p := range g {
			out[p] = struct{}{}
		}
	}
	return out
}

// Rows renders the table ordered by its five key columns.
func (t *RelationTable) Rows() []models.RelationAggregate {
	keys := make([]models.RelationKey, 0, len(t.groups))
	for k := range t.groups {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		a, b := keys[i], keys[j]
		switch {
		case a.First.Type != b.First.Type:
			return a.First.Type < b.First.Type
		case a.First.ID != b.First.ID:
			return a.First.ID < b.First.ID
		case a.Second.Type != b.Second.Type:
			return a.Second.Type < b.Second.Type
		case a.Second.ID != b.Second.ID:
			return a.Second.ID < b.Second.ID
		default:
			return a.Type < b.Type
		}
	})

	rows := make([]models.RelationAggregate, 0, len(keys))
	for _, k := range keys {
		rows = append(rows, models.RelationAggregate{
			First:  k.First,
			Second: k.Second,
			Type:   k.Type,
			PMIDs:  t.groups[k].String(),
		})
	}
	return rows
}

func AggregateRelations(rows []models.RelationRow, previous *RelationTable) *RelationTable {
	t := NewRelationTable()
	if previous != nil {
		t.Merge(previous)
	}
	t.Add(rows...)
	return t
}

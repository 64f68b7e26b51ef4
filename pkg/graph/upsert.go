// Package graph turns aggregate tables into batched upserts against a
// property graph.
package graph

import (
	"fmt"
	"sort"
	"strings"

	"github.com/xhad/pubgraph/internal/models"
)

// SourceLabel is carried by every node and suffixes every edge type.
const SourceLabel = "PubTator3"

type Kind int

const (
	NodeUpsert Kind = iota
	EdgeUpsert
)

func (k Kind) String() string {
	if k == EdgeUpsert {
		return "edge"
	}
	return "node"
}

// UpsertSpec is one homogeneous group of rows. Node groups carry
// [SourceLabel, type]; edge groups carry [first type, second type, relation
// type].
type UpsertSpec struct {
	Kind   Kind
	Labels []string
	Rows   []map[string]any
}

func (s UpsertSpec) String() string {
	return fmt.Sprintf("%s[%s]", s.Kind, strings.Join(s.Labels, ","))
}

// ConceptUpserts groups concept rows by type, smallest group first.
func ConceptUpserts(rows []models.ConceptAggregate) []UpsertSpec {
	groups := make(map[string]*UpsertSpec)
	for _, r := range rows {
		g, ok := groups[r.Type]
		if !ok {
			g = &UpsertSpec{Kind: NodeUpsert, Labels: []string{SourceLabel, r.Type}}
			groups[r.Type] = g
		}
		g.Rows = append(g.Rows, map[string]any{
			"ConceptID": r.ConceptID,
			"Mentions":  r.Mentions,
			"PMID":      r.PMIDs,
			"Resource":  r.Resources,
		})
	}
	return smallestFirst(groups)
}

// RelationUpserts groups relation rows by (first type, second type, relation
// type), smallest group first.
func RelationUpserts(rows []models.RelationAggregate) []UpsertSpec {
	groups := make(map[string]*UpsertSpec)
	for _, r := range rows {
		key := r.First.Type + "\x00" + r.Second.Type + "\x00" + r.Type
		g, ok := groups[key]
		if !ok {
			g = &UpsertSpec{Kind: EdgeUpsert, Labels: []string{r.First.Type, r.Second.Type, r.Type}}
			groups[key] = g
		}
		g.Rows = append(g.Rows, map[string]any{
			"FirstID":  r.First.ID,
			"SecondID": r.Second.ID,
			"PMID":     r.PMIDs,
		})
	}
	return smallestFirst(groups)
}

func smallestFirst(groups map[string]*UpsertSpec) []UpsertSpec {
	out := make([]UpsertSpec, 0, len(groups))
	for _, g := range groups {
		out = append(out, *g)
	}
	sort.Slice(out, func(i, j int) bool {
		if len(out[i].Rows) != len(out[j].Rows) {
			return len(out[i].Rows) < len(out[j].Rows)
		}
		return strings.Join(out[i].Labels, "\x00") < strings.Join(out[j].Labels, "\x00")
	})
	return out
}

// quote escapes a label or relationship type for use in Cypher.
func quote(name string) string {
	return "`" + strings.ReplaceAll(name, "`", "``") + "`"
}

// ConstraintCypher declares ConceptID unique for nodes labelled typ.
func ConstraintCypher(typ string) string {
	name := "pubtator3_" + strings.Map(func(r rune) rune {
		if r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9' {
			return r
		}
		return '_'
	}, typ) + "_concept_id"
	return fmt.Sprintf("CREATE CONSTRAINT %s IF NOT EXISTS FOR (n:%s) REQUIRE n.ConceptID IS UNIQUE", quote(name), quote(typ))
}

// UpsertCypher returns the UNWIND statement for spec. Rows are bound to
// $rows.
func UpsertCypher(spec UpsertSpec) (string, error) {
	switch spec.Kind {
	case NodeUpsert:
		if len(spec.Labels) != 2 {
			return "", fmt.Errorf("graph: node upsert needs 2 labels, got %d", len(spec.Labels))
		}
		return fmt.Sprintf(`UNWIND $rows AS row
MERGE (n:%s:%s {ConceptID: row.ConceptID})
SET n.Mentions = row.Mentions, n.PMID = row.PMID, n.Resource = row.Resource`,
			quote(spec.Labels[0]), quote(spec.Labels[1])), nil
	case EdgeUpsert:
		if len(spec.Labels) != 3 {
			return "", fmt.Errorf("graph: edge upsert needs 3 labels, got %d", len(spec.Labels))
		}
		return fmt.Sprintf(`UNWIND $rows AS row
MATCH (a:%s:%s {ConceptID: row.FirstID})
MATCH (b:%s:%s {ConceptID: row.SecondID})
MERGE (a)-[r:%s]->(b)
SET r.PMID = row.PMID`,
			quote(spec.Labels[0]), quote(SourceLabel),
			quote(spec.Labels[1]), quote(SourceLabel),
			quote(spec.Labels[2]+"_"+SourceLabel)), nil
	default:
		return "", fmt.Errorf("graph: unknown upsert kind %d", spec.Kind)
	}
}

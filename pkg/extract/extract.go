// Package extract flattens merged documents into per-document concept and
// relation tables.
package extract

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/xhad/pubgraph/internal/models"
	"github.com/xhad/pubgraph/pkg/tsv"
)

// DefaultRelationTypes maps annotator relation labels to graph edge names.
var DefaultRelationTypes = map[string]string{
	"Association":          "associate",
	"Bind":                 "interact",
	"Cause":                "cause",
	"Comparison":           "compare",
	"Cotreatment":          "cotreat",
	"Drug_Interaction":     "drug_interact",
	"Inhibit":              "inhibit",
	"Interact":             "interact",
	"Negative_Correlation": "negative_correlate",
	"Positive_Correlation": "positive_correlate",
	"Prevent":              "prevent",
	"Stimulate":            "stimulate",
	"Treatment":            "treat",
}

// SchemaError reports a relation the document cannot be extracted with.
// It aborts that document only.
type SchemaError struct {
	PMID     string
	Relation string
	Msg      string
}

func (e *SchemaError) Error() string {
	return fmt.Sprintf("extract: document %s relation %s: %s", e.PMID, e.Relation, e.Msg)
}

type Config struct {
	Resource      string
	RelationTypes map[string]string
}

type Extractor struct {
	config Config
}

func NewWithConfig(config Config) *Extractor {
	if config.Resource == "" {
		config.Resource = "PubTator3"
	}
	if len(config.RelationTypes) == 0 {
		config.RelationTypes = DefaultRelationTypes
	}
	return &Extractor{config: config}
}

type Result struct {
	PMID string
	// Annotated is false when the document had no annotations at all.
	Annotated bool
	Concepts  []models.ConceptRow
	Relations []models.RelationRow
}

type conceptGroup struct {
	pmid, typ, id string
}

// Process extracts the tables of one document. A passage carrying an
// article-id_pmid infon sets the PMID for its annotations and every later
// one.
func (e *Extractor) Process(doc models.Document) (Result, error) {
	pmid := doc.ID
	mentions := make(map[conceptGroup]map[string]struct{})
	annotated := false

	for _, p := range doc.Passages {
		if v := p.Infons[models.InfonArticlePMID]; v != "" {
			pmid = v
		}
		for _, a := range p.Annotations {
			annotated = true
			id, ok := a.Infons[models.InfonIdentifier]
			if !ok {
				continue
			}
			g := conceptGroup{pmid: pmid, typ: a.Type(), id: id}
			if mentions[g] == nil {
				mentions[g] = make(map[string]struct{})
			}
			mentions[g][a.Text] = struct{}{}
		}
	}

	res := Result{PMID: pmid, Annotated: annotated}
	for g, set := range mentions {
		texts := make([]string, 0, len(set))
		for m := range set {
			texts = append(texts, m)
		}
		sort.Strings(texts)
		res.Concepts = append(res.Concepts, models.ConceptRow{
			PMID:      g.pmid,
			Type:      g.typ,
			ConceptID: g.id,
			Mentions:  strings.Join(texts, "|"),
			Resource:  e.config.Resource,
		})
	}
	sort.Slice(res.Concepts, func(i, j int) bool {
		a, b := res.Concepts[i], res.Concepts[j]
		if a.PMID != b.PMID {
			return a.PMID < b.PMID
		}
		if a.Type != b.Type {
			return a.Type < b.Type
		}
		return a.ConceptID < b.ConceptID
	})

	if !annotated {
		return res, nil
	}

	for _, r := range doc.Relations {
		typ, ok := e.config.RelationTypes[r.Type()]
		if !ok {
			return Result{}, &SchemaError{PMID: pmid, Relation: r.ID, Msg: fmt.Sprintf("unknown relation type %q", r.Type())}
		}
		first, err := roleKey(r, models.InfonRole1)
		if err != nil {
			return Result{}, &SchemaError{PMID: pmid, Relation: r.ID, Msg: err.Error()}
		}
		second, err := roleKey(r, models.InfonRole2)
		if err != nil {
			return Result{}, &SchemaError{PMID: pmid, Relation: r.ID, Msg: err.Error()}
		}
		res.Relations = append(res.Relations, models.RelationRow{
			PMID:   pmid,
			Type:   typ,
			First:  first,
			Second: second,
		})
	}
	return res, nil
}

func roleKey(r models.Relation, infon string) (models.ConceptKey, error) {
	v, ok := r.Infons[infon]
	if !ok {
		return models.ConceptKey{}, fmt.Errorf("missing %s", infon)
	}
	return models.ParseConceptKey(v)
}

// TablePath is where the table for pmid lives under dir.
func TablePath(dir, pmid string) string {
	return filepath.Join(dir, pmid+".tsv")
}

// WriteTables writes the concept table, or an empty marker file when the
// document had no annotations, and the relation table when there are
// relations.
func WriteTables(res Result, conceptDir, relationDir string) error {
	conceptPath := TablePath(conceptDir, res.PMID)
	if !res.Annotated {
		if err := os.MkdirAll(conceptDir, 0755); err != nil {
			return err
		}
		return os.WriteFile(conceptPath, nil, 0644)
	}

	err := tsv.SaveFile(conceptPath, func(w io.Writer) error {
		return tsv.WriteConceptRows(w, res.Concepts)
	})
	if err != nil {
		return fmt.Errorf("failed to write concepts for %s: %w", res.PMID, err)
	}

	if len(res.Relations) == 0 {
		return nil
	}
	err = tsv.SaveFile(TablePath(relationDir, res.PMID), func(w io.Writer) error {
		return tsv.WriteRelationRows(w, res.Relations)
	})
	if err != nil {
		return fmt.Errorf("failed to write relations for %s: %w", res.PMID, err)
	}
	return nil
}

package extract

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xhad/pubgraph/internal/models"
	"github.com/xhad/pubgraph/pkg/tsv"
)

func annotation(text, typ, id string) models.Annotation {
	a := models.Annotation{Text: text, Infons: map[string]string{models.InfonType: typ}}
	if id != "" {
		a.Infons[models.InfonIdentifier] = id
	}
	return a
}

func relation(id, typ, role1, role2 string) models.Relation {
	return models.Relation{ID: id, Infons: map[string]string{
		models.InfonType:  typ,
		models.InfonRole1: role1,
		models.InfonRole2: role2,
	}}
}

func sampleDoc() models.Document {
	return models.Document{
		ID: "PMC99",
		Passages: []models.Passage{
			{Infons: map[string]string{models.InfonArticlePMID: "123"}, Annotations: []models.Annotation{
				annotation("aspirin", "Chemical", "MESH:D001241"),
				annotation("BRCA1", "Gene", "672"),
			}},
			{Annotations: []models.Annotation{
				annotation("Aspirin", "Chemical", "MESH:D001241"),
				annotation("aspirin", "Chemical", "MESH:D001241"),
				annotation("cells", "Species", ""),
			}},
		},
		Relations: []models.Relation{
			relation("R1", "Association", "Gene|672", "Chemical|MESH:D001241"),
		},
	}
}

func TestProcess(t *testing.T) {
	e := NewWithConfig(Config{})
	res, err := e.Process(sampleDoc())
	require.NoError(t, err)

	assert.Equal(t, "123", res.PMID)
	require.Len(t, res.Concepts, 2)
	assert.Equal(t, models.ConceptRow{PMID: "123", Type: "Chemical", ConceptID: "MESH:D001241", Mentions: "Aspirin|aspirin", Resource: "PubTator3"}, res.Concepts[0])
	assert.Equal(t, "672", res.Concepts[1].ConceptID)

	require.Len(t, res.Relations, 1)
	assert.Equal(t, "associate", res.Relations[0].Type)
	assert.Equal(t, models.ConceptKey{Type: "Gene", ID: "672"}, res.Relations[0].First)
}

func TestProcessUnknownRelationType(t *testing.T) {
	doc := sampleDoc()
	doc.Relations = append(doc.Relations, relation("R2", "Regulate", "Gene|672", "Gene|7157"))

	_, err := NewWithConfig(Config{}).Process(doc)
	var se *SchemaError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, "R2", se.Relation)
	assert.Equal(t, "123", se.PMID)
}

func TestProcessMissingRole(t *testing.T) {
	doc := sampleDoc()
	delete(doc.Relations[0].Infons, models.InfonRole2)

	_, err := NewWithConfig(Config{}).Process(doc)
	var se *SchemaError
	assert.True(t, errors.As(err, &se))
}

func TestWriteTables(t *testing.T) {
	concepts, relations := t.TempDir(), t.TempDir()
	res, err := NewWithConfig(Config{}).Process(sampleDoc())
	require.NoError(t, err)
	require.NoError(t, WriteTables(res, concepts, relations))

	rows, err := tsv.LoadConceptRows(TablePath(concepts, "123"), "PubTator3")
	require.NoError(t, err)
	assert.Equal(t, res.Concepts, rows)

	rels, err := tsv.LoadRelationRows(TablePath(relations, "123"))
	require.NoError(t, err)
	assert.Equal(t, res.Relations, rels)
}

func TestWriteTablesUnannotated(t *testing.T) {
	concepts, relations := t.TempDir(), t.TempDir()
	doc := models.Document{ID: "55", Passages: []models.Passage{{Text: "nothing here"}}}

	res, err := NewWithConfig(Config{}).Process(doc)
	require.NoError(t, err)
	assert.False(t, res.Annotated)
	require.NoError(t, WriteTables(res, concepts, relations))

	info, err := os.Stat(filepath.Join(concepts, "55.tsv"))
	require.NoError(t, err)
	assert.Zero(t, info.Size())
	_, err = os.Stat(filepath.Join(relations, "55.tsv"))
	assert.True(t, os.IsNotExist(err))
}

package tsv

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xhad/pubgraph/internal/models"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoadConceptRows(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "1.tsv", strings.Join([]string{
		"PMID\tType\tConcept ID\tMentions\tResource",
		"1\tChemical\tC123\taspirin\tPubTator3",
		"1\tGene\t-\tfoo\tPubTator3",
		`1` + "\tDisease\tD1\t\"quoted\" tumor\tPubTator3",
		"",
	}, "\n"))

	rows, err := LoadConceptRows(path, "PubTator3")
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, models.ConceptRow{PMID: "1", Type: "Chemical", ConceptID: "C123", Mentions: "aspirin", Resource: "PubTator3"}, rows[0])
	assert.Equal(t, `"quoted" tumor`, rows[1].Mentions)
}

func TestLoadConceptRowsEmptyFile(t *testing.T) {
	path := writeFile(t, t.TempDir(), "2.tsv", "")

	rows, err := LoadConceptRows(path, "PubTator3")
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestLoadConceptRowsSchemaViolations(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"missing column", "PMID\tType\tConcept ID\tMentions\n1\tGene\t672\tBRCA1\n"},
		{"short row", "PMID\tType\tConcept ID\tMentions\tResource\n1\tGene\t672\n"},
		{"shifted columns", "PMID\tType\tConcept ID\tMentions\tResource\n1\tGene\t672\tPubTator3\tBRCA1\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeFile(t, t.TempDir(), "3.tsv", tt.content)
			_, err := LoadConceptRows(path, "PubTator3")
			var pe *ParseError
			require.True(t, errors.As(err, &pe), "got %v", err)
			assert.Equal(t, path, pe.Path)
		})
	}
}

func TestLoadRelationRows(t *testing.T) {
	path := writeFile(t, t.TempDir(), "5.tsv",
		"PMID\tType\t1st\t2nd\n5\tassociate\tGene|672\tChemical|MESH:D001241\n")

	rows, err := LoadRelationRows(path)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, models.ConceptKey{Type: "Gene", ID: "672"}, rows[0].First)
	assert.Equal(t, models.ConceptKey{Type: "Chemical", ID: "MESH:D001241"}, rows[0].Second)
}

func TestLoadRelationRowsBadKey(t *testing.T) {
	path := writeFile(t, t.TempDir(), "6.tsv", "PMID\tType\t1st\t2nd\n6\tassociate\t672\tChemical|C1\n")

	_, err := LoadRelationRows(path)
	var pe *ParseError
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, 2, pe.Line)
}

func TestAggregateTablesRoundTrip(t *testing.T) {
	concepts := []models.ConceptAggregate{
		{ConceptID: "C123", Type: "Chemical", PMIDs: "1|2", Mentions: "Aspirin|aspirin", Resources: "PubTator3"},
	}
	var buf bytes.Buffer
	require.NoError(t, WriteConceptAggregates(&buf, concepts))
	assert.True(t, strings.HasPrefix(buf.String(), "Concept ID\tType\tPMID\tMentions\tResource\n"))

	gotConcepts, err := ReadConceptAggregates(&buf)
	require.NoError(t, err)
	assert.Equal(t, concepts, gotConcepts)

	relations := []models.RelationAggregate{{
		First:  models.ConceptKey{Type: "Gene", ID: "672"},
		Second: models.ConceptKey{Type: "Disease", ID: "D1"},
		Type:   "associate",
		PMIDs:  "3",
	}}
	buf.Reset()
	require.NoError(t, WriteRelationAggregates(&buf, relations))
	gotRelations, err := ReadRelationAggregates(&buf)
	require.NoError(t, err)
	assert.Equal(t, relations, gotRelations)
}

func TestWriteRejectsEmbeddedTab(t *testing.T) {
	err := WriteConceptRows(&bytes.Buffer{}, []models.ConceptRow{{PMID: "1", Mentions: "a\tb"}})
	assert.Error(t, err)
}

func TestListTables(t *testing.T) {
	a, b := t.TempDir(), t.TempDir()
	writeFile(t, a, "2.tsv", "")
	writeFile(t, b, "1.tsv", "")
	writeFile(t, b, "notes.txt", "")

	files, err := ListTables([]string{a, b, filepath.Join(a, "missing")})
	require.NoError(t, err)
	require.Len(t, files, 2)
	assert.ElementsMatch(t, []string{"1", "2"}, []string{Stem(files[0]), Stem(files[1])})
	assert.True(t, files[0] < files[1])
}

package aggregate

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xhad/pubgraph/internal/models"
	"github.com/xhad/pubgraph/pkg/checkpoint"
	"github.com/xhad/pubgraph/pkg/tsv"
)

func TestUniqueList(t *testing.T) {
	tests := []struct {
		in   []string
		want string
	}{
		{[]string{"b|a", "a"}, "a|b"},
		{[]string{" x | y ", "y"}, "x|y"},
		{[]string{"aspirin", "Aspirin"}, "Aspirin|aspirin"},
		{[]string{"", "|"}, ""},
		{[]string{"10|2|1"}, "1|10|2"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, UniqueList(tt.in...), "%v", tt.in)
	}
}

func chem(pmid, mention string) models.ConceptRow {
	return models.ConceptRow{PMID: pmid, Type: "Chemical", ConceptID: "C123", Mentions: mention, Resource: "PubTator3"}
}

func TestAggregateConceptsAcrossBatches(t *testing.T) {
	first := AggregateConcepts([]models.ConceptRow{chem("1", "aspirin")}, nil)
	second := AggregateConcepts([]models.ConceptRow{chem("2", "Aspirin")}, first)

	rows := second.Rows()
	require.Len(t, rows, 1)
	assert.Equal(t, models.ConceptAggregate{
		ConceptID: "C123",
		Type:      "Chemical",
		PMIDs:     "1|2",
		Mentions:  "Aspirin|aspirin",
		Resources: "PubTator3",
	}, rows[0])
	assert.Equal(t, 1, first.Len())
	assert.Equal(t, "1", first.Rows()[0].PMIDs, "previous table is not mutated")
}

func TestConceptTableOrderIndependent(t *testing.T) {
	rows := []models.ConceptRow{
		chem("3", "ASA|aspirin"),
		chem("1", "aspirin"),
		{PMID: "2", Type: "Gene", ConceptID: "672", Mentions: "BRCA1", Resource: "PubTator3"},
		chem("2", "acetylsalicylic acid|ASA"),
	}
	forward := AggregateConcepts(rows, nil).Rows()

	reversed := make([]models.ConceptRow, len(rows))
	for i, r := range rows {
		reversed[len(rows)-1-i] = r
	}
	backward := AggregateConcepts(reversed, nil).Rows()

	assert.Equal(t, forward, backward)
	require.Len(t, forward, 2)
	assert.Equal(t, "672", forward[0].ConceptID)
	assert.Equal(t, "ASA|acetylsalicylic acid|aspirin", forward[1].Mentions)
	assert.Equal(t, "1|2|3", forward[1].PMIDs)
}

func TestSameIdentifierDifferentTypes(t *testing.T) {
	table := AggregateConcepts([]models.ConceptRow{
		{PMID: "1", Type: "Gene", ConceptID: "X", Mentions: "a"},
		{PMID: "1", Type: "Species", ConceptID: "X", Mentions: "b"},
	}, nil)
	assert.Equal(t, 2, table.Len())
}

func TestAggregateRelations(t *testing.T) {
	gene := models.ConceptKey{Type: "Gene", ID: "672"}
	disease := models.ConceptKey{Type: "Disease", ID: "D1"}

	table := AggregateRelations([]models.RelationRow{
		{PMID: "4", Type: "associate", First: gene, Second: disease},
		{PMID: "3", Type: "associate", First: gene, Second: disease},
		{PMID: "3", Type: "cause", First: gene, Second: disease},
	}, nil)

	rows := table.Rows()
	require.Len(t, rows, 2)
	assert.Equal(t, "associate", rows[0].Type)
	assert.Equal(t, "3|4", rows[0].PMIDs)
	assert.Equal(t, "cause", rows[1].Type)

	restored := RelationTableFrom(rows)
	assert.Equal(t, rows, restored.Rows())
	assert.Len(t, restored.PMIDs(), 2)
}

func writeConceptTable(t *testing.T, dir, pmid string, rows ...models.ConceptRow) {
	t.Helper()
	require.NoError(t, tsv.SaveFile(filepath.Join(dir, pmid+".tsv"), func(w io.Writer) error {
		return tsv.WriteConceptRows(w, rows)
	}))
}

func runConcepts(t *testing.T, store checkpoint.Store, dirs []string, batchSize int) (*ConceptTable, Summary) {
	t.Helper()
	ctx := context.Background()
	p := NewPipeline(Concepts("PubTator3"), store, Config{BatchSize: batchSize, Workers: 3}, nil)
	state, err := p.Resume(ctx)
	require.NoError(t, err)
	summary, err := p.Run(ctx, state, dirs)
	require.NoError(t, err)
	return state.Table, summary
}

func TestPipelineEndToEnd(t *testing.T) {
	dir := t.TempDir()
	writeConceptTable(t, dir, "1", chem("1", "aspirin"))
	writeConceptTable(t, dir, "2", chem("2", "Aspirin"))

	store := &checkpoint.MemoryStore{}
	table, summary := runConcepts(t, store, []string{dir}, 1)

	assert.Equal(t, 2, summary.Batches)
	assert.Equal(t, 2, store.Writes, "one checkpoint per batch")
	rows := table.Rows()
	require.Len(t, rows, 1)
	assert.Equal(t, "1|2", rows[0].PMIDs)
	assert.Equal(t, "Aspirin|aspirin", rows[0].Mentions)
}

func TestPipelineIdempotentWithCheckpoint(t *testing.T) {
	dir := t.TempDir()
	writeConceptTable(t, dir, "1", chem("1", "aspirin"))
	writeConceptTable(t, dir, "2", chem("2", "Aspirin"), models.ConceptRow{PMID: "2", Type: "Gene", ConceptID: "672", Mentions: "BRCA1", Resource: "PubTator3"})
	writeConceptTable(t, dir, "3", models.ConceptRow{PMID: "3", Type: "Disease", ConceptID: "D1", Mentions: "tumor", Resource: "PubTator3"})

	store := checkpoint.NewFileStore(filepath.Join(t.TempDir(), "concepts.tsv"))
	_, first := runConcepts(t, store, []string{dir}, 2)
	firstData, err := os.ReadFile(store.Path())
	require.NoError(t, err)

	_, second := runConcepts(t, store, []string{dir}, 2)
	secondData, err := os.ReadFile(store.Path())
	require.NoError(t, err)

	assert.Equal(t, 3, first.Files)
	assert.Equal(t, 3, second.Skipped)
	assert.Equal(t, 0, second.Batches)
	assert.Equal(t, string(firstData), string(secondData))
}

func TestPipelineResumePicksUpNewFiles(t *testing.T) {
	dir := t.TempDir()
	writeConceptTable(t, dir, "1", chem("1", "aspirin"))

	store := &checkpoint.MemoryStore{}
	runConcepts(t, store, []string{dir}, 10)

	writeConceptTable(t, dir, "2", chem("2", "Aspirin"))
	table, summary := runConcepts(t, store, []string{dir}, 10)

	assert.Equal(t, 1, summary.Skipped)
	assert.Equal(t, 1, summary.Rows)
	assert.Equal(t, "1|2", table.Rows()[0].PMIDs)
}

func TestPipelineSkipsMalformedFiles(t *testing.T) {
	dir := t.TempDir()
	writeConceptTable(t, dir, "1", chem("1", "aspirin"))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "2.tsv"),
		[]byte("PMID\tType\tConcept ID\tMentions\tResource\n2\tChemical\tC123\n"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "3.tsv"), nil, 0644))

	table, summary := runConcepts(t, &checkpoint.MemoryStore{}, []string{dir}, 10)

	assert.Equal(t, 1, summary.Failed)
	assert.Equal(t, 1, summary.Rows)
	assert.Equal(t, "1", table.Rows()[0].PMIDs)
}

func TestPipelineCorruptCheckpoint(t *testing.T) {
	store := &checkpoint.MemoryStore{}
	require.NoError(t, store.Write(context.Background(), []byte("not\ta\ttable\n")))

	p := NewPipeline(Concepts("PubTator3"), store, Config{}, nil)
	_, err := p.Resume(context.Background())
	assert.Error(t, err)
}

func TestRelationPipeline(t *testing.T) {
	dir := t.TempDir()
	content := strings.Join([]string{
		"PMID\tType\t1st\t2nd",
		"7\tassociate\tGene|672\tDisease|D1",
		"",
	}, "\n")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "7.tsv"), []byte(content), 0644))

	store := &checkpoint.MemoryStore{}
	ctx := context.Background()
	p := NewPipeline(Relations(), store, Config{Workers: 2}, nil)
	state, err := p.Resume(ctx)
	require.NoError(t, err)
	_, err = p.Run(ctx, state, []string{dir})
	require.NoError(t, err)

	data, err := store.Read(ctx)
	require.NoError(t, err)
	var want bytes.Buffer
	require.NoError(t, tsv.WriteRelationAggregates(&want, state.Table.Rows()))
	assert.Equal(t, want.String(), string(data))
	assert.Contains(t, string(data), "Gene\t672\tDisease\tD1\tassociate\t7\n")
}

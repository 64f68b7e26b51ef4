package merge

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xhad/pubgraph/internal/models"
	"github.com/xhad/pubgraph/pkg/pubtator"
)

func ann(offset, length int, typ, id string) models.Annotation {
	a := models.Annotation{
		Infons:    map[string]string{models.InfonType: typ},
		Locations: []models.Location{{Offset: offset, Length: length}},
	}
	if id != "" {
		a.Infons[models.InfonIdentifier] = id
	}
	return a
}

func TestAlignSpansCopiesIdentifier(t *testing.T) {
	base := []models.Annotation{ann(0, 5, "Gene", ""), ann(8, 7, "Chemical", ""), ann(20, 4, "Gene", "")}
	spec := []models.Annotation{ann(0, 5, "Gene", "672"), ann(20, 4, "Gene", "7157")}

	n := AlignSpans(base, spec, Gene)

	assert.Equal(t, 2, n)
	assert.Equal(t, "672", base[0].Identifier())
	assert.Equal(t, "", base[1].Identifier(), "other categories are untouched")
	assert.Equal(t, "7157", base[2].Identifier())
}

func TestAlignSpansNeverBacktracks(t *testing.T) {
	base := []models.Annotation{ann(0, 5, "Gene", ""), ann(10, 4, "Gene", "")}
	spec := []models.Annotation{ann(10, 4, "Gene", "B"), ann(0, 5, "Gene", "A")}

	n := AlignSpans(base, spec, Gene)

	assert.Equal(t, 1, n)
	assert.Equal(t, "A", base[0].Identifier())
	// The counterpart for (10,4) sits at index 0, behind the pointer.
	_, ok := base[1].Infons[models.InfonIdentifier]
	assert.False(t, ok)
}

func TestAlignSpansMissDoesNotAdvance(t *testing.T) {
	base := []models.Annotation{ann(0, 5, "Gene", ""), ann(10, 4, "Gene", "")}
	spec := []models.Annotation{ann(10, 4, "Gene", "B")}

	n := AlignSpans(base, spec, Gene)

	assert.Equal(t, 1, n)
	assert.Equal(t, "", base[0].Identifier())
	assert.Equal(t, "B", base[1].Identifier())
}

func TestAlignSpansRequiresField(t *testing.T) {
	base := []models.Annotation{ann(0, 5, "Gene", "")}
	spec := []models.Annotation{ann(0, 5, "Gene", ""), ann(0, 5, "Gene", "672")}

	assert.Equal(t, 1, AlignSpans(base, spec, Gene))
	assert.Equal(t, "672", base[0].Identifier())
}

func TestAlignSpansVariantMarker(t *testing.T) {
	base := []models.Annotation{ann(3, 9, "Variant", ""), ann(20, 5, "Variant", "")}
	spec := []models.Annotation{ann(3, 9, "ProteinMutation", "p|SUB|V|600|E"), ann(20, 5, "Gene", "673")}

	n := AlignSpans(base, spec, Variant)

	assert.Equal(t, 1, n)
	assert.Equal(t, "p|SUB|V|600|E", base[0].Identifier())
	assert.Equal(t, "", base[1].Identifier())
}

func TestAlignSpansCustomField(t *testing.T) {
	cat := Category{Name: "Gene", Field: "NCBI Gene"}
	spec := ann(0, 5, "Gene", "")
	spec.Infons["NCBI Gene"] = "672"
	base := []models.Annotation{ann(0, 5, "Gene", "")}

	assert.Equal(t, 1, AlignSpans(base, []models.Annotation{spec}, cat))
	assert.Equal(t, "672", base[0].Infons["NCBI Gene"])
}

func doc(id string, passages ...[]models.Annotation) *models.Document {
	d := &models.Document{ID: id}
	for _, anns := range passages {
		d.Passages = append(d.Passages, models.Passage{Annotations: anns})
	}
	return d
}

func TestMergeAcrossCategories(t *testing.T) {
	base := doc("1",
		[]models.Annotation{ann(0, 5, "Gene", ""), ann(10, 7, "Chemical", "")},
		[]models.Annotation{ann(30, 6, "Disease", "")},
	)
	specialists := map[string]*models.Document{
		"Gene":     doc("1", []models.Annotation{ann(0, 5, "Gene", "672")}, nil),
		"Chemical": doc("1", []models.Annotation{ann(10, 7, "Chemical", "MESH:D001241")}, nil),
		"Disease":  doc("1", nil, []models.Annotation{ann(30, 6, "Disease", "MESH:D009369")}),
	}

	m := NewWithConfig(Config{}, nil)
	report, err := m.Merge(base, specialists)
	require.NoError(t, err)

	assert.Equal(t, 3, report.Total())
	assert.Equal(t, "672", base.Passages[0].Annotations[0].Identifier())
	assert.Equal(t, "MESH:D001241", base.Passages[0].Annotations[1].Identifier())
	assert.Equal(t, "MESH:D009369", base.Passages[1].Annotations[0].Identifier())
}

func TestMergeStrictRejectsMismatch(t *testing.T) {
	base := doc("7", []models.Annotation{ann(0, 5, "Gene", "")}, nil)
	specialists := map[string]*models.Document{
		"Gene": doc("7", []models.Annotation{ann(0, 5, "Gene", "672")}),
	}

	m := NewWithConfig(Config{Policy: Strict}, nil)
	_, err := m.Merge(base, specialists)

	var mis *MisalignedError
	require.True(t, errors.As(err, &mis))
	assert.Equal(t, "Gene", mis.Category)
	assert.Equal(t, 2, mis.Base)
	assert.Equal(t, 1, mis.Specialist)
	assert.Equal(t, "", base.Passages[0].Annotations[0].Identifier(), "nothing mutated on failure")
}

func TestMergeTruncate(t *testing.T) {
	base := doc("7", []models.Annotation{ann(0, 5, "Gene", "")}, []models.Annotation{ann(40, 3, "Gene", "")})
	specialists := map[string]*models.Document{
		"Gene": doc("7", []models.Annotation{ann(0, 5, "Gene", "672")}),
	}

	m := NewWithConfig(Config{Policy: Truncate}, nil)
	report, err := m.Merge(base, specialists)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Matched["Gene"])
	assert.Equal(t, "", base.Passages[1].Annotations[0].Identifier())
}

func TestParsePolicy(t *testing.T) {
	p, err := ParsePolicy("Truncate")
	require.NoError(t, err)
	assert.Equal(t, Truncate, p)

	p, err = ParsePolicy("")
	require.NoError(t, err)
	assert.Equal(t, Strict, p)

	_, err = ParsePolicy("loose")
	assert.Error(t, err)
}

func TestFlatRoundTripOnlyAddsIdentifiers(t *testing.T) {
	original := models.Document{
		ID: "55",
		Passages: []models.Passage{
			{Offset: 0, Text: "TP53 in lung cancer", Infons: map[string]string{"type": "title"}, Annotations: []models.Annotation{
				{ID: "0", Text: "TP53", Infons: map[string]string{"type": "Gene"}, Locations: []models.Location{{Offset: 0, Length: 4}}},
				{ID: "1", Text: "lung cancer", Infons: map[string]string{"type": "Disease"}, Locations: []models.Location{{Offset: 8, Length: 11}}},
			}},
			{Offset: 20, Text: "TP53 mutations were common.", Infons: map[string]string{"type": "abstract"}, Annotations: []models.Annotation{
				{ID: "2", Text: "TP53", Infons: map[string]string{"type": "Gene"}, Locations: []models.Location{{Offset: 20, Length: 4}}},
			}},
		},
	}

	// Strip the mention-text fallback ids the flat format writes.
	flat := pubtator.FromDocument(original)
	for i := range flat.Annotations {
		flat.Annotations[i].ID = ""
	}
	restored := flat.ToDocument()

	gene := doc("55",
		[]models.Annotation{ann(0, 4, "Gene", "7157")},
		[]models.Annotation{ann(20, 4, "Gene", "7157")},
	)
	disease := doc("55", []models.Annotation{ann(8, 11, "Disease", "MESH:D008175")}, nil)

	m := NewWithConfig(Config{}, nil)
	_, err := m.Merge(&restored, map[string]*models.Document{"Gene": gene, "Disease": disease})
	require.NoError(t, err)

	require.Len(t, restored.Passages, len(original.Passages))
	for i, p := range original.Passages {
		got := restored.Passages[i]
		assert.Equal(t, p.Text, got.Text)
		assert.Equal(t, p.Offset, got.Offset)
		require.Len(t, got.Annotations, len(p.Annotations))
		for j, a := range p.Annotations {
			assert.Equal(t, a.Text, got.Annotations[j].Text)
			assert.Equal(t, a.Locations, got.Annotations[j].Locations)
			assert.Equal(t, a.Type(), got.Annotations[j].Type())
			assert.NotEmpty(t, got.Annotations[j].Identifier())
		}
	}
}

func TestResolveRelations(t *testing.T) {
	d := &models.Document{
		ID: "9",
		Passages: []models.Passage{{Annotations: []models.Annotation{
			{Text: "BRCA1", Infons: map[string]string{"type": "Gene", "identifier": "672"}},
			{Text: "aspirin", Infons: map[string]string{"type": "Chemical", "identifier": "MESH:D001241"}},
			{Text: "p21", Infons: map[string]string{"type": "Gene"}},
			{Text: "tumor", Infons: map[string]string{"type": "Disease", "identifier": "-"}},
		}}},
	}
	rels := []models.Relation{
		{ID: "R0", Infons: map[string]string{"type": "Association"}, Nodes: []models.Node{{RefID: "672"}, {RefID: "aspirin"}}},
		{ID: "R1", Infons: map[string]string{"type": "Association"}, Nodes: []models.Node{{RefID: "p21"}, {RefID: "672"}}},
		{ID: "R2", Infons: map[string]string{"type": "Bind"}, Nodes: []models.Node{{RefID: "672"}, {RefID: "unknown"}}},
		{ID: "R3", Infons: map[string]string{"type": "Cause"}, Nodes: []models.Node{{RefID: "MESH:D001241"}, {RefID: "tumor"}}},
	}

	dropped := ResolveRelations(d, rels)

	assert.Equal(t, 3, dropped)
	require.Len(t, d.Relations, 1)
	assert.Equal(t, "R0", d.Relations[0].ID)
	assert.Equal(t, "Gene|672", d.Relations[0].Infons["role1"])
	assert.Equal(t, "Chemical|MESH:D001241", d.Relations[0].Infons["role2"])
	_, touched := rels[0].Infons["role1"]
	assert.False(t, touched, "input relations are not mutated")
}

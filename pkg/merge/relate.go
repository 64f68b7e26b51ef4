package merge

import (
	"github.com/xhad/pubgraph/internal/models"
)

// conceptLookup maps both mention text and identifier to the concept a
// relation node can refer to. Later annotations win for repeated keys.
func conceptLookup(doc *models.Document) map[string]models.ConceptKey {
	lookup := make(map[string]models.ConceptKey)
	for _, p := range doc.Passages {
		for _, a := range p.Annotations {
			key := models.ConceptKey{Type: a.Type()}
			lookup[a.Text] = key
			id, ok := a.Infons[models.InfonIdentifier]
			if !ok || id == models.PlaceholderID {
				continue
			}
			key.ID = id
			lookup[a.Text] = key
			lookup[id] = key
		}
	}
	return lookup
}

// ResolveRelations replaces doc's relations with those of relations whose
// two nodes both resolve to a complete concept key. Surviving relations get
// role1 and role2 set to the canonical "type|identifier" form. It returns
// the number of relations dropped.
func ResolveRelations(doc *models.Document, relations []models.Relation) int {
	lookup := conceptLookup(doc)
	kept := make([]models.Relation, 0, len(relations))

	for _, r := range relations {
		if len(r.Nodes) < 2 {
			continue
		}
		first, ok := lookup[r.Nodes[0].RefID]
		if !ok || !first.Complete() {
			continue
		}
		second, ok := lookup[r.Nodes[1].RefID]
		if !ok || !second.Complete() {
			continue
		}

		infons := make(map[string]string, len(r.Infons)+2)
		for k, v := range r.Infons {
			infons[k] = v
		}
		r.Infons = infons
		r.SetInfon(models.InfonRole1, first.String())
		r.SetInfon(models.InfonRole2, second.String())
		kept = append(kept, r)
	}

	doc.Relations = kept
	return len(relations) - len(kept)
}

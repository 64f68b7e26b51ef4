package models

// Infon keys shared by the interchange formats.
const (
	InfonType        = "type"
	InfonIdentifier  = "identifier"
	InfonRole1       = "role1"
	InfonRole2       = "role2"
	InfonNeg         = "neg"
	InfonArticlePMID = "article-id_pmid"
)

// Placeholder written by taggers when a mention could not be normalized.
const PlaceholderID = "-"

type Document struct {
	ID        string
	Infons    map[string]string
	Passages  []Passage
	Relations []Relation
}

type Passage struct {
	Offset      int
	Text        string
	Infons      map[string]string
	Annotations []Annotation
	Relations   []Relation
}

// Kind is the passage's semantic type (title, abstract, section name).
func (p Passage) Kind() string {
	return p.Infons[InfonType]
}

type Location struct {
	Offset int
	Length int
}

type Annotation struct {
	ID        string
	Text      string
	Infons    map[string]string
	Locations []Location
}

func (a Annotation) Type() string {
	return a.Infons[InfonType]
}

func (a Annotation) Identifier() string {
	return a.Infons[InfonIdentifier]
}

// Span returns the first location of the annotation.
func (a Annotation) Span() (Location, bool) {
	if len(a.Locations) == 0 {
		return Location{}, false
	}
	return a.Locations[0], true
}

// SetInfon sets key on the annotation, allocating the map on first use.
func (a *Annotation) SetInfon(key, value string) {
	if a.Infons == nil {
		a.Infons = make(map[string]string)
	}
	a.Infons[key] = value
}

type Node struct {
	RefID string
	Role  string
}

type Relation struct {
	ID     string
	Infons map[string]string
	Nodes  []Node
}

func (r Relation) Type() string {
	return r.Infons[InfonType]
}

func (r *Relation) SetInfon(key, value string) {
	if r.Infons == nil {
		r.Infons = make(map[string]string)
	}
	r.Infons[key] = value
}

// PMID returns the document identifier, preferring the article PMID carried
// by a passage when the source put it there.
func (d Document) PMID() string {
	pmid := d.ID
	for _, p := range d.Passages {
		if v := p.Infons[InfonArticlePMID]; v != "" {
			pmid = v
		}
	}
	return pmid
}

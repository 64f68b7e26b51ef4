package merge

import (
	"strings"

	"github.com/xhad/pubgraph/internal/models"
)

// Category describes one specialist tagger's contribution: which base
// annotations it enriches and which infon it carries.
type Category struct {
	Name string
	// Field is the infon copied from the specialist annotation onto the base
	// annotation. Defaults to "identifier".
	Field string
	// Markers, when set, make type matching a substring test against the
	// specialist's type label instead of equality.
	Markers []string
}

var (
	Gene     = Category{Name: "Gene"}
	Species  = Category{Name: "Species"}
	Chemical = Category{Name: "Chemical"}
	CellLine = Category{Name: "CellLine"}
	Disease  = Category{Name: "Disease"}
	Variant  = Category{Name: "Variant", Markers: []string{"Mutation", "Variant", "SNP", "Allele"}}
)

// DefaultCategories lists the specialist categories in merge order.
func DefaultCategories() []Category {
	return []Category{Gene, Species, Chemical, CellLine, Disease, Variant}
}

func (c Category) field() string {
	if c.Field == "" {
		return models.InfonIdentifier
	}
	return c.Field
}

// acceptsBase reports whether a base annotation belongs to this category.
func (c Category) acceptsBase(typ string) bool {
	return typ == c.Name
}

// acceptsCandidate compares a specialist type label against the base
// annotation's label.
func (c Category) acceptsCandidate(candidate, base string) bool {
	if len(c.Markers) == 0 {
		return candidate == base
	}
	for _, m := range c.Markers {
		if strings.Contains(candidate, m) {
			return true
		}
	}
	return false
}

// AlignSpans copies the category's enrichment field from specialist
// annotations onto base annotations occupying the identical span. It mutates
// base in place and returns the number of enriched annotations.
//
// The specialist list is consumed through a pointer that only moves forward:
// after a match the scan for the next base annotation starts one past the
// matched candidate. A counterpart that sits before the pointer is never
// found. A base annotation without a match keeps its identifier unset and
// leaves the pointer where it was.
func AlignSpans(base, specialist []models.Annotation, cat Category) int {
	field := cat.field()
	lastMatched := 0
	matched := 0

	for i := range base {
		b := &base[i]
		if !cat.acceptsBase(b.Type()) {
			continue
		}
		bSpan, ok := b.Span()
		if !ok {
			continue
		}

		for j := lastMatched; j < len(specialist); j++ {
			c := specialist[j]
			cSpan, ok := c.Span()
			if !ok || cSpan != bSpan {
				continue
			}
			if !cat.acceptsCandidate(c.Type(), b.Type()) {
				continue
			}
			value, ok := c.Infons[field]
			if !ok {
				continue
			}
			b.SetInfon(field, value)
			lastMatched = j + 1
			matched++
			break
		}
	}
	return matched
}

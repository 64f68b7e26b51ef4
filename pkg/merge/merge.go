// Package merge folds the output of several independent taggers into one
// enriched document.
package merge

import (
	"fmt"
	"strings"

	"github.com/xhad/pubgraph/internal/models"
	"github.com/xhad/pubgraph/pkg/logger"
)

// AlignmentPolicy decides what happens when a specialist document does not
// have the same number of passages as the base document.
type AlignmentPolicy int

const (
	// Strict rejects the document with a MisalignedError.
	Strict AlignmentPolicy = iota
	// Truncate pairs passages up to the shorter of the two lists.
	Truncate
)

func ParsePolicy(s string) (AlignmentPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "strict":
		return Strict, nil
	case "truncate":
		return Truncate, nil
	default:
		return Strict, fmt.Errorf("unknown alignment policy %q", s)
	}
}

func (p AlignmentPolicy) String() string {
	if p == Truncate {
		return "truncate"
	}
	return "strict"
}

// MisalignedError reports a specialist document whose passages cannot be
// paired with the base document's passages.
type MisalignedError struct {
	DocumentID string
	Category   string
	Base       int
	Specialist int
}

func (e *MisalignedError) Error() string {
	return fmt.Sprintf("document %s: %s source has %d passages, base has %d",
		e.DocumentID, e.Category, e.Specialist, e.Base)
}

type Config struct {
	Categories []Category
	Policy     AlignmentPolicy
}

type Merger struct {
	config Config
	log    *logger.Logger
}

func NewWithConfig(config Config, log *logger.Logger) *Merger {
	if len(config.Categories) == 0 {
		config.Categories = DefaultCategories()
	}
	if log == nil {
		log = logger.Nop()
	}
	return &Merger{config: config, log: log}
}

// Report counts enrichments per category for one document.
type Report struct {
	DocumentID string
	Matched    map[string]int
}

func (r Report) Total() int {
	n := 0
	for _, v := range r.Matched {
		n += v
	}
	return n
}

// Merge enriches base in place with the specialist documents, keyed by
// category name. Categories without a specialist document are skipped. The
// passage-count precondition is checked for every source before anything is
// mutated.
func (m *Merger) Merge(base *models.Document, specialists map[string]*models.Document) (Report, error) {
	report := Report{DocumentID: base.ID, Matched: make(map[string]int)}

	for _, cat := range m.config.Categories {
		spec, ok := specialists[cat.Name]
		if !ok || spec == nil {
			continue
		}
		if len(spec.Passages) == len(base.Passages) {
			continue
		}
		if m.config.Policy == Strict {
			return report, &MisalignedError{
				DocumentID: base.ID,
				Category:   cat.Name,
				Base:       len(base.Passages),
				Specialist: len(spec.Passages),
			}
		}
		m.log.Warn("passage count mismatch, truncating",
			"document", base.ID, "category", cat.Name,
			"base", len(base.Passages), "specialist", len(spec.Passages))
	}

	for _, cat := range m.config.Categories {
		spec, ok := specialists[cat.Name]
		if !ok || spec == nil {
			continue
		}
		n := len(base.Passages)
		if len(spec.Passages) < n {
			n = len(spec.Passages)
		}
		for i := 0; i < n; i++ {
			report.Matched[cat.Name] += AlignSpans(base.Passages[i].Annotations, spec.Passages[i].Annotations, cat)
		}
	}

	m.log.Debug("merged document", "document", base.ID, "enriched", report.Total())
	return report, nil
}

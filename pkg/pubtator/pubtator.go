// Package pubtator converts documents to and from the flat PubTator
// tagged-text format.
package pubtator

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/xhad/pubgraph/internal/models"
)

type Annotation struct {
	PMID  string
	Start int
	End   int
	Text  string
	Type  string
	ID    string
}

type Relation struct {
	PMID string
	Type string
	ID1  string
	ID2  string
	Neg  string
}

type Document struct {
	PMID        string
	Title       string
	Abstract    string
	Annotations []Annotation
	Relations   []Relation
}

type ParseError struct {
	Line int
	Msg  string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("pubtator: line %d: %s", e.Line, e.Msg)
}

func (a Annotation) String() string {
	row := strings.Join([]string{a.PMID, strconv.Itoa(a.Start), strconv.Itoa(a.End), a.Text, a.Type, a.ID}, "\t")
	return strings.TrimRight(row, "\t")
}

func (r Relation) String() string {
	row := []string{r.PMID, r.Type, r.ID1, r.ID2}
	if r.Neg != "" {
		row = append(row, r.Neg)
	}
	return strings.Join(row, "\t")
}

func (d Document) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s|t|%s\n", d.PMID, d.Title)
	fmt.Fprintf(&b, "%s|a|%s", d.PMID, d.Abstract)
	for _, a := range d.Annotations {
		b.WriteString("\n")
		b.WriteString(a.String())
	}
	for _, r := range d.Relations {
		b.WriteString("\n")
		b.WriteString(r.String())
	}
	return b.String()
}

// Encode writes documents separated by a blank line.
func Encode(w io.Writer, docs []Document) error {
	for i, d := range docs {
		if i > 0 {
			if _, err := io.WriteString(w, "\n\n"); err != nil {
				return err
			}
		}
		if _, err := io.WriteString(w, d.String()); err != nil {
			return err
		}
	}
	_, err := io.WriteString(w, "\n")
	return err
}

func Decode(r io.Reader) ([]Document, error) {
	var (
		docs []Document
		cur  *Document
	)
	flush := func() {
		if cur != nil {
			docs = append(docs, *cur)
			cur = nil
		}
	}

	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	line := 0
	for sc.Scan() {
		line++
		text := strings.TrimRight(sc.Text(), "\r")
		if strings.TrimSpace(text) == "" {
			flush()
			continue
		}

		if parts := strings.SplitN(text, "|", 3); len(parts) == 3 && (parts[1] == "t" || parts[1] == "a") && !strings.Contains(parts[0], "\t") {
			if cur == nil || cur.PMID != parts[0] {
				flush()
				cur = &Document{PMID: parts[0]}
			}
			if parts[1] == "t" {
				cur.Title = parts[2]
			} else {
				cur.Abstract = parts[2]
			}
			continue
		}

		fields := strings.Split(text, "\t")
		if cur == nil {
			cur = &Document{PMID: fields[0]}
		}
		if len(fields) >= 5 && isInt(fields[1]) && isInt(fields[2]) {
			start, _ := strconv.Atoi(fields[1])
			end, _ := strconv.Atoi(fields[2])
			if end < start {
				return nil, &ParseError{Line: line, Msg: "annotation ends before it starts"}
			}
			a := Annotation{PMID: fields[0], Start: start, End: end, Text: fields[3], Type: fields[4]}
			if len(fields) > 5 {
				a.ID = fields[5]
			}
			cur.Annotations = append(cur.Annotations, a)
			continue
		}
		if len(fields) == 4 || len(fields) == 5 {
			rel := Relation{PMID: fields[0], Type: fields[1], ID1: fields[2], ID2: fields[3]}
			if len(fields) == 5 {
				rel.Neg = fields[4]
			}
			cur.Relations = append(cur.Relations, rel)
			continue
		}
		return nil, &ParseError{Line: line, Msg: fmt.Sprintf("unrecognized row with %d fields", len(fields))}
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	flush()
	return docs, nil
}

// FromDocument flattens a document. Title and abstract are the space-joined
// texts of the passages of that kind; relation ids are the identifier half
// of each role.
func FromDocument(doc models.Document) Document {
	pmid := doc.ID
	out := Document{
		PMID:     pmid,
		Title:    joinPassages(doc, "title"),
		Abstract: joinPassages(doc, "abstract"),
	}
	for _, p := range doc.Passages {
		for _, a := range p.Annotations {
			span, _ := a.Span()
			id, ok := a.Infons[models.InfonIdentifier]
			if !ok {
				id = a.Text
			}
			out.Annotations = append(out.Annotations, Annotation{
				PMID:  pmid,
				Start: span.Offset,
				End:   span.Offset + span.Length,
				Text:  a.Text,
				Type:  a.Type(),
				ID:    id,
			})
		}
	}
	for _, r := range doc.Relations {
		out.Relations = append(out.Relations, Relation{
			PMID: pmid,
			Type: r.Type(),
			ID1:  roleID(r.Infons[models.InfonRole1]),
			ID2:  roleID(r.Infons[models.InfonRole2]),
			Neg:  r.Infons[models.InfonNeg],
		})
	}
	return out
}

// ToDocument rebuilds a title and an abstract passage. Annotations land in
// the passage containing their start offset; relation nodes refer to the
// concept ids, as relation taggers emit them.
func (d Document) ToDocument() models.Document {
	title := models.Passage{
		Offset: 0,
		Text:   d.Title,
		Infons: map[string]string{models.InfonType: "title"},
	}
	abstract := models.Passage{
		Offset: utf8.RuneCountInString(d.Title) + 1,
		Text:   d.Abstract,
		Infons: map[string]string{models.InfonType: "abstract"},
	}

	for i, a := range d.Annotations {
		ann := models.Annotation{
			ID:        strconv.Itoa(i),
			Text:      a.Text,
			Infons:    map[string]string{models.InfonType: a.Type},
			Locations: []models.Location{{Offset: a.Start, Length: a.End - a.Start}},
		}
		if a.ID != "" {
			ann.Infons[models.InfonIdentifier] = a.ID
		}
		if a.Start >= abstract.Offset {
			abstract.Annotations = append(abstract.Annotations, ann)
		} else {
			title.Annotations = append(title.Annotations, ann)
		}
	}

	doc := models.Document{ID: d.PMID, Passages: []models.Passage{title, abstract}}
	for i, r := range d.Relations {
		rel := models.Relation{
			ID:     "R" + strconv.Itoa(i),
			Infons: map[string]string{models.InfonType: r.Type},
			Nodes: []models.Node{
				{RefID: r.ID1, Role: "Subject"},
				{RefID: r.ID2, Role: "Object"},
			},
		}
		if r.Neg != "" {
			rel.Infons[models.InfonNeg] = r.Neg
		}
		doc.Relations = append(doc.Relations, rel)
	}
	return doc
}

func joinPassages(doc models.Document, kind string) string {
	var texts []string
	for _, p := range doc.Passages {
		if p.Kind() == kind {
			texts = append(texts, p.Text)
		}
	}
	return strings.Join(texts, " ")
}

func roleID(role string) string {
	if i := strings.LastIndex(role, "|"); i >= 0 {
		return role[i+1:]
	}
	return role
}

func isInt(s string) bool {
	_, err := strconv.Atoi(s)
	return err == nil
}

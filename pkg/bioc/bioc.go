// Package bioc reads and writes BioC XML document collections.
package bioc

import (
	"bufio"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/xhad/pubgraph/internal/models"
)

const doctype = "<!DOCTYPE collection SYSTEM 'BioC.dtd'>\n"

// ParseError reports an interchange file that could not be decoded.
type ParseError struct {
	Path string
	Err  error
}

func (e *ParseError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("bioc: %v", e.Err)
	}
	return fmt.Sprintf("bioc: %s: %v", e.Path, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

type Collection struct {
	Source    string
	Date      string
	Key       string
	Infons    map[string]string
	Documents []models.Document
}

type xmlInfon struct {
	Key   string `xml:"key,attr"`
	Value string `xml:",chardata"`
}

type xmlLocation struct {
	Offset int `xml:"offset,attr"`
	Length int `xml:"length,attr"`
}

type xmlAnnotation struct {
	ID        string        `xml:"id,attr,omitempty"`
	Infons    []xmlInfon    `xml:"infon"`
	Locations []xmlLocation `xml:"location"`
	Text      string        `xml:"text"`
}

type xmlNode struct {
	RefID string `xml:"refid,attr"`
	Role  string `xml:"role,attr"`
}

type xmlRelation struct {
	ID     string     `xml:"id,attr,omitempty"`
	Infons []xmlInfon `xml:"infon"`
	Nodes  []xmlNode  `xml:"node"`
}

type xmlPassage struct {
	Infons      []xmlInfon      `xml:"infon"`
	Offset      int             `xml:"offset"`
	Text        string          `xml:"text,omitempty"`
	Annotations []xmlAnnotation `xml:"annotation"`
	Relations   []xmlRelation   `xml:"relation"`
}

type xmlDocument struct {
	ID        string        `xml:"id"`
	Infons    []xmlInfon    `xml:"infon"`
	Passages  []xmlPassage  `xml:"passage"`
	Relations []xmlRelation `xml:"relation"`
}

type xmlCollection struct {
	XMLName   xml.Name      `xml:"collection"`
	Source    string        `xml:"source"`
	Date      string        `xml:"date"`
	Key       string        `xml:"key"`
	Infons    []xmlInfon    `xml:"infon"`
	Documents []xmlDocument `xml:"document"`
}

func Decode(r io.Reader) (*Collection, error) {
	var xc xmlCollection
	if err := xml.NewDecoder(r).Decode(&xc); err != nil {
		return nil, &ParseError{Err: err}
	}

	c := &Collection{
		Source:    xc.Source,
		Date:      xc.Date,
		Key:       xc.Key,
		Infons:    infonMap(xc.Infons),
		Documents: make([]models.Document, 0, len(xc.Documents)),
	}
	for _, xd := range xc.Documents {
		doc := models.Document{
			ID:        strings.TrimSpace(xd.ID),
			Infons:    infonMap(xd.Infons),
			Passages:  make([]models.Passage, 0, len(xd.Passages)),
			Relations: relations(xd.Relations),
		}
		for _, xp := range xd.Passages {
			p := models.Passage{
				Offset:      xp.Offset,
				Text:        xp.Text,
				Infons:      infonMap(xp.Infons),
				Annotations: make([]models.Annotation, 0, len(xp.Annotations)),
				Relations:   relations(xp.Relations),
			}
			for _, xa := range xp.Annotations {
				a := models.Annotation{
					ID:     xa.ID,
					Text:   xa.Text,
					Infons: infonMap(xa.Infons),
				}
				for _, l := range xa.Locations {
					a.Locations = append(a.Locations, models.Location{Offset: l.Offset, Length: l.Length})
				}
				p.Annotations = append(p.Annotations, a)
			}
			doc.Passages = append(doc.Passages, p)
		}
		c.Documents = append(c.Documents, doc)
	}
	return c, nil
}

func Encode(w io.Writer, c *Collection) error {
	xc := xmlCollection{
		Source:    c.Source,
		Date:      c.Date,
		Key:       c.Key,
		Infons:    infonSlice(c.Infons),
		Documents: make([]xmlDocument, 0, len(c.Documents)),
	}
	for _, doc := range c.Documents {
		xd := xmlDocument{
			ID:        doc.ID,
			Infons:    infonSlice(doc.Infons),
			Relations: xmlRelations(doc.Relations),
		}
		for _, p := range doc.Passages {
			xp := xmlPassage{
				Infons:    infonSlice(p.Infons),
				Offset:    p.Offset,
				Text:      p.Text,
				Relations: xmlRelations(p.Relations),
			}
			for _, a := range p.Annotations {
				xa := xmlAnnotation{ID: a.ID, Text: a.Text, Infons: infonSlice(a.Infons)}
				for _, l := range a.Locations {
					xa.Locations = append(xa.Locations, xmlLocation{Offset: l.Offset, Length: l.Length})
				}
				xp.Annotations = append(xp.Annotations, xa)
			}
			xd.Passages = append(xd.Passages, xp)
		}
		xc.Documents = append(xc.Documents, xd)
	}

	bw := bufio.NewWriter(w)
	if _, err := bw.WriteString(xml.Header + doctype); err != nil {
		return err
	}
	enc := xml.NewEncoder(bw)
	enc.Indent("", "  ")
	if err := enc.Encode(xc); err != nil {
		return fmt.Errorf("failed to encode collection: %w", err)
	}
	if _, err := bw.WriteString("\n"); err != nil {
		return err
	}
	return bw.Flush()
}

// LoadFile decodes a collection from path. Documents without an id take the
// file stem, which is how the per-document files are named.
func LoadFile(path string) (*Collection, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	c, err := Decode(f)
	if err != nil {
		var pe *ParseError
		if errors.As(err, &pe) {
			pe.Path = path
			return nil, pe
		}
		return nil, err
	}
	stem := Stem(path)
	for i := range c.Documents {
		if c.Documents[i].ID == "" {
			c.Documents[i].ID = stem
		}
	}
	return c, nil
}

// SaveFile writes the collection next to path and renames it into place so a
// reader never observes a half-written document.
func SaveFile(path string, c *Collection) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return err
	}
	if err := Encode(f, c); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, path)
}

// Stem returns the file name without directory and extension.
func Stem(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

func infonMap(in []xmlInfon) map[string]string {
	if len(in) == 0 {
		return nil
	}
	m := make(map[string]string, len(in))
	for _, i := range in {
		m[i.Key] = i.Value
	}
	return m
}

func infonSlice(m map[string]string) []xmlInfon {
	if len(m) == 0 {
		return nil
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]xmlInfon, 0, len(keys))
	for _, k := range keys {
		out = append(out, xmlInfon{Key: k, Value: m[k]})
	}
	return out
}

func relations(in []xmlRelation) []models.Relation {
	if len(in) == 0 {
		return nil
	}
	out := make([]models.Relation, 0, len(in))
	for _, xr := range in {
		r := models.Relation{ID: xr.ID, Infons: infonMap(xr.Infons)}
		for _, n := range xr.Nodes {
			r.Nodes = append(r.Nodes, models.Node{RefID: n.RefID, Role: n.Role})
		}
		out = append(out, r)
	}
	return out
}

func xmlRelations(in []models.Relation) []xmlRelation {
	if len(in) == 0 {
		return nil
	}
	out := make([]xmlRelation, 0, len(in))
	for _, r := range in {
		xr := xmlRelation{ID: r.ID, Infons: infonSlice(r.Infons)}
		for _, n := range r.Nodes {
			xr.Nodes = append(xr.Nodes, xmlNode{RefID: n.RefID, Role: n.Role})
		}
		out = append(out, xr)
	}
	return out
}

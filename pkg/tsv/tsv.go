// Package tsv reads and writes the tab-separated concept and relation tables,
// both the per-document ones and the corpus-wide aggregates.
package tsv

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/xhad/pubgraph/internal/models"
)

// Column names of the per-document tables.
const (
	ColPMID      = "PMID"
	ColType      = "Type"
	ColConceptID = "Concept ID"
	ColMentions  = "Mentions"
	ColResource  = "Resource"
	ColFirst     = "1st"
	ColSecond    = "2nd"

	ColFirstType  = "1st Type"
	ColFirstID    = "1st Concept ID"
	ColSecondType = "2nd Type"
	ColSecondID   = "2nd Concept ID"
)

var (
	ConceptColumns           = []string{ColPMID, ColType, ColConceptID, ColMentions, ColResource}
	RelationColumns          = []string{ColPMID, ColType, ColFirst, ColSecond}
	ConceptAggregateColumns  = []string{ColConceptID, ColType, ColPMID, ColMentions, ColResource}
	RelationAggregateColumns = []string{ColFirstType, ColFirstID, ColSecondType, ColSecondID, ColType, ColPMID}
)

// ParseError reports a table that violates its row schema.
type ParseError struct {
	Path string
	Line int
	Msg  string
}

func (e *ParseError) Error() string {
	loc := e.Path
	if loc == "" {
		loc = "<input>"
	}
	if e.Line > 0 {
		return fmt.Sprintf("tsv: %s:%d: %s", loc, e.Line, e.Msg)
	}
	return fmt.Sprintf("tsv: %s: %s", loc, e.Msg)
}

// record is one data line addressed by header name.
type record struct {
	line   int
	fields []string
	index  map[string]int
}

func (r record) get(col string) string {
	return r.fields[r.index[col]]
}

// scan reads a headed table. Quotes carry no meaning: every tab separates a
// field and every newline ends a record.
func scan(r io.Reader, required []string, fn func(record) error) error {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 64*1024*1024)

	var index map[string]int
	width := 0
	line := 0
	for sc.Scan() {
		line++
		text := strings.TrimRight(sc.Text(), "\r")
		if index == nil {
			if strings.TrimSpace(text) == "" {
				continue
			}
			header := strings.Split(text, "\t")
			index = make(map[string]int, len(header))
			for i, h := range header {
				index[strings.TrimSpace(h)] = i
			}
			for _, col := range required {
				if _, ok := index[col]; !ok {
					return &ParseError{Line: line, Msg: fmt.Sprintf("missing column %q", col)}
				}
			}
			width = len(header)
			continue
		}
		if text == "" {
			continue
		}
		fields := strings.Split(text, "\t")
		if len(fields) != width {
			return &ParseError{Line: line, Msg: fmt.Sprintf("expected %d fields, got %d", width, len(fields))}
		}
		if err := fn(record{line: line, fields: fields, index: index}); err != nil {
			return err
		}
	}
	if err := sc.Err(); err != nil {
		return err
	}
	return nil
}

func withPath(err error, path string) error {
	var pe *ParseError
	if errors.As(err, &pe) {
		pe.Path = path
	}
	return err
}

// ReadConceptRows parses a per-document concept table, dropping rows whose
// identifier is the placeholder.
func ReadConceptRows(r io.Reader, resource string) ([]models.ConceptRow, error) {
	var rows []models.ConceptRow
	err := scan(r, ConceptColumns, func(rec record) error {
		row := models.ConceptRow{
			PMID:      strings.TrimSpace(rec.get(ColPMID)),
			Type:      rec.get(ColType),
			ConceptID: rec.get(ColConceptID),
			Mentions:  rec.get(ColMentions),
			Resource:  rec.get(ColResource),
		}
		if row.ConceptID == models.PlaceholderID || row.ConceptID == "" {
			return nil
		}
		// A resource label in the mentions column means the columns shifted.
		if resource != "" && strings.Contains(row.Mentions, resource) {
			return &ParseError{Line: rec.line, Msg: fmt.Sprintf("mentions column holds resource label %q", resource)}
		}
		rows = append(rows, row)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return rows, nil
}

// ReadRelationRows parses a per-document relation table. Both participant
// columns must carry a "type|identifier" key.
func ReadRelationRows(r io.Reader) ([]models.RelationRow, error) {
	var rows []models.RelationRow
	err := scan(r, RelationColumns, func(rec record) error {
		first, err := models.ParseConceptKey(rec.get(ColFirst))
		if err != nil {
			return &ParseError{Line: rec.line, Msg: err.Error()}
		}
		second, err := models.ParseConceptKey(rec.get(ColSecond))
		if err != nil {
			return &ParseError{Line: rec.line, Msg: err.Error()}
		}
		rows = append(rows, models.RelationRow{
			PMID:   strings.TrimSpace(rec.get(ColPMID)),
			Type:   rec.get(ColType),
			First:  first,
			Second: second,
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return rows, nil
}

// LoadConceptRows reads one per-document concept file. An empty file yields
// no rows.
func LoadConceptRows(path, resource string) ([]models.ConceptRow, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	rows, err := ReadConceptRows(f, resource)
	return rows, withPath(err, path)
}

// LoadRelationRows reads one per-document relation file.
func LoadRelationRows(path string) ([]models.RelationRow, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	rows, err := ReadRelationRows(f)
	return rows, withPath(err, path)
}

// ListTables returns every *.tsv file across dirs, sorted. Missing
// directories contribute nothing.
func ListTables(dirs []string) ([]string, error) {
	var files []string
	for _, dir := range dirs {
		matches, err := filepath.Glob(filepath.Join(dir, "*.tsv"))
		if err != nil {
			return nil, err
		}
		files = append(files, matches...)
	}
	sort.Strings(files)
	return files, nil
}

// Stem is the document identifier a table file is named after.
func Stem(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

func writeRows(w io.Writer, header []string, rows [][]string) error {
	bw := bufio.NewWriter(w)
	if _, err := bw.WriteString(strings.Join(header, "\t") + "\n"); err != nil {
		return err
	}
	for _, row := range rows {
		for _, f := range row {
			if strings.ContainsAny(f, "\t\n") {
				return fmt.Errorf("tsv: field %q contains a separator", f)
			}
		}
		if _, err := bw.WriteString(strings.Join(row, "\t") + "\n"); err != nil {
			return err
		}
	}
	return bw.Flush()
}

func WriteConceptRows(w io.Writer, rows []models.ConceptRow) error {
	out := make([][]string, 0, len(rows))
	for _, r := range rows {
		out = append(out, []string{r.PMID, r.Type, r.ConceptID, r.Mentions, r.Resource})
	}
	return writeRows(w, ConceptColumns, out)
}

func WriteRelationRows(w io.Writer, rows []models.RelationRow) error {
	out := make([][]string, 0, len(rows))
	for _, r := range rows {
		out = append(out, []string{r.PMID, r.Type, r.First.String(), r.Second.String()})
	}
	return writeRows(w, RelationColumns, out)
}

func WriteConceptAggregates(w io.Writer, rows []models.ConceptAggregate) error {
	out := make([][]string, 0, len(rows))
	for _, r := range rows {
		out = append(out, []string{r.ConceptID, r.Type, r.PMIDs, r.Mentions, r.Resources})
	}
	return writeRows(w, ConceptAggregateColumns, out)
}

func WriteRelationAggregates(w io.Writer, rows []models.RelationAggregate) error {
	out := make([][]string, 0, len(rows))
	for _, r := range rows {
		out = append(out, []string{r.First.Type, r.First.ID, r.Second.Type, r.Second.ID, r.Type, r.PMIDs})
	}
	return writeRows(w, RelationAggregateColumns, out)
}

func ReadConceptAggregates(r io.Reader) ([]models.ConceptAggregate, error) {
	var rows []models.ConceptAggregate
	err := scan(r, ConceptAggregateColumns, func(rec record) error {
		rows = append(rows, models.ConceptAggregate{
			ConceptID: rec.get(ColConceptID),
			Type:      rec.get(ColType),
			PMIDs:     rec.get(ColPMID),
			Mentions:  rec.get(ColMentions),
			Resources: rec.get(ColResource),
		})
		return nil
	})
	return rows, err
}

func ReadRelationAggregates(r io.Reader) ([]models.RelationAggregate, error) {
	var rows []models.RelationAggregate
	err := scan(r, RelationAggregateColumns, func(rec record) error {
		rows = append(rows, models.RelationAggregate{
			First:  models.ConceptKey{Type: rec.get(ColFirstType), ID: rec.get(ColFirstID)},
			Second: models.ConceptKey{Type: rec.get(ColSecondType), ID: rec.get(ColSecondID)},
			Type:   rec.get(ColType),
			PMIDs:  rec.get(ColPMID),
		})
		return nil
	})
	return rows, err
}

// SaveFile writes through a temporary file and renames it into place.
func SaveFile(path string, write func(io.Writer) error) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return err
	}
	if err := write(f); err != nil {
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

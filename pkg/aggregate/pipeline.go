package aggregate

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/xhad/pubgraph/internal/models"
	"github.com/xhad/pubgraph/pkg/batch"
	"github.com/xhad/pubgraph/pkg/checkpoint"
	"github.com/xhad/pubgraph/pkg/logger"
	"github.com/xhad/pubgraph/pkg/tsv"
)

// Table is a running aggregate that absorbs rows of type R.
type Table[R any] interface {
	Add(rows ...R)
	PMIDs() map[string]struct{}
	Len() int
}

// Kind binds a row type to its table and the codecs used for per-document
// files and checkpoints.
type Kind[R any, T Table[R]] struct {
	Name   string
	Load   func(path string) ([]R, error)
	New    func() T
	Decode func(r io.Reader) (T, error)
	Encode func(w io.Writer, table T) error
}

// Concepts aggregates per-document concept tables. Rows whose mentions
// carry resource are treated as malformed.
func Concepts(resource string) Kind[models.ConceptRow, *ConceptTable] {
	return Kind[models.ConceptRow, *ConceptTable]{
		Name: "concepts",
		Load: func(path string) ([]models.ConceptRow, error) {
			return tsv.LoadConceptRows(path, resource)
		},
		New: NewConceptTable,
		Decode: func(r io.Reader) (*ConceptTable, error) {
			rows, err := tsv.ReadConceptAggregates(r)
			if err != nil {
				return nil, err
			}
			return ConceptTableFrom(rows), nil
		},
		Encode: func(w io.Writer, t *ConceptTable) error {
			return tsv.WriteConceptAggregates(w, t.Rows())
		},
	}
}

func Relations() Kind[models.RelationRow, *RelationTable] {
	return Kind[models.RelationRow, *RelationTable]{
		Name: "relations",
		Load: tsv.LoadRelationRows,
		New:  NewRelationTable,
		Decode: func(r io.Reader) (*RelationTable, error) {
			rows, err := tsv.ReadRelationAggregates(r)
			if err != nil {
				return nil, err
			}
			return RelationTableFrom(rows), nil
		},
		Encode: func(w io.Writer, t *RelationTable) error {
			return tsv.WriteRelationAggregates(w, t.Rows())
		},
	}
}

// State is the accumulated table plus the document identifiers it already
// covers. It is owned by the coordinating goroutine.
type State[T any] struct {
	Table   T
	Seen    map[string]struct{}
	Resumed bool
}

type Config struct {
	BatchSize int
	Workers   int
	// OnBatch, if set, is called after each batch is committed.
	OnBatch func(done, total int)
}

type Summary struct {
	Files   int
	Skipped int
	Failed  int
	Batches int
	Rows    int
}

type Pipeline[R any, T Table[R]] struct {
	kind   Kind[R, T]
	store  checkpoint.Store
	config Config
	log    *logger.Logger
}

func NewPipeline[R any, T Table[R]](kind Kind[R, T], store checkpoint.Store, config Config, log *logger.Logger) *Pipeline[R, T] {
	if config.BatchSize < 1 {
		config.BatchSize = 100000
	}
	if config.Workers < 1 {
		config.Workers = 1
	}
	if log == nil {
		log = logger.Nop()
	}
	return &Pipeline[R, T]{
		kind:   kind,
		store:  store,
		config: config,
		log:    log.With("table", kind.Name),
	}
}

// Resume loads the committed checkpoint, or an empty state when none exists.
// A checkpoint that cannot be decoded is an error: silently starting over
// would overwrite it.
func (p *Pipeline[R, T]) Resume(ctx context.Context) (*State[T], error) {
	data, err := p.store.Read(ctx)
	if errors.Is(err, checkpoint.ErrNotFound) {
		p.log.Info("no checkpoint found, starting fresh")
		return &State[T]{Table: p.kind.New(), Seen: map[string]struct{}{}}, nil
	}
	if err != nil {
		return nil, err
	}

	table, err := p.kind.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to decode %s checkpoint: %w", p.kind.Name, err)
	}
	seen := table.PMIDs()
	p.log.Info("resumed from checkpoint", "groups", table.Len(), "documents", len(seen))
	return &State[T]{Table: table, Seen: seen, Resumed: true}, nil
}

type loaded[R any] struct {
	rows   []R
	failed bool
}

// Run folds every table file under inputDirs not yet covered by state into
// state.Table, committing a checkpoint after each batch.
func (p *Pipeline[R, T]) Run(ctx context.Context, state *State[T], inputDirs []string) (Summary, error) {
	var summary Summary

	files, err := tsv.ListTables(inputDirs)
	if err != nil {
		return summary, err
	}
	summary.Files = len(files)

	pending := make([]string, 0, len(files))
	for _, f := range files {
		if _, ok := state.Seen[tsv.Stem(f)]; ok {
			summary.Skipped++
			continue
		}
		pending = append(pending, f)
	}
	p.log.Info("listed tables", "files", len(files), "pending", len(pending), "skipped", summary.Skipped)

	batches := batch.Split(pending, p.config.BatchSize)
	for i, chunk := range batches {
		results, err := batch.Map(ctx, p.config.Workers, chunk, func(ctx context.Context, path string) (loaded[R], error) {
			rows, err := p.kind.Load(path)
			if err != nil {
				p.log.Error("skipping table", "file", path, "error", err)
				return loaded[R]{failed: true}, nil
			}
			return loaded[R]{rows: rows}, nil
		})
		if err != nil {
			return summary, err
		}

		for j, r := range results {
			if r.failed {
				summary.Failed++
				continue
			}
			state.Table.Add(r.rows...)
			state.Seen[tsv.Stem(chunk[j])] = struct{}{}
			summary.Rows += len(r.rows)
		}

		if err := p.commit(ctx, state.Table); err != nil {
			return summary, err
		}
		summary.Batches++
		p.log.Info("committed batch", "batch", i+1, "of", len(batches), "groups", state.Table.Len())
		if p.config.OnBatch != nil {
			p.config.OnBatch(i+1, len(batches))
		}
	}
	return summary, nil
}

func (p *Pipeline[R, T]) commit(ctx context.Context, table T) error {
	var buf bytes.Buffer
	if err := p.kind.Encode(&buf, table); err != nil {
		return fmt.Errorf("failed to encode %s checkpoint: %w", p.kind.Name, err)
	}
	if err := p.store.Write(ctx, buf.Bytes()); err != nil {
		return fmt.Errorf("failed to commit %s checkpoint: %w", p.kind.Name, err)
	}
	return nil
}

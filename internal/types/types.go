package types

import (
	"context"

	"github.com/xhad/pubgraph/internal/models"
	"github.com/xhad/pubgraph/pkg/extract"
	"github.com/xhad/pubgraph/pkg/graph"
	"github.com/xhad/pubgraph/pkg/merge"
)

// Core interfaces
type Fetcher interface {
	Fetch(ctx context.Context, pmids []string) ([]models.Document, error)
}

type Merger interface {
	Merge(base *models.Document, specialists map[string]*models.Document) (merge.Report, error)
}

type Extractor interface {
	Process(doc models.Document) (extract.Result, error)
}

type GraphLoader interface {
	Load(ctx context.Context, specs []graph.UpsertSpec) error
}

// GraphWriter is satisfied by the neo4j client.
type GraphWriter interface {
	graph.Writer
	Close(ctx context.Context) error
}

package graph

import (
	"context"
	"fmt"

	"github.com/xhad/pubgraph/pkg/batch"
	"github.com/xhad/pubgraph/pkg/logger"
)

// Writer executes one parameterised write statement.
type Writer interface {
	Write(ctx context.Context, cypher string, params map[string]any) error
}

type LoaderConfig struct {
	// BatchSize bounds the rows sent per statement.
	BatchSize int
	// OnSpec, if set, is called after each spec is fully written.
	OnSpec func(spec UpsertSpec)
}

type Loader struct {
	writer Writer
	config LoaderConfig
	log    *logger.Logger
}

func NewLoader(writer Writer, config LoaderConfig, log *logger.Logger) *Loader {
	if config.BatchSize <= 0 {
		config.BatchSize = 10000
	}
	if log == nil {
		log = logger.Nop()
	}
	return &Loader{writer: writer, config: config, log: log}
}

// Load declares a uniqueness constraint for every node label in specs,
// then submits each spec in order. Any write error aborts the load.
func (l *Loader) Load(ctx context.Context, specs []UpsertSpec) error {
	declared := make(map[string]bool)
	for _, spec := range specs {
		if spec.Kind != NodeUpsert || len(spec.Labels) < 2 || declared[spec.Labels[1]] {
			continue
		}
		typ := spec.Labels[1]
		if err := l.writer.Write(ctx, ConstraintCypher(typ), nil); err != nil {
			return fmt.Errorf("failed to create constraint for %s: %w", typ, err)
		}
		declared[typ] = true
	}

	for _, spec := range specs {
		cypher, err := UpsertCypher(spec)
		if err != nil {
			return err
		}
		l.log.Debug("upserting", "spec", spec.String(), "rows", len(spec.Rows))
		for _, chunk := range batch.Split(spec.Rows, l.config.BatchSize) {
			if err := l.writer.Write(ctx, cypher, map[string]any{"rows": chunk}); err != nil {
				return fmt.Errorf("failed to upsert %s: %w", spec, err)
			}
		}
		l.log.Info("upserted", "spec", spec.String(), "rows", len(spec.Rows))
		if l.config.OnSpec != nil {
			l.config.OnSpec(spec)
		}
	}
	return nil
}

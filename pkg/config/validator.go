package config

import (
	"fmt"
	"net/url"
	"strings"
)

type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

var knownCategories = map[string]bool{
	"Gene": true, "Species": true, "Chemical": true, "CellLine": true, "Disease": true, "Variant": true,
}

func (c *Config) Validate() []ValidationError {
	var errors []ValidationError

	// PubTator API
	if u, err := url.Parse(c.PubTator.BaseURL); err != nil || u.Scheme == "" || u.Host == "" {
		errors = append(errors, ValidationError{
			Field:   "pubtator.base_url",
			Message: "invalid PubTator base URL",
		})
	}

	if c.PubTator.BatchSize < 1 || c.PubTator.BatchSize > 1000 {
		errors = append(errors, ValidationError{
			Field:   "pubtator.batch_size",
			Message: "batch_size must be between 1 and 1000",
		})
	}

	if c.PubTator.RateLimit <= 0 {
		errors = append(errors, ValidationError{
			Field:   "pubtator.rate_limit",
			Message: "rate_limit must be positive",
		})
	}

	// Merge
	switch strings.ToLower(c.Merge.Policy) {
	case "strict", "truncate":
	default:
		errors = append(errors, ValidationError{
			Field:   "merge.policy",
			Message: fmt.Sprintf("unknown policy %q, want strict or truncate", c.Merge.Policy),
		})
	}

	for _, name := range c.Merge.Categories {
		if !knownCategories[name] {
			errors = append(errors, ValidationError{
				Field:   "merge.categories",
				Message: fmt.Sprintf("unknown category: %s", name),
			})
		}
	}

	// Aggregate
	if c.Aggregate.ConceptBatchSize < 1 {
		errors = append(errors, ValidationError{
			Field:   "aggregate.concept_batch_size",
			Message: "concept_batch_size must be positive",
		})
	}

	if c.Aggregate.RelationBatchSize < 1 {
		errors = append(errors, ValidationError{
			Field:   "aggregate.relation_batch_size",
			Message: "relation_batch_size must be positive",
		})
	}

	if c.Aggregate.Workers < 1 {
		errors = append(errors, ValidationError{
			Field:   "aggregate.workers",
			Message: "workers must be positive",
		})
	}

	// Checkpoint
	switch c.Checkpoint.Backend {
	case "file":
		if c.Checkpoint.Dir == "" {
			errors = append(errors, ValidationError{
				Field:   "checkpoint.dir",
				Message: "dir is required for the file backend",
			})
		}
	case "s3":
		if c.Checkpoint.S3.Bucket == "" {
			errors = append(errors, ValidationError{
				Field:   "checkpoint.s3.bucket",
				Message: "bucket is required for the s3 backend",
			})
		}
	case "postgres":
		if c.Checkpoint.Postgres.URL == "" {
			errors = append(errors, ValidationError{
				Field:   "checkpoint.postgres.url",
				Message: "url is required for the postgres backend",
			})
		} else if _, err := url.Parse(c.Checkpoint.Postgres.URL); err != nil {
			errors = append(errors, ValidationError{
				Field:   "checkpoint.postgres.url",
				Message: "invalid database URL",
			})
		}
	default:
		errors = append(errors, ValidationError{
			Field:   "checkpoint.backend",
			Message: fmt.Sprintf("unknown backend %q, want file, s3 or postgres", c.Checkpoint.Backend),
		})
	}

	// Neo4j
	if u, err := url.Parse(c.Neo4j.URI); err != nil || u.Scheme == "" {
		errors = append(errors, ValidationError{
			Field:   "neo4j.uri",
			Message: "invalid neo4j URI",
		})
	}

	if c.Neo4j.BatchSize < 1 {
		errors = append(errors, ValidationError{
			Field:   "neo4j.batch_size",
			Message: "batch_size must be positive",
		})
	}

	return errors
}

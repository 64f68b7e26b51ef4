// Package checkpoint persists the running aggregate tables between batches
// so an interrupted run can resume where it stopped.
package checkpoint

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// ErrNotFound is returned by Read when nothing has been written yet.
var ErrNotFound = errors.New("checkpoint: not found")

// Store reads the last committed checkpoint and overwrites it with a new one.
// Write must replace the previous contents atomically: a failed Write leaves
// the previous checkpoint readable.
type Store interface {
	Read(ctx context.Context) ([]byte, error)
	Write(ctx context.Context, data []byte) error
}

type Backend string

const (
	BackendFile     Backend = "file"
	BackendS3       Backend = "s3"
	BackendPostgres Backend = "postgres"
)

type S3Options struct {
	Region    string
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	Prefix    string
}

type PostgresOptions struct {
	URL   string
	Table string
}

type Options struct {
	Backend  Backend
	Dir      string
	S3       S3Options
	Postgres PostgresOptions
}

// Open returns the store for the checkpoint called name. The returned close
// function releases any connection the store holds.
func Open(ctx context.Context, opts Options, name string) (Store, func(), error) {
	nop := func() {}
	switch opts.Backend {
	case "", BackendFile:
		return NewFileStore(filepath.Join(opts.Dir, name+".tsv")), nop, nil
	case BackendS3:
		client, err := NewS3Client(ctx, opts.S3)
		if err != nil {
			return nil, nop, err
		}
		return NewS3Store(client, opts.S3.Bucket, s3Key(opts.S3.Prefix, name)), nop, nil
	case BackendPostgres:
		s, err := NewPostgresStore(ctx, opts.Postgres, name)
		if err != nil {
			return nil, nop, err
		}
		return s, s.Close, nil
	default:
		return nil, nop, fmt.Errorf("checkpoint: unknown backend %q", opts.Backend)
	}
}

// FileStore keeps the checkpoint in a local file.
type FileStore struct {
	path string
}

func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

func (s *FileStore) Path() string {
	return s.path
}

func (s *FileStore) Read(ctx context.Context) ([]byte, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read checkpoint %s: %w", s.path, err)
	}
	return data, nil
}

func (s *FileStore) Write(ctx context.Context, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0755); err != nil {
		return fmt.Errorf("failed to create checkpoint directory: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(s.path), filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp checkpoint: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to write checkpoint: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to sync checkpoint: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to commit checkpoint: %w", err)
	}
	return nil
}

// MemoryStore keeps the checkpoint in memory. It backs dry runs and tests.
type MemoryStore struct {
	data   []byte
	Writes int
}

func (s *MemoryStore) Read(ctx context.Context) ([]byte, error) {
	if s.data == nil {
		return nil, ErrNotFound
	}
	return append([]byte(nil), s.data...), nil
}

func (s *MemoryStore) Write(ctx context.Context, data []byte) error {
	s.data = append([]byte{}, data...)
	s.Writes++
	return nil
}

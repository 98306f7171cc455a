package core

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/cheograph/cheograph/core/internal/rdfstore"
	"github.com/cheograph/cheograph/core/internal/sparql"
	"github.com/spf13/afero"
)

// ErrNoOntology is returned when the local engine has no ontology path
var ErrNoOntology = errors.New("no ontology file configured")

// LocalEngine answers queries from an ontology file held in memory
type LocalEngine struct {
	fs    afero.Fs
	path  string
	graph atomic.Pointer[rdfstore.Graph]

	// serialises reloads
	reloadMu sync.Mutex
}

// NewLocalEngine returns an engine over the ontology at path. The file is
// read on the first query or on Reload.
func NewLocalEngine(fs afero.Fs, path string) *LocalEngine {
	if fs == nil {
		fs = afero.NewOsFs()
	}
	return &LocalEngine{fs: fs, path: path}
}

func (e *LocalEngine) Name() Source {
	return SourceLocal
}

// Path returns the ontology file path
func (e *LocalEngine) Path() string {
	return e.path
}

// Reload reads the ontology file again and swaps in the new graph. The old
// graph stays in use when reading fails.
func (e *LocalEngine) Reload() error {
	if e.path == "" {
		return ErrNoOntology
	}

	e.reloadMu.Lock()
	defer e.reloadMu.Unlock()

	format, err := rdfstore.FormatFor(e.path)
	if err != nil {
		return err
	}

	f, err := e.fs.Open(e.path)
	if err != nil {
		return fmt.Errorf("open ontology: %w", err)
	}
	defer f.Close()

	g, err := rdfstore.Load(f, format)
	if err != nil {
		return fmt.Errorf("load ontology %s: %w", e.path, err)
	}
	e.graph.Store(g)
	return nil
}

// Triples returns the size of the loaded graph, 0 if nothing is loaded
func (e *LocalEngine) Triples() int {
	if g := e.graph.Load(); g != nil {
		return g.Len()
	}
	return 0
}

// Query evaluates q against the ontology graph
func (e *LocalEngine) Query(ctx context.Context, q string) (*Result, error) {
	g := e.graph.Load()
	if g == nil {
		if err := e.Reload(); err != nil {
			return nil, err
		}
		g = e.graph.Load()
	}

	res, err := sparql.Run(ctx, g, q)
	if err != nil {
		return nil, err
	}
	return fromEngine(res), nil
}

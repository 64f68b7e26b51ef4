package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/schollz/progressbar/v3"

	"github.com/xhad/pubgraph/internal/models"
	"github.com/xhad/pubgraph/internal/types"
	"github.com/xhad/pubgraph/pkg/aggregate"
	"github.com/xhad/pubgraph/pkg/batch"
	"github.com/xhad/pubgraph/pkg/bioc"
	"github.com/xhad/pubgraph/pkg/checkpoint"
	cfgPkg "github.com/xhad/pubgraph/pkg/config"
	"github.com/xhad/pubgraph/pkg/extract"
	"github.com/xhad/pubgraph/pkg/fetcher"
	"github.com/xhad/pubgraph/pkg/graph"
	"github.com/xhad/pubgraph/pkg/logger"
	"github.com/xhad/pubgraph/pkg/merge"
	"github.com/xhad/pubgraph/pkg/pubtator"
	"github.com/xhad/pubgraph/pkg/tsv"
)

type App struct {
	config *cfgPkg.Config
	log    *logger.Logger
	force  bool

	newGraphWriter func(ctx context.Context) (types.GraphWriter, error)
}

func NewApp(config *cfgPkg.Config, log *logger.Logger, force bool) *App {
	if log == nil {
		log = logger.Nop()
	}
	a := &App{config: config, log: log, force: force}
	a.newGraphWriter = a.connectNeo4j
	return a
}

func (a *App) Run(ctx context.Context, command string, args []string) error {
	a.log.Info("starting", "command", command)
	start := time.Now()
	defer func() {
		a.log.Info("finished", "command", command, "elapsed", time.Since(start).String())
	}()

	switch command {
	case "fetch":
		return a.fetch(ctx, args)
	case "merge":
		return a.merge(ctx, args)
	case "relate":
		return a.relate(ctx, args)
	case "convert":
		return a.convert(ctx, args)
	case "extract":
		return a.extract(ctx, args)
	case "aggregate":
		_, _, err := a.aggregate(ctx)
		return err
	case "load":
		return a.load(ctx)
	case "ingest":
		concepts, relations, err := a.aggregate(ctx)
		if err != nil {
			return err
		}
		return a.loadTables(ctx, concepts, relations)
	default:
		return fmt.Errorf("unknown command %q", command)
	}
}

type outcome int

const (
	outcomeDone outcome = iota
	outcomeSkipped
	outcomeFailed
)

func tally(results []outcome) (done, skipped, failed int) {
	for _, r := range results {
		switch r {
		case outcomeDone:
			done++
		case outcomeSkipped:
			skipped++
		case outcomeFailed:
			failed++
		}
	}
	return done, skipped, failed
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

var documentExts = []string{".xml", ".bioc"}

// listDocuments returns the BioC files in dir, sorted.
func listDocuments(dir string) ([]string, error) {
	var files []string
	for _, ext := range documentExts {
		matches, err := filepath.Glob(filepath.Join(dir, "*"+ext))
		if err != nil {
			return nil, err
		}
		files = append(files, matches...)
	}
	sort.Strings(files)
	return files, nil
}

// findDocument returns the BioC file for stem in dir, or "".
func findDocument(dir, stem string) string {
	for _, ext := range documentExts {
		p := filepath.Join(dir, stem+ext)
		if exists(p) {
			return p
		}
	}
	return ""
}

// eachFile runs fn over files on the worker pool with a progress bar.
// fn contains its own failures; only cancellation stops the pool.
func (a *App) eachFile(ctx context.Context, workers int, files []string, description string, fn func(path string) (outcome, error)) error {
	bar := getProgressBar(len(files), description)
	results, err := batch.Map(ctx, workers, files, func(ctx context.Context, path string) (outcome, error) {
		defer bar.Add(1)
		r, err := fn(path)
		if err != nil {
			a.log.Error("skipping file", "file", path, "error", err)
			return outcomeFailed, nil
		}
		return r, nil
	})
	bar.Finish()
	if err != nil {
		return err
	}

	done, skipped, failed := tally(results)
	a.log.Info(description, "done", done, "skipped", skipped, "failed", failed)
	color.Green("\n✓ %d done, %d already present, %d failed\n", done, skipped, failed)
	return nil
}

// readPMIDs accepts PMIDs and files listing one PMID per line.
func readPMIDs(args []string) ([]string, error) {
	seen := make(map[string]bool)
	var pmids []string
	add := func(p string) error {
		p = strings.TrimSpace(p)
		if p == "" || strings.HasPrefix(p, "#") {
			return nil
		}
		for _, r := range p {
			if r < '0' || r > '9' {
				return fmt.Errorf("invalid pmid %q", p)
			}
		}
		if !seen[p] {
			seen[p] = true
			pmids = append(pmids, p)
		}
		return nil
	}

	for _, arg := range args {
		if !exists(arg) {
			if err := add(arg); err != nil {
				return nil, err
			}
			continue
		}
		f, err := os.Open(arg)
		if err != nil {
			return nil, err
		}
		sc := bufio.NewScanner(f)
		for sc.Scan() {
			if err := add(sc.Text()); err != nil {
				f.Close()
				return nil, fmt.Errorf("%s: %w", arg, err)
			}
		}
		f.Close()
		if err := sc.Err(); err != nil {
			return nil, err
		}
	}
	return pmids, nil
}

func (a *App) fetch(ctx context.Context, args []string) error {
	pmids, err := readPMIDs(args)
	if err != nil {
		return err
	}
	if len(pmids) == 0 {
		return errors.New("fetch: no pmids given")
	}

	outDir := a.config.Path(cfgPkg.FetchedDir)
	conceptDir := a.config.Path(cfgPkg.ConceptDir)
	pending := make([]string, 0, len(pmids))
	for _, p := range pmids {
		if !a.force && (exists(filepath.Join(outDir, p+".xml")) || exists(extract.TablePath(conceptDir, p))) {
			continue
		}
		pending = append(pending, p)
	}
	a.log.Info("fetching", "requested", len(pmids), "pending", len(pending))
	if len(pending) == 0 {
		color.Green("✓ All %d documents already fetched\n", len(pmids))
		return nil
	}

	color.Blue("\nFetching %d documents from PubTator3\n", len(pending))
	bar := getProgressBar(len(pending), "Fetching documents...")
	f, err := fetcher.NewWithConfig(fetcher.FetcherConfig{
		BaseURL:   a.config.PubTator.BaseURL,
		BatchSize: a.config.PubTator.BatchSize,
		RateLimit: a.config.PubTator.RateLimit,
		Timeout:   time.Duration(a.config.PubTator.TimeoutSeconds) * time.Second,
		FullText:  *a.config.PubTator.FullText,
		OnProgress: func(p []string) {
			bar.Add(len(p))
		},
	})
	if err != nil {
		return fmt.Errorf("failed to initialize fetcher: %v", err)
	}

	n, err := fetchTo(ctx, f, pending, outDir)
	bar.Finish()
	color.Green("\n✓ Saved %d documents to %s\n", n, outDir)
	return err
}

// fetchTo saves every retrieved document as its own collection, including
// those retrieved before a failed batch.
func fetchTo(ctx context.Context, f types.Fetcher, pmids []string, outDir string) (int, error) {
	docs, fetchErr := f.Fetch(ctx, pmids)
	n := 0
	for _, d := range docs {
		path := filepath.Join(outDir, d.PMID()+".xml")
		c := &bioc.Collection{Source: "PubTator3", Documents: []models.Document{d}}
		if err := bioc.SaveFile(path, c); err != nil {
			return n, fmt.Errorf("failed to save %s: %w", path, err)
		}
		n++
	}
	return n, fetchErr
}

// specialistFlag collects repeated -specialist Category=dir values.
type specialistFlag map[string]string

func (s specialistFlag) String() string {
	parts := make([]string, 0, len(s))
	for k, v := range s {
		parts = append(parts, k+"="+v)
	}
	sort.Strings(parts)
	return strings.Join(parts, ",")
}

func (s specialistFlag) Set(v string) error {
	name, dir, ok := strings.Cut(v, "=")
	if !ok || name == "" || dir == "" {
		return fmt.Errorf("want Category=dir, got %q", v)
	}
	s[name] = dir
	return nil
}

func selectCategories(names []string) ([]merge.Category, error) {
	all := merge.DefaultCategories()
	if len(names) == 0 {
		return all, nil
	}
	byName := make(map[string]merge.Category, len(all))
	for _, c := range all {
		byName[c.Name] = c
	}
	out := make([]merge.Category, 0, len(names))
	for _, n := range names {
		c, ok := byName[n]
		if !ok {
			return nil, fmt.Errorf("unknown category %q", n)
		}
		out = append(out, c)
	}
	return out, nil
}

func (a *App) merge(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("merge", flag.ContinueOnError)
	baseDir := fs.String("base", a.config.Path(cfgPkg.BaseTaggerDir), "Directory of base tagger BioC files")
	outDir := fs.String("out", a.config.Path(cfgPkg.MergedDir), "Directory for merged BioC files")
	specialists := specialistFlag{}
	fs.Var(specialists, "specialist", "Category=dir of a specialist tagger (repeatable)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if len(specialists) == 0 {
		return errors.New("merge: at least one -specialist is required")
	}

	policy, err := merge.ParsePolicy(a.config.Merge.Policy)
	if err != nil {
		return err
	}
	categories, err := selectCategories(a.config.Merge.Categories)
	if err != nil {
		return err
	}
	for name := range specialists {
		if _, err := selectCategories([]string{name}); err != nil {
			return err
		}
	}
	m := merge.NewWithConfig(merge.Config{Categories: categories, Policy: policy}, a.log)

	files, err := listDocuments(*baseDir)
	if err != nil {
		return err
	}
	color.Blue("\nMerging %d documents (%s policy)\n", len(files), policy)
	return a.eachFile(ctx, a.config.Merge.Workers, files, "Merging documents...", func(path string) (outcome, error) {
		out := filepath.Join(*outDir, bioc.Stem(path)+".xml")
		if !a.force && exists(out) {
			return outcomeSkipped, nil
		}
		return outcomeDone, mergeFile(m, path, specialists, out)
	})
}

// mergeFile enriches every document of the base file with the specialist
// documents sharing its id. A specialist without a file for this stem is
// left out.
func mergeFile(m types.Merger, basePath string, specialists map[string]string, out string) error {
	base, err := bioc.LoadFile(basePath)
	if err != nil {
		return err
	}
	stem := bioc.Stem(basePath)

	sources := make(map[string]map[string]*models.Document, len(specialists))
	for name, dir := range specialists {
		p := findDocument(dir, stem)
		if p == "" {
			continue
		}
		c, err := bioc.LoadFile(p)
		if err != nil {
			return err
		}
		byID := make(map[string]*models.Document, len(c.Documents))
		for i := range c.Documents {
			byID[c.Documents[i].ID] = &c.Documents[i]
		}
		sources[name] = byID
	}

	for i := range base.Documents {
		doc := &base.Documents[i]
		specs := make(map[string]*models.Document, len(sources))
		for name, byID := range sources {
			if d, ok := byID[doc.ID]; ok {
				specs[name] = d
			}
		}
		if _, err := m.Merge(doc, specs); err != nil {
			return err
		}
	}
	return bioc.SaveFile(out, base)
}

func (a *App) relate(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("relate", flag.ContinueOnError)
	mergedDir := fs.String("merged", a.config.Path(cfgPkg.MergedDir), "Directory of merged BioC files")
	relDir := fs.String("relations", a.config.Path(cfgPkg.RelationTaggerDir), "Directory of relation tagger PubTator files")
	outDir := fs.String("out", a.config.Path(cfgPkg.RelatedDir), "Directory for BioC files with relations")
	if err := fs.Parse(args); err != nil {
		return err
	}

	files, err := filepath.Glob(filepath.Join(*relDir, "*.pubtator"))
	if err != nil {
		return err
	}
	sort.Strings(files)

	color.Blue("\nAttaching relations to %d documents\n", len(files))
	return a.eachFile(ctx, a.config.Merge.Workers, files, "Resolving relations...", func(path string) (outcome, error) {
		stem := bioc.Stem(path)
		out := filepath.Join(*outDir, stem+".xml")
		if !a.force && exists(out) {
			return outcomeSkipped, nil
		}
		merged := findDocument(*mergedDir, stem)
		if merged == "" {
			return outcomeFailed, fmt.Errorf("no merged document for %s", stem)
		}
		dropped, err := relateFile(path, merged, out)
		if err != nil {
			return outcomeFailed, err
		}
		a.log.Debug("resolved relations", "document", stem, "dropped", dropped)
		return outcomeDone, nil
	})
}

// relateFile replaces the relations of the merged document with the
// resolvable relations from the relation tagger's output.
func relateFile(pubtatorPath, mergedPath, out string) (int, error) {
	f, err := os.Open(pubtatorPath)
	if err != nil {
		return 0, err
	}
	docs, err := pubtator.Decode(f)
	f.Close()
	if err != nil {
		return 0, fmt.Errorf("%s: %w", pubtatorPath, err)
	}
	if len(docs) == 0 {
		return 0, fmt.Errorf("%s: no documents", pubtatorPath)
	}
	tagged := docs[0].ToDocument()

	c, err := bioc.LoadFile(mergedPath)
	if err != nil {
		return 0, err
	}
	if len(c.Documents) == 0 {
		return 0, fmt.Errorf("%s: no documents", mergedPath)
	}
	dropped := merge.ResolveRelations(&c.Documents[0], tagged.Relations)
	return dropped, bioc.SaveFile(out, c)
}

func (a *App) convert(ctx context.Context, args []string) error {
	if len(args) != 2 {
		return errors.New("convert: want <in> <out>")
	}
	in, out := args[0], args[1]

	info, err := os.Stat(in)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return convertFile(in, out)
	}

	var files []string
	for _, pattern := range []string{"*.xml", "*.bioc", "*.pubtator"} {
		matches, err := filepath.Glob(filepath.Join(in, pattern))
		if err != nil {
			return err
		}
		files = append(files, matches...)
	}
	sort.Strings(files)

	return a.eachFile(ctx, a.config.Merge.Workers, files, "Converting files...", func(path string) (outcome, error) {
		ext := ".pubtator"
		if filepath.Ext(path) == ".pubtator" {
			ext = ".xml"
		}
		target := filepath.Join(out, bioc.Stem(path)+ext)
		if !a.force && exists(target) {
			return outcomeSkipped, nil
		}
		return outcomeDone, convertFile(path, target)
	})
}

// convertFile converts BioC to PubTator or back, chosen by the input
// extension.
func convertFile(in, out string) error {
	if filepath.Ext(in) == ".pubtator" {
		f, err := os.Open(in)
		if err != nil {
			return err
		}
		docs, err := pubtator.Decode(f)
		f.Close()
		if err != nil {
			return fmt.Errorf("%s: %w", in, err)
		}
		c := &bioc.Collection{Source: "PubTator"}
		for _, d := range docs {
			c.Documents = append(c.Documents, d.ToDocument())
		}
		return bioc.SaveFile(out, c)
	}

	c, err := bioc.LoadFile(in)
	if err != nil {
		return err
	}
	docs := make([]pubtator.Document, 0, len(c.Documents))
	for _, d := range c.Documents {
		docs = append(docs, pubtator.FromDocument(d))
	}
	return tsv.SaveFile(out, func(w io.Writer) error {
		return pubtator.Encode(w, docs)
	})
}

func (a *App) extract(ctx context.Context, args []string) error {
	dirs := args
	if len(dirs) == 0 {
		dirs = []string{a.config.Path(cfgPkg.FetchedDir), a.config.Path(cfgPkg.RelatedDir)}
	}
	var files []string
	for _, dir := range dirs {
		found, err := listDocuments(dir)
		if err != nil {
			return err
		}
		files = append(files, found...)
	}

	conceptDir := a.config.Path(cfgPkg.ConceptDir)
	relationDir := a.config.Path(cfgPkg.RelationDir)
	ex := extract.NewWithConfig(extract.Config{Resource: a.config.Extract.Resource})

	color.Blue("\nExtracting tables from %d files\n", len(files))
	return a.eachFile(ctx, a.config.Aggregate.Workers, files, "Extracting tables...", func(path string) (outcome, error) {
		if !a.force && exists(extract.TablePath(conceptDir, bioc.Stem(path))) {
			return outcomeSkipped, nil
		}
		return outcomeDone, a.extractFile(ex, path, conceptDir, relationDir)
	})
}

// extractFile writes the tables of every document in path. A document with a
// schema error is logged and left out; the rest of the file still counts.
func (a *App) extractFile(ex types.Extractor, path, conceptDir, relationDir string) error {
	c, err := bioc.LoadFile(path)
	if err != nil {
		return err
	}
	for _, doc := range c.Documents {
		res, err := ex.Process(doc)
		var se *extract.SchemaError
		if errors.As(err, &se) {
			a.log.Error("skipping document", "file", path, "pmid", se.PMID, "error", err)
			continue
		}
		if err != nil {
			return err
		}
		if err := extract.WriteTables(res, conceptDir, relationDir); err != nil {
			return err
		}
	}
	return nil
}

func (a *App) checkpointOptions() checkpoint.Options {
	c := a.config.Checkpoint
	return checkpoint.Options{
		Backend: checkpoint.Backend(c.Backend),
		Dir:     c.Dir,
		S3: checkpoint.S3Options{
			Region:    c.S3.Region,
			Endpoint:  c.S3.Endpoint,
			AccessKey: c.S3.AccessKey,
			SecretKey: c.S3.SecretKey,
			Bucket:    c.S3.Bucket,
			Prefix:    c.S3.Prefix,
		},
		Postgres: checkpoint.PostgresOptions{
			URL:   c.Postgres.URL,
			Table: c.Postgres.Table,
		},
	}
}

func (a *App) aggregate(ctx context.Context) (*aggregate.ConceptTable, *aggregate.RelationTable, error) {
	agg := a.config.Aggregate
	concepts, err := runAggregation(ctx, a, aggregate.Concepts(a.config.Extract.Resource), agg.ConceptDirs, agg.ConceptBatchSize, true)
	if err != nil {
		return nil, nil, err
	}
	relations, err := runAggregation(ctx, a, aggregate.Relations(), agg.RelationDirs, agg.RelationBatchSize, true)
	if err != nil {
		return nil, nil, err
	}
	return concepts, relations, nil
}

// runAggregation resumes the named checkpoint and, when run is set, folds in
// every table under dirs not yet covered by it.
func runAggregation[R any, T aggregate.Table[R]](ctx context.Context, a *App, kind aggregate.Kind[R, T], dirs []string, batchSize int, run bool) (T, error) {
	var zero T
	store, closeStore, err := checkpoint.Open(ctx, a.checkpointOptions(), kind.Name)
	if err != nil {
		return zero, err
	}
	defer closeStore()

	var bar *progressbar.ProgressBar
	p := aggregate.NewPipeline(kind, store, aggregate.Config{
		BatchSize: batchSize,
		Workers:   a.config.Aggregate.Workers,
		OnBatch: func(done, total int) {
			if bar == nil {
				bar = getProgressBar(total, fmt.Sprintf("Aggregating %s...", kind.Name))
			}
			bar.Set(done)
		},
	}, a.log)

	state, err := p.Resume(ctx)
	if err != nil {
		return zero, err
	}
	if !run {
		return state.Table, nil
	}

	color.Blue("\nAggregating %s from %s\n", kind.Name, strings.Join(dirs, ", "))
	summary, err := p.Run(ctx, state, dirs)
	if bar != nil {
		bar.Finish()
	}
	if err != nil {
		return zero, err
	}
	color.Green("\n✓ %s: %d groups, %d rows from %d new files (%d already aggregated, %d failed)\n",
		kind.Name, state.Table.Len(), summary.Rows,
		summary.Files-summary.Skipped-summary.Failed, summary.Skipped, summary.Failed)
	return state.Table, nil
}

func (a *App) connectNeo4j(ctx context.Context) (types.GraphWriter, error) {
	n := a.config.Neo4j
	client, err := graph.NewClient(ctx, graph.ClientConfig{
		URI:         n.URI,
		User:        n.User,
		Password:    n.Password,
		Database:    n.Database,
		Timeout:     time.Duration(n.TimeoutSeconds) * time.Second,
		MaxPoolSize: n.MaxPoolSize,
	}, a.log)
	if err != nil {
		return nil, err
	}
	return client, nil
}

func (a *App) load(ctx context.Context) error {
	concepts, err := runAggregation(ctx, a, aggregate.Concepts(a.config.Extract.Resource), nil, 1, false)
	if err != nil {
		return err
	}
	relations, err := runAggregation(ctx, a, aggregate.Relations(), nil, 1, false)
	if err != nil {
		return err
	}
	return a.loadTables(ctx, concepts, relations)
}

// loadTables upserts all nodes before any edge, each group smallest first.
func (a *App) loadTables(ctx context.Context, concepts *aggregate.ConceptTable, relations *aggregate.RelationTable) error {
	specs := append(graph.ConceptUpserts(concepts.Rows()), graph.RelationUpserts(relations.Rows())...)
	if len(specs) == 0 {
		color.Yellow("Nothing to load: both checkpoints are empty\n")
		return nil
	}

	spinner := getSpinner("Connecting to neo4j...")
	writer, err := a.newGraphWriter(ctx)
	spinner.Finish()
	if err != nil {
		return err
	}
	defer writer.Close(ctx)

	color.Blue("\nLoading %d node and edge groups into neo4j\n", len(specs))
	bar := getProgressBar(len(specs), "Upserting groups...")
	var loader types.GraphLoader = graph.NewLoader(writer, graph.LoaderConfig{
		BatchSize: a.config.Neo4j.BatchSize,
		OnSpec: func(graph.UpsertSpec) {
			bar.Add(1)
		},
	}, a.log)
	err = loader.Load(ctx, specs)
	bar.Finish()
	if err != nil {
		return err
	}
	color.Green("\n✓ Loaded %d concepts and %d relations\n", concepts.Len(), relations.Len())
	return nil
}

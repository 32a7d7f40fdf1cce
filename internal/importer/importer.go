package importer

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/cory-johannsen/udkimport/internal/importer/mapping"
	"github.com/cory-johannsen/udkimport/internal/importer/materialize"
	"github.com/cory-johannsen/udkimport/internal/importer/resolve"
	"github.com/cory-johannsen/udkimport/internal/importer/scene"
	"github.com/cory-johannsen/udkimport/internal/importer/udk"
)

// DefaultMaxParallel bounds concurrent file workers when Options leaves it
// unset.
const DefaultMaxParallel = 4

// MaxParallelLimit is the largest accepted MaxParallel.
const MaxParallelLimit = 16

// Options configures a Session.
type Options struct {
	// Database receives the materialized assets. Required.
	Database materialize.AssetDatabase
	// Mapper maps legacy paths and classes to target identifiers.
	Mapper mapping.Mapper
	Policy materialize.CollisionPolicy
	// DestinationRoot prefixes target paths of locally declared assets.
	DestinationRoot string
	// Filters selects asset categories; nil imports everything.
	Filters                  *materialize.Filters
	MaxParallel              int
	LightIntensityMultiplier float64
	RequireMaterials         bool
	// AutoExportStaticMeshes materializes every declared StaticMesh, not
	// only the ones scene nodes reference.
	AutoExportStaticMeshes bool
	Package                udk.PackageOptions
	Sink                   ProgressSink
	Logger                 *zap.Logger
}

// Validate reports every invalid option.
func (o Options) Validate() error {
	var errs []error
	if o.Database == nil {
		errs = append(errs, errors.New("asset database is required"))
	}
	if _, err := materialize.ParseCollisionPolicy(string(o.Policy)); err != nil {
		errs = append(errs, err)
	}
	if o.MaxParallel < 0 || o.MaxParallel > MaxParallelLimit {
		errs = append(errs, fmt.Errorf("max parallel must be between 1 and %d, got %d", MaxParallelLimit, o.MaxParallel))
	}
	if o.LightIntensityMultiplier < 0 {
		errs = append(errs, fmt.Errorf("light intensity multiplier must not be negative, got %g", o.LightIntensityMultiplier))
	}
	return errors.Join(errs...)
}

// Session imports batches of legacy files. A Session may run several
// batches; each Run is independent and has its own identifier.
type Session struct {
	opts   Options
	logger *zap.Logger
}

// NewSession validates opts and returns a Session.
//
// Postcondition: returns a non-nil Session, or an error naming every invalid
// option.
func NewSession(opts Options) (*Session, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	opts.Policy, _ = materialize.ParseCollisionPolicy(string(opts.Policy))
	if opts.MaxParallel == 0 {
		opts.MaxParallel = DefaultMaxParallel
	}
	if opts.Mapper == nil {
		opts.Mapper = mapping.Empty()
	}
	if opts.Filters == nil {
		all := materialize.AllFilters()
		opts.Filters = &all
	}
	if opts.Sink == nil {
		opts.Sink = NopSink{}
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Session{opts: opts, logger: logger}, nil
}

// Run imports inputs and returns the batch report.
//
// Files are parsed in parallel, declarations of the whole batch are indexed,
// then each file is resolved, built, planned and committed by a bounded pool
// of workers sharing one fingerprint table. File transactions take turns
// through the table, so an asset is written by the first file to commit it
// and a rolled-back file never withholds it from another. Cancelling ctx
// stops new files and new assets from starting; a file being committed is
// rolled back whole.
//
// Postcondition: every input appears in Report.Files, and every attempted
// item has exactly one entry. Unless the run is cancelled, every declared
// asset is either looked up by some file or reported Skipped-unreferenced.
func (s *Session) Run(ctx context.Context, inputs []Input) *Report {
	r := &run{
		Session: s,
		id:      uuid.NewString(),
		files:   make([]*fileState, len(inputs)),
	}
	seen := map[string]bool{}
	for i, in := range inputs {
		f := &fileState{
			input:  in,
			result: FileResult{SourceID: in.SourceID, Format: in.Format},
		}
		r.files[i] = f
		switch {
		case in.SourceID == "":
			f.rejected = fmt.Errorf("input %d has no source id", i)
		case seen[in.SourceID]:
			f.rejected = fmt.Errorf("duplicate source id %q", in.SourceID)
		}
		seen[in.SourceID] = true
	}
	return r.execute(ctx)
}

// run is the state of one Session.Run.
type run struct {
	*Session
	id    string
	files []*fileState

	mu        sync.Mutex
	completed int
	estimated int
	handled   int
}

type fileState struct {
	input  Input
	forest []*udk.RawRecord
	done   bool
	// rejected marks an input that is reported failed without parsing.
	rejected error
	started  time.Time
	entries  []Entry
	result   FileResult
	// referenced holds the declaration indices the file's plan looked up.
	referenced []int
}

func (r *run) execute(ctx context.Context) *Report {
	report := &Report{SessionID: r.id, StartedAt: time.Now().UTC()}
	logger := r.logger.With(zap.String("session", r.id))
	logger.Info("import session started", zap.Int("files", len(r.files)))

	r.parallel(func(f *fileState) { r.parse(ctx, f) })

	index := resolve.NewIndex()
	for _, f := range r.files {
		if f.done {
			continue
		}
		for _, w := range index.Add(f.input.SourceID, f.forest) {
			r.warn(f, w)
		}
	}
	r.tick("", PhaseIndex)

	resolver := resolve.New(index, r.opts.Mapper)
	table := materialize.NewFingerprintTable()
	r.parallel(func(f *fileState) { r.importFile(ctx, f, resolver, table) })
	if ctx.Err() == nil {
		r.reportUnreferenced(index)
	}

	for _, f := range r.files {
		report.Entries = append(report.Entries, f.entries...)
		report.Files = append(report.Files, f.result)
	}
	report.Cancelled = ctx.Err() != nil
	report.FinishedAt = time.Now().UTC()

	sum := report.Summary()
	logger.Info("import session finished",
		zap.Int("total", sum.Total),
		zap.Int("created", sum.Created),
		zap.Int("skipped", sum.Skipped),
		zap.Int("failed", sum.Failed),
		zap.Bool("cancelled", report.Cancelled),
		zap.Duration("elapsed", report.FinishedAt.Sub(report.StartedAt)),
	)
	return report
}

// parallel runs fn for every file on at most MaxParallel goroutines and
// waits for all of them.
func (r *run) parallel(fn func(*fileState)) {
	var g errgroup.Group
	g.SetLimit(r.opts.MaxParallel)
	for _, f := range r.files {
		f := f
		g.Go(func() error {
			fn(f)
			return nil
		})
	}
	_ = g.Wait()
}

func (r *run) parse(ctx context.Context, f *fileState) {
	f.started = time.Now()
	if f.rejected != nil {
		r.failFile(f, f.rejected)
		return
	}
	if err := ctx.Err(); err != nil {
		r.failFile(f, fmt.Errorf("file not started: %w", err))
		return
	}
	forest, err := udk.Read(f.input.Data, f.input.Format, r.opts.Package)
	if err != nil {
		r.failFile(f, err)
		return
	}
	f.forest = forest
	r.tick(f.input.SourceID, PhaseParse)
}

func (r *run) importFile(ctx context.Context, f *fileState, resolver *resolve.Resolver, table *materialize.FingerprintTable) {
	if f.done {
		return
	}
	if err := ctx.Err(); err != nil {
		r.failFile(f, fmt.Errorf("file not started: %w", err))
		return
	}
	id := f.input.SourceID
	logger := r.logger.With(zap.String("source", id))

	records := resolver.Resolve(f.forest)
	f.result.References = resolve.Tally(records)

	built := scene.Build(records, scene.Options{
		SourceID:                 id,
		Mapper:                   r.opts.Mapper,
		LightIntensityMultiplier: r.opts.LightIntensityMultiplier,
		RequireMaterials:         r.opts.RequireMaterials,
		Logger:                   logger,
	})
	for _, w := range built.Warnings {
		r.warn(f, w)
	}
	for _, ve := range built.Failed {
		r.addEntry(f, failedEntry(id, ve.NodeID, ve))
	}
	f.result.Nodes = len(built.Nodes()) + len(built.Failed)
	r.tick(id, PhaseBuild)

	plan := materialize.NewPlanner(resolver, r.opts.Mapper, table, materialize.PlanOptions{
		SourceID:               id,
		DestinationRoot:        r.opts.DestinationRoot,
		Filters:                *r.opts.Filters,
		AutoExportStaticMeshes: r.opts.AutoExportStaticMeshes,
		Logger:                 logger,
	}).Plan(built.Roots)
	f.referenced = plan.Referenced
	for _, w := range plan.Warnings {
		r.warn(f, w)
	}
	for _, res := range plan.Results {
		r.addEntry(f, entryFromResult(id, res))
	}
	for _, p := range plan.Placements {
		f.result.Placements = append(f.result.Placements, placementRecord(p))
	}
	r.mu.Lock()
	r.estimated += plan.Estimated()
	r.mu.Unlock()
	r.tick(id, PhasePlan)

	committer := materialize.NewCommitter(r.opts.Database, r.opts.Policy, table, logger)
	committer.OnAsset = func(res materialize.Result) {
		r.mu.Lock()
		r.handled++
		r.mu.Unlock()
		r.tick(id, PhaseCommit)
	}
	for _, res := range committer.Commit(ctx, plan) {
		r.addEntry(f, entryFromResult(id, res))
	}
	r.complete(f)
}

// reportUnreferenced gives every declared asset that no file looked up a
// Skipped-unreferenced entry under its declaring file. Package groups are
// containers and are not reported.
func (r *run) reportUnreferenced(index *resolve.Index) {
	used := make(map[int]bool, index.Len())
	bySource := make(map[string]*fileState, len(r.files))
	for _, f := range r.files {
		for _, i := range f.referenced {
			used[i] = true
		}
		bySource[f.input.SourceID] = f
	}
	for i := 0; i < index.Len(); i++ {
		decl := index.Declaration(i)
		if used[i] || strings.EqualFold(decl.Class, "Package") {
			continue
		}
		f, ok := bySource[decl.SourceID]
		if !ok {
			continue
		}
		kind, _ := materialize.KindForClass(decl.Class)
		r.addEntry(f, entryFromResult(decl.SourceID, materialize.Result{
			Item:    decl.Path,
			Kind:    kind,
			Outcome: materialize.SkippedUnreferenced,
			Reason:  fmt.Sprintf("no imported scene node uses this %s", decl.Class),
		}))
	}
}

// failFile records a file that produced no records.
func (r *run) failFile(f *fileState, err error) {
	r.addEntry(f, failedEntry(f.input.SourceID, f.input.SourceID, err))
	r.complete(f)
}

func (r *run) complete(f *fileState) {
	f.done = true
	f.result.Duration = time.Since(f.started)
	r.mu.Lock()
	r.completed++
	r.mu.Unlock()
	r.tick(f.input.SourceID, PhaseDone)
}

func (r *run) addEntry(f *fileState, e Entry) {
	f.entries = append(f.entries, e)
	if e.Outcome == materialize.Failed {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.opts.Sink.Error(f.input.SourceID, e.Err)
	}
}

func (r *run) warn(f *fileState, msg string) {
	f.result.Warnings = append(f.result.Warnings, msg)
	r.mu.Lock()
	defer r.mu.Unlock()
	r.opts.Sink.Warn(f.input.SourceID, msg)
}

func (r *run) tick(sourceID string, phase Phase) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.opts.Sink.Progress(Tick{
		SourceID:           sourceID,
		Phase:              phase,
		Files:              len(r.files),
		FilesCompleted:     r.completed,
		AssetsEstimated:    r.estimated,
		AssetsMaterialized: r.handled,
	})
}

// Importer loads a Source and runs it through a Session.
type Importer struct {
	source  Source
	session *Session
}

// New constructs an Importer.
//
// Precondition: source and session must be non-nil.
// Postcondition: returns a non-nil Importer.
func New(source Source, session *Session) *Importer {
	return &Importer{source: source, session: session}
}

// Run loads every input and imports them as one batch.
//
// Postcondition: returns a report, or an error when the source could not be
// loaded.
func (imp *Importer) Run(ctx context.Context) (*Report, error) {
	inputs, err := imp.source.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading source: %w", err)
	}
	return imp.session.Run(ctx, inputs), nil
}

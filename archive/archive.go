package archive

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	repoarchive "github.com/wolfeidau/repo-archive"
	"github.com/wolfeidau/repo-archive/telemetry"
	"golang.org/x/sync/singleflight"
)

// ParseFunc turns archive file contents into an index.
type ParseFunc[T Index] func(data []byte) (T, error)

// ReloadOutcome describes the result of a reload attempt.
type ReloadOutcome string

const (
	// ReloadSuccess means a new index replaced the previous one.
	ReloadSuccess ReloadOutcome = "success"

	// ReloadUnchanged means the file contents matched the loaded digest.
	ReloadUnchanged ReloadOutcome = "unchanged"

	// ReloadError means the file could not be read or parsed; the previous
	// index is still in force.
	ReloadError ReloadOutcome = "error"
)

// Archive ties an archive file to the store holding its parsed index.
type Archive[T Index] struct {
	kind   Kind
	path   string
	parse  ParseFunc[T]
	store  *Store[T]
	logger *slog.Logger
	now    func() time.Time

	// reloads from the watcher and from SIGHUP are coalesced
	group singleflight.Group
}

type options struct {
	logger *slog.Logger
	now    func() time.Time
}

// Option configures an Archive.
type Option func(*options)

// WithLogger sets the logger for the archive.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithNow sets the time function for testing.
func WithNow(now func() time.Time) Option {
	return func(o *options) {
		o.now = now
	}
}

// Open loads the archive file at path and returns an Archive holding the
// parsed index. A read or parse failure here is fatal to the caller: no
// Archive is returned.
func Open[T Index](ctx context.Context, kind Kind, path string, parse ParseFunc[T], opts ...Option) (*Archive[T], error) {
	o := &options{
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}

	a := &Archive[T]{
		kind:   kind,
		path:   path,
		parse:  parse,
		logger: o.logger,
		now:    o.now,
	}

	snap, err := a.load()
	if err != nil {
		return nil, fmt.Errorf("loading %s archive: %w", kind, err)
	}
	a.store = NewStore(snap)

	telemetry.UpdateArchiveEntries(ctx, string(kind), snap.Entries())
	a.logger.Info("archive loaded",
		"kind", kind,
		"path", path,
		"entries", snap.Entries(),
		"digest", snap.Digest.ShortString(),
	)
	return a, nil
}

// OpenGit loads a git archive file.
func OpenGit(ctx context.Context, path string, opts ...Option) (*Archive[*GitIndex], error) {
	return Open(ctx, KindGit, path, ParseGitBytes, opts...)
}

// OpenHuggingface loads a model-repository archive file.
func OpenHuggingface(ctx context.Context, path string, opts ...Option) (*Archive[*HuggingfaceIndex], error) {
	return Open(ctx, KindHuggingface, path, ParseHuggingfaceBytes, opts...)
}

// Kind returns the archive kind.
func (a *Archive[T]) Kind() Kind {
	return a.kind
}

// Path returns the archive file path.
func (a *Archive[T]) Path() string {
	return a.path
}

// Snapshot returns the current snapshot.
func (a *Archive[T]) Snapshot() Snapshot[T] {
	return a.store.Snapshot()
}

// Current returns the current index.
func (a *Archive[T]) Current() T {
	return a.store.Snapshot().Index
}

// Reload re-reads and re-parses the archive file and replaces the index.
// On failure the previous index stays in force and the error is returned.
func (a *Archive[T]) Reload(ctx context.Context) (ReloadOutcome, error) {
	v, err, _ := a.group.Do(string(a.kind), func() (any, error) {
		return a.reload(ctx)
	})
	return v.(ReloadOutcome), err
}

func (a *Archive[T]) reload(ctx context.Context) (ReloadOutcome, error) {
	start := a.now()
	logger := a.logger.With("kind", a.kind, "path", a.path)

	fail := func(err error) (ReloadOutcome, error) {
		telemetry.RecordArchiveReload(ctx, string(a.kind), string(ReloadError), a.now().Sub(start))
		logger.Error("archive reload failed, keeping previous index", "error", err)
		return ReloadError, err
	}

	data, err := ReadFile(a.path)
	if err != nil {
		return fail(err)
	}

	current := a.store.Snapshot()
	digest := repoarchive.DigestBytes(data)
	if digest == current.Digest {
		telemetry.RecordArchiveReload(ctx, string(a.kind), string(ReloadUnchanged), a.now().Sub(start))
		logger.Debug("archive unchanged", "digest", digest.ShortString())
		return ReloadUnchanged, nil
	}

	snap, err := a.build(data, digest)
	if err != nil {
		return fail(err)
	}
	a.store.Replace(snap)

	telemetry.RecordArchiveReload(ctx, string(a.kind), string(ReloadSuccess), a.now().Sub(start))
	telemetry.UpdateArchiveEntries(ctx, string(a.kind), snap.Entries())
	logger.Info("archive reloaded",
		"entries", snap.Entries(),
		"previous_entries", current.Entries(),
		"digest", digest.ShortString(),
	)
	return ReloadSuccess, nil
}

func (a *Archive[T]) load() (Snapshot[T], error) {
	data, err := ReadFile(a.path)
	if err != nil {
		return Snapshot[T]{}, err
	}
	return a.build(data, repoarchive.DigestBytes(data))
}

// build parses data into a snapshot without touching the store.
func (a *Archive[T]) build(data []byte, digest repoarchive.Digest) (Snapshot[T], error) {
	idx, err := a.parse(data)
	if err != nil {
		return Snapshot[T]{}, fmt.Errorf("parsing %s: %w", a.path, err)
	}
	return Snapshot[T]{
		Index:    idx,
		Digest:   digest,
		LoadedAt: a.now(),
	}, nil
}

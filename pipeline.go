package etlsri

import (
	"context"
	"io"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/afero"
	"golang.org/x/sync/semaphore"
	"golang.org/x/text/encoding"
	"golang.org/x/xerrors"
)

// Pipeline downloads the source object, transforms it and loads it into the destination table.
// It holds no clients; each run authenticates on its own.
type Pipeline struct {
	cfg      Config
	enc      encoding.Encoding
	fs       afero.Fs
	auth     Authenticator
	notifier Notifier
	logger   zerolog.Logger
	now      func() time.Time

	// sem is the run slot shared by every DAG of the pipeline.
	sem *semaphore.Weighted

	logLevel      string
	prettyLogging bool
	logOutput     io.Writer
}

// New builds a Pipeline for cfg.
func New(cfg Config, opts ...Option) (*Pipeline, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	p := &Pipeline{
		cfg:           cfg,
		fs:            afero.NewOsFs(),
		auth:          &ServiceAccountAuthenticator{},
		now:           time.Now,
		sem:           semaphore.NewWeighted(1),
		logLevel:      cfg.LogLevel,
		prettyLogging: cfg.PrettyLogging,
	}

	for _, o := range opts {
		if err := o.apply(p); err != nil {
			return nil, err
		}
	}

	logger, err := newLogger(p.logOutput, p.logLevel, p.prettyLogging)
	if err != nil {
		return nil, configError(StageConfig, err)
	}
	p.logger = logger

	enc, err := lookupEncoding(cfg.Encoding)
	if err != nil {
		return nil, configError(StageConfig, err)
	}
	p.enc = enc

	if p.notifier == nil && cfg.SlackToken != "" && cfg.SlackChannel != "" {
		p.notifier = &SlackNotifier{Token: cfg.SlackToken, Channel: cfg.SlackChannel}
	}

	return p, nil
}

// Config returns the configuration of p.
func (p *Pipeline) Config() Config {
	return p.cfg
}

// Logger returns the base logger of p.
func (p *Pipeline) Logger() zerolog.Logger {
	return p.logger
}

// Open authenticates and returns a Run bound to the new clients.
// Inside a DAG run, the Run takes the ID and the logger of the DAG run.
// Authentication failures are never retryable.
func (p *Pipeline) Open(ctx context.Context) (*Run, error) {
	id := uuid.NewString()
	if rid, ok := RunIDFrom(ctx); ok {
		id = rid
	}

	r := &Run{
		ID:     id,
		p:      p,
		logger: p.logger.With().Str("run_id", id).Logger(),
	}
	ctx = r.context(ctx)

	s, err := p.auth.Authenticate(ctx, p.cfg)
	if err != nil {
		if KindOf(err) == 0 {
			err = configError(StageAuthenticate, err)
		}
		log.Ctx(ctx).Error().Err(err).Msg("authentication failed")
		return nil, err
	}
	r.session = s

	return r, nil
}

// RunOnce runs every stage in order and returns the load report.
func (p *Pipeline) RunOnce(ctx context.Context) (*Report, error) {
	r, err := p.Open(ctx)
	if err != nil {
		return nil, err
	}
	defer r.Close()

	if err := r.Fetch(ctx); err != nil {
		return nil, err
	}

	if err := r.TransformAndLoad(ctx); err != nil {
		return nil, err
	}

	return r.Report(), nil
}

// Run is a single authenticated run of a Pipeline.
type Run struct {
	ID string

	p       *Pipeline
	session *Session
	logger  zerolog.Logger
	report  *Report
}

// context keeps the logger of ctx when ctx already belongs to r, as it does inside a DAG run.
func (r *Run) context(ctx context.Context) context.Context {
	if id, ok := RunIDFrom(ctx); ok && id == r.ID {
		return ctx
	}

	return r.logger.WithContext(withRunID(ctx, r.ID))
}

// Fetch downloads the configured object to the staging file.
func (r *Run) Fetch(ctx context.Context) error {
	if r.session == nil {
		return configError(StageFetch, ErrSessionNotOpen)
	}

	ctx = r.context(ctx)
	cfg := r.p.cfg

	_, err := Fetch(ctx, r.session.Extractor, cfg.Source(), r.p.fs, cfg.LocalFile)
	return err
}

// TransformAndLoad reads the staging file, normalizes and filters it, and replaces the destination table with it.
func (r *Run) TransformAndLoad(ctx context.Context) error {
	if r.session == nil {
		return configError(StageLoad, ErrSessionNotOpen)
	}

	ctx = r.context(ctx)
	cfg := r.p.cfg

	parse, err := ParserFor(DetectFormat(cfg.Format, cfg.LocalFile), cfg.Sheet, r.p.enc)
	if err != nil {
		return configError(StageTransform, err)
	}

	report, err := TransformAndLoad(ctx, r.p.fs, cfg.LocalFile, parse, r.session.Loader, cfg.Destination(), cfg.KeyColumn, cfg.NullValues...)
	if err != nil {
		return err
	}
	r.report = report

	return nil
}

// Report returns the report of the last successful TransformAndLoad, or nil.
func (r *Run) Report() *Report {
	return r.report
}

// Close releases the clients of r. It is safe to call more than once.
func (r *Run) Close() error {
	if r.session == nil {
		return nil
	}

	err := r.session.Close()
	r.session = nil
	if err != nil {
		r.logger.Warn().Err(err).Msg("failed to close clients")
	}

	return err
}

// Report summarizes a transform and load.
type Report struct {
	Source      string
	Destination string
	Columns     []string
	InputRows   int
	DroppedRows int
	LoadedRows  int
}

// ReadTable parses the file at path on fs into a Table.
func ReadTable(ctx context.Context, fs afero.Fs, path string, parse Parser) (*Table, error) {
	f, err := fs.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, dataError(StageTransform, xerrors.Errorf("staging file %s not found: %w", path, err))
		}
		return nil, dataError(StageTransform, xerrors.Errorf("failed to open staging file %s: %w", path, err))
	}
	defer f.Close()

	records, err := parse(ctx, f)
	if err != nil {
		return nil, dataError(StageTransform, xerrors.Errorf("failed to parse %s: %w", path, err))
	}

	t, err := NewTable(records)
	if err != nil {
		return nil, dataError(StageTransform, xerrors.Errorf("failed to read %s as a table: %w", path, err))
	}

	return t, nil
}

// Transform normalizes the column names of t and drops rows whose key column is empty
// or equal to one of nullValues. It returns the number of dropped rows.
func Transform(t *Table, key string, nullValues ...string) (int, error) {
	t.NormalizeColumns()

	dropped, err := t.DropEmpty(key, nullValues...)
	if err != nil {
		return 0, dataError(StageTransform, err)
	}

	return dropped, nil
}

// TransformAndLoad reads path, transforms it and replaces dst with the result through ld.
func TransformAndLoad(
	ctx context.Context,
	fs afero.Fs,
	path string,
	parse Parser,
	ld Loader,
	dst TableRef,
	key string,
	nullValues ...string,
) (*Report, error) {
	l := log.Ctx(ctx)

	t, err := ReadTable(ctx, fs, path, parse)
	if err != nil {
		return nil, err
	}
	input := len(t.Rows)

	dropped, err := Transform(t, key, nullValues...)
	if err != nil {
		return nil, err
	}

	l.Info().
		Strs("columns", t.Columns).
		Int("input_rows", input).
		Int("dropped_rows", dropped).
		Msg("table transformed")

	if err := ld.Load(ctx, dst, t); err != nil {
		if KindOf(err) == 0 {
			err = remoteError(StageLoad, err)
		}
		return nil, err
	}

	l.Info().Str("table", dst.FullID()).Msg("data loaded")

	return &Report{
		Source:      path,
		Destination: dst.FullID(),
		Columns:     t.Columns,
		InputRows:   input,
		DroppedRows: dropped,
		LoadedRows:  len(t.Rows),
	}, nil
}

package etlsri

import (
	"bytes"
	"context"

	"cloud.google.com/go/bigquery"
	"github.com/goccy/go-json"
	"github.com/rs/zerolog/log"
	"golang.org/x/xerrors"
)

// Loader replaces the contents of a destination table, such as a BigQuery table, with a Table.
// Load blocks until the destination reports completion. The destination keeps its previous
// contents unless Load returns nil.
type Loader interface {
	Load(context.Context, TableRef, *Table) error
}

type bigqueryLoader struct {
	client       *bigquery.Client
	stringSchema bool
}

// NewBigQueryLoader builds a Loader running BigQuery load jobs that truncate the destination.
// If stringSchema is false the schema is auto-detected from the data.
func NewBigQueryLoader(c *bigquery.Client, stringSchema bool) Loader {
	return &bigqueryLoader{client: c, stringSchema: stringSchema}
}

func (l *bigqueryLoader) Load(ctx context.Context, ref TableRef, t *Table) error {
	lg := log.Ctx(ctx).With().Str("table", ref.FullID()).Logger()

	body, err := encodeNDJSON(t)
	if err != nil {
		return dataError(StageLoad, xerrors.Errorf("failed to encode rows: %w", err))
	}

	rs := bigquery.NewReaderSource(bytes.NewReader(body))
	rs.SourceFormat = bigquery.JSON

	// Auto-detection needs at least one row to infer from.
	if l.stringSchema || len(t.Rows) == 0 {
		rs.Schema = StringSchema(t.Columns)
	} else {
		rs.AutoDetect = true
	}

	loader := l.client.DatasetInProject(ref.Project, ref.Dataset).Table(ref.Table).LoaderFrom(rs)
	loader.WriteDisposition = bigquery.WriteTruncate
	loader.CreateDisposition = bigquery.CreateIfNeeded
	if id, ok := RunIDFrom(ctx); ok {
		loader.JobID = "etl_sri_" + id
		loader.AddJobIDSuffix = true
	}

	job, err := loader.Run(ctx)
	if err != nil {
		lg.Error().Err(err).Msg("failed to run bigquery load job")
		return classifyLoadError(xerrors.Errorf("failed to run load job into %s: %w", ref.FullID(), err))
	}
	lg = lg.With().Str("job_id", job.ID()).Logger()
	lg.Debug().Int("bytes", len(body)).Bool("autodetect", rs.AutoDetect).Msg("load job submitted")

	status, err := job.Wait(ctx)
	if err != nil {
		lg.Error().Err(err).Msg("failed to wait job")
		return classifyLoadError(xerrors.Errorf("failed to wait load job %s: %w", job.ID(), err))
	}

	if err := status.Err(); err != nil {
		lg.Error().Err(err).Interface("errors", status.Errors).Msg("load job failed")
		return classifyLoadError(xerrors.Errorf("load job %s failed: %w", job.ID(), err))
	}

	if !status.Done() {
		return remoteError(StageLoad, xerrors.Errorf("load job %s: %w", job.ID(), errUnknownLoadFailure))
	}

	lg.Info().Int("rows", len(t.Rows)).Msg("load job completed")

	return nil
}

// StringSchema returns a schema of nullable STRING fields named after columns.
func StringSchema(columns []string) bigquery.Schema {
	s := make(bigquery.Schema, len(columns))
	for i, c := range columns {
		s[i] = &bigquery.FieldSchema{Name: c, Type: bigquery.StringFieldType}
	}

	return s
}

// encodeNDJSON writes one JSON object per row with keys in column order.
// Empty cells become null.
func encodeNDJSON(t *Table) ([]byte, error) {
	keys := make([][]byte, len(t.Columns))
	for i, c := range t.Columns {
		k, err := json.Marshal(c)
		if err != nil {
			return nil, err
		}
		keys[i] = k
	}

	buf := &bytes.Buffer{}
	for _, r := range t.Rows {
		buf.WriteByte('{')
		for i, cell := range r {
			if i > 0 {
				buf.WriteByte(',')
			}
			buf.Write(keys[i])
			buf.WriteByte(':')

			if cell == "" {
				buf.WriteString("null")
				continue
			}

			v, err := json.Marshal(cell)
			if err != nil {
				return nil, err
			}
			buf.Write(v)
		}
		buf.WriteString("}\n")
	}

	return buf.Bytes(), nil
}

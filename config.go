package etlsri

import (
	"strings"
	"time"

	"github.com/spf13/viper"
	"golang.org/x/xerrors"
)

// EnvPrefix is the prefix of environment variables read by LoadConfig.
const EnvPrefix = "ETL_SRI"

const dateLayout = "2006-01-02"

// Config is the fixed configuration of a run. It is passed by value and never mutated.
type Config struct {
	// ProjectID is the GCP project both clients are bound to.
	ProjectID string `mapstructure:"project_id"`

	// Bucket and Object locate the source object in Cloud Storage.
	Bucket string `mapstructure:"bucket"`
	Object string `mapstructure:"object"`

	// Dataset and Table locate the destination BigQuery table inside ProjectID.
	Dataset string `mapstructure:"dataset"`
	Table   string `mapstructure:"table"`

	// LocalFile is the staging path the object is downloaded to.
	LocalFile string `mapstructure:"local_file"`

	// CredentialsPath is the service account JSON key.
	CredentialsPath string `mapstructure:"credentials_path"`

	// KeyColumn is the normalized name of the column rows are filtered on.
	KeyColumn string `mapstructure:"key_column"`

	// NullValues are key cell values treated as empty, e.g. NA or NULL. None by default.
	NullValues []string `mapstructure:"null_values"`

	// Format is one of auto, csv, xlsx and xls.
	Format   string `mapstructure:"format"`
	Encoding string `mapstructure:"encoding"`
	Sheet    string `mapstructure:"sheet"`

	// StringSchema sends an explicit all-STRING schema instead of auto-detection.
	StringSchema bool `mapstructure:"string_schema"`

	LogLevel      string `mapstructure:"log_level"`
	PrettyLogging bool   `mapstructure:"pretty_logging"`

	Retries    int           `mapstructure:"retries"`
	RetryDelay time.Duration `mapstructure:"retry_delay"`
	StartDate  time.Time     `mapstructure:"-"`

	SlackToken   string `mapstructure:"slack_token"`
	SlackChannel string `mapstructure:"slack_channel"`
}

// DefaultConfig returns the configuration of the SRI RUC catastro load for Azuay.
func DefaultConfig() Config {
	return Config{
		ProjectID:       "sage-artifact-464700-d6",
		Bucket:          "etl-sri-bucket",
		Object:          "SRI - CATASTRO (RUC).xlsx - Datos .csv",
		Dataset:         "dw_sri",
		Table:           "ruc_azuay",
		LocalFile:       "/opt/airflow/include/sri_ruc.csv",
		CredentialsPath: "/opt/airflow/include/keys/gcp-credentials.json",
		KeyColumn:       "ruc",
		Format:          FormatAuto,
		Encoding:        "utf-8",
		LogLevel:        "info",
		Retries:         1,
		RetryDelay:      5 * time.Minute,
		StartDate:       time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC),
	}
}

// LoadConfig builds a Config from defaults, an optional config file and ETL_SRI_* environment variables.
// Environment variables take precedence over the file.
func LoadConfig(path string) (Config, error) {
	def := DefaultConfig()

	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("project_id", def.ProjectID)
	v.SetDefault("bucket", def.Bucket)
	v.SetDefault("object", def.Object)
	v.SetDefault("dataset", def.Dataset)
	v.SetDefault("table", def.Table)
	v.SetDefault("local_file", def.LocalFile)
	v.SetDefault("credentials_path", def.CredentialsPath)
	v.SetDefault("key_column", def.KeyColumn)
	v.SetDefault("null_values", []string{})
	v.SetDefault("format", def.Format)
	v.SetDefault("encoding", def.Encoding)
	v.SetDefault("sheet", def.Sheet)
	v.SetDefault("string_schema", def.StringSchema)
	v.SetDefault("log_level", def.LogLevel)
	v.SetDefault("pretty_logging", def.PrettyLogging)
	v.SetDefault("retries", def.Retries)
	v.SetDefault("retry_delay", def.RetryDelay)
	v.SetDefault("start_date", def.StartDate.Format(dateLayout))
	v.SetDefault("slack_token", "")
	v.SetDefault("slack_channel", "")

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, configError(StageConfig, xerrors.Errorf("failed to read config file %s: %w", path, err))
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, configError(StageConfig, xerrors.Errorf("failed to decode config: %w", err))
	}

	startDate, err := time.Parse(dateLayout, v.GetString("start_date"))
	if err != nil {
		return Config{}, configError(StageConfig, xerrors.Errorf("failed to parse start_date: %w", err))
	}
	cfg.StartDate = startDate

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// Validate reports the first missing or invalid field.
func (c Config) Validate() error {
	required := []struct {
		name  string
		value string
	}{
		{"project_id", c.ProjectID},
		{"bucket", c.Bucket},
		{"object", c.Object},
		{"dataset", c.Dataset},
		{"table", c.Table},
		{"local_file", c.LocalFile},
		{"credentials_path", c.CredentialsPath},
		{"key_column", c.KeyColumn},
	}

	for _, r := range required {
		if strings.TrimSpace(r.value) == "" {
			return configError(StageConfig, xerrors.Errorf("%s is required: %w", r.name, ErrInvalidConfig))
		}
	}

	if NormalizeColumn(c.KeyColumn) != c.KeyColumn {
		return configError(StageConfig, xerrors.Errorf("key_column %q is not normalized: %w", c.KeyColumn, ErrInvalidConfig))
	}

	switch c.Format {
	case FormatAuto, FormatCSV, FormatXLSX, FormatXLS:
	default:
		return configError(StageConfig, xerrors.Errorf("unknown format %q: %w", c.Format, ErrInvalidConfig))
	}

	if _, err := lookupEncoding(c.Encoding); err != nil {
		return configError(StageConfig, err)
	}

	if c.Retries < 0 {
		return configError(StageConfig, xerrors.Errorf("retries must not be negative: %w", ErrInvalidConfig))
	}

	if c.RetryDelay <= 0 {
		return configError(StageConfig, xerrors.Errorf("retry_delay must be positive: %w", ErrInvalidConfig))
	}

	return nil
}

// Source returns the source object.
func (c Config) Source() Object {
	return Object{Bucket: c.Bucket, Name: c.Object}
}

// Destination returns the destination table.
func (c Config) Destination() TableRef {
	return TableRef{Project: c.ProjectID, Dataset: c.Dataset, Table: c.Table}
}

package etlsri

import (
	"context"
	"os"

	"cloud.google.com/go/bigquery"
	"cloud.google.com/go/storage"
	"github.com/goccy/go-json"
	"github.com/rs/zerolog/log"
	"golang.org/x/oauth2/google"
	"golang.org/x/xerrors"
	"google.golang.org/api/option"
)

const serviceAccountType = "service_account"

// Authenticator builds the collaborators of a run from credentials.
type Authenticator interface {
	Authenticate(context.Context, Config) (*Session, error)
}

// Session holds the collaborators authenticated for a single run.
// Close releases the underlying clients.
type Session struct {
	Extractor Extractor
	Loader    Loader

	closers []func() error
}

// NewSession builds a Session. closers are called by Close in order.
func NewSession(ex Extractor, ld Loader, closers ...func() error) *Session {
	return &Session{Extractor: ex, Loader: ld, closers: closers}
}

// Close closes all clients and returns the first error.
func (s *Session) Close() error {
	var first error
	for _, c := range s.closers {
		if err := c(); err != nil && first == nil {
			first = err
		}
	}
	s.closers = nil

	return first
}

type serviceAccountKey struct {
	Type         string `json:"type"`
	ProjectID    string `json:"project_id"`
	ClientEmail  string `json:"client_email"`
	PrivateKeyID string `json:"private_key_id"`
	PrivateKey   string `json:"private_key"`
}

// ServiceAccountAuthenticator authenticates with a service account JSON key file.
// The zero value is ready to use; the function fields exist to be replaced in tests.
type ServiceAccountAuthenticator struct {
	// Verify checks that the credentials are accepted. Defaults to fetching a token.
	Verify func(context.Context, *google.Credentials) error

	NewStorageClient  func(context.Context, ...option.ClientOption) (*storage.Client, error)
	NewBigQueryClient func(context.Context, string, ...option.ClientOption) (*bigquery.Client, error)
}

// Authenticate reads the key at cfg.CredentialsPath and builds Cloud Storage and BigQuery
// clients bound to cfg.ProjectID. The key file is read before any network access.
func (a *ServiceAccountAuthenticator) Authenticate(ctx context.Context, cfg Config) (*Session, error) {
	l := log.Ctx(ctx)

	data, err := os.ReadFile(cfg.CredentialsPath)
	if err != nil {
		return nil, configError(StageAuthenticate,
			xerrors.Errorf("failed to read credentials %s: %v: %w", cfg.CredentialsPath, err, ErrCredentials))
	}

	var key serviceAccountKey
	if err := json.Unmarshal(data, &key); err != nil {
		return nil, configError(StageAuthenticate,
			xerrors.Errorf("failed to decode credentials %s: %v: %w", cfg.CredentialsPath, err, ErrCredentials))
	}

	if key.Type != serviceAccountType {
		return nil, configError(StageAuthenticate,
			xerrors.Errorf("credentials type is %q, not %q: %w", key.Type, serviceAccountType, ErrCredentials))
	}

	if key.ClientEmail == "" || key.PrivateKey == "" {
		return nil, configError(StageAuthenticate,
			xerrors.Errorf("credentials lack client_email or private_key: %w", ErrCredentials))
	}

	if key.ProjectID != "" && key.ProjectID != cfg.ProjectID {
		l.Warn().Str("key_project", key.ProjectID).Str("project", cfg.ProjectID).
			Msg("service account belongs to another project")
	}

	creds, err := google.CredentialsFromJSON(ctx, data, bigquery.Scope, storage.ScopeReadOnly)
	if err != nil {
		return nil, configError(StageAuthenticate,
			xerrors.Errorf("failed to parse credentials: %v: %w", err, ErrCredentials))
	}

	verify := a.Verify
	if verify == nil {
		verify = fetchToken
	}
	if err := verify(ctx, creds); err != nil {
		return nil, configError(StageAuthenticate,
			xerrors.Errorf("credentials of %s rejected: %v: %w", key.ClientEmail, err, ErrCredentials))
	}

	newStorage := a.NewStorageClient
	if newStorage == nil {
		newStorage = storage.NewClient
	}
	newBigQuery := a.NewBigQueryClient
	if newBigQuery == nil {
		newBigQuery = bigquery.NewClient
	}

	sc, err := newStorage(ctx, option.WithCredentials(creds))
	if err != nil {
		return nil, configError(StageAuthenticate,
			xerrors.Errorf("failed to build storage client for %s: %w", cfg.ProjectID, err))
	}

	bq, err := newBigQuery(ctx, cfg.ProjectID, option.WithCredentials(creds))
	if err != nil {
		sc.Close()
		return nil, configError(StageAuthenticate,
			xerrors.Errorf("failed to build bigquery client for %s: %w", cfg.ProjectID, err))
	}

	l.Debug().Str("client_email", key.ClientEmail).Str("project", cfg.ProjectID).Msg("authenticated")

	return NewSession(
		NewStorageExtractor(sc),
		NewBigQueryLoader(bq, cfg.StringSchema),
		sc.Close,
		bq.Close,
	), nil
}

func fetchToken(_ context.Context, creds *google.Credentials) error {
	_, err := creds.TokenSource.Token()
	return err
}

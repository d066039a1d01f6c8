package etlsri

import (
	"errors"
	"fmt"
	"net/http"

	"cloud.google.com/go/bigquery"
	"cloud.google.com/go/storage"
	"golang.org/x/xerrors"
	"google.golang.org/api/googleapi"
)

// Stage names a step of a run.
type Stage string

// Stages of a run.
const (
	StageConfig       Stage = "config"
	StageAuthenticate Stage = "authenticate"
	StageFetch        Stage = "fetch"
	StageTransform    Stage = "transform"
	StageLoad         Stage = "load"
)

// Kind classifies errors by how the orchestration layer should react to them.
type Kind int

const (
	// KindConfig is a configuration or credential error. It is never retried.
	KindConfig Kind = iota + 1

	// KindRemote is a network, permission, not-found or quota error of a remote service.
	// A run failed with it may succeed on retry.
	KindRemote

	// KindData is an unparsable source or a schema rejection. Retrying reproduces it.
	KindData
)

func (k Kind) String() string {
	switch k {
	case KindConfig:
		return "config"
	case KindRemote:
		return "remote"
	case KindData:
		return "data"
	default:
		return "unknown"
	}
}

var (
	ErrInvalidConfig      = errors.New("invalid config")
	ErrCredentials        = errors.New("invalid credentials")
	ErrNoHeader           = errors.New("source has no header row")
	ErrKeyColumnNotFound  = errors.New("key column not found")
	ErrRowTooLong         = errors.New("row has more fields than header")
	ErrUnsupportedFormat  = errors.New("unsupported source format")
	ErrRunInProgress      = errors.New("another run is in progress")
	ErrBeforeStartDate    = errors.New("run requested before start date")
	ErrSessionNotOpen     = errors.New("session is not open")
	errXLSNoSheet         = errors.New("no sheet found")
	errUnknownLoadFailure = errors.New("load job failed without error detail")
)

// Error is an error of a stage of a run.
type Error struct {
	Stage Stage
	Kind  Kind
	Err   error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s (%s error): %v", e.Stage, e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func configError(s Stage, err error) error {
	return &Error{Stage: s, Kind: KindConfig, Err: err}
}

func remoteError(s Stage, err error) error {
	return &Error{Stage: s, Kind: KindRemote, Err: err}
}

func dataError(s Stage, err error) error {
	return &Error{Stage: s, Kind: KindData, Err: err}
}

// KindOf returns the kind of err, or 0 if err is not an *Error.
func KindOf(err error) Kind {
	var e *Error
	if xerrors.As(err, &e) {
		return e.Kind
	}

	return 0
}

// IsRetryable reports whether err may be resolved by running the failed task again.
func IsRetryable(err error) bool {
	return KindOf(err) == KindRemote
}

// classifyStorageError wraps errors from Cloud Storage. Everything is remote except
// for requests the service rejected as malformed.
func classifyStorageError(err error) error {
	if xerrors.Is(err, storage.ErrObjectNotExist) || xerrors.Is(err, storage.ErrBucketNotExist) {
		return remoteError(StageFetch, err)
	}

	var gerr *googleapi.Error
	if xerrors.As(err, &gerr) && gerr.Code == http.StatusBadRequest {
		return configError(StageFetch, err)
	}

	return remoteError(StageFetch, err)
}

var remoteLoadReasons = map[string]bool{
	"quotaExceeded":     true,
	"rateLimitExceeded": true,
	"backendError":      true,
	"internalError":     true,
	"accessDenied":      true,
	"notFound":          true,
}

// classifyLoadError wraps errors from BigQuery load jobs.
func classifyLoadError(err error) error {
	var berr *bigquery.Error
	if xerrors.As(err, &berr) {
		if remoteLoadReasons[berr.Reason] {
			return remoteError(StageLoad, err)
		}

		return dataError(StageLoad, err)
	}

	var gerr *googleapi.Error
	if xerrors.As(err, &gerr) {
		if gerr.Code == http.StatusBadRequest {
			return dataError(StageLoad, err)
		}

		return remoteError(StageLoad, err)
	}

	return remoteError(StageLoad, err)
}

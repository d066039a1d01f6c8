package etlsri

import (
	"io"

	"github.com/spf13/afero"
)

// Option configures Pipeline.
type Option interface {
	apply(*Pipeline) error
}

type optionFunc func(*Pipeline) error

func (f optionFunc) apply(p *Pipeline) error {
	return f(p)
}

// WithPrettyLogging configures Pipeline to print human friendly logs.
func WithPrettyLogging() Option {
	return optionFunc(func(p *Pipeline) error {
		p.prettyLogging = true
		return nil
	})
}

// WithLogLevel configures the minimum level of logs, e.g. "debug" or "info".
func WithLogLevel(level string) Option {
	return optionFunc(func(p *Pipeline) error {
		p.logLevel = level
		return nil
	})
}

// WithLogOutput configures where logs are written. Defaults to stderr.
func WithLogOutput(w io.Writer) Option {
	return optionFunc(func(p *Pipeline) error {
		p.logOutput = w
		return nil
	})
}

// WithFs configures the filesystem the staging file lives on. Defaults to the OS filesystem.
func WithFs(fs afero.Fs) Option {
	return optionFunc(func(p *Pipeline) error {
		p.fs = fs
		return nil
	})
}

// WithAuthenticator replaces the service account authenticator.
func WithAuthenticator(a Authenticator) Option {
	return optionFunc(func(p *Pipeline) error {
		p.auth = a
		return nil
	})
}

// WithNotifier configures a notifier called after each DAG run.
func WithNotifier(n Notifier) Option {
	return optionFunc(func(p *Pipeline) error {
		p.notifier = n
		return nil
	})
}

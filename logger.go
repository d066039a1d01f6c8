package etlsri

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/xerrors"
)

func newLogger(w io.Writer, level string, pretty bool) (zerolog.Logger, error) {
	lv, err := zerolog.ParseLevel(level)
	if err != nil {
		return zerolog.Nop(), xerrors.Errorf("failed to parse log level %q: %w", level, err)
	}

	if w == nil {
		w = os.Stderr
	}

	if pretty {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
	}

	return zerolog.New(w).Level(lv).With().Timestamp().Logger(), nil
}

// Package logging configures the process-wide zerolog logger.
package logging

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Setup installs a console logger on w (stderr when nil). Verbose lowers the
// level to debug so that every external command is traced.
func Setup(w io.Writer, verbose bool) {
	if w == nil {
		w = os.Stderr
	}
	level := zerolog.InfoLevel
	if verbose {
		level = zerolog.DebugLevel
	}
	zerolog.SetGlobalLevel(level)
	log.Logger = zerolog.New(zerolog.ConsoleWriter{
		Out:        w,
		TimeFormat: time.Kitchen,
		NoColor:    os.Getenv("NO_COLOR") != "",
	}).With().Timestamp().Logger()
}

// Discard silences all logging. Tests use it to keep output clean.
func Discard() {
	log.Logger = zerolog.Nop()
}

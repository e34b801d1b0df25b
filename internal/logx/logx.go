// Package logx builds the console logger the commands share. Logs go to
// stderr so query and export output on stdout stays clean.
package logx

import (
	"io"
	"os"
	"strconv"
	"time"

	"github.com/rs/zerolog"
)

// NewLogger returns a console logger on stderr. The CHESSDEX_LOG
// environment variable selects the level (debug, info, warn, ...).
func NewLogger() zerolog.Logger {
	return NewLoggerTo(os.Stderr)
}

// NewLoggerTo returns a console logger writing to w.
func NewLoggerTo(w io.Writer) zerolog.Logger {
	output := zerolog.ConsoleWriter{
		Out:        w,
		TimeFormat: time.RFC3339,
	}
	zerolog.CallerMarshalFunc = func(pc uintptr, file string, line int) string {
		short := file
		for i := len(file) - 1; i > 0; i-- {
			if file[i] == '/' {
				short = file[i+1:]
				break
			}
		}
		return short + ":" + strconv.Itoa(line)
	}
	level := zerolog.InfoLevel
	if env := os.Getenv("CHESSDEX_LOG"); env != "" {
		if l, err := zerolog.ParseLevel(env); err == nil {
			level = l
		}
	}
	return zerolog.New(output).Level(level).With().Timestamp().Caller().Logger()
}

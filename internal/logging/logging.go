// Package logging configures the process-wide apex/log logger.
package logging

import (
	"io"
	"os"
	"strings"

	"github.com/apex/log"
	"github.com/apex/log/handlers/cli"
	"github.com/apex/log/handlers/json"
	"github.com/mattn/go-isatty"
)

// Setup installs a human readable handler when w is a terminal and a JSON
// handler otherwise, at the given level name. Unknown levels fall back to
// info.
func Setup(w io.Writer, level string) log.Handler {
	var handler log.Handler
	if f, ok := w.(*os.File); ok && isatty.IsTerminal(f.Fd()) {
		handler = cli.New(w)
	} else {
		handler = json.New(w)
	}
	log.SetHandler(handler)
	log.SetLevel(ParseLevel(level))
	return handler
}

// ParseLevel maps a configured level name onto an apex/log level.
func ParseLevel(level string) log.Level {
	lvl, err := log.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil {
		return log.InfoLevel
	}
	return lvl
}

// Handler returns the handler currently installed on the root logger.
func Handler() log.Handler {
	if l, ok := log.Log.(*log.Logger); ok {
		return l.Handler
	}
	return nil
}

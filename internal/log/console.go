package log

import (
	"os"

	"github.com/mattn/go-colorable"
	"github.com/mattn/go-isatty"
	"github.com/mgutz/ansi"
	"github.com/sirupsen/logrus"
	prefixed "github.com/x-cray/logrus-prefixed-formatter"
)

// NewConsoleLogger builds a human-facing logrus logger — distinct from
// the slog-based Init above, which is the daemon's own structured
// logging. No cmd/ command calls it; they print with fmt. Output is
// colorized when attached to a terminal and plain otherwise, matching
// the common CLI pattern of a prefixed, color-coded console logger
// layered over a machine-readable structured one.
func NewConsoleLogger(level string) *logrus.Logger {
	l := logrus.New()
	l.SetFormatter(&prefixed.TextFormatter{
		ForceColors:     isatty.IsTerminal(os.Stdout.Fd()),
		FullTimestamp:   true,
		TimestampFormat: "15:04:05",
	})
	if lvl, err := logrus.ParseLevel(level); err == nil {
		l.SetLevel(lvl)
	} else {
		l.SetLevel(logrus.InfoLevel)
	}
	if isatty.IsTerminal(os.Stdout.Fd()) {
		l.SetOutput(colorable.NewColorableStdout())
	} else {
		l.SetOutput(os.Stdout)
	}
	return l
}

// LevelColor maps a level name to the ansi color code used by admin CLI
// commands that print their own status lines outside of logrus (e.g. a
// one-line "server: RUNNING" banner).
func LevelColor(level string) func(string) string {
	switch level {
	case "error", "fatal":
		return ansi.ColorFunc("red+b")
	case "warn", "warning":
		return ansi.ColorFunc("yellow")
	case "info":
		return ansi.ColorFunc("green")
	default:
		return ansi.ColorFunc("white")
	}
}

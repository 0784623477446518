// Package sysutil holds process-level bootstrap helpers shared by the server
// binary. Anything here runs before the HTTP stack exists, so it must not
// depend on config or the domain packages.
package sysutil

import (
	"strings"

	"github.com/rs/zerolog"
)

// logLevels maps accepted level names to zerolog levels. "warning" is kept
// as an alias because several deploy templates still use it.
var logLevels = map[string]zerolog.Level{
	"debug":   zerolog.DebugLevel,
	"info":    zerolog.InfoLevel,
	"warn":    zerolog.WarnLevel,
	"warning": zerolog.WarnLevel,
	"error":   zerolog.ErrorLevel,
	"fatal":   zerolog.FatalLevel,
	"panic":   zerolog.PanicLevel,
}

// SetLogLevel sets the global zerolog level from a level name
// (case-insensitive, surrounding whitespace ignored). Empty or unknown
// values fall back to info.
func SetLogLevel(lvl string) {
	if level, ok := logLevels[strings.ToLower(strings.TrimSpace(lvl))]; ok {
		zerolog.SetGlobalLevel(level)
		return
	}
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
}

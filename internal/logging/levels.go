// internal/logging/levels.go
package logging

import (
	"strings"

	"go.uber.org/zap/zapcore"
)

// TraceLevel sits below Debug for the chattiest diagnostics: per-stage
// gate outcomes, ledger lock waits, raw delegate output excerpts.
// Value: -2 (Debug is -1, Info is 0). Almost always filtered out in
// production.
const TraceLevel = zapcore.Level(-2)

// LevelFromString parses a level name into a zapcore.Level, accepting
// "trace" (any case) alongside the standard zap levels.
func LevelFromString(level string) (zapcore.Level, error) {
	if strings.EqualFold(level, "trace") {
		return TraceLevel, nil
	}
	var l zapcore.Level
	if err := l.UnmarshalText([]byte(level)); err != nil {
		return zapcore.InfoLevel, err
	}
	return l, nil
}

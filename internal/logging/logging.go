// Package logging wires github.com/go-logr/logr as the structured logger
// used throughout taiji-proxyd, replacing the teacher's bare log.Printf
// calls while preserving its INFO/WARN/ERROR severity vocabulary.
package logging

import (
	"os"

	"github.com/go-logr/logr"
	"github.com/go-logr/logr/funcr"
)

// New builds the root logger. verbose raises the V-level funcr emits at from
// 0 to 1, so V(1) debug lines are printed as well.
func New(verbose bool) logr.Logger {
	opts := funcr.Options{LogTimestamp: true, Verbosity: 0}
	if verbose {
		opts.Verbosity = 1
	}
	return funcr.New(func(prefix, args string) {
		if prefix != "" {
			os.Stdout.WriteString(prefix + ": " + args + "\n")
		} else {
			os.Stdout.WriteString(args + "\n")
		}
	}, opts)
}

// Warn logs at a level between Info and Error; logr has no native WARN
// severity, so it is modeled as Info with a "level":"WARN" key, mirroring
// the teacher's "WARN:" prefix convention.
func Warn(log logr.Logger, msg string, keysAndValues ...any) {
	log.WithValues("level", "WARN").Info(msg, keysAndValues...)
}

package daemon

import "codeberg.org/gruf/go-logger/v2/log"

// sink is a narrow seam over the package-global logger, kept only so
// tests can inject a no-op or recording logger without redirecting the
// process-wide codeberg.org/gruf/go-logger/v2/log output. Only the
// acceptor's over-cap notice goes through it; every other production code
// path calls log.* directly.
type sink interface {
	Printf(format string, args ...interface{})
}

// nopSink discards everything written to it.
type nopSink struct{}

func (nopSink) Printf(string, ...interface{}) {}

// defaultSink forwards to the package-global logger at Info level.
type defaultSink struct{}

func (defaultSink) Printf(format string, args ...interface{}) {
	log.Infof(format, args...)
}

// Package verbosity maps the daemon's external "-d/--debug <0..4>" CLI
// level onto the logging facility's level.LEVEL, keeping that mapping in
// one place rather than scattered through main.
package verbosity

import (
	"fmt"

	"codeberg.org/gruf/go-logger/v2/level"
)

// Level names the five severities the CLI collaborator accepts.
type Level uint32

const (
	Quiet Level = iota
	Errors
	Informative
	Detailed
	Spam
)

// ToLogLevel converts a CLI debug level into the logger's level.LEVEL.
// Levels above Spam are rejected; callers should fall back to Errors.
func ToLogLevel(l Level) (level.LEVEL, error) {
	switch l {
	case Quiet:
		return level.OFF, nil
	case Errors:
		return level.ERROR, nil
	case Informative:
		return level.INFO, nil
	case Detailed:
		return level.DEBUG, nil
	case Spam:
		return level.TRACE, nil
	default:
		return level.ERROR, fmt.Errorf("invalid debug level %d, defaulting to 1 (Errors)", l)
	}
}

package dragonscale

import (
	"errors"

	ds "github.com/ZanzyTHEbar/dragonscale-intents/pkg/dragonscale"
)

// Errors of async session management.
var (
	ErrSessionNotFound = errors.New("session not found")
	ErrSessionRunning  = errors.New("session is still running")
)

// Error is the typed error reports carry.
type Error = ds.DragonScaleError

// CodeOf returns the code of the outermost typed error in err's chain.
func CodeOf(err error) string {
	return ds.CodeOf(err)
}

// HasCode reports whether err's chain holds a typed error with code.
func HasCode(err error, code string) bool {
	return ds.HasCode(err, code)
}

package authgate

import "errors"

// ConfigError reports an invalid Auth configuration. It is raised at the
// signing or verification call that first needs the missing material, not at
// construction, so partially configured auth contexts can still serve the
// flows they support.
type ConfigError struct {
	Reason string
}

func (e *ConfigError) Error() string {
	return "authgate: " + e.Reason
}

var (
	// ErrNoAdapter is returned by New when no storage adapter is supplied.
	ErrNoAdapter = errors.New("authgate: an Adapter is required")

	// ErrDuplicateProvider is returned by New when two providers share an id.
	ErrDuplicateProvider = errors.New("authgate: duplicate provider id")
)

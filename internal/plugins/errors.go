package plugins

import (
	"errors"
	"fmt"
)

// Load failure kinds.
var (
	// ErrFailed means the module could not be opened or its Load refused.
	ErrFailed = errors.New("plugin failed to load")
	// ErrVersion means the plugin targets a newer ABI than the host.
	ErrVersion = errors.New("unsupported plugin version")
	// ErrAPI means a required entry point is missing.
	ErrAPI = errors.New("plugin API mismatch")
)

// LoadError describes why Load failed. Kind is one of ErrFailed, ErrVersion
// or ErrAPI.
type LoadError struct {
	Kind error
	Path string
	Msg  string
}

func (e *LoadError) Error() string {
	if e.Msg == "" {
		return fmt.Sprintf("%s: %v", e.Path, e.Kind)
	}

	return fmt.Sprintf("%s: %v: %s", e.Path, e.Kind, e.Msg)
}

func (e *LoadError) Unwrap() error {
	return e.Kind
}

func loadError(kind error, path, format string, args ...any) *LoadError {
	return &LoadError{Kind: kind, Path: path, Msg: fmt.Sprintf(format, args...)}
}

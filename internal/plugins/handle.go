package plugins

import "context"

// Symbol is a resolved module entry point. wazero's api.Function satisfies it.
type Symbol interface {
	Call(ctx context.Context, params ...uint64) ([]uint64, error)
}

// Module is a resident module.
type Module interface {
	// Resolve returns the named export or nil.
	Resolve(name string) Symbol
	// Close unloads the module.
	Close(ctx context.Context) error
}

// Opener makes modules resident.
type Opener interface {
	Open(ctx context.Context, path string) (Module, error)
}

// Handle owns one module opened from a path. The module is non-nil exactly
// while it is resident.
type Handle struct {
	opener  Opener
	path    string
	mod     Module
	failure string
}

// NewHandle returns a closed handle that opens modules through opener.
func NewHandle(opener Opener) *Handle {
	return &Handle{opener: opener}
}

// Open loads the module at path. On failure the reason is kept for
// FailMessage and the handle stays closed. An open handle is left as is and
// Open reports false.
func (h *Handle) Open(ctx context.Context, path string) bool {
	if h.mod != nil {
		h.failure = "module already open: " + h.path
		return false
	}
	h.path = path
	h.failure = ""

	mod, err := h.opener.Open(ctx, path)
	if err != nil {
		h.failure = err.Error()
		return false
	}
	if mod == nil {
		h.failure = "opener returned no module"
		return false
	}
	h.mod = mod

	return true
}

// Resolve looks up an export. It returns nil when closed or absent.
func (h *Handle) Resolve(name string) Symbol {
	if h.mod == nil {
		return nil
	}

	return h.mod.Resolve(name)
}

// Close unloads the module. Closing a closed handle does nothing.
func (h *Handle) Close(ctx context.Context) error {
	if h.mod == nil {
		return nil
	}
	mod := h.mod
	h.mod = nil

	return mod.Close(ctx)
}

// IsOpen reports whether the module is resident.
func (h *Handle) IsOpen() bool {
	return h.mod != nil
}

// Path returns the path of the resident module, or of the last attempt.
func (h *Handle) Path() string {
	return h.path
}

// FailMessage returns why the last Open failed.
func (h *Handle) FailMessage() string {
	return h.failure
}

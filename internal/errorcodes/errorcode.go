// Package errorcodes defines virtual machine errors using a structured type.
// VMError holds the numeric engine code and a human-readable description.
package errorcodes

// Predefined VM error instances. Codes are stable and shared with plugins
// through the host export table.
var (
	ErrNone      = VMError{0, "(none)"}
	ErrExit      = VMError{1, "Forced exit"}
	ErrAssert    = VMError{2, "Assertion failed"}
	ErrStackErr  = VMError{3, "Stack/heap collision (insufficient stack size)"}
	ErrBounds    = VMError{4, "Array index out of bounds"}
	ErrMemAccess = VMError{5, "Invalid memory access"}
	ErrInvInstr  = VMError{6, "Invalid instruction"}
	ErrStackLow  = VMError{7, "Stack underflow"}
	ErrHeapLow   = VMError{8, "Heap underflow"}
	ErrCallback  = VMError{9, "No (valid) native function callback"}
	ErrNative    = VMError{10, "Native function failed"}
	ErrDivide    = VMError{11, "Divide by zero"}
	ErrSleep     = VMError{12, "(sleep mode)"}
	ErrInvState  = VMError{13, "Invalid state"}
	ErrMemory    = VMError{16, "Out of memory"}
	ErrFormat    = VMError{17, "Invalid/unsupported P-code file format"}
	ErrVersion   = VMError{18, "File is for a newer version of the AMX"}
	ErrNotFound  = VMError{19, "File or function is not found"}
	ErrIndex     = VMError{20, "Invalid index parameter (bad entry point)"}
	ErrDebug     = VMError{21, "Debugger cannot run"}
	ErrInit      = VMError{22, "AMX not initialized (or doubly initialized)"}
	ErrUserData  = VMError{23, "Unable to set user data field (table full)"}
	ErrInitJIT   = VMError{24, "Cannot initialize the JIT"}
	ErrParams    = VMError{25, "Parameter error"}
	ErrDomain    = VMError{26, "Domain error, expression result does not fit in range"}
	ErrGeneral   = VMError{27, "General error (unknown or unspecific error)"}
)

var byCode = func() map[int]VMError {
	all := []VMError{
		ErrNone, ErrExit, ErrAssert, ErrStackErr, ErrBounds, ErrMemAccess,
		ErrInvInstr, ErrStackLow, ErrHeapLow, ErrCallback, ErrNative, ErrDivide,
		ErrSleep, ErrInvState, ErrMemory, ErrFormat, ErrVersion, ErrNotFound,
		ErrIndex, ErrDebug, ErrInit, ErrUserData, ErrInitJIT, ErrParams,
		ErrDomain, ErrGeneral,
	}
	m := make(map[int]VMError, len(all))
	for _, e := range all {
		m[e.Code] = e
	}

	return m
}()

// VMError represents an engine error with its code and description.
type VMError struct {
	Code        int    // numeric engine error code
	Description string // human-readable description
}

// Error implements the Go error interface.
func (e VMError) Error() string {
	return e.Description
}

// Is reports whether target carries the same code.
func (e VMError) Is(target error) bool {
	t, ok := target.(VMError)
	return ok && t.Code == e.Code
}

// FromCode returns the VMError registered for code, or a general error
// carrying the unknown code.
func FromCode(code int) VMError {
	if e, ok := byCode[code]; ok {
		return e
	}

	return VMError{code, "(unknown)"}
}

// StrError maps a numeric code to its description.
func StrError(code int) string {
	return FromCode(code).Description
}

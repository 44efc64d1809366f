package runnerplugin

import "strconv"

// ExecMain selects the script entry point in Exec.
const ExecMain = -1

// Error is a nonzero engine error code returned by the host.
type Error int32

func (e Error) Error() string {
	return "engine error " + strconv.Itoa(int(e))
}

// Common codes.
const (
	ErrNative   Error = 10
	ErrNotFound Error = 19
	ErrInit     Error = 22
)

func codeError(code uint32) error {
	if code == 0 {
		return nil
	}

	return Error(int32(code))
}

// UnpackResult splits a packed host result into its error code and value.
func UnpackResult(packed uint64) (code, value int32) {
	return int32(uint32(packed >> 32)), int32(uint32(packed))
}

func unpackError(packed uint64) (int32, error) {
	code, value := UnpackResult(packed)
	if code != 0 {
		return 0, Error(code)
	}

	return value, nil
}

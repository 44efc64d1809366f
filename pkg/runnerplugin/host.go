package runnerplugin

import (
	"bytes"
	"fmt"
)

// Logf prints a line through the host console.
func Logf(format string, args ...any) {
	withBytes([]byte(fmt.Sprintf(format, args...)), func(ptr, length uint32) {
		hostLogprintf(ptr, length)
	})
}

// Register binds the plugin export name as a native of script instance inst.
// The export must have the signature name(inst, params, count) int32.
func Register(inst uint32, name string) error {
	var code uint32
	withBytes([]byte(name), func(ptr, length uint32) {
		code = hostRegister(inst, ptr, length)
	})

	return codeError(code)
}

// FindPublic returns the index of a script public function.
func FindPublic(inst uint32, name string) (int32, bool) {
	idx := int32(-1)
	withBytes([]byte(name), func(ptr, length uint32) {
		idx = hostFindPublic(inst, ptr, length)
	})

	return idx, idx >= 0
}

// Push queues a cell argument for the next Exec.
func Push(inst uint32, value int32) error {
	return codeError(hostPush(inst, uint32(value)))
}

// PushString copies s into script memory and queues its address. The address
// must be passed to Release after Exec.
func PushString(inst uint32, s string) (int32, error) {
	var packed uint64
	withBytes([]byte(s), func(ptr, length uint32) {
		packed = hostPushString(inst, ptr, length)
	})

	return unpackError(packed)
}

// Release frees a string pushed with PushString.
func Release(inst uint32, addr int32) error {
	return codeError(hostRelease(inst, uint32(addr)))
}

// Exec runs the public at index, or ExecMain, with the queued arguments.
func Exec(inst uint32, index int32) (int32, error) {
	return unpackError(hostExec(inst, uint32(index)))
}

// Call runs the named public with cell arguments.
func Call(inst uint32, name string, args ...int32) (int32, error) {
	idx, ok := FindPublic(inst, name)
	if !ok {
		return 0, ErrNotFound
	}
	for _, arg := range args {
		if err := Push(inst, arg); err != nil {
			return 0, err
		}
	}

	return Exec(inst, idx)
}

// GetString reads a script string of at most size-1 bytes.
func GetString(inst uint32, addr int32, size uint32) (string, error) {
	if size == 0 {
		return "", nil
	}

	buf := Allocate(size)
	if buf == 0 {
		return "", ErrNative
	}
	defer Deallocate(buf)

	if err := codeError(hostGetString(inst, uint32(addr), buf, size)); err != nil {
		return "", err
	}

	raw := ReadBytes(buf, size)
	if i := bytes.IndexByte(raw, 0); i >= 0 {
		raw = raw[:i]
	}

	return string(raw), nil
}

// SetString writes s into the script array at addr holding size bytes.
func SetString(inst uint32, addr int32, s string, size uint32) error {
	var code uint32
	withBytes([]byte(s), func(ptr, length uint32) {
		code = hostSetString(inst, uint32(addr), ptr, length, size)
	})

	return codeError(code)
}

// RaiseError aborts the running script call with code once the current native
// returns.
func RaiseError(inst uint32, code int32) {
	hostRaiseError(inst, uint32(code))
}

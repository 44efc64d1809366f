// Package wasmutil provides helpers for moving data in and out of guest memory.
package wasmutil

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/tetratelabs/wazero/api"
)

// AllocBuffer allocates guest memory via the wasm Alloc export and writes
// data into it, returning the guest address.
func AllocBuffer(ctx context.Context, mod api.Module, alloc api.Function, data []byte) (uint32, error) {
	if len(data) == 0 {
		return 0, errors.New("buffer length is zero")
	}

	results, err := alloc.Call(ctx, uint64(len(data)))
	if err != nil {
		return 0, fmt.Errorf("alloc failed: %w", err)
	}
	if len(results) < 1 {
		return 0, errors.New("alloc returned no results")
	}

	ptr := api.DecodeU32(results[0])
	if err := WriteMemory(mod, ptr, data); err != nil {
		return 0, err
	}

	return ptr, nil
}

// ReadMemory copies size bytes at ptr out of guest memory.
func ReadMemory(mod api.Module, ptr, size uint32) ([]byte, error) {
	if mod == nil {
		return nil, errors.New("nil module")
	}

	memory := mod.Memory()
	if memory == nil {
		return nil, errors.New("no memory exported")
	}

	data, ok := memory.Read(ptr, size)
	if !ok {
		return nil, fmt.Errorf("failed to read memory at %d[%d]", ptr, size)
	}

	return bytes.Clone(data), nil
}

// WriteMemory copies data into guest memory at ptr.
func WriteMemory(mod api.Module, ptr uint32, data []byte) error {
	if mod == nil {
		return errors.New("nil module")
	}

	memory := mod.Memory()
	if memory == nil {
		return errors.New("no memory exported")
	}

	if !memory.Write(ptr, data) {
		return fmt.Errorf("failed to write memory at %d[%d]", ptr, len(data))
	}

	return nil
}

// ReadCString reads bytes from ptr up to the first NUL.
func ReadCString(mod api.Module, ptr uint32) (string, error) {
	if mod == nil {
		return "", errors.New("nil module")
	}

	memory := mod.Memory()
	if memory == nil {
		return "", errors.New("no memory exported")
	}

	size := memory.Size()
	if ptr >= size {
		return "", fmt.Errorf("address %d outside memory of %d bytes", ptr, size)
	}

	data, ok := memory.Read(ptr, size-ptr)
	if !ok {
		return "", fmt.Errorf("failed to read memory at %d", ptr)
	}

	end := bytes.IndexByte(data, 0)
	if end < 0 {
		return "", fmt.Errorf("unterminated string at %d", ptr)
	}

	return string(data[:end]), nil
}

// EncodeCells lays out 32-bit values little-endian, the way guests read them.
func EncodeCells(cells []int32) []byte {
	buf := make([]byte, len(cells)*4)
	for i, c := range cells {
		binary.LittleEndian.PutUint32(buf[i*4:], uint32(c))
	}

	return buf
}

// PackResult combines an error code and a value into one i64 result.
func PackResult(code int32, value int32) uint64 {
	return uint64(uint32(code))<<32 | uint64(uint32(value))
}

// UnpackResult splits a value produced by PackResult.
func UnpackResult(packed uint64) (code int32, value int32) {
	return int32(uint32(packed >> 32)), int32(uint32(packed))
}

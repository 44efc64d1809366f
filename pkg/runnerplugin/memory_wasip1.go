//go:build wasip1

package runnerplugin

import "unsafe"

func addressOf(buf []byte) uint32 {
	return uint32(uintptr(unsafe.Pointer(&buf[0])))
}

// view slices linear memory directly.
//
//nolint:gosec // allow unsafe pointer usage.
func view(ptr, length uint32) []byte {
	return unsafe.Slice((*byte)(unsafe.Pointer(uintptr(ptr))), length)
}

//go:wasmexport Alloc
func exportAlloc(size uint32) uint32 {
	return Allocate(size)
}

//go:wasmexport Free
func exportFree(ptr uint32) {
	Deallocate(ptr)
}

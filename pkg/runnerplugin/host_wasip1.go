//go:build wasip1

package runnerplugin

//go:wasmimport host logprintf
func hostLogprintf(ptr, size uint32)

//go:wasmimport host amx_register
func hostRegister(inst, namePtr, nameLen uint32) uint32

//go:wasmimport host amx_find_public
func hostFindPublic(inst, ptr, size uint32) int32

//go:wasmimport host amx_push
func hostPush(inst, value uint32) uint32

//go:wasmimport host amx_push_string
func hostPushString(inst, ptr, size uint32) uint64

//go:wasmimport host amx_release
func hostRelease(inst, addr uint32) uint32

//go:wasmimport host amx_exec
func hostExec(inst, index uint32) uint64

//go:wasmimport host amx_get_string
func hostGetString(inst, addr, buf, size uint32) uint32

//go:wasmimport host amx_set_string
func hostSetString(inst, addr, ptr, length, size uint32) uint32

//go:wasmimport host amx_raise_error
func hostRaiseError(inst, code uint32)

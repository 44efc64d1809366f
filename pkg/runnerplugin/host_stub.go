//go:build !wasip1

package runnerplugin

// Host receives export table calls in non-wasm builds, where there is no
// host module to import from.
type Host interface {
	Logprintf(msg string)
	Register(inst uint32, name string) uint32
	FindPublic(inst uint32, name string) int32
	Push(inst, value uint32) uint32
	PushString(inst uint32, s string) (code, addr uint32)
	Release(inst, addr uint32) uint32
	Exec(inst, index uint32) (code, ret uint32)
	GetString(inst, addr uint32) (string, uint32)
	SetString(inst, addr uint32, s string, size uint32) uint32
	RaiseError(inst, code uint32)
}

var stubHost Host

// SetHost installs h and returns the previous one.
func SetHost(h Host) Host {
	prev := stubHost
	stubHost = h

	return prev
}

func pack(code, value uint32) uint64 {
	return uint64(code)<<32 | uint64(value)
}

func hostLogprintf(ptr, size uint32) {
	if stubHost != nil {
		stubHost.Logprintf(string(ReadBytes(ptr, size)))
	}
}

func hostRegister(inst, namePtr, nameLen uint32) uint32 {
	if stubHost == nil {
		return uint32(ErrInit)
	}

	return stubHost.Register(inst, string(ReadBytes(namePtr, nameLen)))
}

func hostFindPublic(inst, ptr, size uint32) int32 {
	if stubHost == nil {
		return -1
	}

	return stubHost.FindPublic(inst, string(ReadBytes(ptr, size)))
}

func hostPush(inst, value uint32) uint32 {
	if stubHost == nil {
		return uint32(ErrInit)
	}

	return stubHost.Push(inst, value)
}

func hostPushString(inst, ptr, size uint32) uint64 {
	if stubHost == nil {
		return pack(uint32(ErrInit), 0)
	}

	return pack(stubHost.PushString(inst, string(ReadBytes(ptr, size))))
}

func hostRelease(inst, addr uint32) uint32 {
	if stubHost == nil {
		return uint32(ErrInit)
	}

	return stubHost.Release(inst, addr)
}

func hostExec(inst, index uint32) uint64 {
	if stubHost == nil {
		return pack(uint32(ErrInit), 0)
	}

	return pack(stubHost.Exec(inst, index))
}

func hostGetString(inst, addr, buf, size uint32) uint32 {
	if stubHost == nil {
		return uint32(ErrInit)
	}

	s, code := stubHost.GetString(inst, addr)
	if code != 0 {
		return code
	}
	if uint32(len(s)) > size-1 {
		s = s[:size-1]
	}
	WriteBytes(buf, append([]byte(s), 0))

	return 0
}

func hostSetString(inst, addr, ptr, length, size uint32) uint32 {
	if stubHost == nil {
		return uint32(ErrInit)
	}

	return stubHost.SetString(inst, addr, string(ReadBytes(ptr, length)), size)
}

func hostRaiseError(inst, code uint32) {
	if stubHost != nil {
		stubHost.RaiseError(inst, code)
	}
}

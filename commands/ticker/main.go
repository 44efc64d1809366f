//go:build wasip1

// Command ticker is a sample plugin. It counts host ticks, exposes the count
// to scripts through the native TickCount and calls the script public OnTick
// every EveryTicks ticks while attached.
package main

import "github.com/andrei-cloud/plugin_runner/pkg/runnerplugin"

// EveryTicks is how often OnTick is called.
const EveryTicks = 200

var (
	ticks    int32
	attached = map[uint32]struct{}{}
)

//go:wasmexport Supports
func Supports() uint32 {
	return runnerplugin.SupportsVersion | runnerplugin.SupportsAMXNatives | runnerplugin.SupportsProcessTick
}

//go:wasmexport Load
func Load(slots uint32) uint32 {
	if slots < 10 {
		// Host export table is too old for amx_raise_error.
		return 0
	}
	runnerplugin.Logf("ticker loaded (%d slots)", slots)

	return 1
}

//go:wasmexport Unload
func Unload() {
	runnerplugin.Logf("ticker unloaded after %d ticks", ticks)
}

//go:wasmexport AttachToInstance
func AttachToInstance(inst uint32) int32 {
	if err := runnerplugin.Register(inst, "TickCount"); err != nil {
		return errCode(err)
	}
	attached[inst] = struct{}{}

	return 0
}

//go:wasmexport DetachFromInstance
func DetachFromInstance(inst uint32) int32 {
	delete(attached, inst)
	return 0
}

//go:wasmexport Tick
func Tick() {
	ticks++
	if ticks%EveryTicks != 0 {
		return
	}

	for inst := range attached {
		if _, ok := runnerplugin.FindPublic(inst, "OnTick"); !ok {
			continue
		}
		if _, err := runnerplugin.Call(inst, "OnTick", ticks); err != nil {
			runnerplugin.Logf("OnTick failed: %v", err)
		}
	}
}

// TickCount(bool:reset = false) returns the ticks seen so far.
//
//go:wasmexport TickCount
func TickCount(inst, params, count uint32) int32 {
	args := runnerplugin.DecodeArgs(params, count)
	n := ticks
	if args.Int(0) != 0 {
		ticks = 0
	}

	return n
}

func errCode(err error) int32 {
	if code, ok := err.(runnerplugin.Error); ok {
		return int32(code)
	}

	return int32(runnerplugin.ErrNative)
}

func main() {}

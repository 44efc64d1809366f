// Package plugins loads plugin modules and drives them through the plugin ABI:
// capability query, init with the host export table, per-instance attach and
// detach, periodic tick and teardown.
package plugins

import "fmt"

// Capability bits returned by a plugin's Supports export.
const (
	SupportsVersion     = 0x0200
	SupportsVersionMask = 0xffff
	SupportsAMXNatives  = 0x10000
	SupportsProcessTick = 0x20000
)

// Suffix is appended to plugin paths that do not already carry it.
const Suffix = ".wasm"

// Flags is the capability bitmask a plugin reports.
type Flags uint32

// Version returns the ABI version the plugin was built against.
func (f Flags) Version() uint32 {
	return uint32(f) & SupportsVersionMask
}

// HasNatives reports whether the plugin attaches to script instances.
func (f Flags) HasNatives() bool {
	return f&SupportsAMXNatives != 0
}

// HasTick reports whether the plugin wants periodic ticks.
func (f Flags) HasTick() bool {
	return f&SupportsProcessTick != 0
}

func (f Flags) String() string {
	return fmt.Sprintf("v%#x natives=%t tick=%t", f.Version(), f.HasNatives(), f.HasTick())
}

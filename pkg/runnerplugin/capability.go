package runnerplugin

// Capability bits a plugin returns from Supports.
const (
	SupportsVersion     = 0x0200
	SupportsAMXNatives  = 0x10000
	SupportsProcessTick = 0x20000
)

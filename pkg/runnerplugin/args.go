package runnerplugin

import (
	"encoding/binary"
	"math"
)

// CellSize is the size of one script cell in bytes.
const CellSize = 4

// Args holds the cells the host copied into plugin memory for a native call.
type Args []int32

// DecodeArgs reads count cells at ptr.
func DecodeArgs(ptr, count uint32) Args {
	raw := ReadBytes(ptr, count*CellSize)
	if uint32(len(raw)) < count*CellSize {
		return nil
	}

	args := make(Args, count)
	for i := range args {
		args[i] = int32(binary.LittleEndian.Uint32(raw[i*CellSize:]))
	}

	return args
}

// Len returns the number of arguments.
func (a Args) Len() int {
	return len(a)
}

// Int returns argument i, or 0 when the script passed fewer.
func (a Args) Int(i int) int32 {
	if i < 0 || i >= len(a) {
		return 0
	}

	return a[i]
}

// Float returns argument i reinterpreted as a float.
func (a Args) Float(i int) float32 {
	return math.Float32frombits(uint32(a.Int(i)))
}

// FloatCell packs f for returning it from a native.
func FloatCell(f float32) int32 {
	return int32(math.Float32bits(f))
}

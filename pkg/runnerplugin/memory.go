// Package runnerplugin provides helper functions for WASM plugins: memory the
// host can write into, argument decoding and typed wrappers around the host
// export table.
package runnerplugin

import "sync"

// MaxAllocation bounds the memory pinned on behalf of the host at once.
const MaxAllocation = 16 << 20

// heap keeps every block handed to the host reachable until it is freed.
var heap = struct {
	sync.Mutex
	blocks map[uint32][]byte
	total  int
}{blocks: make(map[uint32][]byte)}

// Allocate pins a zeroed block of n bytes and returns its address, or 0 when
// n is 0 or the limit would be exceeded.
func Allocate(n uint32) uint32 {
	if n == 0 {
		return 0
	}

	heap.Lock()
	defer heap.Unlock()

	if heap.total+int(n) > MaxAllocation {
		return 0
	}

	buf := make([]byte, n)
	ptr := addressOf(buf)
	heap.blocks[ptr] = buf
	heap.total += int(n)

	return ptr
}

// Deallocate releases a block returned by Allocate. Unknown addresses are
// ignored.
func Deallocate(ptr uint32) {
	heap.Lock()
	defer heap.Unlock()

	buf, ok := heap.blocks[ptr]
	if !ok {
		return
	}
	delete(heap.blocks, ptr)
	heap.total -= len(buf)
}

// Outstanding returns the number of bytes currently pinned.
func Outstanding() int {
	heap.Lock()
	defer heap.Unlock()

	return heap.total
}

// ReadBytes returns length bytes of linear memory at ptr.
func ReadBytes(ptr, length uint32) []byte {
	if length == 0 {
		return nil
	}

	return view(ptr, length)
}

// WriteBytes copies data into linear memory at ptr.
func WriteBytes(ptr uint32, data []byte) {
	copy(view(ptr, uint32(len(data))), data)
}

// withBytes copies data into a temporary block for the duration of fn.
func withBytes(data []byte, fn func(ptr, length uint32)) {
	if len(data) == 0 {
		fn(0, 0)
		return
	}

	ptr := Allocate(uint32(len(data)))
	defer Deallocate(ptr)

	WriteBytes(ptr, data)
	fn(ptr, uint32(len(data)))
}

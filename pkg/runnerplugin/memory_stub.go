//go:build !wasip1

package runnerplugin

// Outside WebAssembly addresses are synthetic and only blocks obtained from
// Allocate are addressable.

const stubBase = 0x1000

var stubNext uint32 = stubBase

func addressOf(buf []byte) uint32 {
	ptr := stubNext
	stubNext += uint32(len(buf)+7) &^ 7

	return ptr
}

func view(ptr, length uint32) []byte {
	heap.Lock()
	defer heap.Unlock()

	for base, buf := range heap.blocks {
		if ptr >= base && uint64(ptr)+uint64(length) <= uint64(base)+uint64(len(buf)) {
			off := ptr - base
			return buf[off : off+length]
		}
	}

	return nil
}

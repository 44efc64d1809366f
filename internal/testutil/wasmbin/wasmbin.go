// Package wasmbin encodes tiny WebAssembly modules for tests.
//
// It covers exactly what the host's tests need: i32/i64 function types,
// function imports, a single exported memory, mutable i32 globals, active
// data segments and raw instruction bodies.
package wasmbin

import "sort"

// Value types.
const (
	I32 byte = 0x7f
	I64 byte = 0x7e
)

const (
	sectionType     = 1
	sectionImport   = 2
	sectionFunction = 3
	sectionMemory   = 5
	sectionGlobal   = 6
	sectionExport   = 7
	sectionCode     = 10
	sectionData     = 11

	kindFunc   = 0x00
	kindMemory = 0x02

	opEnd = 0x0b
)

type funcType struct {
	params  []byte
	results []byte
}

type imported struct {
	module string
	name   string
	typ    uint32
}

type function struct {
	typ  uint32
	body []byte
}

type export struct {
	name string
	kind byte
	idx  uint32
}

type segment struct {
	offset int32
	data   []byte
}

// Module is a module under construction.
type Module struct {
	types    []funcType
	typeIdx  map[string]uint32
	imports  []imported
	funcs    []function
	exports  []export
	globals  []int32
	memPages uint32
	hasMem   bool
	data     []segment
}

// New returns an empty module.
func New() *Module {
	return &Module{typeIdx: make(map[string]uint32)}
}

// Params returns n i32 value types.
func Params(n int) []byte {
	out := make([]byte, n)
	for i := range out {
		out[i] = I32
	}

	return out
}

func (m *Module) typeIndex(params, results []byte) uint32 {
	key := string(params) + "|" + string(results)
	if idx, ok := m.typeIdx[key]; ok {
		return idx
	}
	idx := uint32(len(m.types))
	m.types = append(m.types, funcType{params: params, results: results})
	m.typeIdx[key] = idx

	return idx
}

// Import declares an imported function and returns its function index.
// Imports must be declared before any defined function.
func (m *Module) Import(module, name string, params, results []byte) uint32 {
	if len(m.funcs) > 0 {
		panic("wasmbin: imports must be declared before functions")
	}
	m.imports = append(m.imports, imported{module: module, name: name, typ: m.typeIndex(params, results)})

	return uint32(len(m.imports) - 1)
}

// Func defines a function from instruction fragments and returns its index.
// The terminating end opcode is appended automatically.
func (m *Module) Func(params, results []byte, body ...[]byte) uint32 {
	var code []byte
	for _, b := range body {
		code = append(code, b...)
	}
	code = append(code, opEnd)
	m.funcs = append(m.funcs, function{typ: m.typeIndex(params, results), body: code})

	return uint32(len(m.imports) + len(m.funcs) - 1)
}

// Export exports function fn under name.
func (m *Module) Export(name string, fn uint32) *Module {
	m.exports = append(m.exports, export{name: name, kind: kindFunc, idx: fn})
	return m
}

// Memory defines a memory of pages 64KiB pages exported as "memory".
func (m *Module) Memory(pages uint32) *Module {
	m.hasMem = true
	m.memPages = pages
	m.exports = append(m.exports, export{name: "memory", kind: kindMemory, idx: 0})

	return m
}

// Global defines a mutable i32 global and returns its index.
func (m *Module) Global(init int32) uint32 {
	m.globals = append(m.globals, init)
	return uint32(len(m.globals) - 1)
}

// Data places bytes at offset in memory.
func (m *Module) Data(offset int32, data []byte) *Module {
	m.data = append(m.data, segment{offset: offset, data: data})
	return m
}

// String places a NUL-terminated string at offset.
func (m *Module) String(offset int32, s string) *Module {
	return m.Data(offset, append([]byte(s), 0))
}

// BumpAllocator adds a global heap pointer starting at base and exports
// Alloc(size) i32 and Free(ptr).
func (m *Module) BumpAllocator(base int32) *Module {
	g := m.Global(base)
	alloc := m.Func(Params(1), Params(1),
		GlobalGet(g),
		GlobalGet(g), LocalGet(0), I32Add(), GlobalSet(g),
	)
	free := m.Func(Params(1), nil)
	m.Export("Alloc", alloc)
	m.Export("Free", free)

	return m
}

// Bytes encodes the module.
func (m *Module) Bytes() []byte {
	out := []byte{0x00, 0x61, 0x73, 0x6d, 0x01, 0x00, 0x00, 0x00}

	if len(m.types) > 0 {
		items := make([][]byte, 0, len(m.types))
		for _, t := range m.types {
			item := []byte{0x60}
			item = append(item, vecBytes(t.params)...)
			item = append(item, vecBytes(t.results)...)
			items = append(items, item)
		}
		out = append(out, section(sectionType, vec(items))...)
	}

	if len(m.imports) > 0 {
		items := make([][]byte, 0, len(m.imports))
		for _, imp := range m.imports {
			item := name(imp.module)
			item = append(item, name(imp.name)...)
			item = append(item, kindFunc)
			item = append(item, uleb(imp.typ)...)
			items = append(items, item)
		}
		out = append(out, section(sectionImport, vec(items))...)
	}

	if len(m.funcs) > 0 {
		items := make([][]byte, 0, len(m.funcs))
		for _, f := range m.funcs {
			items = append(items, uleb(f.typ))
		}
		out = append(out, section(sectionFunction, vec(items))...)
	}

	if m.hasMem {
		out = append(out, section(sectionMemory, vec([][]byte{append([]byte{0x00}, uleb(m.memPages)...)}))...)
	}

	if len(m.globals) > 0 {
		items := make([][]byte, 0, len(m.globals))
		for _, g := range m.globals {
			item := []byte{I32, 0x01}
			item = append(item, I32Const(g)...)
			item = append(item, opEnd)
			items = append(items, item)
		}
		out = append(out, section(sectionGlobal, vec(items))...)
	}

	if len(m.exports) > 0 {
		exports := append([]export(nil), m.exports...)
		sort.SliceStable(exports, func(i, j int) bool { return exports[i].name < exports[j].name })
		items := make([][]byte, 0, len(exports))
		for _, e := range exports {
			item := name(e.name)
			item = append(item, e.kind)
			item = append(item, uleb(e.idx)...)
			items = append(items, item)
		}
		out = append(out, section(sectionExport, vec(items))...)
	}

	if len(m.funcs) > 0 {
		items := make([][]byte, 0, len(m.funcs))
		for _, f := range m.funcs {
			body := append([]byte{0x00}, f.body...) // no locals
			items = append(items, append(uleb(uint32(len(body))), body...))
		}
		out = append(out, section(sectionCode, vec(items))...)
	}

	if len(m.data) > 0 {
		items := make([][]byte, 0, len(m.data))
		for _, d := range m.data {
			item := []byte{0x00}
			item = append(item, I32Const(d.offset)...)
			item = append(item, opEnd)
			item = append(item, vecBytes(d.data)...)
			items = append(items, item)
		}
		out = append(out, section(sectionData, vec(items))...)
	}

	return out
}

// I32Const pushes v.
func I32Const(v int32) []byte {
	return append([]byte{0x41}, sleb(int64(v))...)
}

// I64Const pushes v.
func I64Const(v int64) []byte {
	return append([]byte{0x42}, sleb(v)...)
}

// LocalGet pushes local i.
func LocalGet(i uint32) []byte {
	return append([]byte{0x20}, uleb(i)...)
}

// GlobalGet pushes global i.
func GlobalGet(i uint32) []byte {
	return append([]byte{0x23}, uleb(i)...)
}

// GlobalSet pops into global i.
func GlobalSet(i uint32) []byte {
	return append([]byte{0x24}, uleb(i)...)
}

// Call calls function i.
func Call(i uint32) []byte {
	return append([]byte{0x10}, uleb(i)...)
}

// I32Load loads an i32 from the address on the stack plus offset.
func I32Load(offset uint32) []byte {
	return append([]byte{0x28, 0x02}, uleb(offset)...)
}

// I32Add adds the two topmost i32 values.
func I32Add() []byte { return []byte{0x6a} }

// I32DivS divides the two topmost i32 values.
func I32DivS() []byte { return []byte{0x6d} }

// Drop discards the top of the stack.
func Drop() []byte { return []byte{0x1a} }

// Unreachable traps.
func Unreachable() []byte { return []byte{0x00} }

func section(id byte, content []byte) []byte {
	out := []byte{id}
	out = append(out, uleb(uint32(len(content)))...)

	return append(out, content...)
}

func vec(items [][]byte) []byte {
	out := uleb(uint32(len(items)))
	for _, item := range items {
		out = append(out, item...)
	}

	return out
}

func vecBytes(b []byte) []byte {
	return append(uleb(uint32(len(b))), b...)
}

func name(s string) []byte {
	return vecBytes([]byte(s))
}

func uleb(v uint32) []byte {
	var out []byte
	for {
		b := byte(v & 0x7f)
		v >>= 7
		if v != 0 {
			b |= 0x80
		}
		out = append(out, b)
		if v == 0 {
			return out
		}
	}
}

func sleb(v int64) []byte {
	var out []byte
	for {
		b := byte(v & 0x7f)
		v >>= 7
		if (v == 0 && b&0x40 == 0) || (v == -1 && b&0x40 != 0) {
			return append(out, b)
		}
		out = append(out, b|0x80)
	}
}

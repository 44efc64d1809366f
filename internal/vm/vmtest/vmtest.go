// Package vmtest provides an instrumented in-memory engine for tests.
//
// The stub keeps two string regions: program data placed with StoreString and
// a heap fed by PushString. Heap allocations are counted so tests can assert
// that everything pushed was released, and the release order is recorded.
package vmtest

import (
	"context"
	"fmt"
	"sort"

	"github.com/andrei-cloud/plugin_runner/internal/errorcodes"
	"github.com/andrei-cloud/plugin_runner/internal/vm"
)

// PublicFunc simulates a compiled public function.
type PublicFunc func(ctx context.Context, inst *Instance, args []vm.Cell) vm.Cell

// Call records one Exec.
type Call struct {
	Name string
	Args []vm.Cell
	Heap map[vm.Cell]string // heap strings visible when the call started
}

// Instance is a fake vm.Instance.
type Instance struct {
	main       PublicFunc
	publics    map[string]PublicFunc
	names      []string
	natives    map[string]vm.NativeFunc
	referenced []string
	pending    []vm.Cell
	data       map[vm.Cell]string
	heap       map[vm.Cell]string
	nextAddr   vm.Cell
	raised     int

	Calls    []Call
	Pushed   []vm.Cell
	Released []vm.Cell
	Closed   bool
}

var _ vm.Instance = (*Instance)(nil)

// New returns an empty program.
func New() *Instance {
	return &Instance{
		publics:  make(map[string]PublicFunc),
		natives:  make(map[string]vm.NativeFunc),
		data:     make(map[vm.Cell]string),
		heap:     make(map[vm.Cell]string),
		nextAddr: 0x100,
	}
}

// SetMain sets the program entry point.
func (s *Instance) SetMain(fn PublicFunc) *Instance {
	s.main = fn
	return s
}

// AddPublic adds a public function.
func (s *Instance) AddPublic(name string, fn PublicFunc) *Instance {
	if _, ok := s.publics[name]; !ok {
		s.names = append(s.names, name)
		sort.Strings(s.names)
	}
	s.publics[name] = fn

	return s
}

// Reference declares natives the program calls.
func (s *Instance) Reference(names ...string) *Instance {
	s.referenced = append(s.referenced, names...)
	return s
}

// StoreString places a string in program data and returns its address.
func (s *Instance) StoreString(str string) vm.Cell {
	addr := s.alloc(str)
	s.data[addr] = str

	return addr
}

// Outstanding returns the number of heap strings not yet released.
func (s *Instance) Outstanding() int {
	return len(s.heap)
}

// CallNative invokes a registered native the way compiled code would.
func (s *Instance) CallNative(ctx context.Context, name string, args ...vm.Cell) (vm.Cell, error) {
	fn, ok := s.natives[name]
	if !ok {
		return 0, errorcodes.ErrNotFound
	}

	ret := fn(ctx, s, vm.Params(args...))
	if code := s.raised; code != 0 {
		s.raised = 0
		return 0, errorcodes.FromCode(code)
	}

	return ret, nil
}

// HasNative reports whether name is registered.
func (s *Instance) HasNative(name string) bool {
	_, ok := s.natives[name]
	return ok
}

func (s *Instance) alloc(str string) vm.Cell {
	addr := s.nextAddr
	s.nextAddr += vm.Cell(len(str) + 1)
	for s.nextAddr%vm.CellSize != 0 {
		s.nextAddr++
	}

	return addr
}

// FindPublic implements vm.Instance.
func (s *Instance) FindPublic(name string) (int, error) {
	i := sort.SearchStrings(s.names, name)
	if i < len(s.names) && s.names[i] == name {
		return i, nil
	}

	return 0, errorcodes.ErrNotFound
}

// NumPublics implements vm.Instance.
func (s *Instance) NumPublics() int {
	return len(s.names)
}

// Exec implements vm.Instance.
func (s *Instance) Exec(ctx context.Context, index int) (vm.Cell, error) {
	args := s.pending
	s.pending = nil

	var (
		name string
		fn   PublicFunc
	)
	if index == vm.ExecMain {
		name, fn = "main", s.main
	} else if index >= 0 && index < len(s.names) {
		name = s.names[index]
		fn = s.publics[name]
	}
	if fn == nil {
		return 0, errorcodes.ErrIndex
	}

	heap := make(map[vm.Cell]string, len(s.heap))
	for k, v := range s.heap {
		heap[k] = v
	}
	s.Calls = append(s.Calls, Call{Name: name, Args: args, Heap: heap})

	ret := fn(ctx, s, args)
	if code := s.raised; code != 0 {
		s.raised = 0
		return 0, errorcodes.FromCode(code)
	}

	return ret, nil
}

// Push implements vm.Instance.
func (s *Instance) Push(value vm.Cell) error {
	s.pending = append(s.pending, value)
	s.Pushed = append(s.Pushed, value)

	return nil
}

// PushString implements vm.Instance.
func (s *Instance) PushString(str string) (vm.Cell, error) {
	addr := s.alloc(str)
	s.heap[addr] = str

	return addr, s.Push(addr)
}

// Release implements vm.Instance.
func (s *Instance) Release(addr vm.Cell) error {
	if _, ok := s.heap[addr]; !ok {
		return errorcodes.ErrMemAccess
	}
	delete(s.heap, addr)
	s.Released = append(s.Released, addr)

	return nil
}

// GetString implements vm.Instance.
func (s *Instance) GetString(addr vm.Cell) (string, error) {
	if str, ok := s.data[addr]; ok {
		return str, nil
	}
	if str, ok := s.heap[addr]; ok {
		return str, nil
	}

	return "", errorcodes.ErrMemAccess
}

// SetString implements vm.Instance.
func (s *Instance) SetString(addr vm.Cell, str string, size int) error {
	if size <= 0 {
		return errorcodes.ErrParams
	}
	if len(str) > size-1 {
		str = str[:size-1]
	}
	if _, ok := s.heap[addr]; ok {
		s.heap[addr] = str
		return nil
	}
	s.data[addr] = str

	return nil
}

// Register implements vm.Instance.
func (s *Instance) Register(natives ...vm.Native) error {
	for _, n := range natives {
		if n.Func == nil {
			return fmt.Errorf("native %q: nil function", n.Name)
		}
		s.natives[n.Name] = n.Func
	}

	return nil
}

// UnresolvedNatives implements vm.Instance.
func (s *Instance) UnresolvedNatives() []string {
	var missing []string
	for _, name := range s.referenced {
		if _, ok := s.natives[name]; !ok {
			missing = append(missing, name)
		}
	}

	return missing
}

// RaiseError implements vm.Instance.
func (s *Instance) RaiseError(code int) {
	s.raised = code
}

// Close implements vm.Instance.
func (s *Instance) Close(_ context.Context) error {
	s.Closed = true
	return nil
}

// Engine hands out a prepared Instance.
type Engine struct {
	Instance *Instance
	Err      error
	Paths    []string
}

// Load implements vm.Engine.
func (e *Engine) Load(_ context.Context, path string) (vm.Instance, error) {
	e.Paths = append(e.Paths, path)
	if e.Err != nil {
		return nil, e.Err
	}
	if e.Instance == nil {
		e.Instance = New()
	}

	return e.Instance, nil
}

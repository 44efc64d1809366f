package builtins

import (
	"context"
	"errors"
	"io"
	"os"
	"sort"

	"github.com/andrei-cloud/plugin_runner/internal/errorcodes"
	"github.com/andrei-cloud/plugin_runner/internal/vm"
	"github.com/rs/zerolog/log"
	"github.com/spf13/afero"
)

// Open modes accepted by fopen.
const (
	ioRead = iota
	ioWrite
	ioReadWrite
	ioAppend
)

// File implements the file library on an afero filesystem. Handles are small
// positive integers; 0 means failure.
type File struct {
	fs    afero.Fs
	files map[vm.Cell]afero.File
	next  vm.Cell
}

// NewFile returns a file library working on fs.
func NewFile(fs afero.Fs) *File {
	return &File{fs: fs, files: make(map[vm.Cell]afero.File)}
}

// Name implements Library.
func (f *File) Name() string { return "file" }

// Init implements Library.
func (f *File) Init(inst vm.Instance) error {
	return inst.Register(
		vm.Native{Name: "fopen", Func: f.fopen},
		vm.Native{Name: "fclose", Func: f.fclose},
		vm.Native{Name: "fwrite", Func: f.fwrite},
		vm.Native{Name: "fread", Func: f.fread},
		vm.Native{Name: "flength", Func: f.flength},
		vm.Native{Name: "fexist", Func: f.fexist},
		vm.Native{Name: "fremove", Func: f.fremove},
	)
}

// Cleanup closes every file the script left open.
func (f *File) Cleanup(vm.Instance) error {
	handles := make([]vm.Cell, 0, len(f.files))
	for h := range f.files {
		handles = append(handles, h)
	}
	sort.Slice(handles, func(i, j int) bool { return handles[i] < handles[j] })

	var errs []error
	for _, h := range handles {
		if err := f.files[h].Close(); err != nil {
			errs = append(errs, err)
		}
		delete(f.files, h)
	}

	return errors.Join(errs...)
}

// Open returns the number of open handles.
func (f *File) Open() int {
	return len(f.files)
}

// fopen(const name[], filemode: mode = io_readwrite)
func (f *File) fopen(_ context.Context, inst vm.Instance, params []vm.Cell) vm.Cell {
	name, ok := getString(inst, vm.Arg(params, 0))
	if !ok {
		return 0
	}

	var flag int
	switch argOr(params, 1, ioReadWrite) {
	case ioRead:
		flag = os.O_RDONLY
	case ioWrite:
		flag = os.O_WRONLY | os.O_CREATE | os.O_TRUNC
	case ioAppend:
		flag = os.O_WRONLY | os.O_CREATE | os.O_APPEND
	default:
		flag = os.O_RDWR | os.O_CREATE
	}

	file, err := f.fs.OpenFile(name, flag, 0o644)
	if err != nil {
		log.Debug().Err(err).Str("file", name).Msg("fopen failed")
		return 0
	}

	f.next++
	f.files[f.next] = file

	return f.next
}

func (f *File) fclose(_ context.Context, _ vm.Instance, params []vm.Cell) vm.Cell {
	h := vm.Arg(params, 0)
	file, ok := f.files[h]
	if !ok {
		return 0
	}
	delete(f.files, h)

	return cellBool(file.Close() == nil)
}

// fwrite(handle, const string[]) returns the number of bytes written.
func (f *File) fwrite(_ context.Context, inst vm.Instance, params []vm.Cell) vm.Cell {
	file, ok := f.files[vm.Arg(params, 0)]
	if !ok {
		return 0
	}
	s, ok := getString(inst, vm.Arg(params, 1))
	if !ok {
		return 0
	}

	n, err := io.WriteString(file, s)
	if err != nil {
		log.Debug().Err(err).Str("file", file.Name()).Msg("fwrite failed")
	}

	return vm.Cell(n)
}

// fread(handle, string[], size) reads one line, newline included, into string
// and returns its length.
func (f *File) fread(_ context.Context, inst vm.Instance, params []vm.Cell) vm.Cell {
	file, ok := f.files[vm.Arg(params, 0)]
	if !ok {
		return 0
	}
	size := int(vm.Arg(params, 2))
	if size <= 0 {
		return 0
	}

	line := make([]byte, 0, size)
	var b [1]byte
	for len(line) < size-1 {
		n, err := file.Read(b[:])
		if n == 1 {
			line = append(line, b[0])
			if b[0] == '\n' {
				break
			}
		}
		if err != nil {
			break
		}
	}

	if err := inst.SetString(vm.Arg(params, 1), string(line), size); err != nil {
		inst.RaiseError(errorcodes.ErrNative.Code)
		return 0
	}

	return vm.Cell(len(line))
}

func (f *File) flength(_ context.Context, _ vm.Instance, params []vm.Cell) vm.Cell {
	file, ok := f.files[vm.Arg(params, 0)]
	if !ok {
		return 0
	}

	info, err := file.Stat()
	if err != nil {
		return 0
	}

	return vm.Cell(info.Size())
}

func (f *File) fexist(_ context.Context, inst vm.Instance, params []vm.Cell) vm.Cell {
	name, ok := getString(inst, vm.Arg(params, 0))
	if !ok {
		return 0
	}

	exists, err := afero.Exists(f.fs, name)

	return cellBool(err == nil && exists)
}

func (f *File) fremove(_ context.Context, inst vm.Instance, params []vm.Cell) vm.Cell {
	name, ok := getString(inst, vm.Arg(params, 0))
	if !ok {
		return 0
	}

	return cellBool(f.fs.Remove(name) == nil)
}

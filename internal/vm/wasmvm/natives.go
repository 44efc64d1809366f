package wasmvm

import (
	"context"
	"fmt"

	"github.com/andrei-cloud/plugin_runner/internal/errorcodes"
	"github.com/andrei-cloud/plugin_runner/internal/vm"
	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
)

// nativeImport is one function the script imports from the env module.
type nativeImport struct {
	name      string
	params    int
	hasResult bool
}

// nativeImports lists the env imports of a compiled script. Natives take only
// cells and return at most one.
func nativeImports(compiled wazero.CompiledModule) ([]nativeImport, error) {
	var (
		out  []nativeImport
		seen = make(map[string]nativeImport)
	)

	for _, def := range compiled.ImportedFunctions() {
		module, name, ok := def.Import()
		if !ok || module != nativeModule {
			continue
		}

		for _, t := range def.ParamTypes() {
			if t != api.ValueTypeI32 {
				return nil, fmt.Errorf("%w: native %s: parameter type %s", errorcodes.ErrFormat, name, api.ValueTypeName(t))
			}
		}
		results := def.ResultTypes()
		if len(results) > 1 || (len(results) == 1 && results[0] != api.ValueTypeI32) {
			return nil, fmt.Errorf("%w: native %s: unsupported results", errorcodes.ErrFormat, name)
		}

		imp := nativeImport{name: name, params: len(def.ParamTypes()), hasResult: len(results) == 1}
		if prev, dup := seen[name]; dup {
			if prev != imp {
				return nil, fmt.Errorf("%w: native %s imported with two signatures", errorcodes.ErrFormat, name)
			}

			continue
		}
		seen[name] = imp
		out = append(out, imp)
	}

	return out, nil
}

// instantiateNatives builds the env module. Each import dispatches through the
// native table at call time, so Register can run after instantiation.
func (i *Instance) instantiateNatives(ctx context.Context) error {
	builder := i.runtime.NewHostModuleBuilder(nativeModule)

	for _, imp := range i.imports {
		params := make([]api.ValueType, imp.params)
		for j := range params {
			params[j] = api.ValueTypeI32
		}
		var results []api.ValueType
		if imp.hasResult {
			results = []api.ValueType{api.ValueTypeI32}
		}

		builder.NewFunctionBuilder().
			WithGoModuleFunction(api.GoModuleFunc(func(ctx context.Context, _ api.Module, stack []uint64) {
				i.dispatch(ctx, imp, stack)
			}), params, results).
			WithName(imp.name).
			Export(imp.name)
	}

	_, err := builder.Instantiate(ctx)

	return err
}

// dispatch runs a native. A raised error unwinds the guest by panicking; wazero
// turns that into an error returned from the outer Call, which Exec maps back
// to the raised code.
func (i *Instance) dispatch(ctx context.Context, imp nativeImport, stack []uint64) {
	fn, ok := i.natives[imp.name]
	if !ok {
		i.RaiseError(errorcodes.ErrNotFound.Code)
		panic(errorcodes.ErrNotFound)
	}

	params := make([]vm.Cell, imp.params+1)
	params[0] = vm.Cell(imp.params * vm.CellSize)
	for j := 0; j < imp.params; j++ {
		params[j+1] = vm.Cell(api.DecodeI32(stack[j]))
	}

	ret := fn(ctx, i, params)

	if code := i.raised; code != 0 {
		panic(errorcodes.FromCode(code))
	}
	if imp.hasResult {
		stack[0] = api.EncodeI32(int32(ret))
	}
}

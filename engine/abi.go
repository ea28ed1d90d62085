package engine

import (
	"strings"

	"github.com/tetratelabs/wazero/api"

	"github.com/bessy-lang/wasm-bridge/errors"
)

// Exports wasm-bindgen generates for string passing
const (
	ExportMemory            = "memory"
	ExportMalloc            = "__wbindgen_malloc"
	ExportRealloc           = "__wbindgen_realloc"
	ExportFree              = "__wbindgen_free"
	ExportAddToStackPointer = "__wbindgen_add_to_stack_pointer"
)

// ABI describes which allocator variants a guest exports.
// Newer wasm-bindgen versions add a trailing align parameter.
type ABI struct {
	MallocAlign  bool
	ReallocAlign bool
	FreeAlign    bool
	HasRealloc   bool
}

var i32 = api.ValueTypeI32

// ResolveABI checks the guest exports the string ABI needs and detects
// the allocator arities.
func ResolveABI(funcs map[string]api.FunctionDefinition, memories map[string]api.MemoryDefinition) (ABI, error) {
	var abi ABI

	if _, ok := memories[ExportMemory]; !ok {
		return abi, errors.MissingExport(ExportMemory)
	}

	malloc, ok := funcs[ExportMalloc]
	if !ok {
		return abi, errors.MissingExport(ExportMalloc)
	}
	switch {
	case matches(malloc, 1, 1):
	case matches(malloc, 2, 1):
		abi.MallocAlign = true
	default:
		return abi, errors.Signature(ExportMalloc, "(i32[, i32]) -> i32", signature(malloc))
	}

	free, ok := funcs[ExportFree]
	if !ok {
		return abi, errors.MissingExport(ExportFree)
	}
	switch {
	case matches(free, 2, 0):
	case matches(free, 3, 0):
		abi.FreeAlign = true
	default:
		return abi, errors.Signature(ExportFree, "(i32, i32[, i32]) -> ()", signature(free))
	}

	if realloc, ok := funcs[ExportRealloc]; ok {
		switch {
		case matches(realloc, 3, 1):
		case matches(realloc, 4, 1):
			abi.ReallocAlign = true
		default:
			return abi, errors.Signature(ExportRealloc, "(i32, i32, i32[, i32]) -> i32", signature(realloc))
		}
		abi.HasRealloc = true
	}

	sp, ok := funcs[ExportAddToStackPointer]
	if !ok {
		return abi, errors.MissingExport(ExportAddToStackPointer)
	}
	if !matches(sp, 1, 1) {
		return abi, errors.Signature(ExportAddToStackPointer, "(i32) -> i32", signature(sp))
	}

	return abi, nil
}

// CheckEntry verifies that name is exported as (retptr, ptr, len) -> ()
func CheckEntry(funcs map[string]api.FunctionDefinition, name string) error {
	def, ok := funcs[name]
	if !ok {
		return errors.MissingExport(name)
	}
	if !matches(def, 3, 0) {
		return errors.Signature(name, "(i32, i32, i32) -> ()", signature(def))
	}
	return nil
}

// matches reports whether def takes params i32s and returns results i32s
func matches(def api.FunctionDefinition, params, results int) bool {
	return allI32(def.ParamTypes(), params) && allI32(def.ResultTypes(), results)
}

func allI32(types []api.ValueType, n int) bool {
	if len(types) != n {
		return false
	}
	for _, t := range types {
		if t != i32 {
			return false
		}
	}
	return true
}

func signature(def api.FunctionDefinition) string {
	return typeList(def.ParamTypes()) + " -> " + typeList(def.ResultTypes())
}

func typeList(types []api.ValueType) string {
	names := make([]string, len(types))
	for i, t := range types {
		names[i] = api.ValueTypeName(t)
	}
	return "(" + strings.Join(names, ", ") + ")"
}

package engine

import (
	"context"
	"fmt"
	"io"
	"sort"
	"sync"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"go.uber.org/zap"

	wasmbridge "github.com/bessy-lang/wasm-bridge"
	"github.com/bessy-lang/wasm-bridge/errors"
)

// WazeroEngine compiles and runs wasm-bindgen guests on wazero
type WazeroEngine struct {
	runtime wazero.Runtime
	cfg     Config
	hostMu  sync.Mutex
	hosts   map[string]map[string]bool
}

// Config holds configuration for engine creation
type Config struct {
	// MemoryLimitPages sets the maximum memory per instance in pages (64KB each).
	// 0 means default (65536 pages = 4GB).
	MemoryLimitPages uint32

	// CloseOnContextDone aborts running guest code when the call context
	// is canceled.
	CloseOnContextDone bool

	// Stdout receives alert and writeTermLn output. Defaults to io.Discard.
	Stdout io.Writer

	// Logger receives guest console output. Defaults to Logger().
	Logger *zap.Logger
}

// NewWazeroEngine creates a new wazero-based engine
func NewWazeroEngine(ctx context.Context) (*WazeroEngine, error) {
	return NewWazeroEngineWithConfig(ctx, nil)
}

// NewWazeroEngineWithConfig creates a new engine with custom configuration
func NewWazeroEngineWithConfig(ctx context.Context, cfg *Config) (*WazeroEngine, error) {
	runtimeCfg := wazero.NewRuntimeConfig()

	var c Config
	if cfg != nil {
		c = *cfg
		if c.MemoryLimitPages > 0 {
			runtimeCfg = runtimeCfg.WithMemoryLimitPages(c.MemoryLimitPages)
		}
		if c.CloseOnContextDone {
			runtimeCfg = runtimeCfg.WithCloseOnContextDone(true)
		}
	}
	if c.Stdout == nil {
		c.Stdout = io.Discard
	}
	c.Stdout = &lockedWriter{w: c.Stdout}
	if c.Logger == nil {
		c.Logger = Logger()
	}

	runtime := wazero.NewRuntimeWithConfig(ctx, runtimeCfg)
	return &WazeroEngine{
		runtime: runtime,
		cfg:     c,
		hosts:   make(map[string]map[string]bool),
	}, nil
}

// LoadModule compiles a guest and checks that it speaks the string ABI.
// Imports the engine cannot satisfy are reported together as a
// *errors.MissingImportsError.
func (e *WazeroEngine) LoadModule(ctx context.Context, wasmBytes []byte) (*WazeroModule, error) {
	compiled, err := e.runtime.CompileModule(ctx, wasmBytes)
	if err != nil {
		return nil, errors.Load("compile failed", err)
	}

	funcs := compiled.ExportedFunctions()
	abi, err := ResolveABI(funcs, compiled.ExportedMemories())
	if err != nil {
		_ = compiled.Close(ctx)
		return nil, err
	}

	imports := make(map[string][]importBinding)
	var missing []string
	for _, def := range compiled.ImportedFunctions() {
		mod, name, _ := def.Import()
		s := findShim(name)
		if s == nil || !matches(def, s.params, s.results) {
			missing = append(missing, mod+"#"+name)
			continue
		}
		imports[mod] = append(imports[mod], importBinding{name: name, shim: s})
	}
	if len(missing) > 0 {
		_ = compiled.Close(ctx)
		return nil, errors.NewMissingImportsError(missing)
	}

	debugf("loaded module: %d exports, %d import modules, realloc=%v", len(funcs), len(imports), abi.HasRealloc)

	return &WazeroModule{
		engine:   e,
		compiled: compiled,
		abi:      abi,
		imports:  imports,
	}, nil
}

// Close releases the runtime and every module instantiated from it
func (e *WazeroEngine) Close(ctx context.Context) error {
	return e.runtime.Close(ctx)
}

// ensureHostModule instantiates the host module name exporting the given
// imports. Host modules are shared by every instance of the runtime, so a
// later guest needing an import the existing module lacks cannot be linked.
func (e *WazeroEngine) ensureHostModule(ctx context.Context, name string, bindings []importBinding) error {
	e.hostMu.Lock()
	defer e.hostMu.Unlock()

	if have, ok := e.hosts[name]; ok {
		for _, b := range bindings {
			if !have[b.name] {
				return errors.New(errors.PhaseRuntime, errors.KindMissingImport).
					Detail("host module %q already instantiated without %q", name, b.name).
					Build()
			}
		}
		return nil
	}

	builder := e.runtime.NewHostModuleBuilder(name)
	exported := make(map[string]bool, len(bindings))
	for _, b := range bindings {
		if exported[b.name] {
			continue
		}
		builder.NewFunctionBuilder().
			WithGoModuleFunction(b.shim.handler(e.cfg), b.shim.paramTypes(), b.shim.resultTypes()).
			WithName(b.name).
			Export(b.name)
		exported[b.name] = true
	}
	if _, err := builder.Instantiate(ctx); err != nil {
		return errors.Instantiation(fmt.Errorf("host module %q: %w", name, err))
	}
	e.hosts[name] = exported
	return nil
}

// WazeroModule is a compiled guest
type WazeroModule struct {
	engine   *WazeroEngine
	compiled wazero.CompiledModule
	abi      ABI
	imports  map[string][]importBinding
}

// ABI returns the allocator variants the guest exports
func (m *WazeroModule) ABI() ABI {
	return m.abi
}

// Exports returns the guest's exported function definitions
func (m *WazeroModule) Exports() map[string]api.FunctionDefinition {
	return m.compiled.ExportedFunctions()
}

// ExportNames returns the names of all exported functions, sorted
func (m *WazeroModule) ExportNames() []string {
	funcs := m.compiled.ExportedFunctions()
	names := make([]string, 0, len(funcs))
	for name := range funcs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Instantiate creates an anonymous instance. Instances of the same module
// do not share memory.
func (m *WazeroModule) Instantiate(ctx context.Context) (*WazeroInstance, error) {
	for name, bindings := range m.imports {
		if err := m.engine.ensureHostModule(ctx, name, bindings); err != nil {
			return nil, err
		}
	}

	modConfig := wazero.NewModuleConfig().WithName("")
	instance, err := m.engine.runtime.InstantiateModule(ctx, m.compiled, modConfig)
	if err != nil {
		return nil, errors.Instantiation(err)
	}

	inst := &WazeroInstance{
		module:   m,
		instance: instance,
		mem:      instance.Memory(),
		malloc:   instance.ExportedFunction(ExportMalloc),
		free:     instance.ExportedFunction(ExportFree),
		sp:       instance.ExportedFunction(ExportAddToStackPointer),
		funcs:    make(map[string]api.Function),
		stackBuf: make([]uint64, 4),
	}
	if m.abi.HasRealloc {
		inst.realloc = instance.ExportedFunction(ExportRealloc)
	}
	return inst, nil
}

// Close releases the compiled module
func (m *WazeroModule) Close(ctx context.Context) error {
	return m.compiled.Close(ctx)
}

// WazeroInstance is a running guest. It is not safe for concurrent use.
type WazeroInstance struct {
	module   *WazeroModule
	instance api.Module
	mem      api.Memory
	malloc   api.Function
	realloc  api.Function
	free     api.Function
	sp       api.Function
	funcs    map[string]api.Function
	stackBuf []uint64
}

var (
	_ wasmbridge.Guest           = (*WazeroInstance)(nil)
	_ wasmbridge.Reallocator     = (*WazeroInstance)(nil)
	_ wasmbridge.OptionalRealloc = (*WazeroInstance)(nil)
)

// Buffer returns the live guest memory. wazero replaces the backing
// array when memory grows.
func (i *WazeroInstance) Buffer() []byte {
	if i.mem == nil {
		return nil
	}
	b, _ := i.mem.Read(0, i.mem.Size())
	return b
}

// MemorySize returns the current memory size in bytes
func (i *WazeroInstance) MemorySize() uint32 {
	if i.mem == nil {
		return 0
	}
	return i.mem.Size()
}

func (i *WazeroInstance) Malloc(ctx context.Context, size uint32) (uint32, error) {
	stack := i.stackBuf[:1]
	stack[0] = api.EncodeU32(size)
	if i.module.abi.MallocAlign {
		stack = append(stack, 1)
	}
	if err := i.malloc.CallWithStack(ctx, stack); err != nil {
		return 0, err
	}
	return api.DecodeU32(stack[0]), nil
}

func (i *WazeroInstance) Realloc(ctx context.Context, ptr, oldSize, newSize uint32) (uint32, error) {
	if i.realloc == nil {
		return 0, errors.MissingExport(ExportRealloc)
	}
	stack := i.stackBuf[:3]
	stack[0] = api.EncodeU32(ptr)
	stack[1] = api.EncodeU32(oldSize)
	stack[2] = api.EncodeU32(newSize)
	if i.module.abi.ReallocAlign {
		stack = append(stack, 1)
	}
	if err := i.realloc.CallWithStack(ctx, stack); err != nil {
		return 0, err
	}
	return api.DecodeU32(stack[0]), nil
}

// HasRealloc reports whether the guest exports __wbindgen_realloc
func (i *WazeroInstance) HasRealloc() bool {
	return i.realloc != nil
}

func (i *WazeroInstance) Free(ctx context.Context, ptr, size uint32) error {
	stack := i.stackBuf[:2]
	stack[0] = api.EncodeU32(ptr)
	stack[1] = api.EncodeU32(size)
	if i.module.abi.FreeAlign {
		stack = append(stack, 1)
	}
	if err := i.free.CallWithStack(ctx, stack); err != nil {
		Logger().Warn("guest free failed",
			zap.Uint32("ptr", ptr),
			zap.Uint32("size", size),
			zap.Error(err))
		return err
	}
	return nil
}

func (i *WazeroInstance) AddToStackPointer(ctx context.Context, delta int32) (uint32, error) {
	stack := i.stackBuf[:1]
	stack[0] = api.EncodeI32(delta)
	if err := i.sp.CallWithStack(ctx, stack); err != nil {
		return 0, err
	}
	return api.DecodeU32(stack[0]), nil
}

// Invoke calls entry(retptr, ptr, length)
func (i *WazeroInstance) Invoke(ctx context.Context, entry string, retptr, ptr, length uint32) error {
	fn, err := i.function(entry)
	if err != nil {
		return err
	}
	stack := i.stackBuf[:3]
	stack[0] = api.EncodeU32(retptr)
	stack[1] = api.EncodeU32(ptr)
	stack[2] = api.EncodeU32(length)
	return fn.CallWithStack(ctx, stack)
}

// ExportedGlobalU32 reads an exported i32 global
func (i *WazeroInstance) ExportedGlobalU32(name string) (uint32, bool) {
	g := i.instance.ExportedGlobal(name)
	if g == nil {
		return 0, false
	}
	return api.DecodeU32(g.Get()), true
}

func (i *WazeroInstance) function(name string) (api.Function, error) {
	if fn, ok := i.funcs[name]; ok {
		return fn, nil
	}
	if err := CheckEntry(i.module.compiled.ExportedFunctions(), name); err != nil {
		return nil, err
	}
	fn := i.instance.ExportedFunction(name)
	i.funcs[name] = fn
	return fn, nil
}

func (i *WazeroInstance) Close(ctx context.Context) error {
	var err error
	if i.instance != nil {
		err = i.instance.Close(ctx)
		i.instance = nil
	}
	i.funcs = nil
	i.mem = nil
	i.malloc = nil
	i.realloc = nil
	i.free = nil
	i.sp = nil
	return err
}

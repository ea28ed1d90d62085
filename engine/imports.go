package engine

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/tetratelabs/wazero/api"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/bessy-lang/wasm-bridge/errors"
	"github.com/bessy-lang/wasm-bridge/transcoder"
)

// ImportThrow is the import wasm-bindgen uses to raise a JS exception
const ImportThrow = "__wbindgen_throw"

// shim is a host implementation of a wasm-bindgen glue import. Glue
// imports are named __wbg_<name>_<hash>; the hash changes between builds.
type shim struct {
	name    string
	exact   bool
	params  int
	results int
	handler func(cfg Config) api.GoModuleFunc
}

type importBinding struct {
	name string
	shim *shim
}

var shims = []*shim{
	{name: ImportThrow, exact: true, params: 2, handler: throwHandler},
	{name: "log", params: 2, handler: consoleHandler(zap.InfoLevel)},
	{name: "error", params: 2, handler: consoleHandler(zap.ErrorLevel)},
	{name: "alert", params: 2, handler: lineHandler(false)},
	{name: "writeTermLn", params: 2, results: 1, handler: lineHandler(true)},
}

// findShim returns the shim serving an import name, or nil
func findShim(name string) *shim {
	for _, s := range shims {
		if s.exact {
			if name == s.name {
				return s
			}
			continue
		}
		if strings.HasPrefix(name, "__wbg_"+s.name+"_") {
			return s
		}
	}
	return nil
}

func (s *shim) paramTypes() []api.ValueType {
	return i32s(s.params)
}

func (s *shim) resultTypes() []api.ValueType {
	return i32s(s.results)
}

func i32s(n int) []api.ValueType {
	if n == 0 {
		return nil
	}
	ts := make([]api.ValueType, n)
	for i := range ts {
		ts[i] = i32
	}
	return ts
}

// readString decodes the (ptr, len) string at the top of stack from the
// calling module's memory
func readString(mod api.Module, stack []uint64) (string, error) {
	ptr := api.DecodeU32(stack[0])
	length := api.DecodeU32(stack[1])
	dec := transcoder.NewDecoder(transcoder.NewViews(moduleMemory{mod}))
	return dec.Decode(ptr, length)
}

// moduleMemory adapts the caller's memory for the decoder
type moduleMemory struct {
	mod api.Module
}

func (m moduleMemory) Buffer() []byte {
	mem := m.mod.Memory()
	if mem == nil {
		return nil
	}
	b, _ := mem.Read(0, mem.Size())
	return b
}

// throwHandler aborts the guest call. wazero recovers the panic and
// returns it from the call.
func throwHandler(Config) api.GoModuleFunc {
	return func(_ context.Context, mod api.Module, stack []uint64) {
		msg, err := readString(mod, stack)
		if err != nil {
			panic(errors.New(errors.PhaseInvoke, errors.KindTrap).
				Detail("guest threw an unreadable message").
				Cause(err).
				Build())
		}
		panic(errors.New(errors.PhaseInvoke, errors.KindTrap).
			Detail("guest threw: %s", msg).
			Value(msg).
			Build())
	}
}

func consoleHandler(level zapcore.Level) func(Config) api.GoModuleFunc {
	return func(cfg Config) api.GoModuleFunc {
		log := cfg.Logger.Named("guest")
		return func(_ context.Context, mod api.Module, stack []uint64) {
			msg, err := readString(mod, stack)
			if err != nil {
				log.Warn("unreadable console message", zap.Error(err))
				return
			}
			if ce := log.Check(level, msg); ce != nil {
				ce.Write()
			}
		}
	}
}

// lineHandler writes the message and a newline to cfg.Stdout. With
// status set the import returns 1 on success and 0 on failure.
func lineHandler(status bool) func(Config) api.GoModuleFunc {
	return func(cfg Config) api.GoModuleFunc {
		return func(_ context.Context, mod api.Module, stack []uint64) {
			ok := uint64(1)
			msg, err := readString(mod, stack)
			if err == nil {
				_, err = fmt.Fprintln(cfg.Stdout, msg)
			}
			if err != nil {
				cfg.Logger.Warn("terminal write failed", zap.Error(err))
				ok = 0
			}
			if status {
				stack[0] = ok
			}
		}
	}
}

// lockedWriter serializes writes from concurrent instances
type lockedWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (l *lockedWriter) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.w.Write(p)
}

package runtime

import (
	"context"

	"github.com/bessy-lang/wasm-bridge/engine"
	"github.com/bessy-lang/wasm-bridge/errors"
)

// Instance is a running guest. It is not safe for concurrent use: one
// call at a time, and no calls from inside guest imports.
type Instance struct {
	module         *Module
	wazeroInstance *engine.WazeroInstance
	bridge         *Bridge
}

// Evaluate runs the configured entry point with input
func (i *Instance) Evaluate(ctx context.Context, input string) (string, error) {
	return i.Call(ctx, i.module.runtime.cfg.Entry, input)
}

// Call runs a declared entry point with input and returns its result.
// entry may be the declared name or the export name.
func (i *Instance) Call(ctx context.Context, entry, input string) (string, error) {
	if i.wazeroInstance == nil {
		return "", errors.Closed("instance")
	}
	export, err := i.module.ExportName(entry)
	if err != nil {
		return "", err
	}
	return i.bridge.Call(ctx, export, input)
}

// Outstanding returns the number of guest blocks the host owns. It is
// zero between calls.
func (i *Instance) Outstanding() int {
	return i.bridge.Outstanding()
}

// Global reads an exported i32 global, such as a guest allocation counter
func (i *Instance) Global(name string) (uint32, bool) {
	if i.wazeroInstance == nil {
		return 0, false
	}
	return i.wazeroInstance.ExportedGlobalU32(name)
}

// MemorySize returns the guest memory size in bytes
func (i *Instance) MemorySize() uint32 {
	if i.wazeroInstance == nil {
		return 0
	}
	return i.wazeroInstance.MemorySize()
}

func (i *Instance) Close(ctx context.Context) error {
	if i.wazeroInstance == nil {
		return nil
	}
	err := i.wazeroInstance.Close(ctx)
	i.wazeroInstance = nil
	return err
}

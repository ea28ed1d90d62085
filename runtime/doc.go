// Package runtime is the high-level API for running wasm-bindgen guests
// that take and return strings.
//
// # Usage
//
//	rt, err := runtime.NewWithConfig(ctx, runtime.Config{Logger: logger})
//	mod, err := rt.LoadWASM(ctx, wasmBytes, `evaluate: func(input: string) -> string;`)
//	inst, err := mod.Instantiate(ctx)
//	out, err := inst.Evaluate(ctx, "print 1 + 2;")
//
// # Calls
//
// Each call reserves a return slot on the guest shadow stack, encodes the
// input into a guest allocation, invokes the entry point, reads the
// result descriptor from the slot and decodes it. The slot is released and
// the result block freed whether or not decoding succeeds. The input block
// belongs to the guest once the entry point runs.
//
// A Bridge can also be used directly over any wasmbridge.Guest.
package runtime

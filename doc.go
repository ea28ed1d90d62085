// Package wasmbridge runs the Bessy interpreter compiled to WebAssembly and
// exchanges text with it over the wasm-bindgen string ABI.
//
// The host encodes a Go string into guest-owned bytes, calls an entry point
// through the shadow-stack return convention, decodes the guest's result
// bytes back into a Go string, and releases every guest allocation made
// during the call exactly once.
//
// # Architecture Overview
//
//	wasmbridge/          Root package with Memory, Allocator and Guest interfaces
//	├── runtime/         High-level API: load a module, instantiate, Evaluate
//	├── engine/          wazero integration, export resolution, host imports
//	├── transcoder/      View cache, allocator proxy, string encoder/decoder
//	├── wasm/            WASM binary encoder
//	├── errors/          Structured error types
//	├── internal/        Reference guest and in-memory test guest
//	└── cmd/bessy/       Command line runner and interactive editor
//
// # Quick Start
//
//	rt, err := runtime.New(ctx)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer rt.Close(ctx)
//
//	mod, err := rt.LoadWASM(ctx, wasmBytes, "")
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	inst, err := mod.Instantiate(ctx)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer inst.Close(ctx)
//
//	out, err := inst.Evaluate(ctx, `print "hello";`)
//
// # Memory Model
//
// Guest memory grows in place from the guest's point of view, but the host
// slice backing it may be replaced on growth. Every view of guest memory is
// re-fetched after any call that can grow it.
//
// # Thread Safety
//
// Runtime and Module are safe for concurrent use. Instance is NOT thread-safe
// and should be used by a single goroutine, or access must be synchronized.
package wasmbridge

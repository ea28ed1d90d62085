// Package engine runs wasm-bindgen guests on wazero.
//
// LoadModule compiles a guest and resolves its string ABI: the linear
// memory, the allocator exports (with or without the trailing align
// parameter) and the shadow stack pointer. Realloc is optional.
//
// # Host Imports
//
// Guests built with wasm-bindgen import their JS glue from a module such
// as "./wasm_bg.js". The engine provides host versions of the glue it
// understands:
//
//	__wbindgen_throw       aborts the call with the thrown message
//	__wbg_log_*            logs at info level
//	__wbg_error_*          logs at error level
//	__wbg_alert_*          writes a line to Config.Stdout
//	__wbg_writeTermLn_*    writes a line to Config.Stdout, returns true
//
// Any other import fails loading with a *errors.MissingImportsError.
//
// Host modules are registered once per engine under the guest's import
// module name and shared by all its instances.
package engine

// Package errors provides structured error types for the wasm bridge.
//
// Errors are categorized by Phase (where the error occurred) and Kind (error category).
// The Error type carries the entry point, a detail message and the cause chain.
//
// Use the Builder for structured error construction:
//
//	err := errors.New(errors.PhaseInvoke, errors.KindTrap).
//		Entry("evaluate").
//		Detail("guest panicked: %s", msg).
//		Build()
//
// Or use convenience constructors for common patterns:
//
//	err := errors.GuestAllocation(errors.PhaseEncode, "malloc", 64, cause)
//	err := errors.InvalidEncoding(errors.PhaseDecode, 3, data)
//
// Callers match categories with errors.Is against a Kind-only target, or
// with IsGuestAllocation and IsInvalidEncoding.
package errors

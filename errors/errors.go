package errors

import (
	stderrors "errors"
	"fmt"
	"strings"
)

// Phase indicates where in a call or load the error occurred
type Phase string

const (
	PhaseEncode   Phase = "encode"   // host string to guest bytes
	PhaseDecode   Phase = "decode"   // guest bytes to host string
	PhaseInvoke   Phase = "invoke"   // guest entry point call
	PhaseRelease  Phase = "release"  // return slot and result cleanup
	PhaseValidate Phase = "validate" // configuration and signatures
	PhaseRuntime  Phase = "runtime"  // runtime operations
	PhaseLoad     Phase = "load"     // module loading
	PhaseParse    Phase = "parse"    // WIT parsing
)

// Kind categorizes the error
type Kind string

const (
	KindAllocation    Kind = "allocation"
	KindInvalidUTF8   Kind = "invalid_utf8"
	KindStaleView     Kind = "stale_view"
	KindOutOfBounds   Kind = "out_of_bounds"
	KindTrap          Kind = "trap"
	KindMissingExport Kind = "missing_export"
	KindMissingImport Kind = "missing_import"
	KindSignature     Kind = "signature"
	KindNotFound      Kind = "not_found"
	KindInvalidInput  Kind = "invalid_input"
	KindInvalidData   Kind = "invalid_data"
	KindInstantiation Kind = "instantiation"
	KindClosed        Kind = "closed"
)

// Error is the structured error type used throughout the bridge
type Error struct {
	Value  any
	Cause  error
	Phase  Phase
	Kind   Kind
	Entry  string
	Detail string
	Path   []string
}

// Error implements the error interface
func (e *Error) Error() string {
	var b strings.Builder

	b.WriteByte('[')
	b.WriteString(string(e.Phase))
	b.WriteString("] ")
	b.WriteString(string(e.Kind))

	if e.Entry != "" {
		b.WriteString(" in ")
		b.WriteString(e.Entry)
	}

	if len(e.Path) > 0 {
		b.WriteString(" at ")
		b.WriteString(strings.Join(e.Path, "."))
	}

	if e.Detail != "" {
		b.WriteString(": ")
		b.WriteString(e.Detail)
	}

	if e.Cause != nil {
		b.WriteString(" (caused by: ")
		b.WriteString(e.Cause.Error())
		b.WriteByte(')')
	}

	return b.String()
}

// Unwrap returns the underlying error
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target matches this error.
// A target with an empty Phase matches on Kind alone.
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		if t.Phase == "" {
			return e.Kind == t.Kind
		}
		return e.Phase == t.Phase && e.Kind == t.Kind
	}
	return false
}

// Builder provides structured error construction
type Builder struct {
	err Error
}

// New creates a new error builder
func New(phase Phase, kind Kind) *Builder {
	return &Builder{
		err: Error{
			Phase: phase,
			Kind:  kind,
		},
	}
}

// Path sets the path to the offending item
func (b *Builder) Path(path ...string) *Builder {
	b.err.Path = path
	return b
}

// Entry sets the guest entry point the error belongs to
func (b *Builder) Entry(name string) *Builder {
	b.err.Entry = name
	return b
}

// Value sets the offending value
func (b *Builder) Value(v any) *Builder {
	b.err.Value = v
	return b
}

// Cause sets the underlying error
func (b *Builder) Cause(err error) *Builder {
	b.err.Cause = err
	return b
}

// Detail sets the human-readable detail message
func (b *Builder) Detail(msg string, args ...any) *Builder {
	if len(args) > 0 {
		b.err.Detail = fmt.Sprintf(msg, args...)
	} else {
		b.err.Detail = msg
	}
	return b
}

// Build returns the constructed error
func (b *Builder) Build() *Error {
	return &b.err
}

// Convenience constructors for common error patterns

// GuestAllocation creates an error for a guest allocator that trapped or
// returned a null pointer.
func GuestAllocation(phase Phase, op string, size uint32, cause error) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindAllocation,
		Detail: fmt.Sprintf("%s of %d bytes failed", op, size),
		Value:  size,
		Cause:  cause,
	}
}

// InvalidEncoding creates an error for guest bytes that are not valid UTF-8.
// offset is the position of the first malformed byte.
func InvalidEncoding(phase Phase, offset int, data []byte) *Error {
	preview := data
	if len(preview) > 32 {
		preview = preview[:32]
	}
	return &Error{
		Phase:  phase,
		Kind:   KindInvalidUTF8,
		Detail: fmt.Sprintf("invalid UTF-8 at offset %d: %x", offset, preview),
		Value:  offset,
	}
}

// StaleView creates an error for a memory view taken before the guest
// buffer was replaced.
func StaleView(phase Phase, held, current uint64) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindStaleView,
		Detail: fmt.Sprintf("view generation %d, memory generation %d", held, current),
	}
}

// OutOfBounds creates an out of bounds error
func OutOfBounds(phase Phase, ptr, length uint32, size int) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindOutOfBounds,
		Detail: fmt.Sprintf("range [%d, %d) exceeds memory of %d bytes", ptr, uint64(ptr)+uint64(length), size),
		Value:  ptr,
	}
}

// Trap creates an error for a guest call that trapped or aborted
func Trap(entry string, cause error) *Error {
	return &Error{
		Phase:  PhaseInvoke,
		Kind:   KindTrap,
		Entry:  entry,
		Detail: "guest call failed",
		Cause:  cause,
	}
}

// MissingExport creates an error for a required export the guest lacks
func MissingExport(name string) *Error {
	return &Error{
		Phase:  PhaseLoad,
		Kind:   KindMissingExport,
		Detail: fmt.Sprintf("export %q not found", name),
	}
}

// Signature creates an error for an export whose type does not match
func Signature(name, want, got string) *Error {
	return &Error{
		Phase:  PhaseLoad,
		Kind:   KindSignature,
		Detail: fmt.Sprintf("export %q has type %s, want %s", name, got, want),
	}
}

// Wrap wraps an existing error with additional context
func Wrap(phase Phase, kind Kind, cause error, detail string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   kind,
		Detail: detail,
		Cause:  cause,
	}
}

// IsGuestAllocation reports whether err is or wraps an allocation failure
func IsGuestAllocation(err error) bool {
	return stderrors.Is(err, &Error{Kind: KindAllocation})
}

// IsInvalidEncoding reports whether err is or wraps a UTF-8 decoding failure
func IsInvalidEncoding(err error) bool {
	return stderrors.Is(err, &Error{Kind: KindInvalidUTF8})
}

// IsTrap reports whether err is or wraps a guest trap
func IsTrap(err error) bool {
	return stderrors.Is(err, &Error{Kind: KindTrap})
}

// MissingImport represents a single unresolved import
type MissingImport struct {
	Module   string // e.g., "./bessy_bg.js"
	Function string // e.g., "__wbg_now_2f6cd0e1"
}

// MissingImportsError is returned when loading fails because the guest
// imports functions the host does not provide
type MissingImportsError struct {
	Imports []MissingImport
}

// NewMissingImportsError creates an error from a list of "module#function" strings
func NewMissingImportsError(imports []string) *MissingImportsError {
	result := &MissingImportsError{
		Imports: make([]MissingImport, 0, len(imports)),
	}
	for _, imp := range imports {
		mod, fn := parseImportKey(imp)
		result.Imports = append(result.Imports, MissingImport{
			Module:   mod,
			Function: fn,
		})
	}
	return result
}

func parseImportKey(key string) (module, function string) {
	mod, fn, found := strings.Cut(key, "#")
	if found {
		return mod, fn
	}
	return key, ""
}

// bindgenName strips the hash suffix wasm-bindgen appends to generated
// import shims: "__wbg_now_2f6cd0e1" becomes "now".
func bindgenName(name string) string {
	if !strings.HasPrefix(name, "__wbg_") {
		return name
	}
	s := name[len("__wbg_"):]
	i := strings.LastIndexByte(s, '_')
	if i <= 0 {
		return s
	}
	hash := s[i+1:]
	if len(hash) == 0 {
		return s
	}
	for j := 0; j < len(hash); j++ {
		c := hash[j]
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return s
		}
	}
	return s[:i]
}

func (e *MissingImportsError) Error() string {
	if len(e.Imports) == 0 {
		return "[load] missing_import: no imports specified"
	}

	var b strings.Builder
	b.WriteString(fmt.Sprintf("missing %d host function(s):\n", len(e.Imports)))

	byMod := make(map[string][]string)
	var modOrder []string
	for _, imp := range e.Imports {
		if _, exists := byMod[imp.Module]; !exists {
			modOrder = append(modOrder, imp.Module)
		}
		byMod[imp.Module] = append(byMod[imp.Module], bindgenName(imp.Function))
	}

	for _, mod := range modOrder {
		b.WriteString("\n  ")
		b.WriteString(mod)
		b.WriteString(":\n")
		for _, fn := range byMod[mod] {
			b.WriteString("    - ")
			b.WriteString(fn)
			b.WriteByte('\n')
		}
	}

	return strings.TrimSuffix(b.String(), "\n")
}

// Is reports whether target matches this error type
func (e *MissingImportsError) Is(target error) bool {
	if _, ok := target.(*MissingImportsError); ok {
		return true
	}
	if t, ok := target.(*Error); ok {
		return t.Kind == KindMissingImport
	}
	return false
}

// Runtime package convenience constructors

// NotFound creates a not-found error
func NotFound(phase Phase, what, name string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindNotFound,
		Detail: fmt.Sprintf("%s %q not found", what, name),
	}
}

// InvalidInput creates an invalid input error
func InvalidInput(phase Phase, detail string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindInvalidInput,
		Detail: detail,
	}
}

// Closed creates an error for use of a closed runtime or instance
func Closed(what string) *Error {
	return &Error{
		Phase:  PhaseRuntime,
		Kind:   KindClosed,
		Detail: fmt.Sprintf("%s is closed", what),
	}
}

// Instantiation creates an instantiation error
func Instantiation(cause error) *Error {
	return &Error{
		Phase:  PhaseRuntime,
		Kind:   KindInstantiation,
		Detail: "instantiate module",
		Cause:  cause,
	}
}

// Load creates a module loading error
func Load(detail string, cause error) *Error {
	return &Error{
		Phase:  PhaseLoad,
		Kind:   KindInvalidData,
		Detail: detail,
		Cause:  cause,
	}
}

// ParseFailed creates a parsing error
func ParseFailed(what string, cause error) *Error {
	return &Error{
		Phase:  PhaseParse,
		Kind:   KindInvalidData,
		Detail: fmt.Sprintf("parse %s", what),
		Cause:  cause,
	}
}

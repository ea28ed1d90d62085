package errors

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestError_Error(t *testing.T) {
	tests := []struct {
		name     string
		err      *Error
		contains []string
	}{
		{
			name: "full error",
			err: &Error{
				Phase:  PhaseInvoke,
				Kind:   KindTrap,
				Entry:  "evaluate",
				Path:   []string{"result", "ptr"},
				Detail: "unreachable",
			},
			contains: []string{"[invoke]", "trap", "in evaluate", "result.ptr", "unreachable"},
		},
		{
			name: "minimal error",
			err: &Error{
				Phase: PhaseDecode,
				Kind:  KindOutOfBounds,
			},
			contains: []string{"[decode]", "out_of_bounds"},
		},
		{
			name: "error with cause",
			err: &Error{
				Phase:  PhaseEncode,
				Kind:   KindAllocation,
				Detail: "memory full",
				Cause:  errors.New("underlying error"),
			},
			contains: []string{"[encode]", "allocation", "memory full", "caused by", "underlying error"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg := tt.err.Error()
			for _, s := range tt.contains {
				if !strings.Contains(msg, s) {
					t.Errorf("error message %q does not contain %q", msg, s)
				}
			}
		})
	}
}

func TestError_Unwrap(t *testing.T) {
	cause := errors.New("root cause")
	err := &Error{
		Phase: PhaseEncode,
		Kind:  KindInvalidData,
		Cause: cause,
	}

	if !errors.Is(err.Unwrap(), cause) {
		t.Error("Unwrap did not return cause")
	}
	if !errors.Is(err, cause) {
		t.Error("errors.Is did not find cause through Unwrap")
	}
}

func TestError_Is(t *testing.T) {
	err := &Error{
		Phase: PhaseEncode,
		Kind:  KindAllocation,
	}

	tests := []struct {
		name   string
		target error
		want   bool
	}{
		{"same phase and kind", &Error{Phase: PhaseEncode, Kind: KindAllocation}, true},
		{"kind only", &Error{Kind: KindAllocation}, true},
		{"different phase", &Error{Phase: PhaseDecode, Kind: KindAllocation}, false},
		{"different kind", &Error{Phase: PhaseEncode, Kind: KindTrap}, false},
		{"foreign error", errors.New("x"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := errors.Is(err, tt.target); got != tt.want {
				t.Errorf("errors.Is() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestBuilder(t *testing.T) {
	cause := errors.New("boom")
	err := New(PhaseInvoke, KindTrap).
		Entry("evaluate").
		Path("retptr").
		Value(uint32(16)).
		Detail("guest %s", "panicked").
		Cause(cause).
		Build()

	if err.Phase != PhaseInvoke || err.Kind != KindTrap {
		t.Errorf("phase/kind = %s/%s", err.Phase, err.Kind)
	}
	if err.Entry != "evaluate" {
		t.Errorf("Entry = %q", err.Entry)
	}
	if err.Detail != "guest panicked" {
		t.Errorf("Detail = %q", err.Detail)
	}
	if err.Value != uint32(16) {
		t.Errorf("Value = %v", err.Value)
	}
	if !errors.Is(err, cause) {
		t.Error("cause not reachable")
	}
}

func TestCategoryHelpers(t *testing.T) {
	alloc := GuestAllocation(PhaseEncode, "malloc", 12, nil)
	enc := InvalidEncoding(PhaseDecode, 1, []byte{0xC3, 0x28})
	trap := Trap("evaluate", errors.New("unreachable"))

	wrapped := fmt.Errorf("evaluate: %w", alloc)

	if !IsGuestAllocation(alloc) || !IsGuestAllocation(wrapped) {
		t.Error("IsGuestAllocation should match allocation errors")
	}
	if IsGuestAllocation(enc) {
		t.Error("IsGuestAllocation matched an encoding error")
	}
	if !IsInvalidEncoding(enc) {
		t.Error("IsInvalidEncoding should match")
	}
	if enc.Value != 1 {
		t.Errorf("InvalidEncoding offset = %v, want 1", enc.Value)
	}
	if !IsTrap(trap) || IsTrap(alloc) {
		t.Error("IsTrap mismatch")
	}
}

func TestInvalidEncoding_PreviewTruncated(t *testing.T) {
	data := make([]byte, 100)
	err := InvalidEncoding(PhaseDecode, 0, data)
	if !strings.Contains(err.Detail, strings.Repeat("00", 32)) || strings.Contains(err.Detail, strings.Repeat("00", 33)) {
		t.Errorf("preview not truncated: %s", err.Detail)
	}
}

func TestBindgenName(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"__wbg_now_2f6cd0e1", "now"},
		{"__wbg_writeTermLn_7bb108d119bafbc1", "writeTermLn"},
		{"__wbg_new_with_args_zz", "new_with_args_zz"},
		{"__wbindgen_throw", "__wbindgen_throw"},
		{"plain", "plain"},
	}
	for _, tt := range tests {
		if got := bindgenName(tt.in); got != tt.want {
			t.Errorf("bindgenName(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestMissingImportsError(t *testing.T) {
	err := NewMissingImportsError([]string{
		"./bessy_bg.js#__wbg_now_2f6cd0e1",
		"./bessy_bg.js#__wbg_random_00ff",
		"env#abort",
	})

	if len(err.Imports) != 3 {
		t.Fatalf("Imports = %d, want 3", len(err.Imports))
	}
	if err.Imports[2].Module != "env" || err.Imports[2].Function != "abort" {
		t.Errorf("Imports[2] = %+v", err.Imports[2])
	}

	msg := err.Error()
	for _, s := range []string{"missing 3 host function(s)", "./bessy_bg.js:", "- now", "- random", "env:", "- abort"} {
		if !strings.Contains(msg, s) {
			t.Errorf("message %q missing %q", msg, s)
		}
	}

	if !errors.Is(err, &MissingImportsError{}) {
		t.Error("errors.Is should match MissingImportsError")
	}
	if !errors.Is(err, &Error{Kind: KindMissingImport}) {
		t.Error("errors.Is should match missing_import kind")
	}

	empty := &MissingImportsError{}
	if !strings.Contains(empty.Error(), "no imports") {
		t.Errorf("empty message = %q", empty.Error())
	}
}

package runtime

import (
	stderrors "errors"
	"reflect"
	"testing"

	"github.com/bessy-lang/wasm-bridge/errors"
)

func TestParseWitEntries(t *testing.T) {
	tests := []struct {
		name    string
		wit     string
		want    []string
		wantErr errors.Kind
	}{
		{
			name: "single",
			wit:  "evaluate: func(input: string) -> string;",
			want: []string{"evaluate"},
		},
		{
			name: "export keyword and spacing",
			wit:  "export run-file :func( source : string )->string;",
			want: []string{"run-file"},
		},
		{
			name: "several lines",
			wit: `
				evaluate: func(input: string) -> string;
				format-source: func(input: string) -> string;
			`,
			want: []string{"evaluate", "format-source"},
		},
		{
			name: "no semicolons",
			wit:  "a: func(s: string) -> string\nb: func(s: string) -> string",
			want: []string{"a", "b"},
		},
		{
			name:    "no result",
			wit:     "evaluate: func(input: string);",
			wantErr: errors.KindSignature,
		},
		{
			name:    "unit result",
			wit:     "evaluate: func(input: string) -> ();",
			wantErr: errors.KindSignature,
		},
		{
			name:    "number param",
			wit:     "evaluate: func(input: u32) -> string;",
			wantErr: errors.KindSignature,
		},
		{
			name:    "no params",
			wit:     "evaluate: func() -> string;",
			wantErr: errors.KindSignature,
		},
		{
			name:    "empty",
			wit:     "// nothing here",
			wantErr: errors.KindInvalidInput,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseWitEntries(tt.wit)
			if tt.wantErr != "" {
				if !stderrors.Is(err, &errors.Error{Kind: tt.wantErr}) {
					t.Fatalf("error = %v, want %s", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("parseWitEntries failed: %v", err)
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("entries = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestExportName(t *testing.T) {
	tests := map[string]string{
		"evaluate":         "evaluate",
		"evaluate-grow":    "evaluate_grow",
		"run-file-as-repl": "run_file_as_repl",
		"already_snake":    "already_snake",
	}
	for in, want := range tests {
		if got := exportName(in); got != want {
			t.Errorf("exportName(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestSplitParams(t *testing.T) {
	tests := []struct {
		in   string
		want []string
	}{
		{"", nil},
		{"a: string", []string{"a: string"}},
		{"a: string, b: u32", []string{"a: string", "b: u32"}},
		{"m: tuple<u32, string>, n: string", []string{"m: tuple<u32, string>", "n: string"}},
	}
	for _, tt := range tests {
		if got := splitParams(tt.in); !reflect.DeepEqual(got, tt.want) {
			t.Errorf("splitParams(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

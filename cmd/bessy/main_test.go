package main

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func parse(t *testing.T, args ...string) (*settings, error) {
	t.Helper()
	var v flagValues
	fs := newFlagSet(&v)
	fs.SetOutput(&bytes.Buffer{})
	return parseSettings(fs, &v, args)
}

func TestParseSettings(t *testing.T) {
	s, err := parse(t, "-echo", "-e", "print 1;")
	if err != nil {
		t.Fatalf("parseSettings failed: %v", err)
	}
	if !s.echo || !s.sourceSet || s.source != "print 1;" {
		t.Errorf("settings = %+v", s)
	}
	if s.Entry != "evaluate" || s.LogLevel != "warn" {
		t.Errorf("defaults: entry %q, log level %q", s.Entry, s.LogLevel)
	}

	s, err = parse(t, "-echo", "-e", "")
	if err != nil {
		t.Fatalf("parseSettings failed: %v", err)
	}
	if !s.sourceSet {
		t.Error("-e with empty text should still count as a source")
	}
}

func TestParseSettings_UsageErrors(t *testing.T) {
	tests := []struct {
		name string
		args []string
	}{
		{"no guest", []string{"-e", "x"}},
		{"echo and wasm", []string{"-echo", "-wasm", "a.wasm"}},
		{"inline and file", []string{"-echo", "-e", "x", "prog.bsy"}},
		{"two files", []string{"-echo", "a.bsy", "b.bsy"}},
		{"unknown flag", []string{"-echo", "-nope"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := parse(t, tt.args...)
			var ue *usageError
			if !errors.As(err, &ue) {
				t.Errorf("error = %v, want usageError", err)
			}
		})
	}
}

func TestParseSettings_ConfigFile(t *testing.T) {
	path := writeFile(t, "bessy.toml", `
wasm = "guest.wasm"
wit = "guest.wit"
entry = "run-file"
log_level = "debug"
memory_limit_pages = 64
return_slot_size = 32
`)

	s, err := parse(t, "-config", path)
	if err != nil {
		t.Fatalf("parseSettings failed: %v", err)
	}
	want := fileConfig{
		Wasm:             "guest.wasm",
		WIT:              "guest.wit",
		Entry:            "run-file",
		LogLevel:         "debug",
		MemoryLimitPages: 64,
		ReturnSlotSize:   32,
	}
	if s.fileConfig != want {
		t.Errorf("fileConfig = %+v, want %+v", s.fileConfig, want)
	}

	s, err = parse(t, "-config", path, "-entry", "evaluate", "-memory-limit-pages", "8", "-log-level", "error")
	if err != nil {
		t.Fatalf("parseSettings failed: %v", err)
	}
	if s.Entry != "evaluate" || s.MemoryLimitPages != 8 || s.LogLevel != "error" {
		t.Errorf("flags should override the file: %+v", s.fileConfig)
	}
	if s.Wasm != "guest.wasm" || s.ReturnSlotSize != 32 {
		t.Errorf("unset flags should keep file values: %+v", s.fileConfig)
	}

	cfg := s.runtimeConfig()
	if cfg.Entry != "evaluate" || cfg.MemoryLimitPages != 8 || cfg.ReturnSlotSize != 32 {
		t.Errorf("runtimeConfig = %+v", cfg)
	}
}

func TestParseSettings_ConfigFileDefaults(t *testing.T) {
	path := writeFile(t, "bessy.toml", "wasm = \"guest.wasm\"\n")
	s, err := parse(t, "-config", path)
	if err != nil {
		t.Fatalf("parseSettings failed: %v", err)
	}
	if s.Entry != "evaluate" || s.LogLevel != "warn" {
		t.Errorf("missing keys should take flag defaults: %+v", s.fileConfig)
	}
}

func TestParseSettings_BadConfigFile(t *testing.T) {
	tests := []struct {
		name string
		path string
	}{
		{"missing", filepath.Join(t.TempDir(), "none.toml")},
		{"unknown key", writeFile(t, "a.toml", "colour = \"blue\"\n")},
		{"wrong type", writeFile(t, "b.toml", "memory_limit_pages = \"lots\"\n")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := parse(t, "-echo", "-config", tt.path)
			if err == nil {
				t.Fatal("expected error")
			}
			var ue *usageError
			if errors.As(err, &ue) {
				t.Errorf("config errors are not usage errors: %v", err)
			}
		})
	}
}

func TestLevel(t *testing.T) {
	s := &settings{fileConfig: fileConfig{LogLevel: "debug"}}
	if _, err := s.level(); err != nil {
		t.Errorf("debug: %v", err)
	}
	s.LogLevel = "loud"
	if _, err := s.level(); err == nil {
		t.Error("expected error for unknown level")
	}
}

func runCLI(t *testing.T, stdin string, args ...string) (string, string, error) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	err := run(context.Background(), args, strings.NewReader(stdin), &stdout, &stderr)
	return stdout.String(), stderr.String(), err
}

func TestRun(t *testing.T) {
	src := writeFile(t, "prog.bsy", "print \"café\";\n")

	tests := []struct {
		name  string
		stdin string
		args  []string
		want  string
	}{
		{"inline", "", []string{"-echo", "-e", "print 1 + 1;"}, "print 1 + 1;"},
		{"file", "", []string{"-echo", src}, "print \"café\";\n"},
		{"stdin", "print 2;", []string{"-echo"}, "print 2;"},
		{"empty", "", []string{"-echo", "-e", ""}, ""},
		{"terminal sink", "", []string{"-echo", "-entry", "evaluate-term", "-e", "hello"}, "hello\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, errOut, err := runCLI(t, tt.stdin, tt.args...)
			if err != nil {
				t.Fatalf("run failed: %v\n%s", err, errOut)
			}
			if out != tt.want {
				t.Errorf("stdout = %q, want %q", out, tt.want)
			}
		})
	}
}

func TestRun_Errors(t *testing.T) {
	t.Run("usage", func(t *testing.T) {
		_, errOut, err := runCLI(t, "", "-e", "x")
		if !errors.Is(err, errUsage) {
			t.Fatalf("error = %v, want errUsage", err)
		}
		if !strings.Contains(errOut, "Usage: bessy") {
			t.Errorf("stderr should show usage, got %q", errOut)
		}
	})

	t.Run("help", func(t *testing.T) {
		if _, _, err := runCLI(t, "", "-h"); err != nil {
			t.Errorf("-h returned %v", err)
		}
	})

	t.Run("guest error", func(t *testing.T) {
		_, _, err := runCLI(t, "", "-echo", "-entry", "evaluate-throw", "-e", "boom")
		if err == nil || !strings.Contains(err.Error(), "boom") {
			t.Errorf("error = %v, want guest message", err)
		}
	})

	t.Run("invalid result", func(t *testing.T) {
		_, _, err := runCLI(t, "", "-echo", "-entry", "evaluate-invalid", "-e", "x")
		if err == nil {
			t.Error("expected decode error")
		}
	})

	t.Run("missing wasm", func(t *testing.T) {
		_, _, err := runCLI(t, "", "-wasm", filepath.Join(t.TempDir(), "none.wasm"), "-e", "x")
		if err == nil || !strings.Contains(err.Error(), "read wasm") {
			t.Errorf("error = %v", err)
		}
	})

	t.Run("not wasm", func(t *testing.T) {
		path := writeFile(t, "bad.wasm", "not a module")
		_, _, err := runCLI(t, "", "-wasm", path, "-e", "x")
		if err == nil || !strings.Contains(err.Error(), "load") {
			t.Errorf("error = %v", err)
		}
	})

	t.Run("bad log level", func(t *testing.T) {
		_, _, err := runCLI(t, "", "-echo", "-log-level", "loud", "-e", "x")
		if err == nil {
			t.Error("expected error")
		}
	})

	t.Run("bad slot size", func(t *testing.T) {
		cfg := writeFile(t, "c.toml", "return_slot_size = 12\n")
		_, _, err := runCLI(t, "", "-echo", "-config", cfg, "-e", "x")
		if err == nil || !strings.Contains(err.Error(), "create runtime") {
			t.Errorf("error = %v", err)
		}
	})
}

func TestRun_LogsAtDebug(t *testing.T) {
	_, errOut, err := runCLI(t, "", "-echo", "-log-level", "debug", "-entry", "evaluate-log", "-e", "hi there")
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if !strings.Contains(errOut, "hi there") {
		t.Errorf("guest console.log should reach the logger, stderr = %q", errOut)
	}
}

func TestRun_Metrics(t *testing.T) {
	out, _, err := runCLI(t, "", "-echo", "-metrics-addr", "127.0.0.1:0", "-e", "x")
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if out != "x" {
		t.Errorf("stdout = %q", out)
	}
}

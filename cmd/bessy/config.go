package main

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"

	"github.com/naoina/toml"
	"go.uber.org/zap/zapcore"

	"github.com/bessy-lang/wasm-bridge/runtime"
)

// fileConfig is the layout of the -config file. Every key is optional and
// flags given on the command line win over the file.
type fileConfig struct {
	Wasm               string `toml:"wasm"`
	WIT                string `toml:"wit"`
	Entry              string `toml:"entry"`
	LogLevel           string `toml:"log_level"`
	MetricsAddr        string `toml:"metrics_addr"`
	MemoryLimitPages   uint32 `toml:"memory_limit_pages"`
	ReturnSlotSize     uint32 `toml:"return_slot_size"`
	CloseOnContextDone bool   `toml:"close_on_context_done"`
}

// settings is the merged view of flags and config file
type settings struct {
	fileConfig

	source      string
	sourceSet   bool
	interactive bool
	echo        bool
	args        []string
}

type flagValues struct {
	config      string
	wasm        string
	wit         string
	entry       string
	source      string
	logLevel    string
	metricsAddr string
	memoryLimit uint
	interactive bool
	echo        bool
}

func newFlagSet(v *flagValues) *flag.FlagSet {
	fs := flag.NewFlagSet("bessy", flag.ContinueOnError)
	fs.StringVar(&v.config, "config", "", "Path to a TOML config file")
	fs.StringVar(&v.wasm, "wasm", "", "Path to the guest wasm file")
	fs.StringVar(&v.wit, "wit", "", "Path to a WIT file declaring string entry points")
	fs.StringVar(&v.entry, "entry", runtime.DefaultEntry, "Entry point to call")
	fs.StringVar(&v.source, "e", "", "Evaluate this source text")
	fs.StringVar(&v.logLevel, "log-level", "warn", "Log level (debug, info, warn, error)")
	fs.StringVar(&v.metricsAddr, "metrics-addr", "", "Serve prometheus metrics on this address")
	fs.UintVar(&v.memoryLimit, "memory-limit-pages", 0, "Guest memory limit in 64KB pages (0 = none)")
	fs.BoolVar(&v.interactive, "i", false, "Interactive editor")
	fs.BoolVar(&v.echo, "echo", false, "Use the built-in echo guest instead of -wasm")
	return fs
}

// usageError is a bad command line, as opposed to a failure while running
type usageError struct{ msg string }

func (e *usageError) Error() string { return e.msg }

// parseSettings parses args and merges them over the config file, if any
func parseSettings(fs *flag.FlagSet, v *flagValues, args []string) (*settings, error) {
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return nil, err
		}
		return nil, &usageError{err.Error()}
	}

	set := make(map[string]bool)
	fs.Visit(func(f *flag.Flag) { set[f.Name] = true })

	s := &settings{
		fileConfig: fileConfig{
			Entry:    v.entry,
			LogLevel: v.logLevel,
		},
		source:      v.source,
		sourceSet:   set["e"],
		interactive: v.interactive,
		echo:        v.echo,
		args:        fs.Args(),
	}
	if v.config != "" {
		fc, err := loadConfigFile(v.config)
		if err != nil {
			return nil, err
		}
		s.fileConfig = fc
		if s.Entry == "" {
			s.Entry = v.entry
		}
		if s.LogLevel == "" {
			s.LogLevel = v.logLevel
		}
	}

	if set["wasm"] {
		s.Wasm = v.wasm
	}
	if set["wit"] {
		s.WIT = v.wit
	}
	if set["entry"] {
		s.Entry = v.entry
	}
	if set["log-level"] {
		s.LogLevel = v.logLevel
	}
	if set["metrics-addr"] {
		s.MetricsAddr = v.metricsAddr
	}
	if set["memory-limit-pages"] {
		s.MemoryLimitPages = uint32(v.memoryLimit)
	}

	if s.echo && s.Wasm != "" {
		return nil, &usageError{"-echo and -wasm are mutually exclusive"}
	}
	if !s.echo && s.Wasm == "" {
		return nil, &usageError{"no guest: pass -wasm <file.wasm> or -echo"}
	}
	if s.sourceSet && len(s.args) > 0 {
		return nil, &usageError{"-e and a source file are mutually exclusive"}
	}
	if len(s.args) > 1 {
		return nil, &usageError{fmt.Sprintf("expected one source file, got %d", len(s.args))}
	}
	return s, nil
}

func loadConfigFile(path string) (fileConfig, error) {
	var fc fileConfig
	f, err := os.Open(filepath.Clean(path))
	if err != nil {
		return fc, fmt.Errorf("open config: %w", err)
	}
	defer f.Close()

	if err := toml.NewDecoder(f).Decode(&fc); err != nil {
		return fc, fmt.Errorf("decode config %s: %w", path, err)
	}
	return fc, nil
}

// runtimeConfig maps settings onto runtime.Config; the caller adds the
// logger, registry and output sink.
func (s *settings) runtimeConfig() runtime.Config {
	return runtime.Config{
		ReturnSlotSize:     s.ReturnSlotSize,
		MemoryLimitPages:   s.MemoryLimitPages,
		CloseOnContextDone: s.CloseOnContextDone,
		Entry:              s.Entry,
	}
}

func (s *settings) level() (zapcore.Level, error) {
	lvl, err := zapcore.ParseLevel(s.LogLevel)
	if err != nil {
		return lvl, fmt.Errorf("log level: %w", err)
	}
	return lvl, nil
}

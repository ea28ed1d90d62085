package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/term"

	"github.com/bessy-lang/wasm-bridge/internal/refguest"
	"github.com/bessy-lang/wasm-bridge/runtime"
)

func main() {
	if err := run(context.Background(), os.Args[1:], os.Stdin, os.Stdout, os.Stderr); err != nil {
		if errors.Is(err, errUsage) {
			os.Exit(2)
		}
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var errUsage = errors.New("usage")

func usage(w io.Writer) {
	fmt.Fprintln(w, "Usage: bessy -wasm <file.wasm> [-wit entries.wit] [-entry name] <source-file>")
	fmt.Fprintln(w, "       bessy -wasm <file.wasm> -e 'print 1 + 1;'")
	fmt.Fprintln(w, "       bessy -wasm <file.wasm> -i  (interactive mode)")
	fmt.Fprintln(w, "       bessy -echo ...  (built-in echo guest)")
}

func run(ctx context.Context, args []string, stdin io.Reader, stdout, stderr io.Writer) error {
	var v flagValues
	fs := newFlagSet(&v)
	fs.SetOutput(stderr)
	fs.Usage = func() {
		usage(stderr)
		fs.PrintDefaults()
	}

	s, err := parseSettings(fs, &v, args)
	var ue *usageError
	switch {
	case errors.Is(err, flag.ErrHelp):
		return nil
	case errors.As(err, &ue):
		fmt.Fprintf(stderr, "Error: %v\n", err)
		usage(stderr)
		return errUsage
	case err != nil:
		return err
	}

	lvl, err := s.level()
	if err != nil {
		return err
	}
	logger := newLogger(stderr, lvl)
	defer func() { _ = logger.Sync() }()

	cfg := s.runtimeConfig()
	cfg.Logger = logger

	if s.MetricsAddr != "" {
		reg := prometheus.NewRegistry()
		cfg.Registerer = reg
		stop, err := serveMetrics(s.MetricsAddr, reg, logger)
		if err != nil {
			return err
		}
		defer stop()
	}

	interactive := s.interactive || (!s.sourceSet && len(s.args) == 0 && isTerminal(stdin))

	var sink *termSink
	if interactive {
		sink = &termSink{}
		cfg.Stdout = sink
	} else {
		cfg.Stdout = stdout
	}

	wasmBytes, witText, name, err := loadGuest(s)
	if err != nil {
		return err
	}

	rt, err := runtime.NewWithConfig(ctx, cfg)
	if err != nil {
		return fmt.Errorf("create runtime: %w", err)
	}
	defer rt.Close(ctx)

	mod, err := rt.LoadWASM(ctx, wasmBytes, witText)
	if err != nil {
		return fmt.Errorf("load %s: %w", name, err)
	}
	defer mod.Close(ctx)

	inst, err := mod.Instantiate(ctx)
	if err != nil {
		return fmt.Errorf("instantiate: %w", err)
	}
	defer inst.Close(ctx)

	if interactive {
		return runInteractive(ctx, inst, sink, name)
	}

	source, err := readSource(s, stdin)
	if err != nil {
		return err
	}
	out, err := inst.Evaluate(ctx, source)
	if err != nil {
		return fmt.Errorf("%s: %w", s.Entry, err)
	}
	_, err = io.WriteString(stdout, out)
	return err
}

// loadGuest returns the guest bytes, its WIT text and a display name
func loadGuest(s *settings) ([]byte, string, string, error) {
	if s.echo {
		return refguest.Build(refguest.Options{Imports: true}), refguest.WIT + refguest.WITImports, "echo", nil
	}

	data, err := os.ReadFile(s.Wasm)
	if err != nil {
		return nil, "", "", fmt.Errorf("read wasm: %w", err)
	}
	var witText string
	if s.WIT != "" {
		b, err := os.ReadFile(s.WIT)
		if err != nil {
			return nil, "", "", fmt.Errorf("read wit: %w", err)
		}
		witText = string(b)
	}
	return data, witText, s.Wasm, nil
}

// readSource picks the program text from -e, the file argument or stdin
func readSource(s *settings, stdin io.Reader) (string, error) {
	switch {
	case s.sourceSet:
		return s.source, nil
	case len(s.args) == 1:
		b, err := os.ReadFile(s.args[0])
		if err != nil {
			return "", fmt.Errorf("read source: %w", err)
		}
		return string(b), nil
	default:
		b, err := io.ReadAll(stdin)
		if err != nil {
			return "", fmt.Errorf("read stdin: %w", err)
		}
		return string(b), nil
	}
}

func isTerminal(r io.Reader) bool {
	f, ok := r.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

func newLogger(w io.Writer, lvl zapcore.Level) *zap.Logger {
	enc := zap.NewDevelopmentEncoderConfig()
	enc.EncodeTime = zapcore.TimeEncoderOfLayout(time.TimeOnly)
	core := zapcore.NewCore(zapcore.NewConsoleEncoder(enc), zapcore.Lock(zapcore.AddSync(w)), lvl)
	return zap.New(core)
}

// serveMetrics exposes reg at /metrics and returns a function that shuts
// the server down.
func serveMetrics(addr string, reg *prometheus.Registry, logger *zap.Logger) (func(), error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("metrics listen: %w", err)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	logger.Info("serving metrics", zap.String("addr", "http://"+ln.Addr().String()+"/metrics"))
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server stopped", zap.Error(err))
		}
	}()

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}, nil
}

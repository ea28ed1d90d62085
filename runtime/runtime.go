package runtime

import (
	"context"

	"go.uber.org/zap"

	"github.com/bessy-lang/wasm-bridge/engine"
	"github.com/bessy-lang/wasm-bridge/errors"
)

type Runtime struct {
	engine  *engine.WazeroEngine
	cfg     Config
	metrics *Metrics
}

func New(ctx context.Context) (*Runtime, error) {
	return NewWithConfig(ctx, Config{})
}

// NewWithConfig creates a runtime. cfg is validated and unset fields take
// their defaults.
func NewWithConfig(ctx context.Context, cfg Config) (*Runtime, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg = cfg.withDefaults()

	var metrics *Metrics
	if cfg.Registerer != nil {
		m, err := NewMetrics(cfg.Registerer)
		if err != nil {
			return nil, errors.Wrap(errors.PhaseRuntime, errors.KindInvalidInput, err, "register metrics")
		}
		metrics = m
	}

	eng, err := engine.NewWazeroEngineWithConfig(ctx, &engine.Config{
		MemoryLimitPages:   cfg.MemoryLimitPages,
		CloseOnContextDone: cfg.CloseOnContextDone,
		Stdout:             cfg.Stdout,
		Logger:             cfg.Logger,
	})
	if err != nil {
		return nil, errors.Load("create engine", err)
	}

	cfg.Logger.Debug("runtime created",
		zap.Uint32("return_slot_size", cfg.ReturnSlotSize),
		zap.Uint32("memory_limit_pages", cfg.MemoryLimitPages),
		zap.String("entry", cfg.Entry))

	return &Runtime{
		engine:  eng,
		cfg:     cfg,
		metrics: metrics,
	}, nil
}

// Close releases all runtime resources.
// All instances must be closed before calling this.
func (r *Runtime) Close(ctx context.Context) error {
	return r.engine.Close(ctx)
}

// Config returns the effective configuration
func (r *Runtime) Config() Config {
	return r.cfg
}

// LoadWASM loads a wasm-bindgen guest.
// witText declares its string entry points, one per line in the form
// `name: func(input: string) -> string;`. Kebab-case names map to
// snake_case exports. With empty witText the guest must export the
// configured entry (DefaultEntry unless overridden).
func (r *Runtime) LoadWASM(ctx context.Context, wasm []byte, witText string) (*Module, error) {
	wazeroModule, err := r.engine.LoadModule(ctx, wasm)
	if err != nil {
		return nil, errors.Load("load module", err)
	}

	entries, err := resolveEntries(wazeroModule.Exports(), witText, r.cfg.Entry)
	if err != nil {
		_ = wazeroModule.Close(ctx)
		return nil, err
	}

	return &Module{
		runtime:      r,
		wazeroModule: wazeroModule,
		entries:      entries,
	}, nil
}

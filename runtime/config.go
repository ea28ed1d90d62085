package runtime

import (
	"io"
	"regexp"

	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/bessy-lang/wasm-bridge/errors"
)

const (
	// DefaultEntry is the entry point Evaluate calls
	DefaultEntry = "evaluate"

	// DefaultReturnSlotSize keeps the shadow stack 16-byte aligned
	DefaultReturnSlotSize = 16
)

// Config configures a Runtime. The zero value is usable.
type Config struct {
	// ReturnSlotSize is the number of bytes reserved on the guest shadow
	// stack for a result descriptor. It must hold two 32-bit words and
	// keep the stack 8-byte aligned.
	ReturnSlotSize uint32 `toml:"return_slot_size" validate:"omitempty,gte=8,lte=256,slotsize"`

	// MemoryLimitPages caps guest memory in 64KB pages. 0 means no limit
	// beyond the 4GB address space.
	MemoryLimitPages uint32 `toml:"memory_limit_pages" validate:"lte=65536"`

	// CloseOnContextDone aborts guest execution when the call context ends.
	CloseOnContextDone bool `toml:"close_on_context_done"`

	// Entry overrides DefaultEntry for Evaluate.
	Entry string `toml:"entry" validate:"omitempty,max=128,entryname"`

	// Logger receives runtime and guest console logs. Defaults to a no-op logger.
	Logger *zap.Logger `toml:"-" validate:"-"`

	// Registerer receives call metrics. Nil disables metrics.
	Registerer prometheus.Registerer `toml:"-" validate:"-"`

	// Stdout receives guest terminal output. Defaults to io.Discard.
	Stdout io.Writer `toml:"-" validate:"-"`
}

var (
	entryPattern = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_-]*$`)
	validate     = newValidator()
)

func newValidator() *validator.Validate {
	v := validator.New()
	_ = v.RegisterValidation("slotsize", func(fl validator.FieldLevel) bool {
		return fl.Field().Uint()%8 == 0
	})
	_ = v.RegisterValidation("entryname", func(fl validator.FieldLevel) bool {
		return entryPattern.MatchString(fl.Field().String())
	})
	return v
}

// Validate checks field constraints
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return errors.Wrap(errors.PhaseValidate, errors.KindInvalidInput, err, "invalid runtime config")
	}
	return nil
}

// withDefaults returns a copy with unset fields filled in
func (c Config) withDefaults() Config {
	if c.ReturnSlotSize == 0 {
		c.ReturnSlotSize = DefaultReturnSlotSize
	}
	if c.Entry == "" {
		c.Entry = DefaultEntry
	}
	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}
	if c.Stdout == nil {
		c.Stdout = io.Discard
	}
	return c
}

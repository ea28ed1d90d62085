package runtime

import (
	"bytes"
	"context"
	stderrors "errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/bessy-lang/wasm-bridge/errors"
)

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{"zero value", Config{}, false},
		{"slot 8", Config{ReturnSlotSize: 8}, false},
		{"slot 16", Config{ReturnSlotSize: 16}, false},
		{"slot 4", Config{ReturnSlotSize: 4}, true},
		{"slot 12", Config{ReturnSlotSize: 12}, true},
		{"slot 512", Config{ReturnSlotSize: 512}, true},
		{"memory limit", Config{MemoryLimitPages: 256}, false},
		{"memory limit too large", Config{MemoryLimitPages: 70000}, true},
		{"entry", Config{Entry: "evaluate_grow"}, false},
		{"entry with space", Config{Entry: "evaluate grow"}, true},
		{"entry non ascii", Config{Entry: "évaluer"}, true},
		{"writers ignored", Config{Stdout: &bytes.Buffer{}}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !stderrors.Is(err, &errors.Error{Phase: errors.PhaseValidate, Kind: errors.KindInvalidInput}) {
				t.Errorf("error = %v, want validate/invalid_input", err)
			}
		})
	}
}

func TestConfig_Defaults(t *testing.T) {
	cfg := Config{}.withDefaults()
	if cfg.ReturnSlotSize != DefaultReturnSlotSize {
		t.Errorf("ReturnSlotSize = %d, want %d", cfg.ReturnSlotSize, DefaultReturnSlotSize)
	}
	if cfg.Entry != DefaultEntry {
		t.Errorf("Entry = %q, want %q", cfg.Entry, DefaultEntry)
	}
	if cfg.Logger == nil || cfg.Stdout == nil {
		t.Error("Logger and Stdout should be defaulted")
	}

	cfg = Config{ReturnSlotSize: 32, Entry: "run"}.withDefaults()
	if cfg.ReturnSlotSize != 32 || cfg.Entry != "run" {
		t.Errorf("explicit values overwritten: %+v", cfg)
	}
}

func TestNewWithConfig_Invalid(t *testing.T) {
	_, err := NewWithConfig(context.Background(), Config{ReturnSlotSize: 3})
	if err == nil {
		t.Fatal("expected error")
	}
}

func TestNewMetrics_SharedRegistry(t *testing.T) {
	reg := prometheus.NewRegistry()

	a, err := NewMetrics(reg)
	if err != nil {
		t.Fatalf("NewMetrics failed: %v", err)
	}
	b, err := NewMetrics(reg)
	if err != nil {
		t.Fatalf("second NewMetrics failed: %v", err)
	}
	if a.calls != b.calls || a.outstanding != b.outstanding {
		t.Error("second registration should reuse the existing collectors")
	}

	a.observe("evaluate", outcomeOK, 1, 5, 0)
	b.observe("evaluate", outcomeOK, 0, 3, 0)
	values := gatherCounters(t, reg)
	if got := values["bessy_bridge_calls_total{entry=evaluate,outcome=ok}"]; got != 2 {
		t.Errorf("calls = %v, want 2", got)
	}
	if got := values["bessy_bridge_encoded_bytes_total"]; got != 8 {
		t.Errorf("encoded bytes = %v, want 8", got)
	}
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics
	m.observe("evaluate", outcomeOK, 0, 0, 0)
}

func TestOutcome(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{nil, outcomeOK},
		{errors.GuestAllocation(errors.PhaseEncode, "malloc", 3, nil), outcomeAllocation},
		{errors.InvalidEncoding(errors.PhaseDecode, 0, []byte{0xff}), outcomeInvalidUTF8},
		{errors.Trap("evaluate", stderrors.New("unreachable")), outcomeTrap},
		{errors.New(errors.PhaseRelease, errors.KindTrap).Build(), outcomeCleanupError},
		{stderrors.New("plain"), outcomeOther},
	}
	for _, tt := range tests {
		if got := outcome(tt.err); got != tt.want {
			t.Errorf("outcome(%v) = %q, want %q", tt.err, got, tt.want)
		}
	}
}

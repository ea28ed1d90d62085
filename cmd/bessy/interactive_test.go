package main

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/bessy-lang/wasm-bridge/internal/refguest"
	"github.com/bessy-lang/wasm-bridge/runtime"
)

type fakeEvaluator struct {
	sink  *termSink
	calls []string
	err   error
}

func (f *fakeEvaluator) Evaluate(_ context.Context, input string) (string, error) {
	f.calls = append(f.calls, input)
	fmt.Fprintln(f.sink, "term: "+input)
	if f.err != nil {
		return "", f.err
	}
	return strings.ToUpper(input), nil
}

// press sends a key and runs the command it returns, if it is a run
func press(t *testing.T, m *interactiveModel, k tea.KeyType) {
	t.Helper()
	_, cmd := m.Update(tea.KeyMsg{Type: k})
	if cmd == nil {
		return
	}
	if msg, ok := cmd().(evalMsg); ok {
		m.Update(msg)
	}
}

func TestInteractive_Run(t *testing.T) {
	sink := &termSink{}
	eval := &fakeEvaluator{sink: sink}
	m := newInteractiveModel(context.Background(), eval, sink, "fake")

	m.editor.SetValue("print 1;")
	press(t, m, tea.KeyCtrlR)

	if len(eval.calls) != 1 || eval.calls[0] != "print 1;" {
		t.Fatalf("calls = %q", eval.calls)
	}
	if m.running {
		t.Error("running should be cleared after the result arrives")
	}
	if len(m.lines) != 2 {
		t.Fatalf("lines = %q, want terminal line and result", m.lines)
	}
	if !strings.Contains(m.lines[0], "term: print 1;") || !strings.Contains(m.lines[0], prompt) {
		t.Errorf("terminal line = %q", m.lines[0])
	}
	if !strings.Contains(m.lines[1], "PRINT 1;") {
		t.Errorf("result line = %q", m.lines[1])
	}
	if sink.Drain() != "" {
		t.Error("sink should be drained by the run")
	}
	if !strings.Contains(m.View(), "fake") {
		t.Error("view should name the guest")
	}
}

func TestInteractive_Clear(t *testing.T) {
	sink := &termSink{}
	m := newInteractiveModel(context.Background(), &fakeEvaluator{sink: sink}, sink, "fake")

	m.editor.SetValue("a")
	press(t, m, tea.KeyCtrlR)
	press(t, m, tea.KeyCtrlR)
	if len(m.lines) != 4 {
		t.Fatalf("lines = %d, want 4", len(m.lines))
	}

	press(t, m, tea.KeyCtrlL)
	if len(m.lines) != 0 {
		t.Errorf("lines after clear = %q", m.lines)
	}
	if m.editor.Value() != "a" {
		t.Error("clear should keep the editor contents")
	}
}

func TestInteractive_Error(t *testing.T) {
	sink := &termSink{}
	m := newInteractiveModel(context.Background(), &fakeEvaluator{sink: sink, err: errors.New("bad input")}, sink, "fake")

	m.editor.SetValue("x")
	press(t, m, tea.KeyCtrlR)

	last := m.lines[len(m.lines)-1]
	if !strings.Contains(last, "Error: bad input") {
		t.Errorf("last line = %q", last)
	}
}

func TestInteractive_IgnoresRunWhileRunning(t *testing.T) {
	sink := &termSink{}
	m := newInteractiveModel(context.Background(), &fakeEvaluator{sink: sink}, sink, "fake")

	_, cmd := m.Update(tea.KeyMsg{Type: tea.KeyCtrlR})
	if cmd == nil {
		t.Fatal("first ctrl+r should start a run")
	}
	if _, cmd := m.Update(tea.KeyMsg{Type: tea.KeyCtrlR}); cmd != nil {
		t.Error("second ctrl+r should be ignored while running")
	}
}

func TestInteractive_Quit(t *testing.T) {
	m := newInteractiveModel(context.Background(), &fakeEvaluator{sink: &termSink{}}, nil, "fake")
	_, cmd := m.Update(tea.KeyMsg{Type: tea.KeyEsc})
	if cmd == nil {
		t.Fatal("esc should quit")
	}
	if _, ok := cmd().(tea.QuitMsg); !ok {
		t.Error("esc should return tea.Quit")
	}
}

func TestInteractive_Resize(t *testing.T) {
	m := newInteractiveModel(context.Background(), &fakeEvaluator{sink: &termSink{}}, nil, "fake")
	m.Update(tea.WindowSizeMsg{Width: 100, Height: 40})
	if m.output.Width != 98 || m.output.Height != 17 {
		t.Errorf("output = %dx%d, want 98x17", m.output.Width, m.output.Height)
	}

	m.Update(tea.WindowSizeMsg{Width: 20, Height: 3})
	if m.output.Height != 2 {
		t.Errorf("small window output height = %d, want 2", m.output.Height)
	}
}

func TestInteractive_EchoGuest(t *testing.T) {
	ctx := context.Background()
	sink := &termSink{}

	rt, err := runtime.NewWithConfig(ctx, runtime.Config{Stdout: sink, Entry: "evaluate-term"})
	if err != nil {
		t.Fatalf("NewWithConfig failed: %v", err)
	}
	defer rt.Close(ctx)

	mod, err := rt.LoadWASM(ctx, refguest.Build(refguest.Options{Imports: true}), refguest.WIT+refguest.WITImports)
	if err != nil {
		t.Fatalf("LoadWASM failed: %v", err)
	}
	inst, err := mod.Instantiate(ctx)
	if err != nil {
		t.Fatalf("Instantiate failed: %v", err)
	}
	defer inst.Close(ctx)

	m := newInteractiveModel(ctx, inst, sink, "echo")
	m.editor.SetValue("héllo")
	press(t, m, tea.KeyCtrlR)

	if len(m.lines) != 1 || !strings.Contains(m.lines[0], "héllo") {
		t.Errorf("lines = %q, want the guest terminal line only", m.lines)
	}
}

package runtime

import (
	"context"
	"regexp"
	"sort"
	"strings"

	"github.com/tetratelabs/wazero/api"
	"go.bytecodealliance.org/wit"

	"github.com/bessy-lang/wasm-bridge/engine"
	"github.com/bessy-lang/wasm-bridge/errors"
)

type Module struct {
	runtime      *Runtime
	wazeroModule *engine.WazeroModule
	entries      map[string]string
}

func (m *Module) Instantiate(ctx context.Context) (*Instance, error) {
	wazeroInstance, err := m.wazeroModule.Instantiate(ctx)
	if err != nil {
		return nil, errors.Instantiation(err)
	}

	cfg := m.runtime.cfg
	return &Instance{
		module:         m,
		wazeroInstance: wazeroInstance,
		bridge: NewBridge(wazeroInstance, BridgeOptions{
			SlotSize: cfg.ReturnSlotSize,
			Logger:   cfg.Logger,
			Metrics:  m.runtime.metrics,
		}),
	}, nil
}

// Entries returns the declared entry point names, sorted
func (m *Module) Entries() []string {
	names := make([]string, 0, len(m.entries))
	for name := range m.entries {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ExportName returns the guest export that implements entry.
// Both the declared name and the export name are accepted.
func (m *Module) ExportName(entry string) (string, error) {
	if export, ok := m.entries[entry]; ok {
		return export, nil
	}
	for _, export := range m.entries {
		if export == entry {
			return export, nil
		}
	}
	return "", errors.NotFound(errors.PhaseRuntime, "entry point", entry)
}

// ExportNames returns the names of all exported functions
func (m *Module) ExportNames() []string {
	return m.wazeroModule.ExportNames()
}

// Close releases the compiled module
func (m *Module) Close(ctx context.Context) error {
	return m.wazeroModule.Close(ctx)
}

var funcPattern = regexp.MustCompile(`(?:export\s+)?([a-zA-Z_][a-zA-Z0-9_-]*)\s*:\s*func\s*\(([^)]*)\)(?:\s*->\s*([^;\n]+))?`)

// resolveEntries maps declared entry names to guest exports and checks
// each export has the entry point shape
func resolveEntries(exports map[string]api.FunctionDefinition, witText, defaultEntry string) (map[string]string, error) {
	names := []string{defaultEntry}
	if strings.TrimSpace(witText) != "" {
		declared, err := parseWitEntries(witText)
		if err != nil {
			return nil, err
		}
		names = declared
	}

	entries := make(map[string]string, len(names))
	for _, name := range names {
		export := exportName(name)
		if err := engine.CheckEntry(exports, export); err != nil {
			return nil, withEntry(err, name)
		}
		entries[name] = export
	}
	return entries, nil
}

// parseWitEntries extracts entry points from WIT text.
// Pattern: [export] name: func(input: string) -> string
func parseWitEntries(witText string) ([]string, error) {
	var names []string

	for _, match := range funcPattern.FindAllStringSubmatch(witText, -1) {
		name := match[1]
		params := splitParams(strings.TrimSpace(match[2]))
		result := strings.TrimSpace(match[3])

		if len(params) != 1 {
			return nil, errors.New(errors.PhaseParse, errors.KindSignature).
				Entry(name).
				Detail("entry points take one string parameter, got %d", len(params)).
				Build()
		}
		typStr := params[0]
		if idx := strings.LastIndex(typStr, ":"); idx != -1 {
			typStr = typStr[idx+1:]
		}
		if err := requireString(name, "parameter", typStr); err != nil {
			return nil, err
		}
		if err := requireString(name, "result", result); err != nil {
			return nil, err
		}
		names = append(names, name)
	}

	if len(names) == 0 {
		return nil, errors.InvalidInput(errors.PhaseParse, "no functions found in WIT text")
	}
	return names, nil
}

func requireString(entry, what, typStr string) error {
	typStr = strings.TrimSpace(typStr)
	if typStr == "" || typStr == "()" {
		return errors.New(errors.PhaseParse, errors.KindSignature).
			Entry(entry).
			Detail("missing %s type", what).
			Build()
	}
	t, err := parseWitType(typStr)
	if err != nil {
		return errors.Wrap(errors.PhaseParse, errors.KindInvalidData, err, "parse "+what+" type "+typStr)
	}
	if !isString(t) {
		return errors.New(errors.PhaseParse, errors.KindSignature).
			Entry(entry).
			Detail("%s type is %s, want string", what, typStr).
			Build()
	}
	return nil
}

func isString(t wit.Type) bool {
	switch t.(type) {
	case wit.String, *wit.String:
		return true
	}
	return false
}

// exportName converts a WIT name to the export wasm-bindgen generates
func exportName(name string) string {
	return strings.ReplaceAll(name, "-", "_")
}

// splitParams splits parameter list, handling nested parens.
func splitParams(s string) []string {
	var result []string
	var current strings.Builder
	depth := 0

	for _, ch := range s {
		switch ch {
		case '(', '<':
			depth++
			current.WriteRune(ch)
		case ')', '>':
			depth--
			current.WriteRune(ch)
		case ',':
			if depth == 0 {
				if str := strings.TrimSpace(current.String()); str != "" {
					result = append(result, str)
				}
				current.Reset()
			} else {
				current.WriteRune(ch)
			}
		default:
			current.WriteRune(ch)
		}
	}

	if str := strings.TrimSpace(current.String()); str != "" {
		result = append(result, str)
	}

	return result
}

func parseWitType(s string) (wit.Type, error) {
	s = strings.TrimSpace(s)
	return wit.ParseType(s)
}

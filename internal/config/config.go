// Package config parses Lume.toml project files. String values may contain
// {{...}} expressions and any section may carry conditional sub-tables whose
// keys are expressions evaluated against the build environment.
package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"reflect"
	"regexp"
	"slices"
	"strconv"
	"strings"

	"github.com/expr-lang/expr"
	"github.com/pelletier/go-toml/v2"
	"github.com/pelletier/go-toml/v2/unstable"
)

// Filename is the project file lume looks for in a project root.
const Filename = "Lume.toml"

type ModuleType string

const (
	TypeTool        ModuleType = "tool"
	TypeTweak       ModuleType = "tweak"
	TypePreferences ModuleType = "preferences"
)

type Config struct {
	Meta       Meta
	Control    map[string]any
	Modules    map[string]*Module
	Submodules []string

	// ModuleOrder preserves declaration order of [modules.*] tables;
	// builds run reports in this order.
	ModuleOrder []string
}

// Meta defines the [meta] section: project-wide toolchain and target settings.
// A submodule inherits the parent's Meta for every key it does not set itself.
type Meta struct {
	SDK           string      `toml:"sdk"`
	Prefix        string      `toml:"prefix"`
	CC            string      `toml:"cc"`
	Swift         string      `toml:"swift"`
	Preprocessor  string      `toml:"preprocessor"`
	Archs         []string    `toml:"archs"`
	Platform      string      `toml:"platform"`
	MinVers       string      `toml:"min-vers"`
	Rootless      bool        `toml:"rootless"`
	Release       bool        `toml:"release"`
	Compression   string      `toml:"compression"`
	HeadersRepo   string      `toml:"headers-repo"`
	LibrariesRepo string      `toml:"libraries-repo"`
	Warnings      []string    `toml:"warnings"`
	Optimization  IntOrString `toml:"opt-level"`
	EntFlag       string      `toml:"ent-flag"`
	EntFile       string      `toml:"ent-file"`
}

// Filter describes which host processes an injection library attaches to.
type Filter struct {
	Bundles     []string `toml:"bundles"`
	Executables []string `toml:"executables"`
}

// Module defines one [modules.<name>] table.
type Module struct {
	Type            string      `toml:"type"`
	Files           []string    `toml:"files"`
	Archs           []string    `toml:"archs"`
	InstallDir      string      `toml:"install-dir"`
	CFlags          []string    `toml:"cflags"`
	SwiftFlags      []string    `toml:"swiftflags"`
	LinkerFlags     []string    `toml:"ldflags"`
	Include         []string    `toml:"include"`
	LibraryDirs     []string    `toml:"library-dirs"`
	FrameworkDirs   []string    `toml:"framework-dirs"`
	Libraries       []string    `toml:"libraries"`
	Frameworks      []string    `toml:"frameworks"`
	PrivateFwks     []string    `toml:"private-frameworks"`
	BridgingHeaders []string    `toml:"bridging-headers"`
	Warnings        []string    `toml:"warnings"`
	Optimization    IntOrString `toml:"opt-level"`
	UseARC          *bool       `toml:"use-arc"`
	OnlyChanged     *bool       `toml:"only-compile-changed"`
	EntFlag         string      `toml:"ent-flag"`
	EntFile         string      `toml:"ent-file"`
	Filter          Filter      `toml:"filter"`
	BeforeStage     string      `toml:"before-stage"`
	AfterStage      string      `toml:"after-stage"`
}

// ARC reports whether the module compiles with automatic reference counting.
// Defaults to on.
func (m *Module) ARC() bool { return m.UseARC == nil || *m.UseARC }

// OnlyCompileChanged reports whether unchanged files may be skipped.
// Defaults to on; disabling it forces a full recompile every run.
func (m *Module) OnlyCompileChanged() bool { return m.OnlyChanged == nil || *m.OnlyChanged }

func defaultMeta() Meta {
	return Meta{
		CC:            "clang",
		Swift:         "swiftc",
		Preprocessor:  "logos.pl",
		Archs:         []string{"arm64", "arm64e"},
		Platform:      "iphoneos",
		MinVers:       "15.0",
		Rootless:      true,
		Compression:   "zstd",
		HeadersRepo:   "gh:lume-build/headers",
		LibrariesRepo: "gh:lume-build/lib",
		Optimization:  IntOrString{Value: 2},
		EntFlag:       "-S",
	}
}

// IntOrString accepts both `opt-level = 2` and `opt-level = "s"`.
type IntOrString struct {
	Value any
}

func (o *IntOrString) UnmarshalTOML(node *unstable.Node) error {
	switch node.Kind {
	case unstable.Integer:
		val, err := strconv.ParseInt(string(node.Data), 10, 64)
		if err != nil {
			return err
		}
		o.Value = int(val)
	case unstable.String:
		o.Value = string(node.Data)
	default:
		return fmt.Errorf("unexpected type: %s", node.Kind)
	}
	return nil
}

func (o *IntOrString) String() string {
	if o == nil || o.Value == nil {
		return ""
	}

	switch v := o.Value.(type) {
	case int:
		return strconv.Itoa(v)
	case string:
		return v
	default:
		return ""
	}
}

// mergeStructs merges the fields of the src struct into the dst struct
func mergeStructs(dst, src any) error {
	dstVal := reflect.ValueOf(dst)
	if dstVal.Kind() != reflect.Pointer || dstVal.Elem().Kind() != reflect.Struct {
		return fmt.Errorf("dst must be a pointer to a struct")
	}

	dstElem := dstVal.Elem()
	srcVal := reflect.ValueOf(src)

	if srcVal.Kind() == reflect.Pointer {
		srcVal = srcVal.Elem()
	}

	if srcVal.Kind() != reflect.Struct {
		return fmt.Errorf("src must be a struct or a pointer to a struct")
	}

	if dstElem.Type() != srcVal.Type() {
		return fmt.Errorf("dst and src must be of the same struct type")
	}

	for i := range srcVal.NumField() {
		srcField := srcVal.Field(i)
		dstField := dstElem.Field(i)

		if !dstField.CanSet() {
			continue
		}

		switch dstField.Kind() {
		case reflect.Slice:
			if !srcField.IsNil() {
				dstField.Set(reflect.AppendSlice(dstField, srcField))
			}
		case reflect.Map:
			if !srcField.IsNil() {
				if dstField.IsNil() {
					dstField.Set(reflect.MakeMap(dstField.Type()))
				}
				for _, key := range srcField.MapKeys() {
					dstField.SetMapIndex(key, srcField.MapIndex(key))
				}
			}
		case reflect.Bool:
			dstField.SetBool(dstField.Bool() || srcField.Bool())
		default:
			if !srcField.IsZero() {
				dstField.Set(srcField)
			}
		}
	}

	return nil
}

func mustMarshal(v any) string {
	b, err := toml.Marshal(v)
	if err != nil {
		panic(err)
	}
	return string(b)
}

// unmarshalTOML decodes with the unstable.Unmarshaler interface enabled so
// that custom UnmarshalTOML methods (IntOrString) are honored.
func unmarshalTOML(data string, dst any) error {
	return toml.NewDecoder(strings.NewReader(data)).EnableUnmarshalerInterface().Decode(dst)
}

// unmarshalSection is a helper to parse sections without conditional logic
func unmarshalSection(rawCfg map[string]any, name string, dst any) error {
	if data, ok := rawCfg[name]; ok {
		if err := unmarshalTOML(mustMarshal(data), dst); err != nil {
			return fmt.Errorf("failed to parse [%s] section: %w", name, err)
		}
	}
	return nil
}

// unmarshalConditionalTable parses a table that may contain conditional
// sub-tables, evaluating and merging the ones whose expression is true.
func unmarshalConditionalTable[T any](table map[string]any, name string, dst *T, env Env) error {
	baseFields := make(map[string]any)
	conditionalFields := make(map[string]map[string]any)

	for key, val := range table {
		if subMap, ok := val.(map[string]any); ok {
			_, err := expr.Compile(key, expr.Env(env))
			if err == nil {
				conditionalFields[key] = subMap
				continue
			}
		}
		baseFields[key] = val
	}

	if len(baseFields) > 0 {
		if err := unmarshalTOML(mustMarshal(baseFields), dst); err != nil {
			return fmt.Errorf("failed to parse base [%s] section: %w", name, err)
		}
	}

	for expression, condMap := range conditionalFields {
		program, err := expr.Compile(expression, expr.Env(env))
		if err != nil {
			return fmt.Errorf("failed to compile expression for [%s.%q]: %w", name, expression, err)
		}

		result, err := expr.Run(program, env)
		if err != nil {
			return fmt.Errorf("failed to run expression for [%s.%q]: %w", name, expression, err)
		}

		// merge sections if the result is true
		if matched, ok := result.(bool); !ok || !matched {
			continue
		}

		var condSection T
		if err := unmarshalTOML(mustMarshal(condMap), &condSection); err != nil {
			return fmt.Errorf("failed to parse conditional section [%s.%q]: %w", name, expression, err)
		}
		if err := mergeStructs(dst, condSection); err != nil {
			return fmt.Errorf("failed to merge conditional section [%s.%q]: %w", name, expression, err)
		}
	}

	return nil
}

func unmarshalConditionalSection[T any](rawCfg map[string]any, name string, dst *T, env Env) error {
	sectionData, ok := rawCfg[name]
	if !ok {
		return nil
	}

	sectionMap, ok := sectionData.(map[string]any)
	if !ok {
		return fmt.Errorf("invalid [%s] section format: expected a table", name)
	}

	return unmarshalConditionalTable(sectionMap, name, dst, env)
}

var exprRegex = regexp.MustCompile(`\{\{(.+?)\}\}`)

// evaluateString finds and evaluates all {{...}} expressions in a string
func evaluateString(s string, env Env) (string, error) {
	matches := exprRegex.FindAllStringSubmatchIndex(s, -1)
	if len(matches) == 0 {
		return s, nil
	}

	var out []byte
	lastIndex := 0

	for _, m := range matches {
		out = append(out, s[lastIndex:m[0]]...)

		expression := s[m[2]:m[3]]
		program, err := expr.Compile(expression, expr.Env(env))
		if err != nil {
			return "", fmt.Errorf("failed to compile expression %q: %w", expression, err)
		}

		result, err := expr.Run(program, env)
		if err != nil {
			return "", fmt.Errorf("failed to run expression %q: %w", expression, err)
		}

		out = fmt.Appendf(out, "%v", result)
		lastIndex = m[1]
	}

	out = append(out, s[lastIndex:]...)
	return string(out), nil
}

// processExpressions recursively walks the parsed TOML data and evaluates
// expressions in strings
func processExpressions(data any, env Env) (any, error) {
	switch v := data.(type) {
	case map[string]any:
		for key, val := range v {
			processedVal, err := processExpressions(val, env)
			if err != nil {
				return nil, err
			}
			v[key] = processedVal
		}
		return v, nil
	case []any:
		for i, item := range v {
			processedItem, err := processExpressions(item, env)
			if err != nil {
				return nil, err
			}
			v[i] = processedItem
		}
		return v, nil
	case string:
		return evaluateString(v, env)
	default:
		return data, nil
	}
}

var moduleHeaderRegex = regexp.MustCompile(`(?m)^\s*\[modules\.([A-Za-z0-9_-]+)\]`)

// moduleOrder recovers declaration order of [modules.*] tables from the raw
// document; TOML decoding into a map loses it.
func moduleOrder(data []byte, modules map[string]*Module) []string {
	var order []string
	for _, m := range moduleHeaderRegex.FindAllSubmatch(data, -1) {
		name := string(m[1])
		if _, ok := modules[name]; ok && !slices.Contains(order, name) {
			order = append(order, name)
		}
	}
	// inline tables never match the header scan; tack them on sorted
	var rest []string
	for name := range modules {
		if !slices.Contains(order, name) {
			rest = append(rest, name)
		}
	}
	slices.Sort(rest)
	return append(order, rest...)
}

// Parse parses a Lume.toml document. When inherit is non-nil the document is
// a submodule and starts from the parent's meta instead of the defaults.
func Parse(data []byte, env Env, inherit *Meta) (*Config, error) {
	var rawConfig map[string]any
	if err := toml.Unmarshal(data, &rawConfig); err != nil {
		var derr *toml.DecodeError
		if errors.As(err, &derr) {
			return nil, errors.New(derr.String())
		}
		return nil, err
	}
	if len(rawConfig) == 0 {
		return nil, errors.New("empty project file")
	}

	processedConfig, err := processExpressions(rawConfig, env)
	if err != nil {
		return nil, fmt.Errorf("error processing expressions in config: %w", err)
	}
	rawConfig = processedConfig.(map[string]any)

	cfg := new(Config)
	if inherit != nil {
		cfg.Meta = *inherit
	} else {
		cfg.Meta = defaultMeta()
	}
	cfg.Modules = make(map[string]*Module)

	if err := unmarshalConditionalSection(rawConfig, "meta", &cfg.Meta, env); err != nil {
		return nil, err
	}
	if err := unmarshalSection(rawConfig, "control", &cfg.Control); err != nil {
		return nil, err
	}
	if err := parseModules(rawConfig, cfg, env); err != nil {
		return nil, err
	}
	if raw, ok := rawConfig["submodules"]; ok {
		arr, ok := raw.([]any)
		if !ok {
			return nil, errors.New("submodules must be an array of directories")
		}
		for _, v := range arr {
			dir, ok := v.(string)
			if !ok {
				return nil, fmt.Errorf("submodules: expected a string, got %T", v)
			}
			cfg.Submodules = append(cfg.Submodules, dir)
		}
	}

	cfg.ModuleOrder = moduleOrder(data, cfg.Modules)

	if len(cfg.Modules) == 0 && len(cfg.Submodules) == 0 {
		return nil, errors.New("no modules or submodules declared")
	}
	for _, name := range cfg.ModuleOrder {
		if err := cfg.Modules[name].validate(name); err != nil {
			return nil, err
		}
	}

	return cfg, nil
}

func parseModules(rawCfg map[string]any, cfg *Config, env Env) error {
	sectionData, ok := rawCfg["modules"]
	if !ok {
		return nil
	}
	sectionMap, ok := sectionData.(map[string]any)
	if !ok {
		return errors.New("invalid [modules] section format: expected a table")
	}

	for name, raw := range sectionMap {
		table, ok := raw.(map[string]any)
		if !ok {
			return fmt.Errorf("module %q: expected a table", name)
		}
		mod := new(Module)
		if err := unmarshalConditionalTable(table, "modules."+name, mod, env); err != nil {
			return err
		}
		cfg.Modules[name] = mod
	}
	return nil
}

func (m *Module) validate(name string) error {
	switch ModuleType(m.Type) {
	case TypeTool, TypeTweak, TypePreferences:
	case "":
		return fmt.Errorf("module %q: no type specified", name)
	default:
		return fmt.Errorf("module %q: unknown type %q", name, m.Type)
	}
	if len(m.Files) == 0 {
		return fmt.Errorf("module %q: no files specified", name)
	}
	return nil
}

// ParseFile parses a project file from disk.
func ParseFile(path string, env Env, inherit *Meta) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return nil, err
	}
	return Parse(data, env, inherit)
}

// Package locators holds the ordered candidate selectors for every element the
// worklog automation touches. The registry is data, not code: the default set is
// embedded and an operator can override whole targets from a YAML file.
package locators

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/antchfx/xpath"
	"gopkg.in/yaml.v3"
)

//go:embed locators.yaml
var defaultDocument []byte

// Logical targets used by the automation.
const (
	TargetWorklogsSection = "worklogs.section"
	TargetPendingToggle   = "pending.toggle"
	TargetPendingRows     = "pending.rows"
	TargetCompleteButton  = "pending.complete"
	TargetFormHeading     = "form.heading"
	TargetStatusNative    = "status.native"
	TargetStatusTrigger   = "status.trigger"
	TargetStatusOption    = "status.option"
	TargetEditor          = "form.editor"
	TargetSubmitButton    = "form.submit"
)

// Template variables understood by Locator.Render.
const (
	VarToday  = "today"
	VarStatus = "status"

	// TodayLayout is how the site prints dates in the worklog table.
	TodayLayout = "02 Jan 2006"
)

var (
	ErrUnknownKey      = errors.New("locator key not registered")
	ErrUnknownTarget   = errors.New("locator target not registered")
	ErrEmptyExpression = errors.New("locator expression is empty")
)

// Strategy tags how a locator anchors onto the page.
type Strategy string

const (
	ByText        Strategy = "text"
	ByStructure   Strategy = "structure"
	ByGeneratedID Strategy = "generated_id"
)

func (s Strategy) valid() bool {
	switch s {
	case ByText, ByStructure, ByGeneratedID:
		return true
	}
	return false
}

// Locator is one named XPath expression.
type Locator struct {
	Key      string   `yaml:"key"`
	Strategy Strategy `yaml:"strategy"`
	XPath    string   `yaml:"xpath"`
}

// Render substitutes {{name}} placeholders. Values are inserted verbatim, so they
// must not contain a single quote when used inside a quoted XPath literal.
func (l Locator) Render(vars map[string]string) string {
	if len(vars) == 0 || !strings.Contains(l.XPath, "{{") {
		return l.XPath
	}
	pairs := make([]string, 0, len(vars)*2)
	for k, v := range vars {
		pairs = append(pairs, "{{"+k+"}}", v)
	}
	return strings.NewReplacer(pairs...).Replace(l.XPath)
}

func (l Locator) String() string {
	return fmt.Sprintf("%s (%s)", l.Key, l.Strategy)
}

type document struct {
	Targets map[string][]Locator `yaml:"targets"`
}

// Registry maps targets to ordered candidates and keys to single expressions.
// A Registry is never mutated after construction.
type Registry struct {
	targets map[string][]Locator
	byKey   map[string]Locator
}

// sampleVars lets templated expressions be compiled at load time.
var sampleVars = map[string]string{
	VarToday:  "01 Jan 2026",
	VarStatus: "status",
}

// Load parses and validates a registry document.
func Load(r io.Reader) (*Registry, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	var doc document
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("decoding locator document: %w", err)
	}
	if len(doc.Targets) == 0 {
		return nil, errors.New("locator document defines no targets")
	}
	return build(doc.Targets)
}

// LoadFile reads a registry document from disk.
func LoadFile(path string) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading locator file: %w", err)
	}
	reg, err := Load(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return reg, nil
}

// Default returns the embedded registry.
func Default() *Registry {
	reg, err := Load(bytes.NewReader(defaultDocument))
	if err != nil {
		panic(fmt.Sprintf("embedded locator document is invalid: %v", err))
	}
	return reg
}

// LoadWithOverride returns the default registry with the targets of the file at
// path replacing their defaults. An empty path yields the defaults.
func LoadWithOverride(path string) (*Registry, error) {
	base := Default()
	if path == "" {
		return base, nil
	}
	override, err := LoadFile(path)
	if err != nil {
		return nil, err
	}
	return base.Merge(override)
}

func build(targets map[string][]Locator) (*Registry, error) {
	reg := &Registry{
		targets: make(map[string][]Locator, len(targets)),
		byKey:   make(map[string]Locator),
	}
	for target, candidates := range targets {
		if len(candidates) == 0 {
			return nil, fmt.Errorf("target %q has no candidates", target)
		}
		list := make([]Locator, 0, len(candidates))
		for i, loc := range candidates {
			if err := validate(target, loc); err != nil {
				return nil, fmt.Errorf("target %q candidate %d: %w", target, i, err)
			}
			if _, dup := reg.byKey[loc.Key]; dup {
				return nil, fmt.Errorf("duplicate locator key %q", loc.Key)
			}
			reg.byKey[loc.Key] = loc
			list = append(list, loc)
		}
		reg.targets[target] = list
	}
	return reg, nil
}

func validate(target string, loc Locator) error {
	if strings.Count(loc.Key, ".") < 2 {
		return fmt.Errorf("key %q is not of the form category.element.variant", loc.Key)
	}
	if !strings.HasPrefix(loc.Key, target+".") {
		return fmt.Errorf("key %q does not belong to target %q", loc.Key, target)
	}
	if !loc.Strategy.valid() {
		return fmt.Errorf("key %q: unknown strategy %q", loc.Key, loc.Strategy)
	}
	if strings.TrimSpace(loc.XPath) == "" {
		return fmt.Errorf("key %q: %w", loc.Key, ErrEmptyExpression)
	}
	if _, err := xpath.Compile(loc.Render(sampleVars)); err != nil {
		return fmt.Errorf("key %q: invalid xpath: %w", loc.Key, err)
	}
	return nil
}

// Merge returns a new registry where every target defined by override replaces
// the receiver's candidates for that target.
func (r *Registry) Merge(override *Registry) (*Registry, error) {
	merged := make(map[string][]Locator, len(r.targets))
	for target, list := range r.targets {
		merged[target] = list
	}
	for target, list := range override.targets {
		merged[target] = list
	}
	return build(merged)
}

// Get returns the expression registered under key. A missing key is a
// configuration defect and is reported, never defaulted.
func (r *Registry) Get(key string) (string, error) {
	loc, ok := r.byKey[key]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownKey, key)
	}
	if strings.TrimSpace(loc.XPath) == "" {
		return "", fmt.Errorf("%w: %q", ErrEmptyExpression, key)
	}
	return loc.XPath, nil
}

// MustGet is Get for wiring code where a missing key means the build is broken.
func (r *Registry) MustGet(key string) string {
	expr, err := r.Get(key)
	if err != nil {
		panic(err)
	}
	return expr
}

// Candidates returns a copy of the ordered candidates for target.
func (r *Registry) Candidates(target string) ([]Locator, error) {
	list, ok := r.targets[target]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownTarget, target)
	}
	out := make([]Locator, len(list))
	copy(out, list)
	return out, nil
}

// Targets lists registered targets in lexical order.
func (r *Registry) Targets() []string {
	names := make([]string, 0, len(r.targets))
	for name := range r.targets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Current lets a fixed registry stand in wherever a Source is expected.
func (r *Registry) Current() *Registry { return r }

// Source hands out the registry a run should use.
type Source interface {
	Current() *Registry
}

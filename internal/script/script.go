// Package script loads YAML session scripts: a request (DSL or natural
// language), the user's canned answers and the model's canned replies. They
// drive offline runs of the CLI and the HTTP service.
package script

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/ZanzyTHEbar/dragonscale-intents/internal/adapters"
	"github.com/ZanzyTHEbar/dragonscale-intents/internal/channel"
	ds "github.com/ZanzyTHEbar/dragonscale-intents/pkg/dragonscale"
	"github.com/ZanzyTHEbar/dragonscale-intents/pkg/dsl"
)

// File is one session script.
type File struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
	// Exactly one of Prompt and DSL is set.
	Prompt string `yaml:"prompt"`
	DSL    string `yaml:"dsl"`
	// Answers are the user's replies to ASK and error-resolution questions.
	Answers []string `yaml:"answers"`
	// Replies are queued model answers keyed by inference kind.
	Replies   map[string][]string `yaml:"replies"`
	Interpret bool                `yaml:"interpret_answers"`
	Expect    *Expectation        `yaml:"expect"`
}

// Expectation is checked against the session outcome by Verify.
type Expectation struct {
	Status  string   `yaml:"status"`
	Results []string `yaml:"results"`
}

// Loader loads a script from a source.
type Loader interface {
	Load(path string) (*File, error)
	Extensions() []string
}

var loaders = make(map[string]Loader)

// RegisterLoader makes l handle every file extension it claims.
func RegisterLoader(l Loader) {
	for _, ext := range l.Extensions() {
		loaders[ext] = l
	}
}

// YAMLLoader reads .yaml and .yml scripts.
type YAMLLoader struct{}

func (YAMLLoader) Load(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open script: %w", err)
	}
	return Parse(data)
}

func (YAMLLoader) Extensions() []string { return []string{".yaml", ".yml"} }

func init() {
	RegisterLoader(YAMLLoader{})
}

// Parse decodes a YAML script.
func Parse(data []byte) (*File, error) {
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse script YAML: %w", err)
	}
	return &f, nil
}

// Load picks a loader by file extension, loads the script and validates it.
func Load(path string) (*File, error) {
	loader, ok := loaders[strings.ToLower(filepath.Ext(path))]
	if !ok {
		return nil, fmt.Errorf("no script loader for %q", filepath.Ext(path))
	}
	f, err := loader.Load(path)
	if err != nil {
		return nil, err
	}
	if err := f.Validate(); err != nil {
		return nil, err
	}
	return f, nil
}

// Validate checks that the script names one request, that its DSL parses
// and that every reply kind is known.
func (f *File) Validate() error {
	hasPrompt, hasDSL := strings.TrimSpace(f.Prompt) != "", strings.TrimSpace(f.DSL) != ""
	switch {
	case hasPrompt && hasDSL:
		return fmt.Errorf("script %q sets both prompt and dsl", f.Name)
	case !hasPrompt && !hasDSL:
		return fmt.Errorf("script %q sets neither prompt nor dsl", f.Name)
	}
	if hasDSL {
		if _, err := dsl.Parse(f.DSL); err != nil {
			return fmt.Errorf("script %q: %w", f.Name, err)
		}
	}
	if hasPrompt && len(f.Replies[string(ds.KindSequence)]) == 0 {
		return fmt.Errorf("script %q has a prompt but no %s replies", f.Name, ds.KindSequence)
	}
	known := make(map[string]bool)
	for _, k := range ds.Kinds() {
		known[string(k)] = true
	}
	for kind := range f.Replies {
		if !known[kind] {
			return fmt.Errorf("script %q: unknown reply kind %q", f.Name, kind)
		}
	}
	return nil
}

// Tree parses the script's DSL.
func (f *File) Tree() (*dsl.ListElement, error) {
	return dsl.Parse(f.DSL)
}

// Channel returns a channel answering with the script's answers.
func (f *File) Channel() *channel.Scripted {
	return channel.NewScripted(f.Answers...)
}

// Adapter returns an inference adapter replaying the script's replies.
func (f *File) Adapter() *adapters.ScriptedAdapter {
	a := adapters.NewScriptedAdapter()
	for kind, replies := range f.Replies {
		a.Reply(ds.InferenceKind(kind), replies...)
	}
	return a
}

// Verify compares an outcome against the expectation, if any. Results are
// compared by their DSL rendering.
func (f *File) Verify(status string, results []any) error {
	if f.Expect == nil {
		return nil
	}
	if f.Expect.Status != "" && f.Expect.Status != status {
		return fmt.Errorf("script %q: status %s, expected %s", f.Name, status, f.Expect.Status)
	}
	if f.Expect.Results == nil {
		return nil
	}
	if len(results) != len(f.Expect.Results) {
		return fmt.Errorf("script %q: %d results, expected %d", f.Name, len(results), len(f.Expect.Results))
	}
	for i, r := range results {
		if got := renderResult(r); got != f.Expect.Results[i] {
			return fmt.Errorf("script %q: result %d is %s, expected %s", f.Name, i, got, f.Expect.Results[i])
		}
	}
	return nil
}

func renderResult(r any) string {
	if r == nil {
		return "None"
	}
	n, err := dsl.FromGo(r)
	if err != nil {
		return fmt.Sprint(r)
	}
	return n.String()
}

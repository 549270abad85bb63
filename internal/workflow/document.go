// Package workflow interprets declared multi-step extraction pipelines.
package workflow

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/offerscout/offerscout/internal/scout"
)

// Action is the closed set of operations a step may invoke. Parsing happens
// once at document load, so an unknown name fails before anything runs.
type Action string

// Supported step actions.
const (
	ActionAcquireSession Action = "acquire_session"
	ActionExtract        Action = "extract"
	ActionRotateProxy    Action = "rotate_proxy"
	ActionFilterResults  Action = "filter_results"
	ActionPersistResults Action = "persist_results"
	ActionDelay          Action = "delay"
)

// ParseAction validates an action name from a workflow document.
func ParseAction(name string) (Action, error) {
	switch Action(name) {
	case ActionAcquireSession, ActionExtract, ActionRotateProxy,
		ActionFilterResults, ActionPersistResults, ActionDelay:
		return Action(name), nil
	default:
		return "", fmt.Errorf("%w: %q", scout.ErrUnknownAction, name)
	}
}

// RetrySpec controls per-step retry behavior.
type RetrySpec struct {
	Attempts int           `mapstructure:"attempts"`
	Delay    time.Duration `mapstructure:"delay"`
}

// Step is one pipeline stage.
type Step struct {
	Name      string         `mapstructure:"name"`
	Action    Action         `mapstructure:"action"`
	Params    map[string]any `mapstructure:"params"`
	Condition string         `mapstructure:"condition"`
	Retry     *RetrySpec     `mapstructure:"retry"`
	Timeout   time.Duration  `mapstructure:"timeout"`
}

// Document is a named, ordered pipeline declaration.
type Document struct {
	Name        string         `mapstructure:"name"`
	Description string         `mapstructure:"description"`
	Version     string         `mapstructure:"version"`
	Variables   map[string]any `mapstructure:"variables"`
	Steps       []Step         `mapstructure:"steps"`
}

// Validate checks the document for configuration errors: a missing name,
// zero steps, unknown actions, or unparsable conditions.
func (d Document) Validate() error {
	if d.Name == "" {
		return fmt.Errorf("workflow document requires a name")
	}
	if len(d.Steps) == 0 {
		return fmt.Errorf("workflow %s: at least one step is required", d.Name)
	}
	for i, step := range d.Steps {
		if step.Name == "" {
			return fmt.Errorf("workflow %s: step %d requires a name", d.Name, i)
		}
		if _, err := ParseAction(string(step.Action)); err != nil {
			return fmt.Errorf("workflow %s: step %s: %w", d.Name, step.Name, err)
		}
		if step.Condition != "" {
			if _, err := ParseCondition(step.Condition); err != nil {
				return fmt.Errorf("workflow %s: step %s: condition: %w", d.Name, step.Name, err)
			}
		}
		if step.Retry != nil && step.Retry.Attempts < 1 {
			return fmt.Errorf("workflow %s: step %s: retry.attempts must be >= 1", d.Name, step.Name)
		}
	}
	return nil
}

// Loader resolves workflow documents by name from a directory of YAML or
// JSON files.
type Loader struct {
	dir string
}

// NewLoader builds a Loader rooted at dir.
func NewLoader(dir string) *Loader {
	return &Loader{dir: dir}
}

// Load resolves <dir>/<name>.(yaml|yml|json) and parses it.
func (l *Loader) Load(name string) (Document, error) {
	path, err := l.resolve(name)
	if err != nil {
		return Document{}, err
	}

	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return Document{}, fmt.Errorf("read workflow %s: %w", name, err)
	}

	var doc Document
	if err := v.Unmarshal(&doc); err != nil {
		return Document{}, fmt.Errorf("unmarshal workflow %s: %w", name, err)
	}
	if err := doc.Validate(); err != nil {
		return Document{}, err
	}
	return doc, nil
}

func (l *Loader) resolve(name string) (string, error) {
	if strings.ContainsAny(name, `/\`) {
		return "", fmt.Errorf("workflow name %q must not contain path separators", name)
	}
	for _, ext := range []string{".yaml", ".yml", ".json"} {
		path := filepath.Join(l.dir, name+ext)
		if _, err := os.Stat(path); err == nil {
			return path, nil
		}
	}
	return "", fmt.Errorf("workflow %q not found in %s", name, l.dir)
}

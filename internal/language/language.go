package language

import (
	"errors"
	"fmt"
)

// LocalRender is the key of the language rendered in the browser instead of
// being sent to the remote executor.
const LocalRender = "html_css_js"

// DefaultBoilerplate is used for languages that do not define their own.
const DefaultBoilerplate = "// Write your code here"

// ErrUnknown is returned when a language key is not in the table.
var ErrUnknown = errors.New("unknown language")

// Parts holds the three buffers of the local-render language.
type Parts struct {
	HTML string `json:"html" yaml:"html"`
	CSS  string `json:"css" yaml:"css"`
	JS   string `json:"js" yaml:"js"`
}

// Descriptor describes one selectable language.
type Descriptor struct {
	Key         string `json:"key" yaml:"key"`
	Name        string `json:"name" yaml:"name"`
	ExecutorID  *int   `json:"executor_id,omitempty" yaml:"executor_id"`
	EditorMode  string `json:"editor_mode" yaml:"editor_mode"`
	Boilerplate string `json:"boilerplate" yaml:"boilerplate"`
	Parts       *Parts `json:"parts,omitempty" yaml:"parts"`
}

// IsLocal reports whether the language renders locally.
func (d Descriptor) IsLocal() bool {
	return d.Key == LocalRender
}

// Mode returns the editor highlighting mode, falling back to the key.
func (d Descriptor) Mode() string {
	if d.EditorMode != "" {
		return d.EditorMode
	}
	return d.Key
}

// Table is an ordered, read-only set of descriptors.
type Table struct {
	order []string
	byKey map[string]Descriptor
}

// NewTable builds a table from descriptors. Later entries with a duplicate
// key replace earlier ones but keep the earlier position.
func NewTable(descs []Descriptor) (*Table, error) {
	t := &Table{byKey: make(map[string]Descriptor, len(descs))}
	for _, d := range descs {
		if d.Key == "" {
			return nil, fmt.Errorf("language %q: key is required", d.Name)
		}
		if _, ok := t.byKey[d.Key]; !ok {
			t.order = append(t.order, d.Key)
		}
		if d.Name == "" {
			d.Name = d.Key
		}
		t.byKey[d.Key] = d
	}
	return t, nil
}

// Lookup returns the descriptor for key.
func (t *Table) Lookup(key string) (Descriptor, error) {
	d, ok := t.byKey[key]
	if !ok {
		return Descriptor{}, fmt.Errorf("%w: %s", ErrUnknown, key)
	}
	return d, nil
}

// ExecutorID returns the remote executor id for key, if one is configured.
func (t *Table) ExecutorID(key string) (int, bool) {
	d, ok := t.byKey[key]
	if !ok || d.ExecutorID == nil {
		return 0, false
	}
	return *d.ExecutorID, true
}

// All returns the descriptors in selector order.
func (t *Table) All() []Descriptor {
	out := make([]Descriptor, 0, len(t.order))
	for _, k := range t.order {
		out = append(out, t.byKey[k])
	}
	return out
}

// Boilerplate returns the canned starter text for key. For the local-render
// language the parts are returned and the string is empty.
func (t *Table) Boilerplate(key string) (string, Parts, error) {
	d, err := t.Lookup(key)
	if err != nil {
		return "", Parts{}, err
	}
	if d.IsLocal() {
		if d.Parts != nil {
			return "", *d.Parts, nil
		}
		return "", defaultParts, nil
	}
	if d.Boilerplate == "" {
		return DefaultBoilerplate, Parts{}, nil
	}
	return d.Boilerplate, Parts{}, nil
}

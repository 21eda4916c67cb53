// Package session holds the in-memory editor state of each playground tab.
package session

import (
	"context"
	"fmt"
	"sync"

	"github.com/michaelbrown/codepad/internal/dispatch"
	"github.com/michaelbrown/codepad/internal/language"
)

// Theme is the editor color scheme.
type Theme string

const (
	ThemeDark  Theme = "dark"
	ThemeLight Theme = "light"
)

// OutputPosition is where the output pane is docked.
type OutputPosition string

const (
	OutputSide   OutputPosition = "side"
	OutputBottom OutputPosition = "bottom"
)

// Part names an editable buffer.
type Part string

const (
	PartSource Part = "source"
	PartHTML   Part = "html"
	PartCSS    Part = "css"
	PartJS     Part = "js"
)

// DefaultLanguage is selected in new sessions.
const DefaultLanguage = "python"

// Session is the state behind one playground page.
type Session struct {
	mu         sync.Mutex
	id         string
	langs      *language.Table
	language   string
	source     string
	parts      language.Parts
	theme      Theme
	stdin      string
	position   OutputPosition
	output     *dispatch.Output
	generation uint64
	running    bool

	// closed on Close; cancels runs still in flight
	ctx    context.Context
	cancel context.CancelFunc
}

// Snapshot is a copy of a session's state, safe to serialize.
type Snapshot struct {
	ID             string           `json:"id"`
	Language       string           `json:"language"`
	EditorMode     string           `json:"editor_mode"`
	Source         string           `json:"source"`
	Parts          language.Parts   `json:"parts"`
	Theme          Theme            `json:"theme"`
	Stdin          string           `json:"stdin"`
	OutputPosition OutputPosition   `json:"output_position"`
	Output         *dispatch.Output `json:"output,omitempty"`
	Generation     uint64           `json:"generation"`
	Running        bool             `json:"running"`
}

// New creates a session with the default language and its boilerplate.
func New(id string, langs *language.Table) (*Session, error) {
	s := &Session{
		id:       id,
		langs:    langs,
		theme:    ThemeDark,
		position: OutputSide,
	}
	s.ctx, s.cancel = context.WithCancel(context.Background())
	if err := s.SetLanguage(DefaultLanguage); err != nil {
		return nil, err
	}
	return s, nil
}

// ID returns the session id.
func (s *Session) ID() string { return s.id }

// Snapshot returns a copy of the current state.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

func (s *Session) snapshotLocked() Snapshot {
	mode := s.language
	if d, err := s.langs.Lookup(s.language); err == nil {
		mode = d.Mode()
	}
	var out *dispatch.Output
	if s.output != nil {
		o := *s.output
		out = &o
	}
	return Snapshot{
		ID:             s.id,
		Language:       s.language,
		EditorMode:     mode,
		Source:         s.source,
		Parts:          s.parts,
		Theme:          s.theme,
		Stdin:          s.stdin,
		OutputPosition: s.position,
		Output:         out,
		Generation:     s.generation,
		Running:        s.running,
	}
}

// SetLanguage selects key and replaces the buffers with its boilerplate,
// discarding any edits.
func (s *Session) SetLanguage(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	src, parts, err := s.langs.Boilerplate(key)
	if err != nil {
		return err
	}
	s.language = key
	s.source = src
	s.parts = parts
	return nil
}

// SetLanguages swaps the table used for later language changes, after a
// reload of the language file.
func (s *Session) SetLanguages(t *language.Table) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.langs = t
}

// Edit replaces the content of one buffer. Any text is accepted.
func (s *Session) Edit(part Part, text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	local := s.language == language.LocalRender
	switch {
	case part == PartSource && !local:
		s.source = text
	case part == PartHTML && local:
		s.parts.HTML = text
	case part == PartCSS && local:
		s.parts.CSS = text
	case part == PartJS && local:
		s.parts.JS = text
	default:
		return fmt.Errorf("part %q is not editable for language %q", part, s.language)
	}
	return nil
}

// SetStdin sets the program input.
func (s *Session) SetStdin(stdin string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stdin = stdin
}

// SetTheme sets the color scheme.
func (s *Session) SetTheme(t Theme) error {
	if t != ThemeDark && t != ThemeLight {
		return fmt.Errorf("unknown theme %q", t)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.theme = t
	return nil
}

// ToggleTheme flips between dark and light and returns the new theme.
func (s *Session) ToggleTheme() Theme {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.theme == ThemeDark {
		s.theme = ThemeLight
	} else {
		s.theme = ThemeDark
	}
	return s.theme
}

// SetOutputPosition docks the output pane.
func (s *Session) SetOutputPosition(p OutputPosition) error {
	if p != OutputSide && p != OutputBottom {
		return fmt.Errorf("unknown output position %q", p)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.position = p
	return nil
}

// ToggleOutputPosition moves the output pane and returns the new position.
func (s *Session) ToggleOutputPosition() OutputPosition {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.position == OutputSide {
		s.position = OutputBottom
	} else {
		s.position = OutputSide
	}
	return s.position
}

// BeginRun starts a new run generation and returns it together with the
// request built from the current buffers. Results of older generations are
// discarded by Complete.
func (s *Session) BeginRun() (uint64, dispatch.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.generation++
	s.running = true
	return s.generation, dispatch.Request{
		LanguageID: s.language,
		Source:     s.source,
		Parts:      s.parts,
		Stdin:      s.stdin,
	}
}

// Complete stores out as the session output if gen is still the latest run.
// It reports whether the output was applied.
func (s *Session) Complete(gen uint64, out *dispatch.Output) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if gen != s.generation {
		return false
	}
	s.output = out
	s.running = false
	return true
}

// Run executes the current buffers with d. Any failure becomes an error
// panel; nothing is returned as an error. gen is the generation this run was
// given. applied is false when a newer run started before this one finished,
// in which case the session output is left alone.
func (s *Session) Run(ctx context.Context, d *dispatch.Dispatcher, onState dispatch.StateFunc) (out *dispatch.Output, gen uint64, applied bool) {
	gen, req := s.BeginRun()
	req.OnState = onState

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(s.ctx, cancel)
	defer stop()

	out, err := d.Run(ctx, req)
	if err != nil {
		out = dispatch.ErrorOutput(err)
	}
	return out, gen, s.Complete(gen, out)
}

// Close cancels in-flight runs.
func (s *Session) Close() {
	s.cancel()
}

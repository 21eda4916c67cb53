package language

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

type overlayFile struct {
	Languages []Descriptor `yaml:"languages"`
}

// LoadOverlay reads a YAML language file and merges it over the builtin
// table. Entries with a builtin key replace it; new keys are appended.
func LoadOverlay(path string) (*Table, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading languages %s: %w", path, err)
	}

	var f overlayFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parsing languages %s: %w", path, err)
	}

	descs := make([]Descriptor, 0, len(Builtin)+len(f.Languages))
	descs = append(descs, Builtin...)
	descs = append(descs, f.Languages...)
	return NewTable(descs)
}

// Registry holds the current table and swaps it atomically on reload.
type Registry struct {
	cur atomic.Pointer[Table]
}

// NewRegistry creates a registry serving t.
func NewRegistry(t *Table) *Registry {
	r := &Registry{}
	r.cur.Store(t)
	return r
}

// Table returns the current table.
func (r *Registry) Table() *Table {
	return r.cur.Load()
}

// Watch reloads path whenever it changes until ctx is done. A file that fails
// to parse keeps the previous table in place.
func (r *Registry) Watch(ctx context.Context, path string, log *zap.Logger) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating watcher: %w", err)
	}
	// Watch the directory so editors that replace the file are still seen.
	if err := w.Add(filepath.Dir(path)); err != nil {
		w.Close()
		return fmt.Errorf("watching %s: %w", path, err)
	}

	go func() {
		defer w.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if filepath.Clean(ev.Name) != filepath.Clean(path) {
					continue
				}
				if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) {
					continue
				}
				t, err := LoadOverlay(path)
				if err != nil {
					log.Warn("language reload failed", zap.String("path", path), zap.Error(err))
					continue
				}
				r.cur.Store(t)
				log.Info("languages reloaded", zap.String("path", path), zap.Int("count", len(t.order)))
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				log.Warn("language watcher error", zap.Error(err))
			}
		}
	}()
	return nil
}

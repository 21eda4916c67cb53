package language

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/zap"
)

func TestBuiltinLookup(t *testing.T) {
	tbl := Default()

	tests := []struct {
		key    string
		wantID int
		wantOK bool
	}{
		{"python", 71, true},
		{"cpp", 54, true},
		{"javascript", 63, true},
		{LocalRender, 0, false},
		{"cobol", 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			got, ok := tbl.ExecutorID(tt.key)
			if ok != tt.wantOK || got != tt.wantID {
				t.Errorf("ExecutorID(%q) = %d, %v; want %d, %v", tt.key, got, ok, tt.wantID, tt.wantOK)
			}
		})
	}
}

func TestLookupUnknown(t *testing.T) {
	_, err := Default().Lookup("cobol")
	if !errors.Is(err, ErrUnknown) {
		t.Fatalf("err = %v, want ErrUnknown", err)
	}
}

func TestBoilerplate(t *testing.T) {
	tbl := Default()

	src, _, err := tbl.Boilerplate("php")
	if err != nil {
		t.Fatal(err)
	}
	if src != "<?php\n// Write your PHP code here\n?>" {
		t.Errorf("php boilerplate = %q", src)
	}

	src, _, err = tbl.Boilerplate("go")
	if err != nil {
		t.Fatal(err)
	}
	if src != DefaultBoilerplate {
		t.Errorf("go boilerplate = %q, want default", src)
	}

	src, parts, err := tbl.Boilerplate(LocalRender)
	if err != nil {
		t.Fatal(err)
	}
	if src != "" {
		t.Errorf("local source = %q, want empty", src)
	}
	if parts.HTML != "<!-- Write your HTML here -->" || parts.CSS != "/* Write your CSS here */" || parts.JS != "// Write your JavaScript here" {
		t.Errorf("local parts = %+v", parts)
	}
}

func TestAllKeepsOrder(t *testing.T) {
	all := Default().All()
	if len(all) != len(Builtin) {
		t.Fatalf("got %d languages, want %d", len(all), len(Builtin))
	}
	if all[0].Key != LocalRender || all[0].Mode() != "html" {
		t.Errorf("first language = %+v", all[0])
	}
	if all[2].Mode() != "python" {
		t.Errorf("python mode = %q", all[2].Mode())
	}
}

func TestNewTableRequiresKey(t *testing.T) {
	if _, err := NewTable([]Descriptor{{Name: "nameless"}}); err == nil {
		t.Fatal("expected error for missing key")
	}
}

func writeOverlay(t *testing.T, path, body string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestLoadOverlay(t *testing.T) {
	path := filepath.Join(t.TempDir(), "languages.yaml")
	writeOverlay(t, path, `
languages:
  - key: python
    name: Python 3.8
    executor_id: 92
    boilerplate: "print('hi')"
  - key: kotlin
    name: Kotlin
    executor_id: 78
`)

	tbl, err := LoadOverlay(path)
	if err != nil {
		t.Fatalf("LoadOverlay: %v", err)
	}

	if id, _ := tbl.ExecutorID("python"); id != 92 {
		t.Errorf("python id = %d, want 92", id)
	}
	d, err := tbl.Lookup("kotlin")
	if err != nil {
		t.Fatalf("Lookup kotlin: %v", err)
	}
	if d.Name != "Kotlin" {
		t.Errorf("kotlin name = %q", d.Name)
	}
	all := tbl.All()
	if all[len(all)-1].Key != "kotlin" {
		t.Errorf("appended language should be last, got %q", all[len(all)-1].Key)
	}
}

func TestRegistryWatchReloads(t *testing.T) {
	path := filepath.Join(t.TempDir(), "languages.yaml")
	writeOverlay(t, path, "languages: []\n")

	r := NewRegistry(Default())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := r.Watch(ctx, path, zap.NewNop()); err != nil {
		t.Fatalf("Watch: %v", err)
	}

	writeOverlay(t, path, "languages:\n  - key: rust\n    executor_id: 73\n")

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if _, ok := r.Table().ExecutorID("rust"); ok {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatal("registry did not pick up rust after file change")
}

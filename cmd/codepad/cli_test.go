package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/michaelbrown/codepad/internal/dispatch"
	"github.com/michaelbrown/codepad/internal/judge0"
	"github.com/michaelbrown/codepad/internal/language"
	"github.com/michaelbrown/codepad/internal/storage"
	"github.com/michaelbrown/codepad/internal/storage/sqlite"
)

// resetFlags puts every flag back to its default; flag variables are package
// globals and outlive a single Execute.
func resetFlags(c *cobra.Command) {
	reset := func(f *pflag.Flag) {
		f.Value.Set(f.DefValue)
		f.Changed = false
	}
	c.Flags().VisitAll(reset)
	c.PersistentFlags().VisitAll(reset)
	for _, sub := range c.Commands() {
		resetFlags(sub)
	}
}

func executeCommand(root *cobra.Command, args ...string) (string, error) {
	resetFlags(root)
	buf := new(bytes.Buffer)
	root.SetOut(buf)
	root.SetErr(buf)
	root.SetArgs(args)
	err := root.Execute()
	return buf.String(), err
}

// testConfig writes a config file pointing at judgeURL and a temp database.
func testConfig(t *testing.T, judgeURL string) string {
	t.Helper()
	dir := t.TempDir()
	if judgeURL == "" {
		judgeURL = "http://127.0.0.1:1"
	}
	body := "judge0:\n" +
		"  base_url: " + judgeURL + "\n" +
		"  poll_interval: 1ms\n" +
		"storage:\n" +
		"  db_path: " + filepath.Join(dir, "codepad.db") + "\n" +
		"log:\n" +
		"  level: error\n"
	path := filepath.Join(dir, "codepad.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func fakeJudge0(t *testing.T, stdout string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPost:
			w.WriteHeader(http.StatusCreated)
			w.Write([]byte(`{"token":"tok"}`))
		case strings.HasSuffix(r.URL.Path, "/languages"):
			w.Write([]byte(`[{"id":71,"name":"Python (3.8.1)"},{"id":50,"name":"C (GCC 9.2.0)"}]`))
		default:
			json.NewEncoder(w).Encode(map[string]any{"stdout": stdout})
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestCLIHelp(t *testing.T) {
	output, err := executeCommand(rootCmd, "--help")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	for _, phrase := range []string{"codepad", "Judge0", "serve", "run", "languages", "shell", "snippets", "--config"} {
		if !strings.Contains(output, phrase) {
			t.Errorf("help output should contain %q", phrase)
		}
	}
}

func TestCLIRunHelp(t *testing.T) {
	output, err := executeCommand(rootCmd, "run", "--help")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	for _, phrase := range []string{"--lang", "--stdin", "--stdin-file", "--css", "--js"} {
		if !strings.Contains(output, phrase) {
			t.Errorf("run help should contain %q", phrase)
		}
	}
}

func TestLanguagesCommand(t *testing.T) {
	output, err := executeCommand(rootCmd, "--config", testConfig(t, ""), "languages")
	if err != nil {
		t.Fatalf("languages: %v", err)
	}
	for _, want := range []string{"html_css_js", "local", "python", "71", "ruby", "72"} {
		if !strings.Contains(output, want) {
			t.Errorf("output missing %q:\n%s", want, output)
		}
	}
}

func TestLanguagesRemote(t *testing.T) {
	judge := fakeJudge0(t, "")
	output, err := executeCommand(rootCmd, "--config", testConfig(t, judge.URL), "languages", "--remote")
	if err != nil {
		t.Fatalf("languages --remote: %v", err)
	}
	if strings.Index(output, "C (GCC 9.2.0)") > strings.Index(output, "Python (3.8.1)") {
		t.Errorf("remote languages not sorted by id:\n%s", output)
	}
}

func TestRunRemote(t *testing.T) {
	judge := fakeJudge0(t, "5\n")
	src := writeFile(t, "sum.py", "print(2 + 3)\n")

	output, err := executeCommand(rootCmd, "--config", testConfig(t, judge.URL), "run", src)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if output != "5\n" {
		t.Errorf("output = %q, want %q", output, "5\n")
	}
}

func TestRunHTML(t *testing.T) {
	page := writeFile(t, "page.html", "<h1>hi</h1>")
	output, err := executeCommand(rootCmd, "--config", testConfig(t, ""), "run", page)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if !strings.HasPrefix(output, "data:text/html;charset=utf-8;base64,") {
		t.Errorf("output = %q", output)
	}
}

func TestRunErrors(t *testing.T) {
	cfg := testConfig(t, "")
	tests := []struct {
		name string
		args []string
		want string
	}{
		{"empty source", []string{"run", writeFile(t, "empty.py", "  \n")}, "Error: source code is empty"},
		{"unknown extension", []string{"run", writeFile(t, "x.cobol", "x")}, "pass --lang"},
		{"unsupported language", []string{"run", "--lang", "cobol", writeFile(t, "x.txt", "x")}, "Error:"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := executeCommand(rootCmd, append([]string{"--config", cfg}, tt.args...)...)
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("err = %v, want containing %q", err, tt.want)
			}
		})
	}
}

func TestLanguageForFile(t *testing.T) {
	tests := map[string]string{
		"a.py":      "python",
		"B.CPP":     "cpp",
		"main.go":   "go",
		"index.htm": language.LocalRender,
	}
	for file, want := range tests {
		got, err := languageForFile(file)
		if err != nil || got != want {
			t.Errorf("languageForFile(%q) = %q, %v; want %q", file, got, err, want)
		}
	}
}

func TestSnippetsCommands(t *testing.T) {
	cfgPath := testConfig(t, "")
	dbPath := filepath.Join(filepath.Dir(cfgPath), "codepad.db")

	store, err := sqlite.Open(dbPath)
	if err != nil {
		t.Fatal(err)
	}
	err = store.CreateSnippet(context.Background(), &storage.Snippet{
		ID:       "feedface-0000-0000-0000-000000000000",
		Title:    "greeting",
		Language: "ruby",
		Source:   "puts 'hi'",
	})
	store.Close()
	if err != nil {
		t.Fatal(err)
	}

	output, err := executeCommand(rootCmd, "--config", cfgPath, "snippets", "list")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if !strings.Contains(output, "feedface") || !strings.Contains(output, "greeting") {
		t.Errorf("list output:\n%s", output)
	}

	output, err = executeCommand(rootCmd, "--config", cfgPath, "snippets", "export", "feedface")
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	if !strings.Contains(output, "```ruby\nputs 'hi'\n```") {
		t.Errorf("export output:\n%s", output)
	}

	if _, err := executeCommand(rootCmd, "--config", cfgPath, "snippets", "export", "--format", "pdf", "feedface"); err == nil {
		t.Error("expected error for unknown export format")
	}

	output, err = executeCommand(rootCmd, "--config", cfgPath, "snippets", "delete", "--force", "feedface")
	if err != nil {
		t.Fatalf("delete: %v", err)
	}
	if !strings.Contains(output, "Deleted snippet feedface") {
		t.Errorf("delete output: %s", output)
	}

	output, _ = executeCommand(rootCmd, "--config", cfgPath, "snippets", "list")
	if !strings.Contains(output, "No snippets found.") {
		t.Errorf("list after delete:\n%s", output)
	}
}

func newTestShell(t *testing.T, judgeURL string) (*shell, *bytes.Buffer) {
	t.Helper()
	client, err := judge0.NewClient(judge0.Config{BaseURL: judgeURL})
	if err != nil {
		t.Fatal(err)
	}
	table := language.Default()
	d := dispatch.New(language.NewRegistry(table), client, nil,
		dispatch.Config{PollInterval: time.Millisecond, MaxAttempts: 3}, nil, nil)

	var buf bytes.Buffer
	sh, err := newShell(&buf, table, d, "python")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(sh.sess.Close)
	return sh, &buf
}

func TestShellEditAndRun(t *testing.T) {
	judge := fakeJudge0(t, "5\n")
	sh, buf := newTestShell(t, judge.URL)
	ctx := context.Background()

	sh.handle(ctx, "a = 2")
	sh.handle(ctx, "print(a + 3)")
	if got := sh.sess.Snapshot().Source; got != "a = 2\nprint(a + 3)\n" {
		t.Errorf("buffer = %q, want boilerplate replaced by typed lines", got)
	}

	sh.handle(ctx, ":run")
	if !strings.Contains(buf.String(), "5\n") {
		t.Errorf("run output = %q", buf.String())
	}
	if out := sh.sess.Snapshot().Output; out == nil || out.Text != "5\n" {
		t.Errorf("session output = %+v", out)
	}
}

func TestShellCommands(t *testing.T) {
	sh, buf := newTestShell(t, "http://127.0.0.1:1")
	ctx := context.Background()

	sh.handle(ctx, ":lang go")
	want, _, _ := language.Default().Boilerplate("go")
	if got := sh.sess.Snapshot().Source; got != want {
		t.Errorf("source after :lang = %q", got)
	}

	sh.handle(ctx, ":part css")
	if !strings.Contains(buf.String(), "only applies to html_css_js") {
		t.Errorf("expected :part error, got %q", buf.String())
	}

	sh.handle(ctx, ":lang html_css_js")
	sh.handle(ctx, ":part css")
	sh.handle(ctx, "h1 { color: red; }")
	if got := sh.sess.Snapshot().Parts.CSS; got != "h1 { color: red; }\n" {
		t.Errorf("css = %q", got)
	}

	sh.handle(ctx, ":stdin 1 2 3")
	if got := sh.sess.Snapshot().Stdin; got != "1 2 3" {
		t.Errorf("stdin = %q", got)
	}

	buf.Reset()
	sh.handle(ctx, ":bogus")
	if !strings.Contains(buf.String(), "Unknown command") {
		t.Errorf("output = %q", buf.String())
	}

	if !sh.handle(ctx, ":quit") {
		t.Error(":quit should end the shell")
	}
}

func TestShellRunEmptyShowsError(t *testing.T) {
	sh, buf := newTestShell(t, "http://127.0.0.1:1")
	sh.handle(context.Background(), ":lang html_css_js")
	for _, p := range []string{"html", "css", "js"} {
		sh.handle(context.Background(), ":part "+p)
		sh.handle(context.Background(), " ")
	}
	sh.handle(context.Background(), ":run")
	if !strings.Contains(buf.String(), "Error: source code is empty") {
		t.Errorf("output = %q", buf.String())
	}
}

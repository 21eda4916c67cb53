package server

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/michaelbrown/codepad/internal/config"
	"github.com/michaelbrown/codepad/internal/dispatch"
	"github.com/michaelbrown/codepad/internal/judge0"
	"github.com/michaelbrown/codepad/internal/language"
	"github.com/michaelbrown/codepad/internal/metrics"
	"github.com/michaelbrown/codepad/internal/preview"
	"github.com/michaelbrown/codepad/internal/session"
	"github.com/michaelbrown/codepad/internal/storage"
	"github.com/michaelbrown/codepad/internal/storage/sqlite"
)

// fakeJudge0 accepts every submission and answers every fetch with stdout.
func fakeJudge0(t *testing.T, stdout string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			w.WriteHeader(http.StatusCreated)
			w.Write([]byte(`{"token":"tok"}`))
			return
		}
		json.NewEncoder(w).Encode(map[string]any{
			"stdout": stdout,
			"status": map[string]any{"id": 3, "description": "Accepted"},
		})
	}))
	t.Cleanup(srv.Close)
	return srv
}

type testOpts struct {
	noStore   bool
	rateLimit float64
	rateBurst int
	// judge replaces the default Judge0 fake when set.
	judge http.Handler
}

func testServer(t *testing.T, opts testOpts) *Server {
	t.Helper()

	var judge *httptest.Server
	if opts.judge != nil {
		judge = httptest.NewServer(opts.judge)
		t.Cleanup(judge.Close)
	} else {
		judge = fakeJudge0(t, "5\n")
	}
	client, err := judge0.NewClient(judge0.Config{BaseURL: judge.URL})
	if err != nil {
		t.Fatal(err)
	}

	reg := prometheus.NewRegistry()
	langs := language.NewRegistry(language.Default())
	previews := preview.NewMemoryStore(time.Minute, 16)
	d := dispatch.New(langs, client, previews,
		dispatch.Config{PollInterval: time.Millisecond, MaxAttempts: 5},
		nil, metrics.New(reg))

	var store storage.Store
	if !opts.noStore {
		db, err := sqlite.Open(":memory:")
		if err != nil {
			t.Fatal(err)
		}
		t.Cleanup(func() { db.Close() })
		store = db
	}

	cfg := &config.Config{Server: config.ServerConfig{
		RateLimit: opts.rateLimit,
		RateBurst: opts.rateBurst,
	}}
	s := New(Deps{
		Config:     cfg,
		Languages:  langs,
		Dispatcher: d,
		Previews:   previews,
		Store:      store,
		Gatherer:   reg,
	})
	t.Cleanup(s.sessions.CloseAll)
	return s
}

func do(t *testing.T, s *Server, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatal(err)
		}
		r = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, r)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rec.Body.Bytes(), &v); err != nil {
		t.Fatalf("decoding %q: %v", rec.Body.String(), err)
	}
	return v
}

func createSession(t *testing.T, s *Server) session.Snapshot {
	t.Helper()
	rec := do(t, s, http.MethodPost, "/api/sessions", nil)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create session: %d %s", rec.Code, rec.Body)
	}
	return decode[session.Snapshot](t, rec)
}

func TestHealth(t *testing.T) {
	s := testServer(t, testOpts{})
	rec := do(t, s, http.MethodGet, "/healthz", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestListLanguages(t *testing.T) {
	s := testServer(t, testOpts{})
	rec := do(t, s, http.MethodGet, "/api/languages", nil)
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("content type = %q", ct)
	}

	langs := decode[[]languageInfo](t, rec)
	if len(langs) != len(language.Builtin) {
		t.Fatalf("got %d languages, want %d", len(langs), len(language.Builtin))
	}
	first := langs[0]
	if first.Key != language.LocalRender || !first.Local || first.Remote || first.EditorMode != "html" {
		t.Errorf("first language = %+v", first)
	}
}

func TestSessionLifecycle(t *testing.T) {
	s := testServer(t, testOpts{})
	snap := createSession(t, s)
	if snap.Language != "python" || snap.Theme != session.ThemeDark {
		t.Fatalf("new session = %+v", snap)
	}
	base := "/api/sessions/" + snap.ID

	rec := do(t, s, http.MethodPut, base+"/language", map[string]string{"language": "go"})
	if rec.Code != http.StatusOK {
		t.Fatalf("set language: %d %s", rec.Code, rec.Body)
	}
	want, _, _ := language.Default().Boilerplate("go")
	if got := decode[session.Snapshot](t, rec); got.Source != want {
		t.Errorf("source = %q, want go boilerplate", got.Source)
	}

	rec = do(t, s, http.MethodPut, base+"/source", map[string]string{"part": "source", "text": "package main"})
	if got := decode[session.Snapshot](t, rec); got.Source != "package main" {
		t.Errorf("source after edit = %q", got.Source)
	}

	rec = do(t, s, http.MethodPatch, base, map[string]string{"theme": "light", "output_position": "bottom", "stdin": "3"})
	got := decode[session.Snapshot](t, rec)
	if got.Theme != session.ThemeLight || got.OutputPosition != session.OutputBottom || got.Stdin != "3" {
		t.Errorf("after patch = %+v", got)
	}

	if rec := do(t, s, http.MethodDelete, base, nil); rec.Code != http.StatusNoContent {
		t.Fatalf("delete: %d", rec.Code)
	}
	if rec := do(t, s, http.MethodGet, base, nil); rec.Code != http.StatusNotFound {
		t.Errorf("get after delete: %d", rec.Code)
	}
}

func TestSessionBadRequests(t *testing.T) {
	s := testServer(t, testOpts{})
	base := "/api/sessions/" + createSession(t, s).ID

	tests := []struct {
		name   string
		method string
		path   string
		body   any
	}{
		{"unknown language", http.MethodPut, base + "/language", map[string]string{"language": "cobol"}},
		{"wrong part", http.MethodPut, base + "/source", map[string]string{"part": "css", "text": "x"}},
		{"bad theme", http.MethodPatch, base, map[string]string{"theme": "sepia"}},
		{"bad position", http.MethodPatch, base, map[string]string{"output_position": "left"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if rec := do(t, s, tt.method, tt.path, tt.body); rec.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", rec.Code)
			}
		})
	}

	if rec := do(t, s, http.MethodGet, "/api/sessions/missing", nil); rec.Code != http.StatusNotFound {
		t.Errorf("missing session status = %d", rec.Code)
	}
}

func TestRunSession(t *testing.T) {
	s := testServer(t, testOpts{})
	base := "/api/sessions/" + createSession(t, s).ID
	do(t, s, http.MethodPut, base+"/source", map[string]string{"text": "print(2 + 3)"})

	rec := do(t, s, http.MethodPost, base+"/run", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("run: %d %s", rec.Code, rec.Body)
	}
	resp := decode[runResponse](t, rec)
	if !resp.Applied || resp.Output.Kind != dispatch.OutputText || resp.Output.Text != "5\n" {
		t.Errorf("run response = %+v %+v", resp, resp.Output)
	}

	snap := decode[session.Snapshot](t, do(t, s, http.MethodGet, base, nil))
	if snap.Output == nil || snap.Output.Text != "5\n" {
		t.Errorf("session output = %+v", snap.Output)
	}
}

func TestRunEmptySourceIsErrorPanel(t *testing.T) {
	s := testServer(t, testOpts{})
	base := "/api/sessions/" + createSession(t, s).ID
	do(t, s, http.MethodPut, base+"/source", map[string]string{"text": "  \n"})

	rec := do(t, s, http.MethodPost, base+"/run", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	out := decode[runResponse](t, rec).Output
	if out.Kind != dispatch.OutputError || out.ErrorKind != dispatch.KindEmptyInput {
		t.Errorf("output = %+v", out)
	}
}

func TestStatelessLocalRunAndPreview(t *testing.T) {
	s := testServer(t, testOpts{})

	rec := do(t, s, http.MethodPost, "/api/run", map[string]any{
		"language": language.LocalRender,
		"parts":    map[string]string{"html": "<h1>hi</h1>", "js": "console.log(1)"},
	})
	out := decode[runResponse](t, rec).Output
	if out.Kind != dispatch.OutputMarkup || out.PreviewURL == "" {
		t.Fatalf("output = %+v", out)
	}

	rec = do(t, s, http.MethodGet, out.PreviewURL, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("preview: %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/html") {
		t.Errorf("preview content type = %q", ct)
	}
	if !strings.Contains(rec.Body.String(), "<script>console.log(1)</script>") {
		t.Errorf("preview body = %s", rec.Body)
	}

	if rec := do(t, s, http.MethodGet, "/preview/nope", nil); rec.Code != http.StatusNotFound {
		t.Errorf("missing preview status = %d", rec.Code)
	}
}

func TestSnippets(t *testing.T) {
	s := testServer(t, testOpts{})
	base := "/api/sessions/" + createSession(t, s).ID
	do(t, s, http.MethodPut, base+"/source", map[string]string{"text": "print('saved')"})

	rec := do(t, s, http.MethodPost, "/api/snippets", map[string]string{"session_id": strings.TrimPrefix(base, "/api/sessions/")})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create snippet: %d %s", rec.Code, rec.Body)
	}
	sn := decode[storage.Snippet](t, rec)
	if sn.Language != "python" || sn.Source != "print('saved')" || sn.Title != "print('saved')" {
		t.Errorf("snippet = %+v", sn)
	}

	list := decode[[]storage.Snippet](t, do(t, s, http.MethodGet, "/api/snippets?language=python", nil))
	if len(list) != 1 {
		t.Errorf("list has %d snippets", len(list))
	}

	rec = do(t, s, http.MethodGet, "/api/snippets/"+sn.ID[:8], nil)
	if rec.Code != http.StatusOK {
		t.Errorf("get by prefix: %d", rec.Code)
	}

	rec = do(t, s, http.MethodGet, "/api/snippets/"+sn.ID+"/export?format=md", nil)
	if !strings.HasPrefix(rec.Header().Get("Content-Type"), "text/markdown") {
		t.Errorf("export content type = %q", rec.Header().Get("Content-Type"))
	}
	if !strings.Contains(rec.Body.String(), "```python\nprint('saved')\n```") {
		t.Errorf("markdown export = %s", rec.Body)
	}

	rec = do(t, s, http.MethodGet, "/api/snippets/"+sn.ID+"/export?format=json", nil)
	if !strings.Contains(rec.Body.String(), `"snippet"`) {
		t.Errorf("json export = %s", rec.Body)
	}

	if rec := do(t, s, http.MethodGet, "/api/snippets/"+sn.ID+"/export?format=pdf", nil); rec.Code != http.StatusBadRequest {
		t.Errorf("unknown format status = %d", rec.Code)
	}

	if rec := do(t, s, http.MethodDelete, "/api/snippets/"+sn.ID, nil); rec.Code != http.StatusNoContent {
		t.Errorf("delete: %d", rec.Code)
	}
	if rec := do(t, s, http.MethodGet, "/api/snippets/"+sn.ID, nil); rec.Code != http.StatusNotFound {
		t.Errorf("get after delete: %d", rec.Code)
	}
}

func TestCreateSnippetFromBody(t *testing.T) {
	s := testServer(t, testOpts{})

	rec := do(t, s, http.MethodPost, "/api/snippets", map[string]any{
		"language": language.LocalRender,
		"source":   "dropped",
		"parts":    map[string]string{"html": "<p>page</p>"},
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create: %d %s", rec.Code, rec.Body)
	}
	sn := decode[storage.Snippet](t, rec)
	if sn.Source != "" || sn.Parts.HTML != "<p>page</p>" {
		t.Errorf("snippet = %+v", sn)
	}

	rec = do(t, s, http.MethodPost, "/api/snippets", map[string]string{"language": "cobol"})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("unknown language status = %d", rec.Code)
	}
}

func TestSnippetsWithoutStore(t *testing.T) {
	s := testServer(t, testOpts{noStore: true})
	if rec := do(t, s, http.MethodGet, "/api/snippets", nil); rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", rec.Code)
	}
}

func TestRunRateLimit(t *testing.T) {
	s := testServer(t, testOpts{rateLimit: 0.001, rateBurst: 1})
	body := map[string]any{"language": "python", "source": "print(1)"}

	if rec := do(t, s, http.MethodPost, "/api/run", body); rec.Code != http.StatusOK {
		t.Fatalf("first run: %d", rec.Code)
	}
	if rec := do(t, s, http.MethodPost, "/api/run", body); rec.Code != http.StatusTooManyRequests {
		t.Errorf("second run: %d, want 429", rec.Code)
	}
	if rec := do(t, s, http.MethodGet, "/api/languages", nil); rec.Code != http.StatusOK {
		t.Errorf("non-run route limited: %d", rec.Code)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	s := testServer(t, testOpts{})
	do(t, s, http.MethodPost, "/api/run", map[string]any{"language": "python", "source": "print(1)"})

	rec := do(t, s, http.MethodGet, "/metrics", nil)
	if !strings.Contains(rec.Body.String(), `codepad_runs_total{language="python",outcome="done"} 1`) {
		t.Errorf("metrics missing run counter:\n%s", rec.Body)
	}
}

func TestSPAFallback(t *testing.T) {
	s := testServer(t, testOpts{})
	for _, path := range []string{"/", "/s/abc"} {
		rec := do(t, s, http.MethodGet, path, nil)
		if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "<title>codepad</title>") {
			t.Errorf("GET %s: %d", path, rec.Code)
		}
	}
	rec := do(t, s, http.MethodGet, "/app.js", nil)
	if rec.Code != http.StatusOK || strings.Contains(rec.Body.String(), "<title>") {
		t.Errorf("GET /app.js did not serve the script")
	}
}

func TestWebSocketRun(t *testing.T) {
	s := testServer(t, testOpts{})
	snap := createSession(t, s)
	do(t, s, http.MethodPut, "/api/sessions/"+snap.ID+"/source", map[string]string{"text": "print(5)"})

	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/sessions/" + snap.ID + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	if err := conn.WriteJSON(wsIncoming{Type: "run"}); err != nil {
		t.Fatal(err)
	}

	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var states []dispatch.State
	for {
		var msg wsOutgoing
		if err := conn.ReadJSON(&msg); err != nil {
			t.Fatalf("read: %v (states so far %v)", err, states)
		}
		if msg.Type == "state" {
			states = append(states, msg.State)
			continue
		}
		if msg.Type != "done" {
			t.Fatalf("got %q message: %+v", msg.Type, msg)
		}
		if msg.Output.Text != "5\n" {
			t.Errorf("output = %+v", msg.Output)
		}
		break
	}
	if len(states) == 0 || states[len(states)-1] != dispatch.StateDone {
		t.Errorf("states = %v", states)
	}
}

func dialSession(t *testing.T, s *Server, id string) *websocket.Conn {
	t.Helper()
	srv := httptest.NewServer(s.Handler())
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/sessions/" + id + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	return conn
}

// readUntil reads messages until one of type typ arrives and returns it.
func readUntil(t *testing.T, conn *websocket.Conn, typ string) wsOutgoing {
	t.Helper()
	for {
		var msg wsOutgoing
		if err := conn.ReadJSON(&msg); err != nil {
			t.Fatalf("read while waiting for %q: %v", typ, err)
		}
		if msg.Type == typ {
			return msg
		}
		if msg.Type != "state" {
			t.Fatalf("got %q message while waiting for %q: %+v", msg.Type, typ, msg)
		}
	}
}

func TestWebSocketOvertakenRunIsStale(t *testing.T) {
	release := make(chan struct{})
	var submits atomic.Int32
	judge := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			n := submits.Add(1)
			w.WriteHeader(http.StatusCreated)
			fmt.Fprintf(w, `{"token":"tok-%d"}`, n)
			return
		}
		// The first run's result is held back until the test lets it go.
		if strings.HasSuffix(r.URL.Path, "/tok-1") {
			select {
			case <-release:
			case <-r.Context().Done():
				return
			}
		}
		json.NewEncoder(w).Encode(map[string]any{
			"stdout": strings.TrimPrefix(r.URL.Path, "/submissions/"),
			"status": map[string]any{"id": 3, "description": "Accepted"},
		})
	})
	s := testServer(t, testOpts{judge: judge})
	releaseOnce := sync.OnceFunc(func() { close(release) })
	t.Cleanup(releaseOnce)

	snap := createSession(t, s)
	do(t, s, http.MethodPut, "/api/sessions/"+snap.ID+"/source", map[string]string{"text": "print(5)"})
	conn := dialSession(t, s, snap.ID)

	if err := conn.WriteJSON(wsIncoming{Type: "run"}); err != nil {
		t.Fatal(err)
	}
	readUntil(t, conn, "state")

	if err := conn.WriteJSON(wsIncoming{Type: "run"}); err != nil {
		t.Fatal(err)
	}
	done := readUntil(t, conn, "done")
	if done.Generation != 2 || done.Output.Text != "tok-2" {
		t.Errorf("second run = %+v, want generation 2 with tok-2 output", done)
	}

	releaseOnce()
	stale := readUntil(t, conn, "stale")
	if stale.Generation != 1 {
		t.Errorf("stale generation = %d, want 1", stale.Generation)
	}
	sess, ok := s.sessions.Get(snap.ID)
	if !ok {
		t.Fatal("session missing")
	}
	if text := sess.Snapshot().Output.Text; text != "tok-2" {
		t.Errorf("session output = %q, want the newer run's", text)
	}
}

func TestWebSocketExpiredSessionCloses(t *testing.T) {
	s := testServer(t, testOpts{})
	snap := createSession(t, s)
	conn := dialSession(t, s, snap.ID)

	if n := s.sessions.Expire(-1); n != 1 {
		t.Fatalf("expired %d sessions, want 1", n)
	}
	if err := conn.WriteJSON(wsIncoming{Type: "run"}); err != nil {
		t.Fatal(err)
	}

	var msg wsOutgoing
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("read: %v", err)
	}
	if msg.Type != "error" || msg.Content != "session not found" {
		t.Errorf("message = %+v", msg)
	}
	_, _, err := conn.ReadMessage()
	if !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
		t.Errorf("err = %v, want normal close", err)
	}
}

func TestWebSocketRunKeepsSessionAlive(t *testing.T) {
	s := testServer(t, testOpts{})
	snap := createSession(t, s)
	do(t, s, http.MethodPut, "/api/sessions/"+snap.ID+"/source", map[string]string{"text": "print(5)"})
	conn := dialSession(t, s, snap.ID)

	time.Sleep(200 * time.Millisecond)
	if err := conn.WriteJSON(wsIncoming{Type: "run"}); err != nil {
		t.Fatal(err)
	}
	readUntil(t, conn, "done")

	if n := s.sessions.Expire(100 * time.Millisecond); n != 0 {
		t.Fatalf("expired %d sessions after a websocket run, want 0", n)
	}
	if _, ok := s.sessions.Get(snap.ID); !ok {
		t.Error("session was removed")
	}
}

func TestWebSocketUnknownSession(t *testing.T) {
	s := testServer(t, testOpts{})
	rec := do(t, s, http.MethodGet, "/api/sessions/nope/ws", nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d", rec.Code)
	}
}

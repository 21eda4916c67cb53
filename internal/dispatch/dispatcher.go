// Package dispatch runs playground code: locally rendered documents for the
// HTML/CSS/JS language, and submit-then-poll jobs on the remote executor for
// everything else.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/michaelbrown/codepad/internal/judge0"
	"github.com/michaelbrown/codepad/internal/language"
	"github.com/michaelbrown/codepad/internal/metrics"
	"github.com/michaelbrown/codepad/internal/preview"
)

// NoOutput is shown when a finished run printed nothing.
const NoOutput = "No output."

const (
	defaultPollInterval = 2 * time.Second
	defaultMaxAttempts  = 5
	defaultPreviewBase  = "/preview/"
)

// State is a step of a run.
type State string

const (
	StateIdle       State = "idle"
	StateRendering  State = "rendering"
	StateSubmitting State = "submitting"
	StatePolling    State = "polling"
	StateDone       State = "done"
	StateFailed     State = "failed"
)

// StateFunc observes state transitions. attempt is set while polling.
type StateFunc func(s State, attempt int)

// Remote is the execution service the dispatcher submits jobs to.
type Remote interface {
	Submit(ctx context.Context, s judge0.Submission) (string, error)
	Get(ctx context.Context, token string) (*judge0.Result, error)
}

// Languages provides the current language table.
type Languages interface {
	Table() *language.Table
}

// Request is a single run.
type Request struct {
	LanguageID string         `json:"language"`
	Source     string         `json:"source"`
	Parts      language.Parts `json:"parts"`
	Stdin      string         `json:"stdin"`

	OnState StateFunc `json:"-"`
}

// OutputKind says how the output should be displayed.
type OutputKind string

const (
	OutputMarkup OutputKind = "markup"
	OutputText   OutputKind = "text"
	OutputError  OutputKind = "error"
)

// Output is what the output pane shows after a run.
type Output struct {
	Kind       OutputKind `json:"kind"`
	Text       string     `json:"text,omitempty"`
	ErrorKind  ErrorKind  `json:"error_kind,omitempty"`
	PreviewID  string     `json:"preview_id,omitempty"`
	PreviewURL string     `json:"preview_url,omitempty"`
	DataURL    string     `json:"data_url,omitempty"`
	Status     string     `json:"status,omitempty"`
	Time       string     `json:"time,omitempty"`
	Memory     int        `json:"memory,omitempty"`
	Attempts   int        `json:"attempts,omitempty"`
}

// ErrorOutput converts err into an error panel.
func ErrorOutput(err error) *Output {
	return &Output{
		Kind:      OutputError,
		Text:      FormatError(err),
		ErrorKind: Kind(err),
	}
}

// Config tunes the dispatcher.
type Config struct {
	PollInterval time.Duration
	MaxAttempts  int
	PreviewBase  string // URL prefix previews are served under
	Minify       bool
}

// Dispatcher is the execution dispatcher shared by all sessions.
type Dispatcher struct {
	langs    Languages
	remote   Remote
	previews preview.Store
	minifier *preview.Minifier
	cfg      Config
	log      *zap.Logger
	metrics  *metrics.Recorder
}

// New creates a Dispatcher. remote may be nil when no executor is
// configured; remote runs then fail with a SubmissionError.
func New(langs Languages, remote Remote, previews preview.Store, cfg Config, log *zap.Logger, rec *metrics.Recorder) *Dispatcher {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaultPollInterval
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = defaultMaxAttempts
	}
	if cfg.PreviewBase == "" {
		cfg.PreviewBase = defaultPreviewBase
	}
	if log == nil {
		log = zap.NewNop()
	}
	d := &Dispatcher{
		langs:    langs,
		remote:   remote,
		previews: previews,
		cfg:      cfg,
		log:      log,
		metrics:  rec,
	}
	if cfg.Minify {
		d.minifier = preview.NewMinifier()
	}
	return d
}

// Run executes req and returns what the output pane should show.
func (d *Dispatcher) Run(ctx context.Context, req Request) (*Output, error) {
	start := time.Now()
	notify := req.OnState
	if notify == nil {
		notify = func(State, int) {}
	}
	notify(StateIdle, 0)

	out, err := d.run(ctx, req, notify)

	outcome := string(StateDone)
	if err != nil {
		outcome = string(Kind(err))
		notify(StateFailed, 0)
		d.log.Warn("run failed",
			zap.String("language", req.LanguageID),
			zap.String("kind", outcome),
			zap.Error(err))
	} else {
		notify(StateDone, 0)
		d.log.Info("run finished",
			zap.String("language", req.LanguageID),
			zap.String("kind", string(out.Kind)),
			zap.Int("attempts", out.Attempts),
			zap.Duration("elapsed", time.Since(start)))
	}
	d.metrics.Run(req.LanguageID, outcome, time.Since(start).Seconds())
	return out, err
}

func (d *Dispatcher) run(ctx context.Context, req Request, notify StateFunc) (*Output, error) {
	if req.LanguageID == language.LocalRender {
		if isBlank(req.Parts.HTML) && isBlank(req.Parts.CSS) && isBlank(req.Parts.JS) {
			return nil, ErrEmptyInput
		}
		notify(StateRendering, 0)
		return d.render(ctx, req.Parts)
	}

	if isBlank(req.Source) {
		return nil, ErrEmptyInput
	}

	executorID, ok := d.langs.Table().ExecutorID(req.LanguageID)
	if !ok {
		return nil, &UnsupportedLanguageError{Language: req.LanguageID}
	}
	if d.remote == nil {
		return nil, &SubmissionError{Err: errors.New("no remote executor configured")}
	}

	notify(StateSubmitting, 0)
	token, err := d.submit(ctx, judge0.Submission{
		SourceCode: req.Source,
		LanguageID: executorID,
		Stdin:      req.Stdin,
	})
	if err != nil {
		return nil, err
	}

	result, attempts, err := d.poll(ctx, token, notify)
	d.metrics.PollAttempts(attempts)
	if err != nil {
		return nil, err
	}

	out := &Output{
		Kind:     OutputText,
		Text:     resultText(result),
		Time:     result.Time,
		Memory:   result.Memory,
		Attempts: attempts,
	}
	if result.Status != nil {
		out.Status = result.Status.Description
	}
	return out, nil
}

func (d *Dispatcher) render(ctx context.Context, parts language.Parts) (*Output, error) {
	doc := preview.Build(parts)
	if d.minifier != nil {
		if small, err := d.minifier.Minify(doc); err == nil {
			doc = small
		} else {
			d.log.Debug("preview left unminified", zap.Error(err))
		}
	}

	out := &Output{
		Kind:    OutputMarkup,
		DataURL: doc.DataURL(),
	}
	if d.previews != nil {
		id, err := d.previews.Put(ctx, doc)
		if err != nil {
			return nil, fmt.Errorf("storing preview: %w", err)
		}
		out.PreviewID = id
		out.PreviewURL = d.cfg.PreviewBase + id
	}
	return out, nil
}

func (d *Dispatcher) submit(ctx context.Context, s judge0.Submission) (string, error) {
	token, err := d.remote.Submit(ctx, s)
	if err != nil {
		if ctx.Err() != nil {
			return "", fmt.Errorf("submitting: %w", ctx.Err())
		}
		var apiErr *judge0.APIError
		if errors.As(err, &apiErr) {
			return "", &SubmissionError{StatusCode: apiErr.StatusCode, Body: apiErr.Body, Err: err}
		}
		return "", &SubmissionError{Err: err}
	}
	if token == "" {
		return "", &SubmissionError{Err: errors.New("failed to retrieve submission token")}
	}
	return token, nil
}

// poll fetches the result for token until it is finished or the attempt
// budget is spent. Failed fetches and pending results are both retried.
func (d *Dispatcher) poll(ctx context.Context, token string, notify StateFunc) (*judge0.Result, int, error) {
	var last error
	for attempt := 1; attempt <= d.cfg.MaxAttempts; attempt++ {
		if err := sleep(ctx, d.cfg.PollInterval); err != nil {
			return nil, attempt - 1, fmt.Errorf("waiting for result: %w", err)
		}
		notify(StatePolling, attempt)

		result, err := d.remote.Get(ctx, token)
		if err != nil {
			if ctx.Err() != nil {
				return nil, attempt, fmt.Errorf("waiting for result: %w", ctx.Err())
			}
			fetchErr := &ResultFetchError{Attempt: attempt, Err: err}
			var apiErr *judge0.APIError
			if errors.As(err, &apiErr) {
				fetchErr.StatusCode = apiErr.StatusCode
				fetchErr.Body = apiErr.Body
			}
			if errors.Is(err, judge0.ErrMalformedResponse) {
				return nil, attempt, fetchErr
			}
			d.log.Debug("result fetch failed",
				zap.String("token", token),
				zap.Int("attempt", attempt),
				zap.Error(err))
			last = fetchErr
			continue
		}

		if result.Pending() {
			d.log.Debug("submission pending",
				zap.String("token", token),
				zap.Int("attempt", attempt),
				zap.String("status", result.Status.Description))
			last = nil
			continue
		}
		return result, attempt, nil
	}
	return nil, d.cfg.MaxAttempts, &PollTimeoutError{Attempts: d.cfg.MaxAttempts, Last: last}
}

func resultText(r *judge0.Result) string {
	for _, s := range []*string{r.Stdout, r.Stderr, r.CompileOutput, r.Message} {
		if s != nil && *s != "" {
			return *s
		}
	}
	return NoOutput
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func isBlank(s string) bool {
	return strings.TrimSpace(s) == ""
}

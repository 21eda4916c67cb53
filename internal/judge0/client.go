// Package judge0 is a small client for the Judge0 remote execution API,
// as exposed directly or through RapidAPI.
package judge0

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const maxErrorBody = 512

// ErrMalformedResponse wraps 2xx responses whose body could not be decoded.
var ErrMalformedResponse = errors.New("malformed response")

// Judge0 status ids that mean the submission has not finished yet.
const (
	StatusInQueue    = 1
	StatusProcessing = 2
)

// StatusAccepted is the finished status of a run that exited normally.
const StatusAccepted = 3

// Config holds the endpoint and credentials of a Judge0 deployment.
type Config struct {
	BaseURL        string
	Host           string // sent as X-RapidAPI-Host when set
	APIKey         string // sent as X-RapidAPI-Key when set
	RequestTimeout time.Duration
}

// Submission is the body of a create-submission request.
type Submission struct {
	SourceCode string `json:"source_code"`
	LanguageID int    `json:"language_id"`
	Stdin      string `json:"stdin"`
}

// Status is the execution state reported by Judge0.
type Status struct {
	ID          int    `json:"id"`
	Description string `json:"description"`
}

// Result is the subset of a Judge0 submission the playground displays.
type Result struct {
	Token         string  `json:"token"`
	Stdout        *string `json:"stdout"`
	Stderr        *string `json:"stderr"`
	CompileOutput *string `json:"compile_output"`
	Message       *string `json:"message"`
	Status        *Status `json:"status"`
	Time          string  `json:"time"`
	Memory        int     `json:"memory"`
}

// Pending reports whether the result describes a submission that is still
// queued or running. A result without a status is treated as finished.
func (r *Result) Pending() bool {
	return r.Status != nil && (r.Status.ID == StatusInQueue || r.Status.ID == StatusProcessing)
}

// RemoteLanguage is an entry of the remote /languages listing.
type RemoteLanguage struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
}

// APIError is returned for non-2xx responses.
type APIError struct {
	Op         string
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("%s: judge0 returned %d", e.Op, e.StatusCode)
	}
	return fmt.Sprintf("%s: judge0 returned %d: %s", e.Op, e.StatusCode, e.Body)
}

// Client talks to a Judge0 deployment.
type Client struct {
	cfg  Config
	base *url.URL
	http *http.Client
}

// NewClient validates cfg and returns a Client.
func NewClient(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("judge0 base url is required")
	}
	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parsing judge0 base url: %w", err)
	}
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		cfg:  cfg,
		base: base,
		http: &http.Client{Timeout: timeout},
	}, nil
}

// Submit creates a submission and returns its token.
func (c *Client) Submit(ctx context.Context, s Submission) (string, error) {
	body, err := json.Marshal(s)
	if err != nil {
		return "", fmt.Errorf("marshaling submission: %w", err)
	}

	var out struct {
		Token string `json:"token"`
	}
	if err := c.do(ctx, "create submission", http.MethodPost, "/submissions", url.Values{"wait": {"false"}}, bytes.NewReader(body), &out); err != nil {
		return "", err
	}
	return out.Token, nil
}

// Get fetches the current state of a submission.
func (c *Client) Get(ctx context.Context, token string) (*Result, error) {
	var r Result
	if err := c.do(ctx, "fetch result", http.MethodGet, "/submissions/"+url.PathEscape(token), nil, nil, &r); err != nil {
		return nil, err
	}
	return &r, nil
}

// Languages lists the languages the remote deployment supports.
func (c *Client) Languages(ctx context.Context) ([]RemoteLanguage, error) {
	var langs []RemoteLanguage
	if err := c.do(ctx, "list languages", http.MethodGet, "/languages", nil, nil, &langs); err != nil {
		return nil, err
	}
	return langs, nil
}

func (c *Client) endpoint(path string, params url.Values) string {
	u := *c.base
	u.Path = c.base.Path + path
	q := u.Query()
	for k, v := range params {
		q[k] = v
	}
	q.Set("base64_encoded", "false")
	u.RawQuery = q.Encode()
	return u.String()
}

func (c *Client) do(ctx context.Context, op, method, path string, params url.Values, body io.Reader, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, c.endpoint(path, params), body)
	if err != nil {
		return fmt.Errorf("%s: creating request: %w", op, err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.cfg.Host != "" {
		req.Header.Set("X-RapidAPI-Host", c.cfg.Host)
	}
	if c.cfg.APIKey != "" {
		req.Header.Set("X-RapidAPI-Key", c.cfg.APIKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &APIError{Op: op, StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(data))}
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%s: %w: %v", op, ErrMalformedResponse, err)
	}
	return nil
}

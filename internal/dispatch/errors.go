package dispatch

import (
	"errors"
	"fmt"
)

// ErrEmptyInput is returned when there is nothing to run.
var ErrEmptyInput = errors.New("source code is empty")

// ErrorKind classifies run failures for API clients and metrics.
type ErrorKind string

const (
	KindEmptyInput          ErrorKind = "empty_input"
	KindUnsupportedLanguage ErrorKind = "unsupported_language"
	KindSubmission          ErrorKind = "submission"
	KindResultFetch         ErrorKind = "result_fetch"
	KindPollTimeout         ErrorKind = "poll_timeout"
	KindInternal            ErrorKind = "internal"
)

// UnsupportedLanguageError is returned for languages without a remote
// executor id.
type UnsupportedLanguageError struct {
	Language string
}

func (e *UnsupportedLanguageError) Error() string {
	return fmt.Sprintf("unsupported language %q", e.Language)
}

// SubmissionError is returned when the remote service rejects a job or
// answers without a token.
type SubmissionError struct {
	StatusCode int
	Body       string
	Err        error
}

func (e *SubmissionError) Error() string {
	switch {
	case e.StatusCode != 0 && e.Body != "":
		return fmt.Sprintf("error creating submission: %d: %s", e.StatusCode, e.Body)
	case e.StatusCode != 0:
		return fmt.Sprintf("error creating submission: %d", e.StatusCode)
	case e.Err != nil:
		return fmt.Sprintf("error creating submission: %v", e.Err)
	}
	return "error creating submission"
}

func (e *SubmissionError) Unwrap() error { return e.Err }

// ResultFetchError describes one failed result request.
type ResultFetchError struct {
	Attempt    int
	StatusCode int
	Body       string
	Err        error
}

func (e *ResultFetchError) Error() string {
	switch {
	case e.StatusCode != 0 && e.Body != "":
		return fmt.Sprintf("error fetching result (attempt %d): %d: %s", e.Attempt, e.StatusCode, e.Body)
	case e.StatusCode != 0:
		return fmt.Sprintf("error fetching result (attempt %d): %d", e.Attempt, e.StatusCode)
	case e.Err != nil:
		return fmt.Sprintf("error fetching result (attempt %d): %v", e.Attempt, e.Err)
	}
	return fmt.Sprintf("error fetching result (attempt %d)", e.Attempt)
}

func (e *ResultFetchError) Unwrap() error { return e.Err }

// PollTimeoutError is returned when every poll attempt was used up without a
// finished result. Last holds the final fetch error, if the last attempt
// failed rather than reporting a pending submission.
type PollTimeoutError struct {
	Attempts int
	Last     error
}

func (e *PollTimeoutError) Error() string {
	if e.Last != nil {
		return fmt.Sprintf("no result after %d attempts: %v", e.Attempts, e.Last)
	}
	return fmt.Sprintf("no result after %d attempts: submission still running", e.Attempts)
}

func (e *PollTimeoutError) Unwrap() error { return e.Last }

// Kind classifies err. Unknown errors are KindInternal.
func Kind(err error) ErrorKind {
	var (
		unsupported *UnsupportedLanguageError
		submission  *SubmissionError
		fetch       *ResultFetchError
		timeout     *PollTimeoutError
	)
	// PollTimeoutError wraps a ResultFetchError, so it is checked first.
	switch {
	case errors.Is(err, ErrEmptyInput):
		return KindEmptyInput
	case errors.As(err, &unsupported):
		return KindUnsupportedLanguage
	case errors.As(err, &timeout):
		return KindPollTimeout
	case errors.As(err, &submission):
		return KindSubmission
	case errors.As(err, &fetch):
		return KindResultFetch
	}
	return KindInternal
}

// FormatError renders err as the text of the output error panel.
func FormatError(err error) string {
	return "Error: " + err.Error()
}

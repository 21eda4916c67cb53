package storage

import (
	"context"
	"errors"
	"time"

	"github.com/michaelbrown/codepad/internal/language"
)

// ErrNotFound is returned when no snippet matches an id or id prefix.
var ErrNotFound = errors.New("snippet not found")

// Snippet is an explicitly saved copy of an editor buffer.
type Snippet struct {
	ID        string         `json:"id"`
	Title     string         `json:"title"`
	Language  string         `json:"language"`
	Source    string         `json:"source,omitempty"`
	Parts     language.Parts `json:"parts"`
	Stdin     string         `json:"stdin,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// SnippetListOptions controls filtering and pagination for ListSnippets.
type SnippetListOptions struct {
	Language string
	Limit    int
	Offset   int
}

// Store is the persistence interface for snippets.
type Store interface {
	// CreateSnippet inserts a new snippet. The ID field must be set by the caller.
	CreateSnippet(ctx context.Context, s *Snippet) error

	// GetSnippet returns a snippet by ID or ID prefix.
	GetSnippet(ctx context.Context, id string) (*Snippet, error)

	// ListSnippets returns snippets ordered by updated_at descending.
	ListSnippets(ctx context.Context, opts SnippetListOptions) ([]Snippet, error)

	// UpdateSnippet updates the title, buffers and updated_at.
	UpdateSnippet(ctx context.Context, s *Snippet) error

	// DeleteSnippet removes a snippet by ID or ID prefix.
	DeleteSnippet(ctx context.Context, id string) error

	// Close releases resources.
	Close() error
}

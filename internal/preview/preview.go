// Package preview assembles the HTML/CSS/JS of the local-render language
// into a single document and keeps it addressable for the output frame.
//
// Parts are interpolated verbatim. The preview is a sandbox for the user's
// own markup and script, so nothing is escaped or sanitized.
package preview

import (
	"encoding/base64"
	"fmt"
	"regexp"

	"github.com/tdewolff/minify/v2"
	"github.com/tdewolff/minify/v2/css"
	"github.com/tdewolff/minify/v2/html"
	"github.com/tdewolff/minify/v2/js"

	"github.com/michaelbrown/codepad/internal/language"
)

const documentTemplate = `<html style="height: 100%%; width: 100%%;">
  <head>
    <style>%s</style>
  </head>
  <body>
    %s
    <script>%s</script>
  </body>
</html>`

// MediaType is the content type previews are served with.
const MediaType = "text/html"

// Document is an assembled preview page.
type Document struct {
	HTML string
}

// Build interpolates the parts into the preview document.
func Build(p language.Parts) Document {
	return Document{HTML: fmt.Sprintf(documentTemplate, p.CSS, p.HTML, p.JS)}
}

// DataURL returns a self-contained data: URL for the document.
func (d Document) DataURL() string {
	return "data:" + MediaType + ";charset=utf-8;base64," + base64.StdEncoding.EncodeToString([]byte(d.HTML))
}

// Minifier compacts preview documents before they are stored.
type Minifier struct {
	m *minify.M
}

// NewMinifier returns a minifier for HTML with inline CSS and JS.
func NewMinifier() *Minifier {
	m := minify.New()
	m.AddFunc("text/css", css.Minify)
	m.Add(MediaType, &html.Minifier{
		KeepDocumentTags: true,
		KeepEndTags:      true,
		KeepQuotes:       true,
	})
	m.AddFuncRegexp(regexp.MustCompile(`^(application|text)/(x-)?(java|ecma)script$`), js.Minify)
	return &Minifier{m: m}
}

// Minify returns a compacted copy of d. On failure the document is returned
// unchanged with the error, since the user's markup may simply be malformed.
func (mn *Minifier) Minify(d Document) (Document, error) {
	out, err := mn.m.String(MediaType, d.HTML)
	if err != nil {
		return d, fmt.Errorf("minifying preview: %w", err)
	}
	return Document{HTML: out}, nil
}

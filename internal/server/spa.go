package server

import (
	"io/fs"
	"net/http"
	"strings"

	"github.com/michaelbrown/codepad/web"
)

// spaHandler serves the embedded playground client. Unknown paths serve
// index.html so client-side links such as /s/{id} load the app.
func spaHandler() http.Handler {
	dist := web.Dist()
	fileServer := http.FileServer(http.FS(dist))

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := strings.TrimPrefix(r.URL.Path, "/")

		if path != "" {
			if _, err := fs.Stat(dist, path); err == nil {
				w.Header().Set("Cache-Control", "public, max-age=300")
				fileServer.ServeHTTP(w, r)
				return
			}
		}

		w.Header().Set("Cache-Control", "no-cache")
		r.URL.Path = "/"
		fileServer.ServeHTTP(w, r)
	})
}

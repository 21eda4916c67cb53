// Package web embeds the browser client.
package web

import (
	"embed"
	"io/fs"
)

//go:embed dist
var Assets embed.FS

// Dist returns the client files rooted at dist/.
func Dist() fs.FS {
	sub, err := fs.Sub(Assets, "dist")
	if err != nil {
		panic(err)
	}
	return sub
}

// Package webui embeds the browser chat page served next to the REST API.
package webui

import (
	"embed"
	"io/fs"
	"net/http"
)

//go:embed static/*
var staticFS embed.FS

// Static returns the embedded files rooted at static/.
func Static() fs.FS {
	sub, err := fs.Sub(staticFS, "static")
	if err != nil {
		panic(err)
	}
	return sub
}

// Handler serves the chat page and its assets.
func Handler() http.Handler {
	return http.FileServerFS(Static())
}

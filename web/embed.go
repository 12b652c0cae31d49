package web

import (
	"embed"
	"io/fs"
)

//go:embed index.html app.js styles.css
var assets embed.FS

// Files exposes the embedded dashboard assets, served at / and /assets/ by
// the API server.
func Files() fs.FS {
	return assets
}

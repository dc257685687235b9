// Package views holds the server-rendered pages of the blog and its static assets.
package views

import (
	"embed"
	"html/template"
	"io/fs"
	"net/http"
	"time"
	"unicode/utf8"
)

//go:embed templates/*.html
var templateFS embed.FS

//go:embed static
var staticFS embed.FS

// Page names accepted by gin's c.HTML.
const (
	Index = "index.html"
	New   = "new.html"
	Show  = "show.html"
	Edit  = "edit.html"
)

const excerptLen = 100

// Funcs are the helpers available to every page.
var Funcs = template.FuncMap{
	"excerpt": Excerpt,
	"date":    Date,
}

// Load parses all page templates.
func Load() (*template.Template, error) {
	return template.New("").Funcs(Funcs).ParseFS(templateFS, "templates/*.html")
}

// Static returns the embedded static assets rooted at the static directory.
func Static() http.FileSystem {
	sub, err := fs.Sub(staticFS, "static")
	if err != nil {
		panic(err)
	}
	return http.FS(sub)
}

// Excerpt returns the first 100 runes of s followed by an ellipsis when cut.
func Excerpt(s string) string {
	if utf8.RuneCountInString(s) <= excerptLen {
		return s
	}
	return string([]rune(s)[:excerptLen]) + "..."
}

// Date formats t like "Mon Jan 02 2006". The zero time renders empty.
func Date(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format("Mon Jan 02 2006")
}

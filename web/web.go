// Package web embeds the page templates and static assets.
package web

import (
	"embed"
	"fmt"
	"html/template"
	"io/fs"
	"net/http"
)

//go:embed templates/*.html
var templateFS embed.FS

//go:embed static
var staticFS embed.FS

// Pages lists every page template. Each one is parsed into its own set with
// the layout so their {{define "content"}} blocks do not collide.
var Pages = []string{
	"index.html",
	"login.html",
	"signup.html",
	"verify_email.html",
	"dashboard.html",
	"dcf.html",
	"profile.html",
	"password_reset.html",
	"password_update.html",
}

// Templates parses the per-page template sets, keyed by page file name.
func Templates() (map[string]*template.Template, error) {
	templates := make(map[string]*template.Template, len(Pages))
	for _, page := range Pages {
		tmpl, err := template.ParseFS(templateFS, "templates/layout.html", "templates/"+page)
		if err != nil {
			return nil, fmt.Errorf("parse %s: %w", page, err)
		}
		templates[page] = tmpl
	}
	return templates, nil
}

// MustTemplates is Templates for program start-up.
func MustTemplates() map[string]*template.Template {
	t, err := Templates()
	if err != nil {
		panic(err)
	}
	return t
}

// Static serves the embedded assets. Mount it under /static/ with the prefix
// stripped.
func Static() http.Handler {
	sub, err := fs.Sub(staticFS, "static")
	if err != nil {
		panic(err)
	}
	return http.FileServer(http.FS(sub))
}

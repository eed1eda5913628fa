package httpapi

import (
	"embed"
	"net/http"
)

//go:embed web
var webFS embed.FS

// RegisterUI serves the embedded single-page UI at the root path.
func RegisterUI(mux *http.ServeMux) {
	index, _ := webFS.ReadFile("web/index.html")
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write(index)
	})
}

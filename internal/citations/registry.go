package citations

import (
	"fmt"
	"strings"
)

// Annotation is one url-citation record attached to an agent message.
type Annotation struct {
	URL   string `json:"url"`
	Title string `json:"title,omitempty"`
}

// Registry is an ordered url->title mapping. Order follows the first
// appearance of each url, which drives the 1-based numbering in rendered
// reference lists.
type Registry struct {
	urls   []string
	titles map[string]string
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{titles: make(map[string]string)}
}

// ExtractCitations builds a registry from message annotations. A missing
// title falls back to the url. When the same url appears more than once the
// last-seen title wins but the url keeps its first-seen position.
func ExtractCitations(annotations []Annotation) *Registry {
	r := NewRegistry()
	for _, ann := range annotations {
		title := ann.Title
		if title == "" {
			title = ann.URL
		}
		r.Add(ann.URL, title)
	}
	return r
}

// Add records a citation. Known urls keep their position; their title is
// overwritten.
func (r *Registry) Add(url, title string) {
	if title == "" {
		title = url
	}
	if _, ok := r.titles[url]; !ok {
		r.urls = append(r.urls, url)
	}
	r.titles[url] = title
}

// Has reports whether url is already registered.
func (r *Registry) Has(url string) bool {
	_, ok := r.titles[url]
	return ok
}

// Len returns the number of distinct urls.
func (r *Registry) Len() int { return len(r.urls) }

// Citation is one entry of the registry in display order.
type Citation struct {
	Title string `json:"title"`
	URL   string `json:"url"`
}

// List returns all citations in insertion order.
func (r *Registry) List() []Citation {
	out := make([]Citation, 0, len(r.urls))
	for _, u := range r.urls {
		out = append(out, Citation{Title: r.titles[u], URL: u})
	}
	return out
}

// FormatForDisplay renders the registry as a numbered markdown list,
// one "i. [title](url)" line per citation.
func (r *Registry) FormatForDisplay() string {
	if r.Len() == 0 {
		return "No citations found."
	}
	var b strings.Builder
	for i, c := range r.List() {
		if i > 0 {
			b.WriteString("\n")
		}
		fmt.Fprintf(&b, "%d. [%s](%s)", i+1, c.Title, c.URL)
	}
	return b.String()
}

// Package rewrite maps captured pages to output files and turns internal
// anchors into relative links between those files.
package rewrite

import (
	"net/url"
	"path"
	"strings"
)

// OutputPath computes the file a page is written to:
//
//	"" or "/"        index.html
//	"/docs/"         docs/index.html
//	"/about"         about.html
//	"/blog/post.php" blog/post.php
//
// Query and fragment are ignored.
func OutputPath(rawURL string) string {
	p := rawURL
	if u, err := url.Parse(rawURL); err == nil {
		p = u.Path
	}
	if p == "" || p == "/" {
		return "index.html"
	}
	trailing := strings.HasSuffix(p, "/")
	clean := strings.TrimPrefix(path.Clean("/"+p), "/")
	if clean == "" {
		return "index.html"
	}
	switch {
	case trailing:
		return clean + "/index.html"
	case path.Ext(clean) == "":
		return clean + ".html"
	default:
		return clean
	}
}

// Relative returns the link from the page written at from to the file at to.
func Relative(from, to string) string {
	dir := path.Dir(from)
	var fromSegs []string
	if dir != "." && dir != "/" {
		fromSegs = strings.Split(strings.Trim(dir, "/"), "/")
	}
	toSegs := strings.Split(strings.Trim(to, "/"), "/")

	common := 0
	for common < len(fromSegs) && common < len(toSegs)-1 && fromSegs[common] == toSegs[common] {
		common++
	}
	var b strings.Builder
	for range len(fromSegs) - common {
		b.WriteString("../")
	}
	b.WriteString(strings.Join(toSegs[common:], "/"))
	return b.String()
}

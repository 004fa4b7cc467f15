package rewrite

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/JakeFAU/site-cloner/internal/cloner"
)

// Result carries the rewritten pages.
type Result struct {
	Pages     []cloner.SitePage
	Rewritten int
	Failures  []cloner.Failure
}

// Rewriter converts anchors that point inside the captured set into relative links.
type Rewriter struct {
	logger *zap.Logger
}

// New builds a Rewriter.
func New(logger *zap.Logger) *Rewriter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Rewriter{logger: logger}
}

// Rewrite assigns output paths to pages that lack one and rewrites their
// internal anchors. Links outside the set are left as authored. The input
// slice is not modified.
func (r *Rewriter) Rewrite(pages []cloner.SitePage, log cloner.ProgressLogger) Result {
	if log == nil {
		log = cloner.NopLogger{}
	}
	out := make([]cloner.SitePage, len(pages))
	copy(out, pages)
	for i := range out {
		if out[i].Path == "" {
			out[i].Path = OutputPath(out[i].URL)
		}
	}
	paths := buildPathMap(out)

	res := Result{Pages: out}
	for i := range out {
		n, err := r.rewritePage(&out[i], paths)
		if err != nil {
			r.logger.Warn("link rewrite failed", zap.String("url", out[i].URL), zap.Error(err))
			cloner.Logf(log, cloner.TagSubItem, "Could not rewrite links on %s", out[i].URL)
			res.Failures = append(res.Failures, cloner.NewFailure(cloner.StageRewrite, out[i].URL, err))
			continue
		}
		res.Rewritten += n
	}
	return res
}

func (r *Rewriter) rewritePage(page *cloner.SitePage, paths map[string]string) (int, error) {
	base, err := url.Parse(page.URL)
	if err != nil {
		return 0, fmt.Errorf("parse page url: %w", err)
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(page.HTML))
	if err != nil {
		return 0, fmt.Errorf("parse markup: %w", err)
	}
	rewritten := 0
	doc.Find("a[href]").Each(func(_ int, sel *goquery.Selection) {
		href, _ := sel.Attr("href")
		href = strings.TrimSpace(href)
		if skipHref(href) {
			return
		}
		target, ok := lookup(paths, base, href)
		if !ok {
			return
		}
		sel.SetAttr("href", Relative(page.Path, target))
		rewritten++
	})
	if rewritten == 0 {
		return 0, nil
	}
	markup, err := doc.Html()
	if err != nil {
		return 0, fmt.Errorf("render markup: %w", err)
	}
	page.HTML = markup
	return rewritten, nil
}

// buildPathMap registers each page under its canonical URL and the same URL
// with the trailing slash toggled. The first page claiming a key keeps it.
func buildPathMap(pages []cloner.SitePage) map[string]string {
	paths := make(map[string]string, len(pages)*2)
	for _, p := range pages {
		u, err := url.Parse(p.URL)
		if err != nil {
			continue
		}
		key := canonical(u)
		if _, ok := paths[key]; !ok {
			paths[key] = p.Path
		}
		alt := toggleSlash(key)
		if _, ok := paths[alt]; !ok {
			paths[alt] = p.Path
		}
	}
	return paths
}

func lookup(paths map[string]string, base *url.URL, href string) (string, bool) {
	u, err := cloner.Resolve(base, href)
	if err != nil || !cloner.IsHTTP(u) {
		return "", false
	}
	key := canonical(u)
	if p, ok := paths[key]; ok {
		return p, true
	}
	p, ok := paths[toggleSlash(key)]
	return p, ok
}

func canonical(u *url.URL) string {
	c := cloner.StripQueryAndFragment(u)
	c.Scheme = strings.ToLower(c.Scheme)
	c.Host = strings.ToLower(c.Host)
	return c.String()
}

func toggleSlash(key string) string {
	if strings.HasSuffix(key, "/") {
		return strings.TrimSuffix(key, "/")
	}
	return key + "/"
}

func skipHref(href string) bool {
	lower := strings.ToLower(href)
	return href == "" ||
		strings.HasPrefix(href, "#") ||
		strings.HasPrefix(lower, "mailto:") ||
		strings.HasPrefix(lower, "tel:")
}

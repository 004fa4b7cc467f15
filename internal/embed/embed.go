// Package embed rewrites captured markup so stylesheets, images, scripts and
// fonts are carried inline instead of referenced remotely.
package embed

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/JakeFAU/site-cloner/internal/cloner"
)

// Result is the embedded document plus what it took to build it.
type Result struct {
	HTML     string
	Assets   []cloner.AssetRef
	Failures []cloner.Failure
}

// Embedder inlines assets through a job-local Cache.
type Embedder struct {
	cache  *Cache
	logger *zap.Logger
}

// New builds an Embedder over cache. One cache serves every page of a job.
func New(cache *Cache, logger *zap.Logger) *Embedder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Embedder{cache: cache, logger: logger}
}

// Cache returns the job-local asset cache.
func (e *Embedder) Cache() *Cache {
	return e.cache
}

// pass carries the state of one Embed call.
type pass struct {
	ctx      context.Context
	embedder *Embedder
	log      cloner.ProgressLogger
	base     *url.URL
	changed  bool

	sheets   map[string]string
	refs     []cloner.AssetRef
	seenRefs map[string]bool
	failed   map[string]bool
	failures []cloner.Failure
}

// Embed inlines every external stylesheet, image, script and font link in
// markup, resolving references against sourceURL. Markup with nothing to
// inline is returned byte for byte. A failed asset leaves its reference as is.
func (e *Embedder) Embed(ctx context.Context, markup, sourceURL string, log cloner.ProgressLogger) (Result, error) {
	if log == nil {
		log = cloner.NopLogger{}
	}
	base, err := cloner.ParseHTTPURL(sourceURL)
	if err != nil {
		return Result{HTML: markup}, fmt.Errorf("embed source: %w", err)
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(markup))
	if err != nil {
		return Result{HTML: markup}, fmt.Errorf("parse markup: %w", err)
	}
	if href, ok := doc.Find("base[href]").First().Attr("href"); ok {
		if u, err := cloner.Resolve(base, href); err == nil && cloner.IsHTTP(u) {
			base = u
		}
	}

	p := &pass{
		ctx:      ctx,
		embedder: e,
		log:      log,
		base:     base,
		sheets:   make(map[string]string),
		seenRefs: make(map[string]bool),
		failed:   make(map[string]bool),
	}
	p.embedStylesheets(doc)
	p.embedImages(doc)
	p.embedScripts(doc)
	p.embedFonts(doc)

	res := Result{HTML: markup, Assets: p.refs, Failures: p.failures}
	if !p.changed {
		return res, nil
	}
	out, err := doc.Html()
	if err != nil {
		return res, fmt.Errorf("render markup: %w", err)
	}
	res.HTML = out
	e.logger.Debug("assets embedded",
		zap.String("url", sourceURL),
		zap.Int("assets", len(p.refs)),
		zap.Int("failures", len(p.failures)),
	)
	return res, nil
}

func (p *pass) embedStylesheets(doc *goquery.Document) {
	doc.Find(`link[rel~="stylesheet"][href]`).Each(func(_ int, sel *goquery.Selection) {
		p.replaceLinkWithStyle(sel, cloner.AssetStylesheet)
	})
}

func (p *pass) embedImages(doc *goquery.Document) {
	doc.Find("img[src]").Each(func(_ int, sel *goquery.Selection) {
		src, _ := sel.Attr("src")
		if !fetchable(strings.TrimSpace(src)) {
			return
		}
		target, ok := absolute(p.base, src)
		if !ok {
			return
		}
		asset, ok := p.fetch(target, cloner.AssetImage)
		if !ok {
			return
		}
		sel.SetAttr("src", DataURI(asset.ContentType, asset.Data))
		p.changed = true
	})
	doc.Find("[style]").Each(func(_ int, sel *goquery.Selection) {
		style, _ := sel.Attr("style")
		if !strings.Contains(strings.ToLower(style), "background-image") {
			return
		}
		if rewritten := p.inlineBackgrounds(style); rewritten != style {
			sel.SetAttr("style", rewritten)
			p.changed = true
		}
	})
}

func (p *pass) embedScripts(doc *goquery.Document) {
	doc.Find("script[src]").Each(func(_ int, sel *goquery.Selection) {
		src, _ := sel.Attr("src")
		if !fetchable(strings.TrimSpace(src)) {
			return
		}
		target, ok := absolute(p.base, src)
		if !ok {
			return
		}
		asset, ok := p.fetch(target, cloner.AssetScript)
		if !ok {
			return
		}
		node := rawTextElement(atom.Script, withoutAttrs(sel, "src", "integrity", "crossorigin"), asset.Text())
		sel.ReplaceWithNodes(node)
		p.changed = true
	})
}

// embedFonts handles font CSS links that were not declared as stylesheets,
// such as a web-font service referenced with a non-standard rel.
func (p *pass) embedFonts(doc *goquery.Document) {
	doc.Find("link[href]").Each(func(_ int, sel *goquery.Selection) {
		href, _ := sel.Attr("href")
		lower := strings.ToLower(href)
		if !strings.Contains(lower, "font") && !strings.Contains(lower, "googleapis.com/css") {
			return
		}
		if !fontCSSRel(sel.AttrOr("rel", "")) {
			return
		}
		p.replaceLinkWithStyle(sel, cloner.AssetFont)
	})
}

func (p *pass) replaceLinkWithStyle(sel *goquery.Selection, kind cloner.AssetKind) {
	href, _ := sel.Attr("href")
	if !fetchable(strings.TrimSpace(href)) {
		return
	}
	target, ok := absolute(p.base, href)
	if !ok {
		return
	}
	css, ok := p.stylesheet(target, kind, nil)
	if !ok {
		return
	}
	var attrs []html.Attribute
	if media, ok := sel.Attr("media"); ok {
		attrs = append(attrs, html.Attribute{Key: "media", Val: media})
	}
	sel.ReplaceWithNodes(rawTextElement(atom.Style, attrs, css))
	p.changed = true
}

// stylesheet downloads a stylesheet and inlines its url() references.
func (p *pass) stylesheet(target string, kind cloner.AssetKind, stack map[string]bool) (string, bool) {
	if css, ok := p.sheets[target]; ok {
		return css, true
	}
	asset, ok := p.fetch(target, kind)
	if !ok {
		return "", false
	}
	descent := make(map[string]bool, len(stack)+1)
	for k := range stack {
		descent[k] = true
	}
	descent[target] = true
	css := p.inlineCSS(asset.Text(), target, descent)
	p.sheets[target] = css
	return css, true
}

func (p *pass) fetch(target string, kind cloner.AssetKind) (cloner.Asset, bool) {
	asset, err := p.embedder.cache.Get(p.ctx, target, kind)
	if err != nil {
		if !p.failed[target] {
			p.failed[target] = true
			p.failures = append(p.failures, cloner.NewFailure(cloner.StageAsset, target, err))
			p.embedder.logger.Warn("asset fetch failed", zap.String("url", target), zap.Error(err))
			cloner.Logf(p.log, cloner.TagSubItem, "Failed to download %s", target)
		}
		return cloner.Asset{}, false
	}
	if !p.seenRefs[target] {
		p.seenRefs[target] = true
		p.refs = append(p.refs, asset.Ref())
	}
	return asset, true
}

func fontCSSRel(rel string) bool {
	for _, r := range strings.Fields(strings.ToLower(rel)) {
		switch r {
		case "preconnect", "dns-prefetch", "preload", "prefetch", "modulepreload", "icon":
			return false
		}
	}
	return true
}

func withoutAttrs(sel *goquery.Selection, drop ...string) []html.Attribute {
	if len(sel.Nodes) == 0 {
		return nil
	}
	var attrs []html.Attribute
outer:
	for _, a := range sel.Nodes[0].Attr {
		for _, d := range drop {
			if strings.EqualFold(a.Key, d) {
				continue outer
			}
		}
		attrs = append(attrs, a)
	}
	return attrs
}

// rawTextElement builds a <style> or <script> node whose body is emitted
// verbatim when rendered.
func rawTextElement(a atom.Atom, attrs []html.Attribute, body string) *html.Node {
	n := &html.Node{Type: html.ElementNode, DataAtom: a, Data: a.String(), Attr: attrs}
	n.AppendChild(&html.Node{Type: html.TextNode, Data: escapeClosingTag(body, a.String())})
	return n
}

// escapeClosingTag keeps a literal "</script" or "</style" inside body from
// terminating the element early.
func escapeClosingTag(body, tag string) string {
	needle := "</" + tag
	lower := strings.ToLower(body)
	if !strings.Contains(lower, needle) {
		return body
	}
	var b strings.Builder
	for {
		i := strings.Index(lower, needle)
		if i < 0 {
			b.WriteString(body)
			return b.String()
		}
		b.WriteString(body[:i])
		b.WriteString(`<\/`)
		body = body[i+2:]
		lower = lower[i+2:]
	}
}

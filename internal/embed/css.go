package embed

import (
	"net/url"
	"regexp"
	"strings"

	"github.com/JakeFAU/site-cloner/internal/cloner"
)

var (
	cssURLPattern   = regexp.MustCompile(`url\(\s*(['"]?)([^'")]*)(['"]?)\s*\)`)
	backgroundImage = regexp.MustCompile(`(?i)background-image\s*:\s*url\(\s*(['"]?)([^'")]*)(['"]?)\s*\)`)
)

// References lists the url() targets in css that would be fetched, in order.
// data: URIs and fragment-only references are skipped.
func References(css string) []string {
	var refs []string
	for _, m := range cssURLPattern.FindAllStringSubmatch(css, -1) {
		if ref := strings.TrimSpace(m[2]); fetchable(ref) {
			refs = append(refs, ref)
		}
	}
	return refs
}

// inlineCSS replaces every fetchable url() in css with a data URI. Nested
// stylesheets are inlined recursively; stack holds the stylesheets on the
// current descent path and a reference back into it is left untouched.
func (p *pass) inlineCSS(css, sheetURL string, stack map[string]bool) string {
	base, err := url.Parse(sheetURL)
	if err != nil {
		return css
	}
	return cssURLPattern.ReplaceAllStringFunc(css, func(match string) string {
		sub := cssURLPattern.FindStringSubmatch(match)
		ref := strings.TrimSpace(sub[2])
		if !fetchable(ref) {
			return match
		}
		target, ok := absolute(base, ref)
		if !ok {
			return match
		}
		if isStylesheet(target) {
			if stack[target] {
				return match
			}
			nested, ok := p.stylesheet(target, cloner.AssetNested, stack)
			if !ok {
				return match
			}
			return `url("` + DataURI("text/css", []byte(nested)) + `")`
		}
		asset, ok := p.fetch(target, cloner.AssetNested)
		if !ok {
			return match
		}
		return `url("` + DataURI(asset.ContentType, asset.Data) + `")`
	})
}

// inlineBackgrounds rewrites background-image url() values of an inline style attribute.
func (p *pass) inlineBackgrounds(style string) string {
	return backgroundImage.ReplaceAllStringFunc(style, func(match string) string {
		sub := backgroundImage.FindStringSubmatch(match)
		ref := strings.TrimSpace(sub[2])
		if !fetchable(ref) {
			return match
		}
		target, ok := absolute(p.base, ref)
		if !ok {
			return match
		}
		asset, ok := p.fetch(target, cloner.AssetImage)
		if !ok {
			return match
		}
		// Unquoted so the value survives attribute escaping untouched.
		prefix := match[:strings.Index(strings.ToLower(match), "url(")]
		return prefix + "url(" + DataURI(asset.ContentType, asset.Data) + ")"
	})
}

func fetchable(ref string) bool {
	if ref == "" || strings.HasPrefix(ref, "#") {
		return false
	}
	lower := strings.ToLower(ref)
	return !strings.HasPrefix(lower, "data:") &&
		!strings.HasPrefix(lower, "javascript:") &&
		!strings.HasPrefix(lower, "about:")
}

func absolute(base *url.URL, ref string) (string, bool) {
	u, err := cloner.Resolve(base, ref)
	if err != nil || !cloner.IsHTTP(u) {
		return "", false
	}
	return cloner.StripFragment(u).String(), true
}

func isStylesheet(rawURL string) bool {
	return extension(rawURL) == ".css"
}

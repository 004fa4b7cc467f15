package embed

import (
	"encoding/base64"
	"mime"
	"net/url"
	"path"
	"strings"
)

const defaultMIME = "application/octet-stream"

// knownTypes pins media types that system MIME tables disagree on.
var knownTypes = map[string]string{
	".woff2": "font/woff2",
	".woff":  "font/woff",
	".ttf":   "font/ttf",
	".otf":   "font/otf",
	".eot":   "application/vnd.ms-fontobject",
	".svg":   "image/svg+xml",
	".ico":   "image/x-icon",
	".js":    "text/javascript",
	".mjs":   "text/javascript",
	".css":   "text/css",
}

// TypeFor picks the media type used when an asset is inlined. The URL's
// extension wins; the served Content-Type is consulted only when the
// extension is unknown.
func TypeFor(rawURL, served string) string {
	ext := extension(rawURL)
	if ext != "" {
		if t, ok := knownTypes[ext]; ok {
			return t
		}
		if t := mime.TypeByExtension(ext); t != "" {
			return baseType(t)
		}
	}
	if t := baseType(served); t != "" && t != defaultMIME {
		return t
	}
	return defaultMIME
}

// DataURI encodes data as a base64 data URI.
func DataURI(mediaType string, data []byte) string {
	if mediaType == "" {
		mediaType = defaultMIME
	}
	return "data:" + mediaType + ";base64," + base64.StdEncoding.EncodeToString(data)
}

func extension(rawURL string) string {
	p := rawURL
	if u, err := url.Parse(rawURL); err == nil {
		p = u.Path
	}
	return strings.ToLower(path.Ext(p))
}

func baseType(t string) string {
	if t == "" {
		return ""
	}
	media, _, err := mime.ParseMediaType(t)
	if err != nil {
		return ""
	}
	return media
}

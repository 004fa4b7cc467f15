package transform

import "strings"

const documentShell = `<!DOCTYPE html>
<html lang="en">
<head>
    <meta charset="UTF-8">
    <meta name="viewport" content="width=device-width, initial-scale=1.0">
    <title>AI Generated Clone</title>
</head>
<body>
%s
</body>
</html>`

// Clean strips markdown code fences from model output and wraps a bare
// fragment in a minimal HTML document.
func Clean(out string) string {
	out = strings.TrimSpace(out)
	out = strings.TrimPrefix(out, "```html")
	out = strings.TrimPrefix(out, "```")
	out = strings.TrimSuffix(out, "```")
	out = strings.TrimSpace(out)

	lower := strings.ToLower(out)
	if strings.HasPrefix(lower, "<!doctype html") || strings.HasPrefix(lower, "<html") {
		return out
	}
	return strings.Replace(documentShell, "%s", out, 1)
}

package transform

import (
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/site-cloner/internal/cloner"
)

const (
	maxPromptHTML = 8000
	maxPromptCSS  = 4000
)

const systemPrompt = `You are an expert-level frontend developer specializing in pixel-perfect, responsive, production-ready website clones built from provided materials. Generate a single, self-contained HTML file with embedded CSS and, if necessary, JavaScript.

1. Match the visual and structural details of the provided screenshot and HTML exactly.
2. Use modern HTML5 semantics and responsive CSS. All CSS goes inside a <style> tag in the <head>.
3. Recreate all content and images as described. Only use placeholder images when the original assets are missing.
4. The output must be a single HTML file.`

const userPrompt = `Project context:
- URL: %s
- Title: %s
- Original HTML structure (use it as a guide for content, structure and semantics):
%s
- Original CSS (reference for colors, fonts and layout; the screenshot wins on conflicts):
%s

Generate the complete, self-contained HTML file for this page. Output only the HTML document itself, starting with <!DOCTYPE html>, with no commentary or markdown.`

type chatMessage struct {
	Role    string `json:"role"`
	Content any    `json:"content"`
}

type contentPart struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *imageURL `json:"image_url,omitempty"`
}

type imageURL struct {
	URL    string `json:"url"`
	Detail string `json:"detail,omitempty"`
}

// buildMessages assembles the chat prompt for page. The screenshot is
// attached as an image part when one was captured.
func buildMessages(page cloner.CapturedPage) []chatMessage {
	css := inlineCSS(page.HTML)
	if css == "" {
		css = "No CSS provided."
	}
	text := fmt.Sprintf(userPrompt,
		page.URL,
		page.Metadata.Title,
		truncate(page.HTML, maxPromptHTML),
		truncate(css, maxPromptCSS),
	)
	parts := []contentPart{{Type: "text", Text: text}}
	if len(page.Screenshot) > 0 {
		parts = append(parts, contentPart{
			Type: "image_url",
			ImageURL: &imageURL{
				URL:    "data:image/png;base64," + base64.StdEncoding.EncodeToString(page.Screenshot),
				Detail: "high",
			},
		})
	}
	return []chatMessage{
		{Role: "system", Content: systemPrompt},
		{Role: "user", Content: parts},
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

// inlineCSS collects the bodies of the page's <style> blocks.
func inlineCSS(markup string) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(markup))
	if err != nil {
		return ""
	}
	var b strings.Builder
	doc.Find("style").Each(func(_ int, sel *goquery.Selection) {
		if b.Len() >= maxPromptCSS {
			return
		}
		b.WriteString(strings.TrimSpace(sel.Text()))
		b.WriteString("\n")
	})
	return strings.TrimSpace(b.String())
}

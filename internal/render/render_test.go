package render

import (
	"strings"
	"testing"

	"github.com/chromedp/cdproto/network"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/site-cloner/internal/cloner"
)

func TestOptionsWithDefaults(t *testing.T) {
	t.Parallel()

	opts := Options{}.WithDefaults()
	require.Equal(t, DefaultSettleDelay, opts.SettleDelay)
	require.Equal(t, 1920, opts.ViewportWidth)
	require.Equal(t, 1080, opts.ViewportHeight)
	require.Equal(t, 200, opts.MinContentLength)

	opts = Options{SettleDelay: -1, ViewportWidth: 800}.WithDefaults()
	require.Zero(t, opts.SettleDelay)
	require.Equal(t, 800, opts.ViewportWidth)
}

func TestClassifyRejectsShortMarkup(t *testing.T) {
	t.Parallel()

	res := Classify(cloner.CapturedPage{HTML: "<html></html>"}, 200)
	require.Equal(t, cloner.OutcomeRejected, res.Outcome)
	require.Contains(t, res.Reason, "markup too short")

	page := cloner.CapturedPage{HTML: "<html>" + strings.Repeat("x", 250) + "</html>"}
	res = Classify(page, 200)
	require.Equal(t, cloner.OutcomeOK, res.Outcome)
	require.Equal(t, page.HTML, res.Page.HTML)
}

func TestResourceLogTracksSubresourcesOnce(t *testing.T) {
	t.Parallel()

	log := newResourceLog()
	events := []*network.EventResponseReceived{
		{Type: network.ResourceTypeDocument, Response: &network.Response{URL: "https://example.com/"}},
		{Type: network.ResourceTypeStylesheet, Response: &network.Response{URL: "https://example.com/a.css"}},
		{Type: network.ResourceTypeImage, Response: &network.Response{URL: "https://example.com/logo.png"}},
		{Type: network.ResourceTypeStylesheet, Response: &network.Response{URL: "https://example.com/a.css"}},
		{Type: network.ResourceTypeImage, Response: &network.Response{URL: "data:image/png;base64,AA=="}},
		{Type: network.ResourceTypeFont},
	}
	for _, ev := range events {
		log.captureEvent(ev)
	}
	log.captureEvent("not an event")

	require.Equal(t, []string{"https://example.com/a.css", "https://example.com/logo.png"}, log.snapshot())
}

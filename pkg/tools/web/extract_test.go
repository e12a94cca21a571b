package web

import (
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const articlePage = `<!DOCTYPE html><html><head><title>My Page</title><script>var x = 1;</script></head>` +
	`<body><nav>Home | About</nav>` +
	`<article><h1>Hello</h1><p>First paragraph with <a href="/link">a link</a> and <b>bold</b>.</p>` +
	`<ul><li>one</li><li>two</li></ul><pre>code  here</pre></article>` +
	`<footer>copyright</footer></body></html>`

func TestExtract_Markdown(t *testing.T) {
	base, _ := url.Parse("https://example.com/page")
	doc, err := Extract(articlePage, ModeMarkdown, base)
	require.NoError(t, err)

	assert.Equal(t, "My Page", doc.Title)
	assert.Equal(t,
		"# Hello\n\nFirst paragraph with [a link](https://example.com/link) and **bold**.\n\n- one\n- two\n\n```\ncode  here\n```",
		doc.Content)
}

func TestExtract_Text(t *testing.T) {
	doc, err := Extract(articlePage, ModeText, nil)
	require.NoError(t, err)

	assert.Equal(t, "Hello\n\nFirst paragraph with a link and bold.\n\none\ntwo\n\ncode  here", doc.Content)
	assert.NotContains(t, doc.Content, "copyright")
	assert.NotContains(t, doc.Content, "var x")
}

func TestExtract_ScoresParagraphContainers(t *testing.T) {
	page := `<html><body>` +
		`<div class="sidebar"><p>Subscribe to our newsletter, follow us, share this page with friends.</p></div>` +
		`<div class="story"><p>The main story begins here, with plenty of words, commas, and detail.</p>` +
		`<p>It continues in a second paragraph that is also long enough to count, for sure.</p></div>` +
		`<div class="promo">short</div>` +
		`</body></html>`

	doc, err := Extract(page, ModeText, nil)
	require.NoError(t, err)
	assert.Contains(t, doc.Content, "The main story begins here")
	assert.Contains(t, doc.Content, "second paragraph")
	assert.NotContains(t, doc.Content, "newsletter")
	assert.NotContains(t, doc.Content, "short")
}

func TestExtract_HiddenAndComments(t *testing.T) {
	page := `<html><body><main><p>Visible</p><!-- secret --><p hidden>Hidden</p><div aria-hidden="true">Also hidden</div></main></body></html>`

	doc, err := Extract(page, ModeText, nil)
	require.NoError(t, err)
	assert.Equal(t, "Visible", doc.Content)
}

func TestExtract_OgTitleFallback(t *testing.T) {
	page := `<html><head><meta property="og:title" content="From OG"></head><body><p>x</p></body></html>`

	doc, err := Extract(page, ModeMarkdown, nil)
	require.NoError(t, err)
	assert.Equal(t, "From OG", doc.Title)
	assert.Equal(t, "x", doc.Content)
}

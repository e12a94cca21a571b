package web

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// ExtractMode selects the output format of Extract.
type ExtractMode string

const (
	ModeMarkdown ExtractMode = "markdown"
	ModeText     ExtractMode = "text"
)

// Document is the readable part of a page.
type Document struct {
	Title   string
	Content string
}

// Extract finds the main content of an HTML page and renders it as
// markdown or plain text. Relative links are resolved against base when
// it is non-nil.
func Extract(rawHTML string, mode ExtractMode, base *url.URL) (*Document, error) {
	doc, err := html.Parse(strings.NewReader(rawHTML))
	if err != nil {
		return nil, fmt.Errorf("failed to parse HTML: %w", err)
	}

	title := findTitle(doc)
	prune(doc)

	root := mainContent(doc)
	if root == nil {
		return &Document{Title: title}, nil
	}

	r := &renderer{markdown: mode != ModeText, base: base}
	r.render(root)
	return &Document{Title: title, Content: r.String()}, nil
}

// skippedElements never carry readable content.
var skippedElements = map[atom.Atom]bool{
	atom.Script:   true,
	atom.Style:    true,
	atom.Noscript: true,
	atom.Iframe:   true,
	atom.Embed:    true,
	atom.Object:   true,
	atom.Svg:      true,
	atom.Template: true,
	atom.Nav:      true,
	atom.Footer:   true,
	atom.Aside:    true,
	atom.Form:     true,
	atom.Button:   true,
	atom.Select:   true,
	atom.Head:     true,
}

var (
	unlikelyCandidate = regexp.MustCompile(`(?i)comment|sidebar|footer|menu|banner|advert|\bads?\b|share|social|popup|cookie|newsletter|breadcrumb|related`)
	likelyCandidate   = regexp.MustCompile(`(?i)article|content|main|body|post|entry|story|text`)
	whitespaceRun     = regexp.MustCompile(`\s+`)
	blankLines        = regexp.MustCompile(`\n{3,}`)
)

// prune removes noise elements in place.
func prune(n *html.Node) {
	for c := n.FirstChild; c != nil; {
		next := c.NextSibling
		switch {
		case c.Type == html.CommentNode:
			n.RemoveChild(c)
		case c.Type == html.ElementNode && (skippedElements[c.DataAtom] || isUnlikely(c)):
			n.RemoveChild(c)
		default:
			prune(c)
		}
		c = next
	}
}

func isUnlikely(n *html.Node) bool {
	if n.DataAtom == atom.Body || n.DataAtom == atom.Html || n.DataAtom == atom.Article || n.DataAtom == atom.Main {
		return false
	}
	if attr(n, "aria-hidden") == "true" || hasAttr(n, "hidden") {
		return true
	}
	id := attr(n, "class") + " " + attr(n, "id")
	if strings.TrimSpace(id) == "" {
		return false
	}
	return unlikelyCandidate.MatchString(id) && !likelyCandidate.MatchString(id)
}

// mainContent picks the node holding the page's main text: the largest
// <article>, then <main>, then the best-scored paragraph container, then
// <body>.
func mainContent(doc *html.Node) *html.Node {
	if n := largest(doc, atom.Article); n != nil {
		return n
	}
	if n := largest(doc, atom.Main); n != nil {
		return n
	}
	if n := bestScored(doc); n != nil {
		return n
	}
	if body := findFirst(doc, atom.Body); body != nil {
		return body
	}
	return doc
}

func largest(doc *html.Node, a atom.Atom) *html.Node {
	var best *html.Node
	bestLen := 0
	walk(doc, func(n *html.Node) {
		if n.Type == html.ElementNode && n.DataAtom == a {
			if l := len(strings.TrimSpace(textOf(n))); l > bestLen {
				best, bestLen = n, l
			}
		}
	})
	return best
}

// bestScored scores paragraph-like nodes by text length and comma count,
// credits the parent fully and the grandparent half, and returns the
// highest-scoring container.
func bestScored(doc *html.Node) *html.Node {
	scores := make(map[*html.Node]float64)
	walk(doc, func(n *html.Node) {
		if n.Type != html.ElementNode {
			return
		}
		switch n.DataAtom {
		case atom.P, atom.Pre, atom.Td, atom.Blockquote:
		default:
			return
		}
		text := strings.TrimSpace(textOf(n))
		if len(text) < 25 {
			return
		}
		score := 1 + float64(strings.Count(text, ",")) + min(float64(len(text))/100, 3)
		if p := n.Parent; p != nil {
			scores[p] += score
			if gp := p.Parent; gp != nil {
				scores[gp] += score / 2
			}
		}
	})

	var best *html.Node
	bestScore := 0.0
	for n, s := range scores {
		if n.Type != html.ElementNode {
			continue
		}
		if likelyCandidate.MatchString(attr(n, "class") + " " + attr(n, "id")) {
			s *= 1.25
		}
		if s > bestScore {
			best, bestScore = n, s
		}
	}
	return best
}

func findTitle(doc *html.Node) string {
	var title, ogTitle string
	walk(doc, func(n *html.Node) {
		if n.Type != html.ElementNode {
			return
		}
		switch n.DataAtom {
		case atom.Title:
			if title == "" {
				title = strings.TrimSpace(textOf(n))
			}
		case atom.Meta:
			if attr(n, "property") == "og:title" && ogTitle == "" {
				ogTitle = strings.TrimSpace(attr(n, "content"))
			}
		}
	})
	if title == "" {
		title = ogTitle
	}
	return whitespaceRun.ReplaceAllString(title, " ")
}

type renderer struct {
	markdown bool
	base     *url.URL
	b        strings.Builder
}

func (r *renderer) String() string {
	lines := strings.Split(r.b.String(), "\n")
	inFence := false
	for i, l := range lines {
		if strings.HasPrefix(l, "```") {
			inFence = !inFence
			continue
		}
		if !inFence {
			lines[i] = strings.TrimSpace(l)
		}
	}
	out := blankLines.ReplaceAllString(strings.Join(lines, "\n"), "\n\n")
	return strings.TrimSpace(out)
}

func (r *renderer) block() {
	r.b.WriteString("\n\n")
}

func (r *renderer) render(n *html.Node) {
	switch n.Type {
	case html.TextNode:
		r.b.WriteString(whitespaceRun.ReplaceAllString(n.Data, " "))
		return
	case html.ElementNode:
	default:
		r.children(n)
		return
	}

	switch n.DataAtom {
	case atom.H1, atom.H2, atom.H3, atom.H4, atom.H5, atom.H6:
		r.block()
		if r.markdown {
			level := int(n.Data[1] - '0')
			r.b.WriteString(strings.Repeat("#", level) + " ")
		}
		r.b.WriteString(inline(n))
		r.block()
	case atom.P, atom.Div, atom.Section, atom.Article, atom.Main, atom.Header, atom.Table, atom.Ul, atom.Ol, atom.Dl, atom.Figure:
		r.block()
		r.children(n)
		r.block()
	case atom.Blockquote:
		r.block()
		if r.markdown {
			r.b.WriteString("> ")
		}
		r.b.WriteString(inline(n))
		r.block()
	case atom.Br:
		r.b.WriteString("\n")
	case atom.Hr:
		r.block()
		if r.markdown {
			r.b.WriteString("---")
		}
		r.block()
	case atom.Li:
		r.b.WriteString("\n")
		if r.markdown {
			r.b.WriteString("- ")
		}
		r.children(n)
	case atom.Tr:
		r.b.WriteString("\n")
		r.children(n)
	case atom.Td, atom.Th:
		r.children(n)
		r.b.WriteString(" ")
	case atom.Pre:
		r.block()
		if r.markdown {
			r.b.WriteString("```\n" + strings.Trim(textOf(n), "\n") + "\n```")
		} else {
			r.b.WriteString(textOf(n))
		}
		r.block()
	case atom.Code:
		if r.markdown {
			r.b.WriteString("`" + textOf(n) + "`")
		} else {
			r.b.WriteString(textOf(n))
		}
	case atom.Strong, atom.B:
		r.wrap(n, "**")
	case atom.Em, atom.I:
		r.wrap(n, "*")
	case atom.A:
		text := inline(n)
		href := r.resolve(attr(n, "href"))
		if r.markdown && href != "" && text != "" && !strings.HasPrefix(href, "javascript:") {
			r.b.WriteString("[" + text + "](" + href + ")")
		} else {
			r.b.WriteString(text)
		}
	case atom.Img:
		if alt := strings.TrimSpace(attr(n, "alt")); alt != "" && r.markdown {
			r.b.WriteString("![" + alt + "](" + r.resolve(attr(n, "src")) + ")")
		}
	default:
		r.children(n)
	}
}

func (r *renderer) children(n *html.Node) {
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		r.render(c)
	}
}

func (r *renderer) wrap(n *html.Node, marker string) {
	text := inline(n)
	if text == "" {
		return
	}
	if r.markdown {
		text = marker + text + marker
	}
	r.b.WriteString(text)
}

func (r *renderer) resolve(href string) string {
	href = strings.TrimSpace(href)
	if href == "" || r.base == nil {
		return href
	}
	u, err := url.Parse(href)
	if err != nil {
		return href
	}
	return r.base.ResolveReference(u).String()
}

// inline returns the collapsed text of n.
func inline(n *html.Node) string {
	return strings.TrimSpace(whitespaceRun.ReplaceAllString(textOf(n), " "))
}

func textOf(n *html.Node) string {
	var b strings.Builder
	walk(n, func(c *html.Node) {
		if c.Type == html.TextNode {
			b.WriteString(c.Data)
		}
	})
	return b.String()
}

func walk(n *html.Node, fn func(*html.Node)) {
	fn(n)
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		walk(c, fn)
	}
}

func findFirst(doc *html.Node, a atom.Atom) *html.Node {
	var found *html.Node
	walk(doc, func(n *html.Node) {
		if found == nil && n.Type == html.ElementNode && n.DataAtom == a {
			found = n
		}
	})
	return found
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if strings.EqualFold(a.Key, key) {
			return a.Val
		}
	}
	return ""
}

func hasAttr(n *html.Node, key string) bool {
	for _, a := range n.Attr {
		if strings.EqualFold(a.Key, key) {
			return true
		}
	}
	return false
}

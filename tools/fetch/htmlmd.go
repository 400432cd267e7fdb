package fetch

import (
	"fmt"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// htmlToMarkdown walks a parsed HTML document and renders it to Markdown,
// dropping any element named in skip. Links and images are rewritten to a
// reference form; headings, emphasis, code, pre blocks, blockquotes, list
// items and rules get their Markdown markup; unknown tags are walked
// through for their text, with paragraph and line breaks preserved.
func htmlToMarkdown(doc string, skip []string) string {
	node, err := html.Parse(strings.NewReader(doc))
	if err != nil {
		return strings.TrimSpace(doc)
	}

	skipSet := make(map[string]bool, len(skip))
	for _, s := range skip {
		skipSet[s] = true
	}

	var b strings.Builder
	w := &mdWalker{skip: skipSet, out: &b}
	w.walk(node)

	return strings.TrimSpace(collapseBlankLines(b.String()))
}

type mdWalker struct {
	skip map[string]bool
	out  *strings.Builder
}

func (w *mdWalker) walk(n *html.Node) {
	if n.Type == html.ElementNode && w.skip[n.Data] {
		return
	}

	switch n.Type {
	case html.TextNode:
		w.out.WriteString(n.Data)
		return
	case html.ElementNode:
		if w.renderElement(n) {
			return
		}
	}

	for c := n.FirstChild; c != nil; c = c.NextSibling {
		w.walk(c)
	}
}

// renderElement handles the tags with Markdown-specific layout. It returns
// true when it has fully handled the node (including descending into its
// children itself), false to let the generic child walk continue.
func (w *mdWalker) renderElement(n *html.Node) bool {
	switch n.DataAtom {
	case atom.H1, atom.H2, atom.H3, atom.H4, atom.H5, atom.H6:
		level := int(n.DataAtom - atom.H1 + 1)
		w.block(func() {
			w.out.WriteString(strings.Repeat("#", level) + " ")
			w.inline(n)
		})
		return true

	case atom.P, atom.Div:
		w.block(func() { w.inline(n) })
		return true

	case atom.Br:
		w.out.WriteString("  \n")
		return true

	case atom.Hr:
		w.block(func() { w.out.WriteString("---") })
		return true

	case atom.A:
		href := attr(n, "href")
		var text strings.Builder
		inner := &mdWalker{skip: w.skip, out: &text}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			inner.walk(c)
		}
		label := strings.TrimSpace(text.String())
		if href == "" {
			w.out.WriteString(label)
		} else if label == "" {
			fmt.Fprintf(w.out, "<%s>", href)
		} else {
			fmt.Fprintf(w.out, "[%s](%s)", label, href)
		}
		return true

	case atom.Img:
		src := attr(n, "src")
		alt := attr(n, "alt")
		fmt.Fprintf(w.out, "![%s](%s)", alt, src)
		return true

	case atom.Strong, atom.B:
		w.out.WriteString("**")
		w.inline(n)
		w.out.WriteString("**")
		return true

	case atom.Em, atom.I:
		w.out.WriteString("_")
		w.inline(n)
		w.out.WriteString("_")
		return true

	case atom.Code:
		w.out.WriteString("`")
		w.inline(n)
		w.out.WriteString("`")
		return true

	case atom.Pre:
		w.block(func() {
			w.out.WriteString("```\n")
			w.out.WriteString(textContent(n))
			w.out.WriteString("\n```")
		})
		return true

	case atom.Blockquote:
		w.block(func() {
			var inner strings.Builder
			(&mdWalker{skip: w.skip, out: &inner}).walk(n)
			for _, line := range strings.Split(strings.TrimSpace(inner.String()), "\n") {
				w.out.WriteString("> " + line + "\n")
			}
		})
		return true

	case atom.Li:
		w.block(func() {
			w.out.WriteString("- ")
			w.inline(n)
		})
		return true

	case atom.Ul, atom.Ol:
		w.block(func() {
			for c := n.FirstChild; c != nil; c = c.NextSibling {
				w.walk(c)
			}
		})
		return true

	case atom.Script, atom.Style, atom.Head, atom.Noscript:
		return true
	}
	return false
}

// block renders fn surrounded by blank lines, matching Markdown's
// paragraph-break convention.
func (w *mdWalker) block(fn func()) {
	w.out.WriteString("\n\n")
	fn()
	w.out.WriteString("\n\n")
}

// inline walks n's children without introducing block breaks.
func (w *mdWalker) inline(n *html.Node) {
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		w.walk(c)
	}
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

func textContent(n *html.Node) string {
	var b strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			b.WriteString(n.Data)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return b.String()
}

func collapseBlankLines(s string) string {
	for strings.Contains(s, "\n\n\n") {
		s = strings.ReplaceAll(s, "\n\n\n", "\n\n")
	}
	return s
}

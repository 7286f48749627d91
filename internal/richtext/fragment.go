// Package richtext performs surgical edits on the HTML held by a contenteditable
// editor. It tokenizes with golang.org/x/net/html and splices the original bytes,
// so anything outside the edited region comes back byte for byte.
package richtext

import (
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"

	"golang.org/x/net/html"
)

var (
	ErrListNotFound = errors.New("list block not found")
	ErrItemNotFound = errors.New("list block has no item")
)

var escaper = strings.NewReplacer(
	"&", "&amp;",
	"<", "&lt;",
	">", "&gt;",
	`"`, "&quot;",
	"'", "&#39;",
)

// Escape encodes the five characters that can change the structure of a fragment.
func Escape(s string) string {
	return escaper.Replace(s)
}

// token is one lexical unit with its byte span in the source.
type token struct {
	typ        html.TokenType
	tag        string
	start, end int
	text       string
}

func (t token) is(typ html.TokenType, tag string) bool {
	return t.typ == typ && t.tag == tag
}

func (t token) blank() bool {
	return t.typ == html.TextToken && strings.TrimSpace(t.text) == ""
}

// scan tokenizes the fragment. The spans of the returned tokens tile the input.
func scan(fragment string) ([]token, error) {
	z := html.NewTokenizer(strings.NewReader(fragment))
	var (
		toks   []token
		offset int
	)
	for {
		tt := z.Next()
		if tt == html.ErrorToken {
			if err := z.Err(); err != io.EOF {
				return nil, fmt.Errorf("tokenizing fragment: %w", err)
			}
			break
		}
		// Raw must be measured before TagName/Text reuse the buffer.
		n := len(z.Raw())
		tok := token{typ: tt, start: offset, end: offset + n}
		offset += n

		switch tt {
		case html.StartTagToken, html.EndTagToken, html.SelfClosingTagToken:
			name, _ := z.TagName()
			tok.tag = string(name)
		case html.TextToken:
			tok.text = string(z.Text())
		}
		toks = append(toks, tok)
	}
	if offset != len(fragment) {
		return nil, fmt.Errorf("tokenizer consumed %d of %d bytes", offset, len(fragment))
	}
	return toks, nil
}

// CountLists returns the number of top-level <ul> blocks.
func CountLists(fragment string) (int, error) {
	toks, err := scan(fragment)
	if err != nil {
		return 0, err
	}
	depth, count := 0, 0
	for _, t := range toks {
		switch {
		case t.is(html.StartTagToken, "ul"):
			depth++
			if depth == 1 {
				count++
			}
		case t.is(html.EndTagToken, "ul") && depth > 0:
			depth--
		}
	}
	return count, nil
}

// itemSpan locates the first direct <li> of the ordinal-th top-level <ul>.
// open is the index of the <li> start tag, close the index of the token that ends
// it: its </li>, the next sibling <li>, or the closing </ul>.
func itemSpan(toks []token, ordinal int) (open, close int, err error) {
	depth, count := 0, 0
	list := -1
	for i, t := range toks {
		switch {
		case t.is(html.StartTagToken, "ul"):
			depth++
			if depth == 1 {
				count++
				if count == ordinal {
					list = i
				}
			}
		case t.is(html.EndTagToken, "ul") && depth > 0:
			depth--
			if list >= 0 && depth == 0 {
				return 0, 0, fmt.Errorf("list %d: %w", ordinal, ErrItemNotFound)
			}
		case list >= 0 && depth == 1 && t.is(html.StartTagToken, "li"):
			open = i
			return open, itemEnd(toks, open), nil
		}
	}
	if list < 0 {
		return 0, 0, fmt.Errorf("list %d of %d: %w", ordinal, count, ErrListNotFound)
	}
	return 0, 0, fmt.Errorf("list %d is unterminated: %w", ordinal, ErrItemNotFound)
}

func itemEnd(toks []token, open int) int {
	depth := 0 // nested lists below the item
	for i := open + 1; i < len(toks); i++ {
		t := toks[i]
		switch {
		case t.is(html.StartTagToken, "ul") || t.is(html.StartTagToken, "ol"):
			depth++
		case t.is(html.EndTagToken, "ol") && depth > 0:
			depth--
		case t.is(html.EndTagToken, "ul"):
			if depth == 0 {
				return i
			}
			depth--
		case depth == 0 && (t.is(html.EndTagToken, "li") || t.is(html.StartTagToken, "li")):
			return i
		}
	}
	return len(toks)
}

// ownEnd returns the index where an item's own content ends: its first nested
// list, or close when it has none.
func ownEnd(toks []token, open, close int) int {
	for i := open + 1; i < close; i++ {
		if toks[i].is(html.StartTagToken, "ul") || toks[i].is(html.StartTagToken, "ol") {
			return i
		}
	}
	return close
}

// contentRange narrows an item's inner range to the inside of a sole <p> wrapper
// when there is one, so the paragraph markup the editor relies on survives.
func contentRange(toks []token, open, close int) (start, end int) {
	start = toks[open].end
	if close < len(toks) {
		end = toks[close].start
	} else {
		end = toks[len(toks)-1].end
	}

	first := open + 1
	for first < close && toks[first].blank() {
		first++
	}
	last := close - 1
	for last > first && toks[last].blank() {
		last--
	}
	if first >= close || !toks[first].is(html.StartTagToken, "p") || !toks[last].is(html.EndTagToken, "p") {
		return start, end
	}

	// The first <p> must be closed by the last token, not earlier.
	depth := 0
	for i := first; i <= last; i++ {
		switch {
		case toks[i].is(html.StartTagToken, "p"):
			depth++
		case toks[i].is(html.EndTagToken, "p"):
			depth--
			if depth == 0 && i != last {
				return start, end
			}
		}
	}
	return toks[first].end, toks[last].start
}

// RewriteFirstItem replaces the content of the first item of the ordinal-th
// (1-based) top-level <ul> with the escaped form of content. Lists nested in
// that item are kept after the new content.
func RewriteFirstItem(fragment string, ordinal int, content string) (string, error) {
	if ordinal < 1 {
		return "", fmt.Errorf("ordinal %d: %w", ordinal, ErrListNotFound)
	}
	toks, err := scan(fragment)
	if err != nil {
		return "", err
	}
	open, close, err := itemSpan(toks, ordinal)
	if err != nil {
		return "", err
	}
	start, end := contentRange(toks, open, ownEnd(toks, open, close))

	var b strings.Builder
	b.Grow(len(fragment) + len(content))
	b.WriteString(fragment[:start])
	b.WriteString(Escape(content))
	b.WriteString(fragment[end:])
	return b.String(), nil
}

// FirstItemText returns the decoded text of the first item of the ordinal-th
// list, without the text of lists nested in it.
func FirstItemText(fragment string, ordinal int) (string, error) {
	toks, err := scan(fragment)
	if err != nil {
		return "", err
	}
	open, close, err := itemSpan(toks, ordinal)
	if err != nil {
		return "", err
	}
	var b strings.Builder
	for i := open + 1; i < ownEnd(toks, open, close); i++ {
		if toks[i].typ == html.TextToken {
			b.WriteString(toks[i].text)
		}
	}
	return b.String(), nil
}

type removeOptions struct {
	keepLeading bool
}

// RemoveOption tunes RemovePlaceholders.
type RemoveOption func(*removeOptions)

// KeepLeadingItems protects the first item of every list from removal.
func KeepLeadingItems() RemoveOption {
	return func(o *removeOptions) { o.keepLeading = true }
}

type itemFrame struct {
	start   int
	level   int
	leading bool
	text    strings.Builder
}

type span struct {
	start, end int
	text       string
	leading    bool
}

// items returns the byte span and own text of every <li>. Own text excludes the
// text of nested items.
func items(toks []token, size int) []span {
	var (
		out    []span
		frames []*itemFrame
		counts []int // items seen per open list
	)
	closeAt := func(level, pos int) {
		for len(frames) > 0 && frames[len(frames)-1].level >= level {
			f := frames[len(frames)-1]
			frames = frames[:len(frames)-1]
			out = append(out, span{start: f.start, end: pos, text: f.text.String(), leading: f.leading})
		}
	}
	isList := func(tag string) bool { return tag == "ul" || tag == "ol" }

	for _, t := range toks {
		switch {
		case t.typ == html.StartTagToken && isList(t.tag):
			counts = append(counts, 0)
		case t.typ == html.EndTagToken && isList(t.tag) && len(counts) > 0:
			closeAt(len(counts), t.start)
			counts = counts[:len(counts)-1]
		case t.is(html.StartTagToken, "li"):
			level := len(counts)
			closeAt(level, t.start) // implicit close of an open sibling
			leading := true
			if level > 0 {
				leading = counts[level-1] == 0
				counts[level-1]++
			}
			frames = append(frames, &itemFrame{start: t.start, level: level, leading: leading})
		case t.is(html.EndTagToken, "li"):
			if n := len(frames); n > 0 && frames[n-1].level == len(counts) {
				closeAt(len(counts), t.end)
			}
		case t.typ == html.TextToken:
			if n := len(frames); n > 0 {
				frames[n-1].text.WriteString(t.text)
			}
		}
	}
	closeAt(0, size)
	return out
}

// RemovePlaceholders drops every list item whose own text contains one of the
// phrases. Whitespace is collapsed before matching. Without options the result
// does not depend on the order phrases are removed in, and a fragment without
// any phrase is returned unchanged.
func RemovePlaceholders(fragment string, phrases []string, opts ...RemoveOption) (string, error) {
	var o removeOptions
	for _, opt := range opts {
		opt(&o)
	}
	needles := make([]string, 0, len(phrases))
	for _, p := range phrases {
		if n := normalize(p); n != "" {
			needles = append(needles, n)
		}
	}
	if len(needles) == 0 {
		return fragment, nil
	}

	toks, err := scan(fragment)
	if err != nil {
		return "", err
	}
	var drop []span
	for _, s := range items(toks, len(fragment)) {
		if o.keepLeading && s.leading {
			continue
		}
		text := normalize(s.text)
		for _, n := range needles {
			if strings.Contains(text, n) {
				drop = append(drop, s)
				break
			}
		}
	}
	if len(drop) == 0 {
		return fragment, nil
	}

	sort.Slice(drop, func(i, j int) bool { return drop[i].start < drop[j].start })
	var b strings.Builder
	pos := 0
	for _, s := range drop {
		if s.start < pos {
			continue // inside an item already removed
		}
		b.WriteString(fragment[pos:s.start])
		pos = s.end
	}
	b.WriteString(fragment[pos:])
	return b.String(), nil
}

func normalize(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
